// forgectl is a small client for the pipeline service: it starts runs,
// inspects their state, retries failed stages and tails the event stream.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stageforge/backend/pkg/models"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:   "forgectl",
		Short: "Client for the StageForge pipeline service",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Base URL of the pipeline service")

	root.AddCommand(startCmd(), statusCmd(), retryCmd(), watchCmd(), providersCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startCmd() *cobra.Command {
	var brief string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Create a run from a brief and start the stage chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"brief": brief})
			if err != nil {
				return err
			}
			resp, err := http.Post(serverURL+"/api/v1/runs", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				return httpError(resp)
			}

			var run models.Run
			if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
				return err
			}
			fmt.Printf("run %s started in state %s\n", run.ID, run.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&brief, "brief", "", "Free-text project brief")
	cmd.MarkFlagRequired("brief")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run's state, retry counters and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var run models.Run
			if err := getJSON("/api/v1/runs/"+args[0], &run); err != nil {
				return err
			}
			fmt.Printf("run %s\n  state: %s\n  updated: %s\n", run.ID, run.State, run.UpdatedAt.Format("2006-01-02 15:04:05"))
			for stage, n := range run.StageRetries {
				fmt.Printf("  retries[%s]: %d\n", stage, n)
			}

			var artifacts []models.Artifact
			if err := getJSON("/api/v1/runs/"+args[0]+"/artifacts", &artifacts); err != nil {
				return err
			}
			for _, a := range artifacts {
				fmt.Printf("  artifact %s (%s, %d bytes)\n", a.Type, a.CreatedAt.Format("15:04:05"), len(a.Content))
			}

			var gates []models.Gate
			if err := getJSON("/api/v1/runs/"+args[0]+"/gates", &gates); err != nil {
				return err
			}
			for _, g := range gates {
				fmt.Printf("  gate %s: %s (%s)\n", g.GateID, g.Status, g.Reason)
			}
			return nil
		},
	}
}

func retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry <run-id> <stage>",
		Short: "Retry a failed stage with a fresh retry budget",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(map[string]string{"stage": args[1]})
			if err != nil {
				return err
			}
			resp, err := http.Post(serverURL+"/api/v1/runs/"+args[0]+"/retry", "application/json", bytes.NewReader(body))
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusAccepted {
				return httpError(resp)
			}
			fmt.Printf("retry of stage %s accepted for run %s\n", args[1], args[0])
			return nil
		},
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Tail a run's event stream until interrupted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverURL + "/api/v1/runs/" + args[0] + "/events")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return httpError(resp)
			}

			scanner := bufio.NewScanner(resp.Body)
			scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Text()
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
					continue
				}
				fmt.Printf("%s %-18s %s\n", ev.Timestamp.Format("15:04:05"), ev.Type, ev.Stage)
			}
			return scanner.Err()
		},
	}
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "Show configured and unconfigured backend candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []struct {
				Candidate  models.Candidate `json:"candidate"`
				Configured bool             `json:"configured"`
			}
			if err := getJSON("/api/v1/providers", &statuses); err != nil {
				return err
			}
			for _, s := range statuses {
				state := "unconfigured"
				if s.Configured {
					state = "configured"
				}
				fmt.Printf("%-40s %s\n", s.Candidate, state)
			}
			return nil
		},
	}
}

func getJSON(path string, out any) error {
	resp, err := http.Get(serverURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return httpError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

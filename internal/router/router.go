// Package router executes a single generation request against a ranked list
// of backend candidates: primary first, fallbacks in order, first success
// wins. Every attempt runs under a per-attempt timeout; when all candidates
// fail the caller gets one aggregated error carrying the per-candidate
// detail.
package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stageforge/backend/internal/provider"
	"stageforge/backend/pkg/models"
)

// DefaultAttemptTimeout bounds one candidate's generation call.
const DefaultAttemptTimeout = 120 * time.Second

// Logger is the logging interface the router accepts, compatible with the
// application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Request is one generation request, provider-agnostic.
type Request struct {
	System      string
	Payload     string
	Temperature float64
	MaxTokens   int
}

// Attempt records the outcome of trying one candidate.
type Attempt struct {
	Candidate models.Candidate
	Reason    string
}

// ExhaustionError reports that every candidate failed. The message
// enumerates each candidate tried and its specific failure reason; callers
// must never lose that detail.
type ExhaustionError struct {
	Attempts []Attempt
}

func (e *ExhaustionError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %s", a.Candidate, a.Reason)
	}
	return "all backend candidates failed: " + strings.Join(parts, "; ")
}

// Router resolves candidates through the provider registry and runs the
// attempt loop.
type Router struct {
	providers provider.Registry
	timeout   time.Duration
	logger    Logger
}

// New creates a Router. A non-positive timeout selects DefaultAttemptTimeout;
// a nil logger disables router logging.
func New(providers provider.Registry, timeout time.Duration, logger Logger) *Router {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Router{providers: providers, timeout: timeout, logger: logger}
}

type genResult struct {
	content string
	err     error
}

// Execute tries each candidate in order and returns the first successful
// content. Unconfigured providers are skipped without a call. A candidate's
// call races a per-attempt timer; a late result after the timer fires is
// discarded, not cancelled at the transport level.
func (r *Router) Execute(ctx context.Context, candidates []models.Candidate, req Request) (string, error) {
	if len(candidates) == 0 {
		return "", models.ErrNoCandidates
	}

	attempts := make([]Attempt, 0, len(candidates))
	for _, cand := range candidates {
		gen, ok := r.providers.Lookup(cand.Provider)
		if !ok || !gen.Configured() {
			r.logger.Warn("skipping unconfigured candidate", "candidate", cand.String())
			attempts = append(attempts, Attempt{Candidate: cand, Reason: provider.ErrNotConfigured.Error()})
			continue
		}

		content, err := r.attempt(ctx, gen, cand, req)
		if err == nil {
			r.logger.Debug("candidate succeeded", "candidate", cand.String())
			return content, nil
		}
		r.logger.Warn("candidate failed", "candidate", cand.String(), "error", err)
		attempts = append(attempts, Attempt{Candidate: cand, Reason: err.Error()})
	}

	return "", &ExhaustionError{Attempts: attempts}
}

// attempt races one generation call against the per-attempt timer. The
// result channel is buffered so a race-losing goroutine completes and exits
// instead of leaking; its result is simply never read.
func (r *Router) attempt(ctx context.Context, gen provider.Generator, cand models.Candidate, req Request) (string, error) {
	resultCh := make(chan genResult, 1)

	go func() {
		content, err := gen.Generate(ctx, cand.Model, req.System, req.Payload, req.Temperature, req.MaxTokens)
		resultCh <- genResult{content: content, err: err}
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return "", res.err
		}
		if strings.TrimSpace(res.content) == "" {
			return "", models.ErrEmptyResponse
		}
		return res.content, nil

	case <-timer.C:
		return "", fmt.Errorf("attempt timed out after %s", r.timeout)

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Available partitions candidates into configured and unconfigured, for
// health-check and diagnostic use. No network I/O.
func (r *Router) Available(candidates []models.Candidate) (configured, unconfigured []models.Candidate) {
	for _, cand := range candidates {
		if gen, ok := r.providers.Lookup(cand.Provider); ok && gen.Configured() {
			configured = append(configured, cand)
		} else {
			unconfigured = append(unconfigured, cand)
		}
	}
	return configured, unconfigured
}

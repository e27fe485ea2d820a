package orchestrator

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"stageforge/backend/internal/registry"
	"stageforge/backend/pkg/models"
)

// artifactBlockRe matches the tagged artifact blocks a backend is asked to
// wrap its outputs in.
var artifactBlockRe = regexp.MustCompile(`(?s)<artifact\s+type="([^"]+)"\s*>(.*?)</artifact>`)

type parsedArtifact struct {
	Type    models.ArtifactType
	Content string
}

// extractArtifacts scans a backend response for <artifact type="X"> blocks.
// When a response carries no tagged blocks and the stage declares required
// outputs, the whole response is wrapped as one artifact of the stage's
// first required output type, so a backend that ignores the formatting
// instructions does not lose its output.
func extractArtifacts(response string, def registry.StageDef) []parsedArtifact {
	matches := artifactBlockRe.FindAllStringSubmatch(response, -1)

	if len(matches) == 0 {
		if len(def.Outputs) == 0 {
			return nil
		}
		return []parsedArtifact{{Type: def.Outputs[0], Content: response}}
	}

	parsed := make([]parsedArtifact, 0, len(matches))
	for _, m := range matches {
		parsed = append(parsed, parsedArtifact{
			Type:    models.ArtifactType(m[1]),
			Content: strings.TrimSpace(m[2]),
		})
	}
	return parsed
}

// buildPayload assembles the user payload for a stage: the originating
// brief, the stage's required inputs, then every other available artifact
// as secondary context. Latest-wins dedup has already happened upstream.
func buildPayload(brief string, def registry.StageDef, latest map[models.ArtifactType]*models.Artifact) string {
	var b strings.Builder

	b.WriteString("# Project Brief\n\n")
	b.WriteString(brief)
	b.WriteString("\n")

	required := make(map[models.ArtifactType]bool, len(def.Inputs))
	for _, t := range def.Inputs {
		required[t] = true
		if a, ok := latest[t]; ok {
			b.WriteString("\n# Input: ")
			b.WriteString(string(t))
			b.WriteString("\n\n")
			b.WriteString(a.Content)
			b.WriteString("\n")
		}
	}

	// Remaining artifacts attach as secondary context, sorted by type so
	// the payload is deterministic.
	var extra []models.ArtifactType
	for t := range latest {
		if !required[t] {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	for _, t := range extra {
		b.WriteString("\n# Additional Context: ")
		b.WriteString(string(t))
		b.WriteString("\n\n")
		b.WriteString(latest[t].Content)
		b.WriteString("\n")
	}

	return b.String()
}

func nowUTC() time.Time { return time.Now().UTC() }

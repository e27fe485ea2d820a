package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageforge/backend/pkg/models"
)

func TestDefaultRegistry(t *testing.T) {
	r := Default()

	stages := r.Stages()
	require.Len(t, stages, 4)
	assert.Equal(t, "INTAKE", r.First().ID)

	next, ok := r.Next("PM")
	require.True(t, ok)
	assert.Equal(t, "ARCH", next.ID)

	_, ok = r.Next("DOCS")
	assert.False(t, ok, "DOCS is the last stage")

	_, ok = r.Stage("QA")
	assert.False(t, ok)

	req, ok := r.GateRequirements("g2_prd")
	require.True(t, ok)
	assert.Equal(t, []models.ArtifactType{models.ArtifactPRD}, req)
}

func TestNewRejectsDuplicateOutputs(t *testing.T) {
	cand := []models.Candidate{{Provider: "anthropic", Model: "m"}}
	_, err := New([]StageDef{
		{ID: "A", Position: 0, Outputs: []models.ArtifactType{"prd"}, Candidates: cand},
		{ID: "B", Position: 1, Outputs: []models.ArtifactType{"prd"}, Candidates: cand},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `output type "prd"`)
}

func TestNewRejectsBadPositions(t *testing.T) {
	cand := []models.Candidate{{Provider: "anthropic", Model: "m"}}
	_, err := New([]StageDef{
		{ID: "A", Position: 1, Outputs: []models.ArtifactType{"x"}, Candidates: cand},
	}, nil)
	assert.Error(t, err)
}

func TestNewRejectsEmptyChainAndMissingCandidates(t *testing.T) {
	_, err := New(nil, nil)
	assert.Error(t, err)

	_, err = New([]StageDef{{ID: "A", Position: 0, Outputs: []models.ArtifactType{"x"}}}, nil)
	assert.Error(t, err)
}

package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stageforge/backend/internal/registry"
	"stageforge/backend/pkg/models"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	cand := []models.Candidate{{Provider: "anthropic", Model: "m"}}
	reg, err := registry.New([]registry.StageDef{
		{ID: "PM", Position: 0, Outputs: []models.ArtifactType{"prd"}, Candidates: cand},
		{ID: "ARCH", Position: 1, Outputs: []models.ArtifactType{"architecture_doc", "api_spec"}, Candidates: cand},
		{ID: "DOCS", Position: 2, Outputs: []models.ArtifactType{"user_docs"}, Candidates: cand},
	}, map[string][]models.ArtifactType{
		"g2_prd": {"prd"},
	})
	require.NoError(t, err)
	return NewEngine(reg)
}

func avail(types ...models.ArtifactType) map[models.ArtifactType]bool {
	m := make(map[models.ArtifactType]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

func TestCheckStageGate(t *testing.T) {
	e := testEngine(t)

	res := e.CheckStageGate("ARCH", avail("architecture_doc"))
	assert.False(t, res.Satisfied)
	assert.Equal(t, []models.ArtifactType{"api_spec"}, res.Missing)

	// Extra types are harmless.
	res = e.CheckStageGate("ARCH", avail("architecture_doc", "api_spec", "prd"))
	assert.True(t, res.Satisfied)
	assert.Empty(t, res.Missing)

	// Unknown stages have no requirements.
	res = e.CheckStageGate("QA", avail())
	assert.True(t, res.Satisfied)
}

func TestNextStage(t *testing.T) {
	e := testEngine(t)

	assert.Equal(t, "ARCH", e.NextStage("PM_DONE"))
	// Idempotent: same input, same output.
	assert.Equal(t, "ARCH", e.NextStage("PM_DONE"))

	assert.Equal(t, "", e.NextStage("DOCS_DONE"), "last stage has no successor")
	assert.Equal(t, "", e.NextStage("PM_RUNNING"), "only _DONE states advance")
	assert.Equal(t, "", e.NextStage("BOGUS_DONE"), "unrecognized stage does not advance")
	assert.Equal(t, "", e.NextStage("COMPLETED"))
}

func TestCheckGate(t *testing.T) {
	e := testEngine(t)

	status, reason := e.CheckGate("g2_prd", avail(), nil)
	assert.Equal(t, models.GateFail, status)
	assert.Contains(t, reason, "prd")

	status, _ = e.CheckGate("g2_prd", avail("prd"), nil)
	assert.Equal(t, models.GatePass, status)

	// A recorded PASS short-circuits even when artifacts are gone.
	prior := []models.Gate{{GateID: "g2_prd", Status: models.GatePass, Reason: "all required artifacts present"}}
	status, _ = e.CheckGate("g2_prd", avail(), prior)
	assert.Equal(t, models.GatePass, status)
}

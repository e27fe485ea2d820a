// Package gate implements the readiness checks that decide whether a stage
// may advance. The engine is pure: it holds only the static registry and
// computes every decision from its arguments.
package gate

import (
	"fmt"
	"sort"

	"stageforge/backend/internal/registry"
	"stageforge/backend/pkg/models"
)

// Result is the outcome of a stage gate check.
type Result struct {
	Satisfied bool
	Missing   []models.ArtifactType
}

// Engine answers readiness and next-stage questions against the registry.
type Engine struct {
	reg *registry.Registry
}

// NewEngine creates an Engine backed by the given registry.
func NewEngine(reg *registry.Registry) *Engine {
	return &Engine{reg: reg}
}

// CheckStageGate reports whether a stage's required outputs are all present
// in the available set. Unknown stages have no requirements and are
// trivially satisfied. Missing types come back sorted for stable reasons.
func (e *Engine) CheckStageGate(stageID string, available map[models.ArtifactType]bool) Result {
	def, ok := e.reg.Stage(stageID)
	if !ok {
		return Result{Satisfied: true}
	}
	return check(def.Outputs, available)
}

// NextStage returns the stage that follows the stage encoded in state, or
// "" when state is the last stage's _DONE, is not a _DONE state at all, or
// does not name a known stage. Callers interpret "" as workflow completion;
// unrecognized input deliberately yields no advancement rather than an error.
func (e *Engine) NextStage(state models.RunState) string {
	if !state.IsDone() {
		return ""
	}
	stageID, ok := state.Stage()
	if !ok {
		return ""
	}
	next, ok := e.reg.Next(stageID)
	if !ok {
		return ""
	}
	return next.ID
}

// CheckGate evaluates a legacy-vocabulary gate. A previously recorded PASS
// short-circuits to PASS: gates do not un-pass once satisfied. Otherwise the
// gate's required types are checked exactly like a stage gate, and a FAIL
// carries a reason listing the missing types.
func (e *Engine) CheckGate(gateID string, available map[models.ArtifactType]bool, existing []models.Gate) (models.GateStatus, string) {
	for _, g := range existing {
		if g.GateID == gateID && g.Status == models.GatePass {
			return models.GatePass, g.Reason
		}
	}

	required, _ := e.reg.GateRequirements(gateID)
	res := check(required, available)
	if res.Satisfied {
		return models.GatePass, "all required artifacts present"
	}
	return models.GateFail, fmt.Sprintf("missing artifacts: %v", res.Missing)
}

func check(required []models.ArtifactType, available map[models.ArtifactType]bool) Result {
	var missing []models.ArtifactType
	for _, t := range required {
		if !available[t] {
			missing = append(missing, t)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return Result{Satisfied: len(missing) == 0, Missing: missing}
}

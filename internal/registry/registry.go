// Package registry holds the static, ordered stage definitions the pipeline
// executes. The registry is loaded once at process start and never mutated.
package registry

import (
	"fmt"

	"stageforge/backend/pkg/models"
)

// StageDef describes one stage of the fixed chain: its position, the
// artifact types it needs from earlier stages, the types it must produce,
// its instruction text, and the ranked backend candidates that serve it.
type StageDef struct {
	ID          string
	Position    int
	Inputs      []models.ArtifactType
	Outputs     []models.ArtifactType
	Instruction string
	Candidates  []models.Candidate
}

// Registry is the validated, ordered stage list plus the legacy gate
// vocabulary kept for compatibility with older gate records.
type Registry struct {
	stages []StageDef
	byID   map[string]int
	gates  map[string][]models.ArtifactType
}

// New validates the stage list and builds a Registry. It rejects empty
// chains, duplicate output types across stages, out-of-order positions and
// stages with no backend candidates.
func New(stages []StageDef, gates map[string][]models.ArtifactType) (*Registry, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("registry: stage list is empty")
	}

	byID := make(map[string]int, len(stages))
	outputOwner := make(map[models.ArtifactType]string)
	for i, s := range stages {
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate stage id %q", s.ID)
		}
		if s.Position != i {
			return nil, fmt.Errorf("registry: stage %q has position %d, want %d", s.ID, s.Position, i)
		}
		if len(s.Candidates) == 0 {
			return nil, fmt.Errorf("registry: stage %q has no backend candidates", s.ID)
		}
		for _, out := range s.Outputs {
			if owner, claimed := outputOwner[out]; claimed {
				return nil, fmt.Errorf("registry: output type %q claimed by both %q and %q", out, owner, s.ID)
			}
			outputOwner[out] = s.ID
		}
		byID[s.ID] = i
	}

	if gates == nil {
		gates = map[string][]models.ArtifactType{}
	}
	return &Registry{stages: stages, byID: byID, gates: gates}, nil
}

// Stage looks up a stage definition by id.
func (r *Registry) Stage(id string) (StageDef, bool) {
	i, ok := r.byID[id]
	if !ok {
		return StageDef{}, false
	}
	return r.stages[i], true
}

// First returns the entry stage of the chain.
func (r *Registry) First() StageDef { return r.stages[0] }

// Next returns the stage following id, or false if id is the last stage or
// is not a known stage.
func (r *Registry) Next(id string) (StageDef, bool) {
	i, ok := r.byID[id]
	if !ok || i+1 >= len(r.stages) {
		return StageDef{}, false
	}
	return r.stages[i+1], true
}

// Stages returns the full ordered chain.
func (r *Registry) Stages() []StageDef { return r.stages }

// GateRequirements returns the artifact types a legacy gate id requires.
func (r *Registry) GateRequirements(gateID string) ([]models.ArtifactType, bool) {
	req, ok := r.gates[gateID]
	return req, ok
}

// Default returns the built-in four-stage pipeline.
func Default() *Registry {
	primary := models.Candidate{Provider: "anthropic", Model: "claude-sonnet-4-5"}
	fallback := models.Candidate{Provider: "openai", Model: "gpt-4o"}

	stages := []StageDef{
		{
			ID:       "INTAKE",
			Position: 0,
			Outputs:  []models.ArtifactType{models.ArtifactRequirementsBrief},
			Instruction: "You are a requirements analyst. Restate the user's brief as a " +
				"structured requirements brief: goals, constraints, target users, and " +
				"success criteria. Wrap the result in " +
				"<artifact type=\"requirements_brief\">...</artifact>.",
			Candidates: []models.Candidate{primary, fallback},
		},
		{
			ID:       "PM",
			Position: 1,
			Inputs:   []models.ArtifactType{models.ArtifactRequirementsBrief},
			Outputs:  []models.ArtifactType{models.ArtifactPRD},
			Instruction: "You are a product manager. Produce a complete PRD from the " +
				"requirements brief: features, user stories, scope boundaries and " +
				"acceptance criteria. Wrap the result in <artifact type=\"prd\">...</artifact>.",
			Candidates: []models.Candidate{primary, fallback},
		},
		{
			ID:       "ARCH",
			Position: 2,
			Inputs:   []models.ArtifactType{models.ArtifactPRD},
			Outputs:  []models.ArtifactType{models.ArtifactArchitectureDoc},
			Instruction: "You are a software architect. Design the system described by the " +
				"PRD: components, data model, interfaces and key tradeoffs. Wrap the " +
				"result in <artifact type=\"architecture_doc\">...</artifact>.",
			Candidates: []models.Candidate{primary, fallback},
		},
		{
			ID:       "DOCS",
			Position: 3,
			Inputs:   []models.ArtifactType{models.ArtifactPRD, models.ArtifactArchitectureDoc},
			Outputs:  []models.ArtifactType{models.ArtifactUserDocs},
			Instruction: "You are a technical writer. Write end-user documentation for the " +
				"system described by the PRD and architecture document. Wrap the result " +
				"in <artifact type=\"user_docs\">...</artifact>.",
			Candidates: []models.Candidate{primary, fallback},
		},
	}

	gates := map[string][]models.ArtifactType{
		"g1_brief": {models.ArtifactRequirementsBrief},
		"g2_prd":   {models.ArtifactPRD},
		"g3_arch":  {models.ArtifactArchitectureDoc},
		"g4_docs":  {models.ArtifactUserDocs},
	}

	r, err := New(stages, gates)
	if err != nil {
		// Default() is static data; a validation failure here is a programming error.
		panic(err)
	}
	return r
}

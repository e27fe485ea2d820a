// Package models defines the domain models for the stage pipeline service.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ArtifactType names one entry in the fixed artifact vocabulary.
type ArtifactType string

const (
	ArtifactRequirementsBrief ArtifactType = "requirements_brief"
	ArtifactPRD               ArtifactType = "prd"
	ArtifactArchitectureDoc   ArtifactType = "architecture_doc"
	ArtifactUserDocs          ArtifactType = "user_docs"
)

// RunState is the composite state of a run: "<STAGE>_<PHASE>" for a stage
// phase, or the terminal "COMPLETED".
type RunState string

// StateCompleted is the single terminal success state of a run.
const StateCompleted RunState = "COMPLETED"

// Phase suffixes of a per-stage state.
const (
	PhasePending = "PENDING"
	PhaseRunning = "RUNNING"
	PhaseDone    = "DONE"
	PhaseFailed  = "FAILED"
)

// StageState builds the composite state for a stage and phase,
// e.g. StageState("PM", PhaseDone) == "PM_DONE".
func StageState(stageID, phase string) RunState {
	return RunState(stageID + "_" + phase)
}

// Stage returns the stage component of a composite state and whether the
// state parses as a stage state at all. COMPLETED has no stage.
func (s RunState) Stage() (string, bool) {
	idx := strings.LastIndex(string(s), "_")
	if idx <= 0 {
		return "", false
	}
	return string(s)[:idx], true
}

// Phase returns the phase suffix of a composite state ("" for COMPLETED).
func (s RunState) Phase() string {
	idx := strings.LastIndex(string(s), "_")
	if idx < 0 {
		return ""
	}
	return string(s)[idx+1:]
}

// IsDone reports whether the state is some stage's _DONE state.
func (s RunState) IsDone() bool { return s.Phase() == PhaseDone }

// IsFailed reports whether the state is some stage's _FAILED state.
func (s RunState) IsFailed() bool { return s.Phase() == PhaseFailed }

// Run is one workflow instance walking the fixed stage chain.
type Run struct {
	ID    string   `json:"id"`
	Brief string   `json:"brief"`
	State RunState `json:"state"`
	// StageRetries counts automatic retries consumed per stage. Persisted
	// with the run so a process restart does not reset retry budgets.
	StageRetries map[string]int `json:"stage_retries"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Artifact is one named textual output produced by a stage. Artifacts are
// append-only: re-generation creates a newer row of the same type, and the
// newest row of a type is authoritative.
type Artifact struct {
	ID        string       `json:"id"`
	RunID     string       `json:"run_id"`
	Type      ArtifactType `json:"artifact_type"`
	Content   string       `json:"content"`
	CreatedAt time.Time    `json:"created_at"`
}

// GateStatus is the recorded outcome of a gate check.
type GateStatus string

const (
	GatePending GateStatus = "PENDING"
	GatePass    GateStatus = "PASS"
	GateFail    GateStatus = "FAIL"
)

// Gate is one recorded pass/fail decision for a (run, gate) pair. At most
// one live record exists per pair; re-checking overwrites it.
type Gate struct {
	RunID     string     `json:"run_id"`
	GateID    string     `json:"gate_id"`
	Status    GateStatus `json:"status"`
	Reason    string     `json:"reason"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Event type constants for the run progress stream.
const (
	EventStageStarted    = "stage_started"
	EventStageCompleted  = "stage_completed"
	EventStageFailed     = "stage_failed"
	EventArtifactCreated = "artifact_created"
	EventGateChecked     = "gate_checked"
	EventRunCompleted    = "run_completed"
)

// Event is one progress notification emitted during a run's execution.
// Delivery is at-most-once per subscriber; ordering is emission order
// within a single run.
type Event struct {
	RunID     string         `json:"run_id"`
	Type      string         `json:"type"`
	Stage     string         `json:"stage,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Candidate is one (provider, model) pair eligible to service a generation
// request. Order within a candidate list encodes trial priority.
type Candidate struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (c Candidate) String() string { return c.Provider + "/" + c.Model }

// Sentinel errors shared across layers.
var (
	ErrRunNotFound   = errors.New("run not found")
	ErrStageUnknown  = errors.New("unknown stage")
	ErrNotRetryable  = errors.New("run is not in a failed state for this stage")
	ErrNoCandidates  = errors.New("candidate list is empty")
	ErrEmptyResponse = errors.New("backend returned empty content")
)

// StateError reports an operation attempted against a run in the wrong state.
type StateError struct {
	RunID string
	State RunState
	Want  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("run %s is in state %s, want %s", e.RunID, e.State, e.Want)
}

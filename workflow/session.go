package workflow

import "time"

// State is the lifecycle state of a workflow session.
type State string

const (
	// StateInitialized means the session exists but no stage has started.
	StateInitialized State = "initialized"
	// StateExpertConsultation means a stage call is in flight.
	StateExpertConsultation State = "expert_consultation"
	// StateInProgress means at least one stage completed and more remain.
	StateInProgress State = "in_progress"
	// StateCompleted means every stage reported its output.
	StateCompleted State = "completed"
	// StateFailed means the workflow was explicitly failed.
	StateFailed State = "failed"
)

// Mode selects how a session's stages are sequenced.
type Mode string

const (
	// ModeLinear runs stages strictly one at a time.
	ModeLinear Mode = "linear"
	// ModeParallel allows several stages in flight at once, bounded only by
	// the dispatcher's pool.
	ModeParallel Mode = "parallel"
	// ModeCustom is linear sequencing over a caller-supplied stage queue.
	// The queue is required; there is no default for custom workflows.
	ModeCustom Mode = "custom"
)

// StageOutput is the recorded result of one completed stage.
type StageOutput struct {
	StageID     string    `json:"stage_id"`
	Text        string    `json:"text"`
	CostUnits   float64   `json:"cost_units"`
	CompletedAt time.Time `json:"completed_at"`
}

// Session is one workflow run. It is mutated only by the Engine and
// persisted after every mutation.
//
// Invariant: CurrentStage is non-empty exactly while a linear stage is
// active. Parallel sessions track in-flight stages in Pending instead.
type Session struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Mode        Mode   `json:"mode"`

	// Stages is the original ordered stage list, kept for restarts.
	Stages []string `json:"stages"`
	// Queue holds the stages not yet started.
	Queue []string `json:"queue"`
	// Pending holds parallel stages started but not yet reported.
	Pending []string `json:"pending,omitempty"`

	CurrentStage string        `json:"current_stage,omitempty"`
	Outputs      []StageOutput `json:"outputs,omitempty"`
	State        State         `json:"state"`
	Error        string        `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// clone returns a deep copy so callers cannot mutate engine state.
func (s *Session) clone() *Session {
	out := *s
	out.Stages = append([]string(nil), s.Stages...)
	out.Queue = append([]string(nil), s.Queue...)
	out.Pending = append([]string(nil), s.Pending...)
	out.Outputs = append([]StageOutput(nil), s.Outputs...)
	return &out
}

// Progress is a read-only view of how far a session has advanced.
type Progress struct {
	StageIndex      int
	TotalStages     int
	CurrentStage    string
	CompletedStages []string
	State           State
}

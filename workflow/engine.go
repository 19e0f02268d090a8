package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/dispatchops/dispatch"
	"github.com/jonwraymond/dispatchops/events"
	"github.com/jonwraymond/dispatchops/observe"
	"github.com/jonwraymond/dispatchops/queue"
)

// defaultStages is the stage list for linear and parallel workflows created
// without an explicit queue.
var defaultStages = []string{"analysis", "planning", "implementation", "review"}

// Submitter submits one stage's call to the compute service. Satisfied by
// *dispatch.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, req *dispatch.Request) *dispatch.Future
}

// EngineConfig configures the workflow engine.
type EngineConfig struct {
	// Submitter carries stage calls to the external service. Required.
	Submitter Submitter

	// Store persists sessions after every mutation.
	// Default: an in-memory store.
	Store Store

	// Stages overrides the default stage list for linear and parallel
	// workflows started without an explicit queue.
	Stages []string

	// Priority is the queue priority for stage calls.
	// Default: normal
	Priority queue.Priority

	// Logger and Bus are optional observability sinks.
	Logger observe.Logger
	Bus    *events.Bus
}

// StartOptions shapes one StartWorkflow call.
type StartOptions struct {
	// Mode selects the sequencing model. Default: linear.
	Mode Mode

	// Stages is the explicit stage queue. Required for custom mode.
	Stages []string
}

// Engine sequences workflow sessions through their stages, submitting each
// stage's call through the dispatcher. The engine never retries a failed
// stage; recovery is an explicit RestartWorkflow.
type Engine struct {
	config EngineConfig
	store  Store
	logger observe.Logger
	bus    *events.Bus

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewEngine creates a workflow engine.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Submitter == nil {
		return nil, fmt.Errorf("%w: submitter is required", ErrConfiguration)
	}
	// Apply defaults
	if config.Store == nil {
		config.Store = NewMemoryStore()
	}
	if config.Logger == nil {
		config.Logger = observe.NopLogger()
	}
	if len(config.Stages) == 0 {
		config.Stages = defaultStages
	}

	return &Engine{
		config:   config,
		store:    config.Store,
		logger:   config.Logger.WithComponent("workflow"),
		bus:      config.Bus,
		sessions: make(map[string]*Session),
	}, nil
}

// StartWorkflow creates a new session in the initialized state. Custom mode
// requires an explicit stage queue.
func (e *Engine) StartWorkflow(ctx context.Context, description string, opts StartOptions) (*Session, error) {
	mode := opts.Mode
	if mode == "" {
		mode = ModeLinear
	}
	switch mode {
	case ModeLinear, ModeParallel, ModeCustom:
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", ErrConfiguration, mode)
	}

	stages := opts.Stages
	if len(stages) == 0 {
		if mode == ModeCustom {
			return nil, fmt.Errorf("%w: custom workflow requires an explicit stage queue", ErrConfiguration)
		}
		stages = e.config.Stages
	}

	now := time.Now()
	s := &Session{
		ID:          uuid.NewString(),
		Description: description,
		Mode:        mode,
		Stages:      append([]string(nil), stages...),
		Queue:       append([]string(nil), stages...),
		State:       StateInitialized,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	e.mu.Lock()
	e.sessions[s.ID] = s
	e.mu.Unlock()

	e.persist(ctx, s)
	e.bus.Publish(events.New(events.TypeWorkflowStarted, map[string]any{
		"session_id": s.ID,
		"mode":       string(mode),
		"stages":     len(stages),
	}))
	e.logger.Info(ctx, "workflow started",
		observe.Field{Key: "session_id", Value: s.ID},
		observe.Field{Key: "mode", Value: string(mode)},
	)
	return s.clone(), nil
}

// StartNextStage pops the next stage off the queue and submits its call.
// It returns the stage ID and the future for the submitted call.
//
// In parallel mode it may be called repeatedly to launch every remaining
// stage; in linear and custom modes a second call while a stage is active
// fails with ErrStageMismatch.
func (e *Engine) StartNextStage(ctx context.Context, id string) (string, *dispatch.Future, error) {
	e.mu.Lock()
	s, err := e.sessionLocked(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return "", nil, err
	}

	switch s.State {
	case StateCompleted:
		e.mu.Unlock()
		return "", nil, ErrAllStagesCompleted
	case StateFailed:
		e.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s", ErrWorkflowFailed, s.Error)
	}

	if s.Mode != ModeParallel && s.CurrentStage != "" {
		e.mu.Unlock()
		return "", nil, fmt.Errorf("%w: stage %q still active", ErrStageMismatch, s.CurrentStage)
	}
	if len(s.Queue) == 0 {
		e.mu.Unlock()
		return "", nil, ErrAllStagesCompleted
	}

	stage := s.Queue[0]
	s.Queue = s.Queue[1:]
	if s.Mode == ModeParallel {
		s.Pending = append(s.Pending, stage)
	} else {
		s.CurrentStage = stage
	}
	s.State = StateExpertConsultation
	s.UpdatedAt = time.Now()
	snapshot := s.clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)

	fut := e.config.Submitter.Submit(ctx, &dispatch.Request{
		Kind:     dispatch.KindConsult,
		Priority: e.config.Priority,
		Expert:   stage,
		Prompt:   snapshot.Description,
	})

	e.bus.Publish(events.New(events.TypeWorkflowAdvanced, map[string]any{
		"session_id": id,
		"stage":      stage,
		"state":      string(StateExpertConsultation),
	}))
	e.logger.Info(ctx, "stage started",
		observe.Field{Key: "session_id", Value: id},
		observe.Field{Key: "stage", Value: stage},
	)
	return stage, fut, nil
}

// CompleteStage records a stage's output. The output's StageID must match an
// active stage or the call fails with ErrStageMismatch.
func (e *Engine) CompleteStage(ctx context.Context, id string, output StageOutput) error {
	e.mu.Lock()
	s, err := e.sessionLocked(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	if s.State == StateFailed {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWorkflowFailed, s.Error)
	}

	if s.Mode == ModeParallel {
		if !removePending(s, output.StageID) {
			e.mu.Unlock()
			return fmt.Errorf("%w: %q is not a pending stage", ErrStageMismatch, output.StageID)
		}
	} else {
		// No active stage means nothing to complete; without the explicit
		// check an empty StageID would match the empty CurrentStage.
		if s.CurrentStage == "" || output.StageID != s.CurrentStage {
			e.mu.Unlock()
			return fmt.Errorf("%w: got %q, active stage is %q", ErrStageMismatch, output.StageID, s.CurrentStage)
		}
		s.CurrentStage = ""
	}

	if output.CompletedAt.IsZero() {
		output.CompletedAt = time.Now()
	}
	s.Outputs = append(s.Outputs, output)
	s.UpdatedAt = time.Now()

	if len(s.Queue) == 0 && len(s.Pending) == 0 {
		s.State = StateCompleted
		s.CompletedAt = s.UpdatedAt
	} else {
		s.State = StateInProgress
	}
	state := s.State
	snapshot := s.clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	e.bus.Publish(events.New(events.TypeWorkflowAdvanced, map[string]any{
		"session_id": id,
		"stage":      output.StageID,
		"state":      string(state),
	}))
	e.logger.Info(ctx, "stage completed",
		observe.Field{Key: "session_id", Value: id},
		observe.Field{Key: "stage", Value: output.StageID},
		observe.Field{Key: "state", Value: string(state)},
	)
	return nil
}

// FailWorkflow moves the session to failed and records the reason. Every
// operation except RestartWorkflow is rejected afterwards.
func (e *Engine) FailWorkflow(ctx context.Context, id, reason string) error {
	e.mu.Lock()
	s, err := e.sessionLocked(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	s.State = StateFailed
	s.Error = reason
	s.CurrentStage = ""
	s.Pending = nil
	s.UpdatedAt = time.Now()
	snapshot := s.clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	e.bus.Publish(events.New(events.TypeWorkflowFailed, map[string]any{
		"session_id": id,
		"reason":     reason,
	}))
	e.logger.Warn(ctx, "workflow failed",
		observe.Field{Key: "session_id", Value: id},
		observe.Field{Key: "reason", Value: reason},
	)
	return nil
}

// RestartWorkflow returns the session to initialized, replaying the original
// stage queue from the start. Outputs and the recorded error are discarded.
func (e *Engine) RestartWorkflow(ctx context.Context, id string) error {
	e.mu.Lock()
	s, err := e.sessionLocked(ctx, id)
	if err != nil {
		e.mu.Unlock()
		return err
	}

	s.Queue = append([]string(nil), s.Stages...)
	s.Pending = nil
	s.Outputs = nil
	s.CurrentStage = ""
	s.Error = ""
	s.State = StateInitialized
	s.CompletedAt = time.Time{}
	s.UpdatedAt = time.Now()
	snapshot := s.clone()
	e.mu.Unlock()

	e.persist(ctx, snapshot)
	e.logger.Info(ctx, "workflow restarted", observe.Field{Key: "session_id", Value: id})
	return nil
}

// GetSession returns a copy of the session.
func (e *Engine) GetSession(ctx context.Context, id string) (*Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.sessionLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.clone(), nil
}

// Progress returns how far the session has advanced.
func (e *Engine) Progress(ctx context.Context, id string) (Progress, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.sessionLocked(ctx, id)
	if err != nil {
		return Progress{}, err
	}

	completed := make([]string, 0, len(s.Outputs))
	for _, o := range s.Outputs {
		completed = append(completed, o.StageID)
	}
	return Progress{
		StageIndex:      len(s.Stages) - len(s.Queue),
		TotalStages:     len(s.Stages),
		CurrentStage:    s.CurrentStage,
		CompletedStages: completed,
		State:           s.State,
	}, nil
}

// DeleteSession removes the session from memory and the store. The engine
// never deletes sessions on its own.
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
	return e.store.Delete(ctx, id)
}

// sessionLocked returns the live session, falling back to the store for
// sessions from a previous process. Callers hold e.mu.
func (e *Engine) sessionLocked(ctx context.Context, id string) (*Session, error) {
	if s, ok := e.sessions[id]; ok {
		return s, nil
	}
	s, err := e.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	e.sessions[id] = s
	return s, nil
}

// persist saves best-effort: a store failure is logged, not rolled back.
func (e *Engine) persist(ctx context.Context, s *Session) {
	if err := e.store.Save(ctx, s); err != nil {
		e.logger.Warn(ctx, "session save failed",
			observe.Field{Key: "session_id", Value: s.ID},
			observe.Field{Key: "error", Value: err.Error()},
		)
	}
}

func removePending(s *Session, stage string) bool {
	for i, p := range s.Pending {
		if p == stage {
			s.Pending = append(s.Pending[:i], s.Pending[i+1:]...)
			return true
		}
	}
	return false
}

package workflow

import "errors"

// Sentinel errors for workflow operations.
var (
	// ErrConfiguration indicates an invalid workflow definition, such as a
	// custom workflow without an explicit stage queue.
	ErrConfiguration = errors.New("workflow: invalid configuration")

	// ErrNotFound indicates an unknown session ID.
	ErrNotFound = errors.New("workflow: session not found")

	// ErrStageMismatch indicates a stage output that does not match an
	// active stage. This is a caller error, not a retryable condition.
	ErrStageMismatch = errors.New("workflow: stage mismatch")

	// ErrWorkflowFailed indicates an operation on a failed session. Only
	// RestartWorkflow is valid once a session has failed.
	ErrWorkflowFailed = errors.New("workflow: workflow failed")

	// ErrAllStagesCompleted indicates StartNextStage on a completed session.
	ErrAllStagesCompleted = errors.New("workflow: all stages completed")
)

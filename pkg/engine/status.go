package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a convergence run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed successfully.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run aborted on an error.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled by the user.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// ResourceStatus represents the activation status of a declared resource.
type ResourceStatus string

const (
	// ResourceStatusDeclared indicates the resource is declared but inert.
	ResourceStatusDeclared ResourceStatus = "declared"

	// ResourceStatusActive indicates the resource's action ran successfully.
	ResourceStatusActive ResourceStatus = "active"

	// ResourceStatusFailed indicates the resource's action failed.
	ResourceStatusFailed ResourceStatus = "failed"
)

// Validate checks if the resource status is valid.
func (s ResourceStatus) Validate() error {
	switch s {
	case ResourceStatusDeclared, ResourceStatusActive, ResourceStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid resource status: %s", s)
	}
}

// EventType represents the type of event in the run timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunFailed indicates a run has failed.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypeRecipeLoaded indicates a recipe was included.
	EventTypeRecipeLoaded EventType = "recipe_loaded"

	// EventTypeResourceActivated indicates a resource action ran.
	EventTypeResourceActivated EventType = "resource_activated"

	// EventTypeResourceFailed indicates a resource action failed.
	EventTypeResourceFailed EventType = "resource_failed"

	// EventTypePolicyViolation indicates a policy reported a violation.
	EventTypePolicyViolation EventType = "policy_violation"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeResourceFailed:
		return "error"
	case EventTypePolicyViolation:
		return "warning"
	default:
		return "info"
	}
}

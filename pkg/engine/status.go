package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of an apply or destroy run.
type RunStatus string

const (
	// RunStatusPending indicates the run has not started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every action succeeded.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run halted on a failed action.
	RunStatusFailed RunStatus = "failed"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// ActionType is the kind of change an Action performs.
type ActionType string

const (
	// ActionCreateTable creates a table with its columns, primary key and
	// every non-deferred foreign key.
	ActionCreateTable ActionType = "create_table"

	// ActionDropTable drops a table.
	ActionDropTable ActionType = "drop_table"

	// ActionAddColumn adds a column to an existing table.
	ActionAddColumn ActionType = "add_column"

	// ActionDropColumn drops a column.
	ActionDropColumn ActionType = "drop_column"

	// ActionAlterColumn replaces a column definition.
	ActionAlterColumn ActionType = "alter_column"

	// ActionAddForeignKey adds a foreign key constraint.
	ActionAddForeignKey ActionType = "add_foreign_key"

	// ActionDropForeignKey drops a foreign key constraint.
	ActionDropForeignKey ActionType = "drop_foreign_key"
)

// IsDestructive returns true if the action can lose data.
func (a ActionType) IsDestructive() bool {
	return a == ActionDropTable || a == ActionDropColumn
}

// Symbol is the one-character marker used when rendering plans.
func (a ActionType) Symbol() string {
	switch a {
	case ActionCreateTable, ActionAddColumn, ActionAddForeignKey:
		return "+"
	case ActionDropTable, ActionDropColumn, ActionDropForeignKey:
		return "-"
	default:
		return "~"
	}
}

// Validate checks if the action type is valid.
func (a ActionType) Validate() error {
	switch a {
	case ActionCreateTable, ActionDropTable, ActionAddColumn, ActionDropColumn,
		ActionAlterColumn, ActionAddForeignKey, ActionDropForeignKey:
		return nil
	default:
		return fmt.Errorf("invalid action type: %s", a)
	}
}

// ActionStatus is the per-action state machine:
// pending -> executing -> succeeded | failed.
type ActionStatus string

const (
	// ActionStatusPending indicates the action has not started.
	ActionStatusPending ActionStatus = "pending"

	// ActionStatusExecuting indicates the backend call is in flight.
	ActionStatusExecuting ActionStatus = "executing"

	// ActionStatusSucceeded indicates the action completed and state was persisted.
	ActionStatusSucceeded ActionStatus = "succeeded"

	// ActionStatusFailed indicates the action failed.
	ActionStatusFailed ActionStatus = "failed"

	// ActionStatusNotAttempted marks actions left behind by a halted run.
	ActionStatusNotAttempted ActionStatus = "not_attempted"
)

// IsTerminal returns true if the action status represents a final state.
func (s ActionStatus) IsTerminal() bool {
	return s == ActionStatusSucceeded || s == ActionStatusFailed || s == ActionStatusNotAttempted
}

// Validate checks if the action status is valid.
func (s ActionStatus) Validate() error {
	switch s {
	case ActionStatusPending, ActionStatusExecuting, ActionStatusSucceeded,
		ActionStatusFailed, ActionStatusNotAttempted:
		return nil
	default:
		return fmt.Errorf("invalid action status: %s", s)
	}
}

// ChangeType classifies a per-resource diff result.
type ChangeType string

const (
	// ChangeCreate indicates the resource is absent from state.
	ChangeCreate ChangeType = "create"

	// ChangeAlter indicates column or foreign key level changes.
	ChangeAlter ChangeType = "alter"

	// ChangeDrop indicates the resource is no longer declared.
	ChangeDrop ChangeType = "drop"

	// ChangeRecreate indicates a primary key change forcing drop and create.
	ChangeRecreate ChangeType = "recreate"
)

// IsDestructive returns true if the change drops the table.
func (c ChangeType) IsDestructive() bool {
	return c == ChangeDrop || c == ChangeRecreate
}

// EventType represents the type of event in the execution timeline.
type EventType string

const (
	// EventTypeRunStarted indicates a run has started.
	EventTypeRunStarted EventType = "run_started"

	// EventTypeRunCompleted indicates a run has completed.
	EventTypeRunCompleted EventType = "run_completed"

	// EventTypeRunFailed indicates a run has failed.
	EventTypeRunFailed EventType = "run_failed"

	// EventTypeActionStarted indicates an action was handed to the backend.
	EventTypeActionStarted EventType = "action_started"

	// EventTypeActionCompleted indicates an action succeeded.
	EventTypeActionCompleted EventType = "action_completed"

	// EventTypeActionFailed indicates an action failed.
	EventTypeActionFailed EventType = "action_failed"

	// EventTypeStatePersisted indicates the state file was rewritten.
	EventTypeStatePersisted EventType = "state_persisted"

	// EventTypeWarning indicates a warning was raised.
	EventTypeWarning EventType = "warning"
)

// Severity returns the severity level of the event type.
func (e EventType) Severity() string {
	switch e {
	case EventTypeRunFailed, EventTypeActionFailed:
		return "error"
	case EventTypeWarning:
		return "warning"
	default:
		return "info"
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (a ActionType) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(a))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (a *ActionType) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*a = ActionType(str)
	return a.Validate()
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s ActionStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *ActionStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = ActionStatus(str)
	return s.Validate()
}

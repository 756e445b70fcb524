package engine

import (
	"fmt"
	"time"

	"github.com/aquaform/aquaform/pkg/schema"
)

// Action is a single unit of change. It is owned by the Plan that produced
// it and executed at most once.
type Action struct {
	// Index is the 1-based position of the action in its plan.
	Index int `json:"index"`

	// Type is the kind of change.
	Type ActionType `json:"type"`

	// Resource is the name of the table the action operates on.
	Resource string `json:"resource"`

	// Table is the definition to create (create_table only). It carries the
	// foreign keys that can be created inline; deferred keys follow as
	// separate add_foreign_key actions.
	Table *schema.Table `json:"table,omitempty"`

	// Column is the full column definition (add_column, alter_column).
	Column *schema.Column `json:"column,omitempty"`

	// Previous is the recorded definition being replaced (alter_column).
	Previous *schema.Column `json:"previous,omitempty"`

	// ColumnName is the column to drop (drop_column).
	ColumnName string `json:"column_name,omitempty"`

	// ForeignKey is the key to add or drop.
	ForeignKey *schema.ForeignKey `json:"foreign_key,omitempty"`

	// Destructive marks actions that can lose data.
	Destructive bool `json:"destructive,omitempty"`

	// Reason explains actions the operator may not expect, such as a drop
	// caused by a primary key change.
	Reason string `json:"reason,omitempty"`

	// Status is the execution status.
	Status ActionStatus `json:"status"`
}

// String renders the action for logs and errors.
func (a *Action) String() string {
	switch a.Type {
	case ActionAddColumn, ActionAlterColumn:
		return fmt.Sprintf("%s %s.%s", a.Type, a.Resource, a.Column.Name)
	case ActionDropColumn:
		return fmt.Sprintf("%s %s.%s", a.Type, a.Resource, a.ColumnName)
	case ActionAddForeignKey, ActionDropForeignKey:
		return fmt.Sprintf("%s %s %s", a.Type, a.Resource, a.ForeignKey.Identity())
	default:
		return fmt.Sprintf("%s %s", a.Type, a.Resource)
	}
}

// ResourceChange is the Diff Engine's verdict for one resource.
type ResourceChange struct {
	// Resource is the table name.
	Resource string `json:"resource"`

	// Type classifies the change.
	Type ChangeType `json:"type"`

	// Desired is the declared definition (nil for drops).
	Desired *schema.Table `json:"desired,omitempty"`

	// Recorded is the state definition (nil for creates).
	Recorded *schema.Table `json:"recorded,omitempty"`

	// Alter-family details, in diff order.
	AddColumns      []schema.Column     `json:"add_columns,omitempty"`
	DropColumns     []string            `json:"drop_columns,omitempty"`
	AlterColumns    []schema.Column     `json:"alter_columns,omitempty"`
	AddForeignKeys  []schema.ForeignKey `json:"add_foreign_keys,omitempty"`
	DropForeignKeys []schema.ForeignKey `json:"drop_foreign_keys,omitempty"`

	// Reason explains recreations.
	Reason string `json:"reason,omitempty"`
}

// Plan is an ordered list of actions plus the fingerprints needed to detect
// that it no longer matches the world it was computed against.
type Plan struct {
	// ID is the unique identifier for this plan.
	ID string `json:"id"`

	// CreatedAt is when the plan was created.
	CreatedAt time.Time `json:"created_at"`

	// Backend is the backend family the plan targets.
	Backend schema.Kind `json:"backend"`

	// Destroy marks plans produced by destroy.
	Destroy bool `json:"destroy,omitempty"`

	// Target is the resource named by a targeted destroy.
	Target string `json:"target,omitempty"`

	// Actions in execution order.
	Actions []*Action `json:"actions"`

	// Changes are the per-resource diff results behind the actions.
	Changes []ResourceChange `json:"changes,omitempty"`

	// DesiredFingerprint hashes the desired model used for the plan.
	DesiredFingerprint string `json:"desired_fingerprint,omitempty"`

	// StateFingerprint hashes the state record the plan was diffed against.
	StateFingerprint string `json:"state_fingerprint"`

	// StateSerial is the state serial at plan time, for messages.
	StateSerial int64 `json:"state_serial"`

	// Summary provides counts per action type.
	Summary PlanSummary `json:"summary"`

	executed bool
}

// Empty reports whether the plan has nothing to do.
func (p *Plan) Empty() bool {
	return len(p.Actions) == 0
}

// Destructive returns the actions that can lose data.
func (p *Plan) Destructive() []*Action {
	var out []*Action
	for _, a := range p.Actions {
		if a.Destructive {
			out = append(out, a)
		}
	}
	return out
}

// PlanSummary provides high-level statistics about a plan.
type PlanSummary struct {
	Total       int                `json:"total"`
	ByType      map[ActionType]int `json:"by_type,omitempty"`
	Destructive int                `json:"destructive"`
	Resources   int                `json:"resources"`
}

// Capabilities describes what a backend can express.
type Capabilities struct {
	// DeferredForeignKeys reports whether foreign keys can be added to
	// existing tables, which makes forward references and cycles plannable.
	DeferredForeignKeys bool `json:"deferred_foreign_keys"`

	// Modifiers lists the accepted column modifiers.
	Modifiers []schema.Modifier `json:"modifiers,omitempty"`
}

// ActionResult is what a backend reports for a successful action.
type ActionResult struct {
	// Statements are the native operations issued, for display and history.
	Statements []string `json:"statements,omitempty"`

	// Duration is the backend time spent.
	Duration time.Duration `json:"duration"`
}

// Description is a backend's read-back of a live table.
type Description struct {
	// Name is the resource name that was described.
	Name string `json:"name"`

	// LiveName is the backend's own name for the table.
	LiveName string `json:"live_name"`

	// Table is the observed definition, as far as the backend reports it.
	Table *schema.Table `json:"table,omitempty"`
}

// ActionOutcome records how one action ended.
type ActionOutcome struct {
	Action     *Action       `json:"action"`
	Status     ActionStatus  `json:"status"`
	Statements []string      `json:"statements,omitempty"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// RunSummary provides counts for a run.
type RunSummary struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	NotAttempted int `json:"not_attempted"`
}

// RunReport is the result of executing a plan.
type RunReport struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// PlanID is the plan that was executed.
	PlanID string `json:"plan_id"`

	// Status is the final run status.
	Status RunStatus `json:"status"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Outcomes holds one entry per attempted action.
	Outcomes []ActionOutcome `json:"outcomes"`

	// Failed is the action that halted the run.
	Failed *Action `json:"failed,omitempty"`

	// Error is the failure message, verbatim.
	Error string `json:"error,omitempty"`

	// NotAttempted lists actions never started.
	NotAttempted []*Action `json:"not_attempted,omitempty"`

	// Summary provides counts.
	Summary RunSummary `json:"summary"`
}

// Event represents a timeline event during execution.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// PlanID is the plan being executed.
	PlanID string `json:"plan_id,omitempty"`

	// ActionIndex is the action position, if applicable.
	ActionIndex int `json:"action_index,omitempty"`

	// Resource is the resource name, if applicable.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`
}

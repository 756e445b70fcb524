package engine

import (
	"context"

	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
)

// Backend translates actions into native operations for one backend kind.
// Implementations are selected once when configuration is resolved; the
// diff and plan layers only see this interface.
type Backend interface {
	// Kind returns the backend family.
	Kind() schema.Kind

	// Capabilities reports what the backend can express.
	Capabilities() Capabilities

	// Execute performs the action synchronously. Errors are *EngineError
	// values carrying one of the backend codes.
	Execute(ctx context.Context, action *Action) (*ActionResult, error)

	// Describe reads back a live table. A missing table is ErrNotFound.
	Describe(ctx context.Context, name string) (*Description, error)

	// Close releases connections.
	Close() error
}

// StateStore is the lock-guarded state the executor writes through.
// *state.Store implements it.
type StateStore interface {
	// Snapshot returns a copy of the current record.
	Snapshot() *state.Record

	// Persist durably writes rec as the next revision.
	Persist(rec *state.Record) error
}

// EventPublisher receives execution events.
type EventPublisher interface {
	// Publish publishes an event.
	Publish(ctx context.Context, event *Event) error
}

// PolicyEvaluator checks a plan before it is executed.
type PolicyEvaluator interface {
	// EvaluatePlan returns the policy verdict for plan.
	EvaluatePlan(ctx context.Context, plan *Plan) (*PolicyResult, error)
}

// PolicyResult is the outcome of evaluating policies against a plan.
type PolicyResult struct {
	// Allowed is false when any violation has error severity.
	Allowed bool `json:"allowed"`

	// Violations lists every violation found.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists non-fatal evaluation problems.
	Warnings []string `json:"warnings,omitempty"`
}

// PolicyViolation is a single policy finding.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Resource string `json:"resource,omitempty"`
}

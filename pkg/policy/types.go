package policy

import (
	"github.com/aquaform/aquaform/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block an apply.
	SeverityWarning Severity = "warning"

	// SeverityError blocks an apply.
	SeverityError Severity = "error"

	// SeverityCritical blocks an apply.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects the plan.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a
	// deny set in its package.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not set one.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the tool.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// PolicyInput is the document bound to input during evaluation.
type PolicyInput struct {
	// Plan is the plan being evaluated.
	Plan *engine.Plan `json:"plan"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Environment is the settings environment, e.g. "production".
	Environment string `json:"environment,omitempty"`

	// Operation is "apply" or "destroy".
	Operation string `json:"operation"`

	// MaxIdentifierLength is the longest table or column name the target
	// database accepts.
	MaxIdentifierLength int `json:"max_identifier_length"`
}

package stores

import (
	"time"
)

// RunStatus represents the status of a recorded run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// ActionStatus is the final status of a recorded action
type ActionStatus string

const (
	ActionStatusSucceeded ActionStatus = "succeeded"
	ActionStatusFailed    ActionStatus = "failed"
)

// Run represents an executed plan
type Run struct {
	ID           string     `json:"id"`
	PlanID       string     `json:"plan_id"`
	Backend      string     `json:"backend"`
	Destroy      bool       `json:"destroy"`
	Status       RunStatus  `json:"status"`
	TotalActions int        `json:"total_actions"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	NotAttempted int        `json:"not_attempted"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// ActionResult is the outcome of one attempted action
type ActionResult struct {
	RunID       string        `json:"run_id"`
	Index       int           `json:"index"`
	Type        string        `json:"type"`
	Resource    string        `json:"resource"`
	Status      ActionStatus  `json:"status"`
	Statements  []string      `json:"statements,omitempty"`
	Error       *string       `json:"error,omitempty"`
	ErrorCode   *string       `json:"error_code,omitempty"`
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// Event is a stored execution event
type Event struct {
	ID          string                 `json:"id"`
	RunID       string                 `json:"run_id"`
	Type        string                 `json:"type"`
	Level       string                 `json:"level"`
	ActionIndex *int                   `json:"action_index,omitempty"`
	Resource    *string                `json:"resource,omitempty"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

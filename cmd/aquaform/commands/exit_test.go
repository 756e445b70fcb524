package commands

import (
	"errors"
	"fmt"
	"testing"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/schema"
	"github.com/aquaform/aquaform/pkg/state"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitError},
		{"validation", engine.NewValidationError(&schema.ValidationError{}), ExitValidation},
		{"schema validation", &schema.ValidationError{}, ExitValidation},
		{"cycle", engine.NewCyclicDependencyError([]string{"a", "b", "a"}), ExitCycle},
		{"stale", engine.NewStalePlanError("state changed"), ExitStalePlan},
		{"locked", engine.WrapStateError(state.ErrLocked), ExitStateLocked},
		{"not initialized", engine.WrapStateError(state.ErrNotInitialized), ExitError},
		{"dependent", engine.NewDependentResourceExistsError("users", []string{"posts"}), ExitDependentExists},
		{"policy", engine.NewPolicyViolationError(nil), ExitPolicy},
		{"backend", engine.NewBackendError(engine.ErrCodePermissionDenied, "denied", nil), ExitBackend},
		{
			"execution",
			&engine.ExecutionError{
				Action: &engine.Action{Index: 1, Type: engine.ActionCreateTable, Resource: "users"},
				Err:    engine.NewBackendError(engine.ErrCodeAlreadyExists, "exists", nil),
			},
			ExitBackend,
		},
		{"wrapped", fmt.Errorf("apply: %w", engine.NewStalePlanError("x")), ExitStalePlan},
		{"internal", engine.NewPermanentError("bad", nil).WithCode(engine.ErrCodeInternal), ExitError},
		{"backend not found", engine.NewBackendError(engine.ErrCodeNotFound, "missing", nil), ExitBackend},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

package commands

import (
	"errors"

	"github.com/aquaform/aquaform/pkg/engine"
	"github.com/aquaform/aquaform/pkg/state"
)

// Process exit codes. Each failure class of the error taxonomy has its own
// code so scripts can tell them apart without parsing output.
const (
	ExitOK              = 0
	ExitError           = 1
	ExitValidation      = 2
	ExitCycle           = 3
	ExitStalePlan       = 4
	ExitStateLocked     = 5
	ExitDependentExists = 6
	ExitBackend         = 7
	ExitPolicy          = 8
)

// ExitCode maps err onto the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	// A missing state file is an operator error, not a backend failure.
	if errors.Is(err, state.ErrNotInitialized) {
		return ExitError
	}

	switch engine.CodeOf(err) {
	case engine.ErrCodeValidation:
		return ExitValidation
	case engine.ErrCodeCyclicDependency:
		return ExitCycle
	case engine.ErrCodeStalePlan:
		return ExitStalePlan
	case engine.ErrCodeStateLocked:
		return ExitStateLocked
	case engine.ErrCodeDependentExists:
		return ExitDependentExists
	case engine.ErrCodePolicyViolation:
		return ExitPolicy
	}
	if engine.IsBackendError(err) {
		return ExitBackend
	}
	return ExitError
}

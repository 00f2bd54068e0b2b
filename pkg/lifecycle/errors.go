package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fouchger/homelab/pkg/gates"
)

var (
	// ErrRunActive means the latest run record is in a mid-flight state:
	// another invocation appears active (or died without settling).
	ErrRunActive = errors.New("another run appears active")

	// ErrUnknownCommand means no executor is registered for the command.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrNoRun means there is no latest run record to resume or replay.
	ErrNoRun = errors.New("no previous run recorded")

	// ErrNotResumable means the latest run is not in RESUMABLE state.
	ErrNotResumable = errors.New("latest run is not resumable")

	// ErrNotExecuting guards MarkStepComplete outside EXECUTING/PLANNING.
	ErrNotExecuting = errors.New("run is not executing or planning")
)

// GateFailureError carries the complete gate result list so the operator
// sees every remediation in one pass.
type GateFailureError struct {
	Results []gates.Result
}

func (e *GateFailureError) Error() string {
	failed := gates.Failed(e.Results)
	names := make([]string, len(failed))
	for i, r := range failed {
		names[i] = r.GateName
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(names, ", "))
}

// Fatal reports whether any failed gate is classed fatal.
func (e *GateFailureError) Fatal() bool { return gates.HasFatal(e.Results) }

// ExecutorFailureError reports a step that failed during execution or
// planning. The run record already carries the same information durably.
type ExecutorFailureError struct {
	RunID  string
	Step   string
	Reason string
}

func (e *ExecutorFailureError) Error() string {
	return fmt.Sprintf("run %s failed at step %q: %s", e.RunID, e.Step, e.Reason)
}

// Exit codes for the CLI surface.
const (
	ExitOK                = 0
	ExitExecutorFailure   = 1
	ExitValidationFailure = 10
	ExitFatalValidation   = 20
)

// ExitCode maps a Launch/Resume error to the console's exit-code contract.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var gf *GateFailureError
	if errors.As(err, &gf) {
		if gf.Fatal() {
			return ExitFatalValidation
		}
		return ExitValidationFailure
	}
	var ef *ExecutorFailureError
	if errors.As(err, &ef) {
		return ExitExecutorFailure
	}
	return ExitExecutorFailure
}

// Package executors defines the CommandExecutor interface consumed by the
// run lifecycle controller, the registry that maps command names to
// executors, and the built-in executor implementations.
package executors

import (
	"context"
	"fmt"
	"io"
	"sort"
)

// RunContext carries everything an executor needs for one run. The core
// passes it by value; executors must not retain it past the call.
type RunContext struct {
	RunID     string
	Command   string
	DryRun    bool
	StartStep string // resume target; empty means run from the first step
	RunDir    string // per-run directory for logs and artefacts

	// Operator selections, resolved by the controller before dispatch.
	Profile       string
	AppsInstall   []string
	AppsUninstall []string
	Vars          map[string]string

	// OnStepComplete is invoked after each successfully completed step so
	// the controller can checkpoint the run record. Nil is allowed.
	OnStepComplete func(step string, artefacts map[string]string) error
}

// StepOutcome records the result of a single executor step.
type StepOutcome struct {
	Name   string `json:"name"`
	Status string `json:"status"` // planned, passed, failed, skipped
	Detail string `json:"detail,omitempty"`
}

// Outcome is the uniform result envelope for Plan and Execute. A step
// failure is data, not a Go error: FailedStep/FailureReason are set and the
// remaining steps are not attempted (stop-on-first-failure policy).
type Outcome struct {
	Steps         []StepOutcome     `json:"steps"`
	Artefacts     map[string]string `json:"artefacts,omitempty"` // logical name -> path
	FailedStep    string            `json:"failed_step,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
}

// Failed reports whether the outcome records a step failure.
func (o *Outcome) Failed() bool { return o.FailedStep != "" }

// Executor performs the actual work for one user-facing command.
// Plan must never mutate anything: it reports what Execute would do.
type Executor interface {
	// Pipeline names the step pipeline this command follows, or "" for
	// single-step commands.
	Pipeline() string

	Plan(ctx context.Context, rc RunContext) (*Outcome, error)
	Execute(ctx context.Context, rc RunContext) (*Outcome, error)
}

// CommandRunner runs an argv (no shell) and streams output. It is the seam
// between executors and the host system; tests and dry-run paths substitute
// fakes.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, dir string, stdout, stderr io.Writer) (exitCode int, err error)
}

// Registry maps command names to executors. Replaces the string-switch
// dispatch of the shell implementation.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor under a command name. Duplicate registration is
// a programming error.
func (r *Registry) Register(command string, e Executor) error {
	if _, exists := r.executors[command]; exists {
		return fmt.Errorf("executor already registered for command %q", command)
	}
	r.executors[command] = e
	return nil
}

// Lookup returns the executor for a command name.
func (r *Registry) Lookup(command string) (Executor, bool) {
	e, ok := r.executors[command]
	return e, ok
}

// Commands returns the registered command names, sorted.
func (r *Registry) Commands() []string {
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

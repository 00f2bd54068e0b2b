package lifecycle

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fouchger/homelab/pkg/executors"
	"github.com/fouchger/homelab/pkg/gates"
)

// Store persists the selections and latest-run records. Implementations
// must replace records atomically (write-temp-then-rename) and reject
// secret-shaped keys.
type Store interface {
	LoadSelections() (Selections, error)
	SaveSelections(Selections) error
	// LoadLatestRun returns (nil, nil) when no run has been persisted.
	LoadLatestRun() (*Run, error)
	SaveRun(*Run) error
}

// Locker guards the state-mutating sequence against a concurrently launched
// second invocation. Acquire times out rather than blocking indefinitely.
type Locker interface {
	Acquire(timeout time.Duration) (release func() error, err error)
}

// GateEvaluator runs every defined gate and reports the full result list.
type GateEvaluator interface {
	EvaluateDefined(facts gates.Facts) ([]gates.Result, error)
}

// Sequencer maps a checkpoint step name to the next pipeline step.
type Sequencer interface {
	Steps(pipeline string) ([]string, error)
	NextStep(pipeline, current string) (next string, ok bool, err error)
}

// History records terminal run outcomes for the operator's run history.
// Optional: a nil History disables recording.
type History interface {
	RecordStarted(run *Run) error
	RecordFinished(run *Run, exitCode int) error
}

// Deps wires the Controller's collaborators. Store, Locker, Gates,
// Sequencer and Registry are required.
type Deps struct {
	Store     Store
	Locker    Locker
	Gates     GateEvaluator
	Sequencer Sequencer
	Registry  *executors.Registry
	History   History

	RunsDir     string
	LockTimeout time.Duration
	Now         func() time.Time
	Stdout      io.Writer
}

// Controller owns the run state machine: it creates runs, enforces the
// transition table, branches dry-run vs live, checkpoints progress, and
// computes resume eligibility. All state flows through explicit records —
// no ambient globals.
type Controller struct {
	store     Store
	locker    Locker
	gates     GateEvaluator
	seq       Sequencer
	registry  *executors.Registry
	history   History
	runsDir   string
	lockWait  time.Duration
	now       func() time.Time
	stdout    io.Writer
}

// DefaultLockTimeout bounds how long a second invocation waits for the
// state lock before reporting "another run appears active".
const DefaultLockTimeout = 5 * time.Second

// New creates a Controller from its dependencies.
func New(d Deps) (*Controller, error) {
	if d.Store == nil || d.Locker == nil || d.Gates == nil || d.Sequencer == nil || d.Registry == nil {
		return nil, fmt.Errorf("lifecycle: Store, Locker, Gates, Sequencer and Registry are required")
	}
	if d.RunsDir == "" {
		return nil, fmt.Errorf("lifecycle: RunsDir is required")
	}
	if d.LockTimeout == 0 {
		d.LockTimeout = DefaultLockTimeout
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Stdout == nil {
		d.Stdout = os.Stdout
	}
	return &Controller{
		store:    d.Store,
		locker:   d.Locker,
		gates:    d.Gates,
		seq:      d.Sequencer,
		registry: d.Registry,
		history:  d.History,
		runsDir:  d.RunsDir,
		lockWait: d.LockTimeout,
		now:      d.Now,
		stdout:   d.Stdout,
	}, nil
}

// RunDir returns the per-run artefact/log directory for a run ID.
func (c *Controller) RunDir(runID string) string {
	return filepath.Join(c.runsDir, runID)
}

// CreateRun allocates a run ID, persists the record at INIT, and returns it.
// A latest run still in a mid-flight state means another invocation is (or
// was) active; that is surfaced, never silently overwritten.
func (c *Controller) CreateRun(command string, dryRun bool) (*Run, error) {
	latest, err := c.store.LoadLatestRun()
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	if latest != nil && midFlight(latest.State) {
		return nil, fmt.Errorf("%w: run %s is %s", ErrRunActive, latest.ID, latest.State)
	}

	now := c.now()
	run := &Run{
		ID:           NewRunID(now),
		Command:      command,
		StartedAt:    now,
		DryRun:       dryRun,
		State:        StateInit,
		ArtefactRefs: make(map[string]string),
	}
	if err := c.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("persist new run: %w", err)
	}
	return run, nil
}

// midFlight states indicate an invocation that is running right now or died
// without reaching a rest state. RESUMABLE is a rest state: the operator
// chooses to resume it or start fresh.
func midFlight(s State) bool {
	switch s {
	case StateInit, StateValidating, StatePlanning, StateExecuting, StateFailed:
		return true
	}
	return false
}

// Transition moves the run along one edge of the table and persists it.
// An off-table edge is a programming-contract violation: the error is
// returned without mutating the run or the persisted record.
func (c *Controller) Transition(run *Run, target State) error {
	if !CanTransition(run.State, target) {
		return &InvalidTransitionError{RunID: run.ID, From: run.State, To: target}
	}
	prev := run.State
	run.State = target
	if err := c.store.SaveRun(run); err != nil {
		run.State = prev
		return fmt.Errorf("persist transition %s -> %s: %w", prev, target, err)
	}
	return nil
}

// MarkStepComplete records a checkpoint: the named step finished and its
// artefacts are now part of the run record. Legal only while EXECUTING or
// PLANNING.
func (c *Controller) MarkStepComplete(run *Run, step string, artefacts map[string]string) error {
	if run.State != StateExecuting && run.State != StatePlanning {
		return fmt.Errorf("mark step complete in state %s: %w", run.State, ErrNotExecuting)
	}
	run.LastStepCompleted = step
	for k, v := range artefacts {
		if run.ArtefactRefs == nil {
			run.ArtefactRefs = make(map[string]string)
		}
		run.ArtefactRefs[k] = v
	}
	if err := c.store.SaveRun(run); err != nil {
		return fmt.Errorf("persist checkpoint %q: %w", step, err)
	}
	return nil
}

// ComputeResumability decides RESUMABLE vs ARCHIVED for a failed run. It is
// a pure function of the run record plus filesystem existence checks —
// no mutation.
func (c *Controller) ComputeResumability(run *Run) State {
	if run.LastStepCompleted == "" {
		return StateArchived
	}
	for _, path := range run.ArtefactRefs {
		if _, err := os.Stat(path); err != nil {
			return StateArchived
		}
	}
	return StateResumable
}

// ResolveResumeTarget maps the run's checkpoint to the step a resumed run
// starts from. A checkpoint no longer present in the pipeline (definition
// drift) surfaces as ErrUnknownStep for the caller to treat as a
// recoverable validation failure.
func (c *Controller) ResolveResumeTarget(run *Run, pipeline string) (string, error) {
	if run.LastStepCompleted == "" {
		return "", fmt.Errorf("run %s has no completed step to resume after", run.ID)
	}
	next, ok, err := c.seq.NextStep(pipeline, run.LastStepCompleted)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("run %s already completed the final step %q", run.ID, run.LastStepCompleted)
	}
	return next, nil
}

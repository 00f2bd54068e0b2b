package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fouchger/homelab/pkg/executors"
)

// scriptedExecutor walks the infra step order, honouring StartStep and
// failing at a scripted step, so tests can exercise checkpointing and
// resume without real tooling.
type scriptedExecutor struct {
	pipeline  string
	steps     []string
	failStep  string
	failMsg   string
	artefacts map[string]map[string]string

	planCalls []executors.RunContext
	execCalls []executors.RunContext
}

func (e *scriptedExecutor) Pipeline() string { return e.pipeline }

func (e *scriptedExecutor) Plan(ctx context.Context, rc executors.RunContext) (*executors.Outcome, error) {
	e.planCalls = append(e.planCalls, rc)
	return e.walk(rc)
}

func (e *scriptedExecutor) Execute(ctx context.Context, rc executors.RunContext) (*executors.Outcome, error) {
	e.execCalls = append(e.execCalls, rc)
	return e.walk(rc)
}

func (e *scriptedExecutor) walk(rc executors.RunContext) (*executors.Outcome, error) {
	outcome := &executors.Outcome{Artefacts: map[string]string{}}
	started := rc.StartStep == ""
	for _, step := range e.steps {
		if !started {
			if step == rc.StartStep {
				started = true
			} else {
				continue
			}
		}
		if step == e.failStep {
			outcome.FailedStep = step
			outcome.FailureReason = e.failMsg
			return outcome, nil
		}
		arts := e.artefacts[step]
		outcome.Steps = append(outcome.Steps, executors.StepOutcome{Name: step, Status: "passed"})
		for k, v := range arts {
			outcome.Artefacts[k] = v
		}
		if rc.OnStepComplete != nil {
			if err := rc.OnStepComplete(step, arts); err != nil {
				return nil, err
			}
		}
	}
	return outcome, nil
}

var infraSteps = []string{"access", "templates", "provision", "configure"}

// Scenario: a dry-run plans and settles without ever executing.
func TestLaunchDryRunNeverExecutes(t *testing.T) {
	store := &memStore{}
	exec := &scriptedExecutor{}
	reg := executors.NewRegistry()
	if err := reg.Register("apps_install", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, nil, reg)

	run, err := c.Launch(context.Background(), "apps_install", true, nil)
	if err != nil {
		t.Fatalf("Launch error: %v", err)
	}
	if len(exec.execCalls) != 0 {
		t.Fatal("dry run invoked Execute")
	}
	if len(exec.planCalls) != 1 {
		t.Fatalf("Plan called %d times", len(exec.planCalls))
	}
	if !exec.planCalls[0].DryRun {
		t.Error("RunContext.DryRun not set for a dry run")
	}
	if run.State != StateCompleted {
		t.Errorf("final state = %s, want COMPLETED", run.State)
	}
	if run.LastStepCompleted != "" {
		t.Errorf("non-pipeline command recorded a checkpoint: %q", run.LastStepCompleted)
	}
	if ExitCode(err) != ExitOK {
		t.Errorf("exit code = %d", ExitCode(err))
	}

	// The record rests at COMPLETED: a later load still shows the dry run
	// as completed, not silently archived away.
	persisted, err := store.LoadLatestRun()
	if err != nil || persisted == nil {
		t.Fatalf("LoadLatestRun after launch: %v", err)
	}
	if persisted.State != StateCompleted || !persisted.DryRun {
		t.Errorf("next load shows dry_run=%v state=%s, want dry_run=true state=COMPLETED",
			persisted.DryRun, persisted.State)
	}
}

// Scenario: a recoverable gate failure surfaces remediation and settles
// the run without touching the executor.
func TestLaunchGateFailureRecoverable(t *testing.T) {
	store := &memStore{}
	exec := &scriptedExecutor{}
	reg := executors.NewRegistry()
	if err := reg.Register("apps_install", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, failGates{name: "credentials-present"}, reg)

	run, err := c.Launch(context.Background(), "apps_install", false, nil)
	var gf *GateFailureError
	if !errors.As(err, &gf) {
		t.Fatalf("expected GateFailureError, got %v", err)
	}
	if len(exec.execCalls)+len(exec.planCalls) != 0 {
		t.Fatal("executor invoked despite gate failure")
	}
	if got := gf.Results[0].Remediation; got == "" {
		t.Error("gate failure lost its remediation text")
	}
	if ExitCode(err) != ExitValidationFailure {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitValidationFailure)
	}
	// No completed step, so the run settles to ARCHIVED.
	if run.State != StateArchived {
		t.Errorf("final state = %s, want ARCHIVED", run.State)
	}
	if run.FailureReason == "" {
		t.Error("failure reason not recorded")
	}
}

func TestLaunchFatalGateFailureExitCode(t *testing.T) {
	store := &memStore{}
	reg := executors.NewRegistry()
	if err := reg.Register("apps_install", &scriptedExecutor{}); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, failGates{name: "config-valid", class: "fatal"}, reg)

	_, err := c.Launch(context.Background(), "apps_install", false, nil)
	if ExitCode(err) != ExitFatalValidation {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitFatalValidation)
	}
}

// Scenario: a pipeline run fails mid-flight, settles to RESUMABLE, and a
// later resume continues at the step after the checkpoint.
func TestPipelineFailureThenResume(t *testing.T) {
	store := &memStore{}
	artefact := filepath.Join(t.TempDir(), "access-manifest.json")
	if err := os.WriteFile(artefact, []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}
	exec := &scriptedExecutor{
		pipeline: executors.InfraPipeline,
		steps:    infraSteps,
		failStep: "templates",
		failMsg:  "network timeout",
		artefacts: map[string]map[string]string{
			"access": {"access_manifest": artefact},
		},
	}
	reg := executors.NewRegistry()
	if err := reg.Register("infra_provision", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, nil, reg)

	run, err := c.Launch(context.Background(), "infra_provision", false, nil)
	var ef *ExecutorFailureError
	if !errors.As(err, &ef) {
		t.Fatalf("expected ExecutorFailureError, got %v", err)
	}
	if ExitCode(err) != ExitExecutorFailure {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitExecutorFailure)
	}
	if run.State != StateResumable {
		t.Fatalf("final state = %s, want RESUMABLE", run.State)
	}
	if run.FailureStep != "templates" || !strings.Contains(run.FailureReason, "network timeout") {
		t.Errorf("failure not recorded: step=%q reason=%q", run.FailureStep, run.FailureReason)
	}
	if run.LastStepCompleted != "access" {
		t.Errorf("checkpoint = %q, want access", run.LastStepCompleted)
	}

	persisted, _ := store.LoadLatestRun()
	if persisted.State != StateResumable {
		t.Fatalf("persisted state = %s", persisted.State)
	}

	// The blocker is gone; resume continues from the failed step.
	exec.failStep = ""
	resumed, err := c.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	last := exec.execCalls[len(exec.execCalls)-1]
	if last.StartStep != "templates" {
		t.Errorf("resume started at %q, want templates", last.StartStep)
	}
	if last.DryRun {
		t.Error("resume flipped dry_run")
	}
	if resumed.ID != run.ID {
		t.Errorf("resume created a new run: %s vs %s", resumed.ID, run.ID)
	}
	if resumed.State != StateCompleted {
		t.Errorf("resumed final state = %s, want COMPLETED", resumed.State)
	}
	if resumed.LastStepCompleted != "configure" {
		t.Errorf("final checkpoint = %q, want configure", resumed.LastStepCompleted)
	}
}

// A failed pipeline run whose artefacts vanished is archived, not resumable.
func TestPipelineFailureMissingArtefactArchives(t *testing.T) {
	store := &memStore{}
	exec := &scriptedExecutor{
		pipeline: executors.InfraPipeline,
		steps:    infraSteps,
		failStep: "templates",
		failMsg:  "network timeout",
		artefacts: map[string]map[string]string{
			"access": {"access_manifest": filepath.Join(t.TempDir(), "never-written.json")},
		},
	}
	reg := executors.NewRegistry()
	if err := reg.Register("infra_provision", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, nil, reg)

	run, err := c.Launch(context.Background(), "infra_provision", false, nil)
	if err == nil {
		t.Fatal("expected executor failure")
	}
	if run.State != StateArchived {
		t.Errorf("final state = %s, want ARCHIVED", run.State)
	}
	if _, rerr := c.Resume(context.Background()); !errors.Is(rerr, ErrNotResumable) {
		t.Errorf("resume of archived run: got %v, want ErrNotResumable", rerr)
	}
}

func TestResumePreservesDryRun(t *testing.T) {
	store := &memStore{run: &Run{
		ID:                "20260214T090000-aabbccdd",
		Command:           "infra_provision",
		DryRun:            true,
		State:             StateResumable,
		LastStepCompleted: "access",
	}}
	exec := &scriptedExecutor{pipeline: executors.InfraPipeline, steps: infraSteps}
	reg := executors.NewRegistry()
	if err := reg.Register("infra_provision", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, nil, reg)

	if _, err := c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume error: %v", err)
	}
	if len(exec.execCalls) != 0 {
		t.Error("dry-run resume invoked Execute")
	}
	if len(exec.planCalls) != 1 || !exec.planCalls[0].DryRun {
		t.Error("dry-run resume did not plan with DryRun set")
	}
}

func TestResumeCheckpointDrift(t *testing.T) {
	store := &memStore{run: &Run{
		ID:                "20260214T090000-aabbccdd",
		Command:           "infra_provision",
		State:             StateResumable,
		LastStepCompleted: "legacy-step",
	}}
	exec := &scriptedExecutor{pipeline: executors.InfraPipeline, steps: infraSteps}
	reg := executors.NewRegistry()
	if err := reg.Register("infra_provision", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, nil, reg)

	_, err := c.Resume(context.Background())
	var gf *GateFailureError
	if !errors.As(err, &gf) {
		t.Fatalf("expected recoverable GateFailureError for drifted checkpoint, got %v", err)
	}
	if gf.Fatal() {
		t.Error("checkpoint drift should be recoverable, not fatal")
	}
	if ExitCode(err) != ExitValidationFailure {
		t.Errorf("exit code = %d, want %d", ExitCode(err), ExitValidationFailure)
	}
}

func TestResumeWithoutRun(t *testing.T) {
	c := newTestController(t, &memStore{}, nil, nil)
	if _, err := c.Resume(context.Background()); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun, got %v", err)
	}
	if _, err := c.Replay(context.Background()); !errors.Is(err, ErrNoRun) {
		t.Errorf("expected ErrNoRun from Replay, got %v", err)
	}
}

func TestReplayReusesCommandAndDryRun(t *testing.T) {
	store := &memStore{run: &Run{
		ID:      "20260214T090000-aabbccdd",
		Command: "apps_install",
		DryRun:  true,
		State:   StateArchived,
	}}
	exec := &scriptedExecutor{}
	reg := executors.NewRegistry()
	if err := reg.Register("apps_install", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, nil, reg)

	run, err := c.Replay(context.Background())
	if err != nil {
		t.Fatalf("Replay error: %v", err)
	}
	if run.ID == "20260214T090000-aabbccdd" {
		t.Error("replay reused the old run ID instead of creating a fresh run")
	}
	if run.Command != "apps_install" || !run.DryRun {
		t.Errorf("replay run = %+v", run)
	}
	if len(exec.planCalls) != 1 || exec.planCalls[0].StartStep != "" {
		t.Error("replay must start from the first step")
	}
}

// Scenario: a second invocation cannot take the state lock and reports
// the active run without creating a record.
func TestLaunchLockHeld(t *testing.T) {
	store := &memStore{}
	reg := executors.NewRegistry()
	if err := reg.Register("apps_install", &scriptedExecutor{}); err != nil {
		t.Fatal(err)
	}
	c, err := New(Deps{
		Store:     store,
		Locker:    heldLocker{},
		Gates:     passGates{},
		Sequencer: infraSeq(),
		Registry:  reg,
		RunsDir:   t.TempDir(),
	})
	if err != nil {
		t.Fatal(err)
	}

	_, lerr := c.Launch(context.Background(), "apps_install", false, nil)
	if lerr == nil || !strings.Contains(lerr.Error(), "another run appears active") {
		t.Fatalf("expected lock-held error, got %v", lerr)
	}
	if store.run != nil {
		t.Error("lock-held launch still persisted a run record")
	}
}

func TestLaunchUnknownCommand(t *testing.T) {
	c := newTestController(t, &memStore{}, nil, nil)
	if _, err := c.Launch(context.Background(), "bogus", false, nil); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestLaunchWritesTrace(t *testing.T) {
	store := &memStore{}
	exec := &scriptedExecutor{}
	reg := executors.NewRegistry()
	if err := reg.Register("apps_install", exec); err != nil {
		t.Fatal(err)
	}
	c := newTestController(t, store, nil, reg)

	run, err := c.Launch(context.Background(), "apps_install", false, nil)
	if err != nil {
		t.Fatalf("Launch error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(c.RunDir(run.ID), "trace.jsonl"))
	if err != nil {
		t.Fatalf("read trace: %v", err)
	}
	text := string(data)
	for _, want := range []string{`"from":"INIT"`, `"to":"VALIDATING"`, `"to":"EXECUTING"`, `"to":"COMPLETED"`} {
		if !strings.Contains(text, want) {
			t.Errorf("trace missing %s:\n%s", want, text)
		}
	}
}

// recordingHistory captures start/finish calls with their exit codes.
type recordingHistory struct {
	started  []string
	finished map[string]int
}

func (h *recordingHistory) RecordStarted(run *Run) error {
	h.started = append(h.started, run.ID)
	return nil
}

func (h *recordingHistory) RecordFinished(run *Run, exitCode int) error {
	if h.finished == nil {
		h.finished = map[string]int{}
	}
	h.finished[run.ID] = exitCode
	return nil
}

func TestHistoryRecordsOutcome(t *testing.T) {
	store := &memStore{}
	hist := &recordingHistory{}
	reg := executors.NewRegistry()
	if err := reg.Register("apps_install", &scriptedExecutor{}); err != nil {
		t.Fatal(err)
	}
	c, err := New(Deps{
		Store:     store,
		Locker:    &nopLocker{},
		Gates:     failGates{name: "credentials-present"},
		Sequencer: infraSeq(),
		Registry:  reg,
		History:   hist,
		RunsDir:   t.TempDir(),
		Stdout:    os.Stderr,
	})
	if err != nil {
		t.Fatal(err)
	}

	run, _ := c.Launch(context.Background(), "apps_install", false, nil)
	if len(hist.started) != 1 || hist.started[0] != run.ID {
		t.Errorf("start not recorded: %v", hist.started)
	}
	if code := hist.finished[run.ID]; code != ExitValidationFailure {
		t.Errorf("finish exit code = %d, want %d", code, ExitValidationFailure)
	}
}

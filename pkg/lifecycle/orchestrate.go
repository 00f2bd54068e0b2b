package lifecycle

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fouchger/homelab/pkg/executors"
	"github.com/fouchger/homelab/pkg/gates"
)

// Launch runs one command through the full lifecycle: create, validate,
// plan or execute, settle. The state lock is held for the whole sequence
// and released on every exit path.
func (c *Controller) Launch(ctx context.Context, command string, dryRun bool, vars map[string]string) (*Run, error) {
	exec, ok := c.registry.Lookup(command)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	release, err := c.locker.Acquire(c.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := c.CreateRun(command, dryRun)
	if err != nil {
		return nil, err
	}
	return c.drive(ctx, run, exec, "", vars)
}

// Resume continues the latest run after its last completed step. Gates are
// always re-evaluated — never skipped — and the original run's dry_run
// value is preserved unchanged.
func (c *Controller) Resume(ctx context.Context) (*Run, error) {
	release, err := c.locker.Acquire(c.lockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	run, err := c.store.LoadLatestRun()
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	if run == nil {
		return nil, ErrNoRun
	}
	if run.State != StateResumable {
		return nil, fmt.Errorf("%w: run %s is %s", ErrNotResumable, run.ID, run.State)
	}

	exec, ok := c.registry.Lookup(run.Command)
	if !ok {
		return run, fmt.Errorf("%w: %q", ErrUnknownCommand, run.Command)
	}
	pipeline := exec.Pipeline()
	if pipeline == "" {
		return run, fmt.Errorf("%w: command %q has no pipeline", ErrNotResumable, run.Command)
	}

	target, err := c.ResolveResumeTarget(run, pipeline)
	if err != nil {
		// Pipeline drift is a recoverable validation failure, not a crash.
		return run, &GateFailureError{Results: []gates.Result{{
			GateName:     "resume-target",
			Passed:       false,
			Remediation:  fmt.Sprintf("checkpoint %q no longer maps to a pipeline step; replay from the beginning", run.LastStepCompleted),
			FailureClass: gates.Recoverable,
			Details:      []string{err.Error()},
		}}}
	}

	fmt.Fprintf(c.stdout, "Resuming run %s at step %q\n", run.ID, target)
	return c.drive(ctx, run, exec, target, nil)
}

// Replay starts a fresh run of the latest run's command from the first
// step, reusing the persisted selections.
func (c *Controller) Replay(ctx context.Context) (*Run, error) {
	latest, err := c.store.LoadLatestRun()
	if err != nil {
		return nil, fmt.Errorf("load latest run: %w", err)
	}
	if latest == nil {
		return nil, ErrNoRun
	}
	return c.Launch(ctx, latest.Command, latest.DryRun, nil)
}

// drive takes a run from its current state through validation and
// execution (or planning) to its settled terminal state.
func (c *Controller) drive(ctx context.Context, run *Run, exec executors.Executor, startStep string, vars map[string]string) (*Run, error) {
	runDir := c.RunDir(run.ID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return run, fmt.Errorf("create run directory: %w", err)
	}
	trace, err := NewTraceWriter(filepath.Join(runDir, "trace.jsonl"))
	if err != nil {
		return run, err
	}
	defer trace.Close()

	if c.history != nil {
		if err := c.history.RecordStarted(run); err != nil {
			return run, fmt.Errorf("record run start: %w", err)
		}
	}

	finish := func(runErr error) (*Run, error) {
		if c.history != nil {
			if err := c.history.RecordFinished(run, ExitCode(runErr)); err != nil && runErr == nil {
				return run, fmt.Errorf("record run finish: %w", err)
			}
		}
		return run, runErr
	}

	if err := c.transitionTraced(run, StateValidating, trace); err != nil {
		return finish(err)
	}

	selections, err := c.store.LoadSelections()
	if err != nil {
		return finish(fmt.Errorf("load selections: %w", err))
	}

	facts := gates.Facts{
		"command": run.Command,
		"dry_run": run.DryRun,
		"profile": selections.Profile,
	}
	results, err := c.gates.EvaluateDefined(facts)
	if err != nil {
		return finish(fmt.Errorf("evaluate gates: %w", err))
	}
	if failed := gates.Failed(results); len(failed) > 0 {
		run.FailureReason = (&GateFailureError{Results: results}).Error()
		if err := c.transitionTraced(run, StateFailed, trace); err != nil {
			return finish(err)
		}
		if err := c.settleFailure(run, trace); err != nil {
			return finish(err)
		}
		return finish(&GateFailureError{Results: results})
	}

	rc := executors.RunContext{
		RunID:         run.ID,
		Command:       run.Command,
		DryRun:        run.DryRun,
		StartStep:     startStep,
		RunDir:        runDir,
		Profile:       selections.Profile,
		AppsInstall:   selections.AppsInstall,
		AppsUninstall: selections.AppsUninstall,
		Vars:          vars,
	}
	rc.OnStepComplete = c.checkpointFunc(run, exec.Pipeline(), trace)

	var outcome *executors.Outcome
	if run.DryRun {
		if err := c.transitionTraced(run, StatePlanning, trace); err != nil {
			return finish(err)
		}
		fmt.Fprintf(c.stdout, "▶ Planning %s (run %s)\n", run.Command, run.ID)
		outcome, err = exec.Plan(ctx, rc)
	} else {
		if err := c.transitionTraced(run, StateExecuting, trace); err != nil {
			return finish(err)
		}
		fmt.Fprintf(c.stdout, "▶ Executing %s (run %s)\n", run.Command, run.ID)
		outcome, err = exec.Execute(ctx, rc)
	}
	if err != nil {
		// Infrastructure error from the executor, not a step failure.
		run.FailureStep = ""
		run.FailureReason = err.Error()
		if terr := c.transitionTraced(run, StateFailed, trace); terr != nil {
			return finish(terr)
		}
		if serr := c.settleFailure(run, trace); serr != nil {
			return finish(serr)
		}
		return finish(fmt.Errorf("executor %s: %w", run.Command, err))
	}

	mergeArtefacts(run, outcome.Artefacts)

	if outcome.Failed() {
		run.FailureStep = outcome.FailedStep
		run.FailureReason = outcome.FailureReason
		if err := c.transitionTraced(run, StateFailed, trace); err != nil {
			return finish(err)
		}
		if err := c.settleFailure(run, trace); err != nil {
			return finish(err)
		}
		fmt.Fprintf(c.stdout, "✗ Run %s failed at step %q: %s (artifacts: %s)\n", run.ID, run.FailureStep, run.FailureReason, runDir)
		return finish(&ExecutorFailureError{RunID: run.ID, Step: outcome.FailedStep, Reason: outcome.FailureReason})
	}

	// The run rests at COMPLETED so the operator can inspect it; the
	// record is superseded when the next run replaces it.
	if err := c.transitionTraced(run, StateCompleted, trace); err != nil {
		return finish(err)
	}
	fmt.Fprintf(c.stdout, "✓ Run %s completed (%d steps, artifacts: %s)\n", run.ID, len(outcome.Steps), runDir)
	return finish(nil)
}

// checkpointFunc builds the OnStepComplete callback for one run. Pipeline
// commands advance the checkpoint; single-phase commands only record
// artefacts, since their runs are never resumable.
func (c *Controller) checkpointFunc(run *Run, pipeline string, trace *TraceWriter) func(string, map[string]string) error {
	var order map[string]int
	if pipeline != "" {
		if steps, err := c.seq.Steps(pipeline); err == nil {
			order = make(map[string]int, len(steps))
			for i, s := range steps {
				order[s] = i
			}
		}
	}
	return func(step string, artefacts map[string]string) error {
		if pipeline == "" {
			mergeArtefacts(run, artefacts)
			if err := c.store.SaveRun(run); err != nil {
				return fmt.Errorf("persist artefacts for %q: %w", step, err)
			}
		} else {
			// The checkpoint never regresses within a run.
			if order != nil && run.LastStepCompleted != "" {
				if order[step] <= order[run.LastStepCompleted] {
					return fmt.Errorf("checkpoint regression: %q after %q", step, run.LastStepCompleted)
				}
			}
			if err := c.MarkStepComplete(run, step, artefacts); err != nil {
				return err
			}
		}
		fmt.Fprintf(c.stdout, "  ✓ Step %q completed\n", step)
		return trace.Write(TraceEvent{Type: "step_complete", RunID: run.ID, Step: step, Artefacts: artefacts})
	}
}

// settleFailure moves a FAILED run to its rest state per the resume
// eligibility rules.
func (c *Controller) settleFailure(run *Run, trace *TraceWriter) error {
	return c.transitionTraced(run, c.ComputeResumability(run), trace)
}

func (c *Controller) transitionTraced(run *Run, target State, trace *TraceWriter) error {
	from := run.State
	if err := c.Transition(run, target); err != nil {
		return err
	}
	return trace.Write(TraceEvent{Type: "transition", RunID: run.ID, From: from, To: target})
}

func mergeArtefacts(run *Run, artefacts map[string]string) {
	for k, v := range artefacts {
		if run.ArtefactRefs == nil {
			run.ArtefactRefs = make(map[string]string)
		}
		run.ArtefactRefs[k] = v
	}
}

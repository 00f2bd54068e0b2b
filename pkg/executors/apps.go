package executors

import (
	"context"
	"fmt"
	"strings"

	"github.com/fouchger/homelab/pkg/schema"
)

// PackageManager builds argv lines for the host package manager. The default
// is apt-get; nala users can swap it without touching the executors.
type PackageManager interface {
	InstallArgv(packages []string) []string
	RemoveArgv(packages []string) []string
}

// AptGet is the default Debian/Ubuntu package manager wrapper.
type AptGet struct{}

func (AptGet) InstallArgv(packages []string) []string {
	return append([]string{"apt-get", "install", "-y"}, packages...)
}

func (AptGet) RemoveArgv(packages []string) []string {
	return append([]string{"apt-get", "remove", "-y"}, packages...)
}

// Nala wraps the nala front end with the same argv shape as AptGet.
type Nala struct{}

func (Nala) InstallArgv(packages []string) []string {
	return append([]string{"nala", "install", "-y"}, packages...)
}

func (Nala) RemoveArgv(packages []string) []string {
	return append([]string{"nala", "remove", "-y"}, packages...)
}

// AppsExecutor installs or uninstalls the selected apps, one package-manager
// invocation per app, stopping on the first failure.
type AppsExecutor struct {
	Catalogue *schema.Config
	PM        PackageManager
	Runner    CommandRunner
	Uninstall bool
}

// Pipeline returns "" — app commands are single-phase, each app is a step.
func (e *AppsExecutor) Pipeline() string { return "" }

// selectedApps resolves the run's selections against the catalogue.
// Selections are re-validated here: the catalogue may have changed since the
// operator picked them.
func (e *AppsExecutor) selectedApps(rc RunContext) ([]*schema.App, error) {
	ids := rc.AppsInstall
	if e.Uninstall {
		ids = rc.AppsUninstall
	}
	if len(ids) == 0 && rc.Profile != "" && !e.Uninstall {
		p, ok := e.Catalogue.ProfileByName(rc.Profile)
		if !ok {
			return nil, fmt.Errorf("selected profile %q not in catalogue", rc.Profile)
		}
		ids = p.Apps
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no apps selected")
	}

	apps := make([]*schema.App, 0, len(ids))
	for _, id := range ids {
		app, ok := e.Catalogue.AppByID(id)
		if !ok {
			return nil, fmt.Errorf("selected app %q not in catalogue", id)
		}
		apps = append(apps, app)
	}
	return apps, nil
}

func (e *AppsExecutor) argv(app *schema.App) []string {
	if e.Uninstall {
		return e.PM.RemoveArgv(app.Packages)
	}
	return e.PM.InstallArgv(app.Packages)
}

// Plan reports the package-manager command lines that Execute would run.
// It never invokes the runner.
func (e *AppsExecutor) Plan(ctx context.Context, rc RunContext) (*Outcome, error) {
	apps, err := e.selectedApps(rc)
	if err != nil {
		return &Outcome{FailedStep: rc.Command, FailureReason: err.Error()}, nil
	}
	out := &Outcome{}
	for _, app := range apps {
		out.Steps = append(out.Steps, StepOutcome{
			Name:   app.ID,
			Status: "planned",
			Detail: "would run: " + strings.Join(e.argv(app), " "),
		})
	}
	return out, nil
}

// Execute runs the package manager once per app. The first failing app stops
// the run; completed apps are checkpointed through OnStepComplete.
func (e *AppsExecutor) Execute(ctx context.Context, rc RunContext) (*Outcome, error) {
	apps, err := e.selectedApps(rc)
	if err != nil {
		return &Outcome{FailedStep: rc.Command, FailureReason: err.Error()}, nil
	}

	out := &Outcome{Artefacts: make(map[string]string)}
	for _, app := range apps {
		stdout, stderr, err := stepLogs(rc.RunDir, app.ID)
		if err != nil {
			return nil, err
		}
		code, runErr := e.Runner.Run(ctx, e.argv(app), "", stdout, stderr)
		stdout.Close()
		stderr.Close()
		if runErr != nil {
			out.FailedStep = app.ID
			out.FailureReason = runErr.Error()
			out.Steps = append(out.Steps, StepOutcome{Name: app.ID, Status: "failed", Detail: runErr.Error()})
			return out, nil
		}
		if code != 0 {
			reason := fmt.Sprintf("package manager exited %d", code)
			out.FailedStep = app.ID
			out.FailureReason = reason
			out.Steps = append(out.Steps, StepOutcome{Name: app.ID, Status: "failed", Detail: reason})
			return out, nil
		}

		out.Steps = append(out.Steps, StepOutcome{Name: app.ID, Status: "passed"})
		if rc.OnStepComplete != nil {
			if err := rc.OnStepComplete(app.ID, nil); err != nil {
				return nil, fmt.Errorf("checkpoint app %q: %w", app.ID, err)
			}
		}
	}
	return out, nil
}

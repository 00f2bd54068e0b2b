package executors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// InfraExecutor drives the four-step provisioning pipeline:
// access -> templates -> provision -> configure.
// Terraform handles access/templates/provision, Ansible handles configure.
type InfraExecutor struct {
	Runner CommandRunner

	// TerraformDir is the working directory holding the *.tf definitions.
	TerraformDir string
	// PlaybookPath and InventoryPath configure the Ansible step.
	PlaybookPath  string
	InventoryPath string
}

// InfraPipeline is the pipeline name this executor follows.
const InfraPipeline = "infra"

func (e *InfraExecutor) Pipeline() string { return InfraPipeline }

// infraStep is one pipeline step with its argv and the artefacts it records.
type infraStep struct {
	name string
	argv []string
	// artefacts maps logical artefact names to paths recorded after the
	// step passes. outFile, when set, captures stdout to that path.
	artefacts map[string]string
	outFile   string
}

func (e *InfraExecutor) steps(rc RunContext) []infraStep {
	tfOut := filepath.Join(rc.RunDir, "terraform-output.json")
	planFile := filepath.Join(rc.RunDir, "tfplan")
	return []infraStep{
		{
			name: "access",
			argv: []string{"terraform", "-chdir=" + e.TerraformDir, "init", "-input=false"},
		},
		{
			name: "templates",
			argv: []string{"terraform", "-chdir=" + e.TerraformDir, "plan", "-input=false", "-out=" + planFile},
			artefacts: map[string]string{
				"terraform_plan": planFile,
			},
		},
		{
			name:    "provision",
			argv:    []string{"terraform", "-chdir=" + e.TerraformDir, "output", "-json"},
			outFile: tfOut,
			artefacts: map[string]string{
				"terraform_output_json": tfOut,
			},
		},
		{
			name: "configure",
			argv: []string{"ansible-playbook", "-i", e.InventoryPath, e.PlaybookPath},
			artefacts: map[string]string{
				"ansible_inventory_path": e.InventoryPath,
			},
		},
	}
}

// applyArgv is the mutating apply that runs inside the provision step before
// outputs are captured.
func (e *InfraExecutor) applyArgv(rc RunContext) []string {
	return []string{"terraform", "-chdir=" + e.TerraformDir, "apply", "-input=false", "-auto-approve", filepath.Join(rc.RunDir, "tfplan")}
}

// Plan lists the command lines each pipeline step would run.
func (e *InfraExecutor) Plan(ctx context.Context, rc RunContext) (*Outcome, error) {
	out := &Outcome{}
	for _, s := range e.steps(rc) {
		detail := "would run: " + strings.Join(s.argv, " ")
		if s.name == "provision" {
			detail = "would run: " + strings.Join(e.applyArgv(rc), " ")
		}
		out.Steps = append(out.Steps, StepOutcome{Name: s.name, Status: "planned", Detail: detail})
	}
	return out, nil
}

// Execute runs the pipeline, optionally starting at rc.StartStep (resume).
// Each completed step is checkpointed with its artefacts before the next
// begins.
func (e *InfraExecutor) Execute(ctx context.Context, rc RunContext) (*Outcome, error) {
	out := &Outcome{Artefacts: make(map[string]string)}
	started := rc.StartStep == ""
	for _, s := range e.steps(rc) {
		if !started {
			if s.name != rc.StartStep {
				out.Steps = append(out.Steps, StepOutcome{Name: s.name, Status: "skipped", Detail: "completed in a previous run"})
				continue
			}
			started = true
		}

		if s.name == "provision" {
			// Apply first; outputs are only captured from a successful apply.
			if failed, reason, err := e.runStep(ctx, rc, "provision-apply", e.applyArgv(rc), ""); err != nil {
				return nil, err
			} else if failed {
				out.FailedStep = s.name
				out.FailureReason = reason
				out.Steps = append(out.Steps, StepOutcome{Name: s.name, Status: "failed", Detail: reason})
				return out, nil
			}
		}

		failed, reason, err := e.runStep(ctx, rc, s.name, s.argv, s.outFile)
		if err != nil {
			return nil, err
		}
		if failed {
			out.FailedStep = s.name
			out.FailureReason = reason
			out.Steps = append(out.Steps, StepOutcome{Name: s.name, Status: "failed", Detail: reason})
			return out, nil
		}

		for k, v := range s.artefacts {
			out.Artefacts[k] = v
		}
		out.Steps = append(out.Steps, StepOutcome{Name: s.name, Status: "passed"})
		if rc.OnStepComplete != nil {
			if err := rc.OnStepComplete(s.name, s.artefacts); err != nil {
				return nil, fmt.Errorf("checkpoint step %q: %w", s.name, err)
			}
		}
	}
	if !started {
		out.FailedStep = rc.StartStep
		out.FailureReason = fmt.Sprintf("resume step %q not in pipeline", rc.StartStep)
	}
	return out, nil
}

// runStep runs one argv with logs under the run dir. failed=true with a
// reason for non-zero exits; err only for infrastructure problems.
func (e *InfraExecutor) runStep(ctx context.Context, rc RunContext, name string, argv []string, outFile string) (failed bool, reason string, err error) {
	stdout, stderr, err := stepLogs(rc.RunDir, name)
	if err != nil {
		return false, "", err
	}
	defer stdout.Close()
	defer stderr.Close()

	var outW = stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return false, "", fmt.Errorf("create %s: %w", outFile, err)
		}
		defer f.Close()
		outW = f
	}

	code, runErr := e.Runner.Run(ctx, argv, "", outW, stderr)
	if runErr != nil {
		return true, runErr.Error(), nil
	}
	if code != 0 {
		return true, fmt.Sprintf("%s exited %d", argv[0], code), nil
	}
	return false, "", nil
}

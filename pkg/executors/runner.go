package executors

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
)

// ExecRunner is the real CommandRunner backed by os/exec. Commands run from
// an argv list — never through a shell.
type ExecRunner struct {
	// Env entries are appended to the inherited environment.
	Env []string
}

// Run executes argv[0] with the remaining arguments. A non-zero exit is not
// a Go error; genuine spawn failures (binary missing, permission) are.
func (r *ExecRunner) Run(ctx context.Context, argv []string, dir string, stdout, stderr io.Writer) (int, error) {
	if len(argv) == 0 {
		return 0, fmt.Errorf("empty argv")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		return -1, fmt.Errorf("run %q: %w", argv[0], err)
	}
	return 0, nil
}

// stepLogs opens stdout/stderr log files for one step under the run dir.
// The caller closes both.
func stepLogs(runDir, step string) (stdout, stderr *os.File, err error) {
	logsDir := filepath.Join(runDir, "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create logs dir: %w", err)
	}
	stdout, err = os.Create(filepath.Join(logsDir, step+".stdout.log"))
	if err != nil {
		return nil, nil, fmt.Errorf("create stdout log: %w", err)
	}
	stderr, err = os.Create(filepath.Join(logsDir, step+".stderr.log"))
	if err != nil {
		stdout.Close()
		return nil, nil, fmt.Errorf("create stderr log: %w", err)
	}
	return stdout, stderr, nil
}

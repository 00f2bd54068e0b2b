package executors

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
)

// ProxmoxExecutor writes the non-secret half of the Proxmox access
// configuration. API tokens live in the credential file managed by the
// operator (and checked by the credentials gate) — they are never accepted
// here and never reach the run record.
type ProxmoxExecutor struct {
	// ConfigPath is where the non-secret access settings are written.
	ConfigPath string
}

// proxmoxKeys are the settings accepted from run vars, in write order.
var proxmoxKeys = []string{"host", "node", "user", "verify_tls"}

func (e *ProxmoxExecutor) Pipeline() string { return "" }

func (e *ProxmoxExecutor) settings(rc RunContext) (map[string]string, error) {
	out := make(map[string]string)
	for _, k := range proxmoxKeys {
		if v, ok := rc.Vars[k]; ok && v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no proxmox settings given (expected --var host=..., node=..., user=...)")
	}
	for k := range rc.Vars {
		if !slices.Contains(proxmoxKeys, k) {
			return nil, fmt.Errorf("unknown proxmox setting %q", k)
		}
	}
	return out, nil
}

// Plan reports the settings that would be written, without touching the file.
func (e *ProxmoxExecutor) Plan(ctx context.Context, rc RunContext) (*Outcome, error) {
	settings, err := e.settings(rc)
	if err != nil {
		return &Outcome{FailedStep: rc.Command, FailureReason: err.Error()}, nil
	}
	out := &Outcome{}
	out.Steps = append(out.Steps, StepOutcome{
		Name:   "write-config",
		Status: "planned",
		Detail: fmt.Sprintf("would write %s to %s", renderSettings(settings), e.ConfigPath),
	})
	return out, nil
}

// Execute merges the given settings into the access config file atomically.
func (e *ProxmoxExecutor) Execute(ctx context.Context, rc RunContext) (*Outcome, error) {
	settings, err := e.settings(rc)
	if err != nil {
		return &Outcome{FailedStep: rc.Command, FailureReason: err.Error()}, nil
	}

	merged, err := e.mergeExisting(settings)
	if err != nil {
		return &Outcome{FailedStep: "write-config", FailureReason: err.Error()}, nil
	}

	if err := os.MkdirAll(filepath.Dir(e.ConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	tmp := e.ConfigPath + ".tmp"
	if err := os.WriteFile(tmp, []byte(renderConfig(merged)), 0600); err != nil {
		return nil, fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, e.ConfigPath); err != nil {
		return nil, fmt.Errorf("replace config: %w", err)
	}

	out := &Outcome{
		Steps:     []StepOutcome{{Name: "write-config", Status: "passed", Detail: "wrote " + renderSettings(settings)}},
		Artefacts: map[string]string{"proxmox_config": e.ConfigPath},
	}
	return out, nil
}

// mergeExisting overlays the new settings on whatever the config file
// already holds, so a partial update does not drop earlier keys.
func (e *ProxmoxExecutor) mergeExisting(settings map[string]string) (map[string]string, error) {
	merged := make(map[string]string)
	data, err := os.ReadFile(e.ConfigPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			merged[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	for k, v := range settings {
		merged[strings.ToUpper("proxmox_"+k)] = v
	}
	return merged, nil
}

func renderConfig(merged map[string]string) string {
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString("# Proxmox access settings (non-secret). Tokens belong in the credential file.\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, merged[k])
	}
	return b.String()
}

func renderSettings(settings map[string]string) string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+settings[k])
	}
	return strings.Join(parts, " ")
}

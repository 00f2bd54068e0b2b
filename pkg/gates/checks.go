package gates

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/fouchger/homelab/pkg/schema"
	"gopkg.in/yaml.v3"
)

// FSProber implements the built-in check vocabulary by inspecting the
// filesystem and PATH. The writability probe creates and removes a temp
// file; everything else is strictly read-only.
type FSProber struct{}

// Check dispatches a check descriptor to its probe.
func (p *FSProber) Check(def schema.CheckDef) (bool, string, error) {
	switch def.Kind {
	case "credential-file-present":
		return checkFilePresent(def.Path)
	case "required-keys-present-in-env-file":
		return checkEnvFileKeys(def.Path, def.Keys)
	case "directory-exists-and-writable":
		return checkDirWritable(def.Path)
	case "command-on-path":
		return checkCommandOnPath(def.Command)
	case "file-nonempty":
		return checkFileNonempty(def.Path)
	case "structured-file-contains-key":
		return checkStructuredKey(def.Path, def.Key)
	default:
		return false, "", fmt.Errorf("unknown check kind %q", def.Kind)
	}
}

// expandPath resolves a leading ~ and environment variables.
func expandPath(path string) string {
	path = os.ExpandEnv(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func checkFilePresent(path string) (bool, string, error) {
	path = expandPath(path)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("file %s does not exist", path), nil
		}
		return false, "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Sprintf("%s is a directory, expected a file", path), nil
	}
	return true, "", nil
}

func checkFileNonempty(path string) (bool, string, error) {
	path = expandPath(path)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("file %s does not exist", path), nil
		}
		return false, "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return false, fmt.Sprintf("%s is a directory, expected a file", path), nil
	}
	if info.Size() == 0 {
		return false, fmt.Sprintf("file %s is empty", path), nil
	}
	return true, "", nil
}

func checkDirWritable(path string) (bool, string, error) {
	path = expandPath(path)
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("directory %s does not exist", path), nil
		}
		return false, "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.IsDir() {
		return false, fmt.Sprintf("%s is not a directory", path), nil
	}
	// Probe writability with a create-then-remove; leaves no observable state.
	f, err := os.CreateTemp(path, ".writable-probe-*")
	if err != nil {
		return false, fmt.Sprintf("directory %s is not writable", path), nil
	}
	name := f.Name()
	f.Close()
	os.Remove(name)
	return true, "", nil
}

func checkCommandOnPath(command string) (bool, string, error) {
	if _, err := exec.LookPath(command); err != nil {
		return false, fmt.Sprintf("command %q not found on PATH", command), nil
	}
	return true, "", nil
}

// checkEnvFileKeys verifies each required key appears with a non-empty value
// in a KEY=VALUE file. Comments (#) and blank lines are skipped.
func checkEnvFileKeys(path string, keys []string) (bool, string, error) {
	path = expandPath(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("env file %s does not exist", path), nil
		}
		return false, "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	present := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if val != "" {
			present[key] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return false, "", fmt.Errorf("read %s: %w", path, err)
	}

	var missing []string
	for _, k := range keys {
		if !present[k] {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return false, fmt.Sprintf("env file %s missing keys: %s", path, strings.Join(missing, ", ")), nil
	}
	return true, "", nil
}

// checkStructuredKey verifies a YAML/JSON document contains the given key.
// Dotted keys descend into nested mappings.
func checkStructuredKey(path, key string) (bool, string, error) {
	path = expandPath(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Sprintf("file %s does not exist", path), nil
		}
		return false, "", fmt.Errorf("read %s: %w", path, err)
	}

	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return false, fmt.Sprintf("file %s is not structured YAML/JSON: %v", path, err), nil
	}

	cur := doc
	parts := strings.Split(key, ".")
	for i, part := range parts {
		val, ok := cur[part]
		if !ok {
			return false, fmt.Sprintf("file %s does not contain key %q", path, key), nil
		}
		if i == len(parts)-1 {
			return true, "", nil
		}
		next, ok := val.(map[string]any)
		if !ok {
			return false, fmt.Sprintf("file %s: key %q is not a mapping", path, strings.Join(parts[:i+1], ".")), nil
		}
		cur = next
	}
	return true, "", nil
}

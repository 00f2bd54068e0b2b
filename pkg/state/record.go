// Package state persists the console's durable records: the operator's
// selections, the latest run record, and the advisory state lock. Records
// are plain KEY=VALUE files, replaced atomically, and never contain secret
// values.
package state

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// keyPattern is the legal shape of a record key.
var keyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// secretKeyPattern matches key names that look like they carry credential
// material. Writes with such keys are rejected outright; secrets belong in
// the operator-managed env file, never in state records.
var secretKeyPattern = regexp.MustCompile(`(?i)(token|secret|passwd|password|api_?key|private_key|credential)`)

// SecretLeakError reports a refused write of a secret-shaped key. The
// record on disk is left untouched.
type SecretLeakError struct {
	Key string
}

func (e *SecretLeakError) Error() string {
	return fmt.Sprintf("refusing to persist secret-shaped key %q to state", e.Key)
}

// EncodeRecord renders a record as KEY=VALUE lines with sorted keys. Keys
// must match keyPattern and must not be secret-shaped; values must be
// single-line. Empty values are omitted.
func EncodeRecord(rec map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if rec[k] == "" {
			continue
		}
		if !keyPattern.MatchString(k) {
			return nil, fmt.Errorf("invalid record key %q", k)
		}
		if secretKeyPattern.MatchString(k) {
			return nil, &SecretLeakError{Key: k}
		}
		if strings.ContainsAny(rec[k], "\n\r") {
			return nil, fmt.Errorf("record value for %q contains a newline", k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(rec[k])
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// DecodeRecord parses KEY=VALUE lines. Blank lines and # comments are
// skipped; any other malformed line is an error, so a torn or corrupted
// record surfaces instead of being silently half-read.
func DecodeRecord(data []byte) (map[string]string, error) {
	rec := make(map[string]string)
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || !keyPattern.MatchString(key) {
			return nil, fmt.Errorf("malformed record line %d: %q", i+1, line)
		}
		rec[key] = value
	}
	return rec, nil
}

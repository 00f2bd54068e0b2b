package state

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fouchger/homelab/pkg/lifecycle"
)

const (
	latestRunFile  = "latest-run.env"
	selectionsFile = "selections.env"
	lockFile       = "latest-run.lock"
)

// Run record keys. ARTEFACT_* keys carry one artefact reference each.
const (
	keyRunID         = "RUN_ID"
	keyRunCommand    = "RUN_COMMAND"
	keyRunTimestamp  = "RUN_TIMESTAMP"
	keyDryRun        = "DRY_RUN"
	keyRunState      = "RUN_STATE"
	keyLastStep      = "LAST_STEP_COMPLETED"
	keyFailureStep   = "FAILURE_STEP"
	keyFailureReason = "FAILURE_REASON"
	artefactPrefix   = "ARTEFACT_"
)

// Selections record keys. App lists are comma-separated.
const (
	keySelProfile       = "SELECTED_PROFILE"
	keySelAppsInstall   = "SELECTED_APPS_INSTALL"
	keySelAppsUninstall = "SELECTED_APPS_UNINSTALL"
)

// Store keeps selections and the latest run record as KEY=VALUE files in a
// single state directory. Every write goes through write-temp-then-rename,
// so readers always see a complete record.
type Store struct {
	dir string
}

// New creates the state directory if needed and returns a Store over it.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory path.
func (s *Store) Dir() string { return s.dir }

// LockPath returns the advisory lock file path inside the state directory.
func (s *Store) LockPath() string { return filepath.Join(s.dir, lockFile) }

// LoadSelections reads the persisted selections; a missing file is an
// empty selection, not an error.
func (s *Store) LoadSelections() (lifecycle.Selections, error) {
	rec, err := s.readRecord(selectionsFile)
	if err != nil {
		return lifecycle.Selections{}, err
	}
	if rec == nil {
		return lifecycle.Selections{}, nil
	}
	sel := lifecycle.Selections{
		Profile:       rec[keySelProfile],
		AppsInstall:   splitList(rec[keySelAppsInstall]),
		AppsUninstall: splitList(rec[keySelAppsUninstall]),
	}
	return sel, nil
}

// SaveSelections atomically replaces the selections record.
func (s *Store) SaveSelections(sel lifecycle.Selections) error {
	sel.Normalize()
	rec := map[string]string{
		keySelProfile:       sel.Profile,
		keySelAppsInstall:   strings.Join(sel.AppsInstall, ","),
		keySelAppsUninstall: strings.Join(sel.AppsUninstall, ","),
	}
	return s.writeRecord(selectionsFile, rec)
}

// LoadLatestRun reads the latest run record. Returns (nil, nil) when no run
// has ever been persisted.
func (s *Store) LoadLatestRun() (*lifecycle.Run, error) {
	rec, err := s.readRecord(latestRunFile)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	return recordToRun(rec)
}

// SaveRun atomically replaces the latest run record. A secret-shaped key
// anywhere in the record aborts the write before the file is touched.
func (s *Store) SaveRun(run *lifecycle.Run) error {
	rec := map[string]string{
		keyRunID:         run.ID,
		keyRunCommand:    run.Command,
		keyDryRun:        strconv.FormatBool(run.DryRun),
		keyRunState:      string(run.State),
		keyLastStep:      run.LastStepCompleted,
		keyFailureStep:   run.FailureStep,
		keyFailureReason: singleLine(run.FailureReason),
	}
	if !run.StartedAt.IsZero() {
		rec[keyRunTimestamp] = run.StartedAt.UTC().Format(time.RFC3339)
	}
	for name, path := range run.ArtefactRefs {
		rec[artefactKey(name)] = path
	}
	return s.writeRecord(latestRunFile, rec)
}

func recordToRun(rec map[string]string) (*lifecycle.Run, error) {
	run := &lifecycle.Run{
		ID:                rec[keyRunID],
		Command:           rec[keyRunCommand],
		State:             lifecycle.State(rec[keyRunState]),
		LastStepCompleted: rec[keyLastStep],
		FailureStep:       rec[keyFailureStep],
		FailureReason:     rec[keyFailureReason],
		ArtefactRefs:      make(map[string]string),
	}
	if run.ID == "" || run.State == "" {
		return nil, fmt.Errorf("run record missing %s or %s", keyRunID, keyRunState)
	}
	if ts := rec[keyRunTimestamp]; ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("run record %s: %w", keyRunTimestamp, err)
		}
		run.StartedAt = parsed
	}
	if v := rec[keyDryRun]; v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("run record %s: %w", keyDryRun, err)
		}
		run.DryRun = parsed
	}
	for k, v := range rec {
		if strings.HasPrefix(k, artefactPrefix) {
			run.ArtefactRefs[artefactName(k)] = v
		}
	}
	return run, nil
}

// artefactKey maps a logical artefact name to its record key, e.g.
// "terraform_plan" -> "ARTEFACT_TERRAFORM_PLAN".
func artefactKey(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - ('a' - 'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
	return artefactPrefix + mapped
}

func artefactName(key string) string {
	return strings.ToLower(strings.TrimPrefix(key, artefactPrefix))
}

func (s *Store) readRecord(name string) (map[string]string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return rec, nil
}

// writeRecord encodes and atomically replaces a record file. Encoding
// errors (including secret-shaped keys) abort before any file is created.
func (s *Store) writeRecord(name string, rec map[string]string) error {
	data, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func singleLine(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

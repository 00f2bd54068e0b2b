package gates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fouchger/homelab/pkg/schema"
)

// recordingProber records which checks ran and fails the ones listed.
type recordingProber struct {
	ran  []string
	fail map[string]bool
}

func (p *recordingProber) Check(def schema.CheckDef) (bool, string, error) {
	p.ran = append(p.ran, def.Kind+":"+def.Path+def.Command)
	if p.fail[def.Kind] {
		return false, "check " + def.Kind + " failed", nil
	}
	return true, "", nil
}

func TestEvaluateAllNoShortCircuit(t *testing.T) {
	defs := []schema.GateDef{
		{Name: "first", Checks: []schema.CheckDef{{Kind: "credential-file-present", Path: "/a"}}},
		{Name: "second", Checks: []schema.CheckDef{{Kind: "command-on-path", Command: "x"}}},
		{Name: "third", Checks: []schema.CheckDef{{Kind: "file-nonempty", Path: "/b"}}},
	}
	prober := &recordingProber{fail: map[string]bool{"credential-file-present": true}}
	e := NewEvaluator(defs, prober)

	results, err := e.EvaluateDefined(Facts{"command": "apps_install"})
	if err != nil {
		t.Fatalf("EvaluateDefined error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].Passed {
		t.Error("first gate should have failed")
	}
	// All gates still evaluated after the first failure
	if len(prober.ran) != 3 {
		t.Errorf("expected all 3 checks to run, ran %d", len(prober.ran))
	}
	failed := Failed(results)
	if len(failed) != 1 || failed[0].GateName != "first" {
		t.Errorf("Failed() = %v, want [first]", failed)
	}
}

func TestGateConditionSkips(t *testing.T) {
	defs := []schema.GateDef{
		{
			Name:   "proxmox-only",
			When:   `command == "proxmox_config"`,
			Checks: []schema.CheckDef{{Kind: "credential-file-present", Path: "/creds"}},
		},
	}
	prober := &recordingProber{fail: map[string]bool{"credential-file-present": true}}
	e := NewEvaluator(defs, prober)

	results, err := e.EvaluateDefined(Facts{"command": "apps_install", "dry_run": false})
	if err != nil {
		t.Fatalf("EvaluateDefined error: %v", err)
	}
	if !results[0].Passed || !results[0].Skipped {
		t.Errorf("gate should be skipped and counted as passed: %+v", results[0])
	}
	if len(prober.ran) != 0 {
		t.Error("skipped gate must not run its checks")
	}

	// Same gate applies when the command matches
	results, err = e.EvaluateDefined(Facts{"command": "proxmox_config", "dry_run": false})
	if err != nil {
		t.Fatalf("EvaluateDefined error: %v", err)
	}
	if results[0].Passed {
		t.Error("gate should fail when the condition applies and the check fails")
	}
}

func TestEvaluateUnknownGate(t *testing.T) {
	e := NewEvaluator(nil, &recordingProber{})
	if _, err := e.Evaluate("ghost", nil); err == nil {
		t.Fatal("expected error for unknown gate")
	}
}

func TestFailureClassDefaultsRecoverable(t *testing.T) {
	defs := []schema.GateDef{
		{Name: "a", Checks: []schema.CheckDef{{Kind: "file-nonempty", Path: "/x"}}},
		{Name: "b", FailureClass: "fatal", Checks: []schema.CheckDef{{Kind: "file-nonempty", Path: "/y"}}},
	}
	prober := &recordingProber{fail: map[string]bool{"file-nonempty": true}}
	e := NewEvaluator(defs, prober)

	results, err := e.EvaluateDefined(nil)
	if err != nil {
		t.Fatalf("EvaluateDefined error: %v", err)
	}
	if results[0].FailureClass != Recoverable {
		t.Errorf("default failure class = %q, want recoverable", results[0].FailureClass)
	}
	if results[1].FailureClass != Fatal {
		t.Errorf("failure class = %q, want fatal", results[1].FailureClass)
	}
	if !HasFatal(results) {
		t.Error("HasFatal should be true")
	}
}

// --- FSProber checks against a real temp dir ---

func TestFSProberFileChecks(t *testing.T) {
	dir := t.TempDir()
	cred := filepath.Join(dir, "proxmox.env")
	if err := os.WriteFile(cred, []byte("PROXMOX_HOST=pve.local\nPROXMOX_USER=root@pam\n"), 0600); err != nil {
		t.Fatal(err)
	}
	empty := filepath.Join(dir, "empty")
	if err := os.WriteFile(empty, nil, 0644); err != nil {
		t.Fatal(err)
	}

	p := &FSProber{}

	cases := []struct {
		name string
		def  schema.CheckDef
		want bool
	}{
		{"file present", schema.CheckDef{Kind: "credential-file-present", Path: cred}, true},
		{"file missing", schema.CheckDef{Kind: "credential-file-present", Path: filepath.Join(dir, "nope")}, false},
		{"nonempty", schema.CheckDef{Kind: "file-nonempty", Path: cred}, true},
		{"empty", schema.CheckDef{Kind: "file-nonempty", Path: empty}, false},
		{"dir writable", schema.CheckDef{Kind: "directory-exists-and-writable", Path: dir}, true},
		{"dir missing", schema.CheckDef{Kind: "directory-exists-and-writable", Path: filepath.Join(dir, "nope")}, false},
		{"env keys present", schema.CheckDef{Kind: "required-keys-present-in-env-file", Path: cred, Keys: []string{"PROXMOX_HOST", "PROXMOX_USER"}}, true},
		{"env key missing", schema.CheckDef{Kind: "required-keys-present-in-env-file", Path: cred, Keys: []string{"PROXMOX_NODE"}}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, detail, err := p.Check(tc.def)
			if err != nil {
				t.Fatalf("Check error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Check = %v (%s), want %v", got, detail, tc.want)
			}
			if !tc.want && detail == "" {
				t.Error("failed check should carry a detail message")
			}
		})
	}
}

func TestFSProberStructuredKey(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tf.yaml")
	if err := os.WriteFile(cfgPath, []byte("proxmox:\n  node: pve1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	p := &FSProber{}
	ok, _, err := p.Check(schema.CheckDef{Kind: "structured-file-contains-key", Path: cfgPath, Key: "proxmox.node"})
	if err != nil || !ok {
		t.Errorf("nested key lookup failed: ok=%v err=%v", ok, err)
	}
	ok, detail, err := p.Check(schema.CheckDef{Kind: "structured-file-contains-key", Path: cfgPath, Key: "proxmox.token"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Errorf("missing key reported present (%s)", detail)
	}
}

func TestFSProberCommandOnPath(t *testing.T) {
	p := &FSProber{}
	// "sh" is present on any platform these tests run on
	ok, _, err := p.Check(schema.CheckDef{Kind: "command-on-path", Command: "sh"})
	if err != nil || !ok {
		t.Errorf("expected sh on PATH: ok=%v err=%v", ok, err)
	}
	ok, _, _ = p.Check(schema.CheckDef{Kind: "command-on-path", Command: "definitely-not-a-real-binary-xyz"})
	if ok {
		t.Error("nonexistent command reported on PATH")
	}
}

func TestEvaluationIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	cred := filepath.Join(dir, "c.env")
	os.WriteFile(cred, []byte("K=v\n"), 0600)

	defs := []schema.GateDef{
		{Name: "g", Checks: []schema.CheckDef{{Kind: "credential-file-present", Path: cred}}},
	}
	e := NewEvaluator(defs, nil)
	a, err := e.EvaluateDefined(nil)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.EvaluateDefined(nil)
	if err != nil {
		t.Fatal(err)
	}
	if a[0].Passed != b[0].Passed {
		t.Error("same snapshot produced different gate results")
	}
}

package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestAtLayout(t *testing.T) {
	p := At("/srv/homelab")
	if p.ConfigFile != "/srv/homelab/config/console.yaml" {
		t.Errorf("ConfigFile = %s", p.ConfigFile)
	}
	if p.StateDir != "/srv/homelab/state" || p.RunsDir != "/srv/homelab/runs" {
		t.Errorf("layout = %+v", p)
	}
	if p.HistoryDB != "/srv/homelab/state/history.db" {
		t.Errorf("HistoryDB = %s", p.HistoryDB)
	}
}

func TestDefaultHonorsEnvOverride(t *testing.T) {
	t.Setenv(EnvRoot, "/custom/root")
	p, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if p.Root != "/custom/root" {
		t.Errorf("Root = %s", p.Root)
	}
}

func TestEnsureDirs(t *testing.T) {
	p := At(filepath.Join(t.TempDir(), "homelab"))
	if err := p.EnsureDirs(); err != nil {
		t.Fatal(err)
	}
	for _, dir := range []string{p.ConfigDir, p.StateDir, p.LogsDir, p.RunsDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing dir %s: %v", dir, err)
		}
	}
}

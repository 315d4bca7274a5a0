package iac

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/auroraops/aurora/pkg/models"
)

func TestSessionDirLayout(t *testing.T) {
	ws := &Workspace{BaseDir: t.TempDir()}

	dir, err := ws.SessionDir("user-1", "sess-1")
	if err != nil {
		t.Fatalf("SessionDir: %v", err)
	}
	if !strings.HasSuffix(dir, filepath.Join("user_user-1", "session_sess-1")) {
		t.Errorf("dir = %q", dir)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("dir not created: %v", err)
	}
}

func TestSessionDirSanitisesIDs(t *testing.T) {
	ws := &Workspace{BaseDir: t.TempDir()}

	dir, err := ws.SessionDir("../evil", "a/b")
	if err != nil {
		t.Fatalf("SessionDir: %v", err)
	}
	if strings.Contains(dir, "..") {
		t.Errorf("traversal not sanitised: %q", dir)
	}
	if rel, _ := filepath.Rel(ws.BaseDir, dir); strings.HasPrefix(rel, "..") {
		t.Errorf("dir escaped base: %q", dir)
	}
}

func TestStateConflictAndWipe(t *testing.T) {
	ws := &Workspace{BaseDir: t.TempDir()}
	dir, _ := ws.SessionDir("u", "s")

	state := `{"resources":[{"type":"aws_instance","name":"web"}]}`
	if err := os.WriteFile(filepath.Join(dir, "terraform.tfstate"), []byte(state), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, ".terraform", "providers"), 0o755); err != nil {
		t.Fatal(err)
	}

	if !ws.StateConflict(dir, models.ProviderGCP) {
		t.Error("aws state under gcp selection should conflict")
	}
	if ws.StateConflict(dir, models.ProviderAWS) {
		t.Error("same-provider state should not conflict")
	}

	if err := ws.WipeState(dir); err != nil {
		t.Fatalf("WipeState: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "terraform.tfstate")); !os.IsNotExist(err) {
		t.Error("tfstate survived the wipe")
	}
	if _, err := os.Stat(filepath.Join(dir, ".terraform")); !os.IsNotExist(err) {
		t.Error(".terraform survived the wipe")
	}

	// Wiping an already-clean workspace is fine.
	if err := ws.WipeState(dir); err != nil {
		t.Fatalf("second WipeState: %v", err)
	}

	if ws.StateConflict(dir, models.ProviderGCP) {
		t.Error("missing state should not conflict")
	}
}

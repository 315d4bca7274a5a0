package iac

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/auroraops/aurora/pkg/models"
)

// Workspace manages per-session terraform directories under the base dir:
// base/user_<principal>/session_<session>/. Every iac_tool operation is
// scoped to one of these directories.
type Workspace struct {
	BaseDir string
}

// SessionDir returns (and creates) the directory for a principal/session
// pair. Path components are sanitised so ids cannot escape the base dir.
func (w *Workspace) SessionDir(principal, sessionID string) (string, error) {
	dir := filepath.Join(w.BaseDir,
		"user_"+pathComponent(principal),
		"session_"+pathComponent(sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

func pathComponent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// stateArtifacts are wiped when the workspace switches providers.
var stateArtifacts = []string{".terraform", ".terraform.lock.hcl", "terraform.tfstate", "terraform.tfstate.backup"}

// WipeState removes init/lock/state artifacts from the workspace. Idempotent.
func (w *Workspace) WipeState(dir string) error {
	for _, name := range stateArtifacts {
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("wipe %s: %w", name, err)
		}
	}
	return nil
}

// stateResourcePrefixes maps terraform resource type prefixes to providers.
var stateResourcePrefixes = map[string]models.Provider{
	"aws_":      models.ProviderAWS,
	"google_":   models.ProviderGCP,
	"azurerm_":  models.ProviderAzure,
	"scaleway_": models.ProviderScaleway,
	"ovh_":      models.ProviderOVH,
}

// StateConflict reports whether terraform.tfstate in dir holds resources
// belonging to a provider other than the selected one. Missing or unreadable
// state is not a conflict.
func (w *Workspace) StateConflict(dir string, provider models.Provider) bool {
	raw, err := os.ReadFile(filepath.Join(dir, "terraform.tfstate"))
	if err != nil {
		return false
	}

	var state struct {
		Resources []struct {
			Type string `json:"type"`
		} `json:"resources"`
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return false
	}

	for _, res := range state.Resources {
		for prefix, p := range stateResourcePrefixes {
			if strings.HasPrefix(res.Type, prefix) && p != provider {
				return true
			}
		}
	}
	return false
}

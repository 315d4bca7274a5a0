package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aurora.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
agent:
  recursion_limit: 25
llm:
  anthropic_api_key: test-key
  default_model: claude-sonnet-4-20250514
terraform:
  base_dir: /tmp/tf
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.RecursionLimit != 25 {
		t.Errorf("recursion limit = %d", cfg.Agent.RecursionLimit)
	}
	if cfg.LLM.DefaultModel != "claude-sonnet-4-20250514" {
		t.Errorf("default model = %q", cfg.LLM.DefaultModel)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("expected default http port, got %d", cfg.Server.HTTPPort)
	}
}

func TestLoad_MissingRecursionLimit(t *testing.T) {
	path := writeConfig(t, `
llm:
  anthropic_api_key: test-key
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for missing recursion limit")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGENT_RECURSION_LIMIT", "40")
	t.Setenv("ENABLE_POD_ISOLATION", "true")
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	path := writeConfig(t, `
agent:
  recursion_limit: 10
llm:
  anthropic_api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Agent.RecursionLimit != 40 {
		t.Errorf("env override lost, limit = %d", cfg.Agent.RecursionLimit)
	}
	if !cfg.Agent.PodIsolation {
		t.Error("expected pod isolation enabled")
	}
	if cfg.LLM.OpenRouterAPIKey != "or-key" {
		t.Error("expected openrouter key from env")
	}
}

func TestLoad_NoAPIKeys(t *testing.T) {
	path := writeConfig(t, `
agent:
  recursion_limit: 10
`)
	os.Unsetenv("ANTHROPIC_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("OPENROUTER_API_KEY")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error with no API keys")
	}
}

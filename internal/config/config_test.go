package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Manager.Model != "gemini-2.0-flash" {
		t.Errorf("expected gemini-2.0-flash, got %s", cfg.Manager.Model)
	}
	if cfg.Budget.TotalResource != -1 {
		t.Errorf("expected detect sentinel -1, got %g", cfg.Budget.TotalResource)
	}
	if cfg.Embedding.Dimensions != 768 {
		t.Errorf("expected 768, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Sandbox.Runner != "subprocess" {
		t.Errorf("expected subprocess, got %s", cfg.Sandbox.Runner)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
[manager]
model = "gemini-2.5-pro-exp-03-25"

[budget]
total_expense = 50.0

[modes]
enabled = ["ENABLE_MEMORY", "ENABLE_TOOL_INVOCATION"]
`), 0644)

	cfg := Load(path)
	if cfg.Manager.Model != "gemini-2.5-pro-exp-03-25" {
		t.Errorf("expected gemini-2.5-pro-exp-03-25, got %s", cfg.Manager.Model)
	}
	if cfg.Budget.TotalExpense != 50.0 {
		t.Errorf("expected 50.0, got %g", cfg.Budget.TotalExpense)
	}
	if len(cfg.Modes.Enabled) != 2 {
		t.Errorf("expected 2 modes, got %d", len(cfg.Modes.Enabled))
	}
	// Defaults preserved
	if cfg.Sandbox.PythonBin != "python3" {
		t.Errorf("default should be preserved, got %s", cfg.Sandbox.PythonBin)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("GEMINI_KEY", "env-gemini")
	t.Setenv("GROQ_API_KEY", "env-groq")
	t.Setenv("SESSION_SECRET_KEY", "env-session")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Providers.GeminiKey != "env-gemini" {
		t.Errorf("expected env-gemini, got %s", cfg.Providers.GeminiKey)
	}
	if cfg.Providers.GroqAPIKey != "env-groq" {
		t.Errorf("expected env-groq, got %s", cfg.Providers.GroqAPIKey)
	}
	if cfg.Auth.SessionSecretKey != "env-session" {
		t.Errorf("expected env-session, got %s", cfg.Auth.SessionSecretKey)
	}
}

func TestDataDirRebase(t *testing.T) {
	t.Setenv("HASHIRU_DATA_DIR", "/srv/hashiru")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Paths.DataDir != "/srv/hashiru" {
		t.Errorf("expected /srv/hashiru, got %s", cfg.Paths.DataDir)
	}
	if cfg.Paths.MemoryFile != filepath.Join("/srv/hashiru", "memory.json") {
		t.Errorf("memory file should follow data dir, got %s", cfg.Paths.MemoryFile)
	}
	if cfg.Paths.AgentCatalog != filepath.Join("/srv/hashiru", "models.json") {
		t.Errorf("agent catalog should follow data dir, got %s", cfg.Paths.AgentCatalog)
	}
}

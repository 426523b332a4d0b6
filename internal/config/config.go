// Package config loads HASHIRU configuration: defaults, then an optional
// TOML file, then environment variables (env wins).
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Manager   ManagerConfig   `toml:"manager"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Budget    BudgetConfig    `toml:"budget"`
	Paths     PathsConfig     `toml:"paths"`
	Providers ProvidersConfig `toml:"providers"`
	Auth      AuthConfig      `toml:"auth"`
	Sandbox   SandboxConfig   `toml:"sandbox"`
	Modes     ModesConfig     `toml:"modes"`
	Observer  ObserverConfig  `toml:"observer"`
}

// ManagerConfig configures the top-level manager model.
type ManagerConfig struct {
	Model        string  `toml:"model"`
	Temperature  float64 `toml:"temperature"`
	SystemPrompt string  `toml:"system_prompt"`
	// Expense rates for the manager itself, dollars per million input
	// tokens and per million output words.
	InputRate  float64 `toml:"input_rate"`
	OutputRate float64 `toml:"output_rate"`
}

type EmbeddingConfig struct {
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

// BudgetConfig sets the two budget totals. A negative resource total means
// detect from host memory at startup.
type BudgetConfig struct {
	TotalResource float64 `toml:"total_resource"`
	TotalExpense  float64 `toml:"total_expense"`
}

type PathsConfig struct {
	DataDir        string `toml:"data_dir"`
	MemoryFile     string `toml:"memory_file"`
	AgentCatalog   string `toml:"agent_catalog"`
	DefaultToolDir string `toml:"default_tool_dir"`
	UserToolDir    string `toml:"user_tool_dir"`
	TranscriptDB   string `toml:"transcript_db"`
}

type ProvidersConfig struct {
	GeminiKey  string `toml:"gemini_key"`
	GroqAPIKey string `toml:"groq_api_key"`
	OllamaURL  string `toml:"ollama_url"`
}

// AuthConfig carries the OAuth/session settings consumed by front-ends.
type AuthConfig struct {
	Auth0Domain       string `toml:"auth0_domain"`
	Auth0ClientID     string `toml:"auth0_client_id"`
	Auth0ClientSecret string `toml:"auth0_client_secret"`
	Auth0Audience     string `toml:"auth0_audience"`
	SessionSecretKey  string `toml:"session_secret_key"`
}

type SandboxConfig struct {
	// Runner selects the tool isolation backend: "subprocess" or "docker".
	Runner    string `toml:"runner"`
	PythonBin string `toml:"python_bin"`
	Image     string `toml:"image"`
	TimeoutS  int    `toml:"timeout_seconds"`
}

// ModesConfig lists the mode flags enabled at startup. Empty means all.
type ModesConfig struct {
	Enabled []string `toml:"enabled"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	dataDir := filepath.Join(home, ".hashiru")
	return Config{
		Manager: ManagerConfig{
			Model:       "gemini-2.0-flash",
			Temperature: 0.2,
			InputRate:   0.10,
			OutputRate:  0.40,
		},
		Embedding: EmbeddingConfig{Model: "gemini-embedding-001", Dimensions: 768},
		Budget:    BudgetConfig{TotalResource: -1, TotalExpense: 10},
		Paths: PathsConfig{
			DataDir:        dataDir,
			MemoryFile:     filepath.Join(dataDir, "memory.json"),
			AgentCatalog:   filepath.Join(dataDir, "models.json"),
			DefaultToolDir: "tools/default",
			UserToolDir:    filepath.Join(dataDir, "user_tools"),
			TranscriptDB:   filepath.Join(dataDir, "hashiru.db"),
		},
		Providers: ProvidersConfig{OllamaURL: "http://localhost:11434/v1"},
		Sandbox:   SandboxConfig{Runner: "subprocess", PythonBin: "python3", Image: "python:3.11-slim", TimeoutS: 60},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "hashiru.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Provider credentials keep their historical names; everything else
	// uses the HASHIRU_ prefix.
	if v := os.Getenv("GEMINI_KEY"); v != "" {
		cfg.Providers.GeminiKey = v
	}
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.Providers.GroqAPIKey = v
	}
	if v := os.Getenv("AUTH0_DOMAIN"); v != "" {
		cfg.Auth.Auth0Domain = v
	}
	if v := os.Getenv("AUTH0_CLIENT_ID"); v != "" {
		cfg.Auth.Auth0ClientID = v
	}
	if v := os.Getenv("AUTH0_CLIENT_SECRET"); v != "" {
		cfg.Auth.Auth0ClientSecret = v
	}
	if v := os.Getenv("AUTH0_AUDIENCE"); v != "" {
		cfg.Auth.Auth0Audience = v
	}
	if v := os.Getenv("SESSION_SECRET_KEY"); v != "" {
		cfg.Auth.SessionSecretKey = v
	}
	if v := os.Getenv("HASHIRU_MANAGER_MODEL"); v != "" {
		cfg.Manager.Model = v
	}
	if v := os.Getenv("HASHIRU_DATA_DIR"); v != "" {
		cfg.Paths = pathsUnder(v, cfg.Paths)
	}
	if v := os.Getenv("HASHIRU_OLLAMA_URL"); v != "" {
		cfg.Providers.OllamaURL = v
	}
	if v := os.Getenv("HASHIRU_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	return cfg
}

// pathsUnder rebases the default data-dir paths under dir, keeping any
// path the file or env explicitly pointed elsewhere.
func pathsUnder(dir string, p PathsConfig) PathsConfig {
	def := Default().Paths
	if p.MemoryFile == def.MemoryFile {
		p.MemoryFile = filepath.Join(dir, "memory.json")
	}
	if p.AgentCatalog == def.AgentCatalog {
		p.AgentCatalog = filepath.Join(dir, "models.json")
	}
	if p.UserToolDir == def.UserToolDir {
		p.UserToolDir = filepath.Join(dir, "user_tools")
	}
	if p.TranscriptDB == def.TranscriptDB {
		p.TranscriptDB = filepath.Join(dir, "hashiru.db")
	}
	p.DataDir = dir
	return p
}

package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig
	LLM          LLMConfig
	Storage      StorageConfig
	Memory       MemoryConfig
	History      HistoryConfig
	Orchestrator OrchestratorConfig
	Log          LogConfig
}

type ServerConfig struct {
	Port           int
	MaxConnections int
	APIToken       string
}

type LLMConfig struct {
	Provider        string
	BaseURL         string
	Model           string
	APIKey          string
	Temperature     float64
	MaxTokens       int
	Timeout         string
	ClassifyWithLLM bool
}

type StorageConfig struct {
	Backend     string
	DataDir     string
	DatabaseURL string
}

type MemoryConfig struct {
	ArchiveAfterDays int
	SweepSchedule    string
}

type HistoryConfig struct {
	Window int
}

type OrchestratorConfig struct {
	RunTimeout string
}

type LogConfig struct {
	Level string
}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderNone   = "none"

	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           4100,
			MaxConnections: 256,
		},
		LLM: LLMConfig{
			Provider:        ProviderOllama,
			BaseURL:         "http://localhost:11434",
			Model:           "qwen2.5:7b",
			Temperature:     0.7,
			MaxTokens:       1024,
			Timeout:         "20s",
			ClassifyWithLLM: true,
		},
		Storage: StorageConfig{
			Backend: BackendSQLite,
			DataDir: defaultDataDir(),
		},
		Memory: MemoryConfig{
			ArchiveAfterDays: 180,
			SweepSchedule:    "@daily",
		},
		History: HistoryConfig{
			Window: 5,
		},
		Orchestrator: OrchestratorConfig{
			RunTimeout: "60s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/lifeos/config.json and applies LIFEOS_* environment
// overrides. Variables from .env and .env.local in the working directory
// are loaded first and never overwrite variables already set.
func Load() (Config, error) {
	for _, f := range []string{".env", ".env.local"} {
		_ = godotenv.Load(f)
	}
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case ProviderOllama, ProviderNone:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("missing required config: llm.api_key for provider %q. "+
				"Set it via environment variable LIFEOS_LLM_API_KEY", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unknown llm.provider %q (want ollama, openai or none)", c.LLM.Provider)
	}

	switch c.Storage.Backend {
	case BackendSQLite, BackendMemory:
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("missing required config: storage.database_url for backend %q. "+
				"Set it via environment variable LIFEOS_DATABASE_URL", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage.backend %q (want sqlite, postgres or memory)", c.Storage.Backend)
	}

	for key, raw := range map[string]string{
		"llm.timeout":              c.LLM.Timeout,
		"orchestrator.run_timeout": c.Orchestrator.RunTimeout,
	} {
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}
	if c.History.Window < 0 {
		return fmt.Errorf("history.window must not be negative, got %d", c.History.Window)
	}
	return nil
}

// LLMTimeout returns the parsed per-call generator timeout.
func (c Config) LLMTimeout() time.Duration {
	d, _ := time.ParseDuration(c.LLM.Timeout)
	return d
}

// RunTimeout returns the parsed whole-turn timeout.
func (c Config) RunTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Orchestrator.RunTimeout)
	return d
}

// ArchiveAfter is the unused period after which a memory entry is swept.
func (c Config) ArchiveAfter() time.Duration {
	return time.Duration(c.Memory.ArchiveAfterDays) * 24 * time.Hour
}

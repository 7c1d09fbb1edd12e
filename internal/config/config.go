// Package config loads BranchMind core configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all BranchMind core configuration.
type Config struct {
	Store        StoreConfig     `yaml:"store"`
	Proof        ProofConfig     `yaml:"proof"`
	Jobs         JobsConfig      `yaml:"jobs"`
	Cascade      CascadeConfig   `yaml:"cascade"`
	Reasoning    ReasoningConfig `yaml:"reasoning"`
	Budgets      BudgetsConfig   `yaml:"budgets"`
	Portal       PortalConfig    `yaml:"portal"`
	ProjectGuard string          `yaml:"project_guard"`
	Logging      LoggingConfig   `yaml:"logging"`
}

type StoreConfig struct {
	Path         string `yaml:"path"`
	StaleAfterMs int64  `yaml:"stale_after_ms"`
}

type ProofConfig struct {
	DefaultParsePolicy string `yaml:"default_parse_policy"` // lenient | strict
}

type JobsConfig struct {
	DefaultLeaseTTLMs int64 `yaml:"default_lease_ttl_ms"`
	MeshEnabled       bool  `yaml:"mesh_enabled"`
	WaitStreamEnabled bool  `yaml:"wait_stream_enabled"`
}

type CascadeConfig struct {
	MaxScoutRetries  int `yaml:"max_scout_retries"`
	MaxWriterRetries int `yaml:"max_writer_retries"`
	MaxContextRefs   int `yaml:"max_context_refs"` // scout pack code_refs[] clamp: min 8, max 64
}

type ReasoningConfig struct {
	EngineSignalsLimit int `yaml:"engine_signals_limit"`
	EngineActionsLimit int `yaml:"engine_actions_limit"`
}

type BudgetsConfig struct {
	DefaultMaxChars int `yaml:"default_max_chars"`
	PerToolCap      int `yaml:"per_tool_cap"`
}

type PortalConfig struct {
	DefaultToolset string `yaml:"default_toolset"` // core | daily | full
}

type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Path:         "data/branchmind.db",
			StaleAfterMs: 86400000,
		},
		Proof: ProofConfig{
			DefaultParsePolicy: "lenient",
		},
		Jobs: JobsConfig{
			DefaultLeaseTTLMs: 120000,
			MeshEnabled:       false,
			WaitStreamEnabled: false,
		},
		Cascade: CascadeConfig{
			MaxScoutRetries:  2,
			MaxWriterRetries: 2,
			MaxContextRefs:   32,
		},
		Reasoning: ReasoningConfig{
			EngineSignalsLimit: 20,
			EngineActionsLimit: 10,
		},
		Budgets: BudgetsConfig{
			DefaultMaxChars: 8000,
			PerToolCap:      64000,
		},
		Portal: PortalConfig{
			DefaultToolset: "daily",
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file doesn't exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("BRANCHMIND_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("BRANCHMIND_PROJECT_GUARD"); v != "" {
		c.ProjectGuard = v
	}
	if v := os.Getenv("BRANCHMIND_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BRANCHMIND_JOBS_MESH_V1"); v != "" {
		c.Jobs.MeshEnabled = truthy(v)
	}
	if v := os.Getenv("BRANCHMIND_JOBS_WAIT_STREAM_V2"); v != "" {
		c.Jobs.WaitStreamEnabled = truthy(v)
	}
}

func truthy(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err == nil {
		return b
	}
	return v == "1"
}

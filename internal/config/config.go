// Package config loads the engine's YAML configuration, with environment
// overrides for anything secret.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all siphon configuration.
type Config struct {
	// LLM provider settings
	LLM LLMConfig `yaml:"llm"`

	// Browser session settings
	Browser BrowserConfig `yaml:"browser"`

	// Bindings persistence
	Storage StorageConfig `yaml:"storage"`

	// Recipe run settings
	Run RunConfig `yaml:"run"`

	// Exploration settings
	Explore ExploreConfig `yaml:"explore"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language model client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// BrowserConfig configures the live browser driver.
type BrowserConfig struct {
	Headless          bool   `yaml:"headless"`
	ViewportWidth     int    `yaml:"viewport_width"`
	ViewportHeight    int    `yaml:"viewport_height"`
	NavigationTimeout string `yaml:"navigation_timeout"`

	// URL policy for every navigation the engine performs
	AllowedHosts []string `yaml:"allowed_hosts"`
	DeniedHosts  []string `yaml:"denied_hosts"`
}

// StorageConfig configures where learned bindings live.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RunConfig bounds recipe execution.
type RunConfig struct {
	MaxItems         int    `yaml:"max_items"`
	MaxScrollCycles  int    `yaml:"max_scroll_cycles"`
	ConditionTimeout string `yaml:"condition_timeout"`
	LoadTimeout      string `yaml:"load_timeout"`
}

// ExploreConfig bounds exploration runs.
type ExploreConfig struct {
	MaxSteps int    `yaml:"max_steps"`
	Goal     string `yaml:"goal"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			Timeout:  "60s",
		},
		Browser: BrowserConfig{
			Headless:          true,
			ViewportWidth:     1280,
			ViewportHeight:    900,
			NavigationTimeout: "30s",
		},
		Storage: StorageConfig{
			DatabasePath: "data/siphon.db",
		},
		Run: RunConfig{
			MaxItems:         50,
			MaxScrollCycles:  10,
			ConditionTimeout: "10s",
			LoadTimeout:      "20s",
		},
		Explore: ExploreConfig{
			MaxSteps: 25,
			Goal:     "understand how this site lists items and reveals their details",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "", "gemini", "openai":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	for name, v := range map[string]string{
		"llm.timeout":                c.LLM.Timeout,
		"browser.navigation_timeout": c.Browser.NavigationTimeout,
		"run.condition_timeout":      c.Run.ConditionTimeout,
		"run.load_timeout":           c.Run.LoadTimeout,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Run.MaxItems < 0 || c.Run.MaxScrollCycles < 0 || c.Explore.MaxSteps < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	return nil
}

// Duration parses one of the config's duration strings, falling back when
// it is absent or broken.
func Duration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// API key from environment, in priority order
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "openai"
	}

	if path := os.Getenv("SIPHON_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if model := os.Getenv("SIPHON_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if level := os.Getenv("SIPHON_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

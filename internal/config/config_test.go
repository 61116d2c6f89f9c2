package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing config must not fail: %v", err)
	}
	if cfg.Run.MaxItems != 50 {
		t.Errorf("default max_items = %d", cfg.Run.MaxItems)
	}
	if !cfg.Browser.Headless {
		t.Error("default must be headless")
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siphon.yaml")
	cfg := DefaultConfig()
	cfg.Browser.AllowedHosts = []string{"example.com", "*.jobs.example"}
	cfg.Run.MaxItems = 7
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	back, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if back.Run.MaxItems != 7 {
		t.Errorf("max_items = %d", back.Run.MaxItems)
	}
	if len(back.Browser.AllowedHosts) != 2 {
		t.Errorf("allowed_hosts = %v", back.Browser.AllowedHosts)
	}
}

func TestLoad_BadDurationRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "siphon.yaml")
	if err := os.WriteFile(path, []byte("run:\n  condition_timeout: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("unparseable duration must be rejected")
	}
}

func TestValidate_UnknownProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "clippy"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown provider must be rejected")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("OPENAI_API_KEY", "o-key")
	t.Setenv("SIPHON_DB", "/tmp/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Provider != "gemini" || cfg.LLM.APIKey != "g-key" {
		t.Errorf("gemini key must win: provider=%s", cfg.LLM.Provider)
	}
	if cfg.Storage.DatabasePath != "/tmp/override.db" {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("1500ms", time.Second); got != 1500*time.Millisecond {
		t.Errorf("Duration = %v", got)
	}
	if got := Duration("", time.Second); got != time.Second {
		t.Errorf("fallback = %v", got)
	}
	if got := Duration("broken", 2*time.Second); got != 2*time.Second {
		t.Errorf("broken falls back = %v", got)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.Mode != "mock" {
		t.Fatalf("expected mock engine, got %s", cfg.Engine.Mode)
	}
	if cfg.Audio.DecodeTimeout() != 5*time.Second {
		t.Fatalf("expected 5s decode timeout, got %s", cfg.Audio.DecodeTimeout())
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "listener.yaml")
	data := []byte(`
http:
  port: 9000
session:
  idle_timeout_ms: 1500
engine:
  mode: exec
  command: "python3 vosk_helper.py"
transcripts:
  store: sqlite
  sqlite_path: /tmp/t.db
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Fatalf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Session.IdleTimeout() != 1500*time.Millisecond {
		t.Fatalf("expected idle timeout 1.5s, got %s", cfg.Session.IdleTimeout())
	}
	if cfg.Engine.Command != "python3 vosk_helper.py" {
		t.Fatalf("expected engine command, got %q", cfg.Engine.Command)
	}
	if cfg.Session.QueueSize != 64 {
		t.Fatalf("expected default queue size to survive partial yaml, got %d", cfg.Session.QueueSize)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("LISTENER_ENGINE_MODE", "google")
	t.Setenv("LISTENER_SESSION_MAX_MESSAGE_SIZE", "1024")
	t.Setenv("LISTENER_TTS_ENABLED", "false")
	t.Setenv("LISTENER_TRANSCRIPTS_STORE", "none")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 7000 {
		t.Fatalf("expected port override, got %d", cfg.HTTP.Port)
	}
	if cfg.Engine.Mode != "google" {
		t.Fatalf("expected engine mode override")
	}
	if cfg.Session.MaxMessageSize != 1024 {
		t.Fatalf("expected max message size override")
	}
	if cfg.TTS.Enabled {
		t.Fatalf("expected tts disabled")
	}
	if cfg.Transcripts.Store != "none" {
		t.Fatalf("expected transcripts store override")
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Fatalf("expected log level override")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.HTTP.Port = 0 }},
		{"exec without command", func(c *Config) { c.Engine.Mode = "exec"; c.Engine.Command = "" }},
		{"unknown engine", func(c *Config) { c.Engine.Mode = "kaldi" }},
		{"piper without model", func(c *Config) { c.TTS.Mode = "piper" }},
		{"unknown store", func(c *Config) { c.Transcripts.Store = "redis" }},
		{"short secret", func(c *Config) { c.Auth.Enabled = true; c.Auth.Secret = "short" }},
		{"zero decode timeout", func(c *Config) { c.Audio.DecodeTimeoutMS = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

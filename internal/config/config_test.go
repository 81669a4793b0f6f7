package config

import (
	"testing"
	"time"
)

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Name != "planhub" {
		t.Errorf("default database = %q, want planhub", cfg.Database.Name)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("default log format = %q, want json", cfg.Log.Format)
	}
	if cfg.Engine.DefaultTimezone != "UTC" {
		t.Errorf("default timezone = %q, want UTC", cfg.Engine.DefaultTimezone)
	}
	if cfg.Engine.MaxActionDelay != 15*time.Minute {
		t.Errorf("default max action delay = %v, want 15m", cfg.Engine.MaxActionDelay)
	}
	if cfg.Webhook.MaxRetries != 3 {
		t.Errorf("default webhook retries = %d, want 3", cfg.Webhook.MaxRetries)
	}
}

func TestApplyDefaults_EmptyConfig(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.JWT.Secret == "" {
		t.Error("jwt secret should get a default")
	}
	if cfg.Engine.ScheduleTick != 30*time.Second {
		t.Errorf("schedule tick = %v, want 30s", cfg.Engine.ScheduleTick)
	}
	if cfg.Engine.DueSoonTick != 5*time.Minute {
		t.Errorf("due soon tick = %v, want 5m", cfg.Engine.DueSoonTick)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9090
	cfg.Engine.DefaultTimezone = "Asia/Shanghai"
	applyDefaults(&cfg)

	if cfg.Server.Port != 9090 {
		t.Errorf("explicit port overwritten: %d", cfg.Server.Port)
	}
	if cfg.Engine.DefaultTimezone != "Asia/Shanghai" {
		t.Errorf("explicit timezone overwritten: %q", cfg.Engine.DefaultTimezone)
	}
	// unset sections still get defaults
	if cfg.Database.Host != "localhost" {
		t.Errorf("database host = %q, want localhost", cfg.Database.Host)
	}
}

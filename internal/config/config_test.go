package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":8080")
	}
	if cfg.MaxAuthRetries != 3 {
		t.Errorf("MaxAuthRetries = %d, want 3", cfg.MaxAuthRetries)
	}
	if cfg.MaxDispatchRetries != 3 {
		t.Errorf("MaxDispatchRetries = %d, want 3", cfg.MaxDispatchRetries)
	}
	if !cfg.FallbackEnabled {
		t.Error("FallbackEnabled should default to true")
	}
	if cfg.ReconnectMaxAttempts != 5 {
		t.Errorf("ReconnectMaxAttempts = %d, want 5", cfg.ReconnectMaxAttempts)
	}
	if cfg.EventsKafkaTopic != "mowerhub-device-events" {
		t.Errorf("EventsKafkaTopic = %q, want default", cfg.EventsKafkaTopic)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("HTTP_ADDR", ":9090")
	os.Setenv("MAX_AUTH_RETRIES", "5")
	os.Setenv("FALLBACK_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.HTTPAddr, ":9090")
	}
	if cfg.MaxAuthRetries != 5 {
		t.Errorf("MaxAuthRetries = %d, want 5", cfg.MaxAuthRetries)
	}
	if cfg.FallbackEnabled {
		t.Error("FallbackEnabled should be false")
	}
}

func TestLoad_InvalidRetryBudget(t *testing.T) {
	os.Clearenv()
	os.Setenv("MAX_AUTH_RETRIES", "0")

	if _, err := Load(); err == nil {
		t.Fatal("Load should reject MAX_AUTH_RETRIES=0")
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := &Config{
		AuthRetryBaseDelay:     "500ms",
		DispatchRetryBaseDelay: "bogus",
		SessionMaxAge:          "1h",
		ReconnectBaseDelay:     "",
		PollInterval:           "10s",
	}
	if got := cfg.AuthRetryDelay(); got != 500*time.Millisecond {
		t.Errorf("AuthRetryDelay = %v, want 500ms", got)
	}
	if got := cfg.DispatchRetryDelay(); got != time.Second {
		t.Errorf("DispatchRetryDelay fallback = %v, want 1s", got)
	}
	if got := cfg.SessionAge(); got != time.Hour {
		t.Errorf("SessionAge = %v, want 1h", got)
	}
	if got := cfg.ReconnectDelay(); got != time.Second {
		t.Errorf("ReconnectDelay fallback = %v, want 1s", got)
	}
	if got := cfg.PollEvery(); got != 10*time.Second {
		t.Errorf("PollEvery = %v, want 10s", got)
	}
}

func TestEventsKafkaBrokersList(t *testing.T) {
	cfg := &Config{EventsKafkaBrokers: "localhost:9092, broker2:9092 ,"}
	got := cfg.EventsKafkaBrokersList()
	if len(got) != 2 || got[0] != "localhost:9092" || got[1] != "broker2:9092" {
		t.Errorf("EventsKafkaBrokersList = %v", got)
	}

	var nilCfg *Config
	if nilCfg.EventsKafkaBrokersList() != nil {
		t.Error("nil config should return nil broker list")
	}
}

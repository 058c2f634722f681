package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	for _, k := range []string{"PORT", "READ_TIMEOUT", "RELOAD_INTERVAL", "DEST_CACHE_FAST_PATH_MS", "TIME_WINDOW_WRAP_ENABLED", "TRACING_SAMPLE_RATE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg := Load()
	if cfg.Port != "8787" {
		t.Fatalf("got port %q", cfg.Port)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("got read timeout %v", cfg.ReadTimeout)
	}
	if cfg.ReloadInterval != 30*time.Second {
		t.Fatalf("got reload interval %v", cfg.ReloadInterval)
	}
	if cfg.DestCacheFastPathMS != 100 {
		t.Fatalf("got fast path %d", cfg.DestCacheFastPathMS)
	}
	if cfg.TimeWindowWrapEnabled {
		t.Fatalf("expected TimeWindowWrapEnabled to default to false")
	}
	if cfg.TracingSampleRate != 1.0 {
		t.Fatalf("got sample rate %v", cfg.TracingSampleRate)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("DEST_CACHE_FAST_PATH_MS", "250")
	t.Setenv("TIME_WINDOW_WRAP_ENABLED", "true")
	t.Setenv("TRACING_SAMPLE_RATE", "0.25")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("got port %q", cfg.Port)
	}
	if cfg.ReadTimeout != 2*time.Second {
		t.Fatalf("got read timeout %v", cfg.ReadTimeout)
	}
	if cfg.DestCacheFastPathMS != 250 {
		t.Fatalf("got fast path %d", cfg.DestCacheFastPathMS)
	}
	if !cfg.TimeWindowWrapEnabled {
		t.Fatalf("expected TimeWindowWrapEnabled to be true")
	}
	if cfg.TracingSampleRate != 0.25 {
		t.Fatalf("got sample rate %v", cfg.TracingSampleRate)
	}
}

func TestEnvDuration_AcceptsBareSeconds(t *testing.T) {
	t.Setenv("UPSTREAM_TIMEOUT", "7")
	cfg := Load()
	if cfg.UpstreamTimeout != 7*time.Second {
		t.Fatalf("got %v, want 7s from a bare integer seconds value", cfg.UpstreamTimeout)
	}
}

func TestEnvDuration_InvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("UPSTREAM_TIMEOUT", "not-a-duration")
	cfg := Load()
	if cfg.UpstreamTimeout != 5*time.Second {
		t.Fatalf("got %v, want the 5s default on an invalid value", cfg.UpstreamTimeout)
	}
}

func TestEnvBool_InvalidFallsBackToDefault(t *testing.T) {
	t.Setenv("DEBUG_TRACE", "not-a-bool")
	cfg := Load()
	if cfg.DebugTrace {
		t.Fatalf("expected the false default on an invalid bool value")
	}
}

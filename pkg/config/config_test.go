package config

import (
	"testing"
	"time"
)

func TestGetString(t *testing.T) {
	t.Setenv("PULSE_TEST_STR", "hello")
	if got := GetString("PULSE_TEST_STR", "fallback"); got != "hello" {
		t.Errorf("expected hello, got %s", got)
	}
	if got := GetString("PULSE_TEST_STR_MISSING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestGetInt(t *testing.T) {
	t.Setenv("PULSE_TEST_INT", "42")
	if got := GetInt("PULSE_TEST_INT", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("PULSE_TEST_INT", "not a number")
	if got := GetInt("PULSE_TEST_INT", 7); got != 7 {
		t.Errorf("expected fallback 7, got %d", got)
	}
}

func TestGetBool(t *testing.T) {
	t.Setenv("PULSE_TEST_BOOL", "true")
	if !GetBool("PULSE_TEST_BOOL", false) {
		t.Error("expected true")
	}
	t.Setenv("PULSE_TEST_BOOL", "garbage")
	if GetBool("PULSE_TEST_BOOL", false) {
		t.Error("expected fallback false")
	}
}

func TestLoadAPIConfigDefaults(t *testing.T) {
	cfg := LoadAPIConfig()
	if cfg.SnapshotInterval != 2*time.Second {
		t.Errorf("expected 2s snapshot interval, got %v", cfg.SnapshotInterval)
	}
	if cfg.EventBufferCap != 1000 {
		t.Errorf("expected event buffer cap 1000, got %d", cfg.EventBufferCap)
	}
	if cfg.AlertListCap != 20 {
		t.Errorf("expected alert list cap 20, got %d", cfg.AlertListCap)
	}
	if cfg.ActiveWindow != 5*time.Minute {
		t.Errorf("expected 5m active window, got %v", cfg.ActiveWindow)
	}
}

func TestLoadDashboardConfigDefaults(t *testing.T) {
	cfg := LoadDashboardConfig()
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("expected 10s poll interval, got %v", cfg.PollInterval)
	}
	if cfg.ReconnectDelay != 3*time.Second {
		t.Errorf("expected 3s reconnect delay, got %v", cfg.ReconnectDelay)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.MaxReconnectAttempts)
	}
	if !cfg.EnablePolling {
		t.Error("polling should default on")
	}
}

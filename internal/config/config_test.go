package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	if cfg.QueueCriticalThreshold != 50_000 {
		t.Fatalf("expected default QueueCriticalThreshold=50000, got %d", cfg.QueueCriticalThreshold)
	}
	if cfg.RuleChainTimeout != 5*time.Second {
		t.Fatalf("expected default RuleChainTimeout=5s, got %v", cfg.RuleChainTimeout)
	}
	if !cfg.EnableBackpressure {
		t.Fatalf("expected backpressure enabled by default")
	}
}

func TestLoadHonorsEnvOverrides(t *testing.T) {
	os.Setenv("QUEUE_CRITICAL_THRESHOLD", "123")
	os.Setenv("RULE_CHAIN_TIMEOUT", "7s")
	os.Setenv("ENABLE_BACKPRESSURE", "false")
	defer os.Unsetenv("QUEUE_CRITICAL_THRESHOLD")
	defer os.Unsetenv("RULE_CHAIN_TIMEOUT")
	defer os.Unsetenv("ENABLE_BACKPRESSURE")

	cfg := Load()
	if cfg.QueueCriticalThreshold != 123 {
		t.Fatalf("expected override 123, got %d", cfg.QueueCriticalThreshold)
	}
	if cfg.RuleChainTimeout != 7*time.Second {
		t.Fatalf("expected override 7s, got %v", cfg.RuleChainTimeout)
	}
	if cfg.EnableBackpressure {
		t.Fatalf("expected backpressure disabled by override")
	}
}

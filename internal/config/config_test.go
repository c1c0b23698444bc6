package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.OnlineTTL != 60*time.Second {
		t.Errorf("OnlineTTL = %s, want 60s", cfg.OnlineTTL)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Errorf("HeartbeatInterval = %s, want 5s", cfg.HeartbeatInterval)
	}
	if cfg.MatchTTL != 300*time.Second {
		t.Errorf("MatchTTL = %s, want 300s", cfg.MatchTTL)
	}
	if cfg.LockTTL != 10*time.Second {
		t.Errorf("LockTTL = %s, want 10s", cfg.LockTTL)
	}
	if cfg.PriceFemale != 30 || cfg.PriceMale != 5 || cfg.PriceAny != 0 {
		t.Errorf("prices = %d/%d/%d, want 30/5/0", cfg.PriceFemale, cfg.PriceMale, cfg.PriceAny)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ONLINE_TTL", "30")
	t.Setenv("RETRY_BACKOFF", "250ms")
	t.Setenv("PRICE_FEMALE", "50")
	t.Setenv("LISTEN_ADDR", ":9999")

	cfg := Load()

	if cfg.OnlineTTL != 30*time.Second {
		t.Errorf("ONLINE_TTL=30 -> %s, want 30s", cfg.OnlineTTL)
	}
	if cfg.RetryBackoff != 250*time.Millisecond {
		t.Errorf("RETRY_BACKOFF=250ms -> %s, want 250ms", cfg.RetryBackoff)
	}
	if cfg.PriceFemale != 50 {
		t.Errorf("PRICE_FEMALE=50 -> %d", cfg.PriceFemale)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("LISTEN_ADDR=:9999 -> %s", cfg.ListenAddr)
	}
}

func TestLoadIgnoresMalformed(t *testing.T) {
	t.Setenv("MATCH_TTL", "soon")
	t.Setenv("PRICE_MALE", "-3")

	cfg := Load()

	if cfg.MatchTTL != 300*time.Second {
		t.Errorf("malformed MATCH_TTL should keep default, got %s", cfg.MatchTTL)
	}
	if cfg.PriceMale != 5 {
		t.Errorf("negative PRICE_MALE should keep default, got %d", cfg.PriceMale)
	}
}

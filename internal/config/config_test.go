// Copyright 2025 James Ross
package config

import (
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen.HighWatermark != 100 {
		t.Fatalf("expected default high watermark 100, got %d", cfg.Listen.HighWatermark)
	}
	if cfg.Persist.Dir == "" {
		t.Fatalf("expected default persist dir")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Listen.HighWatermark = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for listen.high_watermark < 1")
	}
	cfg = defaultConfig()
	cfg.Persist.Dir = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for empty persist.dir")
	}
	cfg = defaultConfig()
	cfg.Retry.Max = -1
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for retry.max < 0")
	}
	cfg = defaultConfig()
	cfg.Observability.SummaryCron = "not a cron expression"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for invalid observability.summary_cron")
	}
}

func TestValidateAcceptsSummaryCron(t *testing.T) {
	cfg := defaultConfig()
	cfg.Observability.SummaryCron = "0 * * * *"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid summary_cron to pass, got %v", err)
	}
}

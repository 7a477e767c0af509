package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[venue.binance]
enabled = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LoopInterval() != 20*time.Second {
		t.Errorf("expected default 20s loop interval, got %v", cfg.LoopInterval())
	}
	if cfg.StopGrace() != 60*time.Second {
		t.Errorf("expected default 60s stop grace, got %v", cfg.StopGrace())
	}
	if cfg.App.LogLevel != "info" {
		t.Errorf("expected default log level info, got %q", cfg.App.LogLevel)
	}

	params := cfg.DetectorParams()
	if params.MaxCycleLength != 6 || params.MinTradeNotional != 10 || params.WithdrawRefreshEvery != 50 {
		t.Errorf("detector defaults not applied: %+v", params)
	}
	if cfg.FeeTable().For("unlisted") != 0.002 {
		t.Errorf("expected default fee 0.002, got %v", cfg.FeeTable().For("unlisted"))
	}
	if cfg.Storage.RedisChannel != "arbscan:opportunities" {
		t.Errorf("expected default redis channel, got %q", cfg.Storage.RedisChannel)
	}
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[app]
loop_interval_sec = 5
log_level = "debug"

[detector]
path_length = 4
min_trade_notional = 25.0

[detector.simulated_balances.binance]
USDT = 5000.0

[fees]
default = 0.003

[fees.venue]
kraken = 0.0026

[venue.binance]
enabled = true

[venue.kraken]
enabled = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LoopInterval() != 5*time.Second {
		t.Errorf("expected 5s loop interval, got %v", cfg.LoopInterval())
	}
	params := cfg.DetectorParams()
	if params.MaxCycleLength != 4 || params.MinTradeNotional != 25 {
		t.Errorf("detector section not read: %+v", params)
	}
	if params.SimulatedBalances["binance"]["USDT"] != 5000 {
		t.Errorf("simulated balances not read: %+v", params.SimulatedBalances)
	}
	fees := cfg.FeeTable()
	if fees.For("kraken") != 0.0026 || fees.For("binance") != 0.003 {
		t.Errorf("fee table not read: %+v", fees)
	}
}

func TestLoadRejectsNoVenues(t *testing.T) {
	path := writeConfig(t, `
[app]
loop_interval_sec = 5
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error when no venue is enabled")
	}
}

func TestLoadRejectsStreamWithoutURL(t *testing.T) {
	path := writeConfig(t, `
[venue.binance]
enabled = true
stream_enabled = true
ws_url = ""
`)
	if _, err := Load(path); err == nil {
		t.Error("expected error when stream enabled without ws_url")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"arbscan/internal/application/optimizer"
)

type Config struct {
	App struct {
		LoopIntervalSec int    `toml:"loop_interval_sec"`
		StopGraceSec    int    `toml:"stop_grace_sec"`
		LogLevel        string `toml:"log_level"`
	} `toml:"app"`

	Detector struct {
		PathLength                int                           `toml:"path_length"`
		InterVenueTradeSize       float64                       `toml:"inter_venue_trade_size"`
		MinTradeNotional          float64                       `toml:"min_trade_notional"`
		OrderBookDepth            int                           `toml:"order_book_depth"`
		IncludeFiat               bool                          `toml:"include_fiat"`
		AllowInterVenue           bool                          `toml:"allow_inter_venue"`
		ConsiderBalance           bool                          `toml:"consider_balance"`
		ConsiderInterVenueBalance bool                          `toml:"consider_inter_venue_balance"`
		WithdrawRefreshEvery      int                           `toml:"withdraw_refresh_every"`
		VolumeFraction            float64                       `toml:"volume_fraction"`
		SimulatedBalances         map[string]map[string]float64 `toml:"simulated_balances"`
	} `toml:"detector"`

	Fees struct {
		Default float64            `toml:"default"`
		Venue   map[string]float64 `toml:"venue"`
	} `toml:"fees"`

	RefPrice struct {
		BaseURL   string `toml:"base_url"`
		APIKeyEnv string `toml:"api_key_env"`
	} `toml:"refprice"`

	WithdrawFees struct {
		BaseURL string `toml:"base_url"`
	} `toml:"withdrawfees"`

	Venue struct {
		Binance struct {
			Enabled       bool   `toml:"enabled"`
			BaseURL       string `toml:"base_url"`
			WsURL         string `toml:"ws_url"`
			StreamEnabled bool   `toml:"stream_enabled"`
			APIKeyEnv     string `toml:"api_key_env"`
			APISecretEnv  string `toml:"api_secret_env"`
		} `toml:"binance"`

		Kraken struct {
			Enabled      bool   `toml:"enabled"`
			BaseURL      string `toml:"base_url"`
			APIKeyEnv    string `toml:"api_key_env"`
			APISecretEnv string `toml:"api_secret_env"`
		} `toml:"kraken"`
	} `toml:"venue"`

	Storage struct {
		SQLitePath   string `toml:"sqlite_path"`
		PostgresDSN  string `toml:"postgres_dsn"`
		RedisAddr    string `toml:"redis_addr"`
		RedisChannel string `toml:"redis_channel"`
	} `toml:"storage"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.LoopIntervalSec <= 0 {
		cfg.App.LoopIntervalSec = 20
	}
	if cfg.App.StopGraceSec <= 0 {
		cfg.App.StopGraceSec = 60
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}

	if cfg.Detector.PathLength <= 0 {
		cfg.Detector.PathLength = 6
	}
	if cfg.Detector.InterVenueTradeSize <= 0 {
		cfg.Detector.InterVenueTradeSize = 2000
	}
	if cfg.Detector.MinTradeNotional <= 0 {
		cfg.Detector.MinTradeNotional = 10
	}
	if cfg.Detector.OrderBookDepth <= 0 {
		cfg.Detector.OrderBookDepth = 20
	}
	if cfg.Detector.WithdrawRefreshEvery <= 0 {
		cfg.Detector.WithdrawRefreshEvery = 50
	}
	if cfg.Detector.VolumeFraction <= 0 {
		cfg.Detector.VolumeFraction = 0.01
	}

	if cfg.Fees.Default <= 0 {
		cfg.Fees.Default = 0.002
	}

	if cfg.RefPrice.APIKeyEnv == "" {
		cfg.RefPrice.APIKeyEnv = "CMC_API_KEY"
	}
	if cfg.Venue.Binance.APIKeyEnv == "" {
		cfg.Venue.Binance.APIKeyEnv = "BINANCE_API_KEY"
	}
	if cfg.Venue.Binance.APISecretEnv == "" {
		cfg.Venue.Binance.APISecretEnv = "BINANCE_API_SECRET"
	}
	if cfg.Venue.Kraken.APIKeyEnv == "" {
		cfg.Venue.Kraken.APIKeyEnv = "KRAKEN_API_KEY"
	}
	if cfg.Venue.Kraken.APISecretEnv == "" {
		cfg.Venue.Kraken.APISecretEnv = "KRAKEN_API_SECRET"
	}
	if cfg.Storage.RedisChannel == "" {
		cfg.Storage.RedisChannel = "arbscan:opportunities"
	}
}

func validate(cfg *Config) error {
	if !cfg.Venue.Binance.Enabled && !cfg.Venue.Kraken.Enabled {
		return errors.New("no venues enabled")
	}
	if cfg.Venue.Binance.Enabled && cfg.Venue.Binance.StreamEnabled &&
		strings.TrimSpace(cfg.Venue.Binance.WsURL) == "" {
		return errors.New("venue.binance.ws_url empty but stream enabled")
	}
	return nil
}

// LoopInterval returns the detection cadence.
func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.App.LoopIntervalSec) * time.Second
}

// StopGrace returns the graceful-stop wait.
func (c *Config) StopGrace() time.Duration {
	return time.Duration(c.App.StopGraceSec) * time.Second
}

// DetectorParams converts the configured detector section into the
// optimizer's default parameter set.
func (c *Config) DetectorParams() optimizer.Params {
	return optimizer.Params{
		MaxCycleLength:            c.Detector.PathLength,
		SimulatedBalances:         c.Detector.SimulatedBalances,
		InterVenueTradeSize:       c.Detector.InterVenueTradeSize,
		MinTradeNotional:          c.Detector.MinTradeNotional,
		OrderBookDepth:            c.Detector.OrderBookDepth,
		IncludeFiat:               c.Detector.IncludeFiat,
		AllowInterVenue:           c.Detector.AllowInterVenue,
		ConsiderBalance:           c.Detector.ConsiderBalance,
		ConsiderInterVenueBalance: c.Detector.ConsiderInterVenueBalance,
		WithdrawRefreshEvery:      c.Detector.WithdrawRefreshEvery,
		VolumeFraction:            c.Detector.VolumeFraction,
	}
}

// FeeTable converts the configured fee section.
func (c *Config) FeeTable() optimizer.FeeTable {
	return optimizer.FeeTable{Default: cfgFeeDefault(c), Venue: c.Fees.Venue}
}

func cfgFeeDefault(c *Config) float64 {
	if c.Fees.Default > 0 {
		return c.Fees.Default
	}
	return 0.002
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"arbscan/internal/application/port"
	"arbscan/internal/application/sizing"
	"arbscan/internal/application/supervisor"
	"arbscan/internal/infrastructure/config"
	"arbscan/internal/infrastructure/logger"
	"arbscan/internal/infrastructure/refprice"
	"arbscan/internal/infrastructure/solver"
	"arbscan/internal/infrastructure/storage/composite"
	"arbscan/internal/infrastructure/storage/postgres"
	"arbscan/internal/infrastructure/storage/redisbus"
	"arbscan/internal/infrastructure/storage/sqlite"
	"arbscan/internal/infrastructure/venue/binance"
	"arbscan/internal/infrastructure/venue/kraken"
	"arbscan/internal/infrastructure/withdrawfees"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "configs/config.toml", "path to config.toml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("load config failed")
	}
	logger.Setup(cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fees := withdrawfees.New(cfg.WithdrawFees.BaseURL, cfg.Detector.InterVenueTradeSize)

	venues := buildVenues(ctx, cfg, fees)
	if len(venues) == 0 {
		log.Fatal().Msg("no venues enabled")
	}

	history, publisher := buildStorage(cfg)
	defer func() {
		if history != nil {
			_ = history.Close()
		}
		if publisher != nil {
			_ = publisher.Close()
		}
	}()

	params := cfg.DetectorParams()
	sup := supervisor.New(supervisor.Deps{
		Venues:       venues,
		Prices:       refprice.New(cfg.RefPrice.BaseURL, os.Getenv(cfg.RefPrice.APIKeyEnv)),
		Fees:         cfg.FeeTable(),
		Solver:       solver.Factory,
		History:      history,
		Publisher:    publisher,
		Sizer:        sizing.New(venues, params.OrderBookDepth, params.MinTradeNotional, params.InterVenueTradeSize),
		Defaults:     params,
		LoopInterval: cfg.LoopInterval(),
		StopGrace:    cfg.StopGrace(),
	})

	if _, err := sup.Start(nil); err != nil {
		log.Fatal().Err(err).Msg("start detection failed")
	}
	log.Info().
		Str("config", *configPath).
		Int("venues", len(venues)).
		Int("path_length", params.MaxCycleLength).
		Msg("arbscan started")

	<-ctx.Done()
	st := sup.Stop()
	log.Info().Str("state", string(st.State)).Msg("arbscan stopped")
}

func buildVenues(ctx context.Context, cfg *config.Config, fees *withdrawfees.Client) map[string]port.VenueClient {
	venues := make(map[string]port.VenueClient)

	if cfg.Venue.Binance.Enabled {
		creds := binance.NewCredentials(
			os.Getenv(cfg.Venue.Binance.APIKeyEnv),
			os.Getenv(cfg.Venue.Binance.APISecretEnv),
		)
		client := binance.New(cfg.Venue.Binance.BaseURL, creds, fees.Fees)
		if cfg.Venue.Binance.StreamEnabled {
			stream := binance.NewTickerStream(cfg.Venue.Binance.WsURL)
			client.AttachStream(stream)
			go func() {
				if err := stream.Run(ctx, streamSymbols(ctx, client)); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Msg("binance ticker stream exited")
				}
			}()
		}
		venues[client.Name()] = client
	} else {
		log.Warn().Msg("binance disabled by config")
	}

	if cfg.Venue.Kraken.Enabled {
		creds := kraken.NewCredentials(
			os.Getenv(cfg.Venue.Kraken.APIKeyEnv),
			os.Getenv(cfg.Venue.Kraken.APISecretEnv),
		)
		client := kraken.New(cfg.Venue.Kraken.BaseURL, creds, fees.Fees)
		venues[client.Name()] = client
	} else {
		log.Warn().Msg("kraken disabled by config")
	}

	return venues
}

// streamSymbols picks the venue's tradable symbols for the websocket stream.
// A failed listing just disables the stream overlay; REST polling still works.
func streamSymbols(ctx context.Context, client *binance.Client) []string {
	pairs, err := client.ListPairs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("stream symbol listing failed, stream disabled")
		return nil
	}
	symbols := make([]string, 0, len(pairs))
	for _, p := range pairs {
		symbols = append(symbols, p.Base+p.Quote)
	}
	return symbols
}

func buildStorage(cfg *config.Config) (port.HistoryRepository, port.StatusPublisher) {
	var repos []port.HistoryRepository

	if cfg.Storage.SQLitePath != "" {
		repo, err := sqlite.New(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Storage.SQLitePath).Msg("open sqlite failed")
		}
		repos = append(repos, repo)
	}
	if cfg.Storage.PostgresDSN != "" {
		repo, err := postgres.New(cfg.Storage.PostgresDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("open postgres failed")
		}
		repos = append(repos, repo)
	}

	var history port.HistoryRepository
	switch len(repos) {
	case 0:
		history = nil // supervisor falls back to a no-op repository
		log.Warn().Msg("no history store configured, opportunities will not be persisted")
	case 1:
		history = repos[0]
	default:
		history = composite.New(repos...)
	}

	var publisher port.StatusPublisher
	if cfg.Storage.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		publisher = redisbus.New(rdb, cfg.Storage.RedisChannel)
	}
	return history, publisher
}

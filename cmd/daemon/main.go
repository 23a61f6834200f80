// SPDX-License-Identifier: MIT

// The tubescribe daemon accepts bulk YouTube transcription jobs and runs
// them through the caption ladder and the AI fallback pipeline.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/tubescribe/tubescribe/internal/admin"
	"github.com/tubescribe/tubescribe/internal/audiofetch"
	"github.com/tubescribe/tubescribe/internal/captions"
	"github.com/tubescribe/tubescribe/internal/config"
	"github.com/tubescribe/tubescribe/internal/ffmpegx"
	"github.com/tubescribe/tubescribe/internal/httpx"
	"github.com/tubescribe/tubescribe/internal/log"
	"github.com/tubescribe/tubescribe/internal/orchestrator"
	"github.com/tubescribe/tubescribe/internal/providers"
	"github.com/tubescribe/tubescribe/internal/quota"
	"github.com/tubescribe/tubescribe/internal/rategate"
	"github.com/tubescribe/tubescribe/internal/store"
	"github.com/tubescribe/tubescribe/internal/transcribe"
	"github.com/tubescribe/tubescribe/internal/version"
	"github.com/tubescribe/tubescribe/internal/webhook"
)

func main() {
	configPath := flag.String("config", "", "path to config YAML")
	flag.Parse()

	// Local development reads credentials from .env; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Configure(log.Config{})
		log.L().Fatal().Err(err).Msg("configuration invalid")
	}
	log.Configure(log.Config{Level: cfg.LogLevel})
	log.L().Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Msg("starting tubescribe")

	if err := run(cfg); err != nil {
		log.L().Fatal().Err(err).Msg("daemon failed")
	}
}

func run(cfg config.Config) error {
	logger := log.WithComponent("daemon")

	if err := os.MkdirAll(cfg.Storage.ArtifactDir, 0o755); err != nil {
		return fmt.Errorf("artifact dir: %w", err)
	}

	st, err := store.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ledger, cleanup, err := buildLedger(cfg, st)
	if err != nil {
		return err
	}
	defer cleanup()

	caller := httpx.New(httpx.Options{})
	defer caller.Close()

	pre := ffmpegx.New(ffmpegx.Options{
		TempDir:    cfg.TempDir,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
	})

	captionFetcher := captions.NewFetcher(caller, cfg.Proxy.URL())

	fetcher := audiofetch.New(audiofetch.Options{
		YtdlpPath:       cfg.Download.YtdlpPath,
		FallbackPath:    cfg.Download.FallbackPath,
		TempDir:         cfg.TempDir,
		BrowserProfile:  cfg.Download.BrowserProfile,
		CookieFile:      cfg.Download.CookieFile,
		Extractor:       pre,
		StrategyTimeout: cfg.Download.StrategyTimeout(),
	})
	defer fetcher.Close()

	gates := rategate.NewRegistry()
	engine, err := transcribe.New(transcribe.Options{
		Preprocessor: pre,
		Gates:        gates,
		APIKeys: map[providers.Provider]string{
			providers.Groq:   cfg.ProviderAPIKeys["groq"],
			providers.OpenAI: cfg.ProviderAPIKeys["openai"],
		},
		OverlapSeconds:  cfg.Audio.ChunkOverlapSeconds,
		MaxChunkSizeMB:  cfg.Audio.MaxFileSizeMB,
		SpeedMultiplier: cfg.Audio.SpeedMultiplier,
		MaxWorkers:      cfg.Concurrency.MaxConcurrentTranscriptions,
	})
	if err != nil {
		return err
	}

	orch := orchestrator.New(orchestrator.Services{
		Store:    st,
		Ledger:   ledger,
		Captions: captionFetcher,
		Audio:    fetcher,
		Engine:   engine,
		Notifier: webhook.New(),
	}, orchestrator.Options{
		Tiers:              cfg.Tiers,
		Guest:              config.DefaultGuestLimits(),
		ArtifactDir:        cfg.Storage.ArtifactDir,
		FallbackCapSeconds: cfg.FallbackCap().Seconds(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)

	adminSrv := admin.New(cfg.Admin.Listen, st.DB())
	errCh := make(chan error, 1)
	go func() { errCh <- adminSrv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin listener: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("admin shutdown incomplete")
	}
	orch.Wait()
	logger.Info().Msg("daemon stopped")
	return nil
}

// buildLedger selects the quota backend: Redis when configured, otherwise
// the service database.
func buildLedger(cfg config.Config, st *store.Store) (quota.Ledger, func(), error) {
	if cfg.Storage.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		if err := client.Ping(context.Background()).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("redis unreachable: %w", err)
		}
		log.WithComponent("daemon").Info().Str("addr", cfg.Storage.RedisAddr).Msg("quota ledger on redis")
		return quota.NewRedisLedger(client), func() { _ = client.Close() }, nil
	}
	ledger, err := quota.NewSQLiteLedger(st.DB())
	if err != nil {
		return nil, nil, err
	}
	return ledger, func() {}, nil
}

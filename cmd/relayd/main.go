// Command relayd runs the realtime relay proxy.
//
// Startup: load .env, build config from the environment, validate (a
// missing upstream credential is fatal), then serve /ws, /health and
// /stats. On SIGINT/SIGTERM every live session is force-closed and a
// watchdog timer guarantees the process exits even if an endpoint close
// hangs.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kagami/realtime-relay/internal/config"
	"github.com/kagami/realtime-relay/internal/relay"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.LogLevel)

	log.Info().
		Int("port", cfg.Port).
		Int("max_sessions", cfg.MaxSessions).
		Float64("cost_cap_cents", cfg.CostCapCents).
		Float64("rate_tokens_per_sec", cfg.RateTokensPerSec).
		Float64("rate_bucket_max", cfg.RateBucketMax).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Str("model", cfg.Model).
		Str("api_key", config.MaskKey(cfg.APIKey)).
		Msg("relay starting")

	r := relay.New(cfg)
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     r.Routes(),
		ReadTimeout: config.DefaultServerReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")

		// Watchdog: force exit if a stuck endpoint close hangs teardown.
		watchdog := time.AfterFunc(config.ShutdownGrace, func() {
			log.Error().Msg("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		})

		ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGrace)
		_ = srv.Shutdown(ctx)
		cancel()
		r.Registry().Shutdown()
		watchdog.Stop()

		log.Info().Msg("relay stopped")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zord/internal/config"
	"zord/internal/coordinator"
	"zord/internal/engine"
	"zord/internal/httpapi"
	"zord/internal/prompt"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the model and serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// serve runs the daemon until ctx is canceled. Canceling ctx also cancels
// in-flight generations; their usage is still recorded.
func serve(ctx context.Context, cfg config.Config) error {
	log, err := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.HTTP.MaxBodyBytes)
	httpapi.SetCORSOptions(!cfg.HTTP.CORSDisabled, cfg.HTTP.CORSOrigins, nil, nil)
	httpapi.SetRequestLogLevel(cfg.HTTP.RequestLog)

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	pub := engine.NewLogPublisher(log)
	eng := newEngine(cfg, log, pub)
	formatter, err := prompt.NewFormatter(cfg.Model.Template, cfg.Model.System)
	if err != nil {
		return err
	}
	coord, err := coordinator.New(coordinator.Options{
		Store:     store,
		Generator: eng,
		Formatter: formatter,
		ModelName: eng.ModelName(),
		Timeout:   cfg.RequestTimeout(),
		Defaults: coordinator.Defaults{
			Temperature:    cfg.Generation.Temperature,
			MaxTokens:      cfg.Generation.MaxTokens,
			MaxTokensLimit: cfg.Generation.MaxTokensLimit,
		},
		DemoFallback: cfg.Generation.DemoFallback,
		Logger:       &log,
		Publisher:    pub,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewMux(httpapi.NewService(coord, eng)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The API answers /health and /readyz while the model loads.
	go func() {
		if err := eng.Load(ctx); err != nil {
			log.Warn().Err(err).Bool("demo_fallback", cfg.Generation.DemoFallback).Msg("serving without a loaded model")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("backend", cfg.Backend).
			Str("model", eng.ModelName()).
			Str("quota", cfg.Quota.Backend).
			Int64("daily_messages", cfg.Quota.DailyMessages).
			Int64("daily_tokens", cfg.Quota.DailyTokens).
			Msg("zordd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	if err := eng.Close(shCtx); err != nil {
		log.Warn().Err(err).Msg("engine close error")
	}
	log.Info().Msg("zordd stopped")
	return nil
}

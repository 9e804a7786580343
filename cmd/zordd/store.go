package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"zord/internal/config"
	"zord/internal/quota"
	pgstore "zord/internal/quota/postgres"
	redisstore "zord/internal/quota/redis"
)

const (
	connectTimeout   = 5 * time.Second
	snapshotInterval = time.Minute
	purgeInterval    = time.Hour
)

func limitsFrom(cfg config.Config) quota.Limits {
	return quota.Limits{
		DailyMessages: cfg.Quota.DailyMessages,
		DailyTokens:   cfg.Quota.DailyTokens,
		Window:        cfg.Window(),
	}.Normalize()
}

// openStore builds the configured usage store. The returned close func stops
// background work and releases connections.
func openStore(ctx context.Context, cfg config.Config, log zerolog.Logger) (quota.Store, func(), error) {
	limits := limitsFrom(cfg)
	switch cfg.Quota.Backend {
	case config.QuotaMemory, "":
		return openMemoryStore(ctx, cfg.Quota.StateFile, limits, log)
	case config.QuotaRedis:
		return openRedisStore(ctx, cfg.Quota, limits, log)
	case config.QuotaPostgres:
		return openPostgresStore(ctx, cfg.Quota, limits, log)
	default:
		return nil, nil, fmt.Errorf("unknown quota backend %q", cfg.Quota.Backend)
	}
}

func openMemoryStore(ctx context.Context, stateFile string, limits quota.Limits, log zerolog.Logger) (quota.Store, func(), error) {
	s := quota.NewMemoryStore(limits, quota.WithEviction())
	if stateFile == "" {
		return s, s.Close, nil
	}
	n, err := s.LoadFile(stateFile)
	if err != nil {
		s.Close()
		return nil, nil, err
	}
	log.Info().Int("clients", n).Str("file", stateFile).Msg("usage state restored")

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(snapshotInterval)
		defer t.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-t.C:
				if err := s.SaveFile(stateFile); err != nil {
					log.Warn().Err(err).Msg("usage snapshot failed")
				}
			}
		}
	}()
	closeFn := func() {
		cancel()
		<-done
		if err := s.SaveFile(stateFile); err != nil {
			log.Error().Err(err).Msg("final usage snapshot failed")
		}
		s.Close()
	}
	return s, closeFn, nil
}

func openRedisStore(ctx context.Context, q config.QuotaConfig, limits quota.Limits, log zerolog.Logger) (quota.Store, func(), error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", q.RedisAddr, err)
	}
	log.Info().Str("addr", q.RedisAddr).Msg("usage store: redis")
	s := redisstore.New(client, limits, redisstore.WithKeyPrefix(q.KeyPrefix))
	return s, func() { _ = client.Close() }, nil
}

func openPostgresStore(ctx context.Context, q config.QuotaConfig, limits quota.Limits, log zerolog.Logger) (quota.Store, func(), error) {
	pool, err := pgxpool.New(ctx, q.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres ping: %w", err)
	}
	s := pgstore.New(pool, limits)
	if err := s.EnsureSchema(pingCtx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info().Msg("usage store: postgres")

	loopCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(purgeInterval)
		defer t.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-t.C:
				n, err := s.PurgeExpired(loopCtx, limits.Window)
				if err != nil {
					log.Warn().Err(err).Msg("usage purge failed")
					continue
				}
				if n > 0 {
					log.Debug().Int64("rows", n).Msg("expired usage windows purged")
				}
			}
		}
	}()
	return s, func() { stop(); <-done; pool.Close() }, nil
}

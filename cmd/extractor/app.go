package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"event-extractor/internal/api"
	"event-extractor/internal/archive"
	"event-extractor/internal/config"
	"event-extractor/internal/extract"
	"event-extractor/internal/lease"
	"event-extractor/internal/ratelimit"
	"event-extractor/internal/source"
	"event-extractor/internal/store"
)

// app holds the wired extraction stack shared by the commands.
type app struct {
	store   *store.Store
	redis   *redis.Client
	source  *source.Client
	orch    *extract.Orchestrator
	limiter api.Limiter
	leases  api.Leases
}

func newSourceClient(cfg config.Config, log zerolog.Logger) *source.Client {
	policy := source.DefaultRetryPolicy()
	policy.BaseDelay = cfg.RetryBaseDelay
	policy.Multiplier = cfg.RetryMultiplier
	policy.MaxDelay = cfg.RetryMaxDelay
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = cfg.WorkerPoolSize
	return source.NewClient(&http.Client{Transport: transport}, policy, log)
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	if cfg.RunMigrations {
		if err := store.Migrate(cfg.PostgresDSN); err != nil {
			return nil, err
		}
	}
	return store.New(ctx, cfg.PostgresDSN)
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{store: st}

	var locker extract.TenantLocker
	switch cfg.LockBackend {
	case "local":
		local := lease.NewLocalLocker()
		locker, a.leases = local, local
	case "redis", "":
		a.redis = lease.NewRedisClient(cfg)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		rl := lease.NewRedisLocker(a.redis, cfg.TenantLeaseTTL, log)
		locker, a.leases = rl, rl
		a.limiter = ratelimit.NewTokenBucket(a.redis, cfg.TriggerRateCapacity, cfg.TriggerRateRefill, time.Hour)
	default:
		a.close()
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}

	arch, err := archive.New(ctx, cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	a.source = newSourceClient(cfg, log)
	ext := extract.NewTenantExtractor(a.source, st, st, arch, extract.Options{
		PageSize:  cfg.PageSize,
		MaxPages:  cfg.MaxPages,
		PageDelay: cfg.PageDelay,
	}, log)
	a.orch = extract.NewOrchestrator(st, ext, locker, cfg.WorkerPoolSize, log)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	a.store.Close()
}

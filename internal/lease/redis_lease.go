package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"event-extractor/internal/config"
	"event-extractor/internal/telemetry"
)

// ErrLost is the cancellation cause of a held context whose lease expired
// or was taken over before release.
var ErrLost = errors.New("tenant lease lost")

// RedisLocker holds one lease key per tenant with a visibility TTL that is
// extended while the holder is alive. A crashed holder's lease expires on
// its own, so the tenant becomes runnable again.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisClient builds the client shared by the locker and the rate limiter.
func NewRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewRedisLocker builds a locker. ttl defaults to 30 minutes.
func NewRedisLocker(client *redis.Client, ttl time.Duration, log zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisLocker{
		client: client,
		prefix: "extract:lease:",
		ttl:    ttl,
		log:    log.With().Str("component", "lease").Logger(),
	}
}

func (l *RedisLocker) key(tenantID string) string {
	return l.prefix + tenantID
}

// TryLock claims the tenant if nobody else holds it. The returned context
// is cancelled with ErrLost as soon as the lease can no longer be extended.
func (l *RedisLocker) TryLock(ctx context.Context, tenantID string) (context.Context, func(), bool, error) {
	token := uuid.NewString()
	key := l.key(tenantID)
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, nil, false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, nil, false, nil
	}

	held, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if !l.keepAlive(key, token, stop) {
			telemetry.LeasesLost.Inc()
			cancel(fmt.Errorf("%w: %s", ErrLost, tenantID))
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			cancel(nil)
			rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer rcancel()
			if err := releaseScript.Run(rctx, l.client, []string{key}, token).Err(); err != nil && err != redis.Nil {
				l.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("release lease")
			}
		})
	}
	return held, release, true, nil
}

// keepAlive pushes the expiry forward every half TTL until stop closes.
// It returns false once the key no longer carries token.
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}) bool {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return true
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			n, err := extendScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.log.Warn().Err(err).Str("key", key).Msg("extend lease")
				continue
			}
			if n == 0 {
				l.log.Warn().Str("key", key).Msg("lease lost before release, cancelling run")
				return false
			}
		}
	}
}

// Held lists tenant IDs that currently hold a lease.
func (l *RedisLocker) Held(ctx context.Context) ([]string, error) {
	var out []string
	iter := l.client.Scan(ctx, 0, l.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(l.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan leases: %w", err)
	}
	return out, nil
}

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

var extendScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`)

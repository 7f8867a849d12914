// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creachadair/esl/internal/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultPrefix is the key prefix used by a Redis balancer when none is given.
const DefaultPrefix = "esl:lb:"

// acquireScript picks the key with the lowest count, preferring the earliest,
// increments it, and returns its 1-based index.
var acquireScript = redis.NewScript(`
local best, low = 0, nil
for i, key in ipairs(KEYS) do
  local n = tonumber(redis.call('GET', key) or '0')
  if low == nil or n < low then
    best, low = i, n
  end
end
if best > 0 then
  redis.call('INCR', KEYS[best])
end
return best
`)

// releaseScript decrements a count, removing the key when it reaches zero.
var releaseScript = redis.NewScript(`
local n = redis.call('DECR', KEYS[1])
if n <= 0 then
  redis.call('DEL', KEYS[1])
  return 0
end
return n
`)

// RedisOptions control a Redis balancer. A nil *RedisOptions is ready for
// use and provides default values.
type RedisOptions struct {
	// Prefix is prepended to each destination to form its key.
	// If empty, DefaultPrefix is used.
	Prefix string

	// Logger, if non-nil, receives diagnostic logs.
	Logger *zerolog.Logger
}

// Redis is a Balancer whose counts are stored in Redis, so that they can be
// shared by several processes. Each operation is a single atomic command or
// script.
type Redis struct {
	client redis.UniversalClient
	prefix string
	log    zerolog.Logger
}

// NewRedis constructs a balancer that stores its counts using client.
func NewRedis(client redis.UniversalClient, opts *RedisOptions) *Redis {
	r := &Redis{client: client, prefix: DefaultPrefix}
	var base *zerolog.Logger
	if opts != nil {
		if opts.Prefix != "" {
			r.prefix = opts.Prefix
		}
		base = opts.Logger
	}
	r.log = logging.Component(base, "balance")
	return r
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string // host:port
	Password string // optional
	DB       int
}

// DialRedis connects to the Redis server described by cfg, verifies that it
// is reachable, and returns a balancer using it. The caller is responsible
// for closing the balancer.
func DialRedis(ctx context.Context, cfg RedisConfig, opts *RedisOptions) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	r := NewRedis(client, opts)
	r.log.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to redis")
	return r, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) key(dest string) string { return r.prefix + dest }

// Increment implements a method of the [Balancer] interface.
func (r *Redis) Increment(ctx context.Context, dest string) error {
	return r.client.Incr(ctx, r.key(dest)).Err()
}

// Decrement implements a method of the [Balancer] interface.
func (r *Redis) Decrement(ctx context.Context, dest string) error {
	return releaseScript.Run(ctx, r.client, []string{r.key(dest)}).Err()
}

// Count implements a method of the [Balancer] interface.
func (r *Redis) Count(ctx context.Context, dest string) (int64, error) {
	n, err := r.client.Get(ctx, r.key(dest)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		r.log.Warn().Err(err).Str(logging.FieldDest, dest).Msg("redis get failed")
		return 0, err
	}
	return max(n, 0), nil
}

// Acquire implements a method of the [Balancer] interface.
func (r *Redis) Acquire(ctx context.Context, dests []string) (string, error) {
	if len(dests) == 0 {
		return "", ErrNoDestinations
	}
	keys := make([]string, len(dests))
	for i, d := range dests {
		keys[i] = r.key(d)
	}
	i, err := acquireScript.Run(ctx, r.client, keys).Int()
	if err != nil {
		return "", err
	} else if i < 1 || i > len(dests) {
		return "", fmt.Errorf("acquire: invalid index %d", i)
	}
	return dests[i-1], nil
}

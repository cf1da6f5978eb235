package guard

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix      = "rebates:inflight:"
	releaseTimeout = 2 * time.Second
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Redis is a guard shared by every replica. Keys expire after ttl so a crashed
// request cannot block a stage forever.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewRedis creates a guard on rdb.
func NewRedis(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *Redis {
	return &Redis{rdb: rdb, ttl: ttl, log: log}
}

// NewRedisClient builds a go-redis client from the configured URL.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if cfg.GetRedisTLSInsecure() {
			clone.InsecureSkipVerify = true
		}
		opt.TLSConfig = clone
	} else if cfg.GetRedisTLSInsecure() {
		opt.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return redis.NewClient(opt), nil
}

// Acquire takes key with SET NX. Release deletes it only while the token still matches.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ok, err := r.rdb.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire guard: %w", err)
	}
	if !ok {
		return nil, ErrInFlight
	}

	return func() {
		// The request context may already be cancelled.
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		if err := releaseScript.Run(releaseCtx, r.rdb, []string{redisKey}, token).Err(); err != nil {
			r.log.Warn("guard release failed", "key", redisKey, "error", err)
		}
	}, nil
}

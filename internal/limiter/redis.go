package limiter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is the shared backend for multi-instance deployments. The rate
// windows are sorted sets scored by unix time, pruned with ZREMRANGEBYSCORE;
// nonces are SET NX with the freshness window as expiry.
type redisStore struct {
	cfg    Config
	client *redis.Client
	now    func() time.Time
}

// NewRedis creates the Redis-backed Store. The connection is verified with a
// ping so a dead Redis is rejected at startup instead of on the first request.
func NewRedis(ctx context.Context, cfg Config, opts *redis.Options) (Store, error) {
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{cfg: cfg, client: client, now: time.Now}, nil
}

func (s *redisStore) Allow(ctx context.Context, userKey, ipKey string) (string, error) {
	now := s.now().Unix()
	cutoff := strconv.FormatInt(now-int64(s.cfg.Window/time.Second), 10)

	uKey := "rate_limit:user:" + userKey
	iKey := "rate_limit:ip:" + ipKey

	pipe := s.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, uKey, "0", cutoff)
	pipe.ZRemRangeByScore(ctx, iKey, "0", cutoff)
	userCount := pipe.ZCard(ctx, uKey)
	ipCount := pipe.ZCard(ctx, iKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("rate window prune: %w", err)
	}

	if userCount.Val() >= int64(s.cfg.MaxRequests) {
		return LimitedUser, nil
	}
	if ipCount.Val() >= int64(s.cfg.MaxRequests) {
		return LimitedIP, nil
	}

	member := redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10)}
	pipe = s.client.Pipeline()
	pipe.ZAdd(ctx, uKey, member)
	pipe.ZAdd(ctx, iKey, member)
	pipe.Expire(ctx, uKey, s.cfg.Window)
	pipe.Expire(ctx, iKey, s.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("rate window record: %w", err)
	}
	return "", nil
}

func (s *redisStore) ConsumeNonce(ctx context.Context, nonce string) (bool, error) {
	ok, err := s.client.SetNX(ctx, "nonce:"+nonce, 1, s.cfg.NonceWindow).Result()
	if err != nil {
		return false, fmt.Errorf("nonce setnx: %w", err)
	}
	return ok, nil
}

// Package countdown holds the live per-session seconds-remaining counters.
//
// Every value here is disposable: a missing key is a valid state and callers
// rebuild it from the durable session record.
package countdown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redisclient "github.com/openclaw/consult-session-go/internal/redis"
)

// PausedSnapshotTTL bounds how long a paused snapshot outlives an abandoned session.
const PausedSnapshotTTL = 7 * 24 * time.Hour

// Cache is the countdown store used by the timer worker, pause/resume,
// extensions and crash recovery.
type Cache interface {
	Get(ctx context.Context, sessionID string) (seconds int64, ok bool, err error)
	Set(ctx context.Context, sessionID string, seconds int64) error
	SeedIfAbsent(ctx context.Context, sessionID string, seconds int64) (bool, error)
	Decrement(ctx context.Context, sessionID string) (seconds int64, ok bool, err error)
	IncrementIfPresent(ctx context.Context, sessionID string, delta int64) (seconds int64, ok bool, err error)
	SnapshotForPause(ctx context.Context, sessionID string) (seconds int64, ok bool, err error)
	SavePaused(ctx context.Context, sessionID string, seconds int64) error
	GetPaused(ctx context.Context, sessionID string) (seconds int64, ok bool, err error)
	Restore(ctx context.Context, sessionID string, seconds int64) error
	Clear(ctx context.Context, sessionID string) error
	AcquireTickLease(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error)
}

// Decrement and increment only touch keys that exist so a concurrent delete
// by pause or completion is never resurrected as a negative counter.
var decrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return redis.call('DECR', KEYS[1])
end
return false
`)

var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
    return redis.call('INCRBY', KEYS[1], ARGV[1])
end
return false
`)

var snapshotScript = redis.NewScript(`
local value = redis.call('GET', KEYS[1])
if not value then
    return false
end
redis.call('SET', KEYS[2], value, 'EX', ARGV[1])
redis.call('DEL', KEYS[1])
return tonumber(value)
`)

type RedisCache struct {
	client *redis.Client
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, sessionID string) (int64, bool, error) {
	return c.getInt(ctx, redisclient.CountdownKey(sessionID))
}

func (c *RedisCache) Set(ctx context.Context, sessionID string, seconds int64) error {
	return c.client.Set(ctx, redisclient.CountdownKey(sessionID), seconds, 0).Err()
}

func (c *RedisCache) SeedIfAbsent(ctx context.Context, sessionID string, seconds int64) (bool, error) {
	return c.client.SetNX(ctx, redisclient.CountdownKey(sessionID), seconds, 0).Result()
}

func (c *RedisCache) Decrement(ctx context.Context, sessionID string) (int64, bool, error) {
	res, err := decrementScript.Run(ctx, c.client, []string{redisclient.CountdownKey(sessionID)}).Int64()
	return scriptResult(res, err)
}

func (c *RedisCache) IncrementIfPresent(ctx context.Context, sessionID string, delta int64) (int64, bool, error) {
	res, err := incrementScript.Run(ctx, c.client, []string{redisclient.CountdownKey(sessionID)}, delta).Int64()
	return scriptResult(res, err)
}

// SnapshotForPause atomically moves the live counter into the paused slot.
func (c *RedisCache) SnapshotForPause(ctx context.Context, sessionID string) (int64, bool, error) {
	keys := []string{redisclient.CountdownKey(sessionID), redisclient.PausedKey(sessionID)}
	res, err := snapshotScript.Run(ctx, c.client, keys, int64(PausedSnapshotTTL.Seconds())).Int64()
	return scriptResult(res, err)
}

func (c *RedisCache) SavePaused(ctx context.Context, sessionID string, seconds int64) error {
	return c.client.Set(ctx, redisclient.PausedKey(sessionID), seconds, PausedSnapshotTTL).Err()
}

func (c *RedisCache) GetPaused(ctx context.Context, sessionID string) (int64, bool, error) {
	return c.getInt(ctx, redisclient.PausedKey(sessionID))
}

// Restore reseeds the live counter and drops the paused snapshot in one MULTI.
func (c *RedisCache) Restore(ctx context.Context, sessionID string, seconds int64) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisclient.CountdownKey(sessionID), seconds, 0)
		pipe.Del(ctx, redisclient.PausedKey(sessionID))
		return nil
	})
	return err
}

// Clear removes both the live counter and the paused snapshot.
func (c *RedisCache) Clear(ctx context.Context, sessionID string) error {
	return c.client.Del(ctx, redisclient.CountdownKey(sessionID), redisclient.PausedKey(sessionID)).Err()
}

func (c *RedisCache) AcquireTickLease(ctx context.Context, sessionID, holder string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, redisclient.TickLeaseKey(sessionID), holder, ttl).Result()
}

func (c *RedisCache) getInt(ctx context.Context, key string) (int64, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, true, nil
}

func scriptResult(res int64, err error) (int64, bool, error) {
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return res, true, nil
}

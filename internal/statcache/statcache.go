// Package statcache caches per-student attendance stats in Redis.
package statcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ledger/internal/attendance"
)

const (
	keyPrefix = "ledger:stats:"
	genPrefix = "ledger:stats-gen:"
)

// Key is the Redis key holding a student's stats.
func Key(studentID string) string { return keyPrefix + studentID }

// GenKey is the counter bumped each time a student's stats are invalidated.
func GenKey(studentID string) string { return genPrefix + studentID }

var errStale = errors.New("stats generation moved")

// Redis stores Stats as JSON strings with a TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a cache. A ttl of zero keeps entries until invalidated.
func New(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func (c *Redis) Get(ctx context.Context, studentID string) (attendance.Stats, bool, error) {
	raw, err := c.client.Get(ctx, Key(studentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return attendance.Stats{}, false, nil
	}
	if err != nil {
		return attendance.Stats{}, false, err
	}
	var stats attendance.Stats
	if err := json.Unmarshal(raw, &stats); err != nil {
		// treat a corrupt entry as a miss; the next Put overwrites it
		return attendance.Stats{}, false, nil
	}
	return stats, true, nil
}

func (c *Redis) Generation(ctx context.Context, studentID string) (int64, error) {
	gen, err := c.client.Get(ctx, GenKey(studentID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Put stores stats unless the student was invalidated after gen was read.
// A lost race is not an error; the entry is simply not written.
func (c *Redis) Put(ctx context.Context, stats attendance.Stats, gen int64) error {
	raw, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	genKey := GenKey(stats.StudentID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, Key(stats.StudentID), raw, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func (c *Redis) Invalidate(ctx context.Context, studentIDs ...string) error {
	if len(studentIDs) == 0 {
		return nil
	}
	keys := make([]string, len(studentIDs))
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range studentIDs {
			keys[i] = Key(id)
			pipe.Incr(ctx, GenKey(id))
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

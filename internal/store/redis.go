package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps the one client the ledger opens per process. The API and the
// worker share it between the session.recorded queue (queue.RedisQueue),
// the per-student stats cache (statcache.Redis) and the /healthz check.
type Redis struct {
	Client *redis.Client
}

// NewRedis creates the client without dialing. Timeouts are short so a
// missing redis degrades the stats cache instead of stalling requests.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy pings redis. The API decides at startup whether to enable the
// stats cache with it.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close releases the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

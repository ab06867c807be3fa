package attendance

import (
	"context"
	"time"

	"ledger/internal/docstore"
)

// Observer receives ledger events that are not errors of the operation
// itself. Implementations must be safe for concurrent use.
type Observer interface {
	SessionRecorded(s Session, queued bool)
	DuplicateRejected(key string)
	RecordSkipped(err error)
	DirectoryDefaulted(err *PartialDirectoryDataError)
}

type nopObserver struct{}

func (nopObserver) SessionRecorded(Session, bool)                 {}
func (nopObserver) DuplicateRejected(string)                      {}
func (nopObserver) RecordSkipped(error)                           {}
func (nopObserver) DirectoryDefaulted(*PartialDirectoryDataError) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

// Connectivity decides whether the remote store is worth trying.
type Connectivity interface {
	Online(ctx context.Context) bool
}

// ConnectivityFunc adapts a function to Connectivity.
type ConnectivityFunc func(ctx context.Context) bool

func (f ConnectivityFunc) Online(ctx context.Context) bool { return f(ctx) }

// StoreProbe pings the store with a short timeout.
type StoreProbe struct {
	Store   docstore.Store
	Timeout time.Duration
}

// Online reports whether a ping succeeds within the timeout.
func (p StoreProbe) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.Store.Ping(ctx) == nil
}

// StatsCache is an optional read-through cache for Stats.
//
// Every Invalidate advances the student's generation. Put only stores stats
// computed at the generation still current, so a scan that overlapped a
// write cannot repopulate the cache with stale numbers.
type StatsCache interface {
	Get(ctx context.Context, studentID string) (Stats, bool, error)
	Generation(ctx context.Context, studentID string) (int64, error)
	Put(ctx context.Context, stats Stats, gen int64) error
	Invalidate(ctx context.Context, studentIDs ...string) error
}

// Outbox holds sessions that could not be written to the store yet.
type Outbox interface {
	Enqueue(ctx context.Context, s Session) error
}

package outbox

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"ledger/internal/attendance"
)

// ErrBusy is returned when a replay is already running in this process.
var ErrBusy = errors.New("outbox replay already running")

// Writer pushes one session through the store's conditional create.
// *attendance.Recorder implements it.
type Writer interface {
	Replay(ctx context.Context, s attendance.Session) error
}

// Report summarises one replay pass.
type Report struct {
	Replayed  int `json:"replayed"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
	Remaining int `json:"remaining"`
}

// Replayer drains the outbox into the store.
type Replayer struct {
	box *Outbox
	w   Writer
	mu  sync.Mutex
}

func NewReplayer(box *Outbox, w Writer) *Replayer {
	return &Replayer{box: box, w: w}
}

// Replay makes one pass over pending entries. A written session is removed;
// a session whose key was taken meanwhile is removed and counted as a
// conflict; any other failure keeps the entry for the next pass.
func (r *Replayer) Replay(ctx context.Context) (Report, error) {
	if !r.mu.TryLock() {
		return Report{}, ErrBusy
	}
	defer r.mu.Unlock()

	var rep Report
	entries, err := r.box.Pending(ctx, 0)
	if err != nil {
		return rep, err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		err := r.w.Replay(ctx, e.Session)
		var dup *attendance.DuplicateSessionError
		switch {
		case err == nil:
			rep.Replayed++
		case errors.As(err, &dup):
			rep.Conflicts++
			log.Printf("outbox: %s already recorded, dropping queued copy", e.Key)
		default:
			rep.Failed++
			if merr := r.box.MarkFailed(ctx, e.Key, err); merr != nil {
				log.Printf("outbox: mark %s failed: %v", e.Key, merr)
			}
			continue
		}
		if err := r.box.Remove(ctx, e.Key); err != nil {
			return rep, err
		}
	}
	rep.Remaining, err = r.box.Len(ctx)
	return rep, err
}

// Run replays every interval until ctx is cancelled.
func (r *Replayer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rep, err := r.Replay(ctx)
			if err != nil {
				if !errors.Is(err, ErrBusy) && ctx.Err() == nil {
					log.Printf("outbox replay failed: %v", err)
				}
				continue
			}
			if rep.Replayed+rep.Conflicts+rep.Failed > 0 {
				log.Printf("outbox replay: replayed=%d conflicts=%d failed=%d remaining=%d",
					rep.Replayed, rep.Conflicts, rep.Failed, rep.Remaining)
			}
		}
	}
}

package attendance

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"ledger/internal/queue"
)

// EventSessionRecorded is published after a session reaches the store.
const EventSessionRecorded = "session.recorded"

// SessionEvent is the body of EventSessionRecorded.
type SessionEvent struct {
	Key         string   `json:"key"`
	SubjectCode string   `json:"subjectCode"`
	StudentIDs  []string `json:"studentIds"`
}

// NewSessionEvent builds the queue message for a written session.
func NewSessionEvent(s Session) (queue.Message, error) {
	return queue.NewMessage(EventSessionRecorded, SessionEvent{
		Key:         s.Key,
		SubjectCode: s.SubjectCode,
		StudentIDs:  s.StudentIDs(),
	})
}

// Warmer recomputes stats for the students of each recorded session so the
// next dashboard read hits the cache.
type Warmer struct {
	agg   *Aggregator
	cache StatsCache
}

// NewWarmer creates a warmer. Without a cache there is nothing to warm.
func NewWarmer(agg *Aggregator, cache StatsCache) *Warmer {
	return &Warmer{agg: agg, cache: cache}
}

// Handle processes one message; other event types are ignored.
func (w *Warmer) Handle(ctx context.Context, msg queue.Message) error {
	if msg.Type != EventSessionRecorded {
		return nil
	}
	var evt SessionEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return fmt.Errorf("decode %s %s: %w", msg.Type, msg.ID, err)
	}
	if w.cache == nil {
		return nil
	}
	// drop anything cached between the write and this event
	if err := w.cache.Invalidate(ctx, evt.StudentIDs...); err != nil {
		return err
	}
	for _, id := range evt.StudentIDs {
		if _, err := w.agg.ForStudent(ctx, id); err != nil {
			return fmt.Errorf("warm stats for %s: %w", id, err)
		}
	}
	return nil
}

// Run consumes messages until the channel closes.
func (w *Warmer) Run(ctx context.Context, msgs <-chan queue.Message) {
	for msg := range msgs {
		if err := w.Handle(ctx, msg); err != nil {
			log.Printf("event %s failed: %v", msg.ID, err)
		}
	}
}

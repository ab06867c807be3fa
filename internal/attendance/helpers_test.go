package attendance

import (
	"context"
	"sync"
	"testing"
	"time"

	"ledger/internal/docstore"
)

type recordingObserver struct {
	mu         sync.Mutex
	recorded   []Session
	queued     []bool
	duplicates []string
	skipped    []error
	defaults   []*PartialDirectoryDataError
}

func (o *recordingObserver) SessionRecorded(s Session, queued bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorded = append(o.recorded, s)
	o.queued = append(o.queued, queued)
}

func (o *recordingObserver) DuplicateRejected(key string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.duplicates = append(o.duplicates, key)
}

func (o *recordingObserver) RecordSkipped(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, err)
}

func (o *recordingObserver) DirectoryDefaulted(err *PartialDirectoryDataError) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.defaults = append(o.defaults, err)
}

type memCache struct {
	mu          sync.Mutex
	stats       map[string]Stats
	gens        map[string]int64
	invalidated []string
	hits        int
	// onGeneration runs after a generation is read, outside the lock.
	onGeneration func()
}

func newMemCache() *memCache {
	return &memCache{stats: make(map[string]Stats), gens: make(map[string]int64)}
}

func (c *memCache) Generation(_ context.Context, id string) (int64, error) {
	c.mu.Lock()
	gen := c.gens[id]
	hook := c.onGeneration
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return gen, nil
}

func (c *memCache) Get(_ context.Context, id string) (Stats, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stats[id]
	if ok {
		c.hits++
	}
	return s, ok, nil
}

func (c *memCache) Put(_ context.Context, s Stats, gen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[s.StudentID] != gen {
		return nil
	}
	c.stats[s.StudentID] = s
	return nil
}

func (c *memCache) Invalidate(_ context.Context, ids ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.stats, id)
		c.gens[id]++
		c.invalidated = append(c.invalidated, id)
	}
	return nil
}

type memOutbox struct {
	mu       sync.Mutex
	sessions []Session
	err      error
}

func (o *memOutbox) Enqueue(_ context.Context, s Session) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.sessions = append(o.sessions, s)
	return nil
}

// staleReadStore never sees existing documents on Get, modelling a second
// writer that slipped in between the existence check and the write.
type staleReadStore struct {
	*docstore.Memory
}

func (staleReadStore) Get(context.Context, string, string, any) error { return docstore.ErrNotFound }

type failingWriteStore struct {
	*docstore.Memory
	err error
}

func (s failingWriteStore) Create(context.Context, string, string, any) error { return s.err }

var offline = ConnectivityFunc(func(context.Context) bool { return false })

var online = ConnectivityFunc(func(context.Context) bool { return true })

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func seedStudents(t *testing.T, store docstore.Store, students ...Student) {
	t.Helper()
	for _, st := range students {
		if err := store.Set(context.Background(), UsersCollection, st.ID, st); err != nil {
			t.Fatalf("seedStudents() failed: %v", err)
		}
	}
}

func seedSessions(t *testing.T, store docstore.Store, sessions ...Session) {
	t.Helper()
	for _, s := range sessions {
		if err := store.Set(context.Background(), SessionsCollection, s.Key, s); err != nil {
			t.Fatalf("seedSessions() failed: %v", err)
		}
	}
}

func session(code string, date time.Time, duration int, records ...Record) Session {
	s := Session{
		Key:         SessionKey(code, date),
		Subject:     code + " name",
		SubjectCode: code,
		Date:        date,
		DateString:  date.Format(DateLayout),
		Duration:    duration,
		Records:     records,
	}
	for i := range s.Records {
		if s.Records[i].MaxHours == 0 {
			s.Records[i].MaxHours = duration
		}
		s.Records[i].Status = DeriveStatus(s.Records[i].AttendedHours, s.Records[i].MaxHours)
		s.TotalHoursGiven += s.Records[i].AttendedHours
	}
	s.TotalStudents = len(s.Records)
	return s
}

func rec(id, name string, hours int) Record {
	return Record{StudentID: id, Name: name, RollNo: "R-" + id, AttendedHours: hours}
}

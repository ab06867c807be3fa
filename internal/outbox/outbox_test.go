package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/attendance"
	"ledger/internal/docstore"
)

func openTemp(t *testing.T) *Outbox {
	t.Helper()
	box, err := Open(filepath.Join(t.TempDir(), "spool", "outbox.db"))
	require.NoError(t, err)
	t.Cleanup(func() { box.Close() })
	return box
}

func testSession(code string, d int, ids ...string) attendance.Session {
	date := time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC)
	s := attendance.Session{
		Key:         attendance.SessionKey(code, date),
		Subject:     code,
		SubjectCode: code,
		Date:        date,
		DateString:  date.Format(attendance.DateLayout),
		Duration:    1,
		Origin:      attendance.OriginOutbox,
	}
	for _, id := range ids {
		s.Records = append(s.Records, attendance.Record{
			StudentID: id, Name: id, RollNo: "N/A", Status: attendance.StatusPresent, AttendedHours: 1, MaxHours: 1,
		})
		s.TotalHoursGiven++
	}
	s.TotalStudents = len(s.Records)
	return s
}

func TestOutboxEnqueuePending(t *testing.T) {
	ctx := context.Background()
	box := openTemp(t)

	first := testSession("CS101", 1, "a")
	require.NoError(t, box.Enqueue(ctx, first))
	require.NoError(t, box.Enqueue(ctx, testSession("CS101", 2, "a")))

	updated := testSession("CS101", 1, "a", "b")
	require.NoError(t, box.Enqueue(ctx, updated))

	n, err := box.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entries, err := box.Pending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "CS101_2024-03-02", entries[0].Key)
	assert.Equal(t, "CS101_2024-03-01", entries[1].Key, "re-enqueue moves the key to the back")
	assert.Equal(t, 2, entries[1].Session.TotalStudents)
	assert.True(t, entries[1].Session.Date.Equal(first.Date))
	assert.NotEmpty(t, entries[0].ID)

	limited, err := box.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, box.MarkFailed(ctx, "CS101_2024-03-02", errors.New("503")))
	entries, err = box.Pending(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, entries[0].Attempts)
	assert.Equal(t, "503", entries[0].LastError)

	require.NoError(t, box.Remove(ctx, "CS101_2024-03-02"))
	require.NoError(t, box.Remove(ctx, "missing"))
	n, err = box.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOutboxSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")
	box, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, box.Enqueue(ctx, testSession("CS101", 1, "a")))
	require.NoError(t, box.Close())

	box, err = Open(path)
	require.NoError(t, err)
	defer box.Close()
	n, err := box.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	box := openTemp(t)
	store := docstore.NewMemory()
	rec := attendance.NewRecorder(attendance.NewRepository(store, nil))

	taken := testSession("CS101", 1, "x")
	require.NoError(t, store.Set(ctx, attendance.SessionsCollection, taken.Key, taken))

	require.NoError(t, box.Enqueue(ctx, testSession("CS101", 1, "a")))
	require.NoError(t, box.Enqueue(ctx, testSession("CS101", 2, "a")))
	require.NoError(t, box.Enqueue(ctx, testSession("MATH101", 2, "a")))

	rep, err := NewReplayer(box, rec).Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Replayed: 2, Conflicts: 1, Remaining: 0}, rep)

	got, _, err := attendance.NewRepository(store, nil).GetSession(ctx, taken.Key)
	require.NoError(t, err)
	assert.Equal(t, "x", got.Records[0].StudentID, "existing session wins")
	_, _, err = attendance.NewRepository(store, nil).GetSession(ctx, "MATH101_2024-03-02")
	assert.NoError(t, err)
}

func TestReplayKeepsFailures(t *testing.T) {
	ctx := context.Background()
	box := openTemp(t)
	store := docstore.NewMemory()
	rec := attendance.NewRecorder(attendance.NewRepository(store, nil))
	require.NoError(t, box.Enqueue(ctx, testSession("CS101", 1, "a")))

	store.SetDown(errors.New("unreachable"))
	r := NewReplayer(box, rec)
	rep, err := r.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Failed: 1, Remaining: 1}, rep)

	store.SetDown(nil)
	rep, err = r.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Replayed: 1}, rep)
}

type blockingWriter struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (w *blockingWriter) Replay(context.Context, attendance.Session) error {
	w.once.Do(func() { close(w.entered) })
	<-w.release
	return nil
}

func TestReplaySingleFlight(t *testing.T) {
	ctx := context.Background()
	box := openTemp(t)
	require.NoError(t, box.Enqueue(ctx, testSession("CS101", 1, "a")))

	w := &blockingWriter{entered: make(chan struct{}), release: make(chan struct{})}
	r := NewReplayer(box, w)

	done := make(chan error, 1)
	go func() {
		_, err := r.Replay(ctx)
		done <- err
	}()
	<-w.entered
	_, err := r.Replay(ctx)
	assert.ErrorIs(t, err, ErrBusy)

	close(w.release)
	require.NoError(t, <-done)
}

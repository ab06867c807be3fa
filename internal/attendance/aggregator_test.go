package attendance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/docstore"
)

func TestForStudent(t *testing.T) {
	store := docstore.NewMemory()
	seedSessions(t, store,
		session("CS101", day(2024, 3, 1), 1, rec("alice", "Alice", 1), rec("bob", "Bob", 0)),
		session("CS101", day(2024, 3, 2), 1, rec("alice", "Alice", 1)),
		session("MATH101", day(2024, 3, 1), 2, rec("alice", "Alice", 0)),
		session("PHY101", day(2024, 3, 1), 3, rec("bob", "Bob", 3)),
	)
	agg := NewAggregator(NewRepository(store, nil), nil, nil)

	stats, err := agg.ForStudent(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, Totals{Possible: 4, Earned: 2, Percentage: 50.0}, stats.Totals)
	require.Len(t, stats.Subjects, 2)
	assert.Equal(t, SubjectTotals{Code: "CS101", Name: "CS101 name", Totals: Totals{Possible: 2, Earned: 2, Percentage: 100.0}}, stats.Subjects["CS101"])
	assert.Equal(t, 0.0, stats.Subjects["MATH101"].Percentage)
	assert.NotContains(t, stats.Subjects, "PHY101")
}

func TestForStudentNoHistory(t *testing.T) {
	agg := NewAggregator(NewRepository(docstore.NewMemory(), nil), nil, nil)
	stats, err := agg.ForStudent(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, Totals{}, stats.Totals)
	assert.Empty(t, stats.Subjects)

	_, err = agg.ForStudent(context.Background(), "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestForStudentLegacyRecords(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	docs := map[string]map[string]any{
		"OLD1_2023-01-01": {
			"subjectCode": "OLD1",
			"dateString":  "2023-01-01",
			"attendanceRecord": []any{
				map[string]any{"id": "alice", "studentName": "Alice", "status": "Present"},
			},
		},
		"OLD1_2023-01-02": {
			"subjectCode": "OLD1",
			"duration":    2,
			"attendanceRecord": []any{
				map[string]any{"studentId": "alice", "present": true},
			},
		},
		"OLD2_2023-01-02": {
			"duration": 3,
			"attendanceRecord": []any{
				map[string]any{"studentId": "alice", "status": "Absent"},
			},
		},
	}
	for key, doc := range docs {
		require.NoError(t, store.Set(ctx, SessionsCollection, key, doc))
	}

	stats, err := NewAggregator(NewRepository(store, nil), nil, nil).ForStudent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Totals{Possible: 6, Earned: 3, Percentage: 50.0}, stats.Totals)
	assert.Equal(t, Totals{Possible: 3, Earned: 3, Percentage: 100.0}, stats.Subjects["OLD1"].Totals)
	assert.Equal(t, "Subject", stats.Subjects["OLD1"].Name)
	unknown := stats.Subjects["Unknown"]
	assert.Equal(t, 3, unknown.Possible)
	assert.Equal(t, 0, unknown.Earned)
}

func TestForStudentSkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	require.NoError(t, store.Set(ctx, SessionsCollection, "CS101_2024-03-01", map[string]any{
		"subjectCode": "CS101",
		"duration":    2,
		"attendanceRecord": []any{
			map[string]any{"studentId": "alice", "attendedHours": 5, "maxHours": 2},
			map[string]any{"name": "nobody", "attendedHours": 1},
			map[string]any{"studentId": "alice", "attendedHours": 1, "maxHours": 2},
		},
	}))
	obs := &recordingObserver{}

	stats, err := NewAggregator(NewRepository(store, nil), nil, obs).ForStudent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, Totals{Possible: 2, Earned: 1, Percentage: 50.0}, stats.Totals)
	require.Len(t, obs.skipped, 2)
	var merr *MalformedRecordError
	require.ErrorAs(t, obs.skipped[0], &merr)
	assert.Equal(t, "alice", merr.StudentID)
	assert.Equal(t, "CS101_2024-03-01", merr.SessionKey)
}

func TestGetSessionReturnsIssues(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	require.NoError(t, store.Set(ctx, SessionsCollection, "CS101_2024-03-01", map[string]any{
		"subjectCode": "CS101",
		"duration":    2,
		"attendanceRecord": []any{
			map[string]any{"studentId": "alice", "attendedHours": 5, "maxHours": 2},
			map[string]any{"studentId": "bob", "attendedHours": 1},
		},
	}))

	s, issues, err := NewRepository(store, nil).GetSession(ctx, "CS101_2024-03-01")
	require.NoError(t, err)
	require.Len(t, s.Records, 1)
	assert.Equal(t, "bob", s.Records[0].StudentID)
	require.Len(t, issues, 1)
	var merr *MalformedRecordError
	require.ErrorAs(t, issues[0], &merr)
	assert.Equal(t, "alice", merr.StudentID)

	_, _, err = NewRepository(store, nil).GetSession(ctx, "CS101_2024-03-09")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestForStudentCache(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedSessions(t, store, session("CS101", day(2024, 3, 1), 2, rec("alice", "Alice", 1)))
	cache := newMemCache()
	agg := NewAggregator(NewRepository(store, nil), cache, nil)

	first, err := agg.ForStudent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)

	store.SetDown(errors.New("down"))
	second, err := agg.ForStudent(ctx, "alice")
	require.NoError(t, err, "served from cache")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, cache.hits)

	require.NoError(t, cache.Invalidate(ctx, "alice"))
	_, err = agg.ForStudent(ctx, "alice")
	var perr *PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestForStudentDiscardsStatsOverlappingAWrite(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	seedSessions(t, store, session("CS101", day(2024, 3, 1), 1, rec("alice", "Alice", 1)))
	cache := newMemCache()
	agg := NewAggregator(NewRepository(store, nil), cache, nil)

	// a session lands between the generation read and the history scan
	late := session("CS101", day(2024, 3, 2), 1, rec("alice", "Alice", 0))
	cache.onGeneration = func() {
		cache.onGeneration = nil
		seedSessions(t, store, late)
		require.NoError(t, cache.Invalidate(ctx, "alice"))
	}

	stats, err := agg.ForStudent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Totals.Possible)
	_, cached, _ := cache.Get(ctx, "alice")
	assert.False(t, cached, "stats raced with an invalidation must not be cached")

	again, err := agg.ForStudent(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, stats, again)
	_, cached, _ = cache.Get(ctx, "alice")
	assert.True(t, cached)
}

func TestPercent(t *testing.T) {
	tests := []struct {
		earned, possible int
		want             float64
	}{
		{0, 0, 0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{5, 5, 100},
		{7, 8, 87.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Percent(tt.earned, tt.possible), "%d/%d", tt.earned, tt.possible)
	}
}

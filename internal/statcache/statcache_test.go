package statcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger/internal/attendance"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "ledger:stats:alice", Key("alice"))
	assert.Equal(t, "ledger:stats-gen:alice", GenKey("alice"))
}

func newCache(t *testing.T, ttl time.Duration) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, ttl), mr
}

func aliceStats() attendance.Stats {
	return attendance.Stats{
		StudentID: "alice",
		Totals:    attendance.Totals{Possible: 4, Earned: 2, Percentage: 50},
		Subjects: map[string]attendance.SubjectTotals{
			"CS101": {Code: "CS101", Name: "Intro to CS", Totals: attendance.Totals{Possible: 2, Earned: 2, Percentage: 100}},
		},
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	gen, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, gen)

	require.NoError(t, c.Put(ctx, aliceStats(), gen))
	got, ok, err := c.Get(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, aliceStats(), got)
	assert.Equal(t, time.Minute, mr.TTL(Key("alice")))

	mr.FastForward(time.Minute + time.Second)
	_, ok, err = c.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires with the ttl")
}

func TestCorruptEntryIsAMiss(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	require.NoError(t, mr.Set(Key("alice"), "{not json"))

	_, ok, err := c.Get(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	c, mr := newCache(t, 0)
	ctx := context.Background()

	bob := attendance.Stats{StudentID: "bob"}
	carol := attendance.Stats{StudentID: "carol"}
	for _, s := range []attendance.Stats{aliceStats(), bob, carol} {
		require.NoError(t, c.Put(ctx, s, 0))
	}
	assert.Zero(t, mr.TTL(Key("alice")), "zero ttl keeps entries")

	require.NoError(t, c.Invalidate(ctx))
	require.NoError(t, c.Invalidate(ctx, "alice", "bob"))

	assert.False(t, mr.Exists(Key("alice")))
	assert.False(t, mr.Exists(Key("bob")))
	assert.True(t, mr.Exists(Key("carol")))

	gen, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
}

func TestPutAfterInvalidateIsDropped(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	ctx := context.Background()

	gen, err := c.Generation(ctx, "alice")
	require.NoError(t, err)
	// a session for alice is written while her stats are being computed
	require.NoError(t, c.Invalidate(ctx, "alice"))

	require.NoError(t, c.Put(ctx, aliceStats(), gen))
	assert.False(t, mr.Exists(Key("alice")))

	gen, err = c.Generation(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, aliceStats(), gen))
	assert.True(t, mr.Exists(Key("alice")))
}

func TestUnreachableRedisSurfacesErrors(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	c := New(client, time.Minute)
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "alice")
	assert.Error(t, err)
	assert.False(t, ok)
	_, err = c.Generation(ctx, "alice")
	assert.Error(t, err)
	assert.Error(t, c.Put(ctx, attendance.Stats{StudentID: "alice"}, 0))
	assert.Error(t, c.Invalidate(ctx, "alice"))
	assert.NoError(t, c.Invalidate(ctx))
}

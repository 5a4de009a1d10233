package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"s3indexer/internal/metrics"
	"s3indexer/internal/source"
	"s3indexer/internal/tracker"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func newTestProcessor(t *testing.T, policy tracker.Policy, clock *testClock) (*Processor, *tracker.SQLiteStore, *bytes.Buffer) {
	t.Helper()

	store, err := tracker.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	store.SetClock(clock.Now)
	t.Cleanup(func() { store.Close() })

	var out bytes.Buffer
	p := NewProcessor(store, policy, NewEmitter(&out), metrics.New(), zap.NewNop(), false)
	p.SetClock(clock.Now)
	return p, store, &out
}

func TestProcessorDispatchesThenHoldsPending(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p, store, out := newTestProcessor(t, tracker.NewPolicy(4, tracker.DefaultIntervalMinutes), clock)
	indexd := testIndexd.ForBucket(primaryBucket)

	for _, key := range []string{"did1/a.txt", "did2/b.txt"} {
		d, err := p.Process(ctx, primaryBucket, indexd, source.Object{Key: key, Region: "default"})
		require.NoError(t, err)
		require.Equal(t, tracker.Proceed, d)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], "INPUT_URL=s3://gen3-dev/did1/a.txt")
	require.Contains(t, lines[1], "INPUT_URL=s3://gen3-dev/did2/b.txt")

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// Immediately after dispatch both items wait out their interval.
	out.Reset()
	clock.now = clock.now.Add(10 * time.Second)
	for _, key := range []string{"did1/a.txt", "did2/b.txt"} {
		d, err := p.Process(ctx, primaryBucket, indexd, source.Object{Key: key, Region: "default"})
		require.NoError(t, err)
		require.Equal(t, tracker.SkipPending, d)
	}
	require.Empty(t, out.String())

	item, err := store.Get(ctx, "s3://gen3-dev/did1/a.txt")
	require.NoError(t, err)
	require.Equal(t, 1, item.AttemptCount)
}

func TestProcessorRetriesUntilExpired(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p, store, out := newTestProcessor(t, tracker.NewPolicy(2, []int{1, 5, 10}), clock)
	obj := source.Object{Key: "k", Region: "r"}

	var decisions []tracker.Decision
	for i := 0; i < 5; i++ {
		d, err := p.Process(ctx, externalBucket, testIndexd.ForBucket(externalBucket), obj)
		require.NoError(t, err)
		decisions = append(decisions, d)
		clock.now = clock.now.Add(time.Hour)
	}

	require.Equal(t, []tracker.Decision{
		tracker.Proceed,
		tracker.Proceed,
		tracker.Proceed,
		tracker.SkipExpired,
		tracker.SkipExpired,
	}, decisions)
	require.Equal(t, 3, strings.Count(out.String(), "\n"))

	item, err := store.Get(ctx, "s3://external-dev/k")
	require.NoError(t, err)
	require.Equal(t, 3, item.AttemptCount)
}

func TestProcessorStoreFailureEmitsNothing(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Now()}
	p, store, out := newTestProcessor(t, tracker.NewPolicy(4, tracker.DefaultIntervalMinutes), clock)
	require.NoError(t, store.Close())

	_, err := p.Process(ctx, primaryBucket, testIndexd, source.Object{Key: "k"})
	var storeErr *tracker.StoreError
	require.True(t, errors.As(err, &storeErr))
	require.Empty(t, out.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestProcessorPersistsBeforeEmit(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	store, err := tracker.NewSQLiteStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := NewProcessor(store, tracker.NewPolicy(4, tracker.DefaultIntervalMinutes), NewEmitter(failingWriter{}), metrics.New(), zap.NewNop(), true)
	p.SetClock(clock.Now)

	_, err = p.Process(ctx, primaryBucket, testIndexd, source.Object{Key: "k"})
	require.ErrorContains(t, err, "broken pipe")

	item, err := store.Get(ctx, "s3://gen3-dev/k")
	require.NoError(t, err)
	require.Equal(t, 1, item.AttemptCount, "the attempt is recorded even though the write failed")
}

func TestProcessorSkipsKeysWithControlCharacters(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	p, store, out := newTestProcessor(t, tracker.NewPolicy(4, tracker.DefaultIntervalMinutes), clock)

	d, err := p.Process(ctx, externalBucket, testIndexd.ForBucket(externalBucket),
		source.Object{Key: "a\n/evil; touch /tmp/pwned #", Region: "r"})
	require.NoError(t, err)
	require.Equal(t, tracker.SkipInvalid, d)
	require.Empty(t, out.String())

	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "a skipped key must not count as an attempt")
}

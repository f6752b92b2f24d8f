package devicenames

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
)

const baseTime = int64(1_700_000_000)

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Unix(c.now, 0)
}

func (c *fakeClock) Set(sec int64) {
	c.mu.Lock()
	c.now = sec
	c.mu.Unlock()
}

type fakeFetcher struct {
	body    string
	err     error
	release chan struct{} // when set, FetchText blocks until closed
	calls   atomic.Int32
}

func (f *fakeFetcher) FetchText(ctx context.Context, url string) (string, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return "", f.err
	}
	return f.body, nil
}

type fakeStore struct {
	mu      sync.Mutex
	rec     *domain.Record
	loadErr error
	saveErr error
	saves   int
}

func (s *fakeStore) Load(ctx context.Context) (*domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.rec == nil {
		return nil, nil
	}
	rec := domain.Record{Table: s.rec.Table.Clone(), LastUpdated: s.rec.LastUpdated}
	return &rec, nil
}

func (s *fakeStore) Save(ctx context.Context, rec domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rec = &rec
	return nil
}

func (s *fakeStore) Close() error { return nil }

type countingObserver struct {
	started, succeeded, failed, saveFailed atomic.Int32
}

func (o *countingObserver) RefreshStarted()             { o.started.Add(1) }
func (o *countingObserver) RefreshSucceeded(int, int64) { o.succeeded.Add(1) }
func (o *countingObserver) RefreshFailed(error)         { o.failed.Add(1) }
func (o *countingObserver) SaveFailed(error)            { o.saveFailed.Add(1) }

func newTestResolver(t *testing.T, f *fakeFetcher, s *fakeStore, clock *fakeClock, opts ...Option) *Resolver {
	t.Helper()
	base := []Option{
		WithClock(clock.Now),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	r := New(f, s, append(base, opts...)...)
	t.Cleanup(r.Wait)
	return r
}

func storedRecord(table domain.Table, at int64) *fakeStore {
	return &fakeStore{rec: &domain.Record{Table: table, LastUpdated: at}}
}

func TestResolve_KnownAndUnknownIdentifiers(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{}
	store := storedRecord(domain.Table{"iPhone10,3": "iPhone X"}, baseTime)

	r := newTestResolver(t, fetcher, store, clock)

	assert.Equal(t, "iPhone X", r.Resolve("iPhone10,3"))
	assert.Equal(t, "Unknown9,9", r.Resolve("Unknown9,9"))

	r.Wait()
	assert.Equal(t, int32(0), fetcher.calls.Load(), "fresh table must not be refetched")
}

func TestResolve_FallbackWithoutAnyTable(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{err: &domain.FetchError{URL: DefaultURL, Err: errors.New("network unreachable")}}

	r := newTestResolver(t, fetcher, &fakeStore{}, clock)

	for _, id := range []string{"iPhone10,3", "", "x86_64"} {
		assert.Equal(t, id, r.Resolve(id))
	}
	r.Wait()
	assert.Equal(t, "iPad8,1", r.Resolve("iPad8,1"))
}

func TestResolve_FreshnessGating(t *testing.T) {
	ttl := int64(DefaultTTL / time.Second)
	clock := &fakeClock{now: baseTime + ttl - 1}
	fetcher := &fakeFetcher{body: "iPhone10,3;iPhone X\n", release: make(chan struct{})}
	store := storedRecord(domain.Table{"iPhone10,3": "iPhone X"}, baseTime)

	r := newTestResolver(t, fetcher, store, clock)

	r.Resolve("iPhone10,3")
	assert.Equal(t, int32(0), fetcher.calls.Load())

	clock.Set(baseTime + ttl + 1)

	var callers sync.WaitGroup
	for i := 0; i < 50; i++ {
		callers.Add(1)
		go func() {
			defer callers.Done()
			assert.Equal(t, "iPhone X", r.Resolve("iPhone10,3"))
		}()
	}
	callers.Wait()

	close(fetcher.release)
	r.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.False(t, r.IsStale())
}

func TestResolve_DoesNotBlockOnRefresh(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{body: "A;Apple", release: make(chan struct{})}

	r := newTestResolver(t, fetcher, &fakeStore{}, clock)

	done := make(chan string)
	go func() { done <- r.Resolve("A") }()

	select {
	case got := <-done:
		assert.Equal(t, "A", got)
	case <-time.After(2 * time.Second):
		t.Fatal("Resolve blocked on an in-flight refresh")
	}

	close(fetcher.release)
	r.Wait()
	assert.Equal(t, "Apple", r.Resolve("A"))
}

func TestRefresh_ReplacesWholeTable(t *testing.T) {
	clock := &fakeClock{now: baseTime + int64(DefaultTTL/time.Second) + 10}
	fetcher := &fakeFetcher{body: "B;Y"}
	store := storedRecord(domain.Table{"A": "X"}, baseTime)

	r := newTestResolver(t, fetcher, store, clock)

	require.NoError(t, r.Refresh(context.Background()))

	rec, ok := r.Snapshot()
	require.True(t, ok)
	assert.Equal(t, domain.Table{"B": "Y"}, rec.Table)
	assert.Equal(t, clock.Now().Unix(), rec.LastUpdated)
	assert.Equal(t, "A", r.Resolve("A"))
	assert.Equal(t, "Y", r.Resolve("B"))

	require.NotNil(t, store.rec)
	assert.Equal(t, domain.Table{"B": "Y"}, store.rec.Table)
}

func TestRefresh_FetchFailureKeepsPreviousTable(t *testing.T) {
	clock := &fakeClock{now: baseTime + int64(DefaultTTL/time.Second) + 10}
	fetcher := &fakeFetcher{err: &domain.FetchError{URL: DefaultURL, StatusCode: 503, Err: errors.New("unavailable")}}
	store := storedRecord(domain.Table{"A": "X"}, baseTime)
	obs := &countingObserver{}

	r := newTestResolver(t, fetcher, store, clock, WithObserver(obs))

	assert.Equal(t, "X", r.Resolve("A"))
	r.Wait()
	assert.Equal(t, "X", r.Resolve("A"))
	r.Wait()

	rec, ok := r.Snapshot()
	require.True(t, ok)
	assert.Equal(t, domain.Table{"A": "X"}, rec.Table)
	assert.Equal(t, baseTime, rec.LastUpdated)
	assert.True(t, r.IsStale())
	assert.GreaterOrEqual(t, obs.failed.Load(), int32(1))
	assert.Equal(t, int32(0), obs.succeeded.Load())
	assert.Equal(t, 0, store.saves)

	var fetchErr *domain.FetchError
	assert.ErrorAs(t, r.Refresh(context.Background()), &fetchErr)
}

func TestRefresh_SaveFailureKeepsNewTable(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{body: "A;Apple"}
	store := &fakeStore{saveErr: &domain.StorageError{Op: "save", Err: errors.New("disk full")}}
	obs := &countingObserver{}

	r := newTestResolver(t, fetcher, store, clock, WithObserver(obs))

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "Apple", r.Resolve("A"))
	assert.Equal(t, int32(1), obs.saveFailed.Load())
	assert.False(t, r.IsStale())
}

func TestRefresh_SingleFlight(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{body: "A;Apple", release: make(chan struct{})}

	r := newTestResolver(t, fetcher, &fakeStore{}, clock)

	require.True(t, r.ForceRefresh())
	assert.False(t, r.ForceRefresh())
	assert.ErrorIs(t, r.Refresh(context.Background()), domain.ErrRefreshInProgress)
	assert.True(t, r.Stats().Refreshing)

	close(fetcher.release)
	r.Wait()

	assert.Equal(t, int32(1), fetcher.calls.Load())
	assert.False(t, r.Stats().Refreshing)
}

func TestRefresh_EmptyBodyAcceptedByDefault(t *testing.T) {
	clock := &fakeClock{now: baseTime + int64(DefaultTTL/time.Second) + 10}
	fetcher := &fakeFetcher{body: "garbage\n"}
	store := storedRecord(domain.Table{"A": "X"}, baseTime)

	r := newTestResolver(t, fetcher, store, clock)

	require.NoError(t, r.Refresh(context.Background()))

	rec, ok := r.Snapshot()
	require.True(t, ok)
	assert.Empty(t, rec.Table)
	assert.False(t, r.IsStale())
	assert.Equal(t, "A", r.Resolve("A"))
}

func TestRefresh_EmptyBodyRejected(t *testing.T) {
	clock := &fakeClock{now: baseTime + int64(DefaultTTL/time.Second) + 10}
	fetcher := &fakeFetcher{body: ""}
	store := storedRecord(domain.Table{"A": "X"}, baseTime)

	r := newTestResolver(t, fetcher, store, clock, WithRejectEmptyTable())

	assert.ErrorIs(t, r.Refresh(context.Background()), domain.ErrEmptyTable)
	assert.Equal(t, "X", r.Resolve("A"))
	r.Wait()
	assert.True(t, r.IsStale())
	assert.Equal(t, 0, store.saves)
}

func TestRefresh_LastUpdatedNeverDecreases(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{body: "A;Apple"}
	store := storedRecord(domain.Table{}, baseTime+500)

	r := newTestResolver(t, fetcher, store, clock)

	require.NoError(t, r.Refresh(context.Background()))
	rec, _ := r.Snapshot()
	assert.Equal(t, baseTime+500, rec.LastUpdated)
}

func TestNew_LoadFailureMeansNoCache(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{err: errors.New("offline")}
	store := &fakeStore{loadErr: &domain.StorageError{Op: "load", Err: domain.ErrCorruptRecord}}

	r := newTestResolver(t, fetcher, store, clock)

	_, ok := r.Snapshot()
	assert.False(t, ok)
	assert.True(t, r.IsStale())
	assert.Equal(t, "iPhone10,3", r.Resolve("iPhone10,3"))
}

func TestNew_NilStore(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	fetcher := &fakeFetcher{body: "A;Apple"}

	r := New(fetcher, nil, WithClock(clock.Now), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "Apple", r.Resolve("A"))
}

func TestStats(t *testing.T) {
	clock := &fakeClock{now: baseTime + 60}
	store := storedRecord(domain.Table{"A": "X", "B": "Y"}, baseTime)

	r := newTestResolver(t, &fakeFetcher{}, store, clock, WithTTL(time.Hour), WithURL("http://example.test/devices.csv"))

	stats := r.Stats()
	assert.True(t, stats.HasTable)
	assert.Equal(t, 2, stats.Entries)
	assert.False(t, stats.Stale)
	assert.Equal(t, int64(3600), stats.TTLSeconds)
	assert.Equal(t, "http://example.test/devices.csv", stats.URL)
	require.NotNil(t, stats.LastUpdated)
	assert.Equal(t, time.Unix(baseTime, 0).UTC(), *stats.LastUpdated)
}

func TestStats_NoTable(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	r := newTestResolver(t, &fakeFetcher{err: errors.New("offline")}, &fakeStore{}, clock)

	stats := r.Stats()
	assert.False(t, stats.HasTable)
	assert.True(t, stats.Stale)
	assert.Nil(t, stats.LastUpdated)

	data, err := json.Marshal(stats)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "last_updated")
}

func TestRefreshIfStale_RechecksAfterClaimingFlag(t *testing.T) {
	store := storedRecord(domain.Table{"iPhone10,3": "iPhone X"}, baseTime)
	fetcher := &fakeFetcher{body: "iPhone10,3;iPhone X\n"}

	// The first freshness check sees a stale table; by the time the flag is
	// claimed another refresh has landed and the table is fresh again.
	var reads atomic.Int32
	clock := func() time.Time {
		if reads.Add(1) == 1 {
			return time.Unix(baseTime+int64(DefaultTTL/time.Second)+1, 0)
		}
		return time.Unix(baseTime+1, 0)
	}

	r := New(fetcher, store,
		WithClock(clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	assert.False(t, r.RefreshIfStale())
	r.Wait()
	assert.Equal(t, int32(0), fetcher.calls.Load())
	assert.False(t, r.Stats().Refreshing, "flag must be released")

	// The flag is free again for a real refresh.
	assert.True(t, r.ForceRefresh())
	r.Wait()
	assert.Equal(t, int32(1), fetcher.calls.Load())
}

func TestResolve_InstantFetcherFetchesOnce(t *testing.T) {
	for trial := 0; trial < 50; trial++ {
		clock := &fakeClock{now: baseTime + int64(DefaultTTL/time.Second) + 1}
		store := storedRecord(domain.Table{"iPhone10,3": "iPhone X"}, baseTime)
		fetcher := &fakeFetcher{body: "iPhone10,3;iPhone X\n"}

		r := newTestResolver(t, fetcher, store, clock)

		var wg sync.WaitGroup
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 20; j++ {
					r.Resolve("iPhone10,3")
				}
			}()
		}
		wg.Wait()
		r.Wait()

		require.Equal(t, int32(1), fetcher.calls.Load(), "trial %d", trial)
	}
}

func TestLookup_ReportsHits(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	store := storedRecord(domain.Table{"iPhone10,3": "iPhone X", "Blank1,1": ""}, baseTime)

	r := newTestResolver(t, &fakeFetcher{}, store, clock)

	name, ok := r.Lookup("iPhone10,3")
	assert.True(t, ok)
	assert.Equal(t, "iPhone X", name)

	name, ok = r.Lookup("Blank1,1")
	assert.False(t, ok)
	assert.Equal(t, "Blank1,1", name)

	name, ok = r.Lookup("Unknown9,9")
	assert.False(t, ok)
	assert.Equal(t, "Unknown9,9", name)
}

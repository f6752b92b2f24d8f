package devicenames

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
)

const tracerName = "github.com/lcalzada-xor/devicenames/internal/core/services/devicenames"

// Resolver answers model identifier lookups from an in-memory table and
// keeps that table fresh in the background (stale-while-revalidate).
//
// Thread Safety:
//   - Resolve may be called from any goroutine and never blocks on network I/O.
//   - At most one refresh runs at a time.
type Resolver struct {
	fetcher  ports.Fetcher
	store    ports.RecordStore
	observer ports.RefreshObserver
	logger   *slog.Logger
	tracer   trace.Tracer

	url         string
	ttl         time.Duration
	now         func() time.Time
	rejectEmpty bool

	mu     sync.RWMutex
	record *domain.Record // nil until a table is loaded or fetched

	refreshing atomic.Bool
	inflight   sync.WaitGroup
}

// Stats is a point-in-time view of the resolver state.
type Stats struct {
	Entries     int        `json:"entries"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	HasTable    bool       `json:"has_table"`
	Stale       bool       `json:"stale"`
	Refreshing  bool       `json:"refreshing"`
	TTLSeconds  int64      `json:"ttl_seconds"`
	URL         string     `json:"url"`
}

// New creates a Resolver and loads the persisted record from store.
// A missing or unreadable record leaves the resolver without a table; the
// first Resolve call will then trigger a refresh. store may be nil, in
// which case nothing is persisted.
func New(fetcher ports.Fetcher, store ports.RecordStore, opts ...Option) *Resolver {
	r := &Resolver{
		fetcher:  fetcher,
		store:    store,
		observer: nopObserver{},
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
		url:      DefaultURL,
		ttl:      DefaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.record = r.loadRecord()
	return r
}

func (r *Resolver) loadRecord() *domain.Record {
	if r.store == nil {
		return nil
	}

	rec, err := r.store.Load(context.Background())
	if err != nil {
		r.logger.Warn("Could not load cached device names, starting without a table", "error", err)
		return nil
	}
	if rec == nil {
		r.logger.Info("No cached device names found")
		return nil
	}
	if rec.Table == nil {
		rec.Table = make(domain.Table)
	}

	r.logger.Info("Loaded cached device names",
		"entries", len(rec.Table),
		"last_updated", rec.UpdatedAt().UTC().Format(time.RFC3339))
	return rec
}

// Resolve returns the display name for id, or id itself if the current
// table has no entry for it. A stale or missing table schedules a
// background refresh; Resolve itself never waits for it.
func (r *Resolver) Resolve(id string) string {
	name, _ := r.Lookup(id)
	return name
}

// Lookup is Resolve that also reports whether id was found in the table.
func (r *Resolver) Lookup(id string) (string, bool) {
	r.RefreshIfStale()

	r.mu.RLock()
	rec := r.record
	r.mu.RUnlock()

	if rec != nil {
		if name, ok := rec.Table.Lookup(id); ok && name != "" {
			return name, true
		}
	}
	return id, false
}

// RefreshIfStale starts a background refresh when the table is stale and no
// refresh is already running. It reports whether a refresh was started.
func (r *Resolver) RefreshIfStale() bool {
	if !r.IsStale() {
		return false
	}
	if !r.refreshing.CompareAndSwap(false, true) {
		return false
	}
	// A refresh may have finished between the check and the claim.
	if !r.IsStale() {
		r.refreshing.Store(false)
		return false
	}
	r.startBackground()
	return true
}

// ForceRefresh starts a background refresh regardless of freshness.
// It reports false if a refresh is already running.
func (r *Resolver) ForceRefresh() bool {
	if !r.refreshing.CompareAndSwap(false, true) {
		return false
	}
	r.startBackground()
	return true
}

// Refresh fetches the remote table synchronously. It returns
// domain.ErrRefreshInProgress instead of starting a second fetch.
// Persistence failures are reported to the observer but not returned.
func (r *Resolver) Refresh(ctx context.Context) error {
	if !r.refreshing.CompareAndSwap(false, true) {
		return domain.ErrRefreshInProgress
	}
	defer r.refreshing.Store(false)

	return r.refresh(ctx)
}

// Wait blocks until any background refresh started so far has finished.
// Callers must stop issuing lookups first: a refresh started while Wait
// is already blocked on an idle resolver is not covered.
func (r *Resolver) Wait() {
	r.inflight.Wait()
}

// IsStale reports whether the current table needs a refresh.
func (r *Resolver) IsStale() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.IsStale(r.record, r.now(), r.ttl)
}

// Snapshot returns a copy of the current record.
func (r *Resolver) Snapshot() (domain.Record, bool) {
	r.mu.RLock()
	rec := r.record
	r.mu.RUnlock()

	if rec == nil {
		return domain.Record{}, false
	}
	return domain.Record{Table: rec.Table.Clone(), LastUpdated: rec.LastUpdated}, true
}

// Stats returns the current resolver state.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	rec := r.record
	stale := domain.IsStale(rec, r.now(), r.ttl)
	r.mu.RUnlock()

	stats := Stats{
		Stale:      stale,
		Refreshing: r.refreshing.Load(),
		TTLSeconds: int64(r.ttl / time.Second),
		URL:        r.url,
	}
	if rec != nil {
		stats.HasTable = true
		stats.Entries = len(rec.Table)
		updated := rec.UpdatedAt().UTC()
		stats.LastUpdated = &updated
	}
	return stats
}

// startBackground runs a refresh in a new goroutine. The caller must have
// claimed the refreshing flag; the goroutine releases it.
func (r *Resolver) startBackground() {
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		defer r.refreshing.Store(false)

		// Not tied to the caller: an in-flight refresh always runs to completion.
		_ = r.refresh(context.Background())
	}()
}

// refresh performs fetch, parse, swap and persist. The caller owns the
// refreshing flag.
func (r *Resolver) refresh(ctx context.Context) error {
	refreshID := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "devicenames.refresh",
		trace.WithAttributes(
			attribute.String("devicenames.url", r.url),
			attribute.String("devicenames.refresh_id", refreshID),
		))
	defer span.End()

	logger := r.logger.With("refresh_id", refreshID, "url", r.url)
	logger.Debug("Refreshing device names")
	r.observer.RefreshStarted()

	body, err := r.fetcher.FetchText(ctx, r.url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		logger.Warn("Device name fetch failed, keeping cached table", "error", err)
		r.observer.RefreshFailed(err)
		return err
	}

	table := ParseTable(body)
	if len(table) == 0 {
		if r.rejectEmpty {
			span.SetStatus(codes.Error, "empty table")
			logger.Warn("Remote device table is empty, keeping cached table")
			r.observer.RefreshFailed(domain.ErrEmptyTable)
			return domain.ErrEmptyTable
		}
		logger.Warn("Remote device table is empty, accepting it")
	}

	rec := r.publish(table)
	span.SetAttributes(attribute.Int("devicenames.entries", len(table)))
	logger.Info("Device names refreshed", "entries", len(table))
	r.observer.RefreshSucceeded(len(table), rec.LastUpdated)

	if r.store != nil {
		if err := r.store.Save(ctx, rec); err != nil {
			span.RecordError(err)
			logger.Error("Failed to persist device names", "error", err)
			r.observer.SaveFailed(err)
		}
	}
	return nil
}

// publish swaps in a new record built from table and returns it.
// LastUpdated never moves backwards, even if the wall clock does.
func (r *Resolver) publish(table domain.Table) domain.Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	lastUpdated := r.now().Unix()
	if r.record != nil && r.record.LastUpdated > lastUpdated {
		lastUpdated = r.record.LastUpdated
	}

	rec := domain.Record{Table: table, LastUpdated: lastUpdated}
	r.record = &rec
	return rec
}

var _ ports.DeviceNameResolver = (*Resolver)(nil)

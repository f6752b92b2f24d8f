package telemetry

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
	"github.com/lcalzada-xor/devicenames/internal/core/ports"
)

var (
	// LookupsTotal counts Resolve calls by outcome ("hit" or "fallback")
	LookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devicenames",
			Name:      "lookups_total",
			Help:      "Total number of model identifier lookups",
		},
		[]string{"result"},
	)

	// RefreshesTotal counts refresh attempts by outcome
	RefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "devicenames",
			Name:      "refreshes_total",
			Help:      "Total number of remote table refreshes",
		},
		[]string{"result"},
	)

	// SaveErrorsTotal counts failed persistence writes
	SaveErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "devicenames",
			Name:      "save_errors_total",
			Help:      "Total number of failed attempts to persist the device table",
		},
	)

	// TableEntries reports the size of the table currently in memory
	TableEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devicenames",
			Name:      "table_entries",
			Help:      "Number of entries in the in-memory device table",
		},
	)

	// LastRefreshTimestamp reports the last successful refresh as a unix timestamp
	LastRefreshTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "devicenames",
			Name:      "last_refresh_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(LookupsTotal)
		prometheus.DefaultRegisterer.Register(RefreshesTotal)
		prometheus.DefaultRegisterer.Register(SaveErrorsTotal)
		prometheus.DefaultRegisterer.Register(TableEntries)
		prometheus.DefaultRegisterer.Register(LastRefreshTimestamp)
	})
}

// MetricsObserver records resolver refresh events as Prometheus metrics.
type MetricsObserver struct{}

// NewMetricsObserver returns an observer backed by the package metrics.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

// RefreshStarted implements ports.RefreshObserver
func (MetricsObserver) RefreshStarted() {
	RefreshesTotal.WithLabelValues("started").Inc()
}

// RefreshSucceeded implements ports.RefreshObserver
func (MetricsObserver) RefreshSucceeded(entries int, lastUpdated int64) {
	RefreshesTotal.WithLabelValues("success").Inc()
	TableEntries.Set(float64(entries))
	LastRefreshTimestamp.Set(float64(lastUpdated))
}

// RefreshFailed implements ports.RefreshObserver
func (MetricsObserver) RefreshFailed(err error) {
	RefreshesTotal.WithLabelValues(failureReason(err)).Inc()
}

// SaveFailed implements ports.RefreshObserver
func (MetricsObserver) SaveFailed(error) {
	SaveErrorsTotal.Inc()
}

// RecordLookup counts a lookup; hit is false when the identifier was echoed back.
func RecordLookup(hit bool) {
	if hit {
		LookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	LookupsTotal.WithLabelValues("fallback").Inc()
}

// RecordLoadedTable seeds the gauges from a record loaded at startup.
func RecordLoadedTable(rec domain.Record) {
	TableEntries.Set(float64(len(rec.Table)))
	LastRefreshTimestamp.Set(float64(rec.LastUpdated))
}

func failureReason(err error) string {
	var fetchErr *domain.FetchError
	switch {
	case errors.Is(err, domain.ErrEmptyTable):
		return "empty"
	case errors.As(err, &fetchErr) && fetchErr.StatusCode != 0:
		return "http_status"
	default:
		return "fetch_error"
	}
}

var _ ports.RefreshObserver = (*MetricsObserver)(nil)

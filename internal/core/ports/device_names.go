package ports

import (
	"context"

	"github.com/lcalzada-xor/devicenames/internal/core/domain"
)

// Fetcher downloads the raw remote device table.
type Fetcher interface {
	// FetchText returns the response body of url as text.
	// Transport failures, timeouts and non-2xx responses are reported as
	// *domain.FetchError.
	FetchText(ctx context.Context, url string) (string, error)
}

// RecordStore persists the device name record.
type RecordStore interface {
	// Load returns the stored record, or (nil, nil) if nothing was ever saved.
	// A record that cannot be decoded yields an error wrapping domain.ErrCorruptRecord.
	Load(ctx context.Context) (*domain.Record, error)

	// Save replaces the stored record. A concurrent Load observes either the
	// previous record or the new one, never a mix.
	Save(ctx context.Context, rec domain.Record) error

	// Close releases any resources held by the store.
	Close() error
}

// RefreshObserver receives refresh lifecycle events from the resolver.
// Implementations must be safe for concurrent use and must not block.
type RefreshObserver interface {
	RefreshStarted()
	RefreshSucceeded(entries int, lastUpdated int64)
	RefreshFailed(err error)
	SaveFailed(err error)
}

// DeviceNameResolver resolves model identifiers to display names.
type DeviceNameResolver interface {
	// Resolve returns the display name for id, or id itself when unknown.
	Resolve(id string) string
}

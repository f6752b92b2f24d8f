package devicenames

import (
	"log/slog"
	"time"

	"github.com/lcalzada-xor/devicenames/internal/core/ports"
)

const (
	// DefaultTTL is how long a fetched table stays fresh.
	DefaultTTL = 24 * time.Hour

	// DefaultURL is the location of the remote device list.
	DefaultURL = "http://carat.cs.helsinki.fi/ios-devices.csv"
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(r *Resolver) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithURL overrides DefaultURL.
func WithURL(url string) Option {
	return func(r *Resolver) {
		if url != "" {
			r.url = url
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

// WithObserver installs a hook that is told about every refresh outcome.
func WithObserver(obs ports.RefreshObserver) Option {
	return func(r *Resolver) {
		if obs != nil {
			r.observer = obs
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRejectEmptyTable makes a refresh that parses to zero entries count as
// a failure, so the previous table is kept and the cache stays stale.
func WithRejectEmptyTable() Option {
	return func(r *Resolver) {
		r.rejectEmpty = true
	}
}

type nopObserver struct{}

func (nopObserver) RefreshStarted()             {}
func (nopObserver) RefreshSucceeded(int, int64) {}
func (nopObserver) RefreshFailed(error)         {}
func (nopObserver) SaveFailed(error)            {}

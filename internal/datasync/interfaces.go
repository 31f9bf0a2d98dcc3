package datasync

import (
	"context"
	"time"

	"github.com/richxcame/konversi/pkg/stream"
)

// LastFetchReader returns the time of the last successful fetch, nil if none.
type LastFetchReader func(ctx context.Context) (*time.Time, error)

// LastFetchUpdater records t as the time of the last fetch.
type LastFetchUpdater func(ctx context.Context, t time.Time) error

// FreshnessCheck decides whether lastFetch is recent enough to skip a fetch.
type FreshnessCheck func(lastFetch *time.Time) bool

// UpdateFunc fetches remote data and writes it to the local store.
type UpdateFunc func(ctx context.Context) error

// FetchTimeManager exposes the persisted last fetch time of one data kind.
type FetchTimeManager interface {
	LastFetchTime(ctx context.Context) (*time.Time, error)
	UpdateLastFetchTime(ctx context.Context, t time.Time) error
}

// Syncable is implemented by repositories that can refresh themselves.
type Syncable interface {
	SyncWith(ctx context.Context, s *Synchronizer) (bool, error)
}

// SyncManager reports whether a background sync is in progress.
type SyncManager interface {
	IsSyncing() *stream.StateFlow[bool]
}

// ErrorReporter receives errors the synchronizer swallows.
type ErrorReporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
}

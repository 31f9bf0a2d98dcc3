package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/richxcame/konversi/internal/datasync"
	"github.com/richxcame/konversi/pkg/stream"
	"go.uber.org/zap"
)

const kindCurrencies = "currencies"

// CurrenciesRepository publishes the stored currency list and refreshes it
// from the network source when it goes stale.
type CurrenciesRepository struct {
	network   NetworkDataSource
	local     LocalDataSource
	freshness datasync.FreshnessPolicy
	logger    *zap.Logger

	currencies *stream.StateFlow[[]Currency]
}

// NewCurrenciesRepository creates a repository whose published list follows
// the local store for as long as ctx lives.
func NewCurrenciesRepository(
	ctx context.Context,
	network NetworkDataSource,
	local LocalDataSource,
	freshness datasync.FreshnessPolicy,
	logger *zap.Logger,
) *CurrenciesRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &CurrenciesRepository{
		network:    network,
		local:      local,
		freshness:  freshness,
		logger:     logger.Named("currencies_repository"),
		currencies: stream.NewStateFlow([]Currency{}),
	}

	go stream.MirrorInto(ctx, local.WatchCurrencies(ctx), r.currencies)

	return r
}

// Currencies returns the published currency list.
func (r *CurrenciesRepository) Currencies() *stream.StateFlow[[]Currency] {
	return r.currencies
}

// LastFetchTime returns when currencies were last fetched, nil if never.
func (r *CurrenciesRepository) LastFetchTime(ctx context.Context) (*time.Time, error) {
	return r.local.LastCurrenciesFetchTime(ctx)
}

// UpdateLastFetchTime records t as the last currencies fetch.
func (r *CurrenciesRepository) UpdateLastFetchTime(ctx context.Context, t time.Time) error {
	return r.local.UpdateLastCurrenciesFetchTime(ctx, t)
}

// SyncWith refreshes the currency list through s.
func (r *CurrenciesRepository) SyncWith(ctx context.Context, s *datasync.Synchronizer) (bool, error) {
	return s.SyncData(ctx, kindCurrencies, r.LastFetchTime, r.UpdateLastFetchTime, r.freshness.StillValid, r.update)
}

func (r *CurrenciesRepository) update(ctx context.Context) error {
	currencies, err := r.network.FetchCurrencies(ctx)
	if err != nil {
		return fmt.Errorf("fetch currencies: %w", err)
	}

	if err := r.local.UpsertCurrencies(ctx, currencies); err != nil {
		return fmt.Errorf("store currencies: %w", err)
	}

	r.logger.Debug("currencies stored", zap.Int("count", len(currencies)))
	return nil
}

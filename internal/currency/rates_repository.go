package currency

import (
	"context"
	"fmt"
	"time"

	"github.com/richxcame/konversi/internal/datasync"
	"github.com/richxcame/konversi/pkg/stream"
	"go.uber.org/zap"
)

const kindCurrencyRates = "currency_rates"

// CurrencyRateRepository publishes the stored rate list, refreshes it from
// the network source and re-expresses it against a chosen currency.
type CurrencyRateRepository struct {
	network   NetworkDataSource
	local     LocalDataSource
	freshness datasync.FreshnessPolicy
	logger    *zap.Logger

	rates *stream.StateFlow[[]CurrencyRate]
}

// NewCurrencyRateRepository creates a repository whose published rates follow
// the local store for as long as ctx lives.
func NewCurrencyRateRepository(
	ctx context.Context,
	network NetworkDataSource,
	local LocalDataSource,
	freshness datasync.FreshnessPolicy,
	logger *zap.Logger,
) *CurrencyRateRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &CurrencyRateRepository{
		network:   network,
		local:     local,
		freshness: freshness,
		logger:    logger.Named("currency_rate_repository"),
		rates:     stream.NewStateFlow([]CurrencyRate{}),
	}

	go stream.MirrorInto(ctx, local.WatchCurrencyRates(ctx), r.rates)

	return r
}

// CurrencyRates returns the published rate list. After ConvertCurrencyRate it
// holds converted values until the store emits again.
func (r *CurrencyRateRepository) CurrencyRates() *stream.StateFlow[[]CurrencyRate] {
	return r.rates
}

// LastFetchTime returns when rates were last fetched, nil if never.
func (r *CurrencyRateRepository) LastFetchTime(ctx context.Context) (*time.Time, error) {
	return r.local.LastCurrencyRatesFetchTime(ctx)
}

// UpdateLastFetchTime records t as the last rates fetch.
func (r *CurrencyRateRepository) UpdateLastFetchTime(ctx context.Context, t time.Time) error {
	return r.local.UpdateLastCurrencyRatesFetchTime(ctx, t)
}

// SyncWith refreshes the rate table through s.
func (r *CurrencyRateRepository) SyncWith(ctx context.Context, s *datasync.Synchronizer) (bool, error) {
	return s.SyncData(ctx, kindCurrencyRates, r.LastFetchTime, r.UpdateLastFetchTime, r.freshness.StillValid, r.update)
}

func (r *CurrencyRateRepository) update(ctx context.Context) error {
	resp, err := r.network.FetchCurrencyRates(ctx)
	if err != nil {
		return fmt.Errorf("fetch currency rates: %w", err)
	}

	if err := r.local.UpsertCurrencyRates(ctx, resp.Rates); err != nil {
		return fmt.Errorf("store currency rates: %w", err)
	}

	r.logger.Debug("currency rates stored", zap.Int("count", len(resp.Rates)), zap.String("base", resp.Base))
	return nil
}

// ConvertCurrencyRate replaces the published rates with the value of value
// units of targetCode in every stored currency. On any error the published
// rates are left untouched.
func (r *CurrencyRateRepository) ConvertCurrencyRate(ctx context.Context, value float64, targetCode string) error {
	target, err := r.local.CurrencyRate(ctx, targetCode)
	if err != nil {
		return fmt.Errorf("look up %s rate: %w", targetCode, err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	current, err := stream.First(watchCtx, r.local.WatchCurrencyRates(watchCtx))
	if err != nil {
		return fmt.Errorf("read currency rates: %w", err)
	}

	converted := make([]CurrencyRate, 0, len(current))
	for _, row := range current {
		rate, err := CalculateRate(value, target.Rate, row.Rate)
		if err != nil {
			return fmt.Errorf("convert %s: %w", row.Currency.Code, err)
		}
		converted = append(converted, CurrencyRate{Currency: row.Currency, Rate: rate})
	}

	r.rates.Set(converted)
	return nil
}

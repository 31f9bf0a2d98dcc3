package currency

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a currency rate lookup has no match.
var ErrNotFound = errors.New("currency rate not found")

// NetworkDataSource fetches currencies and rates from the remote provider
type NetworkDataSource interface {
	FetchCurrencies(ctx context.Context) ([]Currency, error)
	FetchCurrencyRates(ctx context.Context) (*CurrencyRateResponse, error)
}

// LocalDataSource is the persistent store backing both repositories.
// Watch methods emit the current contents immediately and again after every
// change until ctx is done.
type LocalDataSource interface {
	WatchCurrencies(ctx context.Context) <-chan []Currency
	WatchCurrencyRates(ctx context.Context) <-chan []CurrencyRate
	CurrencyRate(ctx context.Context, code string) (*CurrencyRate, error)

	UpsertCurrencies(ctx context.Context, currencies []Currency) error
	UpsertCurrencyRates(ctx context.Context, rates map[string]float64) error

	LastCurrenciesFetchTime(ctx context.Context) (*time.Time, error)
	UpdateLastCurrenciesFetchTime(ctx context.Context, t time.Time) error
	LastCurrencyRatesFetchTime(ctx context.Context) (*time.Time, error)
	UpdateLastCurrencyRatesFetchTime(ctx context.Context, t time.Time) error
}

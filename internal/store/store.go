package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/richxcame/konversi/internal/currency"
	"github.com/richxcame/konversi/pkg/stream"
	"go.uber.org/zap"
)

const (
	queryListCurrencies = `
		SELECT code, name
		FROM currencies
		ORDER BY code
	`

	queryListCurrencyRates = `
		SELECT r.code, c.name, r.rate
		FROM currency_rates r
		JOIN currencies c ON c.code = r.code
		ORDER BY r.code
	`

	queryGetCurrencyRate = `
		SELECT r.code, c.name, r.rate
		FROM currency_rates r
		JOIN currencies c ON c.code = r.code
		WHERE r.code = $1
	`

	queryUpsertCurrency = `
		INSERT INTO currencies (code, name)
		VALUES ($1, $2)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
	`

	// Rows for codes without a currencies row are skipped instead of
	// failing the foreign key.
	queryUpsertCurrencyRate = `
		INSERT INTO currency_rates (code, rate)
		SELECT $1::text, $2::double precision
		WHERE EXISTS (SELECT 1 FROM currencies WHERE code = $1::text)
		ON CONFLICT (code) DO UPDATE SET rate = EXCLUDED.rate
	`

	queryLastCurrenciesFetch = `SELECT last_currencies_fetch FROM success_fetch WHERE id = 1`

	queryLastCurrencyRatesFetch = `SELECT last_currency_rate_fetch FROM success_fetch WHERE id = 1`

	queryUpdateCurrenciesFetch = `
		INSERT INTO success_fetch (id, last_currencies_fetch)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_currencies_fetch = EXCLUDED.last_currencies_fetch
	`

	queryUpdateCurrencyRatesFetch = `
		INSERT INTO success_fetch (id, last_currency_rate_fetch)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_currency_rate_fetch = EXCLUDED.last_currency_rate_fetch
	`
)

// Store is the Postgres-backed local data source. Writers bump a per-table
// version and watchers re-query whenever the version they follow changes.
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	currenciesVersion *stream.StateFlow[uint64]
	ratesVersion      *stream.StateFlow[uint64]
}

// New creates a new Store
func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:                db,
		logger:            logger.Named("store"),
		currenciesVersion: stream.NewStateFlow(uint64(0)),
		ratesVersion:      stream.NewStateFlow(uint64(0)),
	}
}

// WatchCurrencies emits the currency list now and after every change.
func (s *Store) WatchCurrencies(ctx context.Context) <-chan []currency.Currency {
	return watch(ctx, s, "currencies", s.currenciesVersion, s.ListCurrencies)
}

// WatchCurrencyRates emits the rate list now and after every change to
// either the rates or the currencies table.
func (s *Store) WatchCurrencyRates(ctx context.Context) <-chan []currency.CurrencyRate {
	return watch(ctx, s, "currency_rates", s.ratesVersion, s.ListCurrencyRates)
}

// Invalidate forces every watcher to re-query, e.g. after another instance
// wrote to the shared database.
func (s *Store) Invalidate() {
	s.bump(s.currenciesVersion)
	s.bump(s.ratesVersion)
}

// ListCurrencies returns all currencies ordered by code
func (s *Store) ListCurrencies(ctx context.Context) ([]currency.Currency, error) {
	rows, err := s.db.QueryContext(ctx, queryListCurrencies)
	if err != nil {
		return nil, fmt.Errorf("failed to list currencies: %w", err)
	}
	defer rows.Close()

	currencies := make([]currency.Currency, 0)
	for rows.Next() {
		var c currency.Currency
		if err := rows.Scan(&c.Code, &c.Name); err != nil {
			return nil, fmt.Errorf("failed to scan currency: %w", err)
		}
		currencies = append(currencies, c)
	}

	return currencies, rows.Err()
}

// ListCurrencyRates returns all rates joined with their currency, ordered by code
func (s *Store) ListCurrencyRates(ctx context.Context) ([]currency.CurrencyRate, error) {
	rows, err := s.db.QueryContext(ctx, queryListCurrencyRates)
	if err != nil {
		return nil, fmt.Errorf("failed to list currency rates: %w", err)
	}
	defer rows.Close()

	rates := make([]currency.CurrencyRate, 0)
	for rows.Next() {
		var r currency.CurrencyRate
		if err := rows.Scan(&r.Currency.Code, &r.Currency.Name, &r.Rate); err != nil {
			return nil, fmt.Errorf("failed to scan currency rate: %w", err)
		}
		rates = append(rates, r)
	}

	return rates, rows.Err()
}

// CurrencyRate returns the rate for a single currency code
func (s *Store) CurrencyRate(ctx context.Context, code string) (*currency.CurrencyRate, error) {
	r := &currency.CurrencyRate{}
	err := s.db.QueryRowContext(ctx, queryGetCurrencyRate, code).Scan(&r.Currency.Code, &r.Currency.Name, &r.Rate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", currency.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get currency rate: %w", err)
	}
	return r, nil
}

// UpsertCurrencies inserts or replaces currencies by code in one transaction
func (s *Store) UpsertCurrencies(ctx context.Context, currencies []currency.Currency) error {
	err := s.inTx(ctx, queryUpsertCurrency, func(stmt *sql.Stmt) error {
		for _, c := range currencies {
			if _, err := stmt.ExecContext(ctx, c.Code, c.Name); err != nil {
				return fmt.Errorf("failed to upsert currency %s: %w", c.Code, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bump(s.currenciesVersion)
	s.bump(s.ratesVersion)
	return nil
}

// UpsertCurrencyRates inserts or replaces rates by code in one transaction.
// Codes without a stored currency are dropped silently.
func (s *Store) UpsertCurrencyRates(ctx context.Context, rates map[string]float64) error {
	codes := make([]string, 0, len(rates))
	for code := range rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var dropped int64
	err := s.inTx(ctx, queryUpsertCurrencyRate, func(stmt *sql.Stmt) error {
		for _, code := range codes {
			res, err := stmt.ExecContext(ctx, code, rates[code])
			if err != nil {
				return fmt.Errorf("failed to upsert rate %s: %w", code, err)
			}
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				dropped++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if dropped > 0 {
		s.logger.Debug("dropped rates for unknown currencies", zap.Int64("count", dropped))
	}
	s.bump(s.ratesVersion)
	return nil
}

// LastCurrenciesFetchTime returns the last currencies fetch, nil if never
func (s *Store) LastCurrenciesFetchTime(ctx context.Context) (*time.Time, error) {
	return s.lastFetch(ctx, queryLastCurrenciesFetch)
}

// UpdateLastCurrenciesFetchTime records the last currencies fetch
func (s *Store) UpdateLastCurrenciesFetchTime(ctx context.Context, t time.Time) error {
	return s.updateFetch(ctx, queryUpdateCurrenciesFetch, t)
}

// LastCurrencyRatesFetchTime returns the last rates fetch, nil if never
func (s *Store) LastCurrencyRatesFetchTime(ctx context.Context) (*time.Time, error) {
	return s.lastFetch(ctx, queryLastCurrencyRatesFetch)
}

// UpdateLastCurrencyRatesFetchTime records the last rates fetch
func (s *Store) UpdateLastCurrencyRatesFetchTime(ctx context.Context, t time.Time) error {
	return s.updateFetch(ctx, queryUpdateCurrencyRatesFetch, t)
}

func (s *Store) lastFetch(ctx context.Context, query string) (*time.Time, error) {
	var ts sql.NullTime
	err := s.db.QueryRowContext(ctx, query).Scan(&ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read last fetch time: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	t := ts.Time
	return &t, nil
}

func (s *Store) updateFetch(ctx context.Context, query string, t time.Time) error {
	if _, err := s.db.ExecContext(ctx, query, t.UTC()); err != nil {
		return fmt.Errorf("failed to update last fetch time: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) bump(version *stream.StateFlow[uint64]) {
	version.Update(func(v uint64) uint64 { return v + 1 })
}

// watch re-runs query every time version changes and forwards the result.
// Failed queries are logged and skipped.
func watch[T any](
	ctx context.Context,
	s *Store,
	table string,
	version *stream.StateFlow[uint64],
	query func(context.Context) (T, error),
) <-chan T {
	out := make(chan T, 1)
	ticks := version.Subscribe(ctx)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ticks:
				if !ok {
					return
				}
				result, err := query(ctx)
				if err != nil {
					if ctx.Err() == nil {
						s.logger.Warn("watch query failed", zap.String("table", table), zap.Error(err))
					}
					continue
				}
				select {
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out
}

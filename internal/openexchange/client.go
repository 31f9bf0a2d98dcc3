package openexchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"github.com/richxcame/konversi/internal/currency"
	"github.com/richxcame/konversi/pkg/httpclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultBaseURL is the public Open Exchange Rates API.
const DefaultBaseURL = "https://openexchangerates.org/api"

const tracerName = "github.com/richxcame/konversi/internal/openexchange"

var acceptJSON = map[string]string{"Accept": "application/json"}

// Client fetches currencies and USD based rates from Open Exchange Rates
type Client struct {
	http   *httpclient.Client
	appID  string
	logger *zap.Logger
	tracer trace.Tracer
}

// NewClient creates a new Client
func NewClient(http *httpclient.Client, appID string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:   http,
		appID:  appID,
		logger: logger.Named("openexchange"),
		tracer: otel.Tracer(tracerName),
	}
}

type latestResponse struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	Timestamp int64              `json:"timestamp"`
}

// FetchCurrencyRates returns the latest rates against USD
func (c *Client) FetchCurrencyRates(ctx context.Context) (*currency.CurrencyRateResponse, error) {
	q := url.Values{}
	q.Set("app_id", c.appID)
	q.Set("base", currency.PivotCurrency)
	q.Set("prettyprint", "true")
	q.Set("show_alternative", "false")

	body, err := c.get(ctx, "latest.json", q)
	if err != nil {
		return nil, err
	}

	var resp latestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("openexchange: failed to decode rates: %w", err)
	}

	c.logger.Debug("fetched currency rates", zap.Int("count", len(resp.Rates)), zap.Int64("timestamp", resp.Timestamp))
	return &currency.CurrencyRateResponse{
		Base:      resp.Base,
		Rates:     resp.Rates,
		Timestamp: resp.Timestamp,
	}, nil
}

// FetchCurrencies returns every active currency sorted by code
func (c *Client) FetchCurrencies(ctx context.Context) ([]currency.Currency, error) {
	q := url.Values{}
	q.Set("app_id", c.appID)
	q.Set("prettyprint", "true")
	q.Set("show_alternative", "false")
	q.Set("show_inactive", "false")

	body, err := c.get(ctx, "currencies.json", q)
	if err != nil {
		return nil, err
	}

	var names map[string]string
	if err := json.Unmarshal(body, &names); err != nil {
		return nil, fmt.Errorf("openexchange: failed to decode currencies: %w", err)
	}

	currencies := make([]currency.Currency, 0, len(names))
	for code, name := range names {
		currencies = append(currencies, currency.Currency{Code: code, Name: name})
	}
	sort.Slice(currencies, func(i, j int) bool { return currencies[i].Code < currencies[j].Code })

	c.logger.Debug("fetched currencies", zap.Int("count", len(currencies)))
	return currencies, nil
}

func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "openexchange."+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := c.http.Get(ctx, endpoint+"?"+q.Encode(), acceptJSON)
	if err != nil {
		err = wrapError(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if httpErr, ok := err.(*HTTPError); ok {
			span.SetAttributes(attribute.Int("http.status_code", httpErr.StatusCode))
			c.logger.Warn("api request failed",
				zap.String("endpoint", endpoint),
				zap.Int("status", httpErr.StatusCode),
				zap.String("reason", httpErr.Reason),
			)
		}
		return nil, err
	}

	return body, nil
}

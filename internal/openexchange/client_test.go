package openexchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/konversi/internal/currency"
	"github.com/richxcame/konversi/pkg/httpclient"
	"github.com/richxcame/konversi/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ currency.NetworkDataSource = (*Client)(nil)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(httpclient.NewClient(server.URL+"/api"), "test-app-id", zap.NewNop())
}

func TestFetchCurrencyRates(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/latest.json", r.URL.Path)
		assert.Equal(t, "test-app-id", r.URL.Query().Get("app_id"))
		assert.Equal(t, "USD", r.URL.Query().Get("base"))
		assert.Equal(t, "true", r.URL.Query().Get("prettyprint"))
		assert.Equal(t, "false", r.URL.Query().Get("show_alternative"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"disclaimer": "Usage subject to terms",
			"license": "https://openexchangerates.org/license",
			"timestamp": 1714564800,
			"base": "USD",
			"rates": {"IDR": 15878.75, "JPY": 149.86, "USD": 1}
		}`))
	})

	resp, err := client.FetchCurrencyRates(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "USD", resp.Base)
	assert.Equal(t, int64(1714564800), resp.Timestamp)
	assert.Equal(t, map[string]float64{"IDR": 15878.75, "JPY": 149.86, "USD": 1}, resp.Rates)
}

func TestFetchCurrencies_SortedByCode(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/currencies.json", r.URL.Path)
		assert.Equal(t, "false", r.URL.Query().Get("show_inactive"))
		w.Write([]byte(`{"USD": "United States Dollar", "AED": "United Arab Emirates Dirham", "JPY": "Japanese Yen"}`))
	})

	got, err := client.FetchCurrencies(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []currency.Currency{
		{Code: "AED", Name: "United Arab Emirates Dirham"},
		{Code: "JPY", Name: "Japanese Yen"},
		{Code: "USD", Name: "United States Dollar"},
	}, got)
}

func TestFetch_ErrorCategories(t *testing.T) {
	tests := []struct {
		status   int
		category Category
		reason   string
	}{
		{http.StatusBadRequest, CategoryUnsupportedBase, "Client requested rates for an unsupported base currency"},
		{http.StatusUnauthorized, CategoryUnauthorized, "App Client ID is invalid or missing"},
		{http.StatusForbidden, CategoryForbidden, "Access restricted"},
		{http.StatusNotFound, CategoryNotFound, "Client requested a non-existent resource/route"},
		{http.StatusTooManyRequests, CategoryRateLimited, "Client doesn't have permission to access requested route/feature"},
		{http.StatusInternalServerError, CategoryNetwork, "Network error!"},
		{http.StatusBadGateway, CategoryNetwork, "Network error!"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error": true, "message": "nope"}`))
			})

			_, err := client.FetchCurrencyRates(context.Background())

			var httpErr *HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, tt.category, httpErr.Category)
			assert.Equal(t, tt.reason, httpErr.Reason)
			assert.Contains(t, httpErr.Body, "nope")
		})
	}
}

func TestFetchCurrencies_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[1, 2, 3]`))
	})

	_, err := client.FetchCurrencies(context.Background())

	assert.ErrorContains(t, err, "failed to decode currencies")
}

func TestFetch_TransportErrorIsNotHTTPError(t *testing.T) {
	client := NewClient(httpclient.NewClient("http://127.0.0.1:1", 200*time.Millisecond), "id", nil)

	_, err := client.FetchCurrencyRates(context.Background())

	require.Error(t, err)
	var httpErr *HTTPError
	assert.False(t, errors.As(err, &httpErr))
}

func TestFetch_RetriesTransientStatus(t *testing.T) {
	var attempts atomic.Int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"base": "USD", "rates": {"EUR": 0.92}}`))
	})
	client.http.Apply(httpclient.WithRetry(resilience.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}))

	resp, err := client.FetchCurrencyRates(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 0.92, resp.Rates["EUR"])
	assert.Equal(t, int32(2), attempts.Load())
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{StatusCode: 401, Reason: "App Client ID is invalid or missing"}
	assert.Equal(t, "openexchange: App Client ID is invalid or missing (HTTP 401)", err.Error())
}

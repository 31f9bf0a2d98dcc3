package openexchange

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/richxcame/konversi/pkg/httpclient"
)

// Category classifies a failed API call.
type Category string

const (
	CategoryUnsupportedBase Category = "unsupported_base"
	CategoryUnauthorized    Category = "unauthorized"
	CategoryForbidden       Category = "forbidden"
	CategoryNotFound        Category = "not_found"
	CategoryRateLimited     Category = "rate_limited"
	CategoryNetwork         Category = "network"
)

// HTTPError is returned for non-2xx responses from the API.
type HTTPError struct {
	StatusCode int
	Category   Category
	Reason     string
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("openexchange: %s (HTTP %d)", e.Reason, e.StatusCode)
}

// classify maps a status code to its category and human readable reason.
func classify(statusCode int) (Category, string) {
	switch statusCode {
	case http.StatusBadRequest:
		return CategoryUnsupportedBase, "Client requested rates for an unsupported base currency"
	case http.StatusUnauthorized:
		return CategoryUnauthorized, "App Client ID is invalid or missing"
	case http.StatusForbidden:
		return CategoryForbidden, "Access restricted"
	case http.StatusNotFound:
		return CategoryNotFound, "Client requested a non-existent resource/route"
	case http.StatusTooManyRequests:
		return CategoryRateLimited, "Client doesn't have permission to access requested route/feature"
	default:
		return CategoryNetwork, "Network error!"
	}
}

// wrapError converts transport level HTTP errors into *HTTPError.
func wrapError(err error) error {
	var httpErr *httpclient.HTTPError
	if !errors.As(err, &httpErr) {
		return err
	}
	category, reason := classify(httpErr.StatusCode)
	return &HTTPError{
		StatusCode: httpErr.StatusCode,
		Category:   category,
		Reason:     reason,
		Body:       httpErr.Body,
	}
}

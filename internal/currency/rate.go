package currency

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrNaN      = errors.New("value shouldn't be NaN")
	ErrInfinite = errors.New("value shouldn't be infinite")
	ErrZero     = errors.New("value shouldn't be zero")
)

// ValidationError reports which argument of a rate calculation was rejected.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// CalculateRate converts value, expressed in a currency worth initialToUSD
// per pivot unit, into a currency worth targetToUSD per pivot unit.
func CalculateRate(value, initialToUSD, targetToUSD float64) (float64, error) {
	args := []struct {
		field string
		v     float64
	}{
		{"value", value},
		{"initial_to_usd", initialToUSD},
		{"target_to_usd", targetToUSD},
	}

	for _, a := range args {
		if math.IsNaN(a.v) {
			return 0, &ValidationError{Field: a.field, Err: ErrNaN}
		}
	}
	for _, a := range args {
		if math.IsInf(a.v, 0) {
			return 0, &ValidationError{Field: a.field, Err: ErrInfinite}
		}
	}
	if initialToUSD == 0 {
		return 0, &ValidationError{Field: "initial_to_usd", Err: ErrZero}
	}
	if targetToUSD == 0 {
		return 0, &ValidationError{Field: "target_to_usd", Err: ErrZero}
	}

	return value / initialToUSD * targetToUSD, nil
}

// FormatAmount renders v with a fixed number of decimal places for display.
func FormatAmount(v float64, places int32) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Sprint(v)
	}
	return decimal.NewFromFloat(v).StringFixed(places)
}

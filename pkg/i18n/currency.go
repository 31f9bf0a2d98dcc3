// Package i18n formats currency amounts for display.
package i18n

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

const defaultMinorUnits = 2

// currencySymbols maps ISO 4217 currency codes to their display symbol.
var currencySymbols = map[string]struct {
	symbol string
	prefix bool // true = "$12.50", false = "12.50 TMT"
}{
	"USD": {"$", true},
	"EUR": {"€", true},
	"GBP": {"£", true},
	"JPY": {"¥", true},
	"CNY": {"¥", true},
	"KRW": {"₩", true},
	"INR": {"₹", true},
	"IDR": {"Rp", true},
	"TRY": {"₺", true},
	"RUB": {"₽", true},
	"BRL": {"R$", true},
	"MXN": {"$", true},
	"AED": {"د.إ", false},
	"KZT": {"₸", false},
	"UZS": {"сум", false},
	"TMT": {"TMT", false},
	"NGN": {"₦", true},
	"KES": {"KSh", true},
	"ZAR": {"R", true},
	"EGP": {"E£", true},
	"PKR": {"₨", true},
}

// minorUnits lists currencies whose ISO 4217 exponent is not 2.
var minorUnits = map[string]int32{
	"BIF": 0, "CLP": 0, "DJF": 0, "GNF": 0, "ISK": 0, "JPY": 0, "KMF": 0,
	"KRW": 0, "PYG": 0, "RWF": 0, "UGX": 0, "VND": 0, "VUV": 0, "XAF": 0,
	"XOF": 0, "XPF": 0,
	"BHD": 3, "IQD": 3, "JOD": 3, "KWD": 3, "LYD": 3, "OMR": 3, "TND": 3,
}

// MinorUnits returns the number of decimal places code is written with.
func MinorUnits(currencyCode string) int32 {
	if n, ok := minorUnits[currencyCode]; ok {
		return n
	}
	return defaultMinorUnits
}

// FormatAmount returns a human-readable amount string with the currency symbol.
// Examples:
//
//	FormatAmount(15.5, "USD")  → "$15.50"
//	FormatAmount(1500, "JPY")  → "¥1500"
//	FormatAmount(150.0, "TMT") → "150.00 TMT"
//	FormatAmount(1.5, "KWD")   → "1.500 KWD"
func FormatAmount(amount float64, currencyCode string) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fmt.Sprintf("%v %s", amount, currencyCode)
	}

	value := decimal.NewFromFloat(amount).StringFixed(MinorUnits(currencyCode))

	info, ok := currencySymbols[currencyCode]
	if !ok {
		return value + " " + currencyCode
	}
	if info.prefix {
		return info.symbol + value
	}
	return value + " " + info.symbol
}

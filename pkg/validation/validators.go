package validation

import (
	"unicode"

	"github.com/go-playground/validator/v10"
)

// TagCurrencyCode validates a currency code as the rate source publishes it.
const TagCurrencyCode = "currencycode"

// MaxCurrencyCodeLen bounds the length of a currency code in bytes.
const MaxCurrencyCodeLen = 16

// RegisterCustomValidators adds the service's tags to v.
func RegisterCustomValidators(v *validator.Validate) error {
	return v.RegisterValidation(TagCurrencyCode, func(fl validator.FieldLevel) bool {
		return IsCurrencyCode(fl.Field().String())
	})
}

// IsCurrencyCode reports whether code could name a currency. Codes are not
// limited to three letters; crypto and alternative codes such as USDT or
// VES_PAR are accepted. Empty codes, whitespace and control characters are
// rejected.
func IsCurrencyCode(code string) bool {
	if code == "" || len(code) > MaxCurrencyCodeLen {
		return false
	}
	for _, r := range code {
		if unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

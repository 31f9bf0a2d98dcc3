package home

import (
	"github.com/richxcame/konversi/internal/currency"
	"github.com/richxcame/konversi/pkg/i18n"
)

// ViewStatus tells whether a view has anything to show.
type ViewStatus string

const (
	StatusEmpty   ViewStatus = "empty"
	StatusSuccess ViewStatus = "success"
)

// CurrenciesViewState is the currency picker state.
type CurrenciesViewState struct {
	Status     ViewStatus          `json:"status"`
	Currencies []currency.Currency `json:"currencies,omitempty"`
}

// ConversionRate is a rate ready for display.
type ConversionRate struct {
	Currency currency.Currency `json:"currency"`
	Rate     float64           `json:"rate"`
	Amount   string            `json:"amount"`
	Display  string            `json:"display"`
}

// ConversionRatesViewState is the converted rate list state.
type ConversionRatesViewState struct {
	Status ViewStatus       `json:"status"`
	Rates  []ConversionRate `json:"rates,omitempty"`
}

// Snapshot is the full screen state pushed to clients.
type Snapshot struct {
	Input      float64                  `json:"input"`
	Selected   string                   `json:"selected"`
	IsSyncing  bool                     `json:"is_syncing"`
	IsOnline   bool                     `json:"is_online"`
	Currencies CurrenciesViewState      `json:"currencies"`
	Rates      ConversionRatesViewState `json:"rates"`
}

// InputRequest carries raw amount text as typed by the user.
type InputRequest struct {
	Text string `json:"text" binding:"max=64"`
}

// SelectRequest selects the currency the amount is expressed in.
type SelectRequest struct {
	Code string `json:"code" binding:"required,currencycode"`
}

func currenciesViewState(currencies []currency.Currency) CurrenciesViewState {
	if len(currencies) == 0 {
		return CurrenciesViewState{Status: StatusEmpty}
	}
	return CurrenciesViewState{Status: StatusSuccess, Currencies: currencies}
}

func conversionRatesViewState(rates []currency.CurrencyRate) ConversionRatesViewState {
	if len(rates) == 0 {
		return ConversionRatesViewState{Status: StatusEmpty}
	}
	out := make([]ConversionRate, len(rates))
	for i, r := range rates {
		out[i] = ConversionRate{
			Currency: r.Currency,
			Rate:     r.Rate,
			Amount:   currency.FormatAmount(r.Rate, i18n.MinorUnits(r.Currency.Code)),
			Display:  i18n.FormatAmount(r.Rate, r.Currency.Code),
		}
	}
	return ConversionRatesViewState{Status: StatusSuccess, Rates: out}
}

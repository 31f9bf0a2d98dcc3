package currency

// PivotCurrency is the currency every stored rate is expressed against.
const PivotCurrency = "USD"

// Currency represents a currency known to the exchange rate provider
type Currency struct {
	Code string `json:"code" db:"code"`
	Name string `json:"name" db:"name"`
}

// CurrencyRate is the amount of Currency that equals one unit of the pivot
// currency, or, after a conversion, one unit of the selected currency.
type CurrencyRate struct {
	Currency Currency `json:"currency"`
	Rate     float64  `json:"rate" db:"rate"`
}

// CurrencyRateResponse is the rate table returned by the network source
type CurrencyRateResponse struct {
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	Timestamp int64              `json:"timestamp"`
}

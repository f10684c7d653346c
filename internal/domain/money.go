package domain

import "github.com/shopspring/decimal"

// Money carries one amount per till currency. Arithmetic is component-wise;
// amounts are never derived from each other through an exchange rate here.
type Money struct {
	USD decimal.Decimal `json:"usd"`
	VES decimal.Decimal `json:"ves"`
}

func NewMoney(usd, ves decimal.Decimal) Money {
	return Money{USD: usd, VES: ves}
}

func (m Money) Add(other Money) Money {
	return Money{USD: m.USD.Add(other.USD), VES: m.VES.Add(other.VES)}
}

func (m Money) Sub(other Money) Money {
	return Money{USD: m.USD.Sub(other.USD), VES: m.VES.Sub(other.VES)}
}

func (m Money) IsZero() bool {
	return m.USD.IsZero() && m.VES.IsZero()
}

// IsNegative reports whether either component is below zero.
func (m Money) IsNegative() bool {
	return m.USD.IsNegative() || m.VES.IsNegative()
}

func (m Money) Get(currency Currency) decimal.Decimal {
	if currency == CurrencyVES {
		return m.VES
	}
	return m.USD
}

func (m Money) String() string {
	return "$" + m.USD.String() + " / Bs " + m.VES.String()
}

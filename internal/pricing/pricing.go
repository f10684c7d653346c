package pricing

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/domain"
)

var ErrRateNotFound = errors.New("exchange rate not found")

// Engine converts between currencies through an explicit directed rate
// table. No rate is ever inverted implicitly: USD->VES being registered
// says nothing about VES->USD.
type Engine struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

func NewEngine() *Engine {
	return &Engine{rates: make(map[string]decimal.Decimal, 4)}
}

func (e *Engine) SetRate(from, to domain.Currency, rate decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rates[rateKey(from, to)] = rate
}

func (e *Engine) Convert(amount decimal.Decimal, from, to domain.Currency) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	e.mu.RLock()
	rate, ok := e.rates[rateKey(from, to)]
	e.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s->%s", ErrRateNotFound, from, to)
	}
	return amount.Mul(rate), nil
}

func rateKey(from, to domain.Currency) string {
	return string(from) + "->" + string(to)
}

type LineTotals struct {
	Subtotal domain.Money
	Tax      domain.Money
	Total    domain.Money
}

// ComputeLineTotals prices one cart line. Each currency is computed from
// its own native catalog price; totals are never derived from the other
// currency through whatever rate happened to be current at catalog time.
func ComputeLineTotals(priceUSD, priceVES, quantity, taxRate decimal.Decimal) LineTotals {
	subtotal := domain.NewMoney(priceUSD.Mul(quantity), priceVES.Mul(quantity))
	tax := domain.NewMoney(subtotal.USD.Mul(taxRate), subtotal.VES.Mul(taxRate))
	return LineTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Total:    subtotal.Add(tax),
	}
}

// SumLines aggregates per-line figures by pure summation.
func SumLines(lines []domain.CartLine) LineTotals {
	var totals LineTotals
	for _, line := range lines {
		totals.Subtotal = totals.Subtotal.Add(line.Subtotal)
		totals.Tax = totals.Tax.Add(line.Tax)
		totals.Total = totals.Total.Add(line.Total)
	}
	return totals
}

// CashLevy computes the statutory surcharge on cash settlement. The levy
// is assessed in its native currency (USD) on the pre-levy total and
// converted to VES with the supplied rate only; it is itemized apart from
// product tax and must never be merged into the tax line.
func CashLevy(preLevyTotal domain.Money, levyRate, usdToVES decimal.Decimal) domain.Money {
	levyUSD := preLevyTotal.USD.Mul(levyRate)
	return domain.NewMoney(levyUSD, levyUSD.Mul(usdToVES))
}

// CalculateChange returns max(0, paid-total) for a single currency.
func CalculateChange(total, paid decimal.Decimal) decimal.Decimal {
	change := paid.Sub(total)
	if change.IsNegative() {
		return decimal.Zero
	}
	return change
}

// CalculateMixedChange settles a dual-currency total against a payment
// list. USD tendered covers the USD-denominated total first; whatever
// obligation remains is expressed in VES with the supplied rate and
// settled from VES tendered. Each change component is independently >= 0;
// a shortfall in one currency is never papered over by overpayment in the
// other without this explicit conversion step.
func CalculateMixedChange(total domain.Money, payments []domain.Payment, usdToVES decimal.Decimal) (change domain.Money, paid domain.Money) {
	for _, payment := range payments {
		paid = paid.Add(payment.Amount)
	}

	change.USD = CalculateChange(total.USD, paid.USD)
	owedUSD := total.USD.Sub(paid.USD)
	if owedUSD.IsNegative() {
		owedUSD = decimal.Zero
	}
	change.VES = CalculateChange(owedUSD.Mul(usdToVES), paid.VES)
	return change, paid
}

// LevyAccumulator tracks cash levy collected since the last declaration
// reset. It is constructed once by the host and handed to every
// calculation; resetting returns the previous totals so the caller can
// record the mandatory ledger adjustment - never silently.
type LevyAccumulator struct {
	mu    sync.Mutex
	total domain.Money
}

func NewLevyAccumulator() *LevyAccumulator {
	return &LevyAccumulator{}
}

func (a *LevyAccumulator) Add(levy domain.Money) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.total = a.total.Add(levy)
}

func (a *LevyAccumulator) Total() domain.Money {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

func (a *LevyAccumulator) Reset() domain.Money {
	a.mu.Lock()
	defer a.mu.Unlock()
	previous := a.total
	a.total = domain.Money{}
	return previous
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/catalog"
	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/inventory"
	"boticapos/backend/internal/ledger"
	"boticapos/backend/internal/pricing"
	"boticapos/backend/internal/rates"
	"boticapos/backend/internal/store"
	"boticapos/backend/internal/xid"
)

var (
	ErrEmptyCart                = errors.New("cart is empty")
	ErrFractionalSaleNotAllowed = errors.New("product is sold in whole units only")
	ErrOverPayment              = errors.New("payment exceeds outstanding balance")
	ErrPaymentIncomplete        = errors.New("payments do not cover the total")
	ErrHeldCartNotFound         = errors.New("held cart not found")
	ErrCartNotEmpty             = errors.New("active cart is not empty")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	LevyRate            decimal.Decimal
	VoucherThresholdVES decimal.Decimal
	VoucherExpiryDays   int
	ExpiryWarningDays   int
}

// Service drives one register: the active cart, its payments, checkout,
// and the till book. One Service per terminal; the mutex serializes the
// cashier's operations on the shared cart state.
type Service struct {
	repo   store.Repository
	pricer *pricing.Engine
	levies *pricing.LevyAccumulator
	quotes *rates.Provider
	book   *ledger.Ledger
	opts   Options

	mu   sync.Mutex
	cart domain.Cart
}

func New(repo store.Repository, pricer *pricing.Engine, levies *pricing.LevyAccumulator, quotes *rates.Provider, book *ledger.Ledger, opts Options) *Service {
	if opts.VoucherExpiryDays < 1 {
		opts.VoucherExpiryDays = 180
	}
	if opts.ExpiryWarningDays < 1 {
		opts.ExpiryWarningDays = 90
	}
	return &Service{
		repo:   repo,
		pricer: pricer,
		levies: levies,
		quotes: quotes,
		book:   book,
		opts:   opts,
	}
}

// currentRate refreshes the USD->VES quote and registers it on the
// conversion engine so every downstream Convert sees the same figure.
func (s *Service) currentRate(ctx context.Context) decimal.Decimal {
	rate := s.quotes.FetchRateWithFallback(ctx)
	s.pricer.SetRate(domain.CurrencyUSD, domain.CurrencyVES, rate)
	return rate
}

func (s *Service) AddToCart(ctx context.Context, productID string, quantity decimal.Decimal) (domain.CartView, error) {
	if strings.TrimSpace(productID) == "" || !quantity.IsPositive() {
		return domain.CartView{}, store.ErrInvalidRequest
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if !product.Active {
		return domain.CartView{}, fmt.Errorf("%w: product %s is not sellable", store.ErrInvalidRequest, productID)
	}
	if product.UnitType == domain.UnitTypeUnit && !quantity.IsInteger() {
		return domain.CartView{}, ErrFractionalSaleNotAllowed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := quantity
	if line := findLine(s.cart.Lines, productID); line != nil {
		merged = line.Quantity.Add(quantity)
	}
	if err := s.checkStock(ctx, product.ID, merged); err != nil {
		return domain.CartView{}, err
	}

	s.setLineLocked(*product, merged)
	return s.cartViewLocked(ctx)
}

func (s *Service) UpdateQuantity(ctx context.Context, productID string, quantity decimal.Decimal) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if findLine(s.cart.Lines, productID) == nil {
		return domain.CartView{}, store.ErrNotFound
	}
	if !quantity.IsPositive() {
		s.removeLineLocked(productID)
		return s.cartViewLocked(ctx)
	}

	product, err := s.repo.GetProduct(ctx, productID)
	if err != nil {
		return domain.CartView{}, err
	}
	if product.UnitType == domain.UnitTypeUnit && !quantity.IsInteger() {
		return domain.CartView{}, ErrFractionalSaleNotAllowed
	}
	if err := s.checkStock(ctx, product.ID, quantity); err != nil {
		return domain.CartView{}, err
	}

	s.setLineLocked(*product, quantity)
	return s.cartViewLocked(ctx)
}

func (s *Service) RemoveFromCart(ctx context.Context, productID string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if findLine(s.cart.Lines, productID) == nil {
		return domain.CartView{}, store.ErrNotFound
	}
	s.removeLineLocked(productID)
	return s.cartViewLocked(ctx)
}

func (s *Service) Cart(ctx context.Context) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartViewLocked(ctx)
}

func (s *Service) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart = domain.Cart{}
}

// AddPayment registers a tender against the active cart. Cash may exceed
// the outstanding balance (change is returned at checkout); electronic
// tenders cannot, there is no change path for them.
func (s *Service) AddPayment(ctx context.Context, req domain.PaymentRequest) (domain.CartView, error) {
	if !validMethod(req.Method) {
		return domain.CartView{}, fmt.Errorf("%w: unknown payment method %q", store.ErrInvalidRequest, req.Method)
	}
	amount := domain.NewMoney(req.AmountUSD, req.AmountVES)
	if amount.IsNegative() || amount.IsZero() {
		return domain.CartView{}, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cart.Lines) == 0 {
		return domain.CartView{}, ErrEmptyCart
	}

	rate := s.currentRate(ctx)
	payment := domain.Payment{
		Method:    req.Method,
		Amount:    amount,
		Reference: strings.TrimSpace(req.Reference),
		At:        time.Now().UTC(),
	}

	// Levy preview must account for the tender being added: a first cash
	// payment makes the whole sale levy-bearing.
	prospective := append(slices.Clone(s.cart.Payments), payment)
	total := s.grandTotal(rate, prospective)
	if req.Method != domain.PaymentCash {
		outstanding := outstandingUSD(total, s.cart.Payments, rate)
		tendered := amount.USD
		if rate.IsPositive() {
			tendered = tendered.Add(amount.VES.Div(rate))
		}
		if tendered.GreaterThan(outstanding) {
			return domain.CartView{}, ErrOverPayment
		}
	}

	s.cart.Payments = prospective
	return s.cartViewLocked(ctx)
}

// IsPaymentComplete reports whether the registered tenders cover the
// levy-inclusive total at the current rate.
func (s *Service) IsPaymentComplete(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rate := s.currentRate(ctx)
	return !outstandingUSD(s.grandTotal(rate, s.cart.Payments), s.cart.Payments, rate).IsPositive()
}

func (s *Service) ClearPayments(ctx context.Context) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cart.Payments = nil
	return s.cartViewLocked(ctx)
}

func (s *Service) HoldCart(ctx context.Context, req domain.HoldCartRequest) (domain.HeldCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cart.Lines) == 0 {
		return domain.HeldCart{}, ErrEmptyCart
	}

	cashier := ""
	if actor, ok := ActorFromContext(ctx); ok {
		cashier = actor.Username
	}
	held := domain.HeldCart{
		ID:      xid.New("hold"),
		Cart:    s.cart,
		Note:    strings.TrimSpace(req.Note),
		Cashier: cashier,
		HeldAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(held)
	if err != nil {
		return domain.HeldCart{}, err
	}
	if err := s.repo.SaveRecord(ctx, heldCartKey(held.ID), data); err != nil {
		return domain.HeldCart{}, err
	}

	s.cart = domain.Cart{}
	return held, nil
}

// RetrieveHeldCart pops a parked cart back onto the register. The active
// cart must be empty; carts are never merged implicitly.
func (s *Service) RetrieveHeldCart(ctx context.Context, id string) (domain.CartView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cart.Lines) > 0 {
		return domain.CartView{}, ErrCartNotEmpty
	}

	data, err := s.repo.LoadRecord(ctx, heldCartKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return domain.CartView{}, ErrHeldCartNotFound
	}
	if err != nil {
		return domain.CartView{}, err
	}
	var held domain.HeldCart
	if err := json.Unmarshal(data, &held); err != nil {
		return domain.CartView{}, fmt.Errorf("decode held cart %s: %w", id, err)
	}
	if err := s.repo.DeleteRecord(ctx, heldCartKey(id)); err != nil {
		return domain.CartView{}, err
	}

	s.cart = held.Cart
	return s.cartViewLocked(ctx)
}

func (s *Service) ListHeldCarts(ctx context.Context) ([]domain.HeldCart, error) {
	records, err := s.repo.ListByPrefix(ctx, heldCartPrefix)
	if err != nil {
		return nil, err
	}
	held := make([]domain.HeldCart, 0, len(records))
	for _, record := range records {
		var cart domain.HeldCart
		if err := json.Unmarshal(record.Data, &cart); err != nil {
			return nil, fmt.Errorf("decode held cart %s: %w", record.Key, err)
		}
		held = append(held, cart)
	}
	slices.SortFunc(held, func(a, b domain.HeldCart) int {
		if a.HeldAt.Equal(b.HeldAt) {
			return strings.Compare(a.ID, b.ID)
		}
		if a.HeldAt.Before(b.HeldAt) {
			return -1
		}
		return 1
	})
	return held, nil
}

func (s *Service) DeleteHeldCart(ctx context.Context, id string) error {
	_, err := s.repo.LoadRecord(ctx, heldCartKey(id))
	if errors.Is(err, store.ErrNotFound) {
		return ErrHeldCartNotFound
	}
	if err != nil {
		return err
	}
	return s.repo.DeleteRecord(ctx, heldCartKey(id))
}

// Checkout commits the active sale: payments must cover the total, stock
// is allocated afresh at commit time, and batch decrements land in the
// same atomic write as the ledger entries and any change voucher.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cart.Lines) == 0 {
		return domain.CheckoutResponse{}, ErrEmptyCart
	}

	rate := s.currentRate(ctx)
	total := s.grandTotal(rate, s.cart.Payments)
	if outstandingUSD(total, s.cart.Payments, rate).IsPositive() {
		return domain.CheckoutResponse{}, ErrPaymentIncomplete
	}

	// Allocation at add-to-cart time was advisory; stock may have moved
	// since. The decrements committed are the ones chosen now.
	now := time.Now().UTC()
	var decrements []domain.BatchAllocation
	for _, line := range s.cart.Lines {
		batches, err := s.repo.ListBatches(ctx, line.ProductID)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		allocations, err := inventory.SelectBatches(batches, line.ProductID, line.Quantity, now)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		decrements = append(decrements, allocations...)
	}

	lineTotals := pricing.SumLines(s.cart.Lines)
	levy := s.levyFor(rate, s.cart.Payments)
	change, paid := pricing.CalculateMixedChange(total, s.cart.Payments, rate)

	operator := ""
	if actor, ok := ActorFromContext(ctx); ok {
		operator = actor.Username
	}
	invoiceID := xid.New("inv")

	// The voucher decision comes before the ledger rows: a vouchered
	// remainder stays in the drawer, so the sale entries must book the
	// full retained tender, not tender minus the vouchered change.
	voucherNumber := ""
	var records []store.Record
	changeValueVES := change.VES.Add(change.USD.Mul(rate))
	if changeValueVES.IsPositive() && changeValueVES.LessThan(s.opts.VoucherThresholdVES) {
		voucher, record, err := s.book.BuildVoucher(ctx, change, req.CustomerID, invoiceID, s.opts.VoucherExpiryDays)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		records = append(records, record)
		voucherNumber = voucher.Number
		change = domain.Money{}
	}

	saleRecs, err := s.saleRecords(invoiceID, operator, change)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	records = append(records, saleRecs...)

	if err := s.repo.CommitSale(ctx, decrements, records); err != nil {
		return domain.CheckoutResponse{}, err
	}
	s.levies.Add(levy)

	resp := domain.CheckoutResponse{
		InvoiceID:     invoiceID,
		Lines:         slices.Clone(s.cart.Lines),
		Subtotal:      lineTotals.Subtotal,
		Tax:           lineTotals.Tax,
		CashLevy:      levy,
		Total:         total,
		Paid:          paid,
		Change:        change,
		VoucherNumber: voucherNumber,
		Allocations:   decrements,
		CreatedAt:     now.Format(time.RFC3339),
	}
	s.cart = domain.Cart{}
	return resp, nil
}

// saleRecords builds the ledger rows for one sale. Cash retained in the
// drawer (tendered minus change) books as sale entries; electronic
// receipts book as payment entries. The two partition the receipts, so
// the fold never double counts. When change settles in a currency not
// tendered in cash, the net for that currency goes negative and the
// payout comes out of the drawer float as an adjustment.
func (s *Service) saleRecords(invoiceID, operator string, change domain.Money) ([]store.Record, error) {
	cashIn := domain.Money{}
	electronic := make([]domain.Payment, 0, len(s.cart.Payments))
	for _, payment := range s.cart.Payments {
		if payment.Method == domain.PaymentCash {
			cashIn = cashIn.Add(payment.Amount)
		} else {
			electronic = append(electronic, payment)
		}
	}
	net := cashIn.Sub(change)

	var records []store.Record
	appendEntry := func(kind domain.EntryKind, currency domain.Currency, amount decimal.Decimal, note string) error {
		if !amount.IsPositive() {
			return nil
		}
		record, err := ledger.EntryRecord(ledger.NewEntry(kind, currency, amount, invoiceID, operator, note))
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	}
	bookNet := func(currency domain.Currency, amount decimal.Decimal) error {
		if amount.IsNegative() {
			return appendEntry(domain.EntryAdjustment, currency, amount.Neg(), "change paid out")
		}
		return appendEntry(domain.EntrySale, currency, amount, "cash received")
	}

	if err := bookNet(domain.CurrencyUSD, net.USD); err != nil {
		return nil, err
	}
	if err := bookNet(domain.CurrencyVES, net.VES); err != nil {
		return nil, err
	}
	for _, payment := range electronic {
		note := string(payment.Method)
		if payment.Reference != "" {
			note = note + " " + payment.Reference
		}
		if err := appendEntry(domain.EntryPayment, domain.CurrencyUSD, payment.Amount.USD, note); err != nil {
			return nil, err
		}
		if err := appendEntry(domain.EntryPayment, domain.CurrencyVES, payment.Amount.VES, note); err != nil {
			return nil, err
		}
	}
	return records, nil
}

func (s *Service) OpenTill(ctx context.Context, req domain.TillOpenRequest) error {
	if req.FloatUSD.IsNegative() || req.FloatVES.IsNegative() {
		return store.ErrInvalidRequest
	}
	operator := operatorFrom(ctx)
	if req.FloatUSD.IsPositive() {
		if _, err := s.book.RecordEntry(ctx, domain.EntryOpening, domain.CurrencyUSD, req.FloatUSD, "", operator, "opening float"); err != nil {
			return err
		}
	}
	if req.FloatVES.IsPositive() {
		if _, err := s.book.RecordEntry(ctx, domain.EntryOpening, domain.CurrencyVES, req.FloatVES, "", operator, "opening float"); err != nil {
			return err
		}
	}
	return nil
}

// CloseTill books closing entries for the counted drawer and returns the
// day's report. The book keeps both figures; discrepancies surface as a
// nonzero residual balance, they are never corrected silently.
func (s *Service) CloseTill(ctx context.Context, req domain.TillCloseRequest) (domain.LedgerReport, error) {
	if req.CountedUSD.IsNegative() || req.CountedVES.IsNegative() {
		return domain.LedgerReport{}, store.ErrInvalidRequest
	}
	operator := operatorFrom(ctx)
	if req.CountedUSD.IsPositive() {
		if _, err := s.book.RecordEntry(ctx, domain.EntryClosing, domain.CurrencyUSD, req.CountedUSD, "", operator, "closing count"); err != nil {
			return domain.LedgerReport{}, err
		}
	}
	if req.CountedVES.IsPositive() {
		if _, err := s.book.RecordEntry(ctx, domain.EntryClosing, domain.CurrencyVES, req.CountedVES, "", operator, "closing count"); err != nil {
			return domain.LedgerReport{}, err
		}
	}

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return s.book.GenerateReport(ctx, start, now.Add(time.Second))
}

func (s *Service) RecordAdjustment(ctx context.Context, req domain.AdjustmentRequest) (domain.LedgerEntry, error) {
	if req.Currency != domain.CurrencyUSD && req.Currency != domain.CurrencyVES {
		return domain.LedgerEntry{}, fmt.Errorf("%w: unknown currency %q", store.ErrInvalidRequest, req.Currency)
	}
	if !req.Amount.IsPositive() {
		return domain.LedgerEntry{}, fmt.Errorf("%w: adjustment amount must be positive", store.ErrInvalidRequest)
	}
	return s.book.RecordEntry(ctx, domain.EntryAdjustment, req.Currency, req.Amount, "", operatorFrom(ctx), req.Note)
}

func (s *Service) LedgerReport(ctx context.Context, start, end time.Time) (domain.LedgerReport, error) {
	return s.book.GenerateReport(ctx, start, end)
}

func (s *Service) LedgerBalance(ctx context.Context, currency domain.Currency) (decimal.Decimal, error) {
	return s.book.Balance(ctx, currency)
}

func (s *Service) LevyCollected() domain.Money {
	return s.levies.Total()
}

// ResetLevies zeroes the accumulator and books the declared amounts as
// adjustments so the drawer fold reflects the remittance.
func (s *Service) ResetLevies(ctx context.Context) (domain.Money, error) {
	declared := s.levies.Reset()
	operator := operatorFrom(ctx)
	if declared.USD.IsPositive() {
		if _, err := s.book.RecordEntry(ctx, domain.EntryAdjustment, domain.CurrencyUSD, declared.USD, "", operator, "levy declaration"); err != nil {
			return declared, err
		}
	}
	if declared.VES.IsPositive() {
		if _, err := s.book.RecordEntry(ctx, domain.EntryAdjustment, domain.CurrencyVES, declared.VES, "", operator, "levy declaration"); err != nil {
			return declared, err
		}
	}
	return declared, nil
}

func (s *Service) GetVoucher(ctx context.Context, number string) (*domain.Voucher, error) {
	return s.book.GetVoucher(ctx, number)
}

func (s *Service) RedeemVoucher(ctx context.Context, number string, req domain.RedeemVoucherRequest) (*domain.Voucher, error) {
	return s.book.RedeemVoucher(ctx, number, domain.NewMoney(req.AmountUSD, req.AmountVES))
}

func (s *Service) ListVouchers(ctx context.Context, activeOnly bool) ([]domain.Voucher, error) {
	return s.book.ListVouchers(ctx, activeOnly)
}

func (s *Service) SearchProducts(ctx context.Context, query string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.Search(products, query), nil
}

func (s *Service) ProductsByCategory(ctx context.Context, category string) ([]domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	return catalog.ByCategory(products, category), nil
}

func (s *Service) FindByBarcode(ctx context.Context, barcode string) (domain.Product, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, ok := catalog.FindByBarcode(products, barcode)
	if !ok {
		return domain.Product{}, store.ErrNotFound
	}
	return product, nil
}

func (s *Service) StockLevels(ctx context.Context) ([]catalog.StockView, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.ListBatches(ctx, "")
	if err != nil {
		return nil, err
	}
	return catalog.StockLevels(products, batches, time.Now().UTC()), nil
}

func (s *Service) LowStock(ctx context.Context) ([]catalog.StockView, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	batches, err := s.repo.ListBatches(ctx, "")
	if err != nil {
		return nil, err
	}
	return catalog.LowStock(products, batches, time.Now().UTC()), nil
}

func (s *Service) ExpiringBatches(ctx context.Context) ([]domain.Batch, error) {
	batches, err := s.repo.ListBatches(ctx, "")
	if err != nil {
		return nil, err
	}
	return inventory.ExpiringSoon(batches, time.Now().UTC(), s.opts.ExpiryWarningDays), nil
}

// TransferStock moves quantity between warehouses along FEFO order. The
// source decrements go through the atomic commit so a concurrent sale
// cannot drive a batch negative; the destination batches are written
// after.
func (s *Service) TransferStock(ctx context.Context, req domain.TransferRequest) ([]domain.Batch, error) {
	batches, err := s.repo.ListBatches(ctx, req.ProductID)
	if err != nil {
		return nil, err
	}
	plan, err := inventory.TransferBetweenWarehouses(batches, req.FromWarehouseID, req.ToWarehouseID, req.ProductID, req.Quantity, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.CommitSale(ctx, plan.Decrements, nil); err != nil {
		return nil, err
	}
	for _, batch := range plan.Additions {
		if err := s.repo.UpsertBatch(ctx, batch); err != nil {
			return nil, err
		}
	}
	return plan.Additions, nil
}

func (s *Service) checkStock(ctx context.Context, productID string, quantity decimal.Decimal) error {
	batches, err := s.repo.ListBatches(ctx, productID)
	if err != nil {
		return err
	}
	_, err = inventory.SelectBatches(batches, productID, quantity, time.Now().UTC())
	return err
}

func (s *Service) setLineLocked(product domain.Product, quantity decimal.Decimal) {
	totals := pricing.ComputeLineTotals(product.PriceUSD, product.PriceVES, quantity, product.TaxRate)
	line := domain.CartLine{
		ProductID: product.ID,
		Name:      product.Name,
		UnitType:  product.UnitType,
		Quantity:  quantity,
		UnitPrice: domain.NewMoney(product.PriceUSD, product.PriceVES),
		TaxRate:   product.TaxRate,
		Subtotal:  totals.Subtotal,
		Tax:       totals.Tax,
		Total:     totals.Total,
	}
	for i := range s.cart.Lines {
		if s.cart.Lines[i].ProductID == product.ID {
			s.cart.Lines[i] = line
			return
		}
	}
	s.cart.Lines = append(s.cart.Lines, line)
}

func (s *Service) removeLineLocked(productID string) {
	s.cart.Lines = slices.DeleteFunc(s.cart.Lines, func(line domain.CartLine) bool {
		return line.ProductID == productID
	})
}

func (s *Service) cartViewLocked(ctx context.Context) (domain.CartView, error) {
	rate := s.currentRate(ctx)
	lineTotals := pricing.SumLines(s.cart.Lines)
	levy := s.levyFor(rate, s.cart.Payments)
	total := lineTotals.Total.Add(levy)

	paid := domain.Money{}
	for _, payment := range s.cart.Payments {
		paid = paid.Add(payment.Amount)
	}

	return domain.CartView{
		Cart: domain.Cart{
			Lines:    slices.Clone(s.cart.Lines),
			Payments: slices.Clone(s.cart.Payments),
		},
		Totals: domain.CartTotals{
			Subtotal:    lineTotals.Subtotal,
			Tax:         lineTotals.Tax,
			CashLevy:    levy,
			Total:       total,
			Paid:        paid,
			OutstandUSD: outstandingUSD(total, s.cart.Payments, rate),
		},
	}, nil
}

// grandTotal is the levy-inclusive total for the given payment mix.
func (s *Service) grandTotal(rate decimal.Decimal, payments []domain.Payment) domain.Money {
	lineTotals := pricing.SumLines(s.cart.Lines)
	return lineTotals.Total.Add(s.levyFor(rate, payments))
}

// levyFor applies the cash levy when at least one tender is cash. The
// levy covers the full pre-levy total, not only the cash portion.
func (s *Service) levyFor(rate decimal.Decimal, payments []domain.Payment) domain.Money {
	for _, payment := range payments {
		if payment.Method == domain.PaymentCash {
			lineTotals := pricing.SumLines(s.cart.Lines)
			return pricing.CashLevy(lineTotals.Total, s.opts.LevyRate, rate)
		}
	}
	return domain.Money{}
}

// outstandingUSD is the USD-equivalent still owed: the USD obligation
// minus USD tendered minus VES tendered at the supplied rate, floored at
// zero.
func outstandingUSD(total domain.Money, payments []domain.Payment, rate decimal.Decimal) decimal.Decimal {
	paid := domain.Money{}
	for _, payment := range payments {
		paid = paid.Add(payment.Amount)
	}
	outstanding := total.USD.Sub(paid.USD)
	if rate.IsPositive() {
		outstanding = outstanding.Sub(paid.VES.Div(rate))
	}
	if outstanding.IsNegative() {
		return decimal.Zero
	}
	return outstanding
}

func operatorFrom(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return ""
}

func findLine(lines []domain.CartLine, productID string) *domain.CartLine {
	for i := range lines {
		if lines[i].ProductID == productID {
			return &lines[i]
		}
	}
	return nil
}

func validMethod(method domain.PaymentMethod) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentMobile, domain.PaymentTransfer, domain.PaymentZelle:
		return true
	}
	return false
}

func heldCartKey(id string) string {
	return heldCartPrefix + strings.TrimSpace(id)
}

const heldCartPrefix = "heldcart/"

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/ledger"
	"boticapos/backend/internal/pricing"
	"boticapos/backend/internal/rates"
	"boticapos/backend/internal/store"
	"boticapos/backend/internal/store/memory"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	quotes := rates.NewProvider(nil, nil, dec("36"), 0, 0)
	svc := New(repo, pricing.NewEngine(), pricing.NewLevyAccumulator(), quotes, ledger.New(repo), Options{
		LevyRate:            dec("0.03"),
		VoucherThresholdVES: dec("2"),
		VoucherExpiryDays:   90,
		ExpiryWarningDays:   90,
	})
	return svc, repo
}

func TestAddToCartMergesLines(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	view, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("3"))
	if err != nil {
		t.Fatalf("add again: %v", err)
	}

	if len(view.Cart.Lines) != 1 {
		t.Fatalf("expected one merged line, got %d", len(view.Cart.Lines))
	}
	line := view.Cart.Lines[0]
	if !line.Quantity.Equal(dec("5")) {
		t.Fatalf("expected quantity 5, got %s", line.Quantity)
	}
	if !line.Subtotal.USD.Equal(dec("12.50")) || !line.Subtotal.VES.Equal(dec("450.00")) {
		t.Fatalf("unexpected line subtotal %s", line.Subtotal)
	}
}

func TestAddToCartRejectsFractionOfUnitProduct(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("1.5")); !errors.Is(err, ErrFractionalSaleNotAllowed) {
		t.Fatalf("expected ErrFractionalSaleNotAllowed, got %v", err)
	}

	// Syrup is dispensed fractionally and must be accepted.
	if _, err := svc.AddToCart(ctx, "prod-jarabe-ambroxol", dec("1.5")); err != nil {
		t.Fatalf("fractional add of fraction-type product: %v", err)
	}
}

func TestAddToCartChecksStockProspectively(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	_, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("500"))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestUpdateQuantityToZeroRemovesLine(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	view, err := svc.UpdateQuantity(ctx, "prod-paracetamol-500", decimal.Zero)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(view.Cart.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(view.Cart.Lines))
	}
}

func TestAddPaymentRequiresLines(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.AddPayment(context.Background(), domain.PaymentRequest{Method: domain.PaymentCash, AmountUSD: dec("5")}); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestAddPaymentRejectsElectronicOverpay(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	// 2 x paracetamol: $5.00 + 16% tax = $5.80 total, no cash so no levy.
	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("2")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCard, AmountUSD: dec("10")}); !errors.Is(err, ErrOverPayment) {
		t.Fatalf("expected ErrOverPayment, got %v", err)
	}

	view, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCard, AmountUSD: dec("5.80")})
	if err != nil {
		t.Fatalf("exact card payment: %v", err)
	}
	if !view.Totals.OutstandUSD.IsZero() {
		t.Fatalf("expected zero outstanding, got %s", view.Totals.OutstandUSD)
	}
	if !svc.IsPaymentComplete(ctx) {
		t.Fatalf("payment should be complete")
	}
}

func TestCheckoutRejectsIncompletePayment(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCash, AmountUSD: dec("3")}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{}); !errors.Is(err, ErrPaymentIncomplete) {
		t.Fatalf("expected ErrPaymentIncomplete, got %v", err)
	}
}

func TestCheckoutCashSaleLeviesAndDecrements(t *testing.T) {
	svc, repo := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana"})

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCash, AmountUSD: dec("10")}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	// Pre-levy $5.80; 3% cash levy = $0.174, Bs 6.264 at rate 36.
	if !resp.CashLevy.USD.Equal(dec("0.174")) || !resp.CashLevy.VES.Equal(dec("6.264")) {
		t.Fatalf("unexpected levy %s", resp.CashLevy)
	}
	if !resp.Total.USD.Equal(dec("5.974")) {
		t.Fatalf("unexpected total %s", resp.Total.USD)
	}
	if !resp.Change.USD.Equal(dec("4.026")) || !resp.Change.VES.IsZero() {
		t.Fatalf("unexpected change %s", resp.Change)
	}
	if resp.VoucherNumber != "" {
		t.Fatalf("change this large must be paid out, not vouchered")
	}

	// FEFO commits against the soonest-expiring batch.
	batches, err := repo.ListBatches(ctx, "prod-paracetamol-500")
	if err != nil {
		t.Fatalf("list batches: %v", err)
	}
	for _, batch := range batches {
		if batch.ID == "batch-par-001" && !batch.Quantity.Equal(dec("38")) {
			t.Fatalf("expected batch-par-001 at 38, got %s", batch.Quantity)
		}
		if batch.ID == "batch-par-002" && !batch.Quantity.Equal(dec("80")) {
			t.Fatalf("later batch must be untouched, got %s", batch.Quantity)
		}
	}

	// Drawer fold equals cash retained: $10 tendered minus $4.026 change.
	balance, err := svc.LedgerBalance(ctx, domain.CurrencyUSD)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec("5.974")) {
		t.Fatalf("expected drawer balance 5.974, got %s", balance)
	}

	if !svc.LevyCollected().USD.Equal(dec("0.174")) {
		t.Fatalf("levy accumulator mismatch: %s", svc.LevyCollected())
	}

	view, err := svc.Cart(ctx)
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if len(view.Cart.Lines) != 0 || len(view.Cart.Payments) != 0 {
		t.Fatalf("cart must be cleared after checkout")
	}
}

func TestCheckoutIssuesVoucherForTinyChange(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Total with levy is $5.974; $6 cash leaves $0.026, worth Bs 0.936,
	// under the Bs 2 small-change threshold.
	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCash, AmountUSD: dec("6")}); err != nil {
		t.Fatalf("payment: %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{CustomerID: "cust-7"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if resp.VoucherNumber == "" {
		t.Fatalf("expected a change voucher")
	}
	if !resp.Change.IsZero() {
		t.Fatalf("vouchered change must not be paid out too, got %s", resp.Change)
	}

	voucher, err := svc.GetVoucher(ctx, resp.VoucherNumber)
	if err != nil {
		t.Fatalf("get voucher: %v", err)
	}
	if !voucher.Remaining.USD.Equal(dec("0.026")) {
		t.Fatalf("voucher should hold the exact remainder, got %s", voucher.Remaining)
	}
	if voucher.CustomerID != "cust-7" || voucher.SourceInvoiceID != resp.InvoiceID {
		t.Fatalf("voucher provenance missing: %+v", voucher)
	}

	// The $0.026 stays in the drawer against the voucher, so the sale
	// books the full $6 tendered.
	balance, err := svc.LedgerBalance(ctx, domain.CurrencyUSD)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Equal(dec("6")) {
		t.Fatalf("drawer must hold the full tender when change is vouchered, got %s", balance)
	}
}

func TestCheckoutBooksChangePaidFromDrawerFloat(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	err := repo.UpsertProduct(ctx, domain.Product{
		ID: "prod-plain", Name: "Plain 10", UnitType: domain.UnitTypeUnit,
		PriceUSD: dec("10"), PriceVES: dec("360"), Active: true,
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	err = repo.UpsertBatch(ctx, domain.Batch{
		ID: "batch-plain", ProductID: "prod-plain", WarehouseID: "main",
		Quantity: decimal.NewFromInt(5), ExpiresAt: timeNowPlusYear(), Zone: domain.ZoneAvailable,
	})
	if err != nil {
		t.Fatalf("upsert batch: %v", err)
	}

	if _, err := svc.AddToCart(ctx, "prod-plain", dec("1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Bs 360 by card covers the levy-free total exactly; the cash dollar
	// then triggers the levy, and its Bs 25.20 of change has to come out
	// of the drawer because only $1 was tendered in cash.
	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCard, AmountVES: dec("360"), Reference: "POS-1"}); err != nil {
		t.Fatalf("card payment: %v", err)
	}
	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCash, AmountUSD: dec("1")}); err != nil {
		t.Fatalf("cash payment: %v", err)
	}

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !resp.Change.USD.IsZero() || !resp.Change.VES.Equal(dec("25.20")) {
		t.Fatalf("expected Bs 25.20 change, got %s", resp.Change)
	}

	usd, err := svc.LedgerBalance(ctx, domain.CurrencyUSD)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !usd.Equal(dec("1")) {
		t.Fatalf("expected USD drawer balance 1, got %s", usd)
	}
	ves, err := svc.LedgerBalance(ctx, domain.CurrencyVES)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !ves.Equal(dec("334.80")) {
		t.Fatalf("expected VES balance 334.80 after change payout, got %s", ves)
	}

	report, err := svc.LedgerReport(ctx, time.Now().UTC().Add(-time.Minute), time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !report.Flows[domain.CurrencyVES].Out.Equal(dec("25.20")) {
		t.Fatalf("change payout missing from the VES outflow, got %s", report.Flows[domain.CurrencyVES].Out)
	}
}

func TestCheckoutCashTotalsAcrossCurrencies(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	err := repo.UpsertProduct(ctx, domain.Product{
		ID: "prod-generic", Name: "Generic 10", UnitType: domain.UnitTypeUnit,
		PriceUSD: dec("10"), PriceVES: dec("360"), TaxRate: dec("0.16"), Active: true,
	})
	if err != nil {
		t.Fatalf("upsert product: %v", err)
	}
	err = repo.UpsertBatch(ctx, domain.Batch{
		ID: "batch-gen", ProductID: "prod-generic", WarehouseID: "main",
		Quantity: decimal.NewFromInt(10), ExpiresAt: timeNowPlusYear(), Zone: domain.ZoneAvailable,
	})
	if err != nil {
		t.Fatalf("upsert batch: %v", err)
	}

	if _, err := svc.AddToCart(ctx, "prod-generic", dec("3")); err != nil {
		t.Fatalf("add: %v", err)
	}

	// 3 x $10 at 16% tax is $34.80; the 3% cash levy brings the bill to
	// $35.844 / Bs 1290.384, so $35 cash is not enough.
	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCash, AmountUSD: dec("35")}); err != nil {
		t.Fatalf("payment: %v", err)
	}
	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{}); !errors.Is(err, ErrPaymentIncomplete) {
		t.Fatalf("expected ErrPaymentIncomplete, got %v", err)
	}

	if _, err := svc.AddPayment(ctx, domain.PaymentRequest{Method: domain.PaymentCash, AmountUSD: dec("1")}); err != nil {
		t.Fatalf("top-up payment: %v", err)
	}
	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}

	if !resp.Total.USD.Equal(dec("35.844")) || !resp.Total.VES.Equal(dec("1290.384")) {
		t.Fatalf("unexpected total %s", resp.Total)
	}
	if !resp.Change.USD.Equal(dec("0.156")) {
		t.Fatalf("unexpected change %s", resp.Change)
	}
}

func timeNowPlusYear() time.Time {
	return time.Now().UTC().AddDate(1, 0, 0)
}

func TestCheckoutEmptyCart(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Checkout(context.Background(), domain.CheckoutRequest{}); !errors.Is(err, ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestHoldAndRetrieveCart(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana"})

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("2")); err != nil {
		t.Fatalf("add: %v", err)
	}
	held, err := svc.HoldCart(ctx, domain.HoldCartRequest{Note: "client fetching cash"})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if held.Cashier != "ana" {
		t.Fatalf("expected cashier on held cart, got %q", held.Cashier)
	}

	view, err := svc.Cart(ctx)
	if err != nil {
		t.Fatalf("cart: %v", err)
	}
	if len(view.Cart.Lines) != 0 {
		t.Fatalf("active cart must be empty after hold")
	}

	list, err := svc.ListHeldCarts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != held.ID {
		t.Fatalf("expected one held cart, got %+v", list)
	}

	resumed, err := svc.RetrieveHeldCart(ctx, held.ID)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(resumed.Cart.Lines) != 1 || !resumed.Cart.Lines[0].Quantity.Equal(dec("2")) {
		t.Fatalf("resumed cart lost its lines: %+v", resumed.Cart.Lines)
	}

	// Retrieval pops the record.
	list, err = svc.ListHeldCarts(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("held cart should be gone after retrieval")
	}
}

func TestRetrieveHeldCartRefusesOverNonEmptyCart(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.AddToCart(ctx, "prod-paracetamol-500", dec("1")); err != nil {
		t.Fatalf("add: %v", err)
	}
	held, err := svc.HoldCart(ctx, domain.HoldCartRequest{})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if _, err := svc.AddToCart(ctx, "prod-vitamina-c", dec("1")); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := svc.RetrieveHeldCart(ctx, held.ID); !errors.Is(err, ErrCartNotEmpty) {
		t.Fatalf("expected ErrCartNotEmpty, got %v", err)
	}
}

func TestDeleteHeldCartUnknown(t *testing.T) {
	svc, _ := newTestService()
	if err := svc.DeleteHeldCart(context.Background(), "hold-missing"); !errors.Is(err, ErrHeldCartNotFound) {
		t.Fatalf("expected ErrHeldCartNotFound, got %v", err)
	}
}

func TestTillOpenCloseRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "ana"})

	if err := svc.OpenTill(ctx, domain.TillOpenRequest{FloatUSD: dec("50"), FloatVES: dec("1800")}); err != nil {
		t.Fatalf("open: %v", err)
	}
	report, err := svc.CloseTill(ctx, domain.TillCloseRequest{CountedUSD: dec("50"), CountedVES: dec("1800")})
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	usd := report.Flows[domain.CurrencyUSD]
	if !usd.In.Equal(dec("50")) || !usd.Out.Equal(dec("50")) || !usd.Balance.IsZero() {
		t.Fatalf("clean count should net to zero, got %+v", usd)
	}
}

func TestRecordAdjustmentValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.RecordAdjustment(ctx, domain.AdjustmentRequest{Currency: "EUR", Amount: dec("1")}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for currency, got %v", err)
	}
	if _, err := svc.RecordAdjustment(ctx, domain.AdjustmentRequest{Currency: domain.CurrencyUSD, Amount: decimal.Zero}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for amount, got %v", err)
	}

	entry, err := svc.RecordAdjustment(ctx, domain.AdjustmentRequest{Currency: domain.CurrencyUSD, Amount: dec("3"), Note: "drawer shortfall"})
	if err != nil {
		t.Fatalf("adjustment: %v", err)
	}
	if !entry.Amount.Equal(dec("-3")) {
		t.Fatalf("adjustments must count against the balance, got %s", entry.Amount)
	}
}

func TestTransferStockMovesFEFOBatches(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	additions, err := svc.TransferStock(ctx, domain.TransferRequest{
		ProductID:       "prod-paracetamol-500",
		FromWarehouseID: "main",
		ToWarehouseID:   "annex",
		Quantity:        dec("45"),
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if len(additions) != 2 {
		t.Fatalf("expected 2 destination batches, got %d", len(additions))
	}

	batches, err := repo.ListBatches(ctx, "prod-paracetamol-500")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var sourceRemaining decimal.Decimal
	for _, batch := range batches {
		if batch.WarehouseID == "main" {
			sourceRemaining = sourceRemaining.Add(batch.Quantity)
		}
	}
	if !sourceRemaining.Equal(dec("75")) {
		t.Fatalf("expected 75 left at source, got %s", sourceRemaining)
	}
}

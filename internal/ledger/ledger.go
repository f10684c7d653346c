package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"boticapos/backend/internal/domain"
	"boticapos/backend/internal/store"
	"boticapos/backend/internal/xid"
)

var (
	ErrVoucherNotFound            = errors.New("voucher not found")
	ErrVoucherInactive            = errors.New("voucher inactive")
	ErrVoucherExpired             = errors.New("voucher expired")
	ErrInsufficientVoucherBalance = errors.New("insufficient voucher balance")
)

const (
	entryPrefix   = "ledger/"
	voucherPrefix = "voucher/"
)

// Ledger keeps the append-only cash book and the change-voucher registry
// on top of the key-value sink. Entries are never edited or removed;
// corrections are new adjustment entries, and balances are always derived
// by folding, never stored.
type Ledger struct {
	repo store.Repository
}

func New(repo store.Repository) *Ledger {
	return &Ledger{repo: repo}
}

// NewEntry builds an entry with the sign convention applied: opening,
// sale and payment amounts count toward the balance, refund, closing and
// adjustment amounts count against it. The magnitude of amount is used;
// the kind decides the sign.
func NewEntry(kind domain.EntryKind, currency domain.Currency, amount decimal.Decimal, invoiceID, operator, note string) domain.LedgerEntry {
	signed := amount.Abs()
	switch kind {
	case domain.EntryRefund, domain.EntryClosing, domain.EntryAdjustment:
		signed = signed.Neg()
	}
	return domain.LedgerEntry{
		ID:        xid.New("led"),
		At:        time.Now().UTC(),
		Kind:      kind,
		Currency:  currency,
		Amount:    signed,
		InvoiceID: invoiceID,
		Operator:  operator,
		Note:      note,
	}
}

func (l *Ledger) RecordEntry(ctx context.Context, kind domain.EntryKind, currency domain.Currency, amount decimal.Decimal, invoiceID, operator, note string) (domain.LedgerEntry, error) {
	entry := NewEntry(kind, currency, amount, invoiceID, operator, note)
	record, err := EntryRecord(entry)
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if err := l.repo.SaveRecord(ctx, record.Key, record.Data); err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// EntryRecord marshals an entry under its sink key. Checkout uses this to
// hand sale and payment entries to the atomic commit instead of writing
// them one by one.
func EntryRecord(entry domain.LedgerEntry) (store.Record, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{Key: entryKey(entry), Data: data}, nil
}

func entryKey(entry domain.LedgerEntry) string {
	// Nanosecond timestamp first so prefix listings come back in time order.
	return fmt.Sprintf("%s%020d-%s", entryPrefix, entry.At.UnixNano(), entry.ID)
}

func (l *Ledger) Entries(ctx context.Context) ([]domain.LedgerEntry, error) {
	records, err := l.repo.ListByPrefix(ctx, entryPrefix)
	if err != nil {
		return nil, err
	}
	entries := make([]domain.LedgerEntry, 0, len(records))
	for _, record := range records {
		var entry domain.LedgerEntry
		if err := json.Unmarshal(record.Data, &entry); err != nil {
			return nil, fmt.Errorf("decode ledger entry %s: %w", record.Key, err)
		}
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b domain.LedgerEntry) int {
		if a.At.Before(b.At) {
			return -1
		}
		if a.At.After(b.At) {
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return entries, nil
}

// Balance folds every entry of one currency. Signs were fixed at record
// time, so the fold is a plain sum.
func (l *Ledger) Balance(ctx context.Context, currency domain.Currency) (decimal.Decimal, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	balance := decimal.Zero
	for _, entry := range entries {
		if entry.Currency != currency {
			continue
		}
		balance = balance.Add(entry.Amount)
	}
	return balance, nil
}

// GenerateReport folds the window [start, end) into per-currency in/out
// totals and a sale count. Pure read, no side effects.
func (l *Ledger) GenerateReport(ctx context.Context, start, end time.Time) (domain.LedgerReport, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return domain.LedgerReport{}, err
	}

	report := domain.LedgerReport{
		Start: start,
		End:   end,
		Flows: make(map[domain.Currency]domain.CurrencyFlow, 2),
	}
	saleInvoices := make(map[string]struct{})

	for _, entry := range entries {
		if entry.At.Before(start) || !entry.At.Before(end) {
			continue
		}
		flow := report.Flows[entry.Currency]
		if entry.Amount.IsNegative() {
			flow.Out = flow.Out.Add(entry.Amount.Neg())
		} else {
			flow.In = flow.In.Add(entry.Amount)
		}
		flow.Balance = flow.In.Sub(flow.Out)
		report.Flows[entry.Currency] = flow

		if entry.Kind == domain.EntrySale {
			key := entry.InvoiceID
			if key == "" {
				key = entry.ID
			}
			saleInvoices[key] = struct{}{}
		}
	}

	report.SaleCount = len(saleInvoices)
	return report, nil
}

// BuildVoucher creates a voucher for the exact change remainder without
// persisting it, so checkout can include the row in its atomic commit.
// Numbers are checked against the sink and never reused, even after
// deactivation (deactivated vouchers stay on record).
func (l *Ledger) BuildVoucher(ctx context.Context, original domain.Money, customerID, invoiceID string, expiresInDays int) (domain.Voucher, store.Record, error) {
	if original.IsNegative() || original.IsZero() {
		return domain.Voucher{}, store.Record{}, store.ErrInvalidRequest
	}
	if expiresInDays < 1 {
		expiresInDays = 180
	}

	number := ""
	for attempt := 0; attempt < 5; attempt++ {
		candidate := xid.VoucherNumber()
		_, err := l.repo.LoadRecord(ctx, voucherPrefix+candidate)
		if errors.Is(err, store.ErrNotFound) {
			number = candidate
			break
		}
		if err != nil {
			return domain.Voucher{}, store.Record{}, err
		}
	}
	if number == "" {
		return domain.Voucher{}, store.Record{}, errors.New("could not allocate a unique voucher number")
	}

	now := time.Now().UTC()
	voucher := domain.Voucher{
		Number:          number,
		Original:        original,
		Remaining:       original,
		IssuedAt:        now,
		ExpiresAt:       now.AddDate(0, 0, expiresInDays),
		CustomerID:      customerID,
		SourceInvoiceID: invoiceID,
		Active:          true,
	}
	record, err := voucherRecord(voucher)
	if err != nil {
		return domain.Voucher{}, store.Record{}, err
	}
	return voucher, record, nil
}

func (l *Ledger) IssueVoucher(ctx context.Context, original domain.Money, customerID, invoiceID string, expiresInDays int) (domain.Voucher, error) {
	voucher, record, err := l.BuildVoucher(ctx, original, customerID, invoiceID, expiresInDays)
	if err != nil {
		return domain.Voucher{}, err
	}
	if err := l.repo.SaveRecord(ctx, record.Key, record.Data); err != nil {
		return domain.Voucher{}, err
	}
	return voucher, nil
}

func (l *Ledger) GetVoucher(ctx context.Context, number string) (*domain.Voucher, error) {
	data, err := l.repo.LoadRecord(ctx, voucherPrefix+strings.TrimSpace(number))
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, err
	}
	var voucher domain.Voucher
	if err := json.Unmarshal(data, &voucher); err != nil {
		return nil, fmt.Errorf("decode voucher %s: %w", number, err)
	}
	return &voucher, nil
}

// RedeemVoucher decrements both currency balances independently; a voucher
// may run dry in one currency and keep balance in the other. It
// deactivates once both balances reach zero, or on first touch past
// expiry.
func (l *Ledger) RedeemVoucher(ctx context.Context, number string, amount domain.Money) (*domain.Voucher, error) {
	if amount.IsNegative() || amount.IsZero() {
		return nil, store.ErrInvalidRequest
	}

	voucher, err := l.GetVoucher(ctx, number)
	if err != nil {
		return nil, err
	}
	if !voucher.Active {
		return nil, ErrVoucherInactive
	}
	if time.Now().UTC().After(voucher.ExpiresAt) {
		voucher.Active = false
		if saveErr := l.saveVoucher(ctx, *voucher); saveErr != nil {
			return nil, saveErr
		}
		return nil, ErrVoucherExpired
	}
	if voucher.Remaining.USD.LessThan(amount.USD) || voucher.Remaining.VES.LessThan(amount.VES) {
		return nil, ErrInsufficientVoucherBalance
	}

	voucher.Remaining = voucher.Remaining.Sub(amount)
	if voucher.Remaining.IsZero() {
		voucher.Active = false
	}
	if err := l.saveVoucher(ctx, *voucher); err != nil {
		return nil, err
	}
	return voucher, nil
}

func (l *Ledger) ListVouchers(ctx context.Context, activeOnly bool) ([]domain.Voucher, error) {
	records, err := l.repo.ListByPrefix(ctx, voucherPrefix)
	if err != nil {
		return nil, err
	}
	vouchers := make([]domain.Voucher, 0, len(records))
	for _, record := range records {
		var voucher domain.Voucher
		if err := json.Unmarshal(record.Data, &voucher); err != nil {
			return nil, fmt.Errorf("decode voucher %s: %w", record.Key, err)
		}
		if activeOnly && !voucher.Active {
			continue
		}
		vouchers = append(vouchers, voucher)
	}
	slices.SortFunc(vouchers, func(a, b domain.Voucher) int {
		if a.IssuedAt.Equal(b.IssuedAt) {
			return strings.Compare(a.Number, b.Number)
		}
		if a.IssuedAt.After(b.IssuedAt) {
			return -1
		}
		return 1
	})
	return vouchers, nil
}

func (l *Ledger) saveVoucher(ctx context.Context, voucher domain.Voucher) error {
	record, err := voucherRecord(voucher)
	if err != nil {
		return err
	}
	return l.repo.SaveRecord(ctx, record.Key, record.Data)
}

func voucherRecord(voucher domain.Voucher) (store.Record, error) {
	data, err := json.Marshal(voucher)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{Key: voucherPrefix + voucher.Number, Data: data}, nil
}

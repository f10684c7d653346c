package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	GenericName  string          `json:"generic_name"`
	Code         string          `json:"code"`
	Barcode      string          `json:"barcode"`
	Category     string          `json:"category"`
	UnitType     UnitType        `json:"unit_type"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	PriceVES     decimal.Decimal `json:"price_ves"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	MinStock     decimal.Decimal `json:"min_stock"`
	ReorderPoint decimal.Decimal `json:"reorder_point"`
	MaxStock     decimal.Decimal `json:"max_stock"`
	Active       bool            `json:"active"`
}

type Batch struct {
	ID          string          `json:"id"`
	ProductID   string          `json:"product_id"`
	WarehouseID string          `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Zone        Zone            `json:"zone"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// BatchAllocation is one engine decision: take Quantity from BatchID.
// The same shape is reused for the decrements committed at checkout.
type BatchAllocation struct {
	BatchID  string          `json:"batch_id"`
	Quantity decimal.Decimal `json:"quantity"`
}

type CartLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitType  UnitType        `json:"unit_type"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice Money           `json:"unit_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Subtotal  Money           `json:"subtotal"`
	Tax       Money           `json:"tax"`
	Total     Money           `json:"total"`
}

type Payment struct {
	Method    PaymentMethod `json:"method"`
	Amount    Money         `json:"amount"`
	Reference string        `json:"reference,omitempty"`
	At        time.Time     `json:"at"`
}

type Cart struct {
	Lines    []CartLine `json:"lines"`
	Payments []Payment  `json:"payments"`
}

type LedgerEntry struct {
	ID        string          `json:"id"`
	At        time.Time       `json:"at"`
	Kind      EntryKind       `json:"kind"`
	Currency  Currency        `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	InvoiceID string          `json:"invoice_id,omitempty"`
	Operator  string          `json:"operator,omitempty"`
	Note      string          `json:"note,omitempty"`
}

type Voucher struct {
	Number          string    `json:"number"`
	Original        Money     `json:"original"`
	Remaining       Money     `json:"remaining"`
	IssuedAt        time.Time `json:"issued_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	CustomerID      string    `json:"customer_id,omitempty"`
	SourceInvoiceID string    `json:"source_invoice_id"`
	Active          bool      `json:"active"`
}

type HeldCart struct {
	ID      string    `json:"id"`
	Cart    Cart      `json:"cart"`
	Note    string    `json:"note,omitempty"`
	Cashier string    `json:"cashier,omitempty"`
	HeldAt  time.Time `json:"held_at"`
}

type Actor struct {
	Username string
}

type AddItemRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type UpdateQuantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type PaymentRequest struct {
	Method    PaymentMethod   `json:"method"`
	AmountUSD decimal.Decimal `json:"amount_usd"`
	AmountVES decimal.Decimal `json:"amount_ves"`
	Reference string          `json:"reference,omitempty"`
}

type CartTotals struct {
	Subtotal    Money           `json:"subtotal"`
	Tax         Money           `json:"tax"`
	CashLevy    Money           `json:"cash_levy"`
	Total       Money           `json:"total"`
	Paid        Money           `json:"paid"`
	OutstandUSD decimal.Decimal `json:"outstanding_usd"`
}

type CartView struct {
	Cart   Cart       `json:"cart"`
	Totals CartTotals `json:"totals"`
}

type HoldCartRequest struct {
	Note string `json:"note,omitempty"`
}

type CheckoutRequest struct {
	CustomerID string `json:"customer_id,omitempty"`
}

type CheckoutResponse struct {
	InvoiceID     string            `json:"invoice_id"`
	Lines         []CartLine        `json:"lines"`
	Subtotal      Money             `json:"subtotal"`
	Tax           Money             `json:"tax"`
	CashLevy      Money             `json:"cash_levy"`
	Total         Money             `json:"total"`
	Paid          Money             `json:"paid"`
	Change        Money             `json:"change"`
	VoucherNumber string            `json:"voucher_number,omitempty"`
	Allocations   []BatchAllocation `json:"allocations"`
	CreatedAt     string            `json:"created_at"`
}

type TillOpenRequest struct {
	FloatUSD decimal.Decimal `json:"float_usd"`
	FloatVES decimal.Decimal `json:"float_ves"`
}

type TillCloseRequest struct {
	CountedUSD decimal.Decimal `json:"counted_usd"`
	CountedVES decimal.Decimal `json:"counted_ves"`
}

type AdjustmentRequest struct {
	Currency Currency        `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	Note     string          `json:"note"`
}

type RedeemVoucherRequest struct {
	AmountUSD decimal.Decimal `json:"amount_usd"`
	AmountVES decimal.Decimal `json:"amount_ves"`
}

type TransferRequest struct {
	ProductID       string          `json:"product_id"`
	FromWarehouseID string          `json:"from_warehouse_id"`
	ToWarehouseID   string          `json:"to_warehouse_id"`
	Quantity        decimal.Decimal `json:"quantity"`
}

type CurrencyFlow struct {
	In      decimal.Decimal `json:"in"`
	Out     decimal.Decimal `json:"out"`
	Balance decimal.Decimal `json:"balance"`
}

type LedgerReport struct {
	Start     time.Time                 `json:"start"`
	End       time.Time                 `json:"end"`
	Flows     map[Currency]CurrencyFlow `json:"flows"`
	SaleCount int                       `json:"sale_count"`
}

type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyVES Currency = "VES"
)

type UnitType string

const (
	UnitTypeUnit     UnitType = "unit"
	UnitTypeFraction UnitType = "fraction"
)

type Zone string

const (
	ZoneAvailable  Zone = "available"
	ZoneQuarantine Zone = "quarantine"
	ZoneRejected   Zone = "rejected"
)

type EntryKind string

const (
	EntryOpening    EntryKind = "opening"
	EntrySale       EntryKind = "sale"
	EntryPayment    EntryKind = "payment"
	EntryRefund     EntryKind = "refund"
	EntryClosing    EntryKind = "closing"
	EntryAdjustment EntryKind = "adjustment"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentMobile   PaymentMethod = "mobile"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentZelle    PaymentMethod = "zelle"
)

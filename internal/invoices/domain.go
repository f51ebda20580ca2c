package invoices

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// Side distinguishes receivable and payable documents.
type Side string

const (
	SideAR Side = "AR"
	SideAP Side = "AP"
)

// Valid reports whether s is AR or AP.
func (s Side) Valid() bool {
	return s == SideAR || s == SideAP
}

// ApprovalStatus enumerates invoice approval states.
type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "DRAFT"
	ApprovalPending  ApprovalStatus = "PENDING_APPROVAL"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// PaymentStatus enumerates settlement states derived from allocations.
type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "UNPAID"
	PaymentPartiallyPaid PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid          PaymentStatus = "PAID"
)

// MatchStatus is the outcome of a 3-way match stored on AP invoices.
type MatchStatus string

const (
	MatchNotRequired MatchStatus = "NOT_REQUIRED"
	MatchMatched     MatchStatus = "MATCHED"
	MatchVariance    MatchStatus = "VARIANCE"
	MatchFailed      MatchStatus = "FAILED"
)

// MatchResult is the persisted 3-way match outcome.
type MatchResult struct {
	Status         MatchStatus
	VarianceAmount decimal.Decimal
	Notes          string
	PerformedAt    *time.Time
}

// Invoice is an AR or AP sub-ledger document.
type Invoice struct {
	ID             int64
	Side           Side
	Number         string
	CounterpartyID int64
	Currency       string
	// ExchangeRate converts Currency into the base currency at Date. Zero
	// means the rate is resolved from the FX table when posting.
	ExchangeRate   decimal.Decimal
	Date           time.Time
	DueDate        time.Time
	Items          []Item
	IsPosted       bool
	IsCancelled    bool
	ApprovalStatus ApprovalStatus
	PaymentStatus  PaymentStatus
	GLJournalID    *int64
	Subtotal       decimal.Decimal
	TaxAmount      decimal.Decimal
	Total          decimal.Decimal
	PaidAt         *time.Time
	GRNID          *int64
	POID           *int64
	OrganizationID *int64
	Match          MatchResult
	CreatedBy      int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Editable reports whether the invoice may still be modified.
func (inv Invoice) Editable() bool {
	return inv.ApprovalStatus == ApprovalDraft && !inv.IsPosted && !inv.IsCancelled
}

// Item is an invoice line.
type Item struct {
	ID          int64
	InvoiceID   int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	// TaxRate is a percentage; zero means untaxed.
	TaxRate decimal.Decimal
}

// Net returns quantity × unit price quantized.
func (it Item) Net() decimal.Decimal {
	return money.Quantize2(it.Quantity.Mul(it.UnitPrice))
}

// Total returns quantity × unit price × (1 + rate/100) quantized.
func (it Item) Total() decimal.Decimal {
	gross := it.Quantity.Mul(it.UnitPrice).Mul(decimal.NewFromInt(1).Add(money.Pct(it.TaxRate)))
	return money.Quantize2(gross)
}

// Payment settles an invoice. Amount is expressed in Currency; InvoiceAmount
// is the part of the invoice it settles, in the invoice currency.
type Payment struct {
	ID            int64
	Side          Side
	Number        string
	InvoiceID     int64
	Date          time.Time
	Amount        decimal.Decimal
	Currency      string
	InvoiceAmount decimal.Decimal
	// ExchangeRate converts Currency into base at Date. Zero means the rate
	// is resolved from the FX table when posting.
	ExchangeRate      decimal.Decimal
	BankAccountID     int64
	GLJournalID       *int64
	ReversalJournalID *int64
	Reconciled        bool
	CreatedBy         int64
	CreatedAt         time.Time
}

// Posted reports whether the payment has a live journal.
func (p Payment) Posted() bool {
	return p.GLJournalID != nil && p.ReversalJournalID == nil
}

// SettledAmount returns the amount applied against an invoice held in
// invoiceCurrency. A payment in another currency must carry InvoiceAmount.
func (p Payment) SettledAmount(invoiceCurrency string) (decimal.Decimal, error) {
	if p.Currency == "" || p.Currency == invoiceCurrency {
		return p.Amount, nil
	}
	if !p.InvoiceAmount.IsPositive() {
		return decimal.Zero, shared.Invalid("invoices: payment %d in %s has no settled amount in %s", p.ID, p.Currency, invoiceCurrency)
	}
	return p.InvoiceAmount, nil
}

// Allocation applies a payment to an invoice.
type Allocation struct {
	ID        int64
	PaymentID int64
	InvoiceID int64
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Balance is an outstanding invoice amount used for aging.
type Balance struct {
	InvoiceID      int64
	Side           Side
	Number         string
	CounterpartyID int64
	DueDate        time.Time
	Total          decimal.Decimal
	Paid           decimal.Decimal
}

// Outstanding returns total minus paid.
func (b Balance) Outstanding() decimal.Decimal {
	return b.Total.Sub(b.Paid)
}

// AgingBucket summarises outstanding totals by days overdue.
type AgingBucket struct {
	Current   decimal.Decimal
	Bucket30  decimal.Decimal
	Bucket60  decimal.Decimal
	Bucket90  decimal.Decimal
	Bucket120 decimal.Decimal
}

// Total sums every bucket.
func (b AgingBucket) Total() decimal.Decimal {
	return money.Sum(b.Current, b.Bucket30, b.Bucket60, b.Bucket90, b.Bucket120)
}

// ItemInput describes an invoice line to create.
type ItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
}

// CreateInput creates a draft invoice.
type CreateInput struct {
	Side           Side
	Number         string
	CounterpartyID int64
	Currency       string
	ExchangeRate   decimal.Decimal
	Date           time.Time
	DueDate        time.Time
	GRNID          *int64
	POID           *int64
	OrganizationID *int64
	CreatedBy      int64
	Items          []ItemInput
}

// UpdateInput replaces the editable fields of a draft invoice.
type UpdateInput struct {
	InvoiceID    int64
	Currency     string
	ExchangeRate decimal.Decimal
	Date         time.Time
	DueDate      time.Time
	Items        []ItemInput
}

// PaymentInput records a payment against one invoice.
type PaymentInput struct {
	InvoiceID     int64
	Number        string
	Date          time.Time
	Amount        decimal.Decimal
	Currency      string
	ExchangeRate  decimal.Decimal
	BankAccountID int64
	CreatedBy     int64
}

var (
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = shared.NewError(shared.ErrNotFound, "INVOICE_NOT_FOUND", "invoices: invoice not found")
	// ErrPaymentNotFound indicates a missing payment.
	ErrPaymentNotFound = shared.NewError(shared.ErrNotFound, "PAYMENT_NOT_FOUND", "invoices: payment not found")
	// ErrNotEditable rejects changes to non-draft or posted invoices.
	ErrNotEditable = shared.NewError(shared.ErrStateConflict, "INVOICE_NOT_EDITABLE", "invoices: invoice can no longer be modified")
	// ErrInvalidApproval rejects approval transitions from the wrong state.
	ErrInvalidApproval = shared.NewError(shared.ErrStateConflict, "INVALID_APPROVAL_TRANSITION", "invoices: approval transition not allowed")
	// ErrExceedsBalance rejects payments larger than the remaining balance.
	ErrExceedsBalance = shared.NewError(shared.ErrStateConflict, "PAYMENT_EXCEEDS_BALANCE", "invoices: payment exceeds remaining balance")
	// ErrInvoiceNotPosted rejects payment posting before the invoice is posted.
	ErrInvoiceNotPosted = shared.NewError(shared.ErrStateConflict, "INVOICE_NOT_POSTED", "invoices: invoice is not posted")
	// ErrInvoiceCancelled rejects operations on cancelled invoices.
	ErrInvoiceCancelled = shared.NewError(shared.ErrStateConflict, "INVOICE_CANCELLED", "invoices: invoice is cancelled")
	// ErrHasAllocations rejects cancelling an invoice that has payments applied.
	ErrHasAllocations = shared.NewError(shared.ErrStateConflict, "INVOICE_HAS_PAYMENTS", "invoices: invoice has payment allocations")
)

// ComputeTotals derives subtotal, tax and total from items. Tax is the
// difference between the quantized gross and net per line, so subtotal + tax
// always equals total to the cent.
func ComputeTotals(items []Item) (subtotal, tax, total decimal.Decimal) {
	subtotal, total = decimal.Zero, decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.Net())
		total = total.Add(it.Total())
	}
	return subtotal, total.Sub(subtotal), total
}

// StatusFor maps allocated amount against total to a payment status.
func StatusFor(total, allocated decimal.Decimal) PaymentStatus {
	allocated = money.Quantize2(allocated)
	switch {
	case !allocated.IsPositive():
		return PaymentUnpaid
	case allocated.LessThan(money.Quantize2(total)):
		return PaymentPartiallyPaid
	default:
		return PaymentPaid
	}
}

func buildItems(inputs []ItemInput) ([]Item, error) {
	if len(inputs) == 0 {
		return nil, shared.Invalid("invoices: at least one item is required")
	}
	items := make([]Item, 0, len(inputs))
	for idx, in := range inputs {
		if !in.Quantity.IsPositive() {
			return nil, shared.Invalid("invoices: item %d quantity must be positive", idx)
		}
		if in.UnitPrice.IsNegative() {
			return nil, shared.Invalid("invoices: item %d unit price must not be negative", idx)
		}
		if in.TaxRate.IsNegative() {
			return nil, shared.Invalid("invoices: item %d tax rate must not be negative", idx)
		}
		items = append(items, Item{
			Description: in.Description,
			Quantity:    in.Quantity,
			UnitPrice:   in.UnitPrice,
			TaxRate:     in.TaxRate,
		})
	}
	return items, nil
}

package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// Repository abstracts invoice persistence.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetInvoice(ctx context.Context, id int64) (Invoice, error)
	GetPayment(ctx context.Context, id int64) (Payment, error)
	ListBalances(ctx context.Context, side Side) ([]Balance, error)
}

// TxRepository exposes transactional invoice operations. The posting engine
// receives one bound to the same transaction as its ledger writes.
type TxRepository interface {
	GetInvoiceForUpdate(ctx context.Context, id int64) (Invoice, error)
	// InsertInvoice stores header and items, assigning a number when empty.
	InsertInvoice(ctx context.Context, inv Invoice) (Invoice, error)
	ReplaceInvoice(ctx context.Context, inv Invoice) error
	DeleteInvoice(ctx context.Context, id int64) error
	UpdateApproval(ctx context.Context, id int64, status ApprovalStatus) error
	MarkInvoicePosted(ctx context.Context, id, journalID int64) error
	MarkInvoiceCancelled(ctx context.Context, id int64) error
	UpdatePaymentStatus(ctx context.Context, id int64, status PaymentStatus, paidAt *time.Time) error
	SaveMatchResult(ctx context.Context, id int64, result MatchResult) error

	InsertPayment(ctx context.Context, p Payment) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, id int64) (Payment, error)
	MarkPaymentPosted(ctx context.Context, id, journalID int64) error
	MarkPaymentReversed(ctx context.Context, id, journalID int64) error
	InsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
	DeleteAllocations(ctx context.Context, paymentID int64) error
	SumAllocations(ctx context.Context, invoiceID int64) (decimal.Decimal, error)
}

// ApprovalPort records approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// RateConverter translates a payment into the invoice currency.
type RateConverter interface {
	Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time, typ fx.RateType) (decimal.Decimal, error)
}

// Service manages the AR/AP document lifecycle up to posting.
type Service struct {
	repo      Repository
	approvals ApprovalPort
	rates     RateConverter
	now       func() time.Time
}

// NewService builds the invoice service. approvals may be nil.
func NewService(repo Repository, approvals ApprovalPort) *Service {
	return &Service{repo: repo, approvals: approvals, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithRates enables payments in a currency other than the invoice's.
func (s *Service) WithRates(rates RateConverter) {
	s.rates = rates
}

// CreateInvoice stores a new draft invoice with totals computed from items.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInput) (Invoice, error) {
	if !input.Side.Valid() {
		return Invoice{}, shared.Invalid("invoices: side must be AR or AP")
	}
	if input.CounterpartyID == 0 {
		return Invoice{}, shared.Invalid("invoices: counterparty required")
	}
	ccy, err := fx.NormalizeCode(input.Currency)
	if err != nil {
		return Invoice{}, err
	}
	if input.Date.IsZero() {
		return Invoice{}, shared.Invalid("invoices: date required")
	}
	if input.ExchangeRate.IsNegative() {
		return Invoice{}, shared.Invalid("invoices: exchange rate must not be negative")
	}
	due := input.DueDate
	if due.IsZero() {
		due = input.Date
	}
	if due.Before(input.Date) {
		return Invoice{}, shared.Invalid("invoices: due date before invoice date")
	}
	items, err := buildItems(input.Items)
	if err != nil {
		return Invoice{}, err
	}
	subtotal, tax, total := ComputeTotals(items)
	inv := Invoice{
		Side:           input.Side,
		Number:         input.Number,
		CounterpartyID: input.CounterpartyID,
		Currency:       ccy,
		ExchangeRate:   input.ExchangeRate,
		Date:           input.Date,
		DueDate:        due,
		Items:          items,
		ApprovalStatus: ApprovalDraft,
		PaymentStatus:  PaymentUnpaid,
		Subtotal:       subtotal,
		TaxAmount:      tax,
		Total:          total,
		GRNID:          input.GRNID,
		POID:           input.POID,
		OrganizationID: input.OrganizationID,
		CreatedBy:      input.CreatedBy,
		CreatedAt:      s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		inv, err = tx.InsertInvoice(ctx, inv)
		return err
	})
	if err != nil {
		return Invoice{}, err
	}
	return inv, nil
}

// UpdateInvoice replaces header fields and items of a draft invoice.
func (s *Service) UpdateInvoice(ctx context.Context, input UpdateInput) (Invoice, error) {
	items, err := buildItems(input.Items)
	if err != nil {
		return Invoice{}, err
	}
	var updated Invoice
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.Editable() {
			return shared.WithState(ErrNotEditable, describe(inv))
		}
		if input.Currency != "" {
			ccy, err := fx.NormalizeCode(input.Currency)
			if err != nil {
				return err
			}
			inv.Currency = ccy
		}
		if !input.Date.IsZero() {
			inv.Date = input.Date
		}
		if !input.DueDate.IsZero() {
			inv.DueDate = input.DueDate
		}
		if inv.DueDate.Before(inv.Date) {
			return shared.Invalid("invoices: due date before invoice date")
		}
		if input.ExchangeRate.IsNegative() {
			return shared.Invalid("invoices: exchange rate must not be negative")
		}
		inv.ExchangeRate = input.ExchangeRate
		inv.Items = items
		inv.Subtotal, inv.TaxAmount, inv.Total = ComputeTotals(items)
		inv.UpdatedAt = s.now()
		if err := tx.ReplaceInvoice(ctx, inv); err != nil {
			return err
		}
		updated = inv
		return nil
	})
	return updated, err
}

// DeleteInvoice removes a draft invoice.
func (s *Service) DeleteInvoice(ctx context.Context, id int64) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !inv.Editable() {
			return shared.WithState(ErrNotEditable, describe(inv))
		}
		return tx.DeleteInvoice(ctx, id)
	})
}

// Submit moves a draft invoice into approval.
func (s *Service) Submit(ctx context.Context, id, actorID int64) error {
	return s.transition(ctx, id, actorID, ApprovalDraft, ApprovalPending, shared.ApprovalSubmit, "")
}

// Approve accepts a pending invoice, making it postable.
func (s *Service) Approve(ctx context.Context, id, actorID int64) error {
	return s.transition(ctx, id, actorID, ApprovalPending, ApprovalApproved, shared.ApprovalApprove, "")
}

// Reject declines a pending invoice.
func (s *Service) Reject(ctx context.Context, id, actorID int64, note string) error {
	return s.transition(ctx, id, actorID, ApprovalPending, ApprovalRejected, shared.ApprovalReject, note)
}

// Reopen returns a rejected invoice to draft for correction.
func (s *Service) Reopen(ctx context.Context, id, actorID int64) error {
	return s.transition(ctx, id, actorID, ApprovalRejected, ApprovalDraft, shared.ApprovalReopen, "")
}

func (s *Service) transition(ctx context.Context, id, actorID int64, from, to ApprovalStatus, action shared.ApprovalAction, note string) error {
	var side Side
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.IsCancelled {
			return shared.WithState(ErrInvoiceCancelled, describe(inv))
		}
		if inv.ApprovalStatus != from || inv.IsPosted {
			return shared.WithState(ErrInvalidApproval, describe(inv))
		}
		if to == ApprovalPending && !inv.Total.IsPositive() {
			return shared.Invalid("invoices: invoice total must be positive")
		}
		side = inv.Side
		return tx.UpdateApproval(ctx, id, to)
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  string(side) + "_INVOICE",
			RefID:   id,
			ActorID: actorID,
			Action:  action,
			Note:    note,
			At:      s.now(),
		})
	}
	return nil
}

// RecordPayment registers an unposted payment. The amount may not exceed the
// invoice balance remaining after earlier allocations.
func (s *Service) RecordPayment(ctx context.Context, input PaymentInput) (Payment, error) {
	amount := money.Quantize2(input.Amount)
	if !amount.IsPositive() {
		return Payment{}, shared.Invalid("invoices: payment amount must be positive")
	}
	if input.Date.IsZero() {
		return Payment{}, shared.Invalid("invoices: payment date required")
	}
	if input.BankAccountID == 0 {
		return Payment{}, shared.Invalid("invoices: bank account required")
	}
	if input.ExchangeRate.IsNegative() {
		return Payment{}, shared.Invalid("invoices: exchange rate must not be negative")
	}
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, err := tx.GetInvoiceForUpdate(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if inv.IsCancelled {
			return shared.WithState(ErrInvoiceCancelled, describe(inv))
		}
		ccy := inv.Currency
		if input.Currency != "" {
			if ccy, err = fx.NormalizeCode(input.Currency); err != nil {
				return err
			}
		}
		settled, err := s.settledAmount(ctx, amount, ccy, inv.Currency, input.Date)
		if err != nil {
			return err
		}
		remaining, err := Remaining(ctx, tx, inv)
		if err != nil {
			return err
		}
		if settled.GreaterThan(remaining) {
			return shared.WithState(ErrExceedsBalance, fmt.Sprintf("remaining %s %s", remaining.StringFixed(2), inv.Currency))
		}
		payment, err = tx.InsertPayment(ctx, Payment{
			Side:          inv.Side,
			Number:        input.Number,
			InvoiceID:     inv.ID,
			Date:          input.Date,
			Amount:        amount,
			Currency:      ccy,
			InvoiceAmount: settled,
			ExchangeRate:  input.ExchangeRate,
			BankAccountID: input.BankAccountID,
			CreatedBy:     input.CreatedBy,
			CreatedAt:     s.now(),
		})
		return err
	})
	if err != nil {
		return Payment{}, err
	}
	return payment, nil
}

// settledAmount converts a payment amount into the invoice currency at the
// payment date's spot rate.
func (s *Service) settledAmount(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time) (decimal.Decimal, error) {
	if from == to {
		return amount, nil
	}
	if s.rates == nil {
		return decimal.Zero, shared.Invalid("invoices: payment currency %s differs from invoice currency %s", from, to)
	}
	settled, err := s.rates.Convert(ctx, amount, from, to, date, fx.RateSpot)
	if err != nil {
		return decimal.Zero, err
	}
	settled = money.Quantize2(settled)
	if !settled.IsPositive() {
		return decimal.Zero, shared.Invalid("invoices: payment settles nothing in %s", to)
	}
	return settled, nil
}

// GetInvoice loads an invoice with items.
func (s *Service) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	return s.repo.GetInvoice(ctx, id)
}

// GetPayment loads a payment.
func (s *Service) GetPayment(ctx context.Context, id int64) (Payment, error) {
	return s.repo.GetPayment(ctx, id)
}

// Aging buckets outstanding balances by days past due as of asOf.
func (s *Service) Aging(ctx context.Context, side Side, asOf time.Time) (AgingBucket, error) {
	balances, err := s.repo.ListBalances(ctx, side)
	if err != nil {
		return AgingBucket{}, err
	}
	return BucketBalances(balances, asOf), nil
}

// BucketBalances groups positive outstanding balances by days overdue.
func BucketBalances(balances []Balance, asOf time.Time) AgingBucket {
	bucket := AgingBucket{Current: decimal.Zero, Bucket30: decimal.Zero, Bucket60: decimal.Zero, Bucket90: decimal.Zero, Bucket120: decimal.Zero}
	for _, b := range balances {
		open := b.Outstanding()
		if !open.IsPositive() {
			continue
		}
		daysOverdue := int(asOf.Sub(b.DueDate).Hours() / 24)
		switch {
		case daysOverdue <= 0:
			bucket.Current = bucket.Current.Add(open)
		case daysOverdue <= 30:
			bucket.Bucket30 = bucket.Bucket30.Add(open)
		case daysOverdue <= 60:
			bucket.Bucket60 = bucket.Bucket60.Add(open)
		case daysOverdue <= 90:
			bucket.Bucket90 = bucket.Bucket90.Add(open)
		default:
			bucket.Bucket120 = bucket.Bucket120.Add(open)
		}
	}
	return bucket
}

func describe(inv Invoice) string {
	state := string(inv.ApprovalStatus)
	switch {
	case inv.IsCancelled:
		state += "/CANCELLED"
	case inv.IsPosted:
		state += "/POSTED"
	}
	return state
}

package invoices

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// Remaining returns the invoice total less existing allocations.
func Remaining(ctx context.Context, tx TxRepository, inv Invoice) (decimal.Decimal, error) {
	allocated, err := tx.SumAllocations(ctx, inv.ID)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return money.Quantize2(inv.Total.Sub(allocated)), nil
}

// Allocate applies a posted payment to its invoice and recomputes the
// payment status. It reports whether the invoice became fully paid.
func Allocate(ctx context.Context, tx TxRepository, payment Payment, now time.Time) (bool, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, payment.InvoiceID)
	if err != nil {
		return false, err
	}
	if inv.IsCancelled {
		return false, shared.WithState(ErrInvoiceCancelled, describe(inv))
	}
	if !inv.IsPosted {
		return false, shared.WithState(ErrInvoiceNotPosted, describe(inv))
	}
	settled, err := payment.SettledAmount(inv.Currency)
	if err != nil {
		return false, err
	}
	remaining, err := Remaining(ctx, tx, inv)
	if err != nil {
		return false, err
	}
	if settled.GreaterThan(remaining) {
		return false, shared.WithState(ErrExceedsBalance, fmt.Sprintf("remaining %s %s", remaining.StringFixed(2), inv.Currency))
	}
	if _, err := tx.InsertAllocation(ctx, Allocation{
		PaymentID: payment.ID,
		InvoiceID: inv.ID,
		Amount:    settled,
		CreatedAt: now,
	}); err != nil {
		return false, err
	}
	return recompute(ctx, tx, inv, now)
}

// Unallocate removes a payment's allocations and recomputes the invoice status.
func Unallocate(ctx context.Context, tx TxRepository, payment Payment, now time.Time) error {
	if err := tx.DeleteAllocations(ctx, payment.ID); err != nil {
		return err
	}
	_, err := RecomputePaymentStatus(ctx, tx, payment.InvoiceID, now)
	return err
}

// RecomputePaymentStatus derives the payment status from allocations. It
// reports whether the invoice transitioned into PAID.
func RecomputePaymentStatus(ctx context.Context, tx TxRepository, invoiceID int64, now time.Time) (bool, error) {
	inv, err := tx.GetInvoiceForUpdate(ctx, invoiceID)
	if err != nil {
		return false, err
	}
	return recompute(ctx, tx, inv, now)
}

func recompute(ctx context.Context, tx TxRepository, inv Invoice, now time.Time) (bool, error) {
	allocated, err := tx.SumAllocations(ctx, inv.ID)
	if err != nil {
		return false, err
	}
	status := StatusFor(inv.Total, allocated)
	paidAt := inv.PaidAt
	closed := false
	switch {
	case status == PaymentPaid && inv.PaymentStatus != PaymentPaid:
		t := now
		paidAt = &t
		closed = true
	case status != PaymentPaid:
		paidAt = nil
	}
	if status == inv.PaymentStatus && !closed && (paidAt == nil) == (inv.PaidAt == nil) {
		return false, nil
	}
	if err := tx.UpdatePaymentStatus(ctx, inv.ID, status, paidAt); err != nil {
		return false, err
	}
	return closed, nil
}

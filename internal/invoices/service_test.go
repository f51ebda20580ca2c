package invoices_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/invoices/invoicestest"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type approvalLog struct {
	logs []shared.ApprovalLog
}

func (a *approvalLog) Record(ctx context.Context, log shared.ApprovalLog) error {
	a.logs = append(a.logs, log)
	return nil
}

var (
	invoiceDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	fixedNow    = time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedRates map[string]decimal.Decimal

func (r fixedRates) Convert(ctx context.Context, amount decimal.Decimal, from, to string, date time.Time, typ fx.RateType) (decimal.Decimal, error) {
	rate, ok := r[from+to]
	if !ok {
		return decimal.Zero, fx.ErrRateNotFound
	}
	return amount.Mul(rate), nil
}

func newService(t *testing.T) (*invoices.Service, *invoicestest.Store, *approvalLog) {
	t.Helper()
	store := invoicestest.NewStore()
	approvals := &approvalLog{}
	svc := invoices.NewService(store, approvals)
	svc.WithNow(func() time.Time { return fixedNow })
	return svc, store, approvals
}

func draftInput() invoices.CreateInput {
	return invoices.CreateInput{
		Side:           invoices.SideAR,
		CounterpartyID: 42,
		Currency:       "aed",
		Date:           invoiceDate,
		DueDate:        invoiceDate.AddDate(0, 0, 30),
		Items: []invoices.ItemInput{
			{Description: "Consulting", Quantity: d("2"), UnitPrice: d("50"), TaxRate: d("5")},
		},
	}
}

func TestItemTotalsQuantize(t *testing.T) {
	items := []invoices.Item{
		{Quantity: d("3"), UnitPrice: d("33.333"), TaxRate: d("5")},
		{Quantity: d("1"), UnitPrice: d("10")},
	}
	subtotal, tax, total := invoices.ComputeTotals(items)
	require.Equal(t, "110.00", subtotal.StringFixed(2))
	require.Equal(t, "5.00", tax.StringFixed(2))
	require.Equal(t, "115.00", total.StringFixed(2))
	require.True(t, subtotal.Add(tax).Equal(total))
}

func TestCreateInvoiceComputesTotals(t *testing.T) {
	svc, _, _ := newService(t)
	inv, err := svc.CreateInvoice(context.Background(), draftInput())
	require.NoError(t, err)
	require.Equal(t, "AED", inv.Currency)
	require.Equal(t, invoices.ApprovalDraft, inv.ApprovalStatus)
	require.Equal(t, invoices.PaymentUnpaid, inv.PaymentStatus)
	require.Equal(t, "100.00", inv.Subtotal.StringFixed(2))
	require.Equal(t, "5.00", inv.TaxAmount.StringFixed(2))
	require.Equal(t, "105.00", inv.Total.StringFixed(2))
	require.NotEmpty(t, inv.Number)
}

func TestCreateInvoiceValidation(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	in := draftInput()
	in.Items[0].Quantity = d("-1")
	_, err := svc.CreateInvoice(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = draftInput()
	in.Items = nil
	_, err = svc.CreateInvoice(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = draftInput()
	in.Currency = "dirham"
	_, err = svc.CreateInvoice(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)

	in = draftInput()
	in.DueDate = invoiceDate.AddDate(0, 0, -1)
	_, err = svc.CreateInvoice(ctx, in)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestApprovalFlowAndEditing(t *testing.T) {
	svc, _, approvals := newService(t)
	ctx := context.Background()
	inv, err := svc.CreateInvoice(ctx, draftInput())
	require.NoError(t, err)

	updated, err := svc.UpdateInvoice(ctx, invoices.UpdateInput{
		InvoiceID: inv.ID,
		Items:     []invoices.ItemInput{{Description: "Consulting", Quantity: d("3"), UnitPrice: d("50")}},
	})
	require.NoError(t, err)
	require.Equal(t, "150.00", updated.Total.StringFixed(2))

	err = svc.Approve(ctx, inv.ID, 7)
	require.ErrorIs(t, err, invoices.ErrInvalidApproval)
	state, ok := shared.CurrentState(err)
	require.True(t, ok)
	require.Equal(t, "DRAFT", state)

	require.NoError(t, svc.Submit(ctx, inv.ID, 7))
	_, err = svc.UpdateInvoice(ctx, invoices.UpdateInput{InvoiceID: inv.ID, Items: []invoices.ItemInput{{Quantity: d("1"), UnitPrice: d("1")}}})
	require.ErrorIs(t, err, invoices.ErrNotEditable)
	require.ErrorIs(t, svc.DeleteInvoice(ctx, inv.ID), invoices.ErrNotEditable)

	require.NoError(t, svc.Reject(ctx, inv.ID, 8, "wrong price"))
	require.NoError(t, svc.Reopen(ctx, inv.ID, 7))
	require.NoError(t, svc.Submit(ctx, inv.ID, 7))
	require.NoError(t, svc.Approve(ctx, inv.ID, 8))

	got, err := svc.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.ApprovalApproved, got.ApprovalStatus)
	require.Len(t, approvals.logs, 5)
	require.Equal(t, "AR_INVOICE", approvals.logs[0].Module)
	require.Equal(t, shared.ApprovalApprove, approvals.logs[4].Action)
}

func TestDeleteDraftInvoice(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	inv, err := svc.CreateInvoice(ctx, draftInput())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteInvoice(ctx, inv.ID))
	_, err = svc.GetInvoice(ctx, inv.ID)
	require.ErrorIs(t, err, invoices.ErrInvoiceNotFound)
}

func TestRecordPaymentRespectsRemainingBalance(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	inv := store.Put(invoices.Invoice{
		Side: invoices.SideAR, Currency: "AED", Date: invoiceDate, DueDate: invoiceDate,
		ApprovalStatus: invoices.ApprovalApproved, PaymentStatus: invoices.PaymentUnpaid,
		IsPosted: true, Total: d("1000"),
	})
	_, err := svc.RecordPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Date: fixedNow, Amount: d("0"), BankAccountID: 1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Date: fixedNow, Amount: d("1000.01"), BankAccountID: 1})
	require.ErrorIs(t, err, invoices.ErrExceedsBalance)
	require.ErrorIs(t, err, shared.ErrStateConflict)

	p, err := svc.RecordPayment(ctx, invoices.PaymentInput{InvoiceID: inv.ID, Date: fixedNow, Amount: d("400"), BankAccountID: 1})
	require.NoError(t, err)
	require.Equal(t, "AED", p.Currency)
	require.Equal(t, invoices.SideAR, p.Side)
}

func TestRecordPaymentConvertsOtherCurrency(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()
	inv := store.Put(invoices.Invoice{
		Side: invoices.SideAR, Currency: "USD", Date: invoiceDate, DueDate: invoiceDate,
		ApprovalStatus: invoices.ApprovalApproved, PaymentStatus: invoices.PaymentUnpaid,
		IsPosted: true, Total: d("1000"),
	})
	input := invoices.PaymentInput{InvoiceID: inv.ID, Date: fixedNow, Amount: d("900"), Currency: "eur", BankAccountID: 1}

	_, err := svc.RecordPayment(ctx, input)
	require.ErrorIs(t, err, shared.ErrValidation)

	svc.WithRates(fixedRates{"EURUSD": d("1.2")})
	_, err = svc.RecordPayment(ctx, input)
	require.ErrorIs(t, err, invoices.ErrExceedsBalance)

	input.Amount = d("800")
	p, err := svc.RecordPayment(ctx, input)
	require.NoError(t, err)
	require.Equal(t, "EUR", p.Currency)
	require.Equal(t, "800.00", p.Amount.StringFixed(2))
	require.Equal(t, "960.00", p.InvoiceAmount.StringFixed(2))
}

func TestAllocateTransitionsToPaid(t *testing.T) {
	_, store, _ := newService(t)
	ctx := context.Background()
	inv := store.Put(invoices.Invoice{
		Side: invoices.SideAR, Currency: "AED", IsPosted: true, Total: d("1000"),
		ApprovalStatus: invoices.ApprovalApproved, PaymentStatus: invoices.PaymentUnpaid,
	})
	first, err := store.InsertPayment(ctx, invoices.Payment{InvoiceID: inv.ID, Amount: d("400")})
	require.NoError(t, err)
	second, err := store.InsertPayment(ctx, invoices.Payment{InvoiceID: inv.ID, Amount: d("600")})
	require.NoError(t, err)

	closed, err := invoices.Allocate(ctx, store, first, fixedNow)
	require.NoError(t, err)
	require.False(t, closed)
	got, _ := store.GetInvoice(ctx, inv.ID)
	require.Equal(t, invoices.PaymentPartiallyPaid, got.PaymentStatus)
	require.Nil(t, got.PaidAt)

	closed, err = invoices.Allocate(ctx, store, second, fixedNow)
	require.NoError(t, err)
	require.True(t, closed)
	got, _ = store.GetInvoice(ctx, inv.ID)
	require.Equal(t, invoices.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaidAt)

	extra, err := store.InsertPayment(ctx, invoices.Payment{InvoiceID: inv.ID, Amount: d("0.01")})
	require.NoError(t, err)
	_, err = invoices.Allocate(ctx, store, extra, fixedNow)
	require.ErrorIs(t, err, invoices.ErrExceedsBalance)

	require.NoError(t, invoices.Unallocate(ctx, store, second, fixedNow))
	got, _ = store.GetInvoice(ctx, inv.ID)
	require.Equal(t, invoices.PaymentPartiallyPaid, got.PaymentStatus)
	require.Nil(t, got.PaidAt)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, invoices.PaymentUnpaid, invoices.StatusFor(d("10"), decimal.Zero))
	require.Equal(t, invoices.PaymentPartiallyPaid, invoices.StatusFor(d("10"), d("9.99")))
	require.Equal(t, invoices.PaymentPaid, invoices.StatusFor(d("10"), d("10")))
	require.Equal(t, invoices.PaymentPaid, invoices.StatusFor(d("10"), d("10.004")))
}

func TestAgingBuckets(t *testing.T) {
	svc, store, _ := newService(t)
	asOf := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	for _, tc := range []struct {
		due   time.Time
		total string
	}{
		{asOf.AddDate(0, 0, 5), "100"},
		{asOf.AddDate(0, 0, -10), "200"},
		{asOf.AddDate(0, 0, -45), "300"},
		{asOf.AddDate(0, 0, -75), "400"},
		{asOf.AddDate(0, 0, -200), "500"},
	} {
		store.Put(invoices.Invoice{Side: invoices.SideAP, IsPosted: true, DueDate: tc.due, Total: d(tc.total)})
	}
	store.Put(invoices.Invoice{Side: invoices.SideAP, IsPosted: false, DueDate: asOf, Total: d("999")})
	store.Put(invoices.Invoice{Side: invoices.SideAR, IsPosted: true, DueDate: asOf, Total: d("999")})

	bucket, err := svc.Aging(context.Background(), invoices.SideAP, asOf)
	require.NoError(t, err)
	require.Equal(t, "100", bucket.Current.String())
	require.Equal(t, "200", bucket.Bucket30.String())
	require.Equal(t, "300", bucket.Bucket60.String())
	require.Equal(t, "400", bucket.Bucket90.String())
	require.Equal(t, "500", bucket.Bucket120.String())
	require.Equal(t, "1500", bucket.Total().String())
}

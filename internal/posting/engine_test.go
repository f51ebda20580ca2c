package posting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/invoices/invoicestest"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/ledger/internal/shared"
)

const (
	acctBank       int64 = 1000
	acctReceivable int64 = 1100
	acctTaxInput   int64 = 1200
	acctPayable    int64 = 2100
	acctTaxOutput  int64 = 2200
	acctRevenue    int64 = 4100
	acctFXGain     int64 = 4900
	acctExpense    int64 = 5100
	acctFXLoss     int64 = 5900
)

type memoryRepo struct {
	mu       sync.Mutex
	ledger   *ledgertest.Store
	invoices *invoicestest.Store
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	restoreLedger := r.ledger.Checkpoint()
	restoreInvoices := r.invoices.Checkpoint()
	if err := fn(ctx, Tx{Invoices: r.invoices, Ledger: r.ledger}); err != nil {
		restoreLedger()
		restoreInvoices()
		return err
	}
	return nil
}

type stubRates struct {
	base  string
	rates map[string]decimal.Decimal
}

func (s stubRates) GetRate(ctx context.Context, from, to string, date time.Time, typ fx.RateType) (decimal.Decimal, error) {
	if rate, ok := s.rates[from+to+date.Format("2006-01-02")]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, fx.ErrRateNotFound
}

func (s stubRates) BaseCurrency(ctx context.Context) (fx.Currency, error) {
	if s.base == "" {
		return fx.Currency{}, fx.ErrNoBaseCurrencyConfigured
	}
	return fx.Currency{Code: s.base, IsBase: true}, nil
}

type fixture struct {
	engine   *Engine
	repo     *memoryRepo
	ledger   *ledgertest.Store
	invoices *invoicestest.Store
}

var (
	invDate = time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	payDate = time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	ls := ledgertest.NewStore()
	for id, typ := range map[int64]ledger.AccountType{
		acctBank: ledger.AccountTypeAsset, acctReceivable: ledger.AccountTypeAsset, acctTaxInput: ledger.AccountTypeAsset,
		acctPayable: ledger.AccountTypeLiability, acctTaxOutput: ledger.AccountTypeLiability,
		acctRevenue: ledger.AccountTypeIncome, acctFXGain: ledger.AccountTypeIncome,
		acctExpense: ledger.AccountTypeExpense, acctFXLoss: ledger.AccountTypeExpense,
	} {
		ls.AddAccount(id, "", typ)
	}
	table := DefaultAccountTable()
	for key, id := range map[MappingKey]int64{
		table.Receivable: acctReceivable, table.Revenue: acctRevenue, table.TaxOutput: acctTaxOutput,
		table.Payable: acctPayable, table.Expense: acctExpense, table.TaxInput: acctTaxInput,
		table.RealizedGain: acctFXGain, table.RealizedLoss: acctFXLoss,
	} {
		ls.Map(key.Module, key.Key, id)
	}
	is := invoicestest.NewStore()
	repo := &memoryRepo{ledger: ls, invoices: is}
	rates := stubRates{base: "AED", rates: map[string]decimal.Decimal{
		"USDAED2025-01-10": d("3.6725"),
		"USDAED2025-02-10": d("3.7000"),
		"EURAED2025-02-10": d("4.0000"),
	}}
	opts = append([]Option{WithClock(func() time.Time { return payDate })}, opts...)
	return fixture{engine: NewEngine(repo, rates, nil, opts...), repo: repo, ledger: ls, invoices: is}
}

func (f fixture) invoice(side invoices.Side, currency, subtotal, tax string, status invoices.ApprovalStatus) invoices.Invoice {
	sub, tx := d(subtotal), d(tax)
	return f.invoices.Put(invoices.Invoice{
		Side:           side,
		CounterpartyID: 1,
		Currency:       currency,
		Date:           invDate,
		DueDate:        invDate.AddDate(0, 0, 30),
		ApprovalStatus: status,
		PaymentStatus:  invoices.PaymentUnpaid,
		Subtotal:       sub,
		TaxAmount:      tx,
		Total:          sub.Add(tx),
	})
}

func (f fixture) payment(inv invoices.Invoice, amount string) invoices.Payment {
	p, err := f.invoices.InsertPayment(context.Background(), invoices.Payment{
		Side: inv.Side, InvoiceID: inv.ID, Date: payDate, Amount: d(amount), Currency: inv.Currency, BankAccountID: acctBank,
	})
	if err != nil {
		panic(err)
	}
	return p
}

type lineView struct {
	Account int64
	Debit   string
	Credit  string
}

func view(entry ledger.JournalEntry) []lineView {
	out := make([]lineView, 0, len(entry.Lines))
	for _, l := range entry.Lines {
		out = append(out, lineView{l.AccountID, l.Debit.StringFixed(2), l.Credit.StringFixed(2)})
	}
	return out
}

func requireBalanced(t *testing.T, entry ledger.JournalEntry) {
	t.Helper()
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
}

func TestPostARInvoice(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "5.00", invoices.ApprovalApproved)

	res, err := f.engine.PostDocument(context.Background(), DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)
	require.True(t, res.Created)
	requireBalanced(t, res.Entry)
	require.Equal(t, []lineView{
		{acctReceivable, "105.00", "0.00"},
		{acctRevenue, "0.00", "100.00"},
		{acctTaxOutput, "0.00", "5.00"},
	}, view(res.Entry))

	got, _ := f.invoices.GetInvoice(context.Background(), inv.ID)
	require.True(t, got.IsPosted)
	require.Equal(t, res.Entry.ID, *got.GLJournalID)
}

func TestPostInvoiceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "5.00", invoices.ApprovalApproved)
	ref := DocumentRef{Kind: KindARInvoice, ID: inv.ID}

	first, err := f.engine.PostDocument(context.Background(), ref)
	require.NoError(t, err)
	second, err := f.engine.PostDocument(context.Background(), ref)
	require.NoError(t, err)
	require.False(t, second.Created)
	require.Equal(t, first.Entry.ID, second.Entry.ID)
	require.Len(t, f.ledger.Entries(), 1)
}

func TestConcurrentPostingCreatesOneEntry(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "5.00", invoices.ApprovalApproved)
	ref := DocumentRef{Kind: KindARInvoice, ID: inv.ID}

	var wg sync.WaitGroup
	results := make([]Result, 8)
	errs := make([]error, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.PostDocument(context.Background(), ref)
		}(i)
	}
	wg.Wait()
	created := 0
	for i := range results {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Entry.ID, results[i].Entry.ID)
		if results[i].Created {
			created++
		}
	}
	require.Equal(t, 1, created)
	require.Len(t, f.ledger.Entries(), 1)
}

func TestPostInvoiceRequiresApproval(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "5.00", invoices.ApprovalPending)
	_, err := f.engine.PostDocument(context.Background(), DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.ErrorIs(t, err, ErrNotApproved)
	state, ok := shared.CurrentState(err)
	require.True(t, ok)
	require.Equal(t, "PENDING_APPROVAL", state)
	require.Empty(t, f.ledger.Entries())

	_, err = f.engine.PostDocument(context.Background(), DocumentRef{Kind: KindAPInvoice, ID: inv.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestPostAPInvoiceInForeignCurrency(t *testing.T) {
	f := newFixture(t)
	inv := f.invoice(invoices.SideAP, "USD", "1000.00", "50.00", invoices.ApprovalApproved)
	res, err := f.engine.PostDocument(context.Background(), DocumentRef{Kind: KindAPInvoice, ID: inv.ID})
	require.NoError(t, err)
	requireBalanced(t, res.Entry)
	require.Equal(t, "AED", res.Entry.Currency)
	require.Equal(t, []lineView{
		{acctExpense, "3672.50", "0.00"},
		{acctTaxInput, "183.63", "0.00"},
		{acctPayable, "0.00", "3856.13"},
	}, view(res.Entry))
}

func TestPostInvoiceMissingMappingRollsBack(t *testing.T) {
	f := newFixture(t, WithAccountTable(AccountTable{
		Receivable: MappingKey{"AR", "ar.receivable"},
		Revenue:    MappingKey{"AR", "ar.unknown"},
		TaxOutput:  MappingKey{"AR", "ar.tax_output"},
	}))
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "5.00", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(context.Background(), DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.ErrorIs(t, err, ledger.ErrMappingNotFound)
	require.ErrorIs(t, err, shared.ErrConfiguration)
	got, _ := f.invoices.GetInvoice(context.Background(), inv.ID)
	require.False(t, got.IsPosted)
}

func TestPaymentsCloseInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAR, "AED", "1000.00", "0", invoices.ApprovalApproved)
	first := f.payment(inv, "400.00")
	second := f.payment(inv, "600.00")

	_, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: first.ID})
	require.ErrorIs(t, err, invoices.ErrInvoiceNotPosted)

	_, err = f.engine.PostDocument(ctx, DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)

	res, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: first.ID})
	require.NoError(t, err)
	require.False(t, res.InvoiceClosed)
	require.Equal(t, []lineView{{acctBank, "400.00", "0.00"}, {acctReceivable, "0.00", "400.00"}}, view(res.Entry))
	got, _ := f.invoices.GetInvoice(ctx, inv.ID)
	require.Equal(t, invoices.PaymentPartiallyPaid, got.PaymentStatus)

	res, err = f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: second.ID})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.True(t, res.InvoiceClosed)
	got, _ = f.invoices.GetInvoice(ctx, inv.ID)
	require.Equal(t, invoices.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaidAt)

	again, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: second.ID})
	require.NoError(t, err)
	require.False(t, again.Created)
	require.False(t, again.InvoiceClosed)
	require.Equal(t, res.Entry.ID, again.Entry.ID)
}

func TestPaymentOverRemainingBalanceRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "0", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)
	first := f.payment(inv, "80.00")
	second := f.payment(inv, "30.00")
	_, err = f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: first.ID})
	require.NoError(t, err)

	_, err = f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: second.ID})
	require.ErrorIs(t, err, invoices.ErrExceedsBalance)
	require.Len(t, f.ledger.Entries(), 2)
	p, _ := f.invoices.GetPayment(ctx, second.ID)
	require.Nil(t, p.GLJournalID)
}

func TestARPaymentRealizedGain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAR, "USD", "1000.00", "0", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)
	p := f.payment(inv, "1000.00")

	res, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: p.ID})
	require.NoError(t, err)
	requireBalanced(t, res.Entry)
	require.Equal(t, []lineView{
		{acctBank, "3700.00", "0.00"},
		{acctReceivable, "0.00", "3672.50"},
		{acctFXGain, "0.00", "27.50"},
	}, view(res.Entry))
	require.True(t, res.InvoiceClosed)
}

func TestAPPaymentRealizedLoss(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAP, "USD", "1000.00", "0", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindAPInvoice, ID: inv.ID})
	require.NoError(t, err)
	p := f.payment(inv, "500.00")

	res, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindAPPayment, ID: p.ID})
	require.NoError(t, err)
	requireBalanced(t, res.Entry)
	require.Equal(t, []lineView{
		{acctPayable, "1836.25", "0.00"},
		{acctBank, "0.00", "1850.00"},
		{acctFXLoss, "13.75", "0.00"},
	}, view(res.Entry))
	require.False(t, res.InvoiceClosed)
}

func TestAPPaymentRealizedGainWhenRateFalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAP, "USD", "100.00", "0", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindAPInvoice, ID: inv.ID})
	require.NoError(t, err)
	p, err := f.invoices.InsertPayment(ctx, invoices.Payment{
		Side: invoices.SideAP, InvoiceID: inv.ID, Date: payDate, Amount: d("100"), ExchangeRate: d("3.60"), BankAccountID: acctBank,
	})
	require.NoError(t, err)

	res, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindAPPayment, ID: p.ID})
	require.NoError(t, err)
	require.Equal(t, []lineView{
		{acctPayable, "367.25", "0.00"},
		{acctBank, "0.00", "360.00"},
		{acctFXGain, "0.00", "7.25"},
	}, view(res.Entry))
}

func TestPaymentInOtherCurrencySettlesInvoiceAmount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAR, "USD", "1000.00", "0", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)

	unsettled, err := f.invoices.InsertPayment(ctx, invoices.Payment{
		Side: invoices.SideAR, InvoiceID: inv.ID, Date: payDate, Amount: d("1000"), Currency: "JPY", BankAccountID: acctBank,
	})
	require.NoError(t, err)
	_, err = f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: unsettled.ID})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, f.ledger.Entries(), 1)
	got, _ := f.invoices.GetInvoice(ctx, inv.ID)
	require.Equal(t, invoices.PaymentUnpaid, got.PaymentStatus)

	p, err := f.invoices.InsertPayment(ctx, invoices.Payment{
		Side: invoices.SideAR, InvoiceID: inv.ID, Date: payDate, Amount: d("900.00"), Currency: "EUR",
		InvoiceAmount: d("1000.00"), BankAccountID: acctBank,
	})
	require.NoError(t, err)
	res, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: p.ID})
	require.NoError(t, err)
	requireBalanced(t, res.Entry)
	require.Equal(t, []lineView{
		{acctBank, "3600.00", "0.00"},
		{acctReceivable, "0.00", "3672.50"},
		{acctFXLoss, "72.50", "0.00"},
	}, view(res.Entry))
	require.True(t, res.InvoiceClosed)
	allocs := f.invoices.Allocations(inv.ID)
	require.Len(t, allocs, 1)
	require.Equal(t, "1000.00", allocs[0].Amount.StringFixed(2))
}

func TestReversePaymentReopensInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "0", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)
	p := f.payment(inv, "100.00")
	posted, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: p.ID})
	require.NoError(t, err)
	require.True(t, posted.InvoiceClosed)

	reversal, err := f.engine.ReversePayment(ctx, p.ID, "bounced cheque")
	require.NoError(t, err)
	require.Equal(t, posted.Entry.ID, *reversal.ReversalOf)
	for i := range posted.Entry.Lines {
		require.True(t, reversal.Lines[i].Debit.Equal(posted.Entry.Lines[i].Credit))
		require.True(t, reversal.Lines[i].Credit.Equal(posted.Entry.Lines[i].Debit))
	}
	got, _ := f.invoices.GetInvoice(ctx, inv.ID)
	require.Equal(t, invoices.PaymentUnpaid, got.PaymentStatus)
	require.Nil(t, got.PaidAt)
	require.Empty(t, f.invoices.Allocations(inv.ID))

	_, err = f.engine.ReversePayment(ctx, p.ID, "")
	require.ErrorIs(t, err, ErrPaymentNotPosted)
}

func TestCancelInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "5.00", invoices.ApprovalApproved)
	posted, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)

	p := f.payment(inv, "10.00")
	_, err = f.engine.PostDocument(ctx, DocumentRef{Kind: KindARPayment, ID: p.ID})
	require.NoError(t, err)
	_, err = f.engine.CancelInvoice(ctx, inv.ID, "")
	require.ErrorIs(t, err, invoices.ErrHasAllocations)

	_, err = f.engine.ReversePayment(ctx, p.ID, "")
	require.NoError(t, err)
	reversal, err := f.engine.CancelInvoice(ctx, inv.ID, "duplicate billing")
	require.NoError(t, err)
	require.NotNil(t, reversal)
	require.Equal(t, posted.Entry.ID, *reversal.ReversalOf)

	got, _ := f.invoices.GetInvoice(ctx, inv.ID)
	require.True(t, got.IsCancelled)
	_, err = f.engine.CancelInvoice(ctx, inv.ID, "")
	require.ErrorIs(t, err, invoices.ErrInvoiceCancelled)
}

func TestBaseCurrencyRequired(t *testing.T) {
	f := newFixture(t)
	f.engine.rates = stubRates{}
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "0", invoices.ApprovalApproved)
	_, err := f.engine.PostDocument(context.Background(), DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.ErrorIs(t, err, fx.ErrNoBaseCurrencyConfigured)
}

func TestRedisLockerSerialises(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := NewRedisLocker(client, time.Minute, 0)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrDocumentLocked)
	release()
	release2, err := locker.Acquire(ctx, "k")
	require.NoError(t, err)
	release2()

	f := newFixture(t, WithLocker(NewRedisLocker(client, time.Minute, time.Second)))
	inv := f.invoice(invoices.SideAR, "AED", "100.00", "0", invoices.ApprovalApproved)
	res, err := f.engine.PostDocument(ctx, DocumentRef{Kind: KindARInvoice, ID: inv.ID})
	require.NoError(t, err)
	require.True(t, res.Created)
	require.False(t, mr.Exists("ledger:post:AR_INVOICE:1:lock"))
}

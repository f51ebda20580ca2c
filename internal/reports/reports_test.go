package reports

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/invoices/invoicestest"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/ledger/internal/shared"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestBuildTrialBalance(t *testing.T) {
	accounts := []AccountBalance{
		{Code: "1000", Name: "Cash", Type: ledger.AccountTypeAsset, Opening: d("1000"), Debit: d("200"), Credit: d("150")},
		{Code: "1001", Name: "Bank", Type: ledger.AccountTypeAsset, Opening: d("500"), Debit: d("100"), Credit: d("50")},
		{Code: "2000", Name: "Accounts Payable", Type: ledger.AccountTypeLiability, Opening: decimal.Zero, Debit: d("10"), Credit: d("400")},
	}

	tb := BuildTrialBalance(accounts)
	require.Len(t, tb.Groups, 2)
	require.True(t, tb.TotalDebit.Equal(d("310")))
	require.True(t, tb.TotalCredit.Equal(d("600")))
	require.True(t, tb.TotalOpening.Equal(d("1500")))
	require.True(t, tb.TotalClosing.Equal(d("1210")))
	require.False(t, tb.Balanced())
}

func TestBuildProfitAndLoss(t *testing.T) {
	pl := BuildProfitAndLoss([]AccountBalance{
		{Code: "4000", Name: "Sales", Type: ledger.AccountTypeIncome, Debit: decimal.Zero, Credit: d("1200")},
		{Code: "5100", Name: "Marketing", Type: ledger.AccountTypeExpense, Debit: d("200"), Credit: decimal.Zero},
		{Code: "5000", Name: "COGS", Type: ledger.AccountTypeExpense, Debit: d("300"), Credit: decimal.Zero},
	})
	require.True(t, pl.Revenue.Total.Equal(d("1200")))
	require.True(t, pl.Expense.Total.Equal(d("500")))
	require.True(t, pl.NetIncome.Equal(d("700")))
	require.Equal(t, "5000", pl.Expense.Accounts[0].Code)
}

func TestBuildBalanceSheet(t *testing.T) {
	bs := BuildBalanceSheet([]AccountBalance{
		{Code: "1000", Name: "Cash", Type: ledger.AccountTypeAsset, Opening: decimal.Zero, Debit: d("100"), Credit: d("20")},
		{Code: "2000", Name: "AP", Type: ledger.AccountTypeLiability, Opening: decimal.Zero, Debit: d("10"), Credit: d("40")},
		{Code: "3000", Name: "Equity", Type: ledger.AccountTypeEquity, Opening: d("-500"), Debit: decimal.Zero, Credit: decimal.Zero},
	})
	require.True(t, bs.Assets.Total.Equal(d("80")))
	require.True(t, bs.Liabilities.Total.Equal(d("30")))
	require.True(t, bs.Equity.Total.Equal(d("500")))
	require.True(t, bs.TotalLiabilitiesAndEquity.Equal(d("530")))
}

func post(t *testing.T, ls *ledgertest.Store, date time.Time, debit, credit int64, amount string) {
	t.Helper()
	err := ls.WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		_, err := ledger.Post(ctx, tx, ledger.PostingInput{
			Date: date, Currency: "AED", SourceModule: "TEST", SourceID: uuid.New(),
			Lines: []ledger.PostingLineInput{
				{AccountID: debit, Debit: d(amount)},
				{AccountID: credit, Credit: d(amount)},
			},
		})
		return err
	})
	require.NoError(t, err)
}

func TestServiceTrialBalanceFromPostedLines(t *testing.T) {
	ls := ledgertest.NewStore()
	ls.AddAccount(1, "1000", ledger.AccountTypeAsset)
	ls.AddAccount(2, "4000", ledger.AccountTypeIncome)
	ls.AddAccount(3, "5000", ledger.AccountTypeExpense)
	ls.PutAccount(ledger.Account{ID: 9, Code: "10", Name: "Assets", Type: ledger.AccountTypeAsset, Node: ledger.NodeParent, IsActive: true})
	post(t, ls, time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC), 1, 2, "500")
	post(t, ls, time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC), 1, 2, "1000")
	post(t, ls, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 3, 1, "250.50")
	post(t, ls, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), 3, 1, "99")

	svc := NewService(ls, invoicestest.NewStore())
	tb, err := svc.TrialBalance(context.Background(), Period{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, tb.Balanced())
	require.True(t, tb.TotalDebit.Equal(d("1250.50")))
	require.True(t, tb.TotalOpening.IsZero())

	var cash TrialBalanceAccount
	for _, g := range tb.Groups {
		for _, a := range g.Accounts {
			if a.Code == "1000" {
				cash = a
			}
		}
	}
	require.True(t, cash.Opening.Equal(d("500")))
	require.True(t, cash.Closing.Equal(d("1249.50")))

	pl, err := svc.ProfitAndLoss(context.Background(), Period{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.True(t, pl.NetIncome.Equal(d("749.50")))

	_, err = svc.TrialBalance(context.Background(), Period{From: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), To: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestServiceAgingSplitsSides(t *testing.T) {
	store := invoicestest.NewStore()
	asOf := time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)
	store.Put(invoices.Invoice{Side: invoices.SideAR, Currency: "AED", IsPosted: true, DueDate: asOf.AddDate(0, 0, 5), Total: d("100")})
	store.Put(invoices.Invoice{Side: invoices.SideAR, Currency: "AED", IsPosted: true, DueDate: asOf.AddDate(0, 0, -45), Total: d("40")})
	store.Put(invoices.Invoice{Side: invoices.SideAP, Currency: "AED", IsPosted: true, DueDate: asOf.AddDate(0, 0, -100), Total: d("75")})

	svc := NewService(ledgertest.NewStore(), store)
	report, err := svc.Aging(context.Background(), asOf)
	require.NoError(t, err)
	require.True(t, report.Receivable.Current.Equal(d("100")))
	require.True(t, report.Receivable.Bucket60.Equal(d("40")))
	require.True(t, report.Payable.Bucket120.Equal(d("75")))
	require.True(t, report.Payable.Total().Equal(d("75")))
}

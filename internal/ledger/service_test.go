package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/ledger/ledgertest"
	"github.com/odyssey-erp/ledger/internal/shared"
)

const (
	cashID    int64 = 1
	revenueID int64 = 2
	parentID  int64 = 3
)

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func newFixture(t *testing.T) (*ledger.Service, *ledgertest.Store, *recordingAudit) {
	t.Helper()
	store := ledgertest.NewStore()
	store.AddAccount(cashID, "1100", ledger.AccountTypeAsset)
	store.AddAccount(revenueID, "4100", ledger.AccountTypeIncome)
	store.PutAccount(ledger.Account{ID: parentID, Code: "1000", Type: ledger.AccountTypeAsset, Node: ledger.NodeParent, IsActive: true})
	audit := &recordingAudit{}
	svc := ledger.NewService(store, audit)
	svc.WithNow(func() time.Time { return time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC) })
	return svc, store, audit
}

func saleInput(amount string) ledger.PostingInput {
	amt := decimal.RequireFromString(amount)
	return ledger.PostingInput{
		Date:         time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC),
		Currency:     "AED",
		SourceModule: "MANUAL",
		SourceID:     uuid.New(),
		Memo:         "cash sale",
		Lines: []ledger.PostingLineInput{
			{AccountID: cashID, Debit: amt},
			{AccountID: revenueID, Credit: amt},
		},
	}
}

func TestPostJournalBalanced(t *testing.T) {
	svc, store, audit := newFixture(t)
	entry, err := svc.PostJournal(context.Background(), saleInput("150.005"))
	require.NoError(t, err)
	require.True(t, entry.Posted)
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(credit))
	require.Equal(t, "150.01", debit.StringFixed(2))
	require.Len(t, store.Entries(), 1)
	require.Len(t, audit.logs, 1)
	require.Equal(t, shared.AuditJournalPost, audit.logs[0].Action)
}

func TestPostJournalRejectsUnbalancedWithoutWriting(t *testing.T) {
	svc, store, _ := newFixture(t)
	in := saleInput("100")
	in.Lines[1].Credit = decimal.RequireFromString("99.99")
	_, err := svc.PostJournal(context.Background(), in)
	require.ErrorIs(t, err, ledger.ErrUnbalanced)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, store.Entries())
}

func TestPostJournalRejectsBadLines(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	single := saleInput("10")
	single.Lines = single.Lines[:1]
	_, err := svc.PostJournal(ctx, single)
	require.ErrorIs(t, err, ledger.ErrTooFewLines)

	negative := saleInput("10")
	negative.Lines[0].Debit = decimal.RequireFromString("-10")
	negative.Lines[1].Credit = decimal.RequireFromString("-10")
	_, err = svc.PostJournal(ctx, negative)
	require.ErrorIs(t, err, shared.ErrValidation)

	nonLeaf := saleInput("10")
	nonLeaf.Lines[0].AccountID = parentID
	_, err = svc.PostJournal(ctx, nonLeaf)
	require.ErrorIs(t, err, ledger.ErrNonLeafAccount)

	missing := saleInput("10")
	missing.Lines[0].AccountID = 999
	_, err = svc.PostJournal(ctx, missing)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPostJournalAcceptsLineWithBothSides(t *testing.T) {
	svc, _, _ := newFixture(t)
	in := saleInput("10")
	in.Lines[0].Credit = decimal.RequireFromString("5")
	in.Lines[1].Credit = decimal.RequireFromString("5")
	entry, err := svc.PostJournal(context.Background(), in)
	require.NoError(t, err)
	debit, credit := entry.Totals()
	require.True(t, debit.Equal(decimal.RequireFromString("10")))
	require.True(t, credit.Equal(decimal.RequireFromString("10")))
}

func TestPostJournalRollsBackOnLineFailure(t *testing.T) {
	svc, store, _ := newFixture(t)
	store.FailInsertLines = errors.New("disk full")
	_, err := svc.PostJournal(context.Background(), saleInput("10"))
	require.Error(t, err)
	require.Empty(t, store.Entries())
}

func TestPostJournalSegments(t *testing.T) {
	svc, store, _ := newFixture(t)
	store.AddSegmentType(ledger.SegmentType{ID: 10, Code: "DEPT", Required: true, Active: true})
	store.AddSegmentType(ledger.SegmentType{ID: 11, Code: "PROJECT", Active: false})
	store.AddSegmentValue(ledger.SegmentValue{ID: 100, TypeID: 10, Code: "OPS", IsLeaf: true})
	store.AddSegmentValue(ledger.SegmentValue{ID: 101, TypeID: 10, Code: "ALL", IsLeaf: false})
	store.AddSegmentValue(ledger.SegmentValue{ID: 110, TypeID: 11, Code: "P1", IsLeaf: true})
	ctx := context.Background()
	dept := ledger.SegmentTag{TypeID: 10, ValueID: 100}

	_, err := svc.PostJournal(ctx, saleInput("10"))
	require.ErrorIs(t, err, ledger.ErrInvalidSegments, "required segment missing")

	in := saleInput("10")
	in.Lines[0].Segments = []ledger.SegmentTag{dept, dept}
	in.Lines[1].Segments = []ledger.SegmentTag{dept}
	_, err = svc.PostJournal(ctx, in)
	require.ErrorIs(t, err, ledger.ErrInvalidSegments, "repeated type")

	in = saleInput("10")
	in.Lines[0].Segments = []ledger.SegmentTag{{TypeID: 10, ValueID: 101}}
	in.Lines[1].Segments = []ledger.SegmentTag{dept}
	_, err = svc.PostJournal(ctx, in)
	require.ErrorIs(t, err, ledger.ErrInvalidSegments, "non-leaf value")

	in = saleInput("10")
	in.Lines[0].Segments = []ledger.SegmentTag{dept, {TypeID: 11, ValueID: 110}}
	in.Lines[1].Segments = []ledger.SegmentTag{dept}
	_, err = svc.PostJournal(ctx, in)
	require.ErrorIs(t, err, ledger.ErrInvalidSegments, "inactive type")

	in = saleInput("10")
	in.Lines[0].Segments = []ledger.SegmentTag{{TypeID: 10, ValueID: 110}}
	in.Lines[1].Segments = []ledger.SegmentTag{dept}
	_, err = svc.PostJournal(ctx, in)
	require.ErrorIs(t, err, ledger.ErrInvalidSegments, "value of another type")

	in = saleInput("10")
	in.Lines[0].Segments = []ledger.SegmentTag{dept}
	in.Lines[1].Segments = []ledger.SegmentTag{dept}
	entry, err := svc.PostJournal(ctx, in)
	require.NoError(t, err)
	require.Equal(t, []ledger.SegmentTag{dept}, entry.Lines[0].Segments)
}

func TestPostJournalSourceLinkedOnce(t *testing.T) {
	svc, _, _ := newFixture(t)
	in := saleInput("10")
	_, err := svc.PostJournal(context.Background(), in)
	require.NoError(t, err)
	_, err = svc.PostJournal(context.Background(), in)
	require.ErrorIs(t, err, ledger.ErrSourceAlreadyLinked)
}

func TestReverseJournalSwapsLines(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	original, err := svc.PostJournal(ctx, saleInput("250.40"))
	require.NoError(t, err)

	reversal, err := svc.ReverseJournal(ctx, ledger.ReverseInput{EntryID: original.ID})
	require.NoError(t, err)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.Equal(t, original.Date, reversal.Date)
	require.Contains(t, reversal.Memo, "Reversal of JE")
	require.Len(t, reversal.Lines, len(original.Lines))
	for i := range original.Lines {
		require.Equal(t, original.Lines[i].AccountID, reversal.Lines[i].AccountID)
		require.True(t, reversal.Lines[i].Debit.Equal(original.Lines[i].Credit))
		require.True(t, reversal.Lines[i].Credit.Equal(original.Lines[i].Debit))
	}
	require.Len(t, store.Entries(), 2)

	_, err = svc.ReverseJournal(ctx, ledger.ReverseInput{EntryID: original.ID})
	require.ErrorIs(t, err, ledger.ErrAlreadyReversed)
	_, err = svc.ReverseJournal(ctx, ledger.ReverseInput{EntryID: reversal.ID})
	require.ErrorIs(t, err, ledger.ErrAlreadyReversed)
	require.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestReverseJournalSkipsRulesAddedAfterPosting(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	original, err := svc.PostJournal(ctx, saleInput("40"))
	require.NoError(t, err)

	store.AddSegmentType(ledger.SegmentType{ID: 10, Code: "DEPT", Required: true, Active: true})
	_, err = svc.PostJournal(ctx, saleInput("40"))
	require.ErrorIs(t, err, ledger.ErrInvalidSegments)

	reversal, err := svc.ReverseJournal(ctx, ledger.ReverseInput{EntryID: original.ID})
	require.NoError(t, err)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	debit, credit := reversal.Totals()
	require.True(t, debit.Equal(credit))
}

func TestReverseJournalRequiresEntryID(t *testing.T) {
	svc, store, _ := newFixture(t)
	_, err := svc.ReverseJournal(context.Background(), ledger.ReverseInput{})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, store.Entries())
}

func TestReverseJournalOnTargetDate(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()
	original, err := svc.PostJournal(ctx, saleInput("10"))
	require.NoError(t, err)
	target := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	reversal, err := svc.ReverseJournal(ctx, ledger.ReverseInput{EntryID: original.ID, TargetDate: &target, Memo: "wrong customer"})
	require.NoError(t, err)
	require.Equal(t, target, reversal.Date)
	require.Contains(t, reversal.Memo, "wrong customer")
}

func TestDraftLifecycle(t *testing.T) {
	svc, store, _ := newFixture(t)
	ctx := context.Background()
	in := saleInput("10")
	in.Draft = true
	draft, err := svc.PostJournal(ctx, in)
	require.NoError(t, err)
	require.False(t, draft.Posted)

	_, err = svc.ReverseJournal(ctx, ledger.ReverseInput{EntryID: draft.ID})
	require.ErrorIs(t, err, ledger.ErrNotPosted)

	require.NoError(t, svc.DeleteDraft(ctx, draft.ID))
	require.Empty(t, store.Entries())

	posted, err := svc.PostJournal(ctx, saleInput("10"))
	require.NoError(t, err)
	require.ErrorIs(t, svc.DeleteDraft(ctx, posted.ID), ledger.ErrAlreadyPosted)

	loaded, err := svc.GetJournal(ctx, posted.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Lines, 2)
}

func TestListPostedLinesFiltersOrganization(t *testing.T) {
	_, store, _ := newFixture(t)
	ctx := context.Background()
	org := int64(7)
	in := saleInput("10")
	in.OrganizationID = &org
	_, err := ledger.Post(ctx, store, in)
	require.NoError(t, err)
	_, err = ledger.Post(ctx, store, saleInput("20"))
	require.NoError(t, err)

	lines, err := store.ListPostedLines(ctx, ledger.LineFilter{
		From:           time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:             time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		Types:          []ledger.AccountType{ledger.AccountTypeIncome},
		OrganizationID: &org,
	})
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, "10", lines[0].Credit.String())
}

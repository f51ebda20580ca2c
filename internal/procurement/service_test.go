package procurement

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/invoices/invoicestest"
	"github.com/odyssey-erp/ledger/internal/shared"
)

type memoryProcRepo struct {
	mu       sync.Mutex
	pos      map[int64]PurchaseOrder
	poLines  map[int64][]POLine
	grns     map[int64]GoodsReceipt
	grnLines map[int64][]GRNLine
	invoices *invoicestest.Store
	nextID   int64
}

func newMemoryProcRepo() *memoryProcRepo {
	return &memoryProcRepo{
		pos:      make(map[int64]PurchaseOrder),
		poLines:  make(map[int64][]POLine),
		grns:     make(map[int64]GoodsReceipt),
		grnLines: make(map[int64][]GRNLine),
		invoices: invoicestest.NewStore(),
	}
}

func (r *memoryProcRepo) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	restore := r.invoices.Checkpoint()
	if err := fn(ctx, Tx{Documents: r, Invoices: r.invoices}); err != nil {
		restore()
		return err
	}
	return nil
}

func (r *memoryProcRepo) CreatePO(ctx context.Context, po PurchaseOrder, lines []POLine) (int64, error) {
	r.nextID++
	po.ID = r.nextID
	r.pos[po.ID] = po
	for _, l := range lines {
		l.POID = po.ID
		r.poLines[po.ID] = append(r.poLines[po.ID], l)
	}
	return po.ID, nil
}

func (r *memoryProcRepo) CreateGRN(ctx context.Context, grn GoodsReceipt, lines []GRNLine) (int64, error) {
	r.nextID++
	grn.ID = r.nextID
	r.grns[grn.ID] = grn
	for _, l := range lines {
		l.GRNID = grn.ID
		r.grnLines[grn.ID] = append(r.grnLines[grn.ID], l)
	}
	return grn.ID, nil
}

func (r *memoryProcRepo) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	po, ok := r.pos[id]
	if !ok {
		return PurchaseOrder{}, nil, ErrNotFound
	}
	return po, append([]POLine(nil), r.poLines[id]...), nil
}

func (r *memoryProcRepo) GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error) {
	grn, ok := r.grns[id]
	if !ok {
		return GoodsReceipt{}, nil, ErrNotFound
	}
	return grn, append([]GRNLine(nil), r.grnLines[id]...), nil
}

var matchTime = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestService() (*Service, *memoryProcRepo) {
	repo := newMemoryProcRepo()
	svc := NewService(repo, DefaultTolerances(), nil)
	svc.WithNow(func() time.Time { return matchTime })
	return svc, repo
}

// seedDocuments creates a PO for 100 widgets at poPrice and a GRN receiving grnQty.
func seedDocuments(t *testing.T, svc *Service, poPrice, grnQty string) (int64, int64) {
	t.Helper()
	ctx := context.Background()
	po, err := svc.CreatePurchaseOrder(ctx, CreatePOInput{
		SupplierID: 9,
		Currency:   "aed",
		Lines:      []POLineInput{{Ref: "L1", Description: "Widget", Qty: d("100"), Price: d(poPrice)}},
	})
	require.NoError(t, err)
	grn, err := svc.CreateGoodsReceipt(ctx, CreateGRNInput{
		POID:       &po.ID,
		SupplierID: 9,
		Lines:      []GRNLineInput{{Description: "Widget", QtyReceived: d(grnQty), POLineRef: "L1"}},
	})
	require.NoError(t, err)
	return po.ID, grn.ID
}

func apInvoice(repo *memoryProcRepo, grnID, poID *int64, items ...invoices.Item) invoices.Invoice {
	return repo.invoices.Put(invoices.Invoice{
		Side:           invoices.SideAP,
		Currency:       "AED",
		ApprovalStatus: invoices.ApprovalDraft,
		GRNID:          grnID,
		POID:           poID,
		Items:          items,
	})
}

func item(desc, qty, price string) invoices.Item {
	return invoices.Item{Description: desc, Quantity: d(qty), UnitPrice: d(price)}
}

func TestMatchNotRequiredWithoutGRN(t *testing.T) {
	svc, repo := newTestService()
	inv := apInvoice(repo, nil, nil, item("Widget", "1", "10"))

	result, err := svc.PerformThreeWayMatch(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.MatchNotRequired, result.Status)

	stored, err := repo.invoices.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.MatchNotRequired, stored.Match.Status)
	require.Equal(t, matchTime, *stored.Match.PerformedAt)
}

func TestMatchFailsWithoutPO(t *testing.T) {
	svc, repo := newTestService()
	_, grnID := seedDocuments(t, svc, "10", "100")
	inv := apInvoice(repo, &grnID, nil, item("Widget", "100", "10"))

	result, err := svc.PerformThreeWayMatch(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.MatchFailed, result.Status)
	require.Contains(t, result.Notes, "PO required")
}

func TestMatchExact(t *testing.T) {
	svc, repo := newTestService()
	poID, grnID := seedDocuments(t, svc, "10", "100")
	inv := apInvoice(repo, &grnID, &poID, item("  wIdGeT ", "100", "10"))

	result, err := svc.PerformThreeWayMatch(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.MatchMatched, result.Status)
	require.True(t, result.VarianceAmount.IsZero())
}

func TestMatchQuantityOverIsVariance(t *testing.T) {
	svc, repo := newTestService()
	poID, grnID := seedDocuments(t, svc, "10", "100")
	inv := apInvoice(repo, &grnID, &poID, item("Widget", "110", "10"))

	result, err := svc.PerformThreeWayMatch(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.MatchVariance, result.Status)
	require.True(t, result.VarianceAmount.Equal(d("100")))
	require.Contains(t, result.Notes, string(VarianceQuantityOver))
	require.Contains(t, result.Notes, string(VarianceAmount))

	stored, err := repo.invoices.GetInvoice(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, result.Notes, stored.Match.Notes)
}

func TestMatchQuantityOverFailsAboveThreshold(t *testing.T) {
	svc, repo := newTestService()
	poID, grnID := seedDocuments(t, svc, "20", "100")
	inv := apInvoice(repo, &grnID, &poID, item("Widget", "110", "20"))

	result, err := svc.PerformThreeWayMatch(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.MatchFailed, result.Status)
	require.True(t, result.VarianceAmount.Equal(d("200")))
}

func TestMatchPriceVariance(t *testing.T) {
	svc, repo := newTestService()
	poID, grnID := seedDocuments(t, svc, "10", "100")
	inv := apInvoice(repo, &grnID, &poID, item("Widget", "100", "10.50"))

	result, err := svc.PerformThreeWayMatch(context.Background(), inv.ID)
	require.NoError(t, err)
	require.Equal(t, invoices.MatchVariance, result.Status)
	require.True(t, result.VarianceAmount.Equal(d("50")))
	require.Contains(t, result.Notes, string(VariancePrice))
	require.NotContains(t, result.Notes, string(VarianceAmount))
}

func TestMatchQuantityTolerance(t *testing.T) {
	tol := DefaultTolerances()
	grn := []GRNLine{{Description: "Widget", QtyReceived: d("100"), POLineRef: "L1"}}
	po := []POLine{{Ref: "L1", Description: "Widget", Qty: d("100"), Price: d("10")}}

	variances, total := Match([]invoices.Item{item("Widget", "97", "10")}, grn, po, tol)
	require.Empty(t, variances)
	require.True(t, total.IsZero())

	variances, total = Match([]invoices.Item{item("Widget", "90", "10")}, grn, po, tol)
	require.Len(t, variances, 2)
	require.Equal(t, VarianceQuantity, variances[0].Kind)
	require.Equal(t, VarianceAmount, variances[1].Kind)
	require.True(t, total.Equal(d("100")))
	require.Equal(t, invoices.MatchVariance, Classify(variances, total, tol))
}

func TestMatchMissingLines(t *testing.T) {
	tol := DefaultTolerances()
	grn := []GRNLine{
		{Description: "Widget", QtyReceived: d("10"), POLineRef: "L1"},
		{Description: "Gadget", QtyReceived: d("5"), POLineRef: "L9"},
	}
	po := []POLine{{Ref: "L1", Description: "Widget", Qty: d("10"), Price: d("1")}}

	variances, total := Match([]invoices.Item{
		item("Widget", "10", "1"),
		item("Sprocket", "1", "1"),
		item("gadget", "5", "2"),
	}, grn, po, tol)
	require.Len(t, variances, 2)
	require.Equal(t, VarianceNoMatch, variances[0].Kind)
	require.Equal(t, 2, variances[0].Line)
	require.Equal(t, VarianceNoPOLine, variances[1].Kind)
	require.Equal(t, 3, variances[1].Line)
	require.True(t, total.IsZero())
	require.Equal(t, invoices.MatchVariance, Classify(variances, total, tol))
}

func TestMatchRejectsReceivableInvoice(t *testing.T) {
	svc, repo := newTestService()
	inv := repo.invoices.Put(invoices.Invoice{Side: invoices.SideAR, Currency: "AED"})

	_, err := svc.PerformThreeWayMatch(context.Background(), inv.ID)
	require.ErrorIs(t, err, ErrNotPayable)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateGoodsReceiptValidatesPORef(t *testing.T) {
	svc, _ := newTestService()
	poID, _ := seedDocuments(t, svc, "10", "100")

	_, err := svc.CreateGoodsReceipt(context.Background(), CreateGRNInput{
		POID:  &poID,
		Lines: []GRNLineInput{{Description: "Widget", QtyReceived: d("1"), POLineRef: "L2"}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreatePurchaseOrder(context.Background(), CreatePOInput{
		Lines: []POLineInput{{Ref: "A", Qty: d("1"), Price: d("1")}, {Ref: "A", Qty: d("1"), Price: d("1")}},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

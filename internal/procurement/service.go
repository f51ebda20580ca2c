package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/shared"
)

// DocumentRepository reads and writes purchase orders and goods receipts.
type DocumentRepository interface {
	CreatePO(ctx context.Context, po PurchaseOrder, lines []POLine) (int64, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt, lines []GRNLine) (int64, error)
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	GetGRN(ctx context.Context, id int64) (GoodsReceipt, []GRNLine, error)
}

// Tx groups the repositories bound to one transaction.
type Tx struct {
	Documents DocumentRepository
	Invoices  invoices.TxRepository
}

// RepositoryPort opens transactions.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
}

// Service runs purchase documents and the 3-way match.
type Service struct {
	repo       RepositoryPort
	tolerances MatchTolerances
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, tolerances MatchTolerances, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tolerances: tolerances, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreatePurchaseOrder persists a PO with its lines.
func (s *Service) CreatePurchaseOrder(ctx context.Context, input CreatePOInput) (PurchaseOrder, error) {
	if len(input.Lines) == 0 {
		return PurchaseOrder{}, shared.Invalid("procurement: minimal 1 line")
	}
	if input.Number == "" {
		input.Number = generateNumber("PO", s.now())
	}
	lines := make([]POLine, 0, len(input.Lines))
	seen := make(map[string]bool, len(input.Lines))
	for idx, l := range input.Lines {
		ref := strings.TrimSpace(l.Ref)
		if ref == "" || seen[ref] {
			return PurchaseOrder{}, shared.Invalid("procurement: line %d needs a unique ref", idx+1)
		}
		seen[ref] = true
		if !l.Qty.IsPositive() || l.Price.IsNegative() {
			return PurchaseOrder{}, shared.Invalid("procurement: line %d quantity must be positive and price not negative", idx+1)
		}
		lines = append(lines, POLine{Ref: ref, Description: strings.TrimSpace(l.Description), Qty: l.Qty, Price: l.Price})
	}
	po := PurchaseOrder{
		Number:       input.Number,
		SupplierID:   input.SupplierID,
		Status:       POStatusApproved,
		Currency:     strings.ToUpper(input.Currency),
		ExpectedDate: input.ExpectedDate,
		Note:         input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		id, err := tx.Documents.CreatePO(ctx, po, lines)
		po.ID = id
		return err
	})
	return po, err
}

// CreateGoodsReceipt persists a GRN. Lines referencing a PO must name an
// existing PO line.
func (s *Service) CreateGoodsReceipt(ctx context.Context, input CreateGRNInput) (GoodsReceipt, error) {
	if len(input.Lines) == 0 {
		return GoodsReceipt{}, shared.Invalid("procurement: minimal 1 line")
	}
	if input.Number == "" {
		input.Number = generateNumber("GRN", s.now())
	}
	if input.ReceivedAt.IsZero() {
		input.ReceivedAt = s.now()
	}
	grn := GoodsReceipt{
		Number:     input.Number,
		POID:       input.POID,
		SupplierID: input.SupplierID,
		Status:     GRNStatusPosted,
		ReceivedAt: input.ReceivedAt,
		Note:       input.Note,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		refs := map[string]bool{}
		if input.POID != nil {
			_, poLines, err := tx.Documents.GetPO(ctx, *input.POID)
			if err != nil {
				return err
			}
			for _, l := range poLines {
				refs[l.Ref] = true
			}
		}
		lines := make([]GRNLine, 0, len(input.Lines))
		for idx, l := range input.Lines {
			if !l.QtyReceived.IsPositive() {
				return shared.Invalid("procurement: line %d received quantity must be positive", idx+1)
			}
			if l.POLineRef != "" && !refs[l.POLineRef] {
				return shared.Invalid("procurement: line %d references unknown PO line %q", idx+1, l.POLineRef)
			}
			lines = append(lines, GRNLine{Description: strings.TrimSpace(l.Description), QtyReceived: l.QtyReceived, POLineRef: l.POLineRef})
		}
		id, err := tx.Documents.CreateGRN(ctx, grn, lines)
		grn.ID = id
		return err
	})
	return grn, err
}

// PerformThreeWayMatch compares an AP invoice against its goods receipt and
// purchase order and stores the outcome on the invoice. The ledger is not
// touched.
func (s *Service) PerformThreeWayMatch(ctx context.Context, invoiceID int64) (invoices.MatchResult, error) {
	var result invoices.MatchResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		inv, err := tx.Invoices.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Side != invoices.SideAP {
			return ErrNotPayable
		}
		now := s.now()
		switch {
		case inv.GRNID == nil:
			result = invoices.MatchResult{Status: invoices.MatchNotRequired, VarianceAmount: decimal.Zero, Notes: "No goods receipt linked; 3-way match not required."}
		case inv.POID == nil:
			result = invoices.MatchResult{Status: invoices.MatchFailed, VarianceAmount: decimal.Zero, Notes: "Goods receipt linked without a purchase order; PO required."}
		default:
			_, grnLines, err := tx.Documents.GetGRN(ctx, *inv.GRNID)
			if err != nil {
				return err
			}
			_, poLines, err := tx.Documents.GetPO(ctx, *inv.POID)
			if err != nil {
				return err
			}
			variances, total := Match(inv.Items, grnLines, poLines, s.tolerances)
			result = invoices.MatchResult{
				Status:         Classify(variances, total, s.tolerances),
				VarianceAmount: total,
			}
			result.Notes = Narrative(result.Status, variances, total)
		}
		result.PerformedAt = &now
		return tx.Invoices.SaveMatchResult(ctx, inv.ID, result)
	})
	if err != nil {
		return invoices.MatchResult{}, err
	}
	s.logger.Info("3-way match performed",
		slog.Int64("invoice_id", invoiceID),
		slog.String("status", string(result.Status)),
		slog.String("variance", result.VarianceAmount.StringFixed(2)))
	return result, nil
}

// Match checks every invoice line against the GRN line with the same
// description and the PO line that GRN line references.
func Match(items []invoices.Item, grnLines []GRNLine, poLines []POLine, tol MatchTolerances) ([]Variance, decimal.Decimal) {
	poByRef := make(map[string]POLine, len(poLines))
	for _, l := range poLines {
		poByRef[l.Ref] = l
	}
	var variances []Variance
	total := decimal.Zero
	add := func(idx int, item invoices.Item, kind VarianceKind, amount decimal.Decimal, format string, args ...any) {
		variances = append(variances, Variance{
			Line:        idx + 1,
			Description: item.Description,
			Kind:        kind,
			Detail:      fmt.Sprintf(format, args...),
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	for idx, item := range items {
		grn, ok := findGRNLine(grnLines, item.Description)
		if !ok {
			add(idx, item, VarianceNoMatch, decimal.Zero, "no goods receipt line for %q", item.Description)
			continue
		}
		po, ok := poByRef[grn.POLineRef]
		if !ok {
			add(idx, item, VarianceNoPOLine, decimal.Zero, "goods receipt line references unknown PO line %q", grn.POLineRef)
			continue
		}

		switch {
		case item.Quantity.GreaterThan(grn.QtyReceived):
			add(idx, item, VarianceQuantityOver, decimal.Zero, "invoiced qty %s exceeds received qty %s", item.Quantity, grn.QtyReceived)
		case exceeds(item.Quantity, grn.QtyReceived, tol.QuantityPct):
			add(idx, item, VarianceQuantity, decimal.Zero, "invoiced qty %s differs from received qty %s beyond %s%%", item.Quantity, grn.QtyReceived, tol.QuantityPct)
		}

		if exceeds(item.UnitPrice, po.Price, tol.PricePct) {
			diff := item.UnitPrice.Sub(po.Price).Abs()
			add(idx, item, VariancePrice, money.Quantize2(diff.Mul(item.Quantity)), "invoice price %s vs PO price %s", item.UnitPrice.StringFixed(2), po.Price.StringFixed(2))
		}

		invoiced := item.Quantity.Mul(item.UnitPrice)
		expected := grn.QtyReceived.Mul(po.Price)
		if exceeds(invoiced, expected, tol.AmountPct) {
			add(idx, item, VarianceAmount, money.Quantize2(invoiced.Sub(expected).Abs()), "line amount %s vs expected %s", money.Quantize2(invoiced).StringFixed(2), money.Quantize2(expected).StringFixed(2))
		}
	}
	return variances, money.Quantize2(total)
}

// Classify derives the overall status from the findings.
func Classify(variances []Variance, total decimal.Decimal, tol MatchTolerances) invoices.MatchStatus {
	switch {
	case len(variances) == 0:
		return invoices.MatchMatched
	case total.GreaterThan(tol.FailThreshold):
		return invoices.MatchFailed
	default:
		return invoices.MatchVariance
	}
}

// Narrative renders the findings for the invoice notes.
func Narrative(status invoices.MatchStatus, variances []Variance, total decimal.Decimal) string {
	var b strings.Builder
	fmt.Fprintf(&b, "3-way match %s: %d variance(s), amount %s", status, len(variances), total.StringFixed(2))
	for _, v := range variances {
		fmt.Fprintf(&b, "\nLine %d (%s): %s %s", v.Line, v.Description, v.Kind, v.Detail)
	}
	return b.String()
}

func findGRNLine(lines []GRNLine, description string) (GRNLine, bool) {
	want := strings.TrimSpace(description)
	for _, l := range lines {
		if strings.EqualFold(strings.TrimSpace(l.Description), want) {
			return l, true
		}
	}
	return GRNLine{}, false
}

// exceeds reports whether |actual − base| / base is above pct percent. A zero
// base only matches a zero actual.
func exceeds(actual, base, pct decimal.Decimal) bool {
	diff := actual.Sub(base).Abs()
	if base.IsZero() {
		return !diff.IsZero()
	}
	return diff.Div(base.Abs()).GreaterThan(money.Pct(pct))
}

func generateNumber(prefix string, now time.Time) string {
	return fmt.Sprintf("%s-%d", prefix, now.UnixNano())
}

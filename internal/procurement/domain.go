package procurement

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/shared"
)

// Purchase order lifecycle statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusApproved  POStatus = "APPROVED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Goods receipt statuses.
type GRNStatus string

const (
	GRNStatusDraft     GRNStatus = "DRAFT"
	GRNStatusPosted    GRNStatus = "POSTED"
	GRNStatusCancelled GRNStatus = "CANCELLED"
)

// PurchaseOrder domain model.
type PurchaseOrder struct {
	ID           int64
	Number       string
	SupplierID   int64
	Status       POStatus
	Currency     string
	ExpectedDate time.Time
	Note         string
}

// POLine represents PO lines. Ref is the opaque key GRN lines point at.
type POLine struct {
	ID          int64
	POID        int64
	Ref         string
	Description string
	Qty         decimal.Decimal
	Price       decimal.Decimal
}

// GoodsReceipt domain model.
type GoodsReceipt struct {
	ID         int64
	Number     string
	POID       *int64
	SupplierID int64
	Status     GRNStatus
	ReceivedAt time.Time
	Note       string
}

// GRNLine describes received goods.
type GRNLine struct {
	ID          int64
	GRNID       int64
	Description string
	QtyReceived decimal.Decimal
	POLineRef   string
}

// VarianceKind classifies a match finding.
type VarianceKind string

const (
	VarianceNoMatch      VarianceKind = "NO_MATCH"
	VarianceNoPOLine     VarianceKind = "NO_PO_LINE"
	VarianceQuantityOver VarianceKind = "QUANTITY_OVER"
	VarianceQuantity     VarianceKind = "QUANTITY_VARIANCE"
	VariancePrice        VarianceKind = "PRICE_VARIANCE"
	VarianceAmount       VarianceKind = "AMOUNT_VARIANCE"
)

// Variance is one finding on one invoice line.
type Variance struct {
	Line        int
	Description string
	Kind        VarianceKind
	Detail      string
	Amount      decimal.Decimal
}

// MatchTolerances are percentages, plus the absolute failure threshold.
type MatchTolerances struct {
	QuantityPct   decimal.Decimal
	PricePct      decimal.Decimal
	AmountPct     decimal.Decimal
	FailThreshold decimal.Decimal
}

// DefaultTolerances returns 5% quantity, 2% price, 5% amount, fail above 100.00.
func DefaultTolerances() MatchTolerances {
	return MatchTolerances{
		QuantityPct:   decimal.NewFromInt(5),
		PricePct:      decimal.NewFromInt(2),
		AmountPct:     decimal.NewFromInt(5),
		FailThreshold: decimal.NewFromInt(100),
	}
}

// CreatePOInput creates a purchase order.
type CreatePOInput struct {
	Number       string
	SupplierID   int64
	Currency     string
	ExpectedDate time.Time
	Note         string
	Lines        []POLineInput
}

// POLineInput describes a PO line.
type POLineInput struct {
	Ref         string
	Description string
	Qty         decimal.Decimal
	Price       decimal.Decimal
}

// CreateGRNInput describes GRN creation.
type CreateGRNInput struct {
	Number     string
	POID       *int64
	SupplierID int64
	ReceivedAt time.Time
	Note       string
	Lines      []GRNLineInput
}

// GRNLineInput for GRN.
type GRNLineInput struct {
	Description string
	QtyReceived decimal.Decimal
	POLineRef   string
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = shared.NewError(shared.ErrNotFound, "PROCUREMENT_NOT_FOUND", "procurement: not found")
	// ErrNotPayable rejects matching anything but an AP invoice.
	ErrNotPayable = shared.NewError(shared.ErrValidation, "NOT_AP_INVOICE", "procurement: 3-way match applies to AP invoices only")
)

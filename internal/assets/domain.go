// Package assets maintains fixed assets through capitalization, monthly
// depreciation and disposal.
package assets

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/shared"
)

// Method selects the depreciation formula.
type Method string

const (
	MethodStraightLine     Method = "STRAIGHT_LINE"
	MethodDecliningBalance Method = "DECLINING_BALANCE"
	MethodSumOfYearsDigits Method = "SUM_OF_YEARS_DIGITS"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodStraightLine, MethodDecliningBalance, MethodSumOfYearsDigits:
		return true
	}
	return false
}

// Status enumerates the asset lifecycle.
type Status string

const (
	StatusCIP         Status = "CIP"
	StatusCapitalized Status = "CAPITALIZED"
	StatusRetired     Status = "RETIRED"
)

// SourceType identifies the document an asset was raised from.
type SourceType string

const (
	SourceManual        SourceType = "MANUAL"
	SourceAPInvoiceLine SourceType = "AP_INVOICE_LINE"
	SourceGRNLine       SourceType = "GRN_LINE"
)

// Asset is a fixed asset with its cached depreciation totals.
type Asset struct {
	ID                             int64
	Code                           string
	Name                           string
	CategoryID                     int64
	AcquisitionCost                decimal.Decimal
	SalvageValue                   decimal.Decimal
	UsefulLifeYears                int
	Method                         Method
	DepreciationStartDate          *time.Time
	Status                         Status
	TotalDepreciation              decimal.Decimal
	NetBookValue                   decimal.Decimal
	LastDepreciationDate           *time.Time
	AssetAccountID                 int64
	AccumulatedDepreciationAccount int64
	DepreciationExpenseAccount     int64
	CapitalizationJournalID        *int64
	DisposalJournalID              *int64
	OrganizationID                 *int64
	SourceType                     SourceType
	SourceDocumentID               *int64
	SourceLineID                   *int64
	CreatedAt                      time.Time
	UpdatedAt                      time.Time
}

// Depreciable returns cost less salvage.
func (a Asset) Depreciable() decimal.Decimal {
	return a.AcquisitionCost.Sub(a.SalvageValue)
}

// ScheduleRow is one month of planned depreciation.
type ScheduleRow struct {
	AssetID     int64
	PeriodDate  time.Time
	Amount      decimal.Decimal
	Accumulated decimal.Decimal
	NetBook     decimal.Decimal
	IsPosted    bool
	JournalID   *int64
}

// CreateInput registers an asset in CIP.
type CreateInput struct {
	Code                           string
	Name                           string
	CategoryID                     int64
	AcquisitionCost                decimal.Decimal
	SalvageValue                   decimal.Decimal
	UsefulLifeYears                int
	Method                         Method
	DepreciationStartDate          *time.Time
	AssetAccountID                 int64
	AccumulatedDepreciationAccount int64
	DepreciationExpenseAccount     int64
	OrganizationID                 *int64
	SourceType                     SourceType
	SourceDocumentID               *int64
	SourceLineID                   *int64
}

// CapitalizeInput moves an asset out of CIP.
type CapitalizeInput struct {
	AssetID int64
	Date    time.Time
	ActorID int64
}

// DisposeInput retires an asset.
type DisposeInput struct {
	AssetID           int64
	Date              time.Time
	Proceeds          decimal.Decimal
	DisposalCosts     decimal.Decimal
	ProceedsAccountID int64
	ActorID           int64
}

// SkippedAsset reports an asset the batch could not post.
type SkippedAsset struct {
	AssetID int64  `json:"asset_id"`
	Reason  string `json:"reason"`
}

// BatchResult aggregates a monthly depreciation run.
type BatchResult struct {
	Period  time.Time      `json:"period"`
	Posted  int            `json:"posted"`
	Skipped []SkippedAsset `json:"skipped"`
}

// Settings is loaded once at start-up.
type Settings struct {
	CapitalizationThreshold decimal.Decimal
}

var (
	ErrAssetNotFound   = shared.NewError(shared.ErrNotFound, "ASSET_NOT_FOUND", "assets: asset not found")
	ErrInvalidStatus   = shared.NewError(shared.ErrStateConflict, "INVALID_ASSET_STATUS", "assets: operation not allowed in current status")
	ErrBelowThreshold  = shared.NewError(shared.ErrValidation, "BELOW_CAPITALIZATION_THRESHOLD", "assets: cost below capitalization threshold")
	ErrDuplicateSource = shared.NewError(shared.ErrStateConflict, "DUPLICATE_ASSET_SOURCE", "assets: asset already created from source line")
	ErrNoStartDate     = shared.NewError(shared.ErrValidation, "NO_DEPRECIATION_START", "assets: depreciation start date required")
	ErrInvalidApproval = shared.NewError(shared.ErrValidation, "INVALID_APPROVAL_REQUEST", "assets: approval request payload mismatch")
)

// Validate checks required fields and the numeric invariants of the input.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" || strings.TrimSpace(in.Name) == "" {
		return shared.Invalid("assets: code and name required")
	}
	if in.AssetAccountID == 0 || in.AccumulatedDepreciationAccount == 0 || in.DepreciationExpenseAccount == 0 {
		return shared.Invalid("assets: asset, accumulated and expense accounts required")
	}
	if !in.AcquisitionCost.IsPositive() {
		return shared.Invalid("assets: acquisition cost must be positive")
	}
	if in.SalvageValue.IsNegative() || in.SalvageValue.GreaterThan(in.AcquisitionCost) {
		return shared.Invalid("assets: salvage value must be between zero and cost")
	}
	if in.UsefulLifeYears <= 0 {
		return shared.Invalid("assets: useful life must be positive")
	}
	if !in.Method.Valid() {
		return shared.Invalid("assets: unknown depreciation method %q", in.Method)
	}
	if in.SourceType != "" && in.SourceType != SourceManual && (in.SourceDocumentID == nil || in.SourceLineID == nil) {
		return shared.Invalid("assets: source document and line required for %s", in.SourceType)
	}
	return nil
}

// OperationType tags an ApprovalRequest.
type OperationType string

const (
	OpTransfer       OperationType = "TRANSFER"
	OpAdjustment     OperationType = "ADJUSTMENT"
	OpRetirement     OperationType = "RETIREMENT"
	OpCapitalization OperationType = "CAPITALIZATION"
)

type TransferPayload struct {
	ToLocationID   int64
	ToDepartmentID *int64
}

type AdjustmentPayload struct {
	NewCost    *decimal.Decimal
	NewSalvage *decimal.Decimal
	NewLife    *int
	Reason     string
}

type RetirementPayload struct {
	Disposal DisposeInput
}

type CapitalizationPayload struct {
	Capitalize CapitalizeInput
}

// ApprovalRequest carries exactly one payload matching its operation type.
type ApprovalRequest struct {
	AssetID        int64
	Operation      OperationType
	RequestedBy    int64
	Transfer       *TransferPayload
	Adjustment     *AdjustmentPayload
	Retirement     *RetirementPayload
	Capitalization *CapitalizationPayload
}

// Validate enforces the single-payload rule.
func (r ApprovalRequest) Validate() error {
	if r.AssetID == 0 {
		return shared.Invalid("assets: approval request needs an asset")
	}
	set := 0
	for _, present := range []bool{r.Transfer != nil, r.Adjustment != nil, r.Retirement != nil, r.Capitalization != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return ErrInvalidApproval
	}
	var ok bool
	switch r.Operation {
	case OpTransfer:
		ok = r.Transfer != nil && r.Transfer.ToLocationID != 0
	case OpAdjustment:
		ok = r.Adjustment != nil && (r.Adjustment.NewCost != nil || r.Adjustment.NewSalvage != nil || r.Adjustment.NewLife != nil)
	case OpRetirement:
		ok = r.Retirement != nil
	case OpCapitalization:
		ok = r.Capitalization != nil
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidApproval, r.Operation)
	}
	if !ok {
		return ErrInvalidApproval
	}
	return nil
}

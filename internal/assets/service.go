package assets

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/fx"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/money"
	"github.com/odyssey-erp/ledger/internal/posting"
	"github.com/odyssey-erp/ledger/internal/shared"
)

const sourceModule = "ASSETS"

// TxRepository persists assets and schedules inside a transaction.
type TxRepository interface {
	InsertAsset(ctx context.Context, a Asset) (Asset, error)
	GetAssetForUpdate(ctx context.Context, id int64) (Asset, error)
	UpdateAsset(ctx context.Context, a Asset) error
	// InsertScheduleRows skips rows whose (asset, period) already exists and
	// returns the number created.
	InsertScheduleRows(ctx context.Context, rows []ScheduleRow) (int, error)
	ListUnpostedRows(ctx context.Context, assetID int64, period time.Time) ([]ScheduleRow, error)
	MarkRowPosted(ctx context.Context, assetID int64, period time.Time, journalID int64) error
	DeleteUnpostedRows(ctx context.Context, assetID int64, after time.Time) error
}

// Tx groups the repositories bound to one transaction.
type Tx struct {
	Assets TxRepository
	Ledger ledger.TxRepository
}

// RepositoryPort opens transactions and serves reads.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	GetAsset(ctx context.Context, id int64) (Asset, error)
	ListSchedule(ctx context.Context, assetID int64) ([]ScheduleRow, error)
	// ListAssetsDue returns capitalized assets with unposted rows in the month of period.
	ListAssetsDue(ctx context.Context, period time.Time) ([]int64, error)
}

// CurrencySource yields the ledger base currency asset journals post in.
type CurrencySource interface {
	BaseCurrency(ctx context.Context) (fx.Currency, error)
}

// Accounts names the mappings used by capitalization and disposal.
type Accounts struct {
	Clearing     posting.MappingKey
	DisposalGain posting.MappingKey
	DisposalLoss posting.MappingKey
}

// DefaultAccounts returns the seeded mapping keys.
func DefaultAccounts() Accounts {
	return Accounts{
		Clearing:     posting.MappingKey{Module: "ASSETS", Key: "assets.clearing"},
		DisposalGain: posting.MappingKey{Module: "ASSETS", Key: "assets.disposal_gain"},
		DisposalLoss: posting.MappingKey{Module: "ASSETS", Key: "assets.disposal_loss"},
	}
}

// Service orchestrates the asset lifecycle.
type Service struct {
	repo     RepositoryPort
	currency CurrencySource
	settings Settings
	accounts Accounts
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, currency CurrencySource, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, currency: currency, settings: settings, accounts: DefaultAccounts(), logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateAsset registers an asset in CIP.
func (s *Service) CreateAsset(ctx context.Context, in CreateInput) (Asset, error) {
	if err := in.Validate(); err != nil {
		return Asset{}, err
	}
	if in.SourceType == "" {
		in.SourceType = SourceManual
	}
	now := s.now()
	asset := Asset{
		Code:                           in.Code,
		Name:                           in.Name,
		CategoryID:                     in.CategoryID,
		AcquisitionCost:                money.Quantize2(in.AcquisitionCost),
		SalvageValue:                   money.Quantize2(in.SalvageValue),
		UsefulLifeYears:                in.UsefulLifeYears,
		Method:                         in.Method,
		DepreciationStartDate:          in.DepreciationStartDate,
		Status:                         StatusCIP,
		TotalDepreciation:              decimal.Zero,
		NetBookValue:                   money.Quantize2(in.AcquisitionCost),
		AssetAccountID:                 in.AssetAccountID,
		AccumulatedDepreciationAccount: in.AccumulatedDepreciationAccount,
		DepreciationExpenseAccount:     in.DepreciationExpenseAccount,
		OrganizationID:                 in.OrganizationID,
		SourceType:                     in.SourceType,
		SourceDocumentID:               in.SourceDocumentID,
		SourceLineID:                   in.SourceLineID,
		CreatedAt:                      now,
		UpdatedAt:                      now,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		asset, err = tx.Assets.InsertAsset(ctx, asset)
		return err
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// CreateFromSource raises an asset from an AP invoice line or GRN line. A
// source line yields at most one asset.
func (s *Service) CreateFromSource(ctx context.Context, sourceType SourceType, documentID, lineID int64, in CreateInput) (Asset, error) {
	if sourceType != SourceAPInvoiceLine && sourceType != SourceGRNLine {
		return Asset{}, shared.Invalid("assets: unsupported source type %q", sourceType)
	}
	in.SourceType = sourceType
	in.SourceDocumentID = &documentID
	in.SourceLineID = &lineID
	return s.CreateAsset(ctx, in)
}

// GetAsset loads an asset.
func (s *Service) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return s.repo.GetAsset(ctx, id)
}

// Schedule lists the stored schedule rows of an asset.
func (s *Service) Schedule(ctx context.Context, assetID int64) ([]ScheduleRow, error) {
	return s.repo.ListSchedule(ctx, assetID)
}

// GenerateSchedule stores the asset's schedule, keeping rows that already
// exist, and returns the number of rows created.
func (s *Service) GenerateSchedule(ctx context.Context, assetID int64) (int, error) {
	var created int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		asset, err := tx.Assets.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		if asset.Status == StatusRetired {
			return shared.WithState(ErrInvalidStatus, string(asset.Status))
		}
		created, err = generate(ctx, tx, asset)
		return err
	})
	return created, err
}

func generate(ctx context.Context, tx Tx, asset Asset) (int, error) {
	rows, err := BuildSchedule(asset)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return tx.Assets.InsertScheduleRows(ctx, rows)
}

// PostMonthlyDepreciation posts every unposted row in the month of period.
// Each asset commits in its own transaction; failures are reported in the
// result instead of aborting the batch.
func (s *Service) PostMonthlyDepreciation(ctx context.Context, period time.Time, actorID int64) (BatchResult, error) {
	period = MonthStart(period)
	result := BatchResult{Period: period, Skipped: []SkippedAsset{}}
	ids, err := s.repo.ListAssetsDue(ctx, period)
	if err != nil {
		return result, err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		posted, err := s.postAsset(ctx, id, period, actorID)
		if err != nil {
			s.logger.Warn("depreciation skipped", slog.Int64("asset_id", id), slog.Any("error", err))
			result.Skipped = append(result.Skipped, SkippedAsset{AssetID: id, Reason: err.Error()})
			continue
		}
		result.Posted += posted
	}
	s.logger.Info("depreciation batch complete",
		slog.String("period", period.Format("2006-01")),
		slog.Int("posted", result.Posted),
		slog.Int("skipped", len(result.Skipped)))
	return result, nil
}

func (s *Service) postAsset(ctx context.Context, assetID int64, period time.Time, actorID int64) (int, error) {
	posted := 0
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		asset, err := tx.Assets.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		if asset.Status != StatusCapitalized {
			return shared.WithState(ErrInvalidStatus, string(asset.Status))
		}
		rows, err := tx.Assets.ListUnpostedRows(ctx, assetID, period)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		base, err := s.currency.BaseCurrency(ctx)
		if err != nil {
			return err
		}
		for _, row := range rows {
			entry, err := ledger.Post(ctx, tx.Ledger, ledger.PostingInput{
				Date:           row.PeriodDate,
				Currency:       base.Code,
				SourceModule:   sourceModule,
				SourceID:       uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("DEPRECIATION:%d:%s", asset.ID, row.PeriodDate.Format("2006-01-02")))),
				Memo:           fmt.Sprintf("Depreciation %s %s", asset.Code, row.PeriodDate.Format("2006-01")),
				OrganizationID: asset.OrganizationID,
				ActorID:        actorID,
				Lines: []ledger.PostingLineInput{
					{AccountID: asset.DepreciationExpenseAccount, Debit: row.Amount},
					{AccountID: asset.AccumulatedDepreciationAccount, Credit: row.Amount},
				},
			})
			if err != nil {
				return err
			}
			if err := tx.Assets.MarkRowPosted(ctx, assetID, row.PeriodDate, entry.ID); err != nil {
				return err
			}
			asset.TotalDepreciation = asset.TotalDepreciation.Add(row.Amount)
			asset.NetBookValue = money.Max(asset.AcquisitionCost.Sub(asset.TotalDepreciation), asset.SalvageValue)
			date := row.PeriodDate
			asset.LastDepreciationDate = &date
			posted++
		}
		if posted == 0 {
			return nil
		}
		asset.UpdatedAt = s.now()
		return tx.Assets.UpdateAsset(ctx, asset)
	})
	return posted, err
}

// Capitalize moves a CIP asset into service, posts the capitalization journal
// and generates its schedule.
func (s *Service) Capitalize(ctx context.Context, in CapitalizeInput) (Asset, error) {
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var asset Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		asset, err = tx.Assets.GetAssetForUpdate(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if asset.CapitalizationJournalID != nil {
			return nil
		}
		if asset.Status != StatusCIP {
			return shared.WithState(ErrInvalidStatus, string(asset.Status))
		}
		if asset.AcquisitionCost.LessThan(s.settings.CapitalizationThreshold) {
			return fmt.Errorf("%w: cost %s < %s", ErrBelowThreshold, asset.AcquisitionCost.StringFixed(2), s.settings.CapitalizationThreshold.StringFixed(2))
		}
		base, err := s.currency.BaseCurrency(ctx)
		if err != nil {
			return err
		}
		clearing, err := posting.Resolve(ctx, tx.Ledger, s.accounts.Clearing)
		if err != nil {
			return err
		}
		entry, err := ledger.Post(ctx, tx.Ledger, ledger.PostingInput{
			Date:           in.Date,
			Currency:       base.Code,
			SourceModule:   sourceModule,
			SourceID:       uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("CAPITALIZATION:%d", asset.ID))),
			Memo:           fmt.Sprintf("Capitalization %s", asset.Code),
			OrganizationID: asset.OrganizationID,
			ActorID:        in.ActorID,
			Lines: []ledger.PostingLineInput{
				{AccountID: asset.AssetAccountID, Debit: asset.AcquisitionCost},
				{AccountID: clearing, Credit: asset.AcquisitionCost},
			},
		})
		if err != nil {
			return err
		}
		asset.Status = StatusCapitalized
		asset.CapitalizationJournalID = &entry.ID
		if asset.DepreciationStartDate == nil {
			start := in.Date
			asset.DepreciationStartDate = &start
		}
		asset.UpdatedAt = s.now()
		if err := tx.Assets.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		_, err = generate(ctx, tx, asset)
		return err
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// Dispose retires a capitalized asset and books the gain or loss on disposal.
func (s *Service) Dispose(ctx context.Context, in DisposeInput) (Asset, error) {
	proceeds := money.Quantize2(in.Proceeds)
	costs := money.Quantize2(in.DisposalCosts)
	if proceeds.IsNegative() || costs.IsNegative() {
		return Asset{}, shared.Invalid("assets: proceeds and disposal costs must not be negative")
	}
	if proceeds.IsPositive() && in.ProceedsAccountID == 0 {
		return Asset{}, shared.Invalid("assets: proceeds account required")
	}
	if in.Date.IsZero() {
		in.Date = s.now()
	}
	var asset Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		asset, err = tx.Assets.GetAssetForUpdate(ctx, in.AssetID)
		if err != nil {
			return err
		}
		if asset.DisposalJournalID != nil {
			return nil
		}
		if asset.Status != StatusCapitalized {
			return shared.WithState(ErrInvalidStatus, string(asset.Status))
		}
		base, err := s.currency.BaseCurrency(ctx)
		if err != nil {
			return err
		}
		nbv := asset.AcquisitionCost.Sub(asset.TotalDepreciation)
		result := proceeds.Sub(costs).Sub(nbv)

		var lines []ledger.PostingLineInput
		lines = posting.AppendLine(lines, asset.AccumulatedDepreciationAccount, asset.TotalDepreciation, decimal.Zero)
		lines = posting.AppendLine(lines, in.ProceedsAccountID, proceeds, decimal.Zero)
		lines = posting.AppendLine(lines, asset.AssetAccountID, decimal.Zero, asset.AcquisitionCost)
		if costs.IsPositive() {
			clearing, err := posting.Resolve(ctx, tx.Ledger, s.accounts.Clearing)
			if err != nil {
				return err
			}
			lines = posting.AppendLine(lines, clearing, decimal.Zero, costs)
		}
		switch {
		case result.IsPositive():
			gain, err := posting.Resolve(ctx, tx.Ledger, s.accounts.DisposalGain)
			if err != nil {
				return err
			}
			lines = posting.AppendLine(lines, gain, decimal.Zero, result)
		case result.IsNegative():
			loss, err := posting.Resolve(ctx, tx.Ledger, s.accounts.DisposalLoss)
			if err != nil {
				return err
			}
			lines = posting.AppendLine(lines, loss, result.Neg(), decimal.Zero)
		}
		entry, err := ledger.Post(ctx, tx.Ledger, ledger.PostingInput{
			Date:           in.Date,
			Currency:       base.Code,
			SourceModule:   sourceModule,
			SourceID:       uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("DISPOSAL:%d", asset.ID))),
			Memo:           fmt.Sprintf("Disposal %s", asset.Code),
			OrganizationID: asset.OrganizationID,
			ActorID:        in.ActorID,
			Lines:          lines,
		})
		if err != nil {
			return err
		}
		if err := tx.Assets.DeleteUnpostedRows(ctx, asset.ID, MonthStart(in.Date)); err != nil {
			return err
		}
		asset.Status = StatusRetired
		asset.DisposalJournalID = &entry.ID
		asset.UpdatedAt = s.now()
		return tx.Assets.UpdateAsset(ctx, asset)
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// Execute applies an approved request.
func (s *Service) Execute(ctx context.Context, req ApprovalRequest) (Asset, error) {
	if err := req.Validate(); err != nil {
		return Asset{}, err
	}
	switch req.Operation {
	case OpCapitalization:
		in := req.Capitalization.Capitalize
		in.AssetID = req.AssetID
		return s.Capitalize(ctx, in)
	case OpRetirement:
		in := req.Retirement.Disposal
		in.AssetID = req.AssetID
		return s.Dispose(ctx, in)
	case OpAdjustment:
		return s.adjust(ctx, req.AssetID, *req.Adjustment)
	default:
		return Asset{}, fmt.Errorf("%w: %s requests are recorded, not executed", shared.ErrStateConflict, req.Operation)
	}
}

// adjust changes cost, salvage or life of an asset that has not started
// depreciating and rebuilds its unposted schedule.
func (s *Service) adjust(ctx context.Context, assetID int64, adj AdjustmentPayload) (Asset, error) {
	var asset Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		asset, err = tx.Assets.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		if asset.Status == StatusRetired || asset.LastDepreciationDate != nil {
			return shared.WithState(ErrInvalidStatus, string(asset.Status))
		}
		in := CreateInput{
			Code: asset.Code, Name: asset.Name, CategoryID: asset.CategoryID,
			AcquisitionCost: asset.AcquisitionCost, SalvageValue: asset.SalvageValue,
			UsefulLifeYears: asset.UsefulLifeYears, Method: asset.Method,
			AssetAccountID: asset.AssetAccountID, AccumulatedDepreciationAccount: asset.AccumulatedDepreciationAccount,
			DepreciationExpenseAccount: asset.DepreciationExpenseAccount,
		}
		if adj.NewCost != nil {
			in.AcquisitionCost = money.Quantize2(*adj.NewCost)
		}
		if adj.NewSalvage != nil {
			in.SalvageValue = money.Quantize2(*adj.NewSalvage)
		}
		if adj.NewLife != nil {
			in.UsefulLifeYears = *adj.NewLife
		}
		if err := in.Validate(); err != nil {
			return err
		}
		if asset.Status == StatusCapitalized && !in.AcquisitionCost.Equal(asset.AcquisitionCost) {
			return shared.WithState(ErrInvalidStatus, "CAPITALIZED/COST_LOCKED")
		}
		asset.AcquisitionCost = in.AcquisitionCost
		asset.SalvageValue = in.SalvageValue
		asset.UsefulLifeYears = in.UsefulLifeYears
		asset.NetBookValue = in.AcquisitionCost
		asset.UpdatedAt = s.now()
		if err := tx.Assets.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		if asset.Status != StatusCapitalized {
			return nil
		}
		if err := tx.Assets.DeleteUnpostedRows(ctx, asset.ID, time.Time{}); err != nil {
			return err
		}
		_, err = generate(ctx, tx, asset)
		return err
	})
	if err != nil {
		return Asset{}, err
	}
	return asset, nil
}

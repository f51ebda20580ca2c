package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/assets"
	"github.com/odyssey-erp/ledger/internal/corptax"
	"github.com/odyssey-erp/ledger/internal/invoices"
	"github.com/odyssey-erp/ledger/internal/ledger"
	"github.com/odyssey-erp/ledger/internal/reports"
)

type journalLineView struct {
	AccountID int64  `json:"account_id"`
	Debit     string `json:"debit"`
	Credit    string `json:"credit"`
}

type journalView struct {
	ID           int64             `json:"id"`
	Number       int64             `json:"number"`
	Date         string            `json:"date"`
	Currency     string            `json:"currency"`
	Memo         string            `json:"memo"`
	Posted       bool              `json:"posted"`
	SourceModule string            `json:"source_module"`
	SourceID     string            `json:"source_id"`
	ReversalOf   *int64            `json:"reversal_of,omitempty"`
	Lines        []journalLineView `json:"lines"`
}

func amount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func dateString(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func toJournalView(e ledger.JournalEntry) journalView {
	v := journalView{
		ID:           e.ID,
		Number:       e.Number,
		Date:         e.Date.Format(dateLayout),
		Currency:     e.Currency,
		Memo:         e.Memo,
		Posted:       e.Posted,
		SourceModule: e.SourceModule,
		SourceID:     e.SourceID.String(),
		ReversalOf:   e.ReversalOf,
		Lines:        make([]journalLineView, 0, len(e.Lines)),
	}
	for _, l := range e.Lines {
		v.Lines = append(v.Lines, journalLineView{AccountID: l.AccountID, Debit: amount(l.Debit), Credit: amount(l.Credit)})
	}
	return v
}

type filingView struct {
	ID                int64  `json:"id"`
	Country           string `json:"country"`
	PeriodStart       string `json:"period_start"`
	PeriodEnd         string `json:"period_end"`
	OrganizationID    *int64 `json:"organization_id,omitempty"`
	Status            string `json:"status"`
	Income            string `json:"income"`
	Expense           string `json:"expense"`
	Profit            string `json:"profit"`
	TaxRate           string `json:"tax_rate"`
	TaxAmount         string `json:"tax_amount"`
	AccrualJournalID  *int64 `json:"accrual_journal_id,omitempty"`
	ReversalJournalID *int64 `json:"reversal_journal_id,omitempty"`
	FiledAt           string `json:"filed_at,omitempty"`
}

func toFilingView(f corptax.Filing) filingView {
	return filingView{
		ID:                f.ID,
		Country:           f.Country,
		PeriodStart:       f.PeriodStart.Format(dateLayout),
		PeriodEnd:         f.PeriodEnd.Format(dateLayout),
		OrganizationID:    f.OrganizationID,
		Status:            string(f.Status),
		Income:            amount(f.Income),
		Expense:           amount(f.Expense),
		Profit:            amount(f.Profit),
		TaxRate:           f.TaxRate.String(),
		TaxAmount:         amount(f.TaxAmount),
		AccrualJournalID:  f.AccrualJournalID,
		ReversalJournalID: f.ReversalJournalID,
		FiledAt:           dateString(f.FiledAt),
	}
}

type assetView struct {
	ID                      int64  `json:"id"`
	Code                    string `json:"code"`
	Name                    string `json:"name"`
	Method                  string `json:"method"`
	Status                  string `json:"status"`
	AcquisitionCost         string `json:"acquisition_cost"`
	SalvageValue            string `json:"salvage_value"`
	UsefulLifeYears         int    `json:"useful_life_years"`
	DepreciationStartDate   string `json:"depreciation_start_date,omitempty"`
	TotalDepreciation       string `json:"total_depreciation"`
	NetBookValue            string `json:"net_book_value"`
	LastDepreciationDate    string `json:"last_depreciation_date,omitempty"`
	CapitalizationJournalID *int64 `json:"capitalization_journal_id,omitempty"`
	DisposalJournalID       *int64 `json:"disposal_journal_id,omitempty"`
}

func toAssetView(a assets.Asset) assetView {
	return assetView{
		ID:                      a.ID,
		Code:                    a.Code,
		Name:                    a.Name,
		Method:                  string(a.Method),
		Status:                  string(a.Status),
		AcquisitionCost:         amount(a.AcquisitionCost),
		SalvageValue:            amount(a.SalvageValue),
		UsefulLifeYears:         a.UsefulLifeYears,
		DepreciationStartDate:   dateString(a.DepreciationStartDate),
		TotalDepreciation:       amount(a.TotalDepreciation),
		NetBookValue:            amount(a.NetBookValue),
		LastDepreciationDate:    dateString(a.LastDepreciationDate),
		CapitalizationJournalID: a.CapitalizationJournalID,
		DisposalJournalID:       a.DisposalJournalID,
	}
}

type scheduleRowView struct {
	PeriodDate  string `json:"period_date"`
	Amount      string `json:"amount"`
	Accumulated string `json:"accumulated"`
	NetBook     string `json:"net_book"`
	IsPosted    bool   `json:"is_posted"`
	JournalID   *int64 `json:"journal_id,omitempty"`
}

func toScheduleView(rows []assets.ScheduleRow) []scheduleRowView {
	out := make([]scheduleRowView, 0, len(rows))
	for _, r := range rows {
		out = append(out, scheduleRowView{
			PeriodDate:  r.PeriodDate.Format(dateLayout),
			Amount:      amount(r.Amount),
			Accumulated: amount(r.Accumulated),
			NetBook:     amount(r.NetBook),
			IsPosted:    r.IsPosted,
			JournalID:   r.JournalID,
		})
	}
	return out
}

type matchView struct {
	Status         string `json:"status"`
	VarianceAmount string `json:"variance_amount"`
	Notes          string `json:"notes"`
}

func toMatchView(m invoices.MatchResult) matchView {
	return matchView{Status: string(m.Status), VarianceAmount: amount(m.VarianceAmount), Notes: m.Notes}
}

type bucketView struct {
	Current   string `json:"current"`
	Bucket30  string `json:"days_1_30"`
	Bucket60  string `json:"days_31_60"`
	Bucket90  string `json:"days_61_90"`
	Bucket120 string `json:"days_over_90"`
	Total     string `json:"total"`
}

type agingView struct {
	AsOf       string     `json:"as_of"`
	Receivable bucketView `json:"receivable"`
	Payable    bucketView `json:"payable"`
}

func toBucketView(b invoices.AgingBucket) bucketView {
	return bucketView{
		Current:   amount(b.Current),
		Bucket30:  amount(b.Bucket30),
		Bucket60:  amount(b.Bucket60),
		Bucket90:  amount(b.Bucket90),
		Bucket120: amount(b.Bucket120),
		Total:     amount(b.Total()),
	}
}

func toAgingView(r reports.AgingReport) agingView {
	return agingView{
		AsOf:       r.AsOf.Format(dateLayout),
		Receivable: toBucketView(r.Receivable),
		Payable:    toBucketView(r.Payable),
	}
}

package assets

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/ledger/internal/money"
)

// MonthStart normalizes t to the first day of its month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// BuildSchedule computes the full monthly schedule of a. Net book value never
// falls below salvage.
func BuildSchedule(a Asset) ([]ScheduleRow, error) {
	if a.DepreciationStartDate == nil {
		return nil, ErrNoStartDate
	}
	months := a.UsefulLifeYears * 12
	if months <= 0 {
		return nil, nil
	}
	start := MonthStart(*a.DepreciationStartDate)
	depreciable := money.Quantize2(a.Depreciable())
	twelve := decimal.NewFromInt(12)
	life := decimal.NewFromInt(int64(a.UsefulLifeYears))

	digits := decimal.NewFromInt(int64(a.UsefulLifeYears * (a.UsefulLifeYears + 1) / 2))

	rows := make([]ScheduleRow, 0, months)
	accumulated := decimal.Zero
	for m := 0; m < months; m++ {
		remaining := depreciable.Sub(accumulated)
		if !remaining.IsPositive() {
			break
		}
		var charge decimal.Decimal
		switch a.Method {
		case MethodStraightLine:
			charge = money.Quantize2(depreciable.Div(life).Div(twelve))
		case MethodDecliningBalance:
			book := a.AcquisitionCost.Sub(accumulated)
			charge = money.Quantize2(book.Mul(decimal.NewFromInt(2)).Div(life).Div(twelve))
		case MethodSumOfYearsDigits:
			// Remaining life in years, reduced each elapsed month.
			remainingYears := life.Sub(decimal.NewFromInt(int64(m)).Div(twelve))
			charge = money.Quantize2(depreciable.Mul(remainingYears).Div(digits).Div(twelve))
		}
		last := m == months-1
		if charge.GreaterThan(remaining) || (last && a.Method != MethodDecliningBalance) {
			charge = remaining
		}
		if charge.IsZero() {
			continue
		}
		accumulated = accumulated.Add(charge)
		rows = append(rows, ScheduleRow{
			AssetID:     a.ID,
			PeriodDate:  start.AddDate(0, m, 0),
			Amount:      charge,
			Accumulated: accumulated,
			NetBook:     a.AcquisitionCost.Sub(accumulated),
		})
	}
	return rows, nil
}

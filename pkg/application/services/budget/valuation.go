package budget

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// HourlyCoefficient returns the currency value of one hour over the dates of
// a project: each cost period overlapping the project contributes its cost
// weighted by the share of project days it covers. Open-ended periods run
// until the project end. Projects without both dates have no coefficient.
func HourlyCoefficient(project *entities.Project, costs []*entities.HourlyCost) decimal.Decimal {
	if project == nil || project.DateStart.IsZero() || project.DateEnd.IsZero() {
		return decimal.Zero
	}
	start, end := dateOf(project.DateStart), dateOf(project.DateEnd)
	if end.Before(start) {
		return decimal.Zero
	}
	projectDays := decimal.NewFromInt(daysBetween(start, end) + 1)

	coefficient := decimal.Zero
	for _, c := range costs {
		if c.DateFrom.IsZero() {
			continue
		}
		from := dateOf(c.DateFrom)
		to := end
		if !c.DateTo.IsZero() {
			to = dateOf(c.DateTo)
		}
		if from.After(end) || to.Before(start) {
			continue
		}
		if from.Before(start) {
			from = start
		}
		if to.After(end) {
			to = end
		}
		overlap := decimal.NewFromInt(daysBetween(from, to) + 1)
		coefficient = coefficient.Add(overlap.Div(projectDays).Mul(c.Cost))
	}
	return coefficient
}

// Value converts an amount of a category into currency
func Value(category *entities.BudgetCategory, amount, coefficient decimal.Decimal) decimal.Decimal {
	if category != nil && category.Unit == entities.UnitHours {
		return amount.Mul(coefficient)
	}
	return amount
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func daysBetween(from, to time.Time) int64 {
	return int64(to.Sub(from).Hours() / 24)
}

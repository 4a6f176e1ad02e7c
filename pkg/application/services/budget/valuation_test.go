package budget

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestHourlyCoefficient(t *testing.T) {
	project := &entities.Project{ID: 1, DateStart: date(2026, 1, 1), DateEnd: date(2026, 1, 10)}

	tests := []struct {
		name     string
		project  *entities.Project
		costs    []*entities.HourlyCost
		expected string
	}{
		{
			name:    "periods split the project",
			project: project,
			costs: []*entities.HourlyCost{
				{DateFrom: date(2025, 12, 1), DateTo: date(2026, 1, 4), Cost: decimal.NewFromInt(10)},
				{DateFrom: date(2026, 1, 5), Cost: decimal.NewFromInt(20)},
			},
			expected: "16",
		},
		{
			name:    "period covering the whole project",
			project: project,
			costs: []*entities.HourlyCost{
				{DateFrom: date(2025, 1, 1), DateTo: date(2027, 1, 1), Cost: decimal.NewFromInt(30)},
			},
			expected: "30",
		},
		{
			name:    "periods outside the project are ignored",
			project: project,
			costs: []*entities.HourlyCost{
				{DateFrom: date(2025, 1, 1), DateTo: date(2025, 12, 31), Cost: decimal.NewFromInt(99)},
				{DateFrom: date(2026, 2, 1), Cost: decimal.NewFromInt(99)},
			},
			expected: "0",
		},
		{
			name:     "project without dates",
			project:  &entities.Project{ID: 2},
			costs:    []*entities.HourlyCost{{DateFrom: date(2026, 1, 1), Cost: decimal.NewFromInt(10)}},
			expected: "0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HourlyCoefficient(tt.project, tt.costs)
			if !got.Equal(decimal.RequireFromString(tt.expected)) {
				t.Errorf("Expected coefficient %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestValue(t *testing.T) {
	hours := &entities.BudgetCategory{ID: 1, Unit: entities.UnitHours}
	currency := &entities.BudgetCategory{ID: 2, Unit: entities.UnitCurrency}
	amount := decimal.NewFromInt(8)
	coefficient := decimal.NewFromInt(45)

	if got := Value(hours, amount, coefficient); !got.Equal(decimal.NewFromInt(360)) {
		t.Errorf("Expected hours valued at 360, got %s", got)
	}
	if got := Value(currency, amount, coefficient); !got.Equal(amount) {
		t.Errorf("Expected currency unchanged, got %s", got)
	}
}

package distribution

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func launchKey(id, categoryID int64) entities.BudgetKey {
	return entities.BudgetKey{ProjectID: 1, Consumer: entities.NewRef(entities.KindLaunch, id), CategoryID: categoryID}
}

func projectKey(categoryID int64) entities.BudgetKey {
	return entities.BudgetKey{ProjectID: 1, Consumer: entities.NewRef(entities.KindProject, 1), CategoryID: categoryID}
}

func amountsByEdge(r *Result) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	for _, a := range r.Allocations {
		out[a.Row.EdgeID] = a.Amount
	}
	return out
}

func TestDistributeProportional(t *testing.T) {
	result := Distribute(Input{
		Mode: ModeExpense,
		Rows: []Row{
			{EdgeID: 1, Key: launchKey(1, 1), Sequence: 1},
			{EdgeID: 2, Key: launchKey(2, 1), Sequence: 2},
		},
		Expense:   map[int64]decimal.Decimal{1: d("200")},
		Remaining: map[entities.BudgetKey]decimal.Decimal{launchKey(1, 1): d("100"), launchKey(2, 1): d("300")},
	})

	amounts := amountsByEdge(result)
	if !amounts[1].Equal(d("50")) {
		t.Errorf("Expected 50 on launch 1, got %s", amounts[1])
	}
	if !amounts[2].Equal(d("150")) {
		t.Errorf("Expected 150 on launch 2, got %s", amounts[2])
	}
	if !result.Gain(1).IsZero() {
		t.Errorf("Expected zero gain, got %s", result.Gain(1))
	}
}

func TestDistributeConservation(t *testing.T) {
	tests := []struct {
		name      string
		expense   string
		remaining []string
		precision int32
	}{
		{"expense below remaining", "10", []string{"100", "100", "100"}, 2},
		{"expense above remaining", "100", []string{"1", "1", "1"}, 2},
		{"whole units", "10", []string{"100", "100", "100"}, 0},
		{"uneven", "77.77", []string{"13.5", "0.01", "250", "40"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := Input{
				Mode:      ModeExpense,
				Expense:   map[int64]decimal.Decimal{1: d(tt.expense)},
				Remaining: make(map[entities.BudgetKey]decimal.Decimal),
				Precision: map[int64]int32{1: tt.precision},
			}
			totalRemaining := decimal.Zero
			for i, rem := range tt.remaining {
				key := launchKey(int64(i+1), 1)
				in.Rows = append(in.Rows, Row{EdgeID: int64(i + 1), Key: key, Sequence: i})
				in.Remaining[key] = d(rem)
				totalRemaining = totalRemaining.Add(d(rem))
			}

			result := Distribute(in)
			reserved := result.Reserved[1]
			limit := decimal.Min(d(tt.expense), totalRemaining)
			if reserved.GreaterThan(limit) {
				t.Errorf("Expected reserved <= %s, got %s", limit, reserved)
			}
			for _, a := range result.Allocations {
				if a.Amount.IsNegative() {
					t.Errorf("Expected non-negative amount on edge %d, got %s", a.Row.EdgeID, a.Amount)
				}
				if a.Amount.GreaterThan(in.Remaining[a.Row.Key]) {
					t.Errorf("Expected edge %d within its remaining %s, got %s", a.Row.EdgeID, in.Remaining[a.Row.Key], a.Amount)
				}
				if !a.Amount.Equal(a.Amount.RoundDown(tt.precision)) {
					t.Errorf("Expected %s rounded to %d decimals", a.Amount, tt.precision)
				}
			}
		})
	}
}

func TestDistributeRoundsDown(t *testing.T) {
	result := Distribute(Input{
		Mode: ModeExpense,
		Rows: []Row{
			{EdgeID: 1, Key: launchKey(1, 1), Sequence: 1},
			{EdgeID: 2, Key: launchKey(2, 1), Sequence: 2},
			{EdgeID: 3, Key: launchKey(3, 1), Sequence: 3},
		},
		Expense: map[int64]decimal.Decimal{1: d("10")},
		Remaining: map[entities.BudgetKey]decimal.Decimal{
			launchKey(1, 1): d("100"), launchKey(2, 1): d("100"), launchKey(3, 1): d("100"),
		},
	})

	for id, amount := range amountsByEdge(result) {
		if !amount.Equal(d("3.33")) {
			t.Errorf("Expected 3.33 on edge %d, got %s", id, amount)
		}
	}
	if !result.Reserved[1].Equal(d("9.99")) {
		t.Errorf("Expected 9.99 reserved, got %s", result.Reserved[1])
	}
}

func TestDistributeZeroTotalRemaining(t *testing.T) {
	result := Distribute(Input{
		Mode: ModeExpense,
		Rows: []Row{
			{EdgeID: 1, Key: launchKey(1, 1)},
			{EdgeID: 2, Key: launchKey(2, 1)},
		},
		Expense:   map[int64]decimal.Decimal{1: d("500")},
		Remaining: map[entities.BudgetKey]decimal.Decimal{launchKey(1, 1): d("0")},
	})

	for id, amount := range amountsByEdge(result) {
		if !amount.IsZero() {
			t.Errorf("Expected zero on edge %d, got %s", id, amount)
		}
	}
	if !result.Gain(1).Equal(d("-500")) {
		t.Errorf("Expected gain -500, got %s", result.Gain(1))
	}
}

func TestDistributeClampsNegativeRemaining(t *testing.T) {
	result := Distribute(Input{
		Mode: ModeExpense,
		Rows: []Row{
			{EdgeID: 1, Key: launchKey(1, 1), Sequence: 1},
			{EdgeID: 2, Key: launchKey(2, 1), Sequence: 2},
		},
		Expense:   map[int64]decimal.Decimal{1: d("80")},
		Remaining: map[entities.BudgetKey]decimal.Decimal{launchKey(1, 1): d("-50"), launchKey(2, 1): d("100")},
	})

	amounts := amountsByEdge(result)
	if !amounts[1].IsZero() {
		t.Errorf("Expected zero on overdrawn launch, got %s", amounts[1])
	}
	if !amounts[2].Equal(d("80")) {
		t.Errorf("Expected 80 on launch 2, got %s", amounts[2])
	}
}

func TestDistributeProjectCapped(t *testing.T) {
	result := Distribute(Input{
		Mode:      ModeExpense,
		Rows:      []Row{{EdgeID: 1, Key: projectKey(1)}},
		Expense:   map[int64]decimal.Decimal{1: d("300")},
		Remaining: map[entities.BudgetKey]decimal.Decimal{projectKey(1): d("100")},
	})

	if !result.Reserved[1].Equal(d("100")) {
		t.Errorf("Expected 100 reserved, got %s", result.Reserved[1])
	}
	if !result.Gain(1).Equal(d("-200")) {
		t.Errorf("Expected gain -200, got %s", result.Gain(1))
	}
}

func TestDistributeAcrossCategories(t *testing.T) {
	const other, installation = 1, 2
	result := Distribute(Input{
		Mode: ModeExpense,
		Rows: []Row{
			{EdgeID: 1, Key: projectKey(other)},
			{EdgeID: 2, Key: projectKey(installation)},
		},
		Expense: map[int64]decimal.Decimal{other: d("250"), installation: d("50")},
		Remaining: map[entities.BudgetKey]decimal.Decimal{
			projectKey(other):        d("100"),
			projectKey(installation): d("150"),
		},
	})

	if !result.Reserved[other].Equal(d("100")) {
		t.Errorf("Expected 100 reserved on other, got %s", result.Reserved[other])
	}
	if !result.Reserved[installation].Equal(d("50")) {
		t.Errorf("Expected 50 reserved on installation, got %s", result.Reserved[installation])
	}
	if !result.TotalReserved().Equal(d("150")) {
		t.Errorf("Expected 150 reserved in total, got %s", result.TotalReserved())
	}
	gainSum := result.Gain(other).Add(result.Gain(installation))
	if !result.TotalGain().Equal(d("-150")) || !gainSum.Equal(result.TotalGain()) {
		t.Errorf("Expected total gain -150 matching per-category gains, got %s and %s", result.TotalGain(), gainSum)
	}
}

func TestDistributeBalanceMode(t *testing.T) {
	result := Distribute(Input{
		Mode: ModeBalance,
		Rows: []Row{
			{EdgeID: 1, Key: launchKey(1, 1), Sequence: 1},
			{EdgeID: 2, Key: launchKey(2, 1), Sequence: 2},
		},
		Remaining: map[entities.BudgetKey]decimal.Decimal{launchKey(1, 1): d("40"), launchKey(2, 1): d("60.555")},
	})

	amounts := amountsByEdge(result)
	if !amounts[1].Equal(d("40")) {
		t.Errorf("Expected 40 on launch 1, got %s", amounts[1])
	}
	if !amounts[2].Equal(d("60.55")) {
		t.Errorf("Expected 60.55 on launch 2, got %s", amounts[2])
	}
}

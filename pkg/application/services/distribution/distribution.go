// Package distribution spreads the real expense of a section over its
// reservation rows, proportionally to the remaining budget of each launch
// and never beyond it.
package distribution

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// Mode selects what each row tries to reserve
type Mode int

const (
	// ModeExpense reserves the section expense, split across launches
	ModeExpense Mode = iota
	// ModeBalance reserves everything that remains, ignoring expense
	ModeBalance
)

// String method for Mode enum
func (m Mode) String() string {
	switch m {
	case ModeExpense:
		return "expense"
	case ModeBalance:
		return "balance"
	default:
		return "unknown"
	}
}

// Row is one reservation edge to fill
type Row struct {
	EdgeID   int64
	Key      entities.BudgetKey
	Sequence int
}

// Input holds everything the distribution reads. Remaining must exclude the
// section's own reservations.
type Input struct {
	Mode      Mode
	Rows      []Row
	Expense   map[int64]decimal.Decimal
	Remaining map[entities.BudgetKey]decimal.Decimal
	// Precision per category; missing categories use entities.DefaultPrecision
	Precision map[int64]int32
}

// Allocation is the amount computed for one row
type Allocation struct {
	Row      Row
	RawShare decimal.Decimal
	Amount   decimal.Decimal
}

// Result is the outcome of a distribution pass
type Result struct {
	Allocations []Allocation
	Reserved    map[int64]decimal.Decimal
	Expense     map[int64]decimal.Decimal
}

// Gain returns reserved - expense for a category; negative is a loss
func (r *Result) Gain(categoryID int64) decimal.Decimal {
	return r.Reserved[categoryID].Sub(r.Expense[categoryID])
}

// TotalReserved sums the reserved amounts of every category
func (r *Result) TotalReserved() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r.Reserved {
		total = total.Add(v)
	}
	return total
}

// TotalExpense sums the expense of every category
func (r *Result) TotalExpense() decimal.Decimal {
	total := decimal.Zero
	for _, v := range r.Expense {
		total = total.Add(v)
	}
	return total
}

// TotalGain returns TotalReserved - TotalExpense
func (r *Result) TotalGain() decimal.Decimal {
	return r.TotalReserved().Sub(r.TotalExpense())
}

// Distribute computes the amount of every row, category by category.
//
// A launch row gets expense x remaining_of_launch / total_remaining, a project
// row gets the whole expense, and a balance row gets its remaining. Each
// amount is clamped to [0, min(share, row cursor, category cursor)] and
// rounded down to the category precision; both cursors are then decremented
// so later rows never claim budget an earlier row already took.
func Distribute(in Input) *Result {
	result := &Result{
		Reserved: make(map[int64]decimal.Decimal),
		Expense:  make(map[int64]decimal.Decimal),
	}
	for categoryID, amount := range in.Expense {
		result.Expense[categoryID] = amount
	}

	byCategory := make(map[int64][]Row)
	for _, row := range in.Rows {
		byCategory[row.Key.CategoryID] = append(byCategory[row.Key.CategoryID], row)
	}
	categoryIDs := make([]int64, 0, len(byCategory))
	for id := range byCategory {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Slice(categoryIDs, func(i, j int) bool { return categoryIDs[i] < categoryIDs[j] })

	for _, categoryID := range categoryIDs {
		rows := byCategory[categoryID]
		sortRows(rows)
		allocations := distributeCategory(in, categoryID, rows)
		reserved := decimal.Zero
		for _, a := range allocations {
			reserved = reserved.Add(a.Amount)
		}
		result.Reserved[categoryID] = reserved
		result.Allocations = append(result.Allocations, allocations...)
	}
	return result
}

func distributeCategory(in Input, categoryID int64, rows []Row) []Allocation {
	precision, ok := in.Precision[categoryID]
	if !ok {
		precision = entities.DefaultPrecision
	}
	expense := clampZero(in.Expense[categoryID])

	// snapshot of what each row may take, and the launch total shares are based on
	initial := make(map[entities.BudgetKey]decimal.Decimal, len(rows))
	totalRemaining := decimal.Zero
	totalAvailable := decimal.Zero
	for _, row := range rows {
		if _, seen := initial[row.Key]; seen {
			continue
		}
		rem := clampZero(in.Remaining[row.Key])
		initial[row.Key] = rem
		totalAvailable = totalAvailable.Add(rem)
		if row.Key.Consumer.Kind == entities.KindLaunch {
			totalRemaining = totalRemaining.Add(rem)
		}
	}

	keyCursor := make(map[entities.BudgetKey]decimal.Decimal, len(initial))
	for k, v := range initial {
		keyCursor[k] = v
	}
	categoryCursor := totalAvailable
	if in.Mode == ModeExpense {
		categoryCursor = decimal.Min(expense, totalAvailable)
	}

	allocations := make([]Allocation, 0, len(rows))
	for _, row := range rows {
		var raw decimal.Decimal
		switch {
		case in.Mode == ModeBalance:
			raw = keyCursor[row.Key]
		case row.Key.Consumer.Kind != entities.KindLaunch:
			raw = expense
		case totalRemaining.IsPositive():
			raw = expense.Mul(initial[row.Key]).Div(totalRemaining)
		default:
			raw = decimal.Zero
		}

		amount := decimal.Min(raw, keyCursor[row.Key], categoryCursor)
		amount = clampZero(amount).RoundDown(precision)

		keyCursor[row.Key] = keyCursor[row.Key].Sub(amount)
		categoryCursor = categoryCursor.Sub(amount)
		allocations = append(allocations, Allocation{Row: row, RawShare: raw, Amount: amount})
	}
	return allocations
}

func sortRows(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if a.Key.Consumer.Kind != b.Key.Consumer.Kind {
			return a.Key.Consumer.Kind < b.Key.Consumer.Kind
		}
		if a.Key.Consumer.ID != b.Key.Consumer.ID {
			return a.Key.Consumer.ID < b.Key.Consumer.ID
		}
		return a.EdgeID < b.EdgeID
	})
}

func clampZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

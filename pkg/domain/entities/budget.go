package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPrecision is the number of decimals budget amounts are rounded to
const DefaultPrecision int32 = 2

// MaxScale is the number of decimals a stored quantity or amount may carry
const MaxScale int32 = 4

// FitsScale reports whether q is exact at MaxScale decimals
func FitsScale(q decimal.Decimal) bool {
	return q.Equal(q.Truncate(MaxScale))
}

// BudgetUnit represents the unit budget amounts of a category are expressed in
type BudgetUnit int

const (
	UnitCurrency BudgetUnit = iota
	UnitHours
)

// String method for BudgetUnit enum
func (u BudgetUnit) String() string {
	switch u {
	case UnitCurrency:
		return "currency"
	case UnitHours:
		return "hours"
	default:
		return "unknown"
	}
}

// ParseBudgetUnit parses the String form of a BudgetUnit
func ParseBudgetUnit(s string) (BudgetUnit, error) {
	switch s {
	case "currency", "":
		return UnitCurrency, nil
	case "hours":
		return UnitHours, nil
	default:
		return UnitCurrency, fmt.Errorf("unknown budget unit %q", s)
	}
}

// BudgetCategory is a named budget ledger category
type BudgetCategory struct {
	ID        int64
	Name      string
	Code      string
	Unit      BudgetUnit
	Precision int32
	Sequence  int
	Active    bool
}

// NewBudgetCategory creates a validated BudgetCategory
func NewBudgetCategory(id int64, name, code string, unit BudgetUnit) (*BudgetCategory, error) {
	if id <= 0 {
		return nil, fmt.Errorf("category id must be positive, got %d", id)
	}
	if name == "" {
		return nil, fmt.Errorf("category name cannot be empty")
	}
	return &BudgetCategory{
		ID:        id,
		Name:      name,
		Code:      code,
		Unit:      unit,
		Precision: DefaultPrecision,
		Active:    true,
	}, nil
}

// Ref returns the polymorphic reference of the category
func (c *BudgetCategory) Ref() Ref { return Ref{Kind: KindCategory, ID: c.ID} }

// PositionBudget is the unitary budget of one position in one category
type PositionBudget struct {
	PositionID int64
	CategoryID int64
	Amount     decimal.Decimal
}

// ProjectBudget is a flat category grant on a project
type ProjectBudget struct {
	ProjectID  int64
	CategoryID int64
	Amount     decimal.Decimal
}

// HourlyCost is one period of the hourly cost history of an hours category.
// A zero DateTo leaves the period open.
type HourlyCost struct {
	CategoryID int64
	DateFrom   time.Time
	DateTo     time.Time
	Cost       decimal.Decimal
}

// ExpenseLine is a real-expense line of a section attributed to a category
type ExpenseLine struct {
	ID         int64
	Section    Ref
	CategoryID int64
	Amount     decimal.Decimal
	Excluded   bool
}

// NewExpenseLine creates a validated ExpenseLine
func NewExpenseLine(id int64, section Ref, categoryID int64, amount decimal.Decimal, excluded bool) (*ExpenseLine, error) {
	if !section.Kind.IsSection() {
		return nil, fmt.Errorf("expense line %d: %s is not a section", id, section)
	}
	if categoryID <= 0 {
		return nil, fmt.Errorf("expense line %d has no category", id)
	}
	return &ExpenseLine{
		ID:         id,
		Section:    section,
		CategoryID: categoryID,
		Amount:     amount,
		Excluded:   excluded,
	}, nil
}

// BudgetKey identifies a budget bucket: a consumer (launch or project) in a category
type BudgetKey struct {
	ProjectID  int64
	Consumer   Ref
	CategoryID int64
}

func (k BudgetKey) String() string {
	return fmt.Sprintf("%s/category:%d", k.Consumer, k.CategoryID)
}

package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// AvailableFilter scopes available budget sums. Consumers may mix launches and projects.
type AvailableFilter struct {
	ProjectID   int64
	Consumers   []entities.Ref
	CategoryIDs []int64
}

// BudgetRepository provides access to categories, budgets, sections and expense
type BudgetRepository interface {
	GetCategory(ctx context.Context, id int64) (*entities.BudgetCategory, error)
	ListCategories(ctx context.Context) ([]*entities.BudgetCategory, error)
	SaveCategory(ctx context.Context, category *entities.BudgetCategory) error

	SavePositionBudget(ctx context.Context, budget *entities.PositionBudget) error
	ListPositionBudgets(ctx context.Context, positionIDs []int64) ([]*entities.PositionBudget, error)
	SaveProjectBudget(ctx context.Context, budget *entities.ProjectBudget) error
	ListProjectBudgets(ctx context.Context, projectID int64) ([]*entities.ProjectBudget, error)
	SaveHourlyCost(ctx context.Context, cost *entities.HourlyCost) error
	ListHourlyCosts(ctx context.Context, categoryID int64) ([]*entities.HourlyCost, error)

	GetSection(ctx context.Context, ref entities.Ref) (*entities.Section, error)
	SaveSection(ctx context.Context, section *entities.Section) error
	ListExpenseLines(ctx context.Context, section entities.Ref) ([]*entities.ExpenseLine, error)
	SaveExpenseLine(ctx context.Context, line *entities.ExpenseLine) error

	// SumAvailable aggregates granted budget grouped by budget key: launch budgets
	// from affected launch edges times position unitary budgets, project budgets
	// from flat grants.
	SumAvailable(ctx context.Context, filter AvailableFilter) (map[entities.BudgetKey]decimal.Decimal, error)
}

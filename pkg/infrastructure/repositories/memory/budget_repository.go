package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

func (t *tx) GetCategory(ctx context.Context, id int64) (*entities.BudgetCategory, error) {
	c, ok := t.s.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, repositories.ErrNotFound)
	}
	return &c, nil
}

func (t *tx) ListCategories(ctx context.Context) ([]*entities.BudgetCategory, error) {
	categories := make([]*entities.BudgetCategory, 0, len(t.s.categories))
	for _, c := range t.s.categories {
		c := c
		categories = append(categories, &c)
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i].Sequence != categories[j].Sequence {
			return categories[i].Sequence < categories[j].Sequence
		}
		return categories[i].ID < categories[j].ID
	})
	return categories, nil
}

func (t *tx) SaveCategory(ctx context.Context, category *entities.BudgetCategory) error {
	if category == nil {
		return fmt.Errorf("category is required")
	}
	t.s.categories[category.ID] = *category
	return nil
}

func (t *tx) SavePositionBudget(ctx context.Context, budget *entities.PositionBudget) error {
	if budget == nil {
		return fmt.Errorf("position budget is required")
	}
	t.s.positionBudgets[pairKey{budget.PositionID, budget.CategoryID}] = *budget
	return nil
}

func (t *tx) ListPositionBudgets(ctx context.Context, positionIDs []int64) ([]*entities.PositionBudget, error) {
	var budgets []*entities.PositionBudget
	for _, b := range t.s.positionBudgets {
		if len(positionIDs) > 0 && !containsID(positionIDs, b.PositionID) {
			continue
		}
		b := b
		budgets = append(budgets, &b)
	}
	sort.Slice(budgets, func(i, j int) bool {
		if budgets[i].PositionID != budgets[j].PositionID {
			return budgets[i].PositionID < budgets[j].PositionID
		}
		return budgets[i].CategoryID < budgets[j].CategoryID
	})
	return budgets, nil
}

func (t *tx) SaveProjectBudget(ctx context.Context, budget *entities.ProjectBudget) error {
	if budget == nil {
		return fmt.Errorf("project budget is required")
	}
	t.s.projectBudgets[pairKey{budget.ProjectID, budget.CategoryID}] = *budget
	return nil
}

func (t *tx) ListProjectBudgets(ctx context.Context, projectID int64) ([]*entities.ProjectBudget, error) {
	var budgets []*entities.ProjectBudget
	for _, b := range t.s.projectBudgets {
		if b.ProjectID != projectID {
			continue
		}
		b := b
		budgets = append(budgets, &b)
	}
	sort.Slice(budgets, func(i, j int) bool { return budgets[i].CategoryID < budgets[j].CategoryID })
	return budgets, nil
}

func (t *tx) SaveHourlyCost(ctx context.Context, cost *entities.HourlyCost) error {
	if cost == nil {
		return fmt.Errorf("hourly cost is required")
	}
	t.s.hourlyCosts = append(t.s.hourlyCosts, *cost)
	return nil
}

func (t *tx) ListHourlyCosts(ctx context.Context, categoryID int64) ([]*entities.HourlyCost, error) {
	var costs []*entities.HourlyCost
	for _, c := range t.s.hourlyCosts {
		if c.CategoryID != categoryID {
			continue
		}
		c := c
		costs = append(costs, &c)
	}
	sort.Slice(costs, func(i, j int) bool { return costs[i].DateFrom.Before(costs[j].DateFrom) })
	return costs, nil
}

func (t *tx) GetSection(ctx context.Context, ref entities.Ref) (*entities.Section, error) {
	s, ok := t.s.sections[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, repositories.ErrNotFound)
	}
	s.LaunchIDs = append([]int64(nil), s.LaunchIDs...)
	s.CategoryIDs = append([]int64(nil), s.CategoryIDs...)
	return &s, nil
}

func (t *tx) SaveSection(ctx context.Context, section *entities.Section) error {
	if section == nil {
		return fmt.Errorf("section is required")
	}
	s := *section
	s.LaunchIDs = append([]int64(nil), section.LaunchIDs...)
	s.CategoryIDs = append([]int64(nil), section.CategoryIDs...)
	t.s.sections[s.Ref()] = s
	return nil
}

func (t *tx) ListExpenseLines(ctx context.Context, section entities.Ref) ([]*entities.ExpenseLine, error) {
	var lines []*entities.ExpenseLine
	for _, l := range t.s.expenseLines {
		if l.Section != section {
			continue
		}
		l := l
		lines = append(lines, &l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines, nil
}

func (t *tx) SaveExpenseLine(ctx context.Context, line *entities.ExpenseLine) error {
	if line == nil {
		return fmt.Errorf("expense line is required")
	}
	if line.ID == 0 {
		line.ID = t.s.nextLineID
	}
	if line.ID >= t.s.nextLineID {
		t.s.nextLineID = line.ID + 1
	}
	t.s.expenseLines[line.ID] = *line
	return nil
}

func (t *tx) SumAvailable(ctx context.Context, filter repositories.AvailableFilter) (map[entities.BudgetKey]decimal.Decimal, error) {
	sums := make(map[entities.BudgetKey]decimal.Decimal)
	wanted := func(consumer entities.Ref) bool {
		return len(filter.Consumers) == 0 || containsRef(filter.Consumers, consumer)
	}
	wantedCategory := func(id int64) bool {
		return len(filter.CategoryIDs) == 0 || containsID(filter.CategoryIDs, id)
	}

	// Launch budgets: affected launch edges carry their phase edge quantity.
	for _, e := range t.s.edges {
		if e.Mode != entities.ModeLaunch || !e.Affected || !e.Active {
			continue
		}
		if (filter.ProjectID != 0 && e.ProjectID != filter.ProjectID) || !wanted(e.Owner) {
			continue
		}
		parent, ok := t.s.edges[e.Consumer.ID]
		if !ok {
			continue
		}
		for _, b := range t.s.positionBudgets {
			if b.PositionID != parent.Consumer.ID || !wantedCategory(b.CategoryID) {
				continue
			}
			key := entities.BudgetKey{ProjectID: e.ProjectID, Consumer: e.Owner, CategoryID: b.CategoryID}
			sums[key] = sums[key].Add(e.Quantity.Mul(b.Amount))
		}
	}

	// Project budgets: flat grants.
	for _, b := range t.s.projectBudgets {
		if filter.ProjectID != 0 && b.ProjectID != filter.ProjectID {
			continue
		}
		project := entities.Ref{Kind: entities.KindProject, ID: b.ProjectID}
		if !wanted(project) || !wantedCategory(b.CategoryID) {
			continue
		}
		key := entities.BudgetKey{ProjectID: b.ProjectID, Consumer: project, CategoryID: b.CategoryID}
		sums[key] = sums[key].Add(b.Amount)
	}
	return sums, nil
}

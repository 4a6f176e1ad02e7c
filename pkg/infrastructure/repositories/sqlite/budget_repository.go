package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

const categoryColumns = `id, name, code, unit, precision_digits, sequence, active`

func scanCategory(row scanner) (*entities.BudgetCategory, error) {
	var c entities.BudgetCategory
	var unit int
	if err := row.Scan(&c.ID, &c.Name, &c.Code, &unit, &c.Precision, &c.Sequence, &c.Active); err != nil {
		return nil, err
	}
	c.Unit = entities.BudgetUnit(unit)
	return &c, nil
}

func (t *tx) GetCategory(ctx context.Context, id int64) (*entities.BudgetCategory, error) {
	c, err := scanCategory(t.tx.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("category %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("get category %d: %w", id, err)
	}
	return c, nil
}

func (t *tx) ListCategories(ctx context.Context) ([]*entities.BudgetCategory, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+categoryColumns+` FROM categories ORDER BY sequence, id`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var categories []*entities.BudgetCategory
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (t *tx) SaveCategory(ctx context.Context, category *entities.BudgetCategory) error {
	if category == nil {
		return fmt.Errorf("category is required")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO categories (`+categoryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   code = excluded.code,
		   unit = excluded.unit,
		   precision_digits = excluded.precision_digits,
		   sequence = excluded.sequence,
		   active = excluded.active`,
		category.ID, category.Name, category.Code, int(category.Unit), category.Precision,
		category.Sequence, category.Active,
	)
	if err != nil {
		return fmt.Errorf("save category %d: %w", category.ID, err)
	}
	return nil
}

func (t *tx) SavePositionBudget(ctx context.Context, budget *entities.PositionBudget) error {
	if budget == nil {
		return fmt.Errorf("position budget is required")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO position_budgets (position_id, category_id, amount) VALUES (?, ?, ?)
		 ON CONFLICT (position_id, category_id) DO UPDATE SET amount = excluded.amount`,
		budget.PositionID, budget.CategoryID, toFixed(budget.Amount))
	if err != nil {
		return fmt.Errorf("save budget of position %d: %w", budget.PositionID, err)
	}
	return nil
}

func (t *tx) ListPositionBudgets(ctx context.Context, positionIDs []int64) ([]*entities.PositionBudget, error) {
	w := &where{}
	w.ids("position_id", positionIDs)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT position_id, category_id, amount FROM position_budgets`+w.String()+
			` ORDER BY position_id, category_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list position budgets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var budgets []*entities.PositionBudget
	for rows.Next() {
		var b entities.PositionBudget
		var amount int64
		if err := rows.Scan(&b.PositionID, &b.CategoryID, &amount); err != nil {
			return nil, fmt.Errorf("scan position budget: %w", err)
		}
		b.Amount = fromFixed(amount)
		budgets = append(budgets, &b)
	}
	return budgets, rows.Err()
}

func (t *tx) SaveProjectBudget(ctx context.Context, budget *entities.ProjectBudget) error {
	if budget == nil {
		return fmt.Errorf("project budget is required")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO project_budgets (project_id, category_id, amount) VALUES (?, ?, ?)
		 ON CONFLICT (project_id, category_id) DO UPDATE SET amount = excluded.amount`,
		budget.ProjectID, budget.CategoryID, toFixed(budget.Amount))
	if err != nil {
		return fmt.Errorf("save budget of project %d: %w", budget.ProjectID, err)
	}
	return nil
}

func (t *tx) ListProjectBudgets(ctx context.Context, projectID int64) ([]*entities.ProjectBudget, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT project_id, category_id, amount FROM project_budgets WHERE project_id = ? ORDER BY category_id`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("list budgets of project %d: %w", projectID, err)
	}
	defer func() { _ = rows.Close() }()

	var budgets []*entities.ProjectBudget
	for rows.Next() {
		var b entities.ProjectBudget
		var amount int64
		if err := rows.Scan(&b.ProjectID, &b.CategoryID, &amount); err != nil {
			return nil, fmt.Errorf("scan project budget: %w", err)
		}
		b.Amount = fromFixed(amount)
		budgets = append(budgets, &b)
	}
	return budgets, rows.Err()
}

func (t *tx) SaveHourlyCost(ctx context.Context, cost *entities.HourlyCost) error {
	if cost == nil {
		return fmt.Errorf("hourly cost is required")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO hourly_costs (category_id, date_from, date_to, cost) VALUES (?, ?, ?, ?)`,
		cost.CategoryID, formatDate(cost.DateFrom), formatDate(cost.DateTo), toFixed(cost.Cost))
	if err != nil {
		return fmt.Errorf("save hourly cost of category %d: %w", cost.CategoryID, err)
	}
	return nil
}

func (t *tx) ListHourlyCosts(ctx context.Context, categoryID int64) ([]*entities.HourlyCost, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT category_id, date_from, date_to, cost FROM hourly_costs WHERE category_id = ? ORDER BY date_from, id`,
		categoryID)
	if err != nil {
		return nil, fmt.Errorf("list hourly costs of category %d: %w", categoryID, err)
	}
	defer func() { _ = rows.Close() }()

	var costs []*entities.HourlyCost
	for rows.Next() {
		var c entities.HourlyCost
		var from, to string
		var cost int64
		if err := rows.Scan(&c.CategoryID, &from, &to, &cost); err != nil {
			return nil, fmt.Errorf("scan hourly cost: %w", err)
		}
		if c.DateFrom, err = parseDate(from); err != nil {
			return nil, fmt.Errorf("hourly cost of category %d: %w", categoryID, err)
		}
		if c.DateTo, err = parseDate(to); err != nil {
			return nil, fmt.Errorf("hourly cost of category %d: %w", categoryID, err)
		}
		c.Cost = fromFixed(cost)
		costs = append(costs, &c)
	}
	return costs, rows.Err()
}

func (t *tx) GetSection(ctx context.Context, ref entities.Ref) (*entities.Section, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT kind, id, project_id, name, sequence, active, state, auto_distribute
		 FROM sections WHERE kind = ? AND id = ?`, int(ref.Kind), ref.ID)
	var s entities.Section
	var kind, state int
	if err := row.Scan(&kind, &s.ID, &s.ProjectID, &s.Name, &s.Sequence, &s.Active, &state, &s.AutoDistribute); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", ref, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	s.Kind = entities.Kind(kind)
	s.State = entities.SectionState(state)

	var err error
	if s.LaunchIDs, err = t.sectionIDs(ctx, "section_launches", "launch_id", ref); err != nil {
		return nil, err
	}
	if s.CategoryIDs, err = t.sectionIDs(ctx, "section_categories", "category_id", ref); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *tx) sectionIDs(ctx context.Context, table, column string, ref entities.Ref) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE section_kind = ? AND section_id = ? ORDER BY %s`, column, table, column),
		int(ref.Kind), ref.ID)
	if err != nil {
		return nil, fmt.Errorf("list %s of %s: %w", table, ref, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *tx) SaveSection(ctx context.Context, section *entities.Section) error {
	if section == nil {
		return fmt.Errorf("section is required")
	}
	ref := section.Ref()
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO sections (kind, id, project_id, name, sequence, active, state, auto_distribute)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET
		   project_id = excluded.project_id,
		   name = excluded.name,
		   sequence = excluded.sequence,
		   active = excluded.active,
		   state = excluded.state,
		   auto_distribute = excluded.auto_distribute`,
		int(section.Kind), section.ID, section.ProjectID, section.Name, section.Sequence,
		section.Active, int(section.State), section.AutoDistribute,
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", ref, err)
	}
	if err := t.replaceSectionIDs(ctx, "section_launches", "launch_id", ref, section.LaunchIDs); err != nil {
		return err
	}
	return t.replaceSectionIDs(ctx, "section_categories", "category_id", ref, section.CategoryIDs)
}

func (t *tx) replaceSectionIDs(ctx context.Context, table, column string, ref entities.Ref, ids []int64) error {
	if _, err := t.tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE section_kind = ? AND section_id = ?`, table),
		int(ref.Kind), ref.ID); err != nil {
		return fmt.Errorf("clear %s of %s: %w", table, ref, err)
	}
	for _, id := range ids {
		if _, err := t.tx.ExecContext(ctx,
			fmt.Sprintf(`INSERT OR IGNORE INTO %s (section_kind, section_id, %s) VALUES (?, ?, ?)`, table, column),
			int(ref.Kind), ref.ID, id); err != nil {
			return fmt.Errorf("save %s of %s: %w", table, ref, err)
		}
	}
	return nil
}

func (t *tx) ListExpenseLines(ctx context.Context, section entities.Ref) ([]*entities.ExpenseLine, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, section_kind, section_id, category_id, amount, excluded
		 FROM expense_lines WHERE section_kind = ? AND section_id = ? ORDER BY id`,
		int(section.Kind), section.ID)
	if err != nil {
		return nil, fmt.Errorf("list expense of %s: %w", section, err)
	}
	defer func() { _ = rows.Close() }()

	var lines []*entities.ExpenseLine
	for rows.Next() {
		var l entities.ExpenseLine
		var kind int
		var amount int64
		if err := rows.Scan(&l.ID, &kind, &l.Section.ID, &l.CategoryID, &amount, &l.Excluded); err != nil {
			return nil, fmt.Errorf("scan expense line: %w", err)
		}
		l.Section.Kind = entities.Kind(kind)
		l.Amount = fromFixed(amount)
		lines = append(lines, &l)
	}
	return lines, rows.Err()
}

func (t *tx) SaveExpenseLine(ctx context.Context, line *entities.ExpenseLine) error {
	if line == nil {
		return fmt.Errorf("expense line is required")
	}
	args := []any{int(line.Section.Kind), line.Section.ID, line.CategoryID, toFixed(line.Amount), line.Excluded}
	if line.ID != 0 {
		_, err := t.tx.ExecContext(ctx,
			`INSERT INTO expense_lines (id, section_kind, section_id, category_id, amount, excluded)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   section_kind = excluded.section_kind,
			   section_id = excluded.section_id,
			   category_id = excluded.category_id,
			   amount = excluded.amount,
			   excluded = excluded.excluded`,
			append([]any{line.ID}, args...)...)
		if err != nil {
			return fmt.Errorf("save expense line %d: %w", line.ID, err)
		}
		return nil
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO expense_lines (section_kind, section_id, category_id, amount, excluded) VALUES (?, ?, ?, ?, ?)`,
		args...)
	if err != nil {
		return fmt.Errorf("save expense line of %s: %w", line.Section, err)
	}
	if line.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("save expense line of %s: %w", line.Section, err)
	}
	return nil
}

// SumAvailable joins affected launch edges through their phase edge to the
// unitary budgets of the position. The product of two fixed-point columns
// carries twice the scale.
func (t *tx) SumAvailable(ctx context.Context, filter repositories.AvailableFilter) (map[entities.BudgetKey]decimal.Decimal, error) {
	var launches, projects []entities.Ref
	for _, c := range filter.Consumers {
		switch c.Kind {
		case entities.KindLaunch:
			launches = append(launches, c)
		case entities.KindProject:
			projects = append(projects, c)
		}
	}
	all := len(filter.Consumers) == 0
	sums := make(map[entities.BudgetKey]decimal.Decimal)

	if all || len(launches) > 0 {
		w := &where{}
		w.add("e.mode = ?", int(entities.ModeLaunch))
		w.add("e.affected = 1 AND e.active = 1")
		if filter.ProjectID != 0 {
			w.add("e.project_id = ?", filter.ProjectID)
		}
		w.refs("e.owner_kind", "e.owner_id", launches)
		w.ids("b.category_id", filter.CategoryIDs)
		err := t.collectSums(ctx, sums, 2*fixedScale,
			`SELECT e.project_id, e.owner_kind, e.owner_id, b.category_id, SUM(e.quantity * b.amount)
			 FROM edges e
			 JOIN edges p ON p.id = e.consumer_id
			 JOIN position_budgets b ON b.position_id = p.consumer_id`+w.String()+`
			 GROUP BY e.project_id, e.owner_kind, e.owner_id, b.category_id`, w.args)
		if err != nil {
			return nil, fmt.Errorf("sum launch budgets: %w", err)
		}
	}

	if all || len(projects) > 0 {
		w := &where{}
		if filter.ProjectID != 0 {
			w.add("project_id = ?", filter.ProjectID)
		}
		ids := make([]int64, 0, len(projects))
		for _, p := range projects {
			ids = append(ids, p.ID)
		}
		w.ids("project_id", ids)
		w.ids("category_id", filter.CategoryIDs)
		err := t.collectSums(ctx, sums, fixedScale,
			fmt.Sprintf(`SELECT project_id, %d, project_id, category_id, SUM(amount)
			 FROM project_budgets`+w.String()+`
			 GROUP BY project_id, category_id`, int(entities.KindProject)), w.args)
		if err != nil {
			return nil, fmt.Errorf("sum project budgets: %w", err)
		}
	}
	return sums, nil
}

func (t *tx) collectSums(ctx context.Context, sums map[entities.BudgetKey]decimal.Decimal, scale int32, query string, args []any) error {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key entities.BudgetKey
		var kind int
		var sum int64
		if err := rows.Scan(&key.ProjectID, &kind, &key.Consumer.ID, &key.CategoryID, &sum); err != nil {
			return err
		}
		key.Consumer.Kind = entities.Kind(kind)
		sums[key] = sums[key].Add(decimal.New(sum, -scale))
	}
	return rows.Err()
}

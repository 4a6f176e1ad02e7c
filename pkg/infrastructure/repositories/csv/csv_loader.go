package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// File names read by LoadDir, in load order
const (
	ProjectsFile        = "projects.csv"
	GroupsFile          = "groups.csv"
	PositionsFile       = "positions.csv"
	CategoriesFile      = "categories.csv"
	PositionBudgetsFile = "position_budgets.csv"
	ProjectBudgetsFile  = "project_budgets.csv"
	HourlyCostsFile     = "hourly_costs.csv"
	SectionsFile        = "sections.csv"
	ExpenseLinesFile    = "expense_lines.csv"
)

// Dataset is the master data of one or more projects, ready to be stored
type Dataset struct {
	Projects        []*entities.Project
	Groups          []*entities.Group
	Positions       []*entities.Position
	Categories      []*entities.BudgetCategory
	PositionBudgets []*entities.PositionBudget
	ProjectBudgets  []*entities.ProjectBudget
	HourlyCosts     []*entities.HourlyCost
	Sections        []*entities.Section
	ExpenseLines    []*entities.ExpenseLine
}

// Apply saves every record of the dataset in one transaction
func (d *Dataset) Apply(ctx context.Context, store repositories.Store) error {
	return store.RunInTx(ctx, func(ctx context.Context, tx repositories.Tx) error {
		for _, p := range d.Projects {
			if err := tx.SaveProject(ctx, p); err != nil {
				return err
			}
		}
		for _, g := range d.Groups {
			if err := tx.SaveGroup(ctx, g); err != nil {
				return err
			}
		}
		for _, p := range d.Positions {
			if err := tx.SavePosition(ctx, p); err != nil {
				return err
			}
		}
		for _, c := range d.Categories {
			if err := tx.SaveCategory(ctx, c); err != nil {
				return err
			}
		}
		for _, b := range d.PositionBudgets {
			if err := tx.SavePositionBudget(ctx, b); err != nil {
				return err
			}
		}
		for _, b := range d.ProjectBudgets {
			if err := tx.SaveProjectBudget(ctx, b); err != nil {
				return err
			}
		}
		for _, c := range d.HourlyCosts {
			if err := tx.SaveHourlyCost(ctx, c); err != nil {
				return err
			}
		}
		for _, s := range d.Sections {
			if err := tx.SaveSection(ctx, s); err != nil {
				return err
			}
		}
		for _, l := range d.ExpenseLines {
			if err := tx.SaveExpenseLine(ctx, l); err != nil {
				return err
			}
		}
		return nil
	})
}

// Counts returns the number of records per file name
func (d *Dataset) Counts() map[string]int {
	return map[string]int{
		ProjectsFile:        len(d.Projects),
		GroupsFile:          len(d.Groups),
		PositionsFile:       len(d.Positions),
		CategoriesFile:      len(d.Categories),
		PositionBudgetsFile: len(d.PositionBudgets),
		ProjectBudgetsFile:  len(d.ProjectBudgets),
		HourlyCostsFile:     len(d.HourlyCosts),
		SectionsFile:        len(d.Sections),
		ExpenseLinesFile:    len(d.ExpenseLines),
	}
}

// Loader handles loading master data from CSV files
type Loader struct{}

// NewLoader creates a new CSV loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadDir loads every known file of dir. Missing files are skipped; the
// projects file is required.
func (l *Loader) LoadDir(dir string) (*Dataset, error) {
	d := &Dataset{}
	steps := []struct {
		file     string
		required bool
		load     func(string) error
	}{
		{ProjectsFile, true, func(p string) (err error) { d.Projects, err = l.LoadProjects(p); return }},
		{GroupsFile, false, func(p string) (err error) { d.Groups, err = l.LoadGroups(p); return }},
		{PositionsFile, false, func(p string) (err error) { d.Positions, err = l.LoadPositions(p); return }},
		{CategoriesFile, false, func(p string) (err error) { d.Categories, err = l.LoadCategories(p); return }},
		{PositionBudgetsFile, false, func(p string) (err error) { d.PositionBudgets, err = l.LoadPositionBudgets(p); return }},
		{ProjectBudgetsFile, false, func(p string) (err error) { d.ProjectBudgets, err = l.LoadProjectBudgets(p); return }},
		{HourlyCostsFile, false, func(p string) (err error) { d.HourlyCosts, err = l.LoadHourlyCosts(p); return }},
		{SectionsFile, false, func(p string) (err error) { d.Sections, err = l.LoadSections(p); return }},
		{ExpenseLinesFile, false, func(p string) (err error) { d.ExpenseLines, err = l.LoadExpenseLines(p); return }},
	}
	for _, step := range steps {
		path := filepath.Join(dir, step.file)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !step.required {
			continue
		}
		if err := step.load(path); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// readTable reads a CSV file, checks its header and hands each data row to
// parse with its 1-based line number.
func readTable(filename string, expectedHeader []string, parse func(record []string) error) error {
	name := filepath.Base(filename)
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(records) < 2 {
		return fmt.Errorf("%s must have header and at least one data row", name)
	}
	if !validateHeader(records[0], expectedHeader) {
		return fmt.Errorf("%s header mismatch. Expected: %v, Got: %v", name, expectedHeader, records[0])
	}

	for i, record := range records[1:] {
		if len(record) != len(expectedHeader) {
			return fmt.Errorf("%s row %d: expected %d columns, got %d", name, i+2, len(expectedHeader), len(record))
		}
		if err := parse(record); err != nil {
			return fmt.Errorf("%s row %d: %w", name, i+2, err)
		}
	}
	return nil
}

// LoadProjects loads projects from a CSV file
func (l *Loader) LoadProjects(filename string) ([]*entities.Project, error) {
	var projects []*entities.Project
	err := readTable(filename, []string{"id", "name", "date_start", "date_end"}, func(r []string) error {
		id, err := parseID("id", r[0])
		if err != nil {
			return err
		}
		start, err := parseDate("date_start", r[2])
		if err != nil {
			return err
		}
		end, err := parseDate("date_end", r[3])
		if err != nil {
			return err
		}
		project, err := entities.NewProject(id, r[1], start, end)
		if err != nil {
			return err
		}
		projects = append(projects, project)
		return nil
	})
	return projects, err
}

// LoadGroups loads lots, phases and launches from a CSV file
func (l *Loader) LoadGroups(filename string) ([]*entities.Group, error) {
	var groups []*entities.Group
	header := []string{"kind", "id", "project_id", "name", "sequence", "allow_many_to_many"}
	err := readTable(filename, header, func(r []string) error {
		kind, err := entities.ParseKind(strings.ToLower(r[0]))
		if err != nil {
			return err
		}
		id, err := parseID("id", r[1])
		if err != nil {
			return err
		}
		projectID, err := parseID("project_id", r[2])
		if err != nil {
			return err
		}
		sequence, err := parseInt("sequence", r[4])
		if err != nil {
			return err
		}
		manyToMany, err := parseBool("allow_many_to_many", r[5])
		if err != nil {
			return err
		}
		group, err := entities.NewGroup(kind, id, projectID, r[3], sequence)
		if err != nil {
			return err
		}
		group.AllowManyToMany = manyToMany
		groups = append(groups, group)
		return nil
	})
	return groups, err
}

// LoadPositions loads positions from a CSV file
func (l *Loader) LoadPositions(filename string) ([]*entities.Position, error) {
	var positions []*entities.Position
	header := []string{"id", "project_id", "lot_id", "name", "sequence", "quantity"}
	err := readTable(filename, header, func(r []string) error {
		id, err := parseID("id", r[0])
		if err != nil {
			return err
		}
		projectID, err := parseID("project_id", r[1])
		if err != nil {
			return err
		}
		lotID, err := parseID("lot_id", r[2])
		if err != nil {
			return err
		}
		sequence, err := parseInt("sequence", r[4])
		if err != nil {
			return err
		}
		quantity, err := parseDecimal("quantity", r[5])
		if err != nil {
			return err
		}
		position, err := entities.NewPosition(id, projectID, lotID, r[3], sequence, quantity)
		if err != nil {
			return err
		}
		positions = append(positions, position)
		return nil
	})
	return positions, err
}

// LoadCategories loads budget categories from a CSV file
func (l *Loader) LoadCategories(filename string) ([]*entities.BudgetCategory, error) {
	var categories []*entities.BudgetCategory
	header := []string{"id", "name", "code", "unit", "precision", "sequence"}
	err := readTable(filename, header, func(r []string) error {
		id, err := parseID("id", r[0])
		if err != nil {
			return err
		}
		unit, err := entities.ParseBudgetUnit(strings.ToLower(r[3]))
		if err != nil {
			return err
		}
		category, err := entities.NewBudgetCategory(id, r[1], r[2], unit)
		if err != nil {
			return err
		}
		if r[4] != "" {
			precision, err := parseInt("precision", r[4])
			if err != nil {
				return err
			}
			if precision < 0 {
				return fmt.Errorf("invalid precision: %s", r[4])
			}
			category.Precision = int32(precision)
		}
		if category.Sequence, err = parseInt("sequence", r[5]); err != nil {
			return err
		}
		categories = append(categories, category)
		return nil
	})
	return categories, err
}

// LoadPositionBudgets loads unitary position budgets from a CSV file
func (l *Loader) LoadPositionBudgets(filename string) ([]*entities.PositionBudget, error) {
	var budgets []*entities.PositionBudget
	err := readTable(filename, []string{"position_id", "category_id", "amount"}, func(r []string) error {
		b := &entities.PositionBudget{}
		var err error
		if b.PositionID, err = parseID("position_id", r[0]); err != nil {
			return err
		}
		if b.CategoryID, err = parseID("category_id", r[1]); err != nil {
			return err
		}
		if b.Amount, err = parseDecimal("amount", r[2]); err != nil {
			return err
		}
		budgets = append(budgets, b)
		return nil
	})
	return budgets, err
}

// LoadProjectBudgets loads flat project grants from a CSV file
func (l *Loader) LoadProjectBudgets(filename string) ([]*entities.ProjectBudget, error) {
	var budgets []*entities.ProjectBudget
	err := readTable(filename, []string{"project_id", "category_id", "amount"}, func(r []string) error {
		b := &entities.ProjectBudget{}
		var err error
		if b.ProjectID, err = parseID("project_id", r[0]); err != nil {
			return err
		}
		if b.CategoryID, err = parseID("category_id", r[1]); err != nil {
			return err
		}
		if b.Amount, err = parseDecimal("amount", r[2]); err != nil {
			return err
		}
		budgets = append(budgets, b)
		return nil
	})
	return budgets, err
}

// LoadHourlyCosts loads the hourly cost history from a CSV file. An empty
// date_to leaves the period open.
func (l *Loader) LoadHourlyCosts(filename string) ([]*entities.HourlyCost, error) {
	var costs []*entities.HourlyCost
	err := readTable(filename, []string{"category_id", "date_from", "date_to", "cost"}, func(r []string) error {
		c := &entities.HourlyCost{}
		var err error
		if c.CategoryID, err = parseID("category_id", r[0]); err != nil {
			return err
		}
		if c.DateFrom, err = parseDate("date_from", r[1]); err != nil {
			return err
		}
		if c.DateFrom.IsZero() {
			return fmt.Errorf("date_from is required")
		}
		if c.DateTo, err = parseDate("date_to", r[2]); err != nil {
			return err
		}
		if c.Cost, err = parseDecimal("cost", r[3]); err != nil {
			return err
		}
		costs = append(costs, c)
		return nil
	})
	return costs, err
}

// LoadSections loads budget sections from a CSV file. Launch and category
// ids are separated by semicolons.
func (l *Loader) LoadSections(filename string) ([]*entities.Section, error) {
	var sections []*entities.Section
	header := []string{"kind", "id", "project_id", "name", "state", "launch_ids", "category_ids", "auto_distribute"}
	err := readTable(filename, header, func(r []string) error {
		kind, err := entities.ParseKind(strings.ToLower(r[0]))
		if err != nil {
			return err
		}
		id, err := parseID("id", r[1])
		if err != nil {
			return err
		}
		projectID, err := parseID("project_id", r[2])
		if err != nil {
			return err
		}
		section, err := entities.NewSection(kind, id, projectID, r[3])
		if err != nil {
			return err
		}
		if section.State, err = entities.ParseSectionState(strings.ToLower(r[4])); err != nil {
			return err
		}
		if section.LaunchIDs, err = parseIDList("launch_ids", r[5]); err != nil {
			return err
		}
		if section.CategoryIDs, err = parseIDList("category_ids", r[6]); err != nil {
			return err
		}
		if section.AutoDistribute, err = parseBool("auto_distribute", r[7]); err != nil {
			return err
		}
		sections = append(sections, section)
		return nil
	})
	return sections, err
}

// LoadExpenseLines loads real-expense lines from a CSV file
func (l *Loader) LoadExpenseLines(filename string) ([]*entities.ExpenseLine, error) {
	var lines []*entities.ExpenseLine
	header := []string{"section_kind", "section_id", "category_id", "amount", "excluded"}
	err := readTable(filename, header, func(r []string) error {
		kind, err := entities.ParseKind(strings.ToLower(r[0]))
		if err != nil {
			return err
		}
		sectionID, err := parseID("section_id", r[1])
		if err != nil {
			return err
		}
		categoryID, err := parseID("category_id", r[2])
		if err != nil {
			return err
		}
		amount, err := parseDecimal("amount", r[3])
		if err != nil {
			return err
		}
		excluded, err := parseBool("excluded", r[4])
		if err != nil {
			return err
		}
		line, err := entities.NewExpenseLine(0, entities.NewRef(kind, sectionID), categoryID, amount, excluded)
		if err != nil {
			return err
		}
		lines = append(lines, line)
		return nil
	})
	return lines, err
}

// Helper functions for parsing CSV records

func validateHeader(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}

	for i, col := range expected {
		if strings.ToLower(strings.TrimSpace(actual[i])) != col {
			return false
		}
	}

	return true
}

func parseID(field, s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %s", field, s)
	}
	return id, nil
}

func parseIDList(field, s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ";") {
		id, err := parseID(field, part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseInt(field, s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", field, s)
	}
	return v, nil
}

func parseBool(field, s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "no", "0":
		return false, nil
	case "true", "yes", "1":
		return true, nil
	default:
		return false, fmt.Errorf("invalid %s: %s (expected true or false)", field, s)
	}
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s: %s", field, s)
	}
	return d, nil
}

func parseDate(field, s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s format: %s (expected YYYY-MM-DD)", field, s)
	}
	return t, nil
}

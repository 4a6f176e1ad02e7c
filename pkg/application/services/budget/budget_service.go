// Package budget exposes the reservation side of a section document: what
// each selected launch or project may still spend, what the section reserved
// against its real expense, and the resulting gain or loss.
package budget

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/aggregator"
	"github.com/vsinha/affect/pkg/application/services/distribution"
	"github.com/vsinha/affect/pkg/application/services/hierarchy"
	"github.com/vsinha/affect/pkg/application/services/ledger"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// Config holds the settings of the budget service
type Config struct {
	Logger logrus.FieldLogger
	// Precision applies to categories that do not set their own
	Precision int32
}

// DefaultConfig returns the default budget configuration
func DefaultConfig() Config {
	return Config{
		Logger:    logrus.StandardLogger(),
		Precision: entities.DefaultPrecision,
	}
}

// CategoryBalance is the budget position of a section in one category
type CategoryBalance struct {
	Category  *entities.BudgetCategory
	Available decimal.Decimal
	Reserved  decimal.Decimal
	Remaining decimal.Decimal
	Expense   decimal.Decimal
	Gain      decimal.Decimal
	// ValuedGain is Gain in currency; hours categories use the hourly cost
	ValuedGain decimal.Decimal
}

// Summary is the budget position of a section across its categories
type Summary struct {
	Section       *entities.Section
	Categories    []CategoryBalance
	TotalReserved decimal.Decimal
	TotalExpense  decimal.Decimal
	Gain          decimal.Decimal
	ValuedGain    decimal.Decimal
}

// Category returns the balance of one category, zero when absent
func (s *Summary) Category(categoryID int64) CategoryBalance {
	for _, c := range s.Categories {
		if c.Category.ID == categoryID {
			return c
		}
	}
	return CategoryBalance{}
}

// PopulateResult reports what Populate changed
type PopulateResult struct {
	Section     entities.Ref
	Created     int
	Removed     int
	Distributed *distribution.Result
}

// Service reads and writes the reservations of sections
type Service struct {
	ledger    *ledger.Ledger
	log       logrus.FieldLogger
	precision int32
}

// NewService creates a budget service
func NewService(l *ledger.Ledger, config Config) *Service {
	if config.Logger == nil {
		config.Logger = l.Logger()
	}
	if config.Precision <= 0 {
		config.Precision = entities.DefaultPrecision
	}
	return &Service{ledger: l, log: config.Logger, precision: config.Precision}
}

// ReservationEdges returns the reservation rows of a section
func (s *Service) ReservationEdges(ctx context.Context, section entities.Ref) ([]*entities.AllocationEdge, error) {
	var edges []*entities.AllocationEdge
	err := s.ledger.View(ctx, func(ctx context.Context, w *ledger.Writer) error {
		var err error
		edges, err = reservationEdges(ctx, w, section)
		return err
	})
	return edges, err
}

// Summary computes the budget position of a section
func (s *Service) Summary(ctx context.Context, section entities.Ref) (*Summary, error) {
	var summary *Summary
	err := s.ledger.View(ctx, func(ctx context.Context, w *ledger.Writer) error {
		var err error
		summary, err = s.summarize(ctx, w, section, nil)
		return err
	})
	return summary, err
}

// AvailableBudget returns the budget granted to the consumers of a section in a category
func (s *Service) AvailableBudget(ctx context.Context, section entities.Ref, categoryID int64) (decimal.Decimal, error) {
	balance, err := s.categoryBalance(ctx, section, categoryID)
	return balance.Available, err
}

// RemainingBudget returns available - reserved by others - reserved here for a category
func (s *Service) RemainingBudget(ctx context.Context, section entities.Ref, categoryID int64) (decimal.Decimal, error) {
	balance, err := s.categoryBalance(ctx, section, categoryID)
	return balance.Remaining, err
}

// TotalReserved returns the sum of the section's reservations
func (s *Service) TotalReserved(ctx context.Context, section entities.Ref) (decimal.Decimal, error) {
	summary, err := s.Summary(ctx, section)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.TotalReserved, nil
}

// TotalExpense returns the sum of the section's non-excluded expense lines
func (s *Service) TotalExpense(ctx context.Context, section entities.Ref) (decimal.Decimal, error) {
	summary, err := s.Summary(ctx, section)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.TotalExpense, nil
}

// Gain returns reserved - expense; a negative gain is a loss
func (s *Service) Gain(ctx context.Context, section entities.Ref) (decimal.Decimal, error) {
	summary, err := s.Summary(ctx, section)
	if err != nil {
		return decimal.Zero, err
	}
	return summary.Gain, nil
}

func (s *Service) categoryBalance(ctx context.Context, section entities.Ref, categoryID int64) (CategoryBalance, error) {
	var balance CategoryBalance
	err := s.ledger.View(ctx, func(ctx context.Context, w *ledger.Writer) error {
		summary, err := s.summarize(ctx, w, section, []int64{categoryID})
		if err != nil {
			return err
		}
		balance = summary.Category(categoryID)
		return nil
	})
	return balance, err
}

// WriteReservation sets the amount a section reserves on a consumer's
// budget, provisioning the row when needed.
func (s *Service) WriteReservation(ctx context.Context, section entities.Ref, categoryID int64, consumer entities.Ref, amount decimal.Decimal) (*entities.AllocationEdge, error) {
	var edge *entities.AllocationEdge
	err := s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		sec, err := w.Tx().GetSection(ctx, section)
		if err != nil {
			return fmt.Errorf("load %s: %w", section, err)
		}
		row, _, err := w.Ensure(ctx, ledger.EdgeSpec{
			Mode:      entities.ModeReservation,
			ProjectID: sec.ProjectID,
			Owner:     entities.NewRef(entities.KindCategory, categoryID),
			Consumer:  consumer,
			Section:   section,
		})
		if err != nil {
			return err
		}
		edge, err = w.WriteQuantity(ctx, row.ID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	return edge, nil
}

// RemoveReservation deletes a reservation row that holds nothing.
// A row still reserving an amount is protected.
func (s *Service) RemoveReservation(ctx context.Context, edgeID int64) error {
	return s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		edge, err := w.Load(ctx, edgeID)
		if err != nil {
			return err
		}
		if edge.Mode != entities.ModeReservation {
			return domainerr.Newf(domainerr.CodeInvalidArgument, "%s is not a reservation", edge)
		}
		if edge.Quantity.IsPositive() {
			return protectedReservation(edge, "write it to zero first")
		}
		return w.Delete(ctx, edge.ID)
	})
}

// Populate provisions the possible reservations of a section, drops the rows
// it no longer selects and, for auto-distributed or balance sections, spreads
// the expense over the remaining budget. Everything is validated once at the
// end and rolled back on any violation.
func (s *Service) Populate(ctx context.Context, section entities.Ref) (*PopulateResult, error) {
	var result *PopulateResult
	err := s.ledger.Bulk(ctx, func(ctx context.Context, w *ledger.Writer) error {
		var err error
		result, err = s.populate(ctx, w, section)
		return err
	})
	if err != nil {
		return nil, err
	}
	fields := logrus.Fields{
		"section": section.String(),
		"created": result.Created,
		"removed": result.Removed,
	}
	if result.Distributed != nil {
		fields["reserved"] = result.Distributed.TotalReserved().String()
		fields["gain"] = result.Distributed.TotalGain().String()
	}
	s.log.WithFields(fields).Info("populated reservations")
	return result, nil
}

// SelectLaunches changes the launches a section consumes and repopulates it
func (s *Service) SelectLaunches(ctx context.Context, section entities.Ref, launchIDs []int64) (*PopulateResult, error) {
	var result *PopulateResult
	err := s.ledger.Bulk(ctx, func(ctx context.Context, w *ledger.Writer) error {
		sec, err := w.Tx().GetSection(ctx, section)
		if err != nil {
			return fmt.Errorf("load %s: %w", section, err)
		}
		for _, id := range launchIDs {
			launch, err := w.Tx().GetGroup(ctx, entities.NewRef(entities.KindLaunch, id))
			if err != nil {
				return fmt.Errorf("load launch %d: %w", id, err)
			}
			if launch.ProjectID != sec.ProjectID {
				return domainerr.Newf(domainerr.CodeInvalidArgument,
					"launch %d belongs to project %d, not %d", id, launch.ProjectID, sec.ProjectID)
			}
		}
		sec.LaunchIDs = append([]int64(nil), launchIDs...)
		if err := w.Tx().SaveSection(ctx, sec); err != nil {
			return fmt.Errorf("save %s: %w", section, err)
		}
		result, err = s.populate(ctx, w, section)
		return err
	})
	return result, err
}

// SetSectionState moves a section through its lifecycle. Cancelling
// deactivates its reservations so their budget is released; any other state
// reactivates them, which is refused when the budget was spent meanwhile.
func (s *Service) SetSectionState(ctx context.Context, section entities.Ref, state entities.SectionState) (int, error) {
	updated := 0
	err := s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		sec, err := w.Tx().GetSection(ctx, section)
		if err != nil {
			return fmt.Errorf("load %s: %w", section, err)
		}
		if sec.State == state {
			return nil
		}
		sec.State = state
		if err := w.Tx().SaveSection(ctx, sec); err != nil {
			return fmt.Errorf("save %s: %w", section, err)
		}
		updated, err = hierarchy.RefreshReferencing(ctx, w, section)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{
		"section": section.String(),
		"state":   state.String(),
		"edges":   updated,
	}).Info("changed section state")
	return updated, nil
}

func (s *Service) populate(ctx context.Context, w *ledger.Writer, ref entities.Ref) (*PopulateResult, error) {
	section, err := w.Tx().GetSection(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	if !section.IsLive() {
		return nil, domainerr.Newf(domainerr.CodeInvalidTransition, "%s is %s and cannot reserve budget", ref, section.State)
	}
	result := &PopulateResult{Section: ref}
	auto := section.AutoDistribute || section.IsBalance()

	expense, err := sectionExpense(ctx, w, ref)
	if err != nil {
		return nil, err
	}
	categoryIDs, err := selectedCategories(ctx, w, section, expense)
	if err != nil {
		return nil, err
	}
	selected := make(map[int64]bool, len(categoryIDs))
	for _, id := range categoryIDs {
		selected[id] = true
	}
	consumers := section.Consumers()
	consuming := make(map[entities.Ref]bool, len(consumers))
	for _, c := range consumers {
		consuming[c] = true
	}

	strategy, err := w.StrategyForOwner(entities.KindCategory)
	if err != nil {
		return nil, err
	}
	for _, id := range categoryIDs {
		created, err := strategy.Provision(ctx, w, entities.NewRef(entities.KindCategory, id), ref)
		if err != nil {
			return nil, err
		}
		result.Created += len(created)
	}

	edges, err := reservationEdges(ctx, w, ref)
	if err != nil {
		return nil, err
	}
	available, err := w.Aggregator().Available(ctx, aggregator.Scope{
		ProjectID: section.ProjectID,
		Consumers: edgeConsumers(edges),
	})
	if err != nil {
		return nil, err
	}

	var kept []*entities.AllocationEdge
	for _, edge := range edges {
		key := entities.BudgetKey{ProjectID: edge.ProjectID, Consumer: edge.Consumer, CategoryID: edge.Owner.ID}
		deselected := !selected[edge.Owner.ID] || !consuming[edge.Consumer]
		ghost := edge.Quantity.IsZero() && available.Get(key).IsZero()
		switch {
		case ghost:
			w.Logger().WithFields(logrus.Fields{"section": ref.String(), "edge": edge.ID}).
				Debug("removing reservation without budget")
		case !deselected:
			kept = append(kept, edge)
			continue
		case edge.Quantity.IsPositive() && !auto:
			return nil, protectedReservation(edge, "section no longer selects it")
		case edge.Quantity.IsPositive():
			if _, err := w.WriteQuantity(ctx, edge.ID, decimal.Zero); err != nil {
				return nil, err
			}
		}
		if err := w.Delete(ctx, edge.ID); err != nil {
			return nil, err
		}
		result.Removed++
	}

	if !auto || len(kept) == 0 {
		return result, nil
	}
	result.Distributed, err = s.distribute(ctx, w, section, kept, expense)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// distribute computes and writes the amounts of the kept rows
func (s *Service) distribute(ctx context.Context, w *ledger.Writer, section *entities.Section, rows []*entities.AllocationEdge, expense map[int64]decimal.Decimal) (*distribution.Result, error) {
	input := distribution.Input{
		Mode:      distribution.ModeExpense,
		Expense:   expense,
		Remaining: make(map[entities.BudgetKey]decimal.Decimal),
		Precision: make(map[int64]int32),
	}
	if section.IsBalance() {
		input.Mode = distribution.ModeBalance
	}

	var categoryIDs []int64
	for _, edge := range rows {
		if _, ok := input.Precision[edge.Owner.ID]; !ok {
			category, err := w.Tx().GetCategory(ctx, edge.Owner.ID)
			if err != nil {
				return nil, fmt.Errorf("load category %d: %w", edge.Owner.ID, err)
			}
			input.Precision[category.ID] = s.precisionOf(category)
			categoryIDs = append(categoryIDs, category.ID)
		}
		input.Rows = append(input.Rows, distribution.Row{
			EdgeID:   edge.ID,
			Key:      entities.BudgetKey{ProjectID: edge.ProjectID, Consumer: edge.Consumer, CategoryID: edge.Owner.ID},
			Sequence: edge.SequenceConsumer,
		})
	}

	remaining, err := w.Aggregator().Remaining(ctx, aggregator.Scope{
		ProjectID:   section.ProjectID,
		Consumers:   edgeConsumers(rows),
		CategoryIDs: categoryIDs,
	}, section.Ref())
	if err != nil {
		return nil, err
	}
	for key, r := range remaining {
		// the section's own rows are being rewritten
		input.Remaining[key] = r.Available.Sub(r.ReservedByOthers)
	}

	result := distribution.Distribute(input)
	for _, a := range result.Allocations {
		if _, err := w.WriteQuantity(ctx, a.Row.EdgeID, a.Amount); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Service) summarize(ctx context.Context, w *ledger.Writer, ref entities.Ref, extra []int64) (*Summary, error) {
	section, err := w.Tx().GetSection(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", ref, err)
	}
	edges, err := reservationEdges(ctx, w, ref)
	if err != nil {
		return nil, err
	}
	expense, err := sectionExpense(ctx, w, ref)
	if err != nil {
		return nil, err
	}

	ids := make(map[int64]bool)
	for _, id := range section.CategoryIDs {
		ids[id] = true
	}
	for _, id := range extra {
		ids[id] = true
	}
	for id := range expense {
		ids[id] = true
	}
	reserved := make(map[int64]decimal.Decimal)
	for _, e := range edges {
		ids[e.Owner.ID] = true
		reserved[e.Owner.ID] = reserved[e.Owner.ID].Add(e.Quantity)
	}
	categoryIDs := make([]int64, 0, len(ids))
	for id := range ids {
		categoryIDs = append(categoryIDs, id)
	}
	sort.Slice(categoryIDs, func(i, j int) bool { return categoryIDs[i] < categoryIDs[j] })

	consumers := section.Consumers()
	for _, c := range edgeConsumers(edges) {
		if !containsRef(consumers, c) {
			consumers = append(consumers, c)
		}
	}
	remaining, err := w.Aggregator().Remaining(ctx, aggregator.Scope{
		ProjectID:   section.ProjectID,
		Consumers:   consumers,
		CategoryIDs: categoryIDs,
	}, ref)
	if err != nil {
		return nil, err
	}

	project, err := w.Tx().GetProject(ctx, section.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", section.ProjectID, err)
	}

	summary := &Summary{Section: section}
	for _, id := range categoryIDs {
		category, err := w.Tx().GetCategory(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load category %d: %w", id, err)
		}
		balance := CategoryBalance{
			Category: category,
			Reserved: reserved[id],
			Expense:  expense[id],
		}
		for key, r := range remaining {
			if key.CategoryID != id {
				continue
			}
			balance.Available = balance.Available.Add(r.Available)
			balance.Remaining = balance.Remaining.Add(r.Remaining)
		}
		balance.Gain = balance.Reserved.Sub(balance.Expense)
		coefficient := decimal.Zero
		if category.Unit == entities.UnitHours {
			costs, err := w.Tx().ListHourlyCosts(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("list hourly costs of category %d: %w", id, err)
			}
			coefficient = HourlyCoefficient(project, costs)
		}
		balance.ValuedGain = Value(category, balance.Gain, coefficient)

		summary.Categories = append(summary.Categories, balance)
		summary.TotalReserved = summary.TotalReserved.Add(balance.Reserved)
		summary.TotalExpense = summary.TotalExpense.Add(balance.Expense)
		summary.ValuedGain = summary.ValuedGain.Add(balance.ValuedGain)
	}
	summary.Gain = summary.TotalReserved.Sub(summary.TotalExpense)
	return summary, nil
}

func (s *Service) precisionOf(category *entities.BudgetCategory) int32 {
	precision := s.precision
	if category.Precision > 0 {
		precision = category.Precision
	}
	if precision > entities.MaxScale {
		return entities.MaxScale
	}
	return precision
}

func reservationEdges(ctx context.Context, w *ledger.Writer, section entities.Ref) ([]*entities.AllocationEdge, error) {
	edges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
		Mode:     entities.ModeReservation,
		Sections: []entities.Ref{section},
	})
	if err != nil {
		return nil, fmt.Errorf("list reservations of %s: %w", section, err)
	}
	return edges, nil
}

// sectionExpense sums the non-excluded expense lines of a section per category
func sectionExpense(ctx context.Context, w *ledger.Writer, section entities.Ref) (map[int64]decimal.Decimal, error) {
	lines, err := w.Tx().ListExpenseLines(ctx, section)
	if err != nil {
		return nil, fmt.Errorf("list expense of %s: %w", section, err)
	}
	expense := make(map[int64]decimal.Decimal)
	for _, l := range lines {
		if l.Excluded {
			continue
		}
		expense[l.CategoryID] = expense[l.CategoryID].Add(l.Amount)
	}
	return expense, nil
}

// selectedCategories returns the categories a section reserves in: its own
// selection, else the categories of its expense, else every category for a
// balance section.
func selectedCategories(ctx context.Context, w *ledger.Writer, section *entities.Section, expense map[int64]decimal.Decimal) ([]int64, error) {
	var ids []int64
	switch {
	case len(section.CategoryIDs) > 0:
		ids = append(ids, section.CategoryIDs...)
	case len(expense) > 0:
		for id := range expense {
			ids = append(ids, id)
		}
	case section.IsBalance():
		categories, err := w.Tx().ListCategories(ctx)
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		for _, c := range categories {
			if c.Active {
				ids = append(ids, c.ID)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func edgeConsumers(edges []*entities.AllocationEdge) []entities.Ref {
	var consumers []entities.Ref
	for _, e := range edges {
		if !containsRef(consumers, e.Consumer) {
			consumers = append(consumers, e.Consumer)
		}
	}
	return consumers
}

func containsRef(refs []entities.Ref, ref entities.Ref) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func protectedReservation(edge *entities.AllocationEdge, reason string) error {
	return &domainerr.DependencyProtectionError{
		Edge:        edge.Key(),
		Dependent:   edge.Key(),
		DependentID: edge.ID,
		Reason:      fmt.Sprintf("%s reserves %s, %s", edge.Consumer, edge.Quantity, reason),
	}
}

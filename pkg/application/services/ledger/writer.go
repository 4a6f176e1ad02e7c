package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/aggregator"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
	"github.com/vsinha/affect/pkg/infrastructure/events"
)

// EdgeSpec describes an edge to provision
type EdgeSpec struct {
	Mode      entities.Mode
	ProjectID int64
	Owner     entities.Ref
	Consumer  entities.Ref
	Section   entities.Ref
}

// Key returns the unique identity of the described edge
func (s EdgeSpec) Key() entities.EdgeKey {
	return entities.EdgeKey{Owner: s.Owner, Consumer: s.Consumer, Section: s.Section}
}

// touchedScope remembers which invariant scopes were written, and by which edge
type touchedScope struct {
	positions map[int64]int64
	claims    map[entities.Ref]int64
	budgets   map[entities.BudgetKey]int64
	// launches whose granted budget may have shrunk, with their project
	launches map[entities.Ref]int64
}

func newTouchedScope() *touchedScope {
	return &touchedScope{
		positions: make(map[int64]int64),
		claims:    make(map[entities.Ref]int64),
		budgets:   make(map[entities.BudgetKey]int64),
		launches:  make(map[entities.Ref]int64),
	}
}

func (s *touchedScope) empty() bool {
	return len(s.positions) == 0 && len(s.claims) == 0 && len(s.budgets) == 0 && len(s.launches) == 0
}

// Writer applies edge operations inside one transaction. Obtain one through
// Ledger.Run, Ledger.Bulk or Ledger.View.
type Writer struct {
	ledger   *Ledger
	tx       repositories.Tx
	agg      *aggregator.Aggregator
	deferred bool
	scope    *touchedScope
	pending  []events.Event
}

func newWriter(l *Ledger, tx repositories.Tx, deferred bool) *Writer {
	return &Writer{
		ledger:   l,
		tx:       tx,
		agg:      aggregator.New(tx),
		deferred: deferred,
		scope:    newTouchedScope(),
	}
}

// Tx returns the transaction the writer works in
func (w *Writer) Tx() repositories.Tx { return w.tx }

// Aggregator returns an aggregator reading the writer's pending state
func (w *Writer) Aggregator() *aggregator.Aggregator { return w.agg }

// Logger returns the ledger logger
func (w *Writer) Logger() logrus.FieldLogger { return w.ledger.log }

// StrategyForOwner returns the strategy of the edges owned by kind
func (w *Writer) StrategyForOwner(kind entities.Kind) (Strategy, error) {
	return w.ledger.StrategyForOwner(kind)
}

// Deferred reports whether invariant checks wait for the end of the transaction
func (w *Writer) Deferred() bool { return w.deferred }

// Load returns a live edge. A missing edge is reported as retracted.
func (w *Writer) Load(ctx context.Context, id int64) (*entities.AllocationEdge, error) {
	edge, err := w.tx.GetEdge(ctx, id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, domainerr.Wrap(domainerr.CodeInvalidTransition,
				fmt.Sprintf("edge %d is retracted", id), err)
		}
		return nil, fmt.Errorf("load edge %d: %w", id, err)
	}
	return edge, nil
}

// Ensure returns the edge described by spec, provisioning it with a zero
// quantity when it does not exist yet. The boolean reports a creation.
func (w *Writer) Ensure(ctx context.Context, spec EdgeSpec) (*entities.AllocationEdge, bool, error) {
	existing, err := w.tx.FindEdge(ctx, spec.Mode, spec.Key())
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return nil, false, fmt.Errorf("find edge %s: %w", spec.Key(), err)
	}

	strategy, err := w.ledger.Strategy(spec.Mode)
	if err != nil {
		return nil, false, err
	}
	edge, err := entities.NewAllocationEdge(spec.Mode, spec.ProjectID, spec.Owner, spec.Consumer, spec.Section)
	if err != nil {
		return nil, false, domainerr.Wrap(domainerr.CodeInvalidArgument, "invalid edge", err)
	}
	if err := strategy.Prepare(ctx, w, edge); err != nil {
		return nil, false, err
	}
	if err := w.decorate(ctx, edge); err != nil {
		return nil, false, err
	}
	if err := w.tx.InsertEdge(ctx, edge); err != nil {
		return nil, false, fmt.Errorf("insert %s: %w", edge, err)
	}
	w.emit(events.EdgeCreatedEvent, edge, events.EdgeCreated{Edge: *edge})
	return edge, true, nil
}

// WriteQuantity sets the quantity of a quantitative edge and propagates it to
// dependents. The scope is validated unless the writer is deferred.
func (w *Writer) WriteQuantity(ctx context.Context, id int64, quantity decimal.Decimal) (*entities.AllocationEdge, error) {
	edge, err := w.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !edge.Mode.Quantitative() {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument,
			"%s is binary: toggle affected instead of writing a quantity", edge)
	}
	if quantity.IsNegative() {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument,
			"quantity of %s cannot be negative, got %s", edge, quantity)
	}
	if !entities.FitsScale(quantity) {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument,
			"quantity of %s has more than %d decimals, got %s", edge, entities.MaxScale, quantity)
	}
	if edge.Quantity.Equal(quantity) {
		return edge, nil
	}

	before := edge.Clone()
	edge.Quantity = quantity
	if err := w.tx.UpdateEdge(ctx, edge); err != nil {
		return nil, fmt.Errorf("update %s: %w", edge, err)
	}
	w.touch(edge)
	w.emit(events.EdgeUpdatedEvent, edge, events.EdgeUpdated{
		Edge: *edge, OldQuantity: before.Quantity, OldAffected: before.Affected,
	})

	strategy, err := w.ledger.Strategy(edge.Mode)
	if err != nil {
		return nil, err
	}
	if err := strategy.AfterWrite(ctx, w, before, edge); err != nil {
		return nil, err
	}
	if err := w.validateNow(ctx); err != nil {
		return nil, err
	}
	return edge, nil
}

// ToggleAffected claims or releases a binary edge
func (w *Writer) ToggleAffected(ctx context.Context, id int64, value bool) (*entities.AllocationEdge, error) {
	edge, err := w.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if edge.Mode.Quantitative() {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument,
			"%s is quantitative: write a quantity instead of toggling", edge)
	}
	if edge.Affected == value {
		return edge, nil
	}
	if value && !w.deferred {
		sibling, err := w.ClaimingSibling(ctx, edge)
		if err != nil {
			return nil, err
		}
		if sibling != nil {
			return nil, exclusivityError(edge, sibling)
		}
	}

	before := edge.Clone()
	edge.Affected = value
	if err := w.tx.UpdateEdge(ctx, edge); err != nil {
		if errors.Is(err, repositories.ErrAlreadyExists) {
			// the store's claim index caught a concurrent or deferred double claim
			if sibling, lookupErr := w.ClaimingSibling(ctx, edge); lookupErr == nil && sibling != nil {
				return nil, exclusivityError(edge, sibling)
			}
		}
		return nil, fmt.Errorf("update %s: %w", edge, err)
	}
	w.touch(edge)
	w.emit(events.EdgeUpdatedEvent, edge, events.EdgeUpdated{
		Edge: *edge, OldQuantity: before.Quantity, OldAffected: before.Affected,
	})
	if err := w.validateNow(ctx); err != nil {
		return nil, err
	}
	return edge, nil
}

// IsAffectable reports whether an edge may still receive an allocation
func (w *Writer) IsAffectable(ctx context.Context, id int64) (bool, error) {
	edge, err := w.Load(ctx, id)
	if err != nil {
		return false, err
	}
	strategy, err := w.ledger.Strategy(edge.Mode)
	if err != nil {
		return false, err
	}
	return strategy.IsAffectable(ctx, w, edge)
}

// Delete retracts an edge after its strategy removed its dependents.
// An affected dependent blocks the whole deletion.
func (w *Writer) Delete(ctx context.Context, id int64) error {
	edge, err := w.Load(ctx, id)
	if err != nil {
		return err
	}
	strategy, err := w.ledger.Strategy(edge.Mode)
	if err != nil {
		return err
	}
	if err := strategy.CascadeDelete(ctx, w, edge); err != nil {
		return err
	}
	if err := w.tx.DeleteEdge(ctx, edge.ID); err != nil {
		return fmt.Errorf("delete %s: %w", edge, err)
	}
	if edge.Mode == entities.ModeLaunch && edge.Affected {
		w.scope.launches[edge.Owner] = edge.ProjectID
	}
	w.emit(events.EdgeDeletedEvent, edge, events.EdgeDeleted{Edge: *edge})
	return nil
}

// Mirror copies a phase edge quantity onto one of its launch edges
func (w *Writer) Mirror(ctx context.Context, child *entities.AllocationEdge, quantity decimal.Decimal) error {
	if child.Quantity.Equal(quantity) {
		return nil
	}
	before := child.Clone()
	child.Quantity = quantity
	if err := w.tx.UpdateEdge(ctx, child); err != nil {
		return fmt.Errorf("mirror quantity on %s: %w", child, err)
	}
	w.touch(child)
	w.emit(events.EdgeUpdatedEvent, child, events.EdgeUpdated{
		Edge: *child, OldQuantity: before.Quantity, OldAffected: before.Affected,
	})
	return nil
}

// Refresh recomputes the sequence and active mirrors of an edge and stores
// them when they changed. It reports whether the edge changed.
func (w *Writer) Refresh(ctx context.Context, id int64) (bool, error) {
	edge, err := w.Load(ctx, id)
	if err != nil {
		return false, err
	}
	before := edge.Clone()
	if err := w.decorate(ctx, edge); err != nil {
		return false, err
	}
	if *before == *edge {
		return false, nil
	}
	if err := w.tx.UpdateEdge(ctx, edge); err != nil {
		return false, fmt.Errorf("update %s: %w", edge, err)
	}
	if edge.Active != before.Active {
		w.touch(edge)
	}
	w.emit(events.EdgeUpdatedEvent, edge, events.EdgeUpdated{
		Edge: *edge, OldQuantity: before.Quantity, OldAffected: before.Affected,
	})
	return true, nil
}

// Remaining returns the remaining quantity of the scope of a quantitative
// edge: the position balance for phase edges, the budget balance for
// reservations.
func (w *Writer) Remaining(ctx context.Context, edge *entities.AllocationEdge) (decimal.Decimal, error) {
	switch edge.Mode {
	case entities.ModePhase:
		balance, err := w.agg.PositionBalance(ctx, edge.Consumer.ID)
		if err != nil {
			return decimal.Zero, err
		}
		return balance.Remaining, nil
	case entities.ModeReservation:
		key := budgetKey(edge)
		remaining, err := w.agg.Remaining(ctx, aggregator.Scope{
			ProjectID:   key.ProjectID,
			Consumers:   []entities.Ref{key.Consumer},
			CategoryIDs: []int64{key.CategoryID},
		}, edge.Section)
		if err != nil {
			return decimal.Zero, err
		}
		return remaining[key].Remaining, nil
	default:
		return decimal.Zero, nil
	}
}

// State derives the lifecycle state of a live edge
func (w *Writer) State(ctx context.Context, edge *entities.AllocationEdge) (entities.EdgeState, error) {
	if !edge.Mode.Quantitative() {
		if edge.Affected {
			return entities.StateFullyAllocated, nil
		}
		return entities.StateProvisioned, nil
	}
	remaining, err := w.Remaining(ctx, edge)
	if err != nil {
		return entities.StateProvisioned, err
	}
	return entities.StateOf(edge.Quantity, remaining), nil
}

// ClaimingSibling returns the exclusive launch edge already claiming the
// consumer of edge, or nil.
func (w *Writer) ClaimingSibling(ctx context.Context, edge *entities.AllocationEdge) (*entities.AllocationEdge, error) {
	if !edge.Exclusive {
		return nil, nil
	}
	siblings, err := w.tx.ListEdges(ctx, repositories.EdgeFilter{
		Mode:         entities.ModeLaunch,
		Consumers:    []entities.Ref{edge.Consumer},
		AffectedOnly: true,
	})
	if err != nil {
		return nil, fmt.Errorf("list siblings of %s: %w", edge, err)
	}
	for _, s := range siblings {
		if s.ID != edge.ID && s.Exclusive {
			return s, nil
		}
	}
	return nil, nil
}

// TouchPosition schedules the overconsumption check of a position
func (w *Writer) TouchPosition(positionID int64) {
	if _, ok := w.scope.positions[positionID]; !ok {
		w.scope.positions[positionID] = 0
	}
}

// decorate sets the sequence, active and project mirrors from the referenced entities
func (w *Writer) decorate(ctx context.Context, edge *entities.AllocationEdge) error {
	registry := w.ledger.registry
	owner, err := registry.Resolve(ctx, w.tx, edge.Owner)
	if err != nil {
		return err
	}
	consumer, err := registry.Resolve(ctx, w.tx, edge.Consumer)
	if err != nil {
		return err
	}
	edge.SequenceOwner = owner.Sequence
	edge.SequenceConsumer = consumer.Sequence
	edge.Active = owner.Active && consumer.Active
	if !edge.Section.IsZero() {
		section, err := registry.Resolve(ctx, w.tx, edge.Section)
		if err != nil {
			return err
		}
		edge.SequenceSection = section.Sequence
		edge.Active = edge.Active && section.Active
	}
	if edge.ProjectID == 0 {
		edge.ProjectID = consumer.ProjectID
	}
	return nil
}

func (w *Writer) touch(edge *entities.AllocationEdge) {
	switch edge.Mode {
	case entities.ModePhase:
		w.scope.positions[edge.Consumer.ID] = edge.ID
	case entities.ModeLaunch:
		if edge.Affected {
			w.scope.claims[edge.Consumer] = edge.ID
		}
		w.scope.launches[edge.Owner] = edge.ProjectID
	case entities.ModeReservation:
		w.scope.budgets[budgetKey(edge)] = edge.ID
	}
}

func (w *Writer) emit(eventType string, edge *entities.AllocationEdge, data interface{}) {
	w.pending = append(w.pending, events.NewEvent(eventType, events.EdgeStream(edge), data))
}

func (w *Writer) validateNow(ctx context.Context) error {
	if w.deferred {
		return nil
	}
	return w.Validate(ctx)
}

func budgetKey(edge *entities.AllocationEdge) entities.BudgetKey {
	return entities.BudgetKey{ProjectID: edge.ProjectID, Consumer: edge.Consumer, CategoryID: edge.Owner.ID}
}

func exclusivityError(edge, sibling *entities.AllocationEdge) error {
	return &domainerr.ExclusivityConflictError{
		Edge:        edge.Key(),
		Conflicting: sibling.Key(),
		ConflictID:  sibling.ID,
	}
}

// Package staging presents allocation edges as a dense owner x consumer grid
// and reconciles edits of that grid back into the ledger in one transaction.
package staging

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/aggregator"
	"github.com/vsinha/affect/pkg/application/services/hierarchy"
	"github.com/vsinha/affect/pkg/application/services/ledger"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// Request selects the grid to project. Empty Owners or Consumers take every
// candidate of the project. Section is required for reservations.
type Request struct {
	Mode      entities.Mode
	ProjectID int64
	Section   entities.Ref
	Owners    []entities.Ref
	Consumers []entities.Ref
}

// Cell is one (owner, consumer) pair of the grid. EdgeID is zero when no edge
// exists yet; the values are then those the edge would have if created now.
type Cell struct {
	Token        uuid.UUID
	Owner        entities.Ref
	Consumer     entities.Ref
	Section      entities.Ref
	OwnerName    string
	ConsumerName string
	EdgeID       int64
	Quantity     decimal.Decimal
	Affected     bool
	Remaining    decimal.Decimal
	Affectable   bool
	State        entities.EdgeState
}

// Exists reports whether the cell is backed by an edge
func (c Cell) Exists() bool { return c.EdgeID != 0 }

// Matrix is a dense projection of the edges of one mode. It lives only as
// long as the caller keeps it.
type Matrix struct {
	ID        uuid.UUID
	Mode      entities.Mode
	ProjectID int64
	Section   entities.Ref
	Owners    []entities.Ref
	Consumers []entities.Ref
	Cells     []Cell
	index     map[uuid.UUID]int
}

// Cell returns the cell of a token
func (m *Matrix) Cell(token uuid.UUID) (Cell, bool) {
	i, ok := m.index[token]
	if !ok {
		return Cell{}, false
	}
	return m.Cells[i], true
}

// At returns the cell of an (owner, consumer) pair
func (m *Matrix) At(owner, consumer entities.Ref) (Cell, bool) {
	for _, c := range m.Cells {
		if c.Owner == owner && c.Consumer == consumer {
			return c, true
		}
	}
	return Cell{}, false
}

func (m *Matrix) add(c Cell) {
	c.Token = uuid.New()
	m.index[c.Token] = len(m.Cells)
	m.Cells = append(m.Cells, c)
}

// Edit is the new value of a cell: Quantity for quantitative modes, Affected
// for the binary mode.
type Edit struct {
	Quantity decimal.Decimal
	Affected bool
}

// Report counts what a reconciliation changed
type Report struct {
	MatrixID  uuid.UUID
	Created   int
	Updated   int
	Deleted   int
	Unchanged int
}

// Changed reports whether anything was written
func (r *Report) Changed() bool {
	return r.Created+r.Updated+r.Deleted > 0
}

// ShortcutResult reports a shortcut affectation
type ShortcutResult struct {
	Link      *hierarchy.LinkResult
	Allocated int
}

// Service projects and reconciles staging matrices
type Service struct {
	ledger *ledger.Ledger
	log    logrus.FieldLogger
}

// NewService creates a staging service
func NewService(l *ledger.Ledger) *Service {
	return &Service{ledger: l, log: l.Logger()}
}

// ProjectToDense builds the full grid of a request, merging existing edges
// over hypothetical zero cells.
func (s *Service) ProjectToDense(ctx context.Context, req Request) (*Matrix, error) {
	var matrix *Matrix
	err := s.ledger.View(ctx, func(ctx context.Context, w *ledger.Writer) error {
		var err error
		switch req.Mode {
		case entities.ModePhase:
			matrix, err = s.projectPhases(ctx, w, req)
		case entities.ModeLaunch:
			matrix, err = s.projectLaunches(ctx, w, req)
		case entities.ModeReservation:
			matrix, err = s.projectReservations(ctx, w, req)
		default:
			err = domainerr.Newf(domainerr.CodeInvalidArgument, "cannot project %s edges", req.Mode)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return matrix, nil
}

func newMatrix(req Request) *Matrix {
	return &Matrix{
		ID:        uuid.New(),
		Mode:      req.Mode,
		ProjectID: req.ProjectID,
		Section:   req.Section,
		index:     make(map[uuid.UUID]int),
	}
}

func (s *Service) projectPhases(ctx context.Context, w *ledger.Writer, req Request) (*Matrix, error) {
	owners, err := s.owners(ctx, w, req, entities.KindPhase)
	if err != nil {
		return nil, err
	}
	positions, err := w.Tx().ListPositions(ctx, repositories.PositionFilter{ProjectID: req.ProjectID})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	ids := make([]int64, 0, len(positions))
	var selected []*entities.Position
	for _, p := range positions {
		if len(req.Consumers) > 0 && !containsRef(req.Consumers, p.Ref()) {
			continue
		}
		ids = append(ids, p.ID)
		selected = append(selected, p)
	}
	balances, err := w.Aggregator().PositionBalances(ctx, ids)
	if err != nil {
		return nil, err
	}

	m := newMatrix(req)
	m.Owners = owners
	for _, p := range selected {
		m.Consumers = append(m.Consumers, p.Ref())
	}
	for _, owner := range owners {
		for _, p := range selected {
			cell := Cell{
				Owner:     owner,
				Consumer:  p.Ref(),
				Section:   p.LotRef(),
				Remaining: balances[p.ID].Remaining,
				State:     entities.StateProvisioned,
			}
			cell.Affectable = !cell.Remaining.IsZero()
			if err := s.merge(ctx, w, &cell); err != nil {
				return nil, err
			}
			m.add(cell)
		}
	}
	return m, nil
}

func (s *Service) projectLaunches(ctx context.Context, w *ledger.Writer, req Request) (*Matrix, error) {
	owners, err := s.owners(ctx, w, req, entities.KindLaunch)
	if err != nil {
		return nil, err
	}
	phaseEdges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
		Mode:      entities.ModePhase,
		ProjectID: req.ProjectID,
	})
	if err != nil {
		return nil, fmt.Errorf("list phase edges: %w", err)
	}
	var parents []*entities.AllocationEdge
	for _, pe := range phaseEdges {
		if pe.Quantity.IsZero() {
			continue
		}
		if len(req.Consumers) > 0 && !containsRef(req.Consumers, pe.Ref()) {
			continue
		}
		parents = append(parents, pe)
	}
	sort.SliceStable(parents, func(i, j int) bool {
		if parents[i].SequenceSection != parents[j].SequenceSection {
			return parents[i].SequenceSection < parents[j].SequenceSection
		}
		return parents[i].SequenceConsumer < parents[j].SequenceConsumer
	})

	m := newMatrix(req)
	m.Owners = owners
	for _, pe := range parents {
		m.Consumers = append(m.Consumers, pe.Ref())
	}
	for _, owner := range owners {
		launch, err := w.Tx().GetGroup(ctx, owner)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", owner, err)
		}
		for _, pe := range parents {
			cell := Cell{
				Owner:     owner,
				Consumer:  pe.Ref(),
				Section:   pe.Owner,
				Quantity:  pe.Quantity,
				Remaining: pe.Quantity,
				State:     entities.StateProvisioned,
			}
			candidate := &entities.AllocationEdge{
				Mode:      entities.ModeLaunch,
				Owner:     owner,
				Consumer:  pe.Ref(),
				Exclusive: !launch.AllowManyToMany,
			}
			sibling, err := w.ClaimingSibling(ctx, candidate)
			if err != nil {
				return nil, err
			}
			cell.Affectable = sibling == nil
			if err := s.merge(ctx, w, &cell); err != nil {
				return nil, err
			}
			m.add(cell)
		}
	}
	return m, nil
}

func (s *Service) projectReservations(ctx context.Context, w *ledger.Writer, req Request) (*Matrix, error) {
	if !req.Section.Kind.IsSection() {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "reservations need a section, got %s", req.Section)
	}
	section, err := w.Tx().GetSection(ctx, req.Section)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", req.Section, err)
	}
	req.ProjectID = section.ProjectID

	owners := req.Owners
	if len(owners) == 0 {
		for _, id := range section.CategoryIDs {
			owners = append(owners, entities.NewRef(entities.KindCategory, id))
		}
	}
	if len(owners) == 0 {
		categories, err := w.Tx().ListCategories(ctx)
		if err != nil {
			return nil, fmt.Errorf("list categories: %w", err)
		}
		for _, c := range categories {
			if c.Active {
				owners = append(owners, c.Ref())
			}
		}
	}
	consumers := req.Consumers
	if len(consumers) == 0 {
		consumers = section.Consumers()
	}

	categoryIDs := make([]int64, 0, len(owners))
	for _, o := range owners {
		if o.Kind != entities.KindCategory {
			return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "reservations are owned by categories, got %s", o)
		}
		categoryIDs = append(categoryIDs, o.ID)
	}
	remaining, err := w.Aggregator().Remaining(ctx, aggregator.Scope{
		ProjectID:   section.ProjectID,
		Consumers:   consumers,
		CategoryIDs: categoryIDs,
	}, req.Section)
	if err != nil {
		return nil, err
	}

	m := newMatrix(req)
	m.Owners = owners
	m.Consumers = consumers
	for _, owner := range owners {
		for _, consumer := range consumers {
			key := entities.BudgetKey{ProjectID: section.ProjectID, Consumer: consumer, CategoryID: owner.ID}
			cell := Cell{
				Owner:     owner,
				Consumer:  consumer,
				Section:   req.Section,
				Remaining: remaining[key].Remaining,
				State:     entities.StateProvisioned,
			}
			cell.Affectable = !cell.Remaining.IsZero()
			if err := s.merge(ctx, w, &cell); err != nil {
				return nil, err
			}
			m.add(cell)
		}
	}
	return m, nil
}

// owners returns the requested owners, or every group of kind in the project
func (s *Service) owners(ctx context.Context, w *ledger.Writer, req Request, kind entities.Kind) ([]entities.Ref, error) {
	if len(req.Owners) > 0 {
		for _, o := range req.Owners {
			if o.Kind != kind {
				return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "%s edges are owned by %s groups, got %s", req.Mode, kind, o)
			}
		}
		return req.Owners, nil
	}
	groups, err := w.Tx().ListGroups(ctx, req.ProjectID, kind)
	if err != nil {
		return nil, fmt.Errorf("list %s groups: %w", kind, err)
	}
	owners := make([]entities.Ref, 0, len(groups))
	for _, g := range groups {
		owners = append(owners, g.Ref())
	}
	return owners, nil
}

// merge overlays the actual edge of a cell, if any, and resolves its labels
func (s *Service) merge(ctx context.Context, w *ledger.Writer, cell *Cell) error {
	registry := s.ledger.Registry()
	if info, err := registry.Resolve(ctx, w.Tx(), cell.Owner); err == nil {
		cell.OwnerName = info.Name
	} else {
		return err
	}
	if info, err := registry.Resolve(ctx, w.Tx(), cell.Consumer); err == nil {
		cell.ConsumerName = info.Name
	} else {
		return err
	}

	mode, err := modeOf(cell.Owner.Kind)
	if err != nil {
		return err
	}
	edge, err := w.Tx().FindEdge(ctx, mode, entities.EdgeKey{Owner: cell.Owner, Consumer: cell.Consumer, Section: cell.Section})
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find edge of %s x %s: %w", cell.Owner, cell.Consumer, err)
	}
	cell.EdgeID = edge.ID
	cell.Quantity = edge.Quantity
	cell.Affected = edge.Affected
	if mode.Quantitative() {
		cell.Remaining, err = w.Remaining(ctx, edge)
		if err != nil {
			return err
		}
	}
	if cell.Affectable, err = w.IsAffectable(ctx, edge.ID); err != nil {
		return err
	}
	cell.State, err = w.State(ctx, edge)
	return err
}

// Reconcile applies edits, keyed by cell token, to the ledger. A cell that
// should exist (quantity > 0 or affected) is created or updated; any other
// edited cell is retracted under the cascade rules. Unedited cells are left
// alone. Every invariant is checked once at the end and any violation rolls
// back the whole reconciliation.
func (s *Service) Reconcile(ctx context.Context, matrix *Matrix, edits map[uuid.UUID]Edit) (*Report, error) {
	if matrix == nil {
		return nil, domainerr.New(domainerr.CodeInvalidArgument, "matrix is required")
	}
	type change struct {
		cell Cell
		edit Edit
	}
	var changes []change
	for token, edit := range edits {
		cell, ok := matrix.Cell(token)
		if !ok {
			return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "token %s does not belong to matrix %s", token, matrix.ID)
		}
		if edit.Quantity.IsNegative() {
			return nil, domainerr.Newf(domainerr.CodeInvalidArgument,
				"quantity of %s x %s cannot be negative, got %s", cell.Owner, cell.Consumer, edit.Quantity)
		}
		changes = append(changes, change{cell: cell, edit: edit})
	}
	// releases first: the store refuses a second claim on a consumer even transiently
	sort.SliceStable(changes, func(i, j int) bool {
		ri, rj := releases(matrix.Mode, changes[i].cell, changes[i].edit), releases(matrix.Mode, changes[j].cell, changes[j].edit)
		if ri != rj {
			return ri
		}
		return matrix.index[changes[i].cell.Token] < matrix.index[changes[j].cell.Token]
	})

	report := &Report{MatrixID: matrix.ID}
	err := s.ledger.Bulk(ctx, func(ctx context.Context, w *ledger.Writer) error {
		for _, c := range changes {
			if err := s.apply(ctx, w, matrix, c.cell, c.edit, report); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"matrix":    matrix.ID.String(),
		"mode":      matrix.Mode.String(),
		"created":   report.Created,
		"updated":   report.Updated,
		"deleted":   report.Deleted,
		"unchanged": report.Unchanged,
	}).Info("reconciled matrix")
	return report, nil
}

func shouldExist(mode entities.Mode, edit Edit) bool {
	if mode.Quantitative() {
		return edit.Quantity.IsPositive()
	}
	return edit.Affected
}

// releases reports whether an edit lowers what its cell holds
func releases(mode entities.Mode, cell Cell, edit Edit) bool {
	if !shouldExist(mode, edit) {
		return true
	}
	return mode.Quantitative() && edit.Quantity.LessThan(cell.Quantity)
}

func (s *Service) apply(ctx context.Context, w *ledger.Writer, matrix *Matrix, cell Cell, edit Edit, report *Report) error {
	key := entities.EdgeKey{Owner: cell.Owner, Consumer: cell.Consumer, Section: cell.Section}
	edge, err := w.Tx().FindEdge(ctx, matrix.Mode, key)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return fmt.Errorf("find edge %s: %w", key, err)
	}
	exists := err == nil

	if !shouldExist(matrix.Mode, edit) {
		if !exists {
			report.Unchanged++
			return nil
		}
		if matrix.Mode.Quantitative() && edge.Quantity.IsPositive() {
			// the zero write cascades to, and is protected by, dependents
			if _, err := w.WriteQuantity(ctx, edge.ID, decimal.Zero); err != nil {
				return err
			}
		}
		if !matrix.Mode.Quantitative() && edge.Affected {
			if _, err := w.ToggleAffected(ctx, edge.ID, false); err != nil {
				return err
			}
		}
		if err := w.Delete(ctx, edge.ID); err != nil {
			return err
		}
		report.Deleted++
		return nil
	}

	if !exists {
		edge, _, err = w.Ensure(ctx, ledger.EdgeSpec{
			Mode:      matrix.Mode,
			ProjectID: matrix.ProjectID,
			Owner:     cell.Owner,
			Consumer:  cell.Consumer,
			Section:   cell.Section,
		})
		if err != nil {
			return err
		}
		report.Created++
	}

	changed := false
	if matrix.Mode.Quantitative() {
		changed = !edge.Quantity.Equal(edit.Quantity)
		if _, err := w.WriteQuantity(ctx, edge.ID, edit.Quantity); err != nil {
			return err
		}
	} else {
		changed = !edge.Affected
		if _, err := w.ToggleAffected(ctx, edge.ID, true); err != nil {
			return err
		}
	}
	switch {
	case !exists:
	case changed:
		report.Updated++
	default:
		report.Unchanged++
	}
	return nil
}

// Shortcut links an owner to parent groups and allocates everything it can
// in them: a phase takes the whole remaining quantity of each position, a
// launch claims every phase edge nobody else holds. It runs in one
// transaction.
func (s *Service) Shortcut(ctx context.Context, owner entities.Ref, parents []entities.Ref) (*ShortcutResult, error) {
	result := &ShortcutResult{}
	err := s.ledger.Bulk(ctx, func(ctx context.Context, w *ledger.Writer) error {
		current, err := hierarchy.LinkedParents(ctx, w, owner)
		if err != nil {
			return err
		}
		all := append([]entities.Ref(nil), current...)
		for _, p := range parents {
			if !containsRef(all, p) {
				all = append(all, p)
			}
		}
		result.Link, err = hierarchy.LinkParents(ctx, w, owner, all)
		if err != nil {
			return err
		}

		strategy, err := w.StrategyForOwner(owner.Kind)
		if err != nil {
			return err
		}
		edges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
			Mode:     strategy.Mode(),
			Owners:   []entities.Ref{owner},
			Sections: parents,
		})
		if err != nil {
			return fmt.Errorf("list edges of %s: %w", owner, err)
		}
		for _, edge := range edges {
			allocated, err := s.allocate(ctx, w, edge)
			if err != nil {
				return err
			}
			if allocated {
				result.Allocated++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"owner":     owner.String(),
		"parents":   len(parents),
		"allocated": result.Allocated,
	}).Info("shortcut affectation")
	return result, nil
}

func (s *Service) allocate(ctx context.Context, w *ledger.Writer, edge *entities.AllocationEdge) (bool, error) {
	if !edge.Mode.Quantitative() {
		if edge.Affected {
			return false, nil
		}
		affectable, err := w.IsAffectable(ctx, edge.ID)
		if err != nil || !affectable {
			return false, err
		}
		_, err = w.ToggleAffected(ctx, edge.ID, true)
		return err == nil, err
	}
	remaining, err := w.Remaining(ctx, edge)
	if err != nil {
		return false, err
	}
	if !remaining.IsPositive() {
		return false, nil
	}
	_, err = w.WriteQuantity(ctx, edge.ID, edge.Quantity.Add(remaining))
	return err == nil, err
}

func modeOf(owner entities.Kind) (entities.Mode, error) {
	for _, mode := range []entities.Mode{entities.ModePhase, entities.ModeLaunch, entities.ModeReservation} {
		if mode.OwnerKind() == owner {
			return mode, nil
		}
	}
	return entities.ModeUnknown, domainerr.Newf(domainerr.CodeInvalidArgument, "%s does not own allocation edges", owner)
}

func containsRef(refs []entities.Ref, ref entities.Ref) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

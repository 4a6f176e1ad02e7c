package ledger

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/aggregator"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// Strategy holds the behaviour that differs between edge modes
type Strategy interface {
	Mode() entities.Mode
	// ParentKind is the kind of group an owner is linked to for provisioning
	ParentKind() entities.Kind
	// Prepare fills mode-specific fields of a new edge before insertion
	Prepare(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error
	// Provision creates the zero edges owner may allocate from parent
	Provision(ctx context.Context, w *Writer, owner, parent entities.Ref) ([]*entities.AllocationEdge, error)
	IsAffectable(ctx context.Context, w *Writer, edge *entities.AllocationEdge) (bool, error)
	// CascadeDelete removes the dependents of edge, refusing when one is affected
	CascadeDelete(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error
	// AfterWrite propagates a quantity change to dependents
	AfterWrite(ctx context.Context, w *Writer, before, after *entities.AllocationEdge) error
}

// quantitativeAffectable is true while something is allocated or something remains
func quantitativeAffectable(ctx context.Context, w *Writer, edge *entities.AllocationEdge) (bool, error) {
	if !edge.Quantity.IsZero() {
		return true, nil
	}
	remaining, err := w.Remaining(ctx, edge)
	if err != nil {
		return false, err
	}
	return !remaining.IsZero(), nil
}

// phaseStrategy: a phase allocates quantities of the positions of its lots
type phaseStrategy struct{}

func (s *phaseStrategy) Mode() entities.Mode       { return entities.ModePhase }
func (s *phaseStrategy) ParentKind() entities.Kind { return entities.KindLot }

func (s *phaseStrategy) Prepare(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error {
	if edge.Consumer.Kind != entities.KindPosition {
		return domainerr.Newf(domainerr.CodeInvalidArgument, "phase edges consume positions, got %s", edge.Consumer)
	}
	if edge.Section.IsZero() {
		position, err := w.tx.GetPosition(ctx, edge.Consumer.ID)
		if err != nil {
			return fmt.Errorf("load %s: %w", edge.Consumer, err)
		}
		edge.Section = position.LotRef()
	}
	return nil
}

func (s *phaseStrategy) Provision(ctx context.Context, w *Writer, owner, parent entities.Ref) ([]*entities.AllocationEdge, error) {
	if parent.Kind != entities.KindLot {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "phases are linked to lots, got %s", parent)
	}
	phase, err := w.tx.GetGroup(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", owner, err)
	}
	positions, err := w.tx.ListPositions(ctx, repositories.PositionFilter{LotIDs: []int64{parent.ID}})
	if err != nil {
		return nil, fmt.Errorf("list positions of %s: %w", parent, err)
	}
	ids := make([]int64, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
	}
	balances, err := w.agg.PositionBalances(ctx, ids)
	if err != nil {
		return nil, err
	}

	var created []*entities.AllocationEdge
	for _, p := range positions {
		if balances[p.ID].Remaining.IsZero() {
			continue
		}
		edge, isNew, err := w.Ensure(ctx, EdgeSpec{
			Mode:      entities.ModePhase,
			ProjectID: phase.ProjectID,
			Owner:     owner,
			Consumer:  p.Ref(),
			Section:   parent,
		})
		if err != nil {
			return nil, err
		}
		if isNew {
			created = append(created, edge)
		}
	}
	return created, nil
}

func (s *phaseStrategy) IsAffectable(ctx context.Context, w *Writer, edge *entities.AllocationEdge) (bool, error) {
	return quantitativeAffectable(ctx, w, edge)
}

func (s *phaseStrategy) CascadeDelete(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error {
	return s.deleteChildren(ctx, w, edge, "")
}

func (s *phaseStrategy) deleteChildren(ctx context.Context, w *Writer, edge *entities.AllocationEdge, reason string) error {
	children, err := s.children(ctx, w, edge)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.Affected {
			return &domainerr.DependencyProtectionError{
				Edge:        edge.Key(),
				Dependent:   child.Key(),
				DependentID: child.ID,
				Reason:      reason,
			}
		}
	}
	for _, child := range children {
		if err := w.Delete(ctx, child.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *phaseStrategy) children(ctx context.Context, w *Writer, edge *entities.AllocationEdge) ([]*entities.AllocationEdge, error) {
	children, err := w.tx.ListEdges(ctx, repositories.EdgeFilter{
		Mode:      entities.ModeLaunch,
		Consumers: []entities.Ref{edge.Ref()},
	})
	if err != nil {
		return nil, fmt.Errorf("list launch edges of %s: %w", edge, err)
	}
	return children, nil
}

// AfterWrite keeps launch edges in step with their phase edge: zero deletes
// them, any other quantity is mirrored, and leaving zero provisions the edge
// in the launches already linked to the phase.
func (s *phaseStrategy) AfterWrite(ctx context.Context, w *Writer, before, after *entities.AllocationEdge) error {
	if after.Quantity.IsZero() {
		return s.deleteChildren(ctx, w, after, "quantity written to zero")
	}

	children, err := s.children(ctx, w, after)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := w.Mirror(ctx, child, after.Quantity); err != nil {
			return err
		}
	}
	if !before.Quantity.IsZero() {
		return nil
	}

	linked, err := w.tx.ListEdges(ctx, repositories.EdgeFilter{
		Mode:     entities.ModeLaunch,
		Sections: []entities.Ref{after.Owner},
	})
	if err != nil {
		return fmt.Errorf("list launches linked to %s: %w", after.Owner, err)
	}
	seen := make(map[entities.Ref]bool)
	for _, e := range linked {
		if seen[e.Owner] {
			continue
		}
		seen[e.Owner] = true
		if _, _, err := w.Ensure(ctx, EdgeSpec{
			Mode:      entities.ModeLaunch,
			ProjectID: after.ProjectID,
			Owner:     e.Owner,
			Consumer:  after.Ref(),
			Section:   after.Owner,
		}); err != nil {
			return err
		}
	}
	return nil
}

// launchStrategy: a launch claims phase edges, exclusively unless it allows many-to-many
type launchStrategy struct{}

func (s *launchStrategy) Mode() entities.Mode       { return entities.ModeLaunch }
func (s *launchStrategy) ParentKind() entities.Kind { return entities.KindPhase }

func (s *launchStrategy) Prepare(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error {
	if edge.Consumer.Kind != entities.KindEdge {
		return domainerr.Newf(domainerr.CodeInvalidArgument, "launch edges consume phase edges, got %s", edge.Consumer)
	}
	parent, err := w.tx.GetEdge(ctx, edge.Consumer.ID)
	if err != nil {
		return fmt.Errorf("load parent %s: %w", edge.Consumer, err)
	}
	if parent.Mode != entities.ModePhase {
		return domainerr.Newf(domainerr.CodeInvalidArgument, "launch edges consume phase edges, got %s", parent)
	}
	launch, err := w.tx.GetGroup(ctx, edge.Owner)
	if err != nil {
		return fmt.Errorf("load %s: %w", edge.Owner, err)
	}
	edge.Quantity = parent.Quantity
	edge.Exclusive = !launch.AllowManyToMany
	edge.ProjectID = parent.ProjectID
	if edge.Section.IsZero() {
		edge.Section = parent.Owner
	}
	return nil
}

func (s *launchStrategy) Provision(ctx context.Context, w *Writer, owner, parent entities.Ref) ([]*entities.AllocationEdge, error) {
	if parent.Kind != entities.KindPhase {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "launches are linked to phases, got %s", parent)
	}
	phaseEdges, err := w.tx.ListEdges(ctx, repositories.EdgeFilter{
		Mode:   entities.ModePhase,
		Owners: []entities.Ref{parent},
	})
	if err != nil {
		return nil, fmt.Errorf("list edges of %s: %w", parent, err)
	}

	var created []*entities.AllocationEdge
	for _, pe := range phaseEdges {
		if pe.Quantity.IsZero() {
			continue
		}
		edge, isNew, err := w.Ensure(ctx, EdgeSpec{
			Mode:      entities.ModeLaunch,
			ProjectID: pe.ProjectID,
			Owner:     owner,
			Consumer:  pe.Ref(),
			Section:   parent,
		})
		if err != nil {
			return nil, err
		}
		if isNew {
			created = append(created, edge)
		}
	}
	return created, nil
}

func (s *launchStrategy) IsAffectable(ctx context.Context, w *Writer, edge *entities.AllocationEdge) (bool, error) {
	sibling, err := w.ClaimingSibling(ctx, edge)
	if err != nil {
		return false, err
	}
	return sibling == nil, nil
}

func (s *launchStrategy) CascadeDelete(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error {
	return nil
}

func (s *launchStrategy) AfterWrite(ctx context.Context, w *Writer, before, after *entities.AllocationEdge) error {
	return nil
}

// reservationStrategy: a category reserves budget of a launch or project for a section
type reservationStrategy struct{}

func (s *reservationStrategy) Mode() entities.Mode { return entities.ModeReservation }

// ParentKind is the project; reservations are provisioned per section rather than per group link.
func (s *reservationStrategy) ParentKind() entities.Kind { return entities.KindProject }

func (s *reservationStrategy) Prepare(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error {
	if edge.Consumer.Kind != entities.KindLaunch && edge.Consumer.Kind != entities.KindProject {
		return domainerr.Newf(domainerr.CodeInvalidArgument,
			"reservations consume launches or projects, got %s", edge.Consumer)
	}
	if !edge.Section.Kind.IsSection() {
		return domainerr.Newf(domainerr.CodeInvalidArgument, "reservations need a section, got %s", edge.Section)
	}
	return nil
}

// Provision creates the possible reservations of a section for one category:
// one row per selected consumer that has budget available in it.
func (s *reservationStrategy) Provision(ctx context.Context, w *Writer, owner, parent entities.Ref) ([]*entities.AllocationEdge, error) {
	section, err := w.tx.GetSection(ctx, parent)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", parent, err)
	}
	consumers := section.Consumers()
	available, err := w.agg.Available(ctx, aggregator.Scope{
		ProjectID:   section.ProjectID,
		Consumers:   consumers,
		CategoryIDs: []int64{owner.ID},
	})
	if err != nil {
		return nil, err
	}

	var created []*entities.AllocationEdge
	for _, consumer := range consumers {
		key := entities.BudgetKey{ProjectID: section.ProjectID, Consumer: consumer, CategoryID: owner.ID}
		if !available.Get(key).IsPositive() {
			continue
		}
		edge, isNew, err := w.Ensure(ctx, EdgeSpec{
			Mode:      entities.ModeReservation,
			ProjectID: section.ProjectID,
			Owner:     owner,
			Consumer:  consumer,
			Section:   parent,
		})
		if err != nil {
			return nil, err
		}
		if isNew {
			created = append(created, edge)
		}
	}
	if len(created) > 0 {
		w.Logger().WithFields(logrus.Fields{
			"section":  parent.String(),
			"category": owner.ID,
			"created":  len(created),
		}).Debug("provisioned reservations")
	}
	return created, nil
}

func (s *reservationStrategy) IsAffectable(ctx context.Context, w *Writer, edge *entities.AllocationEdge) (bool, error) {
	return quantitativeAffectable(ctx, w, edge)
}

func (s *reservationStrategy) CascadeDelete(ctx context.Context, w *Writer, edge *entities.AllocationEdge) error {
	return nil
}

func (s *reservationStrategy) AfterWrite(ctx context.Context, w *Writer, before, after *entities.AllocationEdge) error {
	return nil
}

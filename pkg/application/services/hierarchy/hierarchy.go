// Package hierarchy manages which consumers each group may allocate:
// linking parent groups provisions edges, unlinking retracts them, and
// changes on positions or groups are propagated onto their edges.
package hierarchy

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/ledger"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// LinkResult counts the edges a link operation created and retracted
type LinkResult struct {
	Owner    entities.Ref
	Linked   []entities.Ref
	Unlinked []entities.Ref
	Created  int
	Deleted  int
}

// Service applies hierarchy changes through the ledger
type Service struct {
	ledger *ledger.Ledger
	log    logrus.FieldLogger
}

// NewService creates a hierarchy service
func NewService(l *ledger.Ledger) *Service {
	return &Service{ledger: l, log: l.Logger()}
}

// LinkedParents returns the parent groups an owner is linked to, derived from
// the sections of its edges.
func (s *Service) LinkedParents(ctx context.Context, owner entities.Ref) ([]entities.Ref, error) {
	var parents []entities.Ref
	err := s.ledger.View(ctx, func(ctx context.Context, w *ledger.Writer) error {
		var err error
		parents, err = LinkedParents(ctx, w, owner)
		return err
	})
	return parents, err
}

// LinkParents sets the parent groups of a phase (lots) or launch (phases).
// New parents provision edges; dropped parents retract the owner's edges for
// them, refused when an affected dependent exists.
func (s *Service) LinkParents(ctx context.Context, owner entities.Ref, parents []entities.Ref) (*LinkResult, error) {
	var result *LinkResult
	err := s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		var err error
		result, err = LinkParents(ctx, w, owner, parents)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"owner":    owner.String(),
		"linked":   len(result.Linked),
		"unlinked": len(result.Unlinked),
		"created":  result.Created,
		"deleted":  result.Deleted,
	}).Info("linked parent groups")
	return result, nil
}

// LinkedParents is the in-transaction form of Service.LinkedParents
func LinkedParents(ctx context.Context, w *ledger.Writer, owner entities.Ref) ([]entities.Ref, error) {
	strategy, err := w.StrategyForOwner(owner.Kind)
	if err != nil {
		return nil, err
	}
	edges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
		Mode:   strategy.Mode(),
		Owners: []entities.Ref{owner},
	})
	if err != nil {
		return nil, fmt.Errorf("list edges of %s: %w", owner, err)
	}
	seen := make(map[entities.Ref]bool)
	var parents []entities.Ref
	for _, e := range edges {
		if e.Section.IsZero() || seen[e.Section] {
			continue
		}
		seen[e.Section] = true
		parents = append(parents, e.Section)
	}
	sortRefs(parents)
	return parents, nil
}

// LinkParents is the in-transaction form of Service.LinkParents
func LinkParents(ctx context.Context, w *ledger.Writer, owner entities.Ref, parents []entities.Ref) (*LinkResult, error) {
	strategy, err := w.StrategyForOwner(owner.Kind)
	if err != nil {
		return nil, err
	}
	if strategy.Mode() == entities.ModeReservation {
		return nil, domainerr.Newf(domainerr.CodeInvalidArgument, "%s cannot be linked to parent groups", owner)
	}
	if _, err := w.Tx().GetGroup(ctx, owner); err != nil {
		return nil, fmt.Errorf("load %s: %w", owner, err)
	}
	wanted := make(map[entities.Ref]bool, len(parents))
	for _, p := range parents {
		if p.Kind != strategy.ParentKind() {
			return nil, domainerr.Newf(domainerr.CodeInvalidArgument,
				"%s can only be linked to %s groups, got %s", owner, strategy.ParentKind(), p)
		}
		if _, err := w.Tx().GetGroup(ctx, p); err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		wanted[p] = true
	}

	current, err := LinkedParents(ctx, w, owner)
	if err != nil {
		return nil, err
	}
	result := &LinkResult{Owner: owner}
	linked := make(map[entities.Ref]bool, len(current))
	for _, p := range current {
		linked[p] = true
		if !wanted[p] {
			result.Unlinked = append(result.Unlinked, p)
		}
	}
	for _, p := range parents {
		if !linked[p] {
			result.Linked = append(result.Linked, p)
			linked[p] = true
		}
	}

	if len(result.Unlinked) > 0 {
		edges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
			Mode:     strategy.Mode(),
			Owners:   []entities.Ref{owner},
			Sections: result.Unlinked,
		})
		if err != nil {
			return nil, fmt.Errorf("list edges of %s: %w", owner, err)
		}
		for _, e := range edges {
			if err := w.Delete(ctx, e.ID); err != nil {
				return nil, err
			}
			result.Deleted++
		}
	}
	for _, p := range result.Linked {
		created, err := strategy.Provision(ctx, w, owner, p)
		if err != nil {
			return nil, err
		}
		result.Created += len(created)
	}
	return result, nil
}

// AddPosition stores a new position and provisions it in every phase already
// linked to its lot.
func (s *Service) AddPosition(ctx context.Context, position *entities.Position) (int, error) {
	if position == nil {
		return 0, domainerr.New(domainerr.CodeInvalidArgument, "position is required")
	}
	created := 0
	err := s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		if err := w.Tx().SavePosition(ctx, position); err != nil {
			return fmt.Errorf("save position %d: %w", position.ID, err)
		}
		if position.Quantity.IsZero() {
			return nil
		}
		phases, err := ownersLinkedTo(ctx, w, entities.ModePhase, position.LotRef())
		if err != nil {
			return err
		}
		for _, phase := range phases {
			_, isNew, err := w.Ensure(ctx, ledger.EdgeSpec{
				Mode:      entities.ModePhase,
				ProjectID: position.ProjectID,
				Owner:     phase,
				Consumer:  position.Ref(),
				Section:   position.LotRef(),
			})
			if err != nil {
				return err
			}
			if isNew {
				created++
			}
		}
		return nil
	})
	return created, err
}

// SetPositionQuantity changes the quantity of a position, refreshes the
// quantities mirrored by launch edges and re-checks the position against the
// phases already allocating it.
func (s *Service) SetPositionQuantity(ctx context.Context, positionID int64, quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return domainerr.Newf(domainerr.CodeInvalidArgument, "position quantity cannot be negative, got %s", quantity)
	}
	return s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		position, err := w.Tx().GetPosition(ctx, positionID)
		if err != nil {
			return fmt.Errorf("load position %d: %w", positionID, err)
		}
		position.Quantity = quantity
		if err := w.Tx().SavePosition(ctx, position); err != nil {
			return fmt.Errorf("save position %d: %w", positionID, err)
		}
		if err := RefreshMirrors(ctx, w, position.Ref()); err != nil {
			return err
		}
		w.TouchPosition(positionID)
		return nil
	})
}

// RefreshMirrors copies each phase edge quantity of a position onto its launch edges
func RefreshMirrors(ctx context.Context, w *ledger.Writer, position entities.Ref) error {
	phaseEdges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
		Mode:      entities.ModePhase,
		Consumers: []entities.Ref{position},
	})
	if err != nil {
		return fmt.Errorf("list phase edges of %s: %w", position, err)
	}
	for _, pe := range phaseEdges {
		children, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
			Mode:      entities.ModeLaunch,
			Consumers: []entities.Ref{pe.Ref()},
		})
		if err != nil {
			return fmt.Errorf("list launch edges of %s: %w", pe, err)
		}
		for _, child := range children {
			if err := w.Mirror(ctx, child, pe.Quantity); err != nil {
				return err
			}
		}
	}
	return nil
}

// AffectableCount returns how many consumers under parent owner may still
// allocate: positions with remaining quantity for a phase, unclaimed phase
// edges for a launch.
func (s *Service) AffectableCount(ctx context.Context, owner, parent entities.Ref) (int, error) {
	count := 0
	err := s.ledger.View(ctx, func(ctx context.Context, w *ledger.Writer) error {
		switch {
		case owner.Kind == entities.KindPhase && parent.Kind == entities.KindLot:
			positions, err := w.Tx().ListPositions(ctx, repositories.PositionFilter{LotIDs: []int64{parent.ID}})
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(positions))
			for _, p := range positions {
				ids = append(ids, p.ID)
			}
			balances, err := w.Aggregator().PositionBalances(ctx, ids)
			if err != nil {
				return err
			}
			for _, b := range balances {
				if b.Remaining.IsPositive() {
					count++
				}
			}
			return nil
		case owner.Kind == entities.KindLaunch && parent.Kind == entities.KindPhase:
			launch, err := w.Tx().GetGroup(ctx, owner)
			if err != nil {
				return fmt.Errorf("load %s: %w", owner, err)
			}
			phaseEdges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
				Mode:   entities.ModePhase,
				Owners: []entities.Ref{parent},
			})
			if err != nil {
				return err
			}
			for _, pe := range phaseEdges {
				if pe.Quantity.IsZero() {
					continue
				}
				if launch.AllowManyToMany {
					count++
					continue
				}
				claims, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
					Mode:         entities.ModeLaunch,
					Consumers:    []entities.Ref{pe.Ref()},
					AffectedOnly: true,
				})
				if err != nil {
					return err
				}
				free := true
				for _, c := range claims {
					if c.Owner != owner && c.Exclusive {
						free = false
						break
					}
				}
				if free {
					count++
				}
			}
			return nil
		default:
			return domainerr.Newf(domainerr.CodeInvalidArgument, "%s is not linked to %s groups", owner, parent.Kind)
		}
	})
	return count, err
}

// ownersLinkedTo returns the distinct owners of a mode having edges in a parent section
func ownersLinkedTo(ctx context.Context, w *ledger.Writer, mode entities.Mode, parent entities.Ref) ([]entities.Ref, error) {
	edges, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
		Mode:     mode,
		Sections: []entities.Ref{parent},
	})
	if err != nil {
		return nil, fmt.Errorf("list %s edges of %s: %w", mode, parent, err)
	}
	seen := make(map[entities.Ref]bool)
	var owners []entities.Ref
	for _, e := range edges {
		if !seen[e.Owner] {
			seen[e.Owner] = true
			owners = append(owners, e.Owner)
		}
	}
	sortRefs(owners)
	return owners, nil
}

func sortRefs(refs []entities.Ref) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Kind != refs[j].Kind {
			return refs[i].Kind < refs[j].Kind
		}
		return refs[i].ID < refs[j].ID
	})
}

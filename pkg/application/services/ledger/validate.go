package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/aggregator"
	"github.com/vsinha/affect/pkg/application/services/shared"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// Validate checks every invariant scope touched since the last validation:
// position quantities, exclusive claims, budget remaining and the budgets
// granted by launches. The first violation is returned; the caller's
// transaction must then roll back.
func (w *Writer) Validate(ctx context.Context) error {
	if w.scope.empty() {
		return nil
	}
	scope := w.scope
	w.scope = newTouchedScope()

	if w.deferred {
		w.ledger.log.WithFields(logrus.Fields{
			"positions": len(scope.positions),
			"claims":    len(scope.claims),
			"budgets":   len(scope.budgets),
			"launches":  len(scope.launches),
		}).Debug("validating bulk scope")
	}

	if err := w.validatePositions(ctx, scope.positions); err != nil {
		return err
	}
	if err := w.validateClaims(ctx, scope.claims); err != nil {
		return err
	}
	if err := w.validateBudgets(ctx, scope.budgets); err != nil {
		return err
	}
	return w.validateLaunchBudgets(ctx, scope.launches)
}

func (w *Writer) validatePositions(ctx context.Context, positions map[int64]int64) error {
	if len(positions) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(positions))
	for id := range positions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	balances, err := w.agg.PositionBalances(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		balance, ok := balances[id]
		if !ok || !balance.Remaining.IsNegative() {
			continue
		}
		edge, err := w.writerOf(ctx, positions[id], id)
		if err != nil {
			return err
		}
		requested := decimal.Zero
		owner := entities.Ref{}
		if edge != nil {
			requested = edge.Quantity
			owner = edge.Owner
		}
		return domainerr.NewOverconsumptionError(
			owner,
			entities.NewRef(entities.KindPosition, id),
			balance.Available,
			balance.Consumed.Sub(requested),
			requested,
		)
	}
	return nil
}

// writerOf returns the edge that last wrote a position, or the largest phase
// edge of the position when the check came from the position itself.
func (w *Writer) writerOf(ctx context.Context, edgeID, positionID int64) (*entities.AllocationEdge, error) {
	if edgeID != 0 {
		edge, err := w.tx.GetEdge(ctx, edgeID)
		if err == nil {
			return edge, nil
		}
		if !errors.Is(err, repositories.ErrNotFound) {
			return nil, err
		}
	}
	edges, err := w.tx.ListEdges(ctx, repositories.EdgeFilter{
		Mode:      entities.ModePhase,
		Consumers: []entities.Ref{entities.NewRef(entities.KindPosition, positionID)},
	})
	if err != nil {
		return nil, fmt.Errorf("list phase edges of position %d: %w", positionID, err)
	}
	var largest *entities.AllocationEdge
	for _, e := range edges {
		if largest == nil || e.Quantity.GreaterThan(largest.Quantity) {
			largest = e
		}
	}
	return largest, nil
}

func (w *Writer) validateClaims(ctx context.Context, claims map[entities.Ref]int64) error {
	consumers := make([]entities.Ref, 0, len(claims))
	for c := range claims {
		consumers = append(consumers, c)
	}
	sort.Slice(consumers, func(i, j int) bool { return consumers[i].ID < consumers[j].ID })

	for _, consumer := range consumers {
		claimed, err := w.tx.ListEdges(ctx, repositories.EdgeFilter{
			Mode:         entities.ModeLaunch,
			Consumers:    []entities.Ref{consumer},
			AffectedOnly: true,
		})
		if err != nil {
			return fmt.Errorf("list claims of %s: %w", consumer, err)
		}
		var exclusive []*entities.AllocationEdge
		for _, e := range claimed {
			if e.Exclusive {
				exclusive = append(exclusive, e)
			}
		}
		if len(exclusive) < 2 {
			continue
		}
		// report the claim made in this transaction against the one it collides with
		claimant, conflicting := exclusive[1], exclusive[0]
		if exclusive[0].ID == claims[consumer] {
			claimant, conflicting = exclusive[0], exclusive[1]
		}
		return exclusivityError(claimant, conflicting)
	}
	return nil
}

func (w *Writer) validateBudgets(ctx context.Context, budgets map[entities.BudgetKey]int64) error {
	keys := make([]entities.BudgetKey, 0, len(budgets))
	for k := range budgets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CategoryID != keys[j].CategoryID {
			return keys[i].CategoryID < keys[j].CategoryID
		}
		return keys[i].Consumer.ID < keys[j].Consumer.ID
	})

	for _, key := range keys {
		section := entities.Ref{}
		if edge, err := w.tx.GetEdge(ctx, budgets[key]); err == nil {
			section = edge.Section
		} else if !errors.Is(err, repositories.ErrNotFound) {
			return err
		}
		remaining, err := w.agg.Remaining(ctx, aggregator.Scope{
			ProjectID:   key.ProjectID,
			Consumers:   []entities.Ref{key.Consumer},
			CategoryIDs: []int64{key.CategoryID},
		}, section)
		if err != nil {
			return err
		}
		r := remaining[key]
		if r.Remaining.IsNegative() {
			return domainerr.NewOverconsumptionError(
				entities.NewRef(entities.KindCategory, key.CategoryID),
				key.Consumer,
				r.Available,
				r.ReservedByOthers,
				r.ReservedHere,
			)
		}
	}
	return nil
}

// validateLaunchBudgets re-checks every reservation on launches whose claims,
// mirrored quantities or active flags changed, then drops the zero
// reservations left without any budget.
func (w *Writer) validateLaunchBudgets(ctx context.Context, launches map[entities.Ref]int64) error {
	refs := make([]entities.Ref, 0, len(launches))
	for launch := range launches {
		refs = append(refs, launch)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].ID < refs[j].ID })

	for _, launch := range refs {
		remaining, err := w.agg.Remaining(ctx, aggregator.Scope{
			ProjectID: launches[launch],
			Consumers: []entities.Ref{launch},
		}, entities.Ref{})
		if err != nil {
			return err
		}
		keys := make([]entities.BudgetKey, 0, len(remaining))
		for k := range remaining {
			keys = append(keys, k)
		}
		shared.SortBudgetKeys(keys)
		for _, key := range keys {
			r := remaining[key]
			if r.Remaining.IsNegative() {
				return domainerr.NewOverconsumptionError(
					entities.NewRef(entities.KindCategory, key.CategoryID),
					launch,
					r.Available,
					r.ReservedByOthers,
					decimal.Zero,
				)
			}
		}
		if err := w.removeGhostReservations(ctx, launch, remaining); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) removeGhostReservations(ctx context.Context, launch entities.Ref, remaining map[entities.BudgetKey]aggregator.Remaining) error {
	rows, err := w.tx.ListEdges(ctx, repositories.EdgeFilter{
		Mode:      entities.ModeReservation,
		Consumers: []entities.Ref{launch},
	})
	if err != nil {
		return fmt.Errorf("list reservations on %s: %w", launch, err)
	}
	for _, row := range rows {
		if !row.Quantity.IsZero() || !remaining[budgetKey(row)].Available.IsZero() {
			continue
		}
		if err := w.Delete(ctx, row.ID); err != nil {
			return err
		}
		w.ledger.log.WithFields(logrus.Fields{
			"edge":    row.ID,
			"launch":  launch.String(),
			"section": row.Section.String(),
		}).Debug("removed reservation without budget")
	}
	return nil
}

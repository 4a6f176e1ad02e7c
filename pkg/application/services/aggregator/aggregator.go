// Package aggregator answers "how much was granted and how much remains" for
// budget buckets and positions. Every query is a fixed number of grouped
// reads, independent of the number of rows involved.
package aggregator

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/application/services/shared"
	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// Scope selects budget buckets. Empty slices do not filter.
type Scope struct {
	ProjectID   int64
	Consumers   []entities.Ref
	CategoryIDs []int64
}

// Remaining is the budget balance of one bucket as seen from a section
type Remaining struct {
	Available        decimal.Decimal
	ReservedByOthers decimal.Decimal
	ReservedHere     decimal.Decimal
	Remaining        decimal.Decimal
}

// PositionBalance is the quantity balance of one position across phases
type PositionBalance struct {
	Available decimal.Decimal
	Consumed  decimal.Decimal
	Remaining decimal.Decimal
}

// Aggregator runs aggregation queries within one transaction, so results
// include the transaction's pending writes.
type Aggregator struct {
	tx repositories.Tx
}

// New creates an Aggregator reading through tx
func New(tx repositories.Tx) *Aggregator {
	return &Aggregator{tx: tx}
}

// Available returns the granted budget per bucket
func (a *Aggregator) Available(ctx context.Context, scope Scope) (shared.Amounts, error) {
	sums, err := a.tx.SumAvailable(ctx, repositories.AvailableFilter{
		ProjectID:   scope.ProjectID,
		Consumers:   scope.Consumers,
		CategoryIDs: scope.CategoryIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("sum available: %w", err)
	}
	return shared.Amounts(sums), nil
}

// ReservedByOthers returns reservations per bucket, excluding those of one section
func (a *Aggregator) ReservedByOthers(ctx context.Context, scope Scope, excluding entities.Ref) (shared.Amounts, error) {
	sums, err := a.tx.SumReserved(ctx, repositories.ReservationFilter{
		ProjectID:      scope.ProjectID,
		Consumers:      scope.Consumers,
		CategoryIDs:    scope.CategoryIDs,
		ExcludeSection: excluding,
	})
	if err != nil {
		return nil, fmt.Errorf("sum reserved by others: %w", err)
	}
	return shared.Amounts(sums), nil
}

// ReservedHere returns the reservations of one section per bucket
func (a *Aggregator) ReservedHere(ctx context.Context, scope Scope, section entities.Ref) (shared.Amounts, error) {
	if section.IsZero() {
		return shared.Amounts{}, nil
	}
	sums, err := a.tx.SumReserved(ctx, repositories.ReservationFilter{
		ProjectID:      scope.ProjectID,
		Consumers:      scope.Consumers,
		CategoryIDs:    scope.CategoryIDs,
		IncludeSection: section,
	})
	if err != nil {
		return nil, fmt.Errorf("sum reserved here: %w", err)
	}
	return shared.Amounts(sums), nil
}

// Remaining computes available - reserved_by_others - reserved_here for every
// bucket of the scope. When both consumers and categories are given, every
// combination is present even without budget or reservation.
func (a *Aggregator) Remaining(ctx context.Context, scope Scope, section entities.Ref) (map[entities.BudgetKey]Remaining, error) {
	available, err := a.Available(ctx, scope)
	if err != nil {
		return nil, err
	}
	others, err := a.ReservedByOthers(ctx, scope, section)
	if err != nil {
		return nil, err
	}
	here, err := a.ReservedHere(ctx, scope, section)
	if err != nil {
		return nil, err
	}

	keys := make(map[entities.BudgetKey]struct{})
	for _, m := range []shared.Amounts{available, others, here} {
		for k := range m {
			keys[k] = struct{}{}
		}
	}
	for _, consumer := range scope.Consumers {
		for _, categoryID := range scope.CategoryIDs {
			keys[entities.BudgetKey{ProjectID: scope.ProjectID, Consumer: consumer, CategoryID: categoryID}] = struct{}{}
		}
	}

	result := make(map[entities.BudgetKey]Remaining, len(keys))
	for k := range keys {
		r := Remaining{
			Available:        available.Get(k),
			ReservedByOthers: others.Get(k),
			ReservedHere:     here.Get(k),
		}
		r.Remaining = r.Available.Sub(r.ReservedByOthers).Sub(r.ReservedHere)
		result[k] = r
	}
	return result, nil
}

// PositionBalances returns the phase allocation balance of positions
func (a *Aggregator) PositionBalances(ctx context.Context, positionIDs []int64) (map[int64]PositionBalance, error) {
	if len(positionIDs) == 0 {
		return map[int64]PositionBalance{}, nil
	}
	positions, err := a.tx.ListPositions(ctx, repositories.PositionFilter{IDs: positionIDs})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	refs := make([]entities.Ref, 0, len(positions))
	for _, p := range positions {
		refs = append(refs, p.Ref())
	}
	consumed, err := a.tx.SumQuantityByConsumer(ctx, entities.ModePhase, refs)
	if err != nil {
		return nil, fmt.Errorf("sum phase quantities: %w", err)
	}

	balances := make(map[int64]PositionBalance, len(positions))
	for _, p := range positions {
		c := consumed[p.Ref()]
		balances[p.ID] = PositionBalance{
			Available: p.Quantity,
			Consumed:  c,
			Remaining: p.Quantity.Sub(c),
		}
	}
	return balances, nil
}

// PositionBalance returns the balance of a single position
func (a *Aggregator) PositionBalance(ctx context.Context, positionID int64) (PositionBalance, error) {
	balances, err := a.PositionBalances(ctx, []int64{positionID})
	if err != nil {
		return PositionBalance{}, err
	}
	b, ok := balances[positionID]
	if !ok {
		return PositionBalance{}, fmt.Errorf("position %d: %w", positionID, repositories.ErrNotFound)
	}
	return b, nil
}

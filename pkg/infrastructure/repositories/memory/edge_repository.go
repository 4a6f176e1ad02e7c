package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

func (t *tx) GetEdge(ctx context.Context, id int64) (*entities.AllocationEdge, error) {
	e, ok := t.s.edges[id]
	if !ok {
		return nil, fmt.Errorf("edge %d: %w", id, repositories.ErrNotFound)
	}
	return &e, nil
}

func (t *tx) FindEdge(ctx context.Context, mode entities.Mode, key entities.EdgeKey) (*entities.AllocationEdge, error) {
	id, ok := t.s.edgeIndex[edgeIndexKey{mode: mode, key: key}]
	if !ok {
		return nil, fmt.Errorf("%s edge %s: %w", mode, key, repositories.ErrNotFound)
	}
	return t.GetEdge(ctx, id)
}

func (t *tx) ListEdges(ctx context.Context, filter repositories.EdgeFilter) ([]*entities.AllocationEdge, error) {
	var edges []*entities.AllocationEdge
	for _, e := range t.s.edges {
		if !matchEdge(&e, filter) {
			continue
		}
		e := e
		edges = append(edges, &e)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })
	return edges, nil
}

func matchEdge(e *entities.AllocationEdge, f repositories.EdgeFilter) bool {
	switch {
	case f.Mode != entities.ModeUnknown && e.Mode != f.Mode:
		return false
	case f.ProjectID != 0 && e.ProjectID != f.ProjectID:
		return false
	case f.OwnerKind != entities.KindNone && e.Owner.Kind != f.OwnerKind:
		return false
	case len(f.Owners) > 0 && !containsRef(f.Owners, e.Owner):
		return false
	case len(f.Consumers) > 0 && !containsRef(f.Consumers, e.Consumer):
		return false
	case len(f.Sections) > 0 && !containsRef(f.Sections, e.Section):
		return false
	case f.AffectedOnly && !e.Affected:
		return false
	case f.ActiveOnly && !e.Active:
		return false
	}
	return true
}

// checkUnique enforces the same constraints as the SQL unique indexes: one
// edge per (mode, owner, consumer, section) and one affected exclusive launch
// edge per consumer.
func (t *tx) checkUnique(edge *entities.AllocationEdge) error {
	if id, ok := t.s.edgeIndex[edgeIndexKey{mode: edge.Mode, key: edge.Key()}]; ok && id != edge.ID {
		return fmt.Errorf("%s: %w", edge, repositories.ErrAlreadyExists)
	}
	if edge.Mode == entities.ModeLaunch && edge.Affected && edge.Exclusive {
		for _, other := range t.s.edges {
			if other.ID != edge.ID && other.Mode == entities.ModeLaunch && other.Consumer == edge.Consumer &&
				other.Affected && other.Exclusive {
				return fmt.Errorf("%s claimed by edge %d: %w", edge.Consumer, other.ID, repositories.ErrAlreadyExists)
			}
		}
	}
	return nil
}

func (t *tx) InsertEdge(ctx context.Context, edge *entities.AllocationEdge) error {
	if edge == nil {
		return fmt.Errorf("edge is required")
	}
	edge.ID = 0
	if err := t.checkUnique(edge); err != nil {
		return err
	}
	edge.ID = t.s.nextEdgeID
	t.s.nextEdgeID++
	t.s.edges[edge.ID] = *edge
	t.s.edgeIndex[edgeIndexKey{mode: edge.Mode, key: edge.Key()}] = edge.ID
	return nil
}

func (t *tx) UpdateEdge(ctx context.Context, edge *entities.AllocationEdge) error {
	if edge == nil {
		return fmt.Errorf("edge is required")
	}
	old, ok := t.s.edges[edge.ID]
	if !ok {
		return fmt.Errorf("edge %d: %w", edge.ID, repositories.ErrNotFound)
	}
	if err := t.checkUnique(edge); err != nil {
		return err
	}
	delete(t.s.edgeIndex, edgeIndexKey{mode: old.Mode, key: old.Key()})
	t.s.edges[edge.ID] = *edge
	t.s.edgeIndex[edgeIndexKey{mode: edge.Mode, key: edge.Key()}] = edge.ID
	return nil
}

func (t *tx) DeleteEdge(ctx context.Context, id int64) error {
	old, ok := t.s.edges[id]
	if !ok {
		return fmt.Errorf("edge %d: %w", id, repositories.ErrNotFound)
	}
	delete(t.s.edgeIndex, edgeIndexKey{mode: old.Mode, key: old.Key()})
	delete(t.s.edges, id)
	return nil
}

func (t *tx) SumQuantityByConsumer(ctx context.Context, mode entities.Mode, consumers []entities.Ref) (map[entities.Ref]decimal.Decimal, error) {
	sums := make(map[entities.Ref]decimal.Decimal, len(consumers))
	for _, e := range t.s.edges {
		if e.Mode != mode || (len(consumers) > 0 && !containsRef(consumers, e.Consumer)) {
			continue
		}
		sums[e.Consumer] = sums[e.Consumer].Add(e.Quantity)
	}
	return sums, nil
}

func (t *tx) SumReserved(ctx context.Context, filter repositories.ReservationFilter) (map[entities.BudgetKey]decimal.Decimal, error) {
	sums := make(map[entities.BudgetKey]decimal.Decimal)
	for _, e := range t.s.edges {
		if e.Mode != entities.ModeReservation || !e.Active {
			continue
		}
		if filter.ProjectID != 0 && e.ProjectID != filter.ProjectID {
			continue
		}
		if len(filter.Consumers) > 0 && !containsRef(filter.Consumers, e.Consumer) {
			continue
		}
		if len(filter.CategoryIDs) > 0 && !containsID(filter.CategoryIDs, e.Owner.ID) {
			continue
		}
		if !filter.IncludeSection.IsZero() && e.Section != filter.IncludeSection {
			continue
		}
		if !filter.ExcludeSection.IsZero() && e.Section == filter.ExcludeSection {
			continue
		}
		key := entities.BudgetKey{ProjectID: e.ProjectID, Consumer: e.Consumer, CategoryID: e.Owner.ID}
		sums[key] = sums[key].Add(e.Quantity)
	}
	return sums, nil
}

package repositories

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// EdgeFilter selects edges. Empty fields do not filter.
type EdgeFilter struct {
	Mode         entities.Mode
	ProjectID    int64
	Owners       []entities.Ref
	Consumers    []entities.Ref
	Sections     []entities.Ref
	OwnerKind    entities.Kind
	AffectedOnly bool
	ActiveOnly   bool
}

// ReservationFilter scopes reservation sums. IncludeSection and ExcludeSection
// are mutually exclusive; the zero Ref disables them.
type ReservationFilter struct {
	ProjectID      int64
	Consumers      []entities.Ref
	CategoryIDs    []int64
	IncludeSection entities.Ref
	ExcludeSection entities.Ref
}

// EdgeRepository provides access to allocation edges
type EdgeRepository interface {
	GetEdge(ctx context.Context, id int64) (*entities.AllocationEdge, error)
	FindEdge(ctx context.Context, mode entities.Mode, key entities.EdgeKey) (*entities.AllocationEdge, error)
	ListEdges(ctx context.Context, filter EdgeFilter) ([]*entities.AllocationEdge, error)
	InsertEdge(ctx context.Context, edge *entities.AllocationEdge) error
	UpdateEdge(ctx context.Context, edge *entities.AllocationEdge) error
	DeleteEdge(ctx context.Context, id int64) error

	// SumQuantityByConsumer sums edge quantities of a mode grouped by consumer.
	// Inactive edges count: archiving an owner does not free quantity.
	SumQuantityByConsumer(ctx context.Context, mode entities.Mode, consumers []entities.Ref) (map[entities.Ref]decimal.Decimal, error)
	// SumReserved sums active reservation amounts grouped by budget key.
	SumReserved(ctx context.Context, filter ReservationFilter) (map[entities.BudgetKey]decimal.Decimal, error)
}

package repositories

import (
	"context"

	"github.com/vsinha/affect/pkg/domain/entities"
)

// PositionFilter selects positions. Empty fields do not filter.
type PositionFilter struct {
	ProjectID int64
	LotIDs    []int64
	IDs       []int64
}

// GroupRepository provides access to projects, lots, phases, launches and positions
type GroupRepository interface {
	GetProject(ctx context.Context, id int64) (*entities.Project, error)
	SaveProject(ctx context.Context, project *entities.Project) error

	GetGroup(ctx context.Context, ref entities.Ref) (*entities.Group, error)
	ListGroups(ctx context.Context, projectID int64, kind entities.Kind) ([]*entities.Group, error)
	SaveGroup(ctx context.Context, group *entities.Group) error

	GetPosition(ctx context.Context, id int64) (*entities.Position, error)
	ListPositions(ctx context.Context, filter PositionFilter) ([]*entities.Position, error)
	SavePosition(ctx context.Context, position *entities.Position) error
}

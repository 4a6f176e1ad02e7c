package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

type pairKey [2]int64

type edgeIndexKey struct {
	mode entities.Mode
	key  entities.EdgeKey
}

// state holds every record. Values are stored by copy so a shallow map copy
// is an isolated snapshot.
type state struct {
	projects        map[int64]entities.Project
	groups          map[entities.Ref]entities.Group
	positions       map[int64]entities.Position
	categories      map[int64]entities.BudgetCategory
	positionBudgets map[pairKey]entities.PositionBudget
	projectBudgets  map[pairKey]entities.ProjectBudget
	hourlyCosts     []entities.HourlyCost
	sections        map[entities.Ref]entities.Section
	expenseLines    map[int64]entities.ExpenseLine
	edges           map[int64]entities.AllocationEdge
	edgeIndex       map[edgeIndexKey]int64
	nextEdgeID      int64
	nextLineID      int64
}

func newState() *state {
	return &state{
		projects:        make(map[int64]entities.Project),
		groups:          make(map[entities.Ref]entities.Group),
		positions:       make(map[int64]entities.Position),
		categories:      make(map[int64]entities.BudgetCategory),
		positionBudgets: make(map[pairKey]entities.PositionBudget),
		projectBudgets:  make(map[pairKey]entities.ProjectBudget),
		sections:        make(map[entities.Ref]entities.Section),
		expenseLines:    make(map[int64]entities.ExpenseLine),
		edges:           make(map[int64]entities.AllocationEdge),
		edgeIndex:       make(map[edgeIndexKey]int64),
		nextEdgeID:      1,
		nextLineID:      1,
	}
}

func (s *state) clone() *state {
	c := &state{
		projects:        make(map[int64]entities.Project, len(s.projects)),
		groups:          make(map[entities.Ref]entities.Group, len(s.groups)),
		positions:       make(map[int64]entities.Position, len(s.positions)),
		categories:      make(map[int64]entities.BudgetCategory, len(s.categories)),
		positionBudgets: make(map[pairKey]entities.PositionBudget, len(s.positionBudgets)),
		projectBudgets:  make(map[pairKey]entities.ProjectBudget, len(s.projectBudgets)),
		hourlyCosts:     append([]entities.HourlyCost(nil), s.hourlyCosts...),
		sections:        make(map[entities.Ref]entities.Section, len(s.sections)),
		expenseLines:    make(map[int64]entities.ExpenseLine, len(s.expenseLines)),
		edges:           make(map[int64]entities.AllocationEdge, len(s.edges)),
		edgeIndex:       make(map[edgeIndexKey]int64, len(s.edgeIndex)),
		nextEdgeID:      s.nextEdgeID,
		nextLineID:      s.nextLineID,
	}
	for k, v := range s.projects {
		c.projects[k] = v
	}
	for k, v := range s.groups {
		c.groups[k] = v
	}
	for k, v := range s.positions {
		c.positions[k] = v
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.positionBudgets {
		c.positionBudgets[k] = v
	}
	for k, v := range s.projectBudgets {
		c.projectBudgets[k] = v
	}
	for k, v := range s.sections {
		c.sections[k] = v
	}
	for k, v := range s.expenseLines {
		c.expenseLines[k] = v
	}
	for k, v := range s.edges {
		c.edges[k] = v
	}
	for k, v := range s.edgeIndex {
		c.edgeIndex[k] = v
	}
	return c
}

// Store is an in-memory transactional store. Each transaction works on a
// snapshot that replaces the committed state only when it succeeds.
type Store struct {
	mu    sync.Mutex
	state *state
}

// NewStore creates an empty in-memory store
func NewStore() *Store {
	return &Store{state: newState()}
}

// Verify interface compliance
var (
	_ repositories.Store = (*Store)(nil)
	_ repositories.Tx    = (*tx)(nil)
)

// RunInTx runs fn against a snapshot and commits it when fn returns nil.
// Transactions are serialized.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(ctx, &tx{s: snapshot}); err != nil {
		return err
	}
	s.state = snapshot
	return nil
}

// Close is a no-op for the memory store
func (s *Store) Close() error { return nil }

type tx struct {
	s *state
}

func containsRef(refs []entities.Ref, ref entities.Ref) bool {
	for _, r := range refs {
		if r == ref {
			return true
		}
	}
	return false
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Project, group and position access

func (t *tx) GetProject(ctx context.Context, id int64) (*entities.Project, error) {
	p, ok := t.s.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d: %w", id, repositories.ErrNotFound)
	}
	return &p, nil
}

func (t *tx) SaveProject(ctx context.Context, project *entities.Project) error {
	if project == nil {
		return fmt.Errorf("project is required")
	}
	t.s.projects[project.ID] = *project
	return nil
}

func (t *tx) GetGroup(ctx context.Context, ref entities.Ref) (*entities.Group, error) {
	g, ok := t.s.groups[ref]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ref, repositories.ErrNotFound)
	}
	return &g, nil
}

func (t *tx) ListGroups(ctx context.Context, projectID int64, kind entities.Kind) ([]*entities.Group, error) {
	var groups []*entities.Group
	for _, g := range t.s.groups {
		if g.Kind != kind || (projectID != 0 && g.ProjectID != projectID) {
			continue
		}
		g := g
		groups = append(groups, &g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Sequence != groups[j].Sequence {
			return groups[i].Sequence < groups[j].Sequence
		}
		return groups[i].ID < groups[j].ID
	})
	return groups, nil
}

func (t *tx) SaveGroup(ctx context.Context, group *entities.Group) error {
	if group == nil {
		return fmt.Errorf("group is required")
	}
	t.s.groups[group.Ref()] = *group
	return nil
}

func (t *tx) GetPosition(ctx context.Context, id int64) (*entities.Position, error) {
	p, ok := t.s.positions[id]
	if !ok {
		return nil, fmt.Errorf("position %d: %w", id, repositories.ErrNotFound)
	}
	return &p, nil
}

func (t *tx) ListPositions(ctx context.Context, filter repositories.PositionFilter) ([]*entities.Position, error) {
	var positions []*entities.Position
	for _, p := range t.s.positions {
		if filter.ProjectID != 0 && p.ProjectID != filter.ProjectID {
			continue
		}
		if len(filter.LotIDs) > 0 && !containsID(filter.LotIDs, p.LotID) {
			continue
		}
		if len(filter.IDs) > 0 && !containsID(filter.IDs, p.ID) {
			continue
		}
		p := p
		positions = append(positions, &p)
	}
	sort.Slice(positions, func(i, j int) bool {
		if positions[i].Sequence != positions[j].Sequence {
			return positions[i].Sequence < positions[j].Sequence
		}
		return positions[i].ID < positions[j].ID
	})
	return positions, nil
}

func (t *tx) SavePosition(ctx context.Context, position *entities.Position) error {
	if position == nil {
		return fmt.Errorf("position is required")
	}
	t.s.positions[position.ID] = *position
	return nil
}

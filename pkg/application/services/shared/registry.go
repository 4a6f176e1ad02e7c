package shared

import (
	"context"
	"fmt"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// EntityInfo is what the engine needs to know about any referenced entity
type EntityInfo struct {
	Ref       entities.Ref
	ProjectID int64
	Name      string
	Sequence  int
	Active    bool
}

// Accessor loads the EntityInfo of one kind of entity
type Accessor func(ctx context.Context, tx repositories.Tx, id int64) (EntityInfo, error)

// Registry maps each Kind to its accessor
type Registry struct {
	accessors map[entities.Kind]Accessor
}

// NewRegistry creates a registry with accessors for every built-in kind
func NewRegistry() *Registry {
	r := &Registry{accessors: make(map[entities.Kind]Accessor)}
	r.Register(entities.KindProject, projectAccessor)
	for _, kind := range []entities.Kind{entities.KindLot, entities.KindPhase, entities.KindLaunch} {
		r.Register(kind, groupAccessor(kind))
	}
	r.Register(entities.KindPosition, positionAccessor)
	r.Register(entities.KindCategory, categoryAccessor)
	r.Register(entities.KindEdge, r.edgeAccessor)
	for _, kind := range []entities.Kind{
		entities.KindPurchaseOrder, entities.KindWorkOrder, entities.KindPicking,
		entities.KindTask, entities.KindBalance,
	} {
		r.Register(kind, sectionAccessor(kind))
	}
	return r
}

// Register sets the accessor of a kind, replacing any previous one
func (r *Registry) Register(kind entities.Kind, accessor Accessor) {
	r.accessors[kind] = accessor
}

// Resolve returns the EntityInfo behind a reference
func (r *Registry) Resolve(ctx context.Context, tx repositories.Tx, ref entities.Ref) (EntityInfo, error) {
	accessor, ok := r.accessors[ref.Kind]
	if !ok {
		return EntityInfo{}, fmt.Errorf("no accessor registered for %s", ref.Kind)
	}
	info, err := accessor(ctx, tx, ref.ID)
	if err != nil {
		return EntityInfo{}, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return info, nil
}

func projectAccessor(ctx context.Context, tx repositories.Tx, id int64) (EntityInfo, error) {
	p, err := tx.GetProject(ctx, id)
	if err != nil {
		return EntityInfo{}, err
	}
	return EntityInfo{Ref: p.Ref(), ProjectID: p.ID, Name: p.Name, Sequence: p.Sequence, Active: p.Active}, nil
}

func groupAccessor(kind entities.Kind) Accessor {
	return func(ctx context.Context, tx repositories.Tx, id int64) (EntityInfo, error) {
		g, err := tx.GetGroup(ctx, entities.NewRef(kind, id))
		if err != nil {
			return EntityInfo{}, err
		}
		return EntityInfo{Ref: g.Ref(), ProjectID: g.ProjectID, Name: g.Name, Sequence: g.Sequence, Active: g.Active}, nil
	}
}

func positionAccessor(ctx context.Context, tx repositories.Tx, id int64) (EntityInfo, error) {
	p, err := tx.GetPosition(ctx, id)
	if err != nil {
		return EntityInfo{}, err
	}
	return EntityInfo{Ref: p.Ref(), ProjectID: p.ProjectID, Name: p.Name, Sequence: p.Sequence, Active: p.Active}, nil
}

func categoryAccessor(ctx context.Context, tx repositories.Tx, id int64) (EntityInfo, error) {
	c, err := tx.GetCategory(ctx, id)
	if err != nil {
		return EntityInfo{}, err
	}
	return EntityInfo{Ref: c.Ref(), Name: c.Name, Sequence: c.Sequence, Active: c.Active}, nil
}

func sectionAccessor(kind entities.Kind) Accessor {
	return func(ctx context.Context, tx repositories.Tx, id int64) (EntityInfo, error) {
		s, err := tx.GetSection(ctx, entities.NewRef(kind, id))
		if err != nil {
			return EntityInfo{}, err
		}
		return EntityInfo{Ref: s.Ref(), ProjectID: s.ProjectID, Name: s.Name, Sequence: s.Sequence, Active: s.IsLive()}, nil
	}
}

// edgeAccessor describes a nested edge by the consumer it allocates, so a
// launch row shows the position behind its phase edge.
func (r *Registry) edgeAccessor(ctx context.Context, tx repositories.Tx, id int64) (EntityInfo, error) {
	e, err := tx.GetEdge(ctx, id)
	if err != nil {
		return EntityInfo{}, err
	}
	consumer, err := r.Resolve(ctx, tx, e.Consumer)
	if err != nil {
		return EntityInfo{}, err
	}
	return EntityInfo{
		Ref:       e.Ref(),
		ProjectID: e.ProjectID,
		Name:      consumer.Name,
		Sequence:  consumer.Sequence,
		Active:    e.Active,
	}, nil
}

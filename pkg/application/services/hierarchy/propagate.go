package hierarchy

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/vsinha/affect/pkg/application/services/ledger"
	"github.com/vsinha/affect/pkg/domain/entities"
	domainerr "github.com/vsinha/affect/pkg/domain/errors"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

// Resequence changes the sequence of an entity and propagates it onto the
// mirrors of every edge referencing it. It returns the number of edges updated.
func (s *Service) Resequence(ctx context.Context, ref entities.Ref, sequence int) (int, error) {
	updated := 0
	err := s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		if err := updateEntity(ctx, w.Tx(), ref, func(seq *int, _ *bool) { *seq = sequence }); err != nil {
			return err
		}
		var err error
		updated, err = RefreshReferencing(ctx, w, ref)
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.WithFields(logrus.Fields{"entity": ref.String(), "sequence": sequence, "edges": updated}).
		Debug("propagated sequence")
	return updated, nil
}

// SetActive archives or restores an entity and recomputes the active mirror
// of every edge referencing it.
func (s *Service) SetActive(ctx context.Context, ref entities.Ref, active bool) (int, error) {
	updated := 0
	err := s.ledger.Run(ctx, func(ctx context.Context, w *ledger.Writer) error {
		if err := updateEntity(ctx, w.Tx(), ref, func(_ *int, a *bool) { *a = active }); err != nil {
			return err
		}
		var err error
		updated, err = RefreshReferencing(ctx, w, ref)
		return err
	})
	return updated, err
}

// RefreshReferencing recomputes the mirrors of the edges referencing ref as
// owner, consumer or section, then of the launch edges nested under the
// phase edges among them.
func RefreshReferencing(ctx context.Context, w *ledger.Writer, ref entities.Ref) (int, error) {
	seen := make(map[int64]bool)
	var queue []*entities.AllocationEdge
	for _, filter := range []repositories.EdgeFilter{
		{Owners: []entities.Ref{ref}},
		{Consumers: []entities.Ref{ref}},
		{Sections: []entities.Ref{ref}},
	} {
		edges, err := w.Tx().ListEdges(ctx, filter)
		if err != nil {
			return 0, fmt.Errorf("list edges referencing %s: %w", ref, err)
		}
		for _, e := range edges {
			if !seen[e.ID] {
				seen[e.ID] = true
				queue = append(queue, e)
			}
		}
	}

	updated := 0
	for len(queue) > 0 {
		edge := queue[0]
		queue = queue[1:]
		changed, err := w.Refresh(ctx, edge.ID)
		if err != nil {
			return updated, err
		}
		if changed {
			updated++
		}
		if edge.Mode != entities.ModePhase {
			continue
		}
		children, err := w.Tx().ListEdges(ctx, repositories.EdgeFilter{
			Mode:      entities.ModeLaunch,
			Consumers: []entities.Ref{edge.Ref()},
		})
		if err != nil {
			return updated, fmt.Errorf("list launch edges of %s: %w", edge, err)
		}
		for _, child := range children {
			if !seen[child.ID] {
				seen[child.ID] = true
				queue = append(queue, child)
			}
		}
	}
	return updated, nil
}

// updateEntity loads the entity behind ref, lets fn edit its sequence and
// active flag, and saves it.
func updateEntity(ctx context.Context, tx repositories.Tx, ref entities.Ref, fn func(sequence *int, active *bool)) error {
	switch {
	case ref.Kind == entities.KindProject:
		p, err := tx.GetProject(ctx, ref.ID)
		if err != nil {
			return err
		}
		fn(&p.Sequence, &p.Active)
		return tx.SaveProject(ctx, p)
	case ref.Kind == entities.KindLot || ref.Kind == entities.KindPhase || ref.Kind == entities.KindLaunch:
		g, err := tx.GetGroup(ctx, ref)
		if err != nil {
			return err
		}
		fn(&g.Sequence, &g.Active)
		return tx.SaveGroup(ctx, g)
	case ref.Kind == entities.KindPosition:
		p, err := tx.GetPosition(ctx, ref.ID)
		if err != nil {
			return err
		}
		fn(&p.Sequence, &p.Active)
		return tx.SavePosition(ctx, p)
	case ref.Kind == entities.KindCategory:
		c, err := tx.GetCategory(ctx, ref.ID)
		if err != nil {
			return err
		}
		fn(&c.Sequence, &c.Active)
		return tx.SaveCategory(ctx, c)
	case ref.Kind.IsSection():
		sec, err := tx.GetSection(ctx, ref)
		if err != nil {
			return err
		}
		fn(&sec.Sequence, &sec.Active)
		return tx.SaveSection(ctx, sec)
	default:
		return domainerr.Newf(domainerr.CodeInvalidArgument, "%s has no sequence or active flag", ref)
	}
}

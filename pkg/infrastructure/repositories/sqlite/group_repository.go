package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

func (t *tx) GetProject(ctx context.Context, id int64) (*entities.Project, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, name, sequence, active, date_start, date_end FROM projects WHERE id = ?`, id)
	var p entities.Project
	var start, end string
	if err := row.Scan(&p.ID, &p.Name, &p.Sequence, &p.Active, &start, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	var err error
	if p.DateStart, err = parseDate(start); err != nil {
		return nil, fmt.Errorf("project %d start: %w", id, err)
	}
	if p.DateEnd, err = parseDate(end); err != nil {
		return nil, fmt.Errorf("project %d end: %w", id, err)
	}
	return &p, nil
}

func (t *tx) SaveProject(ctx context.Context, project *entities.Project) error {
	if project == nil {
		return fmt.Errorf("project is required")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO projects (id, name, sequence, active, date_start, date_end)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   name = excluded.name,
		   sequence = excluded.sequence,
		   active = excluded.active,
		   date_start = excluded.date_start,
		   date_end = excluded.date_end`,
		project.ID, project.Name, project.Sequence, project.Active,
		formatDate(project.DateStart), formatDate(project.DateEnd),
	)
	if err != nil {
		return fmt.Errorf("save project %d: %w", project.ID, err)
	}
	return nil
}

const groupColumns = `kind, id, project_id, name, sequence, active, allow_many_to_many`

func scanGroup(row scanner) (*entities.Group, error) {
	var g entities.Group
	var kind int
	if err := row.Scan(&kind, &g.ID, &g.ProjectID, &g.Name, &g.Sequence, &g.Active, &g.AllowManyToMany); err != nil {
		return nil, err
	}
	g.Kind = entities.Kind(kind)
	return &g, nil
}

func (t *tx) GetGroup(ctx context.Context, ref entities.Ref) (*entities.Group, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM allocation_groups WHERE kind = ? AND id = ?`, int(ref.Kind), ref.ID)
	g, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", ref, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", ref, err)
	}
	return g, nil
}

func (t *tx) ListGroups(ctx context.Context, projectID int64, kind entities.Kind) ([]*entities.Group, error) {
	w := &where{}
	w.add("kind = ?", int(kind))
	if projectID != 0 {
		w.add("project_id = ?", projectID)
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM allocation_groups`+w.String()+` ORDER BY sequence, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list %s groups: %w", kind, err)
	}
	defer func() { _ = rows.Close() }()

	var groups []*entities.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (t *tx) SaveGroup(ctx context.Context, group *entities.Group) error {
	if group == nil {
		return fmt.Errorf("group is required")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO allocation_groups (`+groupColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (kind, id) DO UPDATE SET
		   project_id = excluded.project_id,
		   name = excluded.name,
		   sequence = excluded.sequence,
		   active = excluded.active,
		   allow_many_to_many = excluded.allow_many_to_many`,
		int(group.Kind), group.ID, group.ProjectID, group.Name, group.Sequence, group.Active, group.AllowManyToMany,
	)
	if err != nil {
		return fmt.Errorf("save %s: %w", group.Ref(), err)
	}
	return nil
}

const positionColumns = `id, project_id, lot_id, name, sequence, quantity, active`

func scanPosition(row scanner) (*entities.Position, error) {
	var p entities.Position
	var quantity int64
	if err := row.Scan(&p.ID, &p.ProjectID, &p.LotID, &p.Name, &p.Sequence, &quantity, &p.Active); err != nil {
		return nil, err
	}
	p.Quantity = fromFixed(quantity)
	return &p, nil
}

func (t *tx) GetPosition(ctx context.Context, id int64) (*entities.Position, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("position %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("get position %d: %w", id, err)
	}
	return p, nil
}

func (t *tx) ListPositions(ctx context.Context, filter repositories.PositionFilter) ([]*entities.Position, error) {
	w := &where{}
	if filter.ProjectID != 0 {
		w.add("project_id = ?", filter.ProjectID)
	}
	w.ids("lot_id", filter.LotIDs)
	w.ids("id", filter.IDs)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+positionColumns+` FROM positions`+w.String()+` ORDER BY sequence, id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var positions []*entities.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

func (t *tx) SavePosition(ctx context.Context, position *entities.Position) error {
	if position == nil {
		return fmt.Errorf("position is required")
	}
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO positions (`+positionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   project_id = excluded.project_id,
		   lot_id = excluded.lot_id,
		   name = excluded.name,
		   sequence = excluded.sequence,
		   quantity = excluded.quantity,
		   active = excluded.active`,
		position.ID, position.ProjectID, position.LotID, position.Name, position.Sequence,
		toFixed(position.Quantity), position.Active,
	)
	if err != nil {
		return fmt.Errorf("save position %d: %w", position.ID, err)
	}
	return nil
}

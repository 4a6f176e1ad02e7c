package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vsinha/affect/pkg/domain/entities"
	"github.com/vsinha/affect/pkg/domain/repositories"
)

const edgeColumns = `id, mode, project_id, owner_kind, owner_id, consumer_kind, consumer_id,
	section_kind, section_id, quantity, affected, active, exclusive,
	sequence_owner, sequence_consumer, sequence_section`

func scanEdge(row scanner) (*entities.AllocationEdge, error) {
	var e entities.AllocationEdge
	var mode, ownerKind, consumerKind, sectionKind int
	var quantity int64
	err := row.Scan(&e.ID, &mode, &e.ProjectID, &ownerKind, &e.Owner.ID, &consumerKind, &e.Consumer.ID,
		&sectionKind, &e.Section.ID, &quantity, &e.Affected, &e.Active, &e.Exclusive,
		&e.SequenceOwner, &e.SequenceConsumer, &e.SequenceSection)
	if err != nil {
		return nil, err
	}
	e.Mode = entities.Mode(mode)
	e.Owner.Kind = entities.Kind(ownerKind)
	e.Consumer.Kind = entities.Kind(consumerKind)
	e.Section.Kind = entities.Kind(sectionKind)
	e.Quantity = fromFixed(quantity)
	return &e, nil
}

func (t *tx) queryEdges(ctx context.Context, w *where) ([]*entities.AllocationEdge, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT `+edgeColumns+` FROM edges`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var edges []*entities.AllocationEdge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

func (t *tx) GetEdge(ctx context.Context, id int64) (*entities.AllocationEdge, error) {
	e, err := scanEdge(t.tx.QueryRowContext(ctx, `SELECT `+edgeColumns+` FROM edges WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("edge %d: %w", id, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("get edge %d: %w", id, err)
	}
	return e, nil
}

func (t *tx) FindEdge(ctx context.Context, mode entities.Mode, key entities.EdgeKey) (*entities.AllocationEdge, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+edgeColumns+` FROM edges
		 WHERE mode = ? AND owner_kind = ? AND owner_id = ? AND consumer_kind = ? AND consumer_id = ?
		   AND section_kind = ? AND section_id = ?`,
		int(mode), int(key.Owner.Kind), key.Owner.ID, int(key.Consumer.Kind), key.Consumer.ID,
		int(key.Section.Kind), key.Section.ID)
	e, err := scanEdge(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s edge %s: %w", mode, key, repositories.ErrNotFound)
		}
		return nil, fmt.Errorf("find %s edge %s: %w", mode, key, err)
	}
	return e, nil
}

func (t *tx) ListEdges(ctx context.Context, filter repositories.EdgeFilter) ([]*entities.AllocationEdge, error) {
	w := &where{}
	if filter.Mode != entities.ModeUnknown {
		w.add("mode = ?", int(filter.Mode))
	}
	if filter.ProjectID != 0 {
		w.add("project_id = ?", filter.ProjectID)
	}
	if filter.OwnerKind != entities.KindNone {
		w.add("owner_kind = ?", int(filter.OwnerKind))
	}
	w.refs("owner_kind", "owner_id", filter.Owners)
	w.refs("consumer_kind", "consumer_id", filter.Consumers)
	w.refs("section_kind", "section_id", filter.Sections)
	if filter.AffectedOnly {
		w.add("affected = 1")
	}
	if filter.ActiveOnly {
		w.add("active = 1")
	}
	edges, err := t.queryEdges(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("list edges: %w", err)
	}
	return edges, nil
}

func edgeArgs(edge *entities.AllocationEdge) []any {
	return []any{
		int(edge.Mode), edge.ProjectID,
		int(edge.Owner.Kind), edge.Owner.ID,
		int(edge.Consumer.Kind), edge.Consumer.ID,
		int(edge.Section.Kind), edge.Section.ID,
		toFixed(edge.Quantity), edge.Affected, edge.Active, edge.Exclusive,
		edge.SequenceOwner, edge.SequenceConsumer, edge.SequenceSection,
	}
}

func (t *tx) InsertEdge(ctx context.Context, edge *entities.AllocationEdge) error {
	if edge == nil {
		return fmt.Errorf("edge is required")
	}
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO edges (mode, project_id, owner_kind, owner_id, consumer_kind, consumer_id,
		   section_kind, section_id, quantity, affected, active, exclusive,
		   sequence_owner, sequence_consumer, sequence_section)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		edgeArgs(edge)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", edge, repositories.ErrAlreadyExists)
		}
		return fmt.Errorf("insert %s: %w", edge, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert %s: %w", edge, err)
	}
	edge.ID = id
	return nil
}

func (t *tx) UpdateEdge(ctx context.Context, edge *entities.AllocationEdge) error {
	if edge == nil {
		return fmt.Errorf("edge is required")
	}
	res, err := t.tx.ExecContext(ctx,
		`UPDATE edges SET mode = ?, project_id = ?, owner_kind = ?, owner_id = ?,
		   consumer_kind = ?, consumer_id = ?, section_kind = ?, section_id = ?,
		   quantity = ?, affected = ?, active = ?, exclusive = ?,
		   sequence_owner = ?, sequence_consumer = ?, sequence_section = ?
		 WHERE id = ?`,
		append(edgeArgs(edge), edge.ID)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", edge, repositories.ErrAlreadyExists)
		}
		return fmt.Errorf("update %s: %w", edge, err)
	}
	return expectOne(res, fmt.Sprintf("edge %d", edge.ID))
}

func (t *tx) DeleteEdge(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM edges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete edge %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("edge %d", id))
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, repositories.ErrNotFound)
	}
	return nil
}

func (t *tx) SumQuantityByConsumer(ctx context.Context, mode entities.Mode, consumers []entities.Ref) (map[entities.Ref]decimal.Decimal, error) {
	w := &where{}
	w.add("mode = ?", int(mode))
	w.refs("consumer_kind", "consumer_id", consumers)
	rows, err := t.tx.QueryContext(ctx,
		`SELECT consumer_kind, consumer_id, SUM(quantity) FROM edges`+w.String()+
			` GROUP BY consumer_kind, consumer_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("sum %s quantities: %w", mode, err)
	}
	defer func() { _ = rows.Close() }()

	sums := make(map[entities.Ref]decimal.Decimal, len(consumers))
	for rows.Next() {
		var kind int
		var id, sum int64
		if err := rows.Scan(&kind, &id, &sum); err != nil {
			return nil, fmt.Errorf("scan quantity sum: %w", err)
		}
		sums[entities.NewRef(entities.Kind(kind), id)] = fromFixed(sum)
	}
	return sums, rows.Err()
}

func (t *tx) SumReserved(ctx context.Context, filter repositories.ReservationFilter) (map[entities.BudgetKey]decimal.Decimal, error) {
	w := &where{}
	w.add("mode = ?", int(entities.ModeReservation))
	w.add("active = 1")
	if filter.ProjectID != 0 {
		w.add("project_id = ?", filter.ProjectID)
	}
	w.refs("consumer_kind", "consumer_id", filter.Consumers)
	w.ids("owner_id", filter.CategoryIDs)
	if !filter.IncludeSection.IsZero() {
		w.add("section_kind = ? AND section_id = ?", int(filter.IncludeSection.Kind), filter.IncludeSection.ID)
	}
	if !filter.ExcludeSection.IsZero() {
		w.add("NOT (section_kind = ? AND section_id = ?)", int(filter.ExcludeSection.Kind), filter.ExcludeSection.ID)
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT project_id, consumer_kind, consumer_id, owner_id, SUM(quantity) FROM edges`+w.String()+
			` GROUP BY project_id, consumer_kind, consumer_id, owner_id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("sum reservations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sums := make(map[entities.BudgetKey]decimal.Decimal)
	for rows.Next() {
		var key entities.BudgetKey
		var kind int
		var sum int64
		if err := rows.Scan(&key.ProjectID, &kind, &key.Consumer.ID, &key.CategoryID, &sum); err != nil {
			return nil, fmt.Errorf("scan reservation sum: %w", err)
		}
		key.Consumer.Kind = entities.Kind(kind)
		sums[key] = fromFixed(sum)
	}
	return sums, rows.Err()
}

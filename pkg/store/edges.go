package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const edgeColumns = "id, from_id, from_type, to_id, to_type, weight, reason, is_archived, created_at, updated_at"

func scanEdge(row interface{ Scan(...any) error }) (*Edge, error) {
	var (
		e                    Edge
		fromType, toType     string
		archived             int
		createdAt, updatedAt int64
	)
	err := row.Scan(&e.ID, &e.FromID, &fromType, &e.ToID, &toType, &e.Weight, &e.Reason,
		&archived, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	e.FromType = EntityType(fromType)
	e.ToType = EntityType(toType)
	e.IsArchived = archived != 0
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return &e, nil
}

func collectEdges(rows *sql.Rows) ([]Edge, error) {
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate edges: %w", err)
	}
	return out, nil
}

// EdgeByEndpoints returns the edge stored with exactly this orientation.
func (t *Tx) EdgeByEndpoints(ctx context.Context, fromID string, fromType EntityType, toID string, toType EntityType) (*Edge, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE from_id = ? AND from_type = ? AND to_id = ? AND to_type = ?",
		fromID, string(fromType), toID, string(toType),
	)
	e, err := scanEdge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get edge: %w", err)
	}
	return e, nil
}

// InsertEdge adds a new edge row.
func (t *Tx) InsertEdge(ctx context.Context, e *Edge) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO edges (`+edgeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.FromID, string(e.FromType), e.ToID, string(e.ToType), e.Weight, e.Reason,
		boolInt(e.IsArchived), toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert edge: %w", err)
	}
	return nil
}

// UpdateEdge overwrites weight, reason, archived flag and updated_at.
func (t *Tx) UpdateEdge(ctx context.Context, e *Edge) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE edges SET weight = ?, reason = ?, is_archived = ?, updated_at = ? WHERE id = ?",
		e.Weight, e.Reason, boolInt(e.IsArchived), toMillis(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update edge: %w", err)
	}
	return nil
}

// LiveEdges returns every non-archived edge.
func (t *Tx) LiveEdges(ctx context.Context) ([]Edge, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE is_archived = 0 ORDER BY from_type, from_id, to_type, to_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	return collectEdges(rows)
}

// LiveEdgesTouching returns non-archived edges with the entity at either end.
func (t *Tx) LiveEdgesTouching(ctx context.Context, entityType EntityType, id string) ([]Edge, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+edgeColumns+` FROM edges
		WHERE is_archived = 0
			AND ((from_type = ? AND from_id = ?) OR (to_type = ? AND to_id = ?))
		ORDER BY id
	`, string(entityType), id, string(entityType), id)
	if err != nil {
		return nil, fmt.Errorf("failed to list edges: %w", err)
	}
	return collectEdges(rows)
}

// ArchiveEdgesTouching archives every edge with the entity at either end.
func (t *Tx) ArchiveEdgesTouching(ctx context.Context, entityType EntityType, id string, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE edges SET is_archived = 1, updated_at = ?
		WHERE is_archived = 0
			AND ((from_type = ? AND from_id = ?) OR (to_type = ? AND to_id = ?))
	`, toMillis(now), string(entityType), id, string(entityType), id)
	if err != nil {
		return 0, fmt.Errorf("failed to archive edges: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ArchiveEdgesBetween archives edges joining a and b in either orientation.
func (t *Tx) ArchiveEdgesBetween(ctx context.Context, aType EntityType, aID string, bType EntityType, bID string, now time.Time) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE edges SET is_archived = 1, updated_at = ?
		WHERE is_archived = 0 AND (
			(from_type = ? AND from_id = ? AND to_type = ? AND to_id = ?)
			OR (from_type = ? AND from_id = ? AND to_type = ? AND to_id = ?)
		)
	`, toMillis(now),
		string(aType), aID, string(bType), bID,
		string(bType), bID, string(aType), aID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to archive edges: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ArchiveEdge archives one edge by id.
func (t *Tx) ArchiveEdge(ctx context.Context, id string, now time.Time) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE edges SET is_archived = 1, updated_at = ? WHERE id = ?",
		toMillis(now), id,
	)
	if err != nil {
		return fmt.Errorf("failed to archive edge: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/types"
)

// LoopFilter narrows FindLoops. Zero value returns the user's open loops.
type LoopFilter struct {
	User          string
	Person        string
	IncludeClosed bool
	DueBefore     *time.Time
	Limit         int
}

const loopColumns = `id, user, description, owner, other_party, due_date, loop_type,
	source_memory_id, created_at, closed_at, closed_note`

// CreateLoop inserts an open loop
func (s *Store) CreateLoop(ctx context.Context, l *types.OpenLoop) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO open_loops (id, user, description, owner, other_party, due_date, loop_type,
			source_memory_id, created_at, closed_at, closed_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.User, l.Description, l.Owner, nullString(l.OtherParty), nullableTime(l.DueDate), l.LoopType,
		nullString(l.SourceMemoryID), l.CreatedAt.UTC(), nullableTime(l.ClosedAt), nullString(l.ClosedNote))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errs.E(errs.Conflict, "loop %s already exists", l.ID)
		}
		return fmt.Errorf("failed to create loop: %w", err)
	}
	return nil
}

// GetLoop loads one loop by id
func (s *Store) GetLoop(ctx context.Context, id string) (*types.OpenLoop, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+loopColumns+" FROM open_loops WHERE id = ?", id)
	l, err := scanLoop(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "loop %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get loop: %w", err)
	}
	return l, nil
}

// CloseLoop marks a loop closed. Closing an already closed loop is a no-op
// that returns the loop with its original closed_at intact.
func (s *Store) CloseLoop(ctx context.Context, id string, at time.Time, note string) (*types.OpenLoop, error) {
	l, err := s.GetLoop(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.ClosedAt != nil {
		return l, nil
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE open_loops SET closed_at = ?, closed_note = ? WHERE id = ? AND closed_at IS NULL",
		at.UTC(), nullString(note), id)
	if err != nil {
		return nil, fmt.Errorf("failed to close loop: %w", err)
	}
	return s.GetLoop(ctx, id)
}

// FindLoops returns loops for a user, soonest deadline first, undated last
func (s *Store) FindLoops(ctx context.Context, f LoopFilter) ([]types.OpenLoop, error) {
	if f.User == "" {
		return nil, errs.E(errs.InvalidInput, "user is required")
	}

	var where []string
	var args []any
	where = append(where, "user = ?")
	args = append(args, f.User)
	if !f.IncludeClosed {
		where = append(where, "closed_at IS NULL")
	}
	if f.Person != "" {
		where = append(where, "other_party = ?")
		args = append(args, f.Person)
	}
	if f.DueBefore != nil {
		where = append(where, "due_date IS NOT NULL AND due_date <= ?")
		args = append(args, f.DueBefore.UTC())
	}

	query := "SELECT " + loopColumns + " FROM open_loops WHERE " + strings.Join(where, " AND ") +
		" ORDER BY due_date IS NULL, due_date ASC, created_at DESC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query loops: %w", err)
	}
	defer rows.Close()

	var out []types.OpenLoop
	for rows.Next() {
		l, err := scanLoop(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loop: %w", err)
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// CloseLoopsForMemory closes every open loop derived from a memory.
// Returns how many were closed.
func (s *Store) CloseLoopsForMemory(ctx context.Context, memoryID string, at time.Time, note string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE open_loops SET closed_at = ?, closed_note = ?
		WHERE source_memory_id = ? AND closed_at IS NULL`,
		at.UTC(), nullString(note), memoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to close loops for memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CloseLoopsForPerson closes every open loop whose other party is person
func (s *Store) CloseLoopsForPerson(ctx context.Context, user, person string, at time.Time, note string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE open_loops SET closed_at = ?, closed_note = ?
		WHERE user = ? AND other_party = ? AND closed_at IS NULL`,
		at.UTC(), nullString(note), user, person)
	if err != nil {
		return 0, fmt.Errorf("failed to close loops for person: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func scanLoop(row scanner) (*types.OpenLoop, error) {
	var l types.OpenLoop
	var otherParty, sourceID, closedNote sql.NullString
	var dueDate, closedAt sql.NullTime

	err := row.Scan(&l.ID, &l.User, &l.Description, &l.Owner, &otherParty, &dueDate, &l.LoopType,
		&sourceID, &l.CreatedAt, &closedAt, &closedNote)
	if err != nil {
		return nil, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.OtherParty = otherParty.String
	l.SourceMemoryID = sourceID.String
	l.ClosedNote = closedNote.String
	l.DueDate = timePtr(dueDate)
	l.ClosedAt = timePtr(closedAt)
	return &l, nil
}

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

// EventFilter narrows FindEvents to a person and/or date window
type EventFilter struct {
	User   string
	Person string
	From   *time.Time
	To     *time.Time
	Limit  int
}

const eventColumns = `id, user, description, person, event_date, category, source_memory_id, created_at`

// CreateEvent inserts a timeline event
func (s *Store) CreateEvent(ctx context.Context, e *types.TimelineEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO timeline_events (id, user, description, person, event_date, category, source_memory_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.User, e.Description, nullString(e.Person), e.EventDate.UTC(), e.Category,
		nullString(e.SourceMemoryID), e.CreatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errs.E(errs.Conflict, "event %s already exists", e.ID)
		}
		return fmt.Errorf("failed to create event: %w", err)
	}
	return nil
}

// FindEvents returns events in chronological order
func (s *Store) FindEvents(ctx context.Context, f EventFilter) ([]types.TimelineEvent, error) {
	if f.User == "" {
		return nil, errs.E(errs.InvalidInput, "user is required")
	}

	var where []string
	var args []any
	where = append(where, "user = ?")
	args = append(args, f.User)
	if f.Person != "" {
		where = append(where, "person = ?")
		args = append(args, f.Person)
	}
	if f.From != nil {
		where = append(where, "event_date >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, "event_date <= ?")
		args = append(args, f.To.UTC())
	}

	query := "SELECT " + eventColumns + " FROM timeline_events WHERE " + strings.Join(where, " AND ") +
		" ORDER BY event_date ASC"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []types.TimelineEvent
	for rows.Next() {
		var e types.TimelineEvent
		var person, sourceID sql.NullString
		if err := rows.Scan(&e.ID, &e.User, &e.Description, &person, &e.EventDate, &e.Category, &sourceID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.EventDate = e.EventDate.UTC()
		e.CreatedAt = e.CreatedAt.UTC()
		e.Person = person.String
		e.SourceMemoryID = sourceID.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteEventsForMemory removes every event derived from a memory.
// Returns how many were deleted.
func (s *Store) DeleteEventsForMemory(ctx context.Context, memoryID string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM timeline_events WHERE source_memory_id = ?", memoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events for memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteEventsForPerson removes every event tied to a person
func (s *Store) DeleteEventsForPerson(ctx context.Context, user, person string) (int, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM timeline_events WHERE user = ? AND person = ?", user, person)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events for person: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

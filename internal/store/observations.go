package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/types"
)

const patternColumns = `id, user, feature_key, time_of_day, day_of_week, location_bucket, event_title,
	prototype, count, confidence, status, first_observed_at, last_observed_at, formed_at, feedback`

// AppendObservation records one context observation for pattern mining
func (s *Store) AppendObservation(ctx context.Context, o *types.Observation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO observations (id, user, observed_at, time_of_day, day_of_week, location_bucket,
			location, people, activity, event_title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.User, o.ObservedAt.UTC(), o.TimeOfDay, o.DayOfWeek, nullString(o.LocationBucket),
		nullString(o.Location), marshalStrings(o.People), nullString(o.Activity), nullString(o.EventTitle))
	if err != nil {
		return fmt.Errorf("failed to append observation: %w", err)
	}
	return nil
}

// ListObservations returns a user's observations since a cutoff, oldest first
func (s *Store) ListObservations(ctx context.Context, user string, since time.Time) ([]types.Observation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user, observed_at, time_of_day, day_of_week, location_bucket,
			location, people, activity, event_title
		FROM observations WHERE user = ? AND observed_at >= ?
		ORDER BY observed_at ASC`, user, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	var out []types.Observation
	for rows.Next() {
		var o types.Observation
		var bucket, location, people, activity, eventTitle sql.NullString
		if err := rows.Scan(&o.ID, &o.User, &o.ObservedAt, &o.TimeOfDay, &o.DayOfWeek, &bucket,
			&location, &people, &activity, &eventTitle); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		o.ObservedAt = o.ObservedAt.UTC()
		o.LocationBucket = bucket.String
		o.Location = location.String
		o.People = unmarshalStrings(people)
		o.Activity = activity.String
		o.EventTitle = eventTitle.String
		out = append(out, o)
	}
	return out, rows.Err()
}

// ObservationSpan returns the count and first/last observed_at for a user
func (s *Store) ObservationSpan(ctx context.Context, user string) (count int, first, last time.Time, err error) {
	// MIN/MAX aggregates lose the column's TIMESTAMP affinity, so the driver
	// returns the stored string instead of a time.Time; scan and parse by hand.
	var f, l sql.NullString
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(observed_at), MAX(observed_at) FROM observations WHERE user = ?", user).
		Scan(&count, &f, &l)
	if err != nil {
		return 0, time.Time{}, time.Time{}, fmt.Errorf("failed to read observation span: %w", err)
	}
	if f.Valid {
		if first, err = parseStoredTime(f.String); err != nil {
			return 0, time.Time{}, time.Time{}, fmt.Errorf("failed to read observation span: %w", err)
		}
	}
	if l.Valid {
		if last, err = parseStoredTime(l.String); err != nil {
			return 0, time.Time{}, time.Time{}, fmt.Errorf("failed to read observation span: %w", err)
		}
	}
	return count, first, last, nil
}

// ObservationUsers returns every user with at least one observation.
// Drives the scheduled formation pass.
func (s *Store) ObservationUsers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user FROM observations ORDER BY user ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list observation users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// GetPattern loads one pattern by id
func (s *Store) GetPattern(ctx context.Context, id string) (*types.Pattern, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+patternColumns+" FROM patterns WHERE id = ?", id)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "pattern %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

// GetPatternByKey loads the pattern for a feature key if one exists
func (s *Store) GetPatternByKey(ctx context.Context, user, featureKey string) (*types.Pattern, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+patternColumns+" FROM patterns WHERE user = ? AND feature_key = ?", user, featureKey)
	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "pattern for %s not found", featureKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pattern: %w", err)
	}
	return p, nil
}

// ListPatterns returns a user's patterns, optionally filtered by status,
// highest confidence first
func (s *Store) ListPatterns(ctx context.Context, user string, status types.PatternStatus) ([]types.Pattern, error) {
	query := "SELECT " + patternColumns + " FROM patterns WHERE user = ?"
	args := []any{user}
	if status != "" {
		query += " AND status = ?"
		args = append(args, string(status))
	}
	query += " ORDER BY confidence DESC, count DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	defer rows.Close()

	var out []types.Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpsertPattern writes the full pattern row keyed by (user, feature_key)
func (s *Store) UpsertPattern(ctx context.Context, p *types.Pattern) error {
	protoJSON, err := json.Marshal(p.Prototype)
	if err != nil {
		return fmt.Errorf("failed to marshal prototype: %w", err)
	}
	var fbJSON any
	if len(p.Feedback) > 0 {
		b, err := json.Marshal(p.Feedback)
		if err != nil {
			return fmt.Errorf("failed to marshal feedback: %w", err)
		}
		fbJSON = string(b)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO patterns (id, user, feature_key, time_of_day, day_of_week, location_bucket, event_title,
			prototype, count, confidence, status, first_observed_at, last_observed_at, formed_at, feedback)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user, feature_key) DO UPDATE SET
			prototype = excluded.prototype,
			count = excluded.count,
			confidence = excluded.confidence,
			status = excluded.status,
			first_observed_at = excluded.first_observed_at,
			last_observed_at = excluded.last_observed_at,
			formed_at = excluded.formed_at,
			feedback = excluded.feedback`,
		p.ID, p.User, p.FeatureKey, p.TimeOfDay, p.DayOfWeek, nullString(p.LocationBucket), nullString(p.EventTitle),
		string(protoJSON), p.Count, p.Confidence, string(p.Status),
		p.FirstObservedAt.UTC(), p.LastObservedAt.UTC(), nullableTime(p.FormedAt), fbJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert pattern: %w", err)
	}
	return nil
}

func scanPattern(row scanner) (*types.Pattern, error) {
	var p types.Pattern
	var bucket, eventTitle, fbJSON sql.NullString
	var protoJSON, status string
	var formedAt sql.NullTime

	err := row.Scan(&p.ID, &p.User, &p.FeatureKey, &p.TimeOfDay, &p.DayOfWeek, &bucket, &eventTitle,
		&protoJSON, &p.Count, &p.Confidence, &status, &p.FirstObservedAt, &p.LastObservedAt, &formedAt, &fbJSON)
	if err != nil {
		return nil, err
	}
	p.FirstObservedAt = p.FirstObservedAt.UTC()
	p.LastObservedAt = p.LastObservedAt.UTC()
	p.LocationBucket = bucket.String
	p.EventTitle = eventTitle.String
	p.Status = types.PatternStatus(status)
	p.FormedAt = timePtr(formedAt)
	if err := json.Unmarshal([]byte(protoJSON), &p.Prototype); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prototype: %w", err)
	}
	if fbJSON.Valid && fbJSON.String != "" {
		if err := json.Unmarshal([]byte(fbJSON.String), &p.Feedback); err != nil {
			return nil, fmt.Errorf("failed to unmarshal feedback: %w", err)
		}
	}
	return &p, nil
}

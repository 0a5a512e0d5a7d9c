package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/types"
)

const relationshipColumns = `user, name, nicknames, total_interactions, last_interaction_at,
	trend, sensitivities, cold_threshold_days`

// GetRelationship loads one relationship by canonical name
func (s *Store) GetRelationship(ctx context.Context, user, name string) (*types.Relationship, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+relationshipColumns+" FROM relationships WHERE user = ? AND name = ?", user, name)
	r, err := scanRelationship(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "relationship %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relationship: %w", err)
	}
	return r, nil
}

// ListRelationships returns all relationships for a user, most recently
// interacted first
func (s *Store) ListRelationships(ctx context.Context, user string) ([]types.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+relationshipColumns+` FROM relationships
		WHERE user = ?
		ORDER BY last_interaction_at DESC NULLS LAST, name ASC`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	var out []types.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// UpsertRelationship writes the full relationship row, creating it if absent
func (s *Store) UpsertRelationship(ctx context.Context, r *types.Relationship) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relationships (user, name, nicknames, total_interactions, last_interaction_at,
			trend, sensitivities, cold_threshold_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user, name) DO UPDATE SET
			nicknames = excluded.nicknames,
			total_interactions = excluded.total_interactions,
			last_interaction_at = excluded.last_interaction_at,
			trend = excluded.trend,
			sensitivities = excluded.sensitivities,
			cold_threshold_days = excluded.cold_threshold_days`,
		r.User, r.Name, marshalStrings(r.Nicknames), r.TotalInteractions, nullableTime(r.LastInteractionAt),
		string(r.Trend), marshalStrings(r.Sensitivities), r.ColdThresholdDays)
	if err != nil {
		return fmt.Errorf("failed to upsert relationship: %w", err)
	}
	return nil
}

// DeleteRelationship removes a person from the registry
func (s *Store) DeleteRelationship(ctx context.Context, user, name string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM relationships WHERE user = ? AND name = ?", user, name)
	if err != nil {
		return fmt.Errorf("failed to delete relationship: %w", err)
	}
	return nil
}

func scanRelationship(row scanner) (*types.Relationship, error) {
	var r types.Relationship
	var nicknames, sensitivities sql.NullString
	var lastAt sql.NullTime
	var trend string

	err := row.Scan(&r.User, &r.Name, &nicknames, &r.TotalInteractions, &lastAt,
		&trend, &sensitivities, &r.ColdThresholdDays)
	if err != nil {
		return nil, err
	}
	r.Trend = types.EngagementTrend(trend)
	r.LastInteractionAt = timePtr(lastAt)
	r.Nicknames = unmarshalStrings(nicknames)
	r.Sensitivities = unmarshalStrings(sensitivities)
	if r.LastInteractionAt != nil {
		r.DaysSince = int(time.Since(*r.LastInteractionAt).Hours() / 24)
	}
	return &r, nil
}

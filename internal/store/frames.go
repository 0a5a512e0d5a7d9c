package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/types"
)

const frameColumns = `user, device_id, device_type, location, people, activity, mood, calendar, last_updated`

// UpsertFrame writes the full frame row for (user, device)
func (s *Store) UpsertFrame(ctx context.Context, f *types.ContextFrame) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO context_frames (user, device_id, device_type, location, people, activity, mood, calendar, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user, device_id) DO UPDATE SET
			device_type = excluded.device_type,
			location = excluded.location,
			people = excluded.people,
			activity = excluded.activity,
			mood = excluded.mood,
			calendar = excluded.calendar,
			last_updated = excluded.last_updated`,
		f.User, f.DeviceID, string(f.DeviceType),
		marshalDim(f.Location), marshalListDim(f.People), marshalDim(f.Activity),
		marshalDim(f.Mood), marshalDim(f.Calendar), f.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert frame: %w", err)
	}
	return nil
}

// GetFrame loads the frame for one device
func (s *Store) GetFrame(ctx context.Context, user, deviceID string) (*types.ContextFrame, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+frameColumns+" FROM context_frames WHERE user = ? AND device_id = ?", user, deviceID)
	f, err := scanFrame(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "no context frame for device %s", deviceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get frame: %w", err)
	}
	return f, nil
}

// ListFrames returns all frames for a user, most recently updated first
func (s *Store) ListFrames(ctx context.Context, user string) ([]types.ContextFrame, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+frameColumns+` FROM context_frames
		WHERE user = ? ORDER BY last_updated DESC, device_id ASC`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list frames: %w", err)
	}
	defer rows.Close()

	var out []types.ContextFrame
	for rows.Next() {
		f, err := scanFrame(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan frame: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// DeleteFrame removes one device's frame
func (s *Store) DeleteFrame(ctx context.Context, user, deviceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM context_frames WHERE user = ? AND device_id = ?", user, deviceID)
	if err != nil {
		return fmt.Errorf("failed to delete frame: %w", err)
	}
	return nil
}

// CountFrames returns how many device frames the user has
func (s *Store) CountFrames(ctx context.Context, user string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM context_frames WHERE user = ?", user).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}
	return n, nil
}

func scanFrame(row scanner) (*types.ContextFrame, error) {
	var f types.ContextFrame
	var deviceType string
	var location, people, activity, mood, calendar sql.NullString

	err := row.Scan(&f.User, &f.DeviceID, &deviceType, &location, &people, &activity, &mood, &calendar, &f.LastUpdated)
	if err != nil {
		return nil, err
	}
	f.LastUpdated = f.LastUpdated.UTC()
	f.DeviceType = types.DeviceType(deviceType)
	f.Location = unmarshalDim(location)
	f.People = unmarshalListDim(people)
	f.Activity = unmarshalDim(activity)
	f.Mood = unmarshalDim(mood)
	f.Calendar = unmarshalDim(calendar)
	return &f, nil
}

func marshalDim(d *types.Dimension) any {
	if d == nil {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalDim(ns sql.NullString) *types.Dimension {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var d types.Dimension
	if err := json.Unmarshal([]byte(ns.String), &d); err != nil {
		return nil
	}
	return &d
}

func marshalListDim(d *types.ListDimension) any {
	if d == nil {
		return nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalListDim(ns sql.NullString) *types.ListDimension {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var d types.ListDimension
	if err := json.Unmarshal([]byte(ns.String), &d); err != nil {
		return nil
	}
	return &d
}

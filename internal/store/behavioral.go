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

// GetFingerprint loads one user's behavioral fingerprint
func (s *Store) GetFingerprint(ctx context.Context, user string) (*types.Fingerprint, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT user, sample_count, signals, last_updated FROM behavioral_fingerprints WHERE user = ?", user)
	f, err := scanFingerprint(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "no fingerprint for %s", user)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint: %w", err)
	}
	return f, nil
}

// ListFingerprints returns every stored fingerprint. Identification compares
// a message against all of them.
func (s *Store) ListFingerprints(ctx context.Context) ([]types.Fingerprint, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user, sample_count, signals, last_updated FROM behavioral_fingerprints ORDER BY user ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	var out []types.Fingerprint
	for rows.Next() {
		f, err := scanFingerprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// UpsertFingerprint writes the full fingerprint row
func (s *Store) UpsertFingerprint(ctx context.Context, f *types.Fingerprint) error {
	sigJSON, err := json.Marshal(f.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO behavioral_fingerprints (user, sample_count, signals, last_updated)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user) DO UPDATE SET
			sample_count = excluded.sample_count,
			signals = excluded.signals,
			last_updated = excluded.last_updated`,
		f.User, f.SampleCount, string(sigJSON), f.LastUpdated.UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert fingerprint: %w", err)
	}
	return nil
}

// InsertPrediction records one identification attempt
func (s *Store) InsertPrediction(ctx context.Context, p *types.IdentityPrediction) error {
	var scoresJSON any
	if len(p.BlockScores) > 0 {
		b, err := json.Marshal(p.BlockScores)
		if err != nil {
			return fmt.Errorf("failed to marshal block scores: %w", err)
		}
		scoresJSON = string(b)
	}
	var sigJSON any
	if p.Signals != nil {
		b, err := json.Marshal(p.Signals)
		if err != nil {
			return fmt.Errorf("failed to marshal signals: %w", err)
		}
		sigJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO behavioral_predictions (id, message_hash, predicted_user, confidence, block_scores, signals, observed_at, feedback, feedback_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.MessageHash, nullString(p.PredictedUser), p.Confidence, scoresJSON, sigJSON,
		p.ObservedAt.UTC(), nullString(p.Feedback), nullableTime(p.FeedbackAt))
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

// GetPrediction loads one prediction by id
func (s *Store) GetPrediction(ctx context.Context, id string) (*types.IdentityPrediction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, message_hash, predicted_user, confidence, block_scores, signals, observed_at, feedback, feedback_at
		FROM behavioral_predictions WHERE id = ?`, id)
	p, err := scanPrediction(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "prediction %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

// SetPredictionFeedback stamps feedback on a prediction exactly once.
// A second stamp is a Conflict so a correction cannot be double-applied.
func (s *Store) SetPredictionFeedback(ctx context.Context, id, feedback string, at time.Time) error {
	p, err := s.GetPrediction(ctx, id)
	if err != nil {
		return err
	}
	if p.Feedback != "" {
		return errs.E(errs.Conflict, "prediction %s already has feedback", id)
	}
	_, err = s.db.ExecContext(ctx,
		"UPDATE behavioral_predictions SET feedback = ?, feedback_at = ? WHERE id = ?",
		feedback, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set prediction feedback: %w", err)
	}
	return nil
}

// PredictionStats summarizes identification accuracy for status reporting
type PredictionStats struct {
	Total     int `json:"total"`
	Confirmed int `json:"confirmed"`
	Corrected int `json:"corrected"`
	Unlabeled int `json:"unlabeled"`
}

// PredictionAccuracy tallies feedback across all predictions
func (s *Store) PredictionAccuracy(ctx context.Context) (PredictionStats, error) {
	var st PredictionStats
	rows := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM behavioral_predictions", &st.Total},
		{"SELECT COUNT(*) FROM behavioral_predictions WHERE feedback = 'confirmed'", &st.Confirmed},
		{"SELECT COUNT(*) FROM behavioral_predictions WHERE feedback LIKE 'corrected:%'", &st.Corrected},
		{"SELECT COUNT(*) FROM behavioral_predictions WHERE feedback IS NULL OR feedback = ''", &st.Unlabeled},
	}
	for _, r := range rows {
		if err := s.db.QueryRowContext(ctx, r.query).Scan(r.dst); err != nil {
			return st, fmt.Errorf("failed to count predictions: %w", err)
		}
	}
	return st, nil
}

func scanFingerprint(row scanner) (*types.Fingerprint, error) {
	var f types.Fingerprint
	var sigJSON string
	var lastUpdated sql.NullTime

	if err := row.Scan(&f.User, &f.SampleCount, &sigJSON, &lastUpdated); err != nil {
		return nil, err
	}
	if lastUpdated.Valid {
		f.LastUpdated = lastUpdated.Time.UTC()
	}
	if err := json.Unmarshal([]byte(sigJSON), &f.Signals); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
	}
	return &f, nil
}

func scanPrediction(row scanner) (*types.IdentityPrediction, error) {
	var p types.IdentityPrediction
	var predicted, scoresJSON, sigJSON, feedback sql.NullString
	var feedbackAt sql.NullTime

	err := row.Scan(&p.ID, &p.MessageHash, &predicted, &p.Confidence, &scoresJSON, &sigJSON, &p.ObservedAt, &feedback, &feedbackAt)
	if err != nil {
		return nil, err
	}
	p.ObservedAt = p.ObservedAt.UTC()
	p.PredictedUser = predicted.String
	p.Feedback = feedback.String
	p.FeedbackAt = timePtr(feedbackAt)
	if scoresJSON.Valid && scoresJSON.String != "" {
		if err := json.Unmarshal([]byte(scoresJSON.String), &p.BlockScores); err != nil {
			return nil, fmt.Errorf("failed to unmarshal block scores: %w", err)
		}
	}
	if sigJSON.Valid && sigJSON.String != "" {
		var sig types.Signals
		if err := json.Unmarshal([]byte(sigJSON.String), &sig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
		}
		p.Signals = &sig
	}
	return &p, nil
}

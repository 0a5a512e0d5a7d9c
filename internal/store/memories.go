package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vthunder/memento/internal/errs"
	"github.com/vthunder/memento/internal/types"
)

// MemoryFilter narrows FindMemories. User is required; everything else is
// optional. People and Topics match any-of. States defaults to active only.
type MemoryFilter struct {
	User        string
	People      []string
	Topics      []string
	Project     string
	Since       *time.Time
	Until       *time.Time
	MinSalience int
	States      []types.ForgottenState
	Limit       int
}

const memoryColumns = `id, user, created_at, text, normalized_text, features, salience, factors,
	tier, envelope, forgotten, forgotten_at, forgotten_reason, project,
	added_tags, added_topics, vector_state, extraction_status, last_voted_at`

// InsertMemory writes a memory and its people rows in one transaction.
// A duplicate id is a Conflict.
func (s *Store) InsertMemory(ctx context.Context, m *types.Memory) error {
	featJSON, err := json.Marshal(m.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	factJSON, err := json.Marshal(m.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	var envJSON any
	if m.Envelope != nil {
		b, err := json.Marshal(m.Envelope)
		if err != nil {
			return fmt.Errorf("failed to marshal envelope: %w", err)
		}
		envJSON = string(b)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memories (id, user, created_at, text, normalized_text, features, salience, factors,
			tier, envelope, forgotten, forgotten_at, forgotten_reason, project,
			added_tags, added_topics, vector_state, extraction_status, last_voted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.User, m.CreatedAt.UTC(), m.Text, m.NormalizedText, string(featJSON), m.Salience, string(factJSON),
		string(m.Tier), envJSON, string(m.Forgotten), nullableTime(m.ForgottenAt), nullString(m.ForgottenReason), nullString(m.Project),
		marshalStrings(m.AddedTags), marshalStrings(m.AddedTopics), string(m.VectorState), string(m.ExtractionStatus), nullableTime(m.LastVotedAt))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return errs.E(errs.Conflict, "memory %s already exists", m.ID)
		}
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	if err := replacePeople(ctx, tx, m.ID, m.User, m.Features.People); err != nil {
		return err
	}
	return tx.Commit()
}

// replacePeople rewrites the memory_people rows for a memory
func replacePeople(ctx context.Context, tx *sql.Tx, memoryID, user string, people []string) error {
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_people WHERE memory_id = ?", memoryID); err != nil {
		return fmt.Errorf("failed to clear people: %w", err)
	}
	for _, p := range people {
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO memory_people (memory_id, user, person) VALUES (?, ?, ?)",
			memoryID, user, p)
		if err != nil {
			return fmt.Errorf("failed to insert person %q: %w", p, err)
		}
	}
	return nil
}

// GetMemory loads one memory by id regardless of forgotten state
func (s *Store) GetMemory(ctx context.Context, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memoryColumns+" FROM memories WHERE id = ?", id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, errs.E(errs.NotFound, "memory %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// FindMemories returns memories matching the filter, newest first.
// Topic matching happens after the scan; everything else is pushed to SQL.
func (s *Store) FindMemories(ctx context.Context, f MemoryFilter) ([]types.Memory, error) {
	if f.User == "" {
		return nil, errs.E(errs.InvalidInput, "user is required")
	}

	var where []string
	var args []any
	where = append(where, "user = ?")
	args = append(args, f.User)

	states := f.States
	if len(states) == 0 {
		states = []types.ForgottenState{types.StateActive}
	}
	ph := make([]string, len(states))
	for i, st := range states {
		ph[i] = "?"
		args = append(args, string(st))
	}
	where = append(where, "forgotten IN ("+strings.Join(ph, ",")+")")

	if len(f.People) > 0 {
		ph := make([]string, len(f.People))
		pargs := make([]any, 0, len(f.People)+1)
		pargs = append(pargs, f.User)
		for i, p := range f.People {
			ph[i] = "?"
			pargs = append(pargs, p)
		}
		where = append(where, "id IN (SELECT memory_id FROM memory_people WHERE user = ? AND person IN ("+strings.Join(ph, ",")+"))")
		args = append(args, pargs...)
	}
	if f.Project != "" {
		where = append(where, "project = ?")
		args = append(args, f.Project)
	}
	if f.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.Since.UTC())
	}
	if f.Until != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.Until.UTC())
	}
	if f.MinSalience > 0 {
		where = append(where, "salience >= ?")
		args = append(args, f.MinSalience)
	}

	query := "SELECT " + memoryColumns + " FROM memories WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC, id DESC"
	if f.Limit > 0 && len(f.Topics) == 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer rows.Close()

	var out []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		if len(f.Topics) > 0 && !matchesAnyTopic(m, f.Topics) {
			continue
		}
		out = append(out, *m)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, rows.Err()
}

// matchesAnyTopic reports whether the memory carries any of the wanted
// topics, including caller-added ones
func matchesAnyTopic(m *types.Memory, topics []string) bool {
	have := make(map[string]bool)
	for _, t := range m.AllTopics() {
		have[strings.ToLower(t)] = true
	}
	for _, t := range topics {
		if have[strings.ToLower(t)] {
			return true
		}
	}
	return false
}

// RecentMemories returns up to limit active memories created at or after
// since, newest first. Used for novelty scoring and trend computation.
func (s *Store) RecentMemories(ctx context.Context, user string, since time.Time, limit int) ([]types.Memory, error) {
	return s.FindMemories(ctx, MemoryFilter{User: user, Since: &since, Limit: limit})
}

// UpdateVote applies a clamped salience delta and stamps last_voted_at.
// Returns the new salience.
func (s *Store) UpdateVote(ctx context.Context, id string, delta int, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories
		SET salience = MAX(0, MIN(100, salience + ?)), last_voted_at = ?
		WHERE id = ?`, delta, at.UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("failed to update vote: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return 0, errs.E(errs.NotFound, "memory %s not found", id)
	}
	var salience int
	if err := s.db.QueryRowContext(ctx, "SELECT salience FROM memories WHERE id = ?", id).Scan(&salience); err != nil {
		return 0, fmt.Errorf("failed to read salience: %w", err)
	}
	return salience, nil
}

// SetForgotten moves a memory to a forgotten state (or back to active,
// clearing the timestamp and reason)
func (s *Store) SetForgotten(ctx context.Context, id string, state types.ForgottenState, at *time.Time, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE memories SET forgotten = ?, forgotten_at = ?, forgotten_reason = ?
		WHERE id = ?`, string(state), nullableTime(at), nullString(reason), id)
	if err != nil {
		return fmt.Errorf("failed to set forgotten state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.E(errs.NotFound, "memory %s not found", id)
	}
	return nil
}

// UpdateExtraction rewrites the derived fields after reassociation:
// features, factors, salience, people rows, tier and vector state stay
// whatever the caller computed.
func (s *Store) UpdateExtraction(ctx context.Context, m *types.Memory) error {
	featJSON, err := json.Marshal(m.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}
	factJSON, err := json.Marshal(m.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE memories
		SET features = ?, factors = ?, salience = ?, project = ?,
			added_tags = ?, added_topics = ?, vector_state = ?, extraction_status = ?
		WHERE id = ?`,
		string(featJSON), string(factJSON), m.Salience, nullString(m.Project),
		marshalStrings(m.AddedTags), marshalStrings(m.AddedTopics),
		string(m.VectorState), string(m.ExtractionStatus), m.ID)
	if err != nil {
		return fmt.Errorf("failed to update extraction: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.E(errs.NotFound, "memory %s not found", m.ID)
	}
	if err := replacePeople(ctx, tx, m.ID, m.User, m.Features.People); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkVectorState records the outcome of an embedding attempt
func (s *Store) MarkVectorState(ctx context.Context, id string, state types.VectorState) error {
	res, err := s.db.ExecContext(ctx, "UPDATE memories SET vector_state = ? WHERE id = ?", string(state), id)
	if err != nil {
		return fmt.Errorf("failed to mark vector state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.E(errs.NotFound, "memory %s not found", id)
	}
	return nil
}

// ListVectorPending returns active non-vault memories still waiting for an
// embedding, oldest first so retries drain in arrival order
func (s *Store) ListVectorPending(ctx context.Context, limit int) ([]types.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE vector_state = 'pending' AND forgotten = 'active' AND tier != 'vault'
		ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending vectors: %w", err)
	}
	defer rows.Close()

	var out []types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// ListHardDeletable returns ids of pending_delete memories whose grace
// period expired at or before cutoff
func (s *Store) ListHardDeletable(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM memories
		WHERE forgotten = 'pending_delete' AND forgotten_at IS NOT NULL AND forgotten_at <= ?`,
		cutoff.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list deletable memories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HardDelete permanently removes a memory and everything derived from it
func (s *Store) HardDelete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM open_loops WHERE source_memory_id = ?",
		"DELETE FROM timeline_events WHERE source_memory_id = ?",
		"DELETE FROM memory_people WHERE memory_id = ?",
		"DELETE FROM memories WHERE id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return fmt.Errorf("failed to hard delete: %w", err)
		}
	}
	return tx.Commit()
}

// MemoriesMentioning returns active memory ids for a person, used when a
// whole person is forgotten
func (s *Store) MemoriesMentioning(ctx context.Context, user, person string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM memories m
		JOIN memory_people p ON p.memory_id = m.id
		WHERE p.user = ? AND p.person = ? AND m.forgotten = 'active'`, user, person)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories by person: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountInteractions counts active memories mentioning person created at or
// after since. Drives engagement trends.
func (s *Store) CountInteractions(ctx context.Context, user, person string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memories m
		JOIN memory_people p ON p.memory_id = m.id
		WHERE p.user = ? AND p.person = ? AND m.forgotten = 'active' AND m.created_at >= ?`,
		user, person, since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count interactions: %w", err)
	}
	return n, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanMemory(row scanner) (*types.Memory, error) {
	var m types.Memory
	var featJSON, factJSON string
	var envJSON, reason, project, addedTags, addedTopics sql.NullString
	var forgottenAt, lastVotedAt sql.NullTime
	var tier, forgotten, vectorState, extractionStatus string

	err := row.Scan(&m.ID, &m.User, &m.CreatedAt, &m.Text, &m.NormalizedText, &featJSON, &m.Salience, &factJSON,
		&tier, &envJSON, &forgotten, &forgottenAt, &reason, &project,
		&addedTags, &addedTopics, &vectorState, &extractionStatus, &lastVotedAt)
	if err != nil {
		return nil, err
	}

	m.CreatedAt = m.CreatedAt.UTC()
	m.Tier = types.SecurityTier(tier)
	m.Forgotten = types.ForgottenState(forgotten)
	m.VectorState = types.VectorState(vectorState)
	m.ExtractionStatus = types.ExtractionStatus(extractionStatus)
	m.ForgottenAt = timePtr(forgottenAt)
	m.LastVotedAt = timePtr(lastVotedAt)
	m.ForgottenReason = reason.String
	m.Project = project.String

	if err := json.Unmarshal([]byte(featJSON), &m.Features); err != nil {
		return nil, fmt.Errorf("failed to unmarshal features: %w", err)
	}
	if err := json.Unmarshal([]byte(factJSON), &m.Factors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal factors: %w", err)
	}
	if envJSON.Valid && envJSON.String != "" {
		var env types.Envelope
		if err := json.Unmarshal([]byte(envJSON.String), &env); err != nil {
			return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
		}
		m.Envelope = &env
	}
	m.AddedTags = unmarshalStrings(addedTags)
	m.AddedTopics = unmarshalStrings(addedTopics)
	return &m, nil
}

// nullString converts "" to NULL for optional text columns
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// marshalStrings stores a string slice as a JSON column, NULL when empty
func marshalStrings(ss []string) any {
	if len(ss) == 0 {
		return nil
	}
	b, err := json.Marshal(ss)
	if err != nil {
		return nil
	}
	return string(b)
}

func unmarshalStrings(ns sql.NullString) []string {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(ns.String), &ss); err != nil {
		return nil
	}
	return ss
}

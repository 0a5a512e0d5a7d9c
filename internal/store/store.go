// Package store is the persistence gateway: the only component that mutates
// the metadata database. One file per collection; all access goes through
// typed methods on Store.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vthunder/memento/internal/logging"
)

// Store wraps the SQLite metadata database
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the database at path and applies migrations
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	logging.Info("store", "opened %s", path)
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the base schema and applies incremental migrations
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		user TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		text TEXT NOT NULL DEFAULT '',
		normalized_text TEXT NOT NULL DEFAULT '',
		features TEXT NOT NULL DEFAULT '{}',
		salience INTEGER NOT NULL DEFAULT 0,
		factors TEXT NOT NULL DEFAULT '{}',
		tier TEXT NOT NULL DEFAULT 'general',
		envelope TEXT,
		forgotten TEXT NOT NULL DEFAULT 'active',
		forgotten_at TIMESTAMP,
		forgotten_reason TEXT,
		project TEXT,
		added_tags TEXT,
		added_topics TEXT,
		vector_state TEXT NOT NULL DEFAULT 'pending',
		extraction_status TEXT NOT NULL DEFAULT 'empty'
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user_created ON memories(user, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_user_salience ON memories(user, salience DESC);
	CREATE INDEX IF NOT EXISTS idx_memories_user_forgotten ON memories(user, forgotten);
	CREATE INDEX IF NOT EXISTS idx_memories_vector_state ON memories(vector_state);

	CREATE TABLE IF NOT EXISTS memory_people (
		memory_id TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		user TEXT NOT NULL,
		person TEXT NOT NULL,
		PRIMARY KEY (memory_id, person)
	);
	CREATE INDEX IF NOT EXISTS idx_memory_people_user_person ON memory_people(user, person);

	CREATE TABLE IF NOT EXISTS open_loops (
		id TEXT PRIMARY KEY,
		user TEXT NOT NULL,
		description TEXT NOT NULL,
		owner TEXT NOT NULL DEFAULT 'self',
		other_party TEXT,
		due_date TIMESTAMP,
		loop_type TEXT NOT NULL DEFAULT 'followup',
		source_memory_id TEXT,
		created_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		closed_note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_loops_user_closed ON open_loops(user, closed_at);
	CREATE INDEX IF NOT EXISTS idx_loops_source ON open_loops(source_memory_id);

	CREATE TABLE IF NOT EXISTS timeline_events (
		id TEXT PRIMARY KEY,
		user TEXT NOT NULL,
		description TEXT NOT NULL,
		person TEXT,
		event_date TIMESTAMP NOT NULL,
		category TEXT NOT NULL DEFAULT 'meeting',
		source_memory_id TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user_date ON timeline_events(user, event_date);
	CREATE INDEX IF NOT EXISTS idx_events_source ON timeline_events(source_memory_id);

	CREATE TABLE IF NOT EXISTS relationships (
		user TEXT NOT NULL,
		name TEXT NOT NULL,
		nicknames TEXT,
		total_interactions INTEGER NOT NULL DEFAULT 0,
		last_interaction_at TIMESTAMP,
		trend TEXT NOT NULL DEFAULT 'stable',
		sensitivities TEXT,
		cold_threshold_days INTEGER NOT NULL DEFAULT 30,
		PRIMARY KEY (user, name)
	);

	CREATE TABLE IF NOT EXISTS context_frames (
		user TEXT NOT NULL,
		device_id TEXT NOT NULL,
		device_type TEXT NOT NULL DEFAULT 'api',
		location TEXT,
		people TEXT,
		activity TEXT,
		mood TEXT,
		calendar TEXT,
		last_updated TIMESTAMP NOT NULL,
		PRIMARY KEY (user, device_id)
	);
	CREATE INDEX IF NOT EXISTS idx_frames_user_updated ON context_frames(user, last_updated);

	CREATE TABLE IF NOT EXISTS observations (
		id TEXT PRIMARY KEY,
		user TEXT NOT NULL,
		observed_at TIMESTAMP NOT NULL,
		time_of_day TEXT NOT NULL,
		day_of_week TEXT NOT NULL,
		location_bucket TEXT,
		location TEXT,
		people TEXT,
		activity TEXT,
		event_title TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_observations_user_time ON observations(user, observed_at);

	CREATE TABLE IF NOT EXISTS patterns (
		id TEXT PRIMARY KEY,
		user TEXT NOT NULL,
		feature_key TEXT NOT NULL,
		time_of_day TEXT NOT NULL,
		day_of_week TEXT NOT NULL,
		location_bucket TEXT,
		event_title TEXT,
		prototype TEXT NOT NULL DEFAULT '{}',
		count INTEGER NOT NULL DEFAULT 0,
		confidence REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'new',
		first_observed_at TIMESTAMP,
		last_observed_at TIMESTAMP,
		formed_at TIMESTAMP,
		feedback TEXT,
		UNIQUE (user, feature_key)
	);
	CREATE INDEX IF NOT EXISTS idx_patterns_user_status ON patterns(user, status);

	CREATE TABLE IF NOT EXISTS behavioral_fingerprints (
		user TEXT PRIMARY KEY,
		sample_count INTEGER NOT NULL DEFAULT 0,
		signals TEXT NOT NULL DEFAULT '{}',
		last_updated TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS behavioral_predictions (
		id TEXT PRIMARY KEY,
		message_hash TEXT NOT NULL,
		predicted_user TEXT,
		confidence REAL NOT NULL DEFAULT 0,
		block_scores TEXT,
		observed_at TIMESTAMP NOT NULL,
		feedback TEXT,
		feedback_at TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_predictions_observed ON behavioral_predictions(observed_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return s.runMigrations()
}

// runMigrations applies versioned schema changes beyond the base schema
func (s *Store) runMigrations() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 1) FROM schema_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	migrations := []struct {
		version int
		stmts   []string
	}{
		{2, []string{
			`ALTER TABLE memories ADD COLUMN last_voted_at TIMESTAMP`,
		}},
		{3, []string{
			`CREATE INDEX IF NOT EXISTS idx_loops_user_due ON open_loops(user, due_date)`,
		}},
		{4, []string{
			`ALTER TABLE behavioral_predictions ADD COLUMN signals TEXT`,
		}},
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		for _, stmt := range m.stmts {
			if _, err := s.db.Exec(stmt); err != nil {
				return fmt.Errorf("migration %d failed: %w", m.version, err)
			}
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		logging.Info("store", "applied migration v%d", m.version)
		version = m.version
	}
	return nil
}

// Counts is the per-collection row count snapshot for status reporting
type Counts struct {
	Memories      int `json:"memories"`
	PendingVector int `json:"pending_vector"`
	OpenLoops     int `json:"open_loops"`
	ClosedLoops   int `json:"closed_loops"`
	Events        int `json:"events"`
	Relationships int `json:"relationships"`
	Frames        int `json:"frames"`
	Observations  int `json:"observations"`
	Patterns      int `json:"patterns"`
	Formed        int `json:"formed_patterns"`
	Fingerprints  int `json:"fingerprints"`
	Predictions   int `json:"predictions"`
}

// Stats returns row counts across all collections
func (s *Store) Stats() (Counts, error) {
	var c Counts
	rows := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM memories", &c.Memories},
		{"SELECT COUNT(*) FROM memories WHERE vector_state = 'pending'", &c.PendingVector},
		{"SELECT COUNT(*) FROM open_loops WHERE closed_at IS NULL", &c.OpenLoops},
		{"SELECT COUNT(*) FROM open_loops WHERE closed_at IS NOT NULL", &c.ClosedLoops},
		{"SELECT COUNT(*) FROM timeline_events", &c.Events},
		{"SELECT COUNT(*) FROM relationships", &c.Relationships},
		{"SELECT COUNT(*) FROM context_frames", &c.Frames},
		{"SELECT COUNT(*) FROM observations", &c.Observations},
		{"SELECT COUNT(*) FROM patterns", &c.Patterns},
		{"SELECT COUNT(*) FROM patterns WHERE status = 'formed'", &c.Formed},
		{"SELECT COUNT(*) FROM behavioral_fingerprints", &c.Fingerprints},
		{"SELECT COUNT(*) FROM behavioral_predictions", &c.Predictions},
	}
	for _, r := range rows {
		if err := s.db.QueryRow(r.query).Scan(r.dst); err != nil {
			return c, fmt.Errorf("failed to count: %w", err)
		}
	}
	return c, nil
}

// nullableTime converts *time.Time for SQL binding
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// timePtr converts a valid NullTime back to *time.Time
func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// parseStoredTime parses a timestamp the sqlite driver stored for a
// time.Time bind parameter ("2006-01-02 15:04:05.999999999 -0700 MST")
func parseStoredTime(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02 15:04:05.999999999 -0700 MST", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse stored time %q: %w", s, err)
	}
	return t.UTC(), nil
}

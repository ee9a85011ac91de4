// internal/telemetry/store.go
package telemetry

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is an append-only SQLite store for telemetry records and insights.
// Records are pure inserts keyed by (ts_unix, id); nothing is ever updated.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) a SQLite database at path and runs schema
// migrations.
func NewStore(path string) (*Store, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Store{db: sqlDB}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates all required tables if they do not already exist.
func (s *Store) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS telemetry (
    id TEXT NOT NULL,
    ts_unix INTEGER NOT NULL,
    kind TEXT NOT NULL,
    level TEXT,
    producer_hash TEXT,
    agent_path TEXT,
    tags TEXT,
    payload BLOB,
    PRIMARY KEY (ts_unix, id)
);

CREATE TABLE IF NOT EXISTS insights (
    id TEXT NOT NULL,
    ts_unix INTEGER NOT NULL,
    tier TEXT NOT NULL,
    focus TEXT,
    summary TEXT NOT NULL,
    PRIMARY KEY (ts_unix, id)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// InsertRecord appends a telemetry record. Concurrent writers are safe since
// every call is a pure insert.
func (s *Store) InsertRecord(rec *Record) error {
	tags, err := json.Marshal(rec.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO telemetry (id, ts_unix, kind, level, producer_hash, agent_path, tags, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TSUnix, rec.Kind, rec.Level, rec.ProducerHash,
		rec.AgentPath, string(tags), []byte(rec.Payload),
	)
	if err != nil {
		return fmt.Errorf("insert telemetry record: %w", err)
	}
	return nil
}

// RecentRecords returns the most recent n records in non-decreasing
// (ts_unix, id) order.
func (s *Store) RecentRecords(n int) ([]Record, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT id, ts_unix, kind, level, producer_hash, agent_path, tags, payload
		 FROM telemetry ORDER BY ts_unix DESC, id DESC LIMIT ?`, n,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent records: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var level, producerHash, agentPath sql.NullString
		var tags string
		var payload []byte
		if err := rows.Scan(&rec.ID, &rec.TSUnix, &rec.Kind, &level,
			&producerHash, &agentPath, &tags, &payload); err != nil {
			return nil, fmt.Errorf("scan telemetry record: %w", err)
		}
		rec.Level = level.String
		rec.ProducerHash = producerHash.String
		rec.AgentPath = agentPath.String
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &rec.Tags); err != nil {
				return nil, fmt.Errorf("unmarshal tags: %w", err)
			}
		}
		rec.Payload = json.RawMessage(payload)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate telemetry records: %w", err)
	}

	// The query walks newest-first; callers want ascending order.
	for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
		recs[i], recs[j] = recs[j], recs[i]
	}
	return recs, nil
}

// CountRecords returns the total number of stored telemetry records.
func (s *Store) CountRecords() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM telemetry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count telemetry records: %w", err)
	}
	return n, nil
}

// InsertInsight appends a derived insight.
func (s *Store) InsertInsight(ins *Insight) error {
	_, err := s.db.Exec(
		`INSERT INTO insights (id, ts_unix, tier, focus, summary)
		 VALUES (?, ?, ?, ?, ?)`,
		ins.ID, ins.TSUnix, ins.Tier, ins.Focus, ins.Summary,
	)
	if err != nil {
		return fmt.Errorf("insert insight: %w", err)
	}
	return nil
}

// LatestInsight returns the most recent insight, or nil if none exists.
func (s *Store) LatestInsight() (*Insight, error) {
	ins := &Insight{}
	var focus sql.NullString
	err := s.db.QueryRow(
		`SELECT id, ts_unix, tier, focus, summary
		 FROM insights ORDER BY ts_unix DESC, id DESC LIMIT 1`,
	).Scan(&ins.ID, &ins.TSUnix, &ins.Tier, &focus, &ins.Summary)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest insight: %w", err)
	}
	ins.Focus = focus.String
	return ins, nil
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hindsight-sh/hindsight/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	source TEXT NOT NULL,
	subject TEXT NOT NULL,
	subject_secondary TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	repository TEXT NOT NULL DEFAULT '',
	branch TEXT NOT NULL DEFAULT '',
	process_name TEXT NOT NULL DEFAULT '',
	process_id INTEGER NOT NULL DEFAULT 0,
	url TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	browser TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 1.0
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject);
CREATE INDEX IF NOT EXISTS idx_events_repository ON events(repository);
CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);
`

const eventColumns = `id, event_type, timestamp, source, subject, subject_secondary,
	description, repository, branch, process_name, process_id, url, title,
	browser, metadata, confidence`

// Store is the append-only event store backed by a single SQLite file.
// Events are inserted once and never updated or deleted; duplicate ids are
// silently ignored. Reads run concurrently, writes are serialized.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// QueryFilter narrows a time-range query. Zero values mean unfiltered.
type QueryFilter struct {
	Types   []types.EventType
	Sources []string
	Limit   int
}

// Open opens or creates the event store at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open event store %s: %w", path, err)
	}
	// modernc's driver does not support concurrent writes on one connection
	// pool entry; keep the pool at a single connection and serialize above it.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping event store %s: %w", path, err)
	}
	// A corrupt database must fail loudly at open, not on some later query.
	var integrity string
	if err := db.QueryRow(`PRAGMA quick_check(1)`).Scan(&integrity); err != nil || integrity != "ok" {
		db.Close()
		if err == nil {
			err = fmt.Errorf("quick_check reported %q", integrity)
		}
		return nil, fmt.Errorf("event store %s is corrupt: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply event store schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert appends one event. Inserting an event whose id already exists is a
// no-op and returns nil.
func (s *Store) Insert(ctx context.Context, e *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insert(ctx, s.db, e)
}

// InsertMany appends a batch in one transaction. A failed row is skipped
// rather than aborting the batch; the number of stored rows is returned.
func (s *Store) InsertMany(ctx context.Context, events []*types.Event) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin insert transaction: %w", err)
	}
	stored := 0
	for _, e := range events {
		if err := s.insert(ctx, tx, e); err == nil {
			stored++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit insert transaction: %w", err)
	}
	return stored, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, db execer, e *types.Event) error {
	var metadata string
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metadata = string(raw)
	}

	_, err := db.ExecContext(ctx, `INSERT OR IGNORE INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Type), e.Timestamp.UnixMicro(), e.Source, e.Subject,
		e.SubjectSecondary, e.Description, e.Repository, e.Branch,
		e.ProcessName, e.ProcessID, e.URL, e.Title, e.Browser, metadata,
		e.Confidence)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", e.ID, err)
	}
	return nil
}

// EventsInRange returns events with timestamp in [start, end], newest first.
func (s *Store) EventsInRange(ctx context.Context, start, end time.Time, filter QueryFilter) ([]*types.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE timestamp >= ? AND timestamp <= ?`
	args := []any{start.UnixMicro(), end.UnixMicro()}

	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND event_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if len(filter.Sources) > 0 {
		placeholders := make([]string, len(filter.Sources))
		for i, src := range filter.Sources {
			placeholders[i] = "?"
			args = append(args, src)
		}
		query += ` AND source IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY timestamp DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// EventsForSubject returns events whose subject or secondary subject contains
// the given fragment, newest first.
func (s *Store) EventsForSubject(ctx context.Context, subject string, limit int) ([]*types.Event, error) {
	pattern := "%" + subject + "%"
	query := `SELECT ` + eventColumns + ` FROM events
		WHERE subject LIKE ? OR subject_secondary LIKE ?
		ORDER BY timestamp DESC`
	args := []any{pattern, pattern}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// EventsForRepository returns events with an exact repository path match,
// newest first.
func (s *Store) EventsForRepository(ctx context.Context, repository string, limit int) ([]*types.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE repository = ? ORDER BY timestamp DESC`
	args := []any{repository}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryEvents(ctx, query, args...)
}

// RecentEvents returns events from the last `within` period, newest first.
// A zero period means no time bound.
func (s *Store) RecentEvents(ctx context.Context, within time.Duration, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	if within <= 0 {
		return s.queryEvents(ctx,
			`SELECT `+eventColumns+` FROM events ORDER BY timestamp DESC LIMIT ?`, limit)
	}
	cutoff := time.Now().Add(-within).UnixMicro()
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM events WHERE timestamp >= ? ORDER BY timestamp DESC LIMIT ?`,
		cutoff, limit)
}

// Count returns the number of stored events, optionally bounded. Zero times
// mean unbounded on that side.
func (s *Store) Count(ctx context.Context, start, end time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM events`
	var clauses []string
	var args []any
	if !start.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, start.UnixMicro())
	}
	if !end.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, end.UnixMicro())
	}
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// TypeCount pairs an event type with its number of occurrences.
type TypeCount struct {
	Type  types.EventType
	Count int64
}

// CountsByType returns per-type totals sorted by descending count.
func (s *Store) CountsByType(ctx context.Context) ([]TypeCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_type, COUNT(*) FROM events GROUP BY event_type ORDER BY COUNT(*) DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events by type: %w", err)
	}
	defer rows.Close()

	var counts []TypeCount
	for rows.Next() {
		var tc TypeCount
		var eventType string
		if err := rows.Scan(&eventType, &tc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan type count: %w", err)
		}
		tc.Type = types.EventType(eventType)
		counts = append(counts, tc)
	}
	return counts, rows.Err()
}

// Iterate streams events in [start, end] to fn in ascending timestamp
// order, fetching batchSize rows at a time so the full range is never held
// in memory. Zero times mean unbounded on that side. Iteration stops on the
// first error returned by fn.
func (s *Store) Iterate(ctx context.Context, start, end time.Time, batchSize int, fn func(*types.Event) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	lastTS := int64(-1 << 62)
	if !start.IsZero() {
		// One below the bound so the keyset predicate admits the first row.
		lastTS = start.UnixMicro() - 1
	}
	upper := int64(1<<62 - 1)
	if !end.IsZero() {
		upper = end.UnixMicro()
	}
	lastID := ""
	for {
		events, err := s.queryEvents(ctx,
			`SELECT `+eventColumns+` FROM events
			WHERE ((timestamp > ?) OR (timestamp = ? AND id > ?)) AND timestamp <= ?
			ORDER BY timestamp ASC, id ASC LIMIT ?`,
			lastTS, lastTS, lastID, upper, batchSize)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		for _, e := range events {
			if err := fn(e); err != nil {
				return err
			}
		}
		last := events[len(events)-1]
		lastTS = last.Timestamp.UnixMicro()
		lastID = last.ID
	}
}

// Vacuum reclaims free pages in the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("failed to vacuum event store: %w", err)
	}
	return nil
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]*types.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*types.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(rows *sql.Rows) (*types.Event, error) {
	var e types.Event
	var eventType, metadata string
	var timestamp int64
	if err := rows.Scan(&e.ID, &eventType, &timestamp, &e.Source, &e.Subject,
		&e.SubjectSecondary, &e.Description, &e.Repository, &e.Branch,
		&e.ProcessName, &e.ProcessID, &e.URL, &e.Title, &e.Browser,
		&metadata, &e.Confidence); err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}
	e.Type = types.EventType(eventType)
	e.Timestamp = time.UnixMicro(timestamp)
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &e.Metadata); err != nil {
			// A corrupt metadata blob does not make the event unreadable.
			e.Metadata = types.Metadata{"_raw": metadata}
		}
	}
	return &e, nil
}

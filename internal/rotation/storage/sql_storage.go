package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	// Register SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
)

// Dialect selects placeholder syntax and DDL for SQLStorage
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// SQLStorage implements Storage on a postgres or mysql database
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
	table   string
}

// OpenSQLStorage opens a database with the driver matching the dialect.
func OpenSQLStorage(dialect Dialect, dsn string) (*SQLStorage, error) {
	switch dialect {
	case DialectPostgres, DialectMySQL:
	default:
		return nil, fmt.Errorf("unsupported history dialect: %s", dialect)
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s history database: %w", dialect, err)
	}
	return NewSQLStorage(db, dialect), nil
}

// NewSQLStorage wraps an already open database
func NewSQLStorage(db *sql.DB, dialect Dialect) *SQLStorage {
	return &SQLStorage{db: db, dialect: dialect, table: "rotation_history"}
}

// Migrate creates the history table if it does not exist
func (s *SQLStorage) Migrate() error {
	payloadType := "JSONB"
	if s.dialect == DialectMySQL {
		payloadType = "JSON"
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id VARCHAR(128) PRIMARY KEY,
	identity VARCHAR(255) NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	action VARCHAR(64) NOT NULL,
	outcome VARCHAR(32) NOT NULL,
	payload %s NOT NULL
)`, s.table, payloadType)
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create history table: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLStorage) Close() error {
	return s.db.Close()
}

// SaveHistory saves a history entry
func (s *SQLStorage) SaveHistory(entry *HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.ID == "" {
		entry.ID = newEntryID()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	query := s.bind(fmt.Sprintf(
		"INSERT INTO %s (id, identity, recorded_at, action, outcome, payload) VALUES (?, ?, ?, ?, ?, ?)", s.table))
	if _, err := s.db.Exec(query, entry.ID, entry.Identity, entry.Timestamp.UTC(), entry.Action, entry.Outcome, payload); err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// GetHistory retrieves history for an identity, newest first
func (s *SQLStorage) GetHistory(identity string, limit int) ([]HistoryEntry, error) {
	query := fmt.Sprintf("SELECT payload FROM %s WHERE identity = ? ORDER BY recorded_at DESC", s.table)
	args := []interface{}{identity}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []HistoryEntry{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		var entry HistoryEntry
		if err := json.Unmarshal(payload, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history rows: %w", err)
	}
	return entries, nil
}

// GetLatest returns the newest entry for an identity
func (s *SQLStorage) GetLatest(identity string) (*HistoryEntry, error) {
	entries, err := s.GetHistory(identity, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoHistory, identity)
	}
	return &entries[0], nil
}

// CleanupOldEntries removes entries older than the specified duration
func (s *SQLStorage) CleanupOldEntries(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).UTC()
	query := s.bind(fmt.Sprintf("DELETE FROM %s WHERE recorded_at < ?", s.table))
	if _, err := s.db.Exec(query, cutoff); err != nil {
		return fmt.Errorf("failed to delete old history: %w", err)
	}
	return nil
}

// bind rewrites ? placeholders to $n for postgres
func (s *SQLStorage) bind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

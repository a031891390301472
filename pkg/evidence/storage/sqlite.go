package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"mercator-hq/nimbus/pkg/evidence"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections to the database.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging mode for better concurrency.
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/evidence.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements evidence.Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger

	mu         sync.Mutex
	insertStmt *sql.Stmt
	closed     bool
}

// NewSQLiteStorage opens the evidence database, creating the schema if
// needed.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}
	if config.Path == "" {
		return nil, evidence.NewStorageError("sqlite", "open", fmt.Errorf("db path cannot be empty"))
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 10
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5 * time.Second
	}

	logger := slog.Default().With("component", "evidence.storage.sqlite")

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "open", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// initialize sets up pragmas, the schema and prepared statements.
func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return evidence.NewStorageError("sqlite", "enable_wal", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return evidence.NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return evidence.NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return evidence.NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return evidence.NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return evidence.NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	s.insertStmt, err = s.db.Prepare(insertRecord)
	if err != nil {
		return evidence.NewStorageError("sqlite", "prepare", err)
	}
	return nil
}

// Store persists a record.
func (s *SQLiteStorage) Store(ctx context.Context, record *evidence.Record) error {
	if record == nil || record.ID == "" {
		return evidence.NewStorageError("sqlite", "store", fmt.Errorf("record id is required"))
	}

	_, err := s.insertStmt.ExecContext(ctx,
		record.ID, string(record.Kind), record.RecordedAt.UnixNano(),
		record.ObjectID, record.Tier, record.JobID, record.Method,
		record.Verified, record.Passes, record.WitnessHash, record.ApprovalHash,
		record.RetryCount, record.Error,
		record.BatchID, record.Entries,
		record.Payload,
	)
	if err != nil {
		var serr sqlite3.Error
		if errors.As(err, &serr) && (serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || serr.ExtendedCode == sqlite3.ErrConstraintUnique) {
			return evidence.NewStorageError("sqlite", "store", fmt.Errorf("%w: %s", evidence.ErrDuplicateRecord, record.ID))
		}
		return evidence.NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query retrieves records matching the query filters.
func (s *SQLiteStorage) Query(ctx context.Context, query *evidence.Query) ([]*evidence.Record, error) {
	q := query.WithDefaults()
	if err := q.Validate(); err != nil {
		return nil, err
	}

	whereClause, args := buildWhereClause(&q)
	sqlQuery := "SELECT " + selectColumns + " FROM evidence"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}
	sqlQuery += fmt.Sprintf(" ORDER BY recorded_at %s, id %s LIMIT %d", q.SortOrder, q.SortOrder, q.Limit)
	if q.Offset > 0 {
		sqlQuery += fmt.Sprintf(" OFFSET %d", q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	records := []*evidence.Record{}
	for rows.Next() {
		record, err := scanRow(rows)
		if err != nil {
			return nil, evidence.NewStorageError("sqlite", "scan", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, evidence.NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// Count returns the number of records matching the query filters.
func (s *SQLiteStorage) Count(ctx context.Context, query *evidence.Query) (int64, error) {
	q := query.WithDefaults()
	if err := q.Validate(); err != nil {
		return 0, err
	}

	whereClause, args := buildWhereClause(&q)
	sqlQuery := "SELECT COUNT(*) FROM evidence"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, evidence.NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes records matching the query filters.
func (s *SQLiteStorage) Delete(ctx context.Context, query *evidence.Query) (int64, error) {
	q := query.WithDefaults()
	if err := q.Validate(); err != nil {
		return 0, err
	}

	whereClause, args := buildWhereClause(&q)
	sqlQuery := "DELETE FROM evidence"
	if whereClause != "" {
		sqlQuery += " WHERE " + whereClause
	}

	result, err := s.db.ExecContext(ctx, sqlQuery, args...)
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, evidence.NewStorageError("sqlite", "delete", err)
	}
	return count, nil
}

// Close releases resources held by the storage backend.
func (s *SQLiteStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.insertStmt != nil {
		s.insertStmt.Close()
	}
	if err := s.db.Close(); err != nil {
		return evidence.NewStorageError("sqlite", "close", err)
	}

	s.logger.Info("SQLite storage closed")
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// buildWhereClause builds a SQL WHERE clause (without the keyword) and its
// arguments from the query filters.
func buildWhereClause(query *evidence.Query) (string, []any) {
	var conditions []string
	var args []any

	if query.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, string(query.Kind))
	}
	if query.ObjectID != "" {
		conditions = append(conditions, "object_id = ?")
		args = append(args, query.ObjectID)
	}
	if query.StartTime != nil {
		conditions = append(conditions, "recorded_at >= ?")
		args = append(args, query.StartTime.UnixNano())
	}
	if query.EndTime != nil {
		conditions = append(conditions, "recorded_at <= ?")
		args = append(args, query.EndTime.UnixNano())
	}
	if query.Verified != nil {
		conditions = append(conditions, "kind = ? AND verified = ?")
		args = append(args, string(evidence.KindDeletion), *query.Verified)
	}

	return strings.Join(conditions, " AND "), args
}

// scanRow scans a database row into a Record.
func scanRow(row *sql.Rows) (*evidence.Record, error) {
	var (
		record     evidence.Record
		kind       string
		recordedAt int64
	)
	err := row.Scan(
		&record.ID, &kind, &recordedAt,
		&record.ObjectID, &record.Tier, &record.JobID, &record.Method,
		&record.Verified, &record.Passes, &record.WitnessHash, &record.ApprovalHash,
		&record.RetryCount, &record.Error,
		&record.BatchID, &record.Entries,
		&record.Payload,
	)
	if err != nil {
		return nil, err
	}
	record.Kind = evidence.Kind(kind)
	record.RecordedAt = time.Unix(0, recordedAt)
	return &record, nil
}

var _ evidence.Storage = (*SQLiteStorage)(nil)

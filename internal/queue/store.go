package queue

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	// Pure-Go SQLite driver (no CGO).
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the durable, FIFO-ordered log of pending actions. Implementations
// must make an appended action recoverable after a crash once Append returns.
type Store interface {
	Append(ctx context.Context, a *Action) error
	List(ctx context.Context) ([]Action, error)
	Remove(ctx context.Context, id string) error
	UpdateRetryCount(ctx context.Context, id string, retryCount int) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Abandon(ctx context.Context, a *Action, reason string, at time.Time) error
	ListAbandoned(ctx context.Context, limit int) ([]AbandonedAction, error)
}

// SQL statements for the action queue.
const (
	sqlAppend = `INSERT INTO action_queue
		(id, action_type, entity, payload, created_at, retry_count, max_retries, invalidation_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	sqlList = `SELECT seq, id, action_type, entity, payload, created_at,
		retry_count, max_retries, invalidation_key
		FROM action_queue ORDER BY seq`

	sqlRemove      = `DELETE FROM action_queue WHERE id = ?`
	sqlClear       = `DELETE FROM action_queue`
	sqlCount       = `SELECT COUNT(*) FROM action_queue`
	sqlUpdateRetry = `UPDATE action_queue SET retry_count = ? WHERE id = ?`

	sqlInsertAbandoned = `INSERT OR REPLACE INTO abandoned_actions
		(id, action_type, entity, payload, created_at, retry_count, max_retries,
		 invalidation_key, abandoned_at, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListAbandoned = `SELECT id, action_type, entity, payload, created_at,
		retry_count, max_retries, invalidation_key, abandoned_at, reason
		FROM abandoned_actions ORDER BY abandoned_at DESC, id LIMIT ?`
)

// SQLiteStore persists the queue in a single SQLite file using WAL mode with
// synchronous=FULL. It holds exactly one connection, so all writes are
// serialized (sole-writer pattern).
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the queue database at dbPath and applies
// pending migrations. Failures to open the medium are StorageErrors.
func NewSQLiteStore(ctx context.Context, dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=busy_timeout(5000)&_pragma=journal_size_limit(67108864)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, storageErr("open "+dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, storageErr("migrate "+dbPath, err)
	}

	logger.Debug("action queue opened", slog.String("db_path", dbPath))

	return &SQLiteStore{db: db, logger: logger}, nil
}

// migrate brings the schema up to date with the embedded goose migrations.
func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("queue schema migrated",
			slog.String("source", r.Source.Path),
			slog.Int64("version", r.Source.Version),
			slog.Duration("duration", r.Duration),
		)
	}

	return nil
}

// DB exposes the underlying handle for tests and diagnostics.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append durably records a new action at the tail of the queue.
func (s *SQLiteStore) Append(ctx context.Context, a *Action) error {
	_, err := s.db.ExecContext(ctx, sqlAppend,
		a.ID, a.Type.String(), a.Entity, string(a.Payload), a.CreatedAt.UnixNano(),
		a.RetryCount, a.MaxRetries, nullString(a.InvalidationKey),
	)
	if err != nil {
		return storageErr("append "+a.ID, err)
	}

	s.logger.Debug("action appended",
		slog.String("id", a.ID),
		slog.String("type", a.Type.String()),
		slog.String("entity", a.Entity),
	)

	return nil
}

// List returns every queued action in enqueue order. A record that cannot be
// decoded is skipped with a warning rather than failing the whole read.
func (s *SQLiteStore) List(ctx context.Context) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, sqlList)
	if err != nil {
		return nil, storageErr("list", err)
	}
	defer rows.Close()

	actions := make([]Action, 0)

	for rows.Next() {
		a, scanErr := scanAction(rows)
		if scanErr != nil {
			s.logger.Warn("skipping unreadable queue record",
				slog.String("error", scanErr.Error()),
			)

			continue
		}

		actions = append(actions, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list", err)
	}

	return actions, nil
}

// scanAction decodes one action_queue row.
func scanAction(rows *sql.Rows) (*Action, error) {
	var (
		seq        int64
		a          Action
		typeName   string
		payload    sql.NullString
		createdAt  sql.NullInt64
		invalidate sql.NullString
	)

	err := rows.Scan(&seq, &a.ID, &typeName, &a.Entity, &payload, &createdAt,
		&a.RetryCount, &a.MaxRetries, &invalidate)
	if err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}

	a.Type, err = ParseActionType(typeName)
	if err != nil {
		return nil, fmt.Errorf("record %d (%s): %w", seq, a.ID, err)
	}

	if !payload.Valid || !json.Valid([]byte(payload.String)) {
		return nil, fmt.Errorf("record %d (%s): payload is not valid JSON", seq, a.ID)
	}

	a.Payload = json.RawMessage(payload.String)
	a.CreatedAt = time.Unix(0, createdAt.Int64)
	a.InvalidationKey = invalidate.String

	return &a, nil
}

// Remove deletes an action. Removing an unknown id is a no-op.
func (s *SQLiteStore) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, sqlRemove, id); err != nil {
		return storageErr("remove "+id, err)
	}

	return nil
}

// UpdateRetryCount persists a new retry count. An unknown id (for example one
// cleared while its dispatch was in flight) is a no-op.
func (s *SQLiteStore) UpdateRetryCount(ctx context.Context, id string, retryCount int) error {
	if _, err := s.db.ExecContext(ctx, sqlUpdateRetry, retryCount, id); err != nil {
		return storageErr("update retry count "+id, err)
	}

	return nil
}

// Clear removes every queued action. The abandoned-action log is kept.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	result, err := s.db.ExecContext(ctx, sqlClear)
	if err != nil {
		return storageErr("clear", err)
	}

	if n, rowsErr := result.RowsAffected(); rowsErr == nil {
		s.logger.Info("action queue cleared", slog.Int64("removed", n))
	}

	return nil
}

// Count returns the number of queued actions.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, sqlCount).Scan(&n); err != nil {
		return 0, storageErr("count", err)
	}

	return n, nil
}

// Abandon removes the action from the queue and records it, with reason, in
// the abandoned-action log. Both happen in one transaction.
func (s *SQLiteStore) Abandon(ctx context.Context, a *Action, reason string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("abandon "+a.ID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqlRemove, a.ID); err != nil {
		return storageErr("abandon "+a.ID, err)
	}

	_, err = tx.ExecContext(ctx, sqlInsertAbandoned,
		a.ID, a.Type.String(), a.Entity, string(a.Payload), a.CreatedAt.UnixNano(),
		a.RetryCount, a.MaxRetries, nullString(a.InvalidationKey), at.UnixNano(), reason,
	)
	if err != nil {
		return storageErr("abandon "+a.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("abandon "+a.ID, err)
	}

	s.logger.Warn("action abandoned",
		slog.String("id", a.ID),
		slog.String("entity", a.Entity),
		slog.String("type", a.Type.String()),
		slog.Int("retry_count", a.RetryCount),
		slog.String("reason", reason),
	)

	return nil
}

// ListAbandoned returns up to limit entries of the abandoned-action log,
// newest first. A limit of zero or less returns every entry.
func (s *SQLiteStore) ListAbandoned(ctx context.Context, limit int) ([]AbandonedAction, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, sqlListAbandoned, limit)
	if err != nil {
		return nil, storageErr("list abandoned", err)
	}
	defer rows.Close()

	result := make([]AbandonedAction, 0)

	for rows.Next() {
		var (
			e           AbandonedAction
			typeName    string
			payload     string
			createdAt   int64
			abandonedAt int64
			invalidate  sql.NullString
		)

		err := rows.Scan(&e.ID, &typeName, &e.Entity, &payload, &createdAt,
			&e.RetryCount, &e.MaxRetries, &invalidate, &abandonedAt, &e.Reason)
		if err != nil {
			s.logger.Warn("skipping unreadable abandoned record", slog.String("error", err.Error()))
			continue
		}

		if e.Type, err = ParseActionType(typeName); err != nil {
			s.logger.Warn("skipping unreadable abandoned record", slog.String("error", err.Error()))
			continue
		}

		e.Payload = json.RawMessage(payload)
		e.CreatedAt = time.Unix(0, createdAt)
		e.AbandonedAt = time.Unix(0, abandonedAt)
		e.InvalidationKey = invalidate.String

		result = append(result, e)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list abandoned", err)
	}

	return result, nil
}

// nullString converts an empty string to a SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

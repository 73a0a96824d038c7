package blocklist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"botgate/pkg/platform/sentinel"
	txcontext "botgate/pkg/platform/tx"
)

const schema = `
CREATE TABLE IF NOT EXISTS gate_blocklist (
	id          UUID PRIMARY KEY,
	entry_type  TEXT NOT NULL CHECK (entry_type IN ('ua', 'cidr', 'asn')),
	value       TEXT NOT NULL,
	reason      TEXT NOT NULL DEFAULT '',
	expires_at  TIMESTAMPTZ,
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (entry_type, value)
)`

// PostgresStore persists blocklist entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := Connect(dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: ping postgres: %v", sentinel.ErrUnavailable, err)
	}
	return db, nil
}

// Connect builds the connection pool without dialing; connections are made
// on first use.
func Connect(dsn string) (*sql.DB, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewPostgres constructs a PostgreSQL-backed blocklist store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// RunInTx runs fn in one transaction. Add and Remove calls made with the
// context passed to fn join it.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return txcontext.Run(ctx, s.db, fn)
}

// EnsureSchema creates the blocklist table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create blocklist schema: %w", err)
	}
	return nil
}

// Add inserts entry, replacing reason and expiry of an existing
// (type, value) pair.
func (s *PostgresStore) Add(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("blocklist entry is required")
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO gate_blocklist (id, entry_type, value, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entry_type, value)
		DO UPDATE SET reason = EXCLUDED.reason, expires_at = EXCLUDED.expires_at`,
		entry.ID, string(entry.Type), entry.Value, entry.Reason, nullTime(entry.ExpiresAt), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add blocklist entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, typ EntryType, value string) error {
	res, err := s.execer(ctx).ExecContext(ctx,
		`DELETE FROM gate_blocklist WHERE entry_type = $1 AND value = $2`, string(typ), value)
	if err != nil {
		return fmt.Errorf("remove blocklist entry: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// ListActive returns entries that have not expired at now.
func (s *PostgresStore) ListActive(ctx context.Context, now time.Time) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_type, value, reason, expires_at, created_at
		FROM gate_blocklist
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY created_at`, now)
	if err != nil {
		return nil, fmt.Errorf("list blocklist entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e         Entry
			id        uuid.UUID
			entryType string
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&id, &entryType, &e.Value, &e.Reason, &expiresAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan blocklist entry: %w", err)
		}
		e.ID = id
		e.Type = EntryType(entryType)
		if expiresAt.Valid {
			t := expiresAt.Time
			e.ExpiresAt = &t
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list blocklist entries: %w", err)
	}
	return entries, nil
}

// RemoveExpiredAt deletes entries expired as of now.
func (s *PostgresStore) RemoveExpiredAt(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM gate_blocklist WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup blocklist entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *value, Valid: true}
}

// Package postgres provides a PostgreSQL-backed quota.Store.
//
// Each client is one row. Admission runs in a transaction holding the row
// lock (SELECT ... FOR UPDATE), so concurrent daemons see a consistent
// pending count. State survives restarts.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"zord/internal/quota"
)

// Store is a PostgreSQL-backed quota.Store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
	limits      quota.Limits
	now         func() time.Time
}

var _ quota.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "zord_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// WithClock overrides the time source used for window resets.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a PostgreSQL-backed store. Call EnsureSchema before use.
func New(pool *pgxpool.Pool, limits quota.Limits, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "zord_",
		limits:      limits.Normalize(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageTable() string { return s.tablePrefix + "client_usage" }

// Limits reports the limits the store enforces.
func (s *Store) Limits() quota.Limits { return s.limits }

// EnsureSchema creates the usage table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			client_id TEXT PRIMARY KEY,
			message_count BIGINT NOT NULL DEFAULT 0,
			token_count BIGINT NOT NULL DEFAULT 0,
			pending BIGINT NOT NULL DEFAULT 0,
			reset_at TIMESTAMPTZ NOT NULL
		);
	`, s.usageTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("zord/postgres: ensure schema: %w", err)
	}
	return nil
}

type row struct {
	messages int64
	tokens   int64
	pending  int64
	resetAt  time.Time
}

func (r row) usage(clientID string) quota.Usage {
	return quota.Usage{
		ClientID:     clientID,
		MessageCount: r.messages,
		TokenCount:   r.tokens,
		Pending:      r.pending,
		ResetAt:      r.resetAt,
	}
}

// lockCurrent inserts the client row if missing, locks it and resets it when
// its window has passed.
func (s *Store) lockCurrent(ctx context.Context, tx pgx.Tx, clientID string) (row, error) {
	now := s.now().UTC()
	next := now.Add(s.limits.Window)

	_, err := tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (client_id, reset_at) VALUES ($1, $2) ON CONFLICT (client_id) DO NOTHING`, s.usageTable()),
		clientID, next,
	)
	if err != nil {
		return row{}, fmt.Errorf("zord/postgres: insert: %w", err)
	}

	var r row
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT message_count, token_count, pending, reset_at FROM %s WHERE client_id = $1 FOR UPDATE`, s.usageTable()),
		clientID,
	).Scan(&r.messages, &r.tokens, &r.pending, &r.resetAt)
	if err != nil {
		return row{}, fmt.Errorf("zord/postgres: lock: %w", err)
	}

	if !now.Before(r.resetAt) {
		_, err = tx.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET message_count = 0, token_count = 0, pending = 0, reset_at = $1 WHERE client_id = $2`, s.usageTable()),
			next, clientID,
		)
		if err != nil {
			return row{}, fmt.Errorf("zord/postgres: window reset: %w", err)
		}
		r = row{resetAt: next}
	}
	return r, nil
}

// CheckAndReserve admits or denies one request for clientID.
func (s *Store) CheckAndReserve(ctx context.Context, clientID string) (quota.Decision, error) {
	if clientID == "" {
		return quota.Decision{}, quota.ErrEmptyClientID
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return quota.Decision{}, fmt.Errorf("zord/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := s.lockCurrent(ctx, tx, clientID)
	if err != nil {
		return quota.Decision{}, err
	}
	if reason := quota.Decide(s.limits, r.messages, r.tokens, r.pending); reason != quota.ReasonNone {
		if err := tx.Commit(ctx); err != nil {
			return quota.Decision{}, fmt.Errorf("zord/postgres: commit: %w", err)
		}
		return quota.Decision{Reason: reason, Usage: r.usage(clientID)}, nil
	}
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET pending = pending + 1 WHERE client_id = $1`, s.usageTable()),
		clientID,
	)
	if err != nil {
		return quota.Decision{}, fmt.Errorf("zord/postgres: reserve: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return quota.Decision{}, fmt.Errorf("zord/postgres: commit: %w", err)
	}
	r.pending++
	return quota.Decision{Allowed: true, Usage: r.usage(clientID)}, nil
}

// RecordUsage counts one message plus tokens for clientID.
func (s *Store) RecordUsage(ctx context.Context, clientID string, tokens int64) (quota.Usage, error) {
	if clientID == "" {
		return quota.Usage{}, quota.ErrEmptyClientID
	}
	if tokens < 0 {
		tokens = 0
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return quota.Usage{}, fmt.Errorf("zord/postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := s.lockCurrent(ctx, tx, clientID); err != nil {
		return quota.Usage{}, err
	}
	var r row
	err = tx.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET message_count = message_count + 1, token_count = token_count + $1,
			pending = GREATEST(pending - 1, 0)
			WHERE client_id = $2
			RETURNING message_count, token_count, pending, reset_at`, s.usageTable()),
		tokens, clientID,
	).Scan(&r.messages, &r.tokens, &r.pending, &r.resetAt)
	if err != nil {
		return quota.Usage{}, fmt.Errorf("zord/postgres: record: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return quota.Usage{}, fmt.Errorf("zord/postgres: commit: %w", err)
	}
	return r.usage(clientID), nil
}

// Release drops one pending slot for clientID.
func (s *Store) Release(ctx context.Context, clientID string) error {
	if clientID == "" {
		return quota.ErrEmptyClientID
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET pending = GREATEST(pending - 1, 0) WHERE client_id = $1 AND reset_at > $2`, s.usageTable()),
		clientID, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("zord/postgres: release: %w", err)
	}
	return nil
}

// Usage returns clientID's counters without writing.
func (s *Store) Usage(ctx context.Context, clientID string) (quota.Usage, error) {
	if clientID == "" {
		return quota.Usage{}, quota.ErrEmptyClientID
	}
	var r row
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT message_count, token_count, pending, reset_at FROM %s WHERE client_id = $1`, s.usageTable()),
		clientID,
	).Scan(&r.messages, &r.tokens, &r.pending, &r.resetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return quota.Usage{ClientID: clientID}, nil
	}
	if err != nil {
		return quota.Usage{}, fmt.Errorf("zord/postgres: usage: %w", err)
	}
	if !s.now().UTC().Before(r.resetAt) {
		return quota.Usage{ClientID: clientID}, nil
	}
	return r.usage(clientID), nil
}

// PurgeExpired deletes rows whose window ended before olderThan ago.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().UTC().Add(-olderThan)
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE reset_at < $1 AND pending = 0`, s.usageTable()),
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("zord/postgres: purge expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

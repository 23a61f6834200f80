// SPDX-License-Identifier: MIT

package quota

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteLedger keeps counters in the service database. The
// check-and-increment is a single conditional upsert, so SQLite's write
// serialisation makes it atomic.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteLedger prepares the quota tables on the shared database.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	schema := `
	CREATE TABLE IF NOT EXISTS quota_counters (
		owner_type TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		resource TEXT NOT NULL,
		period TEXT NOT NULL,
		used INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (owner_type, owner_id, resource, period)
	);

	CREATE TABLE IF NOT EXISTS guest_usage (
		session_id TEXT PRIMARY KEY,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("quota: migrate failed: %w", err)
	}
	return &SQLiteLedger{db: db, now: time.Now}, nil
}

// Used returns today's count.
func (l *SQLiteLedger) Used(ctx context.Context, p Principal, resource string) (int64, error) {
	var used int64
	err := l.db.QueryRowContext(ctx, `SELECT used FROM quota_counters
	WHERE owner_type = ? AND owner_id = ? AND resource = ? AND period = ?`,
		p.Type, p.ID, resource, day(l.now())).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota: read counter: %w", err)
	}
	return used, nil
}

// Increment adds delta without a limit check and returns the new count.
func (l *SQLiteLedger) Increment(ctx context.Context, p Principal, resource string, delta int64) (int64, error) {
	if delta <= 0 {
		return 0, fmt.Errorf("quota: non-positive delta %d", delta)
	}
	var used int64
	err := l.db.QueryRowContext(ctx, `
	INSERT INTO quota_counters (owner_type, owner_id, resource, period, used, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_type, owner_id, resource, period)
	DO UPDATE SET used = used + excluded.used, updated_at = excluded.updated_at
	RETURNING used`,
		p.Type, p.ID, resource, day(l.now()), delta,
		l.now().UTC().Format(time.RFC3339)).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("quota: increment: %w", err)
	}
	return used, nil
}

// CheckAndIncrement reserves delta units or reports false. The upsert's
// conflict clause carries the limit condition, so the reservation and the
// check are one statement.
func (l *SQLiteLedger) CheckAndIncrement(ctx context.Context, p Principal, resource string, delta, limit int64) (bool, error) {
	if delta <= 0 {
		return false, fmt.Errorf("quota: non-positive delta %d", delta)
	}
	if delta > limit {
		return false, nil
	}

	res, err := l.db.ExecContext(ctx, `
	INSERT INTO quota_counters (owner_type, owner_id, resource, period, used, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(owner_type, owner_id, resource, period)
	DO UPDATE SET used = used + excluded.used, updated_at = excluded.updated_at
	WHERE quota_counters.used + excluded.used <= ?`,
		p.Type, p.ID, resource, day(l.now()), delta,
		l.now().UTC().Format(time.RFC3339), limit)
	if err != nil {
		return false, fmt.Errorf("quota: reserve: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("quota: rows affected: %w", err)
	}
	return n > 0, nil
}

// TouchGuest records guest session activity for abuse review.
func (l *SQLiteLedger) TouchGuest(ctx context.Context, sessionID string) error {
	ts := l.now().UTC().Format(time.RFC3339)
	_, err := l.db.ExecContext(ctx, `
	INSERT INTO guest_usage (session_id, first_seen, last_seen) VALUES (?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET last_seen = excluded.last_seen`,
		sessionID, ts, ts)
	if err != nil {
		return fmt.Errorf("quota: touch guest: %w", err)
	}
	return nil
}

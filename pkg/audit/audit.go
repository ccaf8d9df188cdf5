// Package audit implements a best-effort, fire-and-forget Postgres audit log
// for terminal PlaybookRuns and resolved PendingApprovals (SPEC_FULL.md §5).
// Grounded on tarsy's pkg/database/client.go connection idiom, stripped of
// entgo.io/ent and golang-migrate — see DESIGN.md for why those have no home
// here: this package owns one append-only table, not an evolving schema.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectTimeout = 10 * time.Second
	writeTimeout   = 5 * time.Second
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS aiops_audit_log (
	id          BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	event_type  TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	detail      TEXT NOT NULL
)`

// Log is the optional, nil-able audit sink. A nil *Log is safe to call every
// method on — every call is then a no-op, so callers never need a presence
// check (spec.md Design Notes pattern carried from the Notifier interfaces).
type Log struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects to dsn and ensures the audit table exists. An empty dsn
// disables the audit log entirely — Open returns (nil, nil) rather than an
// error, matching SPEC_FULL.md §5's "optional" framing.
func Open(ctx context.Context, dsn string) (*Log, error) {
	if dsn == "" {
		return nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(connectCtx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(connectCtx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &Log{pool: pool, log: slog.With("component", "audit_log")}, nil
}

// Close releases the connection pool. Safe to call on a nil *Log.
func (l *Log) Close() {
	if l == nil {
		return
	}
	l.pool.Close()
}

// RecordPlaybookRun appends a terminal PlaybookRun outcome. Failures to
// write are logged and swallowed — the audit log must never affect the
// pipeline it observes (spec.md §7 propagation policy: ambient concerns
// never interrupt the core loop).
func (l *Log) RecordPlaybookRun(ctx context.Context, runID, playbookID, status string) {
	l.write(ctx, "playbook_run", runID, playbookID+" -> "+status)
}

// RecordApproval appends a resolved PendingApproval outcome.
func (l *Log) RecordApproval(ctx context.Context, approvalID, toolName, outcome string) {
	l.write(ctx, "approval", approvalID, toolName+" -> "+outcome)
}

func (l *Log) write(ctx context.Context, eventType, subjectID, detail string) {
	if l == nil {
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := l.pool.Exec(writeCtx,
		`INSERT INTO aiops_audit_log (event_type, subject_id, detail) VALUES ($1, $2, $3)`,
		eventType, subjectID, detail)
	if err != nil {
		l.log.Warn("audit write failed", "event_type", eventType, "subject_id", subjectID, "error", err)
	}
}

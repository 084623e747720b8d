package history

import (
	"context"
	"database/sql"

	"crm-voice/pkg/utils"
)

// PostgresOutbox appends records to an insert-only table the CRM consumes.
// This service never reads it back.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox { return &PostgresOutbox{db: db} }

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_history_outbox (
		session_id    TEXT PRIMARY KEY,
		tenant_id     TEXT NOT NULL,
		caller_id     TEXT NOT NULL,
		caller_name   TEXT NOT NULL,
		receiver_id   TEXT,
		receiver_name TEXT,
		end_reason    TEXT NOT NULL,
		ended_by      TEXT,
		started_at    TIMESTAMPTZ NOT NULL,
		connected_at  TIMESTAMPTZ,
		ended_at      TIMESTAMPTZ NOT NULL,
		duration      INT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS call_history_outbox_tenant_ended
		ON call_history_outbox (tenant_id, ended_at)`,
}

// schemaLock is the advisory lock id held while the outbox schema is applied.
const schemaLock int64 = 0x63726d766f696365

func (p *PostgresOutbox) EnsureSchema(ctx context.Context) error {
	return utils.Migrate(ctx, p.db, schemaLock, schema...)
}

const insertRecord = `
INSERT INTO call_history_outbox (
	session_id, tenant_id, caller_id, caller_name, receiver_id, receiver_name,
	end_reason, ended_by, started_at, connected_at, ended_at, duration
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (session_id) DO NOTHING`

func (p *PostgresOutbox) Append(ctx context.Context, r Record) error {
	_, err := p.db.ExecContext(ctx, insertRecord,
		r.SessionID, r.TenantID, r.CallerID, r.CallerName,
		nullString(r.ReceiverID), nullString(r.ReceiverName),
		r.EndReason, nullString(r.EndedBy),
		r.StartedAt, r.ConnectedAt, r.EndedAt, r.DurationSeconds,
	)
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package audit

import (
	"context"
	"log/slog"
)

// LogRepo writes events as structured log lines at warn level so they reach
// the log pipeline's alerting without a separate store.
type LogRepo struct {
	log *slog.Logger
}

func NewLogRepo(log *slog.Logger) *LogRepo {
	if log == nil {
		log = slog.Default()
	}
	return &LogRepo{log: log}
}

func (r *LogRepo) Append(ctx context.Context, e Event) error {
	r.log.WarnContext(ctx, "audit",
		"audit_id", e.ID,
		"audit_type", string(e.Type),
		"tenant_id", e.TenantID,
		"actor_user_id", e.ActorUserID,
		"actor_role", e.ActorRole,
		"ip", e.IPAddress,
		"conn_id", e.ConnectionID,
		"session_id", e.SessionID,
		"message", e.Message,
	)
	return nil
}

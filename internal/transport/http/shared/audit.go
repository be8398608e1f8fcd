package shared

import (
	"context"
	"log/slog"
	"net/http"

	"evaltrack/internal/domain/audit"
	"evaltrack/internal/requestctx"
	"evaltrack/internal/transport/http/middleware"
)

type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// RecordAudit fills request metadata into the entry and records it. Failures
// are logged and never fail the request.
func RecordAudit(r *http.Request, recorder AuditRecorder, entry audit.Entry) {
	if recorder == nil {
		return
	}
	if entry.ActorID == "" {
		if user, ok := middleware.GetUser(r.Context()); ok {
			entry.ActorID = user.UserID
		}
	}
	entry.RequestID = middleware.GetRequestID(r.Context())
	entry.IP = requestctx.GetClientIP(r.Context())
	if err := recorder.Record(r.Context(), entry); err != nil {
		slog.Warn("audit record failed", "action", entry.Action, "entityId", entry.EntityID, "err", err)
	}
}

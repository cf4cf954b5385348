// Package observability holds the audit logging helper shared by the economy
// service and handlers.
package observability

import (
	"context"
	"log/slog"

	"coinledger/pkg/attrs"
	audit "coinledger/pkg/platform/audit"
	"coinledger/pkg/requestcontext"
)

// AuditPublisher receives events that are not already in the outbox.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit writes a structured audit log line. Financial events are only
// logged: they were already written to the outbox inside their transaction.
// Other categories are forwarded to publisher as well.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrList ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrList = append(attrList, "request_id", requestID)
	}

	args := append(attrList, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil || event.Category() == audit.CategoryFinancial {
		return
	}

	e := audit.Event{
		Action:      string(event),
		PrincipalID: requestcontext.PrincipalID(ctx),
		SessionID:   attrs.ExtractString(attrList, "session_id"),
		Reason:      attrs.ExtractString(attrList, "reason"),
		ExternalRef: attrs.ExtractString(attrList, "external_ref"),
		ActorID:     attrs.ExtractString(attrList, "actor"),
		RequestID:   requestID,
	}
	if amount, ok := attrs.ExtractInt64(attrList, "amount"); ok {
		e.Amount = amount
	}
	if err := publisher.Emit(ctx, e); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to publish audit event", "event", string(event), "error", err)
	}
}

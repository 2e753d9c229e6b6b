package logging

import (
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT EVENTS - one structured line per resolver decision
// =============================================================================

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	AuditDecision        AuditEventType = "decision"
	AuditPendingCreated  AuditEventType = "pending_created"
	AuditPendingExpired  AuditEventType = "pending_expired"
	AuditFallbackDegrade AuditEventType = "fallback_degraded"
	AuditCorrection      AuditEventType = "correction"
)

// AuditEvent is a structured record of something the resolver decided.
type AuditEvent struct {
	Type       AuditEventType
	UserID     string
	ChannelID  string
	MessageID  string
	Outcome    string
	Intent     string
	Confidence float64
	Source     string
	PendingID  string
	Missing    []string
	Duration   time.Duration
	Detail     string
}

// Audit writes ev to the "audit" logger.
func Audit(ev AuditEvent) {
	fields := []zap.Field{
		zap.String("event", string(ev.Type)),
		zap.String("user", ev.UserID),
		zap.String("channel", ev.ChannelID),
	}
	if ev.MessageID != "" {
		fields = append(fields, zap.String("message", ev.MessageID))
	}
	if ev.Outcome != "" {
		fields = append(fields, zap.String("outcome", ev.Outcome))
	}
	if ev.Intent != "" {
		fields = append(fields, zap.String("intent", ev.Intent), zap.Float64("confidence", ev.Confidence))
	}
	if ev.Source != "" {
		fields = append(fields, zap.String("source", ev.Source))
	}
	if ev.PendingID != "" {
		fields = append(fields, zap.String("pending_id", ev.PendingID))
	}
	if len(ev.Missing) > 0 {
		fields = append(fields, zap.Strings("missing", ev.Missing))
	}
	if ev.Duration > 0 {
		fields = append(fields, zap.Duration("duration", ev.Duration))
	}
	if ev.Detail != "" {
		fields = append(fields, zap.String("detail", ev.Detail))
	}
	Zap().Named("audit").Info("audit", fields...)
}

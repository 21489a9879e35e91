package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// Event types
	EventTypeVaultUnlock    = "vault.unlock"
	EventTypeVaultLock      = "vault.lock"
	EventTypeVaultSet       = "vault.set"
	EventTypeVaultRemove    = "vault.remove"
	EventTypePermission     = "permission.check"
	EventTypeActionExecuted = "action.execute"

	// Operations
	OperationUnlock    = "unlock"
	OperationLock      = "lock"
	OperationWrite     = "write"
	OperationDelete    = "delete"
	OperationAuthorize = "authorize"
	OperationCommit    = "commit"

	// Statuses
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusDenied  = "denied"
)

// ZerologAuditLogger writes audit events as structured zerolog entries
type ZerologAuditLogger struct {
	logger zerolog.Logger
}

var _ interfaces.AuditLogger = (*ZerologAuditLogger)(nil)

// NewZerologAuditLogger creates an audit logger on the global zerolog logger
func NewZerologAuditLogger() *ZerologAuditLogger {
	return &ZerologAuditLogger{
		logger: log.With().Str("component", "audit").Logger(),
	}
}

// NewZerologAuditLoggerWith creates an audit logger writing to logger
func NewZerologAuditLoggerWith(logger zerolog.Logger) *ZerologAuditLogger {
	return &ZerologAuditLogger{logger: logger}
}

// LogEvent logs an audit event with its context fields
func (l *ZerologAuditLogger) LogEvent(ctx context.Context, event *types.AuditEvent) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Context == nil {
		event.Context = make(map[string]string)
	}
	for _, key := range contextKeys {
		if _, set := event.Context[string(key)]; set {
			continue
		}
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			event.Context[string(key)] = v
		}
	}

	entry := l.logger.Info()
	if event.Status == StatusFailed {
		entry = l.logger.Warn()
	}
	entry = entry.
		Str("auditId", event.ID).
		Time("timestamp", event.Timestamp).
		Str("eventType", event.EventType).
		Str("operation", event.Operation).
		Str("status", event.Status)

	for key, value := range event.Context {
		if value != "" {
			entry = entry.Str(key, value)
		}
	}

	entry.Msg("Audit event")
	return nil
}

// WithAction adds action identifiers to the context
func WithAction(ctx context.Context, actionID, ruleID, actionType string) context.Context {
	ctx = context.WithValue(ctx, KeyActionID, actionID)
	if ruleID != "" {
		ctx = context.WithValue(ctx, KeyRuleID, ruleID)
	}
	return context.WithValue(ctx, KeyActionType, actionType)
}

// WithUserContext adds user information to the context
func WithUserContext(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, KeyUserID, userID)
}

// WithOperation adds operation information to the context
func WithOperation(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, KeyOperation, operation)
}

// NewAuditEvent creates a new audit event with essential fields
func NewAuditEvent(eventType, operation string) *types.AuditEvent {
	return &types.AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Operation: operation,
		Status:    StatusSuccess,
		Context:   make(map[string]string),
	}
}

// Emit logs an event and drops logger errors, which must never fail the caller
func Emit(ctx context.Context, logger interfaces.AuditLogger, event *types.AuditEvent) {
	if logger == nil {
		return
	}
	if err := logger.LogEvent(ctx, event); err != nil {
		log.Warn().Err(err).Str("eventType", event.EventType).Msg("Failed to write audit event")
	}
}

// Package permission decides whether an automated action may touch a real
// account. Decisions are fail-closed: an unknown action type, a missing grant or
// an unavailable grant source is a denial, never an error and never an allow.
package permission

import (
	"context"
	"errors"
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/audit"
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrPermissionDenied is returned by Check for a denied action
var ErrPermissionDenied = errors.New("permission denied")

const reasonSourceUnavailable = "permission source unavailable"

// Enforcer checks actions against the current user's grants
type Enforcer struct {
	grants             interfaces.GrantProvider
	highValueThreshold decimal.Decimal
	auditLogger        interfaces.AuditLogger
	logger             zerolog.Logger
}

var _ interfaces.Authorizer = (*Enforcer)(nil)

// NewEnforcer creates an enforcer. Money-moving actions above threshold also
// require the high-value grant.
func NewEnforcer(grants interfaces.GrantProvider, threshold decimal.Decimal, auditLogger interfaces.AuditLogger) *Enforcer {
	return &Enforcer{
		grants:             grants,
		highValueThreshold: threshold,
		auditLogger:        auditLogger,
		logger:             log.With().Str("component", "permission").Logger(),
	}
}

// RequiredPermission returns the grant an action type needs
func RequiredPermission(actionType types.ActionType) (types.Permission, bool) {
	switch actionType {
	case types.ActionTransfer:
		return types.PermissionTransferExecute, true
	case types.ActionGoalAdjustment:
		return types.PermissionGoalAdjust, true
	case types.ActionNotification:
		return types.PermissionNotify, true
	default:
		return "", false
	}
}

// CanExecuteAction checks the base grant for an action type
func (e *Enforcer) CanExecuteAction(ctx context.Context, actionType types.ActionType) types.Decision {
	granted, decision := e.loadGrants(ctx)
	if granted == nil {
		return decision
	}
	return canExecute(granted, actionType)
}

// Authorize checks the base grant for the action's type and, for money moving
// actions above the threshold, the high-value grant
func (e *Enforcer) Authorize(ctx context.Context, action types.Action) types.Decision {
	ctx = audit.WithAction(ctx, action.ID, action.RuleID, string(action.Type()))

	decision := e.authorize(ctx, action)
	e.record(ctx, action, decision)
	return decision
}

// Check is Authorize for callers that want an error
func (e *Enforcer) Check(ctx context.Context, action types.Action) error {
	decision := e.Authorize(ctx, action)
	if decision.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, decision.Reason)
}

func (e *Enforcer) authorize(ctx context.Context, action types.Action) types.Decision {
	granted, decision := e.loadGrants(ctx)
	if granted == nil {
		return decision
	}

	switch p := action.Payload.(type) {
	case types.TransferPayload:
		if d := canExecute(granted, types.ActionTransfer); !d.Allowed {
			return d
		}
		return e.checkHighValue(granted, p.Amount)
	case types.GoalAdjustmentPayload:
		if d := canExecute(granted, types.ActionGoalAdjustment); !d.Allowed {
			return d
		}
		if p.Source == "" {
			return allow()
		}
		if d := canExecute(granted, types.ActionTransfer); !d.Allowed {
			return deny(fmt.Sprintf("funding goal %s from account %s requires %s", p.Goal, p.Source, types.PermissionTransferExecute))
		}
		return e.checkHighValue(granted, p.Delta.Abs())
	case types.NotificationPayload:
		return canExecute(granted, types.ActionNotification)
	default:
		return deny(fmt.Sprintf("unknown action type %q", action.Type()))
	}
}

func (e *Enforcer) checkHighValue(granted map[types.Permission]bool, amount decimal.Decimal) types.Decision {
	if amount.LessThanOrEqual(e.highValueThreshold) {
		return allow()
	}
	if !granted[types.PermissionTransferHighRisk] {
		return deny(fmt.Sprintf("amount %s exceeds the high-value threshold %s and requires %s",
			amount.StringFixed(2), e.highValueThreshold.StringFixed(2), types.PermissionTransferHighRisk))
	}
	return allow()
}

// loadGrants returns nil and a denial when the grant source fails
func (e *Enforcer) loadGrants(ctx context.Context) (map[types.Permission]bool, types.Decision) {
	if e.grants == nil {
		return nil, deny(reasonSourceUnavailable)
	}
	perms, err := e.grants.Grants(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to load grants, denying")
		return nil, deny(reasonSourceUnavailable)
	}
	granted := make(map[types.Permission]bool, len(perms))
	for _, p := range perms {
		granted[p] = true
	}
	return granted, types.Decision{}
}

func canExecute(granted map[types.Permission]bool, actionType types.ActionType) types.Decision {
	required, known := RequiredPermission(actionType)
	if !known {
		return deny(fmt.Sprintf("unknown action type %q", actionType))
	}
	if !granted[required] {
		return deny(fmt.Sprintf("missing permission %s", required))
	}
	return allow()
}

func (e *Enforcer) record(ctx context.Context, action types.Action, decision types.Decision) {
	status := audit.StatusSuccess
	if !decision.Allowed {
		status = audit.StatusDenied
		e.logger.Info().
			Str("actionId", action.ID).
			Str("actionType", string(action.Type())).
			Str("reason", decision.Reason).
			Msg("Action denied")
	}

	if e.auditLogger == nil {
		return
	}
	event := audit.NewAuditEvent(audit.EventTypePermission, audit.OperationAuthorize)
	event.Status = status
	if decision.Reason != "" {
		event.Context[string(audit.KeyReason)] = decision.Reason
	}
	audit.Emit(ctx, e.auditLogger, event)
}

func allow() types.Decision {
	return types.Decision{Allowed: true}
}

func deny(reason string) types.Decision {
	return types.Decision{Allowed: false, Reason: reason}
}

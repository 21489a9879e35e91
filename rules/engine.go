// Package rules matches snapshots against user rules and turns matching rules
// into concrete candidate actions.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ErrInvalidTemplate is returned for an action template that cannot produce an action
var ErrInvalidTemplate = errors.New("invalid action template")

// Engine evaluates rules against snapshots
type Engine struct {
	cel    *celEvaluator
	logger zerolog.Logger
	newID  func() string
	now    func() time.Time
}

var _ interfaces.RuleEvaluator = (*Engine)(nil)

// NewEngine creates a rule engine
func NewEngine() (*Engine, error) {
	evaluator, err := newCELEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		cel:    evaluator,
		logger: log.With().Str("component", "rules").Logger(),
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}, nil
}

// EvaluateRules returns the candidate actions of every enabled, matching rule.
// Actions follow rule order and then template order. A rule whose condition
// cannot be evaluated against the snapshot does not match.
func (e *Engine) EvaluateRules(snapshot *types.Snapshot, rules []types.Rule) []types.Action {
	var actions []types.Action
	if snapshot == nil {
		return actions
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		matched, err := e.Matches(rule, snapshot)
		if err != nil {
			e.logger.Warn().Err(err).Str("ruleId", rule.ID).Msg("Rule condition could not be evaluated")
			continue
		}
		if !matched {
			continue
		}

		e.logger.Debug().Str("ruleId", rule.ID).Int("templates", len(rule.Actions)).Msg("Rule matched")
		for i, template := range rule.Actions {
			action, err := e.buildAction(rule.ID, template, snapshot)
			if errors.Is(err, errZeroAmount) {
				e.logger.Debug().Str("ruleId", rule.ID).Int("template", i).Msg("Skipping action with zero amount")
				continue
			}
			if err != nil {
				e.logger.Warn().Err(err).Str("ruleId", rule.ID).Int("template", i).Msg("Skipping unresolvable action template")
				continue
			}
			actions = append(actions, action)
		}
	}
	return actions
}

// Matches evaluates one rule's condition tree
func (e *Engine) Matches(rule types.Rule, snapshot *types.Snapshot) (bool, error) {
	return e.evaluate(rule.Conditions, snapshot)
}

func (e *Engine) buildAction(ruleID string, template types.ActionTemplate, snapshot *types.Snapshot) (types.Action, error) {
	var payload types.Payload

	switch template.Type {
	case types.ActionTransfer:
		if template.Source == "" || template.Destination == "" {
			return types.Action{}, fmt.Errorf("%w: transfer needs source and destination", ErrInvalidTemplate)
		}
		amount, err := resolveAmount(template.Amount, template.Source, snapshot)
		if err != nil {
			return types.Action{}, err
		}
		if amount.IsNegative() {
			return types.Action{}, fmt.Errorf("%w: transfer amount %s is negative", ErrInvalidTemplate, amount)
		}
		payload = types.TransferPayload{
			Source:      template.Source,
			Destination: template.Destination,
			Amount:      amount,
		}

	case types.ActionGoalAdjustment:
		if template.Goal == "" {
			return types.Action{}, fmt.Errorf("%w: goal adjustment needs a goal", ErrInvalidTemplate)
		}
		delta, err := resolveAmount(template.Amount, template.Source, snapshot)
		if err != nil {
			return types.Action{}, err
		}
		payload = types.GoalAdjustmentPayload{
			Goal:   template.Goal,
			Source: template.Source,
			Delta:  delta,
		}

	case types.ActionNotification:
		if template.Message == "" {
			return types.Action{}, fmt.Errorf("%w: notification needs a message", ErrInvalidTemplate)
		}
		channel := template.Channel
		if channel == "" {
			channel = "push"
		}
		payload = types.NotificationPayload{
			Channel: channel,
			Message: template.Message,
		}

	default:
		return types.Action{}, fmt.Errorf("%w: unknown action type %q", ErrInvalidTemplate, template.Type)
	}

	return types.Action{
		ID:        e.newID(),
		RuleID:    ruleID,
		Payload:   payload,
		CreatedAt: e.now().UTC(),
	}, nil
}

// validateTemplate checks a template without a snapshot
func validateTemplate(template types.ActionTemplate) error {
	switch template.Type {
	case types.ActionTransfer:
		if template.Source == "" || template.Destination == "" {
			return fmt.Errorf("%w: transfer needs source and destination", ErrInvalidTemplate)
		}
		if template.Source == template.Destination {
			return fmt.Errorf("%w: transfer source and destination are the same account", ErrInvalidTemplate)
		}
		if err := validateAmount(template.Amount, template.Source); err != nil {
			return err
		}
		if fixed := template.Amount.Fixed; fixed != "" && decimal.RequireFromString(strings.TrimSpace(fixed)).IsNegative() {
			return fmt.Errorf("%w: transfer amount %s is negative", ErrInvalidTemplate, fixed)
		}
		return nil
	case types.ActionGoalAdjustment:
		if template.Goal == "" {
			return fmt.Errorf("%w: goal adjustment needs a goal", ErrInvalidTemplate)
		}
		return validateAmount(template.Amount, template.Source)
	case types.ActionNotification:
		if template.Message == "" {
			return fmt.Errorf("%w: notification needs a message", ErrInvalidTemplate)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown action type %q", ErrInvalidTemplate, template.Type)
	}
}

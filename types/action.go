package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ActionType identifies the kind of an automated action
type ActionType string

const (
	ActionTransfer       ActionType = "transfer"
	ActionGoalAdjustment ActionType = "goal_adjustment"
	ActionNotification   ActionType = "notification"
)

// KnownActionTypes lists every action kind the pipeline understands
var KnownActionTypes = []ActionType{
	ActionTransfer,
	ActionGoalAdjustment,
	ActionNotification,
}

// Valid reports whether t is one of the known action kinds
func (t ActionType) Valid() bool {
	for _, known := range KnownActionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Payload is the closed set of action parameters. Only types declared in this
// package implement it.
type Payload interface {
	Kind() ActionType
	sealed()
}

// TransferPayload moves money between two accounts
type TransferPayload struct {
	Source      string          `json:"source" bson:"source"`
	Destination string          `json:"destination" bson:"destination"`
	Amount      decimal.Decimal `json:"amount" bson:"amount"`
}

func (TransferPayload) Kind() ActionType { return ActionTransfer }
func (TransferPayload) sealed()          {}

// GoalAdjustmentPayload changes the saved amount of a goal. When Source is set
// the delta is funded from (or returned to) that account.
type GoalAdjustmentPayload struct {
	Goal   string          `json:"goal" bson:"goal"`
	Source string          `json:"source,omitempty" bson:"source,omitempty"`
	Delta  decimal.Decimal `json:"delta" bson:"delta"`
}

func (GoalAdjustmentPayload) Kind() ActionType { return ActionGoalAdjustment }
func (GoalAdjustmentPayload) sealed()          {}

// NotificationPayload sends a message to the user
type NotificationPayload struct {
	Channel string `json:"channel" bson:"channel"`
	Message string `json:"message" bson:"message"`
}

func (NotificationPayload) Kind() ActionType { return ActionNotification }
func (NotificationPayload) sealed()          {}

// Action is a concrete candidate produced by rule evaluation
type Action struct {
	ID        string    `json:"id"`
	RuleID    string    `json:"ruleId,omitempty"`
	Payload   Payload   `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// Type returns the action kind derived from its payload
func (a Action) Type() ActionType {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.Kind()
}

// Amount returns the money moved by the action, zero for kinds that move none
func (a Action) Amount() decimal.Decimal {
	switch p := a.Payload.(type) {
	case TransferPayload:
		return p.Amount
	case GoalAdjustmentPayload:
		if p.Source == "" {
			return decimal.Zero
		}
		return p.Delta.Abs()
	default:
		return decimal.Zero
	}
}

type actionJSON struct {
	ID        string          `json:"id"`
	RuleID    string          `json:"ruleId,omitempty"`
	Type      ActionType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"createdAt"`
}

// MarshalJSON encodes the payload together with its type discriminator
func (a Action) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action payload: %w", err)
	}
	return json.Marshal(actionJSON{
		ID:        a.ID,
		RuleID:    a.RuleID,
		Type:      a.Type(),
		Payload:   payload,
		CreatedAt: a.CreatedAt,
	})
}

// UnmarshalJSON decodes an action using its type discriminator
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw actionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var payload Payload
	switch raw.Type {
	case ActionTransfer:
		var p TransferPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode transfer payload: %w", err)
		}
		payload = p
	case ActionGoalAdjustment:
		var p GoalAdjustmentPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode goal adjustment payload: %w", err)
		}
		payload = p
	case ActionNotification:
		var p NotificationPayload
		if err := json.Unmarshal(raw.Payload, &p); err != nil {
			return fmt.Errorf("failed to decode notification payload: %w", err)
		}
		payload = p
	default:
		return fmt.Errorf("unknown action type %q", raw.Type)
	}

	a.ID = raw.ID
	a.RuleID = raw.RuleID
	a.Payload = payload
	a.CreatedAt = raw.CreatedAt
	return nil
}

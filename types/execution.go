package types

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the pipeline state recorded for an action
type Status string

const (
	StatusPending    Status = "pending"
	StatusSimulated  Status = "simulated"
	StatusAuthorized Status = "authorized"
	StatusDenied     Status = "denied"
	StatusExecuted   Status = "executed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further record follows this status
func (s Status) Terminal() bool {
	switch s {
	case StatusDenied, StatusExecuted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Outcome is the projected or committed effect of an action
type Outcome struct {
	Success          bool                       `json:"success" bson:"success"`
	Reason           string                     `json:"reason,omitempty" bson:"reason,omitempty"`
	Balances         map[string]decimal.Decimal `json:"balances,omitempty" bson:"balances,omitempty"`
	Goals            map[string]decimal.Decimal `json:"goals,omitempty" bson:"goals,omitempty"`
	SnapshotRevision uint64                     `json:"snapshotRevision" bson:"snapshotRevision"`
}

// SameEffect reports whether two outcomes project identical balances and goals
func (o *Outcome) SameEffect(other *Outcome) bool {
	if o == nil || other == nil {
		return o == other
	}
	if o.Success != other.Success {
		return false
	}
	return sameAmounts(o.Balances, other.Balances) && sameAmounts(o.Goals, other.Goals)
}

func sameAmounts(a, b map[string]decimal.Decimal) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !v.Equal(w) {
			return false
		}
	}
	return true
}

// ErrRevisionConflict is wrapped by committers that refuse a mutation because
// the snapshot revision it was validated against has moved
var ErrRevisionConflict = errors.New("snapshot revision conflict")

// CommitResult is returned by the external mutation collaborator
type CommitResult struct {
	Reference string   `json:"reference" bson:"reference"`
	Outcome   *Outcome `json:"outcome,omitempty" bson:"outcome,omitempty"`
}

// Decision is the result of a permission check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ExecutionRecord is one append-only audit entry of an action's traversal
type ExecutionRecord struct {
	ID               string     `json:"id" bson:"_id"`
	Sequence         uint64     `json:"sequence" bson:"sequence"`
	ActionID         string     `json:"actionId" bson:"actionId"`
	RuleID           string     `json:"ruleId,omitempty" bson:"ruleId,omitempty"`
	ActionType       ActionType `json:"actionType" bson:"actionType"`
	Status           Status     `json:"status" bson:"status"`
	Attempt          int        `json:"attempt,omitempty" bson:"attempt,omitempty"`
	SnapshotRevision uint64     `json:"snapshotRevision" bson:"snapshotRevision"`
	SimulatedOutcome *Outcome   `json:"simulatedOutcome,omitempty" bson:"simulatedOutcome,omitempty"`
	RealOutcome      *Outcome   `json:"realOutcome,omitempty" bson:"realOutcome,omitempty"`
	Reason           string     `json:"reason,omitempty" bson:"reason,omitempty"`
	CommitReference  string     `json:"commitReference,omitempty" bson:"commitReference,omitempty"`
	Timestamp        time.Time  `json:"timestamp" bson:"timestamp"`
	PrevHash         string     `json:"prevHash" bson:"prevHash"`
	Hash             string     `json:"hash" bson:"hash"`
}

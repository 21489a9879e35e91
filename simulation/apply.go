// Package simulation projects the effect of an action without side effects.
// Apply holds the only implementation of the money formulas; the simulator
// projects with it and committers apply the real mutation with it.
package simulation

import (
	"errors"
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/shopspring/decimal"
)

// ErrUnsupportedAction is returned for an action kind that cannot be simulated
var ErrUnsupportedAction = errors.New("unsupported action for simulation")

// Apply returns the snapshot after action and the outcome describing it. The
// input snapshot is never modified. A business failure (for example
// insufficient funds) is an unsuccessful outcome, not an error.
func Apply(action types.Action, snapshot *types.Snapshot) (*types.Snapshot, *types.Outcome, error) {
	if snapshot == nil {
		return nil, nil, fmt.Errorf("snapshot is required")
	}
	next := snapshot.Clone()

	var reason string
	switch p := action.Payload.(type) {
	case types.TransferPayload:
		reason = applyTransfer(next, p)
	case types.GoalAdjustmentPayload:
		reason = applyGoalAdjustment(next, p)
	case types.NotificationPayload:
		if p.Message == "" {
			reason = "notification message is empty"
		}
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedAction, action.Type())
	}

	if reason != "" {
		return snapshot.Clone(), failure(snapshot, reason), nil
	}
	return next, &types.Outcome{
		Success:          true,
		Balances:         next.Balances(),
		Goals:            next.SavedByGoal(),
		SnapshotRevision: snapshot.Revision,
	}, nil
}

// applyTransfer mutates s and returns a failure reason, empty on success
func applyTransfer(s *types.Snapshot, p types.TransferPayload) string {
	if !p.Amount.IsPositive() {
		return "transfer amount must be positive"
	}
	if p.Source == p.Destination {
		return "transfer source and destination are the same account"
	}
	src, ok := s.Accounts[p.Source]
	if !ok {
		return fmt.Sprintf("unknown account %s", p.Source)
	}
	dst, ok := s.Accounts[p.Destination]
	if !ok {
		return fmt.Sprintf("unknown account %s", p.Destination)
	}
	if src.Currency != "" && dst.Currency != "" && src.Currency != dst.Currency {
		return fmt.Sprintf("currency mismatch between %s (%s) and %s (%s)", p.Source, src.Currency, p.Destination, dst.Currency)
	}
	if reason := checkFunds(src, p.Amount); reason != "" {
		return reason
	}

	src.Balance = src.Balance.Sub(p.Amount)
	dst.Balance = dst.Balance.Add(p.Amount)
	s.Accounts[p.Source] = src
	s.Accounts[p.Destination] = dst
	return ""
}

// applyGoalAdjustment mutates s and returns a failure reason, empty on success.
// A funded adjustment moves the delta between the source account and the goal.
func applyGoalAdjustment(s *types.Snapshot, p types.GoalAdjustmentPayload) string {
	if p.Delta.IsZero() {
		return "goal adjustment delta must not be zero"
	}
	goal, ok := s.Goals[p.Goal]
	if !ok {
		return fmt.Sprintf("unknown goal %s", p.Goal)
	}
	saved := goal.Saved.Add(p.Delta)
	if saved.IsNegative() {
		return fmt.Sprintf("goal %s saved amount cannot go below zero", p.Goal)
	}

	if p.Source != "" {
		src, ok := s.Accounts[p.Source]
		if !ok {
			return fmt.Sprintf("unknown account %s", p.Source)
		}
		if p.Delta.IsPositive() {
			if reason := checkFunds(src, p.Delta); reason != "" {
				return reason
			}
		}
		src.Balance = src.Balance.Sub(p.Delta)
		s.Accounts[p.Source] = src
	}

	goal.Saved = saved
	s.Goals[p.Goal] = goal
	return ""
}

func checkFunds(acc types.Account, amount decimal.Decimal) string {
	if amount.GreaterThan(acc.Balance) {
		return fmt.Sprintf("insufficient funds in %s: balance %s, amount %s",
			acc.ID, acc.Balance.StringFixed(2), amount.StringFixed(2))
	}
	return ""
}

func failure(s *types.Snapshot, reason string) *types.Outcome {
	return &types.Outcome{
		Success:          false,
		Reason:           reason,
		Balances:         s.Balances(),
		Goals:            s.SavedByGoal(),
		SnapshotRevision: s.Revision,
	}
}

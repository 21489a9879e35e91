package types

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Account is a single account balance as reported by the account provider
type Account struct {
	ID       string          `json:"id" bson:"id"`
	Name     string          `json:"name,omitempty" bson:"name,omitempty"`
	Balance  decimal.Decimal `json:"balance" bson:"balance"`
	Currency string          `json:"currency,omitempty" bson:"currency,omitempty"`
}

// Goal is a savings goal
type Goal struct {
	ID     string          `json:"id" bson:"id"`
	Name   string          `json:"name,omitempty" bson:"name,omitempty"`
	Target decimal.Decimal `json:"target" bson:"target"`
	Saved  decimal.Decimal `json:"saved" bson:"saved"`
}

// Remaining returns how much is left to reach the target, never negative
func (g Goal) Remaining() decimal.Decimal {
	rest := g.Target.Sub(g.Saved)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}

// Progress returns saved/target, zero when the target is not positive
func (g Goal) Progress() decimal.Decimal {
	if !g.Target.IsPositive() {
		return decimal.Zero
	}
	return g.Saved.Div(g.Target)
}

// Event is an incoming financial event that triggers rule evaluation
type Event struct {
	ID         string          `json:"id" bson:"id"`
	Kind       string          `json:"kind" bson:"kind"`
	AccountID  string          `json:"account,omitempty" bson:"account,omitempty"`
	Amount     decimal.Decimal `json:"amount" bson:"amount"`
	Category   string          `json:"category,omitempty" bson:"category,omitempty"`
	Merchant   string          `json:"merchant,omitempty" bson:"merchant,omitempty"`
	OccurredAt time.Time       `json:"occurredAt" bson:"occurredAt"`
}

// Snapshot is a point-in-time view of accounts and goals. It is treated as
// immutable: the pipeline reads it and works on clones.
type Snapshot struct {
	Revision uint64             `json:"revision" bson:"revision"`
	TakenAt  time.Time          `json:"takenAt" bson:"takenAt"`
	Accounts map[string]Account `json:"accounts" bson:"accounts"`
	Goals    map[string]Goal    `json:"goals,omitempty" bson:"goals,omitempty"`
	Event    *Event             `json:"event,omitempty" bson:"event,omitempty"`
}

// Balance returns the balance of an account
func (s *Snapshot) Balance(accountID string) (decimal.Decimal, bool) {
	acc, ok := s.Accounts[accountID]
	if !ok {
		return decimal.Zero, false
	}
	return acc.Balance, true
}

// Goal returns a goal by id
func (s *Snapshot) Goal(goalID string) (Goal, bool) {
	g, ok := s.Goals[goalID]
	return g, ok
}

// Balances returns a copy of all balances keyed by account id
func (s *Snapshot) Balances() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.Accounts))
	for id, acc := range s.Accounts {
		out[id] = acc.Balance
	}
	return out
}

// SavedByGoal returns a copy of the saved amount for every goal
func (s *Snapshot) SavedByGoal() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(s.Goals))
	for id, g := range s.Goals {
		out[id] = g.Saved
	}
	return out
}

// AccountIDs returns account ids in sorted order
func (s *Snapshot) AccountIDs() []string {
	ids := make([]string, 0, len(s.Accounts))
	for id := range s.Accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clone returns a deep copy of the snapshot
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	c := &Snapshot{
		Revision: s.Revision,
		TakenAt:  s.TakenAt,
		Accounts: make(map[string]Account, len(s.Accounts)),
		Goals:    make(map[string]Goal, len(s.Goals)),
	}
	for id, acc := range s.Accounts {
		c.Accounts[id] = acc
	}
	for id, g := range s.Goals {
		c.Goals[id] = g
	}
	if s.Event != nil {
		ev := *s.Event
		c.Event = &ev
	}
	return c
}

// WithEvent returns a copy of the snapshot carrying the given event
func (s *Snapshot) WithEvent(ev *Event) *Snapshot {
	c := s.Clone()
	if ev != nil {
		e := *ev
		c.Event = &e
	}
	return c
}

// Package accounts provides an in-process ledger that stands in for the
// account provider and the transfer-commit API. It applies commits with the
// same formulas the simulator uses.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/simulation"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrRevisionMismatch is returned when a commit targets an outdated revision
	ErrRevisionMismatch = fmt.Errorf("ledger revision has moved: %w", types.ErrRevisionConflict)

	// ErrRejected is returned when the ledger refuses a mutation
	ErrRejected = errors.New("ledger rejected mutation")
)

// Ledger is a sandbox account provider and committer
type Ledger struct {
	mu       sync.Mutex
	state    *types.Snapshot
	outbox   []types.NotificationPayload
	commits  int
	failNext error
	now      func() time.Time
	logger   zerolog.Logger
}

var (
	_ interfaces.SnapshotSource = (*Ledger)(nil)
	_ interfaces.Committer      = (*Ledger)(nil)
)

// NewLedger creates a ledger holding a copy of initial
func NewLedger(initial *types.Snapshot) *Ledger {
	state := initial.Clone()
	if state == nil {
		state = &types.Snapshot{}
	}
	if state.Accounts == nil {
		state.Accounts = make(map[string]types.Account)
	}
	if state.Goals == nil {
		state.Goals = make(map[string]types.Goal)
	}
	if state.Revision == 0 {
		state.Revision = 1
	}
	state.Event = nil

	return &Ledger{
		state:  state,
		now:    time.Now,
		logger: log.With().Str("component", "ledger").Logger(),
	}
}

// LoadSnapshotFile reads a JSON snapshot
func LoadSnapshotFile(path string) (*types.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}
	snapshot := &types.Snapshot{}
	if err := json.Unmarshal(data, snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot file: %w", err)
	}
	for id, acc := range snapshot.Accounts {
		if acc.ID == "" {
			acc.ID = id
			snapshot.Accounts[id] = acc
		}
	}
	for id, g := range snapshot.Goals {
		if g.ID == "" {
			g.ID = id
			snapshot.Goals[id] = g
		}
	}
	return snapshot, nil
}

// Snapshot returns a copy of the current state
func (l *Ledger) Snapshot(context.Context) (*types.Snapshot, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := l.state.Clone()
	s.TakenAt = l.now().UTC()
	return s, nil
}

// Commit applies action if revision is still current
func (l *Ledger) Commit(ctx context.Context, action types.Action, revision uint64) (*types.CommitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.failNext != nil {
		err := l.failNext
		l.failNext = nil
		return nil, err
	}
	if revision != l.state.Revision {
		return nil, fmt.Errorf("%w: expected %d, current %d", ErrRevisionMismatch, revision, l.state.Revision)
	}

	next, outcome, err := simulation.Apply(action, l.state)
	if err != nil {
		return nil, err
	}
	if !outcome.Success {
		return nil, fmt.Errorf("%w: %s", ErrRejected, outcome.Reason)
	}

	next.Revision = l.state.Revision + 1
	l.state = next
	l.commits++
	if p, ok := action.Payload.(types.NotificationPayload); ok {
		l.outbox = append(l.outbox, p)
	}

	ref := "ledger-" + uuid.New().String()
	l.logger.Info().
		Str("actionId", action.ID).
		Str("reference", ref).
		Uint64("revision", next.Revision).
		Msg("Mutation committed")

	return &types.CommitResult{Reference: ref, Outcome: outcome}, nil
}

// Record applies an external transaction to an account and advances the revision
func (l *Ledger) Record(ev types.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acc, ok := l.state.Accounts[ev.AccountID]
	if !ok {
		return fmt.Errorf("unknown account %s", ev.AccountID)
	}
	acc.Balance = acc.Balance.Add(ev.Amount)
	l.state.Accounts[ev.AccountID] = acc
	l.state.Revision++
	return nil
}

// Advance mutates the state outside the pipeline and advances the revision
func (l *Ledger) Advance(mutate func(*types.Snapshot)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	mutate(l.state)
	l.state.Revision++
}

// FailNextCommit makes the next Commit return err
func (l *Ledger) FailNextCommit(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failNext = err
}

// Commits returns the number of applied mutations
func (l *Ledger) Commits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.commits
}

// Outbox returns the notifications delivered so far
func (l *Ledger) Outbox() []types.NotificationPayload {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.NotificationPayload(nil), l.outbox...)
}

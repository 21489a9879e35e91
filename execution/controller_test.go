package execution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/root-sector-ltd-and-co-kg/framesync/accounts"
	"github.com/root-sector-ltd-and-co-kg/framesync/audit"
	"github.com/root-sector-ltd-and-co-kg/framesync/dispatcher"
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/permission"
	"github.com/root-sector-ltd-and-co-kg/framesync/simulation"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingCommitter records every commit request before delegating
type countingCommitter struct {
	mu    sync.Mutex
	next  interfaces.Committer
	calls int
}

func (c *countingCommitter) Commit(ctx context.Context, action types.Action, revision uint64) (*types.CommitResult, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.next.Commit(ctx, action, revision)
}

func (c *countingCommitter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// movingSource advances the ledger before the listed Snapshot calls
type movingSource struct {
	ledger  *accounts.Ledger
	advance map[int]bool
	calls   int
}

func (m *movingSource) Snapshot(ctx context.Context) (*types.Snapshot, error) {
	m.calls++
	if m.advance[m.calls] {
		m.ledger.Advance(func(s *types.Snapshot) {
			acc := s.Accounts["checking"]
			acc.Balance = acc.Balance.Sub(decimal.NewFromInt(100))
			s.Accounts["checking"] = acc
		})
	}
	return m.ledger.Snapshot(ctx)
}

// divergingCommitter reports a committed outcome unlike the simulation
type divergingCommitter struct{}

func (divergingCommitter) Commit(_ context.Context, _ types.Action, revision uint64) (*types.CommitResult, error) {
	return &types.CommitResult{
		Reference: "ref-1",
		Outcome: &types.Outcome{
			Success:          true,
			Balances:         map[string]decimal.Decimal{"checking": decimal.NewFromInt(1)},
			SnapshotRevision: revision,
		},
	}, nil
}

type fixture struct {
	ledger     *accounts.Ledger
	committer  *countingCommitter
	journal    *audit.Journal
	controller *Controller
}

func newLedger() *accounts.Ledger {
	return accounts.NewLedger(&types.Snapshot{
		Accounts: map[string]types.Account{
			"checking": {ID: "checking", Balance: decimal.NewFromInt(6000)},
			"savings":  {ID: "savings", Balance: decimal.Zero},
		},
		Goals: map[string]types.Goal{
			"holiday": {ID: "holiday", Target: decimal.NewFromInt(2000), Saved: decimal.Zero},
		},
	})
}

func newFixture(t *testing.T, perms ...types.Permission) *fixture {
	t.Helper()

	ledger := newLedger()
	committer := &countingCommitter{next: ledger}
	journal := audit.NewJournal()
	enforcer := permission.NewEnforcer(permission.NewStaticGrantProvider(perms...), decimal.NewFromInt(1000), nil)

	controller, err := NewController(ledger, committer, simulation.NewSimulator(), enforcer, journal)
	require.NoError(t, err)

	return &fixture{ledger: ledger, committer: committer, journal: journal, controller: controller}
}

func transfer(amount int64) types.Action {
	return types.Action{
		RuleID:  "sweep",
		Payload: types.TransferPayload{Source: "checking", Destination: "savings", Amount: decimal.NewFromInt(amount)},
	}
}

func statuses(records []types.ExecutionRecord) []types.Status {
	out := make([]types.Status, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Status)
	}
	return out
}

func TestNewControllerRequiresCollaborators(t *testing.T) {
	_, err := NewController(nil, nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PermissionTransferExecute)

	id, err := f.controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, f.controller.Pending())

	results, err := f.controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)

	executed := results[0]
	assert.Equal(t, types.StatusExecuted, executed.Status)
	assert.Equal(t, id, executed.ActionID)
	assert.NotEmpty(t, executed.CommitReference)
	assert.Empty(t, executed.Reason)
	assert.True(t, executed.SimulatedOutcome.SameEffect(executed.RealOutcome))
	assert.True(t, executed.RealOutcome.Balances["checking"].Equal(decimal.NewFromInt(5500)))
	assert.True(t, executed.RealOutcome.Balances["savings"].Equal(decimal.NewFromInt(500)))

	assert.Equal(t,
		[]types.Status{types.StatusPending, types.StatusSimulated, types.StatusAuthorized, types.StatusExecuted},
		statuses(f.journal.ForAction(id)))
	assert.Equal(t, 1, f.committer.Calls())
	assert.Equal(t, 0, f.controller.Pending())
	require.NoError(t, f.journal.Verify())
	require.NoError(t, f.journal.CheckLifecycle())
}

func TestDeniedActionNeverCommits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PermissionAccountsRead)

	id, err := f.controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)

	results, err := f.controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusDenied, results[0].Status)
	assert.NotEmpty(t, results[0].Reason)

	assert.Equal(t, 0, f.committer.Calls())
	assert.Equal(t, 0, f.ledger.Commits())
	assert.Equal(t,
		[]types.Status{types.StatusPending, types.StatusSimulated, types.StatusDenied},
		statuses(f.journal.ForAction(id)))
}

func TestSimulationFailureStopsBeforeAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PermissionTransferExecute, types.PermissionTransferHighRisk)

	id, err := f.controller.Enqueue(ctx, transfer(7000))
	require.NoError(t, err)

	results, err := f.controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Reason, "insufficient funds")
	assert.Equal(t,
		[]types.Status{types.StatusPending, types.StatusFailed},
		statuses(f.journal.ForAction(id)))
	assert.Equal(t, 0, f.committer.Calls())
}

func TestCommitFailureRecordsFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PermissionTransferExecute)
	f.ledger.FailNextCommit(errors.New("bank offline"))

	_, err := f.controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)

	results, err := f.controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusFailed, results[0].Status)
	assert.True(t, strings.HasPrefix(results[0].Reason, ErrExternalCommit.Error()))
	assert.Contains(t, results[0].Reason, "bank offline")
	assert.Equal(t, 1, f.committer.Calls())
	assert.Equal(t, 0, f.ledger.Commits())
}

func TestClearDoesNotRevertExecuted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PermissionTransferExecute)

	first, err := f.controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)
	_, err = f.controller.ProcessQueue(ctx)
	require.NoError(t, err)

	second, err := f.controller.Enqueue(ctx, transfer(100))
	require.NoError(t, err)
	third, err := f.controller.Enqueue(ctx, transfer(200))
	require.NoError(t, err)

	cancelled := f.controller.ClearActionQueue(ctx)
	require.Len(t, cancelled, 2)
	assert.Equal(t, second, cancelled[0].ActionID)
	assert.Equal(t, third, cancelled[1].ActionID)
	assert.Equal(t, types.StatusCancelled, cancelled[0].Status)
	assert.Equal(t, 0, f.controller.Pending())

	history := f.journal.ForAction(first)
	assert.Equal(t, types.StatusExecuted, history[len(history)-1].Status)

	results, err := f.controller.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 1, f.ledger.Commits())
}

func TestCancelAction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PermissionTransferExecute)

	first, err := f.controller.Enqueue(ctx, transfer(100))
	require.NoError(t, err)
	second, err := f.controller.Enqueue(ctx, transfer(200))
	require.NoError(t, err)

	rec, err := f.controller.CancelAction(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, rec.Status)

	_, err = f.controller.ProcessQueue(ctx)
	require.NoError(t, err)

	_, err = f.controller.CancelAction(ctx, first)
	assert.ErrorIs(t, err, dispatcher.ErrAlreadyDispatched)
	_, err = f.controller.CancelAction(ctx, "unknown")
	assert.ErrorIs(t, err, dispatcher.ErrNotQueued)
	assert.Equal(t, 1, f.ledger.Commits())
}

func TestStaleSnapshotResimulatesOnce(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	source := &movingSource{ledger: ledger, advance: map[int]bool{2: true}}
	committer := &countingCommitter{next: ledger}
	journal := audit.NewJournal()
	enforcer := permission.NewEnforcer(permission.NewStaticGrantProvider(types.PermissionTransferExecute), decimal.NewFromInt(1000), nil)

	controller, err := NewController(source, committer, simulation.NewSimulator(), enforcer, journal)
	require.NoError(t, err)

	id, err := controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)
	results, err := controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusExecuted, results[0].Status)

	records := journal.ForAction(id)
	assert.Equal(t,
		[]types.Status{types.StatusPending, types.StatusSimulated, types.StatusAuthorized, types.StatusSimulated, types.StatusExecuted},
		statuses(records))
	assert.Equal(t, 2, records[3].Attempt)
	assert.Equal(t, uint64(2), records[3].SnapshotRevision)
	assert.True(t, results[0].RealOutcome.Balances["checking"].Equal(decimal.NewFromInt(5400)))
	require.NoError(t, journal.CheckLifecycle())
}

func TestSnapshotThatKeepsMovingFails(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	source := &movingSource{ledger: ledger, advance: map[int]bool{2: true, 3: true}}
	committer := &countingCommitter{next: ledger}
	enforcer := permission.NewEnforcer(permission.NewStaticGrantProvider(types.PermissionTransferExecute), decimal.NewFromInt(1000), nil)

	controller, err := NewController(source, committer, simulation.NewSimulator(), enforcer, audit.NewJournal())
	require.NoError(t, err)

	_, err = controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)
	results, err := controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusFailed, results[0].Status)
	assert.Contains(t, results[0].Reason, ErrStaleSnapshot.Error())
	assert.Equal(t, 0, committer.Calls())
}

func TestDivergenceIsRecorded(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	enforcer := permission.NewEnforcer(permission.NewStaticGrantProvider(types.PermissionTransferExecute), decimal.NewFromInt(1000), nil)

	controller, err := NewController(ledger, divergingCommitter{}, simulation.NewSimulator(), enforcer, audit.NewJournal())
	require.NoError(t, err)

	_, err = controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)
	results, err := controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusExecuted, results[0].Status)
	assert.Equal(t, "committed outcome diverged from simulation", results[0].Reason)
}

func TestProcessQueueStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, types.PermissionTransferExecute)

	_, err := f.controller.Enqueue(context.Background(), transfer(100))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results, err := f.controller.ProcessQueue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Equal(t, 1, f.controller.Pending())
}

func TestEnqueueRejectsDuplicatesAndEmptyPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.controller.Enqueue(ctx, types.Action{})
	assert.Error(t, err)

	action := transfer(1)
	action.ID = "fixed"
	_, err = f.controller.Enqueue(ctx, action)
	require.NoError(t, err)
	_, err = f.controller.Enqueue(ctx, action)
	assert.ErrorIs(t, err, dispatcher.ErrDuplicateAction)
}

func TestLogExecution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rec, err := f.controller.LogExecution(ctx, types.Action{ID: "manual", Payload: types.NotificationPayload{Message: "x"}}, &types.Outcome{Success: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusExecuted, rec.Status)
	assert.Len(t, f.controller.GetExecutionHistory(), 1)
}

func TestLifecycleHoldsForRandomQueues(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("executed actions were simulated and authorized, denied ones never committed", prop.ForAll(
		func(amounts []int64, grant bool) bool {
			ctx := context.Background()
			perms := []types.Permission{types.PermissionAccountsRead}
			if grant {
				perms = append(perms, types.PermissionTransferExecute, types.PermissionTransferHighRisk)
			}
			f := newFixture(t, perms...)

			for _, amount := range amounts {
				if _, err := f.controller.Enqueue(ctx, transfer(amount)); err != nil {
					return false
				}
			}
			results, err := f.controller.ProcessQueue(ctx)
			if err != nil || len(results) != len(amounts) {
				return false
			}

			executed := 0
			for _, rec := range results {
				if rec.Status == types.StatusExecuted {
					executed++
				}
				if !grant && rec.Status == types.StatusExecuted {
					return false
				}
			}
			return executed == f.ledger.Commits() &&
				f.journal.CheckLifecycle() == nil &&
				f.journal.Verify() == nil
		},
		gen.SliceOfN(5, gen.Int64Range(1, 4000)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestCancelledActionCannotBeResubmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, types.PermissionTransferExecute)

	action := transfer(100)
	action.ID = "fixed-id"
	_, err := f.controller.Enqueue(ctx, action)
	require.NoError(t, err)
	_, err = f.controller.CancelAction(ctx, "fixed-id")
	require.NoError(t, err)

	_, err = f.controller.Enqueue(ctx, action)
	assert.ErrorIs(t, err, dispatcher.ErrDuplicateAction)

	cleared := transfer(200)
	cleared.ID = "cleared-id"
	_, err = f.controller.Enqueue(ctx, cleared)
	require.NoError(t, err)
	require.Len(t, f.controller.ClearActionQueue(ctx), 1)
	_, err = f.controller.Enqueue(ctx, cleared)
	assert.ErrorIs(t, err, dispatcher.ErrDuplicateAction)

	results, err := f.controller.ProcessQueue(ctx)
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, f.ledger.Commits())
	assert.Equal(t,
		[]types.Status{types.StatusPending, types.StatusCancelled},
		statuses(f.journal.ForAction("fixed-id")))
}

// racingCommitter moves the ledger just before committing
type racingCommitter struct {
	ledger *accounts.Ledger
}

func (r racingCommitter) Commit(ctx context.Context, action types.Action, revision uint64) (*types.CommitResult, error) {
	r.ledger.Advance(func(*types.Snapshot) {})
	return r.ledger.Commit(ctx, action, revision)
}

func TestRevisionConflictAtCommitIsStale(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger()
	enforcer := permission.NewEnforcer(permission.NewStaticGrantProvider(types.PermissionTransferExecute), decimal.NewFromInt(1000), nil)

	controller, err := NewController(ledger, racingCommitter{ledger: ledger}, simulation.NewSimulator(), enforcer, audit.NewJournal())
	require.NoError(t, err)

	_, err = controller.Enqueue(ctx, transfer(500))
	require.NoError(t, err)
	results, err := controller.ProcessQueue(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.StatusFailed, results[0].Status)
	assert.True(t, strings.HasPrefix(results[0].Reason, ErrStaleSnapshot.Error()))
	assert.NotContains(t, results[0].Reason, ErrExternalCommit.Error())
	assert.Equal(t, 0, ledger.Commits())
}

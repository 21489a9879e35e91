// Package execution drives candidate actions through the pipeline:
// simulate, authorize, re-validate, commit, record. Actions are processed one
// at a time in queue order and every step is written to the journal.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/audit"
	"github.com/root-sector-ltd-and-co-kg/framesync/dispatcher"
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/root-sector-ltd-and-co-kg/framesync/execution"

var (
	// ErrStaleSnapshot is returned when the snapshot keeps moving after the one re-simulation
	ErrStaleSnapshot = errors.New("snapshot changed during execution")

	// ErrExternalCommit wraps failures reported by the commit collaborator
	ErrExternalCommit = errors.New("external commit failed")
)

// Controller owns the action queue and the execution journal
type Controller struct {
	queue      *dispatcher.Dispatcher
	journal    *audit.Journal
	snapshots  interfaces.SnapshotSource
	committer  interfaces.Committer
	simulator  interfaces.Simulator
	authorizer interfaces.Authorizer
	tracer     trace.Tracer
	logger     zerolog.Logger
	newID      func() string
	now        func() time.Time

	// serializes ProcessQueue
	processMu sync.Mutex
}

// Option configures a Controller
type Option func(*Controller)

// WithTracer overrides the tracer used for pipeline spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Controller) {
		c.tracer = tracer
	}
}

// WithDispatcher uses an existing queue
func WithDispatcher(queue *dispatcher.Dispatcher) Option {
	return func(c *Controller) {
		c.queue = queue
	}
}

// NewController creates a controller. All collaborators are required.
func NewController(
	snapshots interfaces.SnapshotSource,
	committer interfaces.Committer,
	simulator interfaces.Simulator,
	authorizer interfaces.Authorizer,
	journal *audit.Journal,
	opts ...Option,
) (*Controller, error) {
	if snapshots == nil || committer == nil || simulator == nil || authorizer == nil || journal == nil {
		return nil, fmt.Errorf("execution controller requires snapshot source, committer, simulator, authorizer and journal")
	}

	c := &Controller{
		queue:      dispatcher.New(),
		journal:    journal,
		snapshots:  snapshots,
		committer:  committer,
		simulator:  simulator,
		authorizer: authorizer,
		tracer:     otel.Tracer(tracerName),
		logger:     log.With().Str("component", "execution").Logger(),
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Enqueue adds action to the queue and records it as pending. An id is
// assigned when the action has none.
func (c *Controller) Enqueue(ctx context.Context, action types.Action) (string, error) {
	if action.Payload == nil {
		return "", fmt.Errorf("action has no payload")
	}
	if action.ID == "" {
		action.ID = c.newID()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = c.now().UTC()
	}

	if err := c.queue.Enqueue(action); err != nil {
		return "", fmt.Errorf("failed to enqueue action: %w", err)
	}
	c.record(ctx, action, types.StatusPending, noop)

	c.logger.Debug().
		Str("actionId", action.ID).
		Str("ruleId", action.RuleID).
		Str("actionType", string(action.Type())).
		Msg("Action enqueued")
	return action.ID, nil
}

// ProcessQueue drains the queue one action at a time and returns the
// terminal record of each processed action. Actions still queued when ctx is
// cancelled stay queued.
func (c *Controller) ProcessQueue(ctx context.Context) ([]types.ExecutionRecord, error) {
	c.processMu.Lock()
	defer c.processMu.Unlock()

	var results []types.ExecutionRecord
	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		action, err := c.queue.Next()
		if errors.Is(err, dispatcher.ErrEmpty) {
			return results, nil
		}
		if err != nil {
			return results, fmt.Errorf("failed to dequeue action: %w", err)
		}

		rec := c.process(ctx, action)
		if err := c.queue.Done(action.ID); err != nil {
			c.logger.Error().Err(err).Str("actionId", action.ID).Msg("Failed to release in-flight action")
		}
		results = append(results, rec)
	}
}

// ClearActionQueue cancels every action that has not been dequeued yet.
// Records of actions already past the queue are untouched.
func (c *Controller) ClearActionQueue(ctx context.Context) []types.ExecutionRecord {
	removed := c.queue.Clear()
	records := make([]types.ExecutionRecord, 0, len(removed))
	for _, action := range removed {
		records = append(records, c.record(ctx, action, types.StatusCancelled, withReason("cleared from queue")))
	}
	if len(removed) > 0 {
		c.logger.Info().Int("cancelled", len(removed)).Msg("Action queue cleared")
	}
	return records
}

// CancelAction cancels one queued action
func (c *Controller) CancelAction(ctx context.Context, actionID string) (types.ExecutionRecord, error) {
	action, err := c.queue.Cancel(actionID)
	if err != nil {
		return types.ExecutionRecord{}, err
	}
	return c.record(ctx, action, types.StatusCancelled, withReason("cancelled")), nil
}

// Pending returns the number of queued actions
func (c *Controller) Pending() int {
	return c.queue.Len()
}

// GetExecutionHistory returns every journal record in append order
func (c *Controller) GetExecutionHistory() []types.ExecutionRecord {
	return c.journal.History()
}

// LogExecution records the terminal result of an action processed outside the queue
func (c *Controller) LogExecution(ctx context.Context, action types.Action, outcome *types.Outcome) (types.ExecutionRecord, error) {
	return c.journal.LogExecution(ctx, action, outcome)
}

// process runs one action through the pipeline and returns its terminal record
func (c *Controller) process(ctx context.Context, action types.Action) types.ExecutionRecord {
	ctx = audit.WithAction(ctx, action.ID, action.RuleID, string(action.Type()))
	ctx, span := c.tracer.Start(ctx, "execution.process", trace.WithAttributes(
		attribute.String("action.id", action.ID),
		attribute.String("action.type", string(action.Type())),
		attribute.String("rule.id", action.RuleID),
	))
	defer span.End()

	logger := c.logger.With().Str("actionId", action.ID).Logger()

	fail := func(status types.Status, reason string, mutate func(*types.ExecutionRecord)) types.ExecutionRecord {
		span.SetStatus(codes.Error, reason)
		span.SetAttributes(attribute.String("action.status", string(status)))
		logger.Warn().Str("status", string(status)).Str("reason", reason).Msg("Action stopped")
		return c.record(ctx, action, status, func(rec *types.ExecutionRecord) {
			rec.Reason = reason
			mutate(rec)
		})
	}

	// simulate
	snapshot, err := c.snapshots.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return fail(types.StatusFailed, fmt.Sprintf("snapshot unavailable: %v", err), noop)
	}
	simulated, err := c.simulator.Simulate(action, snapshot)
	if err != nil {
		span.RecordError(err)
		return fail(types.StatusFailed, err.Error(), withRevision(snapshot.Revision))
	}
	if !simulated.Success {
		return fail(types.StatusFailed, simulated.Reason, withSimulation(snapshot.Revision, simulated))
	}
	c.record(ctx, action, types.StatusSimulated, withSimulation(snapshot.Revision, simulated))

	// authorize
	decision := c.authorizer.Authorize(ctx, action)
	if !decision.Allowed {
		return fail(types.StatusDenied, decision.Reason, withSimulation(snapshot.Revision, simulated))
	}
	c.record(ctx, action, types.StatusAuthorized, withRevision(snapshot.Revision))

	// re-validate
	revision := snapshot.Revision
	current, err := c.snapshots.Snapshot(ctx)
	if err != nil {
		span.RecordError(err)
		return fail(types.StatusFailed, fmt.Sprintf("snapshot unavailable: %v", err), withRevision(revision))
	}
	if current.Revision != revision {
		logger.Info().
			Uint64("simulatedRevision", revision).
			Uint64("currentRevision", current.Revision).
			Msg("Snapshot changed, re-simulating")

		simulated, err = c.simulator.Simulate(action, current)
		if err != nil {
			span.RecordError(err)
			return fail(types.StatusFailed, err.Error(), withRevision(current.Revision))
		}
		if !simulated.Success {
			return fail(types.StatusFailed, simulated.Reason, withSimulation(current.Revision, simulated))
		}
		revision = current.Revision
		c.record(ctx, action, types.StatusSimulated, func(rec *types.ExecutionRecord) {
			withSimulation(revision, simulated)(rec)
			rec.Attempt = 2
		})

		latest, err := c.snapshots.Snapshot(ctx)
		if err != nil {
			span.RecordError(err)
			return fail(types.StatusFailed, fmt.Sprintf("snapshot unavailable: %v", err), withRevision(revision))
		}
		if latest.Revision != revision {
			span.RecordError(ErrStaleSnapshot)
			return fail(types.StatusFailed, fmt.Sprintf("%v: revision %d is now %d", ErrStaleSnapshot, revision, latest.Revision), withRevision(revision))
		}
	}

	// commit
	result, err := c.committer.Commit(ctx, action, revision)
	if errors.Is(err, types.ErrRevisionConflict) {
		span.RecordError(err)
		return fail(types.StatusFailed, fmt.Sprintf("%v: %v", ErrStaleSnapshot, err), withSimulation(revision, simulated))
	}
	if err != nil {
		span.RecordError(err)
		return fail(types.StatusFailed, fmt.Sprintf("%v: %v", ErrExternalCommit, err), withSimulation(revision, simulated))
	}

	reason := ""
	if result.Outcome != nil && !simulated.SameEffect(result.Outcome) {
		reason = "committed outcome diverged from simulation"
		logger.Error().
			Str("commitReference", result.Reference).
			Interface("simulated", simulated).
			Interface("committed", result.Outcome).
			Msg("Committed outcome diverged from simulation")
	}

	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String("action.status", string(types.StatusExecuted)))
	logger.Info().Str("commitReference", result.Reference).Msg("Action executed")

	return c.record(ctx, action, types.StatusExecuted, func(rec *types.ExecutionRecord) {
		withSimulation(revision, simulated)(rec)
		rec.RealOutcome = result.Outcome
		rec.CommitReference = result.Reference
		rec.Reason = reason
	})
}

// record appends a record for action. Sink failures are logged; the record
// stays in the journal.
func (c *Controller) record(ctx context.Context, action types.Action, status types.Status, mutate func(*types.ExecutionRecord)) types.ExecutionRecord {
	rec := types.ExecutionRecord{
		ActionID:   action.ID,
		RuleID:     action.RuleID,
		ActionType: action.Type(),
		Status:     status,
		Timestamp:  c.now(),
	}
	mutate(&rec)

	stored, err := c.journal.Append(ctx, rec)
	if err != nil {
		c.logger.Error().Err(err).
			Str("actionId", action.ID).
			Str("status", string(status)).
			Msg("Failed to persist execution record")
		if stored.Hash == "" {
			return rec
		}
	}
	return stored
}

func noop(*types.ExecutionRecord) {}

func withReason(reason string) func(*types.ExecutionRecord) {
	return func(rec *types.ExecutionRecord) {
		rec.Reason = reason
	}
}

func withRevision(revision uint64) func(*types.ExecutionRecord) {
	return func(rec *types.ExecutionRecord) {
		rec.SnapshotRevision = revision
	}
}

func withSimulation(revision uint64, outcome *types.Outcome) func(*types.ExecutionRecord) {
	return func(rec *types.ExecutionRecord) {
		rec.SnapshotRevision = revision
		rec.SimulatedOutcome = outcome
	}
}

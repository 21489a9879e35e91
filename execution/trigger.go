package execution

import (
	"context"
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Trigger turns incoming events into queued candidate actions
type Trigger struct {
	snapshots  interfaces.SnapshotSource
	rules      interfaces.RuleSource
	evaluator  interfaces.RuleEvaluator
	controller *Controller
}

// NewTrigger creates a trigger feeding controller
func NewTrigger(snapshots interfaces.SnapshotSource, rules interfaces.RuleSource, evaluator interfaces.RuleEvaluator, controller *Controller) *Trigger {
	return &Trigger{
		snapshots:  snapshots,
		rules:      rules,
		evaluator:  evaluator,
		controller: controller,
	}
}

// HandleEvent evaluates the rule set against the current snapshot with event
// attached, enqueues the candidates in rule order and processes the queue
func (t *Trigger) HandleEvent(ctx context.Context, event types.Event) ([]types.ExecutionRecord, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = t.controller.now().UTC()
	}

	ctx, span := t.controller.tracer.Start(ctx, "execution.event", trace.WithAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.kind", event.Kind),
	))
	defer span.End()

	snapshot, err := t.snapshots.Snapshot(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "snapshot unavailable")
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	rules, err := t.rules.Rules(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "rules unavailable")
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	candidates := t.evaluator.EvaluateRules(snapshot.WithEvent(&event), rules)
	span.SetAttributes(attribute.Int("event.candidates", len(candidates)))

	t.controller.logger.Info().
		Str("eventId", event.ID).
		Str("kind", event.Kind).
		Int("candidates", len(candidates)).
		Msg("Event evaluated")

	queued := make([]string, 0, len(candidates))
	for _, action := range candidates {
		id, err := t.controller.Enqueue(ctx, action)
		if err != nil {
			span.SetStatus(codes.Error, "enqueue failed")
			t.withdraw(ctx, queued)
			return nil, err
		}
		queued = append(queued, id)
	}
	return t.controller.ProcessQueue(ctx)
}

// withdraw cancels the candidates of an event that could not be queued in full
func (t *Trigger) withdraw(ctx context.Context, actionIDs []string) {
	for _, id := range actionIDs {
		if _, err := t.controller.CancelAction(ctx, id); err != nil {
			t.controller.logger.Error().Err(err).Str("actionId", id).Msg("Failed to withdraw queued candidate")
		}
	}
}

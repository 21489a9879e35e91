package rules

import (
	"fmt"
	"sync"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/google/cel-go/cel"
)

// celEvaluator compiles and caches boolean CEL expressions over a snapshot
type celEvaluator struct {
	env      *cel.Env
	prgCache map[string]cel.Program
	mu       sync.RWMutex
}

func newCELEvaluator() (*celEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("balance", cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable("goal", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &celEvaluator{
		env:      env,
		prgCache: make(map[string]cel.Program),
	}, nil
}

// program returns the cached program for expr, compiling it on first use
func (c *celEvaluator) program(expr string) (cel.Program, error) {
	c.mu.RLock()
	prg, hit := c.prgCache[expr]
	c.mu.RUnlock()
	if hit {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if prg, hit = c.prgCache[expr]; hit {
		return prg, nil
	}

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: compile %q: %v", ErrInvalidCondition, expr, issues.Err())
	}
	p, err := c.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: program %q: %v", ErrInvalidCondition, expr, err)
	}
	c.prgCache[expr] = p
	return p, nil
}

func (c *celEvaluator) compile(expr string) error {
	_, err := c.program(expr)
	return err
}

func (c *celEvaluator) evaluate(expr string, input map[string]any) (bool, error) {
	prg, err := c.program(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(input)
	if err != nil {
		return false, fmt.Errorf("eval %q: %w", expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w: expression %q did not return bool", ErrInvalidCondition, expr)
	}
	return val, nil
}

// celInput exposes the snapshot to expressions as plain maps
func celInput(snapshot *types.Snapshot) map[string]any {
	balances := make(map[string]float64, len(snapshot.Accounts))
	for id, acc := range snapshot.Accounts {
		balances[id] = acc.Balance.InexactFloat64()
	}

	goals := make(map[string]any, len(snapshot.Goals))
	for id, g := range snapshot.Goals {
		goals[id] = map[string]any{
			"saved":     g.Saved.InexactFloat64(),
			"target":    g.Target.InexactFloat64(),
			"remaining": g.Remaining().InexactFloat64(),
			"progress":  g.Progress().InexactFloat64(),
		}
	}

	event := map[string]any{}
	if ev := snapshot.Event; ev != nil {
		event = map[string]any{
			"amount":   ev.Amount.InexactFloat64(),
			"category": ev.Category,
			"merchant": ev.Merchant,
			"account":  ev.AccountID,
			"kind":     ev.Kind,
		}
	}

	return map[string]any{
		"balance": balances,
		"goal":    goals,
		"event":   event,
	}
}

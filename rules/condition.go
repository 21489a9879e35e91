package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/shopspring/decimal"
)

// ErrInvalidCondition is returned for a malformed condition node
var ErrInvalidCondition = errors.New("invalid condition")

// evaluate walks the condition tree. It has no side effects.
func (e *Engine) evaluate(c types.Condition, snapshot *types.Snapshot) (bool, error) {
	switch c.Kind() {
	case types.ConditionAll:
		for _, child := range c.All {
			ok, err := e.evaluate(child, snapshot)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil

	case types.ConditionAny:
		for _, child := range c.Any {
			ok, err := e.evaluate(child, snapshot)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case types.ConditionNot:
		ok, err := e.evaluate(*c.Not, snapshot)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case types.ConditionCompare:
		lhs, err := resolveField(snapshot, c.Field)
		if err != nil {
			return false, err
		}
		return compare(c.Op, lhs, c.Value)

	case types.ConditionExpr:
		return e.cel.evaluate(c.Expr, celInput(snapshot))

	default:
		return false, fmt.Errorf("%w: exactly one of all, any, not, field or expr must be set", ErrInvalidCondition)
	}
}

func compare(op types.Operator, lhs value, raw string) (bool, error) {
	if !lhs.numeric {
		switch op {
		case types.OpEqual:
			return strings.EqualFold(lhs.text, raw), nil
		case types.OpNotEqual:
			return !strings.EqualFold(lhs.text, raw), nil
		default:
			return false, fmt.Errorf("%w: operator %q requires a numeric field", ErrInvalidCondition, op)
		}
	}

	rhs, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return false, fmt.Errorf("%w: value %q is not a number", ErrInvalidCondition, raw)
	}
	cmp := lhs.number.Cmp(rhs)

	switch op {
	case types.OpGreaterThan:
		return cmp > 0, nil
	case types.OpGreaterOrEqual:
		return cmp >= 0, nil
	case types.OpLessThan:
		return cmp < 0, nil
	case types.OpLessOrEqual:
		return cmp <= 0, nil
	case types.OpEqual:
		return cmp == 0, nil
	case types.OpNotEqual:
		return cmp != 0, nil
	default:
		return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, op)
	}
}

// validateCondition checks a condition tree without a snapshot
func validateCondition(c types.Condition, cel *celEvaluator, path string) error {
	switch c.Kind() {
	case types.ConditionAll:
		for i, child := range c.All {
			if err := validateCondition(child, cel, fmt.Sprintf("%s.all[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case types.ConditionAny:
		for i, child := range c.Any {
			if err := validateCondition(child, cel, fmt.Sprintf("%s.any[%d]", path, i)); err != nil {
				return err
			}
		}
		return nil
	case types.ConditionNot:
		return validateCondition(*c.Not, cel, path+".not")
	case types.ConditionCompare:
		numeric, err := checkField(c.Field)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if numeric {
			if _, err := compare(c.Op, numberValue(decimal.Zero), c.Value); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			return nil
		}
		if _, err := compare(c.Op, textValue(""), c.Value); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	case types.ConditionExpr:
		if err := cel.compile(c.Expr); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return nil
	default:
		return fmt.Errorf("%s: %w: exactly one of all, any, not, field or expr must be set", path, ErrInvalidCondition)
	}
}

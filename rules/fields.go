package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/shopspring/decimal"
)

var (
	// ErrUnknownField is returned for a field path outside the supported grammar
	ErrUnknownField = errors.New("unknown field")

	// ErrFieldUnavailable is returned when a valid field has no value in the snapshot
	ErrFieldUnavailable = errors.New("field not present in snapshot")
)

var (
	goalAttributes  = []string{"saved", "target", "remaining", "progress"}
	eventAttributes = []string{"amount", "category", "merchant", "account", "kind"}
)

// value is a resolved field: either a number or text
type value struct {
	number  decimal.Decimal
	text    string
	numeric bool
}

func numberValue(d decimal.Decimal) value {
	return value{number: d, numeric: true}
}

func textValue(s string) value {
	return value{text: s}
}

// checkField validates a field path without a snapshot and reports whether it is numeric
func checkField(field string) (bool, error) {
	parts := strings.Split(field, ".")
	switch parts[0] {
	case "balance":
		if len(parts) != 2 || parts[1] == "" {
			return false, fmt.Errorf("%w: %q, expected balance.<account>", ErrUnknownField, field)
		}
		return true, nil
	case "goal":
		if len(parts) != 3 || parts[1] == "" || !contains(goalAttributes, parts[2]) {
			return false, fmt.Errorf("%w: %q, expected goal.<goal>.%s", ErrUnknownField, field, strings.Join(goalAttributes, "|"))
		}
		return true, nil
	case "event":
		if len(parts) != 2 || !contains(eventAttributes, parts[1]) {
			return false, fmt.Errorf("%w: %q, expected event.%s", ErrUnknownField, field, strings.Join(eventAttributes, "|"))
		}
		return parts[1] == "amount", nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
}

// resolveField reads a field from the snapshot
func resolveField(snapshot *types.Snapshot, field string) (value, error) {
	if _, err := checkField(field); err != nil {
		return value{}, err
	}
	parts := strings.Split(field, ".")

	switch parts[0] {
	case "balance":
		balance, ok := snapshot.Balance(parts[1])
		if !ok {
			return value{}, fmt.Errorf("%w: account %s", ErrFieldUnavailable, parts[1])
		}
		return numberValue(balance), nil

	case "goal":
		goal, ok := snapshot.Goal(parts[1])
		if !ok {
			return value{}, fmt.Errorf("%w: goal %s", ErrFieldUnavailable, parts[1])
		}
		switch parts[2] {
		case "saved":
			return numberValue(goal.Saved), nil
		case "target":
			return numberValue(goal.Target), nil
		case "remaining":
			return numberValue(goal.Remaining()), nil
		default:
			return numberValue(goal.Progress()), nil
		}

	default:
		ev := snapshot.Event
		if ev == nil {
			return value{}, fmt.Errorf("%w: no triggering event", ErrFieldUnavailable)
		}
		switch parts[1] {
		case "amount":
			return numberValue(ev.Amount), nil
		case "category":
			return textValue(ev.Category), nil
		case "merchant":
			return textValue(ev.Merchant), nil
		case "account":
			return textValue(ev.AccountID), nil
		default:
			return textValue(ev.Kind), nil
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

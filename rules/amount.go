package rules

import (
	"errors"
	"fmt"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the precision resolved amounts are truncated to
const AmountPlaces = 2

var (
	// ErrInvalidAmount is returned for a malformed amount template
	ErrInvalidAmount = errors.New("invalid amount")

	// errZeroAmount marks a template that resolved to nothing to move
	errZeroAmount = errors.New("amount resolved to zero")

	hundred = decimal.NewFromInt(100)
)

// resolveAmount turns an amount template into a concrete amount against the
// snapshot. The result is fixed from then on.
func resolveAmount(spec types.AmountSpec, defaultAccount string, snapshot *types.Snapshot) (decimal.Decimal, error) {
	if err := validateAmount(spec, defaultAccount); err != nil {
		return decimal.Zero, err
	}

	var amount decimal.Decimal
	switch {
	case spec.Fixed != "":
		amount = decimal.RequireFromString(strings.TrimSpace(spec.Fixed))

	case spec.PercentOfBalance != "":
		balance, err := templateBalance(spec, defaultAccount, snapshot)
		if err != nil {
			return decimal.Zero, err
		}
		pct := decimal.RequireFromString(strings.TrimSpace(spec.PercentOfBalance))
		amount = balance.Mul(pct).Div(hundred)

	default:
		balance, err := templateBalance(spec, defaultAccount, snapshot)
		if err != nil {
			return decimal.Zero, err
		}
		above := decimal.RequireFromString(strings.TrimSpace(spec.Above))
		overflow := balance.Sub(above)
		if !overflow.IsPositive() {
			return decimal.Zero, errZeroAmount
		}
		pct := decimal.RequireFromString(strings.TrimSpace(spec.PercentOfOverflow))
		amount = overflow.Mul(pct).Div(hundred)
	}

	amount = amount.Truncate(AmountPlaces)
	if amount.IsZero() {
		return decimal.Zero, errZeroAmount
	}
	return amount, nil
}

func templateBalance(spec types.AmountSpec, defaultAccount string, snapshot *types.Snapshot) (decimal.Decimal, error) {
	account := spec.Account
	if account == "" {
		account = defaultAccount
	}
	balance, ok := snapshot.Balance(account)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: account %s", ErrFieldUnavailable, account)
	}
	return balance, nil
}

// validateAmount checks an amount template without a snapshot
func validateAmount(spec types.AmountSpec, defaultAccount string) error {
	set := 0
	for _, v := range []string{spec.Fixed, spec.PercentOfBalance, spec.PercentOfOverflow} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of fixed, percent_of_balance or percent_of_overflow must be set", ErrInvalidAmount)
	}

	if spec.Fixed != "" {
		if _, err := decimal.NewFromString(strings.TrimSpace(spec.Fixed)); err != nil {
			return fmt.Errorf("%w: fixed %q is not a number", ErrInvalidAmount, spec.Fixed)
		}
		return nil
	}

	pctRaw := spec.PercentOfBalance
	if pctRaw == "" {
		pctRaw = spec.PercentOfOverflow
		above, err := decimal.NewFromString(strings.TrimSpace(spec.Above))
		if err != nil {
			return fmt.Errorf("%w: percent_of_overflow needs a numeric above threshold", ErrInvalidAmount)
		}
		if above.IsNegative() {
			return fmt.Errorf("%w: above must not be negative", ErrInvalidAmount)
		}
	}
	pct, err := decimal.NewFromString(strings.TrimSpace(pctRaw))
	if err != nil {
		return fmt.Errorf("%w: percentage %q is not a number", ErrInvalidAmount, pctRaw)
	}
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: percentage %s must be in (0, 100]", ErrInvalidAmount, pct)
	}
	if spec.Account == "" && defaultAccount == "" {
		return fmt.Errorf("%w: percentage amounts need an account", ErrInvalidAmount)
	}
	return nil
}

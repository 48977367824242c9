// Package accrual computes the profit a product has accrued up to a given
// instant. Accrual is linear in whole elapsed days:
//
//	elapsed_days       = floor(|now − start| / 24h)
//	accrued_profit     = rate × price × elapsed_days
//	accrued_percentage = accrued_profit / profit_cap × 100
//
// Nothing here clamps to the product's declared period or caps; Result
// reports when they are exceeded so callers can apply a policy.
package accrual

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/model"
)

// Day is the accrual unit.
const Day = 24 * time.Hour

var (
	// ErrZeroProfitCap is returned for a product whose profit cap is zero,
	// which would make the accrued percentage undefined.
	ErrZeroProfitCap = fmt.Errorf("%w: accrual: product profit cap is zero", model.ErrValidation)

	// ErrNegativeTerms is returned when price or rate is negative.
	ErrNegativeTerms = fmt.Errorf("%w: accrual: product price and rate must be non-negative", model.ErrValidation)
)

var hundred = decimal.NewFromInt(100)

// Result holds the derived accrual figures for one product.
type Result struct {
	ElapsedDays       int64
	AccruedProfit     decimal.Decimal
	AccruedPercentage decimal.Decimal

	// PeriodExceeded is set once elapsed days pass the declared period.
	PeriodExceeded bool
	// ProfitCapExceeded is set once accrued profit passes the profit cap.
	ProfitCapExceeded bool
}

// ElapsedDays returns the number of whole days between start and now,
// regardless of order.
func ElapsedDays(start, now time.Time) int64 {
	d := now.Sub(start)
	if d < 0 {
		d = -d
	}
	return int64(d / Day)
}

// Compute derives the accrual figures for p at now. It has no side effects.
func Compute(p model.Product, now time.Time) (Result, error) {
	if p.ProfitCap.IsZero() {
		return Result{}, fmt.Errorf("product %s: %w", p.ID, ErrZeroProfitCap)
	}
	if p.Price.IsNegative() || p.Rate.IsNegative() {
		return Result{}, fmt.Errorf("product %s: %w", p.ID, ErrNegativeTerms)
	}

	days := ElapsedDays(p.Start, now)
	profit := p.Rate.Mul(p.Price).Mul(decimal.NewFromInt(days))
	pct := profit.Div(p.ProfitCap).Mul(hundred)

	return Result{
		ElapsedDays:       days,
		AccruedProfit:     profit,
		AccruedPercentage: pct,
		PeriodExceeded:    p.PeriodDays > 0 && days > int64(p.PeriodDays),
		ProfitCapExceeded: profit.GreaterThan(p.ProfitCap),
	}, nil
}

// Apply computes the accrual for p and overwrites its derived fields.
// On error p is left untouched.
func Apply(p *model.Product, now time.Time) (Result, error) {
	r, err := Compute(*p, now)
	if err != nil {
		return Result{}, err
	}
	p.ElapsedDays = r.ElapsedDays
	p.AccruedProfit = r.AccruedProfit
	p.AccruedPercentage = r.AccruedPercentage
	return r, nil
}

// IsDomainError reports whether err came from invalid product terms.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrZeroProfitCap) || errors.Is(err, ErrNegativeTerms)
}

package accrual

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var now = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func product(price, rate, cap float64, start time.Time) model.Product {
	return model.Product{
		ID:            "p1",
		Name:          "test",
		Start:         start,
		Price:         d(price),
		Rate:          d(rate),
		ProfitCap:     d(cap),
		PercentageCap: d(36),
		PeriodDays:    360,
	}
}

func TestCompute_TenDays(t *testing.T) {
	p := product(100, 0.10, 3600, now.Add(-10*Day))

	r, err := Compute(p, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ElapsedDays != 10 {
		t.Errorf("elapsed days = %d, want 10", r.ElapsedDays)
	}
	if !r.AccruedProfit.Equal(d(100)) {
		t.Errorf("accrued profit = %s, want 100", r.AccruedProfit)
	}
	want := d(100).Div(d(3600)).Mul(decimal.NewFromInt(100))
	if !r.AccruedPercentage.Equal(want) {
		t.Errorf("accrued percentage = %s, want %s", r.AccruedPercentage, want)
	}
}

func TestCompute_PartialDayIsFloored(t *testing.T) {
	p := product(100, 0.10, 1000, now.Add(-(2*Day + 23*time.Hour)))

	r, _ := Compute(p, now)
	if r.ElapsedDays != 2 {
		t.Errorf("elapsed days = %d, want 2", r.ElapsedDays)
	}
	if !r.AccruedPercentage.Equal(d(2)) {
		t.Errorf("accrued percentage = %s, want 2", r.AccruedPercentage)
	}
}

func TestCompute_FutureStartUsesAbsoluteDistance(t *testing.T) {
	p := product(100, 0.10, 3600, now.Add(3*Day))

	r, _ := Compute(p, now)
	if r.ElapsedDays != 3 {
		t.Errorf("elapsed days = %d, want 3", r.ElapsedDays)
	}
}

func TestCompute_ZeroCapRejected(t *testing.T) {
	p := product(100, 0.10, 0, now.Add(-10*Day))

	_, err := Compute(p, now)
	if !errors.Is(err, ErrZeroProfitCap) {
		t.Fatalf("expected ErrZeroProfitCap, got %v", err)
	}
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("zero cap should be a validation error, got %v", err)
	}
	if !IsDomainError(err) {
		t.Error("IsDomainError should recognise zero cap")
	}
}

func TestCompute_NegativeTermsRejected(t *testing.T) {
	p := product(-5, 0.10, 100, now)

	if _, err := Compute(p, now); !errors.Is(err, ErrNegativeTerms) {
		t.Errorf("expected ErrNegativeTerms, got %v", err)
	}
}

func TestCompute_Idempotent(t *testing.T) {
	p := product(250, 0.03, 900, now.Add(-47*Day-5*time.Hour))

	a, _ := Compute(p, now)
	b, _ := Compute(p, now)
	if !a.AccruedProfit.Equal(b.AccruedProfit) || a.ElapsedDays != b.ElapsedDays {
		t.Errorf("repeated compute differs: %+v vs %+v", a, b)
	}
}

func TestCompute_MonotoneInTime(t *testing.T) {
	start := now.Add(-30 * Day)
	p := product(100, 0.05, 3600, start)

	prev := decimal.Zero
	for h := 0; h < 40*24; h += 7 {
		r, err := Compute(p, start.Add(time.Duration(h)*time.Hour))
		if err != nil {
			t.Fatal(err)
		}
		if r.AccruedProfit.LessThan(prev) {
			t.Fatalf("profit decreased at hour %d: %s < %s", h, r.AccruedProfit, prev)
		}
		prev = r.AccruedProfit
	}
}

func TestCompute_NotClampedAtPeriodOrCap(t *testing.T) {
	p := product(100, 0.10, 500, now.Add(-400*Day))

	r, _ := Compute(p, now)
	if !r.AccruedProfit.Equal(d(4000)) {
		t.Errorf("accrual should be uncapped, got %s", r.AccruedProfit)
	}
	if !r.PeriodExceeded {
		t.Error("400 days should exceed a 360 day period")
	}
	if !r.ProfitCapExceeded {
		t.Error("4000 should exceed a 500 cap")
	}
}

func TestApply_LeavesProductOnError(t *testing.T) {
	p := product(100, 0.10, 0, now.Add(-10*Day))
	p.AccruedProfit = d(7)

	if _, err := Apply(&p, now); err == nil {
		t.Fatal("expected error")
	}
	if !p.AccruedProfit.Equal(d(7)) || p.ElapsedDays != 0 {
		t.Error("failed Apply must not touch derived fields")
	}
}

func TestApply_WritesDerivedFields(t *testing.T) {
	p := product(200, 0.02, 400, now.Add(-5*Day))

	if _, err := Apply(&p, now); err != nil {
		t.Fatal(err)
	}
	if p.ElapsedDays != 5 || !p.AccruedProfit.Equal(d(20)) || !p.AccruedPercentage.Equal(d(5)) {
		t.Errorf("derived fields not written: %+v", p)
	}
}

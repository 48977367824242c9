// Package ledger derives an account's balance from its transaction history.
//
//	balance = successful deposits
//	        + accrued product profit
//	        − non-failed withdrawals
//	        − product purchase prices
//	        + signup bonus
//	        + referral profit
//
// Recompute is a pure transform of one account snapshot; persisting the
// result is the caller's job.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/accrual"
	"github.com/refledger/ledger-engine/internal/model"
)

// SignupBonus is the flat credit every account carries.
var SignupBonus = decimal.NewFromInt(120)

// Breakdown lists every term of the balance formula.
type Breakdown struct {
	Deposits      decimal.Decimal `json:"deposits"`
	Profit        decimal.Decimal `json:"profit"`
	Withdrawals   decimal.Decimal `json:"withdrawals"`
	ProductsCost  decimal.Decimal `json:"products_cost"`
	SignupBonus   decimal.Decimal `json:"signup_bonus"`
	InvitesProfit decimal.Decimal `json:"invites_profit"`
	Balance       decimal.Decimal `json:"balance"`
}

// Recompute refreshes the product accruals, DailyProfit, Balance and
// LastRecomputeAt of acc as of now. Either every field is updated or, on
// error, none is. Running it twice with the same now yields the same
// account.
func Recompute(acc *model.Account, now time.Time) (Breakdown, error) {
	products := make([]model.Product, len(acc.Products))
	copy(products, acc.Products)

	profit := decimal.Zero
	cost := decimal.Zero
	for i := range products {
		r, err := accrual.Apply(&products[i], now)
		if err != nil {
			return Breakdown{}, fmt.Errorf("recompute account %s: %w", acc.ID, err)
		}
		profit = profit.Add(r.AccruedProfit)
		cost = cost.Add(products[i].Price)
	}

	b := Breakdown{
		Deposits:      SuccessfulDeposits(acc.Deposits),
		Profit:        profit,
		Withdrawals:   ReservedWithdrawals(acc.Withdrawals),
		ProductsCost:  cost,
		SignupBonus:   SignupBonus,
		InvitesProfit: acc.InvitesProfit,
	}
	b.Balance = b.Deposits.
		Add(b.Profit).
		Sub(b.Withdrawals).
		Sub(b.ProductsCost).
		Add(b.SignupBonus).
		Add(b.InvitesProfit)

	acc.Products = products
	acc.DailyProfit = profit
	acc.Balance = b.Balance
	acc.LastRecomputeAt = now
	return b, nil
}

// SuccessfulDeposits sums deposits in the Success state.
func SuccessfulDeposits(deposits []model.Deposit) decimal.Decimal {
	total := decimal.Zero
	for _, dep := range deposits {
		if dep.Status == model.StatusSuccess {
			total = total.Add(dep.Amount)
		}
	}
	return total
}

// ReservedWithdrawals sums every withdrawal that has not failed. Pending
// requests already hold their funds.
func ReservedWithdrawals(withdrawals []model.Withdrawal) decimal.Decimal {
	total := decimal.Zero
	for _, w := range withdrawals {
		if w.Status != model.StatusFailed {
			total = total.Add(w.Amount)
		}
	}
	return total
}

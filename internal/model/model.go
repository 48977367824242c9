// Package model defines the core domain types shared across the ledger engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a deposit or withdrawal. The numeric
// values are persisted and read by external consumers; they must not change.
type Status int

const (
	StatusPending Status = 0
	StatusSuccess Status = 1
	StatusFailed  Status = 2
)

// Valid reports whether s is one of the three known states.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusSuccess || s == StatusFailed
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusSuccess:
		return "Success"
	case StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Account is a user's financial profile. Balance, DailyProfit and the
// derived product fields are overwritten by every recompute cycle; the
// invite counters are maintained by referral operations and only read by
// the engine.
type Account struct {
	ID         string `json:"id" db:"id"`
	Admin      bool   `json:"admin" db:"admin"`
	Name       string `json:"name" db:"name"`
	Phone      string `json:"phone" db:"phone"`
	ReferrerID string `json:"referrer_id,omitempty" db:"referrer_id"` // weak reference, never cascades

	Balance     decimal.Decimal `json:"balance" db:"balance"`
	DailyProfit decimal.Decimal `json:"daily_profit" db:"daily_profit"` // cumulative profit to date

	InvitesCount  int             `json:"invites_q" db:"invites_count"`
	InvitesProfit decimal.Decimal `json:"invites_p" db:"invites_profit"`

	Products    []Product    `json:"products"`
	Deposits    []Deposit    `json:"deposits"`
	Withdrawals []Withdrawal `json:"withdrawals"`

	JoinedAt        time.Time `json:"joined" db:"joined_at"`
	LastRecomputeAt time.Time `json:"last_balance_update" db:"last_recompute_at"`

	WalletNumber  string `json:"wallet_number,omitempty" db:"wallet_number"`
	WalletName    string `json:"wallet_name,omitempty" db:"wallet_name"`
	WalletCompany string `json:"wallet_company,omitempty" db:"wallet_company"`
}

// Clone returns a deep copy so callers can mutate nested slices freely.
func (a *Account) Clone() *Account {
	c := *a
	c.Products = append([]Product(nil), a.Products...)
	c.Deposits = append([]Deposit(nil), a.Deposits...)
	c.Withdrawals = make([]Withdrawal, len(a.Withdrawals))
	for i, w := range a.Withdrawals {
		c.Withdrawals[i] = w
		if w.SucceededAt != nil {
			t := *w.SucceededAt
			c.Withdrawals[i].SucceededAt = &t
		}
	}
	return &c
}

// Product is a time-accruing investment position. ProfitCap, PercentageCap
// and PeriodDays are declared limits; accrual does not clamp to them.
type Product struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Start         time.Time       `json:"start" db:"start_at"`
	Price         decimal.Decimal `json:"price" db:"price"`
	Rate          decimal.Decimal `json:"percentage" db:"rate"` // per-day fraction
	ProfitCap     decimal.Decimal `json:"total_profit" db:"profit_cap"`
	PercentageCap decimal.Decimal `json:"total_percentage" db:"percentage_cap"`
	PeriodDays    int             `json:"period" db:"period_days"`

	ElapsedDays       int64           `json:"spent_days" db:"elapsed_days"`
	AccruedProfit     decimal.Decimal `json:"got_profit" db:"accrued_profit"`
	AccruedPercentage decimal.Decimal `json:"got_percentage" db:"accrued_percentage"`
}

// Signup product terms, granted to every account at registration.
var (
	SignupProductName          = "Signup bonus"
	SignupProductPrice         = decimal.NewFromInt(100)
	SignupProductRate          = decimal.RequireFromString("0.10")
	SignupProductProfitCap     = decimal.NewFromInt(3600)
	SignupProductPercentageCap = decimal.NewFromInt(36)
	SignupProductPeriodDays    = 360
)

// NewSignupProduct returns the default product starting at now.
func NewSignupProduct(now time.Time) Product {
	return SignupOffer().Product(now)
}

// SignupOffer returns the signup product terms.
func SignupOffer() Offer {
	return Offer{
		Name:          SignupProductName,
		Price:         SignupProductPrice,
		Rate:          SignupProductRate,
		ProfitCap:     SignupProductProfitCap,
		PercentageCap: SignupProductPercentageCap,
		PeriodDays:    SignupProductPeriodDays,
	}
}

// Offer is a product on sale at fixed terms. Account holders buy offers;
// they never choose terms or start dates themselves.
type Offer struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Rate          decimal.Decimal `json:"percentage"`
	ProfitCap     decimal.Decimal `json:"total_profit"`
	PercentageCap decimal.Decimal `json:"total_percentage"`
	PeriodDays    int             `json:"period"`
}

// Product returns a new product on the offer's terms starting at start.
func (o Offer) Product(start time.Time) Product {
	return Product{
		ID:            uuid.New().String(),
		Name:          o.Name,
		Start:         start,
		Price:         o.Price,
		Rate:          o.Rate,
		ProfitCap:     o.ProfitCap,
		PercentageCap: o.PercentageCap,
		PeriodDays:    o.PeriodDays,
	}
}

// Deposit is a funding request. Only successful deposits count toward balance.
type Deposit struct {
	ID        string          `json:"id" db:"id"`
	Amount    decimal.Decimal `json:"amount" db:"amount"`
	From      string          `json:"from" db:"source"`
	To        string          `json:"to" db:"destination"`
	Status    Status          `json:"status" db:"status"`
	CreatedAt time.Time       `json:"date" db:"created_at"`
}

// Withdrawal is a payout request. It reserves funds from the moment it is
// requested; only a Failed withdrawal releases them.
type Withdrawal struct {
	ID          string          `json:"id" db:"id"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Status      Status          `json:"status" db:"status"`
	RequestedAt time.Time       `json:"start" db:"requested_at"`
	SucceededAt *time.Time      `json:"success_date,omitempty" db:"succeeded_at"`
}

// Wallet is a named payout destination. At most one wallet is active.
type Wallet struct {
	Name   string `json:"name" db:"name"`
	Number string `json:"number" db:"number"`
	Active bool   `json:"active" db:"active"`
}

// PruneCriteria selects abandoned accounts: joined before JoinedBefore,
// holding at most MaxProducts products and at most MaxInvites invites.
type PruneCriteria struct {
	JoinedBefore time.Time
	MaxProducts  int
	MaxInvites   int
}

// Matches evaluates the criteria against one account.
func (c PruneCriteria) Matches(a *Account) bool {
	return a.JoinedAt.Before(c.JoinedBefore) &&
		len(a.Products) <= c.MaxProducts &&
		a.InvitesCount <= c.MaxInvites
}

// Event is a notification pushed to connected dashboard clients.
type Event struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id,omitempty"`
	Wallet    string `json:"wallet,omitempty"`
	Balance   string `json:"balance,omitempty"`
	Count     int    `json:"count,omitempty"`
}

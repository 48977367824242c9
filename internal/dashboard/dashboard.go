// Package dashboard aggregates the admin overview from a snapshot of
// accounts. It never writes.
package dashboard

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/model"
)

// TimeLayout is how timestamps appear on the dashboard.
const TimeLayout = "2006-01-02 15:04"

const unknown = "Unknown"

// Summary is the dashboard payload.
type Summary struct {
	TotalBalances        decimal.Decimal `json:"totalBalances"`
	TotalDailyProfit     decimal.Decimal `json:"totalDailyProfit"`
	TotalDeposits        decimal.Decimal `json:"totalDeposits"`
	TotalDepositsSucc    decimal.Decimal `json:"totalDepositsSucc"`
	TotalWithdrawals     decimal.Decimal `json:"totalWithdrawals"`
	TotalWithdrawalsSucc decimal.Decimal `json:"totalWithdrawalsSucc"`
	TotalInvites         int             `json:"totalInvites"`
	TotalInvitesProfit   decimal.Decimal `json:"totalInvitesProfit"`
	ActualBalance        decimal.Decimal `json:"actualBalance"`
	DailyUserIncrease    int             `json:"dailyUserIncrease"`

	ProductsDist       []ProductCount      `json:"productsDist"`
	Users              []UserRow           `json:"users"`
	DepositRequests    []DepositRequest    `json:"depositRequests"`
	WithdrawalRequests []WithdrawalRequest `json:"withdrawalRequests"`
}

// ProductCount is how many accounts hold products of one name.
type ProductCount struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// UserRow is one account as shown in the user table.
type UserRow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Phone       string          `json:"phone"`
	Balance     decimal.Decimal `json:"balance"`
	DailyProfit decimal.Decimal `json:"daily_profit"`
	InvitesQ    int             `json:"invites_q"`
	InvitesP    decimal.Decimal `json:"invites_p"`
	Joined      string          `json:"joined"`
	Products    int             `json:"products"`
	From        string          `json:"from"`
	Wallet      string          `json:"wallet"`
}

// DepositRequest is one deposit in the review queue.
type DepositRequest struct {
	UserID    string          `json:"userId"`
	Name      string          `json:"name"`
	Amount    decimal.Decimal `json:"amount"`
	SentFrom  string          `json:"sentFrom"`
	SentTo    string          `json:"sentTo"`
	DepositID string          `json:"depositId"`
	Date      string          `json:"date"`
	Status    string          `json:"status"`

	status model.Status
	at     time.Time
}

// WithdrawalRequest is one withdrawal in the review queue.
type WithdrawalRequest struct {
	UserID       string          `json:"userId"`
	Name         string          `json:"name"`
	Amount       decimal.Decimal `json:"amount"`
	SendTo       string          `json:"sendTo"`
	WithdrawalID string          `json:"withdrawalId"`
	Date         string          `json:"date"`
	Status       string          `json:"status"`

	status model.Status
	at     time.Time
}

// Aggregator builds summaries with timestamps rendered in one location.
type Aggregator struct {
	loc *time.Location
}

// NewAggregator returns an aggregator for loc. A nil loc means UTC.
func NewAggregator(loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{loc: loc}
}

// Build aggregates accounts as of now.
func (a *Aggregator) Build(accounts []model.Account, now time.Time) Summary {
	names := make(map[string]string, len(accounts))
	for i := range accounts {
		names[accounts[i].ID] = accounts[i].Name
	}

	s := Summary{
		Users:              make([]UserRow, 0, len(accounts)),
		DepositRequests:    []DepositRequest{},
		WithdrawalRequests: []WithdrawalRequest{},
	}
	dist := map[string]int{}
	var distOrder []string
	since := a.startOfYesterday(now)

	for i := range accounts {
		acc := &accounts[i]

		s.TotalBalances = s.TotalBalances.Add(acc.Balance)
		s.TotalDailyProfit = s.TotalDailyProfit.Add(acc.DailyProfit)
		s.TotalInvites += acc.InvitesCount
		s.TotalInvitesProfit = s.TotalInvitesProfit.Add(acc.InvitesProfit)
		if !acc.JoinedAt.Before(since) {
			s.DailyUserIncrease++
		}

		for _, p := range acc.Products {
			if _, ok := dist[p.Name]; !ok {
				distOrder = append(distOrder, p.Name)
			}
			dist[p.Name]++
		}

		for _, dep := range acc.Deposits {
			s.TotalDeposits = s.TotalDeposits.Add(dep.Amount)
			if dep.Status == model.StatusSuccess {
				s.TotalDepositsSucc = s.TotalDepositsSucc.Add(dep.Amount)
			}
			s.DepositRequests = append(s.DepositRequests, DepositRequest{
				UserID:    acc.ID,
				Name:      acc.Name,
				Amount:    dep.Amount,
				SentFrom:  dep.From,
				SentTo:    dep.To,
				DepositID: dep.ID,
				Date:      a.format(dep.CreatedAt),
				Status:    dep.Status.String(),
				status:    dep.Status,
				at:        dep.CreatedAt,
			})
		}

		for _, w := range acc.Withdrawals {
			s.TotalWithdrawals = s.TotalWithdrawals.Add(w.Amount)
			if w.Status == model.StatusSuccess {
				s.TotalWithdrawalsSucc = s.TotalWithdrawalsSucc.Add(w.Amount)
			}
			s.WithdrawalRequests = append(s.WithdrawalRequests, WithdrawalRequest{
				UserID:       acc.ID,
				Name:         acc.Name,
				Amount:       w.Amount,
				SendTo:       orUnknown(acc.WalletNumber),
				WithdrawalID: w.ID,
				Date:         a.format(w.RequestedAt),
				Status:       w.Status.String(),
				status:       w.Status,
				at:           w.RequestedAt,
			})
		}

		from := "None"
		if name, ok := names[acc.ReferrerID]; ok && acc.ReferrerID != "" {
			from = orUnknown(name)
		}
		s.Users = append(s.Users, UserRow{
			ID:          acc.ID,
			Name:        orUnknown(acc.Name),
			Phone:       acc.Phone,
			Balance:     acc.Balance,
			DailyProfit: acc.DailyProfit,
			InvitesQ:    acc.InvitesCount,
			InvitesP:    acc.InvitesProfit,
			Joined:      a.format(acc.JoinedAt),
			Products:    len(acc.Products),
			From:        from,
			Wallet:      orUnknown(acc.WalletName) + "-" + orUnknown(acc.WalletNumber),
		})
	}

	s.ActualBalance = s.TotalDepositsSucc.Sub(s.TotalWithdrawalsSucc)

	s.ProductsDist = make([]ProductCount, 0, len(distOrder))
	for _, name := range distOrder {
		s.ProductsDist = append(s.ProductsDist, ProductCount{Name: name, Value: dist[name]})
	}

	sort.SliceStable(s.DepositRequests, func(i, j int) bool {
		return queueLess(s.DepositRequests[i].status, s.DepositRequests[j].status,
			s.DepositRequests[i].at, s.DepositRequests[j].at)
	})
	sort.SliceStable(s.WithdrawalRequests, func(i, j int) bool {
		return queueLess(s.WithdrawalRequests[i].status, s.WithdrawalRequests[j].status,
			s.WithdrawalRequests[i].at, s.WithdrawalRequests[j].at)
	})
	return s
}

// queueLess orders Pending before Success before Failed, oldest first
// within a status.
func queueLess(si, sj model.Status, ti, tj time.Time) bool {
	if si != sj {
		return rank(si) < rank(sj)
	}
	return ti.Before(tj)
}

func rank(s model.Status) int {
	if s.Valid() {
		return int(s)
	}
	return 3
}

func (a *Aggregator) startOfYesterday(now time.Time) time.Time {
	local := now.In(a.loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	return today.AddDate(0, 0, -1)
}

func (a *Aggregator) format(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(a.loc).Format(TimeLayout)
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

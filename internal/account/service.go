// Package account implements the account operations: registration,
// profile edits, products, deposits, withdrawals and referral counters.
// Every mutation is one atomic read-modify-write through the store and
// leaves the stored balance recomputed.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/refledger/ledger-engine/internal/accrual"
	"github.com/refledger/ledger-engine/internal/ledger"
	"github.com/refledger/ledger-engine/internal/model"
	"github.com/refledger/ledger-engine/internal/recompute"
	"github.com/refledger/ledger-engine/internal/store"
)

// Recomputer refreshes stored balances.
type Recomputer interface {
	RecomputeAccount(ctx context.Context, id string) (*model.Account, ledger.Breakdown, error)
	RunBatch(ctx context.Context) (*recompute.Report, error)
}

// ActiveWallet reports the wallet deposits should be sent to.
type ActiveWallet interface {
	GetActive(ctx context.Context) (*model.Wallet, error)
}

// Service handles account operations.
type Service struct {
	store   store.Store
	engine  Recomputer
	wallets ActiveWallet
	logger  *zap.Logger
	now     func() time.Time

	catalogue []model.Offer
}

// NewService creates an account service. wallets may be nil, in which
// case deposits must name their destination.
func NewService(st store.Store, engine Recomputer, wallets ActiveWallet, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   st,
		engine:  engine,
		wallets: wallets,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// SetCatalogue installs the products account holders may buy. Call it
// before serving requests.
func (s *Service) SetCatalogue(offers []model.Offer) {
	s.catalogue = append([]model.Offer(nil), offers...)
}

// Catalogue returns the products on sale.
func (s *Service) Catalogue() []model.Offer {
	return append([]model.Offer(nil), s.catalogue...)
}

// --- Request types ---

// RegisterInput is the data needed to open an account.
type RegisterInput struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	ReferrerID    string `json:"from,omitempty"`
	WalletNumber  string `json:"wallet_number,omitempty"`
	WalletName    string `json:"wallet_name,omitempty"`
	WalletCompany string `json:"wallet_company,omitempty"`
}

// ProfileUpdate changes the editable profile fields. Nil fields are kept.
type ProfileUpdate struct {
	Name          *string `json:"name,omitempty"`
	WalletNumber  *string `json:"wallet_number,omitempty"`
	WalletName    *string `json:"wallet_name,omitempty"`
	WalletCompany *string `json:"wallet_company,omitempty"`
}

// ProductInput describes a product purchase.
type ProductInput struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Rate          decimal.Decimal `json:"percentage"`
	ProfitCap     decimal.Decimal `json:"total_profit"`
	PercentageCap decimal.Decimal `json:"total_percentage"`
	PeriodDays    int             `json:"period"`
	Start         *time.Time      `json:"start,omitempty"`
}

// DepositInput describes a funding request.
type DepositInput struct {
	Amount decimal.Decimal `json:"amount"`
	From   string          `json:"from"`
	To     string          `json:"to,omitempty"`
}

// --- Operations ---

// Register opens an account with the signup product. The phone number
// must be unused and a referrer, if given, must exist.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.Account, error) {
	phone := strings.TrimSpace(in.Phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone is required", model.ErrValidation)
	}

	if in.ReferrerID != "" {
		if _, err := s.store.GetAccount(ctx, in.ReferrerID); err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, fmt.Errorf("%w: referrer %s does not exist", model.ErrValidation, in.ReferrerID)
			}
			return nil, err
		}
	}

	now := s.now()
	acc := &model.Account{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(in.Name),
		Phone:         phone,
		ReferrerID:    in.ReferrerID,
		JoinedAt:      now,
		Products:      []model.Product{model.NewSignupProduct(now)},
		WalletNumber:  in.WalletNumber,
		WalletName:    in.WalletName,
		WalletCompany: in.WalletCompany,
	}
	if _, err := ledger.Recompute(acc, now); err != nil {
		return nil, err
	}
	if err := s.store.CreateAccount(ctx, acc); err != nil {
		return nil, err
	}

	s.logger.Info("account registered",
		zap.String("account_id", acc.ID),
		zap.String("referrer_id", acc.ReferrerID),
	)
	return acc, nil
}

// PhoneAvailable reports whether no account uses phone.
func (s *Service) PhoneAvailable(ctx context.Context, phone string) (bool, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return false, fmt.Errorf("%w: phone is required", model.ErrValidation)
	}
	_, err := s.store.FindAccountByPhone(ctx, phone)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, model.ErrNotFound):
		return true, nil
	default:
		return false, err
	}
}

// Get returns the account with its balance recomputed as of now.
func (s *Service) Get(ctx context.Context, id string) (*model.Account, error) {
	acc, _, err := s.engine.RecomputeAccount(ctx, id)
	return acc, err
}

// Statement returns the balance terms of the account as of now.
func (s *Service) Statement(ctx context.Context, id string) (ledger.Breakdown, error) {
	_, b, err := s.engine.RecomputeAccount(ctx, id)
	return b, err
}

// List runs a recompute batch, then returns every remaining account.
// Accounts that failed to recompute are returned with their last stored
// balance.
func (s *Service) List(ctx context.Context) ([]model.Account, error) {
	rep, err := s.engine.RunBatch(ctx)
	if err != nil {
		return nil, err
	}
	if len(rep.Failures) > 0 {
		s.logger.Warn("listing with stale balances", zap.Int("failed", len(rep.Failures)))
	}
	return s.store.ListAccounts(ctx)
}

// UpdateProfile changes the name and payout fields.
func (s *Service) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (*model.Account, error) {
	return s.store.UpdateAccount(ctx, id, func(acc *model.Account) error {
		if in.Name != nil {
			acc.Name = strings.TrimSpace(*in.Name)
		}
		if in.WalletNumber != nil {
			acc.WalletNumber = *in.WalletNumber
		}
		if in.WalletName != nil {
			acc.WalletName = *in.WalletName
		}
		if in.WalletCompany != nil {
			acc.WalletCompany = *in.WalletCompany
		}
		return nil
	})
}

// Delete removes the account. Accounts it referred keep their reference.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.logger.Info("account deleted", zap.String("account_id", id))
	return nil
}

// BuyProduct adds the named catalogue product to the account on the
// catalogue's terms, starting now. Unknown names are rejected.
func (s *Service) BuyProduct(ctx context.Context, id, name string) (*model.Account, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return nil, fmt.Errorf("%w: product name is required", model.ErrValidation)
	}
	var offer *model.Offer
	for i := range s.catalogue {
		if strings.EqualFold(s.catalogue[i].Name, key) {
			offer = &s.catalogue[i]
			break
		}
	}
	if offer == nil {
		return nil, fmt.Errorf("%w: product %q is not on sale", model.ErrValidation, key)
	}

	now := s.now()
	p := offer.Product(now)
	if _, err := accrual.Apply(&p, now); err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, now, func(acc *model.Account) error {
		acc.Products = append(acc.Products, p)
		return nil
	})
}

// AddProduct grants a product with custom terms and an optional start
// date. Only operators reach it; account holders go through BuyProduct.
func (s *Service) AddProduct(ctx context.Context, id string, in ProductInput) (*model.Account, error) {
	now := s.now()
	p := model.Product{
		ID:            uuid.New().String(),
		Name:          strings.TrimSpace(in.Name),
		Start:         now,
		Price:         in.Price,
		Rate:          in.Rate,
		ProfitCap:     in.ProfitCap,
		PercentageCap: in.PercentageCap,
		PeriodDays:    in.PeriodDays,
	}
	if in.Start != nil {
		p.Start = *in.Start
	}
	if p.Name == "" {
		return nil, fmt.Errorf("%w: product name is required", model.ErrValidation)
	}
	if !p.Price.IsPositive() {
		return nil, fmt.Errorf("%w: product price must be positive", model.ErrValidation)
	}
	if p.PeriodDays < 0 {
		return nil, fmt.Errorf("%w: product period must not be negative", model.ErrValidation)
	}
	if _, err := accrual.Apply(&p, now); err != nil {
		return nil, err
	}

	return s.mutate(ctx, id, now, func(acc *model.Account) error {
		acc.Products = append(acc.Products, p)
		return nil
	})
}

// AddDeposit records a pending deposit. An empty destination defaults to
// the active wallet's number.
func (s *Service) AddDeposit(ctx context.Context, id string, in DepositInput) (*model.Account, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: deposit amount must be positive", model.ErrValidation)
	}
	if strings.TrimSpace(in.From) == "" {
		return nil, fmt.Errorf("%w: deposit source is required", model.ErrValidation)
	}
	to := strings.TrimSpace(in.To)
	if to == "" {
		if s.wallets == nil {
			return nil, fmt.Errorf("%w: deposit destination is required", model.ErrValidation)
		}
		w, err := s.wallets.GetActive(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve deposit destination: %w", err)
		}
		to = w.Number
	}

	now := s.now()
	return s.mutate(ctx, id, now, func(acc *model.Account) error {
		acc.Deposits = append(acc.Deposits, model.Deposit{
			ID:        uuid.New().String(),
			Amount:    in.Amount,
			From:      strings.TrimSpace(in.From),
			To:        to,
			Status:    model.StatusPending,
			CreatedAt: now,
		})
		return nil
	})
}

// RequestWithdrawal records a pending withdrawal. The amount is reserved
// immediately, so it may not exceed the current balance.
func (s *Service) RequestWithdrawal(ctx context.Context, id string, amount decimal.Decimal) (*model.Account, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: withdrawal amount must be positive", model.ErrValidation)
	}

	now := s.now()
	return s.store.UpdateAccount(ctx, id, func(acc *model.Account) error {
		if _, err := ledger.Recompute(acc, now); err != nil {
			return err
		}
		if amount.GreaterThan(acc.Balance) {
			return fmt.Errorf("%w: withdrawal of %s exceeds balance %s", model.ErrValidation, amount, acc.Balance)
		}
		acc.Withdrawals = append(acc.Withdrawals, model.Withdrawal{
			ID:          uuid.New().String(),
			Amount:      amount,
			Status:      model.StatusPending,
			RequestedAt: now,
		})
		_, err := ledger.Recompute(acc, now)
		return err
	})
}

// SetDepositStatus moves a deposit to status.
func (s *Service) SetDepositStatus(ctx context.Context, id, depositID string, status model.Status) (*model.Account, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %d", model.ErrValidation, status)
	}
	return s.mutate(ctx, id, s.now(), func(acc *model.Account) error {
		for i := range acc.Deposits {
			if acc.Deposits[i].ID == depositID {
				acc.Deposits[i].Status = status
				return nil
			}
		}
		return fmt.Errorf("deposit %s: %w", depositID, model.ErrNotFound)
	})
}

// SetWithdrawalStatus moves a withdrawal to status. Success stamps the
// completion time.
func (s *Service) SetWithdrawalStatus(ctx context.Context, id, withdrawalID string, status model.Status) (*model.Account, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid status %d", model.ErrValidation, status)
	}
	now := s.now()
	return s.mutate(ctx, id, now, func(acc *model.Account) error {
		for i := range acc.Withdrawals {
			w := &acc.Withdrawals[i]
			if w.ID != withdrawalID {
				continue
			}
			w.Status = status
			if status == model.StatusSuccess {
				at := now
				w.SucceededAt = &at
			}
			return nil
		}
		return fmt.Errorf("withdrawal %s: %w", withdrawalID, model.ErrNotFound)
	})
}

// AdjustInvites adds delta invites (never dropping below zero) and
// credits profit referral earnings.
func (s *Service) AdjustInvites(ctx context.Context, id string, delta int, profit decimal.Decimal) (*model.Account, error) {
	if profit.IsNegative() {
		return nil, fmt.Errorf("%w: invite profit must not be negative", model.ErrValidation)
	}
	return s.mutate(ctx, id, s.now(), func(acc *model.Account) error {
		acc.InvitesCount += delta
		if acc.InvitesCount < 0 {
			acc.InvitesCount = 0
		}
		acc.InvitesProfit = acc.InvitesProfit.Add(profit)
		return nil
	})
}

// mutate applies fn and recomputes the balance in the same write. If the
// account cannot be recomputed the whole write is discarded, so a stored
// balance always matches the stored records.
func (s *Service) mutate(ctx context.Context, id string, now time.Time, fn store.UpdateFunc) (*model.Account, error) {
	return s.store.UpdateAccount(ctx, id, func(acc *model.Account) error {
		if err := fn(acc); err != nil {
			return err
		}
		if _, err := ledger.Recompute(acc, now); err != nil {
			s.logger.Warn("mutation rejected: balance cannot be recomputed",
				zap.String("account_id", id), zap.Error(err))
			return err
		}
		return nil
	})
}

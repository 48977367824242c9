package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/model"
)

//go:embed schema.sql
var schema string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables and indexes if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountColumns = `id, admin, name, phone, COALESCE(referrer_id, ''),
	balance::TEXT, daily_profit::TEXT, invites_count, invites_profit::TEXT,
	joined_at, last_recompute_at,
	wallet_number, wallet_name, wallet_company`

func (s *PostgresStore) CreateAccount(ctx context.Context, acc *model.Account) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, admin, name, phone, referrer_id,
			                       balance, daily_profit, invites_count, invites_profit,
			                       joined_at, last_recompute_at,
			                       wallet_number, wallet_name, wallet_company)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''),
			         $6::NUMERIC, $7::NUMERIC, $8, $9::NUMERIC,
			         $10, $11, $12, $13, $14)`,
			acc.ID, acc.Admin, acc.Name, acc.Phone, acc.ReferrerID,
			acc.Balance.String(), acc.DailyProfit.String(), acc.InvitesCount, acc.InvitesProfit.String(),
			acc.JoinedAt, nullTime(acc.LastRecomputeAt),
			acc.WalletNumber, acc.WalletName, acc.WalletCompany,
		)
		if err != nil {
			return err
		}
		return insertChildren(ctx, tx, acc)
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: phone %s already registered", model.ErrValidation, acc.Phone)
	}
	if err != nil {
		return storageErr("create account "+acc.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	accounts, err := loadAccounts(ctx, s.pool, `WHERE id = $1`, id)
	if err != nil {
		return nil, storageErr("get account "+id, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return &accounts[0], nil
}

func (s *PostgresStore) FindAccountByPhone(ctx context.Context, phone string) (*model.Account, error) {
	accounts, err := loadAccounts(ctx, s.pool, `WHERE phone = $1`, phone)
	if err != nil {
		return nil, storageErr("find account by phone", err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("account with phone %s: %w", phone, model.ErrNotFound)
	}
	return &accounts[0], nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	accounts, err := loadAccounts(ctx, s.pool, `ORDER BY joined_at, id`)
	if err != nil {
		return nil, storageErr("list accounts", err)
	}
	return accounts, nil
}

// UpdateAccount locks the account row for the duration of the transaction,
// so concurrent updates of one account run one after another.
func (s *PostgresStore) UpdateAccount(ctx context.Context, id string, fn UpdateFunc) (*model.Account, error) {
	var (
		updated *model.Account
		fnErr   error
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		accounts, err := loadAccounts(ctx, tx, `WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			fnErr = fmt.Errorf("account %s: %w", id, model.ErrNotFound)
			return fnErr
		}

		working := &accounts[0]
		if err := fn(working); err != nil {
			fnErr = err
			return err
		}
		working.ID = id
		if err := saveAccount(ctx, tx, working); err != nil {
			return err
		}
		updated = working
		return nil
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, storageErr("update account "+id, err)
	}
	return updated, nil
}

func (s *PostgresStore) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return storageErr("delete account "+id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %s: %w", id, model.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteAccounts(ctx context.Context, c model.PruneCriteria) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`DELETE FROM accounts a
		 WHERE a.joined_at < $1
		   AND a.invites_count <= $3
		   AND (SELECT count(*) FROM products p WHERE p.account_id = a.id) <= $2
		 RETURNING a.id`,
		c.JoinedBefore, c.MaxProducts, c.MaxInvites)
	if err != nil {
		return nil, storageErr("prune accounts", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storageErr("prune accounts", err)
	}
	return ids, nil
}

func (s *PostgresStore) ListWallets(ctx context.Context) ([]model.Wallet, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, number, active FROM wallets ORDER BY name`)
	if err != nil {
		return nil, storageErr("list wallets", err)
	}
	defer rows.Close()

	var wallets []model.Wallet
	for rows.Next() {
		var w model.Wallet
		if err := rows.Scan(&w.Name, &w.Number, &w.Active); err != nil {
			return nil, storageErr("list wallets", err)
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list wallets", err)
	}
	return wallets, nil
}

func (s *PostgresStore) SeedWallets(ctx context.Context, wallets []model.Wallet) (bool, error) {
	seeded := false
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		// Blocks concurrent seeders until this transaction ends.
		if _, err := tx.Exec(ctx, `LOCK TABLE wallets IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var n int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM wallets`).Scan(&n); err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		for _, w := range wallets {
			if _, err := tx.Exec(ctx,
				`INSERT INTO wallets (name, number, active) VALUES ($1, $2, $3)`,
				w.Name, w.Number, w.Active); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	if err != nil {
		return false, storageErr("seed wallets", err)
	}
	return seeded, nil
}

// ActivateWallet locks the wallet set, checks the target exists and only
// then swaps the active flag, all in one transaction. The partial unique
// index rejects any path that would leave two wallets active.
func (s *PostgresStore) ActivateWallet(ctx context.Context, name string) (*model.Wallet, error) {
	var (
		w        model.Wallet
		notFound bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT name FROM wallets ORDER BY name FOR UPDATE`); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `SELECT name, number FROM wallets WHERE name = $1`, name).
			Scan(&w.Name, &w.Number)
		if errors.Is(err, pgx.ErrNoRows) {
			notFound = true
			return err
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE wallets SET active = FALSE WHERE active AND name <> $1`, name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `UPDATE wallets SET active = TRUE WHERE name = $1`, name); err != nil {
			return err
		}
		w.Active = true
		return nil
	})
	if notFound {
		return nil, fmt.Errorf("wallet %s: %w", name, model.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("activate wallet "+name, err)
	}
	return &w, nil
}

// --- helpers ---

func loadAccounts(ctx context.Context, q querier, clause string, args ...any) ([]model.Account, error) {
	rows, err := q.Query(ctx, `SELECT `+accountColumns+` FROM accounts `+clause, args...)
	if err != nil {
		return nil, err
	}

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var balance, profit, invitesProfit string
		var lastRecompute *time.Time
		if err := rows.Scan(&a.ID, &a.Admin, &a.Name, &a.Phone, &a.ReferrerID,
			&balance, &profit, &a.InvitesCount, &invitesProfit,
			&a.JoinedAt, &lastRecompute,
			&a.WalletNumber, &a.WalletName, &a.WalletCompany); err != nil {
			rows.Close()
			return nil, err
		}
		var num numericParser
		a.Balance = num.parse("balance", balance)
		a.DailyProfit = num.parse("daily_profit", profit)
		a.InvitesProfit = num.parse("invites_profit", invitesProfit)
		if num.err != nil {
			rows.Close()
			return nil, fmt.Errorf("account %s: %w", a.ID, num.err)
		}
		if lastRecompute != nil {
			a.LastRecomputeAt = *lastRecompute
		}
		accounts = append(accounts, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return accounts, nil
	}
	return accounts, attachChildren(ctx, q, accounts)
}

// attachChildren loads products, deposits and withdrawals for every
// account in three queries.
func attachChildren(ctx context.Context, q querier, accounts []model.Account) error {
	ids := make([]string, len(accounts))
	byID := make(map[string]*model.Account, len(accounts))
	for i := range accounts {
		ids[i] = accounts[i].ID
		byID[accounts[i].ID] = &accounts[i]
	}

	rows, err := q.Query(ctx,
		`SELECT account_id, id, name, start_at, price::TEXT, rate::TEXT,
		        profit_cap::TEXT, percentage_cap::TEXT, period_days,
		        elapsed_days, accrued_profit::TEXT, accrued_percentage::TEXT
		 FROM products WHERE account_id = ANY($1) ORDER BY account_id, position`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var owner string
		var p model.Product
		var price, rate, profitCap, pctCap, accrued, accruedPct string
		if err := rows.Scan(&owner, &p.ID, &p.Name, &p.Start, &price, &rate,
			&profitCap, &pctCap, &p.PeriodDays,
			&p.ElapsedDays, &accrued, &accruedPct); err != nil {
			rows.Close()
			return err
		}
		var num numericParser
		p.Price, p.Rate = num.parse("price", price), num.parse("rate", rate)
		p.ProfitCap, p.PercentageCap = num.parse("profit_cap", profitCap), num.parse("percentage_cap", pctCap)
		p.AccruedProfit = num.parse("accrued_profit", accrued)
		p.AccruedPercentage = num.parse("accrued_percentage", accruedPct)
		if num.err != nil {
			rows.Close()
			return fmt.Errorf("product %s: %w", p.ID, num.err)
		}
		byID[owner].Products = append(byID[owner].Products, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx,
		`SELECT account_id, id, amount::TEXT, source, destination, status, created_at
		 FROM deposits WHERE account_id = ANY($1) ORDER BY account_id, position`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var owner, amount string
		var dep model.Deposit
		if err := rows.Scan(&owner, &dep.ID, &amount, &dep.From, &dep.To, &dep.Status, &dep.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		var num numericParser
		if dep.Amount = num.parse("amount", amount); num.err != nil {
			rows.Close()
			return fmt.Errorf("deposit %s: %w", dep.ID, num.err)
		}
		byID[owner].Deposits = append(byID[owner].Deposits, dep)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = q.Query(ctx,
		`SELECT account_id, id, amount::TEXT, status, requested_at, succeeded_at
		 FROM withdrawals WHERE account_id = ANY($1) ORDER BY account_id, position`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var owner, amount string
		var w model.Withdrawal
		if err := rows.Scan(&owner, &w.ID, &amount, &w.Status, &w.RequestedAt, &w.SucceededAt); err != nil {
			rows.Close()
			return err
		}
		var num numericParser
		if w.Amount = num.parse("amount", amount); num.err != nil {
			rows.Close()
			return fmt.Errorf("withdrawal %s: %w", w.ID, num.err)
		}
		byID[owner].Withdrawals = append(byID[owner].Withdrawals, w)
	}
	rows.Close()
	return rows.Err()
}

// saveAccount overwrites the account row and replaces its nested records.
func saveAccount(ctx context.Context, tx pgx.Tx, acc *model.Account) error {
	_, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET admin = $2, name = $3, referrer_id = NULLIF($4, ''),
		     balance = $5::NUMERIC, daily_profit = $6::NUMERIC,
		     invites_count = $7, invites_profit = $8::NUMERIC,
		     last_recompute_at = $9,
		     wallet_number = $10, wallet_name = $11, wallet_company = $12
		 WHERE id = $1`,
		acc.ID, acc.Admin, acc.Name, acc.ReferrerID,
		acc.Balance.String(), acc.DailyProfit.String(),
		acc.InvitesCount, acc.InvitesProfit.String(),
		nullTime(acc.LastRecomputeAt),
		acc.WalletNumber, acc.WalletName, acc.WalletCompany,
	)
	if err != nil {
		return err
	}
	for _, table := range []string{"products", "deposits", "withdrawals"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE account_id = $1`, acc.ID); err != nil {
			return err
		}
	}
	return insertChildren(ctx, tx, acc)
}

func insertChildren(ctx context.Context, tx pgx.Tx, acc *model.Account) error {
	batch := &pgx.Batch{}
	for i, p := range acc.Products {
		batch.Queue(
			`INSERT INTO products (id, account_id, position, name, start_at, price, rate,
			                       profit_cap, percentage_cap, period_days,
			                       elapsed_days, accrued_profit, accrued_percentage)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
			         $10, $11, $12::NUMERIC, $13::NUMERIC)`,
			p.ID, acc.ID, i, p.Name, p.Start, p.Price.String(), p.Rate.String(),
			p.ProfitCap.String(), p.PercentageCap.String(), p.PeriodDays,
			p.ElapsedDays, p.AccruedProfit.String(), p.AccruedPercentage.String())
	}
	for i, dep := range acc.Deposits {
		batch.Queue(
			`INSERT INTO deposits (id, account_id, position, amount, source, destination, status, created_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)`,
			dep.ID, acc.ID, i, dep.Amount.String(), dep.From, dep.To, int(dep.Status), dep.CreatedAt)
	}
	for i, w := range acc.Withdrawals {
		batch.Queue(
			`INSERT INTO withdrawals (id, account_id, position, amount, status, requested_at, succeeded_at)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7)`,
			w.ID, acc.ID, i, w.Amount.String(), int(w.Status), w.RequestedAt, w.SucceededAt)
	}
	if batch.Len() == 0 {
		return nil
	}
	return tx.SendBatch(ctx, batch).Close()
}

// numericParser decodes NUMERIC columns read as text and keeps the first
// failure.
type numericParser struct {
	err error
}

func (p *numericParser) parse(column, s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("parse %s %q: %w", column, s, err)
	}
	return v
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrStorage, err)
}

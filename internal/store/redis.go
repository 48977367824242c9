package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/refledger/ledger-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for single accounts. Writes go to the primary store and then bump
// the account's generation key; a cache fill only lands if the generation
// did not move while the primary was read, so a slow reader cannot put a
// pre-write copy back. The wallet set is never cached.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (primary first, then invalidate) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acc *model.Account) error {
	return s.primary.CreateAccount(ctx, acc)
}

func (s *CachedStore) UpdateAccount(ctx context.Context, id string, fn UpdateFunc) (*model.Account, error) {
	acc, err := s.primary.UpdateAccount(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, id)
	return acc, nil
}

func (s *CachedStore) DeleteAccount(ctx context.Context, id string) error {
	if err := s.primary.DeleteAccount(ctx, id); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

func (s *CachedStore) DeleteAccounts(ctx context.Context, criteria model.PruneCriteria) ([]string, error) {
	deleted, err := s.primary.DeleteAccounts(ctx, criteria)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, deleted...)
	return deleted, nil
}

// --- Read-through ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var acc model.Account
		if json.Unmarshal(data, &acc) == nil {
			return &acc, nil
		}
	}

	var (
		acc     *model.Account
		readErr error
		read    bool
	)
	// WATCH the generation across the primary read; a write in between
	// makes EXEC fail and the fill is dropped.
	_ = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		acc, readErr = s.primary.GetAccount(ctx, id)
		read = true
		if readErr != nil {
			return nil
		}
		data, err := json.Marshal(acc)
		if err != nil {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey(id), data, s.ttl)
			return nil
		})
		return err
	}, generationKey(id))

	if !read {
		// Redis unavailable; serve from the primary.
		return s.primary.GetAccount(ctx, id)
	}
	return acc, readErr
}

// --- Passthrough (not cached) ---

func (s *CachedStore) FindAccountByPhone(ctx context.Context, phone string) (*model.Account, error) {
	return s.primary.FindAccountByPhone(ctx, phone)
}

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) ListWallets(ctx context.Context) ([]model.Wallet, error) {
	return s.primary.ListWallets(ctx)
}

func (s *CachedStore) SeedWallets(ctx context.Context, wallets []model.Wallet) (bool, error) {
	return s.primary.SeedWallets(ctx, wallets)
}

func (s *CachedStore) ActivateWallet(ctx context.Context, name string) (*model.Wallet, error) {
	return s.primary.ActivateWallet(ctx, name)
}

// --- Cache helpers ---

// invalidate bumps each account's generation and drops its cached copy.
func (s *CachedStore) invalidate(ctx context.Context, ids ...string) {
	if len(ids) == 0 {
		return
	}
	_, _ = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, generationKey(id))
			pipe.Expire(ctx, generationKey(id), generationTTL)
			pipe.Del(ctx, accountKey(id))
		}
		return nil
	})
}

// generationTTL outlives any primary read a fill can be waiting on.
const generationTTL = 24 * time.Hour

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }

func generationKey(id string) string { return fmt.Sprintf("account:%s:gen", id) }

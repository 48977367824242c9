package recompute

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/refledger/ledger-engine/internal/accrual"
	"github.com/refledger/ledger-engine/internal/model"
	"github.com/refledger/ledger-engine/internal/store"
)

var now = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func account(id string, joined time.Time, products ...model.Product) *model.Account {
	return &model.Account{
		ID:       id,
		Phone:    "phone-" + id,
		JoinedAt: joined,
		Products: append([]model.Product{model.NewSignupProduct(joined)}, products...),
	}
}

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func newScheduler(st store.Store, pub Publisher) *Scheduler {
	s := NewScheduler(st, DefaultConfig(), nil, pub)
	s.SetClock(func() time.Time { return now })
	return s
}

func TestRunBatch_PrunesThenRecomputes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	fiveDaysAgo := now.Add(-5 * accrual.Day)

	_ = st.CreateAccount(ctx, account("abandoned", fiveDaysAgo))
	_ = st.CreateAccount(ctx, account("fresh", now))
	_ = st.CreateAccount(ctx, account("investor", fiveDaysAgo, model.Product{
		ID: "p2", Start: fiveDaysAgo, Price: d(200),
		Rate: decimal.RequireFromString("0.05"), ProfitCap: d(1000),
	}))

	rec := &recorder{}
	rep, err := newScheduler(st, rec).RunBatch(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if len(rep.Pruned) != 1 || rep.Pruned[0] != "abandoned" {
		t.Errorf("pruned = %v, want [abandoned]", rep.Pruned)
	}
	if rep.Recomputed != 2 || len(rep.Failures) != 0 {
		t.Errorf("recomputed = %d, failures = %v", rep.Recomputed, rep.Failures)
	}
	if _, err := st.GetAccount(ctx, "abandoned"); !errors.Is(err, model.ErrNotFound) {
		t.Error("abandoned account should be gone")
	}

	fresh, _ := st.GetAccount(ctx, "fresh")
	// 0 + 0 − 0 − 100 + 120
	if !fresh.Balance.Equal(d(20)) {
		t.Errorf("fresh balance = %s, want 20", fresh.Balance)
	}

	investor, _ := st.GetAccount(ctx, "investor")
	// profit 50 + 50, cost 300: 0 + 100 − 0 − 300 + 120
	if !investor.Balance.Equal(d(-80)) {
		t.Errorf("investor balance = %s, want -80", investor.Balance)
	}
	if !investor.LastRecomputeAt.Equal(now) {
		t.Error("last recompute timestamp not persisted")
	}

	if len(rec.events) != 1 || rec.events[0].Type != EventBalancesRecomputed || rec.events[0].Count != 2 {
		t.Errorf("events = %+v", rec.events)
	}
}

func TestRunBatch_AccountFailureDoesNotAbortSiblings(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()

	broken := account("broken", now)
	broken.Products[0].ProfitCap = decimal.Zero
	_ = st.CreateAccount(ctx, broken)
	for _, id := range []string{"a", "b", "c"} {
		_ = st.CreateAccount(ctx, account(id, now))
	}

	rep, err := newScheduler(st, nil).RunBatch(ctx)
	if err != nil {
		t.Fatalf("per-account failures must not fail the batch: %v", err)
	}
	if rep.Recomputed != 3 {
		t.Errorf("recomputed = %d, want 3", rep.Recomputed)
	}
	if len(rep.Failures) != 1 || rep.Failures[0].AccountID != "broken" {
		t.Fatalf("failures = %+v", rep.Failures)
	}

	got, _ := st.GetAccount(ctx, "broken")
	if !got.LastRecomputeAt.IsZero() || !got.Balance.IsZero() {
		t.Error("failed account must be left untouched")
	}
}

type failingList struct {
	*store.MemoryStore
}

func (failingList) ListAccounts(context.Context) ([]model.Account, error) {
	return nil, errors.New("connection reset")
}

func TestRunBatch_ListFailureAborts(t *testing.T) {
	s := newScheduler(failingList{store.NewMemoryStore()}, nil)

	rep, err := s.RunBatch(context.Background())
	if !errors.Is(err, model.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if rep != nil {
		t.Error("aborted batch should not return a report")
	}
}

// stallingStore never finishes an account update before ctx ends.
type stallingStore struct {
	*store.MemoryStore
}

func (s stallingStore) UpdateAccount(ctx context.Context, _ string, _ store.UpdateFunc) (*model.Account, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunBatch_TimeoutSkipsUnstartedAccounts(t *testing.T) {
	mem := store.NewMemoryStore()
	for _, id := range []string{"a", "b"} {
		_ = mem.CreateAccount(context.Background(), account(id, now))
	}
	cfg := DefaultConfig()
	cfg.Concurrency = 1
	cfg.BatchTimeout = 50 * time.Millisecond
	s := NewScheduler(stallingStore{mem}, cfg, nil, nil)
	s.SetClock(func() time.Time { return now })

	rep, err := s.RunBatch(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if rep == nil || len(rep.Failures) != 1 || len(rep.Skipped) != 1 || rep.Recomputed != 0 {
		t.Errorf("report = %+v", rep)
	}
}

func TestRunBatch_CancelledCallerReturnsAtOnce(t *testing.T) {
	st := store.NewMemoryStore()
	_ = st.CreateAccount(context.Background(), account("a", now))
	s := newScheduler(st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.RunBatch(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	rep, err := s.RunBatch(context.Background())
	if err != nil || rep.Recomputed != 1 {
		t.Errorf("later batch: %+v, %v", rep, err)
	}
}

// slowStore blocks pruning until release is closed.
type slowStore struct {
	*store.MemoryStore
	prunes  atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (s *slowStore) DeleteAccounts(ctx context.Context, c model.PruneCriteria) ([]string, error) {
	if s.prunes.Add(1) == 1 {
		close(s.entered)
	}
	<-s.release
	return s.MemoryStore.DeleteAccounts(ctx, c)
}

func TestRunBatch_ConcurrentCallersCoalesce(t *testing.T) {
	st := &slowStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	_ = st.CreateAccount(context.Background(), account("a", now))
	s := newScheduler(st, nil)

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], _ = s.RunBatch(context.Background())
		}(i)
		if i == 0 {
			<-st.entered
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(st.release)
	wg.Wait()

	if n := st.prunes.Load(); n != 1 {
		t.Errorf("expected one shared batch, store pruned %d times", n)
	}
	if reports[0] != reports[1] {
		t.Error("coalesced callers should share the same report")
	}
}

func TestRunBatch_CancelledCallerDoesNotFailOthers(t *testing.T) {
	st := &slowStore{
		MemoryStore: store.NewMemoryStore(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	_ = st.CreateAccount(context.Background(), account("a", now))
	s := newScheduler(st, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := s.RunBatch(firstCtx)
		firstErr <- err
	}()
	<-st.entered

	type result struct {
		rep *Report
		err error
	}
	second := make(chan result, 1)
	go func() {
		rep, err := s.RunBatch(context.Background())
		second <- result{rep, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("first caller: expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller kept waiting for the batch")
	}

	close(st.release)
	got := <-second
	if got.err != nil {
		t.Fatalf("second caller failed: %v", got.err)
	}
	if got.rep.Recomputed != 1 || len(got.rep.Skipped) != 0 {
		t.Errorf("report = %+v", got.rep)
	}
	if n := st.prunes.Load(); n != 1 {
		t.Errorf("expected one shared batch, store pruned %d times", n)
	}
}

func TestRecomputeAccount(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	acc := account("a", now.Add(-10*accrual.Day))
	acc.Deposits = []model.Deposit{{ID: "d1", Amount: d(500), Status: model.StatusSuccess}}
	_ = st.CreateAccount(ctx, acc)
	s := newScheduler(st, nil)

	got, b, err := s.RecomputeAccount(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	// 500 + 100 − 0 − 100 + 120
	if !got.Balance.Equal(d(620)) || !b.Balance.Equal(d(620)) {
		t.Errorf("balance = %s, breakdown = %s, want 620", got.Balance, b.Balance)
	}
	if !b.Deposits.Equal(d(500)) || !b.Profit.Equal(d(100)) {
		t.Errorf("breakdown = %+v", b)
	}

	if _, _, err := s.RecomputeAccount(ctx, "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAbandoned_DoesNotDelete(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	_ = st.CreateAccount(ctx, account("old", now.Add(-5*accrual.Day)))
	_ = st.CreateAccount(ctx, account("new", now))

	out, err := newScheduler(st, nil).Abandoned(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].ID != "old" {
		t.Errorf("abandoned = %v", out)
	}
	if _, err := st.GetAccount(ctx, "old"); err != nil {
		t.Error("preview must not delete")
	}
}

func TestRun_StopsWithContext(t *testing.T) {
	st := store.NewMemoryStore()
	s := newScheduler(st, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, time.Hour)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

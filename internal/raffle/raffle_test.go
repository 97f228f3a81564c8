package raffle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"godshand-relief/internal/ledger"
	"godshand-relief/internal/storage"
)

type fakeDisasters struct {
	mu        sync.Mutex
	disasters map[string]storage.DisasterRecord
	listErr   error
}

func newFakeDisasters(records ...storage.DisasterRecord) *fakeDisasters {
	f := &fakeDisasters{disasters: make(map[string]storage.DisasterRecord)}
	for _, rec := range records {
		f.disasters[rec.DisasterHash] = rec
	}
	return f
}

func (f *fakeDisasters) GetDisaster(ctx context.Context, hash string) (storage.DisasterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.disasters[hash]
	if !ok {
		return storage.DisasterRecord{}, storage.ErrNotFound
	}
	return rec, nil
}

func (f *fakeDisasters) ListDisastersByLotteryStatus(ctx context.Context, status storage.LotteryStatus) ([]storage.DisasterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]storage.DisasterRecord, 0)
	for _, rec := range f.disasters {
		if rec.LotteryStatus == status {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeDisasters) MarkLotteryTriggered(ctx context.Context, hash string, endTime time.Time, prizeNote string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.disasters[hash]
	if !ok || rec.LotteryStatus != storage.LotteryPending {
		return false, nil
	}
	rec.LotteryStatus = storage.LotteryTriggered
	rec.LotteryEnd = &endTime
	rec.PrizeNote = &prizeNote
	f.disasters[hash] = rec
	return true, nil
}

func (f *fakeDisasters) SetLotteryTxRef(ctx context.Context, hash, txRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.disasters[hash]
	if !ok {
		return storage.ErrNotFound
	}
	rec.LotteryTxRef = &txRef
	f.disasters[hash] = rec
	return nil
}

func (f *fakeDisasters) MarkLotteryCompleted(ctx context.Context, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.disasters[hash]
	if !ok || rec.LotteryStatus != storage.LotteryTriggered {
		return false, nil
	}
	rec.LotteryStatus = storage.LotteryCompleted
	f.disasters[hash] = rec
	return true, nil
}

func (f *fakeDisasters) status(hash string) storage.LotteryStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disasters[hash].LotteryStatus
}

type fakeChain struct {
	mu       sync.Mutex
	triggers map[string]int
	failFor  map[string]error
}

func newFakeChain() *fakeChain {
	return &fakeChain{triggers: make(map[string]int), failFor: make(map[string]error)}
}

func (f *fakeChain) UnlockFunds(ctx context.Context, disasterHash [32]byte, recipient common.Address, amount *big.Int) (*ledger.TxResult, error) {
	return nil, errors.New("not used in raffle tests")
}

func (f *fakeChain) TriggerLottery(ctx context.Context, disasterHash [32]byte) (*ledger.TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := common.Hash(disasterHash).Hex()
	if err := f.failFor[key]; err != nil {
		return nil, err
	}
	f.triggers[key]++
	return &ledger.TxResult{TxHash: fmt.Sprintf("0xlottery-%s", key[:10]), BlockNumber: 100}, nil
}

func (f *fakeChain) triggerCount(hash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers[hash]
}

func disaster(hash string, age time.Duration, now time.Time) storage.DisasterRecord {
	return storage.DisasterRecord{
		DisasterHash:  hash,
		Title:         "test disaster",
		CreatedAt:     now.Add(-age),
		LotteryStatus: storage.LotteryPending,
	}
}

const (
	hashYoung = "0x3333333333333333333333333333333333333333333333333333333333333333"
	hashAged  = "0x4444444444444444444444444444444444444444444444444444444444444444"
	hashOther = "0x5555555555555555555555555555555555555555555555555555555555555555"
)

func newRunner(store *fakeDisasters, chain *fakeChain) *Runner {
	return New(Options{TriggerThreshold: 72 * time.Hour, LotteryDuration: 24 * time.Hour}, store, chain, nil, nil, zerolog.Nop())
}

func TestTriggerRespectsAgeThreshold(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeDisasters(
		disaster(hashYoung, 71*time.Hour+59*time.Minute, now),
		disaster(hashAged, 72*time.Hour+time.Minute, now),
	)
	chain := newFakeChain()
	runner := newRunner(store, chain)

	if err := runner.Cycle(context.Background(), now); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if store.status(hashYoung) != storage.LotteryPending {
		t.Fatal("71h59m-old disaster must not trigger")
	}
	if store.status(hashAged) != storage.LotteryTriggered {
		t.Fatal("72h01m-old disaster must trigger")
	}
	if chain.triggerCount(hashAged) != 1 {
		t.Fatalf("trigger count = %d", chain.triggerCount(hashAged))
	}

	rec, _ := store.GetDisaster(context.Background(), hashAged)
	if rec.LotteryEnd == nil || !rec.LotteryEnd.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("lottery end = %v", rec.LotteryEnd)
	}
	if rec.PrizeNote == nil || *rec.PrizeNote != PrizeNote {
		t.Fatalf("prize note = %v", rec.PrizeNote)
	}
	if rec.LotteryTxRef == nil {
		t.Fatal("lottery tx ref not persisted")
	}
}

func TestTriggerExactlyOnceAcrossRepeatedScans(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeDisasters(disaster(hashAged, 80*time.Hour, now))
	chain := newFakeChain()
	runner := newRunner(store, chain)

	if err := runner.Cycle(context.Background(), now); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := runner.Cycle(context.Background(), now); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if got := chain.triggerCount(hashAged); got != 1 {
		t.Fatalf("lottery submitted %d times, want exactly 1", got)
	}
}

func TestOneFailingDisasterDoesNotAbortScan(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeDisasters(
		disaster(hashAged, 80*time.Hour, now),
		disaster(hashOther, 90*time.Hour, now),
	)
	chain := newFakeChain()
	chain.failFor[hashAged] = ledger.ErrConnect
	runner := newRunner(store, chain)

	if err := runner.Cycle(context.Background(), now); err != nil {
		t.Fatalf("cycle should not fail on a per-disaster error: %v", err)
	}

	if chain.triggerCount(hashOther) != 1 {
		t.Fatal("healthy disaster must still trigger")
	}
	// Claimed but unsubmitted: visible gap, no re-submission later.
	rec, _ := store.GetDisaster(context.Background(), hashAged)
	if rec.LotteryStatus != storage.LotteryTriggered || rec.LotteryTxRef != nil {
		t.Fatalf("failed disaster state = %s txref=%v", rec.LotteryStatus, rec.LotteryTxRef)
	}
}

func TestCompletionScan(t *testing.T) {
	now := time.Now().UTC()
	pastEnd := now.Add(-time.Minute)
	futureEnd := now.Add(time.Hour)

	done := storage.DisasterRecord{DisasterHash: hashAged, LotteryStatus: storage.LotteryTriggered, LotteryEnd: &pastEnd, CreatedAt: now.Add(-100 * time.Hour)}
	running := storage.DisasterRecord{DisasterHash: hashOther, LotteryStatus: storage.LotteryTriggered, LotteryEnd: &futureEnd, CreatedAt: now.Add(-100 * time.Hour)}
	store := newFakeDisasters(done, running)
	runner := newRunner(store, newFakeChain())

	if err := runner.Cycle(context.Background(), now); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if store.status(hashAged) != storage.LotteryCompleted {
		t.Fatal("expired lottery must complete")
	}
	if store.status(hashOther) != storage.LotteryTriggered {
		t.Fatal("running lottery must stay triggered")
	}
}

type fakeLocker struct {
	held     bool
	acquired int
	released int
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if f.held {
		return nil, false, nil
	}
	f.acquired++
	return func() { f.released++ }, true, nil
}

func lockedRunner(store *fakeDisasters, chain *fakeChain, locker *fakeLocker) *Runner {
	opts := Options{TriggerThreshold: 72 * time.Hour, LotteryDuration: 24 * time.Hour, AdvisoryLockKey: 0x676f6473}
	return New(opts, store, chain, locker, nil, zerolog.Nop())
}

func TestCycleSkipsWhenLockHeldElsewhere(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeDisasters(disaster(hashAged, 80*time.Hour, now))
	chain := newFakeChain()
	runner := lockedRunner(store, chain, &fakeLocker{held: true})

	if err := runner.Cycle(context.Background(), now); err != nil {
		t.Fatalf("a held lock must skip the cycle, not fail it: %v", err)
	}
	if chain.triggerCount(hashAged) != 0 {
		t.Fatal("no scan may run without the lock")
	}
	if store.status(hashAged) != storage.LotteryPending {
		t.Fatal("disaster must stay pending for the holding instance")
	}
}

func TestCycleReleasesLockAfterScans(t *testing.T) {
	now := time.Now().UTC()
	store := newFakeDisasters(disaster(hashAged, 80*time.Hour, now))
	locker := &fakeLocker{}
	runner := lockedRunner(store, newFakeChain(), locker)

	if err := runner.Cycle(context.Background(), now); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	if locker.acquired != 1 || locker.released != 1 {
		t.Fatalf("lock acquired %d times, released %d times", locker.acquired, locker.released)
	}
	if store.status(hashAged) != storage.LotteryTriggered {
		t.Fatal("scan must run under the acquired lock")
	}
}

func TestCycleReturnsErrorWhenStoreUnreachable(t *testing.T) {
	store := newFakeDisasters()
	store.listErr = errors.New("store unreachable")
	runner := newRunner(store, newFakeChain())

	if err := runner.Cycle(context.Background(), time.Now().UTC()); err == nil {
		t.Fatal("a failed scan must surface so the scheduler backs off")
	}
}

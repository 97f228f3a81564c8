package raffle

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"godshand-relief/internal/ledger"
	"godshand-relief/internal/scheduler"
	"godshand-relief/internal/storage"
)

// PrizeNote is the symbolic share of the unclaimed pool distributed by a
// lottery, recorded on the disaster at trigger time.
const PrizeNote = "10% of unclaimed pool"

// Options tune the raffle runner.
type Options struct {
	TriggerThreshold time.Duration
	LotteryDuration  time.Duration
	AdvisoryLockKey  int64
}

// Runner periodically scans disasters, triggers lottery payouts for aged
// ones exactly once, and advances finished lotteries to completed.
type Runner struct {
	opts      Options
	disasters storage.DisasterStore
	chain     ledger.Client
	locker    storage.AdvisoryLocker
	sched     *scheduler.Scheduler
	logger    zerolog.Logger
}

// New constructs a raffle runner. locker may be nil when single-instance
// operation is guaranteed; the conditional status writes still keep the
// trigger at-most-once.
func New(opts Options, disasters storage.DisasterStore, chain ledger.Client, locker storage.AdvisoryLocker, sched *scheduler.Scheduler, logger zerolog.Logger) *Runner {
	if opts.TriggerThreshold <= 0 {
		opts.TriggerThreshold = 72 * time.Hour
	}
	if opts.LotteryDuration <= 0 {
		opts.LotteryDuration = 24 * time.Hour
	}
	return &Runner{
		opts:      opts,
		disasters: disasters,
		chain:     chain,
		locker:    locker,
		sched:     sched,
		logger:    logger.With().Str("component", "raffle").Logger(),
	}
}

// Run blocks, driving cycles until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r.sched == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return r.sched.Run(ctx, r.Cycle)
}

// Cycle performs one trigger scan and one completion scan. Per-disaster
// failures are logged and skipped; only a failed store scan is returned,
// which makes the scheduler fall back to its retry interval.
func (r *Runner) Cycle(ctx context.Context, now time.Time) error {
	unlock, proceed, err := r.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		r.logger.Debug().Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := r.triggerScan(ctx, now); err != nil {
		return err
	}
	return r.completionScan(ctx, now)
}

func (r *Runner) triggerScan(ctx context.Context, now time.Time) error {
	pending, err := r.disasters.ListDisastersByLotteryStatus(ctx, storage.LotteryPending)
	if err != nil {
		return fmt.Errorf("list pending disasters: %w", err)
	}

	for _, rec := range pending {
		age := now.Sub(rec.CreatedAt)
		if age < r.opts.TriggerThreshold {
			continue
		}
		r.triggerOne(ctx, rec, now)
	}
	return nil
}

// triggerOne claims and submits the lottery for a single disaster. The
// conditional status write is the gate: losing it means another instance
// already handled the disaster.
func (r *Runner) triggerOne(ctx context.Context, rec storage.DisasterRecord, now time.Time) {
	endTime := now.Add(r.opts.LotteryDuration)

	claimed, err := r.disasters.MarkLotteryTriggered(ctx, rec.DisasterHash, endTime, PrizeNote)
	if err != nil {
		r.logger.Error().Err(err).Str("disaster", rec.DisasterHash).Msg("failed to claim lottery trigger")
		return
	}
	if !claimed {
		r.logger.Debug().Str("disaster", rec.DisasterHash).Msg("lottery already triggered elsewhere")
		return
	}

	result, err := r.chain.TriggerLottery(ctx, common.HexToHash(rec.DisasterHash))
	if err != nil {
		// The row stays triggered without a tx ref; that gap is
		// deliberate so operators can spot and replay it instead of a
		// later cycle double-submitting.
		r.logger.Error().Err(err).Str("disaster", rec.DisasterHash).Msg("lottery transaction failed after trigger claim")
		return
	}

	if err := r.disasters.SetLotteryTxRef(ctx, rec.DisasterHash, result.TxHash); err != nil {
		r.logger.Error().Err(err).Str("disaster", rec.DisasterHash).Str("tx", result.TxHash).Msg("failed to persist lottery tx ref")
	}

	r.logger.Info().
		Str("disaster", rec.DisasterHash).
		Str("tx", result.TxHash).
		Time("lottery_end", endTime).
		Msg("lottery triggered")
}

func (r *Runner) completionScan(ctx context.Context, now time.Time) error {
	triggered, err := r.disasters.ListDisastersByLotteryStatus(ctx, storage.LotteryTriggered)
	if err != nil {
		return fmt.Errorf("list triggered disasters: %w", err)
	}

	for _, rec := range triggered {
		if rec.LotteryEnd == nil || !now.After(*rec.LotteryEnd) {
			continue
		}
		advanced, err := r.disasters.MarkLotteryCompleted(ctx, rec.DisasterHash)
		if err != nil {
			r.logger.Error().Err(err).Str("disaster", rec.DisasterHash).Msg("failed to complete lottery")
			continue
		}
		if advanced {
			r.logger.Info().Str("disaster", rec.DisasterHash).Msg("lottery completed")
		}
	}
	return nil
}

func (r *Runner) acquireLock(ctx context.Context) (func(), bool, error) {
	if r.opts.AdvisoryLockKey == 0 || r.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := r.locker.TryAdvisoryLock(ctx, r.opts.AdvisoryLockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

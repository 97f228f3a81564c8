package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrNotFound indicates a point read matched no record.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	getClaimSQL = `SELECT
        claim_id,
        disaster_hash,
        organization_address,
        claimed_amount_usd,
        reason,
        claim_state,
        settlement_tx_ref,
        settled_block,
        updated_at
    FROM claims
    WHERE claim_id = $1;`

	listClaimsByStateSQL = `SELECT
        claim_id,
        disaster_hash,
        organization_address,
        claimed_amount_usd,
        reason,
        claim_state,
        settlement_tx_ref,
        settled_block,
        updated_at
    FROM claims
    WHERE claim_state = $1
    ORDER BY updated_at;`

	listSettledClaimsSQL = `SELECT
        claim_id,
        disaster_hash,
        organization_address,
        claimed_amount_usd,
        reason,
        claim_state,
        settlement_tx_ref,
        settled_block,
        updated_at
    FROM claims
    WHERE claim_state = 'approved'
      AND settlement_tx_ref IS NOT NULL
      AND updated_at >= $1
      AND updated_at < $2
    ORDER BY updated_at
    LIMIT $3;`

	transitionClaimStateSQL = `UPDATE claims
    SET claim_state = $3, updated_at = now()
    WHERE claim_id = $1
      AND claim_state = $2;`

	setClaimAmountSQL = `UPDATE claims
    SET claimed_amount_usd = $2, updated_at = now()
    WHERE claim_id = $1
      AND claim_state = 'voting';`

	recordSettlementSQL = `UPDATE claims
    SET claim_state = 'approved',
        settlement_tx_ref = $2,
        settled_block = $3,
        updated_at = now()
    WHERE claim_id = $1
      AND claim_state = 'pending_settlement';`

	getDisasterSQL = `SELECT
        disaster_hash,
        title,
        description,
        created_at,
        lottery_status,
        lottery_end_time,
        lottery_tx_ref,
        prize_note
    FROM disasters
    WHERE disaster_hash = $1;`

	listDisastersByStatusSQL = `SELECT
        disaster_hash,
        title,
        description,
        created_at,
        lottery_status,
        lottery_end_time,
        lottery_tx_ref,
        prize_note
    FROM disasters
    WHERE lottery_status = $1
    ORDER BY created_at;`

	markLotteryTriggeredSQL = `UPDATE disasters
    SET lottery_status = 'triggered',
        lottery_end_time = $2,
        prize_note = $3
    WHERE disaster_hash = $1
      AND lottery_status = 'pending';`

	setLotteryTxRefSQL = `UPDATE disasters
    SET lottery_tx_ref = $2
    WHERE disaster_hash = $1;`

	markLotteryCompletedSQL = `UPDATE disasters
    SET lottery_status = 'completed'
    WHERE disaster_hash = $1
      AND lottery_status = 'triggered';`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ClaimStore defines claim persistence as consumed by the settlement
// engine. Transition methods are conditional writes: false means the
// precondition state no longer held, which callers treat as "already
// handled", not an error.
type ClaimStore interface {
	GetClaim(ctx context.Context, claimID string) (ClaimRecord, error)
	TransitionClaimState(ctx context.Context, claimID string, from, to ClaimState) (bool, error)
	SetClaimAmount(ctx context.Context, claimID string, amount decimal.Decimal) (bool, error)
	RecordSettlement(ctx context.Context, claimID, txRef string, block int64) (bool, error)
	ListClaimsByState(ctx context.Context, state ClaimState) ([]ClaimRecord, error)
}

// DisasterStore defines disaster persistence as consumed by the raffle
// scheduler.
type DisasterStore interface {
	GetDisaster(ctx context.Context, disasterHash string) (DisasterRecord, error)
	ListDisastersByLotteryStatus(ctx context.Context, status LotteryStatus) ([]DisasterRecord, error)
	MarkLotteryTriggered(ctx context.Context, disasterHash string, endTime time.Time, prizeNote string) (bool, error)
	SetLotteryTxRef(ctx context.Context, disasterHash, txRef string) error
	MarkLotteryCompleted(ctx context.Context, disasterHash string) (bool, error)
}

// SettledClaimLister backs the disbursement report.
type SettledClaimLister interface {
	ListSettledClaims(ctx context.Context, from, to time.Time, limit int) ([]ClaimRecord, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to claims and disasters.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Best effort: the lock is tied to the connection and drops with it.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// GetClaim reads a single claim by its identifier.
func (s *Store) GetClaim(ctx context.Context, claimID string) (ClaimRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return ClaimRecord{}, err
	}

	row := pool.QueryRow(ctx, getClaimSQL, claimID)
	rec, err := scanClaim(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClaimRecord{}, ErrNotFound
	}
	if err != nil {
		return ClaimRecord{}, fmt.Errorf("get claim: %w", err)
	}
	return rec, nil
}

// TransitionClaimState flips a claim between states only when the prior
// state still matches.
func (s *Store) TransitionClaimState(ctx context.Context, claimID string, from, to ClaimState) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, transitionClaimStateSQL, claimID, string(from), string(to))
	if execErr != nil {
		return false, fmt.Errorf("transition claim state: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// SetClaimAmount persists a revised claim amount. The write is
// conditional on the claim still being in voting; false means the
// voting phase ended while the revision was in flight.
func (s *Store) SetClaimAmount(ctx context.Context, claimID string, amount decimal.Decimal) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, setClaimAmountSQL, claimID, amount.String())
	if execErr != nil {
		return false, fmt.Errorf("set claim amount: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// RecordSettlement marks a pending claim approved with its transaction
// reference and confirming block.
func (s *Store) RecordSettlement(ctx context.Context, claimID, txRef string, block int64) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, recordSettlementSQL, claimID, txRef, block)
	if execErr != nil {
		return false, fmt.Errorf("record settlement: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListClaimsByState lists claims currently in the given state.
func (s *Store) ListClaimsByState(ctx context.Context, state ClaimState) ([]ClaimRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listClaimsByStateSQL, string(state))
	if queryErr != nil {
		return nil, fmt.Errorf("list claims by state: %w", queryErr)
	}
	defer rows.Close()

	claims := make([]ClaimRecord, 0)
	for rows.Next() {
		rec, scanErr := scanClaim(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		claims = append(claims, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return claims, nil
}

// ListSettledClaims lists approved claims with a settlement reference in
// the given window.
func (s *Store) ListSettledClaims(ctx context.Context, from, to time.Time, limit int) ([]ClaimRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSettledClaimsSQL, from, to, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list settled claims: %w", queryErr)
	}
	defer rows.Close()

	claims := make([]ClaimRecord, 0)
	for rows.Next() {
		rec, scanErr := scanClaim(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		claims = append(claims, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return claims, nil
}

// GetDisaster reads a single disaster by hash.
func (s *Store) GetDisaster(ctx context.Context, disasterHash string) (DisasterRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return DisasterRecord{}, err
	}

	row := pool.QueryRow(ctx, getDisasterSQL, disasterHash)
	rec, err := scanDisaster(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return DisasterRecord{}, ErrNotFound
	}
	if err != nil {
		return DisasterRecord{}, fmt.Errorf("get disaster: %w", err)
	}
	return rec, nil
}

// ListDisastersByLotteryStatus lists disasters in a lottery state.
func (s *Store) ListDisastersByLotteryStatus(ctx context.Context, status LotteryStatus) ([]DisasterRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listDisastersByStatusSQL, string(status))
	if queryErr != nil {
		return nil, fmt.Errorf("list disasters by status: %w", queryErr)
	}
	defer rows.Close()

	disasters := make([]DisasterRecord, 0)
	for rows.Next() {
		rec, scanErr := scanDisaster(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		disasters = append(disasters, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return disasters, nil
}

// MarkLotteryTriggered claims the pending->triggered transition. The
// WHERE clause on the prior status makes the trigger at-most-once across
// concurrent scheduler instances.
func (s *Store) MarkLotteryTriggered(ctx context.Context, disasterHash string, endTime time.Time, prizeNote string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, markLotteryTriggeredSQL, disasterHash, endTime, prizeNote)
	if execErr != nil {
		return false, fmt.Errorf("mark lottery triggered: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// SetLotteryTxRef records the lottery transaction reference after
// submission.
func (s *Store) SetLotteryTxRef(ctx context.Context, disasterHash, txRef string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, execErr := pool.Exec(ctx, setLotteryTxRefSQL, disasterHash, txRef)
	if execErr != nil {
		return fmt.Errorf("set lottery tx ref: %w", execErr)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkLotteryCompleted advances a triggered lottery to completed.
func (s *Store) MarkLotteryCompleted(ctx context.Context, disasterHash string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, markLotteryCompletedSQL, disasterHash)
	if execErr != nil {
		return false, fmt.Errorf("mark lottery completed: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

func scanClaim(row pgx.Row) (ClaimRecord, error) {
	var (
		rec       ClaimRecord
		org       sql.NullString
		amountStr sql.NullString
		state     string
		txRef     sql.NullString
		block     sql.NullInt64
	)

	if err := row.Scan(
		&rec.ClaimID,
		&rec.DisasterHash,
		&org,
		&amountStr,
		&rec.Reason,
		&state,
		&txRef,
		&block,
		&rec.UpdatedAt,
	); err != nil {
		return ClaimRecord{}, err
	}

	rec.ClaimState = ClaimState(state)
	if org.Valid {
		rec.OrganizationAddress = org.String
	}
	if amountStr.Valid {
		amount, err := decimal.NewFromString(amountStr.String)
		if err != nil {
			return ClaimRecord{}, fmt.Errorf("parse claimed amount: %w", err)
		}
		rec.ClaimedAmountUSD = &amount
	}
	if txRef.Valid {
		ref := txRef.String
		rec.SettlementTxRef = &ref
	}
	if block.Valid {
		value := block.Int64
		rec.SettledBlock = &value
	}

	return rec, nil
}

func scanDisaster(row pgx.Row) (DisasterRecord, error) {
	var (
		rec    DisasterRecord
		status string
		endAt  sql.NullTime
		txRef  sql.NullString
		note   sql.NullString
	)

	if err := row.Scan(
		&rec.DisasterHash,
		&rec.Title,
		&rec.Description,
		&rec.CreatedAt,
		&status,
		&endAt,
		&txRef,
		&note,
	); err != nil {
		return DisasterRecord{}, err
	}

	rec.LotteryStatus = LotteryStatus(status)
	if endAt.Valid {
		t := endAt.Time
		rec.LotteryEnd = &t
	}
	if txRef.Valid {
		ref := txRef.String
		rec.LotteryTxRef = &ref
	}
	if note.Valid {
		n := note.String
		rec.PrizeNote = &n
	}

	return rec, nil
}

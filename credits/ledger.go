// Package credits is the per-owner usage allowance.
//
// Balances never go negative: a debit larger than the balance clamps to
// zero instead of failing, because debits follow work that already happened.
// Admission (RequireBalance) is where insufficient funds are rejected.
// Every balance change leaves a credit_entries audit row.
package credits

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/courseforge/db"
	"github.com/teranos/courseforge/errors"
	"github.com/teranos/courseforge/logger"
	"github.com/teranos/courseforge/metrics"
)

// Entry reasons
const (
	ReasonInitialGrant = "initial_grant"
	ReasonGrant        = "grant"
	ReasonJobCompleted = "job_completed"
	ReasonBatchUpfront = "batch_upfront"
	ReasonBatchRefund  = "batch_refund"
)

// Account is an owner's balance
type Account struct {
	OwnerID          string    `json:"owner_id"`
	CreditsRemaining int       `json:"credits_remaining"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Entry is one audited balance change
type Entry struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Delta        int       `json:"delta"`
	Reason       string    `json:"reason"`
	JobID        string    `json:"job_id,omitempty"`
	BatchID      string    `json:"batch_id,omitempty"`
	BalanceAfter int       `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// Memo says why a debit happened
type Memo struct {
	Reason  string
	JobID   string
	BatchID string
}

// Ledger stores accounts in SQLite.
// Debits for one owner are serialized in-process so each entry's
// BalanceAfter is exact; the clamped UPDATE itself is atomic per row.
type Ledger struct {
	db           *sql.DB
	defaultGrant int
	now          func() time.Time
	locks        sync.Map // owner -> *sync.Mutex
	metrics      *metrics.Metrics
	logger       *zap.SugaredLogger
}

// NewLedger creates a ledger; new accounts start with defaultGrant credits
func NewLedger(db *sql.DB, defaultGrant int) *Ledger {
	if defaultGrant < 0 {
		defaultGrant = 0
	}
	return &Ledger{
		db:           db,
		defaultGrant: defaultGrant,
		now:          time.Now,
		logger:       logger.ComponentLogger("credits"),
	}
}

// WithClock replaces the ledger clock (tests)
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// WithMetrics attaches collectors
func (l *Ledger) WithMetrics(m *metrics.Metrics) *Ledger {
	l.metrics = m
	return l
}

// WithLogger replaces the component logger
func (l *Ledger) WithLogger(log *zap.SugaredLogger) *Ledger {
	l.logger = logger.OrGlobal(log, "credits")
	return l
}

func (l *Ledger) lock(owner string) func() {
	v, _ := l.locks.LoadOrStore(owner, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Get returns owner's account or ErrNotFound
func (l *Ledger) Get(ctx context.Context, owner string) (*Account, error) {
	var acc Account
	err := l.db.QueryRowContext(ctx, `
		SELECT owner_id, credits_remaining, created_at, updated_at
		FROM credit_accounts WHERE owner_id = ?`, owner,
	).Scan(&acc.OwnerID, &acc.CreditsRemaining, &acc.CreatedAt, &acc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("credit account not found: %s", owner)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get credit account")
	}
	return &acc, nil
}

// EnsureAccount returns owner's account, creating it with the default grant if absent.
// Losing a concurrent create race is not an error: the winner's row is returned.
func (l *Ledger) EnsureAccount(ctx context.Context, owner string) (*Account, error) {
	if owner == "" {
		return nil, errors.NewInvalidRequestError("owner cannot be empty")
	}

	acc, err := l.Get(ctx, owner)
	if err == nil {
		return acc, nil
	}
	if !errors.IsNotFoundError(err) {
		return nil, err
	}

	acc, err = l.create(ctx, owner)
	if err != nil {
		if db.IsUniqueViolation(err) {
			l.logger.Debugw("Credit account created concurrently, re-reading", logger.FieldOwnerID, owner)
			return l.Get(ctx, owner)
		}
		return nil, err
	}
	return acc, nil
}

func (l *Ledger) create(ctx context.Context, owner string) (*Account, error) {
	now := l.now().UTC()
	acc := &Account{OwnerID: owner, CreditsRemaining: l.defaultGrant, CreatedAt: now, UpdatedAt: now}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_accounts (owner_id, credits_remaining, created_at, updated_at)
		VALUES (?, ?, ?, ?)`, owner, acc.CreditsRemaining, now, now); err != nil {
		return nil, errors.Wrap(err, "failed to create credit account")
	}
	if l.defaultGrant > 0 {
		if err := insertEntry(ctx, tx, owner, l.defaultGrant, acc.CreditsRemaining, Memo{Reason: ReasonInitialGrant}, now); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "failed to commit credit account")
	}

	l.logger.Infow("Created credit account", logger.FieldOwnerID, owner, logger.FieldCredits, acc.CreditsRemaining)
	return acc, nil
}

// RequireBalance admits work costing amount, or fails with *errors.InsufficientCreditsError.
// It does not reserve anything: the debit comes later.
func (l *Ledger) RequireBalance(ctx context.Context, owner string, amount int) (*Account, error) {
	acc, err := l.EnsureAccount(ctx, owner)
	if err != nil {
		return nil, err
	}
	if acc.CreditsRemaining < amount {
		l.metrics.Insufficient()
		return nil, &errors.InsufficientCreditsError{Required: amount, Available: acc.CreditsRemaining}
	}
	return acc, nil
}

// Debit takes amount from owner, clamping the balance at zero.
// The entry records the delta actually applied.
func (l *Ledger) Debit(ctx context.Context, owner string, amount int, memo Memo) (*Account, error) {
	if amount < 0 {
		return nil, errors.NewInvalidRequestError("debit amount cannot be negative: %d", amount)
	}
	if memo.Reason == "" {
		memo.Reason = ReasonJobCompleted
	}

	unlock := l.lock(owner)
	defer unlock()

	acc, delta, err := l.apply(ctx, owner, -amount, memo, applyClamp)
	if err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Owner: %s", owner))
		return nil, errors.WithDetail(err, fmt.Sprintf("Amount: %d", amount))
	}
	l.metrics.Debited(-delta)

	if -delta < amount {
		l.logger.Warnw("Debit clamped at zero",
			logger.FieldOwnerID, owner,
			logger.FieldJobID, memo.JobID,
			"requested", amount,
			"applied", -delta)
	}
	return acc, nil
}

// Grant adds amount to owner's balance, creating the account if needed
func (l *Ledger) Grant(ctx context.Context, owner string, amount int, reason string) (*Account, error) {
	if amount <= 0 {
		return nil, errors.NewInvalidRequestError("grant amount must be positive: %d", amount)
	}
	if reason == "" {
		reason = ReasonGrant
	}
	if _, err := l.EnsureAccount(ctx, owner); err != nil {
		return nil, err
	}

	unlock := l.lock(owner)
	defer unlock()

	acc, _, err := l.apply(ctx, owner, amount, Memo{Reason: reason}, applyExact)
	return acc, err
}

// DebitIfSufficient takes exactly amount from owner or nothing at all.
// The balance check and the decrement share one transaction, so two callers
// cannot both be admitted against the same credits. A short balance fails
// with *errors.InsufficientCreditsError and writes no entry.
func (l *Ledger) DebitIfSufficient(ctx context.Context, owner string, amount int, memo Memo) (*Account, error) {
	if amount < 0 {
		return nil, errors.NewInvalidRequestError("debit amount cannot be negative: %d", amount)
	}
	if memo.Reason == "" {
		memo.Reason = ReasonJobCompleted
	}
	if _, err := l.EnsureAccount(ctx, owner); err != nil {
		return nil, err
	}

	unlock := l.lock(owner)
	defer unlock()

	acc, _, err := l.apply(ctx, owner, -amount, memo, applyGuarded)
	if err != nil {
		var short *errors.InsufficientCreditsError
		if errors.As(err, &short) {
			l.metrics.Insufficient()
			return nil, err
		}
		return nil, errors.WithDetail(err, fmt.Sprintf("Owner: %s", owner))
	}
	l.metrics.Debited(amount)
	return acc, nil
}

type applyMode int

const (
	applyExact   applyMode = iota // add delta as given
	applyClamp                    // floor the balance at zero
	applyGuarded                  // refuse a delta that would go negative
)

// apply changes the balance by delta in one transaction and returns the
// account plus the delta actually applied after clamping
func (l *Ledger) apply(ctx context.Context, owner string, delta int, memo Memo, mode applyMode) (*Account, int, error) {
	now := l.now().UTC()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback() // no-op after commit

	var before int
	err = tx.QueryRowContext(ctx, `SELECT credits_remaining FROM credit_accounts WHERE owner_id = ?`, owner).Scan(&before)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, errors.NewNotFoundError("credit account not found: %s", owner)
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read balance")
	}

	var res sql.Result
	switch mode {
	case applyClamp:
		res, err = tx.ExecContext(ctx, `
			UPDATE credit_accounts SET credits_remaining = MAX(credits_remaining + ?, 0), updated_at = ?
			WHERE owner_id = ?`, delta, now, owner)
	case applyGuarded:
		// The WHERE clause holds even against another process on the same file
		res, err = tx.ExecContext(ctx, `
			UPDATE credit_accounts SET credits_remaining = credits_remaining + ?, updated_at = ?
			WHERE owner_id = ? AND credits_remaining + ? >= 0`, delta, now, owner, delta)
	default:
		res, err = tx.ExecContext(ctx, `
			UPDATE credit_accounts SET credits_remaining = credits_remaining + ?, updated_at = ?
			WHERE owner_id = ?`, delta, now, owner)
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to update balance")
	}
	if mode == applyGuarded {
		n, err := res.RowsAffected()
		if err != nil {
			return nil, 0, errors.Wrap(err, "failed to check balance update")
		}
		if n == 0 {
			return nil, 0, &errors.InsufficientCreditsError{Required: -delta, Available: before}
		}
	}

	var acc Account
	err = tx.QueryRowContext(ctx, `
		SELECT owner_id, credits_remaining, created_at, updated_at
		FROM credit_accounts WHERE owner_id = ?`, owner,
	).Scan(&acc.OwnerID, &acc.CreditsRemaining, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to read back balance")
	}

	applied := acc.CreditsRemaining - before
	if err := insertEntry(ctx, tx, owner, applied, acc.CreditsRemaining, memo, now); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(); err != nil {
		return nil, 0, errors.Wrap(err, "failed to commit balance change")
	}
	return &acc, applied, nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, owner string, delta, balanceAfter int, memo Memo, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO credit_entries (id, owner_id, delta, reason, job_id, batch_id, balance_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), owner, delta, memo.Reason,
		nullString(memo.JobID), nullString(memo.BatchID), balanceAfter, now)
	if err != nil {
		return errors.Wrap(err, "failed to record credit entry")
	}
	return nil
}

// Entries returns owner's balance changes, most recent first
func (l *Ledger) Entries(ctx context.Context, owner string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, owner_id, delta, reason, job_id, batch_id, balance_after, created_at
		FROM credit_entries
		WHERE owner_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, owner, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list credit entries")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var jobID, batchID sql.NullString
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.Delta, &e.Reason, &jobID, &batchID, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan credit entry")
		}
		e.JobID = jobID.String
		e.BatchID = batchID.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate credit entries")
	}
	return entries, nil
}

// SumDebits totals the credits taken for a job or batch (negative deltas, as a positive number)
func (l *Ledger) SumDebits(ctx context.Context, owner, jobID, batchID string) (int, error) {
	var total sql.NullInt64
	err := l.db.QueryRowContext(ctx, `
		SELECT SUM(-delta) FROM credit_entries
		WHERE owner_id = ? AND delta < 0
		  AND (? = '' OR job_id = ?)
		  AND (? = '' OR batch_id = ?)`,
		owner, jobID, jobID, batchID, batchID).Scan(&total)
	if err != nil {
		return 0, errors.Wrap(err, "failed to sum debits")
	}
	return int(total.Int64), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

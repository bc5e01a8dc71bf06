package transfer

import (
	"context"
	"time"

	"github.com/pesafi/pesafi/internal/ledger"
)

// LimitConfig holds the global floor and ceiling applied on top of
// per-account limits.
type LimitConfig struct {
	MaxTransactionAmount int64
	MinTransactionAmount int64
}

// LimitChecker enforces per-account daily and monthly ceilings and the
// global per-transaction maximum. It is read-only and must run immediately
// before every debit-producing operation: the window totals are relative to
// execution time, not scheduling time.
type LimitChecker struct {
	cfg LimitConfig
}

// NewLimitChecker constructs a limit checker.
func NewLimitChecker(cfg LimitConfig) *LimitChecker {
	return &LimitChecker{cfg: cfg}
}

// Check verifies that debiting amount from the account stays within its
// daily and monthly limits and the global maximum. It runs inside the unit
// that will apply the debit, so the totals it reads are isolated from
// concurrent units. Returns a *LimitError on rejection.
func (c *LimitChecker) Check(ctx context.Context, u ledger.Unit, account ledger.Account, amount int64, now time.Time) error {
	if c.cfg.MinTransactionAmount > 0 && amount < c.cfg.MinTransactionAmount {
		return &LimitError{Scope: LimitMinimum, Threshold: c.cfg.MinTransactionAmount}
	}
	if c.cfg.MaxTransactionAmount > 0 && amount > c.cfg.MaxTransactionAmount {
		return &LimitError{Scope: LimitGlobal, Threshold: c.cfg.MaxTransactionAmount}
	}

	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	dailyTotal, err := u.DebitTotal(ctx, account.ID, dayStart)
	if err != nil {
		return &PersistenceError{Err: err}
	}
	if account.DailyLimit > 0 && dailyTotal+amount > account.DailyLimit {
		return &LimitError{Scope: LimitDaily, Threshold: account.DailyLimit}
	}

	monthlyTotal, err := u.DebitTotal(ctx, account.ID, monthStart)
	if err != nil {
		return &PersistenceError{Err: err}
	}
	if account.MonthlyLimit > 0 && monthlyTotal+amount > account.MonthlyLimit {
		return &LimitError{Scope: LimitMonthly, Threshold: account.MonthlyLimit}
	}

	return nil
}

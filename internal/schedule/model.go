// Package schedule implements scheduled and recurring transactions: the
// recurrence calendar, per-schedule execution state and the due-sweep that
// drives executions.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/pesafi/pesafi/internal/ledger"
)

var (
	// ErrNotFound indicates the scheduled transaction does not exist.
	ErrNotFound = errors.New("scheduled transaction not found")

	// ErrTerminalState indicates a transition was rejected because the
	// schedule already reached completed, cancelled or failed.
	ErrTerminalState = errors.New("schedule in terminal state")

	// ErrNotPaused indicates resume was called on a schedule that is not
	// paused.
	ErrNotPaused = errors.New("schedule is not paused")

	// ErrNotActive indicates pause was called on a schedule that is not
	// active.
	ErrNotActive = errors.New("schedule is not active")
)

// Frequency determines how execution dates advance.
type Frequency string

const (
	Once         Frequency = "once"
	Daily        Frequency = "daily"
	Weekly       Frequency = "weekly"
	BiWeekly     Frequency = "bi_weekly"
	Monthly      Frequency = "monthly"
	Quarterly    Frequency = "quarterly"
	SemiAnnually Frequency = "semi_annually"
	Annually     Frequency = "annually"
)

// Status is the lifecycle state of a schedule.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// RecipientKind distinguishes where the money goes.
type RecipientKind string

const (
	RecipientInternal  RecipientKind = "internal"
	RecipientExternal  RecipientKind = "external"
	RecipientBillPayee RecipientKind = "bill_payee"
)

// Recipient describes the destination of each execution.
type Recipient struct {
	Kind          RecipientKind
	AccountID     string
	Name          string
	AccountNumber string
	RoutingNumber string
	BankName      string
}

// ExecutionResult records the outcome of the most recent execution.
type ExecutionResult struct {
	Success       bool
	TransactionID string
	Error         string
	ExecutedAt    time.Time
}

// NotifySettings controls which execution events raise notification intents.
type NotifySettings struct {
	BeforeExecution bool
	AfterExecution  bool
	OnFailure       bool
}

// ScheduledTransaction is a plain domain object: its transition methods are
// pure state manipulation, persistence is the repository's concern.
type ScheduledTransaction struct {
	ID        string
	OwnerID   string
	AccountID string

	Type     ledger.TransactionType
	Category string
	Amount   int64
	Currency string

	Recipient Recipient

	Frequency Frequency
	StartDate time.Time
	EndDate   *time.Time
	// NextExecution is nil exactly when the schedule is terminal.
	NextExecution *time.Time

	// MaxExecutions of zero means unbounded.
	MaxExecutions  int
	ExecutionCount int

	Description string
	Reference   string
	Memo        string

	LastExecutedAt *time.Time
	LastResult     *ExecutionResult

	FailureCount  int
	MaxRetries    int
	RetryInterval time.Duration

	Notify NotifySettings

	RequiresApproval bool
	ApprovedBy       string
	ApprovedAt       *time.Time

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Due reports whether the schedule should execute at asOf.
func (st *ScheduledTransaction) Due(asOf time.Time) bool {
	return st.Status == StatusActive && st.NextExecution != nil && !st.NextExecution.After(asOf)
}

// Approved reports whether the approval gate, if any, has been satisfied.
func (st *ScheduledTransaction) Approved() bool {
	return !st.RequiresApproval || st.ApprovedAt != nil
}

// RecordExecution applies the outcome of one execution attempt. A success
// resets the failure count and advances the schedule; a failure burns a
// retry and, once retries are exhausted, fails the schedule terminally.
// A failure with retries remaining pushes NextExecution out by
// RetryInterval so the next sweep does not immediately re-run it.
func (st *ScheduledTransaction) RecordExecution(success bool, transactionID string, cause error, now time.Time) {
	st.ExecutionCount++
	st.LastExecutedAt = &now
	result := &ExecutionResult{
		Success:       success,
		TransactionID: transactionID,
		ExecutedAt:    now,
	}
	if cause != nil {
		result.Error = cause.Error()
	}
	st.LastResult = result

	if success {
		st.FailureCount = 0
		st.advance(now)
		return
	}

	st.FailureCount++
	if st.FailureCount >= st.MaxRetries {
		st.Status = StatusFailed
		st.NextExecution = nil
		return
	}
	retryAt := now.Add(st.RetryInterval)
	st.NextExecution = &retryAt
}

// advance computes the next execution date or terminates the schedule when
// the frequency is once, the end date is passed or the execution budget is
// spent.
func (st *ScheduledTransaction) advance(now time.Time) {
	if st.Frequency == Once {
		st.complete()
		return
	}
	if st.MaxExecutions > 0 && st.ExecutionCount >= st.MaxExecutions {
		st.complete()
		return
	}

	current := now
	if st.NextExecution != nil {
		current = *st.NextExecution
	}
	next, ok := NextExecutionDate(current, st.Frequency)
	if !ok {
		st.complete()
		return
	}
	if st.EndDate != nil && next.After(*st.EndDate) {
		st.complete()
		return
	}
	st.NextExecution = &next
}

func (st *ScheduledTransaction) complete() {
	st.Status = StatusCompleted
	st.NextExecution = nil
}

// Pause suspends an active schedule without touching execution history.
func (st *ScheduledTransaction) Pause() error {
	if st.Status.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrTerminalState, st.Status)
	}
	if st.Status != StatusActive {
		return fmt.Errorf("%w: status is %s", ErrNotActive, st.Status)
	}
	st.Status = StatusPaused
	return nil
}

// Resume reactivates a paused schedule.
func (st *ScheduledTransaction) Resume() error {
	if st.Status != StatusPaused {
		return fmt.Errorf("%w: status is %s", ErrNotPaused, st.Status)
	}
	st.Status = StatusActive
	return nil
}

// Cancel terminates the schedule from any non-terminal state. Cancelling a
// terminal schedule is rejected, not ignored.
func (st *ScheduledTransaction) Cancel() error {
	if st.Status.Terminal() {
		return fmt.Errorf("%w: status is %s", ErrTerminalState, st.Status)
	}
	st.Status = StatusCancelled
	st.NextExecution = nil
	return nil
}

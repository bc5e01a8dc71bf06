package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pesafi/pesafi/internal/notification"
	"github.com/pesafi/pesafi/internal/transfer"
)

// Sweeper executes due schedules. Each schedule is processed independently:
// a failing schedule records its failure and never blocks the rest of the
// sweep. Limits are re-checked at execution time by the executor because
// they are time-window-relative and may have changed since scheduling.
type Sweeper struct {
	repo     Repository
	executor *transfer.Executor
	claims   *ClaimStore
	notifier notification.Notifier
	logger   *slog.Logger
	batch    int
}

// NewSweeper constructs a sweeper. A nil claim store disables cross-worker
// claiming, which is only safe with a single worker.
func NewSweeper(repo Repository, executor *transfer.Executor, claims *ClaimStore, notifier notification.Notifier, logger *slog.Logger, batch int) *Sweeper {
	if batch <= 0 {
		batch = 100
	}
	return &Sweeper{
		repo:     repo,
		executor: executor,
		claims:   claims,
		notifier: notifier,
		logger:   logger,
		batch:    batch,
	}
}

// SweepStats summarizes one sweep pass.
type SweepStats struct {
	Due      int
	Executed int
	Failed   int
	Skipped  int
}

// Sweep finds schedules due at asOf and executes each one.
func (s *Sweeper) Sweep(ctx context.Context, asOf time.Time) (SweepStats, error) {
	now := asOf.UTC()

	due, err := s.repo.FindDue(ctx, now, s.batch)
	if err != nil {
		return SweepStats{}, fmt.Errorf("find due schedules: %w", err)
	}

	stats := SweepStats{Due: len(due)}
	for i := range due {
		s.runOne(ctx, &due[i], now, &stats)
	}

	if stats.Due > 0 {
		s.logger.Info("sweep finished",
			"due", stats.Due, "executed", stats.Executed, "failed", stats.Failed, "skipped", stats.Skipped)
	}
	return stats, nil
}

func (s *Sweeper) runOne(ctx context.Context, st *ScheduledTransaction, now time.Time, stats *SweepStats) {
	if !st.Approved() {
		stats.Skipped++
		return
	}

	if s.claims != nil {
		ok, err := s.claims.Acquire(ctx, st.ID)
		if err != nil {
			s.logger.Warn("claim schedule", "schedule_id", st.ID, "error", err)
			stats.Skipped++
			return
		}
		if !ok {
			stats.Skipped++
			return
		}
		defer func() {
			if err := s.claims.Release(ctx, st.ID); err != nil {
				s.logger.Warn("release schedule claim", "schedule_id", st.ID, "error", err)
			}
		}()
	}

	res, execErr := s.executor.Execute(ctx, s.buildInput(st))

	transactionID := ""
	if execErr == nil {
		transactionID = res.Transaction.ID
	}
	st.RecordExecution(execErr == nil, transactionID, execErr, now)
	st.UpdatedAt = now

	if err := s.repo.Update(ctx, *st); err != nil {
		s.logger.Error("persist schedule execution", "schedule_id", st.ID, "error", err)
		stats.Failed++
		return
	}

	if execErr != nil {
		stats.Failed++
		s.logger.Warn("schedule execution failed",
			"schedule_id", st.ID, "failure_count", st.FailureCount, "error", execErr)
		s.notifyFailure(ctx, st, execErr)
		return
	}

	stats.Executed++
	s.notifySuccess(ctx, st, transactionID)
}

// buildInput maps the schedule to a transfer intent. The reference embeds
// the execution ordinal so a double-fired execution is rejected as a
// duplicate by the ledger.
func (s *Sweeper) buildInput(st *ScheduledTransaction) transfer.Input {
	in := transfer.Input{
		Reference:     fmt.Sprintf("%s-%d", st.ID, st.ExecutionCount+1),
		Type:          st.Type,
		FromAccountID: st.AccountID,
		Amount:        st.Amount,
		Currency:      st.Currency,
		Description:   st.Description,
		Category:      st.Category,
	}
	switch st.Recipient.Kind {
	case RecipientInternal:
		in.ToAccountID = st.Recipient.AccountID
	case RecipientExternal, RecipientBillPayee:
		in.Recipient = &transfer.ExternalRecipient{
			Name:          st.Recipient.Name,
			AccountNumber: st.Recipient.AccountNumber,
			RoutingNumber: st.Recipient.RoutingNumber,
			BankName:      st.Recipient.BankName,
		}
	}
	return in
}

func (s *Sweeper) notifySuccess(ctx context.Context, st *ScheduledTransaction, transactionID string) {
	if s.notifier == nil || !st.Notify.AfterExecution {
		return
	}
	_ = s.notifier.Send(ctx, notification.Intent{
		UserID: st.OwnerID,
		Kind:   notification.KindScheduleExecuted,
		Payload: map[string]string{
			"schedule_id":    st.ID,
			"transaction_id": transactionID,
			"amount":         strconv.FormatInt(st.Amount, 10),
			"currency":       st.Currency,
		},
	})
}

func (s *Sweeper) notifyFailure(ctx context.Context, st *ScheduledTransaction, cause error) {
	if s.notifier == nil || !st.Notify.OnFailure {
		return
	}
	payload := map[string]string{
		"schedule_id":   st.ID,
		"reason":        cause.Error(),
		"failure_count": strconv.Itoa(st.FailureCount),
	}
	if st.Status == StatusFailed {
		payload["terminal"] = "true"
	}
	_ = s.notifier.Send(ctx, notification.Intent{
		UserID:  st.OwnerID,
		Kind:    notification.KindScheduleFailed,
		Payload: payload,
	})
}

// Package verification manages step-up confirmation for sensitive
// transfers: a short-lived, attempt-limited code must be presented before
// the money movement is executed.
package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/pesafi/pesafi/internal/ledger"
	"github.com/pesafi/pesafi/internal/notification"
	"github.com/pesafi/pesafi/internal/transfer"
)

var (
	// ErrExpired indicates the verification window has closed. The
	// transaction is expired and accepts no further attempts.
	ErrExpired = errors.New("verification code expired")

	// ErrMaxAttempts indicates the attempt budget is exhausted. The
	// transaction is failed and accepts no further attempts.
	ErrMaxAttempts = errors.New("verification attempts exhausted")

	// ErrCodeMismatch indicates a wrong code with attempts remaining.
	ErrCodeMismatch = errors.New("verification code mismatch")

	// ErrNotPending indicates the transaction is not awaiting the requested
	// step, typically because it already reached a terminal state.
	ErrNotPending = errors.New("transaction not awaiting verification")

	// ErrNotCancellable indicates a cancel was rejected because the
	// transaction already reached a terminal state.
	ErrNotCancellable = errors.New("transaction cannot be cancelled")
)

// ExecutionError reports that verification itself succeeded but the money
// movement afterwards did not.
type ExecutionError struct {
	Err error
}

func (e *ExecutionError) Error() string { return "execution after verification failed: " + e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// Service drives the pending_confirmation -> pending_verification ->
// {completed|failed|expired|cancelled} state machine.
type Service struct {
	store       ledger.Store
	executor    *transfer.Executor
	notifier    notification.Notifier
	logger      *slog.Logger
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
	newCode     func() (string, error)
}

// NewService constructs a verification service. ttl bounds the validity of
// an issued code; maxAttempts bounds consecutive mismatches.
func NewService(store ledger.Store, executor *transfer.Executor, notifier notification.Notifier, logger *slog.Logger, ttl time.Duration, maxAttempts int) *Service {
	return &Service{
		store:       store,
		executor:    executor,
		notifier:    notifier,
		logger:      logger,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         func() time.Time { return time.Now().UTC() },
		newCode:     generateCode,
	}
}

// Begin records a transfer intent that requires step-up verification. No
// balances move; the record is created in pending_confirmation. The intent
// must carry the full shape its type requires: a malformed record would
// otherwise complete later as a one-sided posting.
func (s *Service) Begin(ctx context.Context, in transfer.Input) (ledger.Transaction, error) {
	if err := in.Validate(); err != nil {
		return ledger.Transaction{}, err
	}
	if in.FromAccountID == "" {
		return ledger.Transaction{}, fmt.Errorf("%s requires a source account", in.Type)
	}
	if in.Reference == "" {
		in.Reference = uuid.NewString()
	}

	now := s.now()
	metadata := map[string]string{}
	if in.Tier != "" {
		metadata["tier"] = string(in.Tier)
	}
	// Recipient details recorded now so the executor can submit to the
	// network once the code checks out.
	if in.Recipient != nil {
		metadata["recipient_name"] = in.Recipient.Name
		metadata["recipient_account"] = in.Recipient.AccountNumber
		metadata["recipient_routing"] = in.Recipient.RoutingNumber
		metadata["recipient_bank"] = in.Recipient.BankName
	}
	if len(metadata) == 0 {
		metadata = nil
	}

	tx := ledger.Transaction{
		ID:            uuid.NewString(),
		Reference:     in.Reference,
		Type:          in.Type,
		Amount:        in.Amount,
		Currency:      in.Currency,
		FromAccountID: in.FromAccountID,
		ToAccountID:   in.ToAccountID,
		Status:        ledger.StatusPendingConfirmation,
		Description:   in.Description,
		Category:      in.Category,
		Metadata:      metadata,
		CreatedAt:     now,
	}

	err := s.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		return u.CreateTransaction(ctx, tx)
	})
	if err != nil {
		return ledger.Transaction{}, storeFailure(err)
	}
	return tx, nil
}

// storeFailure wraps unexpected storage errors as retryable persistence
// failures, leaving the domain rejections of this package and the ledger
// untouched.
func storeFailure(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotPending),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ledger.ErrTransactionNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrDuplicateReference):
		return err
	}
	var pe *transfer.PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &transfer.PersistenceError{Err: err}
}

// Confirm transitions pending_confirmation to pending_verification: it
// issues a fresh code, stamps the expiry, resets the attempt counter and
// emits a notification intent carrying the code.
func (s *Service) Confirm(ctx context.Context, transactionID string) error {
	code, err := s.newCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}

	now := s.now()
	var tx ledger.Transaction
	err = s.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		t, err := u.TransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status != ledger.StatusPendingConfirmation {
			return ErrNotPending
		}
		t.Status = ledger.StatusPendingVerification
		t.Verification = &ledger.Verification{
			CodeHash:  hash,
			ExpiresAt: now.Add(s.ttl),
			Attempts:  0,
		}
		if err := u.UpdateTransactionState(ctx, t); err != nil {
			return err
		}
		tx = t
		return nil
	})
	if err != nil {
		return storeFailure(err)
	}

	s.notifyCode(ctx, tx, code)
	s.logger.Info("verification code issued", "transaction_id", transactionID)
	return nil
}

// Verify checks the presented code and, on a match, executes the recorded
// transfer. Expiry is evaluated before the code so an expired code never
// succeeds. Mismatches burn attempts; exhausting them fails the
// transaction terminally. An executor failure after a successful check is
// surfaced as *ExecutionError with the record marked failed and balances
// untouched.
func (s *Service) Verify(ctx context.Context, transactionID, code string) (transfer.Result, error) {
	now := s.now()

	var outcome error
	err := s.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		t, err := u.TransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status != ledger.StatusPendingVerification || t.Verification == nil {
			outcome = ErrNotPending
			return nil
		}

		// Expiry first: a correct code after the window is still rejected.
		if now.After(t.Verification.ExpiresAt) {
			t.Status = ledger.StatusExpired
			t.FailureReason = ErrExpired.Error()
			outcome = ErrExpired
			return u.UpdateTransactionState(ctx, t)
		}

		if bcrypt.CompareHashAndPassword(t.Verification.CodeHash, []byte(code)) != nil {
			t.Verification.Attempts++
			if t.Verification.Attempts >= s.maxAttempts {
				t.Status = ledger.StatusFailed
				t.FailureReason = ErrMaxAttempts.Error()
				outcome = ErrMaxAttempts
			} else {
				outcome = ErrCodeMismatch
			}
			return u.UpdateTransactionState(ctx, t)
		}
		return nil
	})
	if err != nil {
		return transfer.Result{}, storeFailure(err)
	}
	if outcome != nil {
		return transfer.Result{}, outcome
	}

	res, err := s.executor.ExecuteRecorded(ctx, transactionID)
	if err != nil {
		var pe *transfer.PersistenceError
		if errors.As(err, &pe) {
			// Retryable; the record stays pending.
			return transfer.Result{}, err
		}
		if markErr := s.markFailed(ctx, transactionID, err); markErr != nil {
			s.logger.Error("mark verified transaction failed", "transaction_id", transactionID, "error", markErr)
		}
		return transfer.Result{}, &ExecutionError{Err: err}
	}
	return res, nil
}

// Cancel aborts a transaction that has not been applied yet. Permitted only
// from pending, pending_confirmation and pending_verification; terminal
// states reject the cancel.
func (s *Service) Cancel(ctx context.Context, transactionID string) error {
	now := s.now()
	return storeFailure(s.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		t, err := u.TransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		switch t.Status {
		case ledger.StatusPending, ledger.StatusPendingConfirmation, ledger.StatusPendingVerification:
		default:
			return fmt.Errorf("%w: status is %s", ErrNotCancellable, t.Status)
		}
		t.Status = ledger.StatusCancelled
		t.CancelledAt = &now
		return u.UpdateTransactionState(ctx, t)
	}))
}

func (s *Service) markFailed(ctx context.Context, transactionID string, cause error) error {
	return s.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		t, err := u.TransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return nil
		}
		t.Status = ledger.StatusFailed
		t.FailureReason = cause.Error()
		return u.UpdateTransactionState(ctx, t)
	})
}

func (s *Service) notifyCode(ctx context.Context, tx ledger.Transaction, code string) {
	if s.notifier == nil {
		return
	}
	ownerID := ""
	if tx.FromAccountID != "" {
		if account, err := s.store.GetAccount(ctx, tx.FromAccountID); err == nil {
			ownerID = account.OwnerID
		}
	}
	if ownerID == "" {
		return
	}
	_ = s.notifier.Send(ctx, notification.Intent{
		UserID: ownerID,
		Kind:   notification.KindVerificationCode,
		Payload: map[string]string{
			"reference":  tx.Reference,
			"code":       code,
			"amount":     strconv.FormatInt(tx.Amount, 10),
			"expires_at": tx.Verification.ExpiresAt.Format(time.RFC3339),
		},
	})
}

package verification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pesafi/pesafi/internal/ledger"
	"github.com/pesafi/pesafi/internal/logging"
	"github.com/pesafi/pesafi/internal/notification"
	"github.com/pesafi/pesafi/internal/transfer"
)

const testCode = "123456"

type recordingNotifier struct {
	sent []notification.Intent
}

type countingConnector struct {
	submissions []transfer.Submission
}

func (c *countingConnector) Submit(_ context.Context, sub transfer.Submission) (transfer.Receipt, error) {
	c.submissions = append(c.submissions, sub)
	return transfer.Receipt{NetworkReference: "net-" + sub.Reference, EstimatedArrival: time.Now().UTC()}, nil
}

// failingStore simulates an infrastructure outage on every unit of work.
type failingStore struct {
	ledger.Store
	err error
}

func (s *failingStore) WithinUnit(context.Context, func(context.Context, ledger.Unit) error) error {
	return s.err
}

func (r *recordingNotifier) Send(_ context.Context, intent notification.Intent) error {
	r.sent = append(r.sent, intent)
	return nil
}

func newTestService(t *testing.T) (*Service, ledger.Store, *recordingNotifier) {
	t.Helper()
	store := ledger.NewMemory()
	logger := logging.Discard()
	limits := transfer.NewLimitChecker(transfer.LimitConfig{})
	executor := transfer.NewExecutor(store, limits, nil, nil, logger)
	recorder := &recordingNotifier{}

	svc := NewService(store, executor, recorder, logger, 10*time.Minute, 3)
	svc.newCode = func() (string, error) { return testCode, nil }

	ledger.SeedAccount(store, ledger.Account{
		ID: "acc-a", OwnerID: "owner-1", Number: "num-a",
		Balance: 1_000, Currency: "USD", Status: ledger.AccountActive,
	})
	ledger.SeedAccount(store, ledger.Account{
		ID: "acc-b", OwnerID: "owner-2", Number: "num-b",
		Balance: 0, Currency: "USD", Status: ledger.AccountActive,
	})
	return svc, store, recorder
}

func beginAndConfirm(t *testing.T, svc *Service) ledger.Transaction {
	t.Helper()
	ctx := context.Background()
	tx, err := svc.Begin(ctx, transfer.Input{
		Type:          ledger.TypeTransfer,
		FromAccountID: "acc-a",
		ToAccountID:   "acc-b",
		Amount:        300,
		Currency:      "USD",
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if tx.Status != ledger.StatusPendingConfirmation {
		t.Fatalf("expected pending_confirmation, got %s", tx.Status)
	}
	if err := svc.Confirm(ctx, tx.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	return tx
}

func TestBegin_RejectsIncompleteIntent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	// A transfer without a destination would later complete as a pure
	// debit, so it must be rejected before anything is recorded.
	if _, err := svc.Begin(ctx, transfer.Input{
		Type:          ledger.TypeTransfer,
		FromAccountID: "acc-a",
		Amount:        300,
	}); err == nil {
		t.Fatalf("transfer without destination accepted")
	}

	if _, err := svc.Begin(ctx, transfer.Input{
		Type:          ledger.TypeExternalTransfer,
		FromAccountID: "acc-a",
		Amount:        300,
	}); err == nil {
		t.Fatalf("external transfer without recipient accepted")
	}

	a, _ := store.GetAccount(ctx, "acc-a")
	if a.Balance != 1_000 {
		t.Fatalf("rejected intent moved money: %d", a.Balance)
	}
}

func TestVerify_ExternalTransferSubmitsToNetwork(t *testing.T) {
	store := ledger.NewMemory()
	logger := logging.Discard()
	connector := &countingConnector{}
	limits := transfer.NewLimitChecker(transfer.LimitConfig{})
	executor := transfer.NewExecutor(store, limits, nil, connector, logger)

	svc := NewService(store, executor, nil, logger, 10*time.Minute, 3)
	svc.newCode = func() (string, error) { return testCode, nil }

	ledger.SeedAccount(store, ledger.Account{
		ID: "acc-a", OwnerID: "owner-1", Number: "num-a",
		Balance: 5_000, Currency: "USD", Status: ledger.AccountActive,
	})

	ctx := context.Background()
	tx, err := svc.Begin(ctx, transfer.Input{
		Type:          ledger.TypeExternalTransfer,
		FromAccountID: "acc-a",
		Amount:        1_000,
		Currency:      "USD",
		Tier:          transfer.TierExpress,
		Recipient: &transfer.ExternalRecipient{
			Name: "Jane Doe", AccountNumber: "1234567", RoutingNumber: "021000021",
		},
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := svc.Confirm(ctx, tx.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Nothing reaches the network before the code checks out.
	if len(connector.submissions) != 0 {
		t.Fatalf("submitted before verification: %d", len(connector.submissions))
	}

	res, err := svc.Verify(ctx, tx.ID, testCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if len(connector.submissions) != 1 {
		t.Fatalf("expected exactly one network submission, got %d", len(connector.submissions))
	}
	sub := connector.submissions[0]
	if sub.Recipient.Name != "Jane Doe" || sub.Amount != 1_000 || sub.Tier != transfer.TierExpress {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	// 1000 moved plus the 500 express fee.
	if res.FromBalance != 3_500 {
		t.Fatalf("expected remaining 3500, got %d", res.FromBalance)
	}
	if res.FeeTransaction == nil {
		t.Fatalf("expected a fee transaction")
	}

	got, _ := store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.Metadata["network_reference"] == "" {
		t.Fatalf("network reference not persisted: %+v", got.Metadata)
	}
}

func TestVerify_CorrectCodeExecutesTransfer(t *testing.T) {
	svc, store, recorder := newTestService(t)
	ctx := context.Background()

	tx := beginAndConfirm(t, svc)

	// No balances move before verification.
	a, _ := store.GetAccount(ctx, "acc-a")
	if a.Balance != 1_000 {
		t.Fatalf("balance moved before verification: %d", a.Balance)
	}

	res, err := svc.Verify(ctx, tx.ID, testCode)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.FromBalance != 700 || res.ToBalance != 300 {
		t.Fatalf("unexpected balances: from=%d to=%d", res.FromBalance, res.ToBalance)
	}

	got, _ := store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if got.VerifiedAt == nil || got.ProcessedAt == nil {
		t.Fatalf("lifecycle timestamps missing: %+v", got)
	}

	var codeIntent *notification.Intent
	for i := range recorder.sent {
		if recorder.sent[i].Kind == notification.KindVerificationCode {
			codeIntent = &recorder.sent[i]
		}
	}
	if codeIntent == nil {
		t.Fatalf("no verification code intent raised")
	}
	if codeIntent.Payload["code"] != testCode || codeIntent.UserID != "owner-1" {
		t.Fatalf("unexpected code intent: %+v", codeIntent)
	}
}

func TestVerify_WrongCodeBurnsAttempts(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tx := beginAndConfirm(t, svc)

	for i := 0; i < 2; i++ {
		if _, err := svc.Verify(ctx, tx.ID, "000000"); !errors.Is(err, ErrCodeMismatch) {
			t.Fatalf("attempt %d: expected mismatch, got %v", i+1, err)
		}
	}

	// Third mismatch exhausts the budget and fails the record terminally.
	if _, err := svc.Verify(ctx, tx.ID, "000000"); !errors.Is(err, ErrMaxAttempts) {
		t.Fatalf("expected attempts exhausted, got %v", err)
	}

	got, _ := store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}

	// The correct code no longer helps.
	if _, err := svc.Verify(ctx, tx.ID, testCode); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}

	a, _ := store.GetAccount(ctx, "acc-a")
	if a.Balance != 1_000 {
		t.Fatalf("failed verification moved money: %d", a.Balance)
	}
}

func TestVerify_AttemptCounterSurvivesRejections(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tx := beginAndConfirm(t, svc)

	if _, err := svc.Verify(ctx, tx.ID, "000000"); !errors.Is(err, ErrCodeMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	got, _ := store.GetTransaction(ctx, tx.ID)
	if got.Verification == nil || got.Verification.Attempts != 1 {
		t.Fatalf("attempt increment not persisted: %+v", got.Verification)
	}
}

func TestVerify_ExpiryBeatsCorrectCode(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tx := beginAndConfirm(t, svc)

	// Move the clock past the verification window.
	svc.now = func() time.Time { return time.Now().UTC().Add(11 * time.Minute) }

	if _, err := svc.Verify(ctx, tx.ID, testCode); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected expired, got %v", err)
	}

	got, _ := store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.StatusExpired {
		t.Fatalf("expected expired status, got %s", got.Status)
	}

	a, _ := store.GetAccount(ctx, "acc-a")
	if a.Balance != 1_000 {
		t.Fatalf("expired verification moved money: %d", a.Balance)
	}
}

func TestVerify_ExecutionFailureMarksRecordFailed(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tx, err := svc.Begin(ctx, transfer.Input{
		Type:          ledger.TypeTransfer,
		FromAccountID: "acc-a",
		ToAccountID:   "acc-b",
		Amount:        5_000, // more than acc-a holds
		Currency:      "USD",
	})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := svc.Confirm(ctx, tx.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	_, err = svc.Verify(ctx, tx.ID, testCode)
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected execution error, got %v", err)
	}
	if !errors.Is(execErr.Err, transfer.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds cause, got %v", execErr.Err)
	}

	got, _ := store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.StatusFailed {
		t.Fatalf("expected failed record, got %s", got.Status)
	}
	if got.FailureReason == "" {
		t.Fatalf("failure reason missing")
	}
}

func TestConfirm_StoreFailureIsRetryable(t *testing.T) {
	base := ledger.NewMemory()
	store := &failingStore{Store: base, err: errors.New("connection reset")}
	logger := logging.Discard()
	limits := transfer.NewLimitChecker(transfer.LimitConfig{})
	executor := transfer.NewExecutor(base, limits, nil, nil, logger)

	svc := NewService(store, executor, nil, logger, 10*time.Minute, 3)
	svc.newCode = func() (string, error) { return testCode, nil }

	err := svc.Confirm(context.Background(), "tx-1")
	var persistErr *transfer.PersistenceError
	if !errors.As(err, &persistErr) {
		t.Fatalf("expected persistence failure, got %v", err)
	}
}

func TestConfirm_RequiresPendingConfirmation(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	ledger.SeedTransaction(store, ledger.Transaction{
		ID: "tx-done", Reference: "ref-done",
		Type: ledger.TypeTransfer, Amount: 10,
		FromAccountID: "acc-a", ToAccountID: "acc-b",
		Status: ledger.StatusCompleted,
	})

	if err := svc.Confirm(ctx, "tx-done"); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
}

func TestCancel_OnlyBeforeExecution(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	tx := beginAndConfirm(t, svc)

	if err := svc.Cancel(ctx, tx.ID); err != nil {
		t.Fatalf("cancel pending_verification: %v", err)
	}
	got, _ := store.GetTransaction(ctx, tx.ID)
	if got.Status != ledger.StatusCancelled || got.CancelledAt == nil {
		t.Fatalf("cancel not recorded: %+v", got)
	}

	// A cancelled record rejects a second cancel and any verification.
	if err := svc.Cancel(ctx, tx.ID); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("expected not cancellable, got %v", err)
	}
	if _, err := svc.Verify(ctx, tx.ID, testCode); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending, got %v", err)
	}
}

func TestGenerateCode_SixDigits(t *testing.T) {
	for i := 0; i < 50; i++ {
		code, err := generateCode()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(code) != 6 {
			t.Fatalf("expected 6 digits, got %q", code)
		}
		for _, r := range code {
			if r < '0' || r > '9' {
				t.Fatalf("non-digit in code %q", code)
			}
		}
	}
}

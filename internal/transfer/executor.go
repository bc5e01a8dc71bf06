package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pesafi/pesafi/internal/ledger"
	"github.com/pesafi/pesafi/internal/notification"
)

// Executor applies money movements. Every execution debits, credits and
// records inside a single unit of work: a partially applied transfer is
// never observable, even under crash.
type Executor struct {
	store    ledger.Store
	limits   *LimitChecker
	notifier notification.Notifier
	network  Connector
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor constructs a transfer executor. A nil network falls back to
// the static connector.
func NewExecutor(store ledger.Store, limits *LimitChecker, notifier notification.Notifier, network Connector, logger *slog.Logger) *Executor {
	if network == nil {
		network = StaticConnector{}
	}
	return &Executor{
		store:    store,
		limits:   limits,
		notifier: notifier,
		network:  network,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Input captures a validated transfer intent.
type Input struct {
	Reference     string
	Type          ledger.TransactionType
	FromAccountID string
	ToAccountID   string
	Amount        int64
	Currency      string
	Description   string
	Category      string
	Tier          Tier
	Recipient     *ExternalRecipient
}

// Result describes the ledger outcome of an execution.
type Result struct {
	Transaction    ledger.Transaction
	FeeTransaction *ledger.Transaction
	FromBalance    int64
	ToBalance      int64
}

func (in Input) needsFrom() bool { return in.Type != ledger.TypeDeposit }

func (in Input) needsTo() bool {
	switch in.Type {
	case ledger.TypeDeposit, ledger.TypeTransfer, ledger.TypePayment:
		return true
	}
	return false
}

func (in Input) external() bool { return externalType(in.Type) }

func externalType(tt ledger.TransactionType) bool {
	return tt == ledger.TypeExternalTransfer || tt == ledger.TypeBillPayment
}

// Validate checks that the intent carries the accounts and recipient
// details its type requires. Every path that records or applies an intent
// must pass it through here first.
func (in Input) Validate() error {
	if in.Amount <= 0 {
		return fmt.Errorf("amount must be positive")
	}
	if in.needsFrom() && in.FromAccountID == "" {
		return fmt.Errorf("%s requires a source account", in.Type)
	}
	if in.needsTo() && in.ToAccountID == "" {
		return fmt.Errorf("%s requires a destination account", in.Type)
	}
	if in.external() && in.Recipient == nil {
		return fmt.Errorf("%s requires recipient details", in.Type)
	}
	return nil
}

// Execute validates, applies and records a transfer intent atomically.
// Rejections (insufficient funds, inactive account, limits) leave no state
// behind; infrastructure failures come back as *PersistenceError after the
// unit was aborted.
func (e *Executor) Execute(ctx context.Context, in Input) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	if in.Reference == "" {
		in.Reference = uuid.NewString()
	}

	metadata := map[string]string{}
	if in.Tier != "" {
		metadata["tier"] = string(in.Tier)
	}

	now := e.now()
	fee := Fee(in.Type, in.Tier)

	var res Result
	var ownerID string
	err := e.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		accounts, err := lockAccounts(ctx, u, in.FromAccountID, in.ToAccountID)
		if err != nil {
			return err
		}
		from, to := accounts[in.FromAccountID], accounts[in.ToAccountID]

		if in.needsFrom() {
			ownerID = from.OwnerID
			if err := e.limits.Check(ctx, u, from, in.Amount, now); err != nil {
				return err
			}
			if from.Balance < in.Amount+fee {
				return ErrInsufficientFunds
			}
		} else {
			ownerID = to.OwnerID
		}

		currency := in.Currency
		if currency == "" {
			if in.needsFrom() {
				currency = from.Currency
			} else {
				currency = to.Currency
			}
		}

		// Hand off to the network only after every local precondition
		// passed, so a locally rejected transfer never leaves an
		// orphaned external submission behind.
		if in.external() {
			receipt, err := e.network.Submit(ctx, Submission{
				Recipient: *in.Recipient,
				Amount:    in.Amount,
				Currency:  currency,
				Tier:      in.Tier,
				Reference: in.Reference,
			})
			if err != nil {
				return &NetworkError{Err: err}
			}
			metadata = recipientMetadata(metadata, *in.Recipient)
			metadata = receiptMetadata(metadata, receipt)
		}
		txMetadata := metadata
		if len(txMetadata) == 0 {
			txMetadata = nil
		}

		tx := ledger.Transaction{
			ID:          uuid.NewString(),
			Reference:   in.Reference,
			Type:        in.Type,
			Amount:      in.Amount,
			Currency:    currency,
			Status:      ledger.StatusCompleted,
			Description: in.Description,
			Category:    in.Category,
			Metadata:    txMetadata,
			CreatedAt:   now,
			ProcessedAt: &now,
		}

		if in.needsFrom() {
			newBalance := from.Balance - in.Amount - fee
			if err := u.SetBalance(ctx, from.ID, newBalance); err != nil {
				return err
			}
			tx.FromAccountID = from.ID
			tx.BalanceAfter = from.Balance - in.Amount
			res.FromBalance = newBalance
		}
		if in.needsTo() {
			newBalance := to.Balance + in.Amount
			if err := u.SetBalance(ctx, to.ID, newBalance); err != nil {
				return err
			}
			tx.ToAccountID = to.ID
			if !in.needsFrom() {
				tx.BalanceAfter = newBalance
			}
			res.ToBalance = newBalance
		}

		if err := u.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		res.Transaction = tx

		if fee > 0 {
			feeTx := ledger.Transaction{
				ID:            uuid.NewString(),
				Reference:     uuid.NewString(),
				Type:          ledger.TypeFee,
				Amount:        fee,
				Currency:      currency,
				FromAccountID: from.ID,
				Status:        ledger.StatusCompleted,
				BalanceAfter:  res.FromBalance,
				Description:   "Transfer fee for " + in.Reference,
				RelatedRef:    in.Reference,
				CreatedAt:     now,
				ProcessedAt:   &now,
			}
			if err := u.CreateTransaction(ctx, feeTx); err != nil {
				return err
			}
			res.FeeTransaction = &feeTx
		}
		return nil
	})
	if err != nil {
		err = classify(err)
		e.notifyFailure(ctx, ownerID, in.Reference, err)
		return Result{}, err
	}

	e.logger.Info("transfer completed",
		"reference", in.Reference, "type", string(in.Type), "amount", in.Amount)
	e.notifyCompleted(ctx, ownerID, res.Transaction)
	return res, nil
}

// ExecuteRecorded finalizes a previously recorded transaction, moving funds
// and transitioning the record to completed in one unit. The record must
// not be terminal. Used by the verification flow after a successful code
// check.
func (e *Executor) ExecuteRecorded(ctx context.Context, transactionID string) (Result, error) {
	now := e.now()

	var res Result
	var ownerID string
	err := e.store.WithinUnit(ctx, func(ctx context.Context, u ledger.Unit) error {
		t, err := u.TransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return ErrTransactionFinal
		}

		// Re-validate the recorded shape before moving any money; a
		// malformed record must never complete as a one-sided posting.
		shape := Input{
			Reference:     t.Reference,
			Type:          t.Type,
			FromAccountID: t.FromAccountID,
			ToAccountID:   t.ToAccountID,
			Amount:        t.Amount,
			Currency:      t.Currency,
			Tier:          Tier(t.Metadata["tier"]),
		}
		if externalType(t.Type) {
			shape.Recipient = &ExternalRecipient{
				Name:          t.Metadata["recipient_name"],
				AccountNumber: t.Metadata["recipient_account"],
				RoutingNumber: t.Metadata["recipient_routing"],
				BankName:      t.Metadata["recipient_bank"],
			}
		}
		if err := shape.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedRecord, err)
		}

		fee := Fee(t.Type, shape.Tier)

		accounts, err := lockAccounts(ctx, u, t.FromAccountID, t.ToAccountID)
		if err != nil {
			return err
		}
		from, to := accounts[t.FromAccountID], accounts[t.ToAccountID]

		if t.FromAccountID != "" {
			ownerID = from.OwnerID
			if err := e.limits.Check(ctx, u, from, t.Amount, now); err != nil {
				return err
			}
			if from.Balance < t.Amount+fee {
				return ErrInsufficientFunds
			}
		}

		if shape.Recipient != nil {
			receipt, err := e.network.Submit(ctx, Submission{
				Recipient: *shape.Recipient,
				Amount:    t.Amount,
				Currency:  t.Currency,
				Tier:      shape.Tier,
				Reference: t.Reference,
			})
			if err != nil {
				return &NetworkError{Err: err}
			}
			t.Metadata = receiptMetadata(t.Metadata, receipt)
		}

		if t.FromAccountID != "" {
			newBalance := from.Balance - t.Amount - fee
			if err := u.SetBalance(ctx, from.ID, newBalance); err != nil {
				return err
			}
			t.BalanceAfter = from.Balance - t.Amount
			res.FromBalance = newBalance
		}
		if t.ToAccountID != "" {
			newBalance := to.Balance + t.Amount
			if err := u.SetBalance(ctx, to.ID, newBalance); err != nil {
				return err
			}
			if t.FromAccountID == "" {
				t.BalanceAfter = newBalance
			}
			res.ToBalance = newBalance
		}

		t.Status = ledger.StatusCompleted
		t.FailureReason = ""
		t.ProcessedAt = &now
		if t.Verification != nil {
			t.VerifiedAt = &now
		}
		if err := u.UpdateTransactionState(ctx, t); err != nil {
			return err
		}
		res.Transaction = t

		if fee > 0 {
			feeTx := ledger.Transaction{
				ID:            uuid.NewString(),
				Reference:     uuid.NewString(),
				Type:          ledger.TypeFee,
				Amount:        fee,
				Currency:      t.Currency,
				FromAccountID: t.FromAccountID,
				Status:        ledger.StatusCompleted,
				BalanceAfter:  res.FromBalance,
				Description:   "Transfer fee for " + t.Reference,
				RelatedRef:    t.Reference,
				CreatedAt:     now,
				ProcessedAt:   &now,
			}
			if err := u.CreateTransaction(ctx, feeTx); err != nil {
				return err
			}
			res.FeeTransaction = &feeTx
		}
		return nil
	})
	if err != nil {
		err = classify(err)
		e.notifyFailure(ctx, ownerID, transactionID, err)
		return Result{}, err
	}

	e.logger.Info("recorded transfer completed",
		"transaction_id", transactionID, "amount", res.Transaction.Amount)
	e.notifyCompleted(ctx, ownerID, res.Transaction)
	return res, nil
}

// lockAccounts row-locks the given accounts in a deterministic order so
// concurrent units touching the same pair cannot deadlock.
func lockAccounts(ctx context.Context, u ledger.Unit, ids ...string) (map[string]ledger.Account, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		unique = append(unique, id)
	}
	sort.Strings(unique)

	accounts := make(map[string]ledger.Account, len(unique))
	for _, id := range unique {
		a, err := u.AccountForUpdate(ctx, id)
		if err != nil {
			return nil, err
		}
		if a.Status != ledger.AccountActive {
			return nil, fmt.Errorf("%w: account %s is %s", ErrAccountInactive, a.Number, a.Status)
		}
		accounts[id] = a
	}
	return accounts, nil
}

func recipientMetadata(m map[string]string, r ExternalRecipient) map[string]string {
	if m == nil {
		m = map[string]string{}
	}
	m["recipient_name"] = r.Name
	m["recipient_account"] = r.AccountNumber
	m["recipient_routing"] = r.RoutingNumber
	m["recipient_bank"] = r.BankName
	return m
}

func receiptMetadata(m map[string]string, receipt Receipt) map[string]string {
	if m == nil {
		m = map[string]string{}
	}
	m["network_reference"] = receipt.NetworkReference
	m["estimated_arrival"] = receipt.EstimatedArrival.Format(time.RFC3339)
	return m
}

func classify(err error) error {
	if rejection(err) ||
		errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ledger.ErrAccountNotFound) ||
		errors.Is(err, ledger.ErrTransactionNotFound) ||
		errors.Is(err, ledger.ErrDuplicateReference) ||
		errors.Is(err, ledger.ErrNegativeBalance) {
		return err
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return err
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Err: err}
}

func (e *Executor) notifyCompleted(ctx context.Context, ownerID string, tx ledger.Transaction) {
	if e.notifier == nil || ownerID == "" {
		return
	}
	_ = e.notifier.Send(ctx, notification.Intent{
		UserID: ownerID,
		Kind:   notification.KindTransferCompleted,
		Payload: map[string]string{
			"reference": tx.Reference,
			"amount":    strconv.FormatInt(tx.Amount, 10),
			"currency":  tx.Currency,
		},
	})
}

func (e *Executor) notifyFailure(ctx context.Context, ownerID, reference string, err error) {
	if e.notifier == nil || ownerID == "" {
		return
	}
	_ = e.notifier.Send(ctx, notification.Intent{
		UserID: ownerID,
		Kind:   notification.KindTransferFailed,
		Payload: map[string]string{
			"reference": reference,
			"reason":    err.Error(),
		},
	})
}

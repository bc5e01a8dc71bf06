package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrTransactionNotFound indicates the referenced transaction record does not exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateReference indicates the external transaction reference already
	// exists and the operation should be treated as idempotent.
	ErrDuplicateReference = errors.New("duplicate transaction reference")

	// ErrNegativeBalance is returned when a balance write would take an account
	// below zero. Balances never go negative through the store.
	ErrNegativeBalance = errors.New("balance would go negative")
)

// AccountType classifies an account product.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountBusiness AccountType = "business"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountFrozen   AccountStatus = "frozen"
)

// Account is the authoritative balance record. Balance is in minor currency
// units and is only mutated inside a Unit.
type Account struct {
	ID           string
	OwnerID      string
	Number       string
	Type         AccountType
	Balance      int64
	Currency     string
	Status       AccountStatus
	DailyLimit   int64
	MonthlyLimit int64
	CreatedAt    time.Time
}

// TransactionType identifies the kind of money movement.
type TransactionType string

const (
	TypeDeposit          TransactionType = "deposit"
	TypeWithdrawal       TransactionType = "withdrawal"
	TypeTransfer         TransactionType = "transfer"
	TypePayment          TransactionType = "payment"
	TypeBillPayment      TransactionType = "bill_payment"
	TypeExternalTransfer TransactionType = "external_transfer"
	TypeFee              TransactionType = "fee"
)

// TransactionStatus is the lifecycle state of a transaction record.
type TransactionStatus string

const (
	StatusPending             TransactionStatus = "pending"
	StatusPendingConfirmation TransactionStatus = "pending_confirmation"
	StatusPendingVerification TransactionStatus = "pending_verification"
	StatusCompleted           TransactionStatus = "completed"
	StatusFailed              TransactionStatus = "failed"
	StatusCancelled           TransactionStatus = "cancelled"
	StatusDisputed            TransactionStatus = "disputed"
	StatusExpired             TransactionStatus = "expired"
)

// Terminal reports whether no further transitions are permitted from s.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Verification carries the step-up confirmation state for a transaction.
// The code itself is never stored, only its hash.
type Verification struct {
	CodeHash  []byte
	ExpiresAt time.Time
	Attempts  int
}

// Transaction is the durable record of a money movement attempt and its
// outcome. Once Status is completed the amount and accounts are immutable.
type Transaction struct {
	ID            string
	Reference     string
	Type          TransactionType
	Amount        int64
	Currency      string
	FromAccountID string
	ToAccountID   string
	Status        TransactionStatus
	// BalanceAfter snapshots the source account balance immediately after
	// this transaction's effect was applied.
	BalanceAfter  int64
	Description   string
	Category      string
	RelatedRef    string
	FailureReason string
	Verification  *Verification
	Metadata      map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	VerifiedAt    *time.Time
	CancelledAt   *time.Time
}

// Unit is an atomic unit of work. Every write issued through a Unit is
// applied on commit or not at all, isolated from concurrent units touching
// the same accounts.
type Unit interface {
	// AccountForUpdate reads an account and locks it against concurrent
	// units until the unit ends.
	AccountForUpdate(ctx context.Context, id string) (Account, error)

	// SetBalance writes an account balance. Negative balances are rejected.
	SetBalance(ctx context.Context, id string, balance int64) error

	// CreateTransaction appends a transaction record.
	CreateTransaction(ctx context.Context, tx Transaction) error

	// TransactionForUpdate reads a transaction record and locks it against
	// concurrent units until the unit ends.
	TransactionForUpdate(ctx context.Context, id string) (Transaction, error)

	// UpdateTransactionState writes the mutable portion of a transaction:
	// status, failure reason, verification state, metadata and lifecycle
	// timestamps. Amount and accounts are never updated.
	UpdateTransactionState(ctx context.Context, tx Transaction) error

	// DebitTotal sums amounts of completed and pending transactions that
	// debit the account, created at or after since.
	DebitTotal(ctx context.Context, accountID string, since time.Time) (int64, error)
}

// Store is the ledger backend: account and transaction reads plus atomic
// units of work.
type Store interface {
	GetAccount(ctx context.Context, id string) (Account, error)
	GetTransaction(ctx context.Context, id string) (Transaction, error)

	// WithinUnit runs fn inside an atomic unit of work. If fn returns an
	// error the unit is aborted and none of its writes are observable.
	WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) error
}

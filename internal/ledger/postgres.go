package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// PostgresStore persists accounts and transaction records in PostgreSQL.
// A unit of work maps to a single database transaction with row locks on
// the accounts it touches.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const accountColumns = `id, owner_id, number, type, balance, currency, status, daily_limit, monthly_limit, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.OwnerID, &a.Number, &a.Type, &a.Balance, &a.Currency,
		&a.Status, &a.DailyLimit, &a.MonthlyLimit, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return a, nil
}

// GetAccount fetches an account without locking it.
func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

const transactionColumns = `id, reference, type, amount, currency, from_account, to_account, status,
        balance_after, description, category, related_ref, failure_reason,
        verification_code_hash, verification_expires_at, verification_attempts,
        metadata, created_at, processed_at, verified_at, cancelled_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var from, to, related, failure *string
	var codeHash []byte
	var expiresAt *time.Time
	var attempts *int
	var metadata []byte
	err := row.Scan(&t.ID, &t.Reference, &t.Type, &t.Amount, &t.Currency, &from, &to, &t.Status,
		&t.BalanceAfter, &t.Description, &t.Category, &related, &failure,
		&codeHash, &expiresAt, &attempts,
		&metadata, &t.CreatedAt, &t.ProcessedAt, &t.VerifiedAt, &t.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	if from != nil {
		t.FromAccountID = *from
	}
	if to != nil {
		t.ToAccountID = *to
	}
	if related != nil {
		t.RelatedRef = *related
	}
	if failure != nil {
		t.FailureReason = *failure
	}
	if len(codeHash) > 0 && expiresAt != nil {
		t.Verification = &Verification{CodeHash: codeHash, ExpiresAt: *expiresAt}
		if attempts != nil {
			t.Verification.Attempts = *attempts
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return Transaction{}, fmt.Errorf("decode transaction metadata: %w", err)
		}
	}
	return t, nil
}

// GetTransaction fetches a transaction record by id.
func (s *PostgresStore) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id)
	return scanTransaction(row)
}

// WithinUnit runs fn inside a database transaction. Any error from fn rolls
// the transaction back so no partial effect is observable.
func (s *PostgresStore) WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin unit: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if err := fn(ctx, &pgUnit{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unit: %w", err)
	}
	return nil
}

type pgUnit struct {
	tx pgx.Tx
}

func (u *pgUnit) AccountForUpdate(ctx context.Context, id string) (Account, error) {
	row := u.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
	return scanAccount(row)
}

func (u *pgUnit) SetBalance(ctx context.Context, id string, balance int64) error {
	if balance < 0 {
		return ErrNegativeBalance
	}
	tag, err := u.tx.Exec(ctx, `UPDATE accounts SET balance = $2 WHERE id = $1`, id, balance)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (u *pgUnit) CreateTransaction(ctx context.Context, t Transaction) error {
	var metadata []byte
	if len(t.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("encode transaction metadata: %w", err)
		}
	}

	var codeHash []byte
	var expiresAt *time.Time
	var attempts *int
	if t.Verification != nil {
		codeHash = t.Verification.CodeHash
		expiresAt = &t.Verification.ExpiresAt
		attempts = &t.Verification.Attempts
	}

	_, err := u.tx.Exec(ctx, `INSERT INTO transactions (`+transactionColumns+`)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10, $11,
                NULLIF($12, ''), NULLIF($13, ''), $14, $15, $16, $17, $18, $19, $20, $21)`,
		t.ID, t.Reference, t.Type, t.Amount, t.Currency, t.FromAccountID, t.ToAccountID,
		t.Status, t.BalanceAfter, t.Description, t.Category, t.RelatedRef, t.FailureReason,
		codeHash, expiresAt, attempts, metadata,
		t.CreatedAt, t.ProcessedAt, t.VerifiedAt, t.CancelledAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

func (u *pgUnit) TransactionForUpdate(ctx context.Context, id string) (Transaction, error) {
	row := u.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id)
	return scanTransaction(row)
}

func (u *pgUnit) UpdateTransactionState(ctx context.Context, t Transaction) error {
	var codeHash []byte
	var expiresAt *time.Time
	var attempts *int
	if t.Verification != nil {
		codeHash = t.Verification.CodeHash
		expiresAt = &t.Verification.ExpiresAt
		attempts = &t.Verification.Attempts
	}

	var metadata []byte
	if len(t.Metadata) > 0 {
		var err error
		metadata, err = json.Marshal(t.Metadata)
		if err != nil {
			return fmt.Errorf("encode transaction metadata: %w", err)
		}
	}

	tag, err := u.tx.Exec(ctx, `UPDATE transactions
        SET status = $2, failure_reason = NULLIF($3, ''), balance_after = $4,
            verification_code_hash = $5, verification_expires_at = $6, verification_attempts = $7,
            metadata = $8, processed_at = $9, verified_at = $10, cancelled_at = $11
        WHERE id = $1`,
		t.ID, t.Status, t.FailureReason, t.BalanceAfter,
		codeHash, expiresAt, attempts,
		metadata, t.ProcessedAt, t.VerifiedAt, t.CancelledAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (u *pgUnit) DebitTotal(ctx context.Context, accountID string, since time.Time) (int64, error) {
	const query = `
        SELECT COALESCE(SUM(amount), 0)
        FROM transactions
        WHERE from_account = $1
          AND created_at >= $2
          AND status IN ('completed', 'pending')`
	var total int64
	if err := u.tx.QueryRow(ctx, query, accountID, since).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

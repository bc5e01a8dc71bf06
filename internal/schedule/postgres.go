package schedule

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores scheduled transactions in PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const scheduleColumns = `id, owner_id, account_id, type, category, amount, currency,
        recipient_kind, recipient_account, recipient_name, recipient_number, recipient_routing, recipient_bank,
        frequency, start_date, end_date, next_execution_date, max_executions, execution_count,
        description, reference, memo,
        last_executed_at, last_success, last_transaction_id, last_error, last_result_at,
        failure_count, max_retries, retry_interval_minutes,
        notify_before, notify_after, notify_failure,
        requires_approval, approved_by, approved_at,
        status, created_at, updated_at`

// Create inserts a schedule row.
func (r *PostgresRepository) Create(ctx context.Context, st ScheduledTransaction) error {
	args := scheduleArgs(st)
	_, err := r.db.Exec(ctx, `INSERT INTO scheduled_transactions (`+scheduleColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), NULLIF($13, ''),
                $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, NULLIF($25, ''), NULLIF($26, ''), $27,
                $28, $29, $30, $31, $32, $33, $34, NULLIF($35, ''), $36, $37, $38, $39)`, args...)
	return err
}

// Get fetches a schedule by identifier.
func (r *PostgresRepository) Get(ctx context.Context, id string) (ScheduledTransaction, error) {
	row := r.db.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM scheduled_transactions WHERE id = $1`, id)
	return scanSchedule(row)
}

// Update rewrites the mutable portion of a schedule row.
func (r *PostgresRepository) Update(ctx context.Context, st ScheduledTransaction) error {
	args := scheduleArgs(st)
	tag, err := r.db.Exec(ctx, `UPDATE scheduled_transactions SET
        amount = $6, currency = $7, category = $5,
        end_date = $16, next_execution_date = $17, max_executions = $18, execution_count = $19,
        description = $20, memo = $22,
        last_executed_at = $23, last_success = $24, last_transaction_id = NULLIF($25, ''), last_error = NULLIF($26, ''), last_result_at = $27,
        failure_count = $28, max_retries = $29, retry_interval_minutes = $30,
        notify_before = $31, notify_after = $32, notify_failure = $33,
        requires_approval = $34, approved_by = NULLIF($35, ''), approved_at = $36,
        status = $37, updated_at = $39
        WHERE id = $1`, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDue returns active schedules due at asOf ordered by due date.
func (r *PostgresRepository) FindDue(ctx context.Context, asOf time.Time, limit int) ([]ScheduledTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+scheduleColumns+` FROM scheduled_transactions
        WHERE status = 'active' AND next_execution_date IS NOT NULL AND next_execution_date <= $1
        ORDER BY next_execution_date
        LIMIT $2`, asOf, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

// ListByOwner returns the owner's schedules ordered by due date.
func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]ScheduledTransaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+scheduleColumns+` FROM scheduled_transactions
        WHERE owner_id = $1
        ORDER BY next_execution_date NULLS LAST`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectSchedules(rows)
}

func collectSchedules(rows pgx.Rows) ([]ScheduledTransaction, error) {
	var out []ScheduledTransaction
	for rows.Next() {
		st, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scheduleArgs(st ScheduledTransaction) []any {
	var lastSuccess *bool
	var lastTxID, lastErr string
	var lastAt *time.Time
	if st.LastResult != nil {
		lastSuccess = &st.LastResult.Success
		lastTxID = st.LastResult.TransactionID
		lastErr = st.LastResult.Error
		at := st.LastResult.ExecutedAt
		lastAt = &at
	}
	return []any{
		st.ID, st.OwnerID, st.AccountID, st.Type, st.Category, st.Amount, st.Currency,
		st.Recipient.Kind, st.Recipient.AccountID, st.Recipient.Name, st.Recipient.AccountNumber,
		st.Recipient.RoutingNumber, st.Recipient.BankName,
		st.Frequency, st.StartDate, st.EndDate, st.NextExecution, st.MaxExecutions, st.ExecutionCount,
		st.Description, st.Reference, st.Memo,
		st.LastExecutedAt, lastSuccess, lastTxID, lastErr, lastAt,
		st.FailureCount, st.MaxRetries, int(st.RetryInterval / time.Minute),
		st.Notify.BeforeExecution, st.Notify.AfterExecution, st.Notify.OnFailure,
		st.RequiresApproval, st.ApprovedBy, st.ApprovedAt,
		st.Status, st.CreatedAt, st.UpdatedAt,
	}
}

func scanSchedule(row pgx.Row) (ScheduledTransaction, error) {
	var st ScheduledTransaction
	var recipientAccount, recipientName, recipientNumber, recipientRouting, recipientBank *string
	var lastSuccess *bool
	var lastTxID, lastErr *string
	var lastAt *time.Time
	var retryMinutes int
	var approvedBy *string

	err := row.Scan(&st.ID, &st.OwnerID, &st.AccountID, &st.Type, &st.Category, &st.Amount, &st.Currency,
		&st.Recipient.Kind, &recipientAccount, &recipientName, &recipientNumber, &recipientRouting, &recipientBank,
		&st.Frequency, &st.StartDate, &st.EndDate, &st.NextExecution, &st.MaxExecutions, &st.ExecutionCount,
		&st.Description, &st.Reference, &st.Memo,
		&st.LastExecutedAt, &lastSuccess, &lastTxID, &lastErr, &lastAt,
		&st.FailureCount, &st.MaxRetries, &retryMinutes,
		&st.Notify.BeforeExecution, &st.Notify.AfterExecution, &st.Notify.OnFailure,
		&st.RequiresApproval, &approvedBy, &st.ApprovedAt,
		&st.Status, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ScheduledTransaction{}, ErrNotFound
	}
	if err != nil {
		return ScheduledTransaction{}, err
	}

	if recipientAccount != nil {
		st.Recipient.AccountID = *recipientAccount
	}
	if recipientName != nil {
		st.Recipient.Name = *recipientName
	}
	if recipientNumber != nil {
		st.Recipient.AccountNumber = *recipientNumber
	}
	if recipientRouting != nil {
		st.Recipient.RoutingNumber = *recipientRouting
	}
	if recipientBank != nil {
		st.Recipient.BankName = *recipientBank
	}
	if approvedBy != nil {
		st.ApprovedBy = *approvedBy
	}
	st.RetryInterval = time.Duration(retryMinutes) * time.Minute
	if lastSuccess != nil && lastAt != nil {
		st.LastResult = &ExecutionResult{Success: *lastSuccess, ExecutedAt: *lastAt}
		if lastTxID != nil {
			st.LastResult.TransactionID = *lastTxID
		}
		if lastErr != nil {
			st.LastResult.Error = *lastErr
		}
	}
	return st, nil
}

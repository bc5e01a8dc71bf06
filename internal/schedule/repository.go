package schedule

import (
	"context"
	"time"
)

// Repository persists scheduled transactions.
type Repository interface {
	Create(ctx context.Context, st ScheduledTransaction) error
	Get(ctx context.Context, id string) (ScheduledTransaction, error)
	Update(ctx context.Context, st ScheduledTransaction) error

	// FindDue returns active schedules whose next execution date has
	// passed, ordered by next execution date, up to limit.
	FindDue(ctx context.Context, asOf time.Time, limit int) ([]ScheduledTransaction, error)

	// ListByOwner returns the owner's schedules ordered by next execution
	// date.
	ListByOwner(ctx context.Context, ownerID string) ([]ScheduledTransaction, error)
}

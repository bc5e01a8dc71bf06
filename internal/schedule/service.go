package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/pesafi/pesafi/internal/ledger"
)

const (
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Hour
)

// Service exposes the administrative lifecycle of scheduled transactions:
// create, allow-listed update, pause, resume, cancel and approval.
type Service struct {
	repo     Repository
	validate *validator.Validate
	now      func() time.Time
}

// NewService builds a schedule service instance.
func NewService(repo Repository) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput captures data required to create a schedule.
type CreateInput struct {
	OwnerID   string                 `validate:"required"`
	AccountID string                 `validate:"required"`
	Type      ledger.TransactionType `validate:"required,oneof=transfer payment bill_payment external_transfer"`
	Category  string                 `validate:"omitempty,max=50"`
	Amount    int64                  `validate:"required,gt=0"`
	Currency  string                 `validate:"required,len=3"`

	RecipientKind          RecipientKind `validate:"required,oneof=internal external bill_payee"`
	RecipientAccountID     string
	RecipientName          string
	RecipientAccountNumber string
	RecipientRoutingNumber string
	RecipientBankName      string

	Frequency     Frequency `validate:"required,oneof=once daily weekly bi_weekly monthly quarterly semi_annually annually"`
	StartDate     time.Time `validate:"required"`
	EndDate       *time.Time
	MaxExecutions int `validate:"omitempty,gte=1"`
	MaxRetries    int `validate:"omitempty,gte=0,lte=10"`
	RetryInterval time.Duration

	Description string `validate:"omitempty,max=500"`
	Reference   string `validate:"omitempty,max=100"`
	Memo        string `validate:"omitempty,max=200"`

	Notify           *NotifySettings
	RequiresApproval bool
}

func (in CreateInput) validateRecipient() error {
	switch in.RecipientKind {
	case RecipientInternal:
		if in.RecipientAccountID == "" {
			return fmt.Errorf("internal recipient requires an account id")
		}
		if in.Type != ledger.TypeTransfer && in.Type != ledger.TypePayment {
			return fmt.Errorf("internal recipient requires transfer or payment type")
		}
	case RecipientExternal:
		if in.RecipientName == "" || in.RecipientAccountNumber == "" || in.RecipientRoutingNumber == "" {
			return fmt.Errorf("external recipient requires name, account number and routing number")
		}
		if in.Type != ledger.TypeExternalTransfer {
			return fmt.Errorf("external recipient requires external_transfer type")
		}
	case RecipientBillPayee:
		if in.RecipientName == "" {
			return fmt.Errorf("bill payee recipient requires a name")
		}
		if in.Type != ledger.TypeBillPayment {
			return fmt.Errorf("bill payee recipient requires bill_payment type")
		}
	}
	return nil
}

// Create validates and stores a new schedule. The first execution date is
// the start date, which must not be in the past.
func (s *Service) Create(ctx context.Context, in CreateInput) (ScheduledTransaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return ScheduledTransaction{}, err
	}
	if err := in.validateRecipient(); err != nil {
		return ScheduledTransaction{}, err
	}

	now := s.now()
	if in.StartDate.Before(now) {
		return ScheduledTransaction{}, fmt.Errorf("start date cannot be in the past")
	}
	if in.EndDate != nil && !in.EndDate.After(in.StartDate) {
		return ScheduledTransaction{}, fmt.Errorf("end date must be after start date")
	}

	maxRetries := in.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}
	retryInterval := in.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	notify := NotifySettings{AfterExecution: true, OnFailure: true}
	if in.Notify != nil {
		notify = *in.Notify
	}

	start := in.StartDate.UTC()
	st := ScheduledTransaction{
		ID:        uuid.NewString(),
		OwnerID:   in.OwnerID,
		AccountID: in.AccountID,
		Type:      in.Type,
		Category:  in.Category,
		Amount:    in.Amount,
		Currency:  in.Currency,
		Recipient: Recipient{
			Kind:          in.RecipientKind,
			AccountID:     in.RecipientAccountID,
			Name:          in.RecipientName,
			AccountNumber: in.RecipientAccountNumber,
			RoutingNumber: in.RecipientRoutingNumber,
			BankName:      in.RecipientBankName,
		},
		Frequency:        in.Frequency,
		StartDate:        start,
		EndDate:          in.EndDate,
		NextExecution:    &start,
		MaxExecutions:    in.MaxExecutions,
		Description:      in.Description,
		Reference:        in.Reference,
		Memo:             in.Memo,
		MaxRetries:       maxRetries,
		RetryInterval:    retryInterval,
		Notify:           notify,
		RequiresApproval: in.RequiresApproval,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.repo.Create(ctx, st); err != nil {
		return ScheduledTransaction{}, err
	}
	return st, nil
}

// UpdateInput is the allow-listed set of mutable schedule fields. Anything
// not named here cannot be changed through Update.
type UpdateInput struct {
	Amount        *int64  `validate:"omitempty,gt=0"`
	Category      *string `validate:"omitempty,max=50"`
	Description   *string `validate:"omitempty,max=500"`
	Memo          *string `validate:"omitempty,max=200"`
	EndDate       *time.Time
	MaxExecutions *int `validate:"omitempty,gte=1"`
	MaxRetries    *int `validate:"omitempty,gte=0,lte=10"`
	RetryInterval *time.Duration
	Notify        *NotifySettings
}

// Update applies the allow-listed changes to a non-terminal schedule.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (ScheduledTransaction, error) {
	if err := s.validate.Struct(in); err != nil {
		return ScheduledTransaction{}, err
	}

	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return ScheduledTransaction{}, err
	}
	if st.Status.Terminal() {
		return ScheduledTransaction{}, fmt.Errorf("%w: status is %s", ErrTerminalState, st.Status)
	}

	if in.Amount != nil {
		st.Amount = *in.Amount
	}
	if in.Category != nil {
		st.Category = *in.Category
	}
	if in.Description != nil {
		st.Description = *in.Description
	}
	if in.Memo != nil {
		st.Memo = *in.Memo
	}
	if in.EndDate != nil {
		if !in.EndDate.After(st.StartDate) {
			return ScheduledTransaction{}, fmt.Errorf("end date must be after start date")
		}
		st.EndDate = in.EndDate
	}
	if in.MaxExecutions != nil {
		st.MaxExecutions = *in.MaxExecutions
	}
	if in.MaxRetries != nil {
		st.MaxRetries = *in.MaxRetries
	}
	if in.RetryInterval != nil && *in.RetryInterval > 0 {
		st.RetryInterval = *in.RetryInterval
	}
	if in.Notify != nil {
		st.Notify = *in.Notify
	}
	st.UpdatedAt = s.now()

	if err := s.repo.Update(ctx, st); err != nil {
		return ScheduledTransaction{}, err
	}
	return st, nil
}

// Pause suspends an active schedule.
func (s *Service) Pause(ctx context.Context, id string) (ScheduledTransaction, error) {
	return s.transition(ctx, id, (*ScheduledTransaction).Pause)
}

// Resume reactivates a paused schedule.
func (s *Service) Resume(ctx context.Context, id string) (ScheduledTransaction, error) {
	return s.transition(ctx, id, (*ScheduledTransaction).Resume)
}

// Cancel terminates a non-terminal schedule.
func (s *Service) Cancel(ctx context.Context, id string) (ScheduledTransaction, error) {
	return s.transition(ctx, id, (*ScheduledTransaction).Cancel)
}

func (s *Service) transition(ctx context.Context, id string, apply func(*ScheduledTransaction) error) (ScheduledTransaction, error) {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return ScheduledTransaction{}, err
	}
	if err := apply(&st); err != nil {
		return ScheduledTransaction{}, err
	}
	st.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, st); err != nil {
		return ScheduledTransaction{}, err
	}
	return st, nil
}

// Approve satisfies the approval gate on a schedule that requires it.
func (s *Service) Approve(ctx context.Context, id, approverID string) (ScheduledTransaction, error) {
	st, err := s.repo.Get(ctx, id)
	if err != nil {
		return ScheduledTransaction{}, err
	}
	if !st.RequiresApproval {
		return ScheduledTransaction{}, fmt.Errorf("schedule does not require approval")
	}
	if st.Status.Terminal() {
		return ScheduledTransaction{}, fmt.Errorf("%w: status is %s", ErrTerminalState, st.Status)
	}
	now := s.now()
	st.ApprovedBy = approverID
	st.ApprovedAt = &now
	st.UpdatedAt = now
	if err := s.repo.Update(ctx, st); err != nil {
		return ScheduledTransaction{}, err
	}
	return st, nil
}

// Get retrieves a schedule by id.
func (s *Service) Get(ctx context.Context, id string) (ScheduledTransaction, error) {
	return s.repo.Get(ctx, id)
}

// ListByOwner retrieves the owner's schedules.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]ScheduledTransaction, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

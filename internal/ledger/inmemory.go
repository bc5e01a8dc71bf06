package ledger

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu           sync.Mutex
	accounts     map[string]Account
	transactions map[string]Transaction
	byReference  map[string]string
}

// NewMemory creates a concurrency-safe in-memory store useful for unit tests.
// Units of work are serialized by a single lock; writes are staged and only
// applied when the unit callback succeeds.
func NewMemory() Store {
	return &memoryStore{
		accounts:     make(map[string]Account),
		transactions: make(map[string]Transaction),
		byReference:  make(map[string]string),
	}
}

func cloneTransaction(t Transaction) Transaction {
	if t.Verification != nil {
		v := *t.Verification
		v.CodeHash = append([]byte(nil), t.Verification.CodeHash...)
		t.Verification = &v
	}
	if t.Metadata != nil {
		m := make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			m[k] = v
		}
		t.Metadata = m
	}
	return t
}

func (s *memoryStore) GetAccount(_ context.Context, id string) (Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return a, nil
}

func (s *memoryStore) GetTransaction(_ context.Context, id string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return cloneTransaction(t), nil
}

func (s *memoryStore) WithinUnit(ctx context.Context, fn func(ctx context.Context, u Unit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := &memUnit{
		store:    s,
		balances: make(map[string]int64),
		created:  make(map[string]Transaction),
		updated:  make(map[string]Transaction),
	}

	if err := fn(ctx, u); err != nil {
		return err
	}

	// Commit staged writes.
	for id, balance := range u.balances {
		a := s.accounts[id]
		a.Balance = balance
		s.accounts[id] = a
	}
	for id, t := range u.created {
		s.transactions[id] = t
		s.byReference[t.Reference] = id
	}
	for id, t := range u.updated {
		s.transactions[id] = t
	}
	return nil
}

type memUnit struct {
	store    *memoryStore
	balances map[string]int64
	created  map[string]Transaction
	updated  map[string]Transaction
}

func (u *memUnit) AccountForUpdate(_ context.Context, id string) (Account, error) {
	a, ok := u.store.accounts[id]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	if balance, staged := u.balances[id]; staged {
		a.Balance = balance
	}
	return a, nil
}

func (u *memUnit) SetBalance(_ context.Context, id string, balance int64) error {
	if balance < 0 {
		return ErrNegativeBalance
	}
	if _, ok := u.store.accounts[id]; !ok {
		return ErrAccountNotFound
	}
	u.balances[id] = balance
	return nil
}

func (u *memUnit) CreateTransaction(_ context.Context, t Transaction) error {
	if _, exists := u.store.byReference[t.Reference]; exists {
		return ErrDuplicateReference
	}
	for _, staged := range u.created {
		if staged.Reference == t.Reference {
			return ErrDuplicateReference
		}
	}
	u.created[t.ID] = cloneTransaction(t)
	return nil
}

func (u *memUnit) TransactionForUpdate(_ context.Context, id string) (Transaction, error) {
	if t, ok := u.updated[id]; ok {
		return cloneTransaction(t), nil
	}
	if t, ok := u.created[id]; ok {
		return cloneTransaction(t), nil
	}
	if t, ok := u.store.transactions[id]; ok {
		return cloneTransaction(t), nil
	}
	return Transaction{}, ErrTransactionNotFound
}

func (u *memUnit) UpdateTransactionState(_ context.Context, t Transaction) error {
	base, ok := u.store.transactions[t.ID]
	if !ok {
		if base, ok = u.created[t.ID]; !ok {
			return ErrTransactionNotFound
		}
	}
	if prev, staged := u.updated[t.ID]; staged {
		base = prev
	}

	base.Status = t.Status
	base.FailureReason = t.FailureReason
	base.BalanceAfter = t.BalanceAfter
	base.Verification = t.Verification
	base.Metadata = t.Metadata
	base.ProcessedAt = t.ProcessedAt
	base.VerifiedAt = t.VerifiedAt
	base.CancelledAt = t.CancelledAt

	u.updated[t.ID] = cloneTransaction(base)
	return nil
}

func (u *memUnit) DebitTotal(_ context.Context, accountID string, since time.Time) (int64, error) {
	countable := func(t Transaction) bool {
		if t.FromAccountID != accountID || t.CreatedAt.Before(since) {
			return false
		}
		return t.Status == StatusCompleted || t.Status == StatusPending
	}

	var total int64
	for id, t := range u.store.transactions {
		if staged, ok := u.updated[id]; ok {
			t = staged
		}
		if countable(t) {
			total += t.Amount
		}
	}
	for _, t := range u.created {
		if countable(t) {
			total += t.Amount
		}
	}
	return total, nil
}

package schedule

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]ScheduledTransaction
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]ScheduledTransaction)}
}

func cloneSchedule(st ScheduledTransaction) ScheduledTransaction {
	if st.EndDate != nil {
		v := *st.EndDate
		st.EndDate = &v
	}
	if st.NextExecution != nil {
		v := *st.NextExecution
		st.NextExecution = &v
	}
	if st.LastExecutedAt != nil {
		v := *st.LastExecutedAt
		st.LastExecutedAt = &v
	}
	if st.LastResult != nil {
		v := *st.LastResult
		st.LastResult = &v
	}
	if st.ApprovedAt != nil {
		v := *st.ApprovedAt
		st.ApprovedAt = &v
	}
	return st
}

func (r *memoryRepository) Create(_ context.Context, st ScheduledTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storage[st.ID] = cloneSchedule(st)
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (ScheduledTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.storage[id]
	if !ok {
		return ScheduledTransaction{}, ErrNotFound
	}
	return cloneSchedule(st), nil
}

func (r *memoryRepository) Update(_ context.Context, st ScheduledTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.storage[st.ID]; !ok {
		return ErrNotFound
	}
	r.storage[st.ID] = cloneSchedule(st)
	return nil
}

func (r *memoryRepository) FindDue(_ context.Context, asOf time.Time, limit int) ([]ScheduledTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var due []ScheduledTransaction
	for _, st := range r.storage {
		if st.Due(asOf) {
			due = append(due, cloneSchedule(st))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextExecution.Before(*due[j].NextExecution)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *memoryRepository) ListByOwner(_ context.Context, ownerID string) ([]ScheduledTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []ScheduledTransaction
	for _, st := range r.storage {
		if st.OwnerID == ownerID {
			out = append(out, cloneSchedule(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].NextExecution, out[j].NextExecution
		switch {
		case ni == nil:
			return false
		case nj == nil:
			return true
		default:
			return ni.Before(*nj)
		}
	})
	return out, nil
}

package ledger

// SeedAccount is a test helper that inserts an account directly when using
// the in-memory store.
func SeedAccount(s Store, a Account) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.accounts[a.ID] = a
	}
}

// SeedTransaction is a test helper that inserts a transaction record
// directly when using the in-memory store.
func SeedTransaction(s Store, t Transaction) {
	if mem, ok := s.(*memoryStore); ok {
		mem.mu.Lock()
		defer mem.mu.Unlock()
		mem.transactions[t.ID] = cloneTransaction(t)
		mem.byReference[t.Reference] = t.ID
	}
}

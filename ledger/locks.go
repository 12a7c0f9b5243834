package ledger

import "sync"

// =============================================================================
// ACCOUNT LOCKS - Per-account append serialization
// =============================================================================

// accountLocks hands out one mutex per account. Append's read-last-balance
// then write is a read-modify-write sequence; without serialization two
// concurrent appends can read the same prior balance and fork the chain.
type accountLocks struct {
	mu    sync.Mutex
	locks map[AccountID]*sync.Mutex
}

func newAccountLocks() *accountLocks {
	return &accountLocks{locks: make(map[AccountID]*sync.Mutex)}
}

// acquire locks the account and returns the unlock function.
func (a *accountLocks) acquire(id AccountID) func() {
	a.mu.Lock()
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	a.mu.Unlock()

	l.Lock()
	return l.Unlock
}

package accounts

import "sync"

// Locks serializes mutating work per account. The order pipeline and
// the margin sweep both take the account's lock before touching its
// positions, lots or ledger, so an account's books never see two
// writers at once.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates a new per-account lock manager
func NewLocks() *Locks {
	return &Locks{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the exclusive lock for an account, creating it on first
// use. The returned function releases the lock.
func (l *Locks) Lock(accountID string) func() {
	l.mu.Lock()
	lock, exists := l.locks[accountID]
	if !exists {
		lock = &sync.Mutex{}
		l.locks[accountID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

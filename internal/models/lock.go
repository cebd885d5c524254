package models

import "sync"

// sharedLock guards a contract together with the devices, readings and
// invoices it owns. Exported methods acquire it; unexported helpers expect
// the caller to hold it. The zero value guards nothing.
type sharedLock struct {
	mu *sync.RWMutex
}

func newSharedLock() sharedLock {
	return sharedLock{mu: new(sync.RWMutex)}
}

// rlock takes the read lock and returns its release.
func (l sharedLock) rlock() func() {
	if l.mu == nil {
		return func() {}
	}
	l.mu.RLock()
	return l.mu.RUnlock
}

// lock takes the write lock and returns its release.
func (l sharedLock) lock() func() {
	if l.mu == nil {
		return func() {}
	}
	l.mu.Lock()
	return l.mu.Unlock
}

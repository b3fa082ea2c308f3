package ksync

import "sync/atomic"

// SleepLock is a blocking, exclusive lock held across long operations
// such as device I/O. Acquire suspends only the calling goroutine;
// short-held metadata locks (plain sync.Mutex) must never be held
// while acquiring one.
type SleepLock struct {
	sem  chan struct{}
	held atomic.Bool
}

func NewSleepLock() *SleepLock {
	return &SleepLock{sem: make(chan struct{}, 1)}
}

// Acquire blocks until the lock is available.
func (l *SleepLock) Acquire() {
	l.sem <- struct{}{}
	l.held.Store(true)
}

// Release unlocks the lock. Releasing a lock that is not held is an
// invariant violation and panics.
func (l *SleepLock) Release() {
	if !l.held.Load() {
		panic("ksync: release of unheld sleep lock")
	}
	l.held.Store(false)
	<-l.sem
}

// Held reports whether the lock is currently held. Callers use it to
// assert they still own the lock before mutating protected state.
func (l *SleepLock) Held() bool {
	return l.held.Load()
}

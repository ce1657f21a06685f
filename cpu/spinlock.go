// Copyright 2025, Jason S. McMullan <jason.mcmullan@gmail.com>

package cpu

import (
	"sync/atomic"
)

// SpinLock is a raw test-and-set lock usable from NMI and trap context.
// It never sleeps; contenders busy-wait.
type SpinLock struct {
	held atomic.Bool
}

// Lock acquires the lock, spinning until it is free.
func (sl *SpinLock) Lock() {
	for !sl.held.CompareAndSwap(false, true) {
		for sl.held.Load() {
		}
	}
}

// TryLock acquires the lock if it is free.
func (sl *SpinLock) TryLock() bool {
	return sl.held.CompareAndSwap(false, true)
}

// Unlock releases the lock.
func (sl *SpinLock) Unlock() {
	if !sl.held.Swap(false) {
		panic("cpu: unlock of unlocked spinlock")
	}
}

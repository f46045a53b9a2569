// internal/services/lock_manager.go
package services

import (
	"sync"
)

// LockManager hands out one mutex per key and forgets it once nobody holds
// or waits on it.
type LockManager struct {
	globalLock sync.Mutex
	locks      map[string]*LockInfo
}

// LockInfo is a keyed mutex with the number of holders and waiters.
type LockInfo struct {
	Mutex          sync.Mutex
	ReferenceCount int
}

// NewLockManager creates an empty lock manager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*LockInfo)}
}

func (lm *LockManager) acquire(key string) *LockInfo {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info, exists := lm.locks[key]
	if !exists {
		info = &LockInfo{}
		lm.locks[key] = info
	}
	info.ReferenceCount++
	return info
}

func (lm *LockManager) release(key string, info *LockInfo) {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()

	info.ReferenceCount--
	if info.ReferenceCount == 0 {
		delete(lm.locks, key)
	}
}

// Lock blocks until key is free and returns its unlock func.
func (lm *LockManager) Lock(key string) func() {
	info := lm.acquire(key)
	info.Mutex.Lock()
	return func() {
		info.Mutex.Unlock()
		lm.release(key, info)
	}
}

// TryLock reports false without blocking when key is already held.
func (lm *LockManager) TryLock(key string) (func(), bool) {
	info := lm.acquire(key)
	if !info.Mutex.TryLock() {
		lm.release(key, info)
		return nil, false
	}
	return func() {
		info.Mutex.Unlock()
		lm.release(key, info)
	}, true
}

// Len is the number of keys currently held or awaited.
func (lm *LockManager) Len() int {
	lm.globalLock.Lock()
	defer lm.globalLock.Unlock()
	return len(lm.locks)
}

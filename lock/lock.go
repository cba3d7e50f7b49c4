package lock

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var (
	ErrLocked = errors.New("lock: record is locked")
)

// Manager holds shared and exclusive locks on records, keyed by rid. Waiters for a record
// are granted the lock in the order they asked for it.
type Manager struct {
	mutex  sync.Mutex
	locks  map[int64]*lock
	nextID uint64
}

// Locker is the set of locks held by one transaction. A Locker must only be used by one
// goroutine at a time.
type Locker struct {
	ID uint64

	mgr *Manager

	// Locks held by this Locker.
	locks map[int64]*lock

	// A Locker can wait on only one lock at a time; nextWaiter is used to link the queue of
	// waiters together.
	nextWaiter *Locker
	// Notify a Locker that it has been granted the lock it is waiting for.
	waitCh chan struct{}
	// Waiting for an exclusive lock.
	waitExclusive bool
}

type lock struct {
	// count = 0: lock is available.
	// count = -1: exclusive lock held
	// count > 0: number of shared lockers
	count int

	// Waiters for a lock are maintained in a queue; firstWaiter is the next Locker to be
	// granted the lock; lastWaiter is where Lockers are added to the queue.
	firstWaiter *Locker
	lastWaiter  *Locker
}

func NewManager() *Manager {
	return &Manager{
		locks: map[int64]*lock{},
	}
}

// Begin starts a transaction.
func (mgr *Manager) Begin() *Locker {
	return &Locker{
		ID:     atomic.AddUint64(&mgr.nextID, 1),
		mgr:    mgr,
		locks:  map[int64]*lock{},
		waitCh: make(chan struct{}, 1),
	}
}

// Len returns the number of records with a lock held or waited for.
func (mgr *Manager) Len() int {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	return len(mgr.locks)
}

// acquire must be called with mgr.mutex held; it returns with mgr.mutex held.
func (mgr *Manager) acquire(lkr *Locker, rid int64, exclusive, wait bool) error {
	if lkr.mgr != mgr {
		panic("lock: locker belongs to a different manager")
	}

	if lk, ok := lkr.locks[rid]; ok {
		// Already locked by this Locker at sufficient level.
		if !exclusive || lk.count < 0 {
			return nil
		}

		// This Locker holds the only shared lock; convert it into an exclusive lock.
		if lk.count == 1 && lk.firstWaiter == nil {
			lk.count = -1
			return nil
		}

		// Other shared locks, can't increase it to an exclusive lock.
		return fmt.Errorf("%w: rid %d: shared by other transactions", ErrLocked, rid)
	}

	lk, ok := mgr.locks[rid]
	if !ok {
		lk = &lock{}
		mgr.locks[rid] = lk
	}

	if lk.firstWaiter == nil {
		if exclusive {
			if lk.count == 0 {
				lk.count = -1
				lkr.locks[rid] = lk
				return nil
			}
		} else if lk.count >= 0 {
			lk.count += 1
			lkr.locks[rid] = lk
			return nil
		}
	}

	if !wait {
		mgr.release(rid, lk)
		return fmt.Errorf("%w: rid %d", ErrLocked, rid)
	}

	lkr.nextWaiter = nil
	if lk.lastWaiter != nil {
		lk.lastWaiter.nextWaiter = lkr
	} else {
		lk.firstWaiter = lkr
	}
	lk.lastWaiter = lkr
	lkr.waitExclusive = exclusive

	mgr.mutex.Unlock()
	<-lkr.waitCh
	mgr.mutex.Lock()

	if exclusive && lk.count != 0 {
		panic("lock: wait exclusive lock: count != 0")
	}
	if !exclusive && lk.count < 0 {
		panic("lock: wait shared lock: count < 0")
	}

	lk.firstWaiter = lkr.nextWaiter
	if lk.firstWaiter == nil {
		lk.lastWaiter = nil
	} else if !exclusive && !lk.firstWaiter.waitExclusive {
		lk.firstWaiter.waitCh <- struct{}{}
	}

	if exclusive {
		lk.count = -1
	} else {
		lk.count += 1
	}
	lkr.locks[rid] = lk
	return nil
}

// release must be called with mgr.mutex held; the lock is forgotten once nobody holds or
// waits for it.
func (mgr *Manager) release(rid int64, lk *lock) {
	if lk.count == 0 && lk.firstWaiter == nil {
		delete(mgr.locks, rid)
	}
}

func (mgr *Manager) lock(lkr *Locker, rid int64, exclusive, wait bool) error {
	mgr.mutex.Lock()
	defer mgr.mutex.Unlock()

	return mgr.acquire(lkr, rid, exclusive, wait)
}

// AcquireShared blocks until lkr holds at least a shared lock on rid.
func (mgr *Manager) AcquireShared(lkr *Locker, rid int64) error {
	return mgr.lock(lkr, rid, false, true)
}

// AcquireExclusive blocks until lkr holds an exclusive lock on rid. If lkr already holds
// a shared lock on rid, the lock is upgraded when lkr is the only holder; otherwise
// ErrLocked is returned.
func (mgr *Manager) AcquireExclusive(lkr *Locker, rid int64) error {
	return mgr.lock(lkr, rid, true, true)
}

func (mgr *Manager) TryShared(lkr *Locker, rid int64) error {
	return mgr.lock(lkr, rid, false, false)
}

func (mgr *Manager) TryExclusive(lkr *Locker, rid int64) error {
	return mgr.lock(lkr, rid, true, false)
}

func (lk *lock) unlock() {
	if lk.count > 0 {
		lk.count -= 1
	} else if lk.count == -1 {
		lk.count = 0
	} else {
		panic("lock: unlock: count not >= 0 and not == -1")
	}

	if lk.firstWaiter != nil && lk.count == 0 {
		lk.firstWaiter.waitCh <- struct{}{}
	}
}

// Holds returns true if lkr holds a lock on rid; exclusive reports whether it is an
// exclusive lock.
func (lkr *Locker) Holds(rid int64) (held bool, exclusive bool) {
	lkr.mgr.mutex.Lock()
	defer lkr.mgr.mutex.Unlock()

	lk, ok := lkr.locks[rid]
	if !ok {
		return false, false
	}
	return true, lk.count < 0
}

// Release releases every lock held by lkr.
func (lkr *Locker) Release() {
	lkr.mgr.mutex.Lock()
	defer lkr.mgr.mutex.Unlock()

	for rid, lk := range lkr.locks {
		lk.unlock()
		lkr.mgr.release(rid, lk)
	}
	lkr.locks = map[int64]*lock{}
}

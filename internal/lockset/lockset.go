package lockset

import "sync"

// LockSet hands out process-wide locks that serialize mutations of per-server
// capacity counters, plus a single global lock that serializes device cleanup
// passes. Server locks are created lazily on first use and cached for the
// lifetime of the process. Note that this only protects against races within
// this process; the system is designed to run as a single scheduler instance.
type LockSet struct {
	mu      sync.Mutex
	servers map[uint]*sync.Mutex
	cleanup sync.Mutex
}

func New() *LockSet {
	return &LockSet{servers: make(map[uint]*sync.Mutex)}
}

func (l *LockSet) serverLock(serverID uint) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.servers[serverID]
	if !ok {
		lock = &sync.Mutex{}
		l.servers[serverID] = lock
	}
	return lock
}

// LockServer acquires the lock guarding the given server's capacity counter
// and returns the function that releases it. Callers must defer the returned
// function so the lock is released on every exit path.
func (l *LockSet) LockServer(serverID uint) (unlock func()) {
	lock := l.serverLock(serverID)
	lock.Lock()
	return lock.Unlock
}

// LockCleanup acquires the global device-cleanup lock. Only one cleanup pass
// may run at a time across all servers, otherwise two sweeps could race on
// the same remote devices and double-delete.
func (l *LockSet) LockCleanup() (unlock func()) {
	l.cleanup.Lock()
	return l.cleanup.Unlock
}

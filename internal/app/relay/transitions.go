package relay

import "sync"

// addressLocks serializes the registry change and presence broadcast of each address, so
// an online transition can never be overtaken by the offline of the connection it replaced.
type addressLocks struct {
	mu    sync.Mutex
	locks map[string]*addressLock
}

type addressLock struct {
	sync.Mutex
	refs int
}

func newAddressLocks() *addressLocks {
	return &addressLocks{locks: make(map[string]*addressLock)}
}

// lock acquires the lock of address and returns its release func.
func (l *addressLocks) lock(address string) func() {
	l.mu.Lock()
	al, ok := l.locks[address]
	if !ok {
		al = &addressLock{}
		l.locks[address] = al
	}
	al.refs++
	l.mu.Unlock()

	al.Lock()

	return func() {
		al.Unlock()

		l.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(l.locks, address)
		}
		l.mu.Unlock()
	}
}

package attendance

import "sync"

// keyLock is one per-(subject, date) exclusive lock, refcounted so the
// registry map does not grow with every subject-day ever seen.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

type lockRegistry struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[string]*keyLock)}
}

// acquire blocks until the lock for key is held and returns it.
func (r *lockRegistry) acquire(key string) *keyLock {
	r.mu.Lock()
	kl, ok := r.locks[key]
	if !ok {
		kl = &keyLock{}
		r.locks[key] = kl
	}
	kl.refs++
	r.mu.Unlock()

	kl.mu.Lock()
	return kl
}

// release must be called on every exit path that acquired the key.
func (r *lockRegistry) release(key string, kl *keyLock) {
	kl.mu.Unlock()

	r.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(r.locks, key)
	}
	r.mu.Unlock()
}

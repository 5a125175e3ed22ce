package scheduler

import "sync"

// keyedMutex serializes work per hackathon. Concurrent triggers for the same
// hackathon queue up; different hackathons proceed in parallel. Entries are
// never evicted: the key space is small and bounded by active hackathons.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyedMutex) get(key int64) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if m, ok := k.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	k.locks[key] = m
	return m
}

// Lock acquires the mutex for a key and returns its unlock function
func (k *keyedMutex) Lock(key int64) func() {
	m := k.get(key)
	m.Lock()
	return m.Unlock
}

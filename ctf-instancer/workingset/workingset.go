package workingset

import (
	"sync"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

// WorkingSet records the keys that currently have a start in progress or an
// active instance. Holding a key is the right to provision it.
type WorkingSet struct {
	mu   sync.Mutex
	keys map[domain.InstanceKey]struct{}
}

func New() *WorkingSet {
	return &WorkingSet{
		keys: make(map[domain.InstanceKey]struct{}),
	}
}

// ContainsOrInsert reports whether key was already present. When it returns
// false the key has been inserted and the caller owns it.
func (w *WorkingSet) ContainsOrInsert(key domain.InstanceKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, exists := w.keys[key]; exists {
		return true
	}
	w.keys[key] = struct{}{}
	return false
}

func (w *WorkingSet) Contains(key domain.InstanceKey) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, exists := w.keys[key]
	return exists
}

func (w *WorkingSet) Remove(key domain.InstanceKey) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.keys, key)
}

func (w *WorkingSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.keys)
}

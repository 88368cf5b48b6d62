package executor

import (
	"sync"
	"time"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

// instanceTable holds the state of every non-stopped instance. Its lock is
// only held for map operations, never across a backend call.
type instanceTable struct {
	mu        sync.RWMutex
	instances map[domain.InstanceKey]*domain.Instance
}

func newInstanceTable() *instanceTable {
	return &instanceTable{
		instances: make(map[domain.InstanceKey]*domain.Instance),
	}
}

func copyInstance(inst *domain.Instance) domain.Instance {
	c := *inst
	if inst.Handle != nil {
		h := *inst.Handle
		c.Handle = &h
	}
	return c
}

func (t *instanceTable) get(key domain.InstanceKey) (domain.Instance, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	inst, ok := t.instances[key]
	if !ok {
		return domain.Instance{}, false
	}
	return copyInstance(inst), true
}

// begin records a starting instance. If the key already has an entry its
// state is returned and nothing is inserted.
func (t *instanceTable) begin(key domain.InstanceKey, name string) (domain.State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inst, exists := t.instances[key]; exists {
		return inst.State, false
	}
	t.instances[key] = &domain.Instance{
		Key:    key,
		State:  domain.StateStarting,
		Handle: &domain.Handle{Name: name},
	}
	return domain.StateStarting, true
}

func (t *instanceTable) commitStarted(key domain.InstanceKey, handle *domain.Handle, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[key]
	if !ok {
		return
	}
	h := *handle
	inst.Handle = &h
	inst.State = domain.StateStarted
	inst.StartedAt = now
}

// claimStop moves a started instance to stopping and returns a copy of it.
// Any other state is returned unchanged with ok set to false.
func (t *instanceTable) claimStop(key domain.InstanceKey) (domain.Instance, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, exists := t.instances[key]
	if !exists {
		return domain.Instance{Key: key, State: domain.StateStopped}, false
	}
	if inst.State != domain.StateStarted {
		return copyInstance(inst), false
	}
	inst.State = domain.StateStopping
	return copyInstance(inst), true
}

func (t *instanceTable) revertStop(key domain.InstanceKey) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if inst, ok := t.instances[key]; ok && inst.State == domain.StateStopping {
		inst.State = domain.StateStarted
	}
}

// removeIf deletes the entry when match accepts it and runs release while
// the lock is still held, so readers never see the entry gone but the
// release pending.
func (t *instanceTable) removeIf(key domain.InstanceKey, match func(*domain.Instance) bool, release func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	inst, ok := t.instances[key]
	if !ok || (match != nil && !match(inst)) {
		return false
	}
	delete(t.instances, key)
	if release != nil {
		release()
	}
	return true
}

// readWith reports the state for key, calling absent when there is no entry.
func (t *instanceTable) readWith(key domain.InstanceKey, absent func() domain.State) domain.State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if inst, ok := t.instances[key]; ok {
		return inst.State
	}
	return absent()
}

func (t *instanceTable) snapshot() []domain.Instance {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]domain.Instance, 0, len(t.instances))
	for _, inst := range t.instances {
		out = append(out, copyInstance(inst))
	}
	return out
}

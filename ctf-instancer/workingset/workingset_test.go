package workingset

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

func TestWorkingSet_ContainsOrInsert(t *testing.T) {
	w := New()
	key := domain.InstanceKey{UserID: "1234", Challenge: "buffer_overflow"}

	if w.ContainsOrInsert(key) {
		t.Fatal("Expected first ContainsOrInsert to return false")
	}
	if !w.ContainsOrInsert(key) {
		t.Fatal("Expected second ContainsOrInsert to return true")
	}
	if !w.Contains(key) {
		t.Error("Expected key to be present")
	}

	other := domain.InstanceKey{UserID: "2000", Challenge: "buffer_overflow"}
	if w.ContainsOrInsert(other) {
		t.Error("Expected a different user to be independent")
	}
}

func TestWorkingSet_Remove(t *testing.T) {
	w := New()
	key := domain.InstanceKey{UserID: "1234", Challenge: "buffer_overflow"}

	w.Remove(key)

	w.ContainsOrInsert(key)
	w.Remove(key)
	w.Remove(key)

	if w.Contains(key) {
		t.Error("Expected key to be removed")
	}
	if w.ContainsOrInsert(key) {
		t.Error("Expected key to be insertable again after Remove")
	}
}

func TestWorkingSet_ConcurrentOwnership(t *testing.T) {
	for round := 0; round < 100; round++ {
		w := New()
		key := domain.InstanceKey{UserID: "1234", Challenge: "buffer_overflow"}

		var owners atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if !w.ContainsOrInsert(key) {
					owners.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if got := owners.Load(); got != 1 {
			t.Fatalf("round %d: expected exactly one owner, got %d", round, got)
		}
	}
}

package executor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

type mockBackend struct {
	mu         sync.Mutex
	creates    int
	destroys   int
	inspects   int
	createErr  error
	destroyErr error
	// createGate, when set, blocks Create until it is closed or ctx ends.
	createGate chan struct{}
	// destroyGate does the same for Destroy.
	destroyGate chan struct{}
	running    map[string]bool
	prepared   bool
	tornDown   bool
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		running: make(map[string]bool),
	}
}

func (m *mockBackend) Prepare(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared = true
	return nil
}

func (m *mockBackend) Teardown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tornDown = true
	return nil
}

func (m *mockBackend) Create(ctx context.Context, name string, key domain.InstanceKey, spec domain.EnvironmentSpec) (*domain.Handle, error) {
	m.mu.Lock()
	gate := m.createGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.creates++
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.running[name] = true
	return &domain.Handle{
		Name: name,
		ID:   "id-" + name,
		Host: "localhost",
		Port: 20000 + m.creates,
	}, nil
}

func (m *mockBackend) Destroy(ctx context.Context, handle *domain.Handle) error {
	m.mu.Lock()
	gate := m.destroyGate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.destroys++
	if m.destroyErr != nil {
		return m.destroyErr
	}
	delete(m.running, handle.Name)
	return nil
}

func (m *mockBackend) Inspect(ctx context.Context, handle *domain.Handle) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inspects++
	return m.running[handle.Name], nil
}

func (m *mockBackend) Logs(ctx context.Context, handle *domain.Handle) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(fmt.Sprintf("logs of %s\n", handle.Name))), nil
}

func (m *mockBackend) counts() (creates, destroys int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates, m.destroys
}

func (m *mockBackend) runningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.running)
}

func (m *mockBackend) vanish(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, name)
}

type mockSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *mockSink) Publish(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *mockSink) states() []domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.State, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.State)
	}
	return out
}

type mockArchiver struct {
	mu       sync.Mutex
	archived map[string]string
}

func (a *mockArchiver) Archive(ctx context.Context, key domain.InstanceKey, handle *domain.Handle, logs io.Reader) error {
	data, err := io.ReadAll(logs)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.archived == nil {
		a.archived = make(map[string]string)
	}
	a.archived[handle.Name] = string(data)
	return nil
}

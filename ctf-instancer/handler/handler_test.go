package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/kavos113/quickctf/ctf-instancer/challenge"
	"github.com/kavos113/quickctf/ctf-instancer/domain"
	"github.com/kavos113/quickctf/ctf-instancer/executor"
	"github.com/kavos113/quickctf/ctf-instancer/registry"
)

const (
	testUser     = "admin"
	testPassword = "secret"
)

// fakeBackend keeps environments in a map.
type fakeBackend struct {
	mu        sync.Mutex
	creates   int
	destroys  int
	createErr error
}

func (f *fakeBackend) Prepare(ctx context.Context) error  { return nil }
func (f *fakeBackend) Teardown(ctx context.Context) error { return nil }

func (f *fakeBackend) Create(ctx context.Context, name string, key domain.InstanceKey, spec domain.EnvironmentSpec) (*domain.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &domain.Handle{Name: name, ID: name, Host: "localhost", Port: 30000 + f.creates}, nil
}

func (f *fakeBackend) Destroy(ctx context.Context, handle *domain.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroys++
	return nil
}

func (f *fakeBackend) Inspect(ctx context.Context, handle *domain.Handle) (bool, error) {
	return true, nil
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (r *recordingObserver) ObserveRequest(route, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, route+":"+outcome)
}

type testServer struct {
	echo     *echo.Echo
	backend  *fakeBackend
	observer *recordingObserver
}

func newTestServer(t *testing.T, creds Credentials) *testServer {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	backend := &fakeBackend{}

	reg, err := registry.New([]domain.ChallengeDefinition{
		{
			Name:        "buffer_overflow",
			Environment: domain.EnvironmentSpec{Image: "buffer_overflow:latest", InternalPort: 1337},
		},
	})
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	exec, err := executor.New(context.Background(), backend, executor.Options{Logger: logger})
	if err != nil {
		t.Fatalf("executor.New() error = %v", err)
	}

	observer := &recordingObserver{}
	e := NewRouter(RouterConfig{
		Catalog:     challenge.NewCatalog(reg, exec),
		Credentials: creds,
		Observer:    observer,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("metrics"))
		}),
		Logger: logger,
	})

	return &testServer{echo: e, backend: backend, observer: observer}
}

func plainCredentials() Credentials {
	return Credentials{Username: testUser, Password: testPassword}
}

func (s *testServer) get(t *testing.T, path string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.SetBasicAuth(testUser, testPassword)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec.Code, strings.TrimSpace(rec.Body.String())
}

func (s *testServer) expect(t *testing.T, path, want string) {
	t.Helper()
	code, body := s.get(t, path)
	if code != http.StatusOK {
		t.Errorf("GET %s status = %d, want 200", path, code)
	}
	if body != want {
		t.Errorf("GET %s body = %s, want %s", path, body, want)
	}
}

func TestStartStopStatus(t *testing.T) {
	s := newTestServer(t, plainCredentials())

	s.expect(t, "/start/12345/buffer_overflow", `{"state":"started"}`)
	s.expect(t, "/status/12345/buffer_overflow", `{"state":"started"}`)
	s.expect(t, "/stop/12345/buffer_overflow", `{"state":"stopped"}`)
	s.expect(t, "/status/12345/buffer_overflow", `{"state":"stopped"}`)
}

func TestRestartInstance(t *testing.T) {
	s := newTestServer(t, plainCredentials())

	for i := 0; i < 2; i++ {
		s.expect(t, "/start/1234/buffer_overflow", `{"state":"started"}`)
		s.expect(t, "/status/1234/buffer_overflow", `{"state":"started"}`)
		s.expect(t, "/stop/1234/buffer_overflow", `{"state":"stopped"}`)
		s.expect(t, "/status/1234/buffer_overflow", `{"state":"stopped"}`)
	}

	if s.backend.creates != 2 || s.backend.destroys != 2 {
		t.Errorf("creates=%d destroys=%d, want 2 and 2", s.backend.creates, s.backend.destroys)
	}
}

func TestTwoUsers(t *testing.T) {
	s := newTestServer(t, plainCredentials())
	users := []string{"1000", "2000"}

	for _, u := range users {
		s.expect(t, "/status/"+u+"/buffer_overflow", `{"state":"stopped"}`)
		s.expect(t, "/start/"+u+"/buffer_overflow", `{"state":"started"}`)
	}

	s.expect(t, "/stop/1000/buffer_overflow", `{"state":"stopped"}`)
	s.expect(t, "/status/2000/buffer_overflow", `{"state":"started"}`)
	s.expect(t, "/stop/2000/buffer_overflow", `{"state":"stopped"}`)
}

func TestNonexistentChallenge(t *testing.T) {
	s := newTestServer(t, plainCredentials())
	want := `["Challenge '43986751345136903146' not found"]`

	for _, route := range []string{"start", "status", "stop"} {
		s.expect(t, "/"+route+"/1234/43986751345136903146", want)
	}

	if s.backend.creates != 0 || s.backend.destroys != 0 {
		t.Error("Unknown challenge must not reach the backend")
	}
}

func TestStoppingStoppedChallenge(t *testing.T) {
	s := newTestServer(t, plainCredentials())

	s.expect(t, "/stop/1234/buffer_overflow", `["not running"]`)
	s.expect(t, "/status/1234/buffer_overflow", `{"state":"stopped"}`)

	if s.backend.destroys != 0 {
		t.Errorf("destroys = %d, want 0", s.backend.destroys)
	}
}

func TestStartingStartedChallenge(t *testing.T) {
	s := newTestServer(t, plainCredentials())

	s.expect(t, "/start/1234/buffer_overflow", `{"state":"started"}`)
	s.expect(t, "/start/1234/buffer_overflow", `{"state":"started"}`)
	s.expect(t, "/stop/1234/buffer_overflow", `{"state":"stopped"}`)

	if s.backend.creates != 1 {
		t.Errorf("creates = %d, want 1", s.backend.creates)
	}
}

func TestBackendFailure(t *testing.T) {
	s := newTestServer(t, plainCredentials())
	s.backend.createErr = errors.New("daemon unavailable")

	code, body := s.get(t, "/start/1234/buffer_overflow")
	if code != http.StatusOK {
		t.Errorf("status = %d, want 200", code)
	}
	if !strings.HasPrefix(body, `["`) || !strings.Contains(body, "daemon unavailable") {
		t.Errorf("body = %s, want list containing the cause", body)
	}

	s.expect(t, "/status/1234/buffer_overflow", `{"state":"stopped"}`)

	s.backend.createErr = nil
	s.expect(t, "/start/1234/buffer_overflow", `{"state":"started"}`)
}

func TestObserverOutcomes(t *testing.T) {
	s := newTestServer(t, plainCredentials())

	s.get(t, "/start/1/buffer_overflow")
	s.get(t, "/stop/2/buffer_overflow")
	s.get(t, "/status/1/missing")

	want := []string{"start:state", "stop:not_running", "status:not_found"}
	if len(s.observer.outcomes) != len(want) {
		t.Fatalf("outcomes = %v, want %v", s.observer.outcomes, want)
	}
	for i := range want {
		if s.observer.outcomes[i] != want[i] {
			t.Errorf("outcomes[%d] = %s, want %s", i, s.observer.outcomes[i], want[i])
		}
	}
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, plainCredentials())
	s.expect(t, "/metrics", "metrics")
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("GenerateFromPassword() error = %v", err)
	}

	tests := []struct {
		name     string
		creds    Credentials
		user     string
		password string
		noAuth   bool
		wantCode int
	}{
		{name: "plain ok", creds: plainCredentials(), user: testUser, password: testPassword, wantCode: http.StatusOK},
		{name: "plain wrong password", creds: plainCredentials(), user: testUser, password: "nope", wantCode: http.StatusUnauthorized},
		{name: "wrong user", creds: plainCredentials(), user: "root", password: testPassword, wantCode: http.StatusUnauthorized},
		{name: "missing header", creds: plainCredentials(), noAuth: true, wantCode: http.StatusUnauthorized},
		{name: "hash ok", creds: Credentials{Username: testUser, PasswordHash: string(hash)}, user: testUser, password: testPassword, wantCode: http.StatusOK},
		{name: "hash wrong password", creds: Credentials{Username: testUser, PasswordHash: string(hash)}, user: testUser, password: "nope", wantCode: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.creds)

			req := httptest.NewRequest(http.MethodGet, "/status/1234/buffer_overflow", nil)
			if !tt.noAuth {
				req.SetBasicAuth(tt.user, tt.password)
			}
			rec := httptest.NewRecorder()
			s.echo.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
		})
	}
}

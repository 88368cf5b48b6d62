package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
	"github.com/kavos113/quickctf/ctf-instancer/workingset"
)

const (
	DefaultCreateTimeout  = 60 * time.Second
	DefaultDestroyTimeout = 30 * time.Second

	sinkTimeout    = 2 * time.Second
	archiveTimeout = 10 * time.Second
)

var ErrShuttingDown = errors.New("instancer is shutting down")

// Observer receives the outcome of every backend call.
type Observer interface {
	ObserveBackendCall(op string, duration time.Duration, err error)
}

type Options struct {
	CreateTimeout  time.Duration
	DestroyTimeout time.Duration
	Sink           domain.EventSink
	Archiver       domain.LogArchiver
	Observer       Observer
	Logger         *slog.Logger
}

// Executor owns the instance table and the working set and drives the
// backend on their behalf.
type Executor struct {
	backend        domain.Backend
	working        *workingset.WorkingSet
	table          *instanceTable
	createTimeout  time.Duration
	destroyTimeout time.Duration
	sink           domain.EventSink
	archiver       domain.LogArchiver
	observer       Observer
	logger         *slog.Logger

	// mu guards closing. inflight counts Start calls admitted before it
	// was set.
	mu       sync.Mutex
	closing  bool
	inflight sync.WaitGroup
}

// New prepares the backend's process-wide resources and returns an executor
// with an empty instance table.
func New(ctx context.Context, backend domain.Backend, opts Options) (*Executor, error) {
	if opts.CreateTimeout <= 0 {
		opts.CreateTimeout = DefaultCreateTimeout
	}
	if opts.DestroyTimeout <= 0 {
		opts.DestroyTimeout = DefaultDestroyTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	if err := backend.Prepare(ctx); err != nil {
		return nil, fmt.Errorf("failed to prepare backend: %w", err)
	}

	return &Executor{
		backend:        backend,
		working:        workingset.New(),
		table:          newInstanceTable(),
		createTimeout:  opts.CreateTimeout,
		destroyTimeout: opts.DestroyTimeout,
		sink:           opts.Sink,
		archiver:       opts.Archiver,
		observer:       opts.Observer,
		logger:         opts.Logger.With(slog.String("component", "executor")),
	}, nil
}

// ContainsOrInsert claims key in the working set. Only a caller that got
// false may go on to call Start.
func (e *Executor) ContainsOrInsert(key domain.InstanceKey) bool {
	return e.working.ContainsOrInsert(key)
}

// Start provisions an environment for key. The caller must own key in the
// working set. On failure the instance is rolled back and the key released.
func (e *Executor) Start(ctx context.Context, key domain.InstanceKey, spec domain.EnvironmentSpec) (domain.State, error) {
	if !e.admit() {
		if _, exists := e.table.get(key); !exists {
			e.working.Remove(key)
		}
		return domain.StateStopped, ErrShuttingDown
	}
	defer e.inflight.Done()

	name := handleName(key)
	if state, ok := e.table.begin(key, name); !ok {
		return state, nil
	}
	e.emit(domain.NewEvent(key, domain.StateStarting, &domain.Handle{Name: name}, ""))

	createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.createTimeout)
	defer cancel()

	start := time.Now()
	handle, err := e.backend.Create(createCtx, name, key, spec)
	e.observe("create", start, err)
	if err != nil {
		e.logger.Error("failed to create environment",
			slog.String("instance", key.String()),
			slog.String("handle", name),
			slog.Any("error", err),
		)
		e.discard(key, &domain.Handle{Name: name})
		e.release(key, nil)
		e.emit(domain.NewEvent(key, domain.StateStopped, nil, "create failed"))
		return domain.StateStopped, domain.BackendError("create", key, err)
	}

	e.table.commitStarted(key, handle, time.Now())
	e.emit(domain.NewEvent(key, domain.StateStarted, handle, ""))

	e.logger.Info("instance started",
		slog.String("instance", key.String()),
		slog.String("handle", handle.Name),
		slog.String("host", handle.Host),
		slog.Int("port", handle.Port),
	)

	return domain.StateStarted, nil
}

// Stop tears down the environment for key. The returned state is the one
// observed after the call.
func (e *Executor) Stop(ctx context.Context, key domain.InstanceKey) (domain.StopResult, domain.State, error) {
	return e.stop(ctx, key, "")
}

func (e *Executor) stop(ctx context.Context, key domain.InstanceKey, reason string) (domain.StopResult, domain.State, error) {
	inst, claimed := e.table.claimStop(key)
	if !claimed {
		if inst.State == domain.StateStopped {
			return domain.StopResultNotRunning, domain.StateStopped, nil
		}
		return domain.StopResultInProgress, inst.State, nil
	}
	e.emit(domain.NewEvent(key, domain.StateStopping, inst.Handle, reason))

	destroyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.destroyTimeout)
	defer cancel()

	e.archiveLogs(destroyCtx, key, inst.Handle)

	start := time.Now()
	err := e.backend.Destroy(destroyCtx, inst.Handle)
	e.observe("destroy", start, err)
	if err != nil {
		e.table.revertStop(key)
		e.logger.Error("failed to destroy environment",
			slog.String("instance", key.String()),
			slog.String("handle", inst.Handle.Name),
			slog.Any("error", err),
		)
		e.emit(domain.NewEvent(key, domain.StateStarted, inst.Handle, "destroy failed"))
		return domain.StopResultInProgress, domain.StateStarted, domain.BackendError("destroy", key, err)
	}

	e.release(key, nil)
	e.emit(domain.NewEvent(key, domain.StateStopped, inst.Handle, reason))

	e.logger.Info("instance stopped",
		slog.String("instance", key.String()),
		slog.String("handle", inst.Handle.Name),
	)

	return domain.StopResultStopped, domain.StateStopped, nil
}

// Status reports the latest committed state for key without touching the
// backend. A claimed key with no table entry yet is starting.
func (e *Executor) Status(key domain.InstanceKey) domain.State {
	return e.table.readWith(key, func() domain.State {
		if e.working.Contains(key) {
			return domain.StateStarting
		}
		return domain.StateStopped
	})
}

// Instances returns a snapshot of every non-stopped instance.
func (e *Executor) Instances() []domain.Instance {
	return e.table.snapshot()
}

// admit registers an in-flight start unless shutdown has begun.
func (e *Executor) admit() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closing {
		return false
	}
	e.inflight.Add(1)
	return true
}

// Shutdown refuses new starts, waits for creates already running, then
// destroys every started instance and tears down the backend's process-wide
// resources.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closing = true
	e.mu.Unlock()

	settled := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-ctx.Done():
		e.logger.Warn("shutdown deadline reached with creates in flight", slog.Any("error", ctx.Err()))
	}

	for _, inst := range e.table.snapshot() {
		if inst.State != domain.StateStarted {
			continue
		}
		e.logger.Info("cleaning up instance", slog.String("instance", inst.Key.String()))
		if _, _, err := e.stop(ctx, inst.Key, "shutdown"); err != nil {
			e.logger.Error("failed to clean up instance",
				slog.String("instance", inst.Key.String()),
				slog.Any("error", err),
			)
		}
	}

	if err := e.backend.Teardown(ctx); err != nil {
		return fmt.Errorf("failed to tear down backend: %w", err)
	}
	return nil
}

// release removes key from the table and the working set as one step.
func (e *Executor) release(key domain.InstanceKey, match func(*domain.Instance) bool) bool {
	removed := e.table.removeIf(key, match, func() {
		e.working.Remove(key)
	})
	if !removed && match == nil {
		e.working.Remove(key)
	}
	return removed
}

// discard removes whatever a failed or timed out create may have left
// behind. Errors are logged only.
func (e *Executor) discard(key domain.InstanceKey, handle *domain.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), e.destroyTimeout)
	defer cancel()

	if err := e.backend.Destroy(ctx, handle); err != nil {
		e.logger.Warn("failed to discard partial environment",
			slog.String("instance", key.String()),
			slog.String("handle", handle.Name),
			slog.Any("error", err),
		)
	}
}

func (e *Executor) archiveLogs(ctx context.Context, key domain.InstanceKey, handle *domain.Handle) {
	if e.archiver == nil {
		return
	}
	source, ok := e.backend.(domain.LogSource)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, archiveTimeout)
	defer cancel()

	logs, err := source.Logs(ctx, handle)
	if err != nil {
		e.logger.Warn("failed to read environment logs",
			slog.String("instance", key.String()),
			slog.Any("error", err),
		)
		return
	}
	defer logs.Close()

	if err := e.archiver.Archive(ctx, key, handle, logs); err != nil {
		e.logger.Warn("failed to archive environment logs",
			slog.String("instance", key.String()),
			slog.Any("error", err),
		)
	}
}

func (e *Executor) emit(event domain.Event) {
	if e.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	if err := e.sink.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish event",
			slog.String("state", string(event.State)),
			slog.String("user_id", event.UserID),
			slog.String("challenge", event.Challenge),
			slog.Any("error", err),
		)
	}
}

func (e *Executor) observe(op string, start time.Time, err error) {
	if e.observer != nil {
		e.observer.ObserveBackendCall(op, time.Since(start), err)
	}
}

// handleName builds a container-safe environment name for key.
func handleName(key domain.InstanceKey) string {
	return fmt.Sprintf("ctf-%s-%s-%s",
		sanitizeName(key.Challenge),
		sanitizeName(key.UserID),
		uuid.New().String()[:8],
	)
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "x"
	}
	if b.Len() > 32 {
		return b.String()[:32]
	}
	return b.String()
}

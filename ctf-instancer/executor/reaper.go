package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

const inspectTimeout = 5 * time.Second

// TTLFunc returns the lifetime limit for a challenge. Zero disables expiry.
type TTLFunc func(challenge string) time.Duration

// Reaper periodically stops expired instances and forgets instances whose
// environment disappeared from the backend.
type Reaper struct {
	executor *Executor
	ttl      TTLFunc
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewReaper(e *Executor, ttl TTLFunc, interval time.Duration) *Reaper {
	if ttl == nil {
		ttl = func(string) time.Duration { return 0 }
	}
	return &Reaper{
		executor: e,
		ttl:      ttl,
		interval: interval,
		now:      time.Now,
		logger:   e.logger.With(slog.String("component", "reaper")),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", slog.Duration("interval", r.interval))

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns the number of instances it removed.
func (r *Reaper) Sweep(ctx context.Context) int {
	removed := 0
	now := r.now()

	for _, inst := range r.executor.Instances() {
		if inst.State != domain.StateStarted {
			continue
		}

		if inst.IsExpired(r.ttl(inst.Key.Challenge), now) {
			result, _, err := r.executor.stop(ctx, inst.Key, "expired")
			if err != nil {
				r.logger.Error("failed to stop expired instance",
					slog.String("instance", inst.Key.String()),
					slog.Any("error", err),
				)
				continue
			}
			if result == domain.StopResultStopped {
				removed++
			}
			continue
		}

		if r.vanished(ctx, inst) {
			removed++
		}
	}

	return removed
}

func (r *Reaper) vanished(ctx context.Context, inst domain.Instance) bool {
	ctx, cancel := context.WithTimeout(ctx, inspectTimeout)
	defer cancel()

	running, err := r.executor.backend.Inspect(ctx, inst.Handle)
	if err != nil {
		r.logger.Warn("failed to inspect environment",
			slog.String("instance", inst.Key.String()),
			slog.Any("error", err),
		)
		return false
	}
	if running {
		return false
	}

	name := inst.Handle.Name
	forgotten := r.executor.release(inst.Key, func(cur *domain.Instance) bool {
		return cur.State == domain.StateStarted && cur.Handle != nil && cur.Handle.Name == name
	})
	if !forgotten {
		return false
	}

	// The environment may have exited without being removed.
	r.executor.discard(inst.Key, inst.Handle)
	r.executor.emit(domain.NewEvent(inst.Key, domain.StateStopped, inst.Handle, "environment vanished"))
	r.logger.Warn("environment vanished; instance forgotten",
		slog.String("instance", inst.Key.String()),
		slog.String("handle", name),
	)
	return true
}

package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrBackend marks failures of the isolation backend. Callers may retry.
var ErrBackend = errors.New("backend provisioning failed")

type InstanceKey struct {
	UserID    string
	Challenge string
}

func (k InstanceKey) String() string {
	return fmt.Sprintf("%s/%s", k.UserID, k.Challenge)
}

type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateStarted  State = "started"
	StateStopping State = "stopping"
)

// Handle identifies one backend environment. Name is allocated before the
// environment exists; ID is filled in by the backend on create.
type Handle struct {
	Name string
	ID   string
	Host string
	Port int
}

type Instance struct {
	Key       InstanceKey
	State     State
	Handle    *Handle
	StartedAt time.Time
}

func (i *Instance) IsExpired(ttl time.Duration, now time.Time) bool {
	if ttl == 0 || i.State != StateStarted {
		return false
	}
	return now.Sub(i.StartedAt) > ttl
}

// StopResult distinguishes the normal outcomes of a stop call.
type StopResult int

const (
	StopResultStopped StopResult = iota
	StopResultNotRunning
	// StopResultInProgress means another transition owns the key; the
	// current state is reported instead.
	StopResultInProgress
)

func (r StopResult) String() string {
	switch r {
	case StopResultStopped:
		return "stopped"
	case StopResultNotRunning:
		return "not running"
	default:
		return "in progress"
	}
}

// BackendError wraps a failed backend call together with ErrBackend.
func BackendError(op string, key InstanceKey, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrBackend, op, key, err)
}

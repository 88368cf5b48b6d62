package domain

import (
	"context"
	"time"
)

// Event records one committed state transition.
type Event struct {
	UserID     string    `json:"user_id"`
	Challenge  string    `json:"challenge"`
	State      State     `json:"state"`
	Handle     string    `json:"handle,omitempty"`
	Host       string    `json:"host,omitempty"`
	Port       int       `json:"port,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func NewEvent(key InstanceKey, state State, handle *Handle, reason string) Event {
	e := Event{
		UserID:     key.UserID,
		Challenge:  key.Challenge,
		State:      state,
		Reason:     reason,
		OccurredAt: time.Now(),
	}
	if handle != nil {
		e.Handle = handle.Name
		e.Host = handle.Host
		e.Port = handle.Port
	}
	return e
}

type EventSink interface {
	Publish(ctx context.Context, event Event) error
}

package events

import (
	"context"
	"errors"
	"testing"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

type recordingSink struct {
	events []domain.Event
	err    error
}

func (s *recordingSink) Publish(ctx context.Context, event domain.Event) error {
	s.events = append(s.events, event)
	return s.err
}

func TestFanout_Publish(t *testing.T) {
	ok := &recordingSink{}
	failing := &recordingSink{err: errors.New("redis down")}
	f := Fanout{failing, ok}

	event := domain.NewEvent(domain.InstanceKey{UserID: "1234", Challenge: "buffer_overflow"}, domain.StateStarted, nil, "")
	err := f.Publish(context.Background(), event)

	if !errors.Is(err, failing.err) {
		t.Errorf("Publish() error = %v, want joined sink error", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Error("Expected every sink to receive the event despite an earlier failure")
	}
}

func TestFanout_Empty(t *testing.T) {
	var f Fanout
	if err := f.Publish(context.Background(), domain.Event{}); err != nil {
		t.Errorf("Publish() on empty fanout error = %v", err)
	}
}

package events

import (
	"context"
	"errors"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

// Fanout delivers every event to all sinks and joins their errors.
type Fanout []domain.EventSink

func (f Fanout) Publish(ctx context.Context, event domain.Event) error {
	var errs []error
	for _, sink := range f {
		if err := sink.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

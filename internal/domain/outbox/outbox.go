package outbox

import (
	"context"
	"errors"
)

type Event interface {
	EventName() string
}

type Handler func(ctx context.Context, e Event) error

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type Subscriber interface {
	Subscribe(eventName string, h Handler)
}

// PublishAll publishes every event, continuing past failures, and joins the errors.
func PublishAll(ctx context.Context, p Publisher, events ...Event) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

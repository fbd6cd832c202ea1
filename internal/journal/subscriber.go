package journal

import (
	"context"

	"crabstack.local/projects/crab-stk/internal/notify"
)

// Subscriber records command lifecycle events from the notify hub.
type Subscriber struct {
	store Store
}

func NewSubscriber(store Store) *Subscriber {
	return &Subscriber{store: store}
}

func (s *Subscriber) Name() string {
	return "journal"
}

func (s *Subscriber) Handle(ctx context.Context, event notify.Event) error {
	return s.store.Record(ctx, event)
}

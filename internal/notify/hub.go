package notify

import (
	"context"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"crabstack.local/projects/crab-stk/internal/ids"
)

type Subscriber interface {
	Name() string
	Handle(context.Context, Event) error
}

// Hub fans lifecycle events out to subscribers, retrying failed deliveries.
type Hub struct {
	logger       *log.Logger
	subscribers  []Subscriber
	retryCount   int
	retryBackoff time.Duration
	sequence     atomic.Int64
	now          func() time.Time
	wg           sync.WaitGroup
}

func NewHub(logger *log.Logger, subs []Subscriber) *Hub {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Hub{
		logger:       logger,
		subscribers:  subs,
		retryCount:   3,
		retryBackoff: 150 * time.Millisecond,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Publish stamps the event and delivers it to every subscriber without
// blocking the caller.
func (h *Hub) Publish(ctx context.Context, event Event) {
	if h == nil {
		return
	}
	if event.ID == "" {
		event.ID = ids.New()
	}
	event.Sequence = h.sequence.Add(1)
	if event.OccurredAt.IsZero() {
		event.OccurredAt = h.now()
	}
	// Deliveries outlive the publishing call.
	ctx = context.WithoutCancel(ctx)
	for _, sub := range h.subscribers {
		s := sub
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.dispatchOne(ctx, s, event)
		}()
	}
}

// Wait blocks until in-flight deliveries finish.
func (h *Hub) Wait() {
	if h == nil {
		return
	}
	h.wg.Wait()
}

func (h *Hub) dispatchOne(ctx context.Context, sub Subscriber, event Event) {
	for attempt := 1; attempt <= h.retryCount; attempt++ {
		err := sub.Handle(ctx, event)
		if err == nil {
			return
		}

		h.logger.Printf("subscriber=%s event_id=%s type=%s attempt=%d err=%v", sub.Name(), event.ID, event.Type, attempt, err)
		if attempt == h.retryCount {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(h.retryBackoff):
		}
	}
}

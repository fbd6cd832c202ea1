package webhook

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"

	"crabstack.local/projects/crab-stk/internal/notify"
	hook "crabstack.local/projects/crab-stk/internal/webhook"
)

type Option func(*Subscriber)

// Subscriber forwards lifecycle events to an HTTP endpoint.
type Subscriber struct {
	name       string
	url        string
	httpClient *http.Client
	logger     *log.Logger
	filter     func(notify.EventType) bool
	poster     *hook.Poster
}

func New(name string, url string, logger *log.Logger, opts ...Option) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sub := &Subscriber{
		name:   strings.TrimSpace(name),
		url:    url,
		logger: logger,
	}
	if sub.name == "" {
		sub.name = "webhook"
	}
	for _, opt := range opts {
		if opt != nil {
			opt(sub)
		}
	}
	sub.poster = hook.NewPoster(sub.url, sub.httpClient)
	return sub
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Subscriber) {
		if client != nil {
			s.httpClient = client
		}
	}
}

func WithEventFilter(filter func(notify.EventType) bool) Option {
	return func(s *Subscriber) {
		s.filter = filter
	}
}

func (s *Subscriber) Name() string {
	return s.name
}

func (s *Subscriber) Handle(ctx context.Context, event notify.Event) error {
	if s.filter != nil && !s.filter(event.Type) {
		return nil
	}
	return s.poster.Post(ctx, event)
}

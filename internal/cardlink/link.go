package cardlink

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/webhook"
)

var (
	ErrClosed    = errors.New("card link closed")
	ErrQueueFull = errors.New("card link queue full")
)

const (
	DefaultQueueSize = 64
	slotPlaceholder  = "{slot}"
)

type Option func(*Link)

func WithHTTPClient(client *http.Client) Option {
	return func(l *Link) {
		if client != nil {
			l.httpClient = client
		}
	}
}

func WithQueueSize(n int) Option {
	return func(l *Link) {
		if n > 0 {
			l.queueSize = n
		}
	}
}

func WithRetry(count int, backoff time.Duration) Option {
	return func(l *Link) {
		if count > 0 {
			l.retryCount = count
		}
		if backoff >= 0 {
			l.retryBackoff = backoff
		}
	}
}

// Link posts terminal responses for one slot to the modem's webhook. Sends
// are queued so the slot loop never waits on the network; a single worker
// delivers them in order.
type Link struct {
	slot         stk.SlotID
	logger       *log.Logger
	httpClient   *http.Client
	poster       *webhook.Poster
	queueSize    int
	retryCount   int
	retryBackoff time.Duration

	queue  chan stk.TerminalResponse
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func New(logger *log.Logger, slot stk.SlotID, url string, opts ...Option) *Link {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	l := &Link{
		slot:         slot,
		logger:       logger,
		queueSize:    DefaultQueueSize,
		retryCount:   3,
		retryBackoff: 200 * time.Millisecond,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.poster = webhook.NewPoster(strings.ReplaceAll(url, slotPlaceholder, slot.String()), l.httpClient)
	l.queue = make(chan stk.TerminalResponse, l.queueSize)

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.run(ctx)
	return l
}

func (l *Link) SendTerminalResponse(_ context.Context, tr stk.TerminalResponse) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	select {
	case l.queue <- tr:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the worker. Responses still queued are dropped and logged.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.cancel()
	<-l.done
	return nil
}

func (l *Link) run(ctx context.Context) {
	defer close(l.done)
	for tr := range l.queue {
		if ctx.Err() != nil {
			l.logger.Printf("card link dropped slot=%s command_id=%s reason=closed", l.slot, tr.CommandID)
			continue
		}
		l.deliver(ctx, tr)
	}
}

func (l *Link) deliver(ctx context.Context, tr stk.TerminalResponse) {
	for attempt := 1; attempt <= l.retryCount; attempt++ {
		err := l.poster.Post(ctx, tr)
		if err == nil {
			return
		}
		l.logger.Printf("card link post failed slot=%s command_id=%s attempt=%d/%d err=%v", l.slot, tr.CommandID, attempt, l.retryCount, err)
		if attempt == l.retryCount {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.retryBackoff * time.Duration(attempt)):
		}
	}
}

// Factory opens a webhook link per slot. url may contain {slot}. An empty
// url yields no link, so responses are dropped.
func Factory(logger *log.Logger, url string, timeout time.Duration) func(stk.SlotID) dispatch.CardLink {
	url = strings.TrimSpace(url)
	client := &http.Client{Timeout: timeout}
	return func(slot stk.SlotID) dispatch.CardLink {
		if url == "" {
			return nil
		}
		return New(logger, slot, url, WithHTTPClient(client))
	}
}

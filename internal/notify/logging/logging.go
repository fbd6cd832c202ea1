package logging

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"crabstack.local/projects/crab-stk/internal/notify"
)

// Subscriber writes one key=value line per slot event, in the same shape
// the dispatcher uses for its own log lines.
type Subscriber struct {
	logger *log.Logger
}

func New(logger *log.Logger) *Subscriber {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Subscriber{logger: logger}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event notify.Event) error {
	s.logger.Print(Format(event))
	return nil
}

// Format renders event as a log line. Command fields are omitted for slot
// level events such as card presence.
func Format(event notify.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "stk event=%s slot=%s seq=%d", event.Type, event.Slot, event.Sequence)
	if event.CommandID != "" {
		fmt.Fprintf(&b, " command_id=%s", event.CommandID)
	}
	if event.CommandType != "" {
		fmt.Fprintf(&b, " command_type=%s", event.CommandType)
	}
	if event.Result != nil {
		fmt.Fprintf(&b, " result=%s", *event.Result)
	}
	if event.Detail != "" {
		fmt.Fprintf(&b, " detail=%q", event.Detail)
	}
	if event.ID != "" {
		fmt.Fprintf(&b, " id=%s", event.ID)
	}
	return b.String()
}

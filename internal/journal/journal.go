package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/stk"
)

var ErrNotFound = errors.New("journal entry not found")

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

type Status string

const (
	StatusReceived   Status = "received"
	StatusQueued     Status = "queued"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAbandoned  Status = "abandoned"
	StatusRejected   Status = "rejected"
)

// Entry is the lifecycle record of one proactive command. Sequence is the
// hub sequence of the last transition applied.
type Entry struct {
	CommandID     string          `json:"command_id"`
	Slot          stk.SlotID      `json:"slot"`
	CommandType   stk.CommandType `json:"command_type"`
	Status        Status          `json:"status"`
	Result        *stk.ResultCode `json:"result,omitempty"`
	Detail        string          `json:"detail,omitempty"`
	FirstSequence int64           `json:"-"`
	Sequence      int64           `json:"sequence"`
	ReceivedAt    time.Time       `json:"received_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Store interface {
	Record(context.Context, notify.Event) error
	Get(context.Context, string) (Entry, error)
	List(ctx context.Context, slot stk.SlotID, limit int) ([]Entry, error)
	Close() error
}

var eventStatus = map[notify.EventType]Status{
	notify.EventCommandReceived:   StatusReceived,
	notify.EventCommandQueued:     StatusQueued,
	notify.EventCommandDispatched: StatusInProgress,
	notify.EventCommandResolved:   StatusCompleted,
	notify.EventCommandAbandoned:  StatusAbandoned,
	notify.EventCommandRejected:   StatusRejected,
}

// StatusFor maps a lifecycle event to the journal status it records.
func StatusFor(typ notify.EventType) (Status, bool) {
	status, ok := eventStatus[typ]
	return status, ok
}

func entryFromEvent(event notify.Event, status Status) Entry {
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Entry{
		CommandID:     event.CommandID,
		Slot:          event.Slot,
		CommandType:   event.CommandType,
		Status:        status,
		Result:        event.Result,
		Detail:        event.Detail,
		FirstSequence: event.Sequence,
		Sequence:      event.Sequence,
		ReceivedAt:    at,
		UpdatedAt:     at,
	}
}

// merge applies a transition to an existing entry. Deliveries can arrive
// out of order, so a transition older than the entry only widens the
// received window.
func merge(existing, incoming Entry) Entry {
	out := existing
	if incoming.ReceivedAt.Before(out.ReceivedAt) {
		out.ReceivedAt = incoming.ReceivedAt
	}
	if incoming.FirstSequence < out.FirstSequence {
		out.FirstSequence = incoming.FirstSequence
	}
	if out.CommandType == "" {
		out.CommandType = incoming.CommandType
	}
	if incoming.Sequence <= existing.Sequence {
		return out
	}
	out.Status = incoming.Status
	out.Sequence = incoming.Sequence
	out.UpdatedAt = incoming.UpdatedAt
	if incoming.Result != nil {
		out.Result = incoming.Result
	}
	if incoming.Detail != "" {
		out.Detail = incoming.Detail
	}
	return out
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}

func validCommandID(id string) bool {
	return strings.TrimSpace(id) != ""
}

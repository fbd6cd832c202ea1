package notify

import (
	"time"

	"crabstack.local/projects/crab-stk/internal/stk"
)

type EventType string

const (
	EventCommandReceived   EventType = "stk.command.received"
	EventCommandQueued     EventType = "stk.command.queued"
	EventCommandDispatched EventType = "stk.command.dispatched"
	EventCommandResolved   EventType = "stk.command.resolved"
	EventCommandAbandoned  EventType = "stk.command.abandoned"
	EventCommandRejected   EventType = "stk.command.rejected"
	EventSessionEnded      EventType = "stk.session.ended"
	EventCardAbsent        EventType = "stk.card.absent"
	EventCardPresent       EventType = "stk.card.present"
	EventSlotsChanged      EventType = "stk.slots.changed"
	EventIdleTextShown     EventType = "stk.idle_text.shown"
	EventIdleTextCleared   EventType = "stk.idle_text.cleared"
	EventBrowserLaunched   EventType = "stk.browser.launched"
	EventEventDownload     EventType = "stk.event.download"
	EventMenuInstalled     EventType = "stk.menu.installed"
	EventMenuRemoved       EventType = "stk.menu.removed"
)

// Event describes one lifecycle transition. Sequence is assigned by the hub
// and grows monotonically, so subscribers can order events that arrive
// concurrently.
type Event struct {
	ID          string          `json:"id"`
	Type        EventType       `json:"type"`
	Sequence    int64           `json:"sequence"`
	Slot        stk.SlotID      `json:"slot"`
	CommandID   string          `json:"command_id,omitempty"`
	CommandType stk.CommandType `json:"command_type,omitempty"`
	Result      *stk.ResultCode `json:"result,omitempty"`
	Detail      string          `json:"detail,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// CommandEvent builds an event about cmd on slot.
func CommandEvent(typ EventType, slot stk.SlotID, cmd stk.ProactiveCommand) Event {
	return Event{
		Type:        typ,
		Slot:        slot,
		CommandID:   cmd.ID,
		CommandType: cmd.Type,
	}
}

// WithResult returns a copy of e carrying result.
func (e Event) WithResult(result stk.ResultCode) Event {
	e.Result = &result
	return e
}

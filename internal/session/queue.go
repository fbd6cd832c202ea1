package session

import (
	"github.com/bradenaw/juniper/container/deque"

	"crabstack.local/projects/crab-stk/internal/stk"
)

type EntryKind int

const (
	EntryCommand EntryKind = iota
	EntrySessionEnd
)

func (k EntryKind) String() string {
	if k == EntrySessionEnd {
		return "session_end"
	}
	return "command"
}

type QueueEntry struct {
	Kind    EntryKind
	Command stk.ProactiveCommand
	Slot    stk.SlotID
}

// CommandQueue holds entries deferred while an interactive command is in
// flight. It is unbounded; entries only arrive at the card's own cadence.
type CommandQueue struct {
	entries deque.Deque[QueueEntry]
}

func (q *CommandQueue) Push(entry QueueEntry) {
	q.entries.PushBack(entry)
}

// Pop removes the oldest entry. ok is false when the queue is empty.
func (q *CommandQueue) Pop() (QueueEntry, bool) {
	if q.entries.Len() == 0 {
		return QueueEntry{}, false
	}
	return q.entries.PopFront(), true
}

func (q *CommandQueue) Len() int {
	return q.entries.Len()
}

func (q *CommandQueue) Clear() {
	for q.entries.Len() > 0 {
		q.entries.PopFront()
	}
}

// Entries returns a copy of the queued entries in arrival order.
func (q *CommandQueue) Entries() []QueueEntry {
	out := make([]QueueEntry, 0, q.entries.Len())
	for i := 0; i < q.entries.Len(); i++ {
		out = append(out, q.entries.Item(i))
	}
	return out
}

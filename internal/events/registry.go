package events

import (
	"io"
	"log"
	"sort"

	"github.com/bradenaw/juniper/xslices"

	"crabstack.local/projects/crab-stk/internal/stk"
)

// Bridge registers host observers for card events. Calls are idempotent.
type Bridge interface {
	RegisterIdleScreen()
	UnregisterIdleScreen()
	RegisterUserActivity()
	UnregisterUserActivity()
	RegisterLocaleChange()
	UnregisterLocaleChange()
}

type subscription struct {
	origin stk.ProactiveCommand
	codes  []stk.EventCode
}

// Registry tracks the event list of every slot. A host observer stays
// registered while at least one slot subscribes to its event. Registry is
// not safe for concurrent use; the slot manager loop owns it.
type Registry struct {
	logger *log.Logger
	bridge Bridge
	subs   map[stk.SlotID]*subscription
}

func NewRegistry(logger *log.Logger, bridge Bridge) *Registry {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if bridge == nil {
		panic("events bridge is required")
	}
	return &Registry{
		logger: logger,
		bridge: bridge,
		subs:   make(map[stk.SlotID]*subscription),
	}
}

// Replace swaps the slot's subscription for codes. Observers for codes that
// no slot needs any more are unregistered and every code in the new list is
// registered. It returns the codes gained and lost by this slot.
func (r *Registry) Replace(slot stk.SlotID, origin stk.ProactiveCommand, codes []stk.EventCode) (added, removed []stk.EventCode) {
	next := dedupe(codes)
	var prev []stk.EventCode
	if current, ok := r.subs[slot]; ok {
		prev = current.codes
	}

	removed = xslices.Filter(append([]stk.EventCode(nil), prev...), func(code stk.EventCode) bool {
		return !contains(next, code)
	})
	added = xslices.Filter(append([]stk.EventCode(nil), next...), func(code stk.EventCode) bool {
		return !contains(prev, code)
	})

	if len(next) == 0 {
		delete(r.subs, slot)
	} else {
		r.subs[slot] = &subscription{origin: origin, codes: next}
	}

	for _, code := range removed {
		r.unregisterIfUnused(code)
	}
	for _, code := range next {
		r.register(code)
	}
	r.logger.Printf("event list replaced slot=%s events=%v added=%v removed=%v", slot, next, added, removed)
	return added, removed
}

// Consume drops a reported one-shot event from the slot's list.
func (r *Registry) Consume(slot stk.SlotID, code stk.EventCode) {
	sub, ok := r.subs[slot]
	if !ok || !contains(sub.codes, code) {
		return
	}
	sub.codes = xslices.Filter(sub.codes, func(c stk.EventCode) bool { return c != code })
	if len(sub.codes) == 0 {
		delete(r.subs, slot)
	}
	r.unregisterIfUnused(code)
}

// Release forgets the slot's subscription entirely.
func (r *Registry) Release(slot stk.SlotID) {
	sub, ok := r.subs[slot]
	if !ok {
		return
	}
	delete(r.subs, slot)
	for _, code := range sub.codes {
		r.unregisterIfUnused(code)
	}
	r.logger.Printf("event list released slot=%s", slot)
}

func (r *Registry) Subscribed(slot stk.SlotID, code stk.EventCode) bool {
	sub, ok := r.subs[slot]
	return ok && contains(sub.codes, code)
}

// Origin returns the SET UP EVENT LIST command that created the slot's list.
func (r *Registry) Origin(slot stk.SlotID) (stk.ProactiveCommand, bool) {
	sub, ok := r.subs[slot]
	if !ok {
		return stk.ProactiveCommand{}, false
	}
	return sub.origin, true
}

// Subscribers lists the slots subscribed to code in ascending order.
func (r *Registry) Subscribers(code stk.EventCode) []stk.SlotID {
	var out []stk.SlotID
	for slot, sub := range r.subs {
		if contains(sub.codes, code) {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) inUse(code stk.EventCode) bool {
	for _, sub := range r.subs {
		if contains(sub.codes, code) {
			return true
		}
	}
	return false
}

func (r *Registry) unregisterIfUnused(code stk.EventCode) {
	if r.inUse(code) {
		return
	}
	switch code {
	case stk.EventIdleScreenAvailable:
		r.bridge.UnregisterIdleScreen()
	case stk.EventUserActivity:
		r.bridge.UnregisterUserActivity()
	case stk.EventLanguageSelection:
		r.bridge.UnregisterLocaleChange()
	}
}

func (r *Registry) register(code stk.EventCode) {
	switch code {
	case stk.EventIdleScreenAvailable:
		r.bridge.RegisterIdleScreen()
	case stk.EventUserActivity:
		r.bridge.RegisterUserActivity()
	case stk.EventLanguageSelection:
		r.bridge.RegisterLocaleChange()
	}
}

func contains(codes []stk.EventCode, code stk.EventCode) bool {
	return xslices.Index(codes, code) >= 0
}

func dedupe(codes []stk.EventCode) []stk.EventCode {
	out := make([]stk.EventCode, 0, len(codes))
	for _, code := range codes {
		if !contains(out, code) {
			out = append(out, code)
		}
	}
	return out
}

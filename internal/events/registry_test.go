package events

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"crabstack.local/projects/crab-stk/internal/stk"
)

type recordingBridge struct {
	calls []string
}

func (b *recordingBridge) RegisterIdleScreen()     { b.calls = append(b.calls, "register_idle") }
func (b *recordingBridge) UnregisterIdleScreen()   { b.calls = append(b.calls, "unregister_idle") }
func (b *recordingBridge) RegisterUserActivity()   { b.calls = append(b.calls, "register_activity") }
func (b *recordingBridge) UnregisterUserActivity() { b.calls = append(b.calls, "unregister_activity") }
func (b *recordingBridge) RegisterLocaleChange()   { b.calls = append(b.calls, "register_locale") }
func (b *recordingBridge) UnregisterLocaleChange() { b.calls = append(b.calls, "unregister_locale") }

func (b *recordingBridge) count(call string) int {
	n := 0
	for _, c := range b.calls {
		if c == call {
			n++
		}
	}
	return n
}

func eventListCommand(id string) stk.ProactiveCommand {
	return stk.ProactiveCommand{ID: id, Type: stk.CommandSetUpEventList}
}

func TestReplaceReportsDelta(t *testing.T) {
	bridge := &recordingBridge{}
	r := NewRegistry(nil, bridge)

	added, removed := r.Replace(0, eventListCommand("e1"), []stk.EventCode{stk.EventUserActivity, stk.EventIdleScreenAvailable})
	if diff := cmp.Diff([]stk.EventCode{stk.EventUserActivity, stk.EventIdleScreenAvailable}, added); diff != "" {
		t.Fatalf("unexpected added (-want +got):\n%s", diff)
	}
	if len(removed) != 0 {
		t.Fatalf("expected nothing removed, got %v", removed)
	}

	added, removed = r.Replace(0, eventListCommand("e2"), []stk.EventCode{stk.EventIdleScreenAvailable, stk.EventLanguageSelection})
	if diff := cmp.Diff([]stk.EventCode{stk.EventLanguageSelection}, added); diff != "" {
		t.Fatalf("unexpected added (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]stk.EventCode{stk.EventUserActivity}, removed); diff != "" {
		t.Fatalf("unexpected removed (-want +got):\n%s", diff)
	}
	if bridge.count("unregister_activity") != 1 {
		t.Fatalf("expected user activity observer to be unregistered, calls=%v", bridge.calls)
	}
	origin, ok := r.Origin(0)
	if !ok || origin.ID != "e2" {
		t.Fatalf("expected origin e2, got %+v ok=%v", origin, ok)
	}
}

func TestCrossSlotDeduplication(t *testing.T) {
	bridge := &recordingBridge{}
	r := NewRegistry(nil, bridge)

	r.Replace(0, eventListCommand("a"), []stk.EventCode{stk.EventUserActivity})
	r.Replace(1, eventListCommand("b"), []stk.EventCode{stk.EventUserActivity})

	r.Replace(0, eventListCommand("a2"), nil)
	if bridge.count("unregister_activity") != 0 {
		t.Fatalf("observer unregistered while slot 1 still subscribes, calls=%v", bridge.calls)
	}

	r.Replace(1, eventListCommand("b2"), []stk.EventCode{})
	if bridge.count("unregister_activity") != 1 {
		t.Fatalf("expected a single unregister after both slots left, calls=%v", bridge.calls)
	}
}

func TestConsumeOneShot(t *testing.T) {
	bridge := &recordingBridge{}
	r := NewRegistry(nil, bridge)
	r.Replace(0, eventListCommand("a"), []stk.EventCode{stk.EventIdleScreenAvailable, stk.EventLanguageSelection})
	r.Replace(1, eventListCommand("b"), []stk.EventCode{stk.EventIdleScreenAvailable})

	r.Consume(0, stk.EventIdleScreenAvailable)
	if r.Subscribed(0, stk.EventIdleScreenAvailable) {
		t.Fatalf("expected idle screen to be consumed on slot 0")
	}
	if !r.Subscribed(0, stk.EventLanguageSelection) {
		t.Fatalf("expected language selection to survive")
	}
	if bridge.count("unregister_idle") != 0 {
		t.Fatalf("idle observer unregistered while slot 1 subscribes")
	}

	r.Consume(1, stk.EventIdleScreenAvailable)
	if bridge.count("unregister_idle") != 1 {
		t.Fatalf("expected idle observer unregistered, calls=%v", bridge.calls)
	}
	if _, ok := r.Origin(1); ok {
		t.Fatalf("expected empty subscription to be dropped")
	}

	r.Consume(1, stk.EventIdleScreenAvailable)
	if bridge.count("unregister_idle") != 1 {
		t.Fatalf("consume of an absent event must not touch the bridge")
	}
}

func TestReleaseAndSubscribers(t *testing.T) {
	bridge := &recordingBridge{}
	r := NewRegistry(nil, bridge)
	r.Replace(2, eventListCommand("c"), []stk.EventCode{stk.EventLanguageSelection})
	r.Replace(0, eventListCommand("a"), []stk.EventCode{stk.EventLanguageSelection, stk.EventLanguageSelection})

	if diff := cmp.Diff([]stk.SlotID{0, 2}, r.Subscribers(stk.EventLanguageSelection)); diff != "" {
		t.Fatalf("unexpected subscribers (-want +got):\n%s", diff)
	}

	r.Release(2)
	if diff := cmp.Diff([]stk.SlotID{0}, r.Subscribers(stk.EventLanguageSelection)); diff != "" {
		t.Fatalf("unexpected subscribers after release (-want +got):\n%s", diff)
	}
	r.Release(0)
	if got := r.Subscribers(stk.EventLanguageSelection); len(got) != 0 {
		t.Fatalf("expected no subscribers, got %v", got)
	}
	want := []string{"register_locale", "register_locale", "unregister_locale"}
	if diff := cmp.Diff(want, bridge.calls, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("unexpected bridge calls (-want +got):\n%s", diff)
	}
}

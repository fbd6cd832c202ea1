package slots

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/stk"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeLink struct {
	mu        sync.Mutex
	responses []stk.TerminalResponse
	closed    bool
}

func (l *fakeLink) SendTerminalResponse(_ context.Context, tr stk.TerminalResponse) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.responses = append(l.responses, tr)
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) results() []stk.ResultCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]stk.ResultCode, 0, len(l.responses))
	for _, tr := range l.responses {
		out = append(out, tr.Result)
	}
	return out
}

func (l *fakeLink) downloads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, tr := range l.responses {
		if tr.Event != nil {
			n++
		}
	}
	return n
}

func (l *fakeLink) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakePresenter struct {
	mu      sync.Mutex
	next    int
	methods []string
}

func (p *fakePresenter) record(method string) (stk.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.next++
	p.methods = append(p.methods, method)
	return stk.Handle(method + "-" + strconv.Itoa(p.next)), nil
}

func (p *fakePresenter) ShowText(context.Context, dispatch.Request) (stk.Handle, error) {
	return p.record("text")
}

func (p *fakePresenter) ShowMenu(context.Context, dispatch.Request) (stk.Handle, error) {
	return p.record("menu")
}

func (p *fakePresenter) ShowInput(context.Context, dispatch.Request) (stk.Handle, error) {
	return p.record("input")
}

func (p *fakePresenter) ShowConfirmation(context.Context, dispatch.Request) (stk.Handle, error) {
	return p.record("confirm")
}

func (p *fakePresenter) PlayTone(context.Context, dispatch.Request) (stk.Handle, error) {
	return p.record("tone")
}

func (p *fakePresenter) ShowOpenChannelChoice(context.Context, dispatch.Request) (stk.Handle, error) {
	return p.record("choice")
}

func (p *fakePresenter) StopTone(context.Context, stk.SlotID) error {
	_, err := p.record("stop_tone")
	return err
}

func (p *fakePresenter) ShowEvent(context.Context, stk.SlotID, stk.TextMessage) error {
	_, err := p.record("event")
	return err
}

func (p *fakePresenter) ShowIdleText(context.Context, stk.SlotID, stk.TextMessage) error {
	_, err := p.record("idle_text")
	return err
}

func (p *fakePresenter) ClearIdleText(context.Context, stk.SlotID) error {
	_, err := p.record("clear_idle_text")
	return err
}

func (p *fakePresenter) Finish(context.Context, stk.SlotID, stk.Handle) error {
	return nil
}

func (p *fakePresenter) count(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, m := range p.methods {
		if m == method {
			n++
		}
	}
	return n
}

type fakeDevice struct {
	mu         sync.Mutex
	screenIdle bool
}

func (d *fakeDevice) setScreenIdle(idle bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.screenIdle = idle
}

func (d *fakeDevice) IsScreenIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.screenIdle
}

func (d *fakeDevice) IsToolkitVisible() bool { return false }
func (d *fakeDevice) IsProvisioned() bool    { return true }
func (d *fakeDevice) Language() string       { return "en" }

type counter struct {
	mu    sync.Mutex
	calls map[string]int
}

func newCounter() *counter {
	return &counter{calls: make(map[string]int)}
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[name]
}

type fakeBridge struct{ *counter }

func (b fakeBridge) RegisterIdleScreen()     { b.inc("register_idle") }
func (b fakeBridge) UnregisterIdleScreen()   { b.inc("unregister_idle") }
func (b fakeBridge) RegisterUserActivity()   { b.inc("register_activity") }
func (b fakeBridge) UnregisterUserActivity() { b.inc("unregister_activity") }
func (b fakeBridge) RegisterLocaleChange()   { b.inc("register_locale") }
func (b fakeBridge) UnregisterLocaleChange() { b.inc("unregister_locale") }

type fakeHome struct{ *counter }

func (h fakeHome) RegisterHomeVisibility()   { h.inc("register_home") }
func (h fakeHome) UnregisterHomeVisibility() { h.inc("unregister_home") }

type fakeCarrier struct{}

func (fakeCarrier) IsLaunchBrowserDisabled(stk.SlotID) bool { return false }
func (fakeCarrier) DefaultBrowserURL(stk.SlotID) string     { return "" }

type fakeLauncher struct{ *counter }

func (l fakeLauncher) Install(string, []byte) error {
	l.inc("install")
	return nil
}

func (l fakeLauncher) Uninstall() (bool, error) {
	l.inc("uninstall")
	return true, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) count(typ notify.EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == typ {
			c++
		}
	}
	return c
}

type fixture struct {
	m         *Manager
	presenter *fakePresenter
	device    *fakeDevice
	calls     *counter
	notifier  *recordingNotifier

	mu    sync.Mutex
	links map[stk.SlotID]*fakeLink
}

func (f *fixture) link(slot stk.SlotID) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[slot]
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	f := &fixture{
		presenter: &fakePresenter{},
		device:    &fakeDevice{screenIdle: true},
		calls:     newCounter(),
		notifier:  &recordingNotifier{},
		links:     make(map[stk.SlotID]*fakeLink),
	}
	f.m = New(nil, Deps{
		Presenter: f.presenter,
		Device:    f.device,
		Bridge:    fakeBridge{f.calls},
		Home:      fakeHome{f.calls},
		Carrier:   fakeCarrier{},
		Launcher:  fakeLauncher{f.calls},
		Notifier:  f.notifier,
		Links: func(slot stk.SlotID) dispatch.CardLink {
			f.mu.Lock()
			defer f.mu.Unlock()
			link := &fakeLink{}
			f.links[slot] = link
			return link
		},
	}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- f.m.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-errCh; err != nil {
			t.Errorf("run returned error: %v", err)
		}
	})
	return f
}

func inputCmd(id string) stk.ProactiveCommand {
	return stk.ProactiveCommand{ID: id, Type: stk.CommandGetInput, Input: &stk.Input{Text: "PIN?"}}
}

func menuCmd(id string, items ...string) stk.ProactiveCommand {
	menu := &stk.Menu{Title: "Operator"}
	for i, text := range items {
		menu.Items = append(menu.Items, &stk.Item{ID: i + 1, Text: text})
	}
	return stk.ProactiveCommand{ID: id, Type: stk.CommandSetUpMenu, Menu: menu}
}

func mustPending(t *testing.T, m *Manager, slot stk.SlotID, want bool) {
	t.Helper()
	got, err := m.IsResponsePending(context.Background(), slot)
	if err != nil {
		t.Fatalf("is response pending slot=%s: %v", slot, err)
	}
	if got != want {
		t.Fatalf("slot %s pending=%t, want %t", slot, got, want)
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 2})
	ctx := context.Background()

	id, err := f.m.Submit(ctx, 0, stk.ProactiveCommand{Type: stk.CommandGetInput})
	if err != nil {
		t.Fatalf("submit slot 0: %v", err)
	}
	if id == "" {
		t.Fatalf("expected command id to be assigned")
	}
	if _, err := f.m.Submit(ctx, 1, inputCmd("b")); err != nil {
		t.Fatalf("submit slot 1: %v", err)
	}
	mustPending(t, f.m, 0, true)
	mustPending(t, f.m, 1, true)

	if err := f.m.SubmitResponse(ctx, 0, stk.UserResponse{CommandID: id, Kind: stk.ResponseInput, Input: "1"}); err != nil {
		t.Fatalf("submit response: %v", err)
	}
	mustPending(t, f.m, 0, false)
	mustPending(t, f.m, 1, true)

	if diff := cmp.Diff([]stk.ResultCode{stk.ResultOK}, f.link(0).results()); diff != "" {
		t.Fatalf("unexpected slot 0 results (-want +got):\n%s", diff)
	}
	if got := f.link(1).results(); len(got) != 0 {
		t.Fatalf("slot 1 must not be answered, got %v", got)
	}
	if f.notifier.count(notify.EventCommandReceived) != 2 {
		t.Fatalf("expected two received events")
	}
}

func TestUnknownSlotAndInvalidInput(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 1})
	ctx := context.Background()

	if _, err := f.m.Submit(ctx, 3, inputCmd("a")); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot, got %v", err)
	}
	if _, err := f.m.MainMenu(ctx, -1); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected ErrUnknownSlot for query, got %v", err)
	}
	if err := f.m.SubmitResponse(ctx, 0, stk.UserResponse{Kind: "wave"}); !errors.Is(err, ErrInvalidResponse) {
		t.Fatalf("expected ErrInvalidResponse, got %v", err)
	}
	if err := f.m.SubmitCardStatus(ctx, 0, true, "warm"); !errors.Is(err, ErrInvalidCardStatus) {
		t.Fatalf("expected ErrInvalidCardStatus, got %v", err)
	}
	if err := f.m.ControlTimer(ctx, 0, "stop"); !errors.Is(err, ErrUnknownTimerAction) {
		t.Fatalf("expected ErrUnknownTimerAction, got %v", err)
	}
	if err := f.m.SetSlotCount(ctx, -1); !errors.Is(err, ErrInvalidSlotCount) {
		t.Fatalf("expected ErrInvalidSlotCount, got %v", err)
	}
}

func TestSetSlotCountResizes(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 2})
	ctx := context.Background()

	if _, err := f.m.Submit(ctx, 1, inputCmd("a")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	removed := f.link(1)

	if err := f.m.SetSlotCount(ctx, 1); err != nil {
		t.Fatalf("shrink: %v", err)
	}
	if !removed.isClosed() {
		t.Fatalf("expected removed slot link to be closed")
	}
	if f.m.SlotCount() != 1 {
		t.Fatalf("expected one slot, got %d", f.m.SlotCount())
	}
	if _, err := f.m.Submit(ctx, 1, inputCmd("b")); !errors.Is(err, ErrUnknownSlot) {
		t.Fatalf("expected removed slot to be unknown, got %v", err)
	}
	if f.notifier.count(notify.EventCommandAbandoned) != 1 {
		t.Fatalf("expected in-flight command on removed slot to be abandoned")
	}

	if err := f.m.SetSlotCount(ctx, 3); err != nil {
		t.Fatalf("grow: %v", err)
	}
	snap, err := f.m.Snapshot(ctx, 2)
	if err != nil {
		t.Fatalf("snapshot new slot: %v", err)
	}
	if !snap.CardPresent || snap.ResponsePending {
		t.Fatalf("unexpected new slot snapshot %+v", snap)
	}
}

func TestLauncherRemovedOnlyWhenNoSlotHasMainMenu(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 2})
	ctx := context.Background()

	for _, slot := range []stk.SlotID{0, 1} {
		if _, err := f.m.Submit(ctx, slot, menuCmd("menu", "Balance")); err != nil {
			t.Fatalf("submit menu: %v", err)
		}
	}
	removal := stk.ProactiveCommand{Type: stk.CommandSetUpMenu, Menu: &stk.Menu{Items: []*stk.Item{nil}}}
	if _, err := f.m.Submit(ctx, 0, removal); err != nil {
		t.Fatalf("submit removal: %v", err)
	}
	available, err := f.m.IsMainMenuAvailable(ctx, 0)
	if err != nil {
		t.Fatalf("main menu available: %v", err)
	}
	if available {
		t.Fatalf("slot 0 menu must be removed")
	}
	if got := f.calls.get("uninstall"); got != 0 {
		t.Fatalf("launcher removed while slot 1 keeps a menu, uninstalls=%d", got)
	}

	if err := f.m.SubmitCardStatus(ctx, 1, false, stk.RefreshNone); err != nil {
		t.Fatalf("card absent: %v", err)
	}
	snap, err := f.m.Snapshot(ctx, 1)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.CardPresent {
		t.Fatalf("expected card link dropped")
	}
	if !f.link(1).isClosed() {
		t.Fatalf("expected detached card link to be closed")
	}
	if got := f.calls.get("uninstall"); got != 1 {
		t.Fatalf("expected launcher removal after last menu left, uninstalls=%d", got)
	}

	if err := f.m.SubmitCardStatus(ctx, 1, true, stk.RefreshNone); err != nil {
		t.Fatalf("card present: %v", err)
	}
	snap, err = f.m.Snapshot(ctx, 1)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.CardPresent {
		t.Fatalf("expected card link reattached")
	}
}

func TestDialogCountdownTimesOut(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 1, Dispatch: dispatch.Config{UITimeout: 20 * time.Millisecond}})
	ctx := context.Background()

	if _, err := f.m.Submit(ctx, 0, inputCmd("a")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(f.link(0).results()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for countdown expiry")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if diff := cmp.Diff([]stk.ResultCode{stk.ResultNoResponseFromUser}, f.link(0).results()); diff != "" {
		t.Fatalf("unexpected results (-want +got):\n%s", diff)
	}
	mustPending(t, f.m, 0, false)
}

func TestPausedCountdownDoesNotFire(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 1, Dispatch: dispatch.Config{UITimeout: 60 * time.Millisecond}})
	ctx := context.Background()

	if _, err := f.m.Submit(ctx, 0, inputCmd("a")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.m.PauseTimer(ctx, 0); err != nil {
		t.Fatalf("pause: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	mustPending(t, f.m, 0, true)

	if err := f.m.ResumeTimer(ctx, 0); err != nil {
		t.Fatalf("resume: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(f.link(0).results()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for resumed countdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTouchRestartsCountdown(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 1, Dispatch: dispatch.Config{UITimeout: 250 * time.Millisecond}})
	ctx := context.Background()

	if _, err := f.m.Submit(ctx, 0, inputCmd("a")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	if err := f.m.TouchTimer(ctx, 0); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	mustPending(t, f.m, 0, true)

	deadline := time.Now().Add(2 * time.Second)
	for len(f.link(0).results()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for touched countdown")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHomeObserverSharedAcrossSlots(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 2})
	ctx := context.Background()
	f.device.setScreenIdle(false)

	idle := stk.ProactiveCommand{Type: stk.CommandSetUpIdleModeText, Text: &stk.TextMessage{Text: "Welcome"}}
	for _, slot := range []stk.SlotID{0, 1} {
		if _, err := f.m.Submit(ctx, slot, idle); err != nil {
			t.Fatalf("submit idle text: %v", err)
		}
	}
	mustPending(t, f.m, 1, false)
	if got := f.calls.get("register_home"); got != 1 {
		t.Fatalf("expected one home registration, got %d", got)
	}

	f.device.setScreenIdle(true)
	if err := f.m.NotifyIdleScreen(ctx); err != nil {
		t.Fatalf("notify idle: %v", err)
	}
	mustPending(t, f.m, 0, false)
	if got := f.presenter.count("idle_text"); got != 2 {
		t.Fatalf("expected idle text on both slots, got %d", got)
	}
	if got := f.calls.get("unregister_home"); got != 1 {
		t.Fatalf("expected home observer released, got %d", got)
	}
}

func TestUserActivityRegistrationSharedAcrossSlots(t *testing.T) {
	f := newFixture(t, Options{SlotCount: 2})
	ctx := context.Background()

	list := func(codes ...stk.EventCode) stk.ProactiveCommand {
		return stk.ProactiveCommand{Type: stk.CommandSetUpEventList, Events: &stk.EventList{Events: codes}}
	}
	for _, slot := range []stk.SlotID{0, 1} {
		if _, err := f.m.Submit(ctx, slot, list(stk.EventUserActivity)); err != nil {
			t.Fatalf("submit event list: %v", err)
		}
	}
	if _, err := f.m.Submit(ctx, 0, list()); err != nil {
		t.Fatalf("clear slot 0: %v", err)
	}
	mustPending(t, f.m, 0, false)
	if got := f.calls.get("unregister_activity"); got != 0 {
		t.Fatalf("observer released while slot 1 subscribes")
	}

	if err := f.m.NotifyUserActivity(ctx); err != nil {
		t.Fatalf("notify activity: %v", err)
	}
	mustPending(t, f.m, 1, false)
	if got := f.calls.get("unregister_activity"); got != 1 {
		t.Fatalf("expected observer released after one-shot report, got %d", got)
	}
	if downloads := f.link(1).downloads(); downloads != 1 {
		t.Fatalf("expected one event download on slot 1, got %d", downloads)
	}
}

func TestStoppedManagerRejectsWork(t *testing.T) {
	m := New(nil, Deps{
		Presenter: &fakePresenter{},
		Device:    &fakeDevice{},
		Bridge:    fakeBridge{newCounter()},
		Carrier:   fakeCarrier{},
		Launcher:  fakeLauncher{newCounter()},
	}, Options{SlotCount: 1})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := m.Submit(context.Background(), 0, inputCmd("a")); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("expected ErrManagerStopped, got %v", err)
	}
	if _, err := m.IsResponsePending(context.Background(), 0); !errors.Is(err, ErrManagerStopped) {
		t.Fatalf("expected ErrManagerStopped for query, got %v", err)
	}
	if err := m.Run(context.Background()); !errors.Is(err, ErrManagerRunning) {
		t.Fatalf("expected second run to fail, got %v", err)
	}
}

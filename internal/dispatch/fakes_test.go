package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crabstack.local/projects/crab-stk/internal/events"
	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/session"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/timer"
)

var errPresenterDown = errors.New("presenter down")

type recordingLink struct {
	responses []stk.TerminalResponse
}

func (l *recordingLink) SendTerminalResponse(_ context.Context, tr stk.TerminalResponse) error {
	l.responses = append(l.responses, tr)
	return nil
}

func (l *recordingLink) results() []stk.ResultCode {
	out := make([]stk.ResultCode, 0, len(l.responses))
	for _, tr := range l.responses {
		out = append(out, tr.Result)
	}
	return out
}

func (l *recordingLink) last() stk.TerminalResponse {
	if len(l.responses) == 0 {
		return stk.TerminalResponse{}
	}
	return l.responses[len(l.responses)-1]
}

type presenterCall struct {
	Method  string
	Request Request
	Handle  stk.Handle
	Text    string
}

type fakePresenter struct {
	fail     bool
	next     int
	calls    []presenterCall
	finished []stk.Handle
}

func (p *fakePresenter) show(method string, req Request) (stk.Handle, error) {
	if p.fail {
		return "", errPresenterDown
	}
	p.next++
	h := stk.Handle(fmt.Sprintf("h%d", p.next))
	p.calls = append(p.calls, presenterCall{Method: method, Request: req, Handle: h})
	return h, nil
}

func (p *fakePresenter) ShowText(_ context.Context, req Request) (stk.Handle, error) {
	return p.show("text", req)
}

func (p *fakePresenter) ShowMenu(_ context.Context, req Request) (stk.Handle, error) {
	return p.show("menu", req)
}

func (p *fakePresenter) ShowInput(_ context.Context, req Request) (stk.Handle, error) {
	return p.show("input", req)
}

func (p *fakePresenter) ShowConfirmation(_ context.Context, req Request) (stk.Handle, error) {
	return p.show("confirm", req)
}

func (p *fakePresenter) PlayTone(_ context.Context, req Request) (stk.Handle, error) {
	return p.show("tone", req)
}

func (p *fakePresenter) ShowOpenChannelChoice(_ context.Context, req Request) (stk.Handle, error) {
	return p.show("choice", req)
}

func (p *fakePresenter) StopTone(context.Context, stk.SlotID) error {
	p.calls = append(p.calls, presenterCall{Method: "stop_tone"})
	return nil
}

func (p *fakePresenter) ShowEvent(_ context.Context, _ stk.SlotID, msg stk.TextMessage) error {
	p.calls = append(p.calls, presenterCall{Method: "event", Text: msg.Text})
	return nil
}

func (p *fakePresenter) ShowIdleText(_ context.Context, _ stk.SlotID, msg stk.TextMessage) error {
	p.calls = append(p.calls, presenterCall{Method: "idle_text", Text: msg.Text})
	return nil
}

func (p *fakePresenter) ClearIdleText(context.Context, stk.SlotID) error {
	p.calls = append(p.calls, presenterCall{Method: "clear_idle_text"})
	return nil
}

func (p *fakePresenter) Finish(_ context.Context, _ stk.SlotID, h stk.Handle) error {
	p.finished = append(p.finished, h)
	return nil
}

func (p *fakePresenter) methods() []string {
	out := make([]string, 0, len(p.calls))
	for _, c := range p.calls {
		out = append(out, c.Method)
	}
	return out
}

func (p *fakePresenter) lastCall() presenterCall {
	if len(p.calls) == 0 {
		return presenterCall{}
	}
	return p.calls[len(p.calls)-1]
}

type fakeDevice struct {
	screenIdle     bool
	toolkitVisible bool
	provisioned    bool
	language       string
}

func (d *fakeDevice) IsScreenIdle() bool     { return d.screenIdle }
func (d *fakeDevice) IsToolkitVisible() bool { return d.toolkitVisible }
func (d *fakeDevice) IsProvisioned() bool    { return d.provisioned }
func (d *fakeDevice) Language() string       { return d.language }

type fakeHome struct {
	registered   int
	unregistered int
}

func (h *fakeHome) RegisterHomeVisibility()   { h.registered++ }
func (h *fakeHome) UnregisterHomeVisibility() { h.unregistered++ }

type fakeCarrier struct {
	browserDisabled bool
	defaultURL      string
}

func (c *fakeCarrier) IsLaunchBrowserDisabled(stk.SlotID) bool { return c.browserDisabled }
func (c *fakeCarrier) DefaultBrowserURL(stk.SlotID) string     { return c.defaultURL }

type fakeInstaller struct {
	installs   []string
	uninstalls int
}

func (i *fakeInstaller) Install(label string, _ []byte) error {
	i.installs = append(i.installs, label)
	return nil
}

func (i *fakeInstaller) UninstallIfNoMainMenu() bool {
	i.uninstalls++
	return true
}

type fakeMenus struct {
	label string
	icon  []byte
}

func (m fakeMenus) MenuFallback(stk.SlotID) (string, []byte) {
	return m.label, m.icon
}

type fakeBrowser struct {
	launched []stk.BrowserSettings
}

func (b *fakeBrowser) Launch(_ context.Context, _ stk.SlotID, settings stk.BrowserSettings) error {
	b.launched = append(b.launched, settings)
	return nil
}

type timerStart struct {
	Key       timer.Key
	CommandID string
	Duration  time.Duration
}

type fakeTimers struct {
	started   []timerStart
	cancelled []timer.Key
	active    map[timer.Key]string
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{active: make(map[timer.Key]string)}
}

func (f *fakeTimers) Start(key timer.Key, commandID string, d time.Duration) {
	f.started = append(f.started, timerStart{Key: key, CommandID: commandID, Duration: d})
	f.active[key] = commandID
}

func (f *fakeTimers) Cancel(key timer.Key) {
	f.cancelled = append(f.cancelled, key)
	delete(f.active, key)
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Publish(_ context.Context, event notify.Event) {
	n.events = append(n.events, event)
}

func (n *recordingNotifier) types() []notify.EventType {
	out := make([]notify.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type countingBridge struct {
	calls map[string]int
}

func newCountingBridge() *countingBridge {
	return &countingBridge{calls: make(map[string]int)}
}

func (b *countingBridge) RegisterIdleScreen()     { b.calls["register_idle"]++ }
func (b *countingBridge) UnregisterIdleScreen()   { b.calls["unregister_idle"]++ }
func (b *countingBridge) RegisterUserActivity()   { b.calls["register_activity"]++ }
func (b *countingBridge) UnregisterUserActivity() { b.calls["unregister_activity"]++ }
func (b *countingBridge) RegisterLocaleChange()   { b.calls["register_locale"]++ }
func (b *countingBridge) UnregisterLocaleChange() { b.calls["unregister_locale"]++ }

type harness struct {
	d         *Dispatcher
	sess      *session.SlotSession
	link      *recordingLink
	presenter *fakePresenter
	device    *fakeDevice
	home      *fakeHome
	carrier   *fakeCarrier
	installer *fakeInstaller
	browser   *fakeBrowser
	timers    *fakeTimers
	notifier  *recordingNotifier
	bridge    *countingBridge
	registry  *events.Registry
}

func newHarness() *harness {
	bridge := newCountingBridge()
	return newHarnessWithRegistry(0, events.NewRegistry(nil, bridge), bridge)
}

func newHarnessWithRegistry(slot stk.SlotID, registry *events.Registry, bridge *countingBridge) *harness {
	h := &harness{
		link:      &recordingLink{},
		presenter: &fakePresenter{},
		device:    &fakeDevice{screenIdle: true, provisioned: true, language: "en"},
		home:      &fakeHome{},
		carrier:   &fakeCarrier{defaultURL: "https://operator.example/portal"},
		installer: &fakeInstaller{},
		browser:   &fakeBrowser{},
		timers:    newFakeTimers(),
		notifier:  &recordingNotifier{},
		bridge:    bridge,
		registry:  registry,
	}
	h.sess = session.New(slot, h.link)
	h.d = New(nil, h.sess, registry, Deps{
		Presenter: h.presenter,
		Device:    h.device,
		Home:      h.home,
		Carrier:   h.carrier,
		Installer: h.installer,
		Menus:     fakeMenus{label: "Operator Services", icon: []byte{0xAA}},
		Browser:   h.browser,
		Timers:    h.timers,
		Notifier:  h.notifier,
	}, Config{})
	return h
}

func inputCmd(id string) stk.ProactiveCommand {
	return stk.ProactiveCommand{ID: id, Type: stk.CommandGetInput, Input: &stk.Input{Text: "PIN?", MaxLen: 8}}
}

func textCmd(id string, text string) stk.ProactiveCommand {
	return stk.ProactiveCommand{ID: id, Type: stk.CommandDisplayText, Text: &stk.TextMessage{Text: text}}
}

func menuCmd(id string, title string, items ...string) stk.ProactiveCommand {
	menu := &stk.Menu{Title: title}
	for i, text := range items {
		menu.Items = append(menu.Items, &stk.Item{ID: i + 1, Text: text})
	}
	return stk.ProactiveCommand{ID: id, Type: stk.CommandSetUpMenu, Menu: menu}
}

func selectCmd(id string, items ...string) stk.ProactiveCommand {
	cmd := menuCmd(id, "Pick", items...)
	cmd.Type = stk.CommandSelectItem
	return cmd
}

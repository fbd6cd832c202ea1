package slots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/events"
	"crabstack.local/projects/crab-stk/internal/ids"
	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/session"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/timer"
)

var (
	ErrUnknownSlot        = errors.New("unknown slot")
	ErrManagerStopped     = errors.New("slot manager stopped")
	ErrManagerRunning     = errors.New("slot manager already running")
	ErrInvalidSlotCount   = errors.New("invalid slot count")
	ErrInvalidCardStatus  = errors.New("invalid card status")
	ErrInvalidResponse    = errors.New("invalid user response")
	ErrUnknownTimerAction = errors.New("unknown timer action")
)

const defaultQueueSize = 256

// LinkFactory opens the card link of a slot. It returns nil when the slot
// has no card service; terminal responses are then dropped.
type LinkFactory func(stk.SlotID) dispatch.CardLink

// Launcher owns the toolkit launcher entry shared by every slot.
type Launcher interface {
	Install(label string, icon []byte) error
	Uninstall() (bool, error)
}

type Deps struct {
	Presenter dispatch.Presenter
	Device    dispatch.DeviceState
	Bridge    events.Bridge
	Home      dispatch.HomeObserver
	Carrier   dispatch.CarrierPolicy
	Launcher  Launcher
	Menus     dispatch.MenuConfig
	Browser   dispatch.BrowserLauncher
	Notifier  dispatch.Notifier
	Links     LinkFactory
}

type Options struct {
	SlotCount int
	QueueSize int
	Dispatch  dispatch.Config
}

type op func(context.Context)

// Manager owns every slot session. All state transitions run on the goroutine
// executing Run; the exported methods only post work to it.
type Manager struct {
	logger   *log.Logger
	deps     Deps
	cfg      dispatch.Config
	timers   *timer.Service
	registry *events.Registry
	newID    func() string

	ops       chan op
	done      chan struct{}
	closeOnce sync.Once
	running   atomic.Bool
	slotCount atomic.Int64

	// Owned by the loop.
	slots          map[stk.SlotID]*dispatch.Dispatcher
	homeRegistered bool
}

func New(logger *log.Logger, deps Deps, opts Options) *Manager {
	if deps.Presenter == nil {
		panic("slots: presenter is required")
	}
	if deps.Device == nil {
		panic("slots: device state is required")
	}
	if deps.Bridge == nil {
		panic("slots: event bridge is required")
	}
	if deps.Carrier == nil {
		panic("slots: carrier policy is required")
	}
	if deps.Launcher == nil {
		panic("slots: launcher is required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	m := &Manager{
		logger:   logger,
		deps:     deps,
		cfg:      opts.Dispatch,
		registry: events.NewRegistry(logger, deps.Bridge),
		newID:    ids.New,
		ops:      make(chan op, queueSize),
		done:     make(chan struct{}),
		slots:    make(map[stk.SlotID]*dispatch.Dispatcher),
	}
	m.timers = timer.New(logger, m.postTimer)
	for i := 0; i < opts.SlotCount; i++ {
		m.addSlot(stk.SlotID(i))
	}
	m.slotCount.Store(int64(len(m.slots)))
	return m
}

// Run processes posted work until ctx is cancelled. It may only be called
// once.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrManagerRunning
	}
	defer m.closeOnce.Do(func() { close(m.done) })
	defer m.timers.Close()

	m.logger.Printf("slot manager started slots=%d", m.slotCount.Load())
	for {
		select {
		case <-ctx.Done():
			for _, d := range m.ordered() {
				closeLink(m.logger, d.Session().Slot, d.Session().CardLink)
			}
			m.logger.Printf("slot manager stopped")
			return nil
		case fn := <-m.ops:
			fn(ctx)
		}
	}
}

// Done is closed once Run returned.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) SlotCount() int {
	return int(m.slotCount.Load())
}

// Submit hands a proactive command to the slot and returns its identifier,
// assigning one when the card transport supplied none.
func (m *Manager) Submit(ctx context.Context, slot stk.SlotID, cmd stk.ProactiveCommand) (string, error) {
	if err := m.checkSlot(slot); err != nil {
		return "", err
	}
	if cmd.ID == "" {
		cmd.ID = m.newID()
	}
	err := m.post(ctx, func(loopCtx context.Context) {
		d, ok := m.slots[slot]
		if !ok {
			m.logger.Printf("command dropped slot=%s command_id=%s reason=slot_removed", slot, cmd.ID)
			return
		}
		m.publish(loopCtx, notify.CommandEvent(notify.EventCommandReceived, slot, cmd))
		d.Submit(loopCtx, cmd)
	})
	if err != nil {
		return "", err
	}
	return cmd.ID, nil
}

func (m *Manager) SubmitSessionEnd(ctx context.Context, slot stk.SlotID) error {
	return m.postSlot(ctx, slot, func(loopCtx context.Context, d *dispatch.Dispatcher) {
		d.SubmitSessionEnd(loopCtx)
	})
}

// SubmitCardStatus reports card insertion or removal. refresh is only
// meaningful when present is true.
func (m *Manager) SubmitCardStatus(ctx context.Context, slot stk.SlotID, present bool, refresh stk.RefreshResult) error {
	if !refresh.Valid() {
		return fmt.Errorf("%w: refresh result %q", ErrInvalidCardStatus, refresh)
	}
	return m.postSlot(ctx, slot, func(loopCtx context.Context, d *dispatch.Dispatcher) {
		if !present {
			link := d.Session().CardLink
			d.CardAbsent(loopCtx)
			closeLink(m.logger, slot, link)
			m.timers.CancelSlot(slot)
			m.releaseHomeIfIdle()
			return
		}
		var link dispatch.CardLink
		if d.Session().CardLink == nil && m.deps.Links != nil {
			link = m.deps.Links(slot)
		}
		d.CardPresent(loopCtx, link, refresh)
	})
}

func (m *Manager) SubmitResponse(ctx context.Context, slot stk.SlotID, resp stk.UserResponse) error {
	if !resp.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidResponse, resp.Kind)
	}
	return m.postSlot(ctx, slot, func(loopCtx context.Context, d *dispatch.Dispatcher) {
		d.ResolveResponse(loopCtx, resp)
	})
}

func (m *Manager) LaunchMainMenu(ctx context.Context, slot stk.SlotID) (bool, error) {
	return query(ctx, m, slot, func(loopCtx context.Context, d *dispatch.Dispatcher) bool {
		return d.LaunchMainMenu(loopCtx)
	})
}

func (m *Manager) SetMenuVisible(ctx context.Context, slot stk.SlotID, visible bool) error {
	return m.postSlot(ctx, slot, func(_ context.Context, d *dispatch.Dispatcher) {
		d.SetMenuVisible(visible)
	})
}

func (m *Manager) MainMenu(ctx context.Context, slot stk.SlotID) (*stk.Menu, error) {
	return query(ctx, m, slot, func(_ context.Context, d *dispatch.Dispatcher) *stk.Menu {
		return d.MainMenu()
	})
}

func (m *Manager) CurrentMenu(ctx context.Context, slot stk.SlotID) (*stk.Menu, error) {
	return query(ctx, m, slot, func(_ context.Context, d *dispatch.Dispatcher) *stk.Menu {
		return d.CurrentMenu()
	})
}

func (m *Manager) IsMainMenuAvailable(ctx context.Context, slot stk.SlotID) (bool, error) {
	return query(ctx, m, slot, func(_ context.Context, d *dispatch.Dispatcher) bool {
		return d.Session().MainMenuAvailable()
	})
}

func (m *Manager) IsResponsePending(ctx context.Context, slot stk.SlotID) (bool, error) {
	return query(ctx, m, slot, func(_ context.Context, d *dispatch.Dispatcher) bool {
		return d.Session().InProgress
	})
}

func (m *Manager) Snapshot(ctx context.Context, slot stk.SlotID) (session.Snapshot, error) {
	return query(ctx, m, slot, func(_ context.Context, d *dispatch.Dispatcher) session.Snapshot {
		snap := d.Session().Snapshot()
		if menu := d.MainMenu(); menu != nil {
			snap.MainMenuTitle = menu.Title
		}
		return snap
	})
}

// SetSlotCount grows or shrinks the set of slots. Removed slots are torn down
// as if their card was pulled and their card links are closed.
func (m *Manager) SetSlotCount(ctx context.Context, count int) error {
	if count < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidSlotCount, count)
	}
	reply := make(chan struct{})
	err := m.post(ctx, func(loopCtx context.Context) {
		defer close(reply)
		m.resize(loopCtx, count)
	})
	if err != nil {
		return err
	}
	return m.wait(ctx, reply)
}

func (m *Manager) NotifyIdleScreen(ctx context.Context) error {
	return m.post(ctx, func(loopCtx context.Context) {
		for _, d := range m.ordered() {
			d.OnIdleScreen(loopCtx)
		}
		m.releaseHomeIfIdle()
	})
}

func (m *Manager) NotifyUserActivity(ctx context.Context) error {
	return m.post(ctx, func(loopCtx context.Context) {
		for _, d := range m.ordered() {
			d.OnUserActivity(loopCtx)
		}
	})
}

func (m *Manager) NotifyLocaleChanged(ctx context.Context, language string) error {
	return m.post(ctx, func(loopCtx context.Context) {
		for _, d := range m.ordered() {
			d.OnLocaleChanged(loopCtx, language)
		}
	})
}

type TimerAction string

const (
	TimerTouch  TimerAction = "touch"
	TimerPause  TimerAction = "pause"
	TimerResume TimerAction = "resume"
)

// ControlTimer touches, pauses or resumes the dialog countdown of the slot.
func (m *Manager) ControlTimer(ctx context.Context, slot stk.SlotID, action TimerAction) error {
	key := timer.Key{Slot: slot, Kind: timer.KindDialog}
	var apply func(timer.Key)
	switch action {
	case TimerTouch:
		apply = m.timers.Reset
	case TimerPause:
		apply = m.timers.Pause
	case TimerResume:
		apply = m.timers.Resume
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTimerAction, action)
	}
	return m.postSlot(ctx, slot, func(context.Context, *dispatch.Dispatcher) {
		apply(key)
	})
}

func (m *Manager) TouchTimer(ctx context.Context, slot stk.SlotID) error {
	return m.ControlTimer(ctx, slot, TimerTouch)
}

func (m *Manager) PauseTimer(ctx context.Context, slot stk.SlotID) error {
	return m.ControlTimer(ctx, slot, TimerPause)
}

func (m *Manager) ResumeTimer(ctx context.Context, slot stk.SlotID) error {
	return m.ControlTimer(ctx, slot, TimerResume)
}

func (m *Manager) post(ctx context.Context, fn op) error {
	select {
	case <-m.done:
		return ErrManagerStopped
	default:
	}
	select {
	case m.ops <- fn:
		return nil
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) postSlot(ctx context.Context, slot stk.SlotID, fn func(context.Context, *dispatch.Dispatcher)) error {
	if err := m.checkSlot(slot); err != nil {
		return err
	}
	return m.post(ctx, func(loopCtx context.Context) {
		d, ok := m.slots[slot]
		if !ok {
			m.logger.Printf("slot operation dropped slot=%s reason=slot_removed", slot)
			return
		}
		fn(loopCtx, d)
	})
}

func (m *Manager) wait(ctx context.Context, reply <-chan struct{}) error {
	select {
	case <-reply:
		return nil
	case <-m.done:
		return ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func query[T any](ctx context.Context, m *Manager, slot stk.SlotID, fn func(context.Context, *dispatch.Dispatcher) T) (T, error) {
	var zero T
	if err := m.checkSlot(slot); err != nil {
		return zero, err
	}
	type result struct {
		value T
		err   error
	}
	reply := make(chan result, 1)
	err := m.post(ctx, func(loopCtx context.Context) {
		d, ok := m.slots[slot]
		if !ok {
			reply <- result{err: fmt.Errorf("%w: %s", ErrUnknownSlot, slot)}
			return
		}
		reply <- result{value: fn(loopCtx, d)}
	})
	if err != nil {
		return zero, err
	}
	select {
	case r := <-reply:
		return r.value, r.err
	case <-m.done:
		return zero, ErrManagerStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (m *Manager) checkSlot(slot stk.SlotID) error {
	if slot < 0 || int64(slot) >= m.slotCount.Load() {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
	}
	return nil
}

// postTimer is the timer sink. It runs on timer goroutines.
func (m *Manager) postTimer(fired timer.Fired) {
	select {
	case m.ops <- func(loopCtx context.Context) {
		d, ok := m.slots[fired.Key.Slot]
		if !ok {
			return
		}
		d.HandleTimer(loopCtx, fired)
	}:
	case <-m.done:
	}
}

func (m *Manager) addSlot(slot stk.SlotID) {
	var link dispatch.CardLink
	if m.deps.Links != nil {
		link = m.deps.Links(slot)
	}
	sess := session.New(slot, link)
	m.slots[slot] = dispatch.New(m.logger, sess, m.registry, dispatch.Deps{
		Presenter: m.deps.Presenter,
		Device:    m.deps.Device,
		Home:      homeGate{m: m},
		Carrier:   m.deps.Carrier,
		Installer: installGate{m: m},
		Menus:     m.deps.Menus,
		Browser:   m.deps.Browser,
		Timers:    m.timers,
		Notifier:  m.deps.Notifier,
	}, m.cfg)
}

func (m *Manager) resize(ctx context.Context, count int) {
	previous := len(m.slots)
	for i := previous; i < count; i++ {
		m.addSlot(stk.SlotID(i))
	}
	for i := count; i < previous; i++ {
		slot := stk.SlotID(i)
		d := m.slots[slot]
		link := d.Session().CardLink
		d.CardAbsent(ctx)
		m.timers.CancelSlot(slot)
		delete(m.slots, slot)
		closeLink(m.logger, slot, link)
	}
	m.slotCount.Store(int64(len(m.slots)))
	m.releaseHomeIfIdle()

	m.logger.Printf("slot count changed from=%d to=%d", previous, count)
	m.publish(ctx, notify.Event{Type: notify.EventSlotsChanged, Detail: strconv.Itoa(count)})
}

func (m *Manager) ordered() []*dispatch.Dispatcher {
	keys := make([]stk.SlotID, 0, len(m.slots))
	for slot := range m.slots {
		keys = append(keys, slot)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]*dispatch.Dispatcher, 0, len(keys))
	for _, slot := range keys {
		out = append(out, m.slots[slot])
	}
	return out
}

func (m *Manager) anyMainMenu() bool {
	for _, d := range m.slots {
		if d.Session().MainCommand != nil {
			return true
		}
	}
	return false
}

func (m *Manager) releaseHomeIfIdle() {
	if !m.homeRegistered {
		return
	}
	for _, d := range m.slots {
		if d.IdleTextPending() {
			return
		}
	}
	m.homeRegistered = false
	if m.deps.Home != nil {
		m.deps.Home.UnregisterHomeVisibility()
	}
}

func (m *Manager) publish(ctx context.Context, event notify.Event) {
	if m.deps.Notifier == nil {
		return
	}
	m.deps.Notifier.Publish(ctx, event)
}

func closeLink(logger *log.Logger, slot stk.SlotID, link dispatch.CardLink) {
	closer, ok := link.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Printf("card link close failed slot=%s err=%v", slot, err)
	}
}

// homeGate registers the host home observer once for all slots.
type homeGate struct {
	m *Manager
}

func (g homeGate) RegisterHomeVisibility() {
	if g.m.homeRegistered {
		return
	}
	g.m.homeRegistered = true
	if g.m.deps.Home != nil {
		g.m.deps.Home.RegisterHomeVisibility()
	}
}

func (g homeGate) UnregisterHomeVisibility() {
	g.m.releaseHomeIfIdle()
}

// installGate removes the launcher entry only when no slot keeps a main menu.
type installGate struct {
	m *Manager
}

func (g installGate) Install(label string, icon []byte) error {
	return g.m.deps.Launcher.Install(label, icon)
}

func (g installGate) UninstallIfNoMainMenu() bool {
	if g.m.anyMainMenu() {
		return false
	}
	removed, err := g.m.deps.Launcher.Uninstall()
	if err != nil {
		g.m.logger.Printf("launcher uninstall failed err=%v", err)
		return false
	}
	return removed
}

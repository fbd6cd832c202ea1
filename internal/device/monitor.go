package device

import (
	"context"
	"io"
	"log"
	"strings"
	"sync"
)

// Sink receives the host signals a slot manager subscribed to.
type Sink interface {
	NotifyIdleScreen(context.Context) error
	NotifyUserActivity(context.Context) error
	NotifyLocaleChanged(context.Context, string) error
}

type State struct {
	ScreenIdle     bool   `json:"screen_idle"`
	ToolkitVisible bool   `json:"toolkit_visible"`
	Provisioned    bool   `json:"provisioned"`
	Language       string `json:"language"`
}

func DefaultState() State {
	return State{ScreenIdle: true, Provisioned: true, Language: "en"}
}

// Signal is one host report. Nil fields are left unchanged.
type Signal struct {
	IdleScreen     *bool   `json:"idle_screen,omitempty"`
	ToolkitVisible *bool   `json:"toolkit_visible,omitempty"`
	Provisioned    *bool   `json:"provisioned,omitempty"`
	Locale         *string `json:"locale,omitempty"`
	UserActivity   bool    `json:"user_activity,omitempty"`
}

type Registrations struct {
	IdleScreen   bool `json:"idle_screen"`
	UserActivity bool `json:"user_activity"`
	Locale       bool `json:"locale"`
	Home         bool `json:"home"`
}

// Monitor holds the host device state read by the dispatchers and tracks
// which host signals they asked for. Register and Unregister calls come
// from the slot loop and only flip flags; forwarding happens in Update on
// the caller's goroutine.
type Monitor struct {
	logger *log.Logger

	mu    sync.Mutex
	state State
	regs  Registrations
	sink  Sink
}

func NewMonitor(logger *log.Logger, initial State) *Monitor {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Monitor{logger: logger, state: initial}
}

// Bind sets the sink that receives subscribed signals.
func (m *Monitor) Bind(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = sink
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) Registrations() Registrations {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs
}

func (m *Monitor) IsScreenIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ScreenIdle
}

func (m *Monitor) IsToolkitVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.ToolkitVisible
}

func (m *Monitor) IsProvisioned() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Provisioned
}

func (m *Monitor) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Language
}

func (m *Monitor) RegisterIdleScreen() { m.setReg(func(r *Registrations) { r.IdleScreen = true }) }
func (m *Monitor) UnregisterIdleScreen() { m.setReg(func(r *Registrations) { r.IdleScreen = false }) }
func (m *Monitor) RegisterUserActivity() { m.setReg(func(r *Registrations) { r.UserActivity = true }) }
func (m *Monitor) UnregisterUserActivity() { m.setReg(func(r *Registrations) { r.UserActivity = false }) }
func (m *Monitor) RegisterLocaleChange() { m.setReg(func(r *Registrations) { r.Locale = true }) }
func (m *Monitor) UnregisterLocaleChange() { m.setReg(func(r *Registrations) { r.Locale = false }) }
func (m *Monitor) RegisterHomeVisibility() { m.setReg(func(r *Registrations) { r.Home = true }) }
func (m *Monitor) UnregisterHomeVisibility() { m.setReg(func(r *Registrations) { r.Home = false }) }

func (m *Monitor) setReg(fn func(*Registrations)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.regs)
}

// Update applies a host report and forwards the signals somebody
// registered for. The idle screen is forwarded on the transition to idle.
func (m *Monitor) Update(ctx context.Context, sig Signal) error {
	m.mu.Lock()
	prev := m.state
	if sig.IdleScreen != nil {
		m.state.ScreenIdle = *sig.IdleScreen
	}
	if sig.ToolkitVisible != nil {
		m.state.ToolkitVisible = *sig.ToolkitVisible
	}
	if sig.Provisioned != nil {
		m.state.Provisioned = *sig.Provisioned
	}
	if sig.Locale != nil {
		if lang := strings.TrimSpace(*sig.Locale); lang != "" {
			m.state.Language = lang
		}
	}
	next := m.state
	regs := m.regs
	sink := m.sink
	m.mu.Unlock()

	if sink == nil {
		return nil
	}
	if !prev.ScreenIdle && next.ScreenIdle && (regs.IdleScreen || regs.Home) {
		m.logger.Printf("device signal forwarded signal=idle_screen")
		if err := sink.NotifyIdleScreen(ctx); err != nil {
			return err
		}
	}
	if sig.UserActivity && regs.UserActivity {
		m.logger.Printf("device signal forwarded signal=user_activity")
		if err := sink.NotifyUserActivity(ctx); err != nil {
			return err
		}
	}
	if prev.Language != next.Language && regs.Locale {
		m.logger.Printf("device signal forwarded signal=locale language=%s", next.Language)
		if err := sink.NotifyLocaleChanged(ctx, next.Language); err != nil {
			return err
		}
	}
	return nil
}

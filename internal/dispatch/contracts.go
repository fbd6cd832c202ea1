package dispatch

import (
	"context"
	"time"

	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/session"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/timer"
)

type CardLink = session.CardLink

type RequestKind string

const (
	RequestText    RequestKind = "text"
	RequestMenu    RequestKind = "menu"
	RequestInput   RequestKind = "input"
	RequestConfirm RequestKind = "confirm"
	RequestTone    RequestKind = "tone"
	RequestChoice  RequestKind = "choice"
)

// Request is everything a presenter needs to render one surface. The
// payload pointers are private copies; presenters may keep them.
type Request struct {
	Slot        stk.SlotID        `json:"slot"`
	CommandID   string            `json:"command_id"`
	CommandType stk.CommandType   `json:"command_type"`
	Kind        RequestKind       `json:"kind"`
	Title       string            `json:"title,omitempty"`
	Text        *stk.TextMessage  `json:"text,omitempty"`
	Menu        *stk.Menu         `json:"menu,omitempty"`
	Input       *stk.Input        `json:"input,omitempty"`
	Tone        *stk.ToneSettings `json:"tone,omitempty"`
	DurationMS  int64             `json:"duration_ms,omitempty"`
	Secondary   bool              `json:"secondary,omitempty"`
	ShowText    bool              `json:"show_text,omitempty"`
}

// Presenter renders toolkit surfaces. Every call returns immediately; user
// answers come back later as stk.UserResponse values through the slot
// manager.
type Presenter interface {
	ShowText(context.Context, Request) (stk.Handle, error)
	ShowMenu(context.Context, Request) (stk.Handle, error)
	ShowInput(context.Context, Request) (stk.Handle, error)
	ShowConfirmation(context.Context, Request) (stk.Handle, error)
	PlayTone(context.Context, Request) (stk.Handle, error)
	ShowOpenChannelChoice(context.Context, Request) (stk.Handle, error)
	StopTone(context.Context, stk.SlotID) error
	ShowEvent(context.Context, stk.SlotID, stk.TextMessage) error
	ShowIdleText(context.Context, stk.SlotID, stk.TextMessage) error
	ClearIdleText(context.Context, stk.SlotID) error
	Finish(context.Context, stk.SlotID, stk.Handle) error
}

type DeviceState interface {
	IsScreenIdle() bool
	// IsToolkitVisible reports whether any toolkit surface is in the
	// foreground.
	IsToolkitVisible() bool
	IsProvisioned() bool
	Language() string
}

// HomeObserver watches for the home screen on behalf of pending idle texts.
type HomeObserver interface {
	RegisterHomeVisibility()
	UnregisterHomeVisibility()
}

type CarrierPolicy interface {
	IsLaunchBrowserDisabled(stk.SlotID) bool
	DefaultBrowserURL(stk.SlotID) string
}

type InstallController interface {
	Install(label string, icon []byte) error
	UninstallIfNoMainMenu() bool
}

// MenuConfig supplies the operator label and icon used when the card's main
// menu carries neither.
type MenuConfig interface {
	MenuFallback(stk.SlotID) (label string, icon []byte)
}

type BrowserLauncher interface {
	Launch(context.Context, stk.SlotID, stk.BrowserSettings) error
}

type Timers interface {
	Start(key timer.Key, commandID string, d time.Duration)
	Cancel(key timer.Key)
}

type Notifier interface {
	Publish(context.Context, notify.Event)
}

// DefaultTexts are shown when the card leaves a message empty.
type DefaultTexts struct {
	SetUpCall    string
	OpenChannel  string
	CloseChannel string
	SendData     string
	ReceiveData  string
	Tone         string
}

func DefaultTextsEnglish() DefaultTexts {
	return DefaultTexts{
		SetUpCall:    "Set up call?",
		OpenChannel:  "Open data channel?",
		CloseChannel: "Closing data channel",
		SendData:     "Sending data",
		ReceiveData:  "Receiving data",
		Tone:         "Playing tone",
	}
}

type Config struct {
	UITimeout        time.Duration
	ToneDuration     time.Duration
	SuppressToneText bool
	Texts            DefaultTexts
}

func (c Config) withDefaults() Config {
	if c.UITimeout <= 0 {
		c.UITimeout = stk.DefaultUITimeout
	}
	if c.ToneDuration <= 0 {
		c.ToneDuration = stk.DefaultToneDuration
	}
	defaults := DefaultTextsEnglish()
	if c.Texts.SetUpCall == "" {
		c.Texts.SetUpCall = defaults.SetUpCall
	}
	if c.Texts.OpenChannel == "" {
		c.Texts.OpenChannel = defaults.OpenChannel
	}
	if c.Texts.CloseChannel == "" {
		c.Texts.CloseChannel = defaults.CloseChannel
	}
	if c.Texts.SendData == "" {
		c.Texts.SendData = defaults.SendData
	}
	if c.Texts.ReceiveData == "" {
		c.Texts.ReceiveData = defaults.ReceiveData
	}
	if c.Texts.Tone == "" {
		c.Texts.Tone = defaults.Tone
	}
	return c
}

// Deps are the collaborators shared by every slot's dispatcher.
// Notifier, Home, Menus and Browser are optional.
type Deps struct {
	Presenter Presenter
	Device    DeviceState
	Home      HomeObserver
	Carrier   CarrierPolicy
	Installer InstallController
	Menus     MenuConfig
	Browser   BrowserLauncher
	Timers    Timers
	Notifier  Notifier
}

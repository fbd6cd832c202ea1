package session

import (
	"context"

	"crabstack.local/projects/crab-stk/internal/stk"
)

// CardLink delivers terminal responses and envelopes to one slot's card.
type CardLink interface {
	SendTerminalResponse(context.Context, stk.TerminalResponse) error
}

// SlotSession is the mutable state of one card slot. It is owned by the
// slot manager's loop goroutine and must not be touched from anywhere else.
type SlotSession struct {
	Slot stk.SlotID

	MainCommand        *stk.ProactiveCommand
	CurrentCommand     *stk.ProactiveCommand
	CurrentMenuCommand *stk.ProactiveCommand
	CurrentMenu        *stk.Menu

	// LastSelectedItem is the text of the last menu selection; empty means
	// the main menu is available.
	LastSelectedItem string
	InProgress       bool
	SessionFromUser  bool

	IdleModeText    *stk.ProactiveCommand
	IdleTextVisible bool
	IdleTextPending bool

	// MenuHandle is the main menu surface. It outlives card sessions and
	// ends with the main menu itself.
	MenuHandle            stk.Handle
	ActivityHandle        stk.Handle
	DialogHandle          stk.Handle
	ImmediateDialogHandle stk.Handle
	TonePlaying           bool

	MenuVisible          bool
	LaunchBrowserPending bool
	PendingBrowser       *stk.BrowserSettings

	CardLink CardLink
	Queue    CommandQueue
}

func New(slot stk.SlotID, link CardLink) *SlotSession {
	return &SlotSession{Slot: slot, CardLink: link}
}

// MainMenuAvailable reports whether the card's main menu can be offered.
func (s *SlotSession) MainMenuAvailable() bool {
	return s.MainCommand != nil && s.LastSelectedItem == ""
}

// ClearPendingHandles forgets every outstanding presentation handle and
// returns the non-empty ones so the caller can finish them.
func (s *SlotSession) ClearPendingHandles() []stk.Handle {
	var out []stk.Handle
	for _, h := range []*stk.Handle{&s.ActivityHandle, &s.DialogHandle, &s.ImmediateDialogHandle} {
		if *h != "" {
			out = append(out, *h)
		}
		*h = ""
	}
	return out
}

// Reset returns the slot to its initial state after card removal. The card
// link is dropped and the queue emptied. Abandoned handles are returned,
// the main menu surface last.
func (s *SlotSession) Reset() []stk.Handle {
	handles := s.ClearPendingHandles()
	if s.MenuHandle != "" {
		handles = append(handles, s.MenuHandle)
	}
	slot := s.Slot
	s.Queue.Clear()
	*s = SlotSession{Slot: slot}
	return handles
}

// Snapshot is a read-only copy of the slot state for queries.
type Snapshot struct {
	Slot               stk.SlotID      `json:"slot"`
	CardPresent        bool            `json:"card_present"`
	MainMenuAvailable  bool            `json:"main_menu_available"`
	ResponsePending    bool            `json:"response_pending"`
	SessionFromUser    bool            `json:"session_from_user"`
	MenuVisible        bool            `json:"menu_visible"`
	CurrentCommandID   string          `json:"current_command_id,omitempty"`
	CurrentCommandType stk.CommandType `json:"current_command_type,omitempty"`
	MainMenuTitle      string          `json:"main_menu_title,omitempty"`
	LastSelectedItem   string          `json:"last_selected_item,omitempty"`
	IdleModeText       string          `json:"idle_mode_text,omitempty"`
	QueueDepth         int             `json:"queue_depth"`
	BrowserPending     bool            `json:"browser_pending,omitempty"`
}

func (s *SlotSession) Snapshot() Snapshot {
	snap := Snapshot{
		Slot:              s.Slot,
		CardPresent:       s.CardLink != nil,
		MainMenuAvailable: s.MainMenuAvailable(),
		ResponsePending:   s.InProgress,
		SessionFromUser:   s.SessionFromUser,
		MenuVisible:       s.MenuVisible,
		LastSelectedItem:  s.LastSelectedItem,
		QueueDepth:        s.Queue.Len(),
		BrowserPending:    s.LaunchBrowserPending,
	}
	if s.CurrentCommand != nil {
		snap.CurrentCommandID = s.CurrentCommand.ID
		snap.CurrentCommandType = s.CurrentCommand.Type
	}
	if s.MainCommand != nil && s.MainCommand.Menu != nil {
		snap.MainMenuTitle = s.MainCommand.Menu.Title
	}
	if s.IdleModeText != nil && s.IdleModeText.Text != nil {
		snap.IdleModeText = s.IdleModeText.Text.Text
	}
	return snap
}

package uihub

import (
	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/stk"
)

type FrameType string

const (
	FrameShow       FrameType = "ui.show"
	FrameFinish     FrameType = "ui.finish"
	FrameEvent      FrameType = "ui.event"
	FrameIdleText   FrameType = "ui.idle_text"
	FrameToneStop   FrameType = "ui.tone_stop"
	FrameBrowser    FrameType = "ui.browser"
	FrameResponse   FrameType = "ui.response"
	FrameVisibility FrameType = "ui.visibility"
	FrameTimer      FrameType = "ui.timer"
	FrameError      FrameType = "ui.error"
)

// ShowRequest is a presenter request tagged with the handle the UI must
// close when the hub sends ui.finish.
type ShowRequest struct {
	Handle stk.Handle `json:"handle"`
	dispatch.Request
}

// ServerFrame is sent from the daemon to UI clients. A ui.idle_text frame
// without Text clears the slot's idle text.
type ServerFrame struct {
	Type    FrameType            `json:"type"`
	Slot    stk.SlotID           `json:"slot"`
	Handle  stk.Handle           `json:"handle,omitempty"`
	Request *ShowRequest         `json:"request,omitempty"`
	Text    *stk.TextMessage     `json:"text,omitempty"`
	Browser *stk.BrowserSettings `json:"browser,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// ClientFrame is sent from a UI client to the daemon.
type ClientFrame struct {
	Type        FrameType         `json:"type"`
	Slot        stk.SlotID        `json:"slot"`
	Response    *stk.UserResponse `json:"response,omitempty"`
	MenuVisible *bool             `json:"menu_visible,omitempty"`
	Action      string            `json:"action,omitempty"`
}

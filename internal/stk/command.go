package stk

import (
	"fmt"
	"strconv"
	"strings"
)

// SlotID identifies a physical card slot. Slots are numbered from zero.
type SlotID int

func (s SlotID) String() string {
	return strconv.Itoa(int(s))
}

func ParseSlotID(raw string) (SlotID, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid slot id %q: %w", raw, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("invalid slot id %q: must be >= 0", raw)
	}
	return SlotID(value), nil
}

type CommandType string

const (
	CommandDisplayText       CommandType = "display_text"
	CommandSelectItem        CommandType = "select_item"
	CommandSetUpMenu         CommandType = "set_up_menu"
	CommandGetInput          CommandType = "get_input"
	CommandGetInkey          CommandType = "get_inkey"
	CommandSetUpIdleModeText CommandType = "set_up_idle_mode_text"
	CommandSendDTMF          CommandType = "send_dtmf"
	CommandSendSMS           CommandType = "send_sms"
	CommandSendUSSD          CommandType = "send_ussd"
	CommandSendSS            CommandType = "send_ss"
	CommandRefresh           CommandType = "refresh"
	CommandRunAT             CommandType = "run_at"
	CommandLaunchBrowser     CommandType = "launch_browser"
	CommandSetUpCall         CommandType = "set_up_call"
	CommandPlayTone          CommandType = "play_tone"
	CommandOpenChannel       CommandType = "open_channel"
	CommandCloseChannel      CommandType = "close_channel"
	CommandSendData          CommandType = "send_data"
	CommandReceiveData       CommandType = "receive_data"
	CommandSetUpEventList    CommandType = "set_up_event_list"
	CommandGetChannelStatus  CommandType = "get_channel_status"
)

// Interactive reports whether the card must wait for user interaction before
// a terminal response can be produced. Informative commands are never queued.
func (t CommandType) Interactive() bool {
	switch t {
	case CommandSendDTMF,
		CommandSendSMS,
		CommandRefresh,
		CommandRunAT,
		CommandSendSS,
		CommandSendUSSD,
		CommandSetUpIdleModeText,
		CommandSetUpMenu,
		CommandCloseChannel,
		CommandReceiveData,
		CommandSendData,
		CommandSetUpEventList:
		return false
	default:
		return true
	}
}

func (t CommandType) Valid() bool {
	switch t {
	case CommandDisplayText,
		CommandSelectItem,
		CommandSetUpMenu,
		CommandGetInput,
		CommandGetInkey,
		CommandSetUpIdleModeText,
		CommandSendDTMF,
		CommandSendSMS,
		CommandSendUSSD,
		CommandSendSS,
		CommandRefresh,
		CommandRunAT,
		CommandLaunchBrowser,
		CommandSetUpCall,
		CommandPlayTone,
		CommandOpenChannel,
		CommandCloseChannel,
		CommandSendData,
		CommandReceiveData,
		CommandSetUpEventList,
		CommandGetChannelStatus:
		return true
	default:
		return false
	}
}

// ProactiveCommand is a decoded command received from the card. Payload
// fields are populated according to Type.
type ProactiveCommand struct {
	ID             string           `json:"id,omitempty"`
	Type           CommandType      `json:"type"`
	IconLoadFailed bool             `json:"icon_load_failed,omitempty"`
	Text           *TextMessage     `json:"text,omitempty"`
	Menu           *Menu            `json:"menu,omitempty"`
	Input          *Input           `json:"input,omitempty"`
	Browser        *BrowserSettings `json:"browser,omitempty"`
	Call           *CallSettings    `json:"call,omitempty"`
	Tone           *ToneSettings    `json:"tone,omitempty"`
	Events         *EventList       `json:"events,omitempty"`
}

type TextMessage struct {
	Title               string    `json:"title,omitempty"`
	Text                string    `json:"text,omitempty"`
	AlphaAbsent         bool      `json:"alpha_absent,omitempty"`
	Icon                []byte    `json:"icon,omitempty"`
	IconSelfExplanatory bool      `json:"icon_self_explanatory,omitempty"`
	HighPriority        bool      `json:"high_priority,omitempty"`
	UserClear           bool      `json:"user_clear,omitempty"`
	ImmediateResponse   bool      `json:"immediate_response,omitempty"`
	Duration            *Duration `json:"duration,omitempty"`
}

type Item struct {
	ID   int    `json:"id"`
	Text string `json:"text"`
	Icon []byte `json:"icon,omitempty"`
}

type Menu struct {
	Title                    string  `json:"title,omitempty"`
	TitleIcon                []byte  `json:"title_icon,omitempty"`
	TitleIconSelfExplanatory bool    `json:"title_icon_self_explanatory,omitempty"`
	Items                    []*Item `json:"items"`
	DefaultItem              int     `json:"default_item,omitempty"`
	HelpAvailable            bool    `json:"help_available,omitempty"`
	SoftKeyPreferred         bool    `json:"soft_key_preferred,omitempty"`
}

// IsRemoval reports the SET-UP MENU sentinel asking the terminal to remove
// the application menu: exactly one item, and that item is null.
func (m *Menu) IsRemoval() bool {
	return m != nil && len(m.Items) == 1 && m.Items[0] == nil
}

// ItemText returns the text of the item with the given identifier.
func (m *Menu) ItemText(id int) (string, bool) {
	if m == nil {
		return "", false
	}
	for _, item := range m.Items {
		if item != nil && item.ID == id {
			return item.Text, true
		}
	}
	return "", false
}

type Input struct {
	Text          string    `json:"text,omitempty"`
	DefaultText   string    `json:"default_text,omitempty"`
	Icon          []byte    `json:"icon,omitempty"`
	MinLen        int       `json:"min_len,omitempty"`
	MaxLen        int       `json:"max_len,omitempty"`
	UCS2          bool      `json:"ucs2,omitempty"`
	Echo          bool      `json:"echo,omitempty"`
	DigitOnly     bool      `json:"digit_only,omitempty"`
	YesNo         bool      `json:"yes_no,omitempty"`
	HelpAvailable bool      `json:"help_available,omitempty"`
	Duration      *Duration `json:"duration,omitempty"`
}

type BrowserMode string

const (
	BrowserLaunchIfNotAlreadyLaunched BrowserMode = "launch_if_not_already_launched"
	BrowserUseExisting                BrowserMode = "use_existing"
	BrowserLaunchNew                  BrowserMode = "launch_new"
)

type BrowserSettings struct {
	URL     string       `json:"url,omitempty"`
	Mode    BrowserMode  `json:"mode,omitempty"`
	Confirm *TextMessage `json:"confirm,omitempty"`
}

type CallSettings struct {
	Confirm *TextMessage `json:"confirm,omitempty"`
	Call    *TextMessage `json:"call,omitempty"`
}

type ToneSettings struct {
	Tone     int       `json:"tone,omitempty"`
	Duration *Duration `json:"duration,omitempty"`
	Vibrate  bool      `json:"vibrate,omitempty"`
}

type EventList struct {
	Events []EventCode `json:"events"`
}

// Clone returns a deep copy. Presentation-time substitutions (default texts,
// dialog titles) are applied to clones so the stored command stays untouched.
func (c ProactiveCommand) Clone() ProactiveCommand {
	out := c
	out.Text = c.Text.Clone()
	out.Menu = c.Menu.Clone()
	if c.Input != nil {
		in := *c.Input
		in.Icon = cloneBytes(c.Input.Icon)
		in.Duration = c.Input.Duration.Clone()
		out.Input = &in
	}
	if c.Browser != nil {
		b := *c.Browser
		b.Confirm = c.Browser.Confirm.Clone()
		out.Browser = &b
	}
	if c.Call != nil {
		call := *c.Call
		call.Confirm = c.Call.Confirm.Clone()
		call.Call = c.Call.Call.Clone()
		out.Call = &call
	}
	if c.Tone != nil {
		tone := *c.Tone
		tone.Duration = c.Tone.Duration.Clone()
		out.Tone = &tone
	}
	if c.Events != nil {
		events := EventList{Events: append([]EventCode(nil), c.Events.Events...)}
		out.Events = &events
	}
	return out
}

func (m *TextMessage) Clone() *TextMessage {
	if m == nil {
		return nil
	}
	out := *m
	out.Icon = cloneBytes(m.Icon)
	out.Duration = m.Duration.Clone()
	return &out
}

func (m *Menu) Clone() *Menu {
	if m == nil {
		return nil
	}
	out := *m
	out.TitleIcon = cloneBytes(m.TitleIcon)
	if m.Items != nil {
		out.Items = make([]*Item, len(m.Items))
		for i, item := range m.Items {
			if item == nil {
				continue
			}
			copied := *item
			copied.Icon = cloneBytes(item.Icon)
			out.Items[i] = &copied
		}
	}
	return &out
}

func cloneBytes(in []byte) []byte {
	if in == nil {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/slots"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/uihub"
)

// Board tracks the surfaces the daemon currently has open. The most recently
// shown surface has focus and receives typed answers.
type Board struct {
	surfaces map[stk.Handle]surface
	idle     map[stk.SlotID]string
	seq      int64
}

type surface struct {
	seq int64
	req uihub.ShowRequest
}

func NewBoard() *Board {
	return &Board{
		surfaces: make(map[stk.Handle]surface),
		idle:     make(map[stk.SlotID]string),
	}
}

// Apply folds a server frame into the board and returns a log line for it.
func (b *Board) Apply(frame uihub.ServerFrame) string {
	switch frame.Type {
	case uihub.FrameShow:
		if frame.Request == nil {
			return fmt.Sprintf("slot=%s show without request", frame.Slot)
		}
		b.seq++
		b.surfaces[frame.Request.Handle] = surface{seq: b.seq, req: *frame.Request}
		return fmt.Sprintf("slot=%s show %s command=%s type=%s", frame.Slot, frame.Request.Kind, frame.Request.CommandID, frame.Request.CommandType)
	case uihub.FrameFinish:
		delete(b.surfaces, frame.Handle)
		return fmt.Sprintf("slot=%s finish handle=%s", frame.Slot, frame.Handle)
	case uihub.FrameBrowser:
		if frame.Browser == nil {
			return fmt.Sprintf("slot=%s browser", frame.Slot)
		}
		return fmt.Sprintf("slot=%s open browser url=%s mode=%s", frame.Slot, frame.Browser.URL, frame.Browser.Mode)
	case uihub.FrameToneStop:
		return fmt.Sprintf("slot=%s tone stopped", frame.Slot)
	case uihub.FrameIdleText:
		if frame.Text == nil {
			delete(b.idle, frame.Slot)
			return fmt.Sprintf("slot=%s idle text cleared", frame.Slot)
		}
		b.idle[frame.Slot] = frame.Text.Text
		return fmt.Sprintf("slot=%s idle text: %s", frame.Slot, frame.Text.Text)
	case uihub.FrameEvent:
		if frame.Text == nil {
			return fmt.Sprintf("slot=%s event", frame.Slot)
		}
		return fmt.Sprintf("slot=%s event: %s", frame.Slot, frame.Text.Text)
	default:
		return fmt.Sprintf("slot=%s %s", frame.Slot, frame.Type)
	}
}

// Focused returns the newest open surface.
func (b *Board) Focused() (uihub.ShowRequest, bool) {
	var (
		best  surface
		found bool
	)
	for _, s := range b.surfaces {
		if !found || s.seq > best.seq {
			best = s
			found = true
		}
	}
	return best.req, found
}

func (b *Board) Len() int {
	return len(b.surfaces)
}

// IdleTexts lists the idle-mode texts by slot.
func (b *Board) IdleTexts() []string {
	slotIDs := make([]int, 0, len(b.idle))
	for slot := range b.idle {
		slotIDs = append(slotIDs, int(slot))
	}
	sort.Ints(slotIDs)
	out := make([]string, 0, len(slotIDs))
	for _, slot := range slotIDs {
		out = append(out, fmt.Sprintf("slot %d: %s", slot, b.idle[stk.SlotID(slot)]))
	}
	return out
}

// Render describes the focused surface for the prompt pane.
func (b *Board) Render() string {
	req, ok := b.Focused()
	if !ok {
		return "[gray]no toolkit surface open"
	}
	var sb strings.Builder
	title := req.Title
	if title == "" && req.Menu != nil {
		title = req.Menu.Title
	}
	fmt.Fprintf(&sb, "[yellow]slot %s %s[white] %s\n", req.Slot, req.CommandType, title)
	switch req.Kind {
	case dispatch.RequestMenu:
		if req.Menu != nil {
			for _, item := range req.Menu.Items {
				if item == nil {
					continue
				}
				marker := " "
				if item.ID == req.Menu.DefaultItem {
					marker = "*"
				}
				fmt.Fprintf(&sb, "%s %d) %s\n", marker, item.ID, item.Text)
			}
		}
		sb.WriteString("[gray]type an item id, ?id for help, /back or /end")
	case dispatch.RequestInput:
		if req.Input != nil {
			fmt.Fprintf(&sb, "%s\n", req.Input.Text)
			if req.Input.YesNo {
				sb.WriteString("[gray]answer y or n")
			} else {
				fmt.Fprintf(&sb, "[gray]length %d-%d", req.Input.MinLen, req.Input.MaxLen)
				if req.Input.DigitOnly {
					sb.WriteString(", digits only")
				}
			}
		}
	case dispatch.RequestConfirm, dispatch.RequestChoice:
		if req.Text != nil {
			fmt.Fprintf(&sb, "%s\n", req.Text.Text)
		}
		sb.WriteString("[gray]answer y or n")
	case dispatch.RequestTone:
		if req.ShowText && req.Text != nil {
			fmt.Fprintf(&sb, "%s\n", req.Text.Text)
		}
		sb.WriteString("[gray]tone playing, enter stops it")
	default:
		if req.Text != nil {
			fmt.Fprintf(&sb, "%s\n", req.Text.Text)
		}
		sb.WriteString("[gray]enter or ok acknowledges, n dismisses")
	}
	return sb.String()
}

// Answer turns a typed line into the frame that answers the focused surface.
// Slash commands that do not depend on a surface are handled too:
//
//	/menu <slot> on|off
//	/timer <slot> touch|pause|resume
func (b *Board) Answer(line string) (uihub.ClientFrame, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "/menu ") || strings.HasPrefix(line, "/timer ") {
		return parseControl(line)
	}

	req, ok := b.Focused()
	if !ok {
		return uihub.ClientFrame{}, fmt.Errorf("no toolkit surface open")
	}
	resp, err := answerFor(req, line)
	if err != nil {
		return uihub.ClientFrame{}, err
	}
	resp.CommandID = req.CommandID
	return uihub.ClientFrame{Type: uihub.FrameResponse, Slot: req.Slot, Response: &resp}, nil
}

func answerFor(req uihub.ShowRequest, line string) (stk.UserResponse, error) {
	switch line {
	case "/back":
		return stk.UserResponse{Kind: stk.ResponseBackward}, nil
	case "/end":
		return stk.UserResponse{Kind: stk.ResponseEndSession}, nil
	case "/error":
		return stk.UserResponse{Kind: stk.ResponseError}, nil
	}

	switch req.Kind {
	case dispatch.RequestMenu:
		return menuAnswer(req.Menu, line)
	case dispatch.RequestInput:
		return inputAnswer(req.Input, line)
	case dispatch.RequestConfirm:
		yes, err := parseYesNo(line)
		if err != nil {
			return stk.UserResponse{}, err
		}
		return stk.UserResponse{Kind: stk.ResponseConfirm, Confirmed: yes}, nil
	case dispatch.RequestChoice:
		yes, err := parseYesNo(line)
		if err != nil {
			return stk.UserResponse{}, err
		}
		choice := stk.ChoiceNo
		if yes {
			choice = stk.ChoiceYes
		}
		return stk.UserResponse{Kind: stk.ResponseChoice, Choice: choice}, nil
	case dispatch.RequestTone:
		return stk.UserResponse{Kind: stk.ResponseDone}, nil
	default:
		switch strings.ToLower(line) {
		case "", "ok", "y", "yes":
			return stk.UserResponse{Kind: stk.ResponseConfirm, Confirmed: true}, nil
		case "n", "no":
			return stk.UserResponse{Kind: stk.ResponseConfirm, Confirmed: false}, nil
		}
		return stk.UserResponse{}, fmt.Errorf("type ok or n")
	}
}

func menuAnswer(menu *stk.Menu, line string) (stk.UserResponse, error) {
	help := strings.HasPrefix(line, "?")
	if help {
		if menu == nil || !menu.HelpAvailable {
			return stk.UserResponse{}, fmt.Errorf("help is not available for this menu")
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "?"))
	}
	id, err := strconv.Atoi(line)
	if err != nil {
		return stk.UserResponse{}, fmt.Errorf("item id must be a number")
	}
	if _, ok := menu.ItemText(id); !ok {
		return stk.UserResponse{}, fmt.Errorf("no item with id %d", id)
	}
	return stk.UserResponse{Kind: stk.ResponseMenuSelection, MenuSelection: id, Help: help}, nil
}

func inputAnswer(in *stk.Input, line string) (stk.UserResponse, error) {
	if in == nil {
		in = &stk.Input{}
	}
	if line == "?" {
		if !in.HelpAvailable {
			return stk.UserResponse{}, fmt.Errorf("help is not available for this input")
		}
		return stk.UserResponse{Kind: stk.ResponseInput, Help: true}, nil
	}
	if in.YesNo {
		yes, err := parseYesNo(line)
		if err != nil {
			return stk.UserResponse{}, err
		}
		return stk.UserResponse{Kind: stk.ResponseYesNo, YesNo: yes}, nil
	}
	length := len([]rune(line))
	if length < in.MinLen {
		return stk.UserResponse{}, fmt.Errorf("input must be at least %d characters", in.MinLen)
	}
	if in.MaxLen > 0 && length > in.MaxLen {
		return stk.UserResponse{}, fmt.Errorf("input must be at most %d characters", in.MaxLen)
	}
	if in.DigitOnly {
		for _, r := range line {
			if !unicode.IsDigit(r) && r != '*' && r != '#' && r != '+' {
				return stk.UserResponse{}, fmt.Errorf("input accepts digits only")
			}
		}
	}
	return stk.UserResponse{Kind: stk.ResponseInput, Input: line}, nil
}

func parseYesNo(line string) (bool, error) {
	switch strings.ToLower(line) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("answer y or n")
}

func parseControl(line string) (uihub.ClientFrame, error) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return uihub.ClientFrame{}, fmt.Errorf("usage: %s <slot> <value>", fields[0])
	}
	slot, err := stk.ParseSlotID(fields[1])
	if err != nil {
		return uihub.ClientFrame{}, err
	}
	switch fields[0] {
	case "/menu":
		var visible bool
		switch fields[2] {
		case "on":
			visible = true
		case "off":
		default:
			return uihub.ClientFrame{}, fmt.Errorf("usage: /menu <slot> on|off")
		}
		return uihub.ClientFrame{Type: uihub.FrameVisibility, Slot: slot, MenuVisible: &visible}, nil
	default:
		action := slots.TimerAction(fields[2])
		switch action {
		case slots.TimerTouch, slots.TimerPause, slots.TimerResume:
		default:
			return uihub.ClientFrame{}, fmt.Errorf("usage: /timer <slot> touch|pause|resume")
		}
		return uihub.ClientFrame{Type: uihub.FrameTimer, Slot: slot, Action: string(action)}, nil
	}
}

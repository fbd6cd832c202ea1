package tui

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/uihub"
)

func showFrame(handle stk.Handle, req dispatch.Request) uihub.ServerFrame {
	return uihub.ServerFrame{
		Type:    uihub.FrameShow,
		Slot:    req.Slot,
		Handle:  handle,
		Request: &uihub.ShowRequest{Handle: handle, Request: req},
	}
}

func menuRequest() dispatch.Request {
	return dispatch.Request{
		Slot:        1,
		CommandID:   "menu-1",
		CommandType: stk.CommandSelectItem,
		Kind:        dispatch.RequestMenu,
		Menu: &stk.Menu{
			Title:         "Services",
			HelpAvailable: true,
			DefaultItem:   2,
			Items:         []*stk.Item{{ID: 1, Text: "Balance"}, {ID: 2, Text: "Top up"}},
		},
	}
}

func TestBoardFocusFollowsNewestSurface(t *testing.T) {
	board := NewBoard()
	if _, ok := board.Focused(); ok {
		t.Fatalf("empty board should have no focus")
	}

	board.Apply(showFrame("h1", menuRequest()))
	board.Apply(showFrame("h2", dispatch.Request{Slot: 0, CommandID: "text-1", CommandType: stk.CommandDisplayText, Kind: dispatch.RequestText, Text: &stk.TextMessage{Text: "Hi"}}))

	req, ok := board.Focused()
	if !ok || req.Handle != "h2" {
		t.Fatalf("expected focus on h2, got %+v", req)
	}

	board.Apply(uihub.ServerFrame{Type: uihub.FrameFinish, Slot: 0, Handle: "h2"})
	req, ok = board.Focused()
	if !ok || req.Handle != "h1" {
		t.Fatalf("expected focus back on h1, got %+v", req)
	}
	if board.Len() != 1 {
		t.Fatalf("expected one surface, got %d", board.Len())
	}
}

func TestBoardIdleTexts(t *testing.T) {
	board := NewBoard()
	board.Apply(uihub.ServerFrame{Type: uihub.FrameIdleText, Slot: 1, Text: &stk.TextMessage{Text: "Carrier B"}})
	board.Apply(uihub.ServerFrame{Type: uihub.FrameIdleText, Slot: 0, Text: &stk.TextMessage{Text: "Carrier A"}})

	if diff := cmp.Diff([]string{"slot 0: Carrier A", "slot 1: Carrier B"}, board.IdleTexts()); diff != "" {
		t.Fatalf("idle texts mismatch (-want +got):\n%s", diff)
	}

	line := board.Apply(uihub.ServerFrame{Type: uihub.FrameIdleText, Slot: 0})
	if !strings.Contains(line, "cleared") {
		t.Fatalf("unexpected log line %q", line)
	}
	if diff := cmp.Diff([]string{"slot 1: Carrier B"}, board.IdleTexts()); diff != "" {
		t.Fatalf("idle texts mismatch (-want +got):\n%s", diff)
	}
}

func TestRenderMenu(t *testing.T) {
	board := NewBoard()
	if got := board.Render(); !strings.Contains(got, "no toolkit surface") {
		t.Fatalf("unexpected empty render %q", got)
	}
	board.Apply(showFrame("h1", menuRequest()))
	got := board.Render()
	for _, want := range []string{"Services", "  1) Balance", "* 2) Top up"} {
		if !strings.Contains(got, want) {
			t.Fatalf("render %q missing %q", got, want)
		}
	}
}

func TestAnswerMenu(t *testing.T) {
	board := NewBoard()
	board.Apply(showFrame("h1", menuRequest()))

	tests := []struct {
		line string
		want stk.UserResponse
	}{
		{line: "2", want: stk.UserResponse{CommandID: "menu-1", Kind: stk.ResponseMenuSelection, MenuSelection: 2}},
		{line: "?1", want: stk.UserResponse{CommandID: "menu-1", Kind: stk.ResponseMenuSelection, MenuSelection: 1, Help: true}},
		{line: "/back", want: stk.UserResponse{CommandID: "menu-1", Kind: stk.ResponseBackward}},
		{line: "/end", want: stk.UserResponse{CommandID: "menu-1", Kind: stk.ResponseEndSession}},
	}
	for _, tt := range tests {
		frame, err := board.Answer(tt.line)
		if err != nil {
			t.Fatalf("answer %q: %v", tt.line, err)
		}
		if frame.Type != uihub.FrameResponse || frame.Slot != 1 || frame.Response == nil {
			t.Fatalf("unexpected frame for %q: %+v", tt.line, frame)
		}
		if diff := cmp.Diff(tt.want, *frame.Response); diff != "" {
			t.Fatalf("answer %q mismatch (-want +got):\n%s", tt.line, diff)
		}
	}

	for _, line := range []string{"abc", "9"} {
		if _, err := board.Answer(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestAnswerInput(t *testing.T) {
	board := NewBoard()
	board.Apply(showFrame("h1", dispatch.Request{
		Slot:        0,
		CommandID:   "in-1",
		CommandType: stk.CommandGetInput,
		Kind:        dispatch.RequestInput,
		Input:       &stk.Input{Text: "PIN", MinLen: 4, MaxLen: 4, DigitOnly: true},
	}))

	frame, err := board.Answer("1234")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if diff := cmp.Diff(stk.UserResponse{CommandID: "in-1", Kind: stk.ResponseInput, Input: "1234"}, *frame.Response); diff != "" {
		t.Fatalf("input mismatch (-want +got):\n%s", diff)
	}
	for _, line := range []string{"12", "12345", "12a4", "?"} {
		if _, err := board.Answer(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestAnswerYesNoInput(t *testing.T) {
	board := NewBoard()
	board.Apply(showFrame("h1", dispatch.Request{
		CommandID:   "inkey-1",
		CommandType: stk.CommandGetInkey,
		Kind:        dispatch.RequestInput,
		Input:       &stk.Input{Text: "Continue?", YesNo: true},
	}))

	frame, err := board.Answer("y")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if diff := cmp.Diff(stk.UserResponse{CommandID: "inkey-1", Kind: stk.ResponseYesNo, YesNo: true}, *frame.Response); diff != "" {
		t.Fatalf("yes/no mismatch (-want +got):\n%s", diff)
	}
	if _, err := board.Answer("maybe"); err == nil {
		t.Fatalf("expected error for maybe")
	}
}

func TestAnswerConfirmChoiceTextAndTone(t *testing.T) {
	tests := []struct {
		name string
		req  dispatch.Request
		line string
		want stk.UserResponse
	}{
		{
			name: "confirm",
			req:  dispatch.Request{CommandID: "c", CommandType: stk.CommandSetUpCall, Kind: dispatch.RequestConfirm},
			line: "n",
			want: stk.UserResponse{CommandID: "c", Kind: stk.ResponseConfirm},
		},
		{
			name: "choice",
			req:  dispatch.Request{CommandID: "o", CommandType: stk.CommandOpenChannel, Kind: dispatch.RequestChoice},
			line: "yes",
			want: stk.UserResponse{CommandID: "o", Kind: stk.ResponseChoice, Choice: stk.ChoiceYes},
		},
		{
			name: "text acknowledged",
			req:  dispatch.Request{CommandID: "t", CommandType: stk.CommandDisplayText, Kind: dispatch.RequestText},
			line: "",
			want: stk.UserResponse{CommandID: "t", Kind: stk.ResponseConfirm, Confirmed: true},
		},
		{
			name: "tone stopped",
			req:  dispatch.Request{CommandID: "p", CommandType: stk.CommandPlayTone, Kind: dispatch.RequestTone},
			line: "",
			want: stk.UserResponse{CommandID: "p", Kind: stk.ResponseDone},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			board := NewBoard()
			board.Apply(showFrame("h", tt.req))
			frame, err := board.Answer(tt.line)
			if err != nil {
				t.Fatalf("answer: %v", err)
			}
			if diff := cmp.Diff(tt.want, *frame.Response); diff != "" {
				t.Fatalf("response mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAnswerWithoutSurface(t *testing.T) {
	if _, err := NewBoard().Answer("1"); err == nil {
		t.Fatalf("expected error without surface")
	}
}

func TestAnswerControlCommands(t *testing.T) {
	board := NewBoard()

	frame, err := board.Answer("/menu 1 on")
	if err != nil {
		t.Fatalf("menu: %v", err)
	}
	if frame.Type != uihub.FrameVisibility || frame.Slot != 1 || frame.MenuVisible == nil || !*frame.MenuVisible {
		t.Fatalf("unexpected visibility frame: %+v", frame)
	}

	frame, err = board.Answer("/timer 0 pause")
	if err != nil {
		t.Fatalf("timer: %v", err)
	}
	if diff := cmp.Diff(uihub.ClientFrame{Type: uihub.FrameTimer, Slot: 0, Action: "pause"}, frame); diff != "" {
		t.Fatalf("timer frame mismatch (-want +got):\n%s", diff)
	}

	for _, line := range []string{"/menu 1 maybe", "/timer 0 stop", "/timer x pause", "/menu 1"} {
		if _, err := board.Answer(line); err == nil {
			t.Fatalf("expected error for %q", line)
		}
	}
}

func TestAcceptsEmpty(t *testing.T) {
	board := NewBoard()
	if acceptsEmpty(board) {
		t.Fatalf("empty board should not accept a bare enter")
	}
	board.Apply(showFrame("h1", menuRequest()))
	if acceptsEmpty(board) {
		t.Fatalf("menu should not accept a bare enter")
	}
	board.Apply(showFrame("h2", dispatch.Request{Kind: dispatch.RequestText}))
	if !acceptsEmpty(board) {
		t.Fatalf("text should accept a bare enter")
	}
}

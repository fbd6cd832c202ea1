package stk

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestInteractiveClassification(t *testing.T) {
	informative := []CommandType{
		CommandSendDTMF,
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
		CommandSetUpEventList,
	}
	for _, typ := range informative {
		if typ.Interactive() {
			t.Fatalf("expected %s to be informative", typ)
		}
	}

	interactive := []CommandType{
		CommandDisplayText,
		CommandSelectItem,
		CommandGetInput,
		CommandGetInkey,
		CommandLaunchBrowser,
		CommandSetUpCall,
		CommandPlayTone,
		CommandOpenChannel,
		CommandGetChannelStatus,
	}
	for _, typ := range interactive {
		if !typ.Interactive() {
			t.Fatalf("expected %s to be interactive", typ)
		}
	}
}

func TestCommandTypeValid(t *testing.T) {
	if CommandType("").Valid() {
		t.Fatalf("expected empty type to be invalid")
	}
	if CommandType("poll_interval").Valid() {
		t.Fatalf("expected unknown type to be invalid")
	}
	if !CommandGetChannelStatus.Valid() {
		t.Fatalf("expected get_channel_status to be valid")
	}
}

func TestParseSlotID(t *testing.T) {
	slot, err := ParseSlotID(" 1 ")
	if err != nil {
		t.Fatalf("parse slot: %v", err)
	}
	if slot != 1 {
		t.Fatalf("expected slot 1, got %d", slot)
	}
	if _, err := ParseSlotID("-1"); err == nil {
		t.Fatalf("expected negative slot to fail")
	}
	if _, err := ParseSlotID("sim"); err == nil {
		t.Fatalf("expected non-numeric slot to fail")
	}
}

func TestMenuRemovalSentinel(t *testing.T) {
	if !(&Menu{Items: []*Item{nil}}).IsRemoval() {
		t.Fatalf("expected single nil item to be the removal sentinel")
	}
	if (&Menu{Items: []*Item{nil, nil}}).IsRemoval() {
		t.Fatalf("expected two nil items not to be the removal sentinel")
	}
	if (&Menu{Items: []*Item{{ID: 1, Text: "Balance"}}}).IsRemoval() {
		t.Fatalf("expected populated menu not to be the removal sentinel")
	}
	var nilMenu *Menu
	if nilMenu.IsRemoval() {
		t.Fatalf("expected nil menu not to be the removal sentinel")
	}
}

func TestMenuItemText(t *testing.T) {
	menu := &Menu{Items: []*Item{{ID: 1, Text: "Balance"}, {ID: 7, Text: "Top up"}}}
	text, ok := menu.ItemText(7)
	if !ok || text != "Top up" {
		t.Fatalf("unexpected item text ok=%v text=%q", ok, text)
	}
	if _, ok := menu.ItemText(3); ok {
		t.Fatalf("expected missing item lookup to fail")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := ProactiveCommand{
		ID:   "cmd-1",
		Type: CommandSetUpMenu,
		Menu: &Menu{
			Title:     "Operator",
			TitleIcon: []byte{1, 2},
			Items:     []*Item{{ID: 1, Text: "Balance", Icon: []byte{3}}},
		},
		Text: &TextMessage{Text: "hi", Duration: &Duration{Unit: UnitSecond, Interval: 5}},
	}

	clone := orig.Clone()
	clone.Menu.Title = "Fallback"
	clone.Menu.TitleIcon[0] = 9
	clone.Menu.Items[0].Text = "Changed"
	clone.Text.Duration.Interval = 1

	if orig.Menu.Title != "Operator" || orig.Menu.TitleIcon[0] != 1 || orig.Menu.Items[0].Text != "Balance" {
		t.Fatalf("clone mutated original menu: %+v", orig.Menu)
	}
	if orig.Text.Duration.Interval != 5 {
		t.Fatalf("clone mutated original duration")
	}
}

func TestDurationMilliseconds(t *testing.T) {
	tests := []struct {
		name string
		in   Duration
		want int64
	}{
		{name: "minute", in: Duration{Unit: UnitMinute, Interval: 2}, want: 120000},
		{name: "second", in: Duration{Unit: UnitSecond, Interval: 3}, want: 3000},
		{name: "tenth second", in: Duration{Unit: UnitTenthSecond, Interval: 15}, want: 1500},
		{name: "unknown unit", in: Duration{Unit: "fortnight", Interval: 4}, want: 4000},
	}
	for _, tc := range tests {
		if got := tc.in.Milliseconds(); got != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.name, tc.want, got)
		}
	}
}

func TestEffectiveTimeoutFallback(t *testing.T) {
	if got := EffectiveTimeout(nil, DefaultToneDuration); got != 2*time.Second {
		t.Fatalf("expected tone default, got %s", got)
	}
	if got := EffectiveTimeout(&Duration{Unit: UnitSecond}, DefaultUITimeout); got != DefaultUITimeout {
		t.Fatalf("expected ui default for zero interval, got %s", got)
	}
	if got := EffectiveTimeout(&Duration{Unit: UnitTenthSecond, Interval: 5}, DefaultUITimeout); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms, got %s", got)
	}
}

func TestTerminalResponseJSON(t *testing.T) {
	selection := 3
	resp := NewTerminalResponse(1, ProactiveCommand{ID: "c1", Type: CommandSelectItem}, ResultHelpInfoRequired)
	resp.MenuSelection = &selection

	body, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := map[string]any{
		"slot":           float64(1),
		"command_id":     "c1",
		"command_type":   "select_item",
		"result":         "HELP_INFO_REQUIRED",
		"menu_selection": float64(3),
	}
	if diff := cmp.Diff(want, decoded); diff != "" {
		t.Fatalf("unexpected json (-want +got):\n%s", diff)
	}

	var back TerminalResponse
	if err := json.Unmarshal(body, &back); err != nil {
		t.Fatalf("decode terminal response: %v", err)
	}
	if back.Result != ResultHelpInfoRequired {
		t.Fatalf("expected HELP_INFO_REQUIRED, got %s", back.Result)
	}
}

func TestResultCodeUnknownName(t *testing.T) {
	var code ResultCode
	if err := json.Unmarshal([]byte(`"NOT_A_CODE"`), &code); err == nil {
		t.Fatalf("expected unknown name to fail")
	}
	if err := json.Unmarshal([]byte(`48`), &code); err != nil {
		t.Fatalf("decode numeric code: %v", err)
	}
	if code != ResultBeyondTerminalCapability {
		t.Fatalf("expected BEYOND_TERMINAL_CAPABILITY, got %s", code)
	}
	if got := ResultCode(0x3A).String(); got != "RESULT_0x3A" {
		t.Fatalf("unexpected fallback name %q", got)
	}
}

func TestEventCodeJSON(t *testing.T) {
	var list EventList
	if err := json.Unmarshal([]byte(`{"events":["user_activity",7,10]}`), &list); err != nil {
		t.Fatalf("decode event list: %v", err)
	}
	want := []EventCode{EventUserActivity, EventLanguageSelection, EventCode(10)}
	if diff := cmp.Diff(want, list.Events); diff != "" {
		t.Fatalf("unexpected events (-want +got):\n%s", diff)
	}
	if list.Events[2].Supported() {
		t.Fatalf("expected code 0x0a to be unsupported")
	}
	if !EventIdleScreenAvailable.OneShot() || EventLanguageSelection.OneShot() {
		t.Fatalf("unexpected one-shot classification")
	}
}

package stk

import (
	"encoding/json"
	"fmt"
)

// EventCode is a card event download identifier.
type EventCode byte

const (
	EventUserActivity        EventCode = 0x04
	EventIdleScreenAvailable EventCode = 0x05
	EventLanguageSelection   EventCode = 0x07
)

var eventCodeNames = map[EventCode]string{
	EventUserActivity:        "user_activity",
	EventIdleScreenAvailable: "idle_screen_available",
	EventLanguageSelection:   "language_selection",
}

// Supported reports whether the terminal can monitor the event.
func (e EventCode) Supported() bool {
	_, ok := eventCodeNames[e]
	return ok
}

// OneShot reports events that are removed from the event list once reported.
func (e EventCode) OneShot() bool {
	return e == EventUserActivity || e == EventIdleScreenAvailable
}

func (e EventCode) String() string {
	if name, ok := eventCodeNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event_0x%02x", byte(e))
}

func (e EventCode) MarshalJSON() ([]byte, error) {
	if name, ok := eventCodeNames[e]; ok {
		return json.Marshal(name)
	}
	return json.Marshal(byte(e))
}

func (e *EventCode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for code, candidate := range eventCodeNames {
			if candidate == name {
				*e = code
				return nil
			}
		}
		return fmt.Errorf("unknown event code %q", name)
	}
	var raw byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode event code: %w", err)
	}
	*e = EventCode(raw)
	return nil
}

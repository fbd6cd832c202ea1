package stk

import (
	"encoding/json"
	"fmt"
)

// ResultCode is the general result byte of a terminal response.
type ResultCode byte

const (
	ResultOK                               ResultCode = 0x00
	ResultPerformedPartialComprehension    ResultCode = 0x01
	ResultPerformedMissingInfo             ResultCode = 0x02
	ResultPerformedIconNotDisplayed        ResultCode = 0x04
	ResultPerformedToneNotPlayed           ResultCode = 0x09
	ResultSessionTerminatedByUser          ResultCode = 0x10
	ResultBackwardMoveByUser               ResultCode = 0x11
	ResultNoResponseFromUser               ResultCode = 0x12
	ResultHelpInfoRequired                 ResultCode = 0x13
	ResultTerminalCurrentlyUnableToProcess ResultCode = 0x20
	ResultNetworkCurrentlyUnableToProcess  ResultCode = 0x21
	ResultUserNotAccept                    ResultCode = 0x22
	ResultLaunchBrowserError               ResultCode = 0x26
	ResultBeyondTerminalCapability         ResultCode = 0x30
	ResultCommandTypeNotUnderstood         ResultCode = 0x31
	ResultCommandDataNotUnderstood         ResultCode = 0x32
	ResultRequiredValuesMissing            ResultCode = 0x36
)

// Additional information bytes that accompany specific result codes.
const (
	AdditionalInfoScreenBusy            byte = 0x01
	AdditionalInfoBrowserUnavailable    byte = 0x02
	AdditionalInfoDefaultURLUnavailable byte = 0x04
)

var resultCodeNames = map[ResultCode]string{
	ResultOK:                               "OK",
	ResultPerformedPartialComprehension:    "PRFRMD_WITH_PARTIAL_COMPREHENSION",
	ResultPerformedMissingInfo:             "PRFRMD_WITH_MISSING_INFO",
	ResultPerformedIconNotDisplayed:        "PRFRMD_ICON_NOT_DISPLAYED",
	ResultPerformedToneNotPlayed:           "PRFRMD_TONE_NOT_PLAYED",
	ResultSessionTerminatedByUser:          "UICC_SESSION_TERM_BY_USER",
	ResultBackwardMoveByUser:               "BACKWARD_MOVE_BY_USER",
	ResultNoResponseFromUser:               "NO_RESPONSE_FROM_USER",
	ResultHelpInfoRequired:                 "HELP_INFO_REQUIRED",
	ResultTerminalCurrentlyUnableToProcess: "TERMINAL_CRNTLY_UNABLE_TO_PROCESS",
	ResultNetworkCurrentlyUnableToProcess:  "NETWORK_CRNTLY_UNABLE_TO_PROCESS",
	ResultUserNotAccept:                    "USER_NOT_ACCEPT",
	ResultLaunchBrowserError:               "LAUNCH_BROWSER_ERROR",
	ResultBeyondTerminalCapability:         "BEYOND_TERMINAL_CAPABILITY",
	ResultCommandTypeNotUnderstood:         "CMD_TYPE_NOT_UNDERSTOOD",
	ResultCommandDataNotUnderstood:         "CMD_DATA_NOT_UNDERSTOOD",
	ResultRequiredValuesMissing:            "REQUIRED_VALUES_MISSING",
}

func (c ResultCode) String() string {
	if name, ok := resultCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("RESULT_0x%02X", byte(c))
}

func (c ResultCode) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ResultCode) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		for code, candidate := range resultCodeNames {
			if candidate == name {
				*c = code
				return nil
			}
		}
		return fmt.Errorf("unknown result code %q", name)
	}
	var raw byte
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode result code: %w", err)
	}
	*c = ResultCode(raw)
	return nil
}

// TerminalResponse is the reply handed to the card link. It is built per
// resolved command and never stored.
type TerminalResponse struct {
	Slot           SlotID         `json:"slot"`
	CommandID      string         `json:"command_id"`
	CommandType    CommandType    `json:"command_type"`
	Result         ResultCode     `json:"result"`
	AdditionalInfo []byte         `json:"additional_info,omitempty"`
	Envelope       bool           `json:"envelope,omitempty"`
	MenuSelection  *int           `json:"menu_selection,omitempty"`
	Input          *string        `json:"input,omitempty"`
	YesNo          *bool          `json:"yes_no,omitempty"`
	Confirmed      *bool          `json:"confirmed,omitempty"`
	Event          *EventDownload `json:"event,omitempty"`
}

type EventDownload struct {
	Event    EventCode `json:"event"`
	Language string    `json:"language,omitempty"`
}

// NewTerminalResponse addresses a response to cmd on the given slot.
func NewTerminalResponse(slot SlotID, cmd ProactiveCommand, result ResultCode) TerminalResponse {
	return TerminalResponse{
		Slot:        slot,
		CommandID:   cmd.ID,
		CommandType: cmd.Type,
		Result:      result,
	}
}

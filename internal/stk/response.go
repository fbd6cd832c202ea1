package stk

// Handle is an opaque token issued by a presenter for a visible surface.
type Handle string

type ResponseKind string

const (
	ResponseMenuSelection ResponseKind = "menu_selection"
	ResponseInput         ResponseKind = "input"
	ResponseYesNo         ResponseKind = "yes_no"
	ResponseConfirm       ResponseKind = "confirm"
	ResponseTimeout       ResponseKind = "timeout"
	ResponseBackward      ResponseKind = "backward"
	ResponseEndSession    ResponseKind = "end_session"
	ResponseChoice        ResponseKind = "choice"
	ResponseError         ResponseKind = "error"
	ResponseDone          ResponseKind = "done"
)

func (k ResponseKind) Valid() bool {
	switch k {
	case ResponseMenuSelection,
		ResponseInput,
		ResponseYesNo,
		ResponseConfirm,
		ResponseTimeout,
		ResponseBackward,
		ResponseEndSession,
		ResponseChoice,
		ResponseError,
		ResponseDone:
		return true
	default:
		return false
	}
}

type Choice string

const (
	ChoiceYes Choice = "yes"
	ChoiceNo  Choice = "no"
)

// UserResponse is produced asynchronously by a presenter. CommandID, when
// set, must name the command the surface was shown for; responses naming any
// other command are stale.
type UserResponse struct {
	CommandID     string       `json:"command_id,omitempty"`
	Kind          ResponseKind `json:"kind"`
	Help          bool         `json:"help,omitempty"`
	MenuSelection int          `json:"menu_selection,omitempty"`
	Input         string       `json:"input,omitempty"`
	YesNo         bool         `json:"yes_no,omitempty"`
	Confirmed     bool         `json:"confirmed,omitempty"`
	Choice        Choice       `json:"choice,omitempty"`
}

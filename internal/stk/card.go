package stk

// RefreshResult accompanies a card-present status after a REFRESH.
type RefreshResult string

const (
	RefreshNone       RefreshResult = ""
	RefreshInit       RefreshResult = "init"
	RefreshReset      RefreshResult = "reset"
	RefreshFileUpdate RefreshResult = "file_update"
)

func (r RefreshResult) Valid() bool {
	switch r {
	case RefreshNone, RefreshInit, RefreshReset, RefreshFileUpdate:
		return true
	default:
		return false
	}
}

package dispatch

import (
	"context"

	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/timer"
)

// ResolveResponse correlates a user response with the command it answers
// and answers the card. Menu selections go to the current menu command,
// everything else to the current command. Responses for anything else are
// stale and ignored without touching state.
func (d *Dispatcher) ResolveResponse(ctx context.Context, resp stk.UserResponse) {
	cur := d.responseTarget(resp)
	if cur == nil {
		d.logger.Printf("response ignored slot=%s kind=%s reason=no_current_command", d.slot(), resp.Kind)
		return
	}
	if resp.CommandID != "" && resp.CommandID != cur.ID {
		d.logger.Printf("response ignored slot=%s kind=%s command_id=%s current=%s reason=stale", d.slot(), resp.Kind, resp.CommandID, cur.ID)
		return
	}
	mainMenu := cur.Type == stk.CommandSetUpMenu
	switch {
	case mainMenu && d.sess.InProgress:
		d.logger.Printf("response ignored slot=%s kind=%s command_id=%s reason=busy", d.slot(), resp.Kind, cur.ID)
		return
	case !mainMenu && (!d.sess.InProgress || !sameCommand(d.sess.CurrentCommand, cur)):
		d.logger.Printf("response ignored slot=%s kind=%s command_id=%s reason=already_resolved", d.slot(), resp.Kind, cur.ID)
		if cur.Type == stk.CommandDisplayText {
			d.finish(ctx, d.sess.ImmediateDialogHandle)
			d.sess.ImmediateDialogHandle = ""
		}
		return
	}

	cmd := *cur
	tr := stk.NewTerminalResponse(d.slot(), cmd, stk.ResultOK)
	if !d.buildResponse(&tr, cmd, resp) {
		d.logger.Printf("response ignored slot=%s kind=%s command_id=%s type=%s reason=kind_mismatch", d.slot(), resp.Kind, cmd.ID, cmd.Type)
		return
	}

	if mainMenu {
		// The main menu stays on screen; its surface is only replaced.
		d.send(ctx, tr)
		d.publish(ctx, notify.Event{
			Type:        notify.EventCommandResolved,
			Slot:        d.slot(),
			CommandID:   tr.CommandID,
			CommandType: tr.CommandType,
			Detail:      "menu_selection",
		}.WithResult(tr.Result))
		return
	}

	d.deps.Timers.Cancel(timerKeyDialog(d.slot()))
	if cmd.Type == stk.CommandPlayTone {
		d.stopTone(ctx)
	}
	d.finish(ctx, d.sess.DialogHandle)
	d.finish(ctx, d.sess.ActivityHandle)
	d.sess.DialogHandle = ""
	d.sess.ActivityHandle = ""

	d.resolve(ctx, tr)

	if cmd.Type == stk.CommandSetUpCall && resp.Kind == stk.ResponseConfirm && resp.Confirmed && cmd.Call != nil {
		d.toast(ctx, cmd.Call.Call)
	}
}

func (d *Dispatcher) responseTarget(resp stk.UserResponse) *stk.ProactiveCommand {
	if resp.Kind == stk.ResponseMenuSelection {
		if m := d.sess.CurrentMenuCommand; m != nil && (m.Type == stk.CommandSetUpMenu || m.Type == stk.CommandSelectItem) {
			return m
		}
	}
	return d.sess.CurrentCommand
}

// HandleTimer turns a countdown expiry into the matching response.
func (d *Dispatcher) HandleTimer(ctx context.Context, fired timer.Fired) {
	switch fired.Key.Kind {
	case timer.KindTone:
		d.ResolveResponse(ctx, stk.UserResponse{CommandID: fired.CommandID, Kind: stk.ResponseDone})
	case timer.KindDialog:
		d.ResolveResponse(ctx, stk.UserResponse{CommandID: fired.CommandID, Kind: stk.ResponseTimeout})
	}
}

// buildResponse fills tr for resp. It returns false when the response kind
// does not apply to the command.
func (d *Dispatcher) buildResponse(tr *stk.TerminalResponse, cmd stk.ProactiveCommand, resp stk.UserResponse) bool {
	if cmd.Type == stk.CommandSetUpMenu && resp.Kind != stk.ResponseMenuSelection {
		return false
	}

	switch resp.Kind {
	case stk.ResponseMenuSelection:
		switch cmd.Type {
		case stk.CommandSetUpMenu, stk.CommandSelectItem:
			if cmd.Type == stk.CommandSetUpMenu {
				d.sess.SessionFromUser = true
				tr.Envelope = true
			}
			selection := resp.MenuSelection
			tr.MenuSelection = &selection
			if text, ok := cmd.Menu.ItemText(selection); ok {
				d.sess.LastSelectedItem = text
			}
			tr.Result = d.helpOr(cmd, resp)
			return true
		}
		return false

	case stk.ResponseInput:
		if !isInputCommand(cmd.Type) {
			return false
		}
		input := resp.Input
		tr.Input = &input
		tr.Result = d.helpOr(cmd, resp)
		return true

	case stk.ResponseYesNo:
		if !isInputCommand(cmd.Type) {
			return false
		}
		yesNo := resp.YesNo
		tr.YesNo = &yesNo
		tr.Result = d.helpOr(cmd, resp)
		return true

	case stk.ResponseConfirm:
		switch cmd.Type {
		case stk.CommandDisplayText:
			if resp.Confirmed {
				tr.Result = d.okResult(cmd)
			} else {
				tr.Result = stk.ResultSessionTerminatedByUser
			}
		case stk.CommandLaunchBrowser:
			if resp.Confirmed {
				tr.Result = stk.ResultOK
				d.sess.LaunchBrowserPending = true
			} else {
				tr.Result = stk.ResultSessionTerminatedByUser
				d.sess.PendingBrowser = nil
			}
		case stk.CommandSetUpCall:
			confirmed := resp.Confirmed
			tr.Confirmed = &confirmed
			tr.Result = stk.ResultOK
		default:
			return false
		}
		return true

	case stk.ResponseChoice:
		if cmd.Type != stk.CommandOpenChannel {
			return false
		}
		confirmed := resp.Choice == stk.ChoiceYes
		tr.Confirmed = &confirmed
		if confirmed {
			tr.Result = stk.ResultOK
		} else {
			tr.Result = stk.ResultUserNotAccept
		}
		return true

	case stk.ResponseTimeout:
		// A DISPLAY TEXT that clears itself is answered OK when it times out.
		if cmd.Type == stk.CommandDisplayText && (cmd.Text == nil || !cmd.Text.UserClear) {
			tr.Result = stk.ResultOK
		} else {
			tr.Result = stk.ResultNoResponseFromUser
		}
		return true

	case stk.ResponseBackward:
		tr.Result = stk.ResultBackwardMoveByUser
		return true

	case stk.ResponseEndSession:
		tr.Result = stk.ResultSessionTerminatedByUser
		return true

	case stk.ResponseError:
		if cmd.Type == stk.CommandLaunchBrowser {
			tr.Result = stk.ResultLaunchBrowserError
			tr.AdditionalInfo = []byte{stk.AdditionalInfoBrowserUnavailable}
			d.sess.PendingBrowser = nil
		} else {
			tr.Result = stk.ResultTerminalCurrentlyUnableToProcess
		}
		return true

	case stk.ResponseDone:
		if cmd.Type != stk.CommandPlayTone {
			return false
		}
		tr.Result = stk.ResultOK
		return true
	}
	return false
}

func (d *Dispatcher) helpOr(cmd stk.ProactiveCommand, resp stk.UserResponse) stk.ResultCode {
	if resp.Help {
		return stk.ResultHelpInfoRequired
	}
	return d.okResult(cmd)
}

func sameCommand(a, b *stk.ProactiveCommand) bool {
	return a != nil && b != nil && a.ID == b.ID && a.Type == b.Type
}

func isInputCommand(t stk.CommandType) bool {
	return t == stk.CommandGetInput || t == stk.CommandGetInkey
}

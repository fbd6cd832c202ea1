package dispatch

import (
	"context"
	"time"

	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/timer"
)

// dispatchInteractive runs a command that owns the slot until it is resolved.
func (d *Dispatcher) dispatchInteractive(ctx context.Context, cmd stk.ProactiveCommand) {
	current := cmd
	d.sess.CurrentCommand = &current

	// A text that was answered on display stays up until the next command
	// replaces it.
	d.finish(ctx, d.sess.ImmediateDialogHandle)
	d.sess.ImmediateDialogHandle = ""

	switch cmd.Type {
	case stk.CommandDisplayText:
		d.displayText(ctx, cmd)
	case stk.CommandSelectItem:
		d.selectItem(ctx, cmd)
	case stk.CommandGetInput, stk.CommandGetInkey:
		d.getInput(ctx, cmd)
	case stk.CommandLaunchBrowser:
		d.launchBrowserCommand(ctx, cmd)
	case stk.CommandSetUpCall:
		d.setUpCall(ctx, cmd)
	case stk.CommandPlayTone:
		d.playTone(ctx, cmd)
	case stk.CommandOpenChannel:
		d.openChannel(ctx, cmd)
	case stk.CommandGetChannelStatus:
		// The modem answers this command; the user only sees the alpha id.
		d.toast(ctx, cmd.Text)
		d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd))
		d.complete(ctx)
	default:
		d.logger.Printf("command not handled slot=%s command_id=%s type=%s", d.slot(), cmd.ID, cmd.Type)
		d.resolve(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultBeyondTerminalCapability))
	}
}

// dispatchInformative runs a command that never holds the slot. It leaves
// the in-flight command and the queue alone.
func (d *Dispatcher) dispatchInformative(ctx context.Context, cmd stk.ProactiveCommand) {
	switch cmd.Type {
	case stk.CommandSetUpMenu:
		d.setUpMenu(ctx, cmd)
	case stk.CommandSetUpIdleModeText:
		d.setUpIdleModeText(ctx, cmd)
	case stk.CommandSetUpEventList:
		d.setUpEventList(ctx, cmd)
	case stk.CommandSendDTMF, stk.CommandSendSMS, stk.CommandSendSS, stk.CommandSendUSSD, stk.CommandRefresh, stk.CommandRunAT:
		d.toast(ctx, cmd.Text)
		d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd))
	case stk.CommandCloseChannel:
		d.channelToast(ctx, cmd, d.cfg.Texts.CloseChannel)
	case stk.CommandReceiveData:
		d.channelToast(ctx, cmd, d.cfg.Texts.ReceiveData)
	case stk.CommandSendData:
		d.channelToast(ctx, cmd, d.cfg.Texts.SendData)
	}
}

func (d *Dispatcher) displayText(ctx context.Context, cmd stk.ProactiveCommand) {
	msg := cmd.Text.Clone()
	if msg == nil {
		msg = &stk.TextMessage{}
	}

	if d.screenBusy(msg) {
		d.logger.Printf("display text rejected slot=%s command_id=%s reason=screen_busy", d.slot(), cmd.ID)
		tr := stk.NewTerminalResponse(d.slot(), cmd, stk.ResultTerminalCurrentlyUnableToProcess)
		tr.AdditionalInfo = []byte{stk.AdditionalInfoScreenBusy}
		d.resolve(ctx, tr)
		return
	}

	req := d.request(cmd, RequestText)
	req.Title = d.dialogTitle(msg.Title)
	req.Text = msg
	timeout := stk.EffectiveTimeout(msg.Duration, d.cfg.UITimeout)
	if !msg.ImmediateResponse {
		req.DurationMS = timeout.Milliseconds()
	}

	h, err := d.deps.Presenter.ShowText(ctx, req)
	if err != nil {
		d.presentationFailed(ctx, cmd, err)
		return
	}

	if msg.ImmediateResponse {
		d.sess.ImmediateDialogHandle = h
		d.resolve(ctx, stk.NewTerminalResponse(d.slot(), cmd, d.okResult(cmd)))
		return
	}
	d.sess.DialogHandle = h
	d.startDialogTimer(cmd, timeout)
}

// screenBusy reports whether a low priority text must be refused because
// something other than the toolkit owns the screen.
func (d *Dispatcher) screenBusy(msg *stk.TextMessage) bool {
	if msg.HighPriority || d.sess.MenuVisible || d.sess.MenuHandle != "" || d.sess.DialogHandle != "" || d.sess.ActivityHandle != "" {
		return false
	}
	if d.deps.Device.IsToolkitVisible() {
		return false
	}
	return !d.deps.Device.IsScreenIdle()
}

func (d *Dispatcher) selectItem(ctx context.Context, cmd stk.ProactiveCommand) {
	current := cmd
	d.sess.CurrentMenuCommand = &current
	d.sess.CurrentMenu = cmd.Menu

	req := d.request(cmd, RequestMenu)
	req.Menu = cmd.Menu.Clone()
	req.Secondary = true
	req.DurationMS = d.cfg.UITimeout.Milliseconds()

	h, err := d.deps.Presenter.ShowMenu(ctx, req)
	if err != nil {
		d.presentationFailed(ctx, cmd, err)
		return
	}
	d.sess.ActivityHandle = h
	d.startDialogTimer(cmd, d.cfg.UITimeout)
}

func (d *Dispatcher) getInput(ctx context.Context, cmd stk.ProactiveCommand) {
	req := d.request(cmd, RequestInput)
	var input stk.Input
	if cmd.Input != nil {
		input = *cmd.Input
	}
	req.Input = &input
	req.Title = d.dialogTitle("")
	timeout := stk.EffectiveTimeout(input.Duration, d.cfg.UITimeout)
	req.DurationMS = timeout.Milliseconds()

	h, err := d.deps.Presenter.ShowInput(ctx, req)
	if err != nil {
		d.presentationFailed(ctx, cmd, err)
		return
	}
	d.sess.ActivityHandle = h
	d.startDialogTimer(cmd, timeout)
}

func (d *Dispatcher) launchBrowserCommand(ctx context.Context, cmd stk.ProactiveCommand) {
	var settings stk.BrowserSettings
	if cmd.Browser != nil {
		settings = *cmd.Browser
		settings.Confirm = cmd.Browser.Confirm.Clone()
	}

	if !d.deps.Device.IsProvisioned() || d.deps.Carrier.IsLaunchBrowserDisabled(d.slot()) {
		d.logger.Printf("launch browser skipped slot=%s command_id=%s reason=policy", d.slot(), cmd.ID)
		d.resolve(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultOK))
		return
	}

	if settings.URL == "" {
		settings.URL = d.deps.Carrier.DefaultBrowserURL(d.slot())
	}
	if settings.URL == "" {
		d.logger.Printf("launch browser failed slot=%s command_id=%s reason=no_url", d.slot(), cmd.ID)
		tr := stk.NewTerminalResponse(d.slot(), cmd, stk.ResultLaunchBrowserError)
		tr.AdditionalInfo = []byte{stk.AdditionalInfoDefaultURLUnavailable}
		d.resolve(ctx, tr)
		return
	}
	d.sess.PendingBrowser = &settings

	if settings.Confirm == nil || settings.Confirm.Text == "" {
		d.sess.LaunchBrowserPending = true
		d.resolve(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultOK))
		return
	}

	d.confirm(ctx, cmd, settings.Confirm)
}

func (d *Dispatcher) setUpCall(ctx context.Context, cmd stk.ProactiveCommand) {
	var msg *stk.TextMessage
	if cmd.Call != nil {
		msg = cmd.Call.Confirm.Clone()
	}
	if msg == nil {
		msg = &stk.TextMessage{}
	}
	if msg.Text == "" {
		msg.Text = d.cfg.Texts.SetUpCall
	}
	d.confirm(ctx, cmd, msg)
}

func (d *Dispatcher) confirm(ctx context.Context, cmd stk.ProactiveCommand, msg *stk.TextMessage) {
	req := d.request(cmd, RequestConfirm)
	req.Title = d.dialogTitle(msg.Title)
	req.Text = msg
	req.DurationMS = d.cfg.UITimeout.Milliseconds()

	h, err := d.deps.Presenter.ShowConfirmation(ctx, req)
	if err != nil {
		d.presentationFailed(ctx, cmd, err)
		return
	}
	d.sess.DialogHandle = h
	d.startDialogTimer(cmd, d.cfg.UITimeout)
}

func (d *Dispatcher) playTone(ctx context.Context, cmd stk.ProactiveCommand) {
	var settings stk.ToneSettings
	if cmd.Tone != nil {
		settings = *cmd.Tone
		settings.Duration = cmd.Tone.Duration.Clone()
	}

	req := d.request(cmd, RequestTone)
	req.Tone = &settings
	switch {
	case cmd.Text != nil && !cmd.Text.AlphaAbsent && cmd.Text.Text == "":
		// An explicitly empty alpha id asks for the tone alone.
	case cmd.Text == nil || cmd.Text.AlphaAbsent:
		if !d.cfg.SuppressToneText {
			req.ShowText = true
			req.Text = &stk.TextMessage{Text: d.cfg.Texts.Tone}
		}
	default:
		req.ShowText = true
		req.Text = cmd.Text.Clone()
	}
	duration := stk.EffectiveTimeout(settings.Duration, d.cfg.ToneDuration)
	req.DurationMS = duration.Milliseconds()

	h, err := d.deps.Presenter.PlayTone(ctx, req)
	if err != nil {
		d.presentationFailed(ctx, cmd, err)
		return
	}
	d.sess.ActivityHandle = h
	d.sess.TonePlaying = true
	d.deps.Timers.Start(timer.Key{Slot: d.slot(), Kind: timer.KindTone}, cmd.ID, duration)
}

func (d *Dispatcher) openChannel(ctx context.Context, cmd stk.ProactiveCommand) {
	msg := cmd.Text.Clone()
	if msg == nil {
		msg = &stk.TextMessage{}
	}
	if msg.Text == "" {
		msg.Text = d.cfg.Texts.OpenChannel
	}

	req := d.request(cmd, RequestChoice)
	req.Title = d.dialogTitle(msg.Title)
	req.Text = msg
	req.DurationMS = d.cfg.UITimeout.Milliseconds()

	h, err := d.deps.Presenter.ShowOpenChannelChoice(ctx, req)
	if err != nil {
		d.presentationFailed(ctx, cmd, err)
		return
	}
	d.sess.DialogHandle = h
	d.startDialogTimer(cmd, d.cfg.UITimeout)
}

func (d *Dispatcher) setUpMenu(ctx context.Context, cmd stk.ProactiveCommand) {
	if cmd.Menu == nil {
		d.send(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultRequiredValuesMissing))
		d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd).WithResult(stk.ResultRequiredValuesMissing))
		return
	}

	if cmd.Menu.IsRemoval() {
		d.finish(ctx, d.sess.MenuHandle)
		d.sess.MenuHandle = ""
		d.sess.MainCommand = nil
		d.sess.CurrentMenu = nil
		if !d.sess.InProgress {
			d.sess.CurrentCommand = nil
			d.sess.CurrentMenuCommand = nil
		}
		removed := d.deps.Installer.UninstallIfNoMainMenu()
		d.logger.Printf("main menu removed slot=%s uninstalled=%t", d.slot(), removed)
		d.publish(ctx, notify.Event{Type: notify.EventMenuRemoved, Slot: d.slot(), CommandID: cmd.ID})
	} else {
		main := cmd.Clone()
		d.sess.MainCommand = &main
		menu := d.MainMenu()
		if err := d.deps.Installer.Install(menu.Title, menu.TitleIcon); err != nil {
			d.logger.Printf("install menu failed slot=%s err=%v", d.slot(), err)
		}
		d.publish(ctx, notify.Event{Type: notify.EventMenuInstalled, Slot: d.slot(), CommandID: cmd.ID, Detail: menu.Title})
		if !d.sess.InProgress {
			d.sess.CurrentCommand = &main
			d.sess.CurrentMenuCommand = &main
			d.sess.CurrentMenu = main.Menu
		}
		if d.sess.MenuVisible && !d.sess.InProgress {
			d.showMainMenu(ctx)
		}
	}

	result := d.okResult(cmd)
	d.send(ctx, stk.NewTerminalResponse(d.slot(), cmd, result))
	d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd).WithResult(result))
}

func (d *Dispatcher) setUpIdleModeText(ctx context.Context, cmd stk.ProactiveCommand) {
	result := d.okResult(cmd)
	d.send(ctx, stk.NewTerminalResponse(d.slot(), cmd, result))
	d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd).WithResult(result))

	if cmd.Text == nil || cmd.Text.Text == "" {
		d.ClearIdleText(ctx)
		return
	}

	stored := cmd.Clone()
	d.sess.IdleModeText = &stored
	if d.deps.Device.IsScreenIdle() {
		d.showIdleText(ctx)
		return
	}
	d.sess.IdleTextPending = true
	if d.deps.Home != nil {
		d.deps.Home.RegisterHomeVisibility()
	}
	d.logger.Printf("idle text deferred slot=%s reason=screen_busy", d.slot())
}

func (d *Dispatcher) setUpEventList(ctx context.Context, cmd stk.ProactiveCommand) {
	if cmd.Events == nil {
		d.send(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultRequiredValuesMissing))
		d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd).WithResult(stk.ResultRequiredValuesMissing))
		return
	}
	for _, code := range cmd.Events.Events {
		if !code.Supported() {
			d.logger.Printf("event list rejected slot=%s command_id=%s event=%s", d.slot(), cmd.ID, code)
			d.send(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultBeyondTerminalCapability))
			d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd).WithResult(stk.ResultBeyondTerminalCapability))
			return
		}
	}

	d.events.Replace(d.slot(), cmd, cmd.Events.Events)
	d.send(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultOK))
	d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd).WithResult(stk.ResultOK))

	if d.events.Subscribed(d.slot(), stk.EventIdleScreenAvailable) && d.deps.Device.IsScreenIdle() {
		d.eventDownload(ctx, stk.EventIdleScreenAvailable, "")
	}
}

func (d *Dispatcher) toast(ctx context.Context, msg *stk.TextMessage) {
	if msg == nil || msg.Text == "" {
		return
	}
	if err := d.deps.Presenter.ShowEvent(ctx, d.slot(), *msg.Clone()); err != nil {
		d.logger.Printf("show event failed slot=%s err=%v", d.slot(), err)
	}
}

// channelToast shows the card's alpha id, or fallback when the alpha id is
// absent. An explicitly empty alpha id shows nothing.
func (d *Dispatcher) channelToast(ctx context.Context, cmd stk.ProactiveCommand, fallback string) {
	msg := cmd.Text.Clone()
	if msg == nil || msg.AlphaAbsent {
		if msg == nil {
			msg = &stk.TextMessage{}
		}
		if msg.Text == "" {
			msg.Text = fallback
		}
	}
	d.toast(ctx, msg)
	d.publish(ctx, notify.CommandEvent(notify.EventCommandResolved, d.slot(), cmd))
}

func (d *Dispatcher) presentationFailed(ctx context.Context, cmd stk.ProactiveCommand, err error) {
	d.logger.Printf("presentation failed slot=%s command_id=%s type=%s err=%v", d.slot(), cmd.ID, cmd.Type, err)
	d.resolve(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultTerminalCurrentlyUnableToProcess))
}

func (d *Dispatcher) startDialogTimer(cmd stk.ProactiveCommand, timeout time.Duration) {
	d.deps.Timers.Start(timerKeyDialog(d.slot()), cmd.ID, timeout)
}

func (d *Dispatcher) request(cmd stk.ProactiveCommand, kind RequestKind) Request {
	return Request{
		Slot:        d.slot(),
		CommandID:   cmd.ID,
		CommandType: cmd.Type,
		Kind:        kind,
	}
}

// dialogTitle falls back to the last selected item, then the main menu title.
func (d *Dispatcher) dialogTitle(title string) string {
	if title != "" {
		return title
	}
	if d.sess.LastSelectedItem != "" {
		return d.sess.LastSelectedItem
	}
	if menu := d.MainMenu(); menu != nil {
		return menu.Title
	}
	return ""
}

func (d *Dispatcher) okResult(cmd stk.ProactiveCommand) stk.ResultCode {
	if cmd.IconLoadFailed {
		return stk.ResultPerformedIconNotDisplayed
	}
	return stk.ResultOK
}

func timerKeyDialog(slot stk.SlotID) timer.Key {
	return timer.Key{Slot: slot, Kind: timer.KindDialog}
}

package dispatch

import (
	"context"

	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/session"
	"crabstack.local/projects/crab-stk/internal/stk"
)

// MainMenu returns a copy of the card's main menu. When the card supplied
// no title and no self-explanatory title icon, the operator label and icon
// are substituted on the copy.
func (d *Dispatcher) MainMenu() *stk.Menu {
	if d.sess.MainCommand == nil || d.sess.MainCommand.Menu == nil {
		return nil
	}
	menu := d.sess.MainCommand.Menu.Clone()
	if menu.Title != "" || (menu.TitleIcon != nil && menu.TitleIconSelfExplanatory) {
		return menu
	}
	if d.deps.Menus == nil {
		return menu
	}
	label, icon := d.deps.Menus.MenuFallback(d.slot())
	menu.Title = label
	if menu.TitleIcon == nil {
		menu.TitleIcon = icon
	}
	return menu
}

func (d *Dispatcher) CurrentMenu() *stk.Menu {
	return d.sess.CurrentMenu.Clone()
}

// LaunchMainMenu shows the main menu at the user's request. It returns false
// when the slot has no main menu or a card command is pending.
func (d *Dispatcher) LaunchMainMenu(ctx context.Context) bool {
	if d.sess.MainCommand == nil || d.sess.InProgress {
		return false
	}
	d.sess.CurrentCommand = d.sess.MainCommand
	d.sess.CurrentMenuCommand = d.sess.MainCommand
	d.sess.CurrentMenu = d.sess.MainCommand.Menu
	return d.showMainMenu(ctx)
}

func (d *Dispatcher) showMainMenu(ctx context.Context) bool {
	menu := d.MainMenu()
	if menu == nil {
		return false
	}
	req := d.request(*d.sess.MainCommand, RequestMenu)
	req.Title = menu.Title
	req.Menu = menu
	h, err := d.deps.Presenter.ShowMenu(ctx, req)
	if err != nil {
		d.logger.Printf("show main menu failed slot=%s err=%v", d.slot(), err)
		return false
	}
	if h != d.sess.MenuHandle {
		d.finish(ctx, d.sess.MenuHandle)
	}
	d.sess.MenuHandle = h
	return true
}

func (d *Dispatcher) SetMenuVisible(visible bool) {
	d.sess.MenuVisible = visible
}

// CardAbsent tears the slot down after the card left: the tone stops, idle
// text and menus go away, the card link is dropped and every queued or
// in-flight command is abandoned.
func (d *Dispatcher) CardAbsent(ctx context.Context) {
	d.stopTone(ctx)
	d.deps.Timers.Cancel(timerKeyDialog(d.slot()))

	if d.sess.IdleModeText != nil || d.sess.IdleTextVisible {
		if err := d.deps.Presenter.ClearIdleText(ctx, d.slot()); err != nil {
			d.logger.Printf("clear idle text failed slot=%s err=%v", d.slot(), err)
		}
	}

	if d.sess.InProgress && d.sess.CurrentCommand != nil {
		d.publish(ctx, notify.CommandEvent(notify.EventCommandAbandoned, d.slot(), *d.sess.CurrentCommand))
	}
	for _, entry := range d.sess.Queue.Entries() {
		if entry.Kind == session.EntryCommand {
			d.publish(ctx, notify.CommandEvent(notify.EventCommandAbandoned, d.slot(), entry.Command))
		}
	}

	for _, h := range d.sess.Reset() {
		d.finish(ctx, h)
	}
	d.events.Release(d.slot())
	uninstalled := d.deps.Installer.UninstallIfNoMainMenu()
	d.logger.Printf("card absent slot=%s uninstalled=%t", d.slot(), uninstalled)
	d.publish(ctx, notify.Event{Type: notify.EventCardAbsent, Slot: d.slot()})
}

// CardPresent attaches link when the slot has none and applies the result of
// a card refresh.
func (d *Dispatcher) CardPresent(ctx context.Context, link CardLink, refresh stk.RefreshResult) {
	if d.sess.CardLink == nil {
		d.sess.CardLink = link
	}
	switch refresh {
	case stk.RefreshInit:
		d.ClearIdleText(ctx)
	case stk.RefreshReset:
		d.ClearIdleText(ctx)
		d.finish(ctx, d.sess.MenuHandle)
		d.sess.MenuHandle = ""
		d.sess.MainCommand = nil
		d.sess.CurrentMenu = nil
		uninstalled := d.deps.Installer.UninstallIfNoMainMenu()
		d.logger.Printf("card reset slot=%s uninstalled=%t", d.slot(), uninstalled)
	}
	d.publish(ctx, notify.Event{Type: notify.EventCardPresent, Slot: d.slot(), Detail: string(refresh)})
}

// ClearIdleText removes the idle mode text of the slot.
func (d *Dispatcher) ClearIdleText(ctx context.Context) {
	hadText := d.sess.IdleModeText != nil || d.sess.IdleTextVisible
	d.sess.IdleModeText = nil
	d.sess.IdleTextVisible = false
	d.sess.IdleTextPending = false
	if !hadText {
		return
	}
	if err := d.deps.Presenter.ClearIdleText(ctx, d.slot()); err != nil {
		d.logger.Printf("clear idle text failed slot=%s err=%v", d.slot(), err)
	}
	d.publish(ctx, notify.Event{Type: notify.EventIdleTextCleared, Slot: d.slot()})
}

func (d *Dispatcher) showIdleText(ctx context.Context) {
	cmd := d.sess.IdleModeText
	if cmd == nil || cmd.Text == nil {
		return
	}
	d.sess.IdleTextPending = false
	if err := d.deps.Presenter.ShowIdleText(ctx, d.slot(), *cmd.Text.Clone()); err != nil {
		d.logger.Printf("show idle text failed slot=%s err=%v", d.slot(), err)
		return
	}
	d.sess.IdleTextVisible = true
	d.publish(ctx, notify.Event{Type: notify.EventIdleTextShown, Slot: d.slot(), CommandID: cmd.ID, Detail: cmd.Text.Text})
}

// IdleTextPending reports whether the slot waits for the home screen to
// show its idle text.
func (d *Dispatcher) IdleTextPending() bool {
	return d.sess.IdleTextPending
}

// OnIdleScreen handles the host reaching its idle screen: a deferred idle
// text is shown and a subscribed idle screen event is reported once.
func (d *Dispatcher) OnIdleScreen(ctx context.Context) {
	if d.sess.IdleTextPending {
		d.showIdleText(ctx)
	}
	if d.events.Subscribed(d.slot(), stk.EventIdleScreenAvailable) {
		d.eventDownload(ctx, stk.EventIdleScreenAvailable, "")
	}
}

func (d *Dispatcher) OnUserActivity(ctx context.Context) {
	if d.events.Subscribed(d.slot(), stk.EventUserActivity) {
		d.eventDownload(ctx, stk.EventUserActivity, "")
	}
}

func (d *Dispatcher) OnLocaleChanged(ctx context.Context, language string) {
	if d.events.Subscribed(d.slot(), stk.EventLanguageSelection) {
		d.eventDownload(ctx, stk.EventLanguageSelection, language)
	}
}

// eventDownload reports event to the card as an envelope addressed to the
// command that set up the event list. One-shot events are then dropped.
func (d *Dispatcher) eventDownload(ctx context.Context, event stk.EventCode, language string) {
	origin, ok := d.events.Origin(d.slot())
	if !ok {
		return
	}
	tr := stk.NewTerminalResponse(d.slot(), origin, stk.ResultOK)
	tr.Envelope = true
	tr.Event = &stk.EventDownload{Event: event, Language: language}
	d.send(ctx, tr)
	if event.OneShot() {
		d.events.Consume(d.slot(), event)
	}
	d.publish(ctx, notify.Event{Type: notify.EventEventDownload, Slot: d.slot(), CommandID: origin.ID, Detail: event.String()})
}

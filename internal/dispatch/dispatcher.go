package dispatch

import (
	"context"
	"io"
	"log"

	"crabstack.local/projects/crab-stk/internal/events"
	"crabstack.local/projects/crab-stk/internal/notify"
	"crabstack.local/projects/crab-stk/internal/session"
	"crabstack.local/projects/crab-stk/internal/stk"
	"crabstack.local/projects/crab-stk/internal/timer"
)

// Dispatcher is the command state machine of one slot. It is not safe for
// concurrent use: the slot manager loop calls every method.
type Dispatcher struct {
	logger *log.Logger
	sess   *session.SlotSession
	events *events.Registry
	deps   Deps
	cfg    Config

	draining     bool
	pendingDrain bool
}

func New(logger *log.Logger, sess *session.SlotSession, registry *events.Registry, deps Deps, cfg Config) *Dispatcher {
	if sess == nil {
		panic("dispatch: session is required")
	}
	if registry == nil {
		panic("dispatch: event registry is required")
	}
	if deps.Presenter == nil || deps.Device == nil || deps.Carrier == nil || deps.Installer == nil || deps.Timers == nil {
		panic("dispatch: presenter, device, carrier, installer and timers are required")
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{
		logger: logger,
		sess:   sess,
		events: registry,
		deps:   deps,
		cfg:    cfg.withDefaults(),
	}
}

func (d *Dispatcher) Session() *session.SlotSession {
	return d.sess
}

func (d *Dispatcher) slot() stk.SlotID {
	return d.sess.Slot
}

// Submit accepts a proactive command. Informative commands run at once;
// interactive ones run if the slot is free and queue otherwise.
func (d *Dispatcher) Submit(ctx context.Context, cmd stk.ProactiveCommand) {
	if cmd.Type == "" {
		d.logger.Printf("command dropped slot=%s command_id=%s reason=missing_type", d.slot(), cmd.ID)
		d.publish(ctx, notify.CommandEvent(notify.EventCommandRejected, d.slot(), cmd))
		return
	}
	if !cmd.Type.Valid() {
		d.logger.Printf("command rejected slot=%s command_id=%s type=%s reason=unknown_type", d.slot(), cmd.ID, cmd.Type)
		d.send(ctx, stk.NewTerminalResponse(d.slot(), cmd, stk.ResultCommandTypeNotUnderstood))
		d.publish(ctx, notify.CommandEvent(notify.EventCommandRejected, d.slot(), cmd).WithResult(stk.ResultCommandTypeNotUnderstood))
		return
	}

	if !cmd.Type.Interactive() {
		d.publish(ctx, notify.CommandEvent(notify.EventCommandDispatched, d.slot(), cmd))
		d.dispatchInformative(ctx, cmd)
		return
	}

	if d.sess.InProgress {
		d.sess.Queue.Push(session.QueueEntry{Kind: session.EntryCommand, Command: cmd, Slot: d.slot()})
		d.logger.Printf("command queued slot=%s command_id=%s type=%s depth=%d", d.slot(), cmd.ID, cmd.Type, d.sess.Queue.Len())
		d.publish(ctx, notify.CommandEvent(notify.EventCommandQueued, d.slot(), cmd))
		return
	}

	d.sess.InProgress = true
	d.publish(ctx, notify.CommandEvent(notify.EventCommandDispatched, d.slot(), cmd))
	d.dispatchInteractive(ctx, cmd)
}

// SubmitSessionEnd ends the card session, after the in-flight command if
// there is one.
func (d *Dispatcher) SubmitSessionEnd(ctx context.Context) {
	if d.sess.InProgress {
		d.sess.Queue.Push(session.QueueEntry{Kind: session.EntrySessionEnd, Slot: d.slot()})
		d.logger.Printf("session end queued slot=%s depth=%d", d.slot(), d.sess.Queue.Len())
		return
	}
	d.EndSession(ctx)
}

// EndSession abandons pending surfaces, rewinds correlation state to the
// main menu and then drains the queue.
func (d *Dispatcher) EndSession(ctx context.Context) {
	for _, h := range d.sess.ClearPendingHandles() {
		d.finish(ctx, h)
	}
	d.deps.Timers.Cancel(timerKeyDialog(d.slot()))
	d.stopTone(ctx)

	d.sess.CurrentCommand = d.sess.MainCommand
	d.sess.CurrentMenuCommand = d.sess.MainCommand
	if d.sess.MainCommand != nil {
		d.sess.CurrentMenu = d.sess.MainCommand.Menu
	}
	d.sess.LastSelectedItem = ""
	d.sess.SessionFromUser = false

	d.logger.Printf("session ended slot=%s", d.slot())
	d.publish(ctx, notify.Event{Type: notify.EventSessionEnded, Slot: d.slot()})

	if d.sess.MenuVisible && d.sess.MainCommand != nil {
		d.showMainMenu(ctx)
	}

	if d.sess.LaunchBrowserPending {
		d.sess.LaunchBrowserPending = false
		d.launchBrowser(ctx)
	}

	d.complete(ctx)
}

// complete releases the slot after the in-flight entry finished: the next
// queued entry runs, or inProgress is cleared. Nested completions triggered
// by entries that finish synchronously are flattened into one loop.
func (d *Dispatcher) complete(ctx context.Context) {
	d.pendingDrain = true
	if d.draining {
		return
	}
	d.draining = true
	defer func() { d.draining = false }()

	for d.pendingDrain {
		d.pendingDrain = false
		entry, ok := d.sess.Queue.Pop()
		if !ok {
			d.sess.InProgress = false
			return
		}
		d.sess.InProgress = true
		switch entry.Kind {
		case session.EntrySessionEnd:
			d.EndSession(ctx)
		default:
			d.logger.Printf("command dequeued slot=%s command_id=%s type=%s depth=%d", d.slot(), entry.Command.ID, entry.Command.Type, d.sess.Queue.Len())
			d.publish(ctx, notify.CommandEvent(notify.EventCommandDispatched, d.slot(), entry.Command))
			d.dispatchInteractive(ctx, entry.Command)
		}
	}
}

// resolve sends the terminal response for the in-flight interactive command
// and releases the slot.
func (d *Dispatcher) resolve(ctx context.Context, tr stk.TerminalResponse) {
	d.send(ctx, tr)
	d.publish(ctx, notify.Event{
		Type:        notify.EventCommandResolved,
		Slot:        d.slot(),
		CommandID:   tr.CommandID,
		CommandType: tr.CommandType,
	}.WithResult(tr.Result))
	d.complete(ctx)
}

func (d *Dispatcher) send(ctx context.Context, tr stk.TerminalResponse) {
	link := d.sess.CardLink
	if link == nil {
		d.logger.Printf("terminal response dropped slot=%s command_id=%s result=%s reason=no_card_link", d.slot(), tr.CommandID, tr.Result)
		return
	}
	if err := link.SendTerminalResponse(ctx, tr); err != nil {
		d.logger.Printf("terminal response failed slot=%s command_id=%s result=%s err=%v", d.slot(), tr.CommandID, tr.Result, err)
		return
	}
	d.logger.Printf("terminal response sent slot=%s command_id=%s type=%s result=%s envelope=%t", d.slot(), tr.CommandID, tr.CommandType, tr.Result, tr.Envelope)
}

func (d *Dispatcher) publish(ctx context.Context, event notify.Event) {
	if d.deps.Notifier == nil {
		return
	}
	d.deps.Notifier.Publish(ctx, event)
}

func (d *Dispatcher) finish(ctx context.Context, h stk.Handle) {
	if h == "" {
		return
	}
	if err := d.deps.Presenter.Finish(ctx, d.slot(), h); err != nil {
		d.logger.Printf("finish surface failed slot=%s handle=%s err=%v", d.slot(), h, err)
	}
}

func (d *Dispatcher) stopTone(ctx context.Context) {
	d.deps.Timers.Cancel(timer.Key{Slot: d.slot(), Kind: timer.KindTone})
	if !d.sess.TonePlaying {
		return
	}
	d.sess.TonePlaying = false
	if err := d.deps.Presenter.StopTone(ctx, d.slot()); err != nil {
		d.logger.Printf("stop tone failed slot=%s err=%v", d.slot(), err)
	}
}

func (d *Dispatcher) launchBrowser(ctx context.Context) {
	settings := d.sess.PendingBrowser
	d.sess.PendingBrowser = nil
	if settings == nil || d.deps.Browser == nil {
		return
	}
	if err := d.deps.Browser.Launch(ctx, d.slot(), *settings); err != nil {
		d.logger.Printf("browser launch failed slot=%s url=%s err=%v", d.slot(), settings.URL, err)
		return
	}
	d.logger.Printf("browser launched slot=%s url=%s mode=%s", d.slot(), settings.URL, settings.Mode)
	d.publish(ctx, notify.Event{Type: notify.EventBrowserLaunched, Slot: d.slot(), Detail: settings.URL})
}

package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"crabstack.local/projects/crab-stk/internal/dispatch"
	"crabstack.local/projects/crab-stk/internal/uiclient"
)

const helpText = "Answer the open surface below. /back, /end, /menu <slot> on|off, /timer <slot> touch|pause|resume, /quit."

// Run connects to the daemon UI socket at wsURL and renders toolkit surfaces
// until the user quits or the connection ends.
func Run(ctx context.Context, wsURL string) error {
	cli, err := uiclient.New(wsURL)
	if err != nil {
		return err
	}
	defer cli.Close()

	board := NewBoard()
	app := tview.NewApplication()

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetText("[yellow]status: disconnected")
	statusView.SetBorder(true).SetTitle("Connection")

	surfaceView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	surfaceView.SetBorder(true).SetTitle("Toolkit")

	idleView := tview.NewTextView().
		SetDynamicColors(true)
	idleView.SetBorder(true).SetTitle("Idle Text")

	eventsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true).
		SetScrollable(true)
	eventsView.SetBorder(true).SetTitle("Events")

	helpView := tview.NewTextView().
		SetDynamicColors(true).
		SetText(helpText)
	helpView.SetBorder(true).SetTitle("Help")

	input := tview.NewInputField().
		SetLabel("Answer> ").
		SetFieldWidth(0)
	input.SetBorder(true).SetTitle("Compose")

	top := tview.NewFlex().
		AddItem(surfaceView, 0, 2, false).
		AddItem(idleView, 0, 1, false)

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(statusView, 3, 0, false).
		AddItem(top, 0, 1, false).
		AddItem(eventsView, 0, 1, false).
		AddItem(helpView, 3, 0, false).
		AddItem(input, 3, 0, true)

	appendLine := func(line string) {
		_, _ = fmt.Fprintf(eventsView, "%s\n", line)
		eventsView.ScrollToEnd()
	}
	setStatus := func(line string) {
		statusView.SetText(line)
	}
	redraw := func() {
		surfaceView.SetText(board.Render())
		idleView.SetText(strings.Join(board.IdleTexts(), "\n"))
	}
	redraw()

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(input.GetText())
		if text == "" && !acceptsEmpty(board) {
			return
		}
		input.SetText("")

		if text == "/quit" {
			app.Stop()
			return
		}

		frame, err := board.Answer(text)
		if err != nil {
			appendLine(fmt.Sprintf("[red]%s %v", timestamp(), err))
			return
		}
		go func() {
			sendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := cli.Send(sendCtx, frame); err != nil {
				app.QueueUpdateDraw(func() {
					appendLine(fmt.Sprintf("[red]%s send failed: %v", timestamp(), err))
				})
				return
			}
			app.QueueUpdateDraw(func() {
				appendLine(fmt.Sprintf("[gray]%s sent %s slot=%s", timestamp(), frame.Type, frame.Slot))
			})
		}()
	})

	go func() {
		app.QueueUpdateDraw(func() {
			setStatus("[yellow]status: connecting")
		})

		if err := cli.Connect(ctx); err != nil {
			app.QueueUpdateDraw(func() {
				setStatus(fmt.Sprintf("[red]status: connect failed (%v)", err))
				appendLine(fmt.Sprintf("[red]%s connect failed: %v", timestamp(), err))
			})
			return
		}

		app.QueueUpdateDraw(func() {
			setStatus("[green]status: connected")
		})

		for {
			select {
			case <-ctx.Done():
				app.QueueUpdateDraw(func() {
					appendLine(fmt.Sprintf("[yellow]%s context closed: %v", timestamp(), ctx.Err()))
				})
				return
			case <-cli.Done():
				app.QueueUpdateDraw(func() {
					setStatus("[yellow]status: disconnected")
				})
				return
			case err := <-cli.Errors():
				app.QueueUpdateDraw(func() {
					appendLine(fmt.Sprintf("[red]%s %v", timestamp(), err))
				})
			case frame := <-cli.Frames():
				app.QueueUpdateDraw(func() {
					appendLine(fmt.Sprintf("[white]%s %s", timestamp(), board.Apply(frame)))
					redraw()
				})
			}
		}
	}()

	if err := app.SetRoot(layout, true).EnableMouse(true).Run(); err != nil {
		return err
	}
	return nil
}

// acceptsEmpty reports whether a bare enter answers the focused surface.
func acceptsEmpty(board *Board) bool {
	req, ok := board.Focused()
	if !ok {
		return false
	}
	return req.Kind == dispatch.RequestText || req.Kind == dispatch.RequestTone
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

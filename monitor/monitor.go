// Package monitor shows the live and stored values of a potentiometer chain
// in a full-screen terminal view until the user quits.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	c "lautenbacher.net/potchain/config"
	"lautenbacher.net/potchain/logging"
	"lautenbacher.net/potchain/util"
)

const viewerTitle = " potchain monitor "

// Run polls r and renders every reading until the user hits q, ctx is
// cancelled or a read fails. A read failure is returned after the view
// closes. Log output is held back while the view owns the terminal.
func Run(ctx context.Context, r Reader, cfg c.MonitorConfig) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logging.BufferOutput()
	defer logging.BufferOutput()

	app := tview.NewApplication()
	v := newViewer(cfg.History)
	readings := util.NewAtomicEvent[Reading]()

	intro := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	intro.SetText(fmt.Sprintf("Polling every %s, history of %d readings\nHit [#ff0000]q[-] to exit, [#ff0000]Up/Down[-] to scroll logs",
		cfg.PollInterval, cfg.History))
	intro.SetBorder(true).SetTitle(viewerTitle).SetTitleColor(tcell.ColorLightBlue)
	intro.SetBackgroundColor(tcell.NewRGBColor(20, 20, 20))

	table := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	table.SetBorder(true)
	table.SetBackgroundColor(tcell.NewRGBColor(30, 30, 30))
	table.SetText(v.record(Reading{}, 0))

	logView := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetChangedFunc(func() {
			app.Draw()
		})
	logView.SetBorder(true).SetTitle(" Logs ").SetTitleColor(tcell.ColorLightBlue)
	logView.SetBackgroundColor(tcell.NewRGBColor(40, 40, 40))

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(intro, 4, 0, false).
		AddItem(table, 10, 0, false).
		AddItem(logView, 0, 1, true)

	var flushOnce sync.Once
	app.SetAfterDrawFunc(func(screen tcell.Screen) {
		flushOnce.Do(func() {
			if err := logging.SetOutput(tview.ANSIWriter(logView)); err != nil {
				slog.Warn("Could not flush buffered logs", "error", err)
			}
		})
	})

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyCtrlC:
			cancel()
			return nil
		case tcell.KeyUp:
			row, col := logView.GetScrollOffset()
			logView.ScrollTo(row-1, col)
			return nil
		case tcell.KeyDown:
			row, col := logView.GetScrollOffset()
			logView.ScrollTo(row+1, col)
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q', 'Q':
				cancel()
				return nil
			}
		}
		return event
	})

	var wg sync.WaitGroup
	var pollErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		pollErr = Poll(ctx, r, cfg.PollInterval, readings)
		if pollErr != nil {
			// leave the failed reading on screen until the user quits
			<-ctx.Done()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				app.Stop()
				return
			case <-readings.Channel():
				text := v.record(readings.Value(), readings.Dropped())
				app.QueueUpdateDraw(func() {
					table.SetText(text)
				})
			}
		}
	}()

	err := app.SetRoot(layout, true).Run()
	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("terminal view: %w", err)
	}
	return pollErr
}

// Package ui renders a minimal terminal status view for a running stream
// and translates key presses into controller commands.
package ui

import (
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog/log"

	"github.com/avoronov/streamcast/internal/config"
	"github.com/avoronov/streamcast/internal/engine"
)

const (
	VolumeStep      = 0.05
	SeekStep        = 10.0 // seconds
	ProgressBarCols = 40
	RedrawInterval  = 250 * time.Millisecond
)

type UI struct {
	app        *tview.Application
	controller *engine.Controller
	config     *config.Config
	ref        string

	statusView *tview.TextView
	helpView   *tview.TextView

	mu         sync.Mutex
	lastRedraw time.Time
	position   float64
	duration   float64
	playing    bool
	downloaded int64
	totalBytes int64
}

func New(controller *engine.Controller, cfg *config.Config, ref string) *UI {
	ui := &UI{
		app:        tview.NewApplication(),
		controller: controller,
		config:     cfg,
		ref:        ref,
	}

	ui.statusView = tview.NewTextView().SetDynamicColors(true)
	ui.statusView.SetBorder(true).SetTitle(fmt.Sprintf(" %s ", config.AppName))

	ui.helpView = tview.NewTextView().SetDynamicColors(true)
	ui.helpView.SetText(" [yellow]space[-] play/pause   [yellow]←/→[-] seek ±10s   [yellow]↑/↓[-] volume   [yellow]q[-] quit")

	layout := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(ui.statusView, 6, 0, true).
		AddItem(ui.helpView, 1, 0, false)

	ui.app.SetRoot(layout, true)
	ui.app.SetInputCapture(ui.handleKey)

	controller.OnState(ui.onState)
	controller.OnProgress(ui.onProgress)
	controller.OnError(func(msg string) {
		log.Error().Str("error", msg).Msg("Stream failed")
		ui.app.QueueUpdateDraw(func() {
			ui.statusView.SetText(fmt.Sprintf("\n  [red]ERROR[-]  %s", msg))
		})
	})

	return ui
}

// Run blocks until the UI exits.
func (ui *UI) Run() error {
	ui.redraw()
	return ui.app.Run()
}

// Shutdown stops the event loop. Safe to call from any goroutine.
func (ui *UI) Shutdown() {
	ui.app.Stop()
}

func (ui *UI) handleKey(event *tcell.EventKey) *tcell.EventKey {
	switch event.Key() {
	case tcell.KeyLeft:
		ui.controller.SeekTo(ui.controller.Position() - SeekStep)
		return nil
	case tcell.KeyRight:
		ui.controller.SeekTo(ui.controller.Position() + SeekStep)
		return nil
	case tcell.KeyUp:
		ui.setVolume(ui.controller.Volume() + VolumeStep)
		return nil
	case tcell.KeyDown:
		ui.setVolume(ui.controller.Volume() - VolumeStep)
		return nil
	case tcell.KeyEscape:
		ui.Shutdown()
		return nil
	}

	switch event.Rune() {
	case ' ':
		if ui.controller.IsPaused() {
			ui.controller.Play()
		} else {
			ui.controller.Pause()
		}
		return nil
	case 'q', 'Q':
		ui.Shutdown()
		return nil
	}
	return event
}

func (ui *UI) setVolume(v float64) {
	ui.controller.SetVolume(v)
	ui.config.Volume = ui.controller.Volume()
	if err := ui.config.Save(); err != nil {
		log.Debug().Err(err).Msg("Failed to persist volume")
	}
}

// onState runs on the output worker's cadence; redraws are throttled so the
// terminal is not repainted dozens of times per second.
func (ui *UI) onState(playing bool, position, duration float64) {
	ui.mu.Lock()
	ui.playing = playing
	ui.position = position
	ui.duration = duration
	due := time.Since(ui.lastRedraw) >= RedrawInterval
	if due {
		ui.lastRedraw = time.Now()
	}
	ui.mu.Unlock()

	if due {
		ui.app.QueueUpdateDraw(ui.redraw)
	}
}

func (ui *UI) onProgress(downloaded, total int64) {
	ui.mu.Lock()
	ui.downloaded = downloaded
	ui.totalBytes = total
	ui.mu.Unlock()
}

func (ui *UI) redraw() {
	ui.mu.Lock()
	playing := ui.playing
	position := ui.position
	duration := ui.duration
	downloaded := ui.downloaded
	total := ui.totalBytes
	ui.mu.Unlock()

	state := ui.controller.State()
	icon := "⏸"
	if playing && state == engine.StatePlaying {
		icon = "▶"
	}

	text := fmt.Sprintf("\n  %s  [yellow]%s[-]  %s\n  %s\n  volume %3.0f%%%s",
		icon,
		state,
		ui.ref,
		progressLine(position, duration),
		ui.controller.Volume()*100,
		downloadLine(downloaded, total),
	)
	ui.statusView.SetText(text)
}

func progressLine(position, duration float64) string {
	if duration <= 0 {
		return fmt.Sprintf("%s  (live)", formatTime(position))
	}
	return fmt.Sprintf("%s %s %s",
		formatTime(position),
		progressBar(position, duration, ProgressBarCols),
		formatTime(duration),
	)
}

func progressBar(position, duration float64, width int) string {
	filled := 0
	if duration > 0 {
		filled = int(position / duration * float64(width))
	}
	if filled > width {
		filled = width
	}
	bar := make([]rune, width)
	for i := range bar {
		if i < filled {
			bar[i] = '█'
		} else {
			bar[i] = '░'
		}
	}
	return string(bar)
}

func downloadLine(downloaded, total int64) string {
	if downloaded <= 0 {
		return ""
	}
	if total > 0 {
		return fmt.Sprintf("   downloaded %s / %s", formatBytes(downloaded), formatBytes(total))
	}
	return fmt.Sprintf("   downloaded %s", formatBytes(downloaded))
}

func formatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	if total >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
	}
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

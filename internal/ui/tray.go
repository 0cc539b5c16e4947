package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"
	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/logging"
)

// Tray shows the runner state in the system tray. It observes the status hub
// and only ever touches menu items from the hub's dispatch goroutine or its
// own click loop, both under mu.
type Tray struct {
	runner *catalog.Runner
	hub    *export.Hub
	logger *slog.Logger

	statusItem *systray.MenuItem
	pauseItem  *systray.MenuItem
	cancelItem *systray.MenuItem

	mu     sync.Mutex
	ready  bool
	last   export.Status
	onQuit func()
}

type TrayConfig struct {
	Runner *catalog.Runner
	Hub    *export.Hub
	Logger *slog.Logger
	OnQuit func()
}

func NewTray(cfg TrayConfig) *Tray {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Tray{
		runner: cfg.Runner,
		hub:    cfg.Hub,
		logger: logging.WithComponent(cfg.Logger, "tray"),
		onQuit: cfg.OnQuit,
	}
}

// Run blocks on the platform event loop until Quit.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle("Lapseforge")
	systray.SetTooltip("Lapseforge")

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Idle", "Current job status")
	t.statusItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause", "Pause the job queue")
	t.cancelItem = systray.AddMenuItem("Cancel Job", "Cancel the running job")
	t.cancelItem.Disable()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Lapseforge")
	t.ready = true
	t.mu.Unlock()

	if t.hub != nil {
		t.hub.Observe(t)
		t.StatusChanged(t.hub.Current())
	}

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-t.cancelItem.ClickedCh:
				t.cancelCurrent()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

// StatusChanged implements export.Observer.
func (t *Tray) StatusChanged(s export.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.last = s
	if !t.ready {
		return
	}
	if s.State.Terminal() || s.State == export.StateIdle {
		t.cancelItem.Disable()
	} else {
		t.cancelItem.Enable()
	}
	if t.runner != nil && t.runner.IsPaused() {
		return
	}
	t.statusItem.SetTitle("Status: " + StatusLabel(s))
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.runner == nil {
		return
	}

	if t.runner.IsPaused() {
		t.runner.Resume()
		t.pauseItem.SetTitle("Pause")
		t.statusItem.SetTitle("Status: " + StatusLabel(t.last))
	} else {
		t.runner.Pause()
		t.pauseItem.SetTitle("Resume")
		t.statusItem.SetTitle("Status: Paused")
	}
}

func (t *Tray) cancelCurrent() {
	if t.runner == nil {
		return
	}
	id := t.runner.CurrentJobID()
	if id == "" {
		return
	}
	t.logger.Info("cancel requested from tray", "job_id", id)
	if err := t.runner.Cancel(context.Background(), id); err != nil {
		t.logger.Warn("cancel from tray failed", "job_id", id, "error", err)
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// StatusLabel renders a status as a short menu line.
func StatusLabel(s export.Status) string {
	switch s.State {
	case export.StateExporting:
		return fmt.Sprintf("Exporting %d%%", int(s.ExportProgress*100))
	case export.StateUnifying:
		return fmt.Sprintf("Finishing %d%%", int(s.UnifyProgress*100))
	case export.StateImporting:
		if s.Total > 0 {
			return fmt.Sprintf("Importing %d/%d", s.Extracted, s.Total)
		}
		return "Importing"
	case export.StateCompleted:
		if s.Kind == export.KindImport {
			return "Import finished"
		}
		return "Export finished"
	case export.StateFailed:
		if s.Kind == export.KindImport {
			return "Import failed"
		}
		return "Export failed"
	default:
		return "Idle"
	}
}

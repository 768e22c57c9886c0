package ui

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/getlantern/systray"

	"github.com/pickabook/pickabook-agent/internal/stages"
	"github.com/pickabook/pickabook-agent/internal/workflow"
)

// Workflow is what the tray needs from the workflow controller.
type Workflow interface {
	Snapshot() workflow.State
	Subscribe(fn func(workflow.State)) (unsubscribe func())
	Reset()
}

type Tray struct {
	wf     Workflow
	studio string
	logger *slog.Logger

	statusItem *systray.MenuItem
	resetItem  *systray.MenuItem

	mu          sync.Mutex
	unsubscribe func()

	onQuit func()
}

type TrayConfig struct {
	Workflow  Workflow
	StudioURL string
	Logger    *slog.Logger
	OnQuit    func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		wf:     cfg.Workflow,
		studio: cfg.StudioURL,
		logger: cfg.Logger,
		onQuit: cfg.OnQuit,
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Pickabook")
	systray.SetTooltip("Pickabook studio at " + t.studio)

	t.mu.Lock()
	t.statusItem = systray.AddMenuItem("Status: Ready", "Current workflow status")
	t.statusItem.Disable()
	studioItem := systray.AddMenuItem("Studio: "+t.studio, "Open this address in a browser")
	studioItem.Disable()

	systray.AddSeparator()

	t.resetItem = systray.AddMenuItem("Create Another", "Clear the current image and result")
	t.mu.Unlock()

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Pickabook Agent")

	t.render(t.wf.Snapshot())
	unsubscribe := t.wf.Subscribe(t.render)
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-t.resetItem.ClickedCh:
				t.logger.Info("reset requested from tray")
				t.wf.Reset()
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
	t.mu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.mu.Unlock()
	t.logger.Info("system tray exiting")
}

// render runs on the controller's transition path and only touches menu items.
func (t *Tray) render(s workflow.State) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle("Status: " + StatusLabel(s))
	if workflow.Processing(s) {
		t.resetItem.SetTitle("Cancel")
	} else {
		t.resetItem.SetTitle("Create Another")
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}

// StatusLabel is the one-line tray summary of a workflow state.
func StatusLabel(s workflow.State) string {
	switch v := s.(type) {
	case *workflow.Uploading:
		return "Uploading " + v.Image.Name
	case *workflow.SimulatingProgress:
		st := v.Stages[v.Step]
		return fmt.Sprintf("Step %d/%d: %s", v.Step+1, stages.Count, st.Title)
	case *workflow.Polling:
		return "Finishing up..."
	case *workflow.Completed:
		return "Illustration ready"
	case *workflow.Failed:
		return "Failed (" + string(v.Kind) + ")"
	}
	return "Ready"
}

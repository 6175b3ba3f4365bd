//go:build !(android || ios)

// Package gui is the desktop front end: a window with Start VPN and Stop
// VPN buttons that follows the running flag.
package gui

import (
	"context"
	"errors"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	log "github.com/sirupsen/logrus"

	"wgsession/internal/session"
	"wgsession/internal/state"
)

// Controller is the part of the coordinator the window drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Snapshot() session.Snapshot
}

type FyneUI struct {
	app     fyne.App
	MainWin fyne.Window
	ctrl    Controller
	running *state.Store
	version string

	status   *widget.Label
	detail   *widget.Label
	startBtn *widget.Button
	stopBtn  *widget.Button
	logs     *LogPane
}

func NewFyneUI(a fyne.App, version string, ctrl Controller, running *state.Store) *FyneUI {
	s := &FyneUI{
		app:     a,
		MainWin: a.NewWindow("WireGuard VPN"),
		ctrl:    ctrl,
		running: running,
		version: version,
	}
	s.build()
	return s
}

func (s *FyneUI) build() {
	s.status = widget.NewLabelWithStyle("Disconnected", fyne.TextAlignCenter, fyne.TextStyle{Bold: true})
	s.detail = widget.NewLabelWithStyle("", fyne.TextAlignCenter, fyne.TextStyle{})

	s.startBtn = widget.NewButtonWithIcon("Start VPN", theme.MediaPlayIcon(), func() {
		s.startBtn.Disable()
		s.stopBtn.Enable()
		go s.run("start", s.ctrl.Start)
	})
	s.startBtn.Importance = widget.HighImportance

	s.stopBtn = widget.NewButtonWithIcon("Stop VPN", theme.MediaStopIcon(), func() {
		s.stopBtn.Disable()
		go s.run("stop", s.ctrl.Stop)
	})
	s.stopBtn.Disable()

	s.logs = NewLogPane(200)

	top := container.NewVBox(
		s.status,
		s.detail,
		container.NewGridWithColumns(2, s.startBtn, s.stopBtn),
	)
	s.MainWin.SetContent(container.NewBorder(top, widget.NewLabel("v"+s.version), nil, nil, s.logs.GetContainer()))
	s.MainWin.Resize(fyne.NewSize(480, 420))
	s.MainWin.CenterOnScreen()
	s.MainWin.SetMaster()
}

func (s *FyneUI) run(op string, fn func(context.Context) error) {
	err := fn(context.Background())
	fyne.Do(func() {
		s.render(s.running.Value())
		if err != nil && !errors.Is(err, session.ErrCanceled) {
			log.WithError(err).Errorf("VPN %s failed", op)
			dialog.ShowError(err, s.MainWin)
		}
	})
}

// render must run on the fyne goroutine.
func (s *FyneUI) render(running bool) {
	snap := s.ctrl.Snapshot()
	if running {
		s.status.SetText("Connected")
		s.detail.SetText(snap.Tunnel + " on " + snap.Interface + " since " + snap.Since.Format(time.Kitchen))
		s.startBtn.Disable()
		s.stopBtn.Enable()
		return
	}
	s.status.SetText("Disconnected")
	s.detail.SetText(snap.LastError)
	if snap.Phase == session.Idle {
		s.startBtn.Enable()
		s.stopBtn.Disable()
	} else {
		// An attempt is in flight; only Stop makes sense.
		s.startBtn.Disable()
		s.stopBtn.Enable()
	}
}

// Watch follows the running flag until ctx ends.
func (s *FyneUI) Watch(ctx context.Context) {
	for v := range s.running.Subscribe(ctx) {
		fyne.Do(func() { s.render(v) })
	}
}

func (s *FyneUI) setupSystray() {
	desk, ok := s.app.(desktop.App)
	if !ok {
		return
	}
	menu := fyne.NewMenu("WireGuard VPN",
		fyne.NewMenuItem("Show Window", func() { s.MainWin.Show() }),
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Start VPN", func() { go s.run("start", s.ctrl.Start) }),
		fyne.NewMenuItem("Stop VPN", func() { go s.run("stop", s.ctrl.Stop) }),
	)
	desk.SetSystemTrayMenu(menu)
	desk.SetSystemTrayIcon(theme.ComputerIcon())

	s.MainWin.SetCloseIntercept(func() {
		s.MainWin.Hide()
		s.app.SendNotification(fyne.NewNotification("WireGuard VPN", "Running in system tray"))
	})
}

// Start shows the window and blocks until the application quits.
func Start(ctx context.Context, s *FyneUI) error {
	if s == nil {
		return errors.New("FyneUI is nil")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setupSystray()
	go s.Watch(ctx)
	go func() {
		<-ctx.Done()
		fyne.Do(s.app.Quit)
	}()

	s.MainWin.ShowAndRun()
	return nil
}

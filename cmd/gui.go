//go:build !(android || ios)

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"wgsession/internal/consent"
	"wgsession/internal/gui"
	"wgsession/internal/notify"
	"wgsession/internal/state"

	"fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const appID = "io.github.wgsession"

var guiCmd = &cobra.Command{
	Use:   "gui",
	Short: "open the Start VPN / Stop VPN window",
	RunE:  runGUI,
}

func runGUI(cmd *cobra.Command, _ []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer zap.S().Sync() //nolint:errcheck

	fyneApp := app.NewWithID(appID)

	// The window exists only after the coordinator, so prompts look it up late.
	var ui *gui.FyneUI
	prompter := consent.PrompterFunc(func(ctx context.Context, title, message string) (bool, error) {
		return gui.DialogPrompter{Window: ui.MainWin}.Confirm(ctx, title, message)
	})

	notifications := e.gate(scopeNotifications, prompter)
	notifier := notify.Multi{
		notify.Log{},
		notify.Gated{Allow: notifications, Next: gui.Notifier{App: fyneApp}},
	}

	running := state.New(false)
	c, _, err := e.coordinator(e.builder(""), e.gate(scopeVPN, prompter), notifications, notifier, running)
	if err != nil {
		return err
	}
	defer c.Close()

	ui = gui.NewFyneUI(fyneApp, version, c, running)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gui.Start(ctx, ui); err != nil {
		zap.S().Errorw("couldn't start the window", "error", err)
		return err
	}

	err = shutdown(e, c)
	zap.S().Info("shutdown complete")
	return err
}

func init() {
	rootCmd.AddCommand(guiCmd)
}

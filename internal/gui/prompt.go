//go:build !(android || ios)

package gui

import (
	"context"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
)

// DialogPrompter asks through a confirm dialog on Window. A cancelled
// context closes the dialog.
type DialogPrompter struct {
	Window fyne.Window
}

func (p DialogPrompter) Confirm(ctx context.Context, title, message string) (bool, error) {
	answer := make(chan bool, 1)
	shown := make(chan *dialog.ConfirmDialog, 1)

	fyne.Do(func() {
		d := dialog.NewConfirm(title, message, func(ok bool) {
			select {
			case answer <- ok:
			default:
			}
		}, p.Window)
		d.SetConfirmText("Allow")
		d.SetDismissText("Deny")
		p.Window.Show()
		d.Show()
		shown <- d
	})

	select {
	case ok := <-answer:
		return ok, nil
	case <-ctx.Done():
		fyne.Do(func() {
			select {
			case d := <-shown:
				d.Hide()
			default:
			}
		})
		return false, ctx.Err()
	}
}

// Notifier shows desktop notifications.
type Notifier struct {
	App fyne.App
}

func (n Notifier) Notify(title, message string) {
	fyne.Do(func() {
		n.App.SendNotification(fyne.NewNotification(title, message))
	})
}

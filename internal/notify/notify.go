// Package notify shows user-facing notices about the tunnel.
package notify

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

const Title = "WireGuard VPN"

const (
	MsgConnecting   = "Connecting"
	MsgConnected    = "Connected"
	MsgDisconnected = "Disconnected"
)

// Notifier is fire-and-forget: implementations must not block the caller
// and must swallow their own failures.
type Notifier interface {
	Notify(title, message string)
}

// Log writes notices to the application log.
type Log struct{}

func (Log) Notify(title, message string) {
	log.WithField("title", title).Info(message)
}

// Func adapts a function. It runs on its own goroutine.
type Func func(title, message string)

func (f Func) Notify(title, message string) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Warnf("Notification failed: %v", r)
			}
		}()
		f(title, message)
	}()
}

// Multi fans a notice out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(title, message string) {
	for _, n := range m {
		if n != nil {
			n.Notify(title, message)
		}
	}
}

// Checker reports whether notices may be shown. consent.Gate satisfies it.
type Checker interface {
	Check(ctx context.Context) (bool, error)
}

// Gated drops notices until Allow reports an approval.
type Gated struct {
	Allow Checker
	Next  Notifier
}

func (g Gated) Notify(title, message string) {
	ok, err := g.Allow.Check(context.Background())
	if err != nil {
		log.WithError(err).Debug("Notification permission unknown")
		return
	}
	if ok {
		g.Next.Notify(title, message)
	}
}

// Recorder keeps every notice. Used in tests.
type Recorder struct {
	mu      sync.Mutex
	notices []string
}

func (r *Recorder) Notify(title, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, title+": "+message)
}

func (r *Recorder) Notices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

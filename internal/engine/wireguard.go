package engine

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/device"

	"wgsession/internal/models"
	"wgsession/internal/tun"
)

// WireGuard runs the userspace wireguard-go device.
type WireGuard struct {
	// NewBind opens the UDP transport. Defaults to conn.NewDefaultBind.
	NewBind  func() conn.Bind
	Resolver Resolver

	mu     sync.Mutex
	active *activation
}

type activation struct {
	dev     *device.Device
	closing atomic.Bool
}

func NewWireGuard() *WireGuard {
	return &WireGuard{}
}

func (w *WireGuard) logger() *device.Logger {
	entry := log.WithField("component", "wireguard")
	return &device.Logger{
		Verbosef: entry.Debugf,
		Errorf:   entry.Errorf,
	}
}

func (w *WireGuard) Activate(ctx context.Context, dev tun.Device, cfg models.TunnelConfig) (<-chan State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		return nil, ErrBusy
	}

	resolver := w.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	uapi, err := BuildUAPI(ctx, cfg, resolver)
	if err != nil {
		return nil, fmt.Errorf("build device config: %w", err)
	}

	bind := conn.NewDefaultBind()
	if w.NewBind != nil {
		bind = w.NewBind()
	}

	wgdev := device.NewDevice(newTunAdapter(dev), bind, w.logger())
	if err := wgdev.IpcSet(uapi); err != nil {
		wgdev.Close()
		return nil, fmt.Errorf("apply device config: %w", err)
	}
	if err := wgdev.Up(); err != nil {
		wgdev.Close()
		return nil, fmt.Errorf("device up: %w", err)
	}
	if err := ctx.Err(); err != nil {
		wgdev.Close()
		return nil, err
	}

	act := &activation{dev: wgdev}
	w.active = act

	events := make(chan State, 2)
	events <- Up
	go func() {
		defer close(events)
		<-wgdev.Wait()
		if !act.closing.Load() {
			log.WithField("interface", dev.Name()).Warn("WireGuard device stopped unexpectedly")
			events <- Down
		}
		w.mu.Lock()
		if w.active == act {
			w.active = nil
		}
		w.mu.Unlock()
	}()

	log.WithFields(log.Fields{"interface": dev.Name(), "peers": len(cfg.Peers)}).Info("WireGuard device is up")
	return events, nil
}

// Deactivate closes the active device. If ctx ends first the close keeps
// running in the background and ctx's error is returned.
func (w *WireGuard) Deactivate(ctx context.Context) error {
	w.mu.Lock()
	act := w.active
	w.active = nil
	w.mu.Unlock()

	if act == nil {
		return nil
	}
	act.closing.Store(true)

	done := make(chan struct{})
	go func() {
		act.dev.Close()
		close(done)
	}()
	select {
	case <-done:
		log.Info("WireGuard device closed")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close device: %w", ctx.Err())
	}
}

// Status reports per-peer handshake and transfer counters.
func (w *WireGuard) Status() ([]PeerStatus, error) {
	w.mu.Lock()
	act := w.active
	w.mu.Unlock()
	if act == nil {
		return nil, fmt.Errorf("no active tunnel")
	}
	dump, err := act.dev.IpcGet()
	if err != nil {
		return nil, err
	}
	return ParseStatus(dump)
}

// LastHandshake returns the most recent handshake across all peers, or the
// zero time when none has completed yet.
func (w *WireGuard) LastHandshake() (time.Time, error) {
	peers, err := w.Status()
	if err != nil {
		return time.Time{}, err
	}
	var last time.Time
	for _, p := range peers {
		if p.LastHandshake.After(last) {
			last = p.LastHandshake
		}
	}
	return last, nil
}

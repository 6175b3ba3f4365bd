package engine

import (
	"os"
	"sync"

	wgtun "golang.zx2c4.com/wireguard/tun"

	"wgsession/internal/tun"
)

// tunAdapter presents a packet-per-call device to wireguard-go, which
// expects batched I/O and a status event stream.
type tunAdapter struct {
	dev    tun.Device
	events chan wgtun.Event
	once   sync.Once
}

func newTunAdapter(dev tun.Device) *tunAdapter {
	events := make(chan wgtun.Event, 1)
	events <- wgtun.EventUp
	return &tunAdapter{dev: dev, events: events}
}

func (a *tunAdapter) File() *os.File { return nil }

func (a *tunAdapter) Read(bufs [][]byte, sizes []int, offset int) (int, error) {
	n, err := a.dev.Read(bufs[0][offset:])
	if err != nil {
		return 0, err
	}
	sizes[0] = n
	return 1, nil
}

func (a *tunAdapter) Write(bufs [][]byte, offset int) (int, error) {
	for i, buf := range bufs {
		if _, err := a.dev.Write(buf[offset:]); err != nil {
			return i, err
		}
	}
	return len(bufs), nil
}

func (a *tunAdapter) MTU() (int, error)          { return a.dev.MTU(), nil }
func (a *tunAdapter) Name() (string, error)      { return a.dev.Name(), nil }
func (a *tunAdapter) Events() <-chan wgtun.Event { return a.events }
func (a *tunAdapter) BatchSize() int             { return 1 }

// Close closes the underlying device too: wireguard-go waits for its
// reader to return, and only closing the device unblocks a pending Read.
func (a *tunAdapter) Close() error {
	var err error
	a.once.Do(func() {
		err = a.dev.Close()
		close(a.events)
	})
	return err
}

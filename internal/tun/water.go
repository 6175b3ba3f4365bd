//go:build linux || darwin

package tun

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/songgao/water"
)

// WaterEstablisher creates kernel TUN interfaces and configures them with
// the platform's network tools.
type WaterEstablisher struct {
	// Run overrides command execution.
	Run Runner
}

func NewEstablisher() *WaterEstablisher {
	return &WaterEstablisher{}
}

func (e *WaterEstablisher) Establish(ctx context.Context, s Settings) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	config := water.Config{DeviceType: water.TUN}
	// utun names are assigned by the kernel on macOS.
	if runtime.GOOS == "linux" || strings.HasPrefix(s.Name, "utun") {
		config.PlatformSpecificParams.Name = s.Name
	}

	ifce, err := water.New(config)
	if err != nil {
		if os.Geteuid() != 0 {
			return nil, fmt.Errorf("create interface %q (needs root or CAP_NET_ADMIN): %w", s.Name, err)
		}
		return nil, fmt.Errorf("create interface %q: %w", s.Name, err)
	}
	s.Name = ifce.Name()
	log.WithFields(log.Fields{"interface": s.Name, "session": s.Session}).Info("TUN interface created")

	nm, err := NewNetworkManager(runtime.GOOS, s, e.Run)
	if err != nil {
		ifce.Close()
		return nil, err
	}
	if err := nm.Setup(ctx); err != nil {
		nm.Cleanup(context.Background())
		ifce.Close()
		return nil, fmt.Errorf("configure %s: %w", s.Name, err)
	}

	if up, err := InterfaceUp(s.Name); err != nil || !up {
		nm.Cleanup(context.Background())
		ifce.Close()
		if err == nil {
			err = fmt.Errorf("interface is not up")
		}
		return nil, fmt.Errorf("verify %s: %w", s.Name, err)
	}

	return &waterDevice{ifce: ifce, nm: nm, mtu: s.MTU}, nil
}

type waterDevice struct {
	ifce *water.Interface
	nm   *NetworkManager
	mtu  int

	once sync.Once
	err  error
}

func (d *waterDevice) Read(p []byte) (int, error)  { return d.ifce.Read(p) }
func (d *waterDevice) Write(p []byte) (int, error) { return d.ifce.Write(p) }
func (d *waterDevice) Name() string                { return d.ifce.Name() }
func (d *waterDevice) MTU() int                    { return d.mtu }

func (d *waterDevice) Close() error {
	d.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		d.nm.Cleanup(ctx)
		d.err = d.ifce.Close()
		log.WithField("interface", d.ifce.Name()).Info("TUN interface closed")
	})
	return d.err
}

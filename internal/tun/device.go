// Package tun establishes the virtual network interface a tunnel runs on.
package tun

import (
	"context"
	"errors"
	"io"
	"net/netip"

	"wgsession/internal/models"
)

var ErrUnsupported = errors.New("tun: platform not supported")

// Device is an established interface. Reads and writes carry one raw IP
// packet each. Close releases the interface and undoes its network
// settings; calling it more than once is safe.
type Device interface {
	io.ReadWriteCloser
	Name() string
	MTU() int
}

// Settings is everything the platform needs to bring an interface up.
type Settings struct {
	Session   string
	Name      string
	Addresses []netip.Prefix
	MTU       int
	DNS       []netip.Addr
	Routes    []netip.Prefix
	FwMark    int
}

// Establisher creates devices. Establish must not leave anything behind
// when it fails.
type Establisher interface {
	Establish(ctx context.Context, s Settings) (Device, error)
}

// SettingsFor derives interface settings from a tunnel config.
func SettingsFor(session, name string, cfg models.TunnelConfig) Settings {
	cfg = cfg.Normalize()
	return Settings{
		Session:   session,
		Name:      name,
		Addresses: cfg.Interface.Addresses,
		MTU:       cfg.Interface.MTU,
		DNS:       cfg.Interface.DNS,
		Routes:    cfg.Interface.Routes,
		FwMark:    cfg.EffectiveFwMark(),
	}
}

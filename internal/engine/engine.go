// Package engine runs the WireGuard protocol over an established device.
package engine

import (
	"context"
	"errors"

	"wgsession/internal/models"
	"wgsession/internal/tun"
)

// State is a backend status change.
type State int

const (
	Down State = iota
	Up
)

func (s State) String() string {
	if s == Up {
		return "UP"
	}
	return "DOWN"
}

var ErrBusy = errors.New("engine: a tunnel is already active")

// Engine activates one tunnel at a time.
//
// A nil error from Activate means the tunnel is UP. The returned channel
// belongs to that activation only: it carries Down if the backend stops on
// its own and is closed once the activation is over. Deactivate does not
// produce a Down event.
type Engine interface {
	Activate(ctx context.Context, dev tun.Device, cfg models.TunnelConfig) (<-chan State, error)
	Deactivate(ctx context.Context) error
}

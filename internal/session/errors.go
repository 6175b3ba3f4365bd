package session

import (
	"errors"

	"wgsession/internal/models"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrTunInterface     = errors.New("tun interface error")
	ErrConfigInvalid    = models.ErrConfigInvalid
	ErrBackend          = errors.New("backend error")
	ErrCanceled         = errors.New("session canceled")
	ErrClosed           = errors.New("coordinator closed")
)

// reason maps an attempt failure to its metric label.
func reason(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrConfigInvalid):
		return "config_invalid"
	case errors.Is(err, ErrTunInterface):
		return "tun_interface"
	case errors.Is(err, ErrBackend):
		return "backend"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	}
	return "other"
}

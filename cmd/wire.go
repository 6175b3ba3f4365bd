package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"wgsession/internal/consent"
	"wgsession/internal/engine"
	"wgsession/internal/notify"
	"wgsession/internal/profile"
	"wgsession/internal/session"
	"wgsession/internal/state"
	"wgsession/internal/tun"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	scopeVPN           = "vpn"
	scopeNotifications = "notifications"
)

var consentText = map[string][2]string{
	scopeVPN: {
		"VPN permission",
		"wgsession wants to set up a VPN connection that can route all network traffic through the tunnel. Allow?",
	},
	scopeNotifications: {
		"Notifications",
		"Show a notification when the VPN connects or disconnects?",
	},
}

// profilePath prefers the flag, then the configured path (relative to the
// config dir), then the default profile.
func (e *env) profilePath(flag string) string {
	switch {
	case flag != "":
		return flag
	case e.cfg.Profile.Path != "":
		return e.store.Resolve(e.cfg.Profile.Path)
	default:
		return e.store.ProfilePath()
	}
}

func (e *env) keys() profile.KeyResolver {
	return profile.KeyResolver{KeyringService: e.cfg.Profile.KeyringService}
}

func (e *env) builder(flag string) *profile.FileBuilder {
	return &profile.FileBuilder{Path: e.profilePath(flag), Keys: e.keys()}
}

func (e *env) gate(scope string, p consent.Prompter) *consent.Remembered {
	text := consentText[scope]
	return &consent.Remembered{
		Path:     e.store.ConsentPath(scope),
		Scope:    scope,
		Title:    text[0],
		Message:  text[1],
		Prompter: p,
	}
}

func (e *env) coordinator(b profile.Builder, vpn, notifications consent.Gate, n notify.Notifier, running *state.Store) (*session.Coordinator, *engine.WireGuard, error) {
	wg := engine.NewWireGuard()
	c, err := session.New(session.Deps{
		Builder:       b,
		Device:        tun.NewEstablisher(),
		Engine:        wg,
		Consent:       vpn,
		Notifications: notifications,
		Notifier:      n,
		Running:       running,
	}, session.Options{
		Session:          e.cfg.Tunnel.Session,
		InterfaceName:    e.cfg.Tunnel.Name,
		EstablishTimeout: e.cfg.Tunnel.EstablishTimeout,
		ActivateTimeout:  e.cfg.Tunnel.ActivateTimeout,
		TeardownTimeout:  e.cfg.Tunnel.TeardownTimeout,
	})
	return c, wg, err
}

// stopTimeout leaves room for every teardown step.
func (e *env) stopTimeout() time.Duration {
	return 2*e.cfg.Tunnel.TeardownTimeout + time.Second
}

func approveAll(context.Context, string, string) (bool, error) {
	return true, nil
}

// serveMetrics exposes the Prometheus registry until ctx ends.
func serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	zap.S().Infow("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zap.S().Errorw("metrics server failed", "error", err)
	}
}

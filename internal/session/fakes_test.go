package session

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgsession/internal/engine"
	"wgsession/internal/models"
	"wgsession/internal/notify"
	"wgsession/internal/profile"
	"wgsession/internal/state"
	"wgsession/internal/tun"
)

type fakeGate struct {
	granted  bool
	answer   bool
	err      error
	block    bool
	requests atomic.Int32
}

func (g *fakeGate) Check(context.Context) (bool, error) { return g.granted, nil }

func (g *fakeGate) Request(ctx context.Context) (bool, error) {
	g.requests.Add(1)
	if g.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return g.answer, g.err
}

type fakeDevice struct {
	name   string
	closes atomic.Int32
	err    error
}

func (d *fakeDevice) Read([]byte) (int, error)    { return 0, errors.New("not readable") }
func (d *fakeDevice) Write(p []byte) (int, error) { return len(p), nil }
func (d *fakeDevice) Name() string                { return d.name }
func (d *fakeDevice) MTU() int                    { return models.DefaultMTU }
func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	return d.err
}

type fakeEstablisher struct {
	mu       sync.Mutex
	devices  []*fakeDevice
	settings []tun.Settings
	calls    atomic.Int32

	err       error
	nilDevice bool
	// waitCtx blocks until the context ends.
	waitCtx bool
	// release, when set, blocks until closed and ignores the context.
	release  chan struct{}
	closeErr error
}

func (e *fakeEstablisher) Establish(ctx context.Context, s tun.Settings) (tun.Device, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.settings = append(e.settings, s)
	e.mu.Unlock()

	if e.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.release != nil {
		<-e.release
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.nilDevice {
		return nil, nil
	}
	d := &fakeDevice{name: s.Name, err: e.closeErr}
	e.mu.Lock()
	e.devices = append(e.devices, d)
	e.mu.Unlock()
	return d, nil
}

func (e *fakeEstablisher) device(i int) *fakeDevice {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.devices) {
		return nil
	}
	return e.devices[i]
}

type fakeEngine struct {
	running *state.Store

	mu          sync.Mutex
	events      chan engine.State
	activations atomic.Int32
	deactivates atomic.Int32
	// flagAtDeactivate records the running flag seen by each Deactivate.
	flagAtDeactivate []bool

	activateErr     error
	waitCtx         bool
	release         chan struct{}
	deactivatePanic bool
	// deactivateHold blocks Deactivate regardless of its context.
	deactivateHold chan struct{}
}

func (f *fakeEngine) Activate(ctx context.Context, dev tun.Device, cfg models.TunnelConfig) (<-chan engine.State, error) {
	f.activations.Add(1)
	if f.waitCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.release != nil {
		<-f.release
	}
	if f.activateErr != nil {
		return nil, f.activateErr
	}
	ch := make(chan engine.State, 2)
	ch <- engine.Up
	f.mu.Lock()
	f.events = ch
	f.mu.Unlock()
	return ch, nil
}

func (f *fakeEngine) Deactivate(context.Context) error {
	f.deactivates.Add(1)
	f.mu.Lock()
	f.flagAtDeactivate = append(f.flagAtDeactivate, f.running.Value())
	f.mu.Unlock()
	if f.deactivatePanic {
		panic("engine exploded")
	}
	if f.deactivateHold != nil {
		<-f.deactivateHold
	}
	return nil
}

func (f *fakeEngine) send(s engine.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events <- s
}

func (f *fakeEngine) closeEvents() {
	f.mu.Lock()
	defer f.mu.Unlock()
	close(f.events)
}

func (f *fakeEngine) flags() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.flagAtDeactivate...)
}

type failingBuilder struct{ err error }

func (b failingBuilder) Build(context.Context) (models.TunnelConfig, error) {
	return models.TunnelConfig{}, b.err
}

func validConfig(t *testing.T) models.TunnelConfig {
	t.Helper()
	priv, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	peer, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	return models.TunnelConfig{
		Interface: models.Interface{
			Addresses:  []netip.Prefix{netip.MustParsePrefix("10.0.0.20/32")},
			DNS:        []netip.Addr{netip.MustParseAddr("1.1.1.1")},
			PrivateKey: priv,
		},
		Peers: []models.Peer{{
			PublicKey:  peer.PublicKey(),
			Endpoint:   "198.51.100.1:51820",
			AllowedIPs: []netip.Prefix{netip.MustParsePrefix("0.0.0.0/0")},
		}},
	}
}

// flagLog collects every value the running flag emits.
type flagLog struct {
	mu     sync.Mutex
	values []bool
}

func watchFlag(t *testing.T, s *state.Store) *flagLog {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l := &flagLog{}
	ch := s.Subscribe(ctx)
	first := <-ch
	l.values = append(l.values, first)
	go func() {
		for v := range ch {
			l.mu.Lock()
			l.values = append(l.values, v)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *flagLog) get() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.values...)
}

func (l *flagLog) await(t *testing.T, want ...bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		got := l.get()
		if len(got) != len(want) {
			return false
		}
		for i := range got {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond, "flag sequence %v, want %v", l.get(), want)
}

type harness struct {
	c             *Coordinator
	running       *state.Store
	consent       *fakeGate
	notifications *fakeGate
	dev           *fakeEstablisher
	eng           *fakeEngine
	notices       *notify.Recorder
	builder       profile.Builder
	opts          Options
}

type option func(*harness)

func withBuilder(b profile.Builder) option { return func(h *harness) { h.builder = b } }
func withOptions(o Options) option         { return func(h *harness) { h.opts = o } }
func withConsent(g *fakeGate) option       { return func(h *harness) { h.consent = g } }
func withNotifications(g *fakeGate) option { return func(h *harness) { h.notifications = g } }
func withEstablisher(e *fakeEstablisher) option {
	return func(h *harness) { h.dev = e }
}
func withEngine(f func(*fakeEngine)) option { return func(h *harness) { f(h.eng) } }

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	running := state.New(false)
	h := &harness{
		running:       running,
		consent:       &fakeGate{granted: true},
		notifications: &fakeGate{granted: true},
		dev:           &fakeEstablisher{},
		eng:           &fakeEngine{running: running},
		notices:       &notify.Recorder{},
		builder:       profile.Static{Config: validConfig(t)},
	}
	for _, o := range opts {
		o(h)
	}

	c, err := New(Deps{
		Builder:       h.builder,
		Device:        h.dev,
		Engine:        h.eng,
		Consent:       h.consent,
		Notifications: h.notifications,
		Notifier:      h.notices,
		Running:       running,
	}, h.opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	h.c = c
	return h
}

func startAsync(c *Coordinator) <-chan error {
	errc := make(chan error, 1)
	go func() { errc <- c.Start(context.Background()) }()
	return errc
}

// Package session owns the lifecycle of one VPN tunnel: consent, device
// allocation, engine activation and teardown, and the running flag that
// observers follow.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"wgsession/internal/consent"
	"wgsession/internal/engine"
	"wgsession/internal/models"
	"wgsession/internal/notify"
	"wgsession/internal/profile"
	"wgsession/internal/state"
	"wgsession/internal/tun"
)

const defaultTimeout = 5 * time.Second

// Deps are the collaborators a Coordinator drives. Notifications and
// Notifier are optional.
type Deps struct {
	Builder       profile.Builder
	Device        tun.Establisher
	Engine        engine.Engine
	Consent       consent.Gate
	Notifications consent.Gate
	Notifier      notify.Notifier
	Running       *state.Store
}

type Options struct {
	Session          string
	InterfaceName    string
	EstablishTimeout time.Duration
	ActivateTimeout  time.Duration
	TeardownTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Session == "" {
		o.Session = models.DefaultSession
	}
	if o.InterfaceName == "" {
		o.InterfaceName = "wg0"
	}
	if o.EstablishTimeout <= 0 {
		o.EstablishTimeout = defaultTimeout
	}
	if o.ActivateTimeout <= 0 {
		o.ActivateTimeout = defaultTimeout
	}
	if o.TeardownTimeout <= 0 {
		o.TeardownTimeout = defaultTimeout
	}
	return o
}

// Snapshot is a point-in-time view for status output.
type Snapshot struct {
	Phase     Phase     `json:"phase"`
	Running   bool      `json:"running"`
	Interface string    `json:"interface,omitempty"`
	Tunnel    string    `json:"tunnel,omitempty"`
	Since     time.Time `json:"since,omitempty"`
	Attempts  uint64    `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
}

type requestKind int

const (
	reqStart requestKind = iota
	reqStop
)

type request struct {
	kind requestKind
	done chan error
}

// Coordinator serializes start and stop requests through a single loop
// goroutine. All phase changes happen there.
type Coordinator struct {
	deps Deps
	opts Options

	reqs     chan request
	quit     chan struct{}
	loopDone chan struct{}
	closing  sync.Once

	phase atomic.Int32

	mu       sync.Mutex
	lastErr  error
	iface    string
	tunnel   string
	since    time.Time
	attempts uint64

	// cur is owned by the loop goroutine.
	cur *attempt
}

type stage int

const (
	stagePreparing stage = iota
	stageActivating
	stageActive
)

// attempt is one start, from the first consent check to teardown.
// Fields written by a worker goroutine are read by the loop only after
// the matching channel is closed.
type attempt struct {
	id      uint64
	ctx     context.Context
	cancel  context.CancelFunc
	stage   stage
	started time.Time
	waiters []chan error

	progress chan Phase
	prepared chan struct{}
	cfg      models.TunnelConfig
	dev      tun.Device
	err      error

	activated chan struct{}
	events    <-chan engine.State
	actErr    error
}

func (a *attempt) report(p Phase) {
	select {
	case a.progress <- p:
	case <-a.ctx.Done():
	}
}

func (a *attempt) resolve(err error) {
	for _, w := range a.waiters {
		w <- err
	}
	a.waiters = nil
}

// New validates deps and starts the loop.
func New(deps Deps, opts Options) (*Coordinator, error) {
	switch {
	case deps.Builder == nil:
		return nil, errors.New("session: no config builder")
	case deps.Device == nil:
		return nil, errors.New("session: no device establisher")
	case deps.Engine == nil:
		return nil, errors.New("session: no engine")
	case deps.Consent == nil:
		return nil, errors.New("session: no consent gate")
	case deps.Running == nil:
		return nil, errors.New("session: no running-state store")
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Log{}
	}

	c := &Coordinator{
		deps:     deps,
		opts:     opts.withDefaults(),
		reqs:     make(chan request, 16),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

// Start queues a start and waits for its outcome. nil means the tunnel is
// confirmed up. ctx bounds the wait, not the attempt.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.do(ctx, reqStart)
}

// Stop queues a stop and waits for teardown. The running flag is false
// once it returns nil.
func (c *Coordinator) Stop(ctx context.Context) error {
	return c.do(ctx, reqStop)
}

func (c *Coordinator) do(ctx context.Context, kind requestKind) error {
	req := request{kind: kind, done: make(chan error, 1)}
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}
	select {
	case c.reqs <- req:
	case <-c.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-c.loopDone:
		select {
		case err := <-req.done:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down any session and stops the loop.
func (c *Coordinator) Close() error {
	c.closing.Do(func() { close(c.quit) })
	<-c.loopDone
	return nil
}

func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// LastError is the cause of the most recent failed attempt or unexpected
// teardown. A successful start clears it.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		Phase:     c.Phase(),
		Running:   c.deps.Running.Value(),
		Interface: c.iface,
		Tunnel:    c.tunnel,
		Since:     c.since,
		Attempts:  c.attempts,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

func (c *Coordinator) setPhase(p Phase) {
	if old := Phase(c.phase.Swap(int32(p))); old != p {
		log.WithFields(log.Fields{"from": old, "to": p}).Debug("Session phase changed")
	}
}

func (c *Coordinator) setLastError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Coordinator) loop() {
	defer close(c.loopDone)

	for {
		var (
			progress  <-chan Phase
			prepared  <-chan struct{}
			activated <-chan struct{}
			events    <-chan engine.State
		)
		if a := c.cur; a != nil {
			switch a.stage {
			case stagePreparing:
				progress, prepared = a.progress, a.prepared
			case stageActivating:
				activated = a.activated
			case stageActive:
				events = a.events
			}
		}

		select {
		case req := <-c.reqs:
			c.handle(req)
		case p := <-progress:
			c.setPhase(p)
		case <-prepared:
			c.onPrepared(c.cur)
		case <-activated:
			c.onActivated(c.cur)
		case s, ok := <-events:
			if ok && s == engine.Up {
				continue
			}
			err := fmt.Errorf("%w: engine reported %s", ErrBackend, engine.Down)
			log.WithError(err).Warn("Tunnel went down, stopping session")
			c.setLastError(err)
			countFailures.WithLabelValues(reason(err)).Inc()
			if terr := c.teardown(c.cur); terr != nil {
				log.WithError(terr).Warn("Teardown after engine DOWN finished with errors")
			}
		case <-c.quit:
			if err := c.stop(); err != nil {
				log.WithError(err).Warn("Teardown on close finished with errors")
			}
			for {
				select {
				case req := <-c.reqs:
					req.done <- ErrClosed
				default:
					return
				}
			}
		}
	}
}

func (c *Coordinator) handle(req request) {
	switch req.kind {
	case reqStart:
		switch {
		case c.cur == nil:
			c.begin(req.done)
		case c.cur.stage == stageActive:
			req.done <- nil
		default:
			c.cur.waiters = append(c.cur.waiters, req.done)
		}
	case reqStop:
		req.done <- c.stop()
	}
}

func (c *Coordinator) begin(done chan error) {
	c.mu.Lock()
	c.attempts++
	id := c.attempts
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		started:   time.Now(),
		waiters:   []chan error{done},
		progress:  make(chan Phase, 4),
		prepared:  make(chan struct{}),
		activated: make(chan struct{}),
	}
	c.cur = a
	countStartAttempts.Inc()
	log.WithFields(log.Fields{"attempt": id, "session": c.opts.Session}).Info("Starting tunnel")

	go func() {
		defer close(a.prepared)
		a.cfg, a.dev, a.err = c.prepare(a)
	}()
}

// prepare runs the consent gates, builds the config and establishes the
// device. On error no device is returned.
func (c *Coordinator) prepare(a *attempt) (models.TunnelConfig, tun.Device, error) {
	ctx := a.ctx
	var cfg models.TunnelConfig

	if gate := c.deps.Notifications; gate != nil {
		ok, err := gate.Check(ctx)
		if err == nil && !ok {
			a.report(AwaitingPermission)
			ok, err = gate.Request(ctx)
		}
		if err != nil || !ok {
			log.WithError(err).Info("Notifications not permitted, continuing without them")
		}
	}
	if ctx.Err() != nil {
		return cfg, nil, ErrCanceled
	}

	ok, err := c.deps.Consent.Check(ctx)
	if err != nil {
		log.WithError(err).Warn("Could not check VPN consent, asking again")
	}
	if !ok {
		a.report(AwaitingPermission)
		ok, err = c.deps.Consent.Request(ctx)
		if ctx.Err() != nil {
			return cfg, nil, ErrCanceled
		}
		if err != nil {
			return cfg, nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		}
		if !ok {
			return cfg, nil, fmt.Errorf("%w: VPN consent refused", ErrPermissionDenied)
		}
	}

	a.report(Establishing)
	c.deps.Notifier.Notify(notify.Title, notify.MsgConnecting)

	cfg, err = c.deps.Builder.Build(ctx)
	if ctx.Err() != nil {
		return cfg, nil, ErrCanceled
	}
	if err != nil {
		if !errors.Is(err, ErrConfigInvalid) {
			err = fmt.Errorf("%w: %v", ErrConfigInvalid, err)
		}
		return cfg, nil, err
	}

	settings := tun.SettingsFor(c.opts.Session, c.opts.InterfaceName, cfg)
	dev, err := bounded(ctx, c.opts.EstablishTimeout,
		func(ctx context.Context) (tun.Device, error) {
			return c.deps.Device.Establish(ctx, settings)
		},
		func(dev tun.Device) {
			if dev != nil {
				dev.Close()
			}
		})
	if ctx.Err() != nil {
		if dev != nil {
			dev.Close()
		}
		return cfg, nil, ErrCanceled
	}
	if err != nil {
		return cfg, nil, fmt.Errorf("%w: establish %s: %v", ErrTunInterface, settings.Name, err)
	}
	if dev == nil {
		return cfg, nil, fmt.Errorf("%w: establish %s returned no device", ErrTunInterface, settings.Name)
	}
	return cfg, dev, nil
}

func (c *Coordinator) onPrepared(a *attempt) {
	if a.err != nil {
		c.fail(a, a.err)
		return
	}

	// Activation is dispatched from the loop so a stop that arrived while
	// preparing can never be followed by an activation.
	a.stage = stageActivating
	c.setPhase(Establishing)
	go func() {
		defer close(a.activated)
		a.events, a.actErr = bounded(a.ctx, c.opts.ActivateTimeout,
			func(ctx context.Context) (<-chan engine.State, error) {
				return c.deps.Engine.Activate(ctx, a.dev, a.cfg)
			},
			func(<-chan engine.State) {
				if err := c.deactivate(); err != nil {
					log.WithError(err).Warn("Deactivate after late activation failed")
				}
			})
	}()
}

func (c *Coordinator) onActivated(a *attempt) {
	if a.actErr != nil {
		if err := safely(a.dev.Close); err != nil {
			log.WithError(err).Warn("Release device after failed activation")
		}
		c.fail(a, fmt.Errorf("%w: activate: %v", ErrBackend, a.actErr))
		return
	}

	a.stage = stageActive
	c.setPhase(Active)
	c.deps.Running.Set(true)

	c.mu.Lock()
	c.lastErr = nil
	c.iface = a.dev.Name()
	c.tunnel = a.cfg.Name
	c.since = time.Now()
	c.mu.Unlock()

	gaugeTunnelActive.Set(1)
	histTimeToUp.Observe(time.Since(a.started).Seconds())
	c.deps.Notifier.Notify(notify.Title, notify.MsgConnected)
	log.WithFields(log.Fields{
		"attempt":   a.id,
		"interface": a.dev.Name(),
		"tunnel":    a.cfg.Name,
	}).Info("Tunnel is up")
	a.resolve(nil)
}

// fail resolves an attempt that never became active.
func (c *Coordinator) fail(a *attempt, err error) {
	a.cancel()
	c.cur = nil
	c.setPhase(Idle)
	c.setLastError(err)
	countFailures.WithLabelValues(reason(err)).Inc()
	log.WithError(err).WithField("attempt", a.id).Error("Tunnel start failed")
	a.resolve(err)
}

// stop ends whatever the current attempt is doing.
func (c *Coordinator) stop() error {
	a := c.cur
	if a == nil {
		return nil
	}

	switch a.stage {
	case stagePreparing:
		c.setPhase(Stopping)
		a.cancel()
		<-a.prepared
		if a.dev != nil {
			if err := safely(a.dev.Close); err != nil {
				log.WithError(err).Warn("Release device of canceled attempt")
			}
		}
	case stageActivating:
		c.setPhase(Stopping)
		a.cancel()
		<-a.activated
		if a.actErr == nil {
			if err := c.deactivate(); err != nil {
				log.WithError(err).Warn("Deactivate of canceled attempt failed")
			}
		}
		if err := safely(a.dev.Close); err != nil {
			log.WithError(err).Warn("Release device of canceled attempt")
		}
	case stageActive:
		return c.teardown(a)
	}

	c.cur = nil
	c.setPhase(Idle)
	countFailures.WithLabelValues(reason(ErrCanceled)).Inc()
	log.WithField("attempt", a.id).Info("Tunnel start canceled")
	a.resolve(ErrCanceled)
	return nil
}

// teardown stops an active session. Every step runs; errors are joined.
func (c *Coordinator) teardown(a *attempt) error {
	c.setPhase(Stopping)
	c.deps.Running.Set(false)
	gaugeTunnelActive.Set(0)

	var errs []error

	if err := c.deactivate(); err != nil {
		errs = append(errs, fmt.Errorf("%w: deactivate: %v", ErrBackend, err))
	}

	if err := safely(a.dev.Close); err != nil {
		errs = append(errs, fmt.Errorf("%w: release device: %v", ErrTunInterface, err))
	}

	a.cancel()

	c.mu.Lock()
	c.iface, c.tunnel, c.since = "", "", time.Time{}
	c.mu.Unlock()

	c.cur = nil
	c.setPhase(Idle)
	c.deps.Notifier.Notify(notify.Title, notify.MsgDisconnected)

	err := errors.Join(errs...)
	if err != nil {
		log.WithError(err).WithField("attempt", a.id).Warn("Tunnel stopped with errors")
	} else {
		log.WithField("attempt", a.id).Info("Tunnel stopped")
	}
	return err
}

// deactivate asks the engine to go down within TeardownTimeout, even when
// the engine ignores its context.
func (c *Coordinator) deactivate() error {
	_, err := bounded(context.Background(), c.opts.TeardownTimeout,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.deps.Engine.Deactivate(ctx)
		},
		func(struct{}) {})
	return err
}

// safely runs fn and turns a panic into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

// bounded runs fn with a timeout derived from ctx. If the deadline passes
// first, bounded returns and a late result is handed to discard.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error), discard func(T)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var r result
		r.err = safely(func() error {
			var err error
			r.v, err = fn(ctx)
			return err
		})
		ch <- r
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		// A result that raced the deadline still counts.
		select {
		case r := <-ch:
			return r.v, r.err
		default:
		}
		go func() {
			if r := <-ch; r.err == nil {
				discard(r.v)
			}
		}()
		var zero T
		return zero, ctx.Err()
	}
}

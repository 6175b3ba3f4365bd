package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgsession/internal/engine"
	"wgsession/internal/models"
	"wgsession/internal/notify"
)

func TestStart_ConfirmedUp(t *testing.T) {
	h := newHarness(t, withOptions(Options{InterfaceName: "wgtest"}))
	flags := watchFlag(t, h.running)

	require.NoError(t, h.c.Start(context.Background()))

	flags.await(t, false, true)
	assert.Equal(t, Active, h.c.Phase())
	assert.EqualValues(t, 1, h.dev.calls.Load())
	assert.EqualValues(t, 1, h.eng.activations.Load())
	assert.NoError(t, h.c.LastError())

	s := h.dev.settings[0]
	assert.Equal(t, "wgtest", s.Name)
	assert.Equal(t, models.DefaultSession, s.Session)
	assert.Equal(t, models.DefaultMTU, s.MTU)
	assert.Equal(t, models.DefaultFwMark, s.FwMark)

	snap := h.c.Snapshot()
	assert.Equal(t, Active, snap.Phase)
	assert.True(t, snap.Running)
	assert.Equal(t, "wgtest", snap.Interface)
	assert.Equal(t, models.DefaultName, snap.Tunnel)
	assert.False(t, snap.Since.IsZero())
}

func TestStop_TearsDownInOrder(t *testing.T) {
	h := newHarness(t)
	flags := watchFlag(t, h.running)
	require.NoError(t, h.c.Start(context.Background()))

	require.NoError(t, h.c.Stop(context.Background()))

	assert.False(t, h.running.Value())
	flags.await(t, false, true, false)
	assert.Equal(t, Idle, h.c.Phase())
	assert.Equal(t, []bool{false}, h.eng.flags(), "flag must be false before deactivation")
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
	assert.Equal(t, []string{
		"WireGuard VPN: Connecting",
		"WireGuard VPN: Connected",
		"WireGuard VPN: Disconnected",
	}, h.notices.Notices())
	assert.Empty(t, h.c.Snapshot().Interface)
}

func TestStop_IdleIsNoop(t *testing.T) {
	h := newHarness(t)
	flags := watchFlag(t, h.running)

	assert.NoError(t, h.c.Stop(context.Background()))
	assert.NoError(t, h.c.Stop(context.Background()))

	assert.Equal(t, Idle, h.c.Phase())
	assert.EqualValues(t, 0, h.eng.deactivates.Load())
	assert.Equal(t, []bool{false}, flags.get())
}

func TestStart_WhileActiveIsNoop(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))
	require.NoError(t, h.c.Start(context.Background()))
	assert.EqualValues(t, 1, h.eng.activations.Load())
}

func TestStart_ConcurrentStartsJoin(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, withEstablisher(&fakeEstablisher{release: release}))

	first := startAsync(h.c)
	second := startAsync(h.c)
	require.Eventually(t, func() bool { return h.dev.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)

	assert.NoError(t, <-first)
	assert.NoError(t, <-second)
	assert.EqualValues(t, 1, h.dev.calls.Load())
	assert.EqualValues(t, 1, h.eng.activations.Load())
}

func TestStart_ConsentRefused(t *testing.T) {
	consent := &fakeGate{granted: false, answer: false}
	h := newHarness(t, withConsent(consent))
	flags := watchFlag(t, h.running)

	err := h.c.Start(context.Background())

	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, h.c.LastError(), ErrPermissionDenied)
	assert.Equal(t, Idle, h.c.Phase())
	assert.EqualValues(t, 1, consent.requests.Load())
	assert.EqualValues(t, 0, h.dev.calls.Load(), "no device may be allocated")
	assert.EqualValues(t, 0, h.eng.activations.Load(), "no activation may be attempted")
	assert.Equal(t, []bool{false}, flags.get())
}

func TestStart_ConsentError(t *testing.T) {
	consent := &fakeGate{granted: false, err: errors.New("no display")}
	h := newHarness(t, withConsent(consent))

	err := h.c.Start(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	assert.Contains(t, err.Error(), "no display")
}

func TestStart_ConsentGrantedOnRequest(t *testing.T) {
	consent := &fakeGate{granted: false, answer: true}
	h := newHarness(t, withConsent(consent))

	require.NoError(t, h.c.Start(context.Background()))
	assert.EqualValues(t, 1, consent.requests.Load())
	assert.Equal(t, Active, h.c.Phase())
}

func TestStart_NotificationRefusalIsNotFatal(t *testing.T) {
	notifications := &fakeGate{granted: false, answer: false}
	h := newHarness(t, withNotifications(notifications))

	require.NoError(t, h.c.Start(context.Background()))
	assert.EqualValues(t, 1, notifications.requests.Load())
	assert.Equal(t, Active, h.c.Phase())
}

func TestStart_ConfigInvalid(t *testing.T) {
	h := newHarness(t, withBuilder(failingBuilder{err: errors.New("missing private key")}))
	flags := watchFlag(t, h.running)

	err := h.c.Start(context.Background())

	require.ErrorIs(t, err, ErrConfigInvalid)
	assert.Contains(t, err.Error(), "missing private key")
	assert.EqualValues(t, 0, h.dev.calls.Load())
	assert.Equal(t, Idle, h.c.Phase())
	assert.Equal(t, []bool{false}, flags.get())
}

func TestStart_EstablishFailure(t *testing.T) {
	for name, est := range map[string]*fakeEstablisher{
		"error":     {err: errors.New("operation not permitted")},
		"no device": {nilDevice: true},
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, withEstablisher(est))
			flags := watchFlag(t, h.running)

			err := h.c.Start(context.Background())

			require.ErrorIs(t, err, ErrTunInterface)
			assert.Equal(t, Idle, h.c.Phase())
			assert.False(t, h.running.Value())
			assert.EqualValues(t, 0, h.eng.activations.Load())
			assert.Equal(t, []bool{false}, flags.get())

			// A failed attempt leaves the coordinator usable.
			est.err, est.nilDevice = nil, false
			require.NoError(t, h.c.Start(context.Background()))
			assert.Equal(t, Active, h.c.Phase())
		})
	}
}

func TestStart_EstablishTimeout(t *testing.T) {
	h := newHarness(t,
		withEstablisher(&fakeEstablisher{waitCtx: true}),
		withOptions(Options{EstablishTimeout: 30 * time.Millisecond}),
	)

	err := h.c.Start(context.Background())

	require.ErrorIs(t, err, ErrTunInterface)
	assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
	assert.Equal(t, Idle, h.c.Phase())
}

func TestStart_ActivationFailure(t *testing.T) {
	h := newHarness(t, withEngine(func(e *fakeEngine) { e.activateErr = errors.New("bind: address in use") }))
	flags := watchFlag(t, h.running)

	err := h.c.Start(context.Background())

	require.ErrorIs(t, err, ErrBackend)
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
	assert.Equal(t, Idle, h.c.Phase())
	assert.Equal(t, []bool{false}, flags.get())
}

func TestStart_ActivateTimeoutDiscardsLateSuccess(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t,
		withEngine(func(e *fakeEngine) { e.release = release }),
		withOptions(Options{ActivateTimeout: 20 * time.Millisecond}),
	)
	flags := watchFlag(t, h.running)

	err := h.c.Start(context.Background())

	require.ErrorIs(t, err, ErrBackend)
	assert.Contains(t, err.Error(), context.DeadlineExceeded.Error())
	assert.Equal(t, Idle, h.c.Phase())
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
	assert.EqualValues(t, 0, h.eng.deactivates.Load())

	close(release)
	require.Eventually(t, func() bool { return h.eng.deactivates.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, h.eng.deactivates.Load())
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
	assert.Equal(t, []bool{false}, flags.get())
}

func TestStop_TeardownTimeoutBoundsDeactivate(t *testing.T) {
	hold := make(chan struct{})
	defer close(hold)
	h := newHarness(t,
		withEngine(func(e *fakeEngine) { e.deactivateHold = hold }),
		withOptions(Options{TeardownTimeout: 20 * time.Millisecond}),
	)
	require.NoError(t, h.c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := h.c.Stop(ctx)

	require.ErrorIs(t, err, ErrBackend)
	assert.NoError(t, ctx.Err())
	assert.False(t, h.running.Value())
	assert.Equal(t, Idle, h.c.Phase())
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
}

func TestBounded_FastResultIsNeverLost(t *testing.T) {
	var discarded atomic.Int32
	for i := 0; i < 20000; i++ {
		v, err := bounded(context.Background(), 5*time.Second,
			func(context.Context) (int, error) { return 42, nil },
			func(int) { discarded.Add(1) })
		require.NoError(t, err, "iteration %d", i)
		require.Equal(t, 42, v)
	}
	assert.Zero(t, discarded.Load())
}

func TestBounded_Timeout(t *testing.T) {
	late := make(chan int, 1)
	release := make(chan struct{})
	_, err := bounded(context.Background(), 10*time.Millisecond,
		func(context.Context) (int, error) {
			<-release
			return 7, nil
		},
		func(v int) { late <- v })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	select {
	case v := <-late:
		assert.Equal(t, 7, v)
	case <-time.After(time.Second):
		t.Fatal("late result was not discarded")
	}
}

func TestStop_DuringConsentPrompt(t *testing.T) {
	consent := &fakeGate{granted: false, block: true}
	h := newHarness(t, withConsent(consent))

	started := startAsync(h.c)
	require.Eventually(t, func() bool { return h.c.Phase() == AwaitingPermission }, time.Second, time.Millisecond)

	require.NoError(t, h.c.Stop(context.Background()))

	assert.ErrorIs(t, <-started, ErrCanceled)
	assert.Equal(t, Idle, h.c.Phase())
	assert.EqualValues(t, 0, h.dev.calls.Load())
	assert.EqualValues(t, 0, h.eng.activations.Load())
}

func TestStop_DuringEstablishCancels(t *testing.T) {
	h := newHarness(t, withEstablisher(&fakeEstablisher{waitCtx: true}))
	flags := watchFlag(t, h.running)

	started := startAsync(h.c)
	require.Eventually(t, func() bool { return h.dev.calls.Load() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.c.Phase() == Establishing }, time.Second, time.Millisecond)

	require.NoError(t, h.c.Stop(context.Background()))

	assert.ErrorIs(t, <-started, ErrCanceled)
	assert.Equal(t, Idle, h.c.Phase())
	assert.Equal(t, []bool{false}, flags.get())

	// Nothing may activate afterwards.
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, h.eng.activations.Load())
}

func TestStop_DuringEstablishReleasesLateDevice(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, withEstablisher(&fakeEstablisher{release: release}))

	started := startAsync(h.c)
	require.Eventually(t, func() bool { return h.dev.calls.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.c.Stop(context.Background()))
	assert.ErrorIs(t, <-started, ErrCanceled)

	// The establisher ignored cancellation and hands over a device late.
	close(release)
	require.Eventually(t, func() bool {
		d := h.dev.device(0)
		return d != nil && d.closes.Load() == 1
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 0, h.eng.activations.Load())
}

func TestStop_DuringActivation(t *testing.T) {
	h := newHarness(t, withEngine(func(e *fakeEngine) { e.waitCtx = true }))
	flags := watchFlag(t, h.running)

	started := startAsync(h.c)
	require.Eventually(t, func() bool { return h.eng.activations.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.c.Stop(context.Background()))

	assert.ErrorIs(t, <-started, ErrCanceled)
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
	assert.EqualValues(t, 0, h.eng.deactivates.Load())
	assert.Equal(t, []bool{false}, flags.get())
}

func TestStop_DuringActivationDeactivatesLateSuccess(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, withEngine(func(e *fakeEngine) { e.release = release }))

	started := startAsync(h.c)
	require.Eventually(t, func() bool { return h.eng.activations.Load() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, h.c.Stop(context.Background()))
	assert.ErrorIs(t, <-started, ErrCanceled)
	assert.False(t, h.running.Value())

	close(release)
	require.Eventually(t, func() bool { return h.eng.deactivates.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, h.running.Value())
}

func TestEngineDown_SelfStops(t *testing.T) {
	h := newHarness(t)
	flags := watchFlag(t, h.running)
	require.NoError(t, h.c.Start(context.Background()))

	h.eng.send(engine.Down)

	flags.await(t, false, true, false)
	require.Eventually(t, func() bool { return h.c.Phase() == Idle }, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.c.LastError(), ErrBackend)
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
	assert.Contains(t, h.notices.Notices(), notify.Title+": "+notify.MsgDisconnected)

	// The next start is a fresh session.
	require.NoError(t, h.c.Start(context.Background()))
	flags.await(t, false, true, false, true)
	assert.NoError(t, h.c.LastError())
}

func TestEngineEventsClosed_SelfStops(t *testing.T) {
	h := newHarness(t)
	flags := watchFlag(t, h.running)
	require.NoError(t, h.c.Start(context.Background()))

	h.eng.closeEvents()

	flags.await(t, false, true, false)
	require.Eventually(t, func() bool { return h.c.Phase() == Idle }, time.Second, time.Millisecond)
	assert.ErrorIs(t, h.c.LastError(), ErrBackend)
}

func TestTeardown_NeverAbortsPartway(t *testing.T) {
	h := newHarness(t,
		withEngine(func(e *fakeEngine) { e.deactivatePanic = true }),
		withEstablisher(&fakeEstablisher{closeErr: errors.New("device busy")}),
	)
	require.NoError(t, h.c.Start(context.Background()))

	err := h.c.Stop(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackend)
	assert.ErrorIs(t, err, ErrTunInterface)
	assert.Contains(t, err.Error(), "engine exploded")
	assert.False(t, h.running.Value())
	assert.Equal(t, Idle, h.c.Phase())
	assert.EqualValues(t, 1, h.dev.device(0).closes.Load())
}

func TestFlagAlternatesUnderConcurrentRequests(t *testing.T) {
	h := newHarness(t)
	flags := watchFlag(t, h.running)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rnd := rand.New(rand.NewSource(seed))
			for i := 0; i < 25; i++ {
				if rnd.Intn(2) == 0 {
					_ = h.c.Start(context.Background())
				} else {
					_ = h.c.Stop(context.Background())
				}
			}
		}(int64(g))
	}
	wg.Wait()
	require.NoError(t, h.c.Stop(context.Background()))
	assert.False(t, h.running.Value())

	require.Eventually(t, func() bool {
		got := flags.get()
		return len(got) > 0 && !got[len(got)-1]
	}, time.Second, time.Millisecond)

	got := flags.get()
	trues := 0
	for i, v := range got {
		assert.Equal(t, i%2 == 1, v, "flag sequence %v does not alternate", got)
		if v {
			trues++
		}
	}
	assert.LessOrEqual(t, trues, int(h.eng.activations.Load()), "flag set without a confirmed activation")
	for _, f := range h.eng.flags() {
		assert.False(t, f)
	}
}

func TestClose(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.c.Start(context.Background()))

	require.NoError(t, h.c.Close())

	assert.False(t, h.running.Value())
	assert.Equal(t, Idle, h.c.Phase())
	assert.ErrorIs(t, h.c.Start(context.Background()), ErrClosed)
	assert.ErrorIs(t, h.c.Stop(context.Background()), ErrClosed)
	assert.NoError(t, h.c.Close())
}

func TestStart_WaitBoundedByContext(t *testing.T) {
	release := make(chan struct{})
	h := newHarness(t, withEstablisher(&fakeEstablisher{release: release}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, h.c.Start(ctx), context.DeadlineExceeded)

	// The attempt itself carries on.
	close(release)
	require.Eventually(t, func() bool { return h.c.Phase() == Active }, time.Second, time.Millisecond)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Options{})
	assert.Error(t, err)
}

func TestPhaseString(t *testing.T) {
	for p, s := range map[Phase]string{
		Idle:               "IDLE",
		AwaitingPermission: "AWAITING_PERMISSION",
		Establishing:       "ESTABLISHING",
		Active:             "ACTIVE",
		Stopping:           "STOPPING",
		Phase(42):          "UNKNOWN",
	} {
		assert.Equal(t, s, p.String())
	}
}

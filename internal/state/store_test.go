package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan bool, n int) []bool {
	t.Helper()
	got := make([]bool, 0, n)
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case v, ok := <-ch:
			require.True(t, ok, "stream closed after %v", got)
			got = append(got, v)
		case <-timeout:
			t.Fatalf("timed out after %v", got)
		}
	}
	return got
}

func TestSubscribeStartsWithCurrentValue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(false)
	assert.Equal(t, []bool{false}, collect(t, s.Subscribe(ctx), 1))

	s.Set(true)
	assert.Equal(t, []bool{true}, collect(t, s.Subscribe(ctx), 1))
}

func TestSetDeliversInOrderWithoutDuplicates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(false)
	ch := s.Subscribe(ctx)

	s.Set(true)
	s.Set(true)
	s.Set(false)
	s.Set(false)
	s.Set(true)

	assert.Equal(t, []bool{false, true, false, true}, collect(t, ch, 4))
	assert.True(t, s.Value())
}

func TestSlowSubscriberDoesNotBlockWriter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(false)
	ch := s.Subscribe(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Set(i%2 == 0)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("writer blocked on an idle subscriber")
	}

	got := collect(t, ch, 1001)
	for i := 1; i < len(got); i++ {
		require.NotEqual(t, got[i-1], got[i], "values must alternate at %d", i)
	}
}

func TestSubscribersSeeSameOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := New(false)
	a, b := s.Subscribe(ctx), s.Subscribe(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, v := range []bool{true, false, true} {
			s.Set(v)
		}
	}()
	wg.Wait()

	want := []bool{false, true, false, true}
	assert.Equal(t, want, collect(t, a, 4))
	assert.Equal(t, want, collect(t, b, 4))
}

func TestCancelClosesStreamAndDetaches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	s := New(false)
	ch := s.Subscribe(ctx)
	collect(t, ch, 1)
	require.Equal(t, 1, s.Subscribers())

	cancel()
	for range ch {
	}
	require.Eventually(t, func() bool { return s.Subscribers() == 0 }, time.Second, 10*time.Millisecond)

	s.Set(true)
	assert.True(t, s.Value())
}

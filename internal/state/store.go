// Package state holds the shared "is the tunnel running" flag.
package state

import (
	"context"
	"sync"
)

// Store is an observable boolean. One writer, many readers.
//
// Every subscriber gets its own unbounded queue, so Set never blocks on a slow
// reader and no value is dropped or reordered. Setting the current value again
// is ignored.
type Store struct {
	mu    sync.Mutex
	value bool
	subs  map[*subscriber]struct{}
}

type subscriber struct {
	mu     sync.Mutex
	queue  []bool
	notify chan struct{}
}

func New(initial bool) *Store {
	return &Store{
		value: initial,
		subs:  make(map[*subscriber]struct{}),
	}
}

func (s *Store) Value() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (s *Store) Set(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.value == v {
		return
	}
	s.value = v
	for sub := range s.subs {
		sub.push(v)
	}
}

// Subscribe returns a stream that starts with the current value and then
// carries every change. The channel is closed once ctx is done.
func (s *Store) Subscribe(ctx context.Context) <-chan bool {
	sub := &subscriber{notify: make(chan struct{}, 1)}
	out := make(chan bool)

	s.mu.Lock()
	sub.push(s.value)
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer s.unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.notify:
			}
			for {
				v, ok := sub.pop()
				if !ok {
					break
				}
				select {
				case out <- v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// Subscribers reports how many streams are attached.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subs, sub)
	s.mu.Unlock()
}

func (sub *subscriber) push(v bool) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, v)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscriber) pop() (bool, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if len(sub.queue) == 0 {
		return false, false
	}
	v := sub.queue[0]
	sub.queue = sub.queue[1:]
	return v, true
}

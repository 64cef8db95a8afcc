// Package shutdown coordinates a single, idempotent process shutdown that
// can be triggered by signals, panics, or the program itself.
package shutdown

import (
	"sync"
	"sync/atomic"
)

// State runs its shutdown routine at most once, whoever triggers it first.
type State struct {
	fn        func()
	once      sync.Once
	triggered atomic.Bool
	done      chan struct{}
}

func New(fn func()) *State {
	return &State{
		fn:   fn,
		done: make(chan struct{}),
	}
}

// TriggerOnce runs the shutdown routine. Concurrent and repeated calls
// return after the first call has finished it.
func (s *State) TriggerOnce() {
	s.once.Do(func() {
		s.triggered.Store(true)
		defer close(s.done)
		if s.fn != nil {
			s.fn()
		}
	})
}

func (s *State) Triggered() bool {
	return s.triggered.Load()
}

// Done is closed once the shutdown routine has returned.
func (s *State) Done() <-chan struct{} {
	return s.done
}

// Recover is deferred at the top of main. A panic triggers shutdown and is
// then re-raised.
func Recover(state *State) {
	if r := recover(); r != nil {
		state.TriggerOnce()
		panic(r)
	}
}

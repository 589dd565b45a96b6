package room

import (
	"errors"
	"fmt"
	"sync"
)

// ErrTaskPanicked is returned by [Sequencer.Do] when the submitted function
// panicked. The lane keeps running.
var ErrTaskPanicked = errors.New("room: task panicked")

type task struct {
	fn   func() error
	done chan error
}

type lane struct {
	queue   []task
	running bool
}

// Sequencer serialises functions per key. Functions submitted for the same
// key run one at a time in submission order; functions for different keys
// run concurrently. A lane's goroutine exits as soon as its queue drains, so
// idle keys cost nothing.
//
// Sequencer is safe for concurrent use. The zero value is ready to use.
type Sequencer struct {
	mu    sync.Mutex
	lanes map[string]*lane
}

// NewSequencer returns an empty [Sequencer].
func NewSequencer() *Sequencer {
	return &Sequencer{}
}

// Do runs fn in key's lane and waits for it to finish. It returns fn's
// error, or an error wrapping [ErrTaskPanicked].
//
// fn must not call Do for the same key; doing so deadlocks the lane.
// Do deliberately takes no context: once queued, a task always runs to
// completion so shared state is never left half-mutated.
func (s *Sequencer) Do(key string, fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}

	s.mu.Lock()
	if s.lanes == nil {
		s.lanes = make(map[string]*lane)
	}
	l, ok := s.lanes[key]
	if !ok {
		l = &lane{}
		s.lanes[key] = l
	}
	l.queue = append(l.queue, t)
	if !l.running {
		l.running = true
		go s.drain(key, l)
	}
	s.mu.Unlock()

	return <-t.done
}

// Pending returns the number of keys with queued or running work.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lanes)
}

func (s *Sequencer) drain(key string, l *lane) {
	for {
		s.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			delete(s.lanes, key)
			s.mu.Unlock()
			return
		}
		t := l.queue[0]
		l.queue[0] = task{}
		l.queue = l.queue[1:]
		s.mu.Unlock()

		t.done <- run(t.fn)
	}
}

func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	return fn()
}

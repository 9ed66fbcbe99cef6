// Package task runs cancellable background work that can be replaced atomically.
package task

import (
	"context"
	"sync"
	"time"
)

// After matches time.After and is injected so tests can drive timers.
type After func(time.Duration) <-chan time.Time

// Sleep waits for d or until ctx is done. It returns ctx.Err() on cancellation.
func Sleep(ctx context.Context, after After, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	if after == nil {
		after = time.After
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-after(d):
		return nil
	}
}

// Handle is one running task.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the task and waits until it has returned.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Done is closed when the task function returns.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start runs fn in a goroutine with a context derived from parent.
func Start(parent context.Context, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		fn(ctx)
	}()
	return h
}

// Slot holds at most one running task. Replacing it stops and awaits the previous one
// before the new one starts.
type Slot struct {
	mu      sync.Mutex
	current *Handle
}

// Replace stops the current task, if any, then starts fn.
func (s *Slot) Replace(parent context.Context, fn func(ctx context.Context)) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Stop()
	s.current = Start(parent, fn)
	return s.current
}

// Stop cancels and awaits the current task.
func (s *Slot) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current.Stop()
	s.current = nil
}

// Running reports whether a task is installed and has not returned yet.
func (s *Slot) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	select {
	case <-s.current.done:
		return false
	default:
		return true
	}
}

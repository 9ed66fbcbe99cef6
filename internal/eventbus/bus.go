package eventbus

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Default configuration
const (
	DefaultWorkerCount = 4
	DefaultQueueSize   = 100
)

// Event represents an event published on a room's bus
type Event struct {
	Topic   string
	Payload any
}

// Handler is a function that handles events
type Handler func(Event)

// HostForwarder receives events published with PublishHost
type HostForwarder func(topic string, payload any)

type subscription struct {
	id      uint64
	handler Handler
	inline  bool
}

// work represents a unit of work for the worker pool
type work struct {
	event   Event
	handler Handler
}

// Bus provides topic routing with a bounded worker pool.
// Sync subscribers run inline in the publisher's goroutine, in registration order.
type Bus struct {
	name string

	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	forward  HostForwarder

	// Worker pool
	workQueue chan work
	wg        sync.WaitGroup

	// Shutdown signaling - closing this channel signals publishers to stop
	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a new event bus with default settings
func New(name string) *Bus {
	return NewWithConfig(name, DefaultWorkerCount, DefaultQueueSize)
}

// NewWithConfig creates a new event bus with custom worker count and queue size
func NewWithConfig(name string, workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	b := &Bus{
		name:      name,
		handlers:  make(map[string][]subscription),
		workQueue: make(chan work, queueSize),
		closing:   make(chan struct{}),
	}

	for i := 0; i < workerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}

	log.Debug().Str("room", name).Int("workers", workerCount).Int("queue_size", queueSize).Msg("Event bus worker pool started")
	return b
}

// worker processes events from the work queue
func (b *Bus) worker(id int) {
	defer b.wg.Done()

	for w := range b.workQueue {
		b.invoke(w.handler, w.event, id)
	}
}

func (b *Bus) invoke(h Handler, ev Event, worker int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("room", b.name).
				Str("topic", ev.Topic).
				Int("worker", worker).
				Msg("Event handler panicked")
		}
	}()
	h(ev)
}

// Subscribe registers an async handler for a topic. The handler runs on the worker pool.
func (b *Bus) Subscribe(topic string, handler Handler) (unsubscribe func()) {
	return b.add(topic, handler, false)
}

// SubscribeSync registers a handler that runs inline during Publish
func (b *Bus) SubscribeSync(topic string, handler Handler) (unsubscribe func()) {
	return b.add(topic, handler, true)
}

func (b *Bus) add(topic string, handler Handler, inline bool) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[topic] = append(b.handlers[topic], subscription{id: id, handler: handler, inline: inline})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.handlers[topic]
		for i, s := range subs {
			if s.id == id {
				b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// SetHostForwarder installs the function PublishHost forwards payloads to
func (b *Bus) SetHostForwarder(fwd HostForwarder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.forward = fwd
}

// Publish sends an event to all subscribed handlers.
// Non-blocking for async handlers: if the work queue is full or bus is closing, events are dropped.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.handlers[topic]...)
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, s := range subs {
		if s.inline {
			b.invoke(s.handler, ev, -1)
			continue
		}
		if !b.enqueue(work{event: ev, handler: s.handler}) {
			return
		}
	}
}

// enqueue hands work to the pool. It returns false once the bus is closing.
func (b *Bus) enqueue(w work) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	select {
	case <-b.closing:
		log.Warn().Str("room", b.name).Str("topic", w.event.Topic).Msg("Event bus closing, dropping event")
		return false
	default:
	}
	select {
	case b.workQueue <- w:
	default:
		log.Warn().
			Str("room", b.name).
			Str("topic", w.event.Topic).
			Msg("Event bus queue full, dropping event")
	}
	return true
}

// PublishHost publishes locally and forwards the payload to the host event channel
func (b *Bus) PublishHost(topic string, payload any) {
	b.Publish(topic, payload)

	b.mu.RLock()
	fwd := b.forward
	b.mu.RUnlock()
	if fwd == nil {
		return
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Str("room", b.name).Str("topic", topic).Msg("Host forwarder panicked")
			}
		}()
		fwd(topic, payload)
	}()
}

// HasSubscribers reports whether any handler is registered for topic
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic]) > 0
}

// Close shuts down the worker pool gracefully.
// First signals publishers to stop, then closes the work queue and waits for workers.
func (b *Bus) Close(ctx context.Context) {
	first := false
	b.closeOnce.Do(func() {
		close(b.closing)
		first = true
	})
	if !first {
		return
	}

	// Sends happen under the read lock, so none is in flight once this is held.
	b.mu.Lock()
	close(b.workQueue)
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Str("room", b.name).Msg("Event bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Str("room", b.name).Msg("Event bus shutdown timed out, some events may be lost")
	}
}

// Clear removes all handlers
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers = make(map[string][]subscription)
}

package pipeline

import (
	"context"
	"sync"
)

// Event is one progress update emitted by the orchestrator worker.
type Event struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Percent int    `json:"percent"`
	Partial any    `json:"partial,omitempty"`
}

// Stream carries progress events from the orchestrator worker to the
// request-serving goroutine. The queue grows rather than drop events, and
// events are delivered strictly in emission order. The consumer must keep
// draining until Closed reports true, then drain once more: the worker may
// publish between the last drain and the close.
type Stream struct {
	mu     sync.Mutex
	queue  []Event
	closed bool
	notify chan struct{}
}

func NewStream() *Stream {
	return &Stream{notify: make(chan struct{}, 1)}
}

// Publish appends an event. Never blocks and never drops.
func (s *Stream) Publish(step, message string, percent int) {
	s.PublishPartial(step, message, percent, nil)
}

// PublishPartial appends an event carrying a partial payload.
func (s *Stream) PublishPartial(step, message string, percent int, partial any) {
	s.mu.Lock()
	s.queue = append(s.queue, Event{Step: step, Message: message, Percent: percent, Partial: partial})
	s.mu.Unlock()
	s.ping()
}

// Drain removes and returns all queued events.
func (s *Stream) Drain() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.queue
	s.queue = nil
	return events
}

// Close marks the stream complete. The worker calls this exactly once, after
// its final publish.
func (s *Stream) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ping()
}

// Closed reports whether the worker has finished publishing.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Wait blocks until new events may be available or ctx is done.
func (s *Stream) Wait(ctx context.Context) {
	select {
	case <-s.notify:
	case <-ctx.Done():
	}
}

func (s *Stream) ping() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

package agent

import (
	"strings"
	"sync"
)

// Steering is the thread-safe interrupt controller attached to an agent. It
// holds two FIFO queues — steer messages that preempt an in-flight tool
// batch, and follow-up messages that fire only when the loop would otherwise
// terminate — plus a sticky cancellation flag.
//
// Ownership is shared between external callers that enqueue and the reactive
// loop that drains; all mutation is mutex-guarded. Queues are drained one
// message per consultation.
type Steering struct {
	mu        sync.Mutex
	steerQ    []string
	followUpQ []string

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// NewSteering constructs an idle controller.
func NewSteering() *Steering {
	return &Steering{cancelled: make(chan struct{})}
}

// Steer enqueues an interrupt message. Empty messages are ignored.
func (s *Steering) Steer(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steerQ = append(s.steerQ, text)
}

// FollowUp enqueues a terminal-only message. Empty messages are ignored.
func (s *Steering) FollowUp(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUpQ = append(s.followUpQ, text)
}

// PopSteer removes and returns the oldest pending steer message.
func (s *Steering) PopSteer() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.steerQ) == 0 {
		return "", false
	}
	msg := s.steerQ[0]
	s.steerQ = s.steerQ[1:]
	return msg, true
}

// PopFollowUp removes and returns the oldest pending follow-up message.
func (s *Steering) PopFollowUp() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.followUpQ) == 0 {
		return "", false
	}
	msg := s.followUpQ[0]
	s.followUpQ = s.followUpQ[1:]
	return msg, true
}

// ClearSteeringQueue drops all pending steer messages.
func (s *Steering) ClearSteeringQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steerQ = nil
}

// ClearFollowUpQueue drops all pending follow-up messages.
func (s *Steering) ClearFollowUpQueue() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followUpQ = nil
}

// ClearAllQueues drops all pending messages from both queues.
func (s *Steering) ClearAllQueues() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steerQ = nil
	s.followUpQ = nil
}

// Cancel trips the cancellation flag. The loop observes it at each safe
// point and propagates it to the in-flight provider call and tool handler.
// Idempotent.
func (s *Steering) Cancel() {
	s.cancelOnce.Do(func() { close(s.cancelled) })
}

// Cancelled reports whether Cancel has been called.
func (s *Steering) Cancelled() bool {
	select {
	case <-s.cancelled:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when Cancel is called.
func (s *Steering) Done() <-chan struct{} { return s.cancelled }

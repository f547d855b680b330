package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSteering_FIFOPerQueue(t *testing.T) {
	s := NewSteering()
	s.Steer("first")
	s.Steer("second")
	s.FollowUp("later")

	msg, ok := s.PopSteer()
	assert.True(t, ok)
	assert.Equal(t, "first", msg)
	msg, ok = s.PopSteer()
	assert.True(t, ok)
	assert.Equal(t, "second", msg)
	_, ok = s.PopSteer()
	assert.False(t, ok)

	msg, ok = s.PopFollowUp()
	assert.True(t, ok)
	assert.Equal(t, "later", msg)
	_, ok = s.PopFollowUp()
	assert.False(t, ok)
}

func TestSteering_IgnoresEmptyMessages(t *testing.T) {
	s := NewSteering()
	s.Steer("   ")
	s.FollowUp("")
	_, ok := s.PopSteer()
	assert.False(t, ok)
	_, ok = s.PopFollowUp()
	assert.False(t, ok)
}

func TestSteering_Clears(t *testing.T) {
	s := NewSteering()
	s.Steer("a")
	s.FollowUp("b")
	s.ClearSteeringQueue()
	_, ok := s.PopSteer()
	assert.False(t, ok)
	_, ok = s.PopFollowUp()
	assert.True(t, ok)

	s.Steer("c")
	s.FollowUp("d")
	s.ClearAllQueues()
	_, ok = s.PopSteer()
	assert.False(t, ok)
	_, ok = s.PopFollowUp()
	assert.False(t, ok)
}

func TestSteering_CancelIsStickyAndIdempotent(t *testing.T) {
	s := NewSteering()
	assert.False(t, s.Cancelled())
	s.Cancel()
	assert.True(t, s.Cancelled())
	s.Cancel() // no panic on double cancel
	assert.True(t, s.Cancelled())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done channel not closed after Cancel")
	}
}

func TestSteering_ConcurrentEnqueue(t *testing.T) {
	s := NewSteering()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			s.Steer("x")
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		s.FollowUp("y")
	}
	<-done

	count := 0
	for {
		if _, ok := s.PopSteer(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, 100, count)
}

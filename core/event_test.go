package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_StampsTimestamp(t *testing.T) {
	var got Event
	bus := NewBus(func(ev Event) { got = ev })

	before := time.Now().UTC()
	bus.Emit(Event{Type: EventAgentStart})
	assert.Equal(t, EventAgentStart, got.Type)
	assert.False(t, got.Timestamp.Before(before))

	// Explicit timestamps pass through untouched.
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Emit(Event{Type: EventTurnStart, Timestamp: fixed})
	assert.Equal(t, fixed, got.Timestamp)
}

func TestBus_NilSafety(t *testing.T) {
	var bus *Bus
	bus.Emit(Event{Type: EventAgentStart}) // nil bus is a no-op
	NewBus(nil).Emit(Event{Type: EventAgentStart})
}

func TestBus_SwallowsSinkPanics(t *testing.T) {
	calls := 0
	bus := NewBus(func(ev Event) {
		calls++
		panic("sink exploded")
	})
	require.NotPanics(t, func() {
		bus.Emit(Event{Type: EventAgentStart})
		bus.Emit(Event{Type: EventAgentEnd})
	})
	assert.Equal(t, 2, calls)
}

func TestUsage_Add(t *testing.T) {
	u := Usage{InputTokens: 1, OutputTokens: 2, TotalTokens: 3}
	u.Add(Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30, CacheReadTokens: 5, CacheWriteTokens: 7})
	assert.Equal(t, Usage{
		InputTokens:      11,
		OutputTokens:     22,
		TotalTokens:      33,
		CacheReadTokens:  5,
		CacheWriteTokens: 7,
	}, u)
}

func TestMessageHelpers(t *testing.T) {
	user := NewUserMessage("hi")
	assert.Equal(t, RoleUser, user.Role)
	assert.False(t, user.CreatedAt.IsZero())

	toolMsg := NewToolMessage("call-1", "echo", "result")
	assert.Equal(t, RoleTool, toolMsg.Role)
	assert.Equal(t, "call-1", toolMsg.ToolCallID)
	assert.Equal(t, "echo", toolMsg.Name)

	assistant := Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "x", Name: "y"}}}
	assert.True(t, assistant.HasToolCalls())
	assert.False(t, user.HasToolCalls())
}

func TestNewID_Unique(t *testing.T) {
	assert.NotEqual(t, NewID(), NewID())
	assert.Len(t, NewID(), 36)
}

package core

import (
	"time"
)

// Lifecycle event types in canonical emission order within one run. See the
// Sink documentation for the ordering guarantees.
const (
	EventAgentStart          = "agent_start"
	EventTurnStart           = "turn_start"
	EventMessageStart        = "message_start"
	EventMessageUpdate       = "message_update"
	EventMessageEnd          = "message_end"
	EventToolExecutionStart  = "tool_execution_start"
	EventToolExecutionUpdate = "tool_execution_update"
	EventToolExecutionEnd    = "tool_execution_end"
	EventTurnEnd             = "turn_end"
	EventAgentEnd            = "agent_end"
	EventLaneWait            = "lane_wait"
	EventWarning             = "warning"
)

// Terminal statuses reported on turn_end events.
const (
	StatusCompleted          = "completed"
	StatusToolCallsProcessed = "tool_calls_processed"
	StatusSteered            = "steered"
	StatusFollowUpInjected   = "follow_up_injected"
	StatusCancelled          = "cancelled"
	StatusLoopDetected       = "loop_detected"
	StatusFailed             = "failed"
)

// Event is one lifecycle record emitted during a run. It is a flat struct
// serialized with omitempty so sinks tolerate absent fields; unknown keys in
// payloads are reserved for forward compatibility.
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Round / turn scope.
	Round  int    `json:"round,omitempty"`
	Status string `json:"status,omitempty"`

	// Message scope.
	Role        string `json:"role,omitempty"`
	Source      string `json:"source,omitempty"`
	Delta       string `json:"delta,omitempty"`
	TextPreview string `json:"text_preview,omitempty"`

	// Tool execution scope.
	ToolCallID    string `json:"tool_call_id,omitempty"`
	ToolName      string `json:"tool_name,omitempty"`
	Args          string `json:"args,omitempty"`
	Partial       string `json:"partial,omitempty"`
	ResultPreview string `json:"result_preview,omitempty"`
	Skipped       bool   `json:"skipped,omitempty"`
	Details       any    `json:"details,omitempty"`

	// Turn summary scope.
	ToolCallsCount          int      `json:"tool_calls_count,omitempty"`
	AssistantMessagePreview string   `json:"assistant_message_preview,omitempty"`
	ToolResultsPreview      []string `json:"tool_results_preview,omitempty"`

	// Run scope.
	FinalText string `json:"final_text,omitempty"`

	// Scheduling / diagnostics.
	WaitMillis int64  `json:"wait_ms,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Sink receives lifecycle events. A sink must be non-blocking; the runtime
// invokes it from whichever worker produced the event but guarantees that a
// single run's events arrive from one worker, in order.
type Sink func(Event)

// Bus delivers events to a single optional sink. Sink panics are caught and
// discarded so a misbehaving consumer cannot affect the run. A nil *Bus or a
// nil sink makes Emit a no-op, which lets callers emit unconditionally.
type Bus struct {
	sink Sink
}

// NewBus wraps the given sink. sink may be nil.
func NewBus(sink Sink) *Bus { return &Bus{sink: sink} }

// Emit stamps the event with the current time (if unset) and hands it to the
// sink.
func (b *Bus) Emit(ev Event) {
	if b == nil || b.sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	defer func() {
		// Sink errors are best-effort and must not break agent execution.
		_ = recover()
	}()
	b.sink(ev)
}

// Package contextmgr keeps conversation histories within a size budget.
// Given a session snapshot it produces the message view actually sent to the
// provider, trimming old messages and, past a trigger threshold or when
// trimming alone cannot fit the budget, compacting the prefix into a single
// summary message that the caller persists via the session store's
// ReplacePrefix.
package contextmgr

import (
	"fmt"
	"strings"

	"github.com/hupe1980/agentspine/core"
)

// Measurement modes.
const (
	ModeChars  = "chars"
	ModeTokens = "tokens"
)

// Defaults mirror a ~24k char working window with compaction at 1.5x.
const (
	DefaultMaxChars             = 24_000
	DefaultMaxTokens            = 24_000
	DefaultCompactTriggerChars  = 36_000
	DefaultCompactTriggerTokens = 36_000
	DefaultKeepLastMessages     = 30
	DefaultCompactKeepTail      = 16
)

const summaryHeader = "[Compacted conversation summary]"

// Config parameterizes a Manager. Zero values are replaced by defaults.
type Config struct {
	Mode                 string
	MaxChars             int
	MaxTokens            int
	CompactTriggerChars  int
	CompactTriggerTokens int
	KeepLastMessages     int
	CompactKeepTail      int
}

// Compaction describes a prefix rewrite the caller must persist: messages
// [0:UpToIndex) of the snapshot are replaced by the single Summary message.
type Compaction struct {
	UpToIndex int
	Summary   core.Message
}

// Manager trims and compacts histories. It is stateless and safe for
// concurrent use.
type Manager struct {
	cfg Config
}

// New normalizes the config and returns a Manager.
func New(cfg Config) *Manager {
	if cfg.Mode != ModeTokens {
		cfg.Mode = ModeChars
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxChars
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.CompactTriggerChars < cfg.MaxChars {
		cfg.CompactTriggerChars = max(cfg.MaxChars, DefaultCompactTriggerChars)
	}
	if cfg.CompactTriggerTokens < cfg.MaxTokens {
		cfg.CompactTriggerTokens = max(cfg.MaxTokens, DefaultCompactTriggerTokens)
	}
	if cfg.KeepLastMessages <= 0 {
		cfg.KeepLastMessages = DefaultKeepLastMessages
	}
	if cfg.CompactKeepTail <= 0 {
		cfg.CompactKeepTail = DefaultCompactKeepTail
	}
	return &Manager{cfg: cfg}
}

// Prepare returns the message view to send to the provider and, when the
// history overflowed the compaction trigger or trimming alone could not
// bring it within the budget, the prefix rewrite to persist.
//
// A history that already fits the budget is returned unchanged, which makes
// compaction idempotent: re-applying Prepare to an already-compacted history
// that fits is a no-op.
func (m *Manager) Prepare(history []core.Message) ([]core.Message, *Compaction) {
	total := m.measureAll(history)
	if total <= m.budget() {
		return history, nil
	}

	trimmed := m.trim(history)
	if m.measureAll(trimmed) <= m.budget() && total <= m.trigger() {
		return trimmed, nil
	}

	comp := m.compact(history)
	if comp == nil {
		return trimmed, nil
	}
	view := make([]core.Message, 0, 1+len(history)-comp.UpToIndex)
	view = append(view, comp.Summary)
	view = append(view, history[comp.UpToIndex:]...)
	return view, comp
}

// EstimateTokens approximates the token count of a string. Typical ratio for
// current tokenizers is ~4 chars per token; no external tokenizer is used.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}

func (m *Manager) budget() int {
	if m.cfg.Mode == ModeTokens {
		return m.cfg.MaxTokens
	}
	return m.cfg.MaxChars
}

func (m *Manager) trigger() int {
	if m.cfg.Mode == ModeTokens {
		return m.cfg.CompactTriggerTokens
	}
	return m.cfg.CompactTriggerChars
}

func (m *Manager) measureAll(messages []core.Message) int {
	total := 0
	for i := range messages {
		total += m.measure(messages[i])
	}
	return total
}

func (m *Manager) measure(msg core.Message) int {
	size := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		size += len(tc.Name) + len(tc.Arguments)
	}
	if m.cfg.Mode == ModeTokens {
		return max(1, size/4)
	}
	return size
}

// trim drops the oldest non-system messages, whole tool-call groups at a
// time, until the view fits the budget or only KeepLastMessages remain.
func (m *Manager) trim(history []core.Message) []core.Message {
	segments := segment(history)
	dropped := make([]bool, len(segments))
	remaining := len(history)
	size := m.measureAll(history)

	for _, seg := range segments {
		if size <= m.budget() || remaining <= m.cfg.KeepLastMessages {
			break
		}
		if seg.system {
			continue
		}
		dropped[seg.index] = true
		remaining -= len(seg.messages)
		for i := range seg.messages {
			size -= m.measure(seg.messages[i])
		}
	}

	out := make([]core.Message, 0, remaining)
	for _, seg := range segments {
		if dropped[seg.index] {
			continue
		}
		out = append(out, seg.messages...)
	}
	return out
}

// compact replaces everything older than the last CompactKeepTail messages
// with a deterministic summary. The tail boundary is nudged forward past
// leading tool results so the rewrite never orphans a tool-call pairing.
func (m *Manager) compact(history []core.Message) *Compaction {
	if len(history) <= m.cfg.CompactKeepTail {
		return nil
	}
	upTo := len(history) - m.cfg.CompactKeepTail
	for upTo < len(history) && history[upTo].Role == core.RoleTool {
		upTo++
	}
	if upTo == 0 || upTo >= len(history) {
		return nil
	}
	return &Compaction{UpToIndex: upTo, Summary: m.buildSummary(history[:upTo])}
}

// buildSummary derives the summary text from a stable concatenation of
// role + content preview per message, hard-capped at half the budget so the
// compacted view has room for the tail.
func (m *Manager) buildSummary(head []core.Message) core.Message {
	var points []string
	for i := range head {
		text := strings.TrimSpace(strings.ReplaceAll(head[i].Content, "\n", " "))
		if text == "" {
			continue
		}
		points = append(points, fmt.Sprintf("- %s: %s", head[i].Role, preview(text, 140)))
		if len(points) >= 10 {
			break
		}
	}
	if len(points) == 0 {
		points = []string{"- No significant earlier content."}
	}
	text := summaryHeader + "\n" + strings.Join(points, "\n")

	capChars := m.cfg.MaxChars / 2
	if m.cfg.Mode == ModeTokens {
		capChars = m.cfg.MaxTokens / 2 * 4
	}
	if capChars > 0 && len(text) > capChars {
		text = text[:capChars]
	}
	return core.Message{Role: core.RoleSystem, Content: text, Source: core.SourceCompaction}
}

func preview(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}

type historySegment struct {
	index    int
	system   bool
	messages []core.Message
}

// segment groups an assistant message carrying tool calls together with the
// tool results that answer it, so trimming always drops matched pairs.
func segment(history []core.Message) []historySegment {
	var segments []historySegment
	i := 0
	for i < len(history) {
		msg := history[i]
		seg := historySegment{index: len(segments), system: msg.Role == core.RoleSystem}
		seg.messages = append(seg.messages, msg)
		i++
		if msg.Role == core.RoleAssistant && msg.HasToolCalls() {
			ids := map[string]bool{}
			for _, tc := range msg.ToolCalls {
				ids[tc.ID] = true
			}
			for i < len(history) && history[i].Role == core.RoleTool && ids[history[i].ToolCallID] {
				seg.messages = append(seg.messages, history[i])
				i++
			}
		}
		segments = append(segments, seg)
	}
	return segments
}

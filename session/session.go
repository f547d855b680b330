// Package session persists conversations as isolated, append-only journals.
// Each session is a header (identity, provider/model, usage counters) plus an
// ordered message history. The Store interface is the single writer; readers
// obtain immutable snapshots.
package session

import (
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/hupe1980/agentspine/core"
)

// Meta is the session header record.
type Meta struct {
	SessionID       string     `json:"session_id"`
	Provider        string     `json:"provider"`
	Model           string     `json:"model"`
	WorkspaceDir    string     `json:"workspace_dir"`
	ParentSessionID string     `json:"parent_session_id,omitempty"`
	SubagentDepth   int        `json:"subagent_depth"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Usage           core.Usage `json:"usage"`
}

// Session is an immutable snapshot of a conversation: header metadata plus
// the ordered message history at the moment the snapshot was taken.
type Session struct {
	Meta     Meta
	Messages []core.Message
}

// LastMessage returns the most recent message, or false if the history is
// empty.
func (s *Session) LastMessage() (core.Message, bool) {
	if len(s.Messages) == 0 {
		return core.Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// HeaderPatch describes a partial header update. Nil fields are left
// untouched; AddUsage accumulates into the stored counters.
type HeaderPatch struct {
	Provider     *string
	Model        *string
	WorkspaceDir *string
	AddUsage     *core.Usage
}

// OpenParams seeds a session header when the session does not exist yet.
type OpenParams struct {
	SessionID       string
	Provider        string
	Model           string
	WorkspaceDir    string
	ParentSessionID string
	SubagentDepth   int
}

// Store persists sessions. Implementations are safe for concurrent use;
// within one session id all writes are totally ordered.
type Store interface {
	// Open loads the session, creating it lazily with the given seed header
	// if it does not exist.
	Open(params OpenParams) (*Session, error)

	// Append adds one message to the session journal. The write is flushed
	// before Append returns. A missing session auto-initializes with a
	// minimal header.
	Append(sessionID string, msg core.Message) error

	// ReplacePrefix atomically replaces messages[0:upToIndex] with the single
	// summary message. Concurrent readers observe either the pre- or
	// post-rewrite state, never a torn view.
	ReplacePrefix(sessionID string, upToIndex int, summary core.Message) error

	// Snapshot returns an immutable copy of the session.
	Snapshot(sessionID string) (*Session, error)

	// UpdateHeader applies a partial header update.
	UpdateHeader(sessionID string, patch HeaderPatch) error

	// Reset clears the message history, keeping the header.
	Reset(sessionID string) error
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewSessionID returns a fresh short session identifier.
func NewSessionID() string {
	id, err := gonanoid.Generate(idAlphabet, 12)
	if err != nil {
		// gonanoid only fails if the platform RNG is broken.
		panic(err)
	}
	return id
}

// ResolveSessionID trims the requested id, generating a new one when empty.
func ResolveSessionID(requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	return NewSessionID()
}

func (p HeaderPatch) apply(meta *Meta) {
	if p.Provider != nil {
		meta.Provider = *p.Provider
	}
	if p.Model != nil {
		meta.Model = *p.Model
	}
	if p.WorkspaceDir != nil {
		meta.WorkspaceDir = *p.WorkspaceDir
	}
	if p.AddUsage != nil {
		meta.Usage.Add(*p.AddUsage)
	}
	meta.UpdatedAt = time.Now().UTC()
}

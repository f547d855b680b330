package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentspine/core"
)

// Journal record kinds. The first line of every journal is a header record;
// each subsequent line is one message record.
const (
	recordHeader  = "header"
	recordMessage = "message"
)

type journalRecord struct {
	Type    string        `json:"type"`
	Header  *Meta         `json:"header,omitempty"`
	Message *core.Message `json:"message,omitempty"`
}

// JournalStore persists each session as one append-only JSONL file under a
// sessions directory. Appends are fsynced before returning; prefix rewrites
// go through a temporary file and an atomic rename so concurrent readers
// never observe a torn journal.
type JournalStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

var _ Store = (*JournalStore)(nil)

// NewJournalStore creates the sessions directory if needed.
func NewJournalStore(dir string) (*JournalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &JournalStore{dir: dir, locks: map[string]*sync.Mutex{}}, nil
}

// Dir returns the directory holding the session journals.
func (s *JournalStore) Dir() string { return s.dir }

// Open implements Store.
func (s *JournalStore) Open(params OpenParams) (*Session, error) {
	lock := s.sessionLock(params.SessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(params.SessionID)
	if _, err := os.Stat(path); err == nil {
		return s.readLocked(params.SessionID)
	}
	now := time.Now().UTC()
	meta := Meta{
		SessionID:       params.SessionID,
		Provider:        params.Provider,
		Model:           params.Model,
		WorkspaceDir:    params.WorkspaceDir,
		ParentSessionID: params.ParentSessionID,
		SubagentDepth:   params.SubagentDepth,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.rewriteLocked(params.SessionID, meta, nil); err != nil {
		return nil, err
	}
	return &Session{Meta: meta}, nil
}

// Append implements Store.
func (s *JournalStore) Append(sessionID string, msg core.Message) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(sessionID)
	if _, err := os.Stat(path); err != nil {
		// Missing sessions auto-initialize on first append.
		now := time.Now().UTC()
		meta := Meta{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
		if err := s.rewriteLocked(sessionID, meta, nil); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal %s: %w", sessionID, err)
	}
	defer f.Close()
	line, err := json.Marshal(journalRecord{Type: recordMessage, Message: &msg})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to journal %s: %w", sessionID, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync journal %s: %w", sessionID, err)
	}
	return nil
}

// ReplacePrefix implements Store.
func (s *JournalStore) ReplacePrefix(sessionID string, upToIndex int, summary core.Message) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.readLocked(sessionID)
	if err != nil {
		return err
	}
	if upToIndex < 0 {
		upToIndex = 0
	}
	if upToIndex > len(sess.Messages) {
		upToIndex = len(sess.Messages)
	}
	messages := make([]core.Message, 0, 1+len(sess.Messages)-upToIndex)
	messages = append(messages, summary)
	messages = append(messages, sess.Messages[upToIndex:]...)
	meta := sess.Meta
	meta.UpdatedAt = time.Now().UTC()
	return s.rewriteLocked(sessionID, meta, messages)
}

// Snapshot implements Store.
func (s *JournalStore) Snapshot(sessionID string) (*Session, error) {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return s.readLocked(sessionID)
}

// UpdateHeader implements Store.
func (s *JournalStore) UpdateHeader(sessionID string, patch HeaderPatch) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.readLocked(sessionID)
	if err != nil {
		return err
	}
	meta := sess.Meta
	patch.apply(&meta)
	return s.rewriteLocked(sessionID, meta, sess.Messages)
}

// Reset implements Store.
func (s *JournalStore) Reset(sessionID string) error {
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := s.readLocked(sessionID)
	if err != nil {
		return err
	}
	meta := sess.Meta
	meta.UpdatedAt = time.Now().UTC()
	return s.rewriteLocked(sessionID, meta, nil)
}

func (s *JournalStore) sessionLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *JournalStore) path(sessionID string) string {
	return filepath.Join(s.dir, safeFileName(sessionID)+".jsonl")
}

func (s *JournalStore) readLocked(sessionID string) (*Session, error) {
	f, err := os.Open(s.path(sessionID))
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", sessionID, err)
	}
	defer f.Close()

	var meta *Meta
	var messages []core.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			// Tolerate a torn trailing line from a crashed writer.
			continue
		}
		switch rec.Type {
		case recordHeader:
			if rec.Header != nil {
				meta = rec.Header
			}
		case recordMessage:
			if rec.Message != nil {
				messages = append(messages, *rec.Message)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal %s: %w", sessionID, err)
	}
	if meta == nil {
		now := time.Now().UTC()
		meta = &Meta{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
	}
	return &Session{Meta: *meta, Messages: messages}, nil
}

// rewriteLocked writes the full journal to a temporary file and renames it
// over the original.
func (s *JournalStore) rewriteLocked(sessionID string, meta Meta, messages []core.Message) error {
	path := s.path(sessionID)
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create journal tmp %s: %w", sessionID, err)
	}
	w := bufio.NewWriter(f)
	writeLine := func(rec journalRecord) error {
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = w.Write(append(line, '\n'))
		return err
	}
	if err := writeLine(journalRecord{Type: recordHeader, Header: &meta}); err != nil {
		f.Close()
		return fmt.Errorf("write journal header %s: %w", sessionID, err)
	}
	for i := range messages {
		if err := writeLine(journalRecord{Type: recordMessage, Message: &messages[i]}); err != nil {
			f.Close()
			return fmt.Errorf("write journal message %s: %w", sessionID, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("flush journal %s: %w", sessionID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync journal %s: %w", sessionID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close journal %s: %w", sessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace journal %s: %w", sessionID, err)
	}
	return nil
}

func safeFileName(sessionID string) string {
	var b strings.Builder
	for _, r := range sessionID {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

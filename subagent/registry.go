// Package subagent tracks child agent runs: spawning, state transitions,
// buffered event tails, and the bounded background worker pool that executes
// them.
package subagent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/hupe1980/agentspine/core"
)

// State is a subagent run's lifecycle state.
type State string

// Run states. Queued runs transition to running when the worker pool picks
// them up, then to exactly one terminal state.
const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
	StateTimedOut  State = "timed_out"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateTimedOut:
		return true
	}
	return false
}

// Transition records one state change with its timestamp.
type Transition struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// Run describes one child agent run.
type Run struct {
	RunID           string       `json:"run_id"`
	ParentSessionID string       `json:"parent_session_id"`
	SessionID       string       `json:"session_id"`
	Task            string       `json:"task"`
	Depth           int          `json:"depth"`
	State           State        `json:"state"`
	Provider        string       `json:"provider"`
	Model           string       `json:"model"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	FinishedAt      *time.Time   `json:"finished_at,omitempty"`
	FinalText       string       `json:"final_text,omitempty"`
	Error           string       `json:"error,omitempty"`
	Transitions     []Transition `json:"transitions,omitempty"`
}

// DefaultEventBufferSize bounds the per-run event tail kept in memory.
const DefaultEventBufferSize = 256

// Options configure the subagent subsystem.
type Options struct {
	// MaxDepth limits nesting: a child's depth must be <= MaxDepth.
	MaxDepth int
	// MaxWorkers bounds the background worker pool.
	MaxWorkers int
	// RunTimeout cancels a run's token after this duration; 0 disables.
	RunTimeout time.Duration
	// AnnounceCompletion appends a summary message to the parent session
	// when a background run completes.
	AnnounceCompletion bool
	// EventBufferSize is the per-run event tail length (default 256).
	EventBufferSize int
}

// Normalize fills defaults.
func (o *Options) Normalize() {
	if o.MaxDepth <= 0 {
		o.MaxDepth = 2
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 2
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = DefaultEventBufferSize
	}
}

// Registry is the mutex-guarded global mapping of subagent runs. Run rows
// persist to a single JSON file (atomic tmp + rename); event tails are
// in-memory ring buffers holding the most recent EventBufferSize events per
// run, oldest evicted.
type Registry struct {
	mu      sync.RWMutex
	path    string
	bufSize int
	runs    map[string]*Run
	events  map[string][]core.Event
}

// NewRegistry loads (or initializes) the registry file at path.
func NewRegistry(path string, eventBufferSize int) (*Registry, error) {
	if eventBufferSize <= 0 {
		eventBufferSize = DefaultEventBufferSize
	}
	r := &Registry{
		path:    path,
		bufSize: eventBufferSize,
		runs:    map[string]*Run{},
		events:  map[string][]core.Event{},
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}
	if err := r.load(); err != nil {
		return nil, err
	}
	return r, nil
}

// SpawnParams seed a new run row.
type SpawnParams struct {
	ParentSessionID string
	Task            string
	Provider        string
	Model           string
	Depth           int
}

// Spawn registers a new run in state queued with a fresh run and child
// session id.
func (r *Registry) Spawn(params SpawnParams) (*Run, error) {
	now := time.Now().UTC()
	run := &Run{
		RunID:           "run-" + mustNanoID(),
		ParentSessionID: params.ParentSessionID,
		SessionID:       "sub-" + mustNanoID(),
		Task:            params.Task,
		Depth:           params.Depth,
		State:           StateQueued,
		Provider:        params.Provider,
		Model:           params.Model,
		CreatedAt:       now,
		UpdatedAt:       now,
		Transitions:     []Transition{{State: StateQueued, At: now}},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.RunID] = run
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return cloneRun(run), nil
}

// Get returns a copy of the run.
func (r *Registry) Get(runID string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, false
	}
	return cloneRun(run), true
}

// List returns copies of all runs spawned by the given parent session,
// oldest first.
func (r *Registry) List(parentSessionID string) []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Run
	for _, run := range r.runs {
		if run.ParentSessionID != parentSessionID {
			continue
		}
		out = append(out, cloneRun(run))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// MarkRunning transitions the run to running and stamps StartedAt.
func (r *Registry) MarkRunning(runID string) (*Run, error) {
	return r.transition(runID, StateRunning, "", "")
}

// Complete transitions the run to completed with its final text.
func (r *Registry) Complete(runID, finalText string) (*Run, error) {
	return r.transition(runID, StateCompleted, finalText, "")
}

// Fail transitions the run to failed with an error description.
func (r *Registry) Fail(runID, errText string) (*Run, error) {
	return r.transition(runID, StateFailed, "", errText)
}

// MarkCancelled transitions the run to cancelled. Idempotent on terminal
// runs: the stored state is returned unchanged.
func (r *Registry) MarkCancelled(runID string) (*Run, error) {
	return r.transition(runID, StateCancelled, "", "killed by request")
}

// MarkTimedOut transitions the run to timed_out.
func (r *Registry) MarkTimedOut(runID string) (*Run, error) {
	return r.transition(runID, StateTimedOut, "", "run timed out")
}

func (r *Registry) transition(runID string, state State, finalText, errText string) (*Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if run.State.Terminal() {
		return cloneRun(run), nil
	}
	now := time.Now().UTC()
	run.State = state
	run.UpdatedAt = now
	run.Transitions = append(run.Transitions, Transition{State: state, At: now})
	switch {
	case state == StateRunning:
		run.StartedAt = &now
	case state.Terminal():
		run.FinishedAt = &now
		run.FinalText = finalText
		run.Error = errText
	}
	if err := r.persistLocked(); err != nil {
		return nil, err
	}
	return cloneRun(run), nil
}

func cloneRun(run *Run) *Run {
	clone := *run
	clone.Transitions = append([]Transition(nil), run.Transitions...)
	return &clone
}

// RecordEvent appends a lifecycle event to the run's tail buffer, evicting
// the oldest entry past the buffer size.
func (r *Registry) RecordEvent(runID string, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf := append(r.events[runID], ev)
	if overflow := len(buf) - r.bufSize; overflow > 0 {
		buf = buf[overflow:]
	}
	r.events[runID] = buf
}

// Events returns a copy of the run's buffered event tail.
func (r *Registry) Events(runID string) []core.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	buf := r.events[runID]
	out := make([]core.Event, len(buf))
	copy(out, buf)
	return out
}

func (r *Registry) load() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read registry: %w", err)
	}
	var rows []*Run
	if err := json.Unmarshal(raw, &rows); err != nil {
		// A corrupt registry file starts empty rather than blocking spawns.
		return nil
	}
	for _, run := range rows {
		r.runs[run.RunID] = run
	}
	return nil
}

func (r *Registry) persistLocked() error {
	rows := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		rows = append(rows, run)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	raw, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write registry: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func mustNanoID() string {
	id, err := gonanoid.Generate(idAlphabet, 10)
	if err != nil {
		panic(err)
	}
	return id
}

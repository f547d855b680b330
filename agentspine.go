// Package agentspine provides a high-level façade over the reactive agent
// runtime: per-session journals, the lane scheduler, the steering protocol,
// context compaction and subagent orchestration. Most applications interact
// with this package by:
//  1. Creating a Spine via New() (optionally overriding stores, logger,
//     concurrency)
//  2. Obtaining agents bound to session ids via Agent()
//  3. Driving conversations with Chat / ChatStream and the steering API
//
// The façade wires shared infrastructure — one lane queue, one session
// store, one subagent registry and worker pool — so agents created through
// it schedule and persist consistently. All defaults are safe for local
// development; production deployments typically supply a structured logger
// and tuned limits.
package agentspine

import (
	"path/filepath"

	"github.com/hupe1980/agentspine/agent"
	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/lane"
	"github.com/hupe1980/agentspine/logging"
	"github.com/hupe1980/agentspine/session"
	"github.com/hupe1980/agentspine/subagent"
)

// Options configures the Spine façade.
type Options struct {
	// MaxConcurrent bounds globally concurrent sessions.
	MaxConcurrent int
	// SessionsDir holds journal files when Store is nil.
	SessionsDir string
	// Store overrides the journal store.
	Store session.Store
	// Logger defaults to a no-op logger.
	Logger logging.Logger
	// OnEvent receives every agent's lifecycle events.
	OnEvent core.Sink
	// Subagents configures the shared child-run subsystem.
	Subagents subagent.Options
}

// Spine aggregates the shared runtime services behind agent construction.
type Spine struct {
	opts        Options
	lanes       *lane.Queue
	store       session.Store
	subRegistry *subagent.Registry
	subRuntime  *subagent.Runtime
}

// New creates a Spine with optional overrides. Any unset service is
// initialized with its default implementation.
func New(optFns ...func(o *Options)) (*Spine, error) {
	opts := Options{
		MaxConcurrent: lane.DefaultMaxConcurrent,
		SessionsDir:   agent.DefaultSessionsDir,
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.Subagents.Normalize()

	store := opts.Store
	if store == nil {
		journal, err := session.NewJournalStore(opts.SessionsDir)
		if err != nil {
			return nil, err
		}
		store = journal
	}
	subRegistry, err := subagent.NewRegistry(
		filepath.Join(opts.SessionsDir, "subagents.json"), opts.Subagents.EventBufferSize)
	if err != nil {
		return nil, err
	}

	return &Spine{
		opts:        opts,
		lanes:       lane.NewQueue(opts.MaxConcurrent),
		store:       store,
		subRegistry: subRegistry,
		subRuntime:  subagent.NewRuntime(opts.Subagents.MaxWorkers),
	}, nil
}

// Agent constructs an agent wired to the Spine's shared services. Caller
// options run after the wiring and may override everything but the lane
// queue and store coherence guarantees they rely on.
func (s *Spine) Agent(optFns ...func(o *agent.Options)) (*agent.Agent, error) {
	fns := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Store = s.store
		o.SessionsDir = s.opts.SessionsDir
		o.LaneQueue = s.lanes
		o.Logger = s.opts.Logger
		o.OnEvent = s.opts.OnEvent
		o.Subagents = s.opts.Subagents
		o.SubagentRegistry = s.subRegistry
		o.SubagentRuntime = s.subRuntime
	}}, optFns...)
	return agent.New(fns...)
}

// Subagents exposes the shared subagent registry (inspection, event tails).
func (s *Spine) Subagents() *subagent.Registry { return s.subRegistry }

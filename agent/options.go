package agent

import (
	"sync"
	"time"

	"github.com/hupe1980/agentspine/contextmgr"
	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/lane"
	"github.com/hupe1980/agentspine/logging"
	"github.com/hupe1980/agentspine/model"
	"github.com/hupe1980/agentspine/session"
	"github.com/hupe1980/agentspine/subagent"
	"github.com/hupe1980/agentspine/tool"
)

// Loop limits and documented result strings.
const (
	DefaultMaxToolRounds      = 20
	DefaultMaxToolResultChars = 8000
	DefaultMaxRetries         = 2
	DefaultRetryBaseDelay     = time.Second
	DefaultLaneWarnWait       = 1200 * time.Millisecond

	// maxRepeatRounds trips the loop guard when the same assistant text and
	// tool-call signature repeat this many consecutive rounds.
	maxRepeatRounds = 3

	// SkippedDueToSteer is the tool result text recorded for calls abandoned
	// by a steering interrupt.
	SkippedDueToSteer = "Skipped due to user interrupt."
)

// BeforeTurnHook may replace the system prompt and prepend messages for one
// round only. Return an empty prompt / nil slice to leave either untouched.
type BeforeTurnHook func(sessionID string, round int, messages []core.Message, systemPrompt string) (promptOverride string, prepend []core.Message)

// Options is the immutable configuration of an Agent, constructed once at
// creation. Env parsing is an external collaborator (see package config).
type Options struct {
	// Provider selects the built-in adapter ("openai" or "anthropic") when
	// ProviderImpl is nil.
	Provider string
	// Model overrides the adapter's default model id.
	Model string
	// ProviderImpl injects a custom provider (tests, additional vendors).
	ProviderImpl model.Provider

	// SessionID names the conversation; empty generates a fresh id.
	SessionID string
	// WorkspaceDir roots file tools and the prompt; defaults to the CWD.
	WorkspaceDir string
	// SessionsDir holds journal files when Store is nil.
	SessionsDir string
	// Store overrides the journal store (e.g. session.NewMemoryStore()).
	Store session.Store

	// EnableOrchestration exposes the sessions_spawn / subagents tools.
	EnableOrchestration bool
	// ExtraTools are caller-supplied tools; on a name collision the extra
	// tool wins and a warning event is emitted.
	ExtraTools []tool.Tool

	// ParentSessionID / SubagentDepth mark this agent as a child run.
	ParentSessionID string
	SubagentDepth   int

	// ThinkingLevel is forwarded to providers that support it.
	ThinkingLevel string

	// OnEvent receives the lifecycle event stream.
	OnEvent core.Sink

	// Logger defaults to a no-op logger.
	Logger logging.Logger

	// Retry policy for transient provider failures.
	MaxRetries     int
	RetryBaseDelay time.Duration

	// LaneQueue overrides the process-wide scheduler; MaxConcurrent builds a
	// dedicated queue instead. With neither set, the shared default queue is
	// used so that independently constructed agents still serialize per
	// session id.
	LaneQueue     *lane.Queue
	MaxConcurrent int
	// LaneWarnWait is the queue delay past which a lane_wait event fires.
	LaneWarnWait time.Duration

	// Context configures trimming / compaction.
	Context contextmgr.Config

	// PromptRole replaces the default identity block of the system prompt.
	PromptRole string

	// Subagents configures the child-run registry and worker pool.
	Subagents subagent.Options
	// SubagentRegistry / SubagentRuntime inject shared instances; defaults
	// are created per agent family from Subagents.
	SubagentRegistry *subagent.Registry
	SubagentRuntime  *subagent.Runtime

	// Hooks, all optional.
	TransformContext func(messages []core.Message) []core.Message
	ConvertToLLM     func(messages []core.Message) []core.Message
	BeforeTurn       BeforeTurnHook

	// GetAPIKey resolves per-turn dynamic credentials for the named
	// provider; empty results fall back to the adapter's own credential.
	GetAPIKey func(provider string) string

	// Loop limits.
	MaxToolRounds      int
	MaxToolResultChars int
}

var (
	defaultQueueOnce sync.Once
	defaultQueue     *lane.Queue
)

// DefaultLaneQueue returns the process-wide lane queue shared by agents that
// do not configure their own.
func DefaultLaneQueue() *lane.Queue {
	defaultQueueOnce.Do(func() {
		defaultQueue = lane.NewQueue(lane.DefaultMaxConcurrent)
	})
	return defaultQueue
}

func (o *Options) normalize() {
	if o.Provider == "" {
		o.Provider = model.ProviderOpenAI
	}
	if o.Logger == nil {
		o.Logger = logging.NoOpLogger{}
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.LaneWarnWait <= 0 {
		o.LaneWarnWait = DefaultLaneWarnWait
	}
	if o.MaxToolRounds <= 0 {
		o.MaxToolRounds = DefaultMaxToolRounds
	}
	if o.MaxToolResultChars <= 0 {
		o.MaxToolResultChars = DefaultMaxToolResultChars
	}
	if o.SubagentDepth < 0 {
		o.SubagentDepth = 0
	}
	if o.LaneQueue == nil {
		if o.MaxConcurrent > 0 {
			o.LaneQueue = lane.NewQueue(o.MaxConcurrent)
		} else {
			o.LaneQueue = DefaultLaneQueue()
		}
	}
}

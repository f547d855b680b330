// Package agent implements the reactive loop at the heart of the runtime:
// rounds of provider call, tool batch, result injection — serialized per
// session by the lane queue, observable through the lifecycle event stream,
// and interruptible through the steering controller.
package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/agentspine/contextmgr"
	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/internal/util"
	"github.com/hupe1980/agentspine/lane"
	"github.com/hupe1980/agentspine/logging"
	"github.com/hupe1980/agentspine/model"
	anthropicprovider "github.com/hupe1980/agentspine/model/anthropic"
	openaiprovider "github.com/hupe1980/agentspine/model/openai"
	"github.com/hupe1980/agentspine/prompt"
	"github.com/hupe1980/agentspine/session"
	"github.com/hupe1980/agentspine/subagent"
	"github.com/hupe1980/agentspine/tool"
)

// DefaultSessionsDir is used when neither a store nor a directory is
// configured.
const DefaultSessionsDir = "sessions"

// Agent drives multi-turn conversations between a provider and a tool set,
// persisting the conversation as an isolated session. Public methods are
// safe for concurrent use; turns for one session never overlap.
type Agent struct {
	opts Options

	provider     model.Provider
	modelID      string
	store        session.Store
	contextMgr   *contextmgr.Manager
	prompts      *prompt.Builder
	tools        *tool.Registry
	lanes        *lane.Queue
	bus          *core.Bus
	steering     *Steering
	logger       logging.Logger
	sessionID    string
	workspaceDir string

	subRegistry *subagent.Registry
	subRuntime  *subagent.Runtime
}

// New constructs an agent. The zero configuration gives an OpenAI-backed
// agent persisting journals under ./sessions with orchestration tools
// enabled.
func New(optFns ...func(o *Options)) (*Agent, error) {
	opts := Options{EnableOrchestration: true}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.normalize()
	opts.Subagents.Normalize()

	workspaceDir := opts.WorkspaceDir
	if workspaceDir == "" {
		if cwd, err := os.Getwd(); err == nil {
			workspaceDir = cwd
		}
	}
	if abs, err := filepath.Abs(workspaceDir); err == nil {
		workspaceDir = abs
	}

	provider := opts.ProviderImpl
	if provider == nil {
		built, err := buildProvider(opts.Provider)
		if err != nil {
			return nil, err
		}
		provider = built
	}

	modelID := opts.Model
	if modelID == "" {
		modelID = defaultModelFor(opts.Provider)
	}

	store := opts.Store
	sessionsDir := opts.SessionsDir
	if store == nil {
		if sessionsDir == "" {
			sessionsDir = DefaultSessionsDir
		}
		journal, err := session.NewJournalStore(sessionsDir)
		if err != nil {
			return nil, err
		}
		store = journal
	}

	a := &Agent{
		opts:         opts,
		provider:     provider,
		modelID:      modelID,
		store:        store,
		contextMgr:   contextmgr.New(opts.Context),
		prompts:      &prompt.Builder{Role: opts.PromptRole, MaxToolOutputChars: opts.MaxToolResultChars},
		lanes:        opts.LaneQueue,
		bus:          core.NewBus(opts.OnEvent),
		steering:     NewSteering(),
		logger:       opts.Logger,
		sessionID:    session.ResolveSessionID(opts.SessionID),
		workspaceDir: workspaceDir,
	}

	if _, err := store.Open(session.OpenParams{
		SessionID:       a.sessionID,
		Provider:        opts.Provider,
		Model:           modelID,
		WorkspaceDir:    workspaceDir,
		ParentSessionID: opts.ParentSessionID,
		SubagentDepth:   opts.SubagentDepth,
	}); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	if opts.EnableOrchestration {
		a.subRegistry = opts.SubagentRegistry
		if a.subRegistry == nil {
			dir := sessionsDir
			if dir == "" {
				dir = DefaultSessionsDir
			}
			registry, err := subagent.NewRegistry(filepath.Join(dir, "subagents.json"), opts.Subagents.EventBufferSize)
			if err != nil {
				return nil, err
			}
			a.subRegistry = registry
		}
		a.subRuntime = opts.SubagentRuntime
		if a.subRuntime == nil {
			a.subRuntime = subagent.NewRuntime(opts.Subagents.MaxWorkers)
		}
	}

	a.tools = a.buildToolRegistry()
	return a, nil
}

func buildProvider(name string) (model.Provider, error) {
	switch name {
	case model.ProviderAnthropic:
		return anthropicprovider.New(), nil
	case model.ProviderOpenAI:
		return openaiprovider.New(), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

func defaultModelFor(provider string) string {
	if provider == model.ProviderAnthropic {
		return anthropicprovider.DefaultModel
	}
	return openaiprovider.DefaultModel
}

// buildToolRegistry assembles built-ins, orchestration tools (when enabled)
// and caller extras, in that order so extras win collisions.
func (a *Agent) buildToolRegistry() *tool.Registry {
	registry := tool.NewRegistry(a.logger, tool.Builtins()...)
	if a.opts.EnableOrchestration {
		registry.Register(a.spawnTool())
		registry.Register(a.subagentsTool())
	}
	for _, extra := range a.opts.ExtraTools {
		if collided := registry.Register(extra); collided {
			a.bus.Emit(core.Event{
				Type:     core.EventWarning,
				ToolName: extra.Name(),
				Message:  fmt.Sprintf("extra tool %q replaces a built-in tool of the same name", extra.Name()),
			})
		}
	}
	return registry
}

// SessionID returns the id of the conversation this agent drives.
func (a *Agent) SessionID() string { return a.sessionID }

// Steering returns the agent's interrupt controller.
func (a *Agent) Steering() *Steering { return a.steering }

// Steer enqueues an interrupt message consumed before the next tool call.
func (a *Agent) Steer(text string) { a.steering.Steer(text) }

// FollowUp enqueues a message injected only when the loop would otherwise
// terminate.
func (a *Agent) FollowUp(text string) { a.steering.FollowUp(text) }

// ClearSteeringQueue drops pending steer messages.
func (a *Agent) ClearSteeringQueue() { a.steering.ClearSteeringQueue() }

// ClearFollowUpQueue drops pending follow-up messages.
func (a *Agent) ClearFollowUpQueue() { a.steering.ClearFollowUpQueue() }

// ClearAllQueues drops all pending steering and follow-up messages.
func (a *Agent) ClearAllQueues() { a.steering.ClearAllQueues() }

// Cancel trips the cancellation token observed at every safe point.
func (a *Agent) Cancel() { a.steering.Cancel() }

// Chat submits a user message and runs the loop to completion, returning
// the final assistant text.
func (a *Agent) Chat(ctx context.Context, userInput string) (string, error) {
	return a.run(ctx, runParams{pendingUser: userInput, hasPendingUser: true})
}

// ChatStream is Chat with streaming: onTextDelta receives assistant text
// fragments as they arrive and message_update events are emitted.
func (a *Agent) ChatStream(ctx context.Context, userInput string, onTextDelta func(delta string)) (string, error) {
	return a.run(ctx, runParams{pendingUser: userInput, hasPendingUser: true, onTextDelta: onTextDelta})
}

// ContinueRun re-enters the loop without appending a new user message. The
// session's last message must have role user or tool. Rounds number from 1
// within the new run.
func (a *Agent) ContinueRun(ctx context.Context) (string, error) {
	return a.run(ctx, runParams{requireContinuable: true})
}

// ContinueRunStream is ContinueRun with streaming.
func (a *Agent) ContinueRunStream(ctx context.Context, onTextDelta func(delta string)) (string, error) {
	return a.run(ctx, runParams{requireContinuable: true, onTextDelta: onTextDelta})
}

// Reset clears the session's message history, keeping the header.
func (a *Agent) Reset() error {
	return a.store.Reset(a.sessionID)
}

// run acquires the session lane and executes the loop.
func (a *Agent) run(ctx context.Context, p runParams) (string, error) {
	var out string
	err := a.lanes.Run(ctx, a.sessionID, func() error {
		if p.requireContinuable {
			if err := a.checkContinuable(); err != nil {
				return err
			}
		}
		text, err := a.runLoop(ctx, p)
		out = text
		return err
	}, a.onLaneMetrics)
	return out, err
}

func (a *Agent) checkContinuable() error {
	snap, err := a.store.Snapshot(a.sessionID)
	if err != nil {
		return err
	}
	last, ok := snap.LastMessage()
	if !ok {
		return fmt.Errorf("cannot continue: no messages in context")
	}
	if last.Role != core.RoleUser && last.Role != core.RoleTool {
		return fmt.Errorf("cannot continue: last message must be user or tool")
	}
	return nil
}

// onLaneMetrics surfaces scheduler delays: waits past the threshold emit a
// lane_wait event and a system notice in the journal.
func (a *Agent) onLaneMetrics(m lane.Metrics) {
	if m.Wait < a.opts.LaneWarnWait {
		return
	}
	a.bus.Emit(core.Event{Type: core.EventLaneWait, WaitMillis: m.Wait.Milliseconds()})
	notice := fmt.Sprintf("Lane wait detected: waited=%dms run=%dms session=%s",
		m.Wait.Milliseconds(), m.Run.Milliseconds(), a.sessionID)
	if err := a.systemNotice(notice); err != nil {
		a.logger.Warn("agent.lane_notice_failed", "session_id", a.sessionID, "error", err.Error())
	}
}

// systemNotice appends a system-authored notice to this agent's session.
func (a *Agent) systemNotice(text string) error {
	return a.store.Append(a.sessionID, core.Message{
		Role:      core.RoleAssistant,
		Content:   "[System Message] " + text,
		CreatedAt: time.Now().UTC(),
	})
}

func (a *Agent) truncateToolResult(text string) string {
	return util.TruncateMiddle(text, a.opts.MaxToolResultChars)
}

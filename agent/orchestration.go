package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/internal/util"
	"github.com/hupe1980/agentspine/subagent"
	"github.com/hupe1980/agentspine/tool"
)

// spawnTool exposes sessions_spawn: create a child run and optionally
// dispatch its initial task, in the background or synchronously.
func (a *Agent) spawnTool() tool.Tool {
	return tool.NewFunctionTool(
		"sessions_spawn",
		"Spawn a subagent session and optionally run an initial task.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"task":     map[string]any{"type": "string", "description": "Initial task for the subagent."},
				"provider": map[string]any{"type": "string", "description": "Optional provider override."},
				"model":    map[string]any{"type": "string", "description": "Optional model override."},
				"run_now": map[string]any{
					"type":        "boolean",
					"description": "If true, run the task immediately and return a first reply.",
					"default":     true,
				},
				"background": map[string]any{
					"type":        "boolean",
					"description": "If true and run_now=true, run in background and return immediately.",
					"default":     true,
				},
			},
			"required": []string{"task"},
		},
		a.handleSpawn,
	)
}

func (a *Agent) handleSpawn(tc *tool.Context, args map[string]any) (any, error) {
	task := argString(args, "task")
	maxDepth := a.opts.Subagents.MaxDepth
	depth := a.opts.SubagentDepth + 1
	if depth > maxDepth {
		return jsonError(fmt.Sprintf(
			"depth_exceeded: subagent depth limit reached (%d/%d)", a.opts.SubagentDepth, maxDepth)), nil
	}

	provider := strings.ToLower(strings.TrimSpace(argString(args, "provider")))
	if provider == "" {
		provider = a.opts.Provider
	}
	modelID := strings.TrimSpace(argString(args, "model"))
	if modelID == "" {
		modelID = a.modelID
	}

	run, err := a.subRegistry.Spawn(subagent.SpawnParams{
		ParentSessionID: a.sessionID,
		Task:            task,
		Provider:        provider,
		Model:           modelID,
		Depth:           depth,
	})
	if err != nil {
		return nil, err
	}
	a.logger.Info("agent.subagent_spawned",
		"session_id", a.sessionID, "run_id", run.RunID, "child_session_id", run.SessionID, "depth", depth)

	payload := map[string]any{
		"status":           "ok",
		"run_id":           run.RunID,
		"child_session_id": run.SessionID,
		"provider":         run.Provider,
		"model":            run.Model,
		"depth":            depth,
	}

	if argBool(args, "run_now", true) {
		if argBool(args, "background", true) {
			a.startSubagentBackground(run, task)
			payload["dispatched"] = "background"
		} else {
			reply, err := a.runSubagentSync(tc.Context, run, task)
			if err != nil {
				payload["status"] = "error"
				payload["error"] = err.Error()
			} else {
				payload["first_reply"] = util.Truncate(reply, 1200)
			}
		}
	}
	return jsonString(payload), nil
}

// subagentsTool exposes run management: list, get_result, events, steer,
// kill.
func (a *Agent) subagentsTool() tool.Tool {
	return tool.NewFunctionTool(
		"subagents",
		"List, inspect, steer, or kill existing subagent runs for this session.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"type":        "string",
					"enum":        []string{"list", "get_result", "events", "steer", "kill"},
					"description": "Operation to perform.",
				},
				"run_id":  map[string]any{"type": "string", "description": "Subagent run id (required for all actions except list)."},
				"message": map[string]any{"type": "string", "description": "Message for steer action."},
				"background": map[string]any{
					"type":        "boolean",
					"description": "If true for steer, run in background and return immediately.",
					"default":     false,
				},
			},
			"required": []string{"action"},
		},
		a.handleSubagents,
	)
}

func (a *Agent) handleSubagents(tc *tool.Context, args map[string]any) (any, error) {
	action := strings.ToLower(strings.TrimSpace(argString(args, "action")))
	if action == "list" {
		return a.subagentList(), nil
	}

	runID := argString(args, "run_id")
	if runID == "" {
		return jsonError("run_id is required for this action"), nil
	}
	run, ok := a.subRegistry.Get(runID)
	if !ok {
		return jsonError("run not found: " + runID), nil
	}
	if run.ParentSessionID != a.sessionID {
		return jsonError("run does not belong to this session"), nil
	}

	switch action {
	case "get_result":
		return jsonString(map[string]any{
			"status":         "ok",
			"run_id":         run.RunID,
			"state":          run.State,
			"reply":          run.FinalText,
			"error":          run.Error,
			"is_running_now": a.subRuntime.IsRunning(run.RunID),
			"transitions":    run.Transitions,
		}), nil
	case "events":
		return jsonString(map[string]any{
			"status": "ok",
			"run_id": run.RunID,
			"state":  run.State,
			"events": a.subRegistry.Events(run.RunID),
		}), nil
	case "kill":
		return a.subagentKill(run)
	case "steer":
		return a.subagentSteer(tc.Context, run, argString(args, "message"), argBool(args, "background", false))
	default:
		return jsonError("unknown action: " + action), nil
	}
}

func (a *Agent) subagentList() any {
	runs := a.subRegistry.List(a.sessionID)
	rows := make([]map[string]any, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, map[string]any{
			"run_id":           r.RunID,
			"child_session_id": r.SessionID,
			"state":            r.State,
			"task":             util.Truncate(r.Task, 120),
			"created_at":       r.CreatedAt,
			"updated_at":       r.UpdatedAt,
			"provider":         r.Provider,
			"model":            r.Model,
			"last_reply":       util.Truncate(r.FinalText, 180),
			"last_error":       util.Truncate(r.Error, 180),
			"is_running_now":   a.subRuntime.IsRunning(r.RunID),
		})
	}
	return jsonString(map[string]any{"status": "ok", "runs": rows})
}

// subagentKill cancels the run's token and reports the resulting state.
// Idempotent: killing a finished run leaves its terminal state untouched.
func (a *Agent) subagentKill(run *subagent.Run) (any, error) {
	a.subRuntime.Cancel(run.RunID)
	updated, err := a.subRegistry.MarkCancelled(run.RunID)
	if err != nil {
		return nil, err
	}
	a.logger.Info("agent.subagent_killed", "session_id", a.sessionID, "run_id", run.RunID, "state", string(updated.State))
	return jsonString(map[string]any{
		"status": "ok",
		"run_id": run.RunID,
		"state":  updated.State,
	}), nil
}

func (a *Agent) subagentSteer(ctx context.Context, run *subagent.Run, message string, background bool) (any, error) {
	if run.State == subagent.StateCancelled {
		return jsonError(fmt.Sprintf("run is not active: %s", run.State)), nil
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return jsonError("message is required for steer"), nil
	}
	if background {
		// Submit replaces any in-flight background job for the run id.
		a.startSubagentBackground(run, message)
		return jsonString(map[string]any{"status": "ok", "run_id": run.RunID, "dispatched": "background"}), nil
	}
	reply, err := a.runSubagentSync(ctx, run, message)
	if err != nil {
		return jsonError(err.Error()), nil
	}
	return jsonString(map[string]any{"status": "ok", "run_id": run.RunID, "reply": util.Truncate(reply, 2400)}), nil
}

// runSubagentSync executes a child task inline, holding up the parent's
// current tool batch until it completes.
func (a *Agent) runSubagentSync(ctx context.Context, run *subagent.Run, task string) (string, error) {
	child, err := a.childAgent(run)
	if err != nil {
		return "", err
	}
	if _, err := a.subRegistry.MarkRunning(run.RunID); err != nil {
		return "", err
	}
	reply, err := child.Chat(ctx, task)
	if err != nil {
		_, _ = a.subRegistry.Fail(run.RunID, err.Error())
		return "", err
	}
	if _, err := a.subRegistry.Complete(run.RunID, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// startSubagentBackground hands the task to the worker pool. Terminal state
// is derived from the job context: deadline -> timed_out, cancel ->
// cancelled. Parent notices go through the lane queue so they never
// interleave with an in-flight tool batch.
func (a *Agent) startSubagentBackground(run *subagent.Run, task string) {
	announce := a.opts.Subagents.AnnounceCompletion

	a.subRuntime.Submit(run.RunID, a.opts.Subagents.RunTimeout, func(ctx context.Context) {
		if ctx.Err() != nil {
			a.recordBackgroundOutcome(run.RunID, "", ctx.Err())
			return
		}
		if _, err := a.subRegistry.MarkRunning(run.RunID); err != nil {
			a.logger.Error("agent.subagent_start_failed", "run_id", run.RunID, "error", err.Error())
			return
		}
		child, err := a.childAgent(run)
		if err != nil {
			_, _ = a.subRegistry.Fail(run.RunID, err.Error())
			return
		}
		reply, err := child.Chat(ctx, task)
		if err == nil && ctx.Err() != nil {
			err = ctx.Err()
		}
		a.recordBackgroundOutcome(run.RunID, reply, err)
		if err == nil && announce && reply != "" {
			a.announceCompletion(run.RunID, reply)
		}
	})
}

func (a *Agent) recordBackgroundOutcome(runID, reply string, err error) {
	switch {
	case err == nil:
		_, _ = a.subRegistry.Complete(runID, reply)
		a.notifyParent(fmt.Sprintf("Subagent run=%s completed in background.", runID))
	case errors.Is(err, context.DeadlineExceeded):
		_, _ = a.subRegistry.MarkTimedOut(runID)
		a.notifyParent(fmt.Sprintf("Subagent run=%s timed out.", runID))
	case errors.Is(err, context.Canceled):
		_, _ = a.subRegistry.MarkCancelled(runID)
		a.notifyParent(fmt.Sprintf("Subagent run=%s cancelled before completion.", runID))
	default:
		_, _ = a.subRegistry.Fail(runID, err.Error())
		a.notifyParent(fmt.Sprintf("Subagent run=%s failed in background: %s", runID, util.Truncate(err.Error(), 200)))
	}
}

// notifyParent appends a system notice to the parent session via the lane
// queue, preserving the tool-pairing invariant of any in-flight turn.
func (a *Agent) notifyParent(text string) {
	a.lanes.Submit(context.Background(), a.sessionID, func() error {
		return a.systemNotice(text)
	}, nil)
}

// announceCompletion surfaces the child's final text in the parent session.
func (a *Agent) announceCompletion(runID, reply string) {
	summary := util.Truncate(strings.TrimSpace(reply), 400)
	a.lanes.Submit(context.Background(), a.sessionID, func() error {
		return a.systemNotice(fmt.Sprintf("Subagent run=%s completed: %s", runID, summary))
	}, nil)
}

// childAgent builds the child loop sharing this agent's store, lane queue
// and subagent infrastructure. Child lifecycle events feed the run's
// buffered event tail.
func (a *Agent) childAgent(run *subagent.Run) (*Agent, error) {
	return New(func(o *Options) {
		o.Provider = run.Provider
		o.Model = run.Model
		o.ProviderImpl = a.opts.ProviderImpl
		o.SessionID = run.SessionID
		o.WorkspaceDir = a.workspaceDir
		o.SessionsDir = a.opts.SessionsDir
		o.Store = a.store
		o.EnableOrchestration = false
		o.ParentSessionID = a.sessionID
		o.SubagentDepth = run.Depth
		o.ThinkingLevel = a.opts.ThinkingLevel
		o.Logger = a.logger
		o.LaneQueue = a.lanes
		o.Context = a.opts.Context
		o.MaxRetries = a.opts.MaxRetries
		o.RetryBaseDelay = a.opts.RetryBaseDelay
		o.GetAPIKey = a.opts.GetAPIKey
		runID := run.RunID
		o.OnEvent = func(ev core.Event) { a.subRegistry.RecordEvent(runID, ev) }
	})
}

func jsonError(message string) string {
	return jsonString(map[string]any{"status": "error", "error": message})
}

func jsonString(payload map[string]any) string {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"status":"error","error":%q}`, err.Error())
	}
	return string(raw)
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argBool(args map[string]any, key string, fallback bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return fallback
}

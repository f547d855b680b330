package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/internal/util"
	"github.com/hupe1980/agentspine/model"
	"github.com/hupe1980/agentspine/prompt"
	"github.com/hupe1980/agentspine/session"
	"github.com/hupe1980/agentspine/tool"
)

const cancelledText = "(agent stopped: cancelled)"

type runParams struct {
	pendingUser        string
	hasPendingUser     bool
	requireContinuable bool
	onTextDelta        func(delta string)
}

// runLoop drives rounds of provider call, tool batch and result injection
// until a terminal state: a pure text answer, cancellation, a loop-guard
// trip, or round exhaustion.
func (a *Agent) runLoop(parent context.Context, p runParams) (string, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		// Agent.Cancel trips the steering flag; propagate it into the
		// in-flight provider call and tool handlers.
		select {
		case <-a.steering.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	a.emit(core.Event{Type: core.EventAgentStart})

	lastSignature := ""
	repeatRounds := 0

	for round := 1; round <= a.opts.MaxToolRounds; round++ {
		a.emit(core.Event{Type: core.EventTurnStart, Round: round})

		if a.cancelled(ctx) {
			a.emit(core.Event{Type: core.EventTurnEnd, Round: round, Status: core.StatusCancelled})
			return a.finishRun(cancelledText), nil
		}

		if p.hasPendingUser && round == 1 {
			if err := a.appendUserMessage(p.pendingUser, "", round); err != nil {
				return a.abortRun(round, err)
			}
		}

		llmMessages, err := a.prepareRound(round)
		if err != nil {
			return a.abortRun(round, err)
		}

		a.emit(core.Event{Type: core.EventMessageStart, Role: core.RoleAssistant, Round: round})
		resp, err := a.completeWithRetry(ctx, llmMessages, p.onTextDelta)
		if err != nil {
			// Close the open message span so *_start/*_end stay paired even
			// on failure.
			a.emit(core.Event{Type: core.EventMessageEnd, Role: core.RoleAssistant, Round: round})
			if ctx.Err() != nil {
				a.emit(core.Event{Type: core.EventTurnEnd, Round: round, Status: core.StatusCancelled})
				return a.finishRun(cancelledText), nil
			}
			a.logger.Error("agent.provider_failed", "session_id", a.sessionID, "round", round, "error", err.Error())
			a.emit(core.Event{Type: core.EventTurnEnd, Round: round, Status: core.StatusFailed})
			a.emit(core.Event{Type: core.EventAgentEnd})
			return "", err
		}
		assistantPreview := util.Truncate(resp.Text(), 200)
		a.emit(core.Event{
			Type:        core.EventMessageEnd,
			Role:        core.RoleAssistant,
			Round:       round,
			TextPreview: assistantPreview,
		})

		assistant := resp.Message
		assistant.CreatedAt = time.Now().UTC()
		if err := a.store.Append(a.sessionID, assistant); err != nil {
			return a.abortRun(round, err)
		}
		if resp.Usage != nil {
			if err := a.store.UpdateHeader(a.sessionID, headerUsage(*resp.Usage)); err != nil {
				return a.abortRun(round, err)
			}
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			if followUp, ok := a.steering.PopFollowUp(); ok {
				if err := a.appendUserMessage(followUp, core.SourceFollowUp, round); err != nil {
					return a.abortRun(round, err)
				}
				a.emit(core.Event{
					Type:                    core.EventTurnEnd,
					Round:                   round,
					Status:                  core.StatusFollowUpInjected,
					AssistantMessagePreview: assistantPreview,
				})
				continue
			}
			a.emit(core.Event{
				Type:                    core.EventTurnEnd,
				Round:                   round,
				Status:                  core.StatusCompleted,
				AssistantMessagePreview: assistantPreview,
			})
			return a.finishRun(resp.Text()), nil
		}

		// Loop guard: the same assistant text + tool signature three rounds
		// in a row stops the run before another provider call.
		sig := roundSignature(resp.Text(), calls)
		if sig == lastSignature {
			repeatRounds++
		} else {
			repeatRounds = 1
			lastSignature = sig
		}
		if repeatRounds >= maxRepeatRounds {
			a.emit(core.Event{
				Type:                    core.EventTurnEnd,
				Round:                   round,
				Status:                  core.StatusLoopDetected,
				ToolCallsCount:          len(calls),
				AssistantMessagePreview: assistantPreview,
			})
			return a.finishRun(resp.Text()), nil
		}

		steered := false
		var resultPreviews []string
		for idx, call := range calls {
			if a.cancelled(ctx) {
				a.emit(core.Event{
					Type:                    core.EventTurnEnd,
					Round:                   round,
					Status:                  core.StatusCancelled,
					ToolCallsCount:          len(calls),
					AssistantMessagePreview: assistantPreview,
					ToolResultsPreview:      resultPreviews,
				})
				return a.finishRun(cancelledText), nil
			}

			// Steering check before each dispatch: a pending steer message
			// abandons this call and all remaining calls in the batch.
			if steerMsg, ok := a.steering.PopSteer(); ok {
				for _, skipped := range calls[idx:] {
					preview, err := a.recordSkippedCall(round, skipped)
					if err != nil {
						return a.abortRun(round, err)
					}
					resultPreviews = append(resultPreviews, preview)
				}
				if err := a.appendUserMessage(steerMsg, core.SourceSteer, round); err != nil {
					return a.abortRun(round, err)
				}
				steered = true
				break
			}

			preview, err := a.executeToolCall(ctx, round, call)
			if err != nil {
				return a.abortRun(round, err)
			}
			resultPreviews = append(resultPreviews, preview)
		}

		status := core.StatusToolCallsProcessed
		if steered {
			status = core.StatusSteered
		}
		a.emit(core.Event{
			Type:                    core.EventTurnEnd,
			Round:                   round,
			Status:                  status,
			ToolCallsCount:          len(calls),
			AssistantMessagePreview: assistantPreview,
			ToolResultsPreview:      resultPreviews,
		})
	}

	return a.finishRun("(agent stopped: too many tool rounds)"), nil
}

// prepareRound produces the provider message list: snapshot, hooks, context
// management (persisting any compaction), and the system prompt.
func (a *Agent) prepareRound(round int) ([]core.Message, error) {
	snap, err := a.store.Snapshot(a.sessionID)
	if err != nil {
		return nil, err
	}

	history := snap.Messages
	transformed := false
	if a.opts.TransformContext != nil {
		if h := a.opts.TransformContext(append([]core.Message(nil), history...)); h != nil {
			history = h
			transformed = true
		}
	}

	systemPrompt := a.prompts.Build(prompt.Params{
		Provider:      a.opts.Provider,
		Model:         a.modelID,
		WorkspaceDir:  a.workspaceDir,
		ToolSummaries: a.toolSummaries(),
	})
	if a.opts.BeforeTurn != nil {
		override, prepend := a.opts.BeforeTurn(a.sessionID, round, append([]core.Message(nil), history...), systemPrompt)
		if strings.TrimSpace(override) != "" {
			systemPrompt = override
		}
		if len(prepend) > 0 {
			history = append(append([]core.Message(nil), prepend...), history...)
			transformed = true
		}
	}

	view, comp := a.contextMgr.Prepare(history)
	if comp != nil && !transformed {
		// Keep the journal aligned with the compacted context.
		if err := a.store.ReplacePrefix(a.sessionID, comp.UpToIndex, comp.Summary); err != nil {
			return nil, err
		}
	}

	llmMessages := make([]core.Message, 0, len(view)+1)
	llmMessages = append(llmMessages, core.Message{Role: core.RoleSystem, Content: systemPrompt})
	llmMessages = append(llmMessages, view...)
	if a.opts.ConvertToLLM != nil {
		if converted := a.opts.ConvertToLLM(llmMessages); converted != nil {
			llmMessages = converted
		}
	}
	return llmMessages, nil
}

// completeWithRetry calls the provider with exponential backoff on transient
// failures. Backoff sleeps observe cancellation.
func (a *Agent) completeWithRetry(ctx context.Context, messages []core.Message, onTextDelta func(string)) (*model.Response, error) {
	req := model.Request{
		Model:         a.modelID,
		Messages:      messages,
		Tools:         a.toolDefinitions(),
		ThinkingLevel: a.opts.ThinkingLevel,
	}
	if onTextDelta != nil {
		req.OnTextDelta = func(delta string) {
			if delta == "" {
				return
			}
			onTextDelta(delta)
			a.emit(core.Event{Type: core.EventMessageUpdate, Role: core.RoleAssistant, Delta: delta})
		}
	}

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if a.opts.GetAPIKey != nil {
			req.APIKey = a.opts.GetAPIKey(a.opts.Provider)
		}
		resp, err := a.provider.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !model.IsTransient(err) || attempt >= a.opts.MaxRetries {
			return nil, err
		}
		delay := a.opts.RetryBaseDelay << attempt
		a.logger.Warn("agent.provider_retry",
			"session_id", a.sessionID, "attempt", attempt+1, "delay", delay.String(), "error", err.Error())
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		attempt++
	}
}

// executeToolCall dispatches one call and records its result message and
// span events. Dispatch failures become error-marked tool results; the loop
// continues.
func (a *Agent) executeToolCall(ctx context.Context, round int, call core.ToolCall) (string, error) {
	a.emit(core.Event{
		Type:       core.EventToolExecutionStart,
		Round:      round,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Args:       call.Arguments,
	})

	toolCtx := &tool.Context{
		Context:      ctx,
		SessionID:    a.sessionID,
		WorkspaceDir: a.workspaceDir,
		ToolCallID:   call.ID,
		OnProgress: func(text string) {
			a.emit(core.Event{
				Type:       core.EventToolExecutionUpdate,
				Round:      round,
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Partial:    text,
			})
		},
	}

	started := time.Now()
	result, dispatchErr := a.tools.Dispatch(toolCtx, call.Name, call.Arguments)
	if dispatchErr != nil {
		result = tool.ErrorResult(call.Name, dispatchErr)
	}
	a.logger.Debug("agent.tool_executed",
		"session_id", a.sessionID, "tool", call.Name, "duration_ms", time.Since(started).Milliseconds(),
		"error", dispatchErr != nil)

	truncated := a.truncateToolResult(result.Text)
	appendErr := a.store.Append(a.sessionID, core.NewToolMessage(call.ID, call.Name, truncated))

	preview := util.Truncate(truncated, 200)
	a.emit(core.Event{
		Type:          core.EventToolExecutionEnd,
		Round:         round,
		ToolCallID:    call.ID,
		ToolName:      call.Name,
		ResultPreview: preview,
		Details:       result.Details,
	})
	if appendErr != nil {
		return "", appendErr
	}
	return preview, nil
}

// recordSkippedCall emits the paired skipped events and appends the
// synthetic tool result for a call abandoned by steering.
func (a *Agent) recordSkippedCall(round int, call core.ToolCall) (string, error) {
	a.emit(core.Event{
		Type:       core.EventToolExecutionStart,
		Round:      round,
		ToolCallID: call.ID,
		ToolName:   call.Name,
		Args:       call.Arguments,
	})
	msg := core.NewToolMessage(call.ID, call.Name, SkippedDueToSteer)
	msg.Source = core.SourceSkipped
	appendErr := a.store.Append(a.sessionID, msg)
	preview := util.Truncate(SkippedDueToSteer, 200)
	a.emit(core.Event{
		Type:          core.EventToolExecutionEnd,
		Round:         round,
		ToolCallID:    call.ID,
		ToolName:      call.Name,
		ResultPreview: preview,
		Skipped:       true,
	})
	if appendErr != nil {
		return "", appendErr
	}
	return preview, nil
}

// appendUserMessage appends a user message (optionally tagged with a
// steering source) bracketed by message events.
func (a *Agent) appendUserMessage(content, source string, round int) error {
	a.emit(core.Event{Type: core.EventMessageStart, Role: core.RoleUser, Source: source, Round: round})
	msg := core.NewUserMessage(content)
	msg.Source = source
	appendErr := a.store.Append(a.sessionID, msg)
	a.emit(core.Event{
		Type:        core.EventMessageEnd,
		Role:        core.RoleUser,
		Source:      source,
		Round:       round,
		TextPreview: util.Truncate(content, 200),
	})
	return appendErr
}

func (a *Agent) cancelled(ctx context.Context) bool {
	return ctx.Err() != nil || a.steering.Cancelled()
}

func (a *Agent) finishRun(text string) string {
	a.emit(core.Event{Type: core.EventAgentEnd, FinalText: text})
	return text
}

// abortRun closes the event stream after a storage failure and propagates
// the error.
func (a *Agent) abortRun(round int, err error) (string, error) {
	a.logger.Error("agent.run_aborted", "session_id", a.sessionID, "round", round, "error", err.Error())
	a.emit(core.Event{Type: core.EventTurnEnd, Round: round, Status: core.StatusFailed})
	a.emit(core.Event{Type: core.EventAgentEnd})
	return "", err
}

func (a *Agent) emit(ev core.Event) { a.bus.Emit(ev) }

func (a *Agent) toolDefinitions() []model.ToolDefinition {
	tools := a.tools.List()
	defs := make([]model.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, model.ToolDefinition{
			Type: "function",
			Function: model.FunctionDefinition{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}

func (a *Agent) toolSummaries() []prompt.ToolSummary {
	tools := a.tools.List()
	summaries := make([]prompt.ToolSummary, 0, len(tools))
	for _, t := range tools {
		summaries = append(summaries, prompt.ToolSummary{Name: t.Name(), Description: t.Description()})
	}
	return summaries
}

// roundSignature is the loop-guard key: assistant text hash plus the
// ordered (name, args) tuple of the batch.
func roundSignature(text string, calls []core.ToolCall) string {
	var b strings.Builder
	sum := sha256.Sum256([]byte(text))
	b.WriteString(hex.EncodeToString(sum[:8]))
	for _, call := range calls {
		b.WriteString("|")
		b.WriteString(call.Name)
		b.WriteString(":")
		b.WriteString(call.Arguments)
	}
	return b.String()
}

func headerUsage(u core.Usage) session.HeaderPatch {
	return session.HeaderPatch{AddUsage: &u}
}

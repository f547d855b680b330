package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentspine/contextmgr"
	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/lane"
	"github.com/hupe1980/agentspine/model"
)

func TestCompactionRewritesJournal(t *testing.T) {
	provider := &fakeProvider{script: []func(model.Request) (*model.Response, error){textStep("ok")}}
	a := newTestAgent(t, provider, nil, func(o *Options) {
		o.Context = contextmgr.Config{
			Mode:                contextmgr.ModeChars,
			MaxChars:            200,
			CompactTriggerChars: 300,
			KeepLastMessages:    2,
			CompactKeepTail:     2,
		}
	})

	// Twenty synthetic turns summing to ~1000 chars.
	for i := 0; i < 20; i++ {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		msg := core.Message{Role: role, Content: fmt.Sprintf("synthetic message %02d %s", i, strings.Repeat("x", 28))}
		require.NoError(t, a.store.Append(a.SessionID(), msg))
	}

	_, err := a.Chat(context.Background(), "next")
	require.NoError(t, err)

	snap, err := a.store.Snapshot(a.SessionID())
	require.NoError(t, err)

	// Prefix replaced by exactly one compaction summary, followed by the
	// kept tail, the injected user message already among it, and the final
	// assistant reply.
	require.NotEmpty(t, snap.Messages)
	summary := snap.Messages[0]
	assert.Equal(t, core.SourceCompaction, summary.Source)
	assert.Equal(t, core.RoleSystem, summary.Role)
	assert.Contains(t, summary.Content, "[Compacted conversation summary]")
	require.Len(t, snap.Messages, 4) // summary + 2 tail + assistant reply
	for _, msg := range snap.Messages[1:] {
		assert.NotEqual(t, core.SourceCompaction, msg.Source)
	}

	// The provider saw the compacted view under the budget (system prompt
	// excluded from the measure).
	req := provider.request(0)
	total := 0
	for _, msg := range req.Messages[1:] {
		total += len(msg.Content)
	}
	assert.LessOrEqual(t, total, 200)
}

func TestLaneSerializationSameSession(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)
	provider := &fakeProvider{script: []func(model.Request) (*model.Response, error){
		func(model.Request) (*model.Response, error) {
			started <- struct{}{}
			<-release
			return &model.Response{Message: core.Message{Role: core.RoleAssistant, Content: "slow"}}, nil
		},
		textStep("fast"),
	}}
	rec := &eventRecorder{}
	a := newTestAgent(t, provider, rec)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := a.Chat(context.Background(), "first")
		assert.NoError(t, err)
	}()
	// Ensure the first run holds the lane before the second submits.
	<-started
	go func() {
		defer wg.Done()
		_, err := a.Chat(context.Background(), "second")
		assert.NoError(t, err)
	}()

	// The second run must not have started: its agent_start would follow
	// the first's agent_end.
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, rec.ofType(core.EventAgentStart), 1)

	close(release)
	wg.Wait()

	var sequence []string
	for _, ev := range rec.all() {
		if ev.Type == core.EventAgentStart || ev.Type == core.EventAgentEnd {
			sequence = append(sequence, ev.Type)
		}
	}
	assert.Equal(t, []string{
		core.EventAgentStart, core.EventAgentEnd,
		core.EventAgentStart, core.EventAgentEnd,
	}, sequence)
}

func TestLaneOverlapAcrossSessions(t *testing.T) {
	queue := lane.NewQueue(2)
	inFlight := make(chan struct{}, 2)
	bothRunning := make(chan struct{})
	var once sync.Once

	slowStep := func(model.Request) (*model.Response, error) {
		inFlight <- struct{}{}
		if len(inFlight) == 2 {
			once.Do(func() { close(bothRunning) })
		}
		select {
		case <-bothRunning:
		case <-time.After(2 * time.Second):
		}
		<-inFlight
		return &model.Response{Message: core.Message{Role: core.RoleAssistant, Content: "done"}}, nil
	}

	a1 := newTestAgent(t, &fakeProvider{script: []func(model.Request) (*model.Response, error){slowStep}}, nil,
		func(o *Options) { o.LaneQueue = queue })
	a2 := newTestAgent(t, &fakeProvider{script: []func(model.Request) (*model.Response, error){slowStep}}, nil,
		func(o *Options) { o.LaneQueue = queue })

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = a1.Chat(context.Background(), "a") }()
	go func() { defer wg.Done(); _, _ = a2.Chat(context.Background(), "b") }()
	wg.Wait()

	select {
	case <-bothRunning:
	default:
		t.Fatal("expected both sessions to run concurrently under max_concurrent=2")
	}
}

func TestLaneWaitEventEmitted(t *testing.T) {
	release := make(chan struct{})
	provider := &fakeProvider{script: []func(model.Request) (*model.Response, error){
		func(model.Request) (*model.Response, error) {
			<-release
			return &model.Response{Message: core.Message{Role: core.RoleAssistant, Content: "one"}}, nil
		},
		textStep("two"),
	}}
	rec := &eventRecorder{}
	a := newTestAgent(t, provider, rec, func(o *Options) {
		o.LaneWarnWait = 10 * time.Millisecond
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _, _ = a.Chat(context.Background(), "first") }()
	time.Sleep(30 * time.Millisecond)
	go func() { defer wg.Done(); _, _ = a.Chat(context.Background(), "second") }()
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	waits := rec.ofType(core.EventLaneWait)
	require.NotEmpty(t, waits)
	assert.Greater(t, waits[0].WaitMillis, int64(0))

	snap, err := a.store.Snapshot(a.SessionID())
	require.NoError(t, err)
	var noticed bool
	for _, msg := range snap.Messages {
		if strings.Contains(msg.Content, "Lane wait detected") {
			noticed = true
		}
	}
	assert.True(t, noticed)
}

func TestBeforeTurnHookOverridesPrompt(t *testing.T) {
	provider := &fakeProvider{script: []func(model.Request) (*model.Response, error){textStep("ok")}}
	a := newTestAgent(t, provider, nil, func(o *Options) {
		o.BeforeTurn = func(sessionID string, round int, messages []core.Message, systemPrompt string) (string, []core.Message) {
			return "OVERRIDDEN PROMPT", []core.Message{{Role: core.RoleUser, Content: "prepended"}}
		}
	})

	_, err := a.Chat(context.Background(), "hello")
	require.NoError(t, err)

	req := provider.request(0)
	require.NotEmpty(t, req.Messages)
	assert.Equal(t, core.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "OVERRIDDEN PROMPT", req.Messages[0].Content)
	assert.Equal(t, "prepended", req.Messages[1].Content)
}

func TestConvertToLLMHook(t *testing.T) {
	provider := &fakeProvider{script: []func(model.Request) (*model.Response, error){textStep("ok")}}
	a := newTestAgent(t, provider, nil, func(o *Options) {
		o.ConvertToLLM = func(messages []core.Message) []core.Message {
			for i := range messages {
				if messages[i].Role == core.RoleUser {
					messages[i].Content = strings.ToUpper(messages[i].Content)
				}
			}
			return messages
		}
	})

	_, err := a.Chat(context.Background(), "hello")
	require.NoError(t, err)

	req := provider.request(0)
	var found bool
	for _, msg := range req.Messages {
		if msg.Role == core.RoleUser {
			assert.Equal(t, "HELLO", msg.Content)
			found = true
		}
	}
	assert.True(t, found)
}

func TestGetAPIKeyResolver(t *testing.T) {
	provider := &fakeProvider{script: []func(model.Request) (*model.Response, error){textStep("ok")}}
	a := newTestAgent(t, provider, nil, func(o *Options) {
		o.GetAPIKey = func(providerName string) string { return "key-for-" + providerName }
	})

	_, err := a.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "key-for-openai", provider.request(0).APIKey)
}

func TestToolResultTruncation(t *testing.T) {
	big := strings.Repeat("a", 10_000)
	provider := &fakeProvider{script: []func(model.Request) (*model.Response, error){
		toolStep("", core.ToolCall{ID: "c1", Name: "echo", Arguments: fmt.Sprintf(`{"x":%q}`, big)}),
		textStep("ok"),
	}}
	a := newTestAgent(t, provider, nil)

	_, err := a.Chat(context.Background(), "go")
	require.NoError(t, err)

	snap, err := a.store.Snapshot(a.SessionID())
	require.NoError(t, err)
	var toolMsg core.Message
	for _, msg := range snap.Messages {
		if msg.Role == core.RoleTool {
			toolMsg = msg
		}
	}
	assert.Less(t, len(toolMsg.Content), 10_000)
	assert.Contains(t, toolMsg.Content, "output truncated")
}

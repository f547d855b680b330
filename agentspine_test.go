package agentspine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentspine/agent"
	"github.com/hupe1980/agentspine/core"
	"github.com/hupe1980/agentspine/model"
)

type cannedProvider struct{ text string }

func (p *cannedProvider) Name() string { return "canned" }

func (p *cannedProvider) Complete(_ context.Context, _ model.Request) (*model.Response, error) {
	return &model.Response{Message: core.Message{Role: core.RoleAssistant, Content: p.text}}, nil
}

func TestSpine_AgentsShareInfrastructure(t *testing.T) {
	dir := t.TempDir()
	var events []core.Event
	spine, err := New(func(o *Options) {
		o.SessionsDir = dir
		o.OnEvent = func(ev core.Event) { events = append(events, ev) }
	})
	require.NoError(t, err)

	a1, err := spine.Agent(func(o *agent.Options) {
		o.ProviderImpl = &cannedProvider{text: "one"}
		o.SessionID = "shared-session"
		o.EnableOrchestration = false
	})
	require.NoError(t, err)

	reply, err := a1.Chat(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "one", reply)
	assert.NotEmpty(t, events)

	// A second agent bound to the same session sees its history through the
	// shared store.
	a2, err := spine.Agent(func(o *agent.Options) {
		o.ProviderImpl = &cannedProvider{text: "two"}
		o.SessionID = "shared-session"
		o.EnableOrchestration = false
	})
	require.NoError(t, err)
	_, err = a2.Chat(context.Background(), "again")
	require.NoError(t, err)

	snap, err := spine.store.Snapshot("shared-session")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 4)
}

func TestSpine_SubagentsAccessor(t *testing.T) {
	spine, err := New(func(o *Options) { o.SessionsDir = t.TempDir() })
	require.NoError(t, err)
	assert.NotNil(t, spine.Subagents())
}

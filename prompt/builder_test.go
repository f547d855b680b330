package prompt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuild_ContainsSections(t *testing.T) {
	b := New()
	out := b.Build(Params{
		Provider:     "openai",
		Model:        "gpt-4o",
		WorkspaceDir: "/tmp/ws",
		Now:          time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC),
		ToolSummaries: []ToolSummary{
			{Name: "read_file", Description: "Read a file."},
			{Name: "run_cmd", Description: "Run a command."},
		},
	})

	assert.Contains(t, out, "## Identity")
	assert.Contains(t, out, "## Tooling")
	assert.Contains(t, out, "- read_file: Read a file.")
	assert.Contains(t, out, "- run_cmd: Run a command.")
	assert.Contains(t, out, "## Workspace and Runtime")
	assert.Contains(t, out, "/tmp/ws")
	assert.Contains(t, out, "openai/gpt-4o")
	assert.Contains(t, out, "## Safety")
	// Day granularity only: no clock time in the prompt.
	assert.Contains(t, out, "2025-03-14")
	assert.NotContains(t, out, "15:09")
}

func TestBuild_StableAcrossCalls(t *testing.T) {
	b := New()
	params := Params{
		Provider:     "anthropic",
		Model:        "claude",
		WorkspaceDir: "/ws",
		Now:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, b.Build(params), b.Build(params))
}

func TestBuild_RoleOverridesIdentity(t *testing.T) {
	b := &Builder{Role: "You are a database migration assistant."}
	out := b.Build(Params{Provider: "openai", Model: "m", WorkspaceDir: "/ws"})
	assert.Contains(t, out, "You are a database migration assistant.")
	assert.NotContains(t, out, "reactive coding agent")
}

func TestBuild_ToolOutputBudget(t *testing.T) {
	b := &Builder{MaxToolOutputChars: 1234}
	out := b.Build(Params{Provider: "p", Model: "m", WorkspaceDir: "/ws"})
	assert.Contains(t, out, "1234")
}

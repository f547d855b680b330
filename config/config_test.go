package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/agentspine/agent"
	"github.com/hupe1980/agentspine/contextmgr"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, "openai", cfg.Provider)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBaseDelay)
	assert.Equal(t, 4, cfg.MaxConcurrent)
	assert.Equal(t, 1200*time.Millisecond, cfg.LaneWarnWait)
	assert.Equal(t, contextmgr.ModeChars, cfg.Context.Mode)
	assert.Equal(t, 2, cfg.Subagents.MaxDepth)
	assert.Equal(t, time.Duration(0), cfg.Subagents.RunTimeout)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "Anthropic")
	t.Setenv("AGENT_MODEL", "claude-x")
	t.Setenv("AGENT_MAX_RETRIES", "5")
	t.Setenv("AGENT_RETRY_BASE_SECONDS", "0.5")
	t.Setenv("AGENT_MAX_CONCURRENT", "8")
	t.Setenv("AGENT_LANE_WARN_WAIT_MS", "250")
	t.Setenv("AGENT_CONTEXT_MODE", "tokens")
	t.Setenv("AGENT_MAX_TOKENS", "9000")
	t.Setenv("AGENT_SUBAGENT_MAX_DEPTH", "3")
	t.Setenv("AGENT_SUBAGENT_RUN_TIMEOUT_SECONDS", "90")
	t.Setenv("AGENT_SUBAGENT_ANNOUNCE_COMPLETION", "true")

	cfg := FromEnv()
	assert.Equal(t, "anthropic", cfg.Provider)
	assert.Equal(t, "claude-x", cfg.Model)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 8, cfg.MaxConcurrent)
	assert.Equal(t, 250*time.Millisecond, cfg.LaneWarnWait)
	assert.Equal(t, contextmgr.ModeTokens, cfg.Context.Mode)
	assert.Equal(t, 9000, cfg.Context.MaxTokens)
	assert.Equal(t, 3, cfg.Subagents.MaxDepth)
	assert.Equal(t, 90*time.Second, cfg.Subagents.RunTimeout)
	assert.True(t, cfg.Subagents.AnnounceCompletion)
}

func TestFromEnv_LogFormat(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, LogFormatText, cfg.LogFormat)

	t.Setenv("AGENT_LOG_FORMAT", "Zerolog")
	cfg = FromEnv()
	assert.Equal(t, LogFormatZerolog, cfg.LogFormat)
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer

	cfg := Config{LogFormat: LogFormatZerolog}
	logger := cfg.NewLogger(&buf)
	logger.Info("ping", "k", "v")
	assert.Contains(t, buf.String(), `"message":"ping"`)
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	cfg = Config{LogFormat: LogFormatJSON}
	cfg.NewLogger(&buf).Info("ping")
	assert.Contains(t, buf.String(), `"msg":"ping"`)

	buf.Reset()
	cfg = Config{LogFormat: LogFormatText}
	cfg.NewLogger(&buf).Info("ping")
	assert.Contains(t, buf.String(), "msg=ping")
}

func TestFromEnv_IgnoresGarbage(t *testing.T) {
	t.Setenv("AGENT_MAX_RETRIES", "not-a-number")
	t.Setenv("AGENT_SUBAGENT_ANNOUNCE_COMPLETION", "maybe")
	cfg := FromEnv()
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.False(t, cfg.Subagents.AnnounceCompletion)
}

func TestApply(t *testing.T) {
	t.Setenv("AGENT_PROVIDER", "anthropic")
	t.Setenv("AGENT_MODEL", "claude-x")
	cfg := FromEnv()

	var o agent.Options
	cfg.Apply(&o)
	assert.Equal(t, "anthropic", o.Provider)
	assert.Equal(t, "claude-x", o.Model)
	assert.Equal(t, cfg.Context, o.Context)
	assert.Equal(t, cfg.Subagents, o.Subagents)
}

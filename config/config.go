// Package config parses agent configuration from the environment. It is a
// collaborator of the core: the runtime itself only consumes the immutable
// agent.Options value this package produces.
package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hupe1980/agentspine/agent"
	"github.com/hupe1980/agentspine/contextmgr"
	"github.com/hupe1980/agentspine/logging"
	"github.com/hupe1980/agentspine/subagent"
)

// Log formats understood by the CLI when building a logger.
const (
	LogFormatText    = "text"
	LogFormatJSON    = "json"
	LogFormatZerolog = "zerolog"
)

// Config mirrors the AGENT_* environment surface.
type Config struct {
	Provider      string
	Model         string
	SessionsDir   string
	ThinkingLevel string

	// LogFormat selects the logging backend (text, json, or zerolog) used
	// by the CLI when logging is enabled.
	LogFormat string

	MaxRetries     int
	RetryBaseDelay time.Duration

	MaxConcurrent int
	LaneWarnWait  time.Duration

	Context   contextmgr.Config
	Subagents subagent.Options
}

// FromEnv reads AGENT_* variables, applying the documented defaults for
// anything unset.
func FromEnv() Config {
	cfg := Config{
		Provider:      strings.ToLower(envString("AGENT_PROVIDER", "openai")),
		Model:         envString("AGENT_MODEL", ""),
		SessionsDir:   envString("AGENT_SESSIONS_DIR", ""),
		ThinkingLevel: strings.ToLower(envString("AGENT_THINKING_LEVEL", "off")),
		LogFormat:     strings.ToLower(envString("AGENT_LOG_FORMAT", LogFormatText)),

		MaxRetries:     envInt("AGENT_MAX_RETRIES", 2),
		RetryBaseDelay: time.Duration(envFloat("AGENT_RETRY_BASE_SECONDS", 1.0) * float64(time.Second)),

		MaxConcurrent: envInt("AGENT_MAX_CONCURRENT", 4),
		LaneWarnWait:  time.Duration(envInt("AGENT_LANE_WARN_WAIT_MS", 1200)) * time.Millisecond,

		Context: contextmgr.Config{
			Mode:                 strings.ToLower(envString("AGENT_CONTEXT_MODE", contextmgr.ModeChars)),
			MaxChars:             envInt("AGENT_MAX_CHARS", contextmgr.DefaultMaxChars),
			MaxTokens:            envInt("AGENT_MAX_TOKENS", contextmgr.DefaultMaxTokens),
			CompactTriggerChars:  envInt("AGENT_COMPACT_TRIGGER_CHARS", contextmgr.DefaultCompactTriggerChars),
			CompactTriggerTokens: envInt("AGENT_COMPACT_TRIGGER_TOKENS", contextmgr.DefaultCompactTriggerTokens),
			KeepLastMessages:     envInt("AGENT_KEEP_LAST_MESSAGES", contextmgr.DefaultKeepLastMessages),
			CompactKeepTail:      envInt("AGENT_COMPACT_KEEP_TAIL", contextmgr.DefaultCompactKeepTail),
		},
		Subagents: subagent.Options{
			MaxDepth:           envInt("AGENT_SUBAGENT_MAX_DEPTH", 2),
			MaxWorkers:         envInt("AGENT_SUBAGENT_MAX_WORKERS", 2),
			RunTimeout:         time.Duration(envInt("AGENT_SUBAGENT_RUN_TIMEOUT_SECONDS", 0)) * time.Second,
			AnnounceCompletion: envBool("AGENT_SUBAGENT_ANNOUNCE_COMPLETION", false),
			EventBufferSize:    envInt("AGENT_SUBAGENT_EVENT_BUFFER", subagent.DefaultEventBufferSize),
		},
	}
	return cfg
}

// Apply copies the config onto an agent.Options value; use as an option
// function for agent.New.
func (c Config) Apply(o *agent.Options) {
	o.Provider = c.Provider
	o.Model = c.Model
	o.SessionsDir = c.SessionsDir
	o.ThinkingLevel = c.ThinkingLevel
	o.MaxRetries = c.MaxRetries
	o.RetryBaseDelay = c.RetryBaseDelay
	o.MaxConcurrent = c.MaxConcurrent
	o.LaneWarnWait = c.LaneWarnWait
	o.Context = c.Context
	o.Subagents = c.Subagents
}

// NewLogger builds a Logger writing to w in the configured format: zerolog
// for hosts standardized on it, otherwise slog with a text or JSON handler.
func (c Config) NewLogger(w io.Writer) logging.Logger {
	switch c.LogFormat {
	case LogFormatZerolog:
		return logging.NewZerologAdapter(zerolog.New(w).With().Timestamp().Logger())
	case LogFormatJSON:
		return logging.NewSlogAdapter(slog.New(slog.NewJSONHandler(w, nil)))
	default:
		return logging.NewSlogAdapter(slog.New(slog.NewTextHandler(w, nil)))
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

// Command agentspine is a small CLI front-end for the agent runtime: it
// wires configuration from the environment, creates one session, and runs a
// one-shot or interactive conversation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hupe1980/agentspine/agent"
	"github.com/hupe1980/agentspine/config"
	"github.com/hupe1980/agentspine/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		provider  string
		modelID   string
		sessionID string
		workspace string
		stream    bool
		verbose   bool
		logFormat string
	)

	cmd := &cobra.Command{
		Use:   "agentspine [prompt]",
		Short: "Run a reactive agent session",
		Long: "Runs a single agent session against the configured provider. " +
			"With a prompt argument the agent answers once and exits; without " +
			"one it reads prompts interactively from stdin.",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = godotenv.Load()
			cfg := config.FromEnv()
			if provider != "" {
				cfg.Provider = strings.ToLower(provider)
			}
			if modelID != "" {
				cfg.Model = modelID
			}
			if logFormat != "" {
				cfg.LogFormat = strings.ToLower(logFormat)
			}

			logger := logging.Logger(logging.NoOpLogger{})
			if verbose {
				logger = cfg.NewLogger(os.Stderr)
			}

			a, err := agent.New(cfg.Apply, func(o *agent.Options) {
				o.SessionID = sessionID
				o.WorkspaceDir = workspace
				o.Logger = logger
			})
			if err != nil {
				return err
			}

			if len(args) > 0 {
				return runOnce(cmd.Context(), a, strings.Join(args, " "), stream)
			}
			return runInteractive(cmd.Context(), a, stream)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "provider (openai or anthropic)")
	cmd.Flags().StringVar(&modelID, "model", "", "model id override")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated when empty)")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace directory (defaults to cwd)")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream assistant text as it arrives")
	cmd.Flags().BoolVar(&verbose, "verbose", false, "log runtime details to stderr")
	cmd.Flags().StringVar(&logFormat, "log-format", "", "log format with --verbose: text, json, or zerolog (default from AGENT_LOG_FORMAT)")
	return cmd
}

func runOnce(ctx context.Context, a *agent.Agent, prompt string, stream bool) error {
	reply, err := chat(ctx, a, prompt, stream)
	if err != nil {
		return err
	}
	if !stream {
		fmt.Println(reply)
	}
	return nil
}

func runInteractive(ctx context.Context, a *agent.Agent, stream bool) error {
	fmt.Printf("session: %s (ctrl-d to exit)\n", a.SessionID())
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, err := chat(ctx, a, line, stream)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}
		if !stream {
			fmt.Println(reply)
		}
	}
}

func chat(ctx context.Context, a *agent.Agent, prompt string, stream bool) (string, error) {
	if stream {
		reply, err := a.ChatStream(ctx, prompt, func(delta string) {
			fmt.Print(delta)
		})
		fmt.Println()
		return reply, err
	}
	return a.Chat(ctx, prompt)
}

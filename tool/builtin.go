package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Limits for the built-in tools.
const (
	webFetchMaxChars       = 80_000
	webFetchTimeout        = 15 * time.Second
	runCmdTimeout          = 30 * time.Second
	webFetchUserAgent      = "agentspine/1.0 (web_fetch)"
	truncationMarkerFormat = "\n\n...[truncated: %d chars omitted for context]..."
)

// Builtins returns the standard tool set: file I/O, directory listing,
// shell execution and web fetch.
func Builtins() []Tool {
	return []Tool{
		readFileTool(),
		writeFileTool(),
		listDirectoryTool(),
		runCmdTool(),
		webFetchTool(),
	}
}

func readFileTool() Tool {
	return NewFunctionTool(
		"read_file",
		"Read the full contents of a file at the given path.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Absolute or relative file path to read."},
			},
			"required": []string{"path"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			path := resolvePath(tc, stringArg(args, "path"))
			info, err := os.Stat(path)
			if err != nil || info.IsDir() {
				return fmt.Sprintf("Error: file not found: %s", path), nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Sprintf("Error reading %s: %v", path, err), nil
			}
			return string(data), nil
		},
	)
}

func writeFileTool() Tool {
	return NewFunctionTool(
		"write_file",
		"Write content to a file. Creates parent directories if they don't exist.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "File path to write to."},
				"content": map[string]any{"type": "string", "description": "Content to write into the file."},
			},
			"required": []string{"path", "content"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			path := resolvePath(tc, stringArg(args, "path"))
			content := stringArg(args, "content")
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Sprintf("Error writing %s: %v", path, err), nil
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Sprintf("Error writing %s: %v", path, err), nil
			}
			return fmt.Sprintf("OK: wrote %d chars to %s", len(content), path), nil
		},
	)
}

func listDirectoryTool() Tool {
	return NewFunctionTool(
		"list_directory",
		"List files and subdirectories at the given path.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Directory path to list. Defaults to the workspace root."},
			},
		},
		func(tc *Context, args map[string]any) (any, error) {
			path := stringArg(args, "path")
			if path == "" {
				path = "."
			}
			path = resolvePath(tc, path)
			entries, err := os.ReadDir(path)
			if err != nil {
				return fmt.Sprintf("Error: not a directory: %s", path), nil
			}
			sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
			var lines []string
			for _, entry := range entries {
				prefix := "f "
				if entry.IsDir() {
					prefix = "d "
				}
				lines = append(lines, prefix+entry.Name())
			}
			if len(lines) == 0 {
				return "(empty directory)", nil
			}
			return strings.Join(lines, "\n"), nil
		},
	)
}

func runCmdTool() Tool {
	return NewFunctionTool(
		"run_cmd",
		"Execute a shell command and return its stdout, stderr, and exit code.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "description": "Shell command to execute."},
				"cwd":     map[string]any{"type": "string", "description": "Working directory for the command. Defaults to the workspace root."},
			},
			"required": []string{"command"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			command := stringArg(args, "command")
			workDir := stringArg(args, "cwd")
			if workDir == "" {
				workDir = tc.WorkspaceDir
			}
			ctx, cancel := contextWithTimeout(tc, runCmdTimeout)
			defer cancel()

			cmd := exec.CommandContext(ctx, "sh", "-c", command)
			cmd.Dir = workDir
			var stdout, stderr strings.Builder
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			err := cmd.Run()
			if ctx.Err() != nil {
				return fmt.Sprintf("Error: command timed out (%s limit)", runCmdTimeout), nil
			}

			exitCode := 0
			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok {
					exitCode = exitErr.ExitCode()
				} else {
					return fmt.Sprintf("Error running command: %v", err), nil
				}
			}
			var parts []string
			if stdout.Len() > 0 {
				parts = append(parts, stdout.String())
			}
			if stderr.Len() > 0 {
				parts = append(parts, "[stderr]\n"+stderr.String())
			}
			parts = append(parts, fmt.Sprintf("[exit code: %d]", exitCode))
			return strings.Join(parts, "\n"), nil
		},
	)
}

func webFetchTool() Tool {
	return NewFunctionTool(
		"web_fetch",
		"Fetch the content of a URL (http/https) and return it as text. "+
			"Use this to read a web page or API response when you don't have a search API.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url":       map[string]any{"type": "string", "description": "Full URL to fetch (e.g. https://example.com/page)."},
				"max_chars": map[string]any{"type": "integer", "description": "Maximum characters to return; response is truncated if longer. Default 80000."},
			},
			"required": []string{"url"},
		},
		func(tc *Context, args map[string]any) (any, error) {
			rawURL := strings.TrimSpace(stringArg(args, "url"))
			if rawURL == "" {
				return "Error: url is required and must be non-empty.", nil
			}
			parsed, err := url.Parse(rawURL)
			if err != nil || parsed.Scheme == "" || parsed.Host == "" {
				return fmt.Sprintf("Error: invalid url (missing scheme or host): %s", rawURL), nil
			}
			if parsed.Scheme != "http" && parsed.Scheme != "https" {
				return fmt.Sprintf("Error: only http and https are allowed; got scheme: %s", parsed.Scheme), nil
			}
			maxChars := intArg(args, "max_chars", webFetchMaxChars)

			ctx, cancel := contextWithTimeout(tc, webFetchTimeout)
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return fmt.Sprintf("Error fetching %s: %v", rawURL, err), nil
			}
			req.Header.Set("User-Agent", webFetchUserAgent)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					return fmt.Sprintf("Error: request timed out (%s) for %s", webFetchTimeout, rawURL), nil
				}
				return fmt.Sprintf("Error: request failed for %s: %v", rawURL, err), nil
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Sprintf("Error: HTTP %d %s for %s", resp.StatusCode, http.StatusText(resp.StatusCode), rawURL), nil
			}
			body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)*4))
			if err != nil {
				return fmt.Sprintf("Error fetching %s: %v", rawURL, err), nil
			}
			text := decodeBody(body)
			if len(text) <= maxChars {
				return text, nil
			}
			keep := maxChars - 200
			if keep <= 0 {
				keep = maxChars
			}
			omitted := len(text) - keep
			return text[:keep] + fmt.Sprintf(truncationMarkerFormat, omitted), nil
		},
	)
}

// decodeBody keeps charset handling minimal: non-UTF8 bodies get a lossy
// conversion, which is fine for context material.
func decodeBody(body []byte) string {
	return strings.ToValidUTF8(string(body), "�")
}

func resolvePath(tc *Context, path string) string {
	if path == "" {
		return tc.WorkspaceDir
	}
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	if !filepath.IsAbs(path) && tc.WorkspaceDir != "" {
		path = filepath.Join(tc.WorkspaceDir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]any, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	}
	return fallback
}

func contextWithTimeout(tc *Context, d time.Duration) (context.Context, context.CancelFunc) {
	parent := tc.Context
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, d)
}

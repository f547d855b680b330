// Package prompt assembles the per-turn system prompt from a stable template
// parameterized by workspace, provider/model, wall clock (day granularity)
// and a caller-provided role block.
package prompt

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultMaxToolOutputChars bounds tool results referenced by the safety
// section of the prompt.
const DefaultMaxToolOutputChars = 8000

// ToolSummary is the (name, description) pair listed in the tooling section.
type ToolSummary struct {
	Name        string
	Description string
}

// Params carries the per-turn template inputs.
type Params struct {
	Provider      string
	Model         string
	WorkspaceDir  string
	Now           time.Time
	ToolSummaries []ToolSummary
}

// Builder renders the system prompt. The zero value is usable; Role replaces
// the default identity block when set.
type Builder struct {
	// Role is an optional caller-supplied identity block.
	Role string
	// MaxToolOutputChars is referenced in the safety guidance.
	MaxToolOutputChars int
}

// New returns a Builder with the default output budget.
func New() *Builder {
	return &Builder{MaxToolOutputChars: DefaultMaxToolOutputChars}
}

// Build renders the full system prompt.
func (b *Builder) Build(p Params) string {
	maxOut := b.MaxToolOutputChars
	if maxOut <= 0 {
		maxOut = DefaultMaxToolOutputChars
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now()
	}

	var sections []string
	sections = append(sections, b.identitySection()...)
	sections = append(sections, toolingSection(p.ToolSummaries)...)
	sections = append(sections, workspaceSection(p, now)...)
	sections = append(sections, safetySection(maxOut)...)
	return strings.TrimSpace(strings.Join(sections, "\n"))
}

func (b *Builder) identitySection() []string {
	if strings.TrimSpace(b.Role) != "" {
		return []string{"## Identity", strings.TrimSpace(b.Role), ""}
	}
	return []string{
		"## Identity",
		"You are a reactive coding agent.",
		"Work step-by-step with tools and return concise final answers.",
		"",
	}
}

func toolingSection(summaries []ToolSummary) []string {
	lines := []string{
		"## Tooling",
		"Use tools when file or shell operations are needed.",
		"Prefer reading before writing and avoid guessing file paths.",
		"Available tools:",
	}
	for _, s := range summaries {
		lines = append(lines, fmt.Sprintf("- %s: %s", s.Name, s.Description))
	}
	lines = append(lines, "")
	return lines
}

func workspaceSection(p Params, now time.Time) []string {
	cwd := p.WorkspaceDir
	if abs, err := filepath.Abs(cwd); err == nil {
		cwd = abs
	}
	return []string{
		"## Workspace and Runtime",
		fmt.Sprintf("- Workspace root: %s", cwd),
		fmt.Sprintf("- Provider/model: %s/%s", p.Provider, p.Model),
		fmt.Sprintf("- OS: %s/%s", runtime.GOOS, runtime.GOARCH),
		fmt.Sprintf("- Date: %s", now.Format("2006-01-02")),
		"",
	}
}

func safetySection(maxToolOutputChars int) []string {
	return []string{
		"## Safety",
		"- For destructive actions, explain intent clearly before executing.",
		"- Keep command outputs concise and summarize key results.",
		fmt.Sprintf("- If a tool output is very long, keep the most relevant parts (target <= %d chars).", maxToolOutputChars),
		"",
	}
}

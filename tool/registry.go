package tool

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/hupe1980/agentspine/logging"
)

// Registry resolves tool names to handlers and dispatches calls with schema
// validation. Registration order is preserved for prompt and descriptor
// listings. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	order  []string
	logger logging.Logger
}

// NewRegistry builds a registry over the given tools, in order. Later
// registrations win on name collision.
func NewRegistry(logger logging.Logger, tools ...Tool) *Registry {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	r := &Registry{tools: map[string]Tool{}, logger: logger}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any prior tool with the same name. It
// reports whether a collision occurred.
func (r *Registry) Register(t Tool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := t.Name()
	_, collided := r.tools[name]
	if !collided {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
	if collided {
		r.logger.Warn("tool.register.collision", "tool", name)
	}
	return collided
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the registered tools in registration order.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Dispatch resolves name, parses and validates argsJSON against the tool's
// schema, executes the handler, and normalizes the outcome into a Result.
// All failure paths return a *Error; handler panics are recovered and
// reported as execution errors.
func (r *Registry) Dispatch(toolCtx *Context, name, argsJSON string) (result Result, err error) {
	t, ok := r.Lookup(name)
	if !ok {
		return Result{}, &Error{Tool: name, Message: "unknown tool", Code: CodeUnknownTool}
	}

	args := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if jsonErr := json.Unmarshal([]byte(argsJSON), &args); jsonErr != nil {
			return Result{}, &Error{
				Tool:    name,
				Message: fmt.Sprintf("failed to parse tool arguments: %v", jsonErr),
				Code:    CodeInvalidArgs,
			}
		}
	}

	if schema := t.Parameters(); schema != nil {
		if valErr := validate(args, schema); valErr != nil {
			r.logger.Warn("tool.call.validation_failed", "tool", name, "error", valErr.Error())
			return Result{}, &Error{
				Tool:    name,
				Message: fmt.Sprintf("parameter validation failed: %v", valErr),
				Code:    CodeValidationError,
			}
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool.call.panic", "tool", name, "panic", fmt.Sprint(rec))
			result = Result{}
			err = &Error{Tool: name, Message: fmt.Sprintf("panic: %v", rec), Code: CodeExecutionError}
		}
	}()

	out, callErr := t.Call(toolCtx, args)
	if callErr != nil {
		if toolErr, ok := callErr.(*Error); ok {
			r.logger.Error("tool.call.error", "tool", name, "error", toolErr.Message)
			return Result{}, toolErr
		}
		r.logger.Error("tool.call.error", "tool", name, "error", callErr.Error())
		return Result{}, &Error{Tool: name, Message: callErr.Error(), Code: CodeExecutionError}
	}
	return normalize(out), nil
}

// validate checks args against a JSON Schema object.
func validate(args map[string]any, schema map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewGoLoader(args),
	)
	if err != nil {
		return err
	}
	if result.Valid() {
		return nil
	}
	var parts []string
	for _, desc := range result.Errors() {
		parts = append(parts, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(parts, "; "))
}

// normalize converts a handler's return value into a Result.
func normalize(out any) Result {
	switch v := out.(type) {
	case Result:
		return v
	case *Result:
		if v != nil {
			return *v
		}
		return Result{}
	case string:
		return Result{Text: v}
	case nil:
		return Result{}
	default:
		if raw, err := json.Marshal(v); err == nil {
			return Result{Text: string(raw)}
		}
		return Result{Text: fmt.Sprint(v)}
	}
}

// ErrorResult converts a dispatch failure into the tool result recorded in
// the session: the documented error prefix plus a details payload with
// kind=error.
func ErrorResult(name string, err error) Result {
	return Result{
		Text:    fmt.Sprintf("%s %s: %v", ErrorPrefix, name, err),
		Details: map[string]any{"kind": "error"},
	}
}

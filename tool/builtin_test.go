package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentspine/logging"
)

func builtinRegistry() *Registry {
	return NewRegistry(logging.NoOpLogger{}, Builtins()...)
}

func workspaceCtx(dir string) *Context {
	return &Context{Context: context.Background(), WorkspaceDir: dir}
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()
	r := builtinRegistry()

	result, err := r.Dispatch(workspaceCtx(dir), "write_file", `{"path":"sub/out.txt","content":"hello world"}`)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "OK: wrote 11 chars")

	result, err = r.Dispatch(workspaceCtx(dir), "read_file", `{"path":"sub/out.txt"}`)
	require.NoError(t, err)
	assert.Equal(t, "hello world", result.Text)
}

func TestReadFile_Missing(t *testing.T) {
	r := builtinRegistry()
	result, err := r.Dispatch(workspaceCtx(t.TempDir()), "read_file", `{"path":"nope.txt"}`)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "Error: file not found")
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "a"), 0o755))
	r := builtinRegistry()

	result, err := r.Dispatch(workspaceCtx(dir), "list_directory", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "d a\nf b.txt", result.Text)
}

func TestListDirectory_NotADirectory(t *testing.T) {
	dir := t.TempDir()
	r := builtinRegistry()
	result, err := r.Dispatch(workspaceCtx(dir), "list_directory", `{"path":"missing"}`)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "Error: not a directory")
}

func TestRunCmd(t *testing.T) {
	r := builtinRegistry()
	result, err := r.Dispatch(workspaceCtx(t.TempDir()), "run_cmd", `{"command":"echo hi"}`)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "hi")
	assert.Contains(t, result.Text, "[exit code: 0]")
}

func TestRunCmd_NonZeroExit(t *testing.T) {
	r := builtinRegistry()
	result, err := r.Dispatch(workspaceCtx(t.TempDir()), "run_cmd", `{"command":"exit 3"}`)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "[exit code: 3]")
}

func TestRunCmd_UsesWorkspaceDir(t *testing.T) {
	dir := t.TempDir()
	r := builtinRegistry()
	result, err := r.Dispatch(workspaceCtx(dir), "run_cmd", `{"command":"pwd"}`)
	require.NoError(t, err)
	// macOS tempdirs may resolve through /private; compare suffixes.
	assert.Contains(t, result.Text, filepath.Base(dir))
}

func TestWebFetch_RejectsBadURLs(t *testing.T) {
	r := builtinRegistry()

	result, err := r.Dispatch(workspaceCtx(""), "web_fetch", `{"url":"   "}`)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "url is required")

	result, err = r.Dispatch(workspaceCtx(""), "web_fetch", `{"url":"notaurl"}`)
	require.NoError(t, err)
	assert.Contains(t, result.Text, "invalid url")

	result, err = r.Dispatch(workspaceCtx(""), "web_fetch", fmt.Sprintf(`{"url":%q}`, "ftp://example.com/x"))
	require.NoError(t, err)
	assert.Contains(t, result.Text, "only http and https")
}

func TestResolvePath(t *testing.T) {
	tc := &Context{WorkspaceDir: "/ws"}
	assert.Equal(t, "/ws/rel.txt", resolvePath(tc, "rel.txt"))
	assert.Equal(t, "/abs/file.txt", resolvePath(tc, "/abs/file.txt"))
	assert.Equal(t, "/ws", resolvePath(tc, ""))
}

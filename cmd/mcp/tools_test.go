package main

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/onkernel/termlab/lib/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTools(t *testing.T) *labTools {
	t.Helper()
	cfg := defaultConfig()
	cfg.MaxSessions = 2
	mgr, err := newManager(cfg)
	require.NoError(t, err)
	return &labTools{manager: mgr}
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (string, bool) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func createSession(t *testing.T, tools *labTools, args map[string]any) sessions.Info {
	t.Helper()
	out, isErr := call(t, tools.createSession, args)
	require.False(t, isErr, out)
	var info sessions.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	return info
}

func TestListLessons(t *testing.T) {
	tools := setupTools(t)
	out, isErr := call(t, tools.listLessons, nil)
	require.False(t, isErr)
	assert.Contains(t, out, `"filesystem-basics"`)
}

func TestExecuteTool(t *testing.T) {
	tools := setupTools(t)
	info := createSession(t, tools, map[string]any{"seed": "mcp"})
	assert.Contains(t, info.Prompt, "@linux-lab")

	out, isErr := call(t, tools.execute, map[string]any{"session_id": info.ID, "command": "echo hi there"})
	require.False(t, isErr)
	assert.Contains(t, out, "hi there\n[exit 0]")

	out, isErr = call(t, tools.execute, map[string]any{"session_id": info.ID, "command": "frobnicate"})
	require.False(t, isErr, "a failing command is still a successful tool call")
	assert.Contains(t, out, "[exit 127]")

	_, isErr = call(t, tools.execute, map[string]any{"session_id": info.ID})
	assert.True(t, isErr)

	out, isErr = call(t, tools.execute, map[string]any{"session_id": "missing", "command": "ls"})
	assert.True(t, isErr)
	assert.Contains(t, out, "not found")
}

func TestStatAndResetTools(t *testing.T) {
	tools := setupTools(t)
	info := createSession(t, tools, nil)

	_, isErr := call(t, tools.execute, map[string]any{"session_id": info.ID, "command": "mkdir -p work/a"})
	require.False(t, isErr)

	out, isErr := call(t, tools.statPath, map[string]any{"session_id": info.ID, "path": "work/a"})
	require.False(t, isErr, out)
	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "directory", st["type"])

	_, isErr = call(t, tools.resetSession, map[string]any{"session_id": info.ID})
	require.False(t, isErr)

	out, isErr = call(t, tools.statPath, map[string]any{"session_id": info.ID, "path": "work/a"})
	assert.True(t, isErr)
	assert.Contains(t, out, "No such file or directory")
}

func TestCheckTaskTool(t *testing.T) {
	tools := setupTools(t)
	info := createSession(t, tools, map[string]any{"lesson_id": "filesystem-basics"})

	_, isErr := call(t, tools.execute, map[string]any{"session_id": info.ID, "command": "pwd"})
	require.False(t, isErr)

	out, isErr := call(t, tools.checkTask, map[string]any{"session_id": info.ID, "task_index": float64(0)})
	require.False(t, isErr, out)
	assert.JSONEq(t, `{"passed": true}`, out)

	_, isErr = call(t, tools.checkTask, map[string]any{"session_id": info.ID, "task_index": float64(99)})
	assert.True(t, isErr)

	bare := createSession(t, tools, nil)
	out, isErr = call(t, tools.checkTask, map[string]any{"session_id": bare.ID, "task_index": float64(0)})
	assert.True(t, isErr)
	assert.Contains(t, out, "no lesson")
}

func TestCreateSessionErrors(t *testing.T) {
	tools := setupTools(t)

	out, isErr := call(t, tools.createSession, map[string]any{"lesson_id": "nope"})
	assert.True(t, isErr)
	assert.Contains(t, out, "nope")

	createSession(t, tools, nil)
	createSession(t, tools, nil)
	_, isErr = call(t, tools.createSession, nil)
	assert.True(t, isErr, "MaxSessions is 2")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/onkernel/termlab/lib/sessions"
)

// labTools exposes a sessions.Manager as MCP tools.
type labTools struct {
	manager sessions.Manager
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}

// toolError turns domain errors into tool errors the model can read; only
// unexpected failures become protocol errors.
func toolError(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func (t *labTools) register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool("list_lessons",
		mcp.WithDescription("List the available lessons"),
	), t.listLessons)

	s.AddTool(mcp.NewTool("create_session",
		mcp.WithDescription("Start a simulated Linux lab session and return its ID and prompt"),
		mcp.WithString("lesson_id", mcp.Description("Lesson to load; empty starts a plain machine")),
		mcp.WithString("seed", mcp.Description("Seed for reproducible output")),
	), t.createSession)

	s.AddTool(mcp.NewTool("execute",
		mcp.WithDescription("Run one shell command line in a session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID from create_session")),
		mcp.WithString("command", mcp.Required(), mcp.Description("Command line, e.g. 'ls -la | grep conf'")),
	), t.execute)

	s.AddTool(mcp.NewTool("reset_session",
		mcp.WithDescription("Rebuild a session from scratch, optionally switching lesson"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("lesson_id", mcp.Description("Lesson to switch to; empty keeps the current one")),
	), t.resetSession)

	s.AddTool(mcp.NewTool("stat_path",
		mcp.WithDescription("Report metadata for a path inside the session's filesystem"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Absolute, relative or ~ path")),
	), t.statPath)

	s.AddTool(mcp.NewTool("check_task",
		mcp.WithDescription("Check whether a lesson task is complete"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session ID")),
		mcp.WithNumber("task_index", mcp.Required(), mcp.Description("Zero-based task index")),
	), t.checkTask)
}

func (t *labTools) listLessons(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.manager.Lessons().List())
}

func (t *labTools) createSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := t.manager.CreateSession(ctx, sessions.CreateRequest{
		LessonID: req.GetString("lesson_id", ""),
		Seed:     req.GetString("seed", ""),
	})
	if err != nil {
		return toolError(err)
	}
	return jsonResult(s.Info())
}

func (t *labTools) execute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return toolError(err)
	}
	command, err := req.RequireString("command")
	if err != nil {
		return toolError(err)
	}
	r, err := t.manager.Exec(ctx, id, command)
	if err != nil {
		return toolError(err)
	}
	var b strings.Builder
	if r.Output != "" {
		b.WriteString(r.Output)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "[exit %d] %s", r.Status, r.Prompt)
	return mcp.NewToolResultText(b.String()), nil
}

func (t *labTools) resetSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return toolError(err)
	}
	s, err := t.manager.ResetSession(ctx, id, req.GetString("lesson_id", ""))
	if err != nil {
		return toolError(err)
	}
	return jsonResult(s.Info())
}

func (t *labTools) statPath(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return toolError(err)
	}
	p, err := req.RequireString("path")
	if err != nil {
		return toolError(err)
	}
	s, err := t.manager.GetSession(ctx, id)
	if err != nil {
		return toolError(err)
	}
	st, ok := s.Stat(p)
	if !ok {
		return toolError(fmt.Errorf("%s: No such file or directory", p))
	}
	return jsonResult(map[string]any{
		"path":  st.Path,
		"type":  st.Type.String(),
		"mode":  st.Octal(),
		"perms": st.ModeString(),
		"owner": st.Owner,
		"group": st.Group,
		"size":  st.Size,
	})
}

func (t *labTools) checkTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("session_id")
	if err != nil {
		return toolError(err)
	}
	idx, err := req.RequireInt("task_index")
	if err != nil {
		return toolError(err)
	}
	passed, err := t.manager.Check(ctx, id, sessions.CheckRequest{TaskIndex: &idx})
	if errors.Is(err, sessions.ErrNoLesson) {
		return toolError(errors.New("session has no lesson; create it with lesson_id"))
	}
	if err != nil {
		return toolError(err)
	}
	return jsonResult(map[string]bool{"passed": passed})
}

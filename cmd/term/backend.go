package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/sessions"
)

type startOptions struct {
	LessonID  string
	Seed      string
	SessionID string
}

// backend runs command lines somewhere: in this process or on an API
// server.
type backend interface {
	// Start opens the session and returns the greeting (prompt and cwd).
	Start(ctx context.Context, opts startOptions) (sessions.ExecResult, error)
	Exec(ctx context.Context, line string) (sessions.ExecResult, error)
	Close() error
}

// localBackend hosts a single session in-process.
type localBackend struct {
	manager sessions.Manager
	id      string
}

func newLocalBackend(ctx context.Context, lessonsDir, hostname string) (*localBackend, error) {
	catalog, err := lessons.Load(lessonsDir)
	if err != nil {
		return nil, fmt.Errorf("load lessons: %w", err)
	}
	mgr, err := sessions.NewManager(sessions.Config{Hostname: hostname, MaxSessions: 1}, catalog, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return &localBackend{manager: mgr}, nil
}

func (b *localBackend) Start(ctx context.Context, opts startOptions) (sessions.ExecResult, error) {
	if opts.SessionID != "" {
		return sessions.ExecResult{}, fmt.Errorf("-session needs -remote")
	}
	s, err := b.manager.CreateSession(ctx, sessions.CreateRequest{LessonID: opts.LessonID, Seed: opts.Seed})
	if err != nil {
		return sessions.ExecResult{}, err
	}
	b.id = s.ID
	info := s.Info()
	return sessions.ExecResult{Cwd: info.Cwd, Prompt: info.Prompt}, nil
}

func (b *localBackend) Exec(ctx context.Context, line string) (sessions.ExecResult, error) {
	r, err := b.manager.Exec(ctx, b.id, line)
	if err != nil {
		return sessions.ExecResult{}, err
	}
	return *r, nil
}

func (b *localBackend) Close() error { return nil }

// remoteBackend drives a session over the API's terminal websocket.
type remoteBackend struct {
	base  *url.URL
	token string
	ws    *websocket.Conn
}

func newRemoteBackend(rawURL, token string) (*remoteBackend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "http", "":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return nil, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	return &remoteBackend{base: u, token: token}, nil
}

func (b *remoteBackend) endpoint(scheme, path string) string {
	u := *b.base
	if scheme != "" {
		u.Scheme = scheme
	}
	u.Path += path
	return u.String()
}

func (b *remoteBackend) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+b.token)
	return h
}

func (b *remoteBackend) createSession(ctx context.Context, opts startOptions) (string, error) {
	body, err := json.Marshal(sessions.CreateRequest{LessonID: opts.LessonID, Seed: opts.Seed})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint("", "/sessions"), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header = b.authHeader()
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return "", fmt.Errorf("create session: %s: %s", resp.Status, apiErr.Message)
	}
	var info sessions.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return info.ID, nil
}

func (b *remoteBackend) Start(ctx context.Context, opts startOptions) (sessions.ExecResult, error) {
	id := opts.SessionID
	if id == "" {
		var err error
		if id, err = b.createSession(ctx, opts); err != nil {
			return sessions.ExecResult{}, err
		}
	}
	scheme := "ws"
	if b.base.Scheme == "https" {
		scheme = "wss"
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, b.endpoint(scheme, "/sessions/"+url.PathEscape(id)+"/terminal"), b.authHeader())
	if err != nil {
		return sessions.ExecResult{}, fmt.Errorf("failed to connect: %w", err)
	}
	b.ws = ws
	var greeting sessions.ExecResult
	if err := ws.ReadJSON(&greeting); err != nil {
		return sessions.ExecResult{}, fmt.Errorf("read greeting: %w", err)
	}
	return greeting, nil
}

func (b *remoteBackend) Exec(ctx context.Context, line string) (sessions.ExecResult, error) {
	var r sessions.ExecResult
	if err := b.ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return r, fmt.Errorf("websocket write error: %w", err)
	}
	if err := b.ws.ReadJSON(&r); err != nil {
		return r, fmt.Errorf("websocket read error: %w", err)
	}
	return r, nil
}

func (b *remoteBackend) Close() error {
	if b.ws == nil {
		return nil
	}
	_ = b.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return b.ws.Close()
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/onkernel/termlab/lib/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	color.NoColor = true
}

func TestColorPrompt(t *testing.T) {
	assert.Equal(t, "student@linux-lab:~/a$ ", colorPrompt("student@linux-lab:~/a$"))
	assert.Equal(t, "> ", colorPrompt(">"))
	assert.Equal(t, "odd$ ", colorPrompt("odd$"))
}

func TestLocalREPL(t *testing.T) {
	ctx := context.Background()
	b, err := newLocalBackend(ctx, "", "linux-lab")
	require.NoError(t, err)
	greeting, err := b.Start(ctx, startOptions{LessonID: "filesystem-basics", Seed: "fixed"})
	require.NoError(t, err)
	assert.Equal(t, "student@linux-lab:~$", greeting.Prompt)

	in := strings.NewReader("cd projects\nls\nclear\nexit\necho never\n")
	var out bytes.Buffer
	require.NoError(t, repl(ctx, in, &out, b, greeting))

	text := out.String()
	assert.Contains(t, text, "student@linux-lab:~/projects$ ")
	assert.Contains(t, text, "README.md")
	assert.Contains(t, text, clearScreen)
	assert.True(t, strings.HasSuffix(text, "logout\n"))
	assert.NotContains(t, text, "never")
}

func TestLocalREPLStopsAtEOF(t *testing.T) {
	ctx := context.Background()
	b, err := newLocalBackend(ctx, "", "box")
	require.NoError(t, err)
	greeting, err := b.Start(ctx, startOptions{})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, repl(ctx, strings.NewReader("sudo -i\nexit\nhostname"), &out, b, greeting))
	assert.Contains(t, out.String(), "root@box:~# ", "leaving a sudo shell is not a logout")
	assert.Contains(t, out.String(), "box\n")

	_, err = b.Start(ctx, startOptions{SessionID: "abc"})
	assert.Error(t, err)
}

// fakeAPI speaks just enough of the API to drive a remote backend.
func fakeAPI(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	r := chi.NewRouter()
	r.Post("/sessions", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"code":"Unauthorized","message":"invalid token"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(sessions.Info{ID: "s1", Prompt: "student@lab:~$"})
	})
	r.Get("/sessions/{id}/terminal", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()
		prompt := chi.URLParam(r, "id") + "@lab:~$"
		_ = ws.WriteJSON(sessions.ExecResult{Prompt: prompt})
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			_ = ws.WriteJSON(sessions.ExecResult{Output: "ran " + string(data), Prompt: prompt})
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteBackend(t *testing.T) {
	srv := fakeAPI(t)
	ctx := context.Background()

	b, err := newRemoteBackend(strings.Replace(srv.URL, "http://", "ws://", 1), "tok")
	require.NoError(t, err)
	defer b.Close()

	greeting, err := b.Start(ctx, startOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s1@lab:~$", greeting.Prompt)

	r, err := b.Exec(ctx, "uptime")
	require.NoError(t, err)
	assert.Equal(t, "ran uptime", r.Output)
}

func TestRemoteBackendAttachAndErrors(t *testing.T) {
	srv := fakeAPI(t)
	ctx := context.Background()

	b, err := newRemoteBackend(srv.URL, "tok")
	require.NoError(t, err)
	greeting, err := b.Start(ctx, startOptions{SessionID: "existing"})
	require.NoError(t, err)
	assert.Equal(t, "existing@lab:~$", greeting.Prompt)
	require.NoError(t, b.Close())

	bad, err := newRemoteBackend(srv.URL, "wrong")
	require.NoError(t, err)
	_, err = bad.Start(ctx, startOptions{})
	assert.ErrorContains(t, err, "invalid token")

	_, err = newRemoteBackend("ftp://example.com", "tok")
	assert.Error(t, err)
}

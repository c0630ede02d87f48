package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/onkernel/termlab/cmd/api/api"
	"github.com/onkernel/termlab/cmd/api/config"
	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key"

func generateValidJWT(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(testJWTSecret))
}

type testServer struct {
	*httptest.Server
	token string
}

func setupTestServer(t *testing.T, maxSessions int) *testServer {
	catalog, err := lessons.Load("")
	require.NoError(t, err)
	mgr, err := sessions.NewManager(sessions.Config{MaxSessions: maxSessions, Hostname: "linux-lab"}, catalog, nil, nil, nil)
	require.NoError(t, err)

	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := api.New(&config.Config{JwtSecret: testJWTSecret}, mgr)
	srv := httptest.NewServer(newRouter(svc, log, routerOptions{JwtSecret: testJWTSecret, AccessLogger: log}))
	t.Cleanup(srv.Close)

	token, err := generateValidJWT("user-123")
	require.NoError(t, err)
	return &testServer{Server: srv, token: token}
}

// do sends an authenticated request and decodes the JSON reply into out.
func (s *testServer) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (s *testServer) create(t *testing.T, req sessions.CreateRequest) sessions.Info {
	t.Helper()
	var info sessions.Info
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/sessions", req, &info))
	return info
}

func (s *testServer) exec(t *testing.T, id, command string) sessions.ExecResult {
	t.Helper()
	var res sessions.ExecResult
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/sessions/"+id+"/exec", api.ExecRequest{Command: command}, &res))
	return res
}

func TestHealthAndLessonsAreOpen(t *testing.T) {
	srv := setupTestServer(t, 0)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))

	var list []lessons.Summary
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/lessons", nil, &list))
	require.Len(t, list, 5)
	assert.Equal(t, "filesystem-basics", list[0].ID)

	var lesson api.LessonView
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/lessons/permissions", nil, &lesson))
	assert.Equal(t, "permissions", lesson.ID)
	require.NotEmpty(t, lesson.Tasks)
	assert.Equal(t, 0, lesson.Tasks[0].Index)

	var apiErr api.Error
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/lessons/nope", nil, &apiErr))
}

func TestSessionsRequireAuth(t *testing.T) {
	srv := setupTestServer(t, 0)

	for _, path := range []string{"/sessions", "/sessions/abc", "/sessions/abc/terminal"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv := setupTestServer(t, 0)

	info := srv.create(t, sessions.CreateRequest{LessonID: "permissions", Seed: "s1"})
	assert.Equal(t, "permissions", info.LessonID)
	assert.Equal(t, "s1", info.Seed)
	assert.Equal(t, "/home/student", info.Cwd)
	assert.Equal(t, "student@linux-lab:~$", info.Prompt)

	res := srv.exec(t, info.ID, "chmod 755 deploy.sh")
	assert.Equal(t, 0, res.Status)

	var st api.StatResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/sessions/"+info.ID+"/fs/stat?path=~/deploy.sh", nil, &st))
	assert.Equal(t, "755", st.Mode)
	assert.Equal(t, "student", st.Owner)
	assert.Equal(t, "regular file", st.Type)

	var missing api.Error
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/sessions/"+info.ID+"/fs/stat?path=/nope", nil, &missing))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodGet, "/sessions/"+info.ID+"/fs/stat", nil, &missing))

	var exists api.ExistsResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/sessions/"+info.ID+"/fs/exists?path=/srv/shared/report.txt", nil, &exists))
	assert.True(t, exists.Exists)

	var check api.CheckResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/sessions/"+info.ID+"/check",
		map[string]any{"validation": map[string]string{"type": "permission_equals", "check": "~/deploy.sh:755"}}, &check))
	assert.True(t, check.Passed)

	var reset sessions.Info
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/sessions/"+info.ID+"/reset", nil, &reset))
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/sessions/"+info.ID+"/fs/stat?path=~/deploy.sh", nil, &st))
	assert.Equal(t, "644", st.Mode, "reset restores the lesson state")

	var list []sessions.Info
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodGet, "/sessions", nil, &list))
	assert.Len(t, list, 1)

	assert.Equal(t, http.StatusNoContent, srv.do(t, http.MethodDelete, "/sessions/"+info.ID, nil, nil))
	var gone api.Error
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/sessions/"+info.ID, nil, &gone))
	assert.Equal(t, "not_found", gone.Code)
}

func TestSessionErrors(t *testing.T) {
	srv := setupTestServer(t, 1)

	var apiErr api.Error
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/sessions", sessions.CreateRequest{LessonID: "nope"}, &apiErr))
	assert.Equal(t, "unknown_lesson", apiErr.Code)

	info := srv.create(t, sessions.CreateRequest{})
	assert.Equal(t, http.StatusConflict, srv.do(t, http.MethodPost, "/sessions", sessions.CreateRequest{}, &apiErr))

	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/sessions/"+info.ID+"/check", map[string]int{"task_index": 0}, &apiErr),
		"a session without a lesson has no tasks")
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/sessions/"+info.ID+"/check", map[string]any{}, &apiErr))
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/sessions/"+info.ID+"/exec", "not an object", &apiErr))
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/sessions/missing/exec", api.ExecRequest{Command: "ls"}, &apiErr))
}

func TestTerminalWebSocket(t *testing.T) {
	srv := setupTestServer(t, 0)
	info := srv.create(t, sessions.CreateRequest{LessonID: "filesystem-basics"})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sessions/" + info.ID + "/terminal"
	header := http.Header{"Authorization": []string{"Bearer " + srv.token}}
	ws, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer ws.Close()

	var greeting sessions.ExecResult
	require.NoError(t, ws.ReadJSON(&greeting))
	assert.Equal(t, "student@linux-lab:~$", greeting.Prompt)

	send := func(line string) sessions.ExecResult {
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(line)))
		var res sessions.ExecResult
		require.NoError(t, ws.ReadJSON(&res))
		return res
	}

	res := send("cd projects")
	assert.Equal(t, "student@linux-lab:~/projects$", res.Prompt)
	assert.Equal(t, "Keep each project in its own directory.", strings.Split(send("cat README.md").Output, "\n")[1])
	assert.True(t, send("clear").Clear)

	assert.Equal(t, "logout", send("exit").Output)
	_, _, err = ws.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "logout closes the socket: %v", err)

	var check api.CheckResponse
	require.Equal(t, http.StatusOK, srv.do(t, http.MethodPost, "/sessions/"+info.ID+"/check", map[string]int{"task_index": 1}, &check))
	assert.True(t, check.Passed, "terminal commands count toward lesson progress")
}

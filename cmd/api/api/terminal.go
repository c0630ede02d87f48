package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/onkernel/termlab/lib/sessions"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 32 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins; the bearer token is the gate
		return true
	},
}

const (
	writeWait   = 10 * time.Second
	maxLineSize = 64 * 1024
)

// TerminalHandler attaches a WebSocket to a session. Each text frame from
// the client is one command line; each reply is one JSON ExecResult. The
// first frame is a greeting carrying the prompt. The socket closes after
// the login shell exits.
func (s *ApiService) TerminalHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	sess := resolved(r)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.ErrorContext(ctx, "websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxLineSize)

	log.InfoContext(ctx, "terminal attached")
	info := sess.Info()
	if err := writeFrame(ws, sessions.ExecResult{Cwd: info.Cwd, Prompt: info.Prompt}); err != nil {
		return
	}

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.DebugContext(ctx, "terminal read ended", "error", err)
			}
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		line := strings.TrimRight(string(data), "\r\n")
		res, err := s.SessionManager.Exec(ctx, sess.ID, line)
		if errors.Is(err, sessions.ErrNotFound) {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session ended"),
				time.Now().Add(writeWait))
			break
		}
		if err != nil {
			log.ErrorContext(ctx, "terminal exec failed", "error", err)
			break
		}
		if err := writeFrame(ws, *res); err != nil {
			break
		}
		if loggedOut(line, res) {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "logout"),
				time.Now().Add(writeWait))
			break
		}
	}
	log.InfoContext(ctx, "terminal detached")
}

func writeFrame(ws *websocket.Conn, res sessions.ExecResult) error {
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(res)
}

// loggedOut reports whether line ended the login shell rather than a
// sudo or su shell stacked on top of it.
func loggedOut(line string, res *sessions.ExecResult) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && fields[0] == "exit" && res.Output == "logout"
}

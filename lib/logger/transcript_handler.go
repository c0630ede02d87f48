package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SessionKey is the attribute that ties a record to a lab session.
const SessionKey = "session_id"

// TranscriptHandler wraps an slog.Handler and additionally appends records
// that carry a "session_id" attribute to that session's transcript file.
//
// Implementation follows the slog handler guide for shared state across
// WithAttrs/WithGroup: https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type TranscriptHandler struct {
	slog.Handler
	pathFunc func(id string) string // returns the transcript path for a session
	preAttrs []slog.Attr            // attrs added via WithAttrs (needed to find session_id)
}

// NewTranscriptHandler creates a handler that wraps the given handler and
// writes session-related records to per-session transcripts.
func NewTranscriptHandler(wrapped slog.Handler, pathFunc func(id string) string) *TranscriptHandler {
	return &TranscriptHandler{
		Handler:  wrapped,
		pathFunc: pathFunc,
	}
}

// Handle passes the record to the wrapped handler and, if it names a
// session, appends it to that session's transcript.
func (h *TranscriptHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var sessionID string
	for _, a := range h.preAttrs {
		if a.Key == SessionKey {
			sessionID = a.Value.String()
			break
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == SessionKey {
			sessionID = a.Value.String()
			return false
		}
		return true
	})

	if sessionID != "" {
		h.writeTranscript(sessionID, r)
	}
	return nil
}

// writeTranscript appends one line to the session transcript. The file is
// opened and closed per record so deleted sessions leave no open handles.
func (h *TranscriptHandler) writeTranscript(sessionID string, r slog.Record) {
	path := h.pathFunc(sessionID)
	if path == "" {
		return
	}
	// Sessions own their directory; without it the ID is stale or foreign.
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s", r.Time.Format(time.RFC3339), r.Level, r.Message)
	for _, a := range h.preAttrs {
		if a.Key != SessionKey {
			fmt.Fprintf(&b, " %s=%s", a.Key, quote(a.Value.String()))
		}
	}
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != SessionKey {
			fmt.Fprintf(&b, " %s=%s", a.Key, quote(a.Value.String()))
		}
		return true
	})
	b.WriteByte('\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		// Package-level slog carries no session_id, so this cannot recurse.
		slog.Warn("failed to open transcript", "path", path, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		slog.Warn("failed to write transcript", "path", path, "error", err)
	}
}

// quote keeps multi-line command output on one transcript line.
func quote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t\n\"=") {
		return fmt.Sprintf("%q", v)
	}
	return v
}

// Enabled reports whether the handler handles records at the given level.
func (h *TranscriptHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
func (h *TranscriptHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pre := make([]slog.Attr, len(h.preAttrs), len(h.preAttrs)+len(attrs))
	copy(pre, h.preAttrs)
	pre = append(pre, attrs...)

	return &TranscriptHandler{
		Handler:  h.Handler.WithAttrs(attrs),
		pathFunc: h.pathFunc,
		preAttrs: pre,
	}
}

// WithGroup returns a new handler with the given group name. Session IDs
// are always top-level, so groups are not tracked.
func (h *TranscriptHandler) WithGroup(name string) slog.Handler {
	return &TranscriptHandler{
		Handler:  h.Handler.WithGroup(name),
		pathFunc: h.pathFunc,
		preAttrs: h.preAttrs,
	}
}

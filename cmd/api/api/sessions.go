package api

import (
	"net/http"

	"github.com/onkernel/termlab/lib/middleware"
	"github.com/onkernel/termlab/lib/sessions"
)

// ExecRequest carries one command line.
type ExecRequest struct {
	Command string `json:"command"`
}

// ResetRequest optionally switches the session to another lesson.
type ResetRequest struct {
	LessonID string `json:"lesson_id,omitempty"`
}

// CheckResponse reports whether a validation passed.
type CheckResponse struct {
	Passed bool `json:"passed"`
}

// resolved returns the session put in context by the resolver middleware.
func resolved(r *http.Request) *sessions.Session {
	return middleware.GetResolvedSession[sessions.Session](r.Context())
}

// CreateSession starts a lab, optionally for a lesson and with a fixed seed.
func (s *ApiService) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req sessions.CreateRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.SessionManager.CreateSession(r.Context(), req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Info())
}

// ListSessions returns every live session, oldest first.
func (s *ApiService) ListSessions(w http.ResponseWriter, r *http.Request) {
	list := s.SessionManager.ListSessions(r.Context())
	out := make([]sessions.Info, len(list))
	for i, sess := range list {
		out[i] = sess.Info()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *ApiService) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, resolved(r).Info())
}

func (s *ApiService) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.SessionManager.DeleteSession(r.Context(), resolved(r).ID); err != nil {
		respondErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Exec runs one command line.
func (s *ApiService) Exec(w http.ResponseWriter, r *http.Request) {
	var req ExecRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := s.SessionManager.Exec(r.Context(), resolved(r).ID, req.Command)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ResetSession rebuilds the lab from its lesson.
func (s *ApiService) ResetSession(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if !decode(w, r, &req) {
		return
	}
	sess, err := s.SessionManager.ResetSession(r.Context(), resolved(r).ID, req.LessonID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// Check evaluates a lesson task or an ad-hoc validation.
func (s *ApiService) Check(w http.ResponseWriter, r *http.Request) {
	var req sessions.CheckRequest
	if !decode(w, r, &req) {
		return
	}
	ok, err := s.SessionManager.Check(r.Context(), resolved(r).ID, req)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CheckResponse{Passed: ok})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/termlab/lib/lessons"
)

// TaskView is a task as the learner sees it; validations stay server-side.
type TaskView struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Hint        string `json:"hint,omitempty"`
}

// LessonView is a lesson summary plus its tasks.
type LessonView struct {
	lessons.Summary
	Tasks []TaskView `json:"tasks"`
}

func lessonView(l *lessons.Lesson) LessonView {
	v := LessonView{Summary: l.Summary(), Tasks: make([]TaskView, len(l.Tasks))}
	for i, t := range l.Tasks {
		v.Tasks[i] = TaskView{Index: i, Title: t.Title, Description: t.Description, Hint: t.Hint}
	}
	return v
}

// ListLessons returns the catalog in load order.
func (s *ApiService) ListLessons(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.SessionManager.Lessons().List())
}

// GetLesson returns one lesson with its tasks.
func (s *ApiService) GetLesson(w http.ResponseWriter, r *http.Request) {
	l, err := s.SessionManager.Lessons().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lessonView(l))
}

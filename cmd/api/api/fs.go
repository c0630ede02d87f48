package api

import (
	"net/http"
	"time"
)

// StatResponse is the JSON rendering of vfs.Stat. Mode is the 3-digit octal
// permission string.
type StatResponse struct {
	Path       string    `json:"path"`
	Name       string    `json:"name"`
	Type       string    `json:"type"`
	Mode       string    `json:"mode"`
	ModeString string    `json:"mode_string"`
	Owner      string    `json:"owner"`
	Group      string    `json:"group"`
	Size       int64     `json:"size"`
	Links      int       `json:"links"`
	Mtime      time.Time `json:"mtime"`
	Target     string    `json:"target,omitempty"`
}

// ExistsResponse answers fs/exists.
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

func pathParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.URL.Query().Get("path")
	if p == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "path query parameter is required")
		return "", false
	}
	return p, true
}

// StatPath reports metadata for a path inside the lab filesystem.
func (s *ApiService) StatPath(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParam(w, r)
	if !ok {
		return
	}
	st, found := resolved(r).Stat(p)
	if !found {
		writeError(w, http.StatusNotFound, "not_found", p+": No such file or directory")
		return
	}
	writeJSON(w, http.StatusOK, StatResponse{
		Path:       st.Path,
		Name:       st.Name,
		Type:       st.Type.String(),
		Mode:       st.Octal(),
		ModeString: st.ModeString(),
		Owner:      st.Owner,
		Group:      st.Group,
		Size:       st.Size,
		Links:      st.Links,
		Mtime:      st.Mtime,
		Target:     st.Target,
	})
}

// PathExists reports whether a path exists inside the lab filesystem.
func (s *ApiService) PathExists(w http.ResponseWriter, r *http.Request) {
	p, ok := pathParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ExistsResponse{Exists: resolved(r).Exists(p)})
}

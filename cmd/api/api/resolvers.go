package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/onkernel/termlab/lib/middleware"
	"github.com/onkernel/termlab/lib/sessions"
)

// SessionResolver adapts sessions.Manager to middleware.ResourceResolver.
type SessionResolver struct {
	Manager sessions.Manager
}

func (r SessionResolver) Resolve(ctx context.Context, id string) (string, any, error) {
	s, err := r.Manager.GetSession(ctx, id)
	if err != nil {
		return "", nil, err
	}
	return s.ID, s, nil
}

// NewResolvers creates Resolvers from the ApiService managers.
func (s *ApiService) NewResolvers() middleware.Resolvers {
	return middleware.Resolvers{
		Session: SessionResolver{Manager: s.SessionManager},
	}
}

// ResolverErrorResponder handles resolver errors by writing appropriate HTTP responses.
func ResolverErrorResponder(w http.ResponseWriter, err error, lookup string) {
	switch {
	case errors.Is(err, sessions.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "session not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to resolve session")
	}
}

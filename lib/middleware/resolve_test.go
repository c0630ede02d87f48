package middleware

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/termlab/lib/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissing = errors.New("missing")

type lab struct{ name string }

type fakeResolver map[string]*lab

func (f fakeResolver) Resolve(ctx context.Context, id string) (string, any, error) {
	l, ok := f[id]
	if !ok {
		return "", nil, errMissing
	}
	return id, l, nil
}

func newResolveRouter(buf *bytes.Buffer) http.Handler {
	log := slog.New(slog.NewJSONHandler(buf, nil))
	respond := func(w http.ResponseWriter, err error, lookup string) {
		ErrorResponse(w, lookup+": "+err.Error(), http.StatusNotFound)
	}
	r := chi.NewRouter()
	r.Use(InjectLogger(log))
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
		r.With(ResolveResource(Resolvers{Session: fakeResolver{"s1": {name: "first"}}}, respond)).
			Get("/{id}", func(w http.ResponseWriter, r *http.Request) {
				l := GetResolvedSession[lab](r.Context())
				if l == nil {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				logger.FromContext(r.Context()).InfoContext(r.Context(), "handled")
				_, _ = w.Write([]byte(l.name + " " + GetResolvedID(r.Context(), "session")))
			})
	})
	return r
}

func TestResolveResource(t *testing.T) {
	var buf bytes.Buffer
	h := newResolveRouter(&buf)

	t.Run("found", func(t *testing.T) {
		buf.Reset()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "first s1", rr.Body.String())
		assert.Contains(t, buf.String(), `"session_id":"s1"`)
	})

	t.Run("missing", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/zzz", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Contains(t, rr.Body.String(), "zzz: missing")
	})

	t.Run("list is untouched", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sessions/", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestGetResolvedValueAndPointer(t *testing.T) {
	ctx := WithResolvedSession(context.Background(), "a", lab{name: "value"})
	require.NotNil(t, GetResolvedSession[lab](ctx))
	assert.Equal(t, "value", GetResolvedSession[lab](ctx).name)

	ctx = WithResolvedSession(context.Background(), "b", &lab{name: "pointer"})
	assert.Equal(t, "pointer", GetResolvedSession[lab](ctx).name)
	assert.Nil(t, GetResolvedSession[string](ctx))
	assert.Equal(t, "", GetResolvedID(context.Background(), "session"))
	assert.True(t, strings.HasPrefix(GetResolvedID(ctx, "session"), "b"))
}

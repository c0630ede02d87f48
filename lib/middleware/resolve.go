// Package middleware provides HTTP middleware for the termlab API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/onkernel/termlab/lib/logger"
)

// ResourceResolver is implemented by managers that support lookup by ID.
type ResourceResolver interface {
	// Resolve returns the canonical ID and the resource, or the manager's
	// not-found error.
	Resolve(ctx context.Context, id string) (string, any, error)
}

// resolvedResourceKey is the context key for storing the resolved resource.
type resolvedResourceKey struct{ resourceType string }

// ResolvedResource holds the resolved resource ID and value.
type ResolvedResource struct {
	ID       string
	Resource any
}

// Resolvers holds resolvers for different resource types.
type Resolvers struct {
	Session ResourceResolver
}

// ErrorResponder handles resolver errors by writing HTTP responses.
type ErrorResponder func(w http.ResponseWriter, err error, lookup string)

// route maps a path prefix to the resolver and log key for that resource.
type route struct {
	prefix       string
	resourceType string
	logKey       string
	resolver     func(Resolvers) ResourceResolver
}

var routes = []route{
	{prefix: "/sessions/", resourceType: "session", logKey: logger.SessionKey, resolver: func(r Resolvers) ResourceResolver { return r.Session }},
}

// ResolveResource creates middleware that resolves the {id} URL parameter
// before handlers run. The resolved resource is stored in context and the
// logger is bound to its ID.
func ResolveResource(resolvers Resolvers, errResponder ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			var rt *route
			for i := range routes {
				if strings.HasPrefix(r.URL.Path, routes[i].prefix) {
					rt = &routes[i]
					break
				}
			}
			if rt == nil {
				next.ServeHTTP(w, r)
				return
			}
			resolver := rt.resolver(resolvers)
			id := chi.URLParam(r, "id")
			if resolver == nil || id == "" {
				next.ServeHTTP(w, r)
				return
			}

			resolvedID, resource, err := resolver.Resolve(ctx, id)
			if err != nil {
				errResponder(w, err, id)
				return
			}

			ctx = context.WithValue(ctx, resolvedResourceKey{rt.resourceType}, ResolvedResource{
				ID:       resolvedID,
				Resource: resource,
			})
			ctx, _ = logger.Bind(ctx, rt.logKey, resolvedID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetResolvedSession retrieves the resolved session from context.
// Returns nil if not found or wrong type.
func GetResolvedSession[T any](ctx context.Context) *T {
	return getResolved[T](ctx, "session")
}

// GetResolvedID retrieves just the resolved ID for a resource type.
func GetResolvedID(ctx context.Context, resourceType string) string {
	if resolved, ok := ctx.Value(resolvedResourceKey{resourceType}).(ResolvedResource); ok {
		return resolved.ID
	}
	return ""
}

func getResolved[T any](ctx context.Context, resourceType string) *T {
	resolved, ok := ctx.Value(resolvedResourceKey{resourceType}).(ResolvedResource)
	if !ok {
		return nil
	}
	if typed, ok := resolved.Resource.(*T); ok {
		return typed
	}
	if typed, ok := resolved.Resource.(T); ok {
		return &typed
	}
	return nil
}

// WithResolvedSession returns a context with the given session set as resolved.
func WithResolvedSession(ctx context.Context, id string, s any) context.Context {
	return context.WithValue(ctx, resolvedResourceKey{"session"}, ResolvedResource{ID: id, Resource: s})
}

package main

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/onkernel/termlab/cmd/api/api"
	mw "github.com/onkernel/termlab/lib/middleware"
	"github.com/riandyrn/otelchi"
)

// routerOptions are the pieces of the router that depend on telemetry.
type routerOptions struct {
	JwtSecret    string
	AccessLogger *slog.Logger
	// HTTPMetrics is nil when OTel is disabled.
	HTTPMetrics *mw.HTTPMetrics
	// TraceService names the otelchi spans; empty disables tracing.
	TraceService string
}

func newRouter(svc *api.ApiService, log *slog.Logger, opts routerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	resolve := mw.ResolveResource(svc.NewResolvers(), api.ResolverErrorResponder)

	// Terminal websocket sits outside the traced group: otelchi and the
	// request timeout would cut long-lived connections.
	r.With(
		mw.InjectLogger(log),
		mw.AccessLogger(opts.AccessLogger),
		mw.JwtAuth(opts.JwtSecret),
		resolve,
	).Get("/sessions/{id}/terminal", svc.TerminalHandler)

	r.Group(func(r chi.Router) {
		if opts.TraceService != "" {
			r.Use(otelchi.Middleware(opts.TraceService, otelchi.WithChiRoutes(r)))
		}
		r.Use(mw.InjectLogger(log))
		r.Use(mw.AccessLogger(opts.AccessLogger))
		if opts.HTTPMetrics != nil {
			r.Use(opts.HTTPMetrics.Middleware)
		} else {
			r.Use(mw.NoopHTTPMetrics())
		}
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/health", svc.GetHealth)
		r.Get("/lessons", svc.ListLessons)
		r.Get("/lessons/{id}", svc.GetLesson)

		r.Route("/sessions", func(r chi.Router) {
			r.Use(mw.JwtAuth(opts.JwtSecret))
			r.Post("/", svc.CreateSession)
			r.Get("/", svc.ListSessions)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(resolve)
				r.Get("/", svc.GetSession)
				r.Delete("/", svc.DeleteSession)
				r.Post("/exec", svc.Exec)
				r.Post("/reset", svc.ResetSession)
				r.Post("/check", svc.Check)
				r.Get("/fs/stat", svc.StatPath)
				r.Get("/fs/exists", svc.PathExists)
			})
		})
	})
	return r
}

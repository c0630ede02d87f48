//go:build wireinject

package main

import (
	"context"
	"log/slog"

	"github.com/google/wire"
	"github.com/onkernel/termlab/cmd/api/api"
	"github.com/onkernel/termlab/cmd/api/config"
	"github.com/onkernel/termlab/lib/lessons"
	"github.com/onkernel/termlab/lib/otel"
	"github.com/onkernel/termlab/lib/providers"
	"github.com/onkernel/termlab/lib/sessions"
)

// application struct to hold initialized components
type application struct {
	Ctx            context.Context
	Logger         *slog.Logger
	Config         *config.Config
	Otel           *otel.Provider
	Lessons        *lessons.Catalog
	SessionManager sessions.Manager
	ApiService     *api.ApiService
}

// initializeApp is the injector function
func initializeApp() (*application, func(), error) {
	panic(wire.Build(
		providers.ProvideConfig,
		providers.ProvidePaths,
		providers.ProvideOtel,
		providers.ProvideLogger,
		providers.ProvideContext,
		providers.ProvideLessons,
		providers.ProvideSessionManager,
		api.New,
		wire.Struct(new(application), "*"),
	))
}

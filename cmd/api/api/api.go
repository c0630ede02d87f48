// Package api implements the termlab HTTP handlers.
package api

import (
	"github.com/onkernel/termlab/cmd/api/config"
	"github.com/onkernel/termlab/lib/sessions"
)

// ApiService serves the lesson catalog and session endpoints.
type ApiService struct {
	Config         *config.Config
	SessionManager sessions.Manager
}

// New creates a new ApiService
func New(config *config.Config, sessionManager sessions.Manager) *ApiService {
	return &ApiService{
		Config:         config,
		SessionManager: sessionManager,
	}
}

// Package http provides HTTP server infrastructure including module registration.
package http

import (
	"context"

	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/logger"
)

// RouterConfig combines the config interfaces needed by the HTTP router.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
	config.RateLimitConfig
}

// HealthChecker exposes minimal functionality for readiness checks.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App holds the fully initialized application dependencies.
// This is populated by main.go (the composition root) and passed to the router.
type App struct {
	// Config holds the router configuration.
	Config RouterConfig
	// Logger is the structured logger.
	Logger *logger.Logger
	// Health pings the BAP mirror for readiness checks.
	Health HealthChecker
	// Modules contains all HTTP-facing domain modules.
	Modules []Module
}

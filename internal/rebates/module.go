// Package rebates provides the FRF/PRF/CRF rebate module: reconciliation of
// Formio submissions with BAP statuses and the guarded stage mutations.
package rebates

import (
	apphttp "rebate_portal_backend/internal/http"
	"rebate_portal_backend/internal/rebates/handler"
	"rebate_portal_backend/internal/rebates/service"
	"rebate_portal_backend/platform/config"
	"rebate_portal_backend/platform/logger"
	"rebate_portal_backend/platform/validator"
)

// Module represents the rebates domain module
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates a new rebates module with all dependencies wired
func NewModule(forms service.SubmissionStore, statuses service.StatusReader, guard service.MutationGuard, years config.RebateYearsConfig, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(forms, statuses, guard, years, log)
	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "rebates"
}

// Service returns the service layer for external use
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes registers the module's routes
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)

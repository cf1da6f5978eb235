package handler

import (
	"net/http"

	"rebate_portal_backend/internal/rebates/domain"
	"rebate_portal_backend/internal/rebates/service"
	"rebate_portal_backend/internal/rebates/transport"
	"rebate_portal_backend/platform/httpkit"
	"rebate_portal_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Handler handles HTTP requests for rebates
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new rebates handler
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the rebate routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/rebate-years", h.ListYears)

	rebates := rg.Group("/rebates")
	rebates.GET("/:year", h.List)
	rebates.POST("/:year/frf", h.CreateFRF)
	rebates.GET("/:year/:rebateId", h.Get)
	rebates.POST("/:year/:rebateId/:stage", h.CreateStage)
	rebates.PUT("/:year/:rebateId/:stage", h.SaveStage)
	rebates.DELETE("/:year/:rebateId/:stage", h.CascadeDelete)
}

// ListYears handles GET /api/v1/rebate-years
func (h *Handler) ListYears(c *gin.Context) {
	httpkit.OK(c, h.svc.ListYears())
}

// List handles GET /api/v1/rebates/:year
func (h *Handler) List(c *gin.Context) {
	var params transport.YearParams
	if !h.bindURI(c, &params) {
		return
	}
	email, ok := mustGetEmail(c)
	if !ok {
		return
	}

	result, err := h.svc.GetAggregates(c.Request.Context(), email, params.Year)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// Get handles GET /api/v1/rebates/:year/:rebateId
func (h *Handler) Get(c *gin.Context) {
	var params transport.RebateParams
	if !h.bindURI(c, &params) {
		return
	}
	email, ok := mustGetEmail(c)
	if !ok {
		return
	}

	result, err := h.svc.GetAggregate(c.Request.Context(), email, params.Year, params.RebateID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// CreateFRF handles POST /api/v1/rebates/:year/frf
func (h *Handler) CreateFRF(c *gin.Context) {
	var params transport.YearParams
	if !h.bindURI(c, &params) {
		return
	}
	var req transport.CreateFRFRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}
	email, ok := mustGetEmail(c)
	if !ok {
		return
	}

	result, err := h.svc.CreateFRF(c.Request.Context(), email, params.Year, req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, result)
}

// CreateStage handles POST /api/v1/rebates/:year/:rebateId/:stage
// Creates the PRF or CRF once the previous stage was selected.
func (h *Handler) CreateStage(c *gin.Context) {
	params, stage, ok := h.bindStage(c)
	if !ok {
		return
	}
	email, ok := mustGetEmail(c)
	if !ok {
		return
	}

	result, err := h.svc.CreateNextStage(c.Request.Context(), email, params.Year, params.RebateID, stage)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, result)
}

// SaveStage handles PUT /api/v1/rebates/:year/:rebateId/:stage
func (h *Handler) SaveStage(c *gin.Context) {
	params, stage, ok := h.bindStage(c)
	if !ok {
		return
	}
	var req transport.SaveSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return
	}
	email, ok := mustGetEmail(c)
	if !ok {
		return
	}

	result, err := h.svc.SaveStage(c.Request.Context(), email, params.Year, params.RebateID, stage, req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, result)
}

// CascadeDelete handles DELETE /api/v1/rebates/:year/:rebateId/:stage
// Removes a PRF or CRF invalidated by edits requested on its predecessor.
func (h *Handler) CascadeDelete(c *gin.Context) {
	params, stage, ok := h.bindStage(c)
	if !ok {
		return
	}
	email, ok := mustGetEmail(c)
	if !ok {
		return
	}

	err := h.svc.RequestCascadeDelete(c.Request.Context(), email, params.Year, params.RebateID, stage)
	if httpkit.HandleError(c, err) {
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) bindURI(c *gin.Context, params any) bool {
	if err := c.ShouldBindUri(params); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(params); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Describe(err))
		return false
	}
	return true
}

func (h *Handler) bindStage(c *gin.Context) (transport.StageParams, domain.Stage, bool) {
	var params transport.StageParams
	if !h.bindURI(c, &params) {
		return params, "", false
	}
	stage, ok := domain.ParseStage(params.Stage)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, []string{"Stage: rebatestage"})
		return params, "", false
	}
	return params, stage, true
}

func mustGetEmail(c *gin.Context) (string, bool) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return "", false
	}
	return identity.Email(), true
}

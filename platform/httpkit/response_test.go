package httpkit

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"rebate_portal_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

func runHandleError(err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	HandleError(c, err)
	return rec
}

func TestHandleErrorMapsWrappedDomainErrors(t *testing.T) {
	err := fmt.Errorf("delete: %w", apperr.Conflict("predecessor status changed").WithDetails(map[string]any{"retryable": true}))

	rec := runHandleError(err)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"retryable":true`) {
		t.Fatalf("expected details in body, got %s", rec.Body.String())
	}
}

func TestHandleErrorHidesUntypedErrors(t *testing.T) {
	rec := runHandleError(errors.New("pq: password authentication failed"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "password") {
		t.Fatalf("expected internal message to be hidden, got %s", rec.Body.String())
	}
}

func TestHandleErrorNilIsNoop(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	if HandleError(c, nil) {
		t.Fatalf("expected nil error to be ignored")
	}
}

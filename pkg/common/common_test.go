package common

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestSuccessResponse(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SuccessResponse(c, gin.H{"code": "USD"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.True(t, body["success"].(bool))
	assert.Equal(t, "USD", body["data"].(map[string]interface{})["code"])
	assert.Nil(t, body["error"])
}

func TestSuccessResponseWithStatus(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	SuccessResponseWithStatus(c, http.StatusAccepted, nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.True(t, decode(t, w)["success"].(bool))
}

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	ErrorResponse(c, http.StatusBadRequest, "invalid amount")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := decode(t, w)
	assert.False(t, body["success"].(bool))
	errorInfo := body["error"].(map[string]interface{})
	assert.Equal(t, float64(http.StatusBadRequest), errorInfo["code"])
	assert.Equal(t, "invalid amount", errorInfo["message"])
}

func TestAppErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	AppErrorResponse(c, NewNotFoundError("currency not found", errors.New("sql: no rows")))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "currency not found", decode(t, w)["error"].(map[string]interface{})["message"])
}

func TestAppError(t *testing.T) {
	cause := errors.New("boom")
	err := NewInternalServerError("conversion failed", cause)

	assert.Equal(t, "conversion failed: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, err.Code)
	assert.Equal(t, "bad", NewBadRequestError("bad", nil).Error())
}

func TestHealthCheckWithDeps(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]func() error
		wantStatus int
		wantHealth string
	}{
		{"healthy", map[string]func() error{"database": func() error { return nil }}, http.StatusOK, "healthy"},
		{"unhealthy", map[string]func() error{
			"database": func() error { return nil },
			"redis":    func() error { return errors.New("down") },
		}, http.StatusServiceUnavailable, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.GET("/healthz", HealthCheckWithDeps("konversi", "1.0.0", tt.checks))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.wantHealth, body["status"])
			assert.Equal(t, "konversi", body["service"])
		})
	}
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck("konversi", "1.0.0"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])
}

package tokens

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func performRequest(mw echo.MiddlewareFunc, authHeader string) *httptest.ResponseRecorder {
	e := echo.New()
	e.GET("/admin/ping", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, mw)
	req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
	if authHeader != "" {
		req.Header.Set(echo.HeaderAuthorization, authHeader)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAdminTokenMiddleware(t *testing.T) {
	mw := AdminTokenMiddleware("sekrit")

	rec := performRequest(mw, "Bearer sekrit")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = performRequest(mw, "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = performRequest(mw, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminTokenMiddlewareOpenWhenUnset(t *testing.T) {
	rec := performRequest(AdminTokenMiddleware(""), "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

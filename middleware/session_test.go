package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func sessionTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SessionMiddleware())
	r.GET("/open", func(c *gin.Context) {
		c.String(http.StatusOK, GetSessionID(c))
	})
	r.GET("/guarded", RequireSession(), func(c *gin.Context) {
		c.String(http.StatusOK, GetSessionID(c))
	})
	return r
}

func TestSessionFromHeader(t *testing.T) {
	r := sessionTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(SessionHeader, "sess-abc_123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sess-abc_123", w.Body.String())
}

func TestSessionFromQueryFallback(t *testing.T) {
	r := sessionTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/open?session=qsess-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "qsess-1", w.Body.String())
}

func TestSessionRejectsInvalidCharacters(t *testing.T) {
	r := sessionTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/open", nil)
	req.Header.Set(SessionHeader, "bad session/../id")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireSessionRejectsMissingHeader(t *testing.T) {
	r := sessionTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequireSessionAllowsValidHeader(t *testing.T) {
	r := sessionTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	req.Header.Set(SessionHeader, "sess-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

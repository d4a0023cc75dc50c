package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, CallerID(c).String())
	})
	return r
}

func do(r http.Handler, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newEngine(APIKeyMiddleware("secret"))

	assert.Equal(t, http.StatusUnauthorized, do(r, nil).Code)
	assert.Equal(t, http.StatusForbidden, do(r, map[string]string{"X-API-Key": "nope"}).Code)
	assert.Equal(t, http.StatusOK, do(r, map[string]string{"X-API-Key": "secret"}).Code)

	open := newEngine(APIKeyMiddleware(""))
	assert.Equal(t, http.StatusOK, do(open, nil).Code)
}

func TestIdentifyCaller(t *testing.T) {
	r := newEngine(IdentifyCaller())
	id := uuid.New()

	w := do(r, map[string]string{UserHeader: id.String()})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())

	w = do(r, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, uuid.Nil.String(), w.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(r, map[string]string{UserHeader: "alice"}).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, map[string]string{UserHeader: uuid.Nil.String()}).Code)
}

func TestRequireCaller(t *testing.T) {
	r := newEngine(IdentifyCaller(), RequireCaller())

	assert.Equal(t, http.StatusUnauthorized, do(r, nil).Code)
	assert.Equal(t, http.StatusOK, do(r, map[string]string{UserHeader: uuid.NewString()}).Code)
}

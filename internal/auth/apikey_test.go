package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(key))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		header  string
		query   string
		upgrade bool
		want    int
	}{
		{name: "disabled", key: "", want: http.StatusNoContent},
		{name: "missing", key: "s3cret", want: http.StatusUnauthorized},
		{name: "wrong", key: "s3cret", header: "nope", want: http.StatusForbidden},
		{name: "valid header", key: "s3cret", header: "s3cret", want: http.StatusNoContent},
		{name: "query ignored on plain request", key: "s3cret", query: "s3cret", want: http.StatusUnauthorized},
		{name: "query on upgrade", key: "s3cret", query: "s3cret", upgrade: true, want: http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/x"
			if tt.query != "" {
				url += "?api_key=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			if tt.upgrade {
				req.Header.Set("Upgrade", "websocket")
			}
			w := httptest.NewRecorder()
			newRouter(tt.key).ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

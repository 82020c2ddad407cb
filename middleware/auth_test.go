package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/hubsync/utils"
)

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORSMiddleware())
	r.GET("/secure", AuthMiddleware("s3cret"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"subject": c.GetString("subject")})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newRouter()
	valid, err := utils.GenerateToken("s3cret", "ops", "sync", time.Hour, time.Now())
	require.NoError(t, err)
	expired, err := utils.GenerateToken("s3cret", "ops", "sync", time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
		body   string
	}{
		{"无认证头", "", http.StatusUnauthorized, "缺少认证信息"},
		{"格式错误", "Token " + valid, http.StatusUnauthorized, "缺少认证信息"},
		{"已过期", "Bearer " + expired, http.StatusUnauthorized, "token已过期"},
		{"签名错误", "Bearer " + valid + "x", http.StatusUnauthorized, "token无效"},
		{"通过", "Bearer " + valid, http.StatusOK, `"subject":"ops"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/secure", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.body)
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodOptions, "/secure", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

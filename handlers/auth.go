package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/hubsync/utils"
)

type AuthHandler struct {
	APIKeyHash string
	Secret     string
	TTL        time.Duration
}

// IssueToken 用 API key 换取 token
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req struct {
		APIKey string `json:"api_key" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !utils.CheckKey(h.APIKeyHash, req.APIKey) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "API key 无效"})
		return
	}

	now := time.Now()
	token, err := utils.GenerateToken(h.Secret, "api", "sync", h.TTL, now)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": now.Add(h.TTL).UTC(),
	})
}

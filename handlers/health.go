package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck 一个依赖的探活
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type HealthHandler struct {
	Checks  []HealthCheck
	Timeout time.Duration
}

// Health 检查目标库、元数据库和 HubSpot
func (h *HealthHandler) Health(c *gin.Context) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	components := make(map[string]string, len(h.Checks))
	for _, check := range h.Checks {
		if err := check.Check(ctx); err != nil {
			components[check.Name] = err.Error()
			status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		components[check.Name] = "ok"
	}
	c.JSON(code, gin.H{
		"status":     status,
		"service":    "hubsync",
		"components": components,
	})
}

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/hubsync/service"
	"zh.xyz/dv/hubsync/warehouse"
)

// SchemaReporter 表结构报告
type SchemaReporter interface {
	Report(ctx context.Context) ([]service.ObjectSchema, error)
	EnsureCatalogColumns(ctx context.Context) ([]service.ObjectSchema, error)
}

// IntegrityChecker 引用完整性检查
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, limit int) (*warehouse.IntegrityReport, error)
}

type SchemaHandler struct {
	Schema    SchemaReporter
	Integrity IntegrityChecker
}

// Report 属性目录与本地列的差异
func (h *SchemaHandler) Report(c *gin.Context) {
	report, err := h.Schema.Report(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

// Ensure 按属性目录补齐扩展表的列
func (h *SchemaHandler) Ensure(c *gin.Context) {
	report, err := h.Schema.EnsureCatalogColumns(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "补列完成", "data": report})
}

// Integrity 各表行数和孤立关联
func (h *SchemaHandler) Integrity(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "1000"))
	report, err := h.Integrity.CheckIntegrity(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": report})
}

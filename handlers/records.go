package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"zh.xyz/dv/hubsync/fieldmap"
	"zh.xyz/dv/hubsync/warehouse"
)

// RecordStore 同步表的只读访问
type RecordStore interface {
	ListRecords(ctx context.Context, table string, page, pageSize int) (*warehouse.Page, error)
	GetRecord(ctx context.Context, cfg fieldmap.TableConfig, id string) (map[string]any, error)
	ContactDeals(ctx context.Context, contactID string) ([]warehouse.DealSummary, error)
}

type RecordHandler struct {
	Store RecordStore
}

// ListRecords 分页浏览 contacts / contacts_ext / deals / deals_ext / associations
func (h *RecordHandler) ListRecords(c *gin.Context) {
	table, ok := warehouse.TableForKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "不支持的类型: " + c.Param("kind")})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	result, err := h.Store.ListRecords(c.Request.Context(), table, page, pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetRecord 合并主表和扩展表的单条记录
func (h *RecordHandler) GetRecord(c *gin.Context) {
	cfg, err := fieldmap.Lookup(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record, err := h.Store.GetRecord(c.Request.Context(), cfg, c.Param("id"))
	if err != nil {
		if errors.Is(err, warehouse.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// ContactDeals 联系人关联的交易
func (h *RecordHandler) ContactDeals(c *gin.Context) {
	deals, err := h.Store.ContactDeals(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": deals, "total": len(deals)})
}

package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"zh.xyz/dv/hubsync/models"
	"zh.xyz/dv/hubsync/service"
)

// Syncer 同步服务
type Syncer interface {
	Run(ctx context.Context, opts service.SyncOptions) (*service.SyncResult, error)
	RunAsync(opts service.SyncOptions) (string, error)
	SyncAssociations(ctx context.Context, ids []string, opts service.SyncOptions) (*service.SyncResult, error)
}

// RunStore 同步记录查询
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.SyncRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
	ListLogs(ctx context.Context, runID string) ([]models.SyncLog, error)
}

type SyncHandler struct {
	Sync        Syncer
	Runs        RunStore
	DefaultDays int // 未指定窗口时的天数
	Location    *time.Location
}

type syncRequest struct {
	service.WindowOptions
	ContactIDs []string `json:"contact_ids" form:"contact_ids"`
}

// bindSync 读取 query 和 JSON body，body 优先
func (h *SyncHandler) bindSync(c *gin.Context) (syncRequest, bool) {
	var req syncRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return req, false
		}
	}
	w := &req.WindowOptions
	if w.Month == "" && w.Start == "" && w.End == "" && w.Days == 0 {
		w.Days = h.DefaultDays
	}
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	if _, err := service.ResolveWindow(req.WindowOptions, time.Now(), loc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return req, false
	}
	return req, true
}

func syncFailed(c *gin.Context, res *service.SyncResult, err error) {
	if errors.Is(err, service.ErrSyncInProgress) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   err.Error(),
		"result":  res,
	})
}

// RunSync 同步执行一次完整同步
func (h *SyncHandler) RunSync(c *gin.Context) {
	req, ok := h.bindSync(c)
	if !ok {
		return
	}
	// 客户端断开不中止同步
	res, err := h.Sync.Run(context.WithoutCancel(c.Request.Context()), service.SyncOptions{WindowOptions: req.WindowOptions, Trigger: "http"})
	if err != nil {
		syncFailed(c, res, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
}

// RunSyncAsync 后台同步，返回运行ID
func (h *SyncHandler) RunSyncAsync(c *gin.Context) {
	req, ok := h.bindSync(c)
	if !ok {
		return
	}
	id, err := h.Sync.RunAsync(service.SyncOptions{WindowOptions: req.WindowOptions, Trigger: "http"})
	if err != nil {
		syncFailed(c, nil, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"run_id":  id,
		"status":  "/api/v1/hubspot/runs/" + id,
	})
}

// SyncAssociations 只同步关联，contact_ids 为空时自动挑选
func (h *SyncHandler) SyncAssociations(c *gin.Context) {
	var req syncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := h.Sync.SyncAssociations(context.WithoutCancel(c.Request.Context()), req.ContactIDs, service.SyncOptions{Trigger: "http"})
	if err != nil {
		syncFailed(c, res, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": res})
}

// ListRuns 最近的同步记录
func (h *SyncHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.Runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}

// GetRun 单次同步记录
func (h *SyncHandler) GetRun(c *gin.Context) {
	run, err := h.Runs.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "同步记录不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": run})
}

// GetRunLogs 同步日志
func (h *SyncHandler) GetRunLogs(c *gin.Context) {
	logs, err := h.Runs.ListLogs(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "查询失败"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": logs})
}

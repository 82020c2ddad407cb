package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"zh.xyz/dv/hubsync/models"
)

// RunRecorder 同步运行记录
type RunRecorder interface {
	Start(ctx context.Context, run *models.SyncRun) error
	Finish(ctx context.Context, run *models.SyncRun) error
	Log(ctx context.Context, runID, logType, message string, details any)
}

// NopRecorder 不记录
type NopRecorder struct{}

func (NopRecorder) Start(context.Context, *models.SyncRun) error     { return nil }
func (NopRecorder) Finish(context.Context, *models.SyncRun) error    { return nil }
func (NopRecorder) Log(context.Context, string, string, string, any) {}

// GormRecorder 记录到元数据库
type GormRecorder struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRecorder 创建记录器
func NewGormRecorder(db *gorm.DB, logger *zap.Logger) *GormRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormRecorder{db: db, logger: logger}
}

// Start 新建运行记录
func (r *GormRecorder) Start(ctx context.Context, run *models.SyncRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("创建同步记录失败: %w", err)
	}
	return nil
}

// Finish 更新运行结果
func (r *GormRecorder) Finish(ctx context.Context, run *models.SyncRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("更新同步记录失败: %w", err)
	}
	return nil
}

// Log 写一条同步日志，失败只打印
func (r *GormRecorder) Log(ctx context.Context, runID, logType, message string, details any) {
	entry := models.SyncLog{
		RunID:     runID,
		LogType:   logType,
		Message:   message,
		CreatedAt: time.Now(),
	}
	if details != nil {
		if b, err := json.Marshal(details); err == nil {
			entry.Details = string(b)
		}
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		r.logger.Warn("写入同步日志失败", zap.String("run_id", runID), zap.Error(err))
	}
}

// GetRun 查询运行记录
func (r *GormRecorder) GetRun(ctx context.Context, id string) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns 最近的运行记录
func (r *GormRecorder) ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []models.SyncRun
	err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// ListLogs 运行的日志
func (r *GormRecorder) ListLogs(ctx context.Context, runID string) ([]models.SyncLog, error) {
	var logs []models.SyncLog
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&logs).Error
	return logs, err
}

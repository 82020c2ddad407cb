package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/fieldmap"
	"zh.xyz/dv/hubsync/hubspot"
)

// LastModifiedReader 读取本地记录的最后修改时间
type LastModifiedReader interface {
	LastModified(ctx context.Context, cfg fieldmap.TableConfig, id string) (time.Time, bool, error)
}

// ChangeDecision 变更判断结果
type ChangeDecision int

const (
	SyncChanged      ChangeDecision = iota // 时间不一致
	SyncUnchanged                          // 时间一致，跳过
	SyncFirstSeen                          // 本地不存在
	SyncNoRemoteTime                       // 远端没有修改时间
	SyncLookupFailed                       // 本地查询失败
)

// NeedsWrite 是否需要写入
func (d ChangeDecision) NeedsWrite() bool { return d != SyncUnchanged }

// ChangeDetector 比较远端与本地的最后修改时间，查询失败时按需要同步处理
type ChangeDetector struct {
	store  LastModifiedReader
	logger *zap.Logger
}

// NewChangeDetector 创建检测器
func NewChangeDetector(store LastModifiedReader, logger *zap.Logger) *ChangeDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChangeDetector{store: store, logger: logger}
}

// Decide 判断对象是否需要写入
func (d *ChangeDetector) Decide(ctx context.Context, cfg fieldmap.TableConfig, obj hubspot.Object) ChangeDecision {
	raw, ok := obj.Properties[cfg.LastModified]
	if !ok || !fieldmap.ShouldSync(raw) {
		return SyncNoRemoteTime
	}
	remote, ok := fieldmap.Coerce(raw).AsTime()
	if !ok {
		return SyncNoRemoteTime
	}

	local, found, err := d.store.LastModified(ctx, cfg, obj.ID)
	if err != nil {
		d.logger.Warn("读取本地修改时间失败，按需要同步处理",
			zap.String("object", cfg.ObjectType), zap.String("id", obj.ID), zap.Error(err))
		return SyncLookupFailed
	}
	if !found {
		return SyncFirstSeen
	}
	// 本地为 DATETIME(3)，按毫秒比较
	if remote.Truncate(time.Millisecond).Equal(local.Truncate(time.Millisecond)) {
		return SyncUnchanged
	}
	return SyncChanged
}

// NeedsSync 是否需要写入
func (d *ChangeDetector) NeedsSync(ctx context.Context, cfg fieldmap.TableConfig, obj hubspot.Object) bool {
	return d.Decide(ctx, cfg, obj).NeedsWrite()
}

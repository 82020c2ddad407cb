package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner 定时任务执行的同步
type Runner interface {
	Run(ctx context.Context, opts SyncOptions) (*SyncResult, error)
}

// Scheduler 定时同步
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	logger *zap.Logger
	days   int
}

// NewScheduler 创建调度器，表达式带秒字段
func NewScheduler(runner Runner, days int, loc *time.Location, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds(), cron.WithLocation(loc)),
		runner: runner,
		logger: logger,
		days:   days,
	}
}

// Add 注册定时同步
func (s *Scheduler) Add(spec string) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(spec, s.runOnce)
	if err != nil {
		return 0, fmt.Errorf("添加定时任务失败: %w", err)
	}
	s.logger.Info("已注册定时同步", zap.String("schedule", spec), zap.Int("days", s.days))
	return id, nil
}

func (s *Scheduler) runOnce() {
	opts := SyncOptions{WindowOptions: WindowOptions{Days: s.days}, Trigger: "cron"}
	res, err := s.runner.Run(context.Background(), opts)
	if err != nil {
		// 上一次还没结束时直接跳过
		s.logger.Warn("定时同步未完成", zap.Error(err))
		return
	}
	s.logger.Info("定时同步完成", zap.String("run_id", res.RunID))
}

// Entries 已注册的任务
func (s *Scheduler) Entries() []cron.Entry { return s.cron.Entries() }

// Start 启动调度
func (s *Scheduler) Start() { s.cron.Start() }

// Stop 停止调度并等待正在执行的任务
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }

package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/config"
	"zh.xyz/dv/hubsync/database"
	"zh.xyz/dv/hubsync/dbconn"
	"zh.xyz/dv/hubsync/handlers"
	"zh.xyz/dv/hubsync/hubspot"
	"zh.xyz/dv/hubsync/logger"
	"zh.xyz/dv/hubsync/mcpserver"
	"zh.xyz/dv/hubsync/service"
	"zh.xyz/dv/hubsync/warehouse"
)

// app 组装好的依赖
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	crm      *hubspot.Client
	store    *warehouse.Store
	recorder *service.GormRecorder
	sync     *service.SyncService
	schema   *service.SchemaService
}

func newApp(cfgPath string) (*app, error) {
	if err := config.LoadConfig(cfgPath); err != nil {
		return nil, err
	}
	cfg := config.GlobalConfig

	log, err := logger.Init(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := database.InitDatabase(); err != nil {
		return nil, fmt.Errorf("元数据库初始化失败: %w", err)
	}

	raw, err := dbconn.GetRawConnection(cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("连接目标库失败: %w", err)
	}

	opts, err := service.OptionsFromConfig(cfg.Sync)
	if err != nil {
		return nil, err
	}
	if n := service.NewEmailNotifier(cfg.Email, cfg.Sync.NotifyEmail, log); n != nil {
		opts.Notifier = n
	}

	a := &app{
		cfg:   cfg,
		log:   log,
		crm:   hubspot.NewClient(cfg.HubSpot.BaseURL, cfg.HubSpot.AccessToken, time.Duration(cfg.HubSpot.Timeout)*time.Second),
		store: warehouse.NewStore(raw, log.Named("warehouse")),
	}
	a.recorder = service.NewGormRecorder(database.DB, log)
	a.sync = service.NewSyncService(a.crm, a.store, a.recorder, log.Named("sync"), opts)
	a.schema = service.NewSchemaService(a.crm, a.store, log.Named("schema"))
	return a, nil
}

func (a *app) healthChecks() []handlers.HealthCheck {
	return []handlers.HealthCheck{
		{Name: "warehouse", Check: a.store.Ping},
		{Name: "metadata", Check: func(ctx context.Context) error {
			sqlDB, err := database.DB.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}},
		{Name: "hubspot", Check: a.crm.Ping},
	}
}

func (a *app) mcp() *mcpserver.Server {
	return mcpserver.New(mcpserver.Deps{
		Sync:        a.sync,
		Runs:        a.recorder,
		Store:       a.store,
		Schema:      a.schema,
		DefaultDays: a.cfg.Sync.DefaultDays,
		Logger:      a.log.Named("mcp"),
	}, version)
}

func (a *app) close() {
	dbconn.CloseAll()
	if database.DB != nil {
		if sqlDB, err := database.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	logger.Sync()
}

package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/handlers"
	"zh.xyz/dv/hubsync/middleware"
)

// Handlers 路由依赖
type Handlers struct {
	Auth    *handlers.AuthHandler
	Health  *handlers.HealthHandler
	Sync    *handlers.SyncHandler
	Records *handlers.RecordHandler
	Schema  *handlers.SchemaHandler
	MCP     http.Handler // 为 nil 时不挂载
	Secret  string
	Logger  *zap.Logger
}

func SetupRoutes(r *gin.Engine, h Handlers) {
	// CORS中间件
	r.Use(middleware.CORSMiddleware())
	if h.Logger != nil {
		r.Use(middleware.RequestLogger(h.Logger))
	}

	// 公共路由
	public := r.Group("/api/v1")
	{
		public.GET("/health", h.Health.Health)
		public.POST("/token", h.Auth.IssueToken)
	}

	// 需要认证的路由
	auth := r.Group("/api/v1")
	auth.Use(middleware.AuthMiddleware(h.Secret))
	{
		hub := auth.Group("/hubspot")

		// 同步
		hub.POST("/sync", h.Sync.RunSync)
		hub.POST("/sync/async", h.Sync.RunSyncAsync)
		hub.POST("/associations/sync", h.Sync.SyncAssociations)

		// 同步记录子资源路由
		runs := hub.Group("/runs")
		{
			runs.GET("", h.Sync.ListRuns)
			runs.GET("/:id/logs", h.Sync.GetRunLogs)
			runs.GET("/:id", h.Sync.GetRun)
		}

		// 表结构与完整性
		hub.GET("/schema", h.Schema.Report)
		hub.POST("/schema/ensure", h.Schema.Ensure)
		hub.GET("/integrity", h.Schema.Integrity)

		// 数据浏览
		hub.GET("/records/:kind", h.Records.ListRecords)
		hub.GET("/records/:kind/:id", h.Records.GetRecord)
		hub.GET("/contacts/:id/deals", h.Records.ContactDeals)

		if h.MCP != nil {
			auth.Any("/mcp", gin.WrapH(h.MCP))
		}
	}
}

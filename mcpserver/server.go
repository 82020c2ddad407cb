package mcpserver

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/models"
	"zh.xyz/dv/hubsync/service"
	"zh.xyz/dv/hubsync/warehouse"
)

// Syncer 同步服务
type Syncer interface {
	Run(ctx context.Context, opts service.SyncOptions) (*service.SyncResult, error)
}

// RunLister 同步记录
type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
}

// Warehouse 只读查询
type Warehouse interface {
	ContactDeals(ctx context.Context, contactID string) ([]warehouse.DealSummary, error)
	CheckIntegrity(ctx context.Context, limit int) (*warehouse.IntegrityReport, error)
}

// SchemaReporter 表结构报告
type SchemaReporter interface {
	Report(ctx context.Context) ([]service.ObjectSchema, error)
}

// Deps 工具依赖
type Deps struct {
	Sync        Syncer
	Runs        RunLister
	Store       Warehouse
	Schema      SchemaReporter
	DefaultDays int
	Logger      *zap.Logger
}

// Server MCP 工具集
type Server struct {
	deps Deps
	srv  *mcp.Server
}

// New 创建并注册全部工具
func New(deps Deps, version string) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{deps: deps}
	s.srv = mcp.NewServer(&mcp.Implementation{
		Name:    "hubsync",
		Version: version,
	}, nil)
	s.register()
	return s
}

func (s *Server) register() {
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "hubspot_sync",
		Description: "Run a HubSpot contacts/deals/associations sync into MySQL for a time window",
	}, s.Sync)

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "hubspot_sync_runs",
		Description: "List recent sync runs with their status and counts",
	}, s.SyncRuns)

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "hubspot_contact_deals",
		Description: "List the deals linked to a HubSpot contact in the local warehouse",
	}, s.ContactDeals)

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "hubspot_integrity_check",
		Description: "Count rows per table and list associations whose contact or deal is missing",
	}, s.IntegrityCheck)

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        "hubspot_schema_report",
		Description: "Compare HubSpot property catalogs with local warehouse columns",
	}, s.SchemaReport)
}

// MCP 底层 server
func (s *Server) MCP() *mcp.Server { return s.srv }

// RunStdio 在 stdio 上运行
func (s *Server) RunStdio(ctx context.Context) error {
	s.deps.Logger.Info("MCP server 启动 (stdio)")
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler streamable HTTP 传输
func (s *Server) HTTPHandler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.srv
	}, nil)
}

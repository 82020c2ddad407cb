package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/service"
)

type SyncInput struct {
	Days  int    `json:"days,omitempty" jsonschema:"Number of days to sync, including today"`
	Month string `json:"month,omitempty" jsonschema:"Calendar month to sync, YYYY-MM"`
	Start string `json:"start,omitempty" jsonschema:"Window start, YYYY-MM-DD or ISO 8601"`
	End   string `json:"end,omitempty" jsonschema:"Window end, YYYY-MM-DD (whole day) or ISO 8601"`
}

type RunsInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum runs to return (default 20)"`
}

type ContactDealsInput struct {
	ContactID string `json:"contact_id" jsonschema:"HubSpot contact id (required)"`
}

type IntegrityInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum orphan rows to return (default 100)"`
}

type SchemaInput struct{}

// jsonResult 结果序列化为文本内容
func jsonResult(v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("序列化结果失败: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}, nil, nil
}

// Sync hubspot_sync
func (s *Server) Sync(ctx context.Context, _ *mcp.CallToolRequest, in SyncInput) (*mcp.CallToolResult, any, error) {
	opts := service.WindowOptions{Days: in.Days, Month: in.Month, Start: in.Start, End: in.End}
	if opts.Days == 0 && opts.Month == "" && opts.Start == "" && opts.End == "" {
		opts.Days = s.deps.DefaultDays
	}
	res, err := s.deps.Sync.Run(context.WithoutCancel(ctx), service.SyncOptions{WindowOptions: opts, Trigger: "mcp"})
	if err != nil {
		if errors.Is(err, service.ErrSyncInProgress) || res == nil {
			return nil, nil, err
		}
		s.deps.Logger.Warn("MCP 同步失败", zap.String("run_id", res.RunID), zap.Error(err))
		out, _, jerr := jsonResult(res)
		if jerr != nil {
			return nil, nil, err
		}
		out.IsError = true
		return out, nil, nil
	}
	return jsonResult(res)
}

// SyncRuns hubspot_sync_runs
func (s *Server) SyncRuns(ctx context.Context, _ *mcp.CallToolRequest, in RunsInput) (*mcp.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.deps.Runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("查询同步记录失败: %w", err)
	}
	return jsonResult(map[string]any{"runs": runs, "count": len(runs)})
}

// ContactDeals hubspot_contact_deals
func (s *Server) ContactDeals(ctx context.Context, _ *mcp.CallToolRequest, in ContactDealsInput) (*mcp.CallToolResult, any, error) {
	if in.ContactID == "" {
		return nil, nil, errors.New("contact_id is required")
	}
	deals, err := s.deps.Store.ContactDeals(ctx, in.ContactID)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{"contact_id": in.ContactID, "deals": deals})
}

// IntegrityCheck hubspot_integrity_check
func (s *Server) IntegrityCheck(ctx context.Context, _ *mcp.CallToolRequest, in IntegrityInput) (*mcp.CallToolResult, any, error) {
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}
	report, err := s.deps.Store.CheckIntegrity(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(report)
}

// SchemaReport hubspot_schema_report
func (s *Server) SchemaReport(ctx context.Context, _ *mcp.CallToolRequest, _ SchemaInput) (*mcp.CallToolResult, any, error) {
	report, err := s.deps.Schema.Report(ctx)
	if err != nil {
		return nil, nil, err
	}
	return jsonResult(map[string]any{"objects": report})
}

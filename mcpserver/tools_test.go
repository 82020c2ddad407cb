package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"zh.xyz/dv/hubsync/models"
	"zh.xyz/dv/hubsync/service"
	"zh.xyz/dv/hubsync/warehouse"
)

type fakeDeps struct {
	ctxErr error
	opts   service.SyncOptions
	result *service.SyncResult
	err    error
}

func (f *fakeDeps) Run(ctx context.Context, opts service.SyncOptions) (*service.SyncResult, error) {
	f.ctxErr = ctx.Err()
	f.opts = opts
	return f.result, f.err
}

func (f *fakeDeps) ListRuns(_ context.Context, limit int) ([]models.SyncRun, error) {
	runs := []models.SyncRun{{ID: "r1", Status: models.RunStatusSuccess}, {ID: "r2", Status: models.RunStatusFailed}}
	return runs[:min(limit, len(runs))], nil
}

func (f *fakeDeps) ContactDeals(_ context.Context, contactID string) ([]warehouse.DealSummary, error) {
	return []warehouse.DealSummary{{DealID: "201", DealName: "D1"}}, nil
}

func (f *fakeDeps) CheckIntegrity(_ context.Context, limit int) (*warehouse.IntegrityReport, error) {
	return &warehouse.IntegrityReport{Counts: map[string]int64{"hub_deals": 1}, Healthy: true}, nil
}

func (f *fakeDeps) Report(context.Context) ([]service.ObjectSchema, error) {
	return []service.ObjectSchema{{ObjectType: "deals", Missing: []string{"deal_priority"}}}, nil
}

func newTestServer(f *fakeDeps) *Server {
	return New(Deps{Sync: f, Runs: f, Store: f, Schema: f, DefaultDays: 30}, "test")
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestSyncTool(t *testing.T) {
	f := &fakeDeps{result: &service.SyncResult{RunID: "r9"}}
	s := newTestServer(f)

	res, _, err := s.Sync(context.Background(), nil, SyncInput{})
	require.NoError(t, err)
	assert.Equal(t, 30, f.opts.Days)
	assert.Equal(t, "mcp", f.opts.Trigger)
	assert.Contains(t, text(t, res), `"run_id": "r9"`)
	assert.False(t, res.IsError)

	_, _, err = s.Sync(context.Background(), nil, SyncInput{Month: "2024-02"})
	require.NoError(t, err)
	assert.Zero(t, f.opts.Days)
	assert.Equal(t, "2024-02", f.opts.Month)
}

func TestSyncToolIgnoresCancelledRequest(t *testing.T) {
	f := &fakeDeps{result: &service.SyncResult{RunID: "r9"}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := newTestServer(f).Sync(ctx, nil, SyncInput{})
	require.NoError(t, err)
	assert.NoError(t, f.ctxErr)
}

func TestSyncToolFailure(t *testing.T) {
	f := &fakeDeps{result: &service.SyncResult{RunID: "r9", Error: "boom"}, err: errors.New("boom")}
	res, _, err := newTestServer(f).Sync(context.Background(), nil, SyncInput{Days: 1})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "boom")

	f = &fakeDeps{err: service.ErrSyncInProgress}
	_, _, err = newTestServer(f).Sync(context.Background(), nil, SyncInput{})
	assert.ErrorIs(t, err, service.ErrSyncInProgress)
}

func TestReadOnlyTools(t *testing.T) {
	s := newTestServer(&fakeDeps{})
	ctx := context.Background()

	res, _, err := s.SyncRuns(ctx, nil, RunsInput{Limit: 1})
	require.NoError(t, err)
	var runs struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &runs))
	assert.Equal(t, 1, runs.Count)

	_, _, err = s.ContactDeals(ctx, nil, ContactDealsInput{})
	assert.Error(t, err)
	res, _, err = s.ContactDeals(ctx, nil, ContactDealsInput{ContactID: "101"})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"hubspot_deal_id": "201"`)

	res, _, err = s.IntegrityCheck(ctx, nil, IntegrityInput{})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), `"healthy": true`)

	res, _, err = s.SchemaReport(ctx, nil, SchemaInput{})
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "deal_priority")
}

func TestToolsOverInMemoryTransport(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(&fakeDeps{})

	ct, st := mcp.NewInMemoryTransports()
	ss, err := s.MCP().Connect(ctx, st, nil)
	require.NoError(t, err)
	defer ss.Close()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	require.NoError(t, err)
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{
		"hubspot_sync", "hubspot_sync_runs", "hubspot_contact_deals",
		"hubspot_integrity_check", "hubspot_schema_report",
	}, names)

	res, err := cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      "hubspot_contact_deals",
		Arguments: map[string]any{"contact_id": "101"},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "D1")
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"zh.xyz/dv/hubsync/fieldmap"
	"zh.xyz/dv/hubsync/hubspot"
	"zh.xyz/dv/hubsync/models"
)

// fakeCRM 内存中的 HubSpot
type fakeCRM struct {
	mu         sync.Mutex
	catalog    map[string][]hubspot.Property
	contacts   []hubspot.Object
	deals      map[string]hubspot.Object
	links      map[string][]string // contact -> deals
	assocErr   map[int]error       // 第 n 次关联请求返回的错误
	searchErrs []error             // 依次返回的搜索错误
	propsErr   error

	searches   []hubspot.SearchRequest
	batchReads [][]string
	assocCalls [][]string
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		catalog: map[string][]hubspot.Property{
			"contacts": {
				{Name: "email", Type: "string"},
				{Name: "lastmodifieddate", Type: "datetime"},
				{Name: "custom_score", Type: "number"},
				{Name: "industry", Type: "enumeration"},
			},
			"deals": {
				{Name: "dealname", Type: "string"},
				{Name: "hs_lastmodifieddate", Type: "datetime"},
				{Name: "amount", Type: "number"},
				{Name: "deal_priority", Type: "enumeration"},
			},
		},
		deals:    make(map[string]hubspot.Object),
		links:    make(map[string][]string),
		assocErr: make(map[int]error),
	}
}

func (f *fakeCRM) Properties(_ context.Context, objectType string) ([]hubspot.Property, error) {
	if f.propsErr != nil {
		return nil, f.propsErr
	}
	return f.catalog[objectType], nil
}

func (f *fakeCRM) Search(_ context.Context, _ string, req hubspot.SearchRequest) (*hubspot.SearchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, req)
	if len(f.searchErrs) > 0 {
		err := f.searchErrs[0]
		f.searchErrs = f.searchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	offset := 0
	if req.After != "" {
		offset, _ = strconv.Atoi(req.After)
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	end := min(offset+limit, len(f.contacts))
	resp := &hubspot.SearchResponse{Total: len(f.contacts), Results: f.contacts[offset:end]}
	if end < len(f.contacts) {
		resp.Paging = &hubspot.Paging{Next: &struct {
			After string `json:"after"`
		}{After: strconv.Itoa(end)}}
	}
	return resp, nil
}

func (f *fakeCRM) BatchRead(_ context.Context, _ string, ids, _ []string) ([]hubspot.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchReads = append(f.batchReads, append([]string(nil), ids...))
	var out []hubspot.Object
	for _, id := range ids {
		if d, ok := f.deals[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeCRM) BatchAssociations(_ context.Context, _, _ string, ids []string) ([]hubspot.AssociationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assocCalls = append(f.assocCalls, append([]string(nil), ids...))
	if err := f.assocErr[len(f.assocCalls)]; err != nil {
		return nil, err
	}
	var out []hubspot.AssociationResult
	for _, id := range ids {
		deals := f.links[id]
		if len(deals) == 0 {
			continue
		}
		var res hubspot.AssociationResult
		res.From.ID = id
		for _, d := range deals {
			res.To = append(res.To, hubspot.AssociationTarget{ID: d, Type: "contact_to_deal"})
		}
		out = append(out, res)
	}
	return out, nil
}

func contact(id, modified string, props map[string]any) hubspot.Object {
	p := map[string]any{"lastmodifieddate": modified}
	for k, v := range props {
		p[k] = v
	}
	return hubspot.Object{ID: id, Properties: p}
}

func deal(id, modified string, props map[string]any) hubspot.Object {
	p := map[string]any{"hs_lastmodifieddate": modified}
	for k, v := range props {
		p[k] = v
	}
	return hubspot.Object{ID: id, Properties: p}
}

type assocKey struct{ contact, deal string }

// fakeWarehouse 内存中的目标库
type fakeWarehouse struct {
	mu          sync.Mutex
	columns     map[string]map[string]string
	rows        map[string]map[string]fieldmap.Row
	assocs      map[assocKey]string
	candidates  []string
	upsertErr   map[string]error // id -> 错误
	addErr      map[string]error // 列名 -> 错误
	columnsErr  error
	lookupErr   error
	ensureCalls int
	upsertCalls int
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		columns:   make(map[string]map[string]string),
		rows:      make(map[string]map[string]fieldmap.Row),
		assocs:    make(map[assocKey]string),
		upsertErr: make(map[string]error),
		addErr:    make(map[string]error),
	}
}

func (w *fakeWarehouse) EnsureTables(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensureCalls++
	for _, cfg := range fieldmap.All() {
		if _, ok := w.columns[cfg.Table]; !ok {
			cols := map[string]string{
				cfg.PrimaryKey: "bigint",
				cfg.IDColumn:   "varchar",
				"created_at":   "timestamp",
				"updated_at":   "timestamp",
			}
			for _, c := range cfg.StaticColumns {
				cols[c.Name] = fieldmap.NormalizeColumnType(c.Type)
			}
			w.columns[cfg.Table] = cols
		}
		if _, ok := w.columns[cfg.ExtensionTable]; !ok {
			w.columns[cfg.ExtensionTable] = map[string]string{
				cfg.IDColumn: "varchar",
				"created_at": "timestamp",
				"updated_at": "timestamp",
			}
		}
	}
	return nil
}

func (w *fakeWarehouse) Columns(_ context.Context, table string) (map[string]string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.columnsErr != nil {
		return nil, w.columnsErr
	}
	cols, ok := w.columns[table]
	if !ok {
		return nil, fmt.Errorf("表 %s 不存在", table)
	}
	out := make(map[string]string, len(cols))
	for k, v := range cols {
		out[k] = v
	}
	return out, nil
}

func (w *fakeWarehouse) AddColumn(_ context.Context, table, column, columnType string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.addErr[column]; err != nil {
		return err
	}
	w.columns[table][strings.ToLower(column)] = fieldmap.NormalizeColumnType(columnType)
	return nil
}

func (w *fakeWarehouse) Upsert(_ context.Context, table, idColumn string, row fieldmap.Row) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, _ := row[idColumn].(string)
	if id == "" {
		return false, errors.New("缺少 id")
	}
	if err := w.upsertErr[id]; err != nil {
		return false, err
	}
	if !row.HasData(idColumn) {
		return false, nil
	}
	w.upsertCalls++
	if w.rows[table] == nil {
		w.rows[table] = make(map[string]fieldmap.Row)
	}
	existing := w.rows[table][id]
	if existing == nil {
		existing = fieldmap.Row{}
		w.rows[table][id] = existing
	}
	for k, v := range row {
		existing[k] = v
	}
	return true, nil
}

func (w *fakeWarehouse) row(table, id string) fieldmap.Row {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows[table][id]
}

func (w *fakeWarehouse) LastModified(_ context.Context, cfg fieldmap.TableConfig, id string) (time.Time, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lookupErr != nil {
		return time.Time{}, false, w.lookupErr
	}
	r, ok := w.rows[cfg.Table][id]
	if !ok {
		return time.Time{}, false, nil
	}
	t, ok := r[cfg.LastModified].(time.Time)
	return t, ok, nil
}

func (w *fakeWarehouse) ExistingIDs(_ context.Context, cfg fieldmap.TableConfig, ids []string) (map[string]bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make(map[string]bool)
	for _, id := range ids {
		if _, ok := w.rows[cfg.Table][id]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (w *fakeWarehouse) UpsertAssociation(_ context.Context, contactID, dealID, typ string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	k := assocKey{contactID, dealID}
	_, existed := w.assocs[k]
	w.assocs[k] = typ
	return !existed, nil
}

func (w *fakeWarehouse) AssociationCandidates(context.Context, time.Time, int) ([]string, error) {
	return w.candidates, nil
}

// memRecorder 内存中的运行记录
type memRecorder struct {
	mu      sync.Mutex
	started []models.SyncRun
	runs    map[string]models.SyncRun
	logs    []models.SyncLog
}

func newMemRecorder() *memRecorder {
	return &memRecorder{runs: make(map[string]models.SyncRun)}
}

func (r *memRecorder) Start(_ context.Context, run *models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, *run)
	r.runs[run.ID] = *run
	return nil
}

func (r *memRecorder) Finish(_ context.Context, run *models.SyncRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = *run
	return nil
}

func (r *memRecorder) Log(_ context.Context, runID, logType, message string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, models.SyncLog{RunID: runID, LogType: logType, Message: message})
}

func (r *memRecorder) run(id string) models.SyncRun {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[id]
}

type captureNotifier struct {
	calls int
	last  *SyncResult
	err   error
}

func (n *captureNotifier) NotifyFailure(_ context.Context, result *SyncResult, err error) error {
	n.calls++
	n.last = result
	n.err = err
	return nil
}

var testNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testOptions() Options {
	opts := DefaultOptions()
	opts.PageDelay = 0
	opts.BatchDelay = 0
	opts.Sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	opts.Now = func() time.Time { return testNow }
	return opts
}

package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"zh.xyz/dv/hubsync/fieldmap"
	"zh.xyz/dv/hubsync/hubspot"
	"zh.xyz/dv/hubsync/models"
)

// ErrSyncInProgress 已有同步在运行
var ErrSyncInProgress = errors.New("已有同步任务在运行")

// CRM HubSpot 接口
type CRM interface {
	hubspot.Searcher
	AssociationReader
	Properties(ctx context.Context, objectType string) ([]hubspot.Property, error)
	BatchRead(ctx context.Context, objectType string, ids, properties []string) ([]hubspot.Object, error)
}

// Warehouse 目标库接口
type Warehouse interface {
	fieldmap.SchemaStore
	LastModifiedReader
	AssociationStore
	EnsureTables(ctx context.Context) error
	Upsert(ctx context.Context, table, idColumn string, row fieldmap.Row) (bool, error)
	AssociationCandidates(ctx context.Context, since time.Time, limit int) ([]string, error)
}

// Notifier 同步失败通知
type Notifier interface {
	NotifyFailure(ctx context.Context, result *SyncResult, err error) error
}

// Options 同步参数
type Options struct {
	Retry      hubspot.RetryPolicy
	PageSize   int
	PageDelay  time.Duration // 两页之间的最小间隔
	BatchDelay time.Duration // 关联批次、交易批次之间的最小间隔
	Location   *time.Location
	Sleep      hubspot.SleepFunc
	Now        func() time.Time
	Notifier   Notifier
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		Retry:      hubspot.DefaultRetryPolicy(),
		PageSize:   hubspot.DefaultPageSize,
		PageDelay:  100 * time.Millisecond,
		BatchDelay: 200 * time.Millisecond,
		Location:   time.UTC,
		Sleep:      hubspot.Sleep,
		Now:        time.Now,
	}
}

// ObjectStats 单类对象统计
type ObjectStats struct {
	Fetched       int `json:"fetched"`
	Synced        int `json:"synced"`
	Skipped       int `json:"skipped"` // 未变化
	Failed        int `json:"failed"`
	Total         int `json:"total"` // HubSpot 报告的总数
	DroppedFields int `json:"dropped_fields"`
}

// SyncResult 同步结果，失败时也包含已完成的计数
type SyncResult struct {
	RunID        string           `json:"run_id"`
	Kind         string           `json:"kind"`
	Window       *Window          `json:"window,omitempty"`
	Contacts     ObjectStats      `json:"contacts"`
	Deals        ObjectStats      `json:"deals"`
	Associations AssociationStats `json:"associations"`
	Stage        string           `json:"stage"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	Error        string           `json:"error,omitempty"`
}

// SyncOptions 一次同步的输入
type SyncOptions struct {
	WindowOptions
	RunID   string `json:"run_id,omitempty"`
	Trigger string `json:"trigger,omitempty"`
}

const (
	RunKindFull         = "full"
	RunKindAssociations = "associations"
)

const (
	candidateWindow = 7 * 24 * time.Hour
	candidateLimit  = 2000
)

// SyncService HubSpot 同步
type SyncService struct {
	crm        CRM
	store      Warehouse
	recorder   RunRecorder
	logger     *zap.Logger
	opts       Options
	reconciler *fieldmap.Reconciler
	detector   *ChangeDetector

	running sync.Mutex
}

// NewSyncService 创建同步服务
func NewSyncService(crm CRM, store Warehouse, recorder RunRecorder, logger *zap.Logger, opts Options) *SyncService {
	def := DefaultOptions()
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = def.Retry
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.Location == nil {
		opts.Location = def.Location
	}
	if opts.Sleep == nil {
		opts.Sleep = def.Sleep
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncService{
		crm:        crm,
		store:      store,
		recorder:   recorder,
		logger:     logger,
		opts:       opts,
		reconciler: fieldmap.NewReconciler(store, logger),
		detector:   NewChangeDetector(store, logger),
	}
}

func (s *SyncService) limiter(d time.Duration) *rate.Limiter {
	if d <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(d), 1)
}

func (s *SyncService) newRetrier() *hubspot.Retrier {
	return hubspot.NewRetrier(s.opts.Retry, s.logger).WithSleep(s.opts.Sleep)
}

// run 一次运行的状态
type run struct {
	result *SyncResult
	record *models.SyncRun
	log    *zap.Logger
}

func (s *SyncService) begin(ctx context.Context, kind string, opts SyncOptions) *run {
	id := opts.RunID
	if id == "" {
		id = uuid.NewString()
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = "manual"
	}
	now := s.opts.Now()
	r := &run{
		result: &SyncResult{RunID: id, Kind: kind, StartedAt: now},
		record: &models.SyncRun{ID: id, Kind: kind, Trigger: trigger, Status: models.RunStatusRunning, StartedAt: now},
		log:    s.logger.With(zap.String("run_id", id), zap.String("kind", kind)),
	}
	if err := s.recorder.Start(ctx, r.record); err != nil {
		r.log.Warn("记录同步开始失败", zap.Error(err))
	}
	return r
}

func (s *SyncService) stage(ctx context.Context, r *run, name string) {
	r.result.Stage = name
	r.log.Info("同步阶段", zap.String("stage", name))
	s.recorder.Log(ctx, r.result.RunID, models.LogTypeInfo, "开始阶段: "+name, nil)
}

// finish 记录运行结果。失败时总是带上已完成的计数。
func (s *SyncService) finish(ctx context.Context, r *run, err error) {
	res := r.result
	res.FinishedAt = s.opts.Now()
	rec := r.record
	fillRecord(rec, res)
	rec.FinishedAt = &res.FinishedAt

	fields := []zap.Field{
		zap.String("stage", res.Stage),
		zap.Int("contacts_synced", res.Contacts.Synced),
		zap.Int("contacts_skipped", res.Contacts.Skipped),
		zap.Int("deals_synced", res.Deals.Synced),
		zap.Int("associations_inserted", res.Associations.Inserted),
		zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
	}
	// 不让调用方的取消影响结果记录
	recordCtx := context.WithoutCancel(ctx)
	if err != nil {
		res.Error = err.Error()
		rec.Status = models.RunStatusFailed
		rec.Error = err.Error()
		r.log.Error("同步失败", append(fields, zap.Error(err))...)
		s.recorder.Log(recordCtx, res.RunID, models.LogTypeError, "同步失败: "+err.Error(), res)
		if s.opts.Notifier != nil {
			if nerr := s.opts.Notifier.NotifyFailure(recordCtx, res, err); nerr != nil {
				r.log.Warn("发送失败通知失败", zap.Error(nerr))
			}
		}
	} else {
		rec.Status = models.RunStatusSuccess
		r.log.Info("同步完成", fields...)
		s.recorder.Log(recordCtx, res.RunID, models.LogTypeInfo, "同步完成", res)
	}
	if ferr := s.recorder.Finish(recordCtx, rec); ferr != nil {
		r.log.Warn("记录同步结果失败", zap.Error(ferr))
	}
}

func fillRecord(rec *models.SyncRun, res *SyncResult) {
	if res.Window != nil {
		start, end := res.Window.Start.UTC(), res.Window.End.UTC()
		rec.WindowStart = &start
		rec.WindowEnd = &end
	}
	rec.ContactsFetched = res.Contacts.Fetched
	rec.ContactsSynced = res.Contacts.Synced
	rec.ContactsSkipped = res.Contacts.Skipped
	rec.ContactsFailed = res.Contacts.Failed
	rec.DealsFetched = res.Deals.Fetched
	rec.DealsSynced = res.Deals.Synced
	rec.DealsSkipped = res.Deals.Skipped
	rec.DealsFailed = res.Deals.Failed
	rec.AssociationsFound = res.Associations.Discovered
	rec.AssociationsInserted = res.Associations.Inserted
	rec.AssociationsRefreshed = res.Associations.Refreshed
	rec.AssociationsDeferred = res.Associations.Deferred
}

// NewRunID 生成运行 ID
func NewRunID() string { return uuid.NewString() }

// Run 完整同步：建表 -> 属性目录 -> 窗口 -> 联系人 -> 查询关联 -> 按 ID 同步交易 -> 写入关联。
// 任一阶段失败即整体失败，返回的结果包含失败前的计数。
func (s *SyncService) Run(ctx context.Context, opts SyncOptions) (*SyncResult, error) {
	if !s.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.running.Unlock()

	r := s.begin(ctx, RunKindFull, opts)
	err := s.runFull(ctx, r, opts.WindowOptions)
	s.finish(ctx, r, err)
	return r.result, err
}

func (s *SyncService) runFull(ctx context.Context, r *run, wopts WindowOptions) error {
	res := r.result

	s.stage(ctx, r, "ensure_tables")
	if err := s.store.EnsureTables(ctx); err != nil {
		return fmt.Errorf("建表失败: %w", err)
	}

	s.stage(ctx, r, "properties")
	retrier := s.newRetrier()
	contactProps, err := s.propertyNames(ctx, retrier, fieldmap.Contacts)
	if err != nil {
		return err
	}
	dealProps, err := s.propertyNames(ctx, retrier, fieldmap.Deals)
	if err != nil {
		return err
	}

	s.stage(ctx, r, "window")
	window, err := ResolveWindow(wopts, s.opts.Now(), s.opts.Location)
	if err != nil {
		return fmt.Errorf("同步窗口无效: %w", err)
	}
	res.Window = &window
	r.log.Info("同步窗口", zap.Time("start", window.Start), zap.Time("end", window.End))

	s.stage(ctx, r, "contacts")
	contactIDs, err := s.syncContacts(ctx, r, retrier, window, contactProps)
	if err != nil {
		return err
	}

	return s.reconcileAssociations(ctx, r, retrier, contactIDs, dealProps)
}

// reconcileAssociations 查询关联 -> 同步交易 -> 写入关联
func (s *SyncService) reconcileAssociations(ctx context.Context, r *run, retrier *hubspot.Retrier, contactIDs, dealProps []string) error {
	res := r.result

	s.stage(ctx, r, "discover_associations")
	assoc := NewAssociationReconciler(s.crm, s.store, s.newRetrier(), s.limiter(s.opts.BatchDelay), r.log)
	pending, err := assoc.Discover(ctx, contactIDs)
	res.Associations.Contacts = len(contactIDs)
	res.Associations.Discovered = len(pending.Pairs)
	res.Associations.FailedBatches = pending.FailedBatches
	if err != nil {
		return fmt.Errorf("查询关联失败: %w", err)
	}
	if pending.FailedBatches > 0 {
		s.recorder.Log(ctx, res.RunID, models.LogTypeWarning,
			fmt.Sprintf("%d 个关联批次查询失败已跳过", pending.FailedBatches), nil)
	}

	s.stage(ctx, r, "deals")
	if err := s.syncDealsByID(ctx, r, retrier, pending.DealIDs(), dealProps); err != nil {
		return err
	}

	s.stage(ctx, r, "persist_associations")
	stats, err := assoc.Persist(ctx, pending)
	stats.Contacts = len(contactIDs)
	res.Associations = stats
	if err != nil {
		return fmt.Errorf("写入关联失败: %w", err)
	}
	if stats.Deferred > 0 {
		s.recorder.Log(ctx, res.RunID, models.LogTypeWarning,
			fmt.Sprintf("%d 条关联一端不在本地，暂不写入", stats.Deferred), nil)
	}
	return nil
}

// SyncAssociations 只同步关联。ids 为空时按本地联系人挑选候选。
func (s *SyncService) SyncAssociations(ctx context.Context, ids []string, opts SyncOptions) (*SyncResult, error) {
	if !s.running.TryLock() {
		return nil, ErrSyncInProgress
	}
	defer s.running.Unlock()

	r := s.begin(ctx, RunKindAssociations, opts)
	err := func() error {
		s.stage(ctx, r, "ensure_tables")
		if err := s.store.EnsureTables(ctx); err != nil {
			return fmt.Errorf("建表失败: %w", err)
		}

		retrier := s.newRetrier()
		s.stage(ctx, r, "properties")
		dealProps, err := s.propertyNames(ctx, retrier, fieldmap.Deals)
		if err != nil {
			return err
		}

		if len(ids) == 0 {
			s.stage(ctx, r, "candidates")
			since := s.opts.Now().Add(-candidateWindow)
			ids, err = s.store.AssociationCandidates(ctx, since, candidateLimit)
			if err != nil {
				return err
			}
			r.log.Info("候选联系人", zap.Int("count", len(ids)))
		}
		return s.reconcileAssociations(ctx, r, retrier, ids, dealProps)
	}()
	s.finish(ctx, r, err)
	return r.result, err
}

// RunAsync 后台执行完整同步，立即返回运行 ID
func (s *SyncService) RunAsync(opts SyncOptions) (string, error) {
	if opts.RunID == "" {
		opts.RunID = NewRunID()
	}
	if !s.running.TryLock() {
		return "", ErrSyncInProgress
	}
	// 锁在后台任务中释放
	go func() {
		defer s.running.Unlock()
		ctx := context.Background()
		r := s.begin(ctx, RunKindFull, opts)
		err := s.runFull(ctx, r, opts.WindowOptions)
		s.finish(ctx, r, err)
	}()
	return opts.RunID, nil
}

func (s *SyncService) propertyNames(ctx context.Context, retrier *hubspot.Retrier, cfg fieldmap.TableConfig) ([]string, error) {
	var props []hubspot.Property
	err := retrier.Do(ctx, "properties "+cfg.ObjectType, func(ctx context.Context) error {
		p, err := s.crm.Properties(ctx, cfg.ObjectType)
		if err != nil {
			return err
		}
		props = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("获取 %s 属性目录失败: %w", cfg.ObjectType, err)
	}

	var skip map[string]bool
	if cfg.ObjectType == fieldmap.Contacts.ObjectType {
		skip = hubspot.ContactSkipProperties
	}
	names := hubspot.PropertyNames(props, skip)
	s.logger.Info("属性目录",
		zap.String("object", cfg.ObjectType),
		zap.Int("total", len(props)),
		zap.Int("used", len(names)))
	return ensureProperty(names, cfg.LastModified), nil
}

func ensureProperty(names []string, name string) []string {
	for _, n := range names {
		if n == name {
			return names
		}
	}
	return append(names, name)
}

// syncContacts 按窗口翻页同步联系人，返回本次拉取到的全部联系人 ID（包括未变化跳过的）
func (s *SyncService) syncContacts(ctx context.Context, r *run, retrier *hubspot.Retrier, window Window, props []string) ([]string, error) {
	cfg := fieldmap.Contacts
	stats := &r.result.Contacts
	pager := hubspot.NewPager(s.crm, retrier, s.limiter(s.opts.PageDelay), r.log).WithPageSize(s.opts.PageSize)

	var ids []string
	seen := make(map[string]bool)
	req := hubspot.ContactWindowSearch(cfg.LastModified, window.Start, window.End, props)
	pageStats, err := pager.Each(ctx, cfg.ObjectType, req, func(ctx context.Context, page []hubspot.Object) error {
		for _, obj := range page {
			if obj.ID != "" && !seen[obj.ID] {
				seen[obj.ID] = true
				ids = append(ids, obj.ID)
			}
		}
		return s.writeObjects(ctx, r, cfg, page, stats)
	})
	stats.Total = pageStats.Total
	if err != nil {
		return ids, fmt.Errorf("同步联系人失败: %w", err)
	}
	return ids, nil
}

// syncDealsByID 按关联发现的交易 ID 分批读取并写入，与时间窗口无关
func (s *SyncService) syncDealsByID(ctx context.Context, r *run, retrier *hubspot.Retrier, ids, props []string) error {
	cfg := fieldmap.Deals
	stats := &r.result.Deals
	stats.Total = len(ids)
	limiter := s.limiter(s.opts.BatchDelay)

	for start := 0; start < len(ids); start += hubspot.BatchLimit {
		end := min(start+hubspot.BatchLimit, len(ids))
		batch := ids[start:end]

		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("等待限速失败: %w", err)
		}
		var objects []hubspot.Object
		op := fmt.Sprintf("batch read deals %d-%d", start, end)
		err := retrier.Do(ctx, op, func(ctx context.Context) error {
			res, err := s.crm.BatchRead(ctx, cfg.ObjectType, batch, props)
			if err != nil {
				return err
			}
			objects = res
			return nil
		})
		if err != nil {
			return fmt.Errorf("读取交易失败: %w", err)
		}
		if err := s.writeObjects(ctx, r, cfg, objects, stats); err != nil {
			return err
		}
		r.log.Info("交易进度", zap.String("progress", fmt.Sprintf("%d/%d", end, len(ids))))
	}
	return nil
}

type pendingWrite struct {
	id     string
	values map[string]fieldmap.Value
}

// writeObjects 变更检测 -> 表结构协调 -> 拆分写入。单条记录失败只计数。
func (s *SyncService) writeObjects(ctx context.Context, r *run, cfg fieldmap.TableConfig, objects []hubspot.Object, stats *ObjectStats) error {
	stats.Fetched += len(objects)

	writes := make([]pendingWrite, 0, len(objects))
	for _, obj := range objects {
		if obj.ID == "" {
			stats.Failed++
			continue
		}
		if !s.detector.NeedsSync(ctx, cfg, obj) {
			stats.Skipped++
			continue
		}
		writes = append(writes, pendingWrite{id: obj.ID, values: fieldmap.CoerceAll(obj.Properties)})
	}
	if len(writes) == 0 {
		return nil
	}

	records := make([]map[string]fieldmap.Value, len(writes))
	for i, w := range writes {
		records[i] = w.values
	}
	manifest, err := s.reconciler.Reconcile(ctx, cfg, fieldmap.Samples(records))
	if err != nil {
		return fmt.Errorf("协调 %s 表结构失败: %w", cfg.ObjectType, err)
	}

	for _, w := range writes {
		primary, ext, dropped := fieldmap.Split(manifest, w.id, w.values)
		if len(dropped) > 0 {
			stats.DroppedFields += len(dropped)
			r.log.Warn("字段未写入", zap.String("object", cfg.ObjectType), zap.String("id", w.id), zap.Strings("fields", dropped))
		}
		if err := s.upsertRecord(ctx, cfg, primary, ext); err != nil {
			stats.Failed++
			r.log.Error("写入记录失败", zap.String("object", cfg.ObjectType), zap.String("id", w.id), zap.Error(err))
			s.recorder.Log(ctx, r.result.RunID, models.LogTypeError,
				fmt.Sprintf("写入 %s %s 失败", cfg.ObjectType, w.id), map[string]string{"error": err.Error()})
			continue
		}
		stats.Synced++
	}
	return nil
}

func (s *SyncService) upsertRecord(ctx context.Context, cfg fieldmap.TableConfig, primary, ext fieldmap.Row) error {
	if _, err := s.store.Upsert(ctx, cfg.Table, cfg.IDColumn, primary); err != nil {
		return err
	}
	if _, err := s.store.Upsert(ctx, cfg.ExtensionTable, cfg.IDColumn, ext); err != nil {
		return err
	}
	return nil
}

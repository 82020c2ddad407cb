package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"zh.xyz/dv/hubsync/fieldmap"
	"zh.xyz/dv/hubsync/hubspot"
	"zh.xyz/dv/hubsync/warehouse"
)

// AssociationReader 批量查询关联
type AssociationReader interface {
	BatchAssociations(ctx context.Context, fromType, toType string, ids []string) ([]hubspot.AssociationResult, error)
}

// AssociationStore 关联落库需要的存储能力
type AssociationStore interface {
	ExistingIDs(ctx context.Context, cfg fieldmap.TableConfig, ids []string) (map[string]bool, error)
	UpsertAssociation(ctx context.Context, contactID, dealID, associationType string) (bool, error)
}

// Pair 一条联系人-交易关联
type Pair struct {
	ContactID string `json:"contact_id"`
	DealID    string `json:"deal_id"`
	Type      string `json:"type"`
}

// PendingAssociations 第一阶段查到、尚未落库的关联
type PendingAssociations struct {
	Pairs         []Pair `json:"pairs"`
	Batches       int    `json:"batches"`
	FailedBatches int    `json:"failed_batches"`
}

// DealIDs 去重后的交易 ID，保持发现顺序
func (p PendingAssociations) DealIDs() []string {
	seen := make(map[string]bool, len(p.Pairs))
	ids := make([]string, 0, len(p.Pairs))
	for _, pair := range p.Pairs {
		if !seen[pair.DealID] {
			seen[pair.DealID] = true
			ids = append(ids, pair.DealID)
		}
	}
	return ids
}

// ContactIDs 去重后的联系人 ID
func (p PendingAssociations) ContactIDs() []string {
	seen := make(map[string]bool, len(p.Pairs))
	ids := make([]string, 0, len(p.Pairs))
	for _, pair := range p.Pairs {
		if !seen[pair.ContactID] {
			seen[pair.ContactID] = true
			ids = append(ids, pair.ContactID)
		}
	}
	return ids
}

// AssociationStats 关联统计
type AssociationStats struct {
	Contacts      int `json:"contacts"`
	Discovered    int `json:"discovered"`
	Inserted      int `json:"inserted"`
	Refreshed     int `json:"refreshed"`
	Deferred      int `json:"deferred"` // 一端不在本地，未写入
	Failed        int `json:"failed"`
	FailedBatches int `json:"failed_batches"`
}

// AssociationReconciler 两阶段关联同步：先查询，后落库
type AssociationReconciler struct {
	crm     AssociationReader
	store   AssociationStore
	retrier *hubspot.Retrier
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewAssociationReconciler limiter 为 nil 时每批间隔 200ms
func NewAssociationReconciler(crm AssociationReader, store AssociationStore, retrier *hubspot.Retrier, limiter *rate.Limiter, logger *zap.Logger) *AssociationReconciler {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(200*time.Millisecond), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AssociationReconciler{crm: crm, store: store, retrier: retrier, limiter: limiter, logger: logger}
}

// Discover 第一阶段：按批查询联系人的交易关联，不写库。单批失败记录后跳过。
func (r *AssociationReconciler) Discover(ctx context.Context, contactIDs []string) (PendingAssociations, error) {
	var pending PendingAssociations
	seen := make(map[Pair]bool)

	for start := 0; start < len(contactIDs); start += hubspot.BatchLimit {
		end := min(start+hubspot.BatchLimit, len(contactIDs))
		batch := contactIDs[start:end]
		pending.Batches++

		if err := r.limiter.Wait(ctx); err != nil {
			return pending, fmt.Errorf("等待限速失败: %w", err)
		}

		var results []hubspot.AssociationResult
		op := fmt.Sprintf("associations batch %d", pending.Batches)
		err := r.retrier.Do(ctx, op, func(ctx context.Context) error {
			res, err := r.crm.BatchAssociations(ctx, fieldmap.Contacts.ObjectType, fieldmap.Deals.ObjectType, batch)
			if err != nil {
				return err
			}
			results = res
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return pending, ctx.Err()
			}
			pending.FailedBatches++
			r.logger.Error("关联批次查询失败，跳过",
				zap.Int("batch", pending.Batches),
				zap.Int("size", len(batch)),
				zap.Strings("sample", batch[:min(3, len(batch))]),
				zap.Error(err))
			// 失败批次不计入后续批次的连续失败
			r.retrier.Reset()
			continue
		}

		for _, res := range results {
			if res.From.ID == "" {
				continue
			}
			for _, to := range res.To {
				if to.ID == "" {
					continue
				}
				typ := to.Type
				if typ == "" {
					typ = warehouse.DefaultAssociationType
				}
				p := Pair{ContactID: res.From.ID, DealID: to.ID, Type: typ}
				key := Pair{ContactID: p.ContactID, DealID: p.DealID}
				if seen[key] {
					continue
				}
				seen[key] = true
				pending.Pairs = append(pending.Pairs, p)
			}
		}
	}

	r.logger.Info("关联查询完成",
		zap.Int("contacts", len(contactIDs)),
		zap.Int("pairs", len(pending.Pairs)),
		zap.Int("batches", pending.Batches),
		zap.Int("failed_batches", pending.FailedBatches))
	return pending, nil
}

// Persist 第二阶段：只写入两端都已在本地的关联
func (r *AssociationReconciler) Persist(ctx context.Context, pending PendingAssociations) (AssociationStats, error) {
	stats := AssociationStats{
		Discovered:    len(pending.Pairs),
		FailedBatches: pending.FailedBatches,
	}
	if len(pending.Pairs) == 0 {
		return stats, nil
	}

	contactIDs := pending.ContactIDs()
	stats.Contacts = len(contactIDs)
	contacts, err := r.store.ExistingIDs(ctx, fieldmap.Contacts, contactIDs)
	if err != nil {
		return stats, fmt.Errorf("检查本地联系人失败: %w", err)
	}
	deals, err := r.store.ExistingIDs(ctx, fieldmap.Deals, pending.DealIDs())
	if err != nil {
		return stats, fmt.Errorf("检查本地交易失败: %w", err)
	}

	var deferred []Pair
	for _, p := range pending.Pairs {
		if !contacts[p.ContactID] || !deals[p.DealID] {
			stats.Deferred++
			deferred = append(deferred, p)
			r.logger.Debug("关联一端不在本地，暂不写入",
				zap.String("contact", p.ContactID), zap.String("deal", p.DealID),
				zap.Bool("has_contact", contacts[p.ContactID]), zap.Bool("has_deal", deals[p.DealID]))
			continue
		}
		inserted, err := r.store.UpsertAssociation(ctx, p.ContactID, p.DealID, p.Type)
		if err != nil {
			stats.Failed++
			r.logger.Error("写入关联失败", zap.String("contact", p.ContactID), zap.String("deal", p.DealID), zap.Error(err))
			continue
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Refreshed++
		}
	}

	if len(deferred) > 0 {
		r.logger.Warn("部分关联一端不在本地，暂不写入",
			zap.Int("deferred", len(deferred)),
			zap.Any("sample", deferred[:min(5, len(deferred))]))
	}

	r.logger.Info("关联写入完成",
		zap.Int("discovered", stats.Discovered),
		zap.Int("inserted", stats.Inserted),
		zap.Int("refreshed", stats.Refreshed),
		zap.Int("deferred", stats.Deferred),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"zh.xyz/dv/hubsync/fieldmap"
)

// UpsertAssociation 写入一条联系人-交易关联，已存在时只刷新 updated_at。
// inserted 表示是否为新关联。
func (s *Store) UpsertAssociation(ctx context.Context, contactID, dealID, associationType string) (bool, error) {
	if associationType == "" {
		associationType = DefaultAssociationType
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO `+AssociationTable+` (contact_hubspot_id, deal_hubspot_id, association_type)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE updated_at = CURRENT_TIMESTAMP`,
		contactID, dealID, associationType)
	if err != nil {
		return false, fmt.Errorf("写入关联 %s-%s 失败: %w", contactID, dealID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, nil
	}
	// INSERT 为 1，UPDATE 为 2，值未变化为 0
	return n == 1, nil
}

// AssociationCandidates 未指定联系人时，选出需要检查关联的联系人：
// 已知有交易、已有关联记录，或 since 之后修改过。按修改时间倒序，最多 limit 个。
func (s *Store) AssociationCandidates(ctx context.Context, since time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.hubspot_id
		FROM hub_contacts c
		WHERE c.num_associated_deals > 0
		   OR EXISTS (SELECT 1 FROM `+AssociationTable+` a WHERE a.contact_hubspot_id = c.hubspot_id)
		   OR c.lastmodifieddate >= ?
		ORDER BY c.lastmodifieddate DESC
		LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("查询待关联联系人失败: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Orphan 一端在本地不存在的关联
type Orphan struct {
	AssociationID  int64  `json:"association_id"`
	ContactID      string `json:"contact_hubspot_id"`
	DealID         string `json:"deal_hubspot_id"`
	MissingContact bool   `json:"missing_contact"`
	MissingDeal    bool   `json:"missing_deal"`
}

// OrphanAssociations 引用完整性检查
func (s *Store) OrphanAssociations(ctx context.Context, limit int) ([]Orphan, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.association_id, a.contact_hubspot_id, a.deal_hubspot_id,
		       c.hubspot_id IS NULL AS missing_contact,
		       d.hubspot_deal_id IS NULL AS missing_deal
		FROM `+AssociationTable+` a
		LEFT JOIN hub_contacts c ON c.hubspot_id = a.contact_hubspot_id
		LEFT JOIN hub_deals d ON d.hubspot_deal_id = a.deal_hubspot_id
		WHERE c.hubspot_id IS NULL OR d.hubspot_deal_id IS NULL
		ORDER BY a.association_id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("关联完整性检查失败: %w", err)
	}
	defer rows.Close()

	orphans := make([]Orphan, 0)
	for rows.Next() {
		var o Orphan
		if err := rows.Scan(&o.AssociationID, &o.ContactID, &o.DealID, &o.MissingContact, &o.MissingDeal); err != nil {
			return nil, err
		}
		orphans = append(orphans, o)
	}
	return orphans, rows.Err()
}

// DealSummary 联系人关联的交易
type DealSummary struct {
	DealID    string     `json:"hubspot_deal_id"`
	DealName  string     `json:"dealname"`
	DealStage string     `json:"dealstage"`
	Pipeline  string     `json:"pipeline"`
	Amount    *string    `json:"amount"`
	CloseDate *time.Time `json:"closedate"`
	LinkedAt  time.Time  `json:"linked_at"`
}

// ContactDeals 查询联系人关联的交易
func (s *Store) ContactDeals(ctx context.Context, contactID string) ([]DealSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.hubspot_deal_id, COALESCE(d.dealname, ''), COALESCE(d.dealstage, ''),
		       COALESCE(d.pipeline, ''), d.amount, d.closedate, a.created_at
		FROM `+AssociationTable+` a
		JOIN hub_deals d ON d.hubspot_deal_id = a.deal_hubspot_id
		WHERE a.contact_hubspot_id = ?
		ORDER BY a.created_at DESC`, contactID)
	if err != nil {
		return nil, fmt.Errorf("查询联系人交易失败: %w", err)
	}
	defer rows.Close()

	deals := make([]DealSummary, 0)
	for rows.Next() {
		var (
			d      DealSummary
			amount sql.NullString
			closed sql.NullTime
		)
		if err := rows.Scan(&d.DealID, &d.DealName, &d.DealStage, &d.Pipeline, &amount, &closed, &d.LinkedAt); err != nil {
			return nil, err
		}
		if amount.Valid {
			d.Amount = &amount.String
		}
		if closed.Valid {
			t := closed.Time.UTC()
			d.CloseDate = &t
		}
		deals = append(deals, d)
	}
	return deals, rows.Err()
}

// TableCount 表的行数
func (s *Store) TableCount(ctx context.Context, table string) (int64, error) {
	if !BrowsableTables[table] {
		return 0, fmt.Errorf("不支持的表: %s", table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计 %s 失败: %w", table, err)
	}
	return n, nil
}

// IntegrityReport 行数与孤立关联
type IntegrityReport struct {
	Counts  map[string]int64 `json:"counts"`
	Orphans []Orphan         `json:"orphans"`
	Healthy bool             `json:"healthy"`
}

// CheckIntegrity 统计各表行数并列出孤立关联
func (s *Store) CheckIntegrity(ctx context.Context, limit int) (*IntegrityReport, error) {
	report := &IntegrityReport{Counts: make(map[string]int64, len(BrowsableTables))}
	for _, table := range fieldmap.SortedKeys(BrowsableTables) {
		n, err := s.TableCount(ctx, table)
		if err != nil {
			return nil, err
		}
		report.Counts[table] = n
	}
	orphans, err := s.OrphanAssociations(ctx, limit)
	if err != nil {
		return nil, err
	}
	report.Orphans = orphans
	report.Healthy = len(orphans) == 0
	return report, nil
}

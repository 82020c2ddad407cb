package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"zh.xyz/dv/hubsync/fieldmap"
)

// idChunkSize IN 查询每批的 ID 数
const idChunkSize = 500

// Upsert 按 HubSpot ID 写入一行：冲突时刷新除 ID 外的所有列。
// 只有 ID 列时不访问数据库，返回 false。
func (s *Store) Upsert(ctx context.Context, table, idColumn string, row fieldmap.Row) (bool, error) {
	if _, ok := row[idColumn]; !ok {
		return false, fmt.Errorf("写入 %s 缺少 %s", table, idColumn)
	}
	if !row.HasData(idColumn) {
		return false, nil
	}

	columns := fieldmap.SortedKeys(row)
	quoted := make([]string, 0, len(columns))
	placeholders := make([]string, 0, len(columns))
	updates := make([]string, 0, len(columns)-1)
	args := make([]any, 0, len(columns))
	for _, col := range columns {
		if !fieldmap.ValidIdentifier(col) {
			return false, fmt.Errorf("非法的列名: %s", col)
		}
		q := quote(col)
		quoted = append(quoted, q)
		placeholders = append(placeholders, "?")
		args = append(args, row[col])
		if col != idColumn {
			updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", q, q))
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		quote(table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("写入 %s 失败: %w", table, err)
	}
	return true, nil
}

// LastModified 读取本地记录的最后修改时间。记录不存在或为 NULL 时 found=false
func (s *Store) LastModified(ctx context.Context, cfg fieldmap.TableConfig, id string) (time.Time, bool, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		quote(cfg.LastModified), quote(cfg.Table), quote(cfg.IDColumn))
	var t sql.NullTime
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("查询 %s 最后修改时间失败: %w", cfg.ObjectType, err)
	}
	if !t.Valid {
		return time.Time{}, false, nil
	}
	return t.Time.UTC(), true, nil
}

// ExistingIDs 返回已存在于主表的 ID
func (s *Store) ExistingIDs(ctx context.Context, cfg fieldmap.TableConfig, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	for start := 0; start < len(ids); start += idChunkSize {
		end := min(start+idChunkSize, len(ids))
		chunk := ids[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(chunk)), ", ")
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)",
			quote(cfg.IDColumn), quote(cfg.Table), quote(cfg.IDColumn), placeholders)
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("查询已存在的 %s 失败: %w", cfg.ObjectType, err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			found[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return found, nil
}

// GetRecord 合并主表与扩展表，返回一条记录
func (s *Store) GetRecord(ctx context.Context, cfg fieldmap.TableConfig, id string) (map[string]any, error) {
	primary, err := s.selectRow(ctx, cfg.Table, cfg.IDColumn, id)
	if err != nil {
		return nil, err
	}
	if primary == nil {
		return nil, ErrNotFound
	}
	ext, err := s.selectRow(ctx, cfg.ExtensionTable, cfg.IDColumn, id)
	if err != nil {
		return nil, err
	}
	for k, v := range ext {
		if _, ok := primary[k]; !ok {
			primary[k] = v
		}
	}
	return primary, nil
}

func (s *Store) selectRow(ctx context.Context, table, idColumn, id string) (map[string]any, error) {
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ? LIMIT 1", quote(table), quote(idColumn))
	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("查询 %s 失败: %w", table, err)
	}
	defer rows.Close()
	list, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// BrowsableTables 允许浏览的表
var BrowsableTables = map[string]bool{
	fieldmap.Contacts.Table:          true,
	fieldmap.Contacts.ExtensionTable: true,
	fieldmap.Deals.Table:             true,
	fieldmap.Deals.ExtensionTable:    true,
	AssociationTable:                 true,
}

var kindTables = map[string]string{
	"contacts":     fieldmap.Contacts.Table,
	"contacts_ext": fieldmap.Contacts.ExtensionTable,
	"deals":        fieldmap.Deals.Table,
	"deals_ext":    fieldmap.Deals.ExtensionTable,
	"associations": AssociationTable,
}

// TableForKind 接口中的类型名对应的表，如 contacts_ext -> hub_contacts_ext
func TableForKind(kind string) (string, bool) {
	t, ok := kindTables[kind]
	return t, ok
}

// Page 分页结果
type Page struct {
	Data     []map[string]any `json:"data"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`
}

// ListRecords 分页浏览同步表
func (s *Store) ListRecords(ctx context.Context, table string, page, pageSize int) (*Page, error) {
	if !BrowsableTables[table] {
		return nil, fmt.Errorf("不支持浏览的表: %s", table)
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(table)).Scan(&total); err != nil {
		return nil, fmt.Errorf("查询总数失败: %w", err)
	}

	offset := (page - 1) * pageSize
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT * FROM %s ORDER BY updated_at DESC LIMIT ? OFFSET ?", quote(table)),
		pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("查询数据失败: %w", err)
	}
	defer rows.Close()

	data, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	return &Page{Data: data, Total: total, Page: page, PageSize: pageSize}, nil
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("读取数据失败: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// normalizeValue 驱动返回的 []byte 转成字符串，时间统一 UTC
func normalizeValue(val any) any {
	switch v := val.(type) {
	case nil:
		return nil
	case []byte:
		if utf8.Valid(v) {
			return string(v)
		}
		return strings.ToValidUTF8(string(v), "")
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

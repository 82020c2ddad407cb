package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/fieldmap"
)

// AssociationTable 联系人-交易关联表
const AssociationTable = "hub_contact_deal_associations"

// DefaultAssociationType 默认关联类型
const DefaultAssociationType = "contact_to_deal"

const errDupFieldName = 1060

var ErrNotFound = errors.New("记录不存在")

// Store 目标 MySQL
type Store struct {
	db     *sql.DB
	logger *zap.Logger

	mu      sync.Mutex
	columns map[string]map[string]string
}

// NewStore 创建 Store
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, columns: make(map[string]map[string]string)}
}

// Ping 检查连接
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func primaryTableDDL(cfg fieldmap.TableConfig) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", quote(cfg.Table))
	fmt.Fprintf(&b, "  %s INT AUTO_INCREMENT PRIMARY KEY,\n", quote(cfg.PrimaryKey))
	fmt.Fprintf(&b, "  %s VARCHAR(50) NOT NULL,\n", quote(cfg.IDColumn))
	for _, col := range cfg.StaticColumns {
		fmt.Fprintf(&b, "  %s %s DEFAULT NULL,\n", quote(col.Name), col.Type)
	}
	b.WriteString("  created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,\n")
	b.WriteString("  updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,\n")
	fmt.Fprintf(&b, "  UNIQUE KEY uk_%s (%s),\n", cfg.IDColumn, quote(cfg.IDColumn))
	fmt.Fprintf(&b, "  KEY idx_%s (%s)\n", cfg.LastModified, quote(cfg.LastModified))
	b.WriteString(") ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci")
	return b.String()
}

func extensionTableDDL(cfg fieldmap.TableConfig) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  %s VARCHAR(50) NOT NULL PRIMARY KEY,
  created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
  updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
) ENGINE=InnoDB ROW_FORMAT=DYNAMIC DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, quote(cfg.ExtensionTable), quote(cfg.IDColumn))
}

const associationTableDDL = `CREATE TABLE IF NOT EXISTS ` + AssociationTable + ` (
  association_id INT AUTO_INCREMENT PRIMARY KEY,
  contact_hubspot_id VARCHAR(50) NOT NULL,
  deal_hubspot_id VARCHAR(50) NOT NULL,
  association_type VARCHAR(50) DEFAULT 'contact_to_deal',
  created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
  updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
  INDEX idx_contact_id (contact_hubspot_id),
  INDEX idx_deal_id (deal_hubspot_id),
  UNIQUE KEY unique_contact_deal (contact_hubspot_id, deal_hubspot_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`

// EnsureTables 建表（幂等）
func (s *Store) EnsureTables(ctx context.Context) error {
	for _, cfg := range []fieldmap.TableConfig{fieldmap.Contacts, fieldmap.Deals} {
		if _, err := s.db.ExecContext(ctx, primaryTableDDL(cfg)); err != nil {
			return fmt.Errorf("创建表 %s 失败: %w", cfg.Table, err)
		}
		if _, err := s.db.ExecContext(ctx, extensionTableDDL(cfg)); err != nil {
			return fmt.Errorf("创建表 %s 失败: %w", cfg.ExtensionTable, err)
		}
	}
	if _, err := s.db.ExecContext(ctx, associationTableDDL); err != nil {
		return fmt.Errorf("创建表 %s 失败: %w", AssociationTable, err)
	}

	s.mu.Lock()
	s.columns = make(map[string]map[string]string)
	s.mu.Unlock()
	return nil
}

// Columns 读取表的列及 COLUMN_TYPE，结果缓存，返回副本
func (s *Store) Columns(ctx context.Context, table string) (map[string]string, error) {
	s.mu.Lock()
	cached, ok := s.columns[table]
	s.mu.Unlock()
	if ok {
		return copyColumns(cached), nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, COLUMN_TYPE
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ?`, table)
	if err != nil {
		return nil, fmt.Errorf("查询表结构失败: %w", err)
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, columnType string
		if err := rows.Scan(&name, &columnType); err != nil {
			return nil, fmt.Errorf("读取表结构失败: %w", err)
		}
		cols[strings.ToLower(name)] = strings.ToLower(columnType)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("读取表结构失败: %w", err)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("表 %s 不存在", table)
	}

	s.mu.Lock()
	s.columns[table] = cols
	s.mu.Unlock()
	return copyColumns(cols), nil
}

func copyColumns(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// AddColumn 在表上新增可空列，列已存在(1060)视为成功
func (s *Store) AddColumn(ctx context.Context, table, column, columnType string) error {
	if !fieldmap.ValidIdentifier(table) || !fieldmap.ValidIdentifier(column) {
		return fmt.Errorf("非法的标识符: %s.%s", table, column)
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s DEFAULT NULL", quote(table), quote(column), columnType)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		var me *mysql.MySQLError
		if !errors.As(err, &me) || me.Number != errDupFieldName {
			return fmt.Errorf("新增列 %s.%s 失败: %w", table, column, err)
		}
		// 其它进程已经加过该列，类型以库中为准
		s.invalidate(table)
		return nil
	}

	s.mu.Lock()
	if cols, ok := s.columns[table]; ok {
		cols[strings.ToLower(column)] = fieldmap.NormalizeColumnType(columnType)
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) invalidate(table string) {
	s.mu.Lock()
	delete(s.columns, table)
	s.mu.Unlock()
}

package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"zh.xyz/dv/hubsync/fieldmap"
	"zh.xyz/dv/hubsync/hubspot"
)

// CatalogReader 读取 HubSpot 属性目录
type CatalogReader interface {
	Properties(ctx context.Context, objectType string) ([]hubspot.Property, error)
}

// SchemaStore 结构报告需要的存储能力
type SchemaStore interface {
	fieldmap.SchemaStore
	EnsureTables(ctx context.Context) error
}

// ObjectSchema 单类对象的结构对比
type ObjectSchema struct {
	ObjectType       string   `json:"object_type"`
	Table            string   `json:"table"`
	ExtensionTable   string   `json:"extension_table"`
	CatalogCount     int      `json:"catalog_count"`
	UsedCount        int      `json:"used_count"` // 去掉跳过列表后
	PrimaryColumns   int      `json:"primary_columns"`
	ExtensionColumns int      `json:"extension_columns"`
	Missing          []string `json:"missing"` // 目录中有、本地没有
	Added            []string `json:"added,omitempty"`
	Failed           []string `json:"failed,omitempty"`
}

// SchemaService 表结构报告与补列
type SchemaService struct {
	crm    CatalogReader
	store  SchemaStore
	logger *zap.Logger
}

// NewSchemaService 创建服务
func NewSchemaService(crm CatalogReader, store SchemaStore, logger *zap.Logger) *SchemaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchemaService{crm: crm, store: store, logger: logger}
}

// Report 对比属性目录与本地列
func (s *SchemaService) Report(ctx context.Context) ([]ObjectSchema, error) {
	if err := s.store.EnsureTables(ctx); err != nil {
		return nil, fmt.Errorf("建表失败: %w", err)
	}
	var out []ObjectSchema
	for _, cfg := range fieldmap.All() {
		rep, _, err := s.compare(ctx, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, nil
}

// EnsureCatalogColumns 按属性目录的类型给扩展表补齐缺少的列，不等数据出现
func (s *SchemaService) EnsureCatalogColumns(ctx context.Context) ([]ObjectSchema, error) {
	if err := s.store.EnsureTables(ctx); err != nil {
		return nil, fmt.Errorf("建表失败: %w", err)
	}
	var out []ObjectSchema
	for _, cfg := range fieldmap.All() {
		rep, props, err := s.compare(ctx, cfg)
		if err != nil {
			return nil, err
		}
		for _, name := range rep.Missing {
			colType := CatalogColumnType(props[name])
			if err := s.store.AddColumn(ctx, cfg.ExtensionTable, name, colType); err != nil {
				s.logger.Warn("补列失败", zap.String("table", cfg.ExtensionTable), zap.String("column", name), zap.Error(err))
				rep.Failed = append(rep.Failed, name)
				continue
			}
			rep.Added = append(rep.Added, name)
		}
		rep.ExtensionColumns += len(rep.Added)
		rep.Missing = subtract(rep.Missing, rep.Added)
		s.logger.Info("补列完成",
			zap.String("object", cfg.ObjectType),
			zap.Int("added", len(rep.Added)),
			zap.Int("failed", len(rep.Failed)))
		out = append(out, rep)
	}
	return out, nil
}

func (s *SchemaService) compare(ctx context.Context, cfg fieldmap.TableConfig) (ObjectSchema, map[string]hubspot.Property, error) {
	rep := ObjectSchema{ObjectType: cfg.ObjectType, Table: cfg.Table, ExtensionTable: cfg.ExtensionTable}

	catalog, err := s.crm.Properties(ctx, cfg.ObjectType)
	if err != nil {
		return rep, nil, fmt.Errorf("获取 %s 属性目录失败: %w", cfg.ObjectType, err)
	}
	rep.CatalogCount = len(catalog)

	primary, err := s.store.Columns(ctx, cfg.Table)
	if err != nil {
		return rep, nil, err
	}
	ext, err := s.store.Columns(ctx, cfg.ExtensionTable)
	if err != nil {
		return rep, nil, err
	}
	rep.PrimaryColumns = len(primary)
	rep.ExtensionColumns = len(ext)

	var skip map[string]bool
	if cfg.ObjectType == fieldmap.Contacts.ObjectType {
		skip = hubspot.ContactSkipProperties
	}
	props := make(map[string]hubspot.Property, len(catalog))
	for _, p := range catalog {
		if skip[p.Name] {
			continue
		}
		rep.UsedCount++
		name := strings.ToLower(p.Name)
		if cfg.Reserved(name) || !fieldmap.ValidIdentifier(name) {
			continue
		}
		props[name] = p
		if _, ok := primary[name]; ok {
			continue
		}
		if _, ok := ext[name]; ok {
			continue
		}
		rep.Missing = append(rep.Missing, name)
	}
	sort.Strings(rep.Missing)
	return rep, props, nil
}

// CatalogColumnType HubSpot 属性类型对应的列类型
func CatalogColumnType(p hubspot.Property) string {
	switch p.Type {
	case "number":
		return "DECIMAL(15,6)"
	case "bool":
		return "BOOLEAN"
	case "datetime", "date":
		return "DATETIME(3)"
	default:
		return "TEXT"
	}
}

func subtract(all, remove []string) []string {
	if len(remove) == 0 {
		return all
	}
	drop := make(map[string]bool, len(remove))
	for _, r := range remove {
		drop[r] = true
	}
	out := all[:0:0]
	for _, a := range all {
		if !drop[a] {
			out = append(out, a)
		}
	}
	return out
}

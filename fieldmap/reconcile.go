package fieldmap

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// SchemaStore 表结构的读取与扩展
type SchemaStore interface {
	// Columns 返回 列名(小写) -> COLUMN_TYPE(小写)，如 int、decimal(15,6)、varchar(255)
	Columns(ctx context.Context, table string) (map[string]string, error)
	// AddColumn 新增可空列，列已存在视为成功
	AddColumn(ctx context.Context, table, column, columnType string) error
}

// Placement 字段所在的表与列类型
type Placement struct {
	Table    string
	DataType string // COLUMN_TYPE
}

// Manifest 一批写入前确定的字段清单
type Manifest struct {
	Config TableConfig
	fields map[string]Placement
}

// NewManifest 构造清单
func NewManifest(cfg TableConfig) *Manifest {
	return &Manifest{Config: cfg, fields: make(map[string]Placement)}
}

// Set 登记字段
func (m *Manifest) Set(field string, p Placement) {
	m.fields[strings.ToLower(field)] = p
}

// Lookup 查找字段
func (m *Manifest) Lookup(field string) (Placement, bool) {
	p, ok := m.fields[strings.ToLower(field)]
	return p, ok
}

// Len 字段数
func (m *Manifest) Len() int { return len(m.fields) }

// Row 一张表的一行，包含 ID 列
type Row map[string]any

// HasData 除 ID 外是否还有其它列
func (r Row) HasData(idColumn string) bool {
	for k := range r {
		if k != idColumn {
			return true
		}
	}
	return false
}

// Reconciler 写入前的表结构协调
type Reconciler struct {
	store  SchemaStore
	logger *zap.Logger
}

// NewReconciler 创建协调器
func NewReconciler(store SchemaStore, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: store, logger: logger}
}

// Reconcile 为 samples 中的每个字段确定落点：主表、扩展表，或在扩展表新建列。
// 读取表结构失败直接返回错误；单列新增失败只记录日志，该字段不进入清单。
func (r *Reconciler) Reconcile(ctx context.Context, cfg TableConfig, samples map[string]Value) (*Manifest, error) {
	primary, err := r.store.Columns(ctx, cfg.Table)
	if err != nil {
		return nil, fmt.Errorf("读取表 %s 结构失败: %w", cfg.Table, err)
	}
	ext, err := r.store.Columns(ctx, cfg.ExtensionTable)
	if err != nil {
		return nil, fmt.Errorf("读取表 %s 结构失败: %w", cfg.ExtensionTable, err)
	}

	manifest := NewManifest(cfg)
	for _, field := range SortedKeys(samples) {
		sample := samples[field]
		if sample.IsNull() {
			continue
		}
		if !ValidIdentifier(field) {
			r.logger.Warn("字段名不合法，跳过", zap.String("object", cfg.ObjectType), zap.String("field", field))
			continue
		}
		if cfg.Reserved(strings.ToLower(field)) {
			continue
		}

		key := strings.ToLower(field)
		if dt, ok := primary[key]; ok {
			manifest.Set(field, Placement{Table: cfg.Table, DataType: dt})
			continue
		}
		if dt, ok := ext[key]; ok {
			manifest.Set(field, Placement{Table: cfg.ExtensionTable, DataType: dt})
			continue
		}

		columnType := sample.ColumnType()
		if err := r.store.AddColumn(ctx, cfg.ExtensionTable, field, columnType); err != nil {
			r.logger.Error("新增字段失败，本次写入跳过该字段",
				zap.String("table", cfg.ExtensionTable),
				zap.String("field", field),
				zap.String("type", columnType),
				zap.Error(err))
			continue
		}
		r.logger.Info("新增扩展字段",
			zap.String("table", cfg.ExtensionTable),
			zap.String("field", field),
			zap.String("type", columnType))
		dt := NormalizeColumnType(columnType)
		ext[key] = dt
		manifest.Set(field, Placement{Table: cfg.ExtensionTable, DataType: dt})
	}
	return manifest, nil
}

// Split 按清单把一条记录拆成主表行和扩展表行。
// 不在清单中或与列类型不兼容的字段返回在 dropped 中。
func Split(m *Manifest, id string, values map[string]Value) (primary, ext Row, dropped []string) {
	cfg := m.Config
	primary = Row{cfg.IDColumn: id}
	ext = Row{cfg.IDColumn: id}
	for _, field := range SortedKeys(values) {
		v := values[field]
		if v.IsNull() {
			continue
		}
		p, ok := m.Lookup(field)
		if !ok {
			if !cfg.Reserved(strings.ToLower(field)) {
				dropped = append(dropped, field)
			}
			continue
		}
		arg, ok := v.ArgFor(p.DataType)
		if !ok {
			dropped = append(dropped, field)
			continue
		}
		if p.Table == cfg.Table {
			primary[field] = arg
		} else {
			ext[field] = arg
		}
	}
	return primary, ext, dropped
}

// CoerceAll 转换整条记录的属性，缺失值不保留
func CoerceAll(props map[string]any) map[string]Value {
	out := make(map[string]Value, len(props))
	for k, raw := range props {
		if !ShouldSync(raw) {
			continue
		}
		out[k] = Coerce(raw)
	}
	return out
}

// Samples 合并多条记录，取每个字段第一个非空值用于推断列类型
func Samples(records []map[string]Value) map[string]Value {
	out := make(map[string]Value)
	for _, rec := range records {
		for k, v := range rec {
			if v.IsNull() {
				continue
			}
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

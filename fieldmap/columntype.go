package fieldmap

import (
	"math"
	"strconv"
	"strings"
)

// ColumnType 解析后的 MySQL COLUMN_TYPE
type ColumnType struct {
	Base      string // DATA_TYPE，如 int、decimal、varchar
	Unsigned  bool
	Length    int // char/varchar 长度
	Precision int // decimal 总位数
	Scale     int // decimal 小数位数
}

// ParseColumnType 解析 information_schema.COLUMNS.COLUMN_TYPE 或建表用的 DDL 类型
func ParseColumnType(s string) ColumnType {
	t := strings.ToLower(strings.TrimSpace(s))
	ct := ColumnType{Unsigned: strings.Contains(t, "unsigned")}

	var args []string
	if i := strings.IndexByte(t, '('); i >= 0 {
		if j := strings.IndexByte(t[i:], ')'); j > 0 {
			args = strings.Split(t[i+1:i+j], ",")
		}
		t = t[:i]
	} else if i := strings.IndexByte(t, ' '); i >= 0 {
		t = t[:i]
	}
	ct.Base = strings.TrimSpace(t)
	if ct.Base == "boolean" || ct.Base == "bool" {
		ct.Base = "tinyint"
	}

	arg := func(i int) (int, bool) {
		if i >= len(args) {
			return 0, false
		}
		n, err := strconv.Atoi(strings.TrimSpace(args[i]))
		return n, err == nil
	}
	switch ct.Base {
	case "char", "varchar":
		ct.Length, _ = arg(0)
	case "decimal", "numeric":
		// MySQL 默认 DECIMAL(10,0)
		ct.Precision = 10
		if p, ok := arg(0); ok {
			ct.Precision = p
		}
		ct.Scale, _ = arg(1)
	}
	return ct
}

// NormalizeColumnType DDL 类型转换为 information_schema 中的写法
func NormalizeColumnType(ddl string) string {
	t := strings.ToLower(strings.TrimSpace(ddl))
	if t == "boolean" || t == "bool" {
		return "tinyint(1)"
	}
	return t
}

// IntegerFits 整数是否在整数列的取值范围内
func (c ColumnType) IntegerFits(n int64) bool {
	var lo, hi int64
	switch c.Base {
	case "tinyint":
		lo, hi = math.MinInt8, math.MaxInt8
		if c.Unsigned {
			lo, hi = 0, math.MaxUint8
		}
	case "smallint":
		lo, hi = math.MinInt16, math.MaxInt16
		if c.Unsigned {
			lo, hi = 0, math.MaxUint16
		}
	case "mediumint":
		lo, hi = -1<<23, 1<<23-1
		if c.Unsigned {
			lo, hi = 0, 1<<24-1
		}
	case "int", "integer":
		lo, hi = math.MinInt32, math.MaxInt32
		if c.Unsigned {
			lo, hi = 0, math.MaxUint32
		}
	case "bigint":
		if c.Unsigned {
			return n >= 0
		}
		return true
	default:
		return false
	}
	return n >= lo && n <= hi
}

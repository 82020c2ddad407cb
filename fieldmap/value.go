package fieldmap

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Kind 字段值类型
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindInteger
	KindDecimal
	KindBoolean
	KindDateTime
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindText:
		return "text"
	case KindInteger:
		return "integer"
	case KindDecimal:
		return "decimal"
	case KindBoolean:
		return "boolean"
	case KindDateTime:
		return "datetime"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value 入库时一次性确定类型的字段值
type Value struct {
	Kind Kind
	Text string // Text / Decimal 的原始文本
	Int  int64  // Integer / Timestamp(毫秒)
	Bool bool
	Time time.Time // DateTime / Timestamp
}

var timestampPattern = regexp.MustCompile(`^\d{13}$`)

// dateLayouts HubSpot 与 MySQL 常见的日期格式
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Null 空值
func Null() Value { return Value{Kind: KindNull} }

// ShouldSync 判断原始值是否需要写入。只有缺失(nil)不写，0、""、false 都要写
func ShouldSync(raw any) bool {
	if raw == nil {
		return false
	}
	if n, ok := raw.(json.Number); ok {
		return n != ""
	}
	return true
}

// Coerce 将 HubSpot 原始值转换为带类型的 Value
func Coerce(raw any) Value {
	switch v := raw.(type) {
	case nil:
		return Null()
	case Value:
		return v
	case string:
		return coerceString(v)
	case json.Number:
		if v == "" {
			return Null()
		}
		return coerceNumeric(string(v))
	case bool:
		return Value{Kind: KindBoolean, Bool: v}
	case float64:
		return coerceFloat(v)
	case float32:
		return coerceFloat(float64(v))
	case int:
		return Value{Kind: KindInteger, Int: int64(v)}
	case int32:
		return Value{Kind: KindInteger, Int: int64(v)}
	case int64:
		return Value{Kind: KindInteger, Int: v}
	case uint32:
		return Value{Kind: KindInteger, Int: int64(v)}
	case time.Time:
		return Value{Kind: KindDateTime, Time: v.UTC()}
	default:
		return Value{Kind: KindText, Text: fmt.Sprint(v)}
	}
}

func coerceString(s string) Value {
	if timestampPattern.MatchString(s) {
		ms, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return Value{Kind: KindTimestamp, Int: ms, Time: time.UnixMilli(ms).UTC()}
		}
	}
	if strings.ContainsAny(s, "T-") {
		if t, ok := ParseTime(s); ok {
			return Value{Kind: KindDateTime, Time: t}
		}
	}
	if s == "true" || s == "false" {
		return Value{Kind: KindBoolean, Bool: s == "true"}
	}
	if v, ok := parseNumeric(s); ok {
		return v
	}
	return Value{Kind: KindText, Text: s}
}

func coerceNumeric(s string) Value {
	if v, ok := parseNumeric(s); ok {
		return v
	}
	return Value{Kind: KindText, Text: s}
}

// parseNumeric 能够往返数值解析的字符串视为数值
func parseNumeric(s string) (Value, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Value{}, false
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{}, false
	}
	if f != math.Trunc(f) {
		return Value{Kind: KindDecimal, Text: trimmed}, true
	}
	if n, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return Value{Kind: KindInteger, Int: n}, true
	}
	// 1e3、10.0 这类整数值
	if f >= math.MinInt64 && f < math.MaxInt64 {
		return Value{Kind: KindInteger, Int: int64(f)}, true
	}
	// 超出 int64 的整数按文本保存
	return Value{}, false
}

func coerceFloat(f float64) Value {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Value{Kind: KindText, Text: strconv.FormatFloat(f, 'f', -1, 64)}
	}
	if f != math.Trunc(f) {
		return Value{Kind: KindDecimal, Text: strconv.FormatFloat(f, 'f', -1, 64)}
	}
	if f >= math.MinInt64 && f < math.MaxInt64 {
		return Value{Kind: KindInteger, Int: int64(f)}
	}
	return Value{Kind: KindText, Text: strconv.FormatFloat(f, 'f', -1, 64)}
}

// ParseTime 按常见格式解析时间，统一转为 UTC
func ParseTime(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// IsNull 是否为空值
func (v Value) IsNull() bool { return v.Kind == KindNull }

// ColumnType 新建列时使用的 MySQL 类型
func (v Value) ColumnType() string {
	switch v.Kind {
	case KindTimestamp:
		return "BIGINT"
	case KindDateTime:
		return "DATETIME(3)"
	case KindBoolean:
		return "BOOLEAN"
	case KindDecimal:
		return "DECIMAL(15,6)"
	case KindInteger:
		if v.Int > math.MaxInt32 || v.Int < math.MinInt32 {
			return "BIGINT"
		}
		return "INT"
	default:
		return "TEXT"
	}
}

// Arg 作为 SQL 参数的值
func (v Value) Arg() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInteger, KindTimestamp:
		return v.Int
	case KindBoolean:
		return v.Bool
	case KindDateTime:
		return v.Time.UTC()
	default:
		return v.Text
	}
}

// String 文本形式
func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindInteger, KindTimestamp:
		return strconv.FormatInt(v.Int, 10)
	case KindBoolean:
		return strconv.FormatBool(v.Bool)
	case KindDateTime:
		return v.Time.UTC().Format("2006-01-02 15:04:05.000")
	default:
		return v.Text
	}
}

// AsTime 取时间值，毫秒时间戳同样可用
func (v Value) AsTime() (time.Time, bool) {
	switch v.Kind {
	case KindDateTime, KindTimestamp:
		return v.Time, true
	case KindText:
		return ParseTime(v.Text)
	default:
		return time.Time{}, false
	}
}

// ArgFor 按已存在列的 COLUMN_TYPE 适配参数。类型不兼容或超出列的范围、精度、长度时返回 false。
func (v Value) ArgFor(columnType string) (any, bool) {
	if v.Kind == KindNull {
		return nil, true
	}
	ct := ParseColumnType(columnType)
	switch ct.Base {
	case "char", "varchar", "tinytext", "text", "mediumtext", "longtext", "enum", "set":
		s := v.String()
		if ct.Length > 0 && utf8.RuneCountInString(s) > ct.Length {
			return nil, false
		}
		return s, true
	case "tinyint", "smallint", "mediumint", "int", "integer", "bigint":
		var n int64
		switch v.Kind {
		case KindInteger, KindTimestamp:
			n = v.Int
		case KindBoolean:
			if v.Bool {
				n = 1
			}
		default:
			// 小数写入整数列会被截断
			return nil, false
		}
		if !ct.IntegerFits(n) {
			return nil, false
		}
		return n, true
	case "decimal", "numeric":
		var s string
		switch v.Kind {
		case KindInteger, KindTimestamp, KindDecimal:
			s = v.String()
		case KindBoolean:
			s = "0"
			if v.Bool {
				s = "1"
			}
		default:
			return nil, false
		}
		if integerDigits(s) > ct.Precision-ct.Scale {
			return nil, false
		}
		return s, true
	case "double", "float", "real":
		switch v.Kind {
		case KindInteger, KindTimestamp, KindDecimal:
			return v.String(), true
		case KindBoolean:
			if v.Bool {
				return "1", true
			}
			return "0", true
		}
		return nil, false
	case "datetime", "timestamp", "date":
		if t, ok := v.AsTime(); ok {
			return t.UTC(), true
		}
		return nil, false
	case "bit", "boolean", "bool":
		if v.Kind == KindBoolean {
			return v.Bool, true
		}
		if v.Kind == KindInteger && (v.Int == 0 || v.Int == 1) {
			return v.Int == 1, true
		}
		return nil, false
	default:
		return v.Arg(), true
	}
}

// integerDigits 十进制文本整数部分的有效位数
func integerDigits(s string) int {
	s = strings.TrimSpace(s)
	if strings.ContainsAny(s, "eE") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			s = strconv.FormatFloat(f, 'f', -1, 64)
		}
	}
	s = strings.TrimLeft(s, "+-")
	if i := strings.IndexAny(s, ".eE"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimLeft(s, "0")
	return len(s)
}

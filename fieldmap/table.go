package fieldmap

import (
	"fmt"
	"regexp"
	"sort"
)

// Column 主表的静态列
type Column struct {
	Name string
	Type string
}

// TableConfig 对象类型与 MySQL 表的映射
type TableConfig struct {
	ObjectType     string   // HubSpot 对象类型: contacts, deals
	Table          string   // 主表
	ExtensionTable string   // 扩展表，新出现的字段都落在这里
	PrimaryKey     string   // 主表自增主键
	IDColumn       string   // HubSpot ID 列
	LastModified   string   // 最后修改时间字段
	StaticColumns  []Column // 主表建表时的固定列
}

// Contacts 联系人
var Contacts = TableConfig{
	ObjectType:     "contacts",
	Table:          "hub_contacts",
	ExtensionTable: "hub_contacts_ext",
	PrimaryKey:     "contact_id",
	IDColumn:       "hubspot_id",
	LastModified:   "lastmodifieddate",
	StaticColumns: []Column{
		{Name: "lastmodifieddate", Type: "DATETIME(3)"},
		{Name: "createdate", Type: "DATETIME(3)"},
		{Name: "email", Type: "VARCHAR(255)"},
		{Name: "firstname", Type: "VARCHAR(255)"},
		{Name: "lastname", Type: "VARCHAR(255)"},
		{Name: "hs_analytics_source", Type: "VARCHAR(100)"},
		{Name: "lifecyclestage", Type: "VARCHAR(100)"},
		{Name: "num_associated_deals", Type: "INT"},
	},
}

// Deals 交易
var Deals = TableConfig{
	ObjectType:     "deals",
	Table:          "hub_deals",
	ExtensionTable: "hub_deals_ext",
	PrimaryKey:     "deal_id",
	IDColumn:       "hubspot_deal_id",
	LastModified:   "hs_lastmodifieddate",
	StaticColumns: []Column{
		{Name: "hs_lastmodifieddate", Type: "DATETIME(3)"},
		{Name: "createdate", Type: "DATETIME(3)"},
		{Name: "dealname", Type: "VARCHAR(255)"},
		{Name: "dealstage", Type: "VARCHAR(100)"},
		{Name: "pipeline", Type: "VARCHAR(100)"},
		{Name: "amount", Type: "DECIMAL(15,2)"},
		{Name: "closedate", Type: "DATETIME(3)"},
	},
}

// All 全部对象类型，按同步顺序
func All() []TableConfig {
	return []TableConfig{Contacts, Deals}
}

// Lookup 按对象类型取配置
func Lookup(objectType string) (TableConfig, error) {
	switch objectType {
	case Contacts.ObjectType:
		return Contacts, nil
	case Deals.ObjectType:
		return Deals, nil
	default:
		return TableConfig{}, fmt.Errorf("未知的对象类型: %s", objectType)
	}
}

// Reserved 不允许由 HubSpot 字段写入的列
func (c TableConfig) Reserved(column string) bool {
	switch column {
	case c.PrimaryKey, c.IDColumn, "created_at", "updated_at", "id":
		return true
	}
	return false
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,64}$`)

// ValidIdentifier 列名、表名只允许字母数字下划线
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

// SortedKeys 返回排序后的键
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

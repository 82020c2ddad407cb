package hubspot

// Object HubSpot CRM 对象（联系人、交易）
type Object struct {
	ID         string         `json:"id"`
	Properties map[string]any `json:"properties"`
	CreatedAt  string         `json:"createdAt,omitempty"`
	UpdatedAt  string         `json:"updatedAt,omitempty"`
	Archived   bool           `json:"archived,omitempty"`
}

// Property 属性定义
type Property struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	Type       string `json:"type"`
	FieldType  string `json:"fieldType"`
	GroupName  string `json:"groupName,omitempty"`
	Calculated bool   `json:"calculated,omitempty"`
}

// Filter 搜索条件
type Filter struct {
	PropertyName string `json:"propertyName"`
	Operator     string `json:"operator"`
	Value        string `json:"value,omitempty"`
	HighValue    string `json:"highValue,omitempty"`
}

type FilterGroup struct {
	Filters []Filter `json:"filters"`
}

type Sort struct {
	PropertyName string `json:"propertyName"`
	Direction    string `json:"direction"`
}

// SearchRequest POST /crm/v3/objects/{type}/search
type SearchRequest struct {
	FilterGroups []FilterGroup `json:"filterGroups,omitempty"`
	Sorts        []Sort        `json:"sorts,omitempty"`
	Properties   []string      `json:"properties,omitempty"`
	Limit        int           `json:"limit"`
	After        string        `json:"after,omitempty"`
}

type Paging struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next,omitempty"`
}

// NextAfter 下一页游标，没有则为空
func (p *Paging) NextAfter() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

type SearchResponse struct {
	Total   int      `json:"total"`
	Results []Object `json:"results"`
	Paging  *Paging  `json:"paging,omitempty"`
}

type batchInput struct {
	ID string `json:"id"`
}

type batchReadRequest struct {
	Properties []string     `json:"properties,omitempty"`
	Inputs     []batchInput `json:"inputs"`
}

type batchReadResponse struct {
	Status  string   `json:"status"`
	Results []Object `json:"results"`
}

// AssociationTarget 关联的另一端
type AssociationTarget struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// AssociationResult 一个源对象的全部关联
type AssociationResult struct {
	From struct {
		ID string `json:"id"`
	} `json:"from"`
	To []AssociationTarget `json:"to"`
}

type associationResponse struct {
	Status  string              `json:"status"`
	Results []AssociationResult `json:"results"`
}

type propertiesResponse struct {
	Results []Property `json:"results"`
}

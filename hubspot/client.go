package hubspot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// DefaultBaseURL HubSpot API 地址
const DefaultBaseURL = "https://api.hubapi.com"

// BatchLimit 批量接口单次上限
const BatchLimit = 100

// Client HubSpot CRM v3 客户端
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

// NewClient 使用私有应用 access token 创建客户端
func NewClient(baseURL, accessToken string, timeout time.Duration) *Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), src)
	if timeout > 0 {
		hc.Timeout = timeout
	}
	return NewClientWithHTTP(baseURL, hc)
}

// NewClientWithHTTP 使用自定义 http.Client（测试用）
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc, now: time.Now}
}

// Properties 获取对象类型的属性目录
func (c *Client) Properties(ctx context.Context, objectType string) ([]Property, error) {
	var resp propertiesResponse
	if err := c.do(ctx, http.MethodGet, "/crm/v3/properties/"+objectType, nil, &resp); err != nil {
		return nil, fmt.Errorf("获取 %s 属性失败: %w", objectType, err)
	}
	return resp.Results, nil
}

// Search 搜索对象，单页
func (c *Client) Search(ctx context.Context, objectType string, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType+"/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BatchRead 按 ID 批量读取对象，ids 不超过 BatchLimit
func (c *Client) BatchRead(ctx context.Context, objectType string, ids, properties []string) ([]Object, error) {
	if len(ids) > BatchLimit {
		return nil, fmt.Errorf("批量读取最多 %d 个, 实际 %d", BatchLimit, len(ids))
	}
	body := batchReadRequest{Properties: properties, Inputs: toInputs(ids)}
	var resp batchReadResponse
	if err := c.do(ctx, http.MethodPost, "/crm/v3/objects/"+objectType+"/batch/read", body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// BatchAssociations 批量读取 from -> to 的关联，ids 不超过 BatchLimit
func (c *Client) BatchAssociations(ctx context.Context, fromType, toType string, ids []string) ([]AssociationResult, error) {
	if len(ids) > BatchLimit {
		return nil, fmt.Errorf("批量关联查询最多 %d 个, 实际 %d", BatchLimit, len(ids))
	}
	body := struct {
		Inputs []batchInput `json:"inputs"`
	}{Inputs: toInputs(ids)}
	var resp associationResponse
	path := fmt.Sprintf("/crm/v3/associations/%s/%s/batch/read", fromType, toType)
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Ping 检查 token 与连通性
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Search(ctx, "contacts", SearchRequest{Limit: 1})
	return err
}

func toInputs(ids []string) []batchInput {
	inputs := make([]batchInput, len(ids))
	for i, id := range ids {
		inputs[i] = batchInput{ID: id}
	}
	return inputs
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Message:    strings.TrimSpace(string(msg)),
		}
	}
	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	return nil
}

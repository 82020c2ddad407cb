package hubspot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultPageSize 搜索接口单页上限
const DefaultPageSize = 100

// Searcher 单页搜索
type Searcher interface {
	Search(ctx context.Context, objectType string, req SearchRequest) (*SearchResponse, error)
}

// PageStats 翻页统计
type PageStats struct {
	Pages   int `json:"pages"`
	Records int `json:"records"`
	Total   int `json:"total"` // 第一页返回的总数
}

// Pager 按游标翻页拉取全部结果
type Pager struct {
	client   Searcher
	retrier  *Retrier
	limiter  *rate.Limiter
	logger   *zap.Logger
	pageSize int
}

// NewPager limiter 为 nil 时每 100ms 一页
func NewPager(client Searcher, retrier *Retrier, limiter *rate.Limiter, logger *zap.Logger) *Pager {
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 1)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pager{client: client, retrier: retrier, limiter: limiter, logger: logger, pageSize: DefaultPageSize}
}

// WithPageSize 设置页大小，超出上限按上限
func (p *Pager) WithPageSize(n int) *Pager {
	if n > 0 && n <= DefaultPageSize {
		p.pageSize = n
	}
	return p
}

// Each 从 req.After 开始逐页拉取，直到游标为空。fn 返回错误时中止。
func (p *Pager) Each(ctx context.Context, objectType string, req SearchRequest, fn func(ctx context.Context, page []Object) error) (stats PageStats, err error) {
	req.Limit = p.pageSize
	started := time.Now()

	defer func() {
		fields := []zap.Field{
			zap.String("object", objectType),
			zap.Int("pages", stats.Pages),
			zap.Int("records", stats.Records),
			zap.Int("total", stats.Total),
			zap.Duration("elapsed", time.Since(started)),
		}
		if err != nil {
			p.logger.Error("分页拉取失败", append(fields, zap.Error(err))...)
			return
		}
		p.logger.Info("分页拉取完成", fields...)
	}()

	for {
		if err := p.limiter.Wait(ctx); err != nil {
			return stats, fmt.Errorf("等待限速失败: %w", err)
		}

		var resp *SearchResponse
		op := fmt.Sprintf("search %s after=%q", objectType, req.After)
		err := p.retrier.Do(ctx, op, func(ctx context.Context) error {
			r, err := p.client.Search(ctx, objectType, req)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
		if err != nil {
			return stats, err
		}

		stats.Pages++
		if stats.Pages == 1 {
			stats.Total = resp.Total
		}
		stats.Records += len(resp.Results)

		next := resp.Paging.NextAfter()
		p.logger.Info("拉取进度",
			zap.String("object", objectType),
			zap.Int("page", stats.Pages),
			zap.String("cursor", next),
			zap.String("progress", fmt.Sprintf("%d/%d", stats.Records, stats.Total)))

		if len(resp.Results) > 0 {
			if err := fn(ctx, resp.Results); err != nil {
				return stats, err
			}
		}
		if next == "" {
			return stats, nil
		}
		req.After = next
	}
}

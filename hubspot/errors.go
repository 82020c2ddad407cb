package hubspot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

var (
	// ErrRetriesExhausted 单次请求重试次数用尽
	ErrRetriesExhausted = errors.New("重试次数已用尽")
	// ErrTooManyFailures 跨页连续失败超过上限
	ErrTooManyFailures = errors.New("连续失败次数超过上限")
)

// APIError HubSpot 返回的非 2xx 响应
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HubSpot API 错误 %d: %s", e.Status, e.Message)
}

// RateLimitError 429 限流，RetryAfter 为 0 表示服务端未给出
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("HubSpot 限流, %s 后重试: %s", e.RetryAfter, e.Message)
	}
	return "HubSpot 限流: " + e.Message
}

// IsRateLimit 是否为限流错误
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// IsTransient 限流、5xx、网络超时和连接重置可以重试
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if _, ok := IsRateLimit(err); ok {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500 || apiErr.Status == http.StatusRequestTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// 连接被重置或提前关闭可以重试；TLS、地址错误等不会因重试而成功
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter 支持秒数和 HTTP 日期两种格式
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

package service

import (
	"errors"
	"fmt"
	"time"

	"zh.xyz/dv/hubsync/fieldmap"
)

// DefaultWindowDays 未指定窗口时同步最近一年
const DefaultWindowDays = 365

// Window 同步的时间窗口（闭区间）
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// WindowOptions 窗口参数，优先级: Month > Start/End > Days > 默认
type WindowOptions struct {
	Start string `json:"start,omitempty" form:"start"` // 2006-01-02 或带时间
	End   string `json:"end,omitempty" form:"end"`
	Days  int    `json:"days,omitempty" form:"days"`   // 含今天在内的天数
	Month string `json:"month,omitempty" form:"month"` // 2006-01
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(999*time.Millisecond), t.Location())
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// parseBound 解析窗口边界，只有日期时 isDate=true
func parseBound(s string, loc *time.Location) (t time.Time, isDate bool, err error) {
	if d, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return d, true, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02T15:04"} {
		if v, err := time.ParseInLocation(layout, s, loc); err == nil {
			return v, false, nil
		}
	}
	if v, ok := fieldmap.ParseTime(s); ok {
		return v.In(loc), false, nil
	}
	return time.Time{}, false, fmt.Errorf("无法解析时间: %q", s)
}

// ResolveWindow 计算同步窗口
func ResolveWindow(opts WindowOptions, now time.Time, loc *time.Location) (Window, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	if opts.Month != "" {
		m, err := time.ParseInLocation("2006-01", opts.Month, loc)
		if err != nil {
			return Window{}, fmt.Errorf("月份格式应为 YYYY-MM: %q", opts.Month)
		}
		last := m.AddDate(0, 1, -1)
		return Window{Start: m, End: endOfDay(last)}, nil
	}

	if opts.Start != "" || opts.End != "" {
		if opts.Start == "" {
			return Window{}, errors.New("指定 end 时必须同时指定 start")
		}
		start, _, err := parseBound(opts.Start, loc)
		if err != nil {
			return Window{}, err
		}
		end := now
		if opts.End != "" {
			var isDate bool
			end, isDate, err = parseBound(opts.End, loc)
			if err != nil {
				return Window{}, err
			}
			if isDate {
				end = endOfDay(end)
			}
		}
		if end.Before(start) {
			return Window{}, fmt.Errorf("开始时间 %s 晚于结束时间 %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
		}
		return Window{Start: start, End: end}, nil
	}

	days := opts.Days
	if days < 0 {
		return Window{}, fmt.Errorf("days 不能为负数: %d", days)
	}
	if days == 0 {
		days = DefaultWindowDays
	}
	return Window{
		Start: startOfDay(now.AddDate(0, 0, -(days - 1))),
		End:   endOfDay(now),
	}, nil
}

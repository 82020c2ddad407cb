package service

import (
	"fmt"
	"time"

	"zh.xyz/dv/hubsync/config"
	"zh.xyz/dv/hubsync/hubspot"
)

// OptionsFromConfig 由配置生成同步参数
func OptionsFromConfig(cfg config.SyncConfig) (Options, error) {
	opts := DefaultOptions()
	if cfg.MaxAttempts > 0 {
		opts.Retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.MaxConsecutiveFailures > 0 {
		opts.Retry.MaxConsecutiveFailures = cfg.MaxConsecutiveFailures
	}
	if cfg.DefaultRetryAfter > 0 {
		opts.Retry.DefaultRetryAfter = time.Duration(cfg.DefaultRetryAfter) * time.Second
	}
	if cfg.PageSize > 0 {
		opts.PageSize = min(cfg.PageSize, hubspot.DefaultPageSize)
	}
	if cfg.PageDelayMS >= 0 {
		opts.PageDelay = time.Duration(cfg.PageDelayMS) * time.Millisecond
	}
	if cfg.BatchDelayMS >= 0 {
		opts.BatchDelay = time.Duration(cfg.BatchDelayMS) * time.Millisecond
	}
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return opts, fmt.Errorf("时区无效 %q: %w", cfg.Timezone, err)
		}
		opts.Location = loc
	}
	return opts, nil
}

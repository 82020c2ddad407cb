package models

import (
	"time"
)

const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

const (
	LogTypeInfo    = "info"
	LogTypeWarning = "warning"
	LogTypeError   = "error"
)

// SyncRun 一次 HubSpot 同步
type SyncRun struct {
	ID                    string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Kind                  string     `gorm:"type:varchar(50);not null;index" json:"kind"`    // full, associations
	Trigger               string     `gorm:"type:varchar(50);not null" json:"trigger"`       // http, cron, cli, mcp
	Status                string     `gorm:"type:varchar(50);not null;index" json:"status"` // running, success, failed
	WindowStart           *time.Time `json:"window_start"`
	WindowEnd             *time.Time `json:"window_end"`
	ContactsFetched       int        `json:"contacts_fetched"`
	ContactsSynced        int        `json:"contacts_synced"`
	ContactsSkipped       int        `json:"contacts_skipped"`
	ContactsFailed        int        `json:"contacts_failed"`
	DealsFetched          int        `json:"deals_fetched"`
	DealsSynced           int        `json:"deals_synced"`
	DealsSkipped          int        `json:"deals_skipped"`
	DealsFailed           int        `json:"deals_failed"`
	AssociationsFound     int        `json:"associations_found"`
	AssociationsInserted  int        `json:"associations_inserted"`
	AssociationsRefreshed int        `json:"associations_refreshed"`
	AssociationsDeferred  int        `json:"associations_deferred"`
	Error                 string     `gorm:"type:text" json:"error,omitempty"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// SyncLog 同步日志
type SyncLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RunID     string    `gorm:"type:varchar(36);not null;index" json:"run_id"`
	LogType   string    `gorm:"type:varchar(50);not null" json:"log_type"` // info, warning, error
	Message   string    `gorm:"type:text" json:"message"`
	Details   string    `gorm:"type:text" json:"details"` // JSON格式的详细信息
	CreatedAt time.Time `json:"created_at"`
}

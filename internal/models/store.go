package models

import (
	"time"
)

// KVEntry represents one key of the bookkeeping key-value store
type KVEntry struct {
	Key       string    `json:"key" gorm:"primaryKey;type:varchar(191)"`
	Value     string    `json:"value" gorm:"type:longtext"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for KVEntry
func (KVEntry) TableName() string {
	return "kv_entries"
}

// RunLog represents the persisted summary of one run
type RunLog struct {
	ID                    uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID                 string     `json:"run_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	Trigger               string     `json:"trigger" gorm:"type:varchar(32)"`
	StartedAt             time.Time  `json:"started_at"`
	FinishedAt            *time.Time `json:"finished_at"`
	Candidates            int        `json:"candidates"`
	Processed             int        `json:"processed"`
	Created               int        `json:"created"`
	Skipped               int        `json:"skipped"`
	Errors                int        `json:"errors"`
	BreakerTripped        bool       `json:"breaker_tripped"`
	ContinuationScheduled bool       `json:"continuation_scheduled"`
	ErrorMsg              string     `json:"error_msg" gorm:"type:text"`
}

// TableName specifies the table name for RunLog
func (RunLog) TableName() string {
	return "run_logs"
}

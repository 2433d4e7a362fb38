package model

import "time"

// FlagAudit records one remote flag transition made through the admin API.
type FlagAudit struct {
	ID        int64     `json:"id" gorm:"primaryKey"`
	Key       string    `json:"key" gorm:"size:64;index"`
	OldValue  bool      `json:"old_value"`
	NewValue  bool      `json:"new_value"`
	Version   int       `json:"version"`
	Operator  string    `json:"operator" gorm:"size:64"`
	TraceID   string    `json:"trace_id" gorm:"size:36;index"`
	IP        string    `json:"ip" gorm:"size:45"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

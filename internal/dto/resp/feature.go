package resp

import (
	"time"
)

type UpdateRemoteFlagsResponse struct {
	Version  int   `json:"version"`
	Revision int64 `json:"revision"`
}

// FlagStatus is one row of the developer toggle surface.
type FlagStatus struct {
	Name         string   `json:"name"`
	Enabled      bool     `json:"enabled"`
	Default      bool     `json:"default"`
	Dependencies []string `json:"dependencies"`
	Unmet        []string `json:"unmet_dependencies,omitempty"`
	CanEnable    bool     `json:"can_enable"`
	Loaded       bool     `json:"loaded"`
}

type FlagsOverview struct {
	RemoteLoaded bool         `json:"remote_loaded"`
	Flags        []FlagStatus `json:"flags"`
}

type RefreshResponse struct {
	RemoteLoaded bool `json:"remote_loaded"`
	Success      bool `json:"success"`
}

type AuditLogItem struct {
	ID        int64     `json:"id"`
	Key       string    `json:"key"`
	OldValue  bool      `json:"old_value"`
	NewValue  bool      `json:"new_value"`
	Version   int       `json:"version"`
	Operator  string    `json:"operator"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditListResponse struct {
	Total int64          `json:"total"`
	Items []AuditLogItem `json:"items"`
}

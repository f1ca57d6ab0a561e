package types

import "time"

// MaintenanceFlag - 维护模式标志，进程全局单例记录，每次状态变化原地覆盖
type MaintenanceFlag struct {
	Level       MaintenanceLevel `json:"level"`
	Reason      string           `json:"reason"`
	Feature     Feature          `json:"feature,omitempty"`
	TriggeredBy string           `json:"triggered_by,omitempty"`
	TriggeredAt time.Time        `json:"triggered_at"`
	IsActive    bool             `json:"is_active"`
	ExitedAt    *time.Time       `json:"exited_at,omitempty"`
	ExitedBy    string           `json:"exited_by,omitempty"`
}

// MaintenanceStatus - 维护状态的对外视图
type MaintenanceStatus struct {
	InMaintenance bool             `json:"in_maintenance"`
	Level         MaintenanceLevel `json:"level,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	Feature       Feature          `json:"feature,omitempty"`
	TriggeredBy   string           `json:"triggered_by,omitempty"`
	TriggeredAt   *time.Time       `json:"triggered_at,omitempty"`
	ExitedAt      *time.Time       `json:"exited_at,omitempty"`
	ExitedBy      string           `json:"exited_by,omitempty"`
}

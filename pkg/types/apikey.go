package types

import "time"

// APIKey - 提供商API密钥记录
// KeyValue 在存储层始终是密文(base64)，只有经过KeyStore读取后才是明文
type APIKey struct {
	ID           string     `json:"id" yaml:"id"`
	Provider     Provider   `json:"provider" yaml:"provider"`
	Feature      Feature    `json:"feature" yaml:"feature"`
	KeyValue     string     `json:"key_value,omitempty" yaml:"key_value,omitempty"`
	Priority     int        `json:"priority" yaml:"priority"`
	Status       KeyStatus  `json:"status" yaml:"status"`
	FailureCount int        `json:"failure_count" yaml:"failure_count"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" yaml:"updated_at"`
}

// Redacted 返回去除密钥材料的副本，用于列表展示
func (k *APIKey) Redacted() *APIKey {
	c := *k
	c.KeyValue = ""
	return &c
}

// HealthCheckRecord - 健康检查审计记录，只追加不修改
type HealthCheckRecord struct {
	ID             string      `json:"id"`
	APIKeyID       string      `json:"api_key_id"`
	Status         HealthState `json:"status"`
	ResponseTimeMs int         `json:"response_time_ms"`
	ErrorMessage   string      `json:"error_message,omitempty"`
	CheckedAt      time.Time   `json:"checked_at"`
}

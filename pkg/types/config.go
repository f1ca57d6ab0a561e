package types

import "time"

// Config - 网关配置
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Store     StoreConfig     `json:"store" yaml:"store"`
	Router    RouterConfig    `json:"router" yaml:"router"`
	Health    HealthConfig    `json:"health" yaml:"health"`
	Notify    NotifyConfig    `json:"notify" yaml:"notify"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Admin     AdminConfig     `json:"admin" yaml:"admin"`
	// EncryptionKey 32字节密钥的base64编码，只从环境变量ENCRYPTION_KEY读取，不落盘
	EncryptionKey string `json:"-" yaml:"-"`
}

// ServerConfig - HTTP服务器配置
type ServerConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// StoreConfig - 后端存储配置
type StoreConfig struct {
	Path string `json:"path" yaml:"path"`
}

// RouterConfig - 路由器配置
type RouterConfig struct {
	MaxRetries int `json:"max_retries" yaml:"max_retries"`
}

// HealthConfig - 后台健康检查配置
type HealthConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	CheckInterval string `json:"check_interval" yaml:"check_interval"` // 如 "5m"
}

// Interval 解析检查间隔，非法或为空时返回默认值5分钟
func (h *HealthConfig) Interval() time.Duration {
	d, err := time.ParseDuration(h.CheckInterval)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// NotifyConfig - 管理员通知配置
type NotifyConfig struct {
	Enabled        bool       `json:"enabled" yaml:"enabled"`
	AdminEmails    []string   `json:"admin_emails" yaml:"admin_emails"`
	SMTP           SMTPConfig `json:"smtp" yaml:"smtp"`
	WebhookEnabled bool       `json:"webhook_enabled" yaml:"webhook_enabled"`
	WebhookURL     string     `json:"webhook_url" yaml:"webhook_url"`
}

// SMTPConfig - 邮件发送配置
type SMTPConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	From     string `json:"from" yaml:"from"`
}

// ProvidersConfig - 各提供商适配器配置
type ProvidersConfig struct {
	Gemini GeminiConfig `json:"gemini" yaml:"gemini"`
}

// GeminiConfig - Gemini适配器配置
type GeminiConfig struct {
	BaseURL        string `json:"base_url" yaml:"base_url"`
	Model          string `json:"model" yaml:"model"`
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// AdminConfig - 管理员认证配置
// JWTSecret和EmergencyToken支持环境变量覆盖(ADMIN_JWT_SECRET / EMERGENCY_ADMIN_TOKEN)
type AdminConfig struct {
	JWTSecret      string `json:"jwt_secret,omitempty" yaml:"jwt_secret,omitempty"`
	EmergencyToken string `json:"emergency_token,omitempty" yaml:"emergency_token,omitempty"`
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mediq/model-gateway/pkg/types"
	yaml "gopkg.in/yaml.v2"
)

// ConfigManager 配置管理器
type ConfigManager struct {
	configPath string
	config     *types.Config
	mutex      sync.RWMutex
}

// NewConfigManager 创建新的配置管理器
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{
		configPath: configPath,
	}
}

// Load 加载配置文件
func (m *ConfigManager) Load() (*types.Config, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.loadUnsafe()
}

// loadUnsafe 不加锁的加载方法（内部使用）
func (m *ConfigManager) loadUnsafe() (*types.Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		// 如果配置文件不存在，创建默认配置
		if os.IsNotExist(err) {
			config := m.createDefaultConfig()
			if err := m.saveUnsafe(config); err != nil {
				return nil, fmt.Errorf("创建默认配置文件失败: %w", err)
			}
			m.applyEnvironmentConfig(config)
			m.config = config
			return config, nil
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config types.Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 应用环境变量配置
	m.applyEnvironmentConfig(&config)

	m.config = &config
	return &config, nil
}

// applyEnvironmentConfig 应用环境变量覆盖
// 机密材料(加密密钥、管理员令牌)只从环境读取，不落入配置文件
func (m *ConfigManager) applyEnvironmentConfig(config *types.Config) {
	if v := os.Getenv("ENCRYPTION_KEY"); v != "" {
		config.EncryptionKey = v
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		config.Admin.JWTSecret = v
	}
	if v := os.Getenv("EMERGENCY_ADMIN_TOKEN"); v != "" {
		config.Admin.EmergencyToken = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		config.Notify.SMTP.Password = v
	}
}

// Save 保存配置到文件
func (m *ConfigManager) Save(config *types.Config) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.saveUnsafe(config)
}

// saveUnsafe 不加锁的保存方法（内部使用）
func (m *ConfigManager) saveUnsafe(config *types.Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	// 确保目录存在
	if dir := filepath.Dir(m.configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	m.config = config
	return nil
}

// Get 获取当前配置
func (m *ConfigManager) Get() *types.Config {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.config
}

// Validate 验证配置有效性
func (m *ConfigManager) Validate() error {
	if m.config == nil {
		return fmt.Errorf("配置未加载")
	}

	if m.config.Server.Port <= 0 || m.config.Server.Port > 65535 {
		return fmt.Errorf("无效的端口号: %d", m.config.Server.Port)
	}

	if m.config.Server.Host == "" {
		return fmt.Errorf("服务器地址不能为空")
	}

	if m.config.Store.Path == "" {
		return fmt.Errorf("存储路径不能为空")
	}

	if m.config.Router.MaxRetries <= 0 {
		return fmt.Errorf("无效的最大重试次数: %d", m.config.Router.MaxRetries)
	}

	if m.config.Health.Enabled {
		if _, err := time.ParseDuration(m.config.Health.CheckInterval); err != nil {
			return fmt.Errorf("无效的健康检查间隔: %s", m.config.Health.CheckInterval)
		}
	}

	if m.config.Notify.Enabled && len(m.config.Notify.AdminEmails) == 0 && !m.config.Notify.WebhookEnabled {
		return fmt.Errorf("通知已启用但未配置任何管理员邮箱或webhook")
	}

	if m.config.Providers.Gemini.Model == "" {
		return fmt.Errorf("gemini模型名称不能为空")
	}

	return nil
}

// createDefaultConfig 创建默认配置
func (m *ConfigManager) createDefaultConfig() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:     "0.0.0.0",
			Port:     8021,
			LogLevel: "info",
		},
		Store: types.StoreConfig{
			Path: "gateway.db",
		},
		Router: types.RouterConfig{
			MaxRetries: 3,
		},
		Health: types.HealthConfig{
			Enabled:       true,
			CheckInterval: "5m",
		},
		Notify: types.NotifyConfig{
			Enabled:        false,
			AdminEmails:    []string{},
			WebhookEnabled: false,
		},
		Providers: types.ProvidersConfig{
			Gemini: types.GeminiConfig{
				BaseURL:        "https://generativelanguage.googleapis.com/v1beta",
				Model:          "gemini-1.5-flash",
				TimeoutSeconds: 30,
			},
		},
	}
}

// Reload 重新加载配置
func (m *ConfigManager) Reload() (*types.Config, error) {
	return m.Load()
}

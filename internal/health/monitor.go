package health

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mediq/model-gateway/internal/provider"
	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// FailureThreshold 连续失败达到该值时密钥被降级
// 降级后密钥从选取中硬排除；恢复或禁用都是管理动作，自动流程绝不disable
const FailureThreshold = 3

// DegradedLatency 探测延迟超过该值时判定为degraded
const DegradedLatency = 5 * time.Second

// CheckResult 一次健康探测的结果
type CheckResult struct {
	Status         types.HealthState `json:"status"`
	ResponseTimeMs int               `json:"response_time_ms"`
	ErrorMessage   string            `json:"error_message,omitempty"`
}

// Store 健康监控需要的存储操作
type Store interface {
	UpdateAPIKey(id string, updater func(*types.APIKey) error) error
	InsertHealthCheck(rec *types.HealthCheckRecord) error
}

// Monitor 密钥健康监控器
type Monitor struct {
	store    Store
	registry *provider.Registry
	logger   *logrus.Logger
}

// NewMonitor 创建健康监控器
func NewMonitor(store Store, registry *provider.Registry, logger *logrus.Logger) *Monitor {
	return &Monitor{
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// RecordFailure 记录一次密钥失败
// failure_count严格+1；达到阈值时状态翻转为degraded
func (m *Monitor) RecordFailure(keyID, errMsg string, prov types.Provider, feature types.Feature) (*types.FailureRecord, error) {
	record := &types.FailureRecord{KeyID: keyID}

	err := m.store.UpdateAPIKey(keyID, func(key *types.APIKey) error {
		key.FailureCount++
		record.FailureCount = key.FailureCount

		if key.FailureCount >= FailureThreshold {
			record.Degraded = true
			if key.Status == types.KeyStatusActive {
				key.Status = types.KeyStatusDegraded
				m.logger.Warnf("密钥 %s (%s/%s) 连续失败%d次，已降级", keyID, prov, feature, key.FailureCount)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Infof("记录密钥 %s 失败 (count=%d): %s", keyID, record.FailureCount, errMsg)
	return record, nil
}

// CheckProviderHealth 对单个密钥做一次轻量真实探测
// 无论结果如何都写入审计日志
func (m *Monitor) CheckProviderHealth(ctx context.Context, prov types.Provider, keyID, apiKey string, feature types.Feature) *CheckResult {
	start := time.Now()

	adapter, err := m.registry.Get(prov)
	if err != nil {
		result := &CheckResult{Status: types.HealthStateFailed, ErrorMessage: err.Error()}
		m.logResult(keyID, result)
		return result
	}

	callResult := adapter.Call(ctx, apiKey, "ping", "")
	elapsed := time.Since(start)

	result := &CheckResult{ResponseTimeMs: int(elapsed.Milliseconds())}
	switch {
	case !callResult.Success:
		result.Status = types.HealthStateFailed
		result.ErrorMessage = callResult.Error
	case elapsed > DegradedLatency:
		result.Status = types.HealthStateDegraded
	default:
		result.Status = types.HealthStateHealthy
	}

	m.logResult(keyID, result)
	return result
}

func (m *Monitor) logResult(keyID string, result *CheckResult) {
	if _, err := m.LogHealthCheck(keyID, result.Status, result.ResponseTimeMs, result.ErrorMessage); err != nil {
		m.logger.Errorf("写入健康检查审计记录失败: %v", err)
	}
}

// LogHealthCheck 追加一条健康检查审计记录
func (m *Monitor) LogHealthCheck(keyID string, status types.HealthState, responseTimeMs int, errMsg string) (*types.HealthCheckRecord, error) {
	rec := &types.HealthCheckRecord{
		ID:             uuid.NewString(),
		APIKeyID:       keyID,
		Status:         status,
		ResponseTimeMs: responseTimeMs,
		ErrorMessage:   errMsg,
		CheckedAt:      time.Now().UTC(),
	}
	if err := m.store.InsertHealthCheck(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

package router

import (
	"context"
	"fmt"

	"github.com/mediq/model-gateway/internal/notify"
	"github.com/mediq/model-gateway/internal/provider"
	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// KeySource 按优先级提供已解密的active密钥
type KeySource interface {
	GetAllActiveKeys(provider types.Provider, feature types.Feature) ([]*types.APIKey, error)
}

// FailureRecorder 记录密钥失败
type FailureRecorder interface {
	RecordFailure(keyID, errMsg string, prov types.Provider, feature types.Feature) (*types.FailureRecord, error)
}

// MaintenanceEvaluator 维护模式评估与进入
type MaintenanceEvaluator interface {
	EvaluateTrigger(feature types.Feature, failures int) (types.MaintenanceLevel, error)
	Enter(level types.MaintenanceLevel, reason string, feature types.Feature, triggeredBy string) (*types.MaintenanceStatus, error)
}

// FallbackNotifier 密钥切换通知
type FallbackNotifier interface {
	NotifyFallback(fromKeyID, toKeyID string, provider types.Provider, feature types.Feature) *notify.Outcome
}

// defaultProviders 功能→默认提供商的静态调度表
// 目前全部走gemini；openai/anthropic/ollama为预留
var defaultProviders = map[types.Feature]types.Provider{
	types.FeatureChat:      types.ProviderGemini,
	types.FeatureFlashcard: types.ProviderGemini,
	types.FeatureMCQ:       types.ProviderGemini,
	types.FeatureHighYield: types.ProviderGemini,
	types.FeatureExplain:   types.ProviderGemini,
	types.FeatureMap:       types.ProviderGemini,
	types.FeatureClinical:  types.ProviderGemini,
	types.FeatureOSCE:      types.ProviderGemini,
	types.FeatureSafety:    types.ProviderGemini,
	types.FeatureImage:     types.ProviderGemini,
	types.FeatureEmbedding: types.ProviderGemini,
}

// ModelRouter 模型路由器
// 按优先级顺序逐个尝试密钥，首个成功即返回；全部耗尽时触发维护评估
// 每次调用无共享可变状态，可被并发请求安全使用
type ModelRouter struct {
	keys        KeySource
	health      FailureRecorder
	maintenance MaintenanceEvaluator
	notifier    FallbackNotifier
	registry    *provider.Registry
	maxRetries  int
	logger      *logrus.Logger
}

// NewModelRouter 创建模型路由器
func NewModelRouter(
	keys KeySource,
	health FailureRecorder,
	maintenance MaintenanceEvaluator,
	notifier FallbackNotifier,
	registry *provider.Registry,
	maxRetries int,
	logger *logrus.Logger,
) *ModelRouter {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ModelRouter{
		keys:        keys,
		health:      health,
		maintenance: maintenance,
		notifier:    notifier,
		registry:    registry,
		maxRetries:  maxRetries,
		logger:      logger,
	}
}

// SelectProvider 选择功能对应的提供商
func (r *ModelRouter) SelectProvider(feature types.Feature) (types.Provider, error) {
	if !types.ValidFeature(feature) {
		return "", fmt.Errorf("未知的功能: %s", feature)
	}
	prov, exists := defaultProviders[feature]
	if !exists {
		return "", fmt.Errorf("功能 %s 没有配置提供商", feature)
	}
	return prov, nil
}

// ExecuteWithFallback 带自动故障转移的提供商调用
// 密钥严格按priority降序尝试，单次调用内绝不重试同一个密钥；
// attempts等于实际发起的适配器调用次数
func (r *ModelRouter) ExecuteWithFallback(ctx context.Context, prov types.Provider, feature types.Feature, prompt, systemPrompt string) *types.RouteResult {
	adapter, err := r.registry.Get(prov)
	if err != nil {
		return &types.RouteResult{Success: false, Error: err.Error()}
	}

	keys, err := r.keys.GetAllActiveKeys(prov, feature)
	if err != nil {
		r.logger.Errorf("获取 %s/%s 的密钥失败: %v", prov, feature, err)
		return &types.RouteResult{Success: false, Error: "failed to load API keys"}
	}

	maxAttempts := len(keys)
	if r.maxRetries < maxAttempts {
		maxAttempts = r.maxRetries
	}

	attempts := 0
	for i := 0; i < maxAttempts; i++ {
		key := keys[i]

		// 从失败的高优先级密钥切换到低优先级密钥时通知一次
		// 每次成功切换恰好一条，不是每次失败一条
		if i > 0 {
			r.notifier.NotifyFallback(keys[i-1].ID, key.ID, prov, feature)
			r.logger.Warnf("切换到备用密钥 %s (%s/%s, attempt %d)", key.ID, prov, feature, i+1)
		}

		attempts++
		result := adapter.Call(ctx, key.KeyValue, prompt, systemPrompt)

		if result.Success {
			// 首个成功即返回，不再尝试后续密钥
			return &types.RouteResult{
				Success:    true,
				Content:    result.Content,
				TokensUsed: result.TokensUsed,
				KeyID:      key.ID,
				Attempts:   attempts,
			}
		}

		r.logger.Warnf("密钥 %s 调用失败 (attempt %d/%d): %s", key.ID, attempts, maxAttempts, result.Error)
		if _, err := r.health.RecordFailure(key.ID, result.Error, prov, feature); err != nil {
			r.logger.Errorf("记录密钥 %s 失败状态出错: %v", key.ID, err)
		}
	}

	// 全部耗尽(包括一开始就没有可用密钥的零尝试失败)，评估维护触发
	r.escalate(prov, feature, attempts)

	return &types.RouteResult{
		Success:  false,
		Error:    fmt.Sprintf("all API keys failed for %s/%s", prov, feature),
		Attempts: attempts,
	}
}

// escalate 密钥耗尽后的维护升级，这是唯一会超出单次请求范围的错误路径
func (r *ModelRouter) escalate(prov types.Provider, feature types.Feature, failures int) {
	level, err := r.maintenance.EvaluateTrigger(feature, failures)
	if err != nil {
		r.logger.Errorf("评估 %s 的维护触发失败: %v", feature, err)
		return
	}
	if level == "" {
		return
	}

	reason := fmt.Sprintf("All API keys failed for %s/%s", prov, feature)
	if _, err := r.maintenance.Enter(level, reason, feature, ""); err != nil {
		r.logger.Errorf("进入%s维护模式失败: %v", level, err)
	}
}

// RecordFailure 委托健康监控记录一次密钥失败
func (r *ModelRouter) RecordFailure(keyID, errMsg string, prov types.Provider, feature types.Feature) (*types.FailureRecord, error) {
	return r.health.RecordFailure(keyID, errMsg, prov, feature)
}

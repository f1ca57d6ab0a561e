package types

// Provider 枚举 - LLM提供商
type Provider string

const (
	ProviderGemini    Provider = "gemini"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderOllama    Provider = "ollama"
)

// ValidProvider 判断是否是已知的提供商
func ValidProvider(p Provider) bool {
	switch p {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic, ProviderOllama:
		return true
	}
	return false
}

// Feature 枚举 - 功能名称，每个功能有独立的密钥池
type Feature string

const (
	FeatureChat      Feature = "chat"
	FeatureFlashcard Feature = "flashcard"
	FeatureMCQ       Feature = "mcq"
	FeatureHighYield Feature = "highyield"
	FeatureExplain   Feature = "explain"
	FeatureMap       Feature = "map"
	FeatureClinical  Feature = "clinical"
	FeatureOSCE      Feature = "osce"
	FeatureSafety    Feature = "safety"
	FeatureImage     Feature = "image"
	FeatureEmbedding Feature = "embedding"
)

// AllFeatures 所有已知功能的列表
var AllFeatures = []Feature{
	FeatureChat, FeatureFlashcard, FeatureMCQ, FeatureHighYield,
	FeatureExplain, FeatureMap, FeatureClinical, FeatureOSCE,
	FeatureSafety, FeatureImage, FeatureEmbedding,
}

// ValidFeature 判断是否是已知的功能名称
func ValidFeature(f Feature) bool {
	for _, known := range AllFeatures {
		if f == known {
			return true
		}
	}
	return false
}

// KeyStatus 枚举 - API密钥状态
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusDegraded KeyStatus = "degraded"
	KeyStatusDisabled KeyStatus = "disabled"
)

// HealthState 枚举 - 健康检查结果状态
type HealthState string

const (
	HealthStateHealthy  HealthState = "healthy"
	HealthStateDegraded HealthState = "degraded"
	HealthStateFailed   HealthState = "failed"
)

// MaintenanceLevel 枚举 - 维护模式级别
type MaintenanceLevel string

const (
	// MaintenanceSoft 软维护 - 部分功能降级，轻量功能仍可用
	MaintenanceSoft MaintenanceLevel = "soft"
	// MaintenanceHard 硬维护 - 仅管理员可访问
	MaintenanceHard MaintenanceLevel = "hard"
)

// ValidMaintenanceLevel 判断是否是合法的维护级别
func ValidMaintenanceLevel(l MaintenanceLevel) bool {
	return l == MaintenanceSoft || l == MaintenanceHard
}

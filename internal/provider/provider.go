package provider

import (
	"context"
	"fmt"

	"github.com/mediq/model-gateway/pkg/types"
)

// Adapter 提供商适配器统一接口
// 把通用的(prompt, system_prompt)翻译成各家的线上格式，
// 并把响应/错误归一化为ProviderResult
type Adapter interface {
	Name() types.Provider
	// Call 调用失败不返回error，统一折叠进result.Error，由路由器决定是否换键重试
	Call(ctx context.Context, apiKey, prompt, systemPrompt string) *types.ProviderResult
	// CallStream 流式调用，返回文本块序列；建立流之前的错误通过error返回
	CallStream(ctx context.Context, apiKey, prompt, systemPrompt string) (<-chan string, error)
}

// Registry 适配器注册表
// 显式的调度表，在组装期构建，不做运行时字符串反射分发
type Registry struct {
	adapters map[types.Provider]Adapter
}

// NewRegistry 创建注册表
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[types.Provider]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get 按提供商名取适配器
func (r *Registry) Get(provider types.Provider) (Adapter, error) {
	adapter, exists := r.adapters[provider]
	if !exists {
		return nil, fmt.Errorf("没有%s的适配器实现", provider)
	}
	return adapter, nil
}

// Providers 列出已注册的提供商
func (r *Registry) Providers() []types.Provider {
	providers := make([]types.Provider, 0, len(r.adapters))
	for p := range r.adapters {
		providers = append(providers, p)
	}
	return providers
}

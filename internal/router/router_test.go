package router

import (
	"context"
	"testing"

	"github.com/mediq/model-gateway/internal/notify"
	"github.com/mediq/model-gateway/internal/provider"
	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

type scriptedAdapter struct {
	name    types.Provider
	results map[string]*types.ProviderResult // apiKey -> result
	calls   []string                         // 按调用顺序记录apiKey
}

func (a *scriptedAdapter) Name() types.Provider { return a.name }

func (a *scriptedAdapter) Call(_ context.Context, apiKey, _, _ string) *types.ProviderResult {
	a.calls = append(a.calls, apiKey)
	if r, ok := a.results[apiKey]; ok {
		return r
	}
	return &types.ProviderResult{Success: false, Error: "unscripted key"}
}

func (a *scriptedAdapter) CallStream(context.Context, string, string, string) (<-chan string, error) {
	ch := make(chan string)
	close(ch)
	return ch, nil
}

type mockKeySource struct {
	keys []*types.APIKey
	err  error
}

func (m *mockKeySource) GetAllActiveKeys(types.Provider, types.Feature) ([]*types.APIKey, error) {
	return m.keys, m.err
}

type mockFailureRecorder struct {
	recorded []string // keyID顺序
}

func (m *mockFailureRecorder) RecordFailure(keyID, _ string, _ types.Provider, _ types.Feature) (*types.FailureRecord, error) {
	m.recorded = append(m.recorded, keyID)
	return &types.FailureRecord{KeyID: keyID, FailureCount: len(m.recorded)}, nil
}

type mockMaintenance struct {
	triggerLevel    types.MaintenanceLevel
	evaluateCalls   int
	evaluateFailure int
	enterCalls      int
	enterLevel      types.MaintenanceLevel
	enterReason     string
	enterFeature    types.Feature
}

func (m *mockMaintenance) EvaluateTrigger(_ types.Feature, failures int) (types.MaintenanceLevel, error) {
	m.evaluateCalls++
	m.evaluateFailure = failures
	return m.triggerLevel, nil
}

func (m *mockMaintenance) Enter(level types.MaintenanceLevel, reason string, feature types.Feature, _ string) (*types.MaintenanceStatus, error) {
	m.enterCalls++
	m.enterLevel = level
	m.enterReason = reason
	m.enterFeature = feature
	return &types.MaintenanceStatus{InMaintenance: true, Level: level}, nil
}

type fallbackCall struct {
	from, to string
}

type mockNotifier struct {
	fallbacks []fallbackCall
}

func (m *mockNotifier) NotifyFallback(fromKeyID, toKeyID string, _ types.Provider, _ types.Feature) *notify.Outcome {
	m.fallbacks = append(m.fallbacks, fallbackCall{from: fromKeyID, to: toKeyID})
	return &notify.Outcome{}
}

func testKey(id, value string, priority int) *types.APIKey {
	return &types.APIKey{
		ID:       id,
		Provider: types.ProviderGemini,
		Feature:  types.FeatureChat,
		KeyValue: value,
		Priority: priority,
		Status:   types.KeyStatusActive,
	}
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func newTestRouter(adapter *scriptedAdapter, keys *mockKeySource, maxRetries int) (*ModelRouter, *mockFailureRecorder, *mockMaintenance, *mockNotifier) {
	health := &mockFailureRecorder{}
	maint := &mockMaintenance{}
	notifier := &mockNotifier{}
	r := NewModelRouter(keys, health, maint, notifier, provider.NewRegistry(adapter), maxRetries, quietLogger())
	return r, health, maint, notifier
}

func TestSelectProvider(t *testing.T) {
	r, _, _, _ := newTestRouter(&scriptedAdapter{name: types.ProviderGemini}, &mockKeySource{}, 3)

	for _, feature := range types.AllFeatures {
		prov, err := r.SelectProvider(feature)
		if err != nil {
			t.Errorf("SelectProvider(%s)不应出错: %v", feature, err)
		}
		if prov != types.ProviderGemini {
			t.Errorf("SelectProvider(%s) = %s, 期望 %s", feature, prov, types.ProviderGemini)
		}
	}

	if _, err := r.SelectProvider("video"); err == nil {
		t.Error("未知功能应返回错误")
	}
}

func TestExecuteWithFallback_FirstKeySucceeds(t *testing.T) {
	adapter := &scriptedAdapter{
		name: types.ProviderGemini,
		results: map[string]*types.ProviderResult{
			"sk-a": {Success: true, Content: "答案", TokensUsed: 12},
		},
	}
	keys := &mockKeySource{keys: []*types.APIKey{
		testKey("key-a", "sk-a", 50),
		testKey("key-b", "sk-b", 10),
	}}
	r, health, maint, notifier := newTestRouter(adapter, keys, 3)

	result := r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	if !result.Success {
		t.Fatalf("期望成功, 得到错误: %s", result.Error)
	}
	if result.Content != "答案" || result.TokensUsed != 12 {
		t.Errorf("结果内容不匹配: %+v", result)
	}
	if result.KeyID != "key-a" || result.Attempts != 1 {
		t.Errorf("期望key-a/1次尝试, 得到 %s/%d", result.KeyID, result.Attempts)
	}
	if len(adapter.calls) != 1 {
		t.Errorf("首个密钥成功后不应再调用其他密钥, 实际调用 %d 次", len(adapter.calls))
	}
	if len(notifier.fallbacks) != 0 {
		t.Errorf("没有切换不应通知, 实际 %d 次", len(notifier.fallbacks))
	}
	if len(health.recorded) != 0 {
		t.Errorf("成功调用不应记录失败, 实际 %d 次", len(health.recorded))
	}
	if maint.evaluateCalls != 0 {
		t.Error("成功调用不应评估维护触发")
	}
}

func TestExecuteWithFallback_FallbackNotifiesOnce(t *testing.T) {
	adapter := &scriptedAdapter{
		name: types.ProviderGemini,
		results: map[string]*types.ProviderResult{
			"sk-a": {Success: false, Error: "429 quota exceeded"},
			"sk-b": {Success: true, Content: "ok", TokensUsed: 3},
		},
	}
	keys := &mockKeySource{keys: []*types.APIKey{
		testKey("key-a", "sk-a", 50),
		testKey("key-b", "sk-b", 10),
	}}
	r, health, maint, notifier := newTestRouter(adapter, keys, 3)

	result := r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	if !result.Success {
		t.Fatalf("期望备用密钥成功: %s", result.Error)
	}
	if result.KeyID != "key-b" || result.Attempts != 2 {
		t.Errorf("期望key-b/2次尝试, 得到 %s/%d", result.KeyID, result.Attempts)
	}
	if len(notifier.fallbacks) != 1 {
		t.Fatalf("切换一次应通知恰好一次, 实际 %d 次", len(notifier.fallbacks))
	}
	if notifier.fallbacks[0].from != "key-a" || notifier.fallbacks[0].to != "key-b" {
		t.Errorf("通知方向错误: %+v", notifier.fallbacks[0])
	}
	if len(health.recorded) != 1 || health.recorded[0] != "key-a" {
		t.Errorf("只应记录key-a的失败, 实际: %v", health.recorded)
	}
	if maint.evaluateCalls != 0 {
		t.Error("未耗尽不应评估维护触发")
	}
}

func TestExecuteWithFallback_ExhaustionTriggersMaintenance(t *testing.T) {
	adapter := &scriptedAdapter{
		name: types.ProviderGemini,
		results: map[string]*types.ProviderResult{
			"sk-a": {Success: false, Error: "500"},
			"sk-b": {Success: false, Error: "timeout"},
		},
	}
	keys := &mockKeySource{keys: []*types.APIKey{
		testKey("key-a", "sk-a", 50),
		testKey("key-b", "sk-b", 10),
	}}
	r, health, maint, notifier := newTestRouter(adapter, keys, 3)
	maint.triggerLevel = types.MaintenanceSoft

	result := r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	if result.Success {
		t.Fatal("全部密钥失败不应成功")
	}
	if result.Attempts != 2 {
		t.Errorf("期望2次尝试, 得到 %d", result.Attempts)
	}
	if len(health.recorded) != 2 {
		t.Errorf("两个密钥都应记录失败, 实际: %v", health.recorded)
	}
	if maint.evaluateCalls != 1 {
		t.Fatalf("耗尽应评估维护恰好一次, 实际 %d 次", maint.evaluateCalls)
	}
	if maint.evaluateFailure != 2 {
		t.Errorf("评估应带上实际尝试次数2, 得到 %d", maint.evaluateFailure)
	}
	if maint.enterCalls != 1 {
		t.Fatalf("应进入维护恰好一次, 实际 %d 次", maint.enterCalls)
	}
	if maint.enterLevel != types.MaintenanceSoft || maint.enterFeature != types.FeatureChat {
		t.Errorf("维护参数错误: level=%s feature=%s", maint.enterLevel, maint.enterFeature)
	}
	if maint.enterReason == "" {
		t.Error("维护原因不应为空")
	}
	if len(notifier.fallbacks) != 1 {
		t.Errorf("两个密钥一次切换应通知一次, 实际 %d 次", len(notifier.fallbacks))
	}
}

func TestExecuteWithFallback_NoTriggerNoEnter(t *testing.T) {
	adapter := &scriptedAdapter{
		name: types.ProviderGemini,
		results: map[string]*types.ProviderResult{
			"sk-a": {Success: false, Error: "500"},
		},
	}
	keys := &mockKeySource{keys: []*types.APIKey{testKey("key-a", "sk-a", 50)}}
	r, _, maint, _ := newTestRouter(adapter, keys, 3)
	// triggerLevel留空表示评估结果为不触发

	result := r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	if result.Success {
		t.Fatal("不应成功")
	}
	if maint.evaluateCalls != 1 {
		t.Errorf("仍应评估一次, 实际 %d", maint.evaluateCalls)
	}
	if maint.enterCalls != 0 {
		t.Errorf("评估未触发时不应进入维护, 实际 %d 次", maint.enterCalls)
	}
}

func TestExecuteWithFallback_NoKeysZeroAttempts(t *testing.T) {
	adapter := &scriptedAdapter{name: types.ProviderGemini}
	keys := &mockKeySource{keys: nil}
	r, _, maint, notifier := newTestRouter(adapter, keys, 3)
	maint.triggerLevel = types.MaintenanceHard

	result := r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	if result.Success {
		t.Fatal("没有密钥不应成功")
	}
	if result.Attempts != 0 {
		t.Errorf("零密钥应为零尝试, 得到 %d", result.Attempts)
	}
	if maint.evaluateCalls != 1 || maint.evaluateFailure != 0 {
		t.Errorf("零密钥仍应以failures=0评估维护, calls=%d failures=%d", maint.evaluateCalls, maint.evaluateFailure)
	}
	if maint.enterCalls != 1 || maint.enterLevel != types.MaintenanceHard {
		t.Errorf("应进入hard维护, calls=%d level=%s", maint.enterCalls, maint.enterLevel)
	}
	if len(notifier.fallbacks) != 0 {
		t.Error("零密钥不应有切换通知")
	}
}

func TestExecuteWithFallback_MaxRetriesCapsAttempts(t *testing.T) {
	adapter := &scriptedAdapter{
		name: types.ProviderGemini,
		results: map[string]*types.ProviderResult{
			"sk-a": {Success: false, Error: "500"},
			"sk-b": {Success: false, Error: "500"},
			"sk-c": {Success: true, Content: "永远到不了"},
		},
	}
	keys := &mockKeySource{keys: []*types.APIKey{
		testKey("key-a", "sk-a", 50),
		testKey("key-b", "sk-b", 10),
		testKey("key-c", "sk-c", 5),
	}}
	r, _, maint, _ := newTestRouter(adapter, keys, 2)

	result := r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	if result.Success {
		t.Fatal("超出重试上限后不应再尝试第三个密钥")
	}
	if result.Attempts != 2 {
		t.Errorf("期望2次尝试, 得到 %d", result.Attempts)
	}
	if len(adapter.calls) != 2 {
		t.Errorf("适配器应只被调用2次, 实际 %d", len(adapter.calls))
	}
	if maint.evaluateFailure != 2 {
		t.Errorf("评估应带上被上限截断的尝试数, 得到 %d", maint.evaluateFailure)
	}
}

func TestExecuteWithFallback_KeySourceError(t *testing.T) {
	adapter := &scriptedAdapter{name: types.ProviderGemini}
	keys := &mockKeySource{err: context.DeadlineExceeded}
	r, _, maint, _ := newTestRouter(adapter, keys, 3)

	result := r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	if result.Success {
		t.Fatal("密钥加载失败不应成功")
	}
	if maint.evaluateCalls != 0 {
		t.Error("存储故障不应触发维护评估")
	}
}

func TestExecuteWithFallback_UnknownProvider(t *testing.T) {
	adapter := &scriptedAdapter{name: types.ProviderGemini}
	r, _, _, _ := newTestRouter(adapter, &mockKeySource{}, 3)

	result := r.ExecuteWithFallback(context.Background(), types.ProviderOpenAI, types.FeatureChat, "hello", "")

	if result.Success {
		t.Fatal("未注册的提供商不应成功")
	}
	if result.Error == "" {
		t.Error("应返回错误信息")
	}
}

func TestExecuteWithFallback_PriorityOrderRespected(t *testing.T) {
	adapter := &scriptedAdapter{
		name: types.ProviderGemini,
		results: map[string]*types.ProviderResult{
			"sk-a": {Success: false, Error: "500"},
			"sk-b": {Success: false, Error: "500"},
			"sk-c": {Success: false, Error: "500"},
		},
	}
	keys := &mockKeySource{keys: []*types.APIKey{
		testKey("key-a", "sk-a", 50),
		testKey("key-b", "sk-b", 10),
		testKey("key-c", "sk-c", 5),
	}}
	r, health, _, notifier := newTestRouter(adapter, keys, 3)

	r.ExecuteWithFallback(context.Background(), types.ProviderGemini, types.FeatureChat, "hello", "")

	want := []string{"sk-a", "sk-b", "sk-c"}
	for i, k := range want {
		if adapter.calls[i] != k {
			t.Fatalf("调用顺序错误: %v, 期望 %v", adapter.calls, want)
		}
	}
	if len(health.recorded) != 3 {
		t.Errorf("三次失败都应记录, 实际: %v", health.recorded)
	}
	if len(notifier.fallbacks) != 2 {
		t.Errorf("三个密钥两次切换应通知两次, 实际 %d", len(notifier.fallbacks))
	}
}

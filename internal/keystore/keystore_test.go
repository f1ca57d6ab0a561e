package keystore

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"testing"
	"time"

	"github.com/mediq/model-gateway/internal/crypto"
	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// MockStore 实现Store接口用于测试
type MockStore struct {
	keys    map[string]*types.APIKey
	touched []string
}

func NewMockStore() *MockStore {
	return &MockStore{keys: make(map[string]*types.APIKey)}
}

func (m *MockStore) CreateAPIKey(key *types.APIKey) error {
	m.keys[key.ID] = key
	return nil
}

func (m *MockStore) GetAPIKey(id string) (*types.APIKey, error) {
	key, exists := m.keys[id]
	if !exists {
		return nil, fmt.Errorf("key not found: %s", id)
	}
	return key, nil
}

func (m *MockStore) ListActiveKeys(provider types.Provider, feature types.Feature) ([]*types.APIKey, error) {
	keys := make([]*types.APIKey, 0)
	for _, key := range m.keys {
		if key.Provider == provider && key.Feature == feature && key.Status == types.KeyStatusActive {
			c := *key
			keys = append(keys, &c)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Priority > keys[j].Priority })
	return keys, nil
}

func (m *MockStore) ListAllKeys() ([]*types.APIKey, error) {
	keys := make([]*types.APIKey, 0, len(m.keys))
	for _, key := range m.keys {
		c := *key
		keys = append(keys, &c)
	}
	return keys, nil
}

func (m *MockStore) UpdateAPIKey(id string, updater func(*types.APIKey) error) error {
	key, exists := m.keys[id]
	if !exists {
		return fmt.Errorf("key not found: %s", id)
	}
	return updater(key)
}

func (m *MockStore) TouchLastUsed(id string, at time.Time) error {
	m.touched = append(m.touched, id)
	if key, exists := m.keys[id]; exists {
		key.LastUsedAt = &at
	}
	return nil
}

func testCipher(t *testing.T) *crypto.Service {
	t.Helper()
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		t.Fatalf("生成测试密钥失败: %v", err)
	}
	svc, err := crypto.NewService(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return svc
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func seedKey(t *testing.T, store *MockStore, cipher Cipher, id string, provider types.Provider, feature types.Feature, priority int, status types.KeyStatus) string {
	t.Helper()
	plaintext := "plain-" + id
	ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	now := time.Now().UTC()
	store.keys[id] = &types.APIKey{
		ID: id, Provider: provider, Feature: feature,
		KeyValue: ciphertext, Priority: priority, Status: status,
		CreatedAt: now, UpdatedAt: now,
	}
	return plaintext
}

func TestKeyStore_GetActiveKey_HighestPriority(t *testing.T) {
	store := NewMockStore()
	cipher := testCipher(t)
	ks := NewKeyStore(store, cipher, testLogger())

	seedKey(t, store, cipher, "key-10", types.ProviderGemini, types.FeatureChat, 10, types.KeyStatusActive)
	wantPlain := seedKey(t, store, cipher, "key-50", types.ProviderGemini, types.FeatureChat, 50, types.KeyStatusActive)
	seedKey(t, store, cipher, "key-5", types.ProviderGemini, types.FeatureChat, 5, types.KeyStatusActive)

	got, err := ks.GetActiveKey(types.ProviderGemini, types.FeatureChat)
	if err != nil {
		t.Fatalf("GetActiveKey() error = %v", err)
	}
	if got == nil || got.ID != "key-50" {
		t.Fatalf("GetActiveKey() = %+v, want key-50", got)
	}
	if got.KeyValue != wantPlain {
		t.Errorf("返回的密钥应是明文: got %q, want %q", got.KeyValue, wantPlain)
	}
	if len(store.touched) != 1 || store.touched[0] != "key-50" {
		t.Errorf("应更新被选中密钥的last_used_at: touched = %v", store.touched)
	}
}

func TestKeyStore_GetActiveKey_NoActiveKey(t *testing.T) {
	store := NewMockStore()
	cipher := testCipher(t)
	ks := NewKeyStore(store, cipher, testLogger())

	seedKey(t, store, cipher, "key-d", types.ProviderGemini, types.FeatureChat, 100, types.KeyStatusDegraded)

	got, err := ks.GetActiveKey(types.ProviderGemini, types.FeatureChat)
	if err != nil {
		t.Fatalf("GetActiveKey() error = %v", err)
	}
	if got != nil {
		t.Errorf("没有active密钥时应返回nil, got %+v", got)
	}
	if len(store.touched) != 0 {
		t.Errorf("无密钥返回时不应更新使用时间")
	}
}

func TestKeyStore_GetAllActiveKeys_OrderAndDecryption(t *testing.T) {
	store := NewMockStore()
	cipher := testCipher(t)
	ks := NewKeyStore(store, cipher, testLogger())

	plains := map[string]string{}
	for _, priority := range []int{10, 50, 5} {
		id := fmt.Sprintf("key-%d", priority)
		plains[id] = seedKey(t, store, cipher, id, types.ProviderGemini, types.FeatureChat, priority, types.KeyStatusActive)
	}
	// 高优先级的degraded密钥必须被硬排除
	seedKey(t, store, cipher, "key-degraded", types.ProviderGemini, types.FeatureChat, 1000, types.KeyStatusDegraded)

	keys, err := ks.GetAllActiveKeys(types.ProviderGemini, types.FeatureChat)
	if err != nil {
		t.Fatalf("GetAllActiveKeys() error = %v", err)
	}

	wantOrder := []string{"key-50", "key-10", "key-5"}
	if len(keys) != len(wantOrder) {
		t.Fatalf("GetAllActiveKeys()返回%d条, want %d", len(keys), len(wantOrder))
	}
	for i, wantID := range wantOrder {
		if keys[i].ID != wantID {
			t.Errorf("keys[%d].ID = %s, want %s", i, keys[i].ID, wantID)
		}
		if keys[i].KeyValue != plains[wantID] {
			t.Errorf("keys[%d]未解密", i)
		}
	}
}

func TestKeyStore_FeatureIsolation(t *testing.T) {
	store := NewMockStore()
	cipher := testCipher(t)
	ks := NewKeyStore(store, cipher, testLogger())

	seedKey(t, store, cipher, "chat-degraded", types.ProviderGemini, types.FeatureChat, 100, types.KeyStatusDegraded)
	seedKey(t, store, cipher, "flash-active", types.ProviderGemini, types.FeatureFlashcard, 1, types.KeyStatusActive)

	got, err := ks.GetActiveKey(types.ProviderGemini, types.FeatureFlashcard)
	if err != nil {
		t.Fatalf("GetActiveKey() error = %v", err)
	}
	if got == nil || got.ID != "flash-active" {
		t.Errorf("chat功能的降级密钥不应影响flashcard: got %+v", got)
	}
}

func TestKeyStore_AddKey(t *testing.T) {
	store := NewMockStore()
	cipher := testCipher(t)
	ks := NewKeyStore(store, cipher, testLogger())

	key, err := ks.AddKey(types.ProviderGemini, types.FeatureChat, "sk-plain-secret", 7)
	if err != nil {
		t.Fatalf("AddKey() error = %v", err)
	}
	if key.KeyValue != "" {
		t.Error("AddKey()返回值不应携带密钥材料")
	}

	stored := store.keys[key.ID]
	if stored == nil {
		t.Fatal("密钥未写入存储")
	}
	if stored.KeyValue == "sk-plain-secret" {
		t.Error("存储层不应见到明文")
	}
	plain, err := cipher.Decrypt(stored.KeyValue)
	if err != nil || plain != "sk-plain-secret" {
		t.Errorf("存储的密文无法解回原文: %q, %v", plain, err)
	}
	if stored.Status != types.KeyStatusActive || stored.Priority != 7 {
		t.Errorf("新密钥字段不正确: %+v", stored)
	}
}

func TestKeyStore_AddKey_Validation(t *testing.T) {
	store := NewMockStore()
	ks := NewKeyStore(store, testCipher(t), testLogger())

	tests := []struct {
		name     string
		provider types.Provider
		feature  types.Feature
		key      string
	}{
		{name: "unknown_provider", provider: "grok", feature: types.FeatureChat, key: "sk-x"},
		{name: "unknown_feature", provider: types.ProviderGemini, feature: "karaoke", key: "sk-x"},
		{name: "empty_key", provider: types.ProviderGemini, feature: types.FeatureChat, key: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ks.AddKey(tt.provider, tt.feature, tt.key, 1); err == nil {
				t.Error("AddKey()应报错")
			}
		})
	}
}

func TestKeyStore_DisableKey(t *testing.T) {
	store := NewMockStore()
	cipher := testCipher(t)
	ks := NewKeyStore(store, cipher, testLogger())

	seedKey(t, store, cipher, "key-1", types.ProviderGemini, types.FeatureChat, 1, types.KeyStatusActive)

	if err := ks.DisableKey("key-1"); err != nil {
		t.Fatalf("DisableKey() error = %v", err)
	}
	if store.keys["key-1"].Status != types.KeyStatusDisabled {
		t.Errorf("密钥状态 = %s, want disabled", store.keys["key-1"].Status)
	}

	if err := ks.DisableKey("missing"); err == nil {
		t.Error("禁用不存在的密钥应报错")
	}
}

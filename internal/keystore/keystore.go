package keystore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mediq/model-gateway/pkg/types"
	"github.com/sirupsen/logrus"
)

// Store 密钥存储接口
type Store interface {
	CreateAPIKey(key *types.APIKey) error
	GetAPIKey(id string) (*types.APIKey, error)
	ListActiveKeys(provider types.Provider, feature types.Feature) ([]*types.APIKey, error)
	ListAllKeys() ([]*types.APIKey, error)
	UpdateAPIKey(id string, updater func(*types.APIKey) error) error
	TouchLastUsed(id string, at time.Time) error
}

// Cipher 密钥材料加解密接口
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// KeyStore 密钥存取器
// 存储层只见密文，调用方只见明文：读取时解密，写入时加密
type KeyStore struct {
	store  Store
	cipher Cipher
	logger *logrus.Logger
}

// NewKeyStore 创建密钥存取器
func NewKeyStore(store Store, cipher Cipher, logger *logrus.Logger) *KeyStore {
	return &KeyStore{
		store:  store,
		cipher: cipher,
		logger: logger,
	}
}

// GetActiveKey 返回(provider, feature)下优先级最高的active密钥，并更新最近使用时间
// 没有可用密钥时返回(nil, nil)
func (ks *KeyStore) GetActiveKey(provider types.Provider, feature types.Feature) (*types.APIKey, error) {
	keys, err := ks.store.ListActiveKeys(provider, feature)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	// 存储层已按priority降序排列，同优先级按存储迭代顺序决定
	key := keys[0]

	plaintext, err := ks.cipher.Decrypt(key.KeyValue)
	if err != nil {
		return nil, fmt.Errorf("解密密钥 %s 失败: %w", key.ID, err)
	}

	now := time.Now().UTC()
	if err := ks.store.TouchLastUsed(key.ID, now); err != nil {
		// 使用时间只是统计信息，更新失败不阻塞取键
		ks.logger.Warnf("更新密钥 %s 使用时间失败: %v", key.ID, err)
	}

	decrypted := *key
	decrypted.KeyValue = plaintext
	decrypted.LastUsedAt = &now
	return &decrypted, nil
}

// GetAllActiveKeys 返回(provider, feature)下全部active密钥，按priority降序，已解密
func (ks *KeyStore) GetAllActiveKeys(provider types.Provider, feature types.Feature) ([]*types.APIKey, error) {
	keys, err := ks.store.ListActiveKeys(provider, feature)
	if err != nil {
		return nil, err
	}

	decrypted := make([]*types.APIKey, 0, len(keys))
	for _, key := range keys {
		plaintext, err := ks.cipher.Decrypt(key.KeyValue)
		if err != nil {
			return nil, fmt.Errorf("解密密钥 %s 失败: %w", key.ID, err)
		}
		c := *key
		c.KeyValue = plaintext
		decrypted = append(decrypted, &c)
	}
	return decrypted, nil
}

// AddKey 加密并保存一个新密钥，status初始为active
func (ks *KeyStore) AddKey(provider types.Provider, feature types.Feature, plaintext string, priority int) (*types.APIKey, error) {
	if !types.ValidProvider(provider) {
		return nil, fmt.Errorf("未知的提供商: %s", provider)
	}
	if !types.ValidFeature(feature) {
		return nil, fmt.Errorf("未知的功能: %s", feature)
	}
	if plaintext == "" {
		return nil, fmt.Errorf("密钥不能为空")
	}

	ciphertext, err := ks.cipher.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("加密密钥失败: %w", err)
	}

	now := time.Now().UTC()
	key := &types.APIKey{
		ID:        uuid.NewString(),
		Provider:  provider,
		Feature:   feature,
		KeyValue:  ciphertext,
		Priority:  priority,
		Status:    types.KeyStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := ks.store.CreateAPIKey(key); err != nil {
		return nil, err
	}

	ks.logger.Infof("新增密钥 %s (%s/%s, priority=%d)", key.ID, provider, feature, priority)
	return key.Redacted(), nil
}

// DisableKey 管理员禁用密钥，禁用是管理动作，自动流程只能降级
func (ks *KeyStore) DisableKey(id string) error {
	err := ks.store.UpdateAPIKey(id, func(k *types.APIKey) error {
		k.Status = types.KeyStatusDisabled
		return nil
	})
	if err != nil {
		return err
	}
	ks.logger.Infof("密钥 %s 已被禁用", id)
	return nil
}

// ListKeys 列出全部密钥(去除密钥材料)
func (ks *KeyStore) ListKeys() ([]*types.APIKey, error) {
	keys, err := ks.store.ListAllKeys()
	if err != nil {
		return nil, err
	}
	redacted := make([]*types.APIKey, 0, len(keys))
	for _, key := range keys {
		redacted = append(redacted, key.Redacted())
	}
	return redacted, nil
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

// NonceSize GCM推荐的nonce长度
const NonceSize = 12

// ErrIntegrity 完整性校验失败(认证标签不匹配)：数据被篡改或密钥不对
var ErrIntegrity = errors.New("完整性校验失败: 数据可能被篡改或使用了错误的密钥")

// Service API密钥静态加密服务，使用AES-256-GCM
// 存储格式: base64( nonce(12B) || ciphertext || tag(16B) )
type Service struct {
	aead cipher.AEAD
}

// NewService 创建加密服务
// keyB64 是base64编码的32字节密钥；缺失或长度不对时直接构造失败，
// 让配置错误在启动时暴露而不是在第一次请求时
func NewService(keyB64 string) (*Service, error) {
	if keyB64 == "" {
		return nil, fmt.Errorf("加密密钥未设置: 请通过ENCRYPTION_KEY环境变量提供base64编码的32字节密钥")
	}

	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("加密密钥不是合法的base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("加密密钥必须是32字节(256位)，实际为%d字节", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("初始化AES失败: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("初始化GCM失败: %w", err)
	}

	return &Service{aead: aead}, nil
}

// Encrypt 加密明文API密钥
// 每次调用生成新的随机nonce，同一明文两次加密的结果必然不同
func (s *Service) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("不能加密空明文")
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("生成nonce失败: %w", err)
	}

	// Seal附加认证标签，无关联数据
	sealed := s.aead.Seal(nil, nonce, []byte(plaintext), nil)

	blob := make([]byte, 0, len(nonce)+len(sealed))
	blob = append(blob, nonce...)
	blob = append(blob, sealed...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt 解密存储的密文
// 任何位置的篡改(nonce、密文、标签)都以ErrIntegrity失败，绝不静默返回错误明文
func (s *Service) Decrypt(ciphertextB64 string) (string, error) {
	if ciphertextB64 == "" {
		return "", fmt.Errorf("不能解密空密文")
	}

	blob, err := base64.StdEncoding.DecodeString(ciphertextB64)
	if err != nil {
		return "", fmt.Errorf("密文不是合法的base64: %w", err)
	}
	if len(blob) < NonceSize {
		return "", fmt.Errorf("密文太短: 长度%d不足以包含nonce", len(blob))
	}

	nonce := blob[:NonceSize]
	sealed := blob[NonceSize:]

	plaintext, err := s.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrIntegrity
	}

	return string(plaintext), nil
}

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// FieldCipher 字段加密器
// AES-256-GCM，密钥由 scrypt 从配置口令派生。实例由装配方显式注入到
// 需要加密字段的写入路径，不依赖任何进程级可变共享状态。
type FieldCipher struct {
	aead cipher.AEAD
}

// NewFieldCipher 从口令与盐派生密钥并创建加密器
func NewFieldCipher(passphrase, salt string) (*FieldCipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("encryption passphrase is empty")
	}
	if salt == "" {
		return nil, fmt.Errorf("encryption salt is empty")
	}

	key, err := scrypt.Key([]byte(passphrase), []byte(salt), 1<<15, 8, 1, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &FieldCipher{aead: aead}, nil
}

// EncryptString 加密字符串字段，输出 base64(nonce || 密文)
// 空串原样返回，避免把"无备注"也变成密文。
func (c *FieldCipher) EncryptString(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString 解密 EncryptString 的输出
func (c *FieldCipher) DecryptString(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt field: %w", err)
	}
	return string(plain), nil
}

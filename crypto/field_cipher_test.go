package crypto

import (
	"testing"
)

func TestFieldCipherRoundTrip(t *testing.T) {
	cipher, err := NewFieldCipher("test-passphrase", "test-salt")
	if err != nil {
		t.Fatalf("创建加密器失败: %v", err)
	}

	plain := "建仓备注：分批买入，第一批"
	encrypted, err := cipher.EncryptString(plain)
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}
	if encrypted == plain {
		t.Error("密文不应等于明文")
	}

	decrypted, err := cipher.DecryptString(encrypted)
	if err != nil {
		t.Fatalf("解密失败: %v", err)
	}
	if decrypted != plain {
		t.Errorf("解密结果不一致: 期望 %q, 得到 %q", plain, decrypted)
	}
}

func TestFieldCipherNonceUniqueness(t *testing.T) {
	cipher, err := NewFieldCipher("test-passphrase", "test-salt")
	if err != nil {
		t.Fatalf("创建加密器失败: %v", err)
	}

	// 随机 nonce：同一明文两次加密产出不同密文
	first, _ := cipher.EncryptString("same plaintext")
	second, _ := cipher.EncryptString("same plaintext")
	if first == second {
		t.Error("两次加密不应产出相同密文")
	}
}

func TestFieldCipherEmptyString(t *testing.T) {
	cipher, err := NewFieldCipher("test-passphrase", "test-salt")
	if err != nil {
		t.Fatalf("创建加密器失败: %v", err)
	}

	// 空字符串直通，不产生密文
	encrypted, err := cipher.EncryptString("")
	if err != nil || encrypted != "" {
		t.Errorf("空字符串应直通: %q, %v", encrypted, err)
	}
	decrypted, err := cipher.DecryptString("")
	if err != nil || decrypted != "" {
		t.Errorf("空字符串应直通: %q, %v", decrypted, err)
	}
}

func TestFieldCipherWrongKey(t *testing.T) {
	cipher1, _ := NewFieldCipher("passphrase-one", "salt")
	cipher2, _ := NewFieldCipher("passphrase-two", "salt")

	encrypted, err := cipher1.EncryptString("secret")
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}

	if _, err := cipher2.DecryptString(encrypted); err == nil {
		t.Error("错误密钥解密应失败")
	}
}

func TestFieldCipherTamperDetection(t *testing.T) {
	cipher, _ := NewFieldCipher("test-passphrase", "test-salt")

	encrypted, err := cipher.EncryptString("secret")
	if err != nil {
		t.Fatalf("加密失败: %v", err)
	}

	// 篡改密文应被 GCM 认证拒绝
	tampered := []byte(encrypted)
	tampered[len(tampered)-1] ^= 0x01
	if _, err := cipher.DecryptString(string(tampered)); err == nil {
		t.Error("篡改后的密文解密应失败")
	}
}

package token

import (
	"testing"
	"time"
)

func TestGenerateAndVerifyToken(t *testing.T) {
	t.Parallel()
	manager := NewJWTManager("test-secret", 1, 7)

	tokenString, err := manager.GenerateToken(5, "alice", "USER", 42)
	if err != nil {
		t.Fatalf("生成 token 失败: %v", err)
	}

	claims, err := manager.VerifyToken(tokenString)
	if err != nil {
		t.Fatalf("验证 token 失败: %v", err)
	}
	if claims.UserID != 5 || claims.Username != "alice" || claims.Role != "USER" {
		t.Errorf("claims 不符: %+v", claims)
	}
	// 租户归属随 token 下发
	if claims.CompanyID != 42 {
		t.Errorf("companyId 应为 42, got %d", claims.CompanyID)
	}
}

func TestVerifyTokenWrongSecret(t *testing.T) {
	t.Parallel()
	manager := NewJWTManager("secret-a", 1, 7)
	other := NewJWTManager("secret-b", 1, 7)

	tokenString, err := manager.GenerateToken(1, "bob", "USER", 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.VerifyToken(tokenString); err == nil {
		t.Fatal("错误密钥签发的 token 不应通过验证")
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	t.Parallel()
	// 过期时间为 0 小时的 token 立即失效
	manager := NewJWTManager("test-secret", 0, 7)

	tokenString, err := manager.GenerateToken(1, "carol", "USER", 1)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	if _, err := manager.VerifyToken(tokenString); err == nil {
		t.Fatal("过期的 token 不应通过验证")
	}
}

func TestVerifyGarbageToken(t *testing.T) {
	t.Parallel()
	manager := NewJWTManager("test-secret", 1, 7)
	if _, err := manager.VerifyToken("not-a-token"); err == nil {
		t.Fatal("非法字符串不应通过验证")
	}
}

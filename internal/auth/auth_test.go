package auth

import (
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret-pass")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	again, _ := HashPassword("s3cret-pass")
	if hash == again {
		t.Error("HashPassword() should salt each hash")
	}

	tests := []struct {
		name string
		hash string
		pw   string
		want bool
	}{
		{"correct", hash, "s3cret-pass", true},
		{"wrong", hash, "s3cret-pas", false},
		{"empty", hash, "", false},
		{"not a bcrypt hash", "plain", "s3cret-pass", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyPassword(tt.hash, tt.pw); got != tt.want {
				t.Errorf("VerifyPassword() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccessTokenClaims(t *testing.T) {
	const secret = "test-secret"
	before := time.Now().Add(-time.Second)

	tok, err := GenerateAccessToken(42, secret, 15)
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	claims, err := ParseAccessToken(tok, secret)
	if err != nil {
		t.Fatalf("ParseAccessToken() error = %v", err)
	}
	if claims.UserID != 42 || claims.Subject != strconv.Itoa(42) {
		t.Errorf("claims user = %d / %q, want 42", claims.UserID, claims.Subject)
	}
	if claims.ID == "" {
		t.Error("access token has no jti")
	}
	exp := claims.ExpiresAt.Time
	if exp.Before(before.Add(15*time.Minute)) || exp.After(time.Now().Add(15*time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about 15m from now", exp)
	}
}

func TestAccessTokenJTIUnique(t *testing.T) {
	const secret = "test-secret"
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		tok, err := GenerateAccessToken(7, secret, 15)
		if err != nil {
			t.Fatal(err)
		}
		claims, err := ParseAccessToken(tok, secret)
		if err != nil {
			t.Fatal(err)
		}
		if seen[claims.ID] {
			t.Fatalf("jti %q issued twice; logout would revoke sibling tokens", claims.ID)
		}
		seen[claims.ID] = true
	}
}

// signWith 用指定算法签一个结构合法的 token。
func signWith(t *testing.T, method jwt.SigningMethod, key any) string {
	t.Helper()
	claims := Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("sign %s: %v", method.Alg(), err)
	}
	return s
}

func TestParseAccessToken_Rejects(t *testing.T) {
	const secret = "test-secret"
	good, _ := GenerateAccessToken(1, secret, 15)
	expired, _ := GenerateAccessToken(1, secret, -1)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signWith(t, jwt.SigningMethodHS256, []byte("other"))},
		{"HS384", signWith(t, jwt.SigningMethodHS384, []byte(secret))},
		{"HS512", signWith(t, jwt.SigningMethodHS512, []byte(secret))},
		{"alg none", signWith(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType)},
		{"expired", expired},
		{"truncated", good[:len(good)-4]},
		{"garbage", "invalid.token.here"},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := ParseAccessToken(tt.token, secret)
			if err == nil {
				t.Fatalf("ParseAccessToken() accepted %s token: %+v", tt.name, claims)
			}
			if claims != nil {
				t.Errorf("ParseAccessToken() claims = %+v, want nil", claims)
			}
		})
	}
}

func TestGenerateRefreshToken(t *testing.T) {
	a, err := GenerateRefreshToken()
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	b, _ := GenerateRefreshToken()
	if a == b {
		t.Error("refresh tokens must be unique")
	}
	// 32 字节 hex 编码
	if len(a) != 64 {
		t.Errorf("len = %d, want 64", len(a))
	}
}

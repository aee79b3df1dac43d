package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"codecrew/internal/models"

	"gorm.io/gorm"
)

// ErrUnauthorized 表示握手或请求的凭证无效、已吊销或用户不存在。
var ErrUnauthorized = errors.New("unauthorized")

// Revocations 记录被提前作废的 access token（按 jti）。
type Revocations interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// Identity 是一次成功校验的结果。
type Identity struct {
	User   models.User
	Claims *Claims
}

// Verifier 校验 access token：签名与过期、吊销记录、用户仍然存在。
type Verifier struct {
	secret      string
	db          *gorm.DB
	revocations Revocations
}

func NewVerifier(secret string, db *gorm.DB, revocations Revocations) *Verifier {
	return &Verifier{secret: secret, db: db, revocations: revocations}
}

func (v *Verifier) VerifyToken(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	claims, err := ParseAccessToken(token, v.secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if v.revocations != nil && claims.ID != "" {
		revoked, err := v.revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrUnauthorized)
		}
	}
	var user models.User
	if err := v.db.WithContext(ctx).First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user not found", ErrUnauthorized)
		}
		return nil, err
	}
	return &Identity{User: user, Claims: claims}, nil
}

// Revoke 作废 claims 对应的 token，直到其自然过期。
func (v *Verifier) Revoke(ctx context.Context, claims *Claims) error {
	if v.revocations == nil || claims == nil || claims.ID == "" {
		return nil
	}
	until := time.Now()
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return v.revocations.Revoke(ctx, claims.ID, until)
}

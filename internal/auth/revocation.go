package auth

import (
	"context"
	"errors"
	"time"

	"codecrew/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormRevocations 把吊销记录存在数据库里，未配置 Redis 时使用。
type GormRevocations struct {
	db *gorm.DB
}

func NewGormRevocations(db *gorm.DB) *GormRevocations {
	return &GormRevocations{db: db}
}

func (r *GormRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	rec := models.RevokedToken{JTI: jti, ExpiresAt: until}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
}

func (r *GormRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.RevokedToken{}).
		Where("jti = ? AND expires_at > ?", jti, time.Now()).
		Count(&count).Error
	return count > 0, err
}

const revokedKeyPrefix = "auth:revoked:"

// RedisRevocations 用带 TTL 的 key 记录吊销，过期由 Redis 自动清理。
type RedisRevocations struct {
	client *redis.Client
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client}
}

func (r *RedisRevocations) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, revokedKeyPrefix+jti, "1", ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := r.client.Get(ctx, revokedKeyPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

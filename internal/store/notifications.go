package store

import (
	"context"
	"fmt"

	"codecrew/internal/models"

	"gorm.io/gorm"
)

// Notifications 是通知记录的仓储；本服务只创建和标记已读，从不删除。
type Notifications struct {
	db *gorm.DB
}

func NewNotifications(db *gorm.DB) *Notifications {
	return &Notifications{db: db}
}

func (r *Notifications) CreateNotification(ctx context.Context, userID uint, category, text string, metadata map[string]any) (*models.Notification, error) {
	n := models.Notification{UserID: userID, Type: category, Message: text, Metadata: metadata}
	if err := r.db.WithContext(ctx).Create(&n).Error; err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}
	return &n, nil
}

// ListByUser 按创建时间倒序返回用户的通知。
func (r *Notifications) ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = ?", false)
	}
	var ns []models.Notification
	if err := q.Order("created_at desc, id desc").Limit(limit).Find(&ns).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return ns, nil
}

// MarkRead 只更新属于 userID 的通知，返回是否命中。
func (r *Notifications) MarkRead(ctx context.Context, userID, notificationID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true)
	if res.Error != nil {
		return false, fmt.Errorf("failed to mark notification read: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

package store

import (
	"context"
	"fmt"

	"codecrew/internal/models"

	"gorm.io/gorm"
)

// Messages 是聊天消息的仓储，只追加。
type Messages struct {
	db *gorm.DB
}

func NewMessages(db *gorm.DB) *Messages {
	return &Messages{db: db}
}

func (r *Messages) CreateMessage(ctx context.Context, projectID, senderID uint, body string) (*models.Message, error) {
	m := models.Message{ProjectID: projectID, SenderID: senderID, Content: body}
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &m, nil
}

// ListByProject 按 id 倒序返回最多 limit 条消息；beforeID>0 时只取更早的消息。
func (r *Messages) ListByProject(ctx context.Context, projectID uint, beforeID uint, limit int) ([]models.Message, error) {
	q := r.db.WithContext(ctx).Where("project_id = ?", projectID)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}
	var msgs []models.Message
	if err := q.Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

package service

import (
	"context"

	"codecrew/internal/models"
	"codecrew/internal/presence"
)

// ProjectDirectory 是权威成员关系的来源。GetProject 在项目不存在时返回 (nil, nil)。
type ProjectDirectory interface {
	GetProject(ctx context.Context, projectID uint) (*models.ProjectInfo, error)
	IsMember(ctx context.Context, projectID, userID uint) (bool, error)
}

// ProjectStore 在目录之外提供最小的项目写操作。
type ProjectStore interface {
	ProjectDirectory
	Create(ctx context.Context, name, description string, leaderID uint) (*models.Project, error)
	AddMember(ctx context.Context, projectID, userID uint) error
	ListForUser(ctx context.Context, userID uint) ([]models.Project, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, projectID, senderID uint, body string) (*models.Message, error)
	ListByProject(ctx context.Context, projectID uint, beforeID uint, limit int) ([]models.Message, error)
}

type NotificationStore interface {
	CreateNotification(ctx context.Context, userID uint, category, text string, metadata map[string]any) (*models.Notification, error)
	ListByUser(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]models.Notification, error)
	// MarkRead 返回 false 表示记录不存在或不属于该用户。
	MarkRead(ctx context.Context, userID, notificationID uint) (bool, error)
}

type UserDirectory interface {
	Usernames(ctx context.Context, ids []uint) (map[uint]string, error)
}

// Pusher 向用户当前的实时连接投递一条已编码事件；离线或投递失败都返回错误。
type Pusher interface {
	Push(userID uint, payload []byte) error
}

// Presence 是房间在线集合的读写视图，由 *presence.Tracker 实现。
type Presence interface {
	Join(roomID, userID uint) bool
	Leave(roomID, userID uint) bool
	PresentMembers(roomID uint) presence.Set
	Online(roomID uint) int
}

// Notifier 由 NotificationService 实现，消息管道通过它分发离线通知。
type Notifier interface {
	Notify(ctx context.Context, userID uint, category, text string, metadata map[string]any) (*NotificationDTO, error)
}

// Sink 是通知的外部旁路（例如 Kafka），尽力而为。
type Sink interface {
	Publish(ctx context.Context, n NotificationDTO) error
}

package service

import (
	"encoding/json"
	"time"

	"codecrew/internal/models"
)

// 服务端下发的实时事件类型。
const (
	EventNewMessage        = "new-message"
	EventMessageSent       = "message-sent"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventNotification      = "notification:new"
	EventJoinedProject     = "joined-project"
	EventLeftProject       = "left-project"
	EventError             = "error"
	EventPong              = "pong"
)

// 通知类别。
const (
	CategoryNewMessage   = "NEW_MESSAGE"
	CategoryJoinApproved = "JOIN_APPROVED"
)

// Event 是所有下行事件的统一外壳。
type Event struct {
	Type      string `json:"type"`
	ProjectID uint   `json:"project_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// Encode 序列化事件；Data 均为本包定义的可序列化类型。
func (e Event) Encode() []byte {
	b, err := json.Marshal(e)
	if err != nil {
		b, _ = json.Marshal(Event{Type: EventError, Data: ErrorPayload{Code: "internal", Message: "encode failed"}})
	}
	return b
}

// MessageDTO 是对外输出的消息数据，附带发送者摘要。
type MessageDTO struct {
	ID        uint          `json:"id"`
	ProjectID uint          `json:"project_id"`
	Sender    models.Member `json:"sender"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
}

// NotificationDTO 是对外输出的通知数据。
type NotificationDTO struct {
	ID        uint           `json:"id"`
	UserID    uint           `json:"user_id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	IsRead    bool           `json:"is_read"`
	CreatedAt time.Time      `json:"created_at"`
}

func toNotificationDTO(n *models.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Message:   n.Message,
		Metadata:  n.Metadata,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}

type TypingPayload struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username,omitempty"`
}

type PresencePayload struct {
	Online int `json:"online"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

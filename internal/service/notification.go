package service

import (
	"context"
	"fmt"

	"codecrew/internal/metrics"

	"github.com/rs/zerolog/log"
)

// NotificationService 持久化通知并尽力实时推送。
//
// 两阶段约定：先落库，落库失败则整个调用失败且不推送；落库成功后的推送与
// sink 投递失败只记录日志，记录本身始终可以通过列表接口读到。
type NotificationService struct {
	store  NotificationStore
	pusher Pusher
	sink   Sink
}

func NewNotificationService(store NotificationStore, pusher Pusher) *NotificationService {
	return &NotificationService{store: store, pusher: pusher}
}

// WithSink 挂载一个外部 sink，nil 表示不启用。
func (s *NotificationService) WithSink(sink Sink) *NotificationService {
	s.sink = sink
	return s
}

// Notify 为 userID 创建一条通知并尝试推送到其实时连接。
func (s *NotificationService) Notify(ctx context.Context, userID uint, category, text string, metadata map[string]any) (*NotificationDTO, error) {
	n, err := s.store.CreateNotification(ctx, userID, category, text, metadata)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues("failed").Inc()
		return nil, persistence("create notification", err)
	}
	metrics.NotificationsTotal.WithLabelValues("persisted").Inc()
	dto := toNotificationDTO(n)

	if err := s.push(dto); err != nil {
		log.Debug().Err(err).Uint("user_id", userID).Uint("notification_id", dto.ID).Msg("notification push skipped")
	}
	if s.sink != nil {
		if err := s.sink.Publish(ctx, dto); err != nil {
			log.Warn().Err(err).Uint("notification_id", dto.ID).Msg("notification sink publish")
		}
	}
	return &dto, nil
}

func (s *NotificationService) push(dto NotificationDTO) error {
	payload := Event{Type: EventNotification, Data: dto}.Encode()
	err := s.pusher.Push(dto.UserID, payload)
	metrics.ObservePush("notification", err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return nil
}

// List 返回用户的通知，按创建时间倒序。
func (s *NotificationService) List(ctx context.Context, userID uint, unreadOnly bool, limit int) ([]NotificationDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	ns, err := s.store.ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, persistence("list notifications", err)
	}
	out := make([]NotificationDTO, 0, len(ns))
	for i := range ns {
		out = append(out, toNotificationDTO(&ns[i]))
	}
	return out, nil
}

// MarkRead 将用户自己的一条通知标记为已读。
func (s *NotificationService) MarkRead(ctx context.Context, userID, notificationID uint) error {
	ok, err := s.store.MarkRead(ctx, userID, notificationID)
	if err != nil {
		return persistence("mark notification read", err)
	}
	if !ok {
		return ErrNotificationNotFound
	}
	return nil
}

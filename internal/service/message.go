package service

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"codecrew/internal/metrics"
	"codecrew/internal/models"
	"codecrew/internal/presence"

	"github.com/rs/zerolog/log"
)

const (
	maxMessageRunes = 4000
	previewRunes    = 50
	roomLockStripes = 64
	notifyTimeout   = 5 * time.Second
)

// roomLocks 按房间分条加锁，保证同一房间内“落库→广播”串行，不同房间大多互不阻塞。
type roomLocks [roomLockStripes]sync.Mutex

func (l *roomLocks) lock(roomID uint) func() {
	m := &l[roomID%roomLockStripes]
	m.Lock()
	return m.Unlock
}

// MessageService 封装消息相关的业务逻辑：校验、落库、广播与离线通知扇出。
type MessageService struct {
	projects ProjectDirectory
	messages MessageStore
	users    UserDirectory
	presence Presence
	pusher   Pusher
	notifier Notifier
	locks    roomLocks
}

func NewMessageService(projects ProjectDirectory, messages MessageStore, users UserDirectory, p Presence, pusher Pusher, notifier Notifier) *MessageService {
	return &MessageService{
		projects: projects,
		messages: messages,
		users:    users,
		presence: p,
		pusher:   pusher,
		notifier: notifier,
	}
}

// SendResult 描述一次发送的结果与扇出集合。Notified 只包含通知已落库的成员。
type SendResult struct {
	Message   MessageDTO
	Broadcast []uint
	Notified  []uint
}

// Send 把一条消息发送到项目房间。
//
// 在场成员（发送者除外）收到实时广播；不在场的成员各收到一条持久化通知。
// 落库失败时不产生任何广播或通知。
func (s *MessageService) Send(ctx context.Context, projectID, senderID uint, body string) (*SendResult, error) {
	if strings.TrimSpace(body) == "" {
		return nil, validation("message body is empty")
	}
	if utf8.RuneCountInString(body) > maxMessageRunes {
		return nil, validation("message body is too long")
	}

	project, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		return nil, persistence("load project", err)
	}
	if project == nil {
		return nil, ErrProjectNotFound
	}
	sender, ok := project.Member(senderID)
	if !ok {
		return nil, ErrForbidden
	}

	dto, fan, err := s.persistAndBroadcast(ctx, project, sender, body)
	if err != nil {
		return nil, err
	}
	metrics.WsMessagesTotal.Inc()

	// 消息已落库，通知阶段不再受调用方取消（断开的 HTTP 请求、ws 事件超时）影响。
	notified := s.notifyAbsent(context.WithoutCancel(ctx), project, sender, dto, body, fan.Notify)
	return &SendResult{Message: dto, Broadcast: fan.Broadcast, Notified: notified}, nil
}

// notifyAbsent 为每个不在场成员创建一条通知，每条各自限时，返回成功落库的成员。
func (s *MessageService) notifyAbsent(ctx context.Context, project *models.ProjectInfo, sender models.Member, dto MessageDTO, body string, targets []uint) []uint {
	text := "New message in " + project.Name
	meta := map[string]any{
		"projectId": project.ID,
		"messageId": dto.ID,
		"sender":    sender.Username,
		"preview":   preview(body),
	}
	notified := make([]uint, 0, len(targets))
	for _, userID := range targets {
		nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		_, err := s.notifier.Notify(nctx, userID, CategoryNewMessage, text, meta)
		cancel()
		if err != nil {
			log.Error().Err(err).Uint("project_id", project.ID).Uint("user_id", userID).Uint("message_id", dto.ID).Msg("message notification")
			continue
		}
		notified = append(notified, userID)
	}
	return notified
}

// persistAndBroadcast 在房间锁内完成落库与广播，保证同一房间的消息顺序。
func (s *MessageService) persistAndBroadcast(ctx context.Context, project *models.ProjectInfo, sender models.Member, body string) (MessageDTO, presence.FanOut, error) {
	unlock := s.locks.lock(project.ID)
	defer unlock()

	msg, err := s.messages.CreateMessage(ctx, project.ID, sender.ID, body)
	if err != nil {
		return MessageDTO{}, presence.FanOut{}, persistence("create message", err)
	}
	dto := MessageDTO{
		ID:        msg.ID,
		ProjectID: msg.ProjectID,
		Sender:    sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}

	fan := presence.Split(project.MemberIDs(), s.presence.PresentMembers(project.ID), sender.ID)
	payload := Event{Type: EventNewMessage, ProjectID: project.ID, Data: dto}.Encode()
	for _, userID := range fan.Broadcast {
		err := s.pusher.Push(userID, payload)
		metrics.ObservePush("message", err)
		if err != nil {
			log.Debug().Err(err).Uint("project_id", project.ID).Uint("user_id", userID).Msg("message push skipped")
		}
	}
	return dto, fan, nil
}

// History 分页查询项目的消息，按 id 升序返回；仅项目成员可读。
func (s *MessageService) History(ctx context.Context, projectID, userID uint, beforeID uint, limit int) ([]MessageDTO, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if err := requireMember(ctx, s.projects, projectID, userID); err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListByProject(ctx, projectID, beforeID, limit)
	if err != nil {
		return nil, persistence("list messages", err)
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	usernames, err := s.resolveUsernames(ctx, msgs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{
			ID:        m.ID,
			ProjectID: m.ProjectID,
			Sender:    models.Member{ID: m.SenderID, Username: usernames[m.SenderID]},
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
		})
	}
	return out, nil
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *MessageService) resolveUsernames(ctx context.Context, msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		userIDs = append(userIDs, m.SenderID)
	}
	if len(userIDs) == 0 {
		return map[uint]string{}, nil
	}
	usernames, err := s.users.Usernames(ctx, userIDs)
	if err != nil {
		return nil, persistence("resolve usernames", err)
	}
	return usernames, nil
}

// requireMember 在成员检查失败时区分“项目不存在”和“无权限”。
func requireMember(ctx context.Context, projects ProjectDirectory, projectID, userID uint) error {
	ok, err := projects.IsMember(ctx, projectID, userID)
	if err != nil {
		return persistence("check membership", err)
	}
	if ok {
		return nil
	}
	project, err := projects.GetProject(ctx, projectID)
	if err != nil {
		return persistence("load project", err)
	}
	if project == nil {
		return ErrProjectNotFound
	}
	return ErrForbidden
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= previewRunes {
		return body
	}
	return string([]rune(body)[:previewRunes])
}

package ws

import (
	"context"
	"errors"
	"sync"

	"codecrew/internal/metrics"
	"codecrew/internal/presence"
	"codecrew/internal/service"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// RoomHandler 负责房间准入，由 *service.ProjectService 实现。
type RoomHandler interface {
	Join(ctx context.Context, projectID, userID uint) (int, error)
	Leave(projectID, userID uint) int
}

// MessageSender 由 *service.MessageService 实现。
type MessageSender interface {
	Send(ctx context.Context, projectID, senderID uint, body string) (*service.SendResult, error)
}

type Options struct {
	SendBuffer        int
	MessagesPerSecond int
}

// Hub 持有进程内的连接注册表与房间在线集合，并把客户端事件路由到服务层。
// 所有状态都属于这一个实例，由 main 构造后注入。
type Hub struct {
	registry *presence.Registry
	tracker  *presence.Tracker
	rooms    RoomHandler
	messages MessageSender
	opts     Options

	mu      sync.Mutex
	clients map[*Client]struct{}
	closing bool
	wg      sync.WaitGroup
}

func NewHub(registry *presence.Registry, tracker *presence.Tracker, rooms RoomHandler, messages MessageSender, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.MessagesPerSecond <= 0 {
		opts.MessagesPerSecond = 5
	}
	return &Hub{
		registry: registry,
		tracker:  tracker,
		rooms:    rooms,
		messages: messages,
		opts:     opts,
		clients:  make(map[*Client]struct{}),
	}
}

// Online 返回房间在线人数，供 REST 接口复用。
func (h *Hub) Online(projectID uint) int { return h.tracker.Online(projectID) }

func (h *Hub) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(h.opts.MessagesPerSecond), h.opts.MessagesPerSecond*2)
}

// attach 在握手成功后登记连接；同一用户的旧连接被覆盖（后写者胜）。
// Hub 已开始关闭时返回 false，连接不会被登记。
func (h *Hub) attach(c *Client) bool {
	h.mu.Lock()
	if h.closing {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	h.registry.Register(c.userID, c)
	metrics.WsConnections.Inc()
	log.Debug().Uint("user_id", c.userID).Str("conn_id", c.id).Msg("ws connected")
	return true
}

// detach 在连接关闭时执行一次：释放注册表中的句柄，并把用户移出所有房间。
// 已被新连接顶替的旧连接只做清理，在线集合归新连接所有。
func (h *Hub) detach(c *Client) {
	h.mu.Lock()
	_, tracked := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !tracked {
		return
	}
	defer h.wg.Done()

	var left []uint
	if h.registry.Release(c.userID, c) {
		left = h.tracker.DisconnectAll(c.userID)
		metrics.PresentUsers.Sub(float64(len(left)))
	}
	metrics.WsConnections.Dec()
	c.close()
	log.Debug().Uint("user_id", c.userID).Str("conn_id", c.id).Uints("rooms", left).Msg("ws disconnected")
}

// Shutdown 拒绝新连接，关闭所有现存连接，并等待它们的读循环退出。
// 读循环退出后不会再有事件落库，调用方随后可以安全关闭数据库。
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closing = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// relayTyping 把输入状态转发给房间内其他在场用户；发送者自己不在场时忽略。
func (h *Hub) relayTyping(c *Client, projectID uint, eventType string) {
	if !h.tracker.IsPresent(projectID, c.userID) {
		return
	}
	payload := service.Event{
		Type:      eventType,
		ProjectID: projectID,
		Data:      service.TypingPayload{UserID: c.userID, Username: c.uname},
	}.Encode()
	for userID := range h.tracker.PresentMembers(projectID) {
		if userID == c.userID {
			continue
		}
		err := h.registry.Push(userID, payload)
		metrics.ObservePush("typing", err)
	}
}

// errorCode 把服务层错误映射为 ws error 事件中的 code。
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrValidation):
		return "validation"
	case errors.Is(err, service.ErrForbidden):
		return "forbidden"
	case errors.Is(err, service.ErrNotFound):
		return "not_found"
	case errors.Is(err, service.ErrPersistence):
		return "persistence"
	default:
		return "internal"
	}
}

package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"codecrew/internal/auth"
	"codecrew/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1 << 16
	eventTimeout   = 10 * time.Second
)

// 客户端上行事件类型。
const (
	EventJoinProject  = "join-project"
	EventLeaveProject = "leave-project"
	EventSendMessage  = "send-message"
	EventTyping       = "typing"
	EventStopTyping   = "stop-typing"
	EventPing         = "ping"
)

var (
	errClientClosed = errors.New("ws: client closed")
	errSlowClient   = errors.New("ws: send buffer full")
	errBadEvent     = errors.New("ws: malformed event")
)

type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	id      string
	userID  uint
	uname   string
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type InboundMessage struct {
	Type      string `json:"type"`
	ProjectID uint   `json:"project_id"`
	Content   string `json:"content"`
}

func newClient(h *Hub, conn *websocket.Conn, userID uint, uname string) *Client {
	return &Client{
		hub:     h,
		conn:    conn,
		id:      uuid.NewString(),
		userID:  userID,
		uname:   uname,
		limiter: h.newLimiter(),
		send:    make(chan []byte, h.opts.SendBuffer),
	}
}

// Push 实现 presence.Handle：非阻塞写入发送队列，队列满或连接已关闭时返回错误。
func (c *Client) Push(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errSlowClient
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) reply(evt service.Event) {
	if err := c.Push(evt.Encode()); err != nil {
		log.Debug().Err(err).Uint("user_id", c.userID).Str("type", evt.Type).Msg("ws reply dropped")
	}
}

func (c *Client) replyError(projectID uint, err error) {
	c.reply(service.Event{
		Type:      service.EventError,
		ProjectID: projectID,
		Data:      service.ErrorPayload{Code: errorCode(err), Message: err.Error()},
	})
}

// Serve 完成握手鉴权后升级为 WebSocket。鉴权失败时直接返回 401，连接不会被登记。
func Serve(h *Hub, verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Token via token query param or Authorization header
		token := c.Query("token")
		if token == "" {
			token = auth.BearerToken(c.GetHeader("Authorization"))
		}
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		id, err := verifier.VerifyToken(c.Request.Context(), token)
		if err != nil {
			log.Debug().Err(err).Msg("ws handshake rejected")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := newClient(h, conn, id.User.ID, id.User.Username)
		if !h.attach(client) {
			client.closeWithReason(websocket.CloseGoingAway, "server shutting down")
			_ = conn.Close()
			return
		}

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var in InboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			log.Info().Err(err).Uint("user_id", c.userID).Msg("ws malformed event, closing")
			c.closeWithReason(websocket.CloseUnsupportedData, errBadEvent.Error())
			return
		}
		if err := c.handle(in); err != nil {
			log.Info().Err(err).Uint("user_id", c.userID).Str("type", in.Type).Msg("ws bad event, closing")
			c.closeWithReason(websocket.CloseUnsupportedData, err.Error())
			return
		}
	}
}

// handle 处理一条上行事件；只有协议错误会返回 error 并导致断开，业务错误以 error 事件回给客户端。
func (c *Client) handle(in InboundMessage) error {
	switch in.Type {
	case EventPing:
		c.reply(service.Event{Type: service.EventPong})
		return nil
	case EventJoinProject, EventLeaveProject, EventSendMessage, EventTyping, EventStopTyping:
	default:
		return errBadEvent
	}
	if in.ProjectID == 0 {
		c.replyError(0, errors.Join(service.ErrValidation, errors.New("project_id is required")))
		return nil
	}
	if !c.limiter.Allow() {
		c.reply(service.Event{
			Type:      service.EventError,
			ProjectID: in.ProjectID,
			Data:      service.ErrorPayload{Code: "rate_limited", Message: "too many events"},
		})
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch in.Type {
	case EventJoinProject:
		online, err := c.hub.rooms.Join(ctx, in.ProjectID, c.userID)
		if err != nil {
			c.replyError(in.ProjectID, err)
			return nil
		}
		c.reply(service.Event{Type: service.EventJoinedProject, ProjectID: in.ProjectID, Data: service.PresencePayload{Online: online}})
	case EventLeaveProject:
		online := c.hub.rooms.Leave(in.ProjectID, c.userID)
		c.reply(service.Event{Type: service.EventLeftProject, ProjectID: in.ProjectID, Data: service.PresencePayload{Online: online}})
	case EventSendMessage:
		res, err := c.hub.messages.Send(ctx, in.ProjectID, c.userID, in.Content)
		if err != nil {
			if errors.Is(err, service.ErrPersistence) {
				log.Error().Err(err).Uint("project_id", in.ProjectID).Uint("user_id", c.userID).Msg("ws send message")
			}
			c.replyError(in.ProjectID, err)
			return nil
		}
		c.reply(service.Event{Type: service.EventMessageSent, ProjectID: in.ProjectID, Data: res.Message})
	case EventTyping:
		c.hub.relayTyping(c, in.ProjectID, service.EventUserTyping)
	case EventStopTyping:
		c.hub.relayTyping(c, in.ProjectID, service.EventUserStoppedTyping)
	}
	return nil
}

// shutdown 通知对端并关闭底层连接，readPump 随之退出并执行 detach。
func (c *Client) shutdown() {
	if c.conn == nil {
		return
	}
	c.closeWithReason(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.Close()
}

func (c *Client) closeWithReason(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

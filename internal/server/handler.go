package server

import (
	"errors"
	"net/http"
	"strconv"

	"codecrew/internal/auth"
	"codecrew/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	userSvc    *service.UserService
	projectSvc *service.ProjectService
	msgSvc     *service.MessageService
	notifSvc   *service.NotificationService
}

func NewHandler(userSvc *service.UserService, projectSvc *service.ProjectService, msgSvc *service.MessageService, notifSvc *service.NotificationService) *Handler {
	return &Handler{userSvc: userSvc, projectSvc: projectSvc, msgSvc: msgSvc, notifSvc: notifSvc}
}

// writeError 把服务层错误映射为 HTTP 状态码，未知错误记录日志后返回 500。
func writeError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrPersistence):
		log.Error().Err(err).Str("op", op).Msg("persistence")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		log.Error().Err(err).Str("op", op).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(v), true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Register(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "username taken"})
			return
		}
		writeError(c, "register", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": result.ID, "username": result.Username})
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		writeError(c, "login", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"user":          gin.H{"id": result.User.ID, "username": result.User.Username},
	})
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	result, err := h.userSvc.RefreshTokens(req.RefreshToken)
	if err != nil {
		log.Warn().Err(err).Msg("refresh token")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": result.AccessToken, "refresh_token": result.RefreshToken})
}

// Logout 吊销当前 access token；请求体里的 refresh token 可选。
func (h *Handler) Logout(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := h.userSvc.Logout(c.Request.Context(), auth.GetClaims(c), req.RefreshToken); err != nil {
		writeError(c, "logout", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateProject 创建项目，当前用户成为负责人。
func (h *Handler) CreateProject(c *gin.Context) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	p, err := h.projectSvc.Create(c.Request.Context(), req.Name, req.Description, auth.GetUserID(c))
	if err != nil {
		writeError(c, "create project", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p})
}

// ListProjects 返回当前用户所属的项目。
func (h *Handler) ListProjects(c *gin.Context) {
	ps, err := h.projectSvc.ListForUser(c.Request.Context(), auth.GetUserID(c))
	if err != nil {
		writeError(c, "list projects", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": ps})
}

// AddMember 由项目负责人添加成员。
func (h *Handler) AddMember(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		UserID uint `json:"user_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := h.projectSvc.AddMember(c.Request.Context(), projectID, auth.GetUserID(c), req.UserID); err != nil {
		writeError(c, "add member", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListMessages 分页获取项目消息，按 id 升序。
func (h *Handler) ListMessages(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var beforeID uint
	if v := queryInt(c, "before_id", 0); v > 0 {
		beforeID = uint(v)
	}
	msgs, err := h.msgSvc.History(c.Request.Context(), projectID, auth.GetUserID(c), beforeID, queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, "list messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// SendMessage 通过 REST 发送消息，扇出规则与 ws 的 send-message 相同。
func (h *Handler) SendMessage(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	res, err := h.msgSvc.Send(c.Request.Context(), projectID, auth.GetUserID(c), req.Content)
	if err != nil {
		writeError(c, "send message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": res.Message})
}

// ListNotifications 返回当前用户的通知；unread=true 时只返回未读。
func (h *Handler) ListNotifications(c *gin.Context) {
	unread := c.Query("unread") == "true"
	ns, err := h.notifSvc.List(c.Request.Context(), auth.GetUserID(c), unread, queryInt(c, "limit", 50))
	if err != nil {
		writeError(c, "list notifications", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": ns})
}

// MarkNotificationRead 标记一条通知为已读。
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.notifSvc.MarkRead(c.Request.Context(), auth.GetUserID(c), id); err != nil {
		writeError(c, "mark notification read", err)
		return
	}
	c.Status(http.StatusNoContent)
}

package server

import (
	"net/http"

	"codecrew/internal/auth"
	"codecrew/internal/config"
	"codecrew/internal/metrics"
	"codecrew/internal/mw"
	"codecrew/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。rl 为 nil 时不限速。
func SetupRouter(cfg config.Config, h *Handler, verifier *auth.Verifier, hub *ws.Hub, rl *mw.RL) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(mw.RequestLogger())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSAllowedOrigins))
	if rl != nil {
		r.Use(rl.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.AuthMiddleware(verifier))

	authed.POST("/auth/logout", h.Logout)

	authed.POST("/projects", h.CreateProject)
	authed.GET("/projects", h.ListProjects)
	authed.POST("/projects/:id/members", h.AddMember)
	authed.GET("/projects/:id/messages", h.ListMessages)
	authed.POST("/projects/:id/messages", h.SendMessage)

	authed.GET("/notifications", h.ListNotifications)
	authed.POST("/notifications/:id/read", h.MarkNotificationRead)

	r.GET("/ws", ws.Serve(hub, verifier))
	return r
}

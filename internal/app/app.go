// Package app assembles the process: stores, presence state, services, hub and router.
package app

import (
	"codecrew/internal/auth"
	"codecrew/internal/config"
	"codecrew/internal/mw"
	"codecrew/internal/presence"
	"codecrew/internal/server"
	"codecrew/internal/service"
	"codecrew/internal/store"
	"codecrew/internal/ws"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Options 携带可选的外部依赖；零值表示全部走数据库、不启用 sink 与限速。
type Options struct {
	Revocations auth.Revocations
	Sink        service.Sink
	RateLimiter *mw.RL
}

// App 持有进程内唯一的一份连接注册表与在线集合。
type App struct {
	Engine        *gin.Engine
	Hub           *ws.Hub
	Registry      *presence.Registry
	Tracker       *presence.Tracker
	Verifier      *auth.Verifier
	Users         *service.UserService
	Projects      *service.ProjectService
	Messages      *service.MessageService
	Notifications *service.NotificationService
}

func New(cfg config.Config, gdb *gorm.DB, opts Options) *App {
	if opts.Revocations == nil {
		opts.Revocations = auth.NewGormRevocations(gdb)
	}

	registry := presence.NewRegistry()
	tracker := presence.NewTracker()

	projectStore := store.NewProjects(gdb)
	verifier := auth.NewVerifier(cfg.JWTSecret, gdb, opts.Revocations)

	users := service.NewUserService(gdb, cfg, verifier)
	notifications := service.NewNotificationService(store.NewNotifications(gdb), registry)
	if opts.Sink != nil {
		notifications.WithSink(opts.Sink)
	}
	projects := service.NewProjectService(projectStore, tracker, notifications)
	messages := service.NewMessageService(projectStore, store.NewMessages(gdb), users, tracker, registry, notifications)

	hub := ws.NewHub(registry, tracker, projects, messages, ws.Options{
		SendBuffer:        cfg.WSSendBuffer,
		MessagesPerSecond: cfg.WSMessagesPerSecond,
	})
	h := server.NewHandler(users, projects, messages, notifications)

	return &App{
		Engine:        server.SetupRouter(cfg, h, verifier, hub, opts.RateLimiter),
		Hub:           hub,
		Registry:      registry,
		Tracker:       tracker,
		Verifier:      verifier,
		Users:         users,
		Projects:      projects,
		Messages:      messages,
		Notifications: notifications,
	}
}

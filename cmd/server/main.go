package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"codecrew/internal/app"
	"codecrew/internal/auth"
	"codecrew/internal/config"
	"codecrew/internal/db"
	clog "codecrew/internal/log"
	"codecrew/internal/mw"
	"codecrew/internal/sink"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const revocationPurgeInterval = 10 * time.Minute

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 HTTP/WebSocket 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	gdb, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	ops := map[string]gfshutdown.Operation{}
	opts := app.Options{
		RateLimiter: mw.NewRateLimiter(rate.Every(time.Second/20), 40, 2*time.Minute),
	}
	ops["ratelimit"] = func(ctx context.Context) error {
		opts.RateLimiter.Stop()
		return nil
	}

	if cfg.RedisURL != "" {
		ropt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis url")
		}
		rdb := redis.NewClient(ropt)
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("redis ping")
		}
		opts.Revocations = auth.NewRedisRevocations(rdb)
		ops["redis"] = func(ctx context.Context) error { return rdb.Close() }
		log.Info().Msg("token revocations stored in redis")
	}

	if len(cfg.KafkaBrokers) > 0 {
		k := sink.NewKafka(cfg.KafkaBrokers, cfg.KafkaNotificationTopic)
		opts.Sink = k
		ops["kafka"] = func(ctx context.Context) error { return k.Close() }
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaNotificationTopic).Msg("notification sink enabled")
	}

	a := app.New(cfg, gdb, opts)

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	if opts.Revocations == nil {
		go purgeRevocations(janitorCtx, gdb)
	}
	ops["janitor"] = func(ctx context.Context) error {
		stopJanitor()
		return nil
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// 各 operation 并发执行，数据库必须在 HTTP 排空、ws 读循环全部退出之后再关闭。
	ops["http"] = func(ctx context.Context) error {
		log.Info().Int("connections", a.Registry.Count()).Msg("http shutdown")
		if err := srv.Shutdown(ctx); err != nil {
			return err
		}
		// Shutdown 不等待已被 hijack 的 websocket 连接
		if err := a.Hub.Shutdown(ctx); err != nil {
			return err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, ops)
	code := <-wait
	log.Info().Int("code", code).Msg("server exited")
	os.Exit(code)
}

// purgeRevocations 定期清理数据库中已过期的 token 吊销记录。
func purgeRevocations(ctx context.Context, gdb *gorm.DB) {
	ticker := time.NewTicker(revocationPurgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := db.PurgeExpiredRevocations(gdb.WithContext(ctx), now)
			if err != nil {
				log.Warn().Err(err).Msg("purge revocations")
				continue
			}
			if n > 0 {
				log.Debug().Int64("purged", n).Msg("purge revocations")
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"roomchat/internal/ratelimit"
	"roomchat/internal/realtime"
	"roomchat/internal/util"
	"roomchat/pkg/events"
	"roomchat/pkg/queue"
	"roomchat/pkg/storage"
	"roomchat/pkg/store"
	"roomchat/services/chat/internal/app"
	"roomchat/services/chat/internal/config"
	"roomchat/services/chat/internal/security"
	"roomchat/services/chat/internal/server"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		util.Fatal("failed to parse session ttl", "err", err)
	}
	heartbeat, err := config.ParseHeartbeatInterval(cfg.HeartbeatInterval)
	if err != nil {
		util.Fatal("failed to parse heartbeat interval", "err", err)
	}
	trusted, err := util.NewTrustedProxies(config.ParseList(cfg.TrustedProxies))
	if err != nil {
		util.Fatal("failed to parse trusted proxies", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		membership  realtime.Membership
		revoker     store.TokenRevoker = store.NewMemoryTokenRevoker()
		sendLimiter server.RateLimiter
		exportQueue *queue.RedisJobQueue
		objects     storage.ObjectStore
		publisher   events.Publisher
		alerter     *security.Alerter
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			util.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "err", err)
		}
		redisMembership, err := realtime.NewRedisMembership(redisClient, realtime.RedisMembershipConfig{
			Prefix: cfg.RedisKeyPrefix,
		})
		if err != nil {
			util.Fatal("failed to init redis membership", "err", err)
		}
		stale, err := redisMembership.Reset(ctx)
		if err != nil {
			util.Fatal("failed to clear stale presence", "err", err)
		}
		if stale > 0 {
			logger.Info("cleared stale presence keys", "keys", stale)
		}
		membership = redisMembership
		revoker = store.NewRedisTokenRevoker(redisClient, cfg.RedisKeyPrefix)
		alerter, err = security.NewAlerter(redisClient, cfg.RedisKeyPrefix+":alerts")
		if err != nil {
			util.Fatal("failed to init security alerter", "err", err)
		}
		if cfg.SendRateLimitPerMinute > 0 {
			limiter, err := ratelimit.NewFixedWindowLimiter(redisClient, cfg.RedisKeyPrefix+":ratelimit", cfg.SendRateLimitPerMinute, time.Minute)
			if err != nil {
				util.Fatal("failed to init send limiter", "err", err)
			}
			sendLimiter = limiter
		}
		if cfg.ExportsEnabled() {
			objects, err = storage.NewMinioStore(ctx, storage.MinioConfig{
				Endpoint:  cfg.MinioEndpoint,
				AccessKey: cfg.MinioAccessKey,
				SecretKey: cfg.MinioSecretKey,
				Bucket:    cfg.MinioBucket,
				UseSSL:    cfg.MinioUseSSL,
			})
			if err != nil {
				util.Fatal("failed to init object storage", "err", err)
			}
			exportQueue, err = queue.NewRedisJobQueue(redisClient, queue.RedisQueueConfig{Stream: cfg.ExportStream})
			if err != nil {
				util.Fatal("failed to init export queue", "err", err)
			}
		}
	} else {
		logger.Warn("redisAddr not set; presence and logout are local to this process")
		if cfg.SendRateLimitPerMinute > 0 {
			logger.Warn("sendRateLimitPerMinute ignored without redisAddr")
		}
	}
	if cfg.AMQPURL != "" {
		publisher, err = events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			util.Fatal("failed to init event publisher", "err", err)
		}
	}

	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      sessionTTL,
	})
	if err != nil {
		util.Fatal("failed to init session store", "err", err)
	}

	appCfg := app.Config{
		DatabaseURL:  cfg.DatabaseURL,
		Sessions:     sessions,
		Membership:   membership,
		Publisher:    publisher,
		HistoryLimit: cfg.HistoryLimit,
		StreamBuffer: cfg.StreamBuffer,
	}
	if exportQueue != nil {
		appCfg.Exports = exportQueue
		appCfg.Objects = objects
	}
	appCore, err := app.New(appCfg)
	if err != nil {
		util.Fatal("failed to init app", "err", err)
	}

	httpServer := server.New(server.Config{
		App:               appCore,
		SendLimiter:       sendLimiter,
		TrustedProxies:    trusted,
		CORSOrigins:       config.ParseList(cfg.CORSOrigins),
		Alerter:           alerter,
		HeartbeatInterval: heartbeat,
	})

	addr := ":" + cfg.Port
	// No WriteTimeout: event streams stay open indefinitely.
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("chat server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if exportQueue != nil {
		g.Go(func() error {
			exportQueue.Start(gctx, 1, appCore.RunExport)
			slog.Info("export worker started", "stream", cfg.ExportStream)
			<-gctx.Done()
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Streams end first; http.Server.Shutdown waits for active handlers.
		if err := appCore.Shutdown(shutdownCtx); err != nil {
			slog.Warn("close streams", "err", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	if err := appCore.Close(); err != nil {
		logger.Warn("close app", "err", err)
	}
}

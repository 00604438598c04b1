package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/weiawesome/wes-chat/internal/broadcast"
	"github.com/weiawesome/wes-chat/internal/config"
	"github.com/weiawesome/wes-chat/internal/gateway"
	chatgrpc "github.com/weiawesome/wes-chat/internal/grpc"
	"github.com/weiawesome/wes-chat/internal/handler"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/receipt"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/internal/room"
	"github.com/weiawesome/wes-chat/internal/service"
	"github.com/weiawesome/wes-chat/internal/typing"
	"github.com/weiawesome/wes-chat/internal/unread"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/jwt"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
	"github.com/weiawesome/wes-chat/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log.Init(cfg.Log)
	l := log.L()
	instanceID := uuid.New().String()
	l.Info().Str("instance", instanceID).Str("host", cfg.Server.Host).Int("port", cfg.Server.Port).Msg("starting chat service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := database.New(&cfg.Database)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer database.Close(db)
	if err := database.AutoMigrate(db, repository.Models()...); err != nil {
		l.Fatal().Err(err).Msg("failed to migrate database")
	}

	channels := repository.NewGormChannelRepository(db)
	messages := repository.NewGormMessageRepository(db)
	reads := repository.NewGormReadStateRepository(db)
	workspaces := repository.NewGormWorkspaceDirectory(db)

	// Unread counters
	var redisClient *redis.Client
	var store unread.Store
	switch cfg.Unread.Driver {
	case "memory":
		store = unread.NewMemoryStore()
	default:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			l.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		store = unread.NewRedisStore(redisClient, cfg.Redis.KeyPrefix, cfg.Unread.TTL)
	}
	counter := unread.NewCounter(store, messages, reads)
	reconciler := unread.NewReconciler(counter, store, unread.ReconcilerConfig{
		Interval:  cfg.Unread.ReconcileInterval,
		BatchSize: cfg.Unread.BatchSize,
	})
	reconciler.Start(ctx)

	// Connections, rooms and fan-out
	wsHub := hub.NewHub()
	var bus pubsub.PubSub
	if cfg.Relay.Enabled {
		bus, err = pubsub.New(cfg.Relay.PubSub, instanceID)
		if err != nil {
			l.Fatal().Err(err).Str("driver", cfg.Relay.PubSub.Driver).Msg("failed to start relay")
		}
		defer bus.Close()
	}
	fanout := broadcast.NewFanout(wsHub, bus, instanceID)
	go func() {
		if err := fanout.Run(ctx); err != nil {
			l.Error().Err(err).Msg("relay subscriber stopped")
		}
	}()

	rooms := room.NewCoordinator(wsHub, fanout, typing.New(cfg.Typing.TTL))
	broadcaster := broadcast.NewBroadcaster(fanout, wsHub, counter, reads, workspaces)

	// Attachments
	var attachments storage.Lookup
	if cfg.Attachments.Verify {
		attachments, err = storage.New(ctx, cfg.Attachments.Storage)
		if err != nil {
			l.Fatal().Err(err).Str("driver", cfg.Attachments.Storage.Driver).Msg("failed to initialize attachment storage")
		}
	}

	// Services
	channelSvc := service.NewChannelService(channels, workspaces, counter, rooms, cfg.OperationTimeout)
	messageSvc := service.NewMessageService(service.MessageDeps{
		Channels:    channels,
		Messages:    messages,
		Workspaces:  workspaces,
		Broadcaster: broadcaster,
		Receipts:    receipt.NewAggregator(messages, reads, counter, broadcaster),
		Unread:      counter,
		Attachments: attachments,
		Timeout:     cfg.OperationTimeout,
	})

	verifier, err := jwt.NewVerifier(cfg.JWT)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to initialize token verifier")
	}
	gw := gateway.New(wsHub, rooms, channelSvc, messageSvc, verifier, cfg.OperationTimeout)

	// gRPC health
	grpcServer, err := chatgrpc.StartGRPCServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.GRPCPort), l)
	if err != nil {
		l.Fatal().Err(err).Msg("failed to start grpc server")
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(log.GinMiddleware(l))

	r.GET("/healthz", healthz(db, redisClient))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handler.NewHandler(channelSvc, messageSvc, verifier).RegisterRoutes(r)
	handler.NewWSHandler(gw, cfg.WebSocket).RegisterRoutes(r)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		l.Info().Str("address", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("server error")
		}
	}()
	grpcServer.SetServing(true)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info().Msg("shutting down chat service")
	grpcServer.SetServing(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// hijacked websocket connections are not tracked by server.Shutdown
	closed := gw.Shutdown(shutdownCtx)
	l.Info().Int("connections", closed).Msg("websocket clients closed")
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("server forced to shutdown")
	}

	reconciler.Stop()
	cancel()
	grpcServer.Stop()

	l.Info().Msg("chat service stopped")
}

func healthz(db *gorm.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := gin.H{"database": "ok"}
		healthy := true
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			status["database"] = "unavailable"
			healthy = false
		}
		if rdb != nil {
			status["redis"] = "ok"
			if err := rdb.Ping(ctx).Err(); err != nil {
				status["redis"] = "unavailable"
				healthy = false
			}
		}

		if !healthy {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}

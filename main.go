package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"chat-realtime/internal/clock"
	"chat-realtime/internal/config"
	"chat-realtime/internal/db"
	grpcclient "chat-realtime/internal/grpc"
	"chat-realtime/internal/handlers"
	"chat-realtime/internal/identity"
	"chat-realtime/internal/kafka"
	"chat-realtime/internal/logger"
	"chat-realtime/internal/media"
	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/presence"
	"chat-realtime/internal/rabbitmq"
	"chat-realtime/internal/ratelimit"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/router"
	"chat-realtime/internal/services"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/typing"
	"chat-realtime/internal/ws"
)

const serviceName = "chat-realtime"

type eventPublisher interface {
	observability.Publisher
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.New(cfg.Development(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, zlog)
	if err != nil {
		zlog.Fatal("init tracing", zap.Error(err))
	}

	database, err := db.Connect(ctx, cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("failed to connect to db", zap.Error(err))
	}
	defer database.Close()

	publisher := newPublisher(cfg.Events, zlog)
	observability.SetPublisher(publisher)

	clk := clock.Real()
	locks := repositories.NewLocks()

	// The router resolves audiences from the repositories, and the repositories
	// publish through the router once their writes commit.
	var rt *router.Router
	sink := repositories.SinkFunc(func(ev models.Event) { rt.Publish(ev) })
	chatRepo := repositories.NewChatRepo(database, locks, sink, clk)
	messageRepo := repositories.NewMessageRepo(database, locks, sink, clk)
	friendRepo := repositories.NewFriendRepo(database, locks, sink, clk)
	rt = router.New(router.Options{
		QueueSize:    cfg.Realtime.SessionQueueSize,
		ExportBuffer: cfg.Events.ExportBuffer,
	}, chatRepo, friendRepo, publisher, clk, zlog)

	var mirror presence.Mirror
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		redisMirror := presence.NewRedisMirror(client, cfg.Redis.Prefix, cfg.Realtime.PresenceTTL)
		if err := redisMirror.Ping(ctx); err != nil {
			zlog.Warn("presence mirror unreachable, continuing without it", zap.Error(err))
		} else {
			mirror = redisMirror
		}
	}
	tracker := presence.NewTracker(cfg.Realtime.PresenceTTL, clk, rt, mirror, zlog)
	coalescer := typing.NewCoalescer(cfg.Realtime.TypingTTL, clk, rt, zlog)

	provider, closeIdentity := newIdentityProvider(cfg.Identity, zlog)
	defer closeIdentity()

	var directory services.ProfileDirectory
	if cfg.Profiles.GRPCAddr != "" {
		conn, err := grpcclient.Dial(cfg.Profiles.GRPCAddr)
		if err != nil {
			zlog.Fatal("failed to connect to profile directory", zap.Error(err))
		}
		defer conn.Close()
		directory = grpcclient.NewProfileClient(conn, zlog)
	}

	var store media.Store = media.Passthrough{}
	if cfg.Media.Bucket != "" {
		s3Store, err := media.NewS3Store(ctx, cfg.Media.Region, cfg.Media.Bucket, cfg.Media.PublicRead, cfg.Media.URLTTL)
		if err != nil {
			zlog.Fatal("failed to init media store", zap.Error(err))
		}
		store = s3Store
	}

	audit := telemetry.NewAuditEmitter(publisher, cfg.Events.AuditRoutingKey, serviceName, cfg.Env, zlog)
	pool := services.NewPool(cfg.Realtime.StoreWorkers, cfg.Realtime.CommandTimeout)

	chatService := services.NewChatService(chatRepo, messageRepo, friendRepo, coalescer, directory, store, pool, audit, zlog)
	friendService := services.NewFriendService(friendRepo, directory, store, pool,
		ratelimit.PerHour(cfg.Realtime.FriendRequestsPerHour), cfg.Realtime.FriendRequestCooldown, audit, zlog)
	presenceService := services.NewPresenceService(tracker, friendRepo, pool, clk)
	userService := services.NewUserService(friendRepo, directory, store, pool, zlog)
	reconciler := services.NewFriendshipReconciler(friendRepo, cfg.Realtime.ReconcileInterval, zlog)

	wsHandler := ws.NewHandler(rt, provider, presenceService, chatService, coalescer, cfg.Realtime.HeartbeatInterval, zlog).
		AllowOrigins(cfg.Server.AllowedOrigins)

	engine := newEngine(cfg, database, provider, rt, audit, wsHandler,
		handlers.NewChatHandler(chatService),
		handlers.NewFriendHandler(friendService),
		handlers.NewPresenceHandler(presenceService),
		handlers.NewUserHandler(userService),
	)

	go func() {
		if err := rt.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			zlog.Error("router stopped", zap.Error(err))
		}
	}()
	go reconciler.Run(ctx)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: engine}
	go func() {
		zlog.Info("chat service listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("http shutdown", zap.Error(err))
	}
	if err := publisher.Close(); err != nil {
		zlog.Warn("close publisher", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		zlog.Warn("tracing shutdown", zap.Error(err))
	}
}

func newPublisher(cfg config.EventsConfig, log *zap.Logger) eventPublisher {
	if cfg.Broker == "kafka" {
		log.Info("event publisher ready", zap.String("mode", "kafka"), zap.String("topic", cfg.KafkaTopic))
		return kafka.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
	}
	url := cfg.AMQPURL
	if cfg.Broker != "amqp" {
		url = ""
	}
	p := rabbitmq.NewPublisher(url, cfg.Exchange, log)
	log.Info("event publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(p)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(p)))
	return p
}

func newIdentityProvider(cfg config.IdentityConfig, log *zap.Logger) (identity.Provider, func()) {
	if cfg.Mode == "grpc" {
		conn, err := grpcclient.Dial(cfg.GRPCAddr)
		if err != nil {
			log.Fatal("failed to connect to identity provider", zap.Error(err))
		}
		return grpcclient.NewIdentityClient(conn, log), func() { _ = conn.Close() }
	}
	return identity.NewJWTProvider(cfg.JWTSecret), func() {}
}

func newEngine(cfg *config.Config, database *sqlx.DB, provider identity.Provider, rt *router.Router,
	audit *telemetry.AuditEmitter, wsHandler *ws.Handler,
	chats *handlers.ChatHandler, friends *handlers.FriendHandler,
	presenceHandler *handlers.PresenceHandler, users *handlers.UserHandler) *gin.Engine {
	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	engine.Use(observability.HTTPMetricsMiddleware())
	engine.Use(middleware.RequestID())

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/healthz", func(c *gin.Context) {
		if err := db.Ping(c.Request.Context(), database); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/ws", wsHandler.Handle)
	handlers.RegisterDebugRoutes(engine, audit, rt, cfg.Development())

	commands := ratelimit.New(rate.Limit(cfg.Realtime.CommandsPerSecond), max(int(cfg.Realtime.CommandsPerSecond)*2, 1))
	api := engine.Group("/", middleware.AuthMiddleware(provider), middleware.RateLimit(commands))

	api.POST("/chats", chats.CreateChat)
	api.GET("/chats", chats.ListChats)
	api.GET("/chats/:chat_id", chats.GetChat)
	api.POST("/chats/:chat_id/participants", chats.AddParticipants)
	api.DELETE("/chats/:chat_id/participants/me", chats.LeaveChat)
	api.GET("/chats/:chat_id/messages", chats.ListMessages)
	api.POST("/chats/:chat_id/messages", chats.PostMessage)
	api.PATCH("/chats/:chat_id/messages/:message_id", chats.EditMessage)
	api.DELETE("/chats/:chat_id/messages/:message_id", chats.DeleteMessage)
	api.POST("/chats/:chat_id/read", chats.MarkRead)
	api.POST("/chats/:chat_id/typing", chats.SetTyping)

	api.POST("/friends/requests", friends.SendRequest)
	api.GET("/friends/requests", friends.ListRequests)
	api.POST("/friends/requests/:request_id/accept", friends.AcceptRequest)
	api.POST("/friends/requests/:request_id/decline", friends.DeclineRequest)
	api.DELETE("/friends/requests/:request_id", friends.CancelRequest)
	api.GET("/friends", friends.ListFriends)
	api.DELETE("/friends/:user_id", friends.RemoveFriend)
	api.GET("/friends/:user_id/status", friends.Status)
	api.POST("/blocks/:user_id", friends.Block)
	api.DELETE("/blocks/:user_id", friends.Unblock)

	api.PUT("/presence", presenceHandler.SetPresence)
	api.POST("/presence/heartbeat", presenceHandler.Heartbeat)
	api.GET("/presence", presenceHandler.GetPresence)

	api.GET("/users/search", users.Search)

	return engine
}

package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"unilink_server/server/chat/api"
	"unilink_server/server/chat/service"
	"unilink_server/server/chat/store"
	"unilink_server/server/common/auth"
	"unilink_server/server/common/infra/cache"
	"unilink_server/server/common/infra/db"
	"unilink_server/server/common/infra/mq"
	"unilink_server/server/realtime"
)

// ServiceName namespaces the chat service's redis presence and session keys.
const ServiceName = "chat"

type Server struct {
	HTTPServer *http.Server
	Redis      *redis.Client
	Mongo      *mongo.Client
	MQConn     *amqp.Connection
	Bus        *realtime.EventBus

	sweepCancel context.CancelFunc
}

func NewServer(cfg Config) (*Server, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	redisClient := cache.NewClient(cfg.RedisAddr, cfg.RedisPassword)
	if err := cache.Ping(ctx, redisClient); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	mongoClient, database, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		return nil, err
	}

	var (
		mqConn   *amqp.Connection
		notifier service.NotificationPublisher
	)
	if cfg.UseMQ {
		mqConn, err = mq.NewConnection(cfg.RabbitMQURL)
		if err != nil {
			return nil, fmt.Errorf("connect rabbitmq: %w", err)
		}
		ch, err := mq.DeclareNotificationExchange(mqConn)
		if err != nil {
			return nil, fmt.Errorf("declare notification exchange: %w", err)
		}
		notifier = service.NewAMQPNotifier(ch)
	}

	authSvc := auth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	registry := realtime.NewSessionRegistry(redisClient)
	presence := realtime.NewPresenceTracker(redisClient, ServiceName)
	unread := realtime.NewUnreadCounter(redisClient)
	msgCache := realtime.NewMessageCache(redisClient)
	bus := realtime.NewEventBus(redisClient)
	hub := realtime.NewHub()

	chatSvc := service.NewChatService(store.New(database), msgCache, unread, presence, bus, hub, notifier)
	chatSvc.RegisterBusHandlers(bus)

	dispatcher := realtime.NewDispatcher(realtime.Config{
		Service:          ServiceName,
		Auth:             authSvc,
		Registry:         registry,
		Presence:         presence,
		Bus:              bus,
		Hub:              hub,
		AnnouncePresence: true,
	})
	chatSvc.RegisterActions(dispatcher)

	if err := bus.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start event bus: %w", err)
	}
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	chatSvc.StartPresenceSweeper(sweepCtx, cfg.SweepInterval)

	h := api.NewHandler(chatSvc, dispatcher)
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	h.RegisterRoutes(r, authSvc)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		HTTPServer:  httpServer,
		Redis:       redisClient,
		Mongo:       mongoClient,
		MQConn:      mqConn,
		Bus:         bus,
		sweepCancel: sweepCancel,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.sweepCancel != nil {
		s.sweepCancel()
	}
	if s.Bus != nil {
		s.Bus.Stop()
	}
	if s.MQConn != nil {
		_ = s.MQConn.Close()
	}
	if s.Mongo != nil {
		_ = s.Mongo.Disconnect(ctx)
	}
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	return s.HTTPServer.Shutdown(ctx)
}

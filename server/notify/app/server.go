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

	"unilink_server/server/common/auth"
	"unilink_server/server/common/infra/cache"
	"unilink_server/server/common/infra/db"
	"unilink_server/server/common/infra/mq"
	"unilink_server/server/notify/api"
	"unilink_server/server/notify/service"
	"unilink_server/server/notify/store"
	"unilink_server/server/realtime"
)

// ServiceName namespaces the notification service's redis presence and
// session keys; its presence namespace never mixes with chat's.
const ServiceName = "notify"

type Server struct {
	HTTPServer *http.Server
	Redis      *redis.Client
	Mongo      *mongo.Client
	MQConn     *amqp.Connection
	Bus        *realtime.EventBus
	Consumer   *service.Consumer

	consumeCancel context.CancelFunc
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

	mqConn, err := mq.NewConnection(cfg.RabbitMQURL)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	ch, queue, err := mq.DeclareNotificationQueue(mqConn, cfg.QueueName)
	if err != nil {
		return nil, fmt.Errorf("declare notification queue: %w", err)
	}

	authSvc := auth.NewService(cfg.JWTSecret, cfg.JWTTTLMinutes)
	registry := realtime.NewSessionRegistry(redisClient)
	presence := realtime.NewPresenceTracker(redisClient, ServiceName)
	bus := realtime.NewEventBus(redisClient)
	hub := realtime.NewHub()

	notifySvc := service.NewNotifyService(store.New(database), redisClient, bus, hub, cfg.GroupWindow)
	notifySvc.RegisterBusHandlers(bus)

	dispatcher := realtime.NewDispatcher(realtime.Config{
		Service:          ServiceName,
		Auth:             authSvc,
		Registry:         registry,
		Presence:         presence,
		Bus:              bus,
		Hub:              hub,
		AnnouncePresence: false,
	})

	if err := bus.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("start event bus: %w", err)
	}

	consumer := service.NewConsumer(ch, queue.Name, cfg.Workers, notifySvc)
	consumeCtx, consumeCancel := context.WithCancel(context.Background())
	if err := consumer.Start(consumeCtx); err != nil {
		consumeCancel()
		return nil, fmt.Errorf("start consumer: %w", err)
	}

	h := api.NewHandler(notifySvc, dispatcher)
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
		HTTPServer:    httpServer,
		Redis:         redisClient,
		Mongo:         mongoClient,
		MQConn:        mqConn,
		Bus:           bus,
		Consumer:      consumer,
		consumeCancel: consumeCancel,
	}, nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.consumeCancel != nil {
		s.consumeCancel()
	}
	if s.Consumer != nil {
		s.Consumer.Wait()
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

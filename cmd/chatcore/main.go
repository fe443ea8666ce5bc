package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/chat-core/internal/api"
	"github.com/fathima-sithara/chat-core/internal/auth"
	"github.com/fathima-sithara/chat-core/internal/config"
	"github.com/fathima-sithara/chat-core/internal/events"
	"github.com/fathima-sithara/chat-core/internal/kafka"
	"github.com/fathima-sithara/chat-core/internal/logger"
	"github.com/fathima-sithara/chat-core/internal/notify"
	"github.com/fathima-sithara/chat-core/internal/push"
	"github.com/fathima-sithara/chat-core/internal/registry"
	"github.com/fathima-sithara/chat-core/internal/retry"
	"github.com/fathima-sithara/chat-core/internal/service"
	"github.com/fathima-sithara/chat-core/internal/store"
	"github.com/fathima-sithara/chat-core/internal/unread"
	"github.com/fathima-sithara/chat-core/internal/user"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CHATCORE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(logger.Config{Development: cfg.App.Env == "development"})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	mc, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.Mongo.URI))
	connectCancel()
	if err != nil {
		zlog.Fatalw("mongo connect", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	db := mc.Database(cfg.Mongo.DB)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	var sink notify.EventSink
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer func() { _ = producer.Close() }()
		sink = producer
	}

	policy := retry.Policy{
		MaxAttempts:     uint64(cfg.Retry.MaxAttempts),
		InitialInterval: cfg.RetryInitialInterval(),
		MaxElapsed:      cfg.RetryMaxElapsed(),
	}

	bus := events.NewBus(zlog)

	msgBackend := store.NewMongoBackend(db)
	st := store.New(msgBackend, bus, zlog, policy)

	chatBackend := registry.NewMongoBackend(db)
	reg := registry.New(chatBackend, st, bus, zlog, policy)

	users := user.NewDirectory(user.NewMongoSource(db), rdb, cfg.Redis.Prefix, zlog)
	counter := unread.New(st, reg, rdb, cfg.Redis.Prefix, zlog)

	gateway := push.NewClient(push.Config{
		Endpoint: cfg.Push.Endpoint,
		APIKey:   cfg.Push.APIKey,
		Timeout:  cfg.PushTimeout(),
	}, zlog)
	dispatcher := notify.NewDispatcher(gateway, sink, users, zlog)

	svc := service.New(st, reg, counter, dispatcher, bus, users, zlog)

	// live updates from other participants' devices
	go func() {
		if err := msgBackend.Watch(ctx, st.Merge); err != nil && ctx.Err() == nil {
			zlog.Warnw("message watch stopped", "err", err)
		}
	}()
	go func() {
		if err := chatBackend.Watch(ctx, reg.Merge); err != nil && ctx.Err() == nil {
			zlog.Warnw("chat watch stopped", "err", err)
		}
	}()

	jv := auth.NewValidator(cfg.JWT.HSSecret)
	app := api.NewServer(svc, jv, cfg.App.SendRatePerMinute)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			zlog.Fatalw("server listen", "err", err)
		}
	}()
	zlog.Infow("chatcore started", "port", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer shutdownCancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	bus.Reset()
	zlog.Info("chatcore stopped")
}

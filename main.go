package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hermes/server/internal/broker"
	"hermes/server/internal/config"
	"hermes/server/internal/database"
	"hermes/server/internal/dispatcher"
	"hermes/server/internal/guard"
	"hermes/server/internal/handlers"
	"hermes/server/internal/logger"
	"hermes/server/internal/metrics"
	"hermes/server/internal/presence"
	"hermes/server/internal/routes"
	"hermes/server/internal/store"
	"hermes/server/internal/store/memory"
	"hermes/server/internal/store/postgres"
	"hermes/server/internal/typing"
	"hermes/server/internal/utils"
	ws "hermes/server/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("config/config.yaml")
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	tracker, closeTracker, err := openPresence(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("failed to connect presence store", zap.Error(err))
	}
	defer closeTracker()

	var pub broker.Publisher = broker.Noop{}
	if len(cfg.Kafka.Brokers) > 0 {
		pub = broker.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		log.Info("publishing message events", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	defer pub.Close()

	m := metrics.New()
	hub := ws.NewHub(tracker, st, m, log.Named("hub"))
	g := guard.New(st)
	d := dispatcher.New(st, g, hub, pub, m, log.Named("dispatcher"))
	relay := typing.NewRelay(g, hub, m, log.Named("typing"))
	gateway := ws.NewGateway(hub, d, relay, g, cfg.WS, m, log.Named("gateway"))
	jwt := utils.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)

	h := handlers.New(handlers.Deps{
		Store:         st,
		Dispatcher:    d,
		Hub:           hub,
		Gateway:       gateway,
		Presence:      tracker,
		JWT:           jwt,
		Uploads:       cfg.Uploads,
		SecureCookies: !cfg.Log.Development,
		Log:           log.Named("http"),
	})

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:   cfg.Server.AppName,
		BodyLimit: int(cfg.Uploads.MaxAvatarBytes) + 1024*1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowCredentials: true,
	}))

	routes.Setup(app, h, jwt, routes.Options{
		Users:      st,
		Limits:     cfg.Limits,
		UploadsDir: cfg.Uploads.Dir,
		Metrics:    m.Handler(),
	})

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("shutdown", zap.Error(err))
		}
	}()

	log.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		log.Error("server stopped", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (store.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn("using in-memory store; data is lost on restart")
		return memory.New(), nil
	}

	pool, err := database.Connect(ctx, cfg.URL, log)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return postgres.New(pool, log.Named("postgres")), nil
}

func openPresence(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (presence.Tracker, func(), error) {
	if cfg.Addr == "" {
		return presence.NewMemory(), func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, err
	}

	tracker := presence.NewRedis(client, cfg.Prefix)
	if err := tracker.ResetConnections(ctx); err != nil {
		log.Warn("failed to reset presence counters", zap.Error(err))
	}
	log.Info("presence backed by redis", zap.String("addr", cfg.Addr))
	return tracker, func() { _ = client.Close() }, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"donor-finder/internal/auth"
	"donor-finder/internal/config"
	"donor-finder/internal/events"
	"donor-finder/internal/geo"
	"donor-finder/internal/handlers/apiserver"
	"donor-finder/internal/handlers/chatserver"
	"donor-finder/internal/jobs"
	appKafka "donor-finder/internal/kafka"
	"donor-finder/internal/logging"
	"donor-finder/internal/metrics"
	"donor-finder/internal/middleware"
	appRedis "donor-finder/internal/redis"
	"donor-finder/internal/services"
	"donor-finder/internal/storage"
	ws "donor-finder/internal/websocket"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径 (默认查找 ./config/config.yaml)")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法加载配置: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	logger, err := logging.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "无法初始化日志: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("配置加载成功", zap.String("app", cfg.AppName), zap.String("env", cfg.Environment))

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化数据库连接并迁移表结构
	db, err := storage.InitDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("无法初始化数据库", zap.Error(err))
	}
	if err := storage.AutoMigrateTables(db); err != nil {
		logger.Fatal("数据库表迁移失败", zap.Error(err))
	}
	logger.Info("数据库连接成功", zap.String("type", cfg.Database.Type))

	// 4. 初始化 Redis。仅当地理索引使用 Redis 时它是必需的。
	redisClient, err := appRedis.NewClient(rootCtx, cfg.Redis)
	if err != nil {
		if cfg.Geo.Backend == "redis" {
			logger.Fatal("无法连接到 Redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		logger.Warn("Redis 不可用，令牌黑名单退化为进程内存储", zap.Error(err))
	} else {
		logger.Info("成功连接到 Redis", zap.String("addr", cfg.Redis.Addr))
		defer redisClient.Close()
	}

	// 5. 令牌黑名单
	var blacklist auth.TokenBlacklist
	if redisClient != nil {
		blacklist = appRedis.NewRedisTokenBlacklist(redisClient)
	} else {
		blacklist = auth.NewMemoryBlacklist()
	}

	// 6. 指标
	var m *metrics.Metrics
	promRegistry := prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		promRegistry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m = metrics.New(promRegistry)
	}

	// 7. Repositories 与地理索引
	userRepo := storage.NewGormUserRepository(db)
	requestRepo := storage.NewGormRequestRepository(db)
	notificationRepo := storage.NewGormNotificationRepository(db)

	donorIndex, closeIndex, err := geo.Open(rootCtx, cfg, redisClient, userRepo, logger.Named("geo"))
	if err != nil {
		logger.Fatal("无法初始化地理索引", zap.String("backend", cfg.Geo.Backend), zap.Error(err))
	}
	defer closeIndex()
	logger.Info("地理索引已就绪", zap.String("backend", donorIndex.Name()))

	// 8. 在线用户注册表与通知服务
	registry := ws.NewRegistry(logger.Named("presence"), m)
	notificationService := services.NewNotificationService(
		notificationRepo, userRepo, registry, cfg.Notifications.ListLimit, logger.Named("notifications"), m)

	// 9. 请求事件总线: 启用 Kafka 时走 topic，否则使用进程内队列
	retry := events.RetryPolicy{Attempts: cfg.Notifications.RetryAttempts, Backoff: cfg.Notifications.RetryBackoff}
	var (
		publisher  events.Publisher
		consumerWG sync.WaitGroup
	)
	consumerCtx, cancelConsumers := context.WithCancel(rootCtx)
	defer cancelConsumers()

	if cfg.Kafka.Enabled {
		producer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka, logger.Named("kafka"))
		if err != nil {
			logger.Fatal("无法创建 Kafka 生产者", zap.Error(err))
		}
		publisher = appKafka.NewRequestEventPublisher(producer, cfg.Kafka.RequestEventsTopic, m)

		consumer := appKafka.NewConfluentKafkaConsumer(cfg.Kafka, logger.Named("kafka"))
		logic := appKafka.NewRequestEventConsumerLogic(notificationService.HandleRequestEvent, retry, logger.Named("kafka"), m)
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			defer consumer.Close()
			logger.Info("Kafka 请求事件消费者启动",
				zap.String("topic", cfg.Kafka.RequestEventsTopic),
				zap.String("group", cfg.Kafka.ConsumerGroup))
			err := consumer.Consume(consumerCtx, []string{cfg.Kafka.RequestEventsTopic}, cfg.Kafka.ConsumerGroup, logic.Handle)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Kafka 请求事件消费者错误", zap.Error(err))
			}
		}()
	} else {
		bus := events.NewLocalBus(cfg.Notifications.LocalQueueSize, notificationService.HandleRequestEvent, retry, logger.Named("events"), m)
		bus.Start(consumerCtx)
		publisher = bus
		logger.Info("Kafka 未启用，使用进程内事件队列", zap.Int("queueSize", cfg.Notifications.LocalQueueSize))
	}

	// 10. 初始化 Services
	authService := services.NewAuthService(userRepo, donorIndex, blacklist, cfg.Auth, logger.Named("auth"))
	donorService := services.NewDonorService(userRepo, donorIndex, cfg.Geo, logger.Named("donors"))
	requestService := services.NewRequestService(userRepo, requestRepo, publisher, logger.Named("requests"))
	statsService := services.NewStatsService(userRepo, requestRepo)

	// 11. 地理索引同步任务。启动时先同步一次，之后按计划执行。
	geoSync := jobs.NewGeoSyncJob(donorService, cfg.Geo.SyncSchedule, logger, m).
		WithLocationRepair(cfg.Geo.RepairOnSync)
	if err := geoSync.RunOnce(rootCtx); err != nil {
		logger.Warn("启动时地理索引同步失败，将由定时任务重试", zap.Error(err))
	}
	if err := geoSync.SetupAndStart(); err != nil {
		logger.Fatal("无法启动地理索引同步任务", zap.Error(err))
	}

	// 12. 设置 HTTP 路由
	authn := middleware.NewAuthenticator(cfg.Auth, blacklist, logger.Named("auth"))
	r := mux.NewRouter()
	apiserver.RegisterRoutes(r, apiserver.Handlers{
		Auth:          apiserver.NewAuthHandler(authService, logger.Named("http")),
		Users:         apiserver.NewUserHandler(donorService, statsService, logger.Named("http")),
		Requests:      apiserver.NewRequestHandler(requestService, logger.Named("http")),
		Notifications: apiserver.NewNotificationHandler(notificationService, logger.Named("http")),
	}, authn)

	wsHandler := chatserver.NewWebSocketHandler(registry, authn, cfg.WebSocket, cfg.Server.CORS.AllowedOrigins, logger.Named("ws"))
	r.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)

	if cfg.Metrics.Enabled {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
	}
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	// 13. CORS 与 panic 恢复
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(cfg.Server.CORS.AllowedOrigins),
		handlers.AllowedMethods(cfg.Server.CORS.AllowedMethods),
		handlers.AllowedHeaders(cfg.Server.CORS.AllowedHeaders),
		handlers.MaxAge(cfg.Server.CORS.MaxAge),
	}
	if cfg.Server.CORS.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	var handler http.Handler = handlers.CORS(corsOptions...)(r)
	handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logging.StdLogger(logger.Named("recovery"))),
		handlers.PrintRecoveryStack(!cfg.IsProduction()),
	)(handler)

	// 14. 启动 HTTP 服务器并实现优雅关闭
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:           serverAddr,
		Handler:        handler,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
		IdleTimeout:    60 * time.Second,
		ErrorLog:       logging.StdLogger(logger.Named("http")),
	}

	go func() {
		logger.Info("服务器启动", zap.String("addr", serverAddr), zap.String("ws", cfg.Server.WebSocketPath))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("服务器启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("收到关闭信号，正在关闭服务器...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Error("服务器强制关闭", zap.Error(err))
	}

	geoSync.Stop()
	registry.CloseAll()

	// HTTP 已停止，不会再有新事件；本地队列会处理完剩余事件
	publisher.Close()
	cancelConsumers()
	consumerWG.Wait()

	logger.Info("服务器已成功关闭")
}

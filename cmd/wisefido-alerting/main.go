package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-alerting/common/database"
	"wisefido-alerting/common/logger"
	"wisefido-alerting/common/mqtt"
	commonredis "wisefido-alerting/common/redis"
	"wisefido-alerting/internal/channel"
	"wisefido-alerting/internal/classifier"
	"wisefido-alerting/internal/clock"
	"wisefido-alerting/internal/config"
	"wisefido-alerting/internal/consumer"
	"wisefido-alerting/internal/dispatch"
	"wisefido-alerting/internal/lifecycle"
	"wisefido-alerting/internal/metrics"
	"wisefido-alerting/internal/models"
	"wisefido-alerting/internal/policy"
	"wisefido-alerting/internal/recipient"
	"wisefido-alerting/internal/repository"
	"wisefido-alerting/internal/service"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// 2. 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-alerting")
	if err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer log.Sync()

	// 3. 创建上下文（支持优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. 组装服务
	alerting, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to create alerting service", zap.Error(err))
	}
	defer alerting.stop()

	// 5. 启动服务（在 goroutine 中）
	serviceErrChan := make(chan error, 1)
	go func() {
		serviceErrChan <- alerting.start(ctx)
	}()

	// 6. 等待信号（优雅关闭）
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down",
			zap.String("signal", sig.String()),
		)
		cancel()
		// 等待队列中的事件处理完
		if err := <-serviceErrChan; err != nil {
			log.Error("Service stopped with error", zap.Error(err))
		}
	case err := <-serviceErrChan:
		if err != nil {
			log.Fatal("Service error", zap.Error(err))
		}
	}

	log.Info("Alerting service stopped")
}

// storage 持久化组件（postgres 或进程内）
type storage struct {
	alerts    lifecycle.Repository
	policies  policy.Store
	directory recipient.Directory
	db        *sql.DB
}

// app 运行期组件
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *sql.DB
	redis    *redis.Client
	mqtt     *mqtt.Client
	provider *policy.Provider
	manager  *lifecycle.Manager
	sweeper  *dispatch.RepeatSweeper
	consumer *consumer.StreamConsumer
	metrics  *http.Server
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}
	clk := clock.Real{}

	// 指标
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New("wisefido_alerting", reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	if cfg.Alerting.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		a.metrics = &http.Server{Addr: cfg.Alerting.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	}

	// Redis（遥测流、分类器状态、报警缓存、事件流）
	a.redis, err = commonredis.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("failed to connect redis: %w", err)
	}

	store, err := newStorage(ctx, cfg, log)
	if err != nil {
		a.stop()
		return nil, err
	}
	a.db = store.db

	// 策略
	a.provider = policy.NewProvider(store.policies, cfg.Alerting.Policy.CacheTTL, clk, log)
	if path := cfg.Alerting.Policy.DefaultFile; path != "" {
		def, err := policy.LoadDefaultFile(path)
		if err != nil {
			a.stop()
			return nil, err
		}
		if err := a.provider.SetDefault(def); err != nil {
			a.stop()
			return nil, err
		}
	}

	// 分类器
	var states classifier.StateStore = classifier.NewMemoryStateStore()
	if cfg.Alerting.State.Backend == "redis" {
		states = classifier.NewRedisStateStore(a.redis, cfg.Alerting.State.KeyPrefix, cfg.Alerting.State.TTL, log)
	}
	cls := classifier.NewClassifier(states, a.provider, m, log)
	engine := policy.NewEngine(a.provider, cls, log)

	// 发送
	resolver := recipient.NewResolver(store.directory, a.provider, log)
	dispatcher := dispatch.NewDispatcher(cfg.Alerting.Dispatch.Timeout, clk, m, log)
	if err := a.registerSenders(dispatcher); err != nil {
		a.stop()
		return nil, err
	}
	router := dispatch.NewRouter(resolver, dispatcher, log)

	// 生命周期
	a.manager = lifecycle.NewManager(store.alerts, router, a.provider, clk, m, log)
	svc := service.NewAlertingService(engine, a.manager, store.alerts, resolver, a.provider, cls, clk, log)
	svc.SetAlertCache(repository.NewAlertCache(a.redis, cfg.Alerting.Cache.KeyPrefix, cfg.Alerting.Cache.TTL, log))
	if cfg.Alerting.EventStream != "" {
		svc.SetEventPublisher(service.NewStreamPublisher(a.redis, cfg.Alerting.EventStream))
	}

	a.sweeper = dispatch.NewRepeatSweeper(store.alerts, a.manager, cfg.Alerting.Dispatch.SweepSchedule, log)

	tc := cfg.Alerting.Telemetry
	a.consumer = consumer.NewStreamConsumer(a.redis, consumer.StreamConfig{
		Stream:       tc.Stream,
		Group:        tc.Group,
		Consumer:     tc.Consumer,
		Workers:      tc.Workers,
		QueueSize:    tc.QueueSize,
		BatchSize:    tc.BatchSize,
		Block:        tc.Block,
		ClaimMinIdle: tc.ClaimIdle,
	}, svc, m, log)

	return a, nil
}

// newStorage POLICY_STORE=postgres 时报警、策略和人员目录都走数据库
func newStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*storage, error) {
	if cfg.Alerting.Policy.Store == "memory" {
		log.Warn("Using in-memory storage, alerts are lost on restart")
		return &storage{
			alerts:    repository.NewMemoryAlertRepository(),
			policies:  policy.NewMemoryStore(),
			directory: recipient.NewMemoryDirectory(),
		}, nil
	}

	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	return &storage{
		alerts:    repository.NewPostgresAlertRepository(db, log),
		policies:  repository.NewPostgresPolicyRepository(db, log),
		directory: repository.NewPostgresDirectoryRepository(db, log),
		db:        db,
	}, nil
}

// registerSenders WEB/APP 走 MQTT，PHONE/EMAIL/SMS 走通知网关；未配置时只打日志
func (a *app) registerSenders(d *dispatch.Dispatcher) error {
	logSender := channel.NewLogSender(a.logger)

	var push channel.Sender = logSender
	if a.cfg.MQTT.Broker != "" {
		client, err := mqtt.NewClient(&a.cfg.MQTT, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		a.mqtt = client
		push = channel.NewMQTTSender(client, a.cfg.MQTT.TopicPrefix, a.cfg.MQTT.QoS, a.logger)
	}
	d.Register(models.ChannelWeb, push)
	d.Register(models.ChannelApp, push)

	var gateway channel.Sender = logSender
	if dc := a.cfg.Alerting.Dispatch; dc.WebhookURL != "" {
		gateway = channel.NewWebhookSender(dc.WebhookURL, dc.WebhookToken, dc.WebhookRetry, a.logger)
	}
	d.Register(models.ChannelPhone, gateway)
	d.Register(models.ChannelEmail, gateway)
	d.Register(models.ChannelSMS, gateway)
	return nil
}

// start 阻塞直到 ctx 取消
func (a *app) start(ctx context.Context) error {
	if _, err := a.manager.RestoreEscalations(ctx); err != nil {
		return fmt.Errorf("failed to restore escalations: %w", err)
	}

	if err := a.sweeper.Start(ctx); err != nil {
		return err
	}

	if path := a.cfg.Alerting.Policy.DefaultFile; path != "" && a.cfg.Alerting.Policy.WatchFile {
		go func() {
			if err := a.provider.WatchDefaultFile(ctx, path); err != nil {
				a.logger.Error("Default policy watcher stopped", zap.Error(err))
			}
		}()
	}

	if a.metrics != nil {
		go func() {
			a.logger.Info("Metrics server listening", zap.String("addr", a.metrics.Addr))
			if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
	}

	a.logger.Info("Alerting service started",
		zap.String("stream", a.cfg.Alerting.Telemetry.Stream),
		zap.Int("workers", a.cfg.Alerting.Telemetry.Workers),
	)
	return a.consumer.Start(ctx)
}

// stop 释放资源（可重复调用）
func (a *app) stop() {
	if a.sweeper != nil {
		a.sweeper.Stop()
	}
	if a.manager != nil {
		a.manager.Close()
	}
	if a.metrics != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.metrics.Shutdown(shutdownCtx)
		cancel()
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			a.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := database.Close(a.db); err != nil {
			a.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
}

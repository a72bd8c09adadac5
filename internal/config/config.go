package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"wisefido-alerting/common/config"
)

// Config 报警服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 报警服务特定配置
	Alerting struct {
		// 遥测流
		Telemetry struct {
			Stream    string        // 遥测事件流，如 "telemetry:events"
			Group     string        // 消费者组
			Consumer  string        // 消费者名（默认 hostname）
			Workers   int           // 分片 worker 数，默认 8
			QueueSize int           // 每个 worker 的队列长度
			BatchSize int64         // 每次读取条数
			Block     time.Duration // XREADGROUP 阻塞时间
			ClaimIdle time.Duration // 启动时接管空闲超过该时长的未确认消息
		}

		// 分类器状态
		State struct {
			Backend   string        // memory | redis
			KeyPrefix string        // 如 "alerting:state:"
			TTL       time.Duration // 状态过期时间，默认 24h
		}

		// 策略
		Policy struct {
			Store       string        // memory | postgres
			CacheTTL    time.Duration // 策略缓存时间，默认 30s
			DefaultFile string        // 默认策略 YAML（为空使用内置默认策略）
			WatchFile   bool          // 默认策略文件热加载
		}

		// 发送
		Dispatch struct {
			Timeout       time.Duration // 单渠道超时，默认 5s
			SweepSchedule string        // 重复发送扫描，cron 表达式或 @every
			WebhookURL    string        // PHONE/EMAIL/SMS 网关，为空时只打日志
			WebhookToken  string
			WebhookRetry  int
		}

		// Redis 报警缓存
		Cache struct {
			KeyPrefix string
			TTL       time.Duration
		}

		// 报警事件流（供其他服务订阅）
		EventStream string

		MetricsAddr string // Prometheus 监听地址，为空不启动
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "owlrd")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "wisefido-alerting")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "wisefido/alerts")
	cfg.MQTT.QoS = 1
	cfg.MQTT.LoadFromEnv("MQTT")

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "alerting-1"
	}

	a := &cfg.Alerting
	a.Telemetry.Stream = getEnv("TELEMETRY_STREAM", "telemetry:events")
	a.Telemetry.Group = getEnv("TELEMETRY_GROUP", "wisefido-alerting")
	a.Telemetry.Consumer = getEnv("TELEMETRY_CONSUMER", hostname)
	a.Telemetry.Workers = getEnvInt("ALERT_WORKERS", 8)
	a.Telemetry.QueueSize = getEnvInt("ALERT_QUEUE_SIZE", 256)
	a.Telemetry.BatchSize = int64(getEnvInt("TELEMETRY_BATCH_SIZE", 100))
	a.Telemetry.Block = getEnvDuration("TELEMETRY_BLOCK", 2*time.Second)
	a.Telemetry.ClaimIdle = getEnvDuration("TELEMETRY_CLAIM_IDLE", 5*time.Minute)

	a.State.Backend = getEnv("STATE_BACKEND", "redis")
	a.State.KeyPrefix = getEnv("STATE_KEY_PREFIX", "alerting:state:")
	a.State.TTL = getEnvDuration("STATE_TTL", 24*time.Hour)

	a.Policy.Store = getEnv("POLICY_STORE", "postgres")
	a.Policy.CacheTTL = getEnvDuration("POLICY_CACHE_TTL", 30*time.Second)
	a.Policy.DefaultFile = getEnv("DEFAULT_POLICY_FILE", "")
	a.Policy.WatchFile = getEnv("DEFAULT_POLICY_WATCH", "true") == "true"

	a.Dispatch.Timeout = getEnvDuration("DISPATCH_TIMEOUT", 5*time.Second)
	a.Dispatch.SweepSchedule = getEnv("SWEEP_SCHEDULE", "@every 30s")
	a.Dispatch.WebhookURL = getEnv("NOTIFY_GATEWAY_URL", "")
	a.Dispatch.WebhookToken = getEnv("NOTIFY_GATEWAY_TOKEN", "")
	a.Dispatch.WebhookRetry = getEnvInt("NOTIFY_GATEWAY_RETRY", 2)

	a.Cache.KeyPrefix = getEnv("CACHE_ALERT_PREFIX", "vital-focus:subject:")
	a.Cache.TTL = getEnvDuration("CACHE_ALERT_TTL", 5*time.Minute)

	a.EventStream = getEnv("ALERT_EVENT_STREAM", "alerting:events")
	a.MetricsAddr = getEnv("METRICS_ADDR", ":9102")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	a := c.Alerting
	if a.Telemetry.Workers <= 0 {
		return fmt.Errorf("ALERT_WORKERS must be positive, got %d", a.Telemetry.Workers)
	}
	if a.State.Backend != "memory" && a.State.Backend != "redis" {
		return fmt.Errorf("STATE_BACKEND must be memory or redis, got %q", a.State.Backend)
	}
	if a.Policy.Store != "memory" && a.Policy.Store != "postgres" {
		return fmt.Errorf("POLICY_STORE must be memory or postgres, got %q", a.Policy.Store)
	}
	if a.Dispatch.Timeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvDuration 支持 "30s" 形式，也接受纯数字秒数
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Websocket  WebsocketConfig  `mapstructure:"websocket"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	WorkerPool WorkerPoolConfig `mapstructure:"worker_pool"`
	Snowflake  SnowflakeConfig  `mapstructure:"snowflake"`
	Group      GroupConfig      `mapstructure:"group"`
}

type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Mode            string `mapstructure:"mode"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout"` // seconds
}

type PostgresConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
}

type JWTConfig struct {
	Secret       string `mapstructure:"secret"`
	ExpireHours  int    `mapstructure:"expire_hours"`
	RefreshHours int    `mapstructure:"refresh_hours"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string `mapstructure:"level"`  // debug, info, warn, error, fatal
	Format   string `mapstructure:"format"` // json, console
	Output   string `mapstructure:"output"` // stdout, file
	FilePath string `mapstructure:"file_path"`
}

// WebsocketConfig 网关连接配置, 时间单位为秒
type WebsocketConfig struct {
	HeartbeatInterval int `mapstructure:"heartbeat_interval"`
	ConnectionTimeout int `mapstructure:"connection_timeout"`
	SendBuffer        int `mapstructure:"send_buffer"`
	ReadLimit         int `mapstructure:"read_limit"`
}

type KafkaConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Brokers        []string `mapstructure:"brokers"`
	Topic          string   `mapstructure:"topic"`
	MaxRetries     int      `mapstructure:"max_retries"`
	RetryBackoffMs int      `mapstructure:"retry_backoff_ms"`
}

type RateLimitConfig struct {
	RegisterPerMinute int `mapstructure:"register_per_minute"`
	LoginPerMinute    int `mapstructure:"login_per_minute"`
	MessagePerMinute  int `mapstructure:"message_per_minute"`
	APIPerMinute      int `mapstructure:"api_per_minute"`
}

type WorkerPoolConfig struct {
	Size      int `mapstructure:"size"`
	QueueSize int `mapstructure:"queue_size"`
}

type SnowflakeConfig struct {
	WorkerID int64 `mapstructure:"worker_id"`
}

// GroupConfig 群组生命周期配置
type GroupConfig struct {
	TTL          time.Duration `mapstructure:"ttl"`
	ReapInterval time.Duration `mapstructure:"reap_interval"`
	HistoryLimit int           `mapstructure:"history_limit"`
}

const envPrefix = "LOBBY"

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10)

	v.SetDefault("postgres.host", "127.0.0.1")
	v.SetDefault("postgres.port", "5432")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "postgres")
	v.SetDefault("postgres.dbname", "lobbychat")
	v.SetDefault("postgres.max_idle_conns", 10)
	v.SetDefault("postgres.max_open_conns", 50)
	v.SetDefault("postgres.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.secret", "change-me")
	v.SetDefault("jwt.expire_hours", 24*7)
	v.SetDefault("jwt.refresh_hours", 24)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "logs/lobbychat.log")

	v.SetDefault("websocket.heartbeat_interval", 30)
	v.SetDefault("websocket.connection_timeout", 60)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.read_limit", 4096)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "group.lifecycle")
	v.SetDefault("kafka.max_retries", 3)
	v.SetDefault("kafka.retry_backoff_ms", 100)

	v.SetDefault("ratelimit.register_per_minute", 5)
	v.SetDefault("ratelimit.login_per_minute", 10)
	v.SetDefault("ratelimit.message_per_minute", 30)
	v.SetDefault("ratelimit.api_per_minute", 120)

	v.SetDefault("worker_pool.size", 4)
	v.SetDefault("worker_pool.queue_size", 1024)

	v.SetDefault("snowflake.worker_id", 1)

	v.SetDefault("group.ttl", 4*time.Hour)
	v.SetDefault("group.reap_interval", time.Hour)
	v.SetDefault("group.history_limit", 50)
}

// LoadConfig 读取配置文件, 环境变量 (LOBBY_ 前缀) 覆盖文件中的值.
// path 为空或文件不存在时只使用默认值与环境变量.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("读取配置文件失败: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate rejects values the services cannot run with.
func (c *Config) Validate() error {
	if c.Group.TTL <= 0 {
		return fmt.Errorf("group.ttl must be positive, got %s", c.Group.TTL)
	}
	if c.Group.ReapInterval <= 0 {
		return fmt.Errorf("group.reap_interval must be positive, got %s", c.Group.ReapInterval)
	}
	if c.Group.HistoryLimit <= 0 {
		return fmt.Errorf("group.history_limit must be positive, got %d", c.Group.HistoryLimit)
	}
	if c.Websocket.HeartbeatInterval <= 0 {
		return fmt.Errorf("websocket.heartbeat_interval must be positive, got %d", c.Websocket.HeartbeatInterval)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("kafka.brokers is required when kafka is enabled")
	}
	return nil
}

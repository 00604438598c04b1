package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/weiawesome/wes-chat/pkg/config"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/jwt"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
	"github.com/weiawesome/wes-chat/pkg/storage"
)

type Config struct {
	Server           ServerConfig
	WebSocket        WebSocketConfig
	Database         database.Config
	Redis            RedisConfig
	Unread           UnreadConfig
	Typing           TypingConfig
	Relay            RelayConfig
	JWT              jwt.Config
	Attachments      AttachmentsConfig
	Log              log.Config
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type ServerConfig struct {
	Host         string
	Port         int
	GRPCPort     int           `mapstructure:"grpc_port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst"`
}

type RedisConfig struct {
	Address   string
	Password  string
	DB        int
	KeyPrefix string `mapstructure:"key_prefix"`
}

type UnreadConfig struct {
	Driver            string        `mapstructure:"driver"` // redis, memory
	TTL               time.Duration `mapstructure:"ttl"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	BatchSize         int           `mapstructure:"batch_size"`
}

type TypingConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type RelayConfig struct {
	Enabled bool
	PubSub  pubsub.Config `mapstructure:"pubsub"`
}

type AttachmentsConfig struct {
	Verify  bool
	Storage storage.Config `mapstructure:"storage"`
}

// Load reads ./config/config.yaml when present, then environment overrides.
func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}
	return FromViper(v)
}

// FromViper applies defaults to v and decodes it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.grpc_port", "GRPC_PORT")
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("jwt.secret", "JWT_SECRET")
	v.BindEnv("jwt.public_key_path", "JWT_PUBLIC_KEY_PATH")
	v.BindEnv("relay.pubsub.kafka.brokers", "KAFKA_BROKERS")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 50060)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.auth_timeout", "10s")
	v.SetDefault("websocket.max_message_size", 65536)
	v.SetDefault("websocket.rate_limit", 20)
	v.SetDefault("websocket.rate_burst", 40)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.file_path", "wes-chat.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "chat:")

	v.SetDefault("unread.driver", "redis")
	v.SetDefault("unread.ttl", "720h")
	v.SetDefault("unread.reconcile_interval", "1m")
	v.SetDefault("unread.batch_size", 500)

	v.SetDefault("typing.ttl", "5s")

	v.SetDefault("relay.enabled", false)
	v.SetDefault("relay.pubsub.driver", "redis")
	v.SetDefault("relay.pubsub.redis.address", "localhost:6379")
	v.SetDefault("relay.pubsub.kafka.brokers", "localhost:9092")
	v.SetDefault("relay.pubsub.kafka.group_id", "wes-chat")
	v.SetDefault("relay.pubsub.kafka.partitions", 8)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.public_key_path", "")
	v.SetDefault("jwt.issuer", "")

	v.SetDefault("attachments.verify", false)
	v.SetDefault("attachments.storage.driver", "local")
	v.SetDefault("attachments.storage.local.base_path", "./data/attachments")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "wes-chat")

	v.SetDefault("operation_timeout", "5s")
}

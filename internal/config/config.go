package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	WS       WSConfig       `mapstructure:"ws"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port"`
	AppName     string `mapstructure:"app_name"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	URL    string `mapstructure:"url"`
}

type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	AccessTTL  time.Duration `mapstructure:"access_ttl"`
	RefreshTTL time.Duration `mapstructure:"refresh_ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type UploadsConfig struct {
	Dir            string `mapstructure:"dir"`
	MaxAvatarBytes int64  `mapstructure:"max_avatar_bytes"`
	AvatarSize     int    `mapstructure:"avatar_size"`
}

type WSConfig struct {
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	EventsPerSecond float64       `mapstructure:"events_per_second"`
	Burst           int           `mapstructure:"burst"`
}

// Limit allows Max requests per Window for one caller.
type Limit struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// LimitsConfig holds the REST rate limits per route class.
type LimitsConfig struct {
	Enabled bool  `mapstructure:"enabled"`
	Auth    Limit `mapstructure:"auth"`
	Send    Limit `mapstructure:"send"`
	Write   Limit `mapstructure:"write"`
	Read    Limit `mapstructure:"read"`
	Upload  Limit `mapstructure:"upload"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

var ErrMissingJWTSecret = errors.New("jwt secret is required outside development mode")

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5003")
	v.SetDefault("server.app_name", "Hermes API v1.0")
	v.SetDefault("server.cors_origins", "http://localhost:3000")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_ttl", 15*time.Minute)
	v.SetDefault("jwt.refresh_ttl", 7*24*time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "hermes")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "hermes.message.sent")

	v.SetDefault("uploads.dir", "./uploads")
	v.SetDefault("uploads.max_avatar_bytes", 2*1024*1024)
	v.SetDefault("uploads.avatar_size", 256)

	v.SetDefault("ws.ping_interval", 54*time.Second)
	v.SetDefault("ws.pong_wait", 60*time.Second)
	v.SetDefault("ws.write_wait", 10*time.Second)
	v.SetDefault("ws.max_message_bytes", 64*1024)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.events_per_second", 20.0)
	v.SetDefault("ws.burst", 40)

	v.SetDefault("limits.enabled", true)
	v.SetDefault("limits.auth.max", 5)
	v.SetDefault("limits.auth.window", 15*time.Minute)
	v.SetDefault("limits.send.max", 60)
	v.SetDefault("limits.send.window", time.Minute)
	v.SetDefault("limits.write.max", 30)
	v.SetDefault("limits.write.window", time.Minute)
	v.SetDefault("limits.read.max", 100)
	v.SetDefault("limits.read.window", time.Minute)
	v.SetDefault("limits.upload.max", 10)
	v.SetDefault("limits.upload.window", 5*time.Minute)

	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")
}

// Load reads an optional .env file, then the yaml file at path (if it
// exists), then HERMES_* environment overrides. The plain PORT, DATABASE_URL
// and JWT_SECRET variables are honoured as well.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("HERMES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, err
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	applyLegacyEnv(&cfg)

	if cfg.JWT.Secret == "" {
		if !cfg.Log.Development {
			return nil, ErrMissingJWTSecret
		}
		cfg.JWT.Secret = "development-secret"
	}
	return &cfg, nil
}

func applyLegacyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
	if url := os.Getenv("DATABASE_URL"); url != "" && cfg.Database.URL == "" {
		cfg.Database.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" && cfg.JWT.Secret == "" {
		cfg.JWT.Secret = secret
	}
}

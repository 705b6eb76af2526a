package config

import (
	"time"

	"PPChat/service/hub"
	"PPChat/service/natsx"
	redis "PPChat/service/storage/redis"
)

type AppConfig struct {
	NodeID    string `yaml:"node_id"`   // gateway id; relay and presence mirror use it
	Snowflake int64  `yaml:"snowflake"` // snowflake node for connection ids

	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	JWT      JWTConfig      `yaml:"jwt"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Hub      hub.Config     `yaml:"hub"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GRPCConfig serves the standard health service only.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type JWTConfig struct {
	Secret string        `yaml:"secret"`
	Alg    string        `yaml:"alg"`
	Leeway time.Duration `yaml:"leeway"`
}

// PostgresConfig with an empty DSN runs the gateway on the in-memory store.
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	Migrate         bool          `yaml:"migrate"`
}

type RedisConfig struct {
	redis.Config `yaml:",inline"`
	Enabled      bool          `yaml:"enabled"`
	PresenceTTL  time.Duration `yaml:"presence_ttl"`
}

type NATSConfig struct {
	natsx.Config `yaml:",inline"`
	Enabled      bool `yaml:"enabled"`
}

type GatewayConfig struct {
	SendQueue        int           `yaml:"send_queue"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongWait         time.Duration `yaml:"pong_wait"`
	WriteWait        time.Duration `yaml:"write_wait"`
	MaxMessageBytes  int64         `yaml:"max_message_bytes"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	EventTimeout     time.Duration `yaml:"event_timeout"`
	OfflineTimeout   time.Duration `yaml:"offline_timeout"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	JSON       bool   `yaml:"json"`
	File       string `yaml:"file"` // empty logs to stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func Default() AppConfig {
	return AppConfig{
		NodeID:    "",
		Snowflake: 1,
		HTTP:      HTTPConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		GRPC:      GRPCConfig{Addr: ":50051"},
		JWT:       JWTConfig{Alg: "HS256"},
		Postgres:  PostgresConfig{MaxConns: 16, Migrate: true},
		Redis:     RedisConfig{Config: redis.Config{Addr: "127.0.0.1:6379"}, PresenceTTL: 90 * time.Second},
		NATS:      NATSConfig{Config: natsx.Config{Servers: []string{"nats://127.0.0.1:4222"}, Name: "chat-gateway"}},
		Hub:       hub.Config{Stripes: 64, Workers: 8, Queue: 1024},
		Gateway: GatewayConfig{
			SendQueue:        256,
			PingInterval:     25 * time.Second,
			PongWait:         60 * time.Second,
			WriteWait:        10 * time.Second,
			MaxMessageBytes:  1 << 20,
			HandshakeTimeout: 5 * time.Second,
			EventTimeout:     5 * time.Second,
			OfflineTimeout:   5 * time.Second,
		},
		Log: LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 7},
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Server holds all configuration for the Xiangqi game server.
type Server struct {
	// Network
	BindAddress string `yaml:"bind_address"`
	Port        int    `yaml:"port"`

	// Dispatch and delivery
	Workers       int           `yaml:"workers"`         // dispatch pool size (default: 4)
	MailboxSize   int           `yaml:"mailbox_size"`    // outbound mailbox capacity (default: 1024)
	SendQueueSize int           `yaml:"send_queue_size"` // per-client outbox capacity (default: 256)
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // per-write deadline (default: 5s)
	SweepInterval time.Duration `yaml:"sweep_interval"`  // clock/offer expiry tick (default: 100ms)

	// Flood protection
	MessageRate  float64 `yaml:"message_rate"`  // inbound frames per second per connection
	MessageBurst int     `yaml:"message_burst"` // burst allowance

	// Collaborators
	Mongo  MongoConfig  `yaml:"mongo"`
	Redis  RedisConfig  `yaml:"redis"`
	Engine EngineConfig `yaml:"engine"`

	// Logging
	LogLevel string `yaml:"log_level"`
}

// MongoConfig holds document store connection parameters.
type MongoConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// RedisConfig holds cache connection parameters.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Addr returns the host:port dial address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// EngineConfig holds the UCI engine settings. An empty Path falls back to
// the discovery order: ./pikafish beside the executable, then $PATH.
type EngineConfig struct {
	Path string `yaml:"path"`
}

// DefaultServer returns Server config with sensible defaults.
func DefaultServer() Server {
	return Server{
		BindAddress:   "0.0.0.0",
		Port:          8080,
		Workers:       4,
		MailboxSize:   1024,
		SendQueueSize: 256,
		WriteTimeout:  5 * time.Second,
		SweepInterval: 100 * time.Millisecond,
		MessageRate:   30,
		MessageBurst:  60,
		Mongo: MongoConfig{
			URI:      "mongodb://127.0.0.1:27017",
			Database: "xiangqi",
		},
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
		LogLevel: "info",
	}
}

// LoadServer loads server config from a YAML file and applies environment
// overrides. If the file doesn't exist, returns defaults.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets the collaborator endpoints be set from the environment, the
// way deployments pass them.
func (c *Server) applyEnv() {
	if v := os.Getenv("MONGODB_URI"); v != "" {
		c.Mongo.URI = v
	}
	if v := os.Getenv("MONGODB_DB"); v != "" {
		c.Mongo.Database = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = p
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("PIKAFISH_PATH"); v != "" {
		c.Engine.Path = v
	}
}

// Package config loads runtime configuration from an optional YAML file plus
// ZENMGT_* environment variables, env taking precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    Server
	Database  Database
	Redis     Redis
	Kafka     Kafka
	Snowflake Snowflake
	Approval  Approval
	Outbox    Outbox
	LogLevel  string
}

type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
}

type Database struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DSN renders the lib/pq connection string.
func (d Database) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type Redis struct {
	// URL is a redis:// URL; empty disables the detail cache.
	URL       string
	DetailTTL time.Duration
}

type Kafka struct {
	// Brokers empty disables the outbox relay.
	Brokers  []string
	Topic    string
	ClientID string
}

type Snowflake struct {
	WorkerID int64
}

type Approval struct {
	// CheckerLevels is how many sequential approvals a request needs, 1 to 3.
	CheckerLevels int
}

type Outbox struct {
	PollInterval time.Duration
}

// Load reads config.yaml from the working directory when present, then applies
// environment overrides.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ZENMGT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "zenmgt")
	v.SetDefault("database.password", "zenmgt")
	v.SetDefault("database.name", "zenmgt")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.detail_ttl", "5m")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "zenmgt.approval.events")
	v.SetDefault("kafka.client_id", "zenmgt")
	v.SetDefault("snowflake.worker_id", 0)
	v.SetDefault("approval.checker_levels", 2)
	v.SetDefault("outbox.poll_interval", "2s")
	v.SetDefault("log.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
		},
		Database: Database{
			Host:         v.GetString("database.host"),
			Port:         v.GetInt("database.port"),
			User:         v.GetString("database.user"),
			Password:     v.GetString("database.password"),
			Name:         v.GetString("database.name"),
			SSLMode:      v.GetString("database.sslmode"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
		},
		Redis: Redis{
			URL:       v.GetString("redis.url"),
			DetailTTL: v.GetDuration("redis.detail_ttl"),
		},
		Kafka: Kafka{
			Brokers:  v.GetStringSlice("kafka.brokers"),
			Topic:    v.GetString("kafka.topic"),
			ClientID: v.GetString("kafka.client_id"),
		},
		Snowflake: Snowflake{
			WorkerID: v.GetInt64("snowflake.worker_id"),
		},
		Approval: Approval{
			CheckerLevels: v.GetInt("approval.checker_levels"),
		},
		Outbox: Outbox{
			PollInterval: v.GetDuration("outbox.poll_interval"),
		},
		LogLevel: v.GetString("log.level"),
	}

	if cfg.Approval.CheckerLevels < 1 || cfg.Approval.CheckerLevels > 3 {
		return nil, fmt.Errorf("approval.checker_levels must be between 1 and 3, got %d", cfg.Approval.CheckerLevels)
	}
	return cfg, nil
}

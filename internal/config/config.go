// Package config loads the daemon configuration: coded defaults,
// environment overrides, then an optional config.yaml.
package config

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// RolesConfig binds the three fixed role addresses (hex).
type RolesConfig struct {
	Operator     string `yaml:"operator" json:"operator"`
	Treasury     string `yaml:"treasury" json:"treasury"`
	EscrowKeeper string `yaml:"escrow_keeper" json:"escrow_keeper"`
}

// PlatformConfig seeds the tunable platform parameters.
type PlatformConfig struct {
	MinOrderValue string `yaml:"min_order_value" json:"min_order_value"` // decimal integer, 1e18 units
	FeeBps        uint64 `yaml:"fee_bps" json:"fee_bps"`
}

// KafkaConfig configures the Kafka event sink.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
}

// RedisConfig configures the Redis event sink and the API rate limiter.
type RedisConfig struct {
	Address       string        `yaml:"address" json:"address"`
	PublishEvents bool          `yaml:"publish_events" json:"publish_events"`
	RateLimit     int64         `yaml:"rate_limit" json:"rate_limit"`
	RateWindow    time.Duration `yaml:"rate_window" json:"rate_window"`
}

// JournalConfig configures the sqlite event journal.
type JournalConfig struct {
	DSN string `yaml:"dsn" json:"dsn"`
}

// Config is the daemon configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	LogLevel string         `yaml:"log_level" json:"log_level"`
	Roles    RolesConfig    `yaml:"roles" json:"roles"`
	Platform PlatformConfig `yaml:"platform" json:"platform"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	Journal  JournalConfig  `yaml:"journal" json:"journal"`
}

// MinOrderValue parses the configured minimum order value.
func (c *Config) MinOrderValue() (*big.Int, error) {
	if c.Platform.MinOrderValue == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(c.Platform.MinOrderValue, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid min_order_value %q", c.Platform.MinOrderValue)
	}
	return v, nil
}

// Load builds the configuration from defaults, environment variables
// and an optional config.yaml.
func Load() (*Config, error) {
	config := &Config{}

	config.Server = ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
	config.LogLevel = "info"
	config.Platform.MinOrderValue = "0"
	config.Platform.FeeBps = 25
	config.Kafka.Brokers = []string{"localhost:9092"}
	config.Redis.Address = ""
	config.Redis.RateLimit = 50
	config.Redis.RateWindow = time.Minute
	config.Journal.DSN = "otcx-journal.db"

	// Environment overrides
	if port, err := strconv.Atoi(os.Getenv("OTCX_SERVER_PORT")); err == nil {
		config.Server.Port = port
	}
	if host := os.Getenv("OTCX_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if op := os.Getenv("OTCX_OPERATOR"); op != "" {
		config.Roles.Operator = op
	}
	if tr := os.Getenv("OTCX_TREASURY"); tr != "" {
		config.Roles.Treasury = tr
	}
	if ek := os.Getenv("OTCX_ESCROW_KEEPER"); ek != "" {
		config.Roles.EscrowKeeper = ek
	}
	if minOrder := os.Getenv("OTCX_MIN_ORDER_VALUE"); minOrder != "" {
		config.Platform.MinOrderValue = minOrder
	}
	if bps, err := strconv.ParseUint(os.Getenv("OTCX_FEE_BPS"), 10, 64); err == nil {
		config.Platform.FeeBps = bps
	}
	if brokers := os.Getenv("OTCX_KAFKA_BROKERS"); brokers != "" {
		config.Kafka.Brokers = strings.Split(brokers, ",")
		config.Kafka.Enabled = true
	}
	if enabled := os.Getenv("OTCX_KAFKA_ENABLED"); enabled != "" {
		config.Kafka.Enabled = enabled == "true"
	}
	if addr := os.Getenv("OTCX_REDIS_ADDRESS"); addr != "" {
		config.Redis.Address = addr
	}
	if publish := os.Getenv("OTCX_REDIS_PUBLISH_EVENTS"); publish != "" {
		config.Redis.PublishEvents = publish == "true"
	}
	if limit, err := strconv.ParseInt(os.Getenv("OTCX_RATE_LIMIT"), 10, 64); err == nil {
		config.Redis.RateLimit = limit
	}
	if dsn := os.Getenv("OTCX_JOURNAL_DSN"); dsn != "" {
		config.Journal.DSN = dsn
	}

	// Optional config file
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/otcx")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if viper.IsSet("server.host") {
			config.Server.Host = viper.GetString("server.host")
		}
		if viper.IsSet("server.port") {
			config.Server.Port = viper.GetInt("server.port")
		}
		if viper.IsSet("log_level") {
			config.LogLevel = viper.GetString("log_level")
		}
		if viper.IsSet("roles.operator") {
			config.Roles.Operator = viper.GetString("roles.operator")
		}
		if viper.IsSet("roles.treasury") {
			config.Roles.Treasury = viper.GetString("roles.treasury")
		}
		if viper.IsSet("roles.escrow_keeper") {
			config.Roles.EscrowKeeper = viper.GetString("roles.escrow_keeper")
		}
		if viper.IsSet("platform.min_order_value") {
			config.Platform.MinOrderValue = viper.GetString("platform.min_order_value")
		}
		if viper.IsSet("platform.fee_bps") {
			config.Platform.FeeBps = viper.GetUint64("platform.fee_bps")
		}
		if viper.IsSet("kafka.enabled") {
			config.Kafka.Enabled = viper.GetBool("kafka.enabled")
		}
		if viper.IsSet("kafka.brokers") {
			config.Kafka.Brokers = viper.GetStringSlice("kafka.brokers")
		}
		if viper.IsSet("redis.address") {
			config.Redis.Address = viper.GetString("redis.address")
		}
		if viper.IsSet("redis.publish_events") {
			config.Redis.PublishEvents = viper.GetBool("redis.publish_events")
		}
		if viper.IsSet("redis.rate_limit") {
			config.Redis.RateLimit = viper.GetInt64("redis.rate_limit")
		}
		if viper.IsSet("journal.dsn") {
			config.Journal.DSN = viper.GetString("journal.dsn")
		}
	}

	return config, nil
}

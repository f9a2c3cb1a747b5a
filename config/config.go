package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP         HTTPConfig         `yaml:"http"`
	GRPC         GRPCConfig         `yaml:"grpc"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Scheduling   SchedulingConfig   `yaml:"scheduling"`
	Conversation ConversationConfig `yaml:"conversation"`
	Auth         AuthConfig         `yaml:"auth"`
	Log          LogConfig          `yaml:"log"`
	Worker       WorkerConfig       `yaml:"worker"`
}

type HTTPConfig struct {
	Address      string   `yaml:"address"`
	AllowOrigins []string `yaml:"allow_origins"`
}

type GRPCConfig struct {
	Address string `yaml:"address"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DatabaseConfig struct {
	Driver        string `yaml:"driver"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	Name          string `yaml:"name"`
	SSLMode       string `yaml:"ssl_mode"`
	SQLitePath    string `yaml:"sqlite_path"`
	LockTimeoutMS int    `yaml:"lock_timeout_ms"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func (d DatabaseConfig) LockTimeout() time.Duration {
	return time.Duration(d.LockTimeoutMS) * time.Millisecond
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers"`
	BookingTopic       string   `yaml:"booking_topic"`
	ScheduleTopic      string   `yaml:"schedule_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	AnalyticsTopic     string   `yaml:"analytics_topic"`
	GroupID            string   `yaml:"group_id"`
	PublishRetries     int      `yaml:"publish_retries"`
}

type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	QoS       byte   `yaml:"qos"`
}

type SchedulingConfig struct {
	MaxSlotsPerForm             int    `yaml:"max_slots_per_form"`
	MaxHorizonWeeks             int    `yaml:"max_horizon_weeks"`
	AllowedSlotMinutes          []int  `yaml:"allowed_slot_minutes"`
	DefaultTimezone             string `yaml:"default_timezone"`
	AvailabilityCacheTTLSeconds int    `yaml:"availability_cache_ttl_seconds"`
}

func (s SchedulingConfig) AvailabilityCacheTTL() time.Duration {
	return time.Duration(s.AvailabilityCacheTTLSeconds) * time.Second
}

type ConversationConfig struct {
	TTLMinutes int `yaml:"ttl_minutes"`
	MaxTurns   int `yaml:"max_turns"`
}

func (c ConversationConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

type WorkerConfig struct {
	AnalyticsCron string `yaml:"analytics_cron"`
}

// LoadConfig reads .env (if present), then the YAML file, then applies
// environment overrides and defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.GRPC.Address == "" {
		c.GRPC.Address = ":9090"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = "signupslots.db"
	}
	if c.Database.LockTimeoutMS == 0 {
		c.Database.LockTimeoutMS = 2000
	}
	if c.Kafka.BookingTopic == "" {
		c.Kafka.BookingTopic = "slots.booked"
	}
	if c.Kafka.ScheduleTopic == "" {
		c.Kafka.ScheduleTopic = "forms.schedule"
	}
	if c.Kafka.PublishRetries == 0 {
		c.Kafka.PublishRetries = 3
	}
	if c.Kafka.NotificationsTopic == "" {
		c.Kafka.NotificationsTopic = "notifications"
	}
	if c.Kafka.AnalyticsTopic == "" {
		c.Kafka.AnalyticsTopic = "forms.stats"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "signupslots-worker"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "signupslots"
	}
	if c.Scheduling.MaxSlotsPerForm == 0 {
		c.Scheduling.MaxSlotsPerForm = 100
	}
	if c.Scheduling.MaxHorizonWeeks == 0 {
		c.Scheduling.MaxHorizonWeeks = 12
	}
	if len(c.Scheduling.AllowedSlotMinutes) == 0 {
		c.Scheduling.AllowedSlotMinutes = []int{15, 30, 45, 60, 90, 120, 180, 240}
	}
	if c.Scheduling.DefaultTimezone == "" {
		c.Scheduling.DefaultTimezone = "UTC"
	}
	if c.Scheduling.AvailabilityCacheTTLSeconds == 0 {
		c.Scheduling.AvailabilityCacheTTLSeconds = 30
	}
	if c.Conversation.TTLMinutes == 0 {
		c.Conversation.TTLMinutes = 30
	}
	if c.Conversation.MaxTurns == 0 {
		c.Conversation.MaxTurns = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Worker.AnalyticsCron == "" {
		c.Worker.AnalyticsCron = "0 8 * * *"
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
	if c.Database.LockTimeoutMS < 0 {
		return fmt.Errorf("database.lock_timeout_ms must not be negative")
	}
	if c.Scheduling.MaxSlotsPerForm < 1 {
		return fmt.Errorf("scheduling.max_slots_per_form must be positive")
	}
	if c.Scheduling.MaxHorizonWeeks < 1 {
		return fmt.Errorf("scheduling.max_horizon_weeks must be positive")
	}
	for _, m := range c.Scheduling.AllowedSlotMinutes {
		if m < 1 || m > 24*60 {
			return fmt.Errorf("scheduling.allowed_slot_minutes: %d is not a valid duration", m)
		}
	}
	if c.Scheduling.AvailabilityCacheTTLSeconds < 0 {
		return fmt.Errorf("scheduling.availability_cache_ttl_seconds must not be negative")
	}
	if c.Conversation.TTLMinutes < 1 || c.Conversation.MaxTurns < 1 {
		return fmt.Errorf("conversation.ttl_minutes and conversation.max_turns must be positive")
	}
	if c.Kafka.PublishRetries < 1 {
		return fmt.Errorf("kafka.publish_retries must be positive")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required (or set JWT_SECRET)")
	}
	return nil
}

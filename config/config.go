package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Events   EventsConfig   `yaml:"events"`
	Booking  BookingConfig  `yaml:"booking"`
	Worker   WorkerConfig   `yaml:"worker"`
	Payment  PaymentConfig  `yaml:"payment"`
	Log      LogConfig      `yaml:"log"`
}

type HTTPConfig struct {
	Address string `yaml:"address" envconfig:"HTTP_ADDRESS"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" envconfig:"DATABASE_HOST"`
	Port     int    `yaml:"port" envconfig:"DATABASE_PORT"`
	User     string `yaml:"user" envconfig:"DATABASE_USER"`
	Password string `yaml:"password" envconfig:"DATABASE_PASSWORD"`
	Name     string `yaml:"name" envconfig:"DATABASE_NAME"`
	SSLMode  string `yaml:"ssl_mode" envconfig:"DATABASE_SSL_MODE"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s", d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
}

type KafkaConfig struct {
	Brokers            []string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	BookingTopic       string   `yaml:"booking_topic"`
	NotificationsTopic string   `yaml:"notifications_topic"`
	GroupID            string   `yaml:"group_id"`
}

type RabbitMQConfig struct {
	URL      string `yaml:"url" envconfig:"RABBITMQ_URL"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// EventsConfig selects the broker behind booking events: "kafka" (default) or "rabbitmq".
type EventsConfig struct {
	Driver string `yaml:"driver" envconfig:"EVENTS_DRIVER"`
}

type BookingConfig struct {
	HoldTTLMinutes           int `yaml:"hold_ttl_minutes"`
	SlotsCacheTTLSeconds     int `yaml:"slots_cache_ttl_seconds"`
	CallbackMarkerTTLMinutes int `yaml:"callback_marker_ttl_minutes"`
}

type WorkerConfig struct {
	ReconcileSweepMinutes int `yaml:"reconcile_sweep_minutes"`
}

type PaymentConfig struct {
	FrontendURL           string       `yaml:"frontend_url" envconfig:"FRONTEND_URL"`
	CallbackURL           string       `yaml:"callback_url" envconfig:"CALLBACK_URL"`
	RequestTimeoutSeconds int          `yaml:"request_timeout_seconds"`
	Esewa                 EsewaConfig  `yaml:"esewa"`
	Khalti                KhaltiConfig `yaml:"khalti"`
}

type EsewaConfig struct {
	SecretKey   string `yaml:"secret_key" envconfig:"ESEWA_SECRET"`
	ProductCode string `yaml:"product_code" envconfig:"ESEWA_PRODUCT_CODE"`
	TestMode    bool   `yaml:"test_mode" envconfig:"ESEWA_TEST_MODE"`
	TaxAmount   string `yaml:"tax_amount"`
}

type KhaltiConfig struct {
	SecretKey  string `yaml:"secret_key" envconfig:"KHALTI_SECRET"`
	TestMode   bool   `yaml:"test_mode" envconfig:"KHALTI_TEST_MODE"`
	WebsiteURL string `yaml:"website_url"`
}

type LogConfig struct {
	Level       string `yaml:"level" envconfig:"LOG_LEVEL"`
	Development bool   `yaml:"development"`
}

// LoadConfig reads the YAML file at path, overlays values from the environment
// (and a .env file when present) and fills defaults for anything left empty.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Config{
		Payment: PaymentConfig{
			Esewa:  EsewaConfig{TestMode: true},
			Khalti: KhaltiConfig{TestMode: true},
		},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	_ = godotenv.Load()
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Events.Driver == "" {
		c.Events.Driver = "kafka"
	}
	if c.Booking.HoldTTLMinutes <= 0 {
		c.Booking.HoldTTLMinutes = 15
	}
	if c.Booking.SlotsCacheTTLSeconds <= 0 {
		c.Booking.SlotsCacheTTLSeconds = 30
	}
	if c.Booking.CallbackMarkerTTLMinutes <= 0 {
		c.Booking.CallbackMarkerTTLMinutes = 60
	}
	if c.Worker.ReconcileSweepMinutes <= 0 {
		c.Worker.ReconcileSweepMinutes = 1
	}
	if c.Payment.FrontendURL == "" {
		c.Payment.FrontendURL = "http://localhost:5173"
	}
	if c.Payment.CallbackURL == "" {
		c.Payment.CallbackURL = "http://localhost:8080/bookings/callback"
	}
	if c.Payment.RequestTimeoutSeconds <= 0 {
		c.Payment.RequestTimeoutSeconds = 30
	}
	if c.Payment.Esewa.ProductCode == "" {
		c.Payment.Esewa.ProductCode = "EPAYTEST"
	}
	if c.Payment.Esewa.TaxAmount == "" {
		c.Payment.Esewa.TaxAmount = "10.00"
	}
	if c.Kafka.BookingTopic == "" {
		c.Kafka.BookingTopic = "booking-events"
	}
	if c.Kafka.NotificationsTopic == "" {
		c.Kafka.NotificationsTopic = "booking-notifications"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "docbooking-worker"
	}
	if c.RabbitMQ.Exchange == "" {
		c.RabbitMQ.Exchange = "docbooking"
	}
	if c.RabbitMQ.Queue == "" {
		c.RabbitMQ.Queue = "booking-notifications"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

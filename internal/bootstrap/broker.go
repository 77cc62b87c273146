package bootstrap

import (
	"context"
	"fmt"

	"github.com/Domenick1991/docbooking/config"
	"github.com/Domenick1991/docbooking/internal/events"
	"github.com/Domenick1991/docbooking/internal/kafka"
	"github.com/Domenick1991/docbooking/internal/rabbitmq"
	"go.uber.org/zap"
)

const (
	DriverKafka    = "kafka"
	DriverRabbitMQ = "rabbitmq"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
	Close() error
}

type Subscriber interface {
	Consume(ctx context.Context, handler events.Handler) error
	Close() error
}

// NewPublisher returns the booking event publisher selected by events.driver.
func NewPublisher(cfg *config.Config, log *zap.Logger) (Publisher, error) {
	switch cfg.Events.Driver {
	case DriverKafka:
		return kafka.NewProducer(cfg.Kafka.Brokers, log), nil
	case DriverRabbitMQ:
		return rabbitmq.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
}

// NewNotificationSubscriber consumes the notifications topic (Kafka) or
// routing key (RabbitMQ).
func NewNotificationSubscriber(cfg *config.Config) (Subscriber, error) {
	switch cfg.Events.Driver {
	case DriverKafka:
		return kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic), nil
	case DriverRabbitMQ:
		return rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.Queue, []string{cfg.Kafka.NotificationsTopic})
	}
	return nil, fmt.Errorf("unknown events driver %q", cfg.Events.Driver)
}

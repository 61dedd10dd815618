package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/franzego/coachengine/internal/config"
	"github.com/franzego/coachengine/internal/models"
	"github.com/franzego/coachengine/pkg/circuitbreaker"
)

// RabbitMqClient is the push sink: accepted push decisions are published
// to the push queue for the OS-level delivery workers.
type RabbitMqClient struct {
	Conn    *amqp.Connection
	Channel *amqp.Channel
	Config  config.RabbitMQConfig
	log     *zap.SugaredLogger
	cb      *gobreaker.CircuitBreaker
}

func NewRabbitMqService(cfg config.RabbitMQConfig, logger *zap.SugaredLogger) (*RabbitMqClient, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}
	return &RabbitMqClient{
		Conn:    conn,
		Channel: channel,
		Config:  cfg,
		log:     logger,
		cb:      circuitbreaker.NewCircuitBreaker("push-sink"),
	}, nil
}

func (r *RabbitMqClient) CloseConnection() {
	r.Channel.Close()
	r.Conn.Close()
}

func (r *RabbitMqClient) IsConnected() bool {
	return r.Conn != nil && !r.Conn.IsClosed()
}

// SetUpExchangeAndQueue declares the direct exchange and the durable push
// queue, binding it by its own name.
func (r *RabbitMqClient) SetUpExchangeAndQueue() error {
	if err := r.Channel.ExchangeDeclare(
		r.Config.Exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if _, err := r.Channel.QueueDeclare(
		r.Config.PushQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("declare queue %s: %w", r.Config.PushQueue, err)
	}
	if err := r.Channel.QueueBind(
		r.Config.PushQueue,
		r.Config.PushQueue,
		r.Config.Exchange,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("bind queue %s: %w", r.Config.PushQueue, err)
	}
	return nil
}

func (r *RabbitMqClient) publish(ctx context.Context, routingKey string, message interface{}) error {
	by, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = r.cb.Execute(func() (interface{}, error) {
		return nil, r.Channel.PublishWithContext(
			ctx,
			r.Config.Exchange,
			routingKey,
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         by,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
			},
		)
	})
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Publish implements the router's PushSink: it translates the routed
// message into the transport vocabulary and enqueues it.
func (r *RabbitMqClient) Publish(ctx context.Context, userID string, msg models.RoutedMessage) error {
	payload := Translate(userID, msg)
	if err := r.publish(ctx, r.Config.PushQueue, payload); err != nil {
		return err
	}
	r.log.Debugw("push payload queued", "user", userID, "id", msg.ID, "severity", payload.Severity)
	return nil
}

package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const alertExchange = "pos.alerts"

// RabbitMQNotifier publishes alert events to a topic exchange so head-office
// tooling can subscribe per kind (routing key "alert.<kind>"). On broker
// trouble it degrades to the structured log instead of failing the caller.
type RabbitMQNotifier struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *slog.Logger
	closed    chan *amqp.Error
	closeOnce sync.Once
	healthy   atomic.Bool
}

func NewRabbitMQNotifier(url string, logger *slog.Logger) (*RabbitMQNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open rabbitmq channel: %w", err)
	}

	if err := ch.ExchangeDeclare(alertExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare alert exchange: %w", err)
	}

	n := &RabbitMQNotifier{
		conn:    conn,
		channel: ch,
		logger:  logger,
		closed:  make(chan *amqp.Error, 1),
	}
	n.healthy.Store(true)
	conn.NotifyClose(n.closed)

	go func() {
		if err, ok := <-n.closed; ok {
			n.healthy.Store(false)
			logger.Warn("rabbitmq connection closed", "error", err)
		}
	}()

	logger.Info("alert notifier connected to rabbitmq")
	return n, nil
}

func (n *RabbitMQNotifier) Notify(ctx context.Context, event Event) {
	if !n.healthy.Load() {
		n.logFallback(event, fmt.Errorf("broker connection closed"))
		return
	}

	body, err := json.Marshal(event)
	if err != nil {
		n.logFallback(event, err)
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = n.channel.PublishWithContext(pubCtx,
		alertExchange,
		"alert."+string(event.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		n.logFallback(event, err)
	}
}

func (n *RabbitMQNotifier) logFallback(event Event, cause error) {
	n.logger.Warn("alert publish failed, logging instead",
		"kind", string(event.Kind),
		"entity_id", event.EntityID,
		"detail", event.Detail,
		"error", cause,
	)
}

func (n *RabbitMQNotifier) Close() error {
	n.closeOnce.Do(func() {
		if n.channel != nil {
			n.channel.Close()
		}
		if n.conn != nil {
			n.conn.Close()
		}
	})
	return nil
}

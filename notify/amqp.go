package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the subset of *amqp.Channel used by AMQPSender.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPConfig names where mail jobs are published.
type AMQPConfig struct {
	Exchange   string
	RoutingKey string
	AppID      string
}

// AMQPSender publishes each message as a persistent JSON job.
type AMQPSender struct {
	pub Publisher
	cfg AMQPConfig
	now func() time.Time
}

func NewAMQPSender(pub Publisher, cfg AMQPConfig) *AMQPSender {
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = "auth.email"
	}
	if cfg.AppID == "" {
		cfg.AppID = "azauth"
	}
	return &AMQPSender{pub: pub, cfg: cfg, now: time.Now}
}

func (s *AMQPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return ErrInvalidMessage
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: encode message: %w", err)
	}
	err = s.pub.PublishWithContext(ctx, s.cfg.Exchange, s.cfg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    s.now().UTC(),
		AppId:        s.cfg.AppID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

// DialAMQP connects, opens a channel and declares a durable queue bound to
// the default exchange under routingKey. The caller closes both handles.
func DialAMQP(url, routingKey string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("notify: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(routingKey, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("notify: declare queue: %w", err)
	}
	return conn, ch, nil
}

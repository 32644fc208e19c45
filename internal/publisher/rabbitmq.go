package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ad_publisher/internal/domain"
)

// RabbitMQ fans stored audit records out to a topic exchange. Every record is
// routed as "<routing_key>.<action>" so consumers can bind to single actions
// ("audit.published") or to the whole history ("audit.#").
type RabbitMQ struct {
	conn   *amqp.Connection
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	channel *amqp.Channel
}

type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
	QueueName  string
}

// routingKeyFor returns the routing key an audit action is published under.
func (c Config) routingKeyFor(action domain.AuditAction) string {
	return c.RoutingKey + "." + string(action)
}

func NewRabbitMQ(cfg Config, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	r := &RabbitMQ{
		conn:   conn,
		cfg:    cfg,
		logger: logger.With("component", "publisher"),
	}

	ch, err := r.openChannel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	r.channel = ch

	r.logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"queue", cfg.QueueName,
		"binding", cfg.RoutingKey+".#",
	)
	return r, nil
}

// openChannel opens a channel in confirm mode and declares the topology.
func (r *RabbitMQ) openChannel() (*amqp.Channel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	if err := declare(ch, r.cfg); err != nil {
		ch.Close()
		return nil, err
	}
	return ch, nil
}

func declare(ch *amqp.Channel, cfg Config) error {
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	q, err := ch.QueueDeclare(cfg.QueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", cfg.QueueName, err)
	}

	if err := ch.QueueBind(q.Name, cfg.RoutingKey+".#", cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	return nil
}

// AuditMessage is the body of every published message.
type AuditMessage struct {
	Record    domain.AuditRecord `json:"record"`
	Timestamp time.Time          `json:"timestamp"`
}

// Publish sends rec and waits for the broker to confirm it. A channel closed
// by the broker is reopened once before giving up.
func (r *RabbitMQ) Publish(ctx context.Context, rec *domain.AuditRecord) error {
	now := time.Now().UTC()
	body, err := json.Marshal(AuditMessage{Record: *rec, Timestamp: now})
	if err != nil {
		return fmt.Errorf("marshal audit record %s: %w", rec.ID, err)
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         string(rec.Action),
		MessageId:    rec.ID,
		Timestamp:    now,
		Headers: amqp.Table{
			"campaign_id": rec.CampaignID,
			"actor":       rec.Actor,
		},
		Body: body,
	}
	key := r.cfg.routingKeyFor(rec.Action)

	r.mu.Lock()
	defer r.mu.Unlock()

	err = r.publish(ctx, key, msg)
	if errors.Is(err, amqp.ErrClosed) && !r.conn.IsClosed() {
		r.logger.Warn("rabbitmq channel closed, reopening", "error", err)
		ch, openErr := r.openChannel()
		if openErr != nil {
			return fmt.Errorf("reopen channel: %w", openErr)
		}
		r.channel = ch
		err = r.publish(ctx, key, msg)
	}
	if err != nil {
		return fmt.Errorf("publish audit record %s: %w", rec.ID, err)
	}

	r.logger.Debug("published audit record",
		"campaign_id", rec.CampaignID,
		"action", rec.Action,
		"routing_key", key,
	)
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, key string, msg amqp.Publishing) error {
	confirm, err := r.channel.PublishWithDeferredConfirmWithContext(ctx, r.cfg.Exchange, key, false, false, msg)
	if err != nil {
		return err
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("broker rejected message")
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

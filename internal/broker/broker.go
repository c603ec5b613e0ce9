// Package broker wraps the AMQP client behind small interfaces so gateway
// handlers stay testable without a live broker.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/edvin/messaging/internal/config"
	"github.com/edvin/messaging/internal/model"
)

// Dialer opens broker sessions with per-request credentials.
type Dialer interface {
	Dial(ctx context.Context, username, password string) (Session, error)
}

// Session is one broker connection plus one channel. Sessions are owned by a
// single request or websocket connection and must be closed on every exit
// path.
type Session interface {
	// DeclareQueue idempotently declares a non-durable, auto-delete queue.
	DeclareQueue(name string) error

	// Get performs one non-blocking fetch with immediate acknowledgement.
	// ok is false when the queue reports empty.
	Get(queue string) (msg *model.Message, ok bool, err error)

	// Publish sends one message to the exchange, fire-and-forget.
	Publish(ctx context.Context, exchange, routingKey string, pub Publishing) error

	// Consume starts a consumer on the queue under the given tag. The
	// returned channel closes when the consumer is cancelled or the channel
	// breaks.
	Consume(queue, tag string) (<-chan model.Message, error)

	// Cancel stops the consumer registered under tag.
	Cancel(tag string) error

	Close() error
}

// Publishing is an outbound message payload.
type Publishing struct {
	ContentType string
	Headers     map[string]any
	Body        []byte
}

const dialTimeout = 10 * time.Second

// AMQPDialer dials the configured broker with amqp091-go.
type AMQPDialer struct {
	cfg *config.Config
}

func NewAMQPDialer(cfg *config.Config) *AMQPDialer {
	return &AMQPDialer{cfg: cfg}
}

func (d *AMQPDialer) Dial(ctx context.Context, username, password string) (Session, error) {
	conn, err := amqp.DialConfig(d.cfg.AMQPURL(username, password), amqp.Config{
		Dial:  amqp.DefaultDial(dialTimeout),
		Vhost: d.cfg.AMQPVhost,
	})
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &amqpSession{conn: conn, ch: ch, done: make(chan struct{})}, nil
}

type amqpSession struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	closeOnce sync.Once
	done      chan struct{}
}

func (s *amqpSession) DeclareQueue(name string) error {
	_, err := s.ch.QueueDeclare(name, false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func (s *amqpSession) Get(queue string) (*model.Message, bool, error) {
	delivery, ok, err := s.ch.Get(queue, true)
	if err != nil {
		return nil, false, fmt.Errorf("get from queue %s: %w", queue, err)
	}
	if !ok {
		return nil, false, nil
	}
	msg := fromDelivery(delivery)
	return &msg, true, nil
}

func (s *amqpSession) Publish(ctx context.Context, exchange, routingKey string, pub Publishing) error {
	err := s.ch.PublishWithContext(ctx, exchange, routingKey, false, false, amqp.Publishing{
		ContentType: pub.ContentType,
		Headers:     amqp.Table(pub.Headers),
		Timestamp:   time.Now(),
		Body:        pub.Body,
	})
	if err != nil {
		return fmt.Errorf("publish to exchange %s: %w", exchange, err)
	}
	return nil
}

func (s *amqpSession) Consume(queue, tag string) (<-chan model.Message, error) {
	deliveries, err := s.ch.Consume(queue, tag, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume queue %s: %w", queue, err)
	}

	out := make(chan model.Message, 16)
	go forward(deliveries, out, s.done)
	return out, nil
}

// forward copies deliveries into out until the source closes or the session
// does. The receiver can vanish mid-stream, so every send also watches done;
// otherwise a busy consumer would park here forever once its reader is gone.
func forward(deliveries <-chan amqp.Delivery, out chan<- model.Message, done <-chan struct{}) {
	defer close(out)
	for d := range deliveries {
		select {
		case out <- fromDelivery(d):
		case <-done:
			return
		}
	}
}

func (s *amqpSession) Cancel(tag string) error {
	if err := s.ch.Cancel(tag, false); err != nil {
		return fmt.Errorf("cancel consumer %s: %w", tag, err)
	}
	return nil
}

func (s *amqpSession) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.ch.Close()
	return s.conn.Close()
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"lobbydocs/internal/config"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// session is one connection and channel pair. closed fires when the broker or the
// network ends the channel.
type session struct {
	conn   io.Closer
	ch     publishChannel
	closed <-chan *amqp.Error
}

func (s *session) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *session) close() error {
	chErr := s.ch.Close()
	if s.conn == nil {
		return chErr
	}
	if err := s.conn.Close(); err != nil {
		return err
	}
	return chErr
}

// AMQPPublisher publishes events as JSON to a durable topic exchange.
// The routing key is the event type. A channel closed by the broker is redialed
// on the next Publish.
type AMQPPublisher struct {
	mu       sync.Mutex
	dial     func() (*session, error)
	sess     *session
	exchange string
}

// NewAMQP dials the broker and declares the exchange.
func NewAMQP(cfg config.AMQPConfig) (*AMQPPublisher, error) {
	p := &AMQPPublisher{dial: dialer(cfg), exchange: cfg.Exchange}
	sess, err := p.dial()
	if err != nil {
		return nil, err
	}
	p.sess = sess
	return p, nil
}

func dialer(cfg config.AMQPConfig) func() (*session, error) {
	return func() (*session, error) {
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("dial amqp: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("open amqp channel: %w", err)
		}
		if err := ch.ExchangeDeclare(
			cfg.Exchange, // name
			"topic",      // kind
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,
		); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("declare exchange %q: %w", cfg.Exchange, err)
		}
		closed := ch.NotifyClose(make(chan *amqp.Error, 1))
		return &session{conn: conn, ch: ch, closed: closed}, nil
	}
}

// current returns a live session, redialing when the previous one was closed.
// Callers hold p.mu.
func (p *AMQPPublisher) current() (*session, error) {
	if p.sess != nil && !p.sess.isClosed() {
		return p.sess, nil
	}
	if p.sess != nil {
		_ = p.sess.close()
		p.sess = nil
	}
	if p.dial == nil {
		return nil, amqp.ErrClosed
	}
	sess, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("reconnect amqp: %w", err)
	}
	p.sess = sess
	return sess, nil
}

// Publish sends e with persistent delivery.
func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", e.Type, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    e.OccurredAt,
		MessageId:    string(e.Type) + ":" + strconv.FormatInt(e.Document.ID, 10),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// One retry covers a channel that died since the last publish but whose close
	// notification has not been observed yet.
	for attempt := 0; ; attempt++ {
		sess, err := p.current()
		if err != nil {
			return fmt.Errorf("publish %s event: %w", e.Type, err)
		}
		err = sess.ch.PublishWithContext(ctx, p.exchange, string(e.Type), false, false, msg)
		if err == nil {
			return nil
		}
		if !errors.Is(err, amqp.ErrClosed) || attempt > 0 {
			return fmt.Errorf("publish %s event: %w", e.Type, err)
		}
		_ = sess.close()
		p.sess = nil
	}
}

// Close releases the channel and the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.dial = nil
	if p.sess == nil {
		return nil
	}
	err := p.sess.close()
	p.sess = nil
	return err
}

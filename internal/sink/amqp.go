package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"dtl-ledger-indexer/internal/domain"
	"dtl-ledger-indexer/internal/storage"
)

// DefaultExchange is the topic exchange projections are published to.
const DefaultExchange = "ledger.events"

// publisher is the subset of *amqp.Channel used by AMQPPublisher.
type publisher interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher publishes projections as JSON to a topic exchange with
// routing key utxo.<kind>.
type AMQPPublisher struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
	clock    func() time.Time
}

// Compile-time interface check.
var _ storage.ProjectionSink = (*AMQPPublisher)(nil)

// DialAMQP connects to the broker at uri and declares the exchange.
func DialAMQP(uri, exchange string) (*AMQPPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	log.Printf("amqp: publishing projections to exchange %q", exchange)

	p := newAMQPPublisher(ch, exchange, nil)
	p.conn = conn
	return p, nil
}

func newAMQPPublisher(ch publisher, exchange string, clock func() time.Time) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, clock: defaultClock(clock)}
}

// RoutingKey returns the routing key for a projection.
func RoutingKey(p *domain.Projection) string {
	return "utxo." + string(p.Kind)
}

// Append publishes each projection. It stops at the first failure so the
// batch is retried by the caller.
func (p *AMQPPublisher) Append(_ context.Context, projections []*domain.Projection) error {
	for _, proj := range projections {
		body, err := json.Marshal(proj)
		if err != nil {
			return fmt.Errorf("encode projection %s: %w", proj.UTXOID, err)
		}
		msg := amqp.Publishing{
			Headers:      amqp.Table{"x-utxo-id": proj.UTXOID},
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    p.clock(),
			Body:         body,
		}
		if err := p.ch.Publish(p.exchange, RoutingKey(proj), false, false, msg); err != nil {
			return fmt.Errorf("publish %s: %w", proj.UTXOID, err)
		}
	}
	return nil
}

// Close closes the channel and connection.
func (p *AMQPPublisher) Close() error {
	if p.ch != nil {
		if err := p.ch.Close(); err != nil {
			log.Printf("amqp: error closing channel: %v", err)
		}
		p.ch = nil
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

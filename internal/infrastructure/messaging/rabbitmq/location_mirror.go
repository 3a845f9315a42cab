// Package rabbitmq mirrors accepted driver locations to a fanout exchange so
// downstream consumers (analytics, dispatch) can follow drivers without
// connecting to the relay.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/99minutos/tracking-relay/internal/core/domain"
)

// Channel is the subset of *amqp.Channel the mirror uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// LocationMirror implements ports.LocationMirror.
type LocationMirror struct {
	conn     *amqp.Connection
	ch       Channel
	exchange string
}

// Dial opens a connection and channel and declares the fanout exchange.
func Dial(url, exchange string) (*LocationMirror, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	m, err := NewLocationMirror(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	m.conn = conn
	return m, nil
}

// NewLocationMirror declares the exchange on an existing channel.
func NewLocationMirror(ch Channel, exchange string) (*LocationMirror, error) {
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &LocationMirror{ch: ch, exchange: exchange}, nil
}

// MirrorLocation publishes the sample as JSON. Fanout ignores the routing key;
// the driver id is set anyway for consumers that rebind to a topic exchange.
func (m *LocationMirror) MirrorLocation(ctx context.Context, sample domain.DriverLocation) error {
	body, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal location: %w", err)
	}
	return m.ch.PublishWithContext(
		ctx,
		m.exchange,
		"driver."+sample.DriverID,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   sample.Timestamp,
			Body:        body,
		},
	)
}

// Close cleans up the channel and, when owned, the connection.
func (m *LocationMirror) Close() error {
	if err := m.ch.Close(); err != nil {
		return err
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}

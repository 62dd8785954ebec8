package mq

import (
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const (
	// ExchangeName is the topic exchange notification status events go to.
	ExchangeName = "events"

	connectionName = "signalpush"
	heartbeat      = 10 * time.Second
)

// NewConnection dials RabbitMQ with a named connection so the broker UI
// shows which service holds it.
func NewConnection(url string) (*amqp091.Connection, error) {
	conn, err := amqp091.DialConfig(url, amqp091.Config{
		Heartbeat:  heartbeat,
		Properties: amqp091.Table{"connection_name": connectionName},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	return conn, nil
}

// DeclareExchange declares the durable topic exchange and puts the channel
// into confirm mode.
func DeclareExchange(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return err
	}
	return ch.Confirm(false)
}

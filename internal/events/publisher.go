package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/retail-banking-sim/ledger-core/internal/domain"
)

// Routing keys for ledger events on the topic exchange.
const (
	RoutingKeyTransactionCompleted = "bank.ledger.transaction.completed"
	RoutingKeyRiskFinding          = "bank.ledger.risk.finding"
)

// RabbitMQPublisher implements domain.EventPublisher on top of a durable
// topic exchange.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewRabbitMQPublisher connects to RabbitMQ and declares the exchange.
func NewRabbitMQPublisher(url, exchange string) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	// Declare exchange (topic exchange for routing)
	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
	}, nil
}

// PublishTransactionCompleted publishes a transaction completed event.
func (p *RabbitMQPublisher) PublishTransactionCompleted(ctx context.Context, txn *domain.Transaction) error {
	return p.publish(ctx, RoutingKeyTransactionCompleted, NewTransactionCompletedEvent(txn))
}

// PublishRiskFinding publishes a risk finding event.
func (p *RabbitMQPublisher) PublishRiskFinding(ctx context.Context, finding *domain.RiskFinding) error {
	return p.publish(ctx, RoutingKeyRiskFinding, NewRiskFindingEvent(finding))
}

func (p *RabbitMQPublisher) publish(ctx context.Context, routingKey string, event any) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (p *RabbitMQPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

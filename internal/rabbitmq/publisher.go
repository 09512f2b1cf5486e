package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/escrow-billing/internal/models"
)

// Channel часть amqp.Channel, через которую идёт публикация.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch Channel, exchange string, routingkey string, message any) error {
	return publish(ch, exchange, routingkey, message, amqp.Publishing{})
}

func publish(ch Channel, exchange, routingkey string, message any, msg amqp.Publishing) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg.ContentType = "application/json"
	msg.Body = body
	msg.DeliveryMode = amqp.Persistent
	if err := ch.Publish(exchange, routingkey, false, false, msg); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Publisher публикует события биллинга в exchange.
type Publisher struct {
	ch       Channel
	exchange string
}

// NewPublisher создаёт публикатор событий.
func NewPublisher(ch Channel, exchange string) *Publisher {
	return &Publisher{ch: ch, exchange: exchange}
}

// Publish отправляет событие с ключом маршрутизации, равным его типу.
func (p *Publisher) Publish(ctx context.Context, event models.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return publish(p.ch, p.exchange, string(event.Kind), event, amqp.Publishing{
		MessageId: event.ID,
		Type:      string(event.Kind),
		Timestamp: event.OccurredAt.UTC().Truncate(time.Second),
	})
}

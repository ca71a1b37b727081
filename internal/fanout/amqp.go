package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"
)

// AMQPTransport publishes messages to a durable RabbitMQ queue consumed by
// the carrier gateway.
type AMQPTransport struct {
	mu    sync.Mutex
	ch    *amqp.Channel
	queue string
}

// NewAMQPTransport opens a channel on conn and declares queue.
func NewAMQPTransport(conn *amqp.Connection, queue string) (*AMQPTransport, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}

	q, err := ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("declaring queue %s: %w", queue, err)
	}

	return &AMQPTransport{ch: ch, queue: q.Name}, nil
}

// Send implements Transport. Any publish failure is transient.
func (t *AMQPTransport) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return Transient(err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return Terminal(fmt.Errorf("encoding message: %w", err))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	err = t.ch.Publish(
		"",      // default exchange
		t.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.JobID,
			Body:         body,
		},
	)
	if err != nil {
		return Transient(fmt.Errorf("publishing to %s: %w", t.queue, err))
	}
	return nil
}

// Close closes the channel.
func (t *AMQPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ch.Close()
}

package queue

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/streadway/amqp"
)

// AMQPQueue publishes and consumes dispatch activations over a durable
// RabbitMQ queue.
type AMQPQueue struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	name string
	log  *slog.Logger
}

func NewAMQPQueue(url, name string, log *slog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := ch.QueueDeclare(
		name,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &AMQPQueue{conn: conn, ch: ch, name: name, log: log}, nil
}

func (q *AMQPQueue) Publish(ctx context.Context, act Activation) error {
	body, err := json.Marshal(act)
	if err != nil {
		return err
	}
	return q.ch.Publish(
		"",
		q.name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

// Consume runs handler for each activation until ctx is cancelled. A failed
// activation is requeued once; after that it is dropped, since the ledger
// still holds the pending rows and the next trigger or resume re-activates
// the campaign.
func (q *AMQPQueue) Consume(ctx context.Context, handler Handler) error {
	msgs, err := q.ch.Consume(
		q.name,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			var act Activation
			if err := json.Unmarshal(d.Body, &act); err != nil {
				q.log.Warn("dropping malformed activation", "error", err)
				_ = d.Ack(false)
				continue
			}
			if err := handler(ctx, act); err != nil {
				q.log.Error("activation failed",
					"campaign_id", act.CampaignID, "error", err)
				if !d.Redelivered {
					_ = d.Nack(false, true)
				} else {
					_ = d.Ack(false)
				}
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (q *AMQPQueue) Close() {
	q.ch.Close()
	q.conn.Close()
}

var _ Queue = (*AMQPQueue)(nil)

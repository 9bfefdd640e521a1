package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"job-coordinator/pkg/job"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	JobsExchange    = "jobs.exchange"
	DLXExchange     = "jobs.dlx"
	DeadLetterQueue = "jobs.dead_letter.queue"
)

// QueueName is the durable queue holding tasks of one kind.
func QueueName(kind job.Kind) string {
	return fmt.Sprintf("jobs.queue.%s", kind)
}

type RabbitMQ struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &RabbitMQ{conn: conn, ch: ch}, nil
}

// SetupTopology declares the exchanges and one queue per kind. Idempotent.
func (c *RabbitMQ) SetupTopology(kinds []job.Kind) error {
	if err := c.ch.ExchangeDeclare(JobsExchange, "direct", true, false, false, false, nil); err != nil {
		return err
	}
	// Rejected deliveries land here for inspection.
	if err := c.ch.ExchangeDeclare(DLXExchange, "fanout", true, false, false, false, nil); err != nil {
		return err
	}

	if _, err := c.ch.QueueDeclare(DeadLetterQueue, true, false, false, false, nil); err != nil {
		return err
	}
	if err := c.ch.QueueBind(DeadLetterQueue, "", DLXExchange, false, nil); err != nil {
		return err
	}

	for _, k := range kinds {
		name := QueueName(k)
		_, err := c.ch.QueueDeclare(name, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange": DLXExchange,
		})
		if err != nil {
			return err
		}
		if err := c.ch.QueueBind(name, string(k), JobsExchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

// Submit publishes t as a persistent message routed by its kind.
func (c *RabbitMQ) Submit(ctx context.Context, t Task) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch.PublishWithContext(ctx,
		JobsExchange,
		string(t.Kind),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    t.JobID,
			Body:         body,
		})
}

// Consume starts delivering tasks of kind with manual acknowledgement. prefetch bounds
// the number of unacknowledged deliveries held by this consumer.
func (c *RabbitMQ) Consume(kind job.Kind, prefetch int) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prefetch > 0 {
		if err := c.ch.Qos(prefetch, 0, false); err != nil {
			return nil, err
		}
	}
	return c.ch.Consume(
		QueueName(kind),
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
}

// DecodeTask reads a delivery body.
func DecodeTask(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("failed to decode task: %w", err)
	}
	if t.JobID == "" || t.Kind == "" {
		return Task{}, fmt.Errorf("task is missing job_id or kind")
	}
	return t, nil
}

func (c *RabbitMQ) Close() {
	c.ch.Close()
	c.conn.Close()
}

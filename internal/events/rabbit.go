package events

import (
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher fans delivery results and autopilot decisions out to RabbitMQ
// for downstream consumers. It is disabled silently when no URL is
// configured; Publish becomes a no-op.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	enabled bool
}

// NewPublisher connects to RabbitMQ. An empty URL disables publishing; a
// failed connection logs and disables rather than failing startup.
func NewPublisher(url, queue string) *Publisher {
	p := &Publisher{queue: queue}
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. Event publishing disabled.")
		return p
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, event publishing disabled")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, event publishing disabled")
		_ = conn.Close()
		return p
	}

	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return p
}

// Publish marshals the payload and publishes it to the configured queue.
// The queue declaration is idempotent.
func (p *Publisher) Publish(eventType string, payload interface{}) {
	if p == nil || !p.enabled {
		return
	}

	body, err := json.Marshal(map[string]interface{}{
		"type":       eventType,
		"occurredAt": time.Now().UTC(),
		"payload":    payload,
	})
	if err != nil {
		log.Error().Err(err).Str("eventType", eventType).Msg("Failed to marshal event payload")
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.channel.QueueDeclare(
		p.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	); err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = p.channel.Publish(
		"",      // exchange (default)
		p.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Str("eventType", eventType).Msg("Could not publish event")
		return
	}
	log.Debug().Str("queue", p.queue).Str("eventType", eventType).Msg("Published event")
}

// Close tears down the connection.
func (p *Publisher) Close() {
	if p == nil || !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.channel.Close()
	_ = p.conn.Close()
	p.enabled = false
}

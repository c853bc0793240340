package queue

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"ai-things/audio-go/internal/utils"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Client shares one channel between HTTP handlers and workers; mu serializes channel use.
type Client struct {
	conn *amqp.Connection
	ch   *amqp.Channel

	mu       sync.Mutex
	declared map[string]bool
}

type Message struct {
	Body []byte
	ack  func(bool) error
	nack func(bool, bool) error
}

// NewMessage builds a message around ack/nack callbacks. Used by consumers' tests.
func NewMessage(body []byte, ack func(multiple bool) error, nack func(multiple, requeue bool) error) *Message {
	return &Message{Body: body, ack: ack, nack: nack}
}

func New(url string) (*Client, error) {
	utils.Info("queue connect", "url", redactURL(url))
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{conn: conn, ch: ch, declared: map[string]bool{}}, nil
}

func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	if parsed.User == nil {
		return parsed.String()
	}
	username := parsed.User.Username()
	if _, hasPassword := parsed.User.Password(); hasPassword {
		parsed.User = url.UserPassword(username, "REDACTED")
	} else {
		parsed.User = url.User(username)
	}
	return parsed.String()
}

func (c *Client) Close() {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

// ensureQueue declares a durable queue once per client. Caller holds mu.
func (c *Client) ensureQueue(name string) error {
	if c.declared[name] {
		return nil
	}
	utils.Debug("queue ensure", "queue", name)
	_, err := c.ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	c.declared[name] = true
	return nil
}

// Publish sends a persistent JSON message.
func (c *Client) Publish(queueName string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	utils.Info("queue publish", "queue", queueName, "bytes", len(payload))
	if err := c.ensureQueue(queueName); err != nil {
		return err
	}
	return c.ch.Publish(
		"",
		queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Body:         payload,
		},
	)
}

func (c *Client) PublishJSON(queueName string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", queueName, err)
	}
	return c.Publish(queueName, payload)
}

// Pop fetches one message without auto-ack. A nil message means the queue is empty.
func (c *Client) Pop(queueName string) (*Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	utils.Debug("queue pop", "queue", queueName)
	if err := c.ensureQueue(queueName); err != nil {
		return nil, err
	}
	msg, ok, err := c.ch.Get(queueName, false)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	utils.Info("queue received", "queue", queueName, "bytes", len(msg.Body), "message_id", msg.MessageId)
	return &Message{
		Body: msg.Body,
		ack:  msg.Ack,
		nack: msg.Nack,
	}, nil
}

func (m *Message) Ack() error {
	if m == nil || m.ack == nil {
		return nil
	}
	utils.Debug("queue ack")
	return m.ack(false)
}

func (m *Message) Nack(requeue bool) error {
	if m == nil || m.nack == nil {
		return nil
	}
	utils.Debug("queue nack", "requeue", requeue)
	return m.nack(false, requeue)
}

// Package broker wraps the durable log that holds accepted-but-unpersisted
// messages. Producers key records by chatId so one conversation stays on
// one partition.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ammar1510/chatline/internal/logger"
	"github.com/ammar1510/chatline/internal/models"
)

const (
	// DefaultTopic is the single topic the pipeline writes to.
	DefaultTopic = "chat-messages-persist"

	// PublishTimeout tolerates a leader election on the broker side.
	PublishTimeout = 30 * time.Second

	HeartbeatInterval = 3 * time.Second
	SessionTimeout    = 30 * time.Second
)

var log = logger.New("broker")

// MessageWriter is the subset of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes messages to the persistence topic.
type Producer struct {
	writer MessageWriter
	topic  string
}

// NewProducer creates a producer over a real kafka writer.
func NewProducer(brokers []string, topic string) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           PublishTimeout,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: false,
	}
	return NewProducerWithWriter(w, topic)
}

// NewProducerWithWriter wraps an existing writer.
func NewProducerWithWriter(w MessageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

// Publish writes one message and waits for the broker to acknowledge it.
func (p *Producer) Publish(ctx context.Context, msg *models.Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %s: %w", msg.MessageID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, PublishTimeout)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.ChatID),
		Value: value,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "messageId", Value: []byte(msg.MessageID)},
		},
	})
	if err != nil {
		return fmt.Errorf("publish message %s to %s: %w", msg.MessageID, p.topic, err)
	}
	log.Debug("Published message %s for chat %s", msg.MessageID, msg.ChatID)
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NewReader creates a consumer-group reader with manual commits.
func NewReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		Topic:             topic,
		MinBytes:          1,
		MaxBytes:          10e6,
		MaxWait:           time.Second,
		CommitInterval:    0, // commit synchronously, only after a flush
		HeartbeatInterval: HeartbeatInterval,
		SessionTimeout:    SessionTimeout,
		StartOffset:       kafka.FirstOffset,
	})
}

// Decode parses a log record into a Message and checks it can be
// deduplicated downstream.
func Decode(m kafka.Message) (*models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return nil, fmt.Errorf("decode record at %d/%d: %w", m.Partition, m.Offset, err)
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("record at %d/%d: %w", m.Partition, m.Offset, err)
	}
	return &msg, nil
}

// EnsureTopic creates the topic with a single partition if it is missing.
func EnsureTopic(ctx context.Context, brokers []string, topic string) error {
	if len(brokers) == 0 {
		return errors.New("no brokers configured")
	}
	dialer := &kafka.Dialer{Timeout: 10 * time.Second}

	conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("dial %s: %w", brokers[0], err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions(topic)
	if err == nil && len(partitions) > 0 {
		log.Info("Topic %s already exists", topic)
		return nil
	}

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("find controller: %w", err)
	}
	ctrl, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return fmt.Errorf("dial controller: %w", err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	})
	if err != nil && !errors.Is(err, kafka.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	log.Info("Topic %s created", topic)
	return nil
}

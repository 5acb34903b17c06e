package kafka_storage

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/lidofinance/tssd/storage"
)

const (
	kafkaMinBytes    = 10
	kafkaMaxBytes    = 10e6
	kafkaMaxAttempts = 16
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var _ storage.Queue = (*KafkaQueue)(nil)

// KafkaQueue consumes a topic as a member of a consumer group. Offsets are
// committed only up to the last contiguously acked message.
type KafkaQueue struct {
	reader  messageReader
	writer  messageWriter
	tracker *storage.AckTracker
}

func NewKafkaQueue(
	brokers []string,
	topic,
	consumerGroup string,
	tlsConfig *tls.Config,
	producerCreds,
	consumerCreds *plain.Mechanism,
	timeout time.Duration,
) (*KafkaQueue, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if topic == "" || consumerGroup == "" {
		return nil, errors.New("kafka topic and consumer group are required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     consumerGroup,
		Topic:       topic,
		MinBytes:    kafkaMinBytes,
		MaxBytes:    kafkaMaxBytes,
		MaxAttempts: kafkaMaxAttempts,
		// commits are explicit
		CommitInterval: 0,
		Dialer: &kafka.Dialer{
			Timeout:       timeout,
			DualStack:     true,
			TLS:           tlsConfig,
			SASLMechanism: mechanism(consumerCreds),
		},
	})

	return newKafkaQueue(reader, NewWriter(brokers, topic, tlsConfig, producerCreds, timeout)), nil
}

func newKafkaQueue(reader messageReader, writer messageWriter) *KafkaQueue {
	return &KafkaQueue{
		reader:  reader,
		writer:  writer,
		tracker: storage.NewAckTracker(),
	}
}

// NewWriter returns a producer for topic.
func NewWriter(brokers []string, topic string, tlsConfig *tls.Config, creds *plain.Mechanism, timeout time.Duration) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		MaxAttempts:  kafkaMaxAttempts,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		RequiredAcks: kafka.RequireAll,
		Transport: &kafka.Transport{
			Dial: (&net.Dialer{
				Timeout: timeout,
			}).DialContext,
			TLS:  tlsConfig,
			SASL: mechanism(creds),
		},
	}
}

func mechanism(creds *plain.Mechanism) sasl.Mechanism {
	if creds == nil {
		return nil
	}
	return *creds
}

func (q *KafkaQueue) Publish(ctx context.Context, key string, value []byte) error {
	if err := q.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("failed to WriteMessages: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Fetch(ctx context.Context) (storage.Delivery, error) {
	m, err := q.reader.FetchMessage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return storage.Delivery{}, ctx.Err()
		}
		if errors.Is(err, io.EOF) {
			return storage.Delivery{}, storage.ErrClosed
		}
		return storage.Delivery{}, fmt.Errorf("failed to FetchMessage: %w", err)
	}

	d := storage.Delivery{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
	}
	q.tracker.Track(d)

	return d, nil
}

func (q *KafkaQueue) Ack(ctx context.Context, d storage.Delivery) error {
	commit, ok, err := q.tracker.Done(d)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	err = q.reader.CommitMessages(ctx, kafka.Message{
		Topic:     commit.Topic,
		Partition: commit.Partition,
		Offset:    commit.Offset,
	})
	if err != nil {
		return fmt.Errorf("failed to CommitMessages: %w", err)
	}

	return nil
}

func (q *KafkaQueue) Close() error {
	if err := q.reader.Close(); err != nil {
		return fmt.Errorf("failed to Close reader: %w", err)
	}
	if err := q.writer.Close(); err != nil {
		return fmt.Errorf("failed to Close writer: %w", err)
	}
	return nil
}

var _ storage.Publisher = (*Producer)(nil)

// Producer publishes to a topic without consuming it.
type Producer struct {
	writer messageWriter
}

func NewProducer(brokers []string, topic string, tlsConfig *tls.Config, creds *plain.Mechanism, timeout time.Duration) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &Producer{writer: NewWriter(brokers, topic, tlsConfig, creds, timeout)}, nil
}

func (p *Producer) Publish(ctx context.Context, key string, value []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("failed to WriteMessages: %w", err)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

package messaging

import (
	"context"
	"fmt"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rl1809/movie-rental/internal/core/domain"
	"github.com/rl1809/movie-rental/internal/port"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	breakerName         = "kafka-publisher"
	breakerMaxRequests  = 5
	breakerInterval     = time.Minute
	breakerTimeout      = 30 * time.Second
	breakerMinRequests  = 10
	breakerFailureRatio = 0.5
	writeBatchTimeout   = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublishObserver is told about every publish attempt.
type PublishObserver interface {
	ObservePublish(eventType string, err error)
}

// KafkaPublisher writes domain events to one topic, keyed by movie id so the
// events of a title stay ordered within a partition. A circuit breaker stops
// calling the brokers while they keep failing.
type KafkaPublisher struct {
	writer   messageWriter
	breaker  *gobreaker.CircuitBreaker
	logger   *zap.Logger
	observer PublishObserver
}

type PublisherOption func(*KafkaPublisher)

func WithLogger(logger *zap.Logger) PublisherOption {
	return func(p *KafkaPublisher) { p.logger = logger }
}

func WithObserver(observer PublishObserver) PublisherOption {
	return func(p *KafkaPublisher) { p.observer = observer }
}

func NewKafkaPublisher(brokers []string, topic string, opts ...PublisherOption) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: writeBatchTimeout,
		RequiredAcks: kafka.RequireAll,
	}
	return newKafkaPublisher(writer, opts...)
}

func newKafkaPublisher(writer messageWriter, opts ...PublisherOption) *KafkaPublisher {
	p := &KafkaPublisher{
		writer: writer,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: breakerMaxRequests,
		Interval:    breakerInterval,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < breakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= breakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(event.MovieID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.ID)},
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "content-type", Value: []byte("application/json")},
		},
		Time: event.OccurredAt,
	}

	_, err = p.breaker.Execute(func() (interface{}, error) {
		return nil, p.writer.WriteMessages(ctx, msg)
	})
	if p.observer != nil {
		p.observer.ObservePublish(string(event.Type), err)
	}
	if err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ port.EventPublisher = (*KafkaPublisher)(nil)

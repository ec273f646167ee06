// Package kafka implements the task queue on a Kafka topic with a consumer group.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/internal/queue"
)

// Config selects the topic and consumer group
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// messageReader is the consumer-group side of *kafka.Reader
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Queue publishes tasks to and consumes tasks from a Kafka topic
type Queue struct {
	cfg    Config
	writer *kafka.Writer
	reader messageReader
	logger logrus.FieldLogger
}

// New creates a queue. The reader is only opened on the first Consume call.
func New(cfg Config, logger logrus.FieldLogger) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Queue{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.LeastBytes{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		logger: logger.WithFields(logrus.Fields{"component": "queue", "topic": cfg.Topic}),
	}, nil
}

// Message builds the Kafka message carrying task
func Message(task domain.CollectionTask) (kafka.Message, error) {
	value, err := queue.Encode(task)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(task.ID),
		Value: value,
		Time:  task.CreatedAt,
	}, nil
}

// Publish writes one message per task
func (q *Queue) Publish(ctx context.Context, tasks ...domain.CollectionTask) error {
	msgs := make([]kafka.Message, 0, len(tasks))
	for _, task := range tasks {
		msg, err := Message(task)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := q.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	q.logger.WithField("tasks", len(tasks)).Info("tasks published")
	return nil
}

// Consume reads tasks as a member of the consumer group. The offset of a
// message is committed only after its handler returns, and not at all when the
// handler was interrupted by cancellation, so such a task is delivered again.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	if q.reader == nil {
		q.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:     q.cfg.Brokers,
			Topic:       q.cfg.Topic,
			GroupID:     q.cfg.GroupID,
			MinBytes:    1,
			MaxBytes:    10e6, // 10MB
			MaxWait:     time.Second,
			StartOffset: kafka.FirstOffset,
		})
	}
	q.logger.WithField("group", q.cfg.GroupID).Info("starting kafka consumer")

	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		logger := q.logger.WithFields(logrus.Fields{"partition": msg.Partition, "offset": msg.Offset})
		task, err := queue.Decode(msg.Value)
		if err != nil {
			logger.WithError(err).Error("dropping undecodable message")
		} else if err := handler(ctx, task); err != nil {
			if ctx.Err() != nil {
				// The uncommitted offset is delivered again to the group
				logger.WithField("task", task.ID).Warn("task interrupted, not committed")
				return nil
			}
			logger.WithError(err).WithField("task", task.ID).Error("task failed")
		} else {
			logger.WithField("task", task.ID).Info("task completed")
		}

		if err := q.reader.CommitMessages(context.WithoutCancel(ctx), msg); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}
	}
}

// Close closes the writer and, if opened, the reader
func (q *Queue) Close() error {
	err := q.writer.Close()
	if q.reader != nil {
		err = errors.Join(err, q.reader.Close())
	}
	return err
}

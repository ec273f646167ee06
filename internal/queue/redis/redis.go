// Package redis implements the task queue as a reliable Redis list. Delivered
// tasks wait in a per-consumer processing list until their handler returns.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/internal/queue"
)

// DefaultBlockTimeout bounds a single blocking pop so cancellation is observed
const DefaultBlockTimeout = 5 * time.Second

// Config selects the server and the list names
type Config struct {
	Addr       string
	Password   string
	Key        string
	ConsumerID string
}

// Queue is a task queue backed by a Redis list
type Queue struct {
	client       *redis.Client
	key          string
	processing   string
	blockTimeout time.Duration
	logger       logrus.FieldLogger
}

// New connects to Redis and verifies the connection
func New(ctx context.Context, cfg Config, logger logrus.FieldLogger) (*Queue, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address missing")
	}
	if cfg.Key == "" {
		return nil, fmt.Errorf("redis queue key missing")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       0,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	return NewWithClient(client, cfg.Key, cfg.ConsumerID, logger), nil
}

// NewWithClient wraps an existing client
func NewWithClient(client *redis.Client, key, consumerID string, logger logrus.FieldLogger) *Queue {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Queue{
		client:       client,
		key:          key,
		processing:   ProcessingKey(key, consumerID),
		blockTimeout: DefaultBlockTimeout,
		logger:       logger.WithFields(logrus.Fields{"component": "queue", "key": key}),
	}
}

// ProcessingKey names the list holding the tasks a consumer is working on
func ProcessingKey(key, consumerID string) string {
	if consumerID == "" {
		consumerID = "default"
	}
	return key + ":processing:" + consumerID
}

// Publish pushes tasks onto the head of the list. Consumers pop from the tail,
// so tasks are delivered in publish order.
func (q *Queue) Publish(ctx context.Context, tasks ...domain.CollectionTask) error {
	if len(tasks) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(tasks))
	for _, task := range tasks {
		data, err := queue.Encode(task)
		if err != nil {
			return err
		}
		values = append(values, data)
	}
	if err := q.client.LPush(ctx, q.key, values...).Err(); err != nil {
		return fmt.Errorf("failed to push tasks: %w", err)
	}
	q.logger.WithField("tasks", len(tasks)).Info("tasks published")
	return nil
}

// Consume moves tasks into the processing list, runs handler and then removes
// them. A task whose handler was interrupted by cancellation stays in the
// processing list. Tasks left there by a previous run of the same consumer are
// put back on the queue first.
func (q *Queue) Consume(ctx context.Context, handler queue.Handler) error {
	requeued, err := q.requeue(ctx)
	if err != nil {
		return err
	}
	q.logger.WithField("requeued", requeued).Info("starting redis consumer")

	for {
		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.blockTimeout).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("failed to pop task: %w", err)
		}

		task, err := queue.Decode([]byte(payload))
		if err != nil {
			q.logger.WithError(err).Error("dropping undecodable task")
		} else if err := handler(ctx, task); err != nil {
			if ctx.Err() != nil {
				// Left in the processing list, requeued by the next Consume
				q.logger.WithField("task", task.ID).Warn("task interrupted, not acknowledged")
				return nil
			}
			q.logger.WithError(err).WithField("task", task.ID).Error("task failed")
		} else {
			q.logger.WithField("task", task.ID).Info("task completed")
		}

		if err := q.client.LRem(context.WithoutCancel(ctx), q.processing, 1, payload).Err(); err != nil {
			return fmt.Errorf("failed to acknowledge task: %w", err)
		}
	}
}

// requeue returns unacknowledged tasks to the consuming end of the queue
func (q *Queue) requeue(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("failed to requeue tasks: %w", err)
		}
		n++
	}
}

// Close closes the Redis client connection
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis client: %w", err)
	}
	return nil
}

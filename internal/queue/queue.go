// Package queue hands collection tasks from the producer to worker processes.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
)

// Handler runs one delivered task. The delivery is acknowledged once the
// handler returns, whatever the outcome.
type Handler func(ctx context.Context, task domain.CollectionTask) error

// Queue is an at-least-once work queue of collection tasks
type Queue interface {
	// Publish enqueues tasks
	Publish(ctx context.Context, tasks ...domain.CollectionTask) error

	// Consume delivers tasks to handler one at a time until ctx is cancelled
	Consume(ctx context.Context, handler Handler) error

	// Close releases the connection
	Close() error
}

// Encode serializes a task for the wire
func Encode(task domain.CollectionTask) ([]byte, error) {
	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task: %w", err)
	}
	return data, nil
}

// Decode parses a task received from the wire
func Decode(data []byte) (domain.CollectionTask, error) {
	var task domain.CollectionTask
	if err := json.Unmarshal(data, &task); err != nil {
		return domain.CollectionTask{}, fmt.Errorf("failed to decode task: %w", err)
	}
	if task.ID == "" {
		return domain.CollectionTask{}, fmt.Errorf("task has no id")
	}
	return task, nil
}

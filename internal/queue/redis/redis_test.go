package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-practice-stats/internal/domain"
	"github.com/kurihiro0119/github-practice-stats/internal/queue"
)

func TestProcessingKey(t *testing.T) {
	assert.Equal(t, "tasks:processing:host-1", ProcessingKey("tasks", "host-1"))
	assert.Equal(t, "tasks:processing:default", ProcessingKey("tasks", ""))
}

func TestNew_RequiresAddrAndKey(t *testing.T) {
	_, err := New(context.Background(), Config{Key: "tasks"}, nil)
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Addr: "localhost:6379"}, nil)
	assert.Error(t, err)
}

func TestNew_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	q, err := New(context.Background(), Config{Addr: mr.Addr(), Key: "tasks", ConsumerID: "c1"}, nil)
	require.NoError(t, err)
	assert.NoError(t, q.Close())
}

func newTestQueue(t *testing.T) (*Queue, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger, _ := test.NewNullLogger()
	q := NewWithClient(client, "tasks", "c1", logger)
	q.blockTimeout = time.Second
	return q, client
}

func task(id string) domain.CollectionTask {
	return domain.CollectionTask{ID: id, Days: 1, PageSize: 50}
}

func listLen(t *testing.T, client *redis.Client, key string) int64 {
	t.Helper()
	n, err := client.LLen(context.Background(), key).Result()
	require.NoError(t, err)
	return n
}

func TestConsume_AcknowledgesInPublishOrder(t *testing.T) {
	q, client := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, task("task-1"), task("task-2"), task("task-3")))
	assert.NoError(t, q.Publish(ctx))

	var handled []string
	err := q.Consume(ctx, func(_ context.Context, tk domain.CollectionTask) error {
		assert.EqualValues(t, 1, listLen(t, client, q.processing), "the running task is held in the processing list")
		handled = append(handled, tk.ID)
		switch tk.ID {
		case "task-2":
			return errors.New("worker stopped")
		case "task-3":
			cancel()
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"task-1", "task-2", "task-3"}, handled)
	assert.Zero(t, listLen(t, client, "tasks"))
	assert.Zero(t, listLen(t, client, q.processing), "completed and failed tasks are acknowledged")
}

func TestConsume_InterruptedTaskIsRedelivered(t *testing.T) {
	q, client := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, task("task-1")))

	err := q.Consume(ctx, func(ctx context.Context, _ domain.CollectionTask) error {
		cancel()
		return ctx.Err()
	})
	require.NoError(t, err)

	assert.Zero(t, listLen(t, client, "tasks"))
	assert.EqualValues(t, 1, listLen(t, client, q.processing), "interrupted task is not acknowledged")

	// A restarted consumer with the same name picks the task up again
	restarted := NewWithClient(client, "tasks", "c1", q.logger)
	restarted.blockTimeout = time.Second
	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()

	var handled []string
	err = restarted.Consume(ctx2, func(_ context.Context, tk domain.CollectionTask) error {
		handled = append(handled, tk.ID)
		cancel2()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"task-1"}, handled)
	assert.Zero(t, listLen(t, client, q.processing))
}

func TestConsume_RequeuesLeftoversFirst(t *testing.T) {
	q, client := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, task("task-new")))
	leftover, err := queue.Encode(task("task-leftover"))
	require.NoError(t, err)
	require.NoError(t, client.LPush(ctx, q.processing, leftover).Err())

	var handled []string
	err = q.Consume(ctx, func(_ context.Context, tk domain.CollectionTask) error {
		handled = append(handled, tk.ID)
		if len(handled) == 2 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"task-leftover", "task-new"}, handled)
	assert.Zero(t, listLen(t, client, "tasks"))
	assert.Zero(t, listLen(t, client, q.processing))
}

func TestConsume_DropsUndecodableTasks(t *testing.T) {
	q, client := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, client.LPush(ctx, "tasks", "not json").Err())
	require.NoError(t, q.Publish(ctx, task("task-1")))

	var handled []string
	err := q.Consume(ctx, func(_ context.Context, tk domain.CollectionTask) error {
		handled = append(handled, tk.ID)
		cancel()
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"task-1"}, handled)
	assert.Zero(t, listLen(t, client, q.processing))
}

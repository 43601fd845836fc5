package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrDuplicateRun is returned when a run id has already been submitted and
// is still known to the queue.
var ErrDuplicateRun = errors.New("run already enqueued")

const (
	folderMaxRetry  = 3
	folderTimeout   = 30 * time.Minute
	folderRetention = 24 * time.Hour
)

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueWatermarkFolder submits a batch. The run id doubles as the task id,
// and finished tasks are retained for a day so a run can be inspected after
// it completes.
func (c *Client) EnqueueWatermarkFolder(ctx context.Context, payload WatermarkFolderPayload) (*asynq.TaskInfo, error) {
	task, err := NewWatermarkFolderTask(payload)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, task, folderTaskOptions(c.queue, payload.RunID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRun, payload.RunID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue run %s: %w", payload.RunID, err)
	}
	return info, nil
}

func folderTaskOptions(queueName, runID string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.TaskID(runID),
		asynq.MaxRetry(folderMaxRetry),
		asynq.Timeout(folderTimeout),
		asynq.Retention(folderRetention),
	}
}

func (c *Client) Close() error {
	return c.client.Close()
}

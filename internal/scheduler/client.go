package scheduler

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"leadflow_backend/platform/config"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// reconcileUniqueTTL collapses run-now requests made while one is queued.
const reconcileUniqueTTL = 30 * time.Second

type Client struct {
	client *asynq.Client
	queue  string
}

// Enqueuer hands assignment work to the worker process.
type Enqueuer interface {
	EnqueueReconcile(ctx context.Context, requestedBy string) (string, error)
	EnqueueAssignVisitor(ctx context.Context, visitorID uuid.UUID) error
}

func NewClient(cfg config.SchedulerConfig) (*Client, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	return &Client{
		client: asynq.NewClient(opt),
		queue:  queue,
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// EnqueueReconcile asks the worker for a pass. A request made while another
// is still queued is merged into it and reported with an empty task id.
func (c *Client) EnqueueReconcile(ctx context.Context, requestedBy string) (string, error) {
	if c == nil || c.client == nil {
		return "", nil
	}

	task, err := NewReconcileTask(ReconcilePayload{RequestedBy: requestedBy})
	if err != nil {
		return "", err
	}

	info, err := c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(0),
		asynq.Unique(reconcileUniqueTTL),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

// EnqueueAssignVisitor schedules an immediate assignment for one visitor.
// The task id is derived from the visitor so repeats are dropped.
func (c *Client) EnqueueAssignVisitor(ctx context.Context, visitorID uuid.UUID) error {
	if c == nil || c.client == nil {
		return nil
	}

	task, err := NewAssignVisitorTask(AssignVisitorPayload{VisitorID: visitorID.String()})
	if err != nil {
		return err
	}

	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(3),
		asynq.TaskID("assign:"+visitorID.String()),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func redisClientOpt(redisURL string, tlsInsecure bool) (asynq.RedisClientOpt, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if tlsInsecure {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if tlsInsecure {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

var _ Enqueuer = (*Client)(nil)

package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// AsynqConfig configures the Redis-backed dispatcher and worker.
type AsynqConfig struct {
	Queue       string
	MaxRetries  int
	Timeout     time.Duration
	Concurrency int
	Logger      *zap.Logger
}

func (c AsynqConfig) withDefaults() AsynqConfig {
	if c.Queue == "" {
		c.Queue = "exports"
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 2
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// AsynqDispatcher enqueues jobs as asynq tasks so a separate worker process
// can run them.
type AsynqDispatcher struct {
	client *asynq.Client
	cfg    AsynqConfig
}

var _ Dispatcher = (*AsynqDispatcher)(nil)

// NewAsynqDispatcher opens an asynq client against the given Redis connection.
func NewAsynqDispatcher(redisOpt asynq.RedisConnOpt, cfg AsynqConfig) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(redisOpt), cfg: cfg.withDefaults()}
}

// Dispatch enqueues the job. The job ID doubles as the asynq task ID, so a
// second dispatch of the same job is a no-op.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, job Job) error {
	task := asynq.NewTask(job.Type, job.Payload)
	opts := []asynq.Option{
		asynq.Queue(d.cfg.Queue),
		asynq.MaxRetry(d.cfg.MaxRetries),
	}
	if job.ID != "" {
		opts = append(opts, asynq.TaskID(job.ID))
	}
	if d.cfg.Timeout > 0 {
		opts = append(opts, asynq.Timeout(d.cfg.Timeout))
	}

	info, err := d.client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			d.cfg.Logger.Warn("task already queued", zap.String("job_id", job.ID), zap.String("type", job.Type))
			return nil
		}
		return fmt.Errorf("enqueue %s task: %w", job.Type, err)
	}
	d.cfg.Logger.Debug("task enqueued", zap.String("job_id", job.ID), zap.String("queue", info.Queue))
	return nil
}

// Close releases the client connection.
func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// NewAsynqServer builds the worker-side server for the configured queue.
func NewAsynqServer(redisOpt asynq.RedisConnOpt, cfg AsynqConfig) *asynq.Server {
	cfg = cfg.withDefaults()
	logger := cfg.Logger
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Concurrency,
		Queues:          map[string]int{cfg.Queue: 1},
		ShutdownTimeout: 30 * time.Second,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task processing failed", zap.String("type", task.Type()), zap.Error(err))
		}),
	})
}

// NewAsynqMux routes tasks of the given type to handler.
func NewAsynqMux(taskType string, handler Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(taskType, AsynqHandler(handler))
	return mux
}

// AsynqHandler adapts a Handler to asynq. Permanent failures skip asynq's
// own retry schedule.
func AsynqHandler(handler Handler) func(context.Context, *asynq.Task) error {
	return func(ctx context.Context, task *asynq.Task) error {
		job := Job{Type: task.Type(), Payload: task.Payload()}
		if id, ok := asynq.GetTaskID(ctx); ok {
			job.ID = id
		}
		if retried, ok := asynq.GetRetryCount(ctx); ok {
			job.Attempt = retried
		}
		err := handler(ctx, job)
		if err != nil && errors.Is(err, ErrPermanent) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	}
}

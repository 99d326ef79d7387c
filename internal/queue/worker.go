package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"localmind/internal/config"
	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

// HandlerFunc is a registered worker function. Errors (and panics,
// which are converted to errors) mark the job failed with the message
// captured; there is no automatic retry.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) error

// Worker drains the queue with bounded parallelism.
type Worker struct {
	queue      *Queue
	registry   map[string]HandlerFunc
	maxJobs    int
	jobTimeout time.Duration
	logger     logging.Logger
}

// NewWorker creates a worker bound to the queue.
func NewWorker(q *Queue, cfg *config.RedisConfig, logger logging.Logger) *Worker {
	maxJobs := cfg.WorkerMaxConcurrency
	if maxJobs <= 0 {
		maxJobs = 10
	}
	timeout := time.Duration(cfg.WorkerJobTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &Worker{
		queue:      q,
		registry:   make(map[string]HandlerFunc),
		maxJobs:    maxJobs,
		jobTimeout: timeout,
		logger:     logger.WithComponent("worker"),
	}
}

// Register adds a function to the dispatch table.
func (w *Worker) Register(name string, fn HandlerFunc) {
	w.registry[name] = fn
}

// Run claims and executes jobs until the context is canceled. Claimed
// jobs move to a processing list and are removed only after a terminal
// state is recorded, so a crash leaves them observable.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", "max_concurrent_jobs", w.maxJobs, "job_timeout", w.jobTimeout.String())

	sem := make(chan struct{}, w.maxJobs)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			w.logger.Info("Worker stopped")
			return ctx.Err()
		case sem <- struct{}{}:
		}

		payload, err := w.queue.client.BLMove(ctx, jobsKey, processingKey, "RIGHT", "LEFT", time.Second).Result()
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				wg.Wait()
				w.logger.Info("Worker stopped")
				return ctx.Err()
			}
			// Timeout polls are routine; anything else gets a breather.
			if !errors.Is(err, redis.Nil) {
				w.logger.Error("Failed to claim job", "error", err.Error())
				time.Sleep(time.Second)
			}
			continue
		}

		wg.Add(1)
		go func(raw string) {
			defer wg.Done()
			defer func() { <-sem }()
			w.execute(ctx, raw)
		}(payload)
	}
}

func (w *Worker) execute(ctx context.Context, raw string) {
	defer w.queue.client.LRem(context.Background(), processingKey, 1, raw)

	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		w.logger.Error("Dropping undecodable job payload", "error", err.Error())
		return
	}

	logger := w.logger.WithTraceID(job.JobID)

	handler, ok := w.registry[job.FunctionName]
	if !ok {
		err := apperrors.Validation(fmt.Sprintf("no handler registered for %q", job.FunctionName))
		logger.Error("Unknown job function", "function", job.FunctionName)
		w.queue.setState(ctx, job.JobID, StateFailed, err)
		return
	}

	w.queue.setState(ctx, job.JobID, StateProcessing, nil)
	logger.Info("Job started", "function", job.FunctionName)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	err := w.runHandler(jobCtx, handler, job.Args)
	if err == nil && jobCtx.Err() == context.DeadlineExceeded {
		err = apperrors.Timeout(fmt.Sprintf("job exceeded %s", w.jobTimeout))
	}

	if err != nil {
		logger.Error("Job failed", "function", job.FunctionName, "error", err.Error())
		w.queue.setState(context.Background(), job.JobID, StateFailed, err)
		return
	}

	logger.Info("Job completed", "function", job.FunctionName)
	w.queue.setState(context.Background(), job.JobID, StateCompleted, nil)
}

// runHandler invokes the handler, converting panics into errors at the
// queue boundary.
func (w *Worker) runHandler(ctx context.Context, handler HandlerFunc, args map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, args)
}

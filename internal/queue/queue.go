// Package queue provides the durable Redis-backed job queue used to run
// ingestion asynchronously. Delivery is at-least-once and FIFO per
// queue; every registered handler must be idempotent on its blob_id or
// session_id argument.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"localmind/internal/config"
	apperrors "localmind/internal/errors"
	"localmind/internal/logging"
)

const (
	jobsKey       = "localmind:queue:jobs"
	processingKey = "localmind:queue:processing"
	statusPrefix  = "localmind:job:"

	// Terminal statuses stay readable for a week, then expire.
	statusTTL = 7 * 24 * time.Hour
)

// State is a job's lifecycle state.
type State string

const (
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateNotFound   State = "not_found"
)

// Job is the wire form pushed onto the queue list.
type Job struct {
	JobID        string                 `json:"job_id"`
	FunctionName string                 `json:"function_name"`
	Args         map[string]interface{} `json:"args"`
	EnqueuedAt   string                 `json:"enqueued_at"`
}

// Status is the observable state of a job. Unknown ids report
// StateNotFound, a terminal observation rather than an error.
type Status struct {
	JobID       string  `json:"job_id"`
	State       State   `json:"status"`
	EnqueuedAt  string  `json:"enqueued_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
	Error       *string `json:"error,omitempty"`
}

// Queue enqueues jobs and reads their status.
type Queue struct {
	client *redis.Client
	logger logging.Logger
}

// New connects to Redis and verifies the connection.
func New(cfg *config.RedisConfig, logger logging.Logger) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, apperrors.QueueUnavailable("failed to connect to redis", err)
	}

	return &Queue{client: client, logger: logger.WithComponent("queue")}, nil
}

// Enqueue records the job status and pushes the job onto the queue.
// The returned job id is opaque to callers.
func (q *Queue) Enqueue(ctx context.Context, functionName string, args map[string]interface{}) (string, error) {
	if functionName == "" {
		return "", apperrors.Validation("function_name must not be empty")
	}

	job := Job{
		JobID:        uuid.NewString(),
		FunctionName: functionName,
		Args:         args,
		EnqueuedAt:   time.Now().UTC().Format(time.RFC3339Nano),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return "", apperrors.QueueUnavailable("failed to encode job", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, statusPrefix+job.JobID, map[string]interface{}{
		"status":        string(StateQueued),
		"function_name": functionName,
		"enqueued_at":   job.EnqueuedAt,
	})
	pipe.LPush(ctx, jobsKey, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", apperrors.QueueUnavailable("failed to enqueue job", err)
	}

	q.logger.Info("Enqueued job", "job_id", job.JobID, "function", functionName)
	return job.JobID, nil
}

// Status reads a job's state. Unknown ids are StateNotFound.
func (q *Queue) Status(ctx context.Context, jobID string) (*Status, error) {
	fields, err := q.client.HGetAll(ctx, statusPrefix+jobID).Result()
	if err != nil {
		return nil, apperrors.QueueUnavailable("failed to read job status", err)
	}
	if len(fields) == 0 {
		return &Status{JobID: jobID, State: StateNotFound}, nil
	}

	status := &Status{
		JobID:      jobID,
		State:      State(fields["status"]),
		EnqueuedAt: fields["enqueued_at"],
	}
	if v, ok := fields["completed_at"]; ok && v != "" {
		status.CompletedAt = &v
	}
	if v, ok := fields["error"]; ok && v != "" {
		status.Error = &v
	}
	return status, nil
}

// HealthCheck pings Redis.
func (q *Queue) HealthCheck(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return apperrors.QueueUnavailable("redis unreachable", err)
	}
	return nil
}

// Close releases the Redis connection.
func (q *Queue) Close() error {
	return q.client.Close()
}

func (q *Queue) setState(ctx context.Context, jobID string, state State, jobErr error) {
	fields := map[string]interface{}{"status": string(state)}
	terminal := state == StateCompleted || state == StateFailed
	if terminal {
		fields["completed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if jobErr != nil {
		fields["error"] = jobErr.Error()
	}

	key := statusPrefix + jobID
	if err := q.client.HSet(ctx, key, fields).Err(); err != nil {
		q.logger.Error("Failed to update job status", "job_id", jobID, "state", state, "error", err.Error())
		return
	}
	if terminal {
		q.client.Expire(ctx, key, statusTTL)
	}
}

// DecodeArgs maps loosely-typed job arguments onto a typed struct.
// Handlers call this at their boundary and reject bad input as a
// validation failure.
func DecodeArgs(args map[string]interface{}, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  target,
		TagName: "json",
	})
	if err != nil {
		return apperrors.Validation("invalid argument decoder: " + err.Error())
	}
	if err := decoder.Decode(args); err != nil {
		return apperrors.Validation("invalid job arguments: " + err.Error())
	}
	return nil
}

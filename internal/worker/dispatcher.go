package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/caging"
	"github.com/sells-group/donor-caging/internal/resilience"
)

// Starter starts workflow executions. client.Client satisfies it.
type Starter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Dispatcher hands caging jobs to Temporal.
type Dispatcher struct {
	starter   Starter
	taskQueue string
	retry     resilience.RetryConfig
}

// NewDispatcher creates a Dispatcher that starts workflows on taskQueue.
func NewDispatcher(starter Starter, taskQueue string, retry resilience.RetryConfig) *Dispatcher {
	retry.OnRetry = resilience.RetryLogger("temporal", "start workflow")
	retry.ShouldRetry = retryableStart
	return &Dispatcher{starter: starter, taskQueue: taskQueue, retry: retry}
}

// WorkflowID is the execution id for a queued donor. Starting a second
// workflow for a donor whose first one is still running returns the
// running execution.
func WorkflowID(queuedDonorID int64) string {
	return fmt.Sprintf("caging-queued-donor-%d", queuedDonorID)
}

// Dispatch identifies one started workflow execution.
type Dispatch struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// Enqueue starts the caging workflow for job.
func (d *Dispatcher) Enqueue(ctx context.Context, job caging.Job) (Dispatch, error) {
	id := job.Submission.QueuedDonorID
	if id <= 0 {
		return Dispatch{}, eris.New("worker: job has no queued donor id")
	}

	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(id),
		TaskQueue: d.taskQueue,
	}
	run, err := resilience.DoVal(ctx, d.retry, func(ctx context.Context) (client.WorkflowRun, error) {
		return d.starter.ExecuteWorkflow(ctx, opts, WorkflowName, job)
	})
	if err != nil {
		return Dispatch{}, eris.Wrapf(err, "worker: start workflow for queued donor %d", id)
	}

	zap.L().Info("worker: job enqueued",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.Int64("queued_donor_id", id),
	)
	return Dispatch{WorkflowID: run.GetID(), RunID: run.GetRunID()}, nil
}

// retryableStart reports whether a failed start may succeed if repeated.
func retryableStart(err error) bool {
	var (
		unavailable *serviceerror.Unavailable
		exhausted   *serviceerror.ResourceExhausted
		deadline    *serviceerror.DeadlineExceeded
	)
	if errors.As(err, &unavailable) || errors.As(err, &exhausted) || errors.As(err, &deadline) {
		return true
	}
	return resilience.IsTransient(err)
}

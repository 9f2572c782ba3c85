// Package worker runs donor caging jobs on Temporal. Each queued donor is
// one workflow execution that invokes the caging pipeline as an activity.
package worker

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/donor-caging/internal/caging"
)

// WorkflowName is the registered name of the caging workflow.
const WorkflowName = "CagingWorkflow"

// Application error types raised by ProcessDonor. The first three are never
// retried.
const (
	ErrTypeDirectoryNotFound = "DirectoryNotFound"
	ErrTypeInvalidSubmission = "InvalidSubmission"
	ErrTypeNotFound          = "NotFound"
	ErrTypePersistence       = "PersistenceFailure"
)

// Workflows holds the settings the caging workflow schedules its activity
// with. They must be identical on every worker polling the task queue.
type Workflows struct {
	ActivityTimeout time.Duration
	MaxAttempts     int32
}

// Caging categorizes and applies one donor job.
func (w *Workflows) Caging(ctx workflow.Context, job caging.Job) (caging.Result, error) {
	timeout := w.ActivityTimeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    w.MaxAttempts,
			NonRetryableErrorTypes: []string{
				ErrTypeDirectoryNotFound,
				ErrTypeInvalidSubmission,
				ErrTypeNotFound,
			},
		},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("caging workflow started", "queued_donor_id", job.Submission.QueuedDonorID)

	var a *Activities
	var res caging.Result
	if err := workflow.ExecuteActivity(ctx, a.ProcessDonor, job).Get(ctx, &res); err != nil {
		logger.Error("caging workflow failed", "queued_donor_id", job.Submission.QueuedDonorID, "error", err)
		return caging.Result{}, err
	}

	logger.Info("caging workflow completed",
		"queued_donor_id", job.Submission.QueuedDonorID,
		"disposition", string(res.Disposition),
	)
	return res, nil
}

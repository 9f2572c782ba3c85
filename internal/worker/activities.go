package worker

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/caging"
	"github.com/sells-group/donor-caging/internal/resilience"
	"github.com/sells-group/donor-caging/internal/store"
	"github.com/sells-group/donor-caging/internal/submission"
)

// Processor runs one caging job end to end.
type Processor interface {
	Process(ctx context.Context, job caging.Job) (caging.Result, error)
}

// Activities are the Temporal activities of the caging workflow.
type Activities struct {
	proc Processor
}

// NewActivities creates Activities backed by proc.
func NewActivities(proc Processor) *Activities {
	return &Activities{proc: proc}
}

// ProcessDonor runs the caging pipeline for job and translates failures
// into Temporal application errors.
func (a *Activities) ProcessDonor(ctx context.Context, job caging.Job) (caging.Result, error) {
	info := activity.GetInfo(ctx)
	log := zap.L().With(
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.Int32("attempt", info.Attempt),
		zap.Int64("queued_donor_id", job.Submission.QueuedDonorID),
		zap.String("env", job.Env),
	)

	res, err := a.proc.Process(ctx, job)
	if err != nil {
		errType, permanent := classify(err)
		if permanent {
			log.Error("worker: donor failed permanently", zap.String("type", errType), zap.Error(err))
			return caging.Result{}, temporal.NewNonRetryableApplicationError(err.Error(), errType, err)
		}
		log.Warn("worker: donor failed", zap.String("type", errType),
			zap.String("class", resilience.ClassifyError(err)), zap.Error(err))
		return caging.Result{}, temporal.NewApplicationErrorWithCause(err.Error(), errType, err)
	}

	log.Info("worker: donor processed",
		zap.String("disposition", string(res.Disposition)),
		zap.Int64s("user_ids", res.UserIDs),
	)
	return res, nil
}

// classify maps a pipeline error to an application error type and reports
// whether retrying could never help.
func classify(err error) (errType string, permanent bool) {
	var (
		invalid *submission.InvalidError
		nf      *caging.DirectoryNotFoundError
	)
	switch {
	case errors.As(err, &nf):
		return ErrTypeDirectoryNotFound, true
	case errors.As(err, &invalid), errors.Is(err, caging.ErrInvalidResult):
		return ErrTypeInvalidSubmission, true
	case errors.Is(err, store.ErrNotFound):
		return ErrTypeNotFound, true
	default:
		return ErrTypePersistence, false
	}
}

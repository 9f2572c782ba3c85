package caging

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/store"
	"github.com/sells-group/donor-caging/internal/submission"
)

// Pipeline runs one job end to end: prepare the submission, categorize the
// donor, then apply the disposition.
type Pipeline struct {
	categorizer *Categorizer
	applicator  *Applicator
}

// NewPipeline wires a Pipeline to a store. A nil norm uses the default
// address normalizer.
func NewPipeline(st store.Store, norm AddressNormalizer) *Pipeline {
	return &Pipeline{
		categorizer: NewCategorizer(st, st, norm),
		applicator:  NewApplicator(st),
	}
}

// Process categorizes the job's donor and applies the outcome. The returned
// Result is valid only when err is nil.
func (p *Pipeline) Process(ctx context.Context, job Job) (Result, error) {
	sub, err := submission.Prepare(job.Submission)
	if err != nil {
		return Result{}, err
	}
	if amt := model.GrossAmount(job.Transactions); amt != "" && !amt.Valid() {
		return Result{}, &submission.InvalidError{
			Fields: []string{"transactions[0].gross_gift_amount"},
			Err:    eris.Errorf("caging: invalid gross gift amount %q", amt),
		}
	}
	job.Submission = sub

	res, err := p.categorizer.Categorize(ctx, submission.Flatten(sub))
	if err != nil {
		return Result{}, err
	}
	zap.L().Info("caging: donor categorized",
		zap.Int64("queued_donor_id", sub.QueuedDonorID),
		zap.String("disposition", string(res.Disposition)),
		zap.Int64s("user_ids", res.UserIDs),
	)

	if err := p.applicator.Apply(ctx, res, job); err != nil {
		return Result{}, err
	}
	return res, nil
}

// DryRun categorizes a submission without touching any record.
func (p *Pipeline) DryRun(ctx context.Context, sub model.Submission) (Result, error) {
	prepared, err := submission.PrepareDonor(sub)
	if err != nil {
		return Result{}, err
	}
	return p.categorizer.Categorize(ctx, submission.Flatten(prepared))
}

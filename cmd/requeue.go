package main

import (
	"context"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/donor-caging/internal/caging"
	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/worker"
)

var requeueLimit int

var requeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Dispatch caging workflows for donors still in the queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("requeue"); err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		tc, err := worker.Dial(cfg.Temporal)
		if err != nil {
			return err
		}
		defer tc.Close()

		queued, err := st.ListQueuedDonors(ctx, requeueLimit)
		if err != nil {
			return eris.Wrap(err, "requeue: list queued donors")
		}

		r := &requeuer{
			enqueuer:    worker.NewDispatcher(tc, cfg.Temporal.TaskQueue, retryConfig()),
			limiter:     rate.NewLimiter(rate.Limit(cfg.Requeue.RatePerSec), 1),
			concurrency: cfg.Requeue.Concurrency,
			env:         cfg.Env,
		}
		sent, failed := r.run(ctx, queued)
		zap.L().Info("requeue complete",
			zap.Int("queued", len(queued)),
			zap.Int64("dispatched", sent),
			zap.Int64("failed", failed),
		)
		if failed > 0 {
			return eris.Errorf("requeue: %d of %d dispatches failed", failed, len(queued))
		}
		return nil
	},
}

type enqueuer interface {
	Enqueue(ctx context.Context, job caging.Job) (worker.Dispatch, error)
}

// requeuer dispatches queued donors at a bounded rate and concurrency.
type requeuer struct {
	enqueuer    enqueuer
	limiter     *rate.Limiter
	concurrency int
	env         string
}

func (r *requeuer) run(ctx context.Context, queued []model.QueuedDonor) (sent, failed int64) {
	var ok, bad atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(r.concurrency, 1))

	for i, q := range queued {
		if err := r.limiter.Wait(gctx); err != nil {
			bad.Add(int64(len(queued) - i))
			break
		}
		job := jobFor(q, r.env)
		g.Go(func() error {
			if _, err := r.enqueuer.Enqueue(gctx, job); err != nil {
				bad.Add(1)
				zap.L().Warn("requeue: dispatch failed",
					zap.Int64("queued_donor_id", q.ID), zap.Error(err))
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return ok.Load(), bad.Load()
}

// jobFor rebuilds the caging job stored with a queued donor.
func jobFor(q model.QueuedDonor, env string) caging.Job {
	sub := q.Submission
	sub.QueuedDonorID = q.ID
	sub.GiftID = q.GiftID
	return caging.Job{Submission: sub, Transactions: q.Transactions, Env: env}
}

func init() {
	requeueCmd.Flags().IntVar(&requeueLimit, "limit", 100, "maximum queued donors to dispatch")
	rootCmd.AddCommand(requeueCmd)
}

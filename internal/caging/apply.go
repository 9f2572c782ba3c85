package caging

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/store"
)

// Job is one donor submission delivered by the job dispatcher.
type Job struct {
	Submission   model.Submission    `json:"user"`
	Transactions []model.Transaction `json:"transactions"`
	Env          string              `json:"app_config_name"`
}

// TxBeginner opens units of work.
type TxBeginner interface {
	Begin(ctx context.Context) (store.Tx, error)
}

// Applicator mutates gift, user, caged-donor, and queue records according
// to a Result, all inside one transaction.
type Applicator struct {
	store TxBeginner
}

// NewApplicator creates an Applicator.
func NewApplicator(st TxBeginner) *Applicator {
	return &Applicator{store: st}
}

// Apply commits the effects of res for job, or none of them. On failure the
// transaction is rolled back before a *PersistenceError is returned.
func (a *Applicator) Apply(ctx context.Context, res Result, job Job) error {
	if err := res.Validate(); err != nil {
		return err
	}

	sub := job.Submission
	if sub.UserAddress == nil && (res.Disposition == DispositionNew || res.Disposition == DispositionCage) {
		return eris.Wrapf(ErrInvalidResult, "%s requires a user address", res.Disposition)
	}
	log := zap.L().With(
		zap.String("disposition", string(res.Disposition)),
		zap.Int64("gift_id", sub.GiftID),
		zap.Int64("queued_donor_id", sub.QueuedDonorID),
	)

	tx, err := a.store.Begin(ctx)
	if err != nil {
		return &PersistenceError{Op: "begin", QueuedDonorID: sub.QueuedDonorID, Err: err}
	}

	if err := a.mutate(ctx, tx, res, job); err != nil {
		a.rollback(ctx, tx, log)
		return &PersistenceError{Op: "apply " + string(res.Disposition), QueuedDonorID: sub.QueuedDonorID, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		a.rollback(ctx, tx, log)
		return &PersistenceError{Op: "commit", QueuedDonorID: sub.QueuedDonorID, Err: err}
	}

	log.Info("caging: disposition applied", zap.Int64s("user_ids", res.UserIDs))
	return nil
}

func (a *Applicator) mutate(ctx context.Context, tx store.Tx, res Result, job Job) error {
	sub := job.Submission
	amount := model.GrossAmount(job.Transactions)

	gift, err := tx.GetGift(ctx, sub.GiftID)
	if err != nil {
		return eris.Wrapf(err, "caging: get gift %d", sub.GiftID)
	}

	switch res.Disposition {
	case DispositionExists:
		userID := res.UserIDs[0]
		if err := tx.SetGiftUser(ctx, gift.ID, userID); err != nil {
			return eris.Wrapf(err, "caging: attribute gift %d", gift.ID)
		}
		if amount != "" {
			if err := tx.RecordUserGift(ctx, userID, amount); err != nil {
				return eris.Wrapf(err, "caging: record gift on user %d", userID)
			}
		}

	case DispositionCage, DispositionCaged:
		if err := tx.SetGiftUser(ctx, gift.ID, model.UnattributedUserID); err != nil {
			return eris.Wrapf(err, "caging: unattribute gift %d", gift.ID)
		}
		if res.Disposition == DispositionCage {
			caged := cagedDonorFrom(sub, gift)
			if err := tx.CreateCagedDonor(ctx, caged); err != nil {
				return eris.Wrap(err, "caging: create caged donor")
			}
		}

	case DispositionNew:
		user := userFrom(sub, amount)
		if err := tx.CreateUser(ctx, user); err != nil {
			return eris.Wrap(err, "caging: create user")
		}
		if err := tx.SetGiftUser(ctx, gift.ID, user.ID); err != nil {
			return eris.Wrapf(err, "caging: attribute gift %d", gift.ID)
		}
	}

	if err := tx.DeleteQueuedDonor(ctx, sub.QueuedDonorID); err != nil {
		return eris.Wrapf(err, "caging: delete queued donor %d", sub.QueuedDonorID)
	}
	return nil
}

func (a *Applicator) rollback(ctx context.Context, tx store.Tx, log *zap.Logger) {
	if err := tx.Rollback(ctx); err != nil {
		log.Warn("caging: rollback failed", zap.Error(err))
	}
}

func cagedDonorFrom(sub model.Submission, gift *model.Gift) *model.CagedDonor {
	u := sub.UserAddress
	return &model.CagedDonor{
		FirstName:        u.FirstName,
		LastName:         u.LastName,
		Zip:              u.Zip,
		Address:          u.Address,
		City:             u.City,
		State:            u.State,
		Email:            u.Email,
		Phone:            u.Phone,
		GiftID:           gift.ID,
		GiftSearchableID: gift.SearchableID,
		CampaignID:       sub.CampaignID,
		CustomerID:       sub.CustomerID,
	}
}

func userFrom(sub model.Submission, amount model.Amount) *model.DirectoryEntry {
	u := sub.UserAddress
	return &model.DirectoryEntry{
		FirstName:      u.FirstName,
		LastName:       u.LastName,
		Zip:            u.Zip,
		Address:        u.Address,
		City:           u.City,
		State:          u.State,
		Email:          u.Email,
		Phone:          u.Phone,
		LastGiftAmount: amount,
	}
}

// Package store persists directory users, gifts, caged donors, and queued
// donors. Every mutation made while applying a disposition goes through a Tx.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-caging/internal/directory"
	"github.com/sells-group/donor-caging/internal/model"
)

// ErrNotFound is returned when a read or mutation targets a missing row.
var ErrNotFound = eris.New("store: record not found")

// Store defines the persistence interface for the caging service.
type Store interface {
	directory.Finder

	// Caged donors
	FindCagedDonors(ctx context.Context, firstName, lastName, zip string) ([]model.CagedDonor, error)

	// Gifts and queue
	CreateGift(ctx context.Context, g *model.Gift) error
	GetGift(ctx context.Context, id int64) (*model.Gift, error)
	CreateQueuedDonor(ctx context.Context, q *model.QueuedDonor) error
	// RecordIntake creates the gift (when g is non-nil) and the queued donor
	// atomically, so a failed intake leaves no orphan gift.
	RecordIntake(ctx context.Context, g *model.Gift, q *model.QueuedDonor) error
	GetQueuedDonor(ctx context.Context, id int64) (*model.QueuedDonor, error)
	ListQueuedDonors(ctx context.Context, limit int) ([]model.QueuedDonor, error)

	// Monitoring
	Stats(ctx context.Context, since time.Time) (*Stats, error)

	// Transactions
	Begin(ctx context.Context) (Tx, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Tx is a unit of work. Nothing written through a Tx is visible to other
// readers until Commit succeeds; Rollback discards all of it.
type Tx interface {
	GetGift(ctx context.Context, id int64) (*model.Gift, error)
	SetGiftUser(ctx context.Context, giftID, userID int64) error
	CreateUser(ctx context.Context, u *model.DirectoryEntry) error
	RecordUserGift(ctx context.Context, userID int64, amount model.Amount) error
	CreateCagedDonor(ctx context.Context, c *model.CagedDonor) error
	DeleteQueuedDonor(ctx context.Context, id int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DefaultQueueLimit caps ListQueuedDonors when no limit is given.
const DefaultQueueLimit = 100

// Stats summarizes the queue backlog and recent caging volume.
type Stats struct {
	QueuedDonors   int
	OldestQueuedAt time.Time // zero when the queue is empty
	Gifts          int       // gifts created since the cutoff
	CagedDonors    int       // caged donors created since the cutoff
}

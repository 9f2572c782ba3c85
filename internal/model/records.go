package model

import (
	"time"

	"github.com/google/uuid"
)

// UnattributedUserID marks a gift held for manual review.
const UnattributedUserID int64 = -1

// DirectoryEntry is a user in the directory.
type DirectoryEntry struct {
	ID             int64     `json:"id"`
	FirstName      string    `json:"firstname"`
	LastName       string    `json:"lastname"`
	Zip            string    `json:"zip"`
	Address        string    `json:"address"`
	City           string    `json:"city,omitempty"`
	State          string    `json:"state,omitempty"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	LastGiftAmount Amount    `json:"last_gift_amount,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Gift is a contribution awaiting attribution to a directory user.
type Gift struct {
	ID           int64     `json:"id"`
	SearchableID uuid.UUID `json:"searchable_id"`
	UserID       *int64    `json:"user_id,omitempty"`
	GrossAmount  Amount    `json:"gross_amount"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Attributed reports whether the gift is linked to a real directory user.
func (g *Gift) Attributed() bool {
	return g.UserID != nil && *g.UserID > 0
}

// CagedDonor is a donor filed for manual review.
type CagedDonor struct {
	ID               int64     `json:"id"`
	FirstName        string    `json:"user_first_name"`
	LastName         string    `json:"user_last_name"`
	Zip              string    `json:"user_zipcode"`
	Address          string    `json:"user_address"`
	City             string    `json:"user_city,omitempty"`
	State            string    `json:"user_state,omitempty"`
	Email            string    `json:"user_email_address,omitempty"`
	Phone            string    `json:"user_phone_number,omitempty"`
	GiftID           int64     `json:"gift_id"`
	GiftSearchableID uuid.UUID `json:"gift_searchable_id"`
	CampaignID       *int64    `json:"campaign_id,omitempty"`
	CustomerID       string    `json:"customer_id,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// QueuedDonor is a submission waiting for a disposition. Its row is deleted
// in the same transaction that applies the disposition.
type QueuedDonor struct {
	ID           int64         `json:"id"`
	GiftID       int64         `json:"gift_id"`
	Submission   Submission    `json:"submission"`
	Transactions []Transaction `json:"transactions"`
	CreatedAt    time.Time     `json:"created_at"`
}

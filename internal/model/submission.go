package model

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// UserAddress is the donor block of a donation submission.
type UserAddress struct {
	FirstName string `json:"user_first_name" yaml:"user_first_name" validate:"required"`
	LastName  string `json:"user_last_name" yaml:"user_last_name" validate:"required"`
	Zip       string `json:"user_zipcode" yaml:"user_zipcode"`
	Address   string `json:"user_address" yaml:"user_address"`
	City      string `json:"user_city,omitempty" yaml:"user_city"`
	State     string `json:"user_state,omitempty" yaml:"user_state"`
	Email     string `json:"user_email_address,omitempty" yaml:"user_email_address" validate:"omitempty,email"`
	Phone     string `json:"user_phone_number,omitempty" yaml:"user_phone_number"`
}

// BillingAddress is the payer block of a donation submission.
type BillingAddress struct {
	FirstName string `json:"billing_first_name" yaml:"billing_first_name"`
	LastName  string `json:"billing_last_name" yaml:"billing_last_name"`
	Zip       string `json:"billing_zipcode" yaml:"billing_zipcode"`
	Address   string `json:"billing_address" yaml:"billing_address"`
	City      string `json:"billing_city,omitempty" yaml:"billing_city"`
	State     string `json:"billing_state,omitempty" yaml:"billing_state"`
	Email     string `json:"billing_email_address,omitempty" yaml:"billing_email_address"`
	Phone     string `json:"billing_phone_number,omitempty" yaml:"billing_phone_number"`
}

// Submission is the donor payload handed to the caging job.
type Submission struct {
	ID             *int64          `json:"id" yaml:"id"`
	UserAddress    *UserAddress    `json:"user_address,omitempty" yaml:"user_address" validate:"required"`
	BillingAddress *BillingAddress `json:"billing_address,omitempty" yaml:"billing_address"`
	GiftID         int64           `json:"gift_id" yaml:"gift_id" validate:"required,gt=0"`
	QueuedDonorID  int64           `json:"queued_donor_id" yaml:"queued_donor_id" validate:"required,gt=0"`
	CampaignID     *int64          `json:"campaign_id,omitempty" yaml:"campaign_id"`
	CustomerID     string          `json:"customer_id,omitempty" yaml:"customer_id"`
	Category       string          `json:"category,omitempty" yaml:"category"`
}

// Transaction is one payment leg of a donation.
type Transaction struct {
	GrossGiftAmount Amount `json:"gross_gift_amount" yaml:"gross_gift_amount"`
}

// Amount is a decimal money value kept in its textual form. It decodes from
// either a JSON string or a JSON number.
type Amount string

// UnmarshalJSON accepts "12.50" and 12.50 alike.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*a = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Amount(n.String())
	return nil
}

// amountPattern matches the values a NUMERIC(12,2) column accepts without
// rounding: up to ten whole digits and at most two decimals.
var amountPattern = regexp.MustCompile(`^[0-9]{1,10}(\.[0-9]{1,2})?$`)

// Valid reports whether a is a plain non-negative decimal that fits the
// stored gift amount columns.
func (a Amount) Valid() bool {
	return amountPattern.MatchString(string(a))
}

// GrossAmount returns the amount of the first transaction, which carries the
// gross gift for both single-leg and administrative two-leg donations.
func GrossAmount(txns []Transaction) Amount {
	if len(txns) == 0 {
		return ""
	}
	return txns[0].GrossGiftAmount
}

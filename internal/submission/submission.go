// Package submission validates donor payloads and flattens them into the
// donor view the caging engine scores.
package submission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/donor-caging/internal/model"
)

var validate = validator.New()

// Legacy front ends send these values for an unknown zip or phone.
var (
	absentZips   = []string{"0", "00000"}
	absentPhones = []string{"0"}
)

// InvalidError reports a submission that cannot be categorized.
type InvalidError struct {
	Fields []string
	Err    error
}

func (e *InvalidError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("submission: invalid: %v", e.Err)
	}
	return fmt.Sprintf("submission: invalid fields %s", strings.Join(e.Fields, ", "))
}

func (e *InvalidError) Unwrap() error {
	return e.Err
}

// Prepare fills in a missing user address from the billing address and
// validates the result as a queued job. The input is not modified.
func Prepare(sub model.Submission) (model.Submission, error) {
	sub = normalize(sub)
	return sub, check(validate.Struct(sub))
}

// PrepareDonor is Prepare for a submission that is only categorized, never
// applied, so gift and queue identifiers are not required.
func PrepareDonor(sub model.Submission) (model.Submission, error) {
	sub = normalize(sub)
	if sub.UserAddress == nil {
		return sub, &InvalidError{Fields: []string{"Submission.UserAddress"}, Err: errNoAddress}
	}
	return sub, check(validate.Struct(sub.UserAddress))
}

var errNoAddress = errors.New("submission: no user or billing address")

func normalize(sub model.Submission) model.Submission {
	if sub.UserAddress == nil && sub.BillingAddress != nil {
		b := sub.BillingAddress
		sub.UserAddress = &model.UserAddress{
			FirstName: b.FirstName,
			LastName:  b.LastName,
			Zip:       b.Zip,
			Address:   b.Address,
			City:      b.City,
			State:     b.State,
			Email:     b.Email,
			Phone:     b.Phone,
		}
	} else if sub.UserAddress != nil {
		u := *sub.UserAddress
		sub.UserAddress = &u
	}

	if u := sub.UserAddress; u != nil {
		u.FirstName = strings.TrimSpace(u.FirstName)
		u.LastName = strings.TrimSpace(u.LastName)
		u.Email = strings.TrimSpace(u.Email)
		u.Zip = model.ValueOf(u.Zip, absentZips...).String()
		u.Address = strings.TrimSpace(u.Address)
		u.City = strings.TrimSpace(u.City)
		u.State = strings.TrimSpace(u.State)
		u.Phone = model.ValueOf(u.Phone, absentPhones...).String()
	}
	return sub
}

func check(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace())
		}
		return &InvalidError{Fields: fields, Err: err}
	}
	return &InvalidError{Err: err}
}

// Flatten builds the Donor view of a prepared submission. Blank values and
// legacy "unknown" sentinels become absent fields.
func Flatten(sub model.Submission) model.Donor {
	d := model.Donor{UserID: sub.ID}
	u := sub.UserAddress
	if u == nil {
		return d
	}
	d.FirstName = u.FirstName
	d.LastName = u.LastName
	d.Zip = model.ValueOf(u.Zip, absentZips...)
	d.Address = model.ValueOf(u.Address)
	d.Email = model.ValueOf(u.Email)
	d.Phone = model.ValueOf(u.Phone, absentPhones...)
	return d
}

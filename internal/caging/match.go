// Package caging decides whether a donor is a known directory user, a new
// user, or an ambiguous match that must be held for manual review, and
// applies that decision to the gift, user, caged-donor, and queue records.
package caging

import (
	"strings"

	"github.com/sells-group/donor-caging/internal/model"
)

// AddressNormalizer folds a raw street address for equality comparison.
type AddressNormalizer func(raw string) string

// MatchVector records which donor fields agree with one directory candidate.
// FirstName, LastName and Zip are the base fields; Street, Email and Phone
// are the discriminators.
type MatchVector struct {
	FirstName bool `json:"first_name"`
	LastName  bool `json:"last_name"`
	Zip       bool `json:"zip"`
	Street    bool `json:"street"`
	Email     bool `json:"email"`
	Phone     bool `json:"phone"`
}

// Weight is the match confidence derived from a MatchVector.
type Weight int

const (
	// WeightNone means the candidate is not the donor.
	WeightNone Weight = iota
	// WeightAmbiguous means the candidate might be the donor.
	WeightAmbiguous
	// WeightConfident means the candidate is the donor.
	WeightConfident
)

// Score compares a donor with a candidate that was selected by last name.
func Score(donor model.Donor, candidate model.DirectoryEntry, norm AddressNormalizer) MatchVector {
	donorStreet := norm(donor.Address.String())
	return MatchVector{
		FirstName: strings.EqualFold(donor.FirstName, candidate.FirstName),
		LastName:  true,
		Zip:       donor.Zip.Equal(candidate.Zip),
		Street:    donorStreet != "" && donorStreet == norm(candidate.Address),
		Email:     donor.Email.EqualFold(candidate.Email),
		Phone:     donor.Phone.Equal(candidate.Phone),
	}
}

// Discriminators counts the matching discriminator fields.
func (v MatchVector) Discriminators() int {
	n := 0
	for _, ok := range []bool{v.Street, v.Email, v.Phone} {
		if ok {
			n++
		}
	}
	return n
}

// Weight applies the decision table:
//
//	base (first,last,zip)  discriminators  weight
//	1,1,1                  3               2
//	1,1,1                  0..2            1
//	0,1,1                  >=1             1
//	0,1,0                  >=1             1
//	anything else          any             0
func (v MatchVector) Weight() Weight {
	d := v.Discriminators()
	switch {
	case v.FirstName && v.LastName && v.Zip:
		if d == 3 {
			return WeightConfident
		}
		return WeightAmbiguous
	case !v.FirstName && v.LastName && v.Zip && d >= 1:
		return WeightAmbiguous
	case !v.FirstName && v.LastName && !v.Zip && d >= 1:
		return WeightAmbiguous
	default:
		return WeightNone
	}
}

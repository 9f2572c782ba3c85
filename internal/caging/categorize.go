package caging

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/directory"
	"github.com/sells-group/donor-caging/internal/model"
	"github.com/sells-group/donor-caging/internal/normalize"
)

// Disposition is the outcome of categorizing a donor.
type Disposition string

const (
	// DispositionNew means no directory user matches the donor.
	DispositionNew Disposition = "new"
	// DispositionCage means the donor plausibly matches and needs review.
	DispositionCage Disposition = "cage"
	// DispositionExists means exactly one directory user is the donor.
	DispositionExists Disposition = "exists"
	// DispositionCaged means the donor was already filed for review.
	DispositionCaged Disposition = "caged"
)

// Valid reports whether d is one of the four dispositions.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionNew, DispositionCage, DispositionExists, DispositionCaged:
		return true
	default:
		return false
	}
}

// dispositionFor maps an aggregated weight to a disposition.
func dispositionFor(w Weight) Disposition {
	switch w {
	case WeightConfident:
		return DispositionExists
	case WeightAmbiguous:
		return DispositionCage
	default:
		return DispositionNew
	}
}

// Result is a disposition and the directory identifiers that back it.
// An exists Result carries exactly one identifier; a cage Result carrying
// several means more than one user matched the donor exactly.
type Result struct {
	Disposition Disposition `json:"disposition"`
	UserIDs     []int64     `json:"user_ids"`
}

func newResult(d Disposition, ids ...int64) Result {
	if ids == nil {
		ids = []int64{}
	}
	return Result{Disposition: d, UserIDs: ids}
}

// Validate checks the Result invariants.
func (r Result) Validate() error {
	if !r.Disposition.Valid() {
		return eris.Wrapf(ErrInvalidResult, "unknown disposition %q", r.Disposition)
	}
	if r.Disposition == DispositionExists && len(r.UserIDs) != 1 {
		return eris.Wrapf(ErrInvalidResult, "exists requires one user id, got %d", len(r.UserIDs))
	}
	return nil
}

// CagedFinder looks up donors previously filed for review.
type CagedFinder interface {
	FindCagedDonors(ctx context.Context, firstName, lastName, zip string) ([]model.CagedDonor, error)
}

// Categorizer resolves a donor against the directory.
type Categorizer struct {
	directory directory.Finder
	caged     CagedFinder
	normalize AddressNormalizer
}

// NewCategorizer creates a Categorizer. A nil norm uses normalize.Address.
func NewCategorizer(dir directory.Finder, caged CagedFinder, norm AddressNormalizer) *Categorizer {
	if norm == nil {
		norm = normalize.Address
	}
	return &Categorizer{directory: dir, caged: caged, normalize: norm}
}

// Categorize decides the disposition of a donor. The first applicable rule
// wins:
//  1. Known identifier: exists, or DirectoryNotFoundError if it is unknown.
//  2. Email equal to a directory email: exists with the first such user.
//  3. A caged donor with the same name, zip, and address: caged.
//  4. Users sharing the last name, scored and aggregated: new, cage, or exists.
func (c *Categorizer) Categorize(ctx context.Context, donor model.Donor) (Result, error) {
	log := zap.L().With(zap.String("component", "categorizer"))

	if donor.HasUserID() {
		id := *donor.UserID
		users, err := c.directory.Find(ctx, directory.ByID(id))
		if err != nil {
			return Result{}, eris.Wrapf(err, "caging: find user %d", id)
		}
		if len(users) == 0 {
			return Result{}, &DirectoryNotFoundError{UserID: id}
		}
		log.Debug("categorize: matched by id", zap.Int64("user_id", users[0].ID))
		return newResult(DispositionExists, users[0].ID), nil
	}

	if email, ok := donor.Email.Get(); ok {
		users, err := c.directory.Find(ctx, directory.ByEmail(email))
		if err != nil {
			return Result{}, eris.Wrap(err, "caging: find users by email")
		}
		if len(users) > 0 {
			log.Debug("categorize: matched by email", zap.Int64("user_id", users[0].ID))
			return newResult(DispositionExists, users[0].ID), nil
		}
	}

	caged, err := c.previouslyCaged(ctx, donor)
	if err != nil {
		return Result{}, err
	}
	if caged {
		log.Debug("categorize: donor already caged", zap.String("last_name", donor.LastName))
		return newResult(DispositionCaged), nil
	}

	candidates, err := c.directory.Find(ctx, directory.ByLastName(donor.LastName))
	if err != nil {
		return Result{}, eris.Wrap(err, "caging: find users by last name")
	}
	if len(candidates) == 0 {
		return newResult(DispositionNew), nil
	}

	agg := NewAggregator()
	for _, candidate := range candidates {
		v := Score(donor, candidate, c.normalize)
		if agg.Add(candidate.ID, v.Weight()) {
			log.Debug("categorize: scored candidate",
				zap.Int64("user_id", candidate.ID),
				zap.Any("match", v),
				zap.Int("weight", int(v.Weight())),
			)
		}
	}

	w, ids := agg.Result()
	return newResult(dispositionFor(w), ids...), nil
}

// previouslyCaged reports whether a caged donor record has the donor's
// first name, last name, zip, and normalized address. An absent zip is
// looked up as the empty zip it was stored with. A donor without an
// address never matches.
func (c *Categorizer) previouslyCaged(ctx context.Context, donor model.Donor) (bool, error) {
	street := c.normalize(donor.Address.String())
	if street == "" {
		return false, nil
	}

	records, err := c.caged.FindCagedDonors(ctx, donor.FirstName, donor.LastName, donor.Zip.String())
	if err != nil {
		return false, eris.Wrap(err, "caging: find caged donors")
	}
	for _, r := range records {
		if c.normalize(r.Address) == street {
			return true, nil
		}
	}
	return false, nil
}

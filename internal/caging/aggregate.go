package caging

// Aggregator folds candidate weights into a single verdict. Each candidate
// identifier counts once. When more than one candidate scores
// WeightConfident the verdict drops to WeightAmbiguous, since two distinct
// users cannot both be the donor.
type Aggregator struct {
	seen      map[int64]struct{}
	max       Weight
	confident []int64
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{seen: make(map[int64]struct{})}
}

// Add records the weight of candidate id. It reports false and changes
// nothing when id was already added.
func (a *Aggregator) Add(id int64, w Weight) bool {
	if _, dup := a.seen[id]; dup {
		return false
	}
	a.seen[id] = struct{}{}

	if w > a.max {
		a.max = w
	}
	if w == WeightConfident {
		a.confident = append(a.confident, id)
		if len(a.confident) > 1 {
			a.max = WeightAmbiguous
		}
	}
	return true
}

// Result returns the verdict and the identifiers that scored WeightConfident.
func (a *Aggregator) Result() (Weight, []int64) {
	ids := make([]int64, len(a.confident))
	copy(ids, a.confident)
	return a.max, ids
}

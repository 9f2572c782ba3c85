// Package monitoring watches the caging queue and alerts when donors pile up
// or an unusual share of gifts is caged.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/donor-caging/internal/store"
)

// MetricsSnapshot holds a point-in-time view of caging health.
type MetricsSnapshot struct {
	// Queue backlog.
	QueueDepth       int     `json:"queue_depth"`
	OldestQueuedMins float64 `json:"oldest_queued_mins"`

	// Volume within the lookback window.
	Gifts       int     `json:"gifts"`
	CagedDonors int     `json:"caged_donors"`
	CageRate    float64 `json:"cage_rate"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StatsSource abstracts the store query the collector needs.
type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (*store.Stats, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	source StatsSource
	now    func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(source StatsSource) *Collector {
	return &Collector{source: source, now: time.Now}
}

// Collect gathers a snapshot of caging metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	st, err := c.source.Stats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect stats")
	}

	snap.QueueDepth = st.QueuedDonors
	if !st.OldestQueuedAt.IsZero() {
		snap.OldestQueuedMins = now.Sub(st.OldestQueuedAt).Minutes()
	}
	snap.Gifts = st.Gifts
	snap.CagedDonors = st.CagedDonors
	if st.Gifts > 0 {
		snap.CageRate = float64(st.CagedDonors) / float64(st.Gifts)
	}
	return snap, nil
}

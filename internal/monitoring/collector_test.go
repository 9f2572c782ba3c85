package monitoring

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/donor-caging/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// mockStats is a StatsSource returning fixed values.
type mockStats struct {
	stats store.Stats
	err   error
	since time.Time
	calls atomic.Int32
}

func (m *mockStats) Stats(_ context.Context, since time.Time) (*store.Stats, error) {
	m.calls.Add(1)
	m.since = since
	if m.err != nil {
		return nil, m.err
	}
	st := m.stats
	return &st, nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &mockStats{stats: store.Stats{
		QueuedDonors:   12,
		OldestQueuedAt: now.Add(-90 * time.Minute),
		Gifts:          40,
		CagedDonors:    10,
	}}
	c := NewCollector(src)
	c.now = fixedClock(now)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), src.since)
	assert.Equal(t, 12, snap.QueueDepth)
	assert.InDelta(t, 90.0, snap.OldestQueuedMins, 0.001)
	assert.Equal(t, 40, snap.Gifts)
	assert.Equal(t, 10, snap.CagedDonors)
	assert.InDelta(t, 0.25, snap.CageRate, 0.001)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_EmptyQueueAndNoGifts(t *testing.T) {
	c := NewCollector(&mockStats{})

	snap, err := c.Collect(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, snap.QueueDepth)
	assert.Zero(t, snap.OldestQueuedMins)
	assert.Zero(t, snap.CageRate)
}

func TestCollector_StatsError(t *testing.T) {
	c := NewCollector(&mockStats{err: eris.New("connection refused")})

	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: collect stats")
}

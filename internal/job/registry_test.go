package job_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newClock() *fakeClock { return &fakeClock{now: time.Unix(1_700_000_000, 0)} }

func Test_Registry_RecordAndLookup(t *testing.T) {
	clock := newClock()
	registry := job.NewRegistry(2*time.Hour, job.WithRegistryClock(clock.Now))

	j := job.New(job.Params{URL: "https://example.com"}, clock.Now())
	require.NoError(t, registry.Record(j.Snapshot()))
	require.NoError(t, registry.Record(j.Snapshot()), "recording the same state is idempotent")

	found, err := registry.Lookup(j.ID)
	require.NoError(t, err)
	assert.Equal(t, j.ID, found.ID)
	assert.Equal(t, 1, registry.Len())

	_, err = registry.Lookup(uuid.New())
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func Test_Registry_RejectsRegression(t *testing.T) {
	clock := newClock()
	registry := job.NewRegistry(2*time.Hour, job.WithRegistryClock(clock.Now))

	j := job.New(job.Params{}, clock.Now())
	queued := j.Snapshot()
	require.NoError(t, j.Transition(job.COMPLETE, clock.Now()))
	require.NoError(t, registry.Record(j.Snapshot()))

	assert.ErrorIs(t, registry.Record(queued), job.ErrIllegalTransition)
	found, err := registry.Lookup(j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.COMPLETE, found.State)
}

func Test_Registry_LookupAfterRetentionIsNotFound(t *testing.T) {
	for _, state := range []job.State{job.QUEUED, job.UPLOADING, job.COMPLETE, job.FAILED} {
		t.Run(state.String(), func(t *testing.T) {
			clock := newClock()
			registry := job.NewRegistry(2*time.Hour, job.WithRegistryClock(clock.Now))

			j := job.New(job.Params{}, clock.Now())
			j.State = state
			require.NoError(t, registry.Record(j.Snapshot()))

			clock.Advance(2 * time.Hour)
			_, err := registry.Lookup(j.ID)
			assert.NoError(t, err, "exactly at the retention boundary the job is retained")

			clock.Advance(time.Second)
			_, err = registry.Lookup(j.ID)
			assert.ErrorIs(t, err, job.ErrJobNotFound)
			assert.Equal(t, 0, registry.Len(), "expired job is evicted on lookup")
		})
	}
}

func Test_Registry_Sweep(t *testing.T) {
	clock := newClock()
	registry := job.NewRegistry(2*time.Hour, job.WithRegistryClock(clock.Now))

	old := job.New(job.Params{}, clock.Now())
	require.NoError(t, registry.Record(old.Snapshot()))

	clock.Advance(90 * time.Minute)
	recent := job.New(job.Params{}, clock.Now())
	require.NoError(t, registry.Record(recent.Snapshot()))

	clock.Advance(31 * time.Minute)
	assert.Equal(t, 1, registry.Sweep())
	assert.Equal(t, 1, registry.Len())

	_, err := registry.Lookup(recent.ID)
	assert.NoError(t, err)
}

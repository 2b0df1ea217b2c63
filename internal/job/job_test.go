package job_test

import (
	"testing"
	"time"

	"github.com/priyankadasarigt/ytdown/internal/job"
	"github.com/stretchr/testify/assert"
)

func Test_State_CanTransition(t *testing.T) {
	tests := []struct {
		from, to job.State
		allowed  bool
	}{
		{job.QUEUED, job.DOWNLOADING, true},
		{job.QUEUED, job.FAILED, true},
		{job.DOWNLOADING, job.PROCESSING, true},
		{job.PROCESSING, job.UPLOADING, true},
		{job.UPLOADING, job.COMPLETE, true},
		{job.UPLOADING, job.FAILED, true},
		{job.DOWNLOADING, job.QUEUED, false},
		{job.UPLOADING, job.UPLOADING, false},
		{job.COMPLETE, job.FAILED, false},
		{job.FAILED, job.COMPLETE, false},
		{job.COMPLETE, job.QUEUED, false},
	}

	for _, test := range tests {
		t.Run(test.from.String()+"->"+test.to.String(), func(t *testing.T) {
			assert.Equal(t, test.allowed, test.from.CanTransition(test.to))
		})
	}
}

func Test_Job_TransitionUpdatesTimestamp(t *testing.T) {
	created := time.Unix(1000, 0)
	j := job.New(job.Params{URL: "https://example.com"}, created)
	assert.Equal(t, job.QUEUED, j.State)

	later := created.Add(time.Minute)
	assert.NoError(t, j.Transition(job.DOWNLOADING, later))
	assert.Equal(t, later, j.UpdatedAt)
	assert.Equal(t, created, j.CreatedAt)

	assert.ErrorIs(t, j.Transition(job.QUEUED, later), job.ErrIllegalTransition)
	assert.Equal(t, job.DOWNLOADING, j.State)
}

func Test_Job_Prefix(t *testing.T) {
	j := job.New(job.Params{}, time.Now())
	prefix := j.Prefix("YTDown")

	assert.Equal(t, "[YTDown]_"+j.ID.String()[:8]+"_", prefix)
}

func Test_Job_SnapshotIsIndependent(t *testing.T) {
	j := job.New(job.Params{}, time.Now())
	j.Result = &job.Result{DownloadURL: "a"}

	snapshot := j.Snapshot()
	j.Result.DownloadURL = "b"
	assert.Equal(t, "a", snapshot.Result.DownloadURL)
}

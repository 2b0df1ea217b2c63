package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrIllegalTransition = errors.New("illegal job state transition")

type State int

const (
	QUEUED State = iota
	DOWNLOADING
	PROCESSING
	UPLOADING
	COMPLETE
	FAILED
)

type (
	// Params are the client supplied parameters of a download job.
	Params struct {
		URL       string `mapstructure:"url" validate:"required"`
		VideoCode string `mapstructure:"video_code" validate:"required"`
		AudioCode string `mapstructure:"audio_code" validate:"required"`
		SessionID string `mapstructure:"session_id"`
	}

	// Result describes where a completed job's output can be found. A fallback
	// result carries only the local file name, as the upload did not succeed.
	Result struct {
		DownloadURL string
		DisplayName string
		StoredName  string
		LocalFile   string
		Duplicate   bool
		Fallback    bool
	}

	// Job is a single download, merge and upload request. Jobs only ever move
	// forward through their states, and COMPLETE/FAILED are final.
	Job struct {
		ID        uuid.UUID
		Params    Params
		State     State
		Title     string
		Result    *Result
		Failure   string
		CreatedAt time.Time
		UpdatedAt time.Time
	}
)

func New(params Params, now time.Time) *Job {
	return &Job{
		ID:        uuid.New(),
		Params:    params,
		State:     QUEUED,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Prefix is the unique prefix applied to the name of this job's local output file.
func (job *Job) Prefix(brand string) string {
	return fmt.Sprintf("[%s]_%s_", brand, job.ID.String()[:8])
}

// Transition moves the job to the state provided, returning ErrIllegalTransition
// if that would move it backwards or out of a terminal state.
func (job *Job) Transition(to State, at time.Time) error {
	if !job.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, job.State, to)
	}

	job.State = to
	job.UpdatedAt = at
	return nil
}

// Snapshot returns a deep copy of the job which is safe to share.
func (job *Job) Snapshot() Job {
	snapshot := *job
	if job.Result != nil {
		result := *job.Result
		snapshot.Result = &result
	}

	return snapshot
}

func (job *Job) String() string {
	return fmt.Sprintf("Job{ID=%s Session=%s State=%s}", job.ID, job.Params.SessionID, job.State)
}

func (s State) IsTerminal() bool { return s == COMPLETE || s == FAILED }

func (s State) CanTransition(to State) bool { return !s.IsTerminal() && to > s }

func (s State) String() string {
	switch s {
	case QUEUED:
		return "QUEUED"
	case DOWNLOADING:
		return "DOWNLOADING"
	case PROCESSING:
		return "PROCESSING"
	case UPLOADING:
		return "UPLOADING"
	case COMPLETE:
		return "COMPLETE"
	case FAILED:
		return "FAILED"
	}

	return fmt.Sprintf("UNKNOWN[%d]", s)
}

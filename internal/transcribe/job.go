package transcribe

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a transcription job.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Terminal reports whether no further automatic transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError
}

// Segment is a span of transcript text aligned to playback time in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Report is what the Job Service says about a job at one point in time.
type Report struct {
	JobID    string    `json:"job_id"`
	Status   Status    `json:"status"`
	Progress int       `json:"progress"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Error    string    `json:"error,omitempty"`
}

// HasResult reports whether the report carries a usable transcript.
func (r Report) HasResult() bool {
	return r.Text != "" || len(r.Segments) > 0
}

// Job is the engine-owned state of the current transcription for one item.
type Job struct {
	JobID      string
	Status     Status
	Progress   int
	Text       string
	Segments   []Segment
	Error      string
	Failure    error
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
	Language   string
	Model      string
}

// Snapshot is an immutable view of a job for the player.
type Snapshot struct {
	MediaKey       string     `json:"media_key"`
	JobID          string     `json:"job_id,omitempty"`
	Status         Status     `json:"status"`
	Progress       int        `json:"progress"`
	Text           string     `json:"text,omitempty"`
	Segments       []Segment  `json:"segments"`
	Error          string     `json:"error,omitempty"`
	Attempts       int        `json:"attempts"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	ElapsedSeconds float64    `json:"elapsed_seconds"`
	Language       string     `json:"language,omitempty"`
	Model          string     `json:"model,omitempty"`

	Failure error `json:"-"`
}

// Elapsed returns the elapsed time as a duration.
func (s Snapshot) Elapsed() time.Duration {
	return time.Duration(s.ElapsedSeconds * float64(time.Second))
}

// FailureKind classifies a terminal error as "timeout", "fetch_failed" or
// "job_failed". It is "" unless the status is error.
func (s Snapshot) FailureKind() string {
	if s.Status != StatusError {
		return ""
	}
	var (
		timeout  *TimeoutError
		reported *JobReportedError
	)
	switch {
	case errors.As(s.Failure, &timeout):
		return "timeout"
	case errors.As(s.Failure, &reported):
		return "job_failed"
	default:
		return "fetch_failed"
	}
}

// snapshot copies the job so callers never share its segment slice.
func (j Job) snapshot(key string, now time.Time) Snapshot {
	segs := make([]Segment, len(j.Segments))
	copy(segs, j.Segments)
	var started *time.Time
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		started = &t
	}
	return Snapshot{
		MediaKey:       key,
		JobID:          j.JobID,
		Status:         j.Status,
		Progress:       j.Progress,
		Text:           j.Text,
		Segments:       segs,
		Error:          j.Error,
		Attempts:       j.Attempts,
		StartedAt:      started,
		ElapsedSeconds: j.elapsed(now).Seconds(),
		Language:       j.Language,
		Model:          j.Model,
		Failure:        j.Failure,
	}
}

func (j Job) elapsed(now time.Time) time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}
	end := now
	if j.Status.Terminal() && !j.FinishedAt.IsZero() {
		end = j.FinishedAt
	}
	if end.Before(j.StartedAt) {
		return 0
	}
	return end.Sub(j.StartedAt)
}

// Reasons carried by terminal error states.
const (
	ReasonTimeout     = "timeout"
	ReasonFetchFailed = "failed to fetch transcription status"
	ReasonJobFailed   = "transcription failed"
)

var (
	// ErrAlreadyInProgress matches any *AlreadyInProgressError.
	ErrAlreadyInProgress = errors.New("transcription already in progress")
	// ErrClosed is returned by an engine whose view has been torn down.
	ErrClosed = errors.New("transcription engine closed")
)

// AlreadyInProgressError rejects a submission while a job is processing.
type AlreadyInProgressError struct {
	MediaKey string
	JobID    string
}

func (e *AlreadyInProgressError) Error() string {
	if e.JobID == "" {
		return fmt.Sprintf("transcription already in progress for %s", e.MediaKey)
	}
	return fmt.Sprintf("transcription already in progress for %s (job %s)", e.MediaKey, e.JobID)
}

func (e *AlreadyInProgressError) Is(target error) bool {
	return target == ErrAlreadyInProgress
}

// JobReportedError is a failure reported by the Job Service itself.
type JobReportedError struct {
	JobID  string
	Reason string
}

func (e *JobReportedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

// TimeoutError means the poll budget ran out while the job still reported
// processing.
type TimeoutError struct {
	JobID    string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %d status polls", e.JobID, e.Attempts)
}

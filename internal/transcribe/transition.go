package transcribe

import (
	"fmt"
	"time"
)

// Event drives one state transition.
type Event interface {
	event()
}

// Submitted records a job accepted by the Job Service.
type Submitted struct {
	JobID    string
	Language string
	Model    string
}

// Resumed re-attaches to a job that was processing before a reload.
type Resumed struct {
	JobID string
}

// Polled carries the result of one successful status call.
type Polled struct {
	Report Report
}

// PollFailed carries a status call that did not yield a report.
type PollFailed struct {
	Err error
}

// Restored applies a finished result found without polling.
type Restored struct {
	Report Report
}

// Reset clears a finished job back to idle.
type Reset struct{}

func (Submitted) event()  {}
func (Resumed) event()    {}
func (Polled) event()     {}
func (PollFailed) event() {}
func (Restored) event()   {}
func (Reset) event()      {}

// Directive tells the loop what to do after a transition.
type Directive int

const (
	Stop Directive = iota
	Poll
)

// Transition is the single authority on job state. It never blocks and
// never touches anything but its arguments.
func Transition(job Job, ev Event, maxAttempts int, now time.Time) (Job, Directive) {
	switch ev := ev.(type) {
	case Submitted:
		if job.Status == StatusProcessing {
			return job, Poll
		}
		return Job{
			JobID:     ev.JobID,
			Status:    StatusProcessing,
			StartedAt: now,
			Language:  ev.Language,
			Model:     ev.Model,
		}, Poll

	case Resumed:
		if job.Status == StatusProcessing {
			return job, Poll
		}
		return Job{
			JobID:     ev.JobID,
			Status:    StatusProcessing,
			StartedAt: now,
			Language:  job.Language,
			Model:     job.Model,
		}, Poll

	case Polled:
		if job.Status != StatusProcessing {
			return job, Stop
		}
		return applyReport(job, ev.Report, maxAttempts, now)

	case PollFailed:
		if job.Status != StatusProcessing {
			return job, Stop
		}
		job.Attempts++
		if job.Attempts >= maxAttempts {
			return fail(job, ReasonFetchFailed, fmt.Errorf("%s: %w", ReasonFetchFailed, ev.Err), now), Stop
		}
		return job, Poll

	case Restored:
		if job.Status == StatusProcessing {
			return job, Poll
		}
		next := Job{JobID: ev.Report.JobID, Language: job.Language, Model: job.Model}
		if ev.Report.Status == StatusError {
			return fail(next, reportReason(ev.Report), &JobReportedError{JobID: ev.Report.JobID, Reason: reportReason(ev.Report)}, now), Stop
		}
		return succeed(next, ev.Report, now), Stop

	case Reset:
		if job.Status == StatusProcessing {
			return job, Poll
		}
		return Job{}, Stop
	}
	return job, Stop
}

func applyReport(job Job, r Report, maxAttempts int, now time.Time) (Job, Directive) {
	switch r.Status {
	case StatusSuccess:
		return succeed(job, r, now), Stop
	case StatusError:
		reason := reportReason(r)
		return fail(job, reason, &JobReportedError{JobID: job.JobID, Reason: reason}, now), Stop
	}

	job.Attempts++
	if p := clampProgress(r.Progress); p > job.Progress {
		job.Progress = p
	}
	if job.Attempts >= maxAttempts {
		return fail(job, ReasonTimeout, &TimeoutError{JobID: job.JobID, Attempts: job.Attempts}, now), Stop
	}
	return job, Poll
}

func succeed(job Job, r Report, now time.Time) Job {
	segs := make([]Segment, len(r.Segments))
	copy(segs, r.Segments)
	job.Status = StatusSuccess
	job.Progress = 100
	job.Text = r.Text
	job.Segments = segs
	job.Error = ""
	job.Failure = nil
	job.FinishedAt = now
	return job
}

func fail(job Job, reason string, cause error, now time.Time) Job {
	job.Status = StatusError
	job.Error = reason
	job.Failure = cause
	job.FinishedAt = now
	return job
}

func reportReason(r Report) string {
	if r.Error != "" {
		return r.Error
	}
	return ReasonJobFailed
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

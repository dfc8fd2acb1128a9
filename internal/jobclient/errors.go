package jobclient

import "fmt"

// SubmissionError is a submit call the Job Service did not accept.
type SubmissionError struct {
	StatusCode int // 0 when no response arrived
	Detail     string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("submit transcription: %v", e.Err)
	case e.Detail != "":
		return fmt.Sprintf("submit transcription: job service returned %d: %s", e.StatusCode, e.Detail)
	default:
		return fmt.Sprintf("submit transcription: job service returned %d", e.StatusCode)
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StatusFetchError is a status call that produced no usable report. It is
// distinct from a job that reports its own failure.
type StatusFetchError struct {
	JobID      string
	StatusCode int
	Err        error
}

func (e *StatusFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch status of job %s: %v", e.JobID, e.Err)
	}
	return fmt.Sprintf("fetch status of job %s: job service returned %d", e.JobID, e.StatusCode)
}

func (e *StatusFetchError) Unwrap() error { return e.Err }

// ExistsCheckError is an exists call that failed outright.
type ExistsCheckError struct {
	MediaKey   string
	StatusCode int
	Err        error
}

func (e *ExistsCheckError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("check existing transcript for %s: %v", e.MediaKey, e.Err)
	}
	return fmt.Sprintf("check existing transcript for %s: job service returned %d", e.MediaKey, e.StatusCode)
}

func (e *ExistsCheckError) Unwrap() error { return e.Err }

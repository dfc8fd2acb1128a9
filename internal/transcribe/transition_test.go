package transcribe

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func processingJob() Job {
	j, _ := Transition(Job{Status: StatusIdle}, Submitted{JobID: "42"}, 120, t0)
	return j
}

func TestTransitionSubmit(t *testing.T) {
	t.Run("idle_to_processing", func(t *testing.T) {
		j, dir := Transition(Job{Status: StatusIdle}, Submitted{JobID: "42", Language: "zh", Model: "turbo"}, 120, t0)
		if j.Status != StatusProcessing {
			t.Errorf("Status = %q, want processing", j.Status)
		}
		if dir != Poll {
			t.Errorf("dir = %v, want Poll", dir)
		}
		if j.Attempts != 0 || !j.StartedAt.Equal(t0) || j.JobID != "42" {
			t.Errorf("got %+v", j)
		}
		if j.Language != "zh" || j.Model != "turbo" {
			t.Errorf("Language/Model = %q/%q", j.Language, j.Model)
		}
	})

	t.Run("success_resubmit_restarts_attempts_and_clock", func(t *testing.T) {
		done := Job{Status: StatusSuccess, JobID: "1", Attempts: 7, StartedAt: t0, Segments: []Segment{{0, 1, "x"}}}
		later := t0.Add(time.Hour)
		j, _ := Transition(done, Submitted{JobID: "2"}, 120, later)
		if j.Attempts != 0 || !j.StartedAt.Equal(later) || len(j.Segments) != 0 {
			t.Errorf("got %+v", j)
		}
	})

	t.Run("processing_ignores_second_submit", func(t *testing.T) {
		j := processingJob()
		next, _ := Transition(j, Submitted{JobID: "99"}, 120, t0)
		if next.JobID != "42" {
			t.Errorf("JobID = %q, want 42", next.JobID)
		}
	})
}

func TestTransitionPolling(t *testing.T) {
	t.Run("processing_increments_attempts", func(t *testing.T) {
		j, dir := Transition(processingJob(), Polled{Report{Status: StatusProcessing, Progress: 10}}, 120, t0)
		if j.Attempts != 1 || j.Progress != 10 || dir != Poll {
			t.Errorf("Attempts = %d Progress = %d dir = %v", j.Attempts, j.Progress, dir)
		}
	})

	t.Run("progress_never_decreases", func(t *testing.T) {
		j := processingJob()
		for _, p := range []int{30, 20, 30, 150, -5} {
			j, _ = Transition(j, Polled{Report{Status: StatusProcessing, Progress: p}}, 120, t0)
		}
		if j.Progress != 100 {
			t.Errorf("Progress = %d, want 100", j.Progress)
		}
	})

	t.Run("success_copies_segments", func(t *testing.T) {
		segs := []Segment{{0, 5, "a"}, {5, 10, "b"}}
		j, dir := Transition(processingJob(), Polled{Report{Status: StatusSuccess, Text: "ab", Segments: segs}}, 120, t0.Add(time.Minute))
		if j.Status != StatusSuccess || dir != Stop {
			t.Fatalf("Status = %q dir = %v", j.Status, dir)
		}
		if len(j.Segments) != 2 || j.Segments[1].Text != "b" || j.Text != "ab" {
			t.Errorf("Segments = %+v Text = %q", j.Segments, j.Text)
		}
		segs[0].Text = "mutated"
		if j.Segments[0].Text != "a" {
			t.Error("segments share backing array with the report")
		}
		if j.Progress != 100 {
			t.Errorf("Progress = %d, want 100", j.Progress)
		}
	})

	t.Run("job_reported_error_is_terminal", func(t *testing.T) {
		j, dir := Transition(processingJob(), Polled{Report{Status: StatusError, Error: "decoder crashed"}}, 120, t0)
		if j.Status != StatusError || dir != Stop || j.Error != "decoder crashed" {
			t.Fatalf("got %+v dir=%v", j, dir)
		}
		var jre *JobReportedError
		if !errors.As(j.Failure, &jre) {
			t.Errorf("Failure = %v, want *JobReportedError", j.Failure)
		}
	})

	t.Run("job_reported_error_without_text_gets_reason", func(t *testing.T) {
		j, _ := Transition(processingJob(), Polled{Report{Status: StatusError}}, 120, t0)
		if j.Error != ReasonJobFailed {
			t.Errorf("Error = %q, want %q", j.Error, ReasonJobFailed)
		}
	})

	t.Run("ceiling_forces_timeout", func(t *testing.T) {
		j := processingJob()
		var dir Directive
		for i := 0; i < 3; i++ {
			j, dir = Transition(j, Polled{Report{Status: StatusProcessing}}, 3, t0)
		}
		if j.Status != StatusError || j.Error != ReasonTimeout || dir != Stop {
			t.Fatalf("got %+v dir=%v", j, dir)
		}
		var te *TimeoutError
		if !errors.As(j.Failure, &te) || te.Attempts != 3 {
			t.Errorf("Failure = %v, want *TimeoutError after 3", j.Failure)
		}
	})

	t.Run("fetch_failure_below_ceiling_is_transient", func(t *testing.T) {
		j, dir := Transition(processingJob(), PollFailed{Err: errors.New("connection reset")}, 3, t0)
		if j.Status != StatusProcessing || dir != Poll || j.Attempts != 1 {
			t.Errorf("got %+v dir=%v", j, dir)
		}
	})

	t.Run("fetch_failure_at_ceiling_escalates", func(t *testing.T) {
		cause := errors.New("connection reset")
		j := processingJob()
		for i := 0; i < 3; i++ {
			j, _ = Transition(j, PollFailed{Err: cause}, 3, t0)
		}
		if j.Status != StatusError || j.Error != ReasonFetchFailed {
			t.Fatalf("got %+v", j)
		}
		if !errors.Is(j.Failure, cause) {
			t.Errorf("Failure = %v, want wrapping cause", j.Failure)
		}
	})

	t.Run("terminal_ignores_late_polls", func(t *testing.T) {
		done := Job{Status: StatusSuccess, Segments: []Segment{{0, 1, "x"}}}
		j, dir := Transition(done, Polled{Report{Status: StatusError}}, 120, t0)
		if j.Status != StatusSuccess || dir != Stop {
			t.Errorf("got %+v dir=%v", j, dir)
		}
		j, _ = Transition(done, PollFailed{Err: errors.New("x")}, 120, t0)
		if j.Status != StatusSuccess {
			t.Errorf("Status = %q, want success", j.Status)
		}
	})
}

func TestTransitionSettle(t *testing.T) {
	t.Run("restore_success", func(t *testing.T) {
		j, dir := Transition(Job{Status: StatusIdle}, Restored{Report{Status: StatusSuccess, Text: "hi"}}, 120, t0)
		if j.Status != StatusSuccess || j.Text != "hi" || dir != Stop {
			t.Errorf("got %+v", j)
		}
	})

	t.Run("restore_error_report", func(t *testing.T) {
		j, _ := Transition(Job{Status: StatusIdle}, Restored{Report{Status: StatusError, Error: "bad file"}}, 120, t0)
		if j.Status != StatusError || j.Error != "bad file" {
			t.Errorf("got %+v", j)
		}
	})

	t.Run("reset_finished", func(t *testing.T) {
		j, _ := Transition(Job{Status: StatusSuccess, Segments: []Segment{{0, 1, "x"}}}, Reset{}, 120, t0)
		if j.Status != StatusIdle || len(j.Segments) != 0 {
			t.Errorf("got %+v", j)
		}
	})

	t.Run("reset_processing_refused", func(t *testing.T) {
		j, _ := Transition(processingJob(), Reset{}, 120, t0)
		if j.Status != StatusProcessing {
			t.Errorf("Status = %q, want processing", j.Status)
		}
	})

	t.Run("resume_restarts_attempts", func(t *testing.T) {
		j, dir := Transition(Job{Status: StatusIdle}, Resumed{JobID: "7"}, 120, t0)
		if j.Status != StatusProcessing || j.Attempts != 0 || j.JobID != "7" || dir != Poll {
			t.Errorf("got %+v", j)
		}
	})
}

func TestSnapshotElapsed(t *testing.T) {
	j := processingJob()
	snap := j.snapshot("1:a.mp4", t0.Add(90*time.Second))
	if snap.Elapsed() != 90*time.Second {
		t.Errorf("Elapsed = %s, want 1m30s", snap.Elapsed())
	}

	j, _ = Transition(j, Polled{Report{Status: StatusSuccess}}, 120, t0.Add(time.Minute))
	snap = j.snapshot("1:a.mp4", t0.Add(time.Hour))
	if snap.Elapsed() != time.Minute {
		t.Errorf("Elapsed after finish = %s, want 1m0s", snap.Elapsed())
	}

	idle := Job{Status: StatusIdle}.snapshot("k", t0)
	if idle.ElapsedSeconds != 0 || idle.StartedAt != nil {
		t.Errorf("idle snapshot = %+v", idle)
	}
}

func TestSnapshotFailureKind(t *testing.T) {
	tests := []struct {
		name string
		job  func() Job
		want string
	}{
		{"success", func() Job {
			j, _ := Transition(processingJob(), Polled{Report{Status: StatusSuccess}}, 120, t0)
			return j
		}, ""},
		{"reported", func() Job {
			j, _ := Transition(processingJob(), Polled{Report{Status: StatusError, Error: "bad audio"}}, 120, t0)
			return j
		}, "job_failed"},
		{"timeout", func() Job {
			j, _ := Transition(processingJob(), Polled{Report{Status: StatusProcessing}}, 1, t0)
			return j
		}, "timeout"},
		{"fetch_failed", func() Job {
			j, _ := Transition(processingJob(), PollFailed{Err: errors.New("refused")}, 1, t0)
			return j
		}, "fetch_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job().snapshot("k", t0).FailureKind(); got != tt.want {
				t.Errorf("FailureKind = %q, want %q", got, tt.want)
			}
		})
	}
}

package transcribe

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/media"
)

// SubmitRequest is the payload of a job submission.
type SubmitRequest struct {
	SourceID     string
	RelativePath string
	Language     string
	Model        string
	Force        bool
}

// Client is the subset of the Job Service the engine drives.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Status(ctx context.Context, jobID string) (Report, error)
}

// EngineOptions configures a polling engine.
type EngineOptions struct {
	Item        media.Item
	Client      Client
	Interval    time.Duration
	MaxAttempts int

	// OnChange receives every snapshot after a transition, in order.
	// It runs on the engine's goroutines and must neither block nor call
	// back into the engine.
	OnChange func(Snapshot)
	// OnPoll is told the outcome of every status call.
	OnPoll func(err error)

	Log zerolog.Logger
	Now func() time.Time
}

// Engine owns the transcription job of one player view. At most one
// polling loop runs per engine, and nothing mutates the job after Close.
type Engine struct {
	item   media.Item
	client Client
	opts   EngineOptions
	log    zerolog.Logger

	mu         sync.Mutex
	job        Job
	gen        uint64
	submitting bool
	closed     bool
	cancel     context.CancelFunc
	done       chan struct{}

	// notifyMu keeps OnChange calls in transition order.
	notifyMu sync.Mutex
}

// NewEngine creates an idle engine for one item.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 120
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	done := make(chan struct{})
	close(done)
	return &Engine{
		item:   opts.Item,
		client: opts.Client,
		opts:   opts,
		log:    opts.Log.With().Str("media", opts.Item.Key()).Logger(),
		job:    Job{Status: StatusIdle},
		done:   done,
	}
}

// Item returns the media item this engine transcribes.
func (e *Engine) Item() media.Item { return e.item }

// Snapshot returns the current job state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.snapshot(e.item.Key(), e.opts.Now())
}

// Done is closed when the current polling loop, if any, has exited.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// SubmitParams are the caller-chosen options of a submission.
type SubmitParams struct {
	Language string
	Model    string
	Force    bool
}

// Submit asks the Job Service for a new job and starts polling it. A
// submission fault leaves the current job untouched.
func (e *Engine) Submit(ctx context.Context, p SubmitParams) (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if e.job.Status == StatusProcessing || e.submitting {
		err := &AlreadyInProgressError{MediaKey: e.item.Key(), JobID: e.job.JobID}
		e.mu.Unlock()
		return Snapshot{}, err
	}
	e.submitting = true
	e.mu.Unlock()

	jobID, err := e.client.Submit(ctx, SubmitRequest{
		SourceID:     e.item.SourceID,
		RelativePath: e.item.RelativePath,
		Language:     p.Language,
		Model:        p.Model,
		Force:        p.Force,
	})

	e.mu.Lock()
	e.submitting = false
	if err != nil {
		e.mu.Unlock()
		e.log.Warn().Err(err).Msg("transcription submit failed")
		return Snapshot{}, err
	}
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	snap := e.applyLocked(Submitted{JobID: jobID, Language: p.Language, Model: p.Model})
	e.startLocked(jobID)
	e.notifyAndUnlock(snap)

	e.log.Info().
		Str("job_id", jobID).
		Str("language", p.Language).
		Str("model", p.Model).
		Bool("force", p.Force).
		Msg("transcription submitted")
	return snap, nil
}

// Resume attaches to a job that was already processing, restarting the
// attempt budget.
func (e *Engine) Resume(jobID string) (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if e.job.Status == StatusProcessing || e.submitting {
		err := &AlreadyInProgressError{MediaKey: e.item.Key(), JobID: e.job.JobID}
		e.mu.Unlock()
		return Snapshot{}, err
	}
	snap := e.applyLocked(Resumed{JobID: jobID})
	e.startLocked(jobID)
	e.notifyAndUnlock(snap)

	e.log.Info().Str("job_id", jobID).Msg("resumed polling")
	return snap, nil
}

// Restore applies a finished result without polling.
func (e *Engine) Restore(r Report) (Snapshot, error) {
	return e.settle(Restored{Report: r})
}

// Reset clears a finished job back to idle.
func (e *Engine) Reset() (Snapshot, error) {
	return e.settle(Reset{})
}

func (e *Engine) settle(ev Event) (Snapshot, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if e.job.Status == StatusProcessing || e.submitting {
		err := &AlreadyInProgressError{MediaKey: e.item.Key(), JobID: e.job.JobID}
		e.mu.Unlock()
		return Snapshot{}, err
	}
	snap := e.applyLocked(ev)
	e.notifyAndUnlock(snap)
	return snap, nil
}

// Close tears the engine down. The polling loop stops scheduling rounds
// and any status response still in flight is discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
}

// Closed reports whether Close has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// startLocked launches the polling loop for jobID. Caller holds mu.
func (e *Engine) startLocked(jobID string) {
	e.gen++
	if e.cancel != nil {
		e.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done
	go e.run(ctx, e.gen, jobID, done)
}

func (e *Engine) run(ctx context.Context, gen uint64, jobID string, done chan struct{}) {
	defer close(done)

	// Round one polls at once; later rounds wait Interval.
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		report, err := e.client.Status(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if e.opts.OnPoll != nil {
			e.opts.OnPoll(err)
		}

		var ev Event = Polled{Report: report}
		if err != nil {
			e.log.Warn().Err(err).Str("job_id", jobID).Msg("status poll failed, will retry")
			ev = PollFailed{Err: err}
		}

		dir, ok := e.advance(gen, ev)
		if !ok || dir == Stop {
			return
		}
		timer.Reset(e.opts.Interval)
	}
}

// advance applies a poll result unless the loop that produced it has been
// superseded or closed.
func (e *Engine) advance(gen uint64, ev Event) (Directive, bool) {
	e.mu.Lock()
	if e.closed || gen != e.gen {
		e.mu.Unlock()
		return Stop, false
	}
	next, dir := Transition(e.job, ev, e.opts.MaxAttempts, e.opts.Now())
	e.job = next
	snap := next.snapshot(e.item.Key(), e.opts.Now())
	if dir == Stop && e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.notifyAndUnlock(snap)

	if snap.Status.Terminal() {
		evt := e.log.Info()
		if snap.Status == StatusError {
			evt = e.log.Warn().Err(snap.Failure)
		}
		evt.Str("job_id", snap.JobID).
			Str("status", string(snap.Status)).
			Int("attempts", snap.Attempts).
			Int("segments", len(snap.Segments)).
			Msg("transcription finished")
	} else {
		e.log.Debug().Str("job_id", snap.JobID).Int("attempts", snap.Attempts).Int("progress", snap.Progress).Msg("poll round")
	}
	return dir, true
}

// applyLocked runs a transition. Caller holds mu.
func (e *Engine) applyLocked(ev Event) Snapshot {
	next, _ := Transition(e.job, ev, e.opts.MaxAttempts, e.opts.Now())
	e.job = next
	return next.snapshot(e.item.Key(), e.opts.Now())
}

// notifyAndUnlock releases mu and delivers snap, holding notifyMu across
// the handoff so observers see transitions in order.
func (e *Engine) notifyAndUnlock(snap Snapshot) {
	e.notifyMu.Lock()
	e.mu.Unlock()
	defer e.notifyMu.Unlock()
	if e.opts.OnChange != nil {
		e.opts.OnChange(snap)
	}
}

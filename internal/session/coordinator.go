package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/database"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/subtitle"
	"github.com/snarg/vidshelf/internal/transcribe"
)

var (
	// ErrConfirmationRequired rejects a submission that would replace an
	// existing transcript without the user's consent.
	ErrConfirmationRequired = errors.New("item already has a transcript; confirm to replace it")
	ErrUnsupportedLanguage  = errors.New("unsupported language")
	ErrUnsupportedModel     = errors.New("unsupported model")
	ErrSessionNotFound      = errors.New("session not found")
)

// JobService is the Job Service as the coordinator uses it.
type JobService interface {
	transcribe.Client
	Exists(ctx context.Context, item media.Item) (*transcribe.Report, error)
}

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Item       media.Item
	Jobs       JobService
	Memory     JobMemory
	Transcribe config.TranscribeConfig
	Poll       config.PollConfig

	// Claims is shared by every coordinator of one registry. Owner
	// identifies this coordinator's claims.
	Claims *Claims
	Owner  string

	// OnChange sees every snapshot; same contract as EngineOptions.OnChange.
	OnChange func(transcribe.Snapshot)
	OnPoll   func(error)
	// OnSubmit is told the outcome of every call to the Job Service's
	// submit endpoint.
	OnSubmit func(error)

	Log zerolog.Logger
	Now func() time.Time
}

// SubmitRequest is a user's request to transcribe the current item.
type SubmitRequest struct {
	Language  string `json:"language"`
	Model     string `json:"model"`
	Confirmed bool   `json:"confirm"`
}

// Coordinator drives one item's engine: it restores or resumes on
// activation and gates new submissions.
type Coordinator struct {
	item     media.Item
	engine   *transcribe.Engine
	jobs     JobService
	memory   JobMemory
	opts     config.TranscribeConfig
	claims   *Claims
	owner    string
	onSubmit func(error)
	log      zerolog.Logger

	trackMu sync.RWMutex
	track   *subtitle.Track
}

// NewCoordinator creates a coordinator with an idle engine.
func NewCoordinator(o CoordinatorOptions) *Coordinator {
	if o.Memory == nil {
		o.Memory = NewMemoryJobs()
	}
	if o.Claims == nil {
		o.Claims = NewClaims()
	}
	if o.Owner == "" {
		o.Owner = o.Item.Key()
	}
	c := &Coordinator{
		item:     o.Item,
		jobs:     o.Jobs,
		memory:   o.Memory,
		opts:     o.Transcribe,
		claims:   o.Claims,
		owner:    o.Owner,
		onSubmit: o.OnSubmit,
		log:      o.Log.With().Str("media", o.Item.Key()).Logger(),
		track:    subtitle.NewTrack(nil),
	}
	onChange := o.OnChange
	c.engine = transcribe.NewEngine(transcribe.EngineOptions{
		Item:        o.Item,
		Client:      o.Jobs,
		Interval:    o.Poll.Interval,
		MaxAttempts: o.Poll.MaxAttempts,
		OnChange: func(snap transcribe.Snapshot) {
			c.setTrack(snap)
			if onChange != nil {
				onChange(snap)
			}
		},
		OnPoll: o.OnPoll,
		Log:    o.Log,
		Now:    o.Now,
	})
	return c
}

func (c *Coordinator) Item() media.Item              { return c.item }
func (c *Coordinator) Snapshot() transcribe.Snapshot { return c.engine.Snapshot() }
func (c *Coordinator) Done() <-chan struct{}         { return c.engine.Done() }

// Track returns the subtitle track of the current transcript.
func (c *Coordinator) Track() *subtitle.Track {
	c.trackMu.RLock()
	defer c.trackMu.RUnlock()
	return c.track
}

func (c *Coordinator) setTrack(snap transcribe.Snapshot) {
	track := subtitle.NewTrack(snap.Segments)
	c.trackMu.Lock()
	c.track = track
	c.trackMu.Unlock()
}

// Activate settles the engine for a freshly opened view: a finished
// transcript is restored, a remembered job that is still processing is
// resumed, and anything else leaves the engine idle.
func (c *Coordinator) Activate(ctx context.Context) (transcribe.Snapshot, error) {
	existing, err := c.jobs.Exists(ctx, c.item)
	if err != nil {
		c.log.Warn().Err(err).Msg("existing transcript check failed, treating as none")
	}
	if existing != nil && existing.HasResult() {
		snap, err := c.engine.Restore(*existing)
		if err != nil {
			return c.engine.Snapshot(), err
		}
		c.forget()
		c.log.Debug().Int("segments", len(snap.Segments)).Msg("restored existing transcript")
		return snap, nil
	}

	remembered, err := c.memory.RecallJob(ctx, c.item.SourceID, c.item.RelativePath)
	if err != nil {
		c.log.Warn().Err(err).Msg("recall remembered job failed")
		return c.engine.Snapshot(), nil
	}
	if remembered == nil {
		return c.engine.Snapshot(), nil
	}

	report, err := c.jobs.Status(ctx, remembered.JobID)
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", remembered.JobID).Msg("remembered job status unavailable")
		return c.engine.Snapshot(), nil
	}
	if report.JobID == "" {
		report.JobID = remembered.JobID
	}

	switch report.Status {
	case transcribe.StatusSuccess, transcribe.StatusError:
		snap, err := c.engine.Restore(report)
		if err != nil {
			return c.engine.Snapshot(), err
		}
		c.forget()
		return snap, nil
	default:
		if !c.claims.Acquire(c.item.Key(), c.owner) {
			// Another view is already polling this job.
			owner, _ := c.claims.Owner(c.item.Key())
			c.log.Info().Str("job_id", remembered.JobID).Str("owner", owner).Msg("job followed by another view, not resuming")
			return c.engine.Snapshot(), nil
		}
		snap, err := c.engine.Resume(remembered.JobID)
		if err != nil {
			c.claims.Release(c.item.Key(), c.owner)
			return c.engine.Snapshot(), err
		}
		go c.watch(c.engine.Done(), remembered.JobID)
		return snap, nil
	}
}

// Submit starts a new transcription of the item.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) (transcribe.Snapshot, error) {
	lang := req.Language
	if lang == "" {
		lang = c.opts.DefaultLanguage
	}
	if !c.opts.HasLanguage(lang) {
		return transcribe.Snapshot{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	model := req.Model
	if model == "" {
		model = c.opts.DefaultModel
	}
	if !c.opts.HasModel(model) {
		return transcribe.Snapshot{}, fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}

	cur := c.engine.Snapshot()
	if cur.Status == transcribe.StatusProcessing {
		return transcribe.Snapshot{}, &transcribe.AlreadyInProgressError{MediaKey: c.item.Key(), JobID: cur.JobID}
	}
	hasResult := cur.Status == transcribe.StatusSuccess || len(cur.Segments) > 0
	if hasResult && !req.Confirmed {
		return transcribe.Snapshot{}, ErrConfirmationRequired
	}

	key := c.item.Key()
	if !c.claims.Acquire(key, c.owner) {
		return transcribe.Snapshot{}, &transcribe.AlreadyInProgressError{MediaKey: key}
	}
	// A concurrent submit from this view holds the same claim; only the
	// call that got through to the engine may give it back.
	releaseClaim := func(err error) {
		if !errors.Is(err, transcribe.ErrAlreadyInProgress) {
			c.claims.Release(key, c.owner)
		}
	}

	// A confirmed replacement drops the old result before submitting.
	if hasResult {
		if _, err := c.engine.Reset(); err != nil {
			releaseClaim(err)
			return transcribe.Snapshot{}, err
		}
	}

	snap, err := c.engine.Submit(ctx, transcribe.SubmitParams{
		Language: lang,
		Model:    model,
		Force:    true,
	})
	if c.onSubmit != nil && !errors.Is(err, transcribe.ErrClosed) && !errors.Is(err, transcribe.ErrAlreadyInProgress) {
		c.onSubmit(err)
	}
	if err != nil {
		releaseClaim(err)
		return transcribe.Snapshot{}, err
	}

	err = c.memory.RememberJob(ctx, database.RememberedJob{
		SourceID:     c.item.SourceID,
		RelativePath: c.item.RelativePath,
		JobID:        snap.JobID,
		Language:     lang,
		Model:        model,
		SessionID:    c.owner,
		SubmittedAt:  time.Now(),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("job_id", snap.JobID).Msg("remember job failed, reload will not resume it")
	}

	go c.watch(c.engine.Done(), snap.JobID)
	return snap, nil
}

// watch waits for a polling loop to exit. A terminal job is forgotten;
// a loop stopped by Close keeps its remembered job for the next view.
func (c *Coordinator) watch(done <-chan struct{}, jobID string) {
	<-done
	snap := c.engine.Snapshot()
	if snap.JobID != jobID {
		return
	}
	c.claims.Release(c.item.Key(), c.owner)
	if snap.Status.Terminal() {
		c.forget()
	}
}

func (c *Coordinator) forget() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.memory.ForgetJob(ctx, c.item.SourceID, c.item.RelativePath); err != nil {
		c.log.Warn().Err(err).Msg("forget remembered job failed")
	}
}

// Subtitle returns the segment on screen at playback time t.
func (c *Coordinator) Subtitle(t float64) (int, transcribe.Segment, bool) {
	track := c.Track()
	idx, ok := track.Active(t)
	if !ok {
		return -1, transcribe.Segment{}, false
	}
	seg, _ := track.Segment(idx)
	return idx, seg, true
}

// Select returns the position to seek to for segment i.
func (c *Coordinator) Select(i int) (float64, error) {
	return c.Track().Select(i)
}

// Close tears down the view. A processing job keeps running on the Job
// Service and stays remembered.
func (c *Coordinator) Close() {
	c.engine.Close()
	c.claims.Release(c.item.Key(), c.owner)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/vidshelf/internal/config"
	"github.com/snarg/vidshelf/internal/database"
	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/transcribe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJobs is a Job Service whose reports are scripted per job id. The
// last report of a job repeats once its script runs out.
type fakeJobs struct {
	mu        sync.Mutex
	existing  *transcribe.Report
	existsErr error
	reports   map[string][]transcribe.Report
	statusErr error
	submitErr error
	submits   []transcribe.SubmitRequest
	statuses  int
	nextID    int

	// When gate is set, Submit signals entered and then blocks until gate
	// is closed.
	gate    chan struct{}
	entered chan struct{}

	onExists func()
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{reports: make(map[string][]transcribe.Report)}
}

func (f *fakeJobs) script(jobID string, reports ...transcribe.Report) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports[jobID] = reports
}

func (f *fakeJobs) Submit(_ context.Context, req transcribe.SubmitRequest) (string, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	f.mu.Unlock()
	if gate != nil {
		entered <- struct{}{}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	return fmt.Sprintf("job-%d", f.nextID), nil
}

func (f *fakeJobs) Status(_ context.Context, jobID string) (transcribe.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses++
	if f.statusErr != nil {
		return transcribe.Report{}, f.statusErr
	}
	script := f.reports[jobID]
	if len(script) == 0 {
		return transcribe.Report{JobID: jobID, Status: transcribe.StatusProcessing}, nil
	}
	r := script[0]
	if len(script) > 1 {
		f.reports[jobID] = script[1:]
	}
	r.JobID = jobID
	return r, nil
}

func (f *fakeJobs) Exists(_ context.Context, _ media.Item) (*transcribe.Report, error) {
	f.mu.Lock()
	hook := f.onExists
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.existing, f.existsErr
}

func (f *fakeJobs) counts() (submits, statuses int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits), f.statuses
}

func (f *fakeJobs) lastSubmit() transcribe.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits[len(f.submits)-1]
}

// testPoll polls fast but leaves a processing job processing for
// longer than any test runs.
var testPoll = config.PollConfig{Interval: 2 * time.Millisecond, MaxAttempts: 10000}

var testItem = media.Item{SourceID: "lib", RelativePath: "shows/ep1.mp4"}

func testTranscribeConfig() config.TranscribeConfig {
	return config.TranscribeConfig{
		Languages:       []string{"zh", "en", "auto"},
		Models:          []string{"base", "turbo"},
		DefaultLanguage: "zh",
		DefaultModel:    "base",
	}
}

func newTestCoordinator(jobs *fakeJobs, mem JobMemory) *Coordinator {
	return NewCoordinator(CoordinatorOptions{
		Item:       testItem,
		Jobs:       jobs,
		Memory:     mem,
		Transcribe: testTranscribeConfig(),
		Poll:       testPoll,
		Log:        zerolog.Nop(),
	})
}

func success(text string) transcribe.Report {
	return transcribe.Report{
		Status:   transcribe.StatusSuccess,
		Text:     text,
		Segments: []transcribe.Segment{{Start: 0, End: 2, Text: text}},
	}
}

func waitStatus(t *testing.T, c *Coordinator, want transcribe.Status) transcribe.Snapshot {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Snapshot().Status == want
	}, 2*time.Second, time.Millisecond)
	return c.Snapshot()
}

func remembered(t *testing.T, mem JobMemory) *database.RememberedJob {
	t.Helper()
	j, err := mem.RecallJob(context.Background(), testItem.SourceID, testItem.RelativePath)
	require.NoError(t, err)
	return j
}

func TestActivateRestoresExistingTranscript(t *testing.T) {
	jobs := newFakeJobs()
	r := success("hello")
	jobs.existing = &r
	mem := NewMemoryJobs()
	require.NoError(t, mem.RememberJob(context.Background(), database.RememberedJob{
		SourceID: testItem.SourceID, RelativePath: testItem.RelativePath, JobID: "old",
	}))

	c := newTestCoordinator(jobs, mem)
	defer c.Close()
	snap, err := c.Activate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, transcribe.StatusSuccess, snap.Status)
	assert.Len(t, snap.Segments, 1)
	submits, statuses := jobs.counts()
	assert.Zero(t, submits)
	assert.Zero(t, statuses)
	assert.Nil(t, remembered(t, mem), "restored item should not keep a remembered job")

	idx, seg, ok := c.Subtitle(1)
	assert.True(t, ok)
	assert.Equal(t, 0, idx)
	assert.Equal(t, "hello", seg.Text)
}

func TestActivateExistsFailureIsNone(t *testing.T) {
	jobs := newFakeJobs()
	jobs.existsErr = errors.New("connection refused")

	c := newTestCoordinator(jobs, nil)
	defer c.Close()
	snap, err := c.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusIdle, snap.Status)
}

func TestActivateResumesRememberedJob(t *testing.T) {
	jobs := newFakeJobs()
	jobs.script("job-7",
		transcribe.Report{Status: transcribe.StatusProcessing, Progress: 30},
		transcribe.Report{Status: transcribe.StatusProcessing, Progress: 60},
		success("done"),
	)
	mem := NewMemoryJobs()
	require.NoError(t, mem.RememberJob(context.Background(), database.RememberedJob{
		SourceID: testItem.SourceID, RelativePath: testItem.RelativePath, JobID: "job-7",
	}))

	c := newTestCoordinator(jobs, mem)
	defer c.Close()
	snap, err := c.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusProcessing, snap.Status)
	assert.Equal(t, "job-7", snap.JobID)
	assert.Zero(t, snap.Attempts)

	final := waitStatus(t, c, transcribe.StatusSuccess)
	assert.Equal(t, "done", final.Text)
	<-c.Done()
	require.Eventually(t, func() bool { return remembered(t, mem) == nil }, time.Second, time.Millisecond)

	submits, _ := jobs.counts()
	assert.Zero(t, submits)
}

func TestActivateRememberedJobAlreadyFinished(t *testing.T) {
	tests := []struct {
		name   string
		report transcribe.Report
		want   transcribe.Status
	}{
		{"success", success("text"), transcribe.StatusSuccess},
		{"error", transcribe.Report{Status: transcribe.StatusError, Error: "bad audio"}, transcribe.StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeJobs()
			jobs.script("job-1", tt.report)
			mem := NewMemoryJobs()
			require.NoError(t, mem.RememberJob(context.Background(), database.RememberedJob{
				SourceID: testItem.SourceID, RelativePath: testItem.RelativePath, JobID: "job-1",
			}))

			c := newTestCoordinator(jobs, mem)
			defer c.Close()
			snap, err := c.Activate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, snap.Status)
			assert.Nil(t, remembered(t, mem))
		})
	}
}

func TestActivateRememberedStatusFailureLeavesIdle(t *testing.T) {
	jobs := newFakeJobs()
	jobs.statusErr = errors.New("timeout")
	mem := NewMemoryJobs()
	require.NoError(t, mem.RememberJob(context.Background(), database.RememberedJob{
		SourceID: testItem.SourceID, RelativePath: testItem.RelativePath, JobID: "job-1",
	}))

	c := newTestCoordinator(jobs, mem)
	defer c.Close()
	snap, err := c.Activate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusIdle, snap.Status)
	assert.NotNil(t, remembered(t, mem), "a later view may still resume the job")
}

func TestSubmitDefaultsAndValidation(t *testing.T) {
	t.Run("defaults_applied_and_force_sent", func(t *testing.T) {
		jobs := newFakeJobs()
		mem := NewMemoryJobs()
		c := newTestCoordinator(jobs, mem)
		defer c.Close()

		snap, err := c.Submit(context.Background(), SubmitRequest{})
		require.NoError(t, err)
		assert.Equal(t, transcribe.StatusProcessing, snap.Status)

		req := jobs.lastSubmit()
		assert.Equal(t, "zh", req.Language)
		assert.Equal(t, "base", req.Model)
		assert.True(t, req.Force)
		assert.Equal(t, testItem.SourceID, req.SourceID)
		assert.Equal(t, testItem.RelativePath, req.RelativePath)

		j := remembered(t, mem)
		require.NotNil(t, j)
		assert.Equal(t, snap.JobID, j.JobID)
	})

	t.Run("unsupported_language", func(t *testing.T) {
		c := newTestCoordinator(newFakeJobs(), nil)
		defer c.Close()
		_, err := c.Submit(context.Background(), SubmitRequest{Language: "fr"})
		assert.ErrorIs(t, err, ErrUnsupportedLanguage)
	})

	t.Run("unsupported_model", func(t *testing.T) {
		c := newTestCoordinator(newFakeJobs(), nil)
		defer c.Close()
		_, err := c.Submit(context.Background(), SubmitRequest{Model: "huge"})
		assert.ErrorIs(t, err, ErrUnsupportedModel)
	})
}

func TestSubmitRequiresConfirmationOverResult(t *testing.T) {
	jobs := newFakeJobs()
	r := success("old")
	jobs.existing = &r
	c := newTestCoordinator(jobs, nil)
	defer c.Close()
	_, err := c.Activate(context.Background())
	require.NoError(t, err)

	_, err = c.Submit(context.Background(), SubmitRequest{Language: "en"})
	require.ErrorIs(t, err, ErrConfirmationRequired)
	assert.Equal(t, transcribe.StatusSuccess, c.Snapshot().Status, "refused submit must not touch the result")
	submits, _ := jobs.counts()
	assert.Zero(t, submits)

	snap, err := c.Submit(context.Background(), SubmitRequest{Language: "en", Confirmed: true})
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusProcessing, snap.Status)
	assert.Empty(t, snap.Segments)
	assert.True(t, jobs.lastSubmit().Force)
}

func TestSubmitFailureKeepsState(t *testing.T) {
	jobs := newFakeJobs()
	jobs.submitErr = errors.New("service unavailable")
	mem := NewMemoryJobs()
	c := newTestCoordinator(jobs, mem)
	defer c.Close()

	_, err := c.Submit(context.Background(), SubmitRequest{})
	require.Error(t, err)
	assert.Equal(t, transcribe.StatusIdle, c.Snapshot().Status)
	assert.Nil(t, remembered(t, mem))
	assert.Zero(t, c.claims.Len())
}

func TestSubmitConfirmedFailureClearsResult(t *testing.T) {
	jobs := newFakeJobs()
	r := success("old")
	jobs.existing = &r
	c := newTestCoordinator(jobs, nil)
	defer c.Close()
	_, err := c.Activate(context.Background())
	require.NoError(t, err)

	jobs.mu.Lock()
	jobs.submitErr = errors.New("service unavailable")
	jobs.mu.Unlock()

	_, err = c.Submit(context.Background(), SubmitRequest{Confirmed: true})
	require.Error(t, err)
	snap := c.Snapshot()
	assert.Equal(t, transcribe.StatusIdle, snap.Status)
	assert.Empty(t, snap.Segments)
	assert.Zero(t, c.Track().Len())
	assert.Zero(t, c.claims.Len())

	// Idle now, so the next submit needs no confirmation.
	jobs.mu.Lock()
	jobs.submitErr = nil
	jobs.mu.Unlock()
	snap, err = c.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusProcessing, snap.Status)
}

func TestSubmitWhileProcessing(t *testing.T) {
	c := newTestCoordinator(newFakeJobs(), nil)
	defer c.Close()

	_, err := c.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)
	_, err = c.Submit(context.Background(), SubmitRequest{Confirmed: true})
	assert.ErrorIs(t, err, transcribe.ErrAlreadyInProgress)
}

func TestCloseKeepsRememberedJob(t *testing.T) {
	jobs := newFakeJobs()
	mem := NewMemoryJobs()
	c := newTestCoordinator(jobs, mem)

	snap, err := c.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)
	c.Close()
	<-c.Done()

	j := remembered(t, mem)
	require.NotNil(t, j)
	assert.Equal(t, snap.JobID, j.JobID)
	require.Eventually(t, func() bool { return c.claims.Len() == 0 }, time.Second, time.Millisecond)
}

func newTestRegistry(jobs *fakeJobs, mem JobMemory) *Registry {
	return NewRegistry(Options{
		Jobs:       jobs,
		Memory:     mem,
		Transcribe: testTranscribeConfig(),
		Poll:       testPoll,
		Log:        zerolog.Nop(),
	})
}

func TestRegistryOpenGetClose(t *testing.T) {
	var mu sync.Mutex
	var changes, closes int
	reg := NewRegistry(Options{
		Jobs:       newFakeJobs(),
		Transcribe: testTranscribeConfig(),
		Poll:       testPoll,
		OnChange: func(s *Session, snap transcribe.Snapshot) {
			mu.Lock()
			changes++
			mu.Unlock()
		},
		OnClose: func(s *Session) {
			mu.Lock()
			closes++
			mu.Unlock()
		},
		Log: zerolog.Nop(),
	})

	s, snap, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusIdle, snap.Status)
	assert.NotEmpty(t, s.ID)

	got, err := reg.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	_, err = s.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)
	assert.Equal(t, Stats{Sessions: 1, Processing: 1, Claims: 1}, reg.Stats())

	require.NoError(t, reg.Close(s.ID))
	_, err = reg.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, reg.Close(s.ID), ErrSessionNotFound)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, closes)
	assert.GreaterOrEqual(t, changes, 1)
}

func TestRegistryOpenRejectsInvalidItem(t *testing.T) {
	reg := newTestRegistry(newFakeJobs(), nil)
	_, _, err := reg.Open(context.Background(), media.Item{SourceID: "lib"})
	assert.Error(t, err)
	assert.Zero(t, reg.Stats().Sessions)
}

func TestRegistrySecondViewCannotSubmit(t *testing.T) {
	jobs := newFakeJobs()
	reg := newTestRegistry(jobs, nil)
	defer reg.CloseAll()

	first, _, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)
	second, _, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)

	_, err = first.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)

	_, err = second.Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, transcribe.ErrAlreadyInProgress)
	submits, _ := jobs.counts()
	assert.Equal(t, 1, submits)

	require.NoError(t, reg.Close(first.ID))
	require.Eventually(t, func() bool {
		_, err := second.Submit(context.Background(), SubmitRequest{})
		return err == nil
	}, time.Second, time.Millisecond)
}

func TestRegistrySecondViewDoesNotResumeFollowedJob(t *testing.T) {
	jobs := newFakeJobs()
	mem := NewMemoryJobs()
	reg := newTestRegistry(jobs, mem)
	defer reg.CloseAll()

	first, _, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)
	submitted, err := first.Submit(context.Background(), SubmitRequest{})
	require.NoError(t, err)
	require.NotNil(t, remembered(t, mem))

	second, snap, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusIdle, snap.Status)
	assert.Equal(t, transcribe.StatusIdle, second.Snapshot().Status)
	assert.Equal(t, Stats{Sessions: 2, Processing: 1, Claims: 1}, reg.Stats())
	owner, ok := reg.claims.Owner(testItem.Key())
	require.True(t, ok)
	assert.Equal(t, first.ID, owner)

	_, err = second.Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, transcribe.ErrAlreadyInProgress)

	// Once the first view is gone, a new view picks the job up again.
	require.NoError(t, reg.Close(first.ID))
	require.Eventually(t, func() bool { return reg.claims.Len() == 0 }, time.Second, time.Millisecond)
	third, snap, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)
	assert.Equal(t, transcribe.StatusProcessing, snap.Status)
	assert.Equal(t, submitted.JobID, snap.JobID)
	owner, _ = reg.claims.Owner(testItem.Key())
	assert.Equal(t, third.ID, owner)
}

func TestRegistryConcurrentSubmitFromOneViewKeepsClaim(t *testing.T) {
	jobs := newFakeJobs()
	jobs.gate = make(chan struct{})
	jobs.entered = make(chan struct{}, 1)
	reg := newTestRegistry(jobs, nil)
	defer reg.CloseAll()

	a, _, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)
	b, _, err := reg.Open(context.Background(), testItem)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := a.Submit(context.Background(), SubmitRequest{})
		errc <- err
	}()
	<-jobs.entered

	_, err = a.Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, transcribe.ErrAlreadyInProgress)
	owner, ok := reg.claims.Owner(testItem.Key())
	require.True(t, ok, "claim dropped while the first submit is in flight")
	assert.Equal(t, a.ID, owner)

	_, err = b.Submit(context.Background(), SubmitRequest{})
	assert.ErrorIs(t, err, transcribe.ErrAlreadyInProgress)

	close(jobs.gate)
	require.NoError(t, <-errc)
	submits, _ := jobs.counts()
	assert.Equal(t, 1, submits)
	assert.Equal(t, Stats{Sessions: 2, Processing: 1, Claims: 1}, reg.Stats())
}

func TestRegistryOpenFailureIsNotAnnounced(t *testing.T) {
	jobs := newFakeJobs()
	r := success("old")
	jobs.existing = &r
	var closes int
	reg := NewRegistry(Options{
		Jobs:       jobs,
		Transcribe: testTranscribeConfig(),
		Poll:       testPoll,
		OnClose:    func(s *Session) { closes++ },
		Log:        zerolog.Nop(),
	})
	// Tear the engine down mid-activation so the restore is refused.
	jobs.onExists = func() {
		for _, s := range reg.List() {
			s.Coordinator.Close()
		}
	}

	_, _, err := reg.Open(context.Background(), testItem)
	require.ErrorIs(t, err, transcribe.ErrClosed)
	assert.Zero(t, closes)
	assert.Zero(t, reg.Stats().Sessions)
}

func TestRegistryCloseAll(t *testing.T) {
	reg := newTestRegistry(newFakeJobs(), nil)
	for i := 0; i < 3; i++ {
		item := media.Item{SourceID: "lib", RelativePath: fmt.Sprintf("v%d.mp4", i)}
		_, _, err := reg.Open(context.Background(), item)
		require.NoError(t, err)
	}
	assert.Len(t, reg.List(), 3)
	reg.CloseAll()
	assert.Zero(t, reg.Stats().Sessions)
}

func TestMemoryJobsList(t *testing.T) {
	mem := NewMemoryJobs()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, src := range []string{"a", "b", "a"} {
		require.NoError(t, mem.RememberJob(ctx, database.RememberedJob{
			SourceID: src, RelativePath: fmt.Sprintf("%d.mp4", i), JobID: fmt.Sprint(i),
			SubmittedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	all, err := mem.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "2", all[0].JobID)

	onlyA, err := mem.ListJobs(ctx, "a", 1)
	require.NoError(t, err)
	require.Len(t, onlyA, 1)
	assert.Equal(t, "2", onlyA[0].JobID)

	require.NoError(t, mem.ForgetJob(ctx, "a", "0.mp4"))
	all, _ = mem.ListJobs(ctx, "", 0)
	assert.Len(t, all, 2)
}

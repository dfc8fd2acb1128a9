package mqttclient

import (
	"time"

	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/transcribe"
)

// JobEvent is the payload published for every job state change.
type JobEvent struct {
	SessionID      string            `json:"session_id"`
	SourceID       string            `json:"source_id"`
	RelativePath   string            `json:"relative_path"`
	JobID          string            `json:"job_id,omitempty"`
	Status         transcribe.Status `json:"status"`
	Progress       int               `json:"progress"`
	Segments       int               `json:"segments"`
	Error          string            `json:"error,omitempty"`
	ElapsedSeconds float64           `json:"elapsed_seconds"`
	Language       string            `json:"language,omitempty"`
	Model          string            `json:"model,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NewJobEvent summarizes a snapshot. Segment text is left out; subscribers
// fetch the transcript from the Job Service.
func NewJobEvent(sessionID string, item media.Item, snap transcribe.Snapshot, now time.Time) JobEvent {
	return JobEvent{
		SessionID:      sessionID,
		SourceID:       item.SourceID,
		RelativePath:   item.RelativePath,
		JobID:          snap.JobID,
		Status:         snap.Status,
		Progress:       snap.Progress,
		Segments:       len(snap.Segments),
		Error:          snap.Error,
		ElapsedSeconds: snap.ElapsedSeconds,
		Language:       snap.Language,
		Model:          snap.Model,
		Timestamp:      now.UTC(),
	}
}

// PublishSnapshot publishes a job state change for an item. Terminal
// states are retained.
func (c *Client) PublishSnapshot(sessionID string, item media.Item, snap transcribe.Snapshot) {
	c.Publish(item.SourceID, item.RelativePath, snap.Status.Terminal(), NewJobEvent(sessionID, item, snap, time.Now()))
}

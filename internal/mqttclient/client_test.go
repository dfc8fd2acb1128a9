package mqttclient

import (
	"testing"
	"time"

	"github.com/snarg/vidshelf/internal/media"
	"github.com/snarg/vidshelf/internal/transcribe"
)

func TestTopic(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		source string
		path   string
		want   string
	}{
		{"with_prefix", "vidshelf", "lib", "shows/ep1.mp4", "vidshelf/transcripts/lib/shows/ep1.mp4"},
		{"no_prefix", "", "lib", "a.mp4", "transcripts/lib/a.mp4"},
		{"wildcards_replaced", "vs", "lib", "a+b/#1.mp4", "vs/transcripts/lib/a_b/_1.mp4"},
		{"slashes_trimmed", "vs", "lib", "/a.mp4/", "vs/transcripts/lib/a.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Topic(tt.prefix, tt.source, tt.path); got != tt.want {
				t.Errorf("Topic() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPublishSkippedWhileDisconnected(t *testing.T) {
	c := &Client{topicPrefix: "vs"}
	c.Publish("lib", "a.mp4", false, map[string]string{"status": "processing"})
	if n := c.PublishedCount(); n != 0 {
		t.Errorf("PublishedCount = %d, want 0", n)
	}
}

func TestNewJobEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CST", 8*3600))
	item := media.Item{SourceID: "lib", RelativePath: "shows/ep1.mp4"}
	snap := transcribe.Snapshot{
		JobID:    "job-9",
		Status:   transcribe.StatusError,
		Progress: 40,
		Segments: []transcribe.Segment{{Start: 0, End: 1, Text: "a"}},
		Error:    "timeout",
	}
	ev := NewJobEvent("sess-1", item, snap, now)
	if ev.SourceID != "lib" || ev.RelativePath != "shows/ep1.mp4" || ev.SessionID != "sess-1" {
		t.Errorf("identity fields = %+v", ev)
	}
	if ev.Segments != 1 || ev.Error != "timeout" || ev.Status != transcribe.StatusError {
		t.Errorf("job fields = %+v", ev)
	}
	if ev.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", ev.Timestamp)
	}
}

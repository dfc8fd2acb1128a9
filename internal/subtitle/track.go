package subtitle

import (
	"errors"
	"math"
	"sort"

	"github.com/snarg/vidshelf/internal/transcribe"
)

// ErrSegmentOutOfRange is returned when selecting a segment index that does
// not exist.
var ErrSegmentOutOfRange = errors.New("segment index out of range")

// Track answers "which segment is on screen at time t" for one transcript.
// Segments are expected sorted by start and non-overlapping; when they are
// not, lookups fall back to a first-match scan over the original order.
type Track struct {
	segments []transcribe.Segment
	sorted   bool
}

// NewTrack indexes a segment list. The slice is copied, never reordered.
func NewTrack(segments []transcribe.Segment) *Track {
	segs := make([]transcribe.Segment, len(segments))
	copy(segs, segments)
	return &Track{
		segments: segs,
		sorted: sort.SliceIsSorted(segs, func(i, j int) bool {
			return segs[i].Start < segs[j].Start
		}),
	}
}

// Len returns the number of segments.
func (tr *Track) Len() int { return len(tr.segments) }

// Segment returns segment i.
func (tr *Track) Segment(i int) (transcribe.Segment, bool) {
	if i < 0 || i >= len(tr.segments) {
		return transcribe.Segment{}, false
	}
	return tr.segments[i], true
}

// Segments returns a copy of all segments.
func (tr *Track) Segments() []transcribe.Segment {
	out := make([]transcribe.Segment, len(tr.segments))
	copy(out, tr.segments)
	return out
}

// Active returns the index of the segment covering t. At a boundary shared
// by two segments the later one wins, since intervals are closed at start.
func (tr *Track) Active(t float64) (int, bool) {
	if len(tr.segments) == 0 || math.IsNaN(t) || t < 0 {
		return -1, false
	}
	if !tr.sorted {
		return tr.scan(t)
	}

	// Last segment whose start <= t.
	i := sort.Search(len(tr.segments), func(i int) bool {
		return tr.segments[i].Start > t
	}) - 1
	if i < 0 {
		return -1, false
	}
	if t <= tr.segments[i].End {
		return i, true
	}
	return -1, false
}

func (tr *Track) scan(t float64) (int, bool) {
	for i, s := range tr.segments {
		if s.Start <= t && t <= s.End {
			return i, true
		}
	}
	return -1, false
}

// Select returns the playback position to seek to for segment i.
func (tr *Track) Select(i int) (float64, error) {
	s, ok := tr.Segment(i)
	if !ok {
		return 0, ErrSegmentOutOfRange
	}
	return s.Start, nil
}

// Follower tracks the active segment across a stream of playback positions
// and reports only changes.
type Follower struct {
	track  *Track
	active int
}

// NewFollower starts with no active segment.
func NewFollower(track *Track) *Follower {
	return &Follower{track: track, active: -1}
}

// Update moves to position t. It returns the new active index (-1 for
// none) and whether it differs from the previous one.
func (f *Follower) Update(t float64) (int, bool) {
	idx, ok := f.track.Active(t)
	if !ok {
		idx = -1
	}
	changed := idx != f.active
	f.active = idx
	return idx, changed
}

// SetTrack swaps in a new transcript and forgets the active segment.
func (f *Follower) SetTrack(track *Track) {
	f.track = track
	f.active = -1
}

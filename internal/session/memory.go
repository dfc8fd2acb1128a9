package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/snarg/vidshelf/internal/database"
	"github.com/snarg/vidshelf/internal/media"
)

// JobMemory remembers the last submitted job per media item so a reloaded
// view can resume it. *database.DB implements it.
type JobMemory interface {
	RememberJob(ctx context.Context, j database.RememberedJob) error
	RecallJob(ctx context.Context, sourceID, relativePath string) (*database.RememberedJob, error)
	ForgetJob(ctx context.Context, sourceID, relativePath string) error
}

var _ JobMemory = (*database.DB)(nil)

// MemoryJobs is an in-process JobMemory, used when no database is
// configured. Remembered jobs do not survive a restart.
type MemoryJobs struct {
	mu   sync.Mutex
	jobs map[string]database.RememberedJob
}

func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: make(map[string]database.RememberedJob)}
}

func (m *MemoryJobs) RememberJob(_ context.Context, j database.RememberedJob) error {
	if j.SubmittedAt.IsZero() {
		j.SubmittedAt = time.Now()
	}
	key := media.Item{SourceID: j.SourceID, RelativePath: j.RelativePath}.Key()
	m.mu.Lock()
	m.jobs[key] = j
	m.mu.Unlock()
	return nil
}

func (m *MemoryJobs) RecallJob(_ context.Context, sourceID, relativePath string) (*database.RememberedJob, error) {
	key := media.Item{SourceID: sourceID, RelativePath: relativePath}.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[key]
	if !ok {
		return nil, nil
	}
	return &j, nil
}

func (m *MemoryJobs) ForgetJob(_ context.Context, sourceID, relativePath string) error {
	key := media.Item{SourceID: sourceID, RelativePath: relativePath}.Key()
	m.mu.Lock()
	delete(m.jobs, key)
	m.mu.Unlock()
	return nil
}

// ListJobs returns remembered jobs, newest first.
func (m *MemoryJobs) ListJobs(_ context.Context, sourceID string, limit int) ([]database.RememberedJob, error) {
	m.mu.Lock()
	out := make([]database.RememberedJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		if sourceID == "" || j.SourceID == sourceID {
			out = append(out, j)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

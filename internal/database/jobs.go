package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// RememberedJob is the job id last submitted for a media item, kept so a
// reloaded player view can resume polling it.
type RememberedJob struct {
	SourceID     string    `json:"source_id"`
	RelativePath string    `json:"relative_path"`
	JobID        string    `json:"job_id"`
	Language     string    `json:"language,omitempty"`
	Model        string    `json:"model,omitempty"`
	SessionID    string    `json:"session_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// RememberJob stores or replaces the remembered job of an item.
func (db *DB) RememberJob(ctx context.Context, j RememberedJob) error {
	submitted := j.SubmittedAt
	if submitted.IsZero() {
		submitted = time.Now()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO remembered_jobs (source_id, relative_path, job_id, language, model, session_id, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_id, relative_path) DO UPDATE SET
			job_id       = EXCLUDED.job_id,
			language     = EXCLUDED.language,
			model        = EXCLUDED.model,
			session_id   = EXCLUDED.session_id,
			submitted_at = EXCLUDED.submitted_at
	`, j.SourceID, j.RelativePath, j.JobID, j.Language, j.Model, j.SessionID, submitted)
	return err
}

// RecallJob returns the remembered job of an item, or nil if none.
func (db *DB) RecallJob(ctx context.Context, sourceID, relativePath string) (*RememberedJob, error) {
	var j RememberedJob
	err := db.Pool.QueryRow(ctx, `
		SELECT source_id, relative_path, job_id, language, model, session_id, submitted_at
		FROM remembered_jobs
		WHERE source_id = $1 AND relative_path = $2
	`, sourceID, relativePath).Scan(&j.SourceID, &j.RelativePath, &j.JobID, &j.Language, &j.Model, &j.SessionID, &j.SubmittedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// ForgetJob removes the remembered job of an item. Forgetting an item
// with nothing remembered is not an error.
func (db *DB) ForgetJob(ctx context.Context, sourceID, relativePath string) error {
	_, err := db.Pool.Exec(ctx,
		`DELETE FROM remembered_jobs WHERE source_id = $1 AND relative_path = $2`,
		sourceID, relativePath,
	)
	return err
}

// ListJobs returns remembered jobs, newest first. An empty sourceID lists
// every source.
func (db *DB) ListJobs(ctx context.Context, sourceID string, limit int) ([]RememberedJob, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT source_id, relative_path, job_id, language, model, session_id, submitted_at
		FROM remembered_jobs
		WHERE ($1::text IS NULL OR source_id = $1)
		ORDER BY submitted_at DESC
		LIMIT $2
	`, pqString(sourceID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := []RememberedJob{}
	for rows.Next() {
		var j RememberedJob
		if err := rows.Scan(&j.SourceID, &j.RelativePath, &j.JobID, &j.Language, &j.Model, &j.SessionID, &j.SubmittedAt); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// PruneJobs forgets jobs submitted longer ago than olderThan. Such jobs
// are past any poll budget and can no longer be resumed.
func (db *DB) PruneJobs(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := db.PurgeOlderThan(ctx, "remembered_jobs", "submitted_at", olderThan)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		db.log.Info().Int64("deleted", n).Dur("older_than", olderThan).Msg("pruned remembered jobs")
	}
	return n, nil
}

package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

var (
	// ErrNotFound is returned when a job ID does not exist.
	ErrNotFound = errors.New("job not found")
	// ErrJobFinished is returned when a write is refused because the job
	// already reached a terminal state (usually a concurrent cancellation).
	ErrJobFinished = errors.New("job already in terminal state")
)

const jobColumns = `id, original_filename, stored_filename, file_size, content_hash,
	mime_type, usage_type, status, progress, message, error_code, error_message,
	cancel_requested, created_at, updated_at, started_at, completed_at`

// CreateJob inserts a Job in UPLOADED together with its AudioMeta, atomically.
func (s *Store) CreateJob(job *types.Job, audio *types.AudioMeta) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	job.Status = types.StatusUploaded
	job.Progress = 0
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err = tx.Exec(`
		INSERT INTO jobs (id, original_filename, stored_filename, file_size, content_hash,
			mime_type, usage_type, status, progress, message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.OriginalFilename, job.StoredFilename, job.FileSize, job.ContentHash,
		job.MimeType, job.UsageType, job.Status, job.Progress, job.Message,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %v", err)
	}

	_, err = tx.Exec(`
		INSERT INTO audio_meta (job_id, path, duration, sample_rate, channels, bitrate)
		VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, audio.Path, audio.Duration, audio.SampleRate, audio.Channels, audio.Bitrate)
	if err != nil {
		return fmt.Errorf("failed to insert audio meta: %v", err)
	}

	return tx.Commit()
}

// FindActiveByHash returns a non-terminal job with the same content hash and
// usage type, used by intake to dedup concurrent re-uploads.
func (s *Store) FindActiveByHash(hash, usageType string) (*types.Job, error) {
	row := s.db.QueryRow(`
		SELECT `+jobColumns+` FROM jobs
		WHERE content_hash = ? AND usage_type = ?
		  AND status NOT IN (?, ?, ?)
		ORDER BY created_at ASC LIMIT 1`,
		hash, usageType,
		types.StatusCompleted, types.StatusFailed, types.StatusCancelled)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return job, err
}

// ClaimNextReady atomically picks the oldest UPLOADED job and transitions it
// to TRANSCRIBING. Returns nil when no job is ready. At-most-once across
// concurrent callers: the guarded UPDATE decides the winner.
func (s *Store) ClaimNextReady() (*types.Job, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`
		SELECT ` + jobColumns + ` FROM jobs
		WHERE status = '` + types.StatusUploaded + `' AND cancel_requested = 0
		ORDER BY created_at ASC LIMIT 1`)

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, updated_at = ?,
			started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status = ?`,
		types.StatusTranscribing, now, now, job.ID, types.StatusUploaded)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return nil, nil // lost the race
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %v", err)
	}

	job.Status = types.StatusTranscribing
	job.UpdatedAt = now
	if job.StartedAt == nil {
		job.StartedAt = &now
	}
	return job, nil
}

// RequeueInterrupted moves jobs left in an in-flight state by a crashed
// process back to UPLOADED so workers can claim them again. Progress is kept;
// existing stage rows make the re-run skip finished stages.
func (s *Store) RequeueInterrupted() (int, error) {
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, updated_at = ?, message = ?
		WHERE status IN (?, ?, ?)`,
		types.StatusUploaded, time.Now().UTC(), "requeued after restart",
		types.StatusTranscribing, types.StatusCorrecting, types.StatusSummarizing)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue interrupted jobs: %v", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpdateProgress writes status, progress and message for a job. Progress is
// guarded against regression: the stored value never decreases, so a client
// polling the job always observes a monotonic series. Writes against a
// terminal job are refused with ErrJobFinished.
func (s *Store) UpdateProgress(id, status string, progress int, message string) error {
	now := time.Now().UTC()

	var completedAt interface{}
	if types.IsTerminal(status) {
		completedAt = now
	}

	res, err := s.db.Exec(`
		UPDATE jobs SET
			status = ?,
			progress = MAX(progress, ?),
			message = ?,
			updated_at = ?,
			completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		status, progress, message, now, completedAt,
		id, types.StatusCompleted, types.StatusFailed, types.StatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to update progress: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(id); err != nil {
			return err
		}
		return ErrJobFinished
	}
	return nil
}

// MarkFailed transitions a job to FAILED with its error code and message.
// Progress is left where it was.
func (s *Store) MarkFailed(id, errorCode, errorMessage string) error {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, error_code = ?, error_message = ?, message = ?,
			updated_at = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND status NOT IN (?, ?, ?)`,
		types.StatusFailed, errorCode, errorMessage, errorMessage,
		now, now,
		id, types.StatusCompleted, types.StatusFailed, types.StatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobFinished
	}
	return nil
}

// Cancel sets the cancellation flag and, when the job is still claimable or
// in flight, transitions it to CANCELLED. Idempotent: cancelling a terminal
// job reports the current state without error.
func (s *Store) Cancel(id string) (*types.Job, error) {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		UPDATE jobs SET
			cancel_requested = 1,
			status = CASE WHEN status IN (?, ?, ?) THEN status ELSE ? END,
			message = CASE WHEN status IN (?, ?, ?) THEN message ELSE 'cancelled by request' END,
			completed_at = COALESCE(completed_at, ?),
			updated_at = ?
		WHERE id = ?`,
		types.StatusCompleted, types.StatusFailed, types.StatusCancelled,
		types.StatusCancelled,
		types.StatusCompleted, types.StatusFailed, types.StatusCancelled,
		now, now, id)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel job: %v", err)
	}
	return s.GetJob(id)
}

// IsCancelRequested reports whether a DELETE has been issued for the job.
func (s *Store) IsCancelRequested(id string) (bool, error) {
	var flag int
	err := s.db.QueryRow("SELECT cancel_requested FROM jobs WHERE id = ?", id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %v", err)
	}
	return flag == 1, nil
}

// GetJob returns a single job by ID.
func (s *Store) GetJob(id string) (*types.Job, error) {
	row := s.db.QueryRow("SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListJobs returns jobs ordered newest first, with an optional status filter.
func (s *Store) ListJobs(limit, offset int, status string) ([]*types.Job, error) {
	query := "SELECT " + jobColumns + " FROM jobs"
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %v", err)
	}
	defer rows.Close()

	var jobs []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountJobs returns the total number of jobs, optionally filtered by status.
func (s *Store) CountJobs(status string) (int, error) {
	var (
		n   int
		err error
	)
	if status != "" {
		err = s.db.QueryRow("SELECT COUNT(*) FROM jobs WHERE status = ?", status).Scan(&n)
	} else {
		err = s.db.QueryRow("SELECT COUNT(*) FROM jobs").Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count jobs: %v", err)
	}
	return n, nil
}

// Statistics aggregates job counts for the status endpoint.
func (s *Store) Statistics() (*types.JobStatistics, error) {
	stats := &types.JobStatistics{
		StatusDistribution: map[string]int{},
		UsageDistribution:  map[string]int{},
	}

	rows, err := s.db.Query("SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate statuses: %v", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StatusDistribution[status] = count
		stats.TotalJobs += count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	urows, err := s.db.Query("SELECT usage_type, COUNT(*) FROM jobs GROUP BY usage_type")
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate usage types: %v", err)
	}
	defer urows.Close()
	for urows.Next() {
		var usage string
		var count int
		if err := urows.Scan(&usage, &count); err != nil {
			return nil, err
		}
		stats.UsageDistribution[usage] = count
	}
	if err := urows.Err(); err != nil {
		return nil, err
	}

	if err := s.db.QueryRow("SELECT COALESCE(SUM(file_size), 0) FROM jobs").
		Scan(&stats.TotalFileSizeBytes); err != nil {
		return nil, fmt.Errorf("failed to sum file sizes: %v", err)
	}
	return stats, nil
}

// DeleteJob removes a job and its dependent rows. The stored audio path is
// handed to removeFile before the row disappears.
func (s *Store) DeleteJob(id string, removeFile func(path string)) error {
	audio, err := s.GetAudioMeta(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	res, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if audio != nil && removeFile != nil {
		removeFile(audio.Path)
	}
	return nil
}

// Purge removes terminal jobs older than the retention window, invoking
// removeFile for each stored audio path. Returns the number of jobs removed.
func (s *Store) Purge(olderThan time.Time, removeFile func(path string)) (int, error) {
	rows, err := s.db.Query(`
		SELECT j.id, a.path FROM jobs j
		LEFT JOIN audio_meta a ON a.job_id = j.id
		WHERE j.status IN (?, ?, ?) AND j.created_at < ?`,
		types.StatusCompleted, types.StatusFailed, types.StatusCancelled, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to select expired jobs: %v", err)
	}
	defer rows.Close()

	type victim struct{ id, path string }
	var victims []victim
	for rows.Next() {
		var v victim
		var path sql.NullString
		if err := rows.Scan(&v.id, &path); err != nil {
			return 0, err
		}
		v.path = path.String
		victims = append(victims, v)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var purged int
	for _, v := range victims {
		if _, err := s.db.Exec("DELETE FROM jobs WHERE id = ?", v.id); err != nil {
			return purged, fmt.Errorf("failed to purge job %s: %v", v.id, err)
		}
		if v.path != "" && removeFile != nil {
			removeFile(v.path)
		}
		purged++
	}
	return purged, nil
}

// scanner lets scanJob work with both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*types.Job, error) {
	var (
		job         types.Job
		cancel      int
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(&job.ID, &job.OriginalFilename, &job.StoredFilename, &job.FileSize,
		&job.ContentHash, &job.MimeType, &job.UsageType, &job.Status, &job.Progress,
		&job.Message, &job.ErrorCode, &job.ErrorMessage, &cancel,
		&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.CancelRequested = cancel == 1
	if startedAt.Valid {
		t := startedAt.Time
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}

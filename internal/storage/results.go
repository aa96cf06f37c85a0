package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// Stage commits write the stage output row and advance the job in one
// transaction. The INSERT is idempotent (re-running a recovered stage with
// the same job leaves the original row in place) and the whole commit is
// refused with ErrJobFinished when the job was cancelled meanwhile, so no
// result row ever appears on a cancelled job.

// CommitRaw stores the verbatim transcript and moves the job to CORRECTING.
func (s *Store) CommitRaw(id string, raw *types.RawTranscript, message string) error {
	return s.commitStage(id, types.StatusCorrecting, types.ProgressTranscribeDone, message,
		func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO raw_transcripts
					(job_id, text, language, confidence, model_used, processing_time, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, raw.Text, raw.Language, raw.Confidence, raw.ModelUsed,
				raw.ProcessingTime, time.Now().UTC())
			return err
		})
}

// CommitCorrected stores the corrected transcript and moves the job to
// SUMMARIZING.
func (s *Store) CommitCorrected(id string, corrected *types.CorrectedTranscript, message string) error {
	return s.commitStage(id, types.StatusSummarizing, types.ProgressCorrectDone, message,
		func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO corrected_transcripts
					(job_id, text, model_used, processing_time, created_at)
				VALUES (?, ?, ?, ?, ?)`,
				id, corrected.Text, corrected.ModelUsed, corrected.ProcessingTime,
				time.Now().UTC())
			return err
		})
}

// CommitSummary stores the summary and completes the job.
func (s *Store) CommitSummary(id string, summary *types.Summary, message string) error {
	details, err := json.Marshal(summary.Details)
	if err != nil {
		return fmt.Errorf("failed to encode summary details: %v", err)
	}
	return s.commitStage(id, types.StatusCompleted, types.ProgressDone, message,
		func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO summaries
					(job_id, formatted_text, details, model_used, confidence, processing_time, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				id, summary.FormattedText, string(details), summary.ModelUsed,
				summary.Confidence, summary.ProcessingTime, time.Now().UTC())
			return err
		})
}

func (s *Store) commitStage(id, nextStatus string, progress int, message string,
	insert func(tx *sql.Tx) error) error {

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback()

	if err := insert(tx); err != nil {
		return fmt.Errorf("failed to write stage result: %v", err)
	}

	now := time.Now().UTC()
	var completedAt interface{}
	if types.IsTerminal(nextStatus) {
		completedAt = now
	}
	res, err := tx.Exec(`
		UPDATE jobs SET status = ?, progress = MAX(progress, ?), message = ?,
			updated_at = ?, completed_at = COALESCE(completed_at, ?)
		WHERE id = ? AND cancel_requested = 0 AND status NOT IN (?, ?, ?)`,
		nextStatus, progress, message, now, completedAt,
		id, types.StatusCompleted, types.StatusFailed, types.StatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to advance job: %v", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobFinished
	}
	return tx.Commit()
}

// GetAudioMeta returns the stored audio metadata for a job.
func (s *Store) GetAudioMeta(id string) (*types.AudioMeta, error) {
	var meta types.AudioMeta
	err := s.db.QueryRow(`
		SELECT job_id, path, duration, sample_rate, channels, bitrate
		FROM audio_meta WHERE job_id = ?`, id).
		Scan(&meta.JobID, &meta.Path, &meta.Duration, &meta.SampleRate,
			&meta.Channels, &meta.Bitrate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audio meta: %v", err)
	}
	return &meta, nil
}

// GetRawTranscript returns the verbatim transcript, or ErrNotFound.
func (s *Store) GetRawTranscript(id string) (*types.RawTranscript, error) {
	var raw types.RawTranscript
	err := s.db.QueryRow(`
		SELECT job_id, text, language, confidence, model_used, processing_time, created_at
		FROM raw_transcripts WHERE job_id = ?`, id).
		Scan(&raw.JobID, &raw.Text, &raw.Language, &raw.Confidence, &raw.ModelUsed,
			&raw.ProcessingTime, &raw.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw transcript: %v", err)
	}
	return &raw, nil
}

// GetCorrectedTranscript returns the corrected transcript, or ErrNotFound.
func (s *Store) GetCorrectedTranscript(id string) (*types.CorrectedTranscript, error) {
	var corrected types.CorrectedTranscript
	err := s.db.QueryRow(`
		SELECT job_id, text, model_used, processing_time, created_at
		FROM corrected_transcripts WHERE job_id = ?`, id).
		Scan(&corrected.JobID, &corrected.Text, &corrected.ModelUsed,
			&corrected.ProcessingTime, &corrected.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get corrected transcript: %v", err)
	}
	return &corrected, nil
}

// GetSummary returns the structured summary, or ErrNotFound.
func (s *Store) GetSummary(id string) (*types.Summary, error) {
	var (
		summary types.Summary
		details string
	)
	err := s.db.QueryRow(`
		SELECT job_id, formatted_text, details, model_used, confidence, processing_time, created_at
		FROM summaries WHERE job_id = ?`, id).
		Scan(&summary.JobID, &summary.FormattedText, &details, &summary.ModelUsed,
			&summary.Confidence, &summary.ProcessingTime, &summary.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %v", err)
	}
	if err := json.Unmarshal([]byte(details), &summary.Details); err != nil {
		return nil, fmt.Errorf("failed to decode summary details: %v", err)
	}
	return &summary, nil
}

// GetResults assembles the read projection served to polling clients.
func (s *Store) GetResults(id string) (*types.JobResults, error) {
	job, err := s.GetJob(id)
	if err != nil {
		return nil, err
	}
	results := &types.JobResults{Job: job}

	if audio, err := s.GetAudioMeta(id); err == nil {
		results.Audio = audio
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if raw, err := s.GetRawTranscript(id); err == nil {
		results.Raw = raw
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if corrected, err := s.GetCorrectedTranscript(id); err == nil {
		results.Corrected = corrected
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if summary, err := s.GetSummary(id); err == nil {
		results.Summary = summary
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return results, nil
}

// AppendLog adds one audit entry for a job. Log writes are best-effort and
// deliberately outside the state transactions.
func (s *Store) AppendLog(jobID, level, message string, details interface{}) error {
	var detailsJSON string
	if details != nil {
		b, err := json.Marshal(details)
		if err == nil {
			detailsJSON = string(b)
		}
	}
	_, err := s.db.Exec(`
		INSERT INTO processing_logs (job_id, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		jobID, level, message, detailsJSON, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append log: %v", err)
	}
	return nil
}

// GetLogs returns the audit trail for a job, oldest first.
func (s *Store) GetLogs(jobID string, limit int) ([]*types.LogEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, job_id, level, message, details, timestamp
		FROM processing_logs WHERE job_id = ?
		ORDER BY id ASC LIMIT ?`, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get logs: %v", err)
	}
	defer rows.Close()

	var entries []*types.LogEntry
	for rows.Next() {
		var entry types.LogEntry
		if err := rows.Scan(&entry.ID, &entry.JobID, &entry.Level, &entry.Message,
			&entry.Details, &entry.Timestamp); err != nil {
			return nil, err
		}
		entries = append(entries, &entry)
	}
	return entries, rows.Err()
}

package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestJob(hash string) (*types.Job, *types.AudioMeta) {
	job := &types.Job{
		ID:               uuid.New().String(),
		OriginalFilename: "meeting.wav",
		StoredFilename:   hash + ".wav",
		FileSize:         1024,
		ContentHash:      hash,
		MimeType:         "audio/wav",
		UsageType:        types.UsageMeeting,
	}
	audio := &types.AudioMeta{
		JobID:      job.ID,
		Path:       "/tmp/uploads/" + hash + ".wav",
		Duration:   3.2,
		SampleRate: 16000,
		Channels:   1,
	}
	return job, audio
}

func createTestJob(t *testing.T, store *Store, hash string) *types.Job {
	t.Helper()
	job, audio := newTestJob(hash)
	require.NoError(t, store.CreateJob(job, audio))
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUploaded, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, "audio/wav", got.MimeType)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)

	audio, err := store.GetAudioMeta(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 16000, audio.SampleRate)
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.GetJob(uuid.New().String())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimNextReady(t *testing.T) {
	store := newTestStore(t)

	got, err := store.ClaimNextReady()
	require.NoError(t, err)
	assert.Nil(t, got, "empty store should yield no job")

	first := createTestJob(t, store, "aa01")
	time.Sleep(5 * time.Millisecond)
	createTestJob(t, store, "aa02")

	claimed, err := store.ClaimNextReady()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID, "oldest job should be claimed first")
	assert.Equal(t, types.StatusTranscribing, claimed.Status)
	assert.NotNil(t, claimed.StartedAt)

	// the claimed job must not be handed out again
	second, err := store.ClaimNextReady()
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)

	third, err := store.ClaimNextReady()
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestClaimSkipsCancelRequested(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	_, err := store.Cancel(job.ID)
	require.NoError(t, err)

	claimed, err := store.ClaimNextReady()
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestUpdateProgressMonotonic(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	require.NoError(t, store.UpdateProgress(job.ID, types.StatusTranscribing, 30, "working"))

	// a lower progress value must not be observable
	require.NoError(t, store.UpdateProgress(job.ID, types.StatusTranscribing, 10, "regress"))
	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, got.Progress)
	assert.Equal(t, "regress", got.Message)

	require.NoError(t, store.UpdateProgress(job.ID, types.StatusCorrecting, 50, "next"))
	got, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}

func TestUpdateProgressRefusedOnTerminal(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	_, err := store.Cancel(job.ID)
	require.NoError(t, err)

	err = store.UpdateProgress(job.ID, types.StatusTranscribing, 10, "late write")
	assert.ErrorIs(t, err, ErrJobFinished)

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, got.Status)
}

func TestMarkFailed(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	require.NoError(t, store.UpdateProgress(job.ID, types.StatusTranscribing, 30, "working"))
	require.NoError(t, store.MarkFailed(job.ID, "WHISPER_TIMEOUT", "transcription exceeded 900s"))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "WHISPER_TIMEOUT", got.ErrorCode)
	assert.Equal(t, 30, got.Progress, "failure leaves progress unchanged")
	assert.NotNil(t, got.CompletedAt)
}

func TestCancelIdempotent(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	first, err := store.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, first.Status)

	second, err := store.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, second.Status)
	assert.Equal(t, first.CompletedAt.Unix(), second.CompletedAt.Unix())
}

func TestCancelDoesNotTouchCompleted(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")
	completeJob(t, store, job.ID)

	got, err := store.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.True(t, got.CancelRequested)
}

func completeJob(t *testing.T, store *Store, id string) {
	t.Helper()
	require.NoError(t, store.CommitRaw(id, &types.RawTranscript{
		JobID: id, Text: "こんにちは", Language: "ja", Confidence: 0.9, ModelUsed: "large-v3-turbo",
	}, "transcribed"))
	require.NoError(t, store.CommitCorrected(id, &types.CorrectedTranscript{
		JobID: id, Text: "こんにちは。", ModelUsed: "gemma-2-2b-jpn-it",
	}, "corrected"))
	require.NoError(t, store.CommitSummary(id, &types.Summary{
		JobID:         id,
		FormattedText: "# 要約\nテスト会議",
		Details:       types.MeetingDetails{Agenda: []string{"テスト"}},
		ModelUsed:     "gemma-2-2b-jpn-it",
		Confidence:    0.85,
	}, "done"))
}

func TestCommitStagesAdvanceJob(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")
	completeJob(t, store, job.ID)

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.NotNil(t, got.CompletedAt)

	results, err := store.GetResults(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", results.Raw.Text)
	assert.Equal(t, "こんにちは。", results.Corrected.Text)
	assert.Equal(t, []string{"テスト"}, results.Summary.Details.Agenda)
}

func TestCommitRawIdempotent(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	require.NoError(t, store.CommitRaw(job.ID, &types.RawTranscript{
		JobID: job.ID, Text: "original", ModelUsed: "m",
	}, "transcribed"))

	// a recovered stage re-run must not overwrite the original row
	require.NoError(t, store.CommitRaw(job.ID, &types.RawTranscript{
		JobID: job.ID, Text: "rerun", ModelUsed: "m",
	}, "transcribed again"))

	raw, err := store.GetRawTranscript(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "original", raw.Text)
}

func TestCommitRefusedAfterCancel(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	_, err := store.Cancel(job.ID)
	require.NoError(t, err)

	err = store.CommitRaw(job.ID, &types.RawTranscript{JobID: job.ID, Text: "late"}, "late")
	assert.ErrorIs(t, err, ErrJobFinished)

	_, err = store.GetRawTranscript(job.ID)
	assert.ErrorIs(t, err, ErrNotFound, "no stage row may appear on a cancelled job")
}

func TestRequeueInterrupted(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	claimed, err := store.ClaimNextReady()
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.NoError(t, store.UpdateProgress(job.ID, types.StatusCorrecting, 55, "correcting"))

	n, err := store.RequeueInterrupted()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUploaded, got.Status)
	assert.Equal(t, 55, got.Progress, "progress survives the requeue")
	assert.NotNil(t, got.StartedAt)

	reclaimed, err := store.ClaimNextReady()
	require.NoError(t, err)
	require.NotNil(t, reclaimed)
	assert.Equal(t, job.ID, reclaimed.ID)
}

func TestFindActiveByHash(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "dupe")

	active, err := store.FindActiveByHash("dupe", types.UsageMeeting)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	// different usage type is not a duplicate
	other, err := store.FindActiveByHash("dupe", types.UsageInterview)
	require.NoError(t, err)
	assert.Nil(t, other)

	// terminal jobs are re-runnable
	completeJob(t, store, job.ID)
	done, err := store.FindActiveByHash("dupe", types.UsageMeeting)
	require.NoError(t, err)
	assert.Nil(t, done)
}

func TestPurge(t *testing.T) {
	store := newTestStore(t)

	old := createTestJob(t, store, "old1")
	completeJob(t, store, old.ID)
	// age the row past the cutoff
	_, err := store.db.Exec("UPDATE jobs SET created_at = ? WHERE id = ?",
		time.Now().UTC().AddDate(0, 0, -10), old.ID)
	require.NoError(t, err)

	active := createTestJob(t, store, "new1")

	var removed []string
	n, err := store.Purge(time.Now().AddDate(0, 0, -7), func(path string) {
		removed = append(removed, path)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, removed, 1)

	_, err = store.GetJob(old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetSummary(old.ID)
	assert.ErrorIs(t, err, ErrNotFound, "dependent rows cascade")

	_, err = store.GetJob(active.ID)
	assert.NoError(t, err)
}

func TestDeleteJob(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	var removed []string
	require.NoError(t, store.DeleteJob(job.ID, func(path string) {
		removed = append(removed, path)
	}))
	assert.Len(t, removed, 1)

	err := store.DeleteJob(job.ID, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppendAndGetLogs(t *testing.T) {
	store := newTestStore(t)
	job := createTestJob(t, store, "aa01")

	require.NoError(t, store.AppendLog(job.ID, "INFO", "処理を開始しました", nil))
	require.NoError(t, store.AppendLog(job.ID, "WARN", "LLM_UNAVAILABLE",
		map[string]string{"stage": "correct"}))

	logs, err := store.GetLogs(job.ID, 100)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "INFO", logs[0].Level)
	assert.Equal(t, "WARN", logs[1].Level)
	assert.Contains(t, logs[1].Details, "correct")
}

func TestStatistics(t *testing.T) {
	store := newTestStore(t)
	createTestJob(t, store, "aa01")
	done := createTestJob(t, store, "aa02")
	completeJob(t, store, done.ID)

	stats, err := store.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalJobs)
	assert.Equal(t, 1, stats.StatusDistribution[types.StatusUploaded])
	assert.Equal(t, 1, stats.StatusDistribution[types.StatusCompleted])
	assert.Equal(t, int64(2048), stats.TotalFileSizeBytes)
}

package engine

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/llm"
	"github.com/codebuildervaibhav/meeting-minutes/internal/metrics"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/summary"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

const minutesMarkdown = `# 要約
これはテストです。

## 議題・議論内容
- テスト項目

## 決定事項
- テストを継続する

## ToDo
- [ ] 結果を確認する

## 次のアクション
- 次の試験を実施する

## 次回会議
未定`

// fakeWhisper is a scripted Transcriber.
type fakeWhisper struct {
	calls atomic.Int32
	errs  []error       // returned in order before succeeding
	block chan struct{} // when set, Transcribe waits for it to close
}

func (f *fakeWhisper) Transcribe(ctx context.Context, audioPath, language string) (*types.TranscribeOutput, error) {
	n := int(f.calls.Add(1))
	if f.block != nil {
		<-f.block
	}
	if n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return &types.TranscribeOutput{
		Text:       "これはテストです",
		Language:   "ja",
		Confidence: 0.93,
		ModelUsed:  "fake-whisper",
	}, nil
}

func (f *fakeWhisper) Model() string { return "fake-whisper" }

// fakeChat is a scripted Chatter distinguishing the two LLM stages by
// their system prompt.
type fakeChat struct {
	correctCalls atomic.Int32
	summaryCalls atomic.Int32
	correctErrs  []error
	summaryErrs  []error
}

func (f *fakeChat) Chat(ctx context.Context, systemPrompt, userPrompt string, opts llm.ChatOptions) (*types.ChatOutput, error) {
	if systemPrompt == summary.CorrectionSystemPrompt {
		n := int(f.correctCalls.Add(1))
		if n <= len(f.correctErrs) {
			return nil, f.correctErrs[n-1]
		}
		return &types.ChatOutput{Text: "これはテストです。", ModelUsed: "fake-llm"}, nil
	}
	n := int(f.summaryCalls.Add(1))
	if n <= len(f.summaryErrs) {
		return nil, f.summaryErrs[n-1]
	}
	return &types.ChatOutput{Text: minutesMarkdown, ModelUsed: "fake-llm"}, nil
}

func (f *fakeChat) Model() string { return "fake-llm" }

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func createJob(t *testing.T, store *storage.Store) *types.Job {
	t.Helper()
	job := &types.Job{
		ID:               uuid.New().String(),
		OriginalFilename: "meeting.wav",
		StoredFilename:   "abc.wav",
		FileSize:         2048,
		ContentHash:      uuid.New().String(),
		MimeType:         "audio/wav",
		UsageType:        types.UsageMeeting,
	}
	require.NoError(t, store.CreateJob(job, &types.AudioMeta{
		JobID: job.ID, Path: "/tmp/abc.wav", Duration: 3, SampleRate: 16000, Channels: 1,
	}))
	return job
}

func startEngine(t *testing.T, store *storage.Store, whisper Transcriber, chat Chatter) *Engine {
	t.Helper()
	eng := New(store, whisper, chat, metrics.NewCollector(), Options{
		WorkerCount:  1,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, eng.Start())
	t.Cleanup(eng.Stop)
	return eng
}

func waitForStatus(t *testing.T, store *storage.Store, id, want string) *types.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(id)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	job, _ := store.GetJob(id)
	t.Fatalf("job %s never reached %s (last: %s)", id, want, job.Status)
	return nil
}

func TestEngineHappyPath(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)
	startEngine(t, store, &fakeWhisper{}, &fakeChat{})

	done := waitForStatus(t, store, job.ID, types.StatusCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.Empty(t, done.ErrorCode)

	results, err := store.GetResults(job.ID)
	require.NoError(t, err)
	require.NotNil(t, results.Raw)
	assert.Equal(t, "これはテストです", results.Raw.Text)
	assert.Equal(t, "ja", results.Raw.Language)
	require.NotNil(t, results.Corrected)
	require.NotNil(t, results.Summary)
	assert.True(t, len(results.Summary.FormattedText) > 0)
	assert.Equal(t, []string{"テスト項目"}, results.Summary.Details.Agenda)
	assert.Equal(t, []string{"結果を確認する"}, results.Summary.Details.Todo)
	assert.Equal(t, 0.85, results.Summary.Confidence)

	logs, err := store.GetLogs(job.ID, 100)
	require.NoError(t, err)
	var sawCompleted bool
	for _, entry := range logs {
		if entry.Level == "INFO" && entry.Message == "COMPLETED" {
			sawCompleted = true
		}
	}
	assert.True(t, sawCompleted, "audit trail should record completion")
}

func TestEngineRetriesTransientThenCompletes(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)

	chat := &fakeChat{correctErrs: []error{
		apperr.Transient(apperr.CodeLLMUnavailable, "llm host returned 503", nil),
	}}
	startEngine(t, store, &fakeWhisper{}, chat)

	waitForStatus(t, store, job.ID, types.StatusCompleted)
	assert.EqualValues(t, 2, chat.correctCalls.Load())

	logs, err := store.GetLogs(job.ID, 100)
	require.NoError(t, err)
	var warns int
	for _, entry := range logs {
		if entry.Level == "WARN" && entry.Message == apperr.CodeLLMUnavailable {
			warns++
		}
	}
	assert.Equal(t, 1, warns)
}

func TestEngineFailsAfterRetryBudget(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)

	transient := apperr.Transient(apperr.CodeWhisperInferenceFailed, "inference failed", nil)
	whisper := &fakeWhisper{errs: []error{transient, transient, transient}}
	startEngine(t, store, whisper, &fakeChat{})

	failed := waitForStatus(t, store, job.ID, types.StatusFailed)
	assert.Equal(t, apperr.CodeWhisperInferenceFailed, failed.ErrorCode)
	assert.NotEmpty(t, failed.ErrorMessage)
	assert.EqualValues(t, stageAttempts, whisper.calls.Load())

	_, err := store.GetRawTranscript(job.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEngineWhisperLoadFailureDegrades(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)

	whisper := &fakeWhisper{errs: []error{
		apperr.New(apperr.CodeWhisperLoadFailed, "model load failed"),
	}}
	eng := startEngine(t, store, whisper, &fakeChat{})

	failed := waitForStatus(t, store, job.ID, types.StatusFailed)
	assert.Equal(t, apperr.CodeWhisperLoadFailed, failed.ErrorCode)
	assert.True(t, eng.Degraded())

	// a degraded engine claims no further work
	second := createJob(t, store)
	time.Sleep(100 * time.Millisecond)
	got, err := store.GetJob(second.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUploaded, got.Status)
}

func TestEngineCancellationDiscardsInFlightResult(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)

	whisper := &fakeWhisper{block: make(chan struct{})}
	startEngine(t, store, whisper, &fakeChat{})

	waitForStatus(t, store, job.ID, types.StatusTranscribing)

	_, err := store.Cancel(job.ID)
	require.NoError(t, err)
	close(whisper.block) // let the in-flight call return

	cancelled := waitForStatus(t, store, job.ID, types.StatusCancelled)
	assert.Equal(t, types.StatusCancelled, cancelled.Status)

	// give the worker time to (wrongly) write results, then verify none exist
	time.Sleep(100 * time.Millisecond)
	_, err = store.GetRawTranscript(job.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = store.GetSummary(job.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// cancellation stays idempotent afterwards
	again, err := store.Cancel(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusCancelled, again.Status)
}

func TestEngineCrashRecoveryResumesFromCorrect(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)

	// simulate a first run that finished Transcribe and crashed mid-Correct
	claimed, err := store.ClaimNextReady()
	require.NoError(t, err)
	require.Equal(t, job.ID, claimed.ID)
	require.NoError(t, store.CommitRaw(job.ID, &types.RawTranscript{
		JobID: job.ID, Text: "これはテストです", Language: "ja", ModelUsed: "fake-whisper",
	}, "transcribed"))
	require.NoError(t, store.UpdateProgress(job.ID, types.StatusCorrecting, 55, "correcting"))

	before, err := store.GetRawTranscript(job.ID)
	require.NoError(t, err)

	// restart: whisper must not run again
	whisper := &fakeWhisper{}
	startEngine(t, store, whisper, &fakeChat{})

	done := waitForStatus(t, store, job.ID, types.StatusCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.EqualValues(t, 0, whisper.calls.Load(), "transcribe stage must be skipped on recovery")

	after, err := store.GetRawTranscript(job.ID)
	require.NoError(t, err)
	assert.Equal(t, before.CreatedAt, after.CreatedAt, "raw transcript row must not be rewritten")

	corrected, err := store.GetCorrectedTranscript(job.ID)
	require.NoError(t, err)
	assert.Equal(t, "これはテストです。", corrected.Text)
}

func TestEngineProgressIsMonotonic(t *testing.T) {
	store := newTestStore(t)
	job := createJob(t, store)
	startEngine(t, store, &fakeWhisper{}, &fakeChat{})

	var observed []int
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetJob(job.ID)
		require.NoError(t, err)
		observed = append(observed, got.Progress)
		if got.Status == types.StatusCompleted {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	for i := 1; i < len(observed); i++ {
		assert.GreaterOrEqual(t, observed[i], observed[i-1],
			"progress regressed from %d to %d", observed[i-1], observed[i])
	}
	assert.Equal(t, 100, observed[len(observed)-1])
}

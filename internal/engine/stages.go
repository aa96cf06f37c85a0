package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/llm"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/summary"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

type stage string

const (
	stageTranscribe stage = "transcribe"
	stageCorrect    stage = "correct"
	stageSummarize  stage = "summarize"
)

// stageAttempts bounds retries of a stage on transient backend errors.
const stageAttempts = 2

// stageDone reports whether the stage's output row already exists.
func (e *Engine) stageDone(jobID string, st stage) (bool, error) {
	var err error
	switch st {
	case stageTranscribe:
		_, err = e.store.GetRawTranscript(jobID)
	case stageCorrect:
		_, err = e.store.GetCorrectedTranscript(jobID)
	case stageSummarize:
		_, err = e.store.GetSummary(jobID)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (e *Engine) runStage(job *types.Job, st stage) error {
	switch st {
	case stageTranscribe:
		return e.transcribe(job)
	case stageCorrect:
		return e.correct(job)
	case stageSummarize:
		return e.summarize(job)
	}
	return fmt.Errorf("unknown stage %q", st)
}

// transcribe runs Whisper over the stored audio and commits the verbatim
// transcript. Progress window [10,50].
func (e *Engine) transcribe(job *types.Job) error {
	if err := e.store.UpdateProgress(job.ID, types.StatusTranscribing,
		types.ProgressTranscribeStart, "音声を文字起こし中です"); err != nil {
		return err
	}
	e.logJob(job.ID, "INFO", "ステータス更新: TRANSCRIBING", nil)

	audio, err := e.store.GetAudioMeta(job.ID)
	if err != nil {
		return apperr.Wrap(apperr.CodeStoreError, "audio metadata missing", err)
	}

	start := time.Now()
	var out *types.TranscribeOutput
	err = e.withRetry(job.ID, stageTranscribe, func() error {
		var terr error
		out, terr = e.whisper.Transcribe(context.Background(), audio.Path, "")
		return terr
	})
	if err != nil {
		return err
	}

	raw := &types.RawTranscript{
		JobID:          job.ID,
		Text:           out.Text,
		Language:       out.Language,
		Confidence:     out.Confidence,
		ModelUsed:      out.ModelUsed,
		ProcessingTime: time.Since(start).Seconds(),
	}
	if err := e.store.CommitRaw(job.ID, raw, "文字起こしが完了しました"); err != nil {
		return err
	}
	e.logJob(job.ID, "INFO", "文字起こしが完了しました",
		map[string]interface{}{"language": raw.Language, "confidence": raw.Confidence})
	return nil
}

// correct asks the LLM to fix recognition errors. Progress window [50,70].
func (e *Engine) correct(job *types.Job) error {
	if err := e.store.UpdateProgress(job.ID, types.StatusCorrecting,
		types.ProgressTranscribeDone, "文脈を補正中です"); err != nil {
		return err
	}
	e.logJob(job.ID, "INFO", "ステータス更新: CORRECTING", nil)

	raw, err := e.store.GetRawTranscript(job.ID)
	if err != nil {
		return apperr.Wrap(apperr.CodeStoreError, "raw transcript missing", err)
	}

	start := time.Now()
	var out *types.ChatOutput
	err = e.withRetry(job.ID, stageCorrect, func() error {
		var cerr error
		out, cerr = e.chat.Chat(context.Background(),
			summary.CorrectionSystemPrompt,
			summary.BuildCorrectionPrompt(raw.Text),
			llm.ChatOptions{
				Temperature: 0.3,
				MaxTokens:   2000,
				Timeout:     e.opts.CorrectTimeout,
				OnRetry:     e.retryObserver(job.ID, stageCorrect),
			})
		return cerr
	})
	if err != nil {
		return err
	}

	if err := e.store.UpdateProgress(job.ID, types.StatusCorrecting,
		types.ProgressCorrectMid, "補正結果を整理中です"); err != nil {
		return err
	}

	text := summary.Normalize(out.Text)
	if text == "" {
		// a correction that is empty after normalization (whitespace only)
		// keeps the verbatim transcript
		log.Printf("Job %s: empty correction result, keeping raw transcript", job.ID)
		text = raw.Text
	}

	corrected := &types.CorrectedTranscript{
		JobID:          job.ID,
		Text:           text,
		ModelUsed:      out.ModelUsed,
		ProcessingTime: time.Since(start).Seconds(),
	}
	if err := e.store.CommitCorrected(job.ID, corrected, "文脈補正が完了しました"); err != nil {
		return err
	}
	e.logJob(job.ID, "INFO", "文脈補正が完了しました", nil)
	return nil
}

// summarize produces the meeting-minutes Markdown and completes the job.
// Progress window [70,100].
func (e *Engine) summarize(job *types.Job) error {
	if err := e.store.UpdateProgress(job.ID, types.StatusSummarizing,
		types.ProgressCorrectDone, "議事録を作成中です"); err != nil {
		return err
	}
	e.logJob(job.ID, "INFO", "ステータス更新: SUMMARIZING", nil)

	corrected, err := e.store.GetCorrectedTranscript(job.ID)
	if err != nil {
		return apperr.Wrap(apperr.CodeStoreError, "corrected transcript missing", err)
	}

	start := time.Now()
	var out *types.ChatOutput
	err = e.withRetry(job.ID, stageSummarize, func() error {
		var serr error
		out, serr = e.chat.Chat(context.Background(),
			summary.SummarySystemPrompt,
			summary.BuildSummaryPrompt(corrected.Text),
			llm.ChatOptions{
				Temperature: 0.7,
				MaxTokens:   1000,
				Timeout:     e.opts.SummaryTimeout,
				OnRetry:     e.retryObserver(job.ID, stageSummarize),
			})
		return serr
	})
	if err != nil {
		return err
	}

	if err := e.store.UpdateProgress(job.ID, types.StatusSummarizing,
		types.ProgressSummarizeMid, "議事録を整形中です"); err != nil {
		return err
	}

	formatted := summary.Normalize(out.Text)
	result := &types.Summary{
		JobID:          job.ID,
		FormattedText:  formatted,
		Details:        summary.Parse(formatted),
		ModelUsed:      out.ModelUsed,
		Confidence:     summary.SummaryConfidence,
		ProcessingTime: time.Since(start).Seconds(),
	}
	if err := e.store.CommitSummary(job.ID, result, "処理が完了しました"); err != nil {
		return err
	}
	e.logJob(job.ID, "INFO", "議事録の作成が完了しました", nil)
	return nil
}

// withRetry runs fn, retrying transient backend errors within the stage
// budget. Each retry is recorded at WARN in the job's audit trail.
func (e *Engine) withRetry(jobID string, st stage, fn func() error) error {
	var err error
	for attempt := 1; attempt <= stageAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !apperr.IsRetryable(err) || attempt == stageAttempts {
			return err
		}
		e.collector.StageRetry(string(st))
		e.logJob(jobID, "WARN", apperr.CodeOf(err),
			map[string]string{"stage": string(st), "attempt": fmt.Sprint(attempt)})
		log.Printf("Job %s: stage %s attempt %d failed, retrying: %v", jobID, st, attempt, err)

		if cancelled := e.checkCancelled(jobID); cancelled {
			return storage.ErrJobFinished
		}
	}
	return err
}

// retryObserver surfaces the LLM client's internal retries in the job's
// audit trail.
func (e *Engine) retryObserver(jobID string, st stage) func(attempt int, err error) {
	return func(attempt int, err error) {
		e.collector.StageRetry(string(st))
		e.logJob(jobID, "WARN", apperr.CodeOf(err),
			map[string]string{"stage": string(st), "attempt": fmt.Sprint(attempt)})
	}
}

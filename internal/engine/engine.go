package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/llm"
	"github.com/codebuildervaibhav/meeting-minutes/internal/metrics"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// Transcriber is the Whisper-side backend contract.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (*types.TranscribeOutput, error)
	Model() string
}

// Chatter is the LLM-side backend contract.
type Chatter interface {
	Chat(ctx context.Context, systemPrompt, userPrompt string, opts llm.ChatOptions) (*types.ChatOutput, error)
	Model() string
}

// Options configure the engine.
type Options struct {
	WorkerCount    int
	PollInterval   time.Duration
	CorrectTimeout time.Duration
	SummaryTimeout time.Duration
}

// Engine advances jobs through the TRANSCRIBE -> CORRECT -> SUMMARIZE
// pipeline: a fixed pool of workers claims jobs from the store and runs
// each to a terminal state. Stage output rows are the idempotency key, so
// a restart simply re-runs whichever stage has no row yet.
type Engine struct {
	store     *storage.Store
	whisper   Transcriber
	chat      Chatter
	collector *metrics.Collector
	opts      Options

	degraded atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New creates an Engine. The backends are injected; the engine owns no
// lifecycle beyond them.
func New(store *storage.Store, whisper Transcriber, chat Chatter,
	collector *metrics.Collector, opts Options) *Engine {

	if opts.WorkerCount < 1 {
		opts.WorkerCount = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	return &Engine{
		store:     store,
		whisper:   whisper,
		chat:      chat,
		collector: collector,
		opts:      opts,
		stopCh:    make(chan struct{}),
	}
}

// Start requeues jobs interrupted by a previous crash and launches the
// worker pool.
func (e *Engine) Start() error {
	requeued, err := e.store.RequeueInterrupted()
	if err != nil {
		return err
	}
	if requeued > 0 {
		log.Printf("Requeued %d interrupted job(s) for recovery", requeued)
	}

	log.Printf("Starting engine with %d worker(s)", e.opts.WorkerCount)
	for i := 0; i < e.opts.WorkerCount; i++ {
		e.wg.Add(1)
		go e.worker(i)
	}
	return nil
}

// Stop signals the workers and waits for them to exit. A worker sees the
// signal only between jobs, so a job in flight runs to its terminal state
// first.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	log.Println("Engine stopped")
}

// Degraded reports whether the Whisper runtime failed to load. A degraded
// engine stops claiming work until operator intervention.
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// worker claims jobs and runs them until Stop.
func (e *Engine) worker(id int) {
	defer e.wg.Done()
	log.Printf("Worker %d started", id)

	for {
		select {
		case <-e.stopCh:
			log.Printf("Worker %d stopped", id)
			return
		default:
		}

		if e.degraded.Load() {
			e.sleep(e.opts.PollInterval)
			continue
		}

		job, err := e.store.ClaimNextReady()
		if err != nil {
			log.Printf("Worker %d: claim failed: %v", id, err)
			e.sleep(e.opts.PollInterval)
			continue
		}
		if job == nil {
			e.sleep(e.opts.PollInterval)
			continue
		}

		e.collector.JobClaimed()
		e.runJob(id, job)
		e.collector.JobReleased()
	}
}

func (e *Engine) sleep(d time.Duration) {
	select {
	case <-time.After(d):
	case <-e.stopCh:
	}
}

// runJob executes the remaining stages of a claimed job. Stages whose
// output row already exists are skipped, which is what makes crash
// recovery and duplicate claims safe.
func (e *Engine) runJob(workerID int, job *types.Job) {
	log.Printf("Worker %d: processing job %s (%s)", workerID, job.ID, job.OriginalFilename)
	e.logJob(job.ID, "INFO", "処理を開始しました", nil)

	for _, stage := range []stage{stageTranscribe, stageCorrect, stageSummarize} {
		done, err := e.stageDone(job.ID, stage)
		if err != nil {
			log.Printf("Worker %d: store read failed for job %s: %v", workerID, job.ID, err)
			return // STORE_ERROR: leave the job as-is for recovery
		}
		if done {
			log.Printf("Worker %d: stage %s already complete for job %s, skipping",
				workerID, stage, job.ID)
			continue
		}

		if cancelled := e.checkCancelled(job.ID); cancelled {
			log.Printf("Worker %d: job %s cancelled", workerID, job.ID)
			e.logJob(job.ID, "INFO", "キャンセルを確認しました", nil)
			e.collector.JobCancelled()
			return
		}

		start := time.Now()
		err = e.runStage(job, stage)
		e.collector.ObserveStage(string(stage), time.Since(start).Seconds())

		switch {
		case err == nil:
			// next stage
		case errors.Is(err, storage.ErrJobFinished):
			// cancelled while the stage ran; the backend result is discarded
			log.Printf("Worker %d: job %s cancelled during %s", workerID, job.ID, stage)
			e.logJob(job.ID, "INFO", "キャンセルを確認しました", nil)
			e.collector.JobCancelled()
			return
		default:
			e.failJob(workerID, job, stage, err)
			return
		}
	}

	e.collector.JobCompleted()
	e.logJob(job.ID, "INFO", "COMPLETED", nil)
	log.Printf("Worker %d: job %s completed", workerID, job.ID)
}

// checkCancelled consults the cancellation flag between stages.
func (e *Engine) checkCancelled(jobID string) bool {
	cancelled, err := e.store.IsCancelRequested(jobID)
	if err != nil {
		return errors.Is(err, storage.ErrNotFound)
	}
	return cancelled
}

// failJob records a terminal failure.
func (e *Engine) failJob(workerID int, job *types.Job, st stage, err error) {
	code := apperr.CodeOf(err)
	if code == apperr.CodeWhisperLoadFailed {
		e.degraded.Store(true)
		log.Printf("Worker %d: whisper load failed, engine degraded until restart", workerID)
	}

	log.Printf("Worker %d: job %s failed in %s: %v", workerID, job.ID, st, err)
	e.logJob(job.ID, "ERROR", "FAILED: "+code, map[string]string{"stage": string(st), "error": err.Error()})
	if merr := e.store.MarkFailed(job.ID, code, err.Error()); merr != nil {
		if errors.Is(merr, storage.ErrJobFinished) {
			e.collector.JobCancelled()
			return
		}
		log.Printf("Worker %d: failed to mark job %s failed: %v", workerID, job.ID, merr)
		return
	}
	e.collector.JobFailed()
}

// logJob appends to the per-job audit trail, best-effort.
func (e *Engine) logJob(jobID, level, message string, details interface{}) {
	if err := e.store.AppendLog(jobID, level, message, details); err != nil {
		log.Printf("Failed to append processing log for %s: %v", jobID, err)
	}
}

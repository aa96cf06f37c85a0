package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// WhisperClient wraps the Whisper CLI for transcription. The model is
// verified lazily on first use; concurrent first-callers wait on the same
// check. Inference is serialized process-wide, audio models are CPU-heavy.
type WhisperClient struct {
	model   string
	device  string
	timeout time.Duration
	tempDir string

	loadOnce sync.Once
	loadErr  error
	mu       sync.Mutex // one in-flight transcription at a time
}

// NewWhisperClient creates a client for the given model identifier.
func NewWhisperClient(model, device string, timeout time.Duration, tempDir string) *WhisperClient {
	return &WhisperClient{
		model:   model,
		device:  device,
		timeout: timeout,
		tempDir: tempDir,
	}
}

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

// Available reports false once the lazy runtime check has failed; before
// the first check has run it reports true. It never triggers the lazy load
// itself.
func (wc *WhisperClient) Available() bool {
	return wc.loadErr == nil
}

// ensureLoaded verifies the Whisper runtime once. A failure here is
// one-shot fatal: every later call observes the same WHISPER_LOAD_FAILED.
func (wc *WhisperClient) ensureLoaded() error {
	wc.loadOnce.Do(func() {
		log.Printf("Verifying Whisper runtime (model: %s, device: %s)", wc.model, wc.device)
		cmd := exec.Command("python", "-c", "import whisper")
		if output, err := cmd.CombinedOutput(); err != nil {
			wc.loadErr = apperr.Wrap(apperr.CodeWhisperLoadFailed,
				fmt.Sprintf("whisper runtime unavailable: %s", strings.TrimSpace(string(output))), err)
			log.Printf("ERROR: %v", wc.loadErr)
			return
		}
		log.Printf("Whisper runtime ready")
	})
	return wc.loadErr
}

// Transcribe runs Whisper on the audio file and returns the transcript.
// The configured timeout starts once the process-wide lock is held and
// bounds the Whisper run; expiry maps to WHISPER_TIMEOUT. Waiting for the
// lock and the ffmpeg normalization are not bounded by the context.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath, language string) (*types.TranscribeOutput, error) {
	if err := wc.ensureLoaded(); err != nil {
		return nil, err
	}

	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wc.timeout)
		defer cancel()
	}

	outputDir, err := os.MkdirTemp(wc.tempDir, "whisper_output_")
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper output dir: %v", err)
	}
	defer os.RemoveAll(outputDir)

	// Whisper wants 16kHz mono; convert up front so odd containers do not
	// trip the model.
	normalizedPath, err := NormalizeAudio(audioPath, wc.tempDir)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeWhisperInferenceFailed,
			"audio normalization failed", err)
	}
	defer os.Remove(normalizedPath)

	absAudioPath, err := filepath.Abs(normalizedPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %v", err)
	}

	args := []string{
		"-m", "whisper",
		absAudioPath,
		"--model", wc.model,
		"--device", wc.device,
		"--output_dir", outputDir,
		"--output_format", "json",
		"--fp16", "False",
	}
	if language != "" {
		args = append(args, "--language", language)
	}

	log.Printf("Transcribing %s with model %s", filepath.Base(audioPath), wc.model)
	cmd := exec.CommandContext(ctx, "python", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Transient(apperr.CodeWhisperTimeout,
				fmt.Sprintf("transcription exceeded %s", wc.timeout), ctx.Err())
		}
		return nil, apperr.Transient(apperr.CodeWhisperInferenceFailed,
			fmt.Sprintf("whisper failed: %s", strings.TrimSpace(string(output))), err)
	}

	baseName := strings.TrimSuffix(filepath.Base(normalizedPath), filepath.Ext(normalizedPath))
	jsonPath := filepath.Join(outputDir, baseName+".json")
	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeWhisperInferenceFailed,
			"whisper produced no output", err)
	}

	var parsed whisperOutput
	if err := json.Unmarshal(jsonData, &parsed); err != nil {
		return nil, apperr.Wrap(apperr.CodeWhisperInferenceFailed,
			"failed to parse whisper output", err)
	}

	segments := make([]types.Segment, len(parsed.Segments))
	for i, seg := range parsed.Segments {
		segments[i] = types.Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  strings.TrimSpace(seg.Text),
		}
	}

	result := &types.TranscribeOutput{
		Text:       strings.TrimSpace(parsed.Text),
		Segments:   segments,
		Language:   parsed.Language,
		Confidence: averageConfidence(parsed.Segments),
		ModelUsed:  wc.model,
	}
	log.Printf("Transcription completed: %d segments, language %s", len(segments), result.Language)
	return result, nil
}

// averageConfidence converts per-segment log probabilities to a [0,1] score.
func averageConfidence(segments []whisperSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, seg := range segments {
		p := math.Exp(seg.AvgLogprob)
		if p > 1 {
			p = 1
		}
		sum += p
	}
	return sum / float64(len(segments))
}

// whisperOutput matches the Whisper CLI JSON output format
type whisperOutput struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	ID         int     `json:"id"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogprob float64 `json:"avg_logprob"`
}

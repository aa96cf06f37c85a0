package intake

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// Prober extracts audio metadata from a stored file. The production
// implementation shells out to ffprobe; tests plug in a stub.
type Prober interface {
	Probe(path string) (*types.AudioMeta, error)
}

// Intake validates uploads and persists accepted files plus their Job rows.
type Intake struct {
	store     *storage.Store
	prober    Prober
	uploadDir string
	maxBytes  int64
}

// New creates an Intake.
func New(store *storage.Store, prober Prober, uploadDir string, maxBytes int64) *Intake {
	return &Intake{
		store:     store,
		prober:    prober,
		uploadDir: uploadDir,
		maxBytes:  maxBytes,
	}
}

// logical audio formats, keyed by extension
var extFormats = map[string]string{
	".m4a": "m4a",
	".mp4": "m4a", // same container, treated identically downstream
	".wav": "wav",
	".mp3": "mp3",
}

// normalized MIME per logical format
var formatMimes = map[string]string{
	"m4a": "audio/m4a",
	"wav": "audio/wav",
	"mp3": "audio/mp3",
}

// declared-MIME normalization table
var mimeAliases = map[string]string{
	"audio/m4a":       "audio/m4a",
	"audio/x-m4a":     "audio/m4a",
	"audio/mp4":       "audio/m4a",
	"audio/mp4a-latm": "audio/m4a",
	"audio/wav":       "audio/wav",
	"audio/wave":      "audio/wav",
	"audio/x-wav":     "audio/wav",
	"audio/mp3":       "audio/mp3",
	"audio/mpeg":      "audio/mp3",
}

// Accept validates an upload and, when valid, stores the file under a
// content-addressed path and inserts the Job and AudioMeta rows in one
// transaction. Validation short-circuits: the first failure is reported.
// When an identical file is already being processed with the same usage
// type, the existing job is returned instead of a duplicate (existing=true).
func (in *Intake) Accept(originalName string, data []byte, declaredMime, usageType string) (job *types.Job, existing bool, err error) {
	if usageType != types.UsageMeeting && usageType != types.UsageInterview {
		return nil, false, apperr.Newf(apperr.CodeInvalidRequest,
			"usage_type must be %q or %q", types.UsageMeeting, types.UsageInterview)
	}

	if len(data) == 0 {
		return nil, false, apperr.New(apperr.CodeEmptyFile, "uploaded file is empty")
	}
	if int64(len(data)) > in.maxBytes {
		return nil, false, apperr.Newf(apperr.CodeFileTooLarge,
			"file exceeds the %d byte limit", in.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(originalName))
	format, ok := extFormats[ext]
	if !ok {
		return nil, false, apperr.Newf(apperr.CodeInvalidFormat,
			"unsupported file extension %q", ext)
	}

	if sniffed := sniffFormat(data); sniffed != "" && sniffed != format {
		return nil, false, apperr.Newf(apperr.CodeInvalidFormat,
			"file content (%s) does not match extension %q", sniffed, ext)
	}

	mime := formatMimes[format]
	if declaredMime != "" && declaredMime != "application/octet-stream" {
		normalized, ok := mimeAliases[normalizeMimeKey(declaredMime)]
		if !ok {
			return nil, false, apperr.Newf(apperr.CodeInvalidFormat,
				"unsupported content type %q", declaredMime)
		}
		if normalized != mime {
			return nil, false, apperr.Newf(apperr.CodeInvalidFormat,
				"content type %q does not match extension %q", declaredMime, ext)
		}
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	// Dedup within the active set only; completed jobs may be re-run.
	if active, err := in.store.FindActiveByHash(hash, usageType); err != nil {
		return nil, false, apperr.Wrap(apperr.CodeStoreError, "dedup lookup failed", err)
	} else if active != nil {
		log.Printf("Duplicate upload of %s matches running job %s", originalName, active.ID)
		return active, true, nil
	}

	storedName := hash + ext
	path := filepath.Join(in.uploadDir, hash[:2], storedName)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create upload directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, false, fmt.Errorf("failed to store upload: %v", err)
	}

	meta, err := in.prober.Probe(path)
	if err != nil {
		os.Remove(path)
		return nil, false, apperr.Wrap(apperr.CodeCorruptFile,
			"audio metadata could not be read", err)
	}
	meta.Path = path

	job = &types.Job{
		ID:               uuid.New().String(),
		OriginalFilename: originalName,
		StoredFilename:   storedName,
		FileSize:         int64(len(data)),
		ContentHash:      hash,
		MimeType:         mime,
		UsageType:        usageType,
		Message:          "upload accepted",
	}
	meta.JobID = job.ID

	if err := in.store.CreateJob(job, meta); err != nil {
		os.Remove(path)
		return nil, false, apperr.Wrap(apperr.CodeStoreError, "failed to create job", err)
	}

	log.Printf("Job %s created for %s (%d bytes, %s)", job.ID, originalName, job.FileSize, mime)
	return job, false, nil
}

// sniffFormat inspects magic bytes and reports the logical audio format,
// or "" when the content is unrecognized.
func sniffFormat(data []byte) string {
	if len(data) < 12 {
		return ""
	}
	if bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return "wav"
	}
	if bytes.HasPrefix(data, []byte("ID3")) {
		return "mp3"
	}
	// raw MPEG audio frame sync
	if data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return "mp3"
	}
	// ISO base media container: size + "ftyp"
	if bytes.Equal(data[4:8], []byte("ftyp")) {
		return "m4a"
	}
	return ""
}

func normalizeMimeKey(mime string) string {
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	return strings.ToLower(strings.TrimSpace(mime))
}

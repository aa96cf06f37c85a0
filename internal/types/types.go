package types

import "time"

// Job status constants
const (
	StatusUploaded     = "UPLOADED"
	StatusTranscribing = "TRANSCRIBING"
	StatusCorrecting   = "CORRECTING"
	StatusSummarizing  = "SUMMARIZING"
	StatusCompleted    = "COMPLETED"
	StatusFailed       = "FAILED"
	StatusCancelled    = "CANCELLED"
)

// Usage type constants
const (
	UsageMeeting   = "meeting"
	UsageInterview = "interview"
)

// Progress milestones per stage. Transcribe owns [10,50], Correct [50,70],
// Summarize [70,100].
const (
	ProgressTranscribeStart = 10
	ProgressTranscribeDone  = 50
	ProgressCorrectMid      = 60
	ProgressCorrectDone     = 70
	ProgressSummarizeMid    = 90
	ProgressDone            = 100
)

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// InFlightStatuses are the working states a crashed engine can leave behind.
var InFlightStatuses = []string{StatusTranscribing, StatusCorrecting, StatusSummarizing}

// Job is one end-to-end processing unit from a single upload.
type Job struct {
	ID               string     `json:"id"`
	OriginalFilename string     `json:"original_filename"`
	StoredFilename   string     `json:"filename"`
	FileSize         int64      `json:"file_size"`
	ContentHash      string     `json:"content_hash"`
	MimeType         string     `json:"mime_type"`
	UsageType        string     `json:"usage_type_code"`
	Status           string     `json:"status_code"`
	Progress         int        `json:"progress"`
	Message          string     `json:"message,omitempty"`
	ErrorCode        string     `json:"error_code,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CancelRequested  bool       `json:"-"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"processing_started_at,omitempty"`
	CompletedAt      *time.Time `json:"processing_completed_at,omitempty"`
}

// AudioMeta holds probed metadata for the stored upload, 1:1 with Job.
type AudioMeta struct {
	JobID      string  `json:"-"`
	Path       string  `json:"-"`
	Duration   float64 `json:"duration_seconds"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Bitrate    int     `json:"bitrate"`
}

// RawTranscript is the verbatim Whisper output, insert-once.
type RawTranscript struct {
	JobID          string    `json:"-"`
	Text           string    `json:"text"`
	Language       string    `json:"language"`
	Confidence     float64   `json:"confidence"`
	ModelUsed      string    `json:"model_used"`
	ProcessingTime float64   `json:"processing_time_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// CorrectedTranscript is the context-corrected text, insert-once.
type CorrectedTranscript struct {
	JobID          string    `json:"-"`
	Text           string    `json:"text"`
	ModelUsed      string    `json:"model_used"`
	ProcessingTime float64   `json:"processing_time_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// MeetingDetails is the structured breakdown parsed from the summary
// Markdown. The interview variant is accepted as input but shares this
// shape; no separate schema is populated.
type MeetingDetails struct {
	Agenda      []string `json:"agenda"`
	Decisions   []string `json:"decisions"`
	Todo        []string `json:"todo"`
	NextActions []string `json:"next_actions"`
	NextMeeting string   `json:"next_meeting,omitempty"`
}

// Summary is the structured meeting-minutes output, insert-once.
type Summary struct {
	JobID          string         `json:"-"`
	FormattedText  string         `json:"formatted_text"`
	Details        MeetingDetails `json:"details"`
	ModelUsed      string         `json:"model_used"`
	Confidence     float64        `json:"confidence"`
	ProcessingTime float64        `json:"processing_time_seconds"`
	CreatedAt      time.Time      `json:"created_at"`
}

// LogEntry is one row of the per-job audit trail.
type LogEntry struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"job_id"`
	Level     string    `json:"log_level"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// JobResults bundles everything produced for one job.
type JobResults struct {
	Job       *Job                 `json:"job"`
	Audio     *AudioMeta           `json:"audio_file,omitempty"`
	Raw       *RawTranscript       `json:"transcription_result,omitempty"`
	Corrected *CorrectedTranscript `json:"corrected_transcription,omitempty"`
	Summary   *Summary             `json:"summary,omitempty"`
}

// TranscribeOutput is what the Whisper client returns.
type TranscribeOutput struct {
	Text       string
	Segments   []Segment
	Language   string
	Confidence float64
	ModelUsed  string
}

// Segment represents a timestamped segment of transcription
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ChatOutput is what the LLM client returns.
type ChatOutput struct {
	Text         string
	ModelUsed    string
	FinishReason string
}

// JobStatistics aggregates job counts for the status endpoint.
type JobStatistics struct {
	StatusDistribution map[string]int `json:"status_distribution"`
	UsageDistribution  map[string]int `json:"usage_distribution"`
	TotalFileSizeBytes int64          `json:"total_file_size_bytes"`
	TotalJobs          int            `json:"total_jobs"`
}

package handlers

import (
	"io"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/intake"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// TranscriptionsHandler serves the /api/v1/transcriptions routes.
type TranscriptionsHandler struct {
	store  *storage.Store
	intake *intake.Intake
}

// NewTranscriptionsHandler creates a new transcriptions handler
func NewTranscriptionsHandler(store *storage.Store, in *intake.Intake) *TranscriptionsHandler {
	return &TranscriptionsHandler{store: store, intake: in}
}

// jobResponse is the job envelope served to polling clients.
type jobResponse struct {
	*types.Job
	Audio               *types.AudioMeta           `json:"audio_file,omitempty"`
	TranscriptionResult *types.RawTranscript       `json:"transcription_result,omitempty"`
	CorrectedResult     *types.CorrectedTranscript `json:"corrected_transcription,omitempty"`
	Summary             *types.Summary             `json:"summary,omitempty"`
}

// Create handles POST /transcriptions: multipart upload plus usage_type.
func (h *TranscriptionsHandler) Create(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return respondError(c, apperr.New(apperr.CodeInvalidRequest, "file field is required"))
	}

	usageType := c.FormValue("usage_type")
	if usageType == "" {
		usageType = types.UsageMeeting
	}

	file, err := fileHeader.Open()
	if err != nil {
		return respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, "failed to open upload", err))
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return respondError(c, apperr.Wrap(apperr.CodeInvalidRequest, "failed to read upload", err))
	}

	job, existing, err := h.intake.Accept(fileHeader.Filename, data,
		fileHeader.Header.Get("Content-Type"), usageType)
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusCreated
	if existing {
		status = fiber.StatusOK
	}
	return respond(c, status, jobResponse{Job: job})
}

// List handles GET /transcriptions with optional status filter and paging.
func (h *TranscriptionsHandler) List(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	if offset < 0 {
		offset = 0
	}
	status := c.Query("status")

	jobs, err := h.store.ListJobs(limit, offset, status)
	if err != nil {
		return respondError(c, err)
	}
	total, err := h.store.CountJobs(status)
	if err != nil {
		return respondError(c, err)
	}

	responses := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		responses = append(responses, jobResponse{Job: job})
	}
	return respond(c, fiber.StatusOK, fiber.Map{
		"jobs":  responses,
		"total": total,
	})
}

// Get handles GET /transcriptions/:id. Each poll reads the job and its
// result rows by primary key and does not block.
func (h *TranscriptionsHandler) Get(c *fiber.Ctx) error {
	results, err := h.store.GetResults(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, jobResponse{
		Job:                 results.Job,
		Audio:               results.Audio,
		TranscriptionResult: results.Raw,
		CorrectedResult:     results.Corrected,
		Summary:             results.Summary,
	})
}

// GetSummary handles GET /transcriptions/:id/summary.
func (h *TranscriptionsHandler) GetSummary(c *fiber.Ctx) error {
	id := c.Params("id")
	job, err := h.store.GetJob(id)
	if err != nil {
		return respondError(c, err)
	}
	if job.Status != types.StatusCompleted {
		return respondError(c, apperr.Newf(apperr.CodeJobNotCompleted,
			"job is %s, summary not available yet", job.Status))
	}

	summary, err := h.store.GetSummary(id)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, fiber.Map{
		"job_id":                  id,
		"type":                    job.UsageType,
		"formatted_text":          summary.FormattedText,
		"details":                 summary.Details,
		"model_used":              summary.ModelUsed,
		"confidence":              summary.Confidence,
		"processing_time_seconds": summary.ProcessingTime,
		"created_at":              summary.CreatedAt,
	})
}

// GetLogs handles GET /transcriptions/:id/logs.
func (h *TranscriptionsHandler) GetLogs(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := h.store.GetJob(id); err != nil {
		return respondError(c, err)
	}
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	if limit < 1 || limit > 1000 {
		limit = 100
	}
	logs, err := h.store.GetLogs(id, limit)
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, fiber.Map{"logs": logs})
}

// Delete handles DELETE /transcriptions/:id. Cancellation is idempotent:
// deleting a job in any terminal state reports that state with 200.
func (h *TranscriptionsHandler) Delete(c *fiber.Ctx) error {
	job, err := h.store.Cancel(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return respond(c, fiber.StatusOK, jobResponse{Job: job})
}

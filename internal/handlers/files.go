package handlers

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meeting-minutes/internal/apperr"
	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
	"github.com/codebuildervaibhav/meeting-minutes/internal/types"
)

// FilesHandler serves generated artifacts from the store as downloads.
type FilesHandler struct {
	store *storage.Store
}

// NewFilesHandler creates a new files handler
func NewFilesHandler(store *storage.Store) *FilesHandler {
	return &FilesHandler{store: store}
}

// completedResults loads the results of a COMPLETED job, or fails with
// JOB_NOT_FOUND / JOB_NOT_COMPLETED.
func (h *FilesHandler) completedResults(id string) (*types.JobResults, error) {
	results, err := h.store.GetResults(id)
	if err != nil {
		return nil, err
	}
	if results.Job.Status != types.StatusCompleted {
		return nil, apperr.Newf(apperr.CodeJobNotCompleted,
			"job is %s, files not available yet", results.Job.Status)
	}
	return results, nil
}

func sendText(c *fiber.Ctx, filename, body string) error {
	c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.SendString(body)
}

func sendJSON(c *fiber.Ctx, filename string, payload interface{}) error {
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return respondError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/json; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Send(body)
}

// TranscriptionTxt handles GET /files/:id/transcription.txt. The corrected
// transcript is the user-facing text.
func (h *FilesHandler) TranscriptionTxt(c *fiber.Ctx) error {
	results, err := h.completedResults(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return sendText(c, "transcription.txt", results.Corrected.Text)
}

// TranscriptionJSON handles GET /files/:id/transcription.json with both
// the verbatim and the corrected transcripts.
func (h *FilesHandler) TranscriptionJSON(c *fiber.Ctx) error {
	results, err := h.completedResults(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return sendJSON(c, "transcription.json", fiber.Map{
		"job_id":    results.Job.ID,
		"raw":       results.Raw,
		"corrected": results.Corrected,
	})
}

// SummaryTxt handles GET /files/:id/summary.txt (Markdown as text/plain).
func (h *FilesHandler) SummaryTxt(c *fiber.Ctx) error {
	results, err := h.completedResults(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return sendText(c, "summary.txt", results.Summary.FormattedText)
}

// SummaryJSON handles GET /files/:id/summary.json.
func (h *FilesHandler) SummaryJSON(c *fiber.Ctx) error {
	results, err := h.completedResults(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return sendJSON(c, "summary.json", fiber.Map{
		"job_id":         results.Job.ID,
		"formatted_text": results.Summary.FormattedText,
		"details":        results.Summary.Details,
		"model_used":     results.Summary.ModelUsed,
		"confidence":     results.Summary.Confidence,
	})
}

// Export handles GET /files/:id/export: a zip with every artifact.
func (h *FilesHandler) Export(c *fiber.Ctx) error {
	results, err := h.completedResults(c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	entries := []struct {
		name string
		body func() ([]byte, error)
	}{
		{"transcription.txt", func() ([]byte, error) {
			return []byte(results.Corrected.Text), nil
		}},
		{"transcription_raw.txt", func() ([]byte, error) {
			return []byte(results.Raw.Text), nil
		}},
		{"summary.md", func() ([]byte, error) {
			return []byte(results.Summary.FormattedText), nil
		}},
		{"summary.json", func() ([]byte, error) {
			return json.MarshalIndent(fiber.Map{
				"details":    results.Summary.Details,
				"model_used": results.Summary.ModelUsed,
				"confidence": results.Summary.Confidence,
			}, "", "  ")
		}},
		{"job.json", func() ([]byte, error) {
			return json.MarshalIndent(results.Job, "", "  ")
		}},
	}
	for _, entry := range entries {
		w, err := zw.Create(entry.name)
		if err != nil {
			return respondError(c, err)
		}
		body, err := entry.body()
		if err != nil {
			return respondError(c, err)
		}
		if _, err := w.Write(body); err != nil {
			return respondError(c, err)
		}
	}
	if err := zw.Close(); err != nil {
		return respondError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", results.Job.ID+"_export.zip"))
	return c.Send(buf.Bytes())
}

package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/codebuildervaibhav/meeting-minutes/internal/storage"
)

// LLMHealther checks reachability of the LLM host and its model.
type LLMHealther interface {
	Health(ctx context.Context) error
}

// HealthHandler serves liveness and system status.
type HealthHandler struct {
	store          *storage.Store
	llm            LLMHealther
	whisperHealthy func() bool
	version        string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(store *storage.Store, llm LLMHealther, whisperHealthy func() bool, version string) *HealthHandler {
	return &HealthHandler{
		store:          store,
		llm:            llm,
		whisperHealthy: whisperHealthy,
		version:        version,
	}
}

// Health handles GET /health. It reports per-service state and never
// returns 5xx while the process is serving.
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	storeState := "OK"
	overall := "healthy"
	if err := h.store.Health(); err != nil {
		storeState = "DEGRADED"
		overall = "degraded"
	}

	llmState := "OK"
	if err := h.llm.Health(c.Context()); err != nil {
		llmState = "DEGRADED"
		overall = "degraded"
	}

	whisperState := "OK"
	if !h.whisperHealthy() {
		whisperState = "DEGRADED"
		overall = "degraded"
	}

	return respond(c, fiber.StatusOK, fiber.Map{
		"status":  overall,
		"version": h.version,
		"store":   storeState,
		"llm":     llmState,
		"whisper": whisperState,
	})
}

// Status handles GET /api/v1/status with job statistics.
func (h *HealthHandler) Status(c *fiber.Ctx) error {
	stats, err := h.store.Statistics()
	if err != nil {
		return respondError(c, err)
	}

	services := fiber.Map{"store": "OK", "llm": "OK", "whisper": "OK"}
	if err := h.store.Health(); err != nil {
		services["store"] = "DEGRADED"
	}
	if err := h.llm.Health(c.Context()); err != nil {
		services["llm"] = "DEGRADED"
	}
	if !h.whisperHealthy() {
		services["whisper"] = "DEGRADED"
	}

	return respond(c, fiber.StatusOK, fiber.Map{
		"api_version": "v1",
		"app_version": h.version,
		"services":    services,
		"statistics":  stats,
	})
}

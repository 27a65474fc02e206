package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"souschef/internal/vector"
)

// KnowledgeHandler handles HTTP requests for knowledge-base ingestion
type KnowledgeHandler struct {
	store *vector.Store
}

// NewKnowledgeHandler creates a new knowledge handler
func NewKnowledgeHandler(store *vector.Store) *KnowledgeHandler {
	return &KnowledgeHandler{store: store}
}

type ingestRequest struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Ingest embeds and indexes one document
// POST /api/knowledge
func (h *KnowledgeHandler) Ingest(c *fiber.Ctx) error {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Text is required",
		})
	}

	id, err := h.store.Add(c.Context(), req.Text, req.Metadata)
	if err != nil {
		log.Printf("❌ Failed to index document: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to index document",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    id,
		"count": h.store.Len(),
	})
}

package handlers

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"souschef/internal/models"
	"souschef/internal/services"
)

// ChatHandler handles HTTP requests for the chat endpoint
type ChatHandler struct {
	orchestrator *services.Orchestrator
}

// NewChatHandler creates a new chat handler
func NewChatHandler(orchestrator *services.Orchestrator) *ChatHandler {
	return &ChatHandler{orchestrator: orchestrator}
}

// Handle processes one chat turn
// POST /api/chat
func (h *ChatHandler) Handle(c *fiber.Ctx) error {
	var req models.ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	resp, err := h.orchestrator.Handle(c.Context(), req)
	if err != nil {
		if strings.Contains(err.Error(), "required") {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		log.Printf("❌ Chat request failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process chat request",
		})
	}

	return c.JSON(resp)
}

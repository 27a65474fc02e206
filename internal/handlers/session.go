package handlers

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"souschef/internal/database"
	"souschef/internal/memory"
)

// SessionHandler handles HTTP requests for session transcripts
type SessionHandler struct {
	memory  *memory.Manager
	archive *database.DB
}

// NewSessionHandler creates a new session handler. archive may be nil.
func NewSessionHandler(mem *memory.Manager, archive *database.DB) *SessionHandler {
	return &SessionHandler{memory: mem, archive: archive}
}

// Get returns a session transcript, live or archived
// GET /api/sessions/:id
func (h *SessionHandler) Get(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session ID is required",
		})
	}

	if session := h.memory.Snapshot(sessionID); session != nil {
		return c.JSON(fiber.Map{"session": session, "live": true})
	}

	if h.archive != nil {
		session, err := h.archive.LoadTranscript(c.Context(), sessionID)
		if err != nil {
			log.Printf("❌ Failed to load archived session %s: %v", sessionID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load session",
			})
		}
		if session != nil {
			return c.JSON(fiber.Map{"session": session, "live": false})
		}
	}

	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error": "Session not found",
	})
}

// Delete closes a live session, flushing it to the archive
// DELETE /api/sessions/:id
func (h *SessionHandler) Delete(c *fiber.Ctx) error {
	sessionID := c.Params("id")
	if sessionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Session ID is required",
		})
	}

	closed := h.memory.Close(sessionID)
	if !closed {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Session not found",
		})
	}

	log.Printf("✅ Session %s closed", sessionID)
	return c.JSON(fiber.Map{"closed": true})
}

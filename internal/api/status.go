package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"askbase/internal/evidence"
	"askbase/internal/generation"
	"askbase/internal/models"
	"askbase/internal/service/store"
)

// generationStatus reconciles and reports one generation by id.
func (h *Handler) generationStatus(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	gen, err := h.store.GenerationForUser(c.Request.Context(), userID, c.Param("generation_id"))
	if err != nil {
		if errors.Is(err, store.ErrGenerationNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "idle"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.renderStatus(c, gen)
}

// conversationStatus resolves the newest in-flight generation for the
// conversation and reports its reconciled state.
func (h *Handler) conversationStatus(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil || conversationID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}
	gen, err := h.store.LatestProcessing(c.Request.Context(), userID, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrGenerationNotFound) {
			c.JSON(http.StatusOK, gin.H{"status": "idle"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.renderStatus(c, gen)
}

func (h *Handler) renderStatus(c *gin.Context, gen *models.ChatGeneration) {
	view, err := h.supervisor.Reconcile(c.Request.Context(), gen)
	if err != nil {
		if errors.Is(err, generation.ErrMissingAssistantMessage) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "generation record is inconsistent"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	switch view.Status {
	case models.GenerationCompleted:
		msg := view.Message
		c.JSON(http.StatusOK, gin.H{
			"status":     "completed",
			"message_id": msg.ID,
			"answer":     msg.Content,
			"sources":    msg.Citations,
			"matches":    msg.Matches,
			"mentions":   evidence.ExtractMentions(msg.Content, msg.Citations),
		})
	case models.GenerationFailed, models.GenerationExpired:
		c.JSON(http.StatusOK, gin.H{
			"status": string(view.Status),
			"error":  view.Error,
		})
	default:
		out := gin.H{"status": "processing"}
		if view.ThinkingStatus != "" {
			out["thinkingStatus"] = view.ThinkingStatus
		}
		if len(view.ThinkingSteps) > 0 {
			out["thinkingSteps"] = view.ThinkingSteps
		}
		if view.Mode != "" {
			out["mode"] = view.Mode
		}
		if view.RoutingReason != "" {
			out["routingReason"] = view.RoutingReason
		}
		c.JSON(http.StatusOK, out)
	}
}

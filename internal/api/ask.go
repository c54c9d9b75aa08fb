package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"askbase/internal/evidence"
	"askbase/internal/logger"
	"askbase/internal/models"
	"askbase/internal/quota"
	"askbase/internal/relay"
	"askbase/internal/upstream"
)

const maxQuestionLen = 4000

type askRequest struct {
	Question       string `json:"question"`
	ConversationID int64  `json:"conversation_id"`
	ResponseMode   string `json:"response_mode"`
}

func validMode(mode string) (string, bool) {
	switch mode {
	case "":
		return "auto", true
	case "auto", "light", "heavy":
		return mode, true
	}
	return "", false
}

// ask accepts a question, persists the user turn, creates a generation,
// and either relays a live answer stream or falls back to an async
// backend task plus a background monitor.
func (h *Handler) ask(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}

	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" || len([]rune(req.Question)) > maxQuestionLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question must be 1..4000 characters"})
		return
	}
	mode, ok := validMode(req.ResponseMode)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "response_mode must be auto, light, or heavy"})
		return
	}
	if _, err := h.store.Conversation(c.Request.Context(), userID, req.ConversationID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	snap, err := h.quota.Allow(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, quota.ErrExceeded) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "daily quota exceeded",
				"quota": snap,
			})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quota check failed"})
		return
	}

	if _, err := h.store.AppendMessage(c.Request.Context(), models.Message{
		UserID:         userID,
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Question,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "persist question failed"})
		return
	}

	gen := &models.ChatGeneration{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		UserID:         userID,
		ExpiresAt:      time.Now().UTC().Add(h.window),
	}
	if err := h.store.CreateGeneration(c.Request.Context(), gen); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create generation failed"})
		return
	}

	ask := upstream.AskRequest{Question: req.Question, Mode: mode}

	body, err := h.backend.StreamAsk(c.Request.Context(), ask)
	if err == nil {
		h.relayStream(c, gen, body)
		return
	}
	logger.Warnf("generation %s: stream refused, falling back to task: %v", gen.ID, err)
	h.askViaTask(c, gen, ask)
}

// relayStream pipes the upstream answer stream to the client while the
// relay shadow-parses it, then persists the outcome exactly once.
func (h *Handler) relayStream(c *gin.Context, gen *models.ChatGeneration, body io.ReadCloser) {
	defer body.Close()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Header().Set("X-Generation-ID", gen.ID)
	c.Status(http.StatusOK)

	forward := func(chunk []byte) error {
		if _, err := c.Writer.Write(chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	rl := relay.New()
	buf := make([]byte, 4096)
	drained := true
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := rl.Consume(buf[:n], forward); err != nil {
				// Client went away; the monitor fallback reconciles.
				logger.Warnf("generation %s: client dropped stream: %v", gen.ID, err)
				drained = false
				break
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				logger.Warnf("generation %s: upstream stream error: %v", gen.ID, readErr)
				drained = false
			}
			break
		}
	}

	outcome, ok := rl.Finish()
	if !ok {
		if drained {
			logger.Warnf("generation %s: stream ended without a usable answer", gen.ID)
		}
		h.supervisor.Watch(gen.ID)
		return
	}

	// Persist with a fresh context: the client may already be gone, and
	// the stream it saw must not depend on storage succeeding.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, ok := evidence.Sanitize(outcome.Answer, outcome.Matches)
	if !ok {
		h.supervisor.Watch(gen.ID)
		return
	}
	if _, err := h.store.Complete(ctx, gen, &res); err != nil {
		logger.Errorf("generation %s: persist streamed answer: %v", gen.ID, err)
	}
}

// askViaTask registers an async backend task and hands the generation
// to the background monitor.
func (h *Handler) askViaTask(c *gin.Context, gen *models.ChatGeneration, ask upstream.AskRequest) {
	taskID, err := h.backend.CreateTask(c.Request.Context(), ask)
	if err != nil {
		if markErr := h.store.MarkFailed(c.Request.Context(), gen.ID, "backend unavailable"); markErr != nil {
			logger.Errorf("generation %s: mark failed: %v", gen.ID, markErr)
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": "answer backend unavailable"})
		return
	}
	if err := h.store.SetGenerationTask(c.Request.Context(), gen.ID, taskID); err != nil {
		logger.Errorf("generation %s: store task id: %v", gen.ID, err)
	}
	h.supervisor.Watch(gen.ID)
	c.JSON(http.StatusAccepted, gin.H{
		"status":        "processing",
		"generation_id": gen.ID,
	})
}

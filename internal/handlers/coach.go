package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/franzego/coachengine/internal/messagestore"
	"github.com/franzego/coachengine/internal/models"
	"github.com/franzego/coachengine/internal/router"
	"github.com/franzego/coachengine/internal/topicstate"
)

// CoachHandler exposes the routing engine to producers (candidate
// submission) and the app UI (inbox, dismiss, app-open).
type CoachHandler struct {
	router   *router.Router
	messages *messagestore.Store
	topics   *topicstate.Store
	log      *zap.SugaredLogger
}

func NewCoachHandler(
	rt *router.Router,
	messages *messagestore.Store,
	topics *topicstate.Store,
	logger *zap.SugaredLogger,
) *CoachHandler {
	return &CoachHandler{
		router:   rt,
		messages: messages,
		topics:   topics,
		log:      logger,
	}
}

func userID(c *gin.Context) (string, bool) {
	id := c.GetString("user_id")
	if id == "" {
		c.JSON(http.StatusUnauthorized, models.APIResponse{
			Success: false,
			Error:   "no user identity on request",
			Message: "Unauthorized",
		})
		return "", false
	}
	return id, true
}

// SubmitCandidate routes a single candidate. Rejections come back 200 with
// accepted=false; they are normal outcomes for producers, not errors.
func (h *CoachHandler) SubmitCandidate(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	var req models.CandidateMessage
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}

	id, decision, err := h.router.Deliver(c.Request.Context(), user, req)
	if err != nil {
		h.log.Errorw("deliver failed", "user", user, "error", err)
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to persist routing decision",
			Message: "Internal Server Error",
		})
		return
	}

	message := "Candidate accepted"
	if !decision.Accepted {
		message = "Candidate rejected"
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: message,
		Data: models.DeliverResponse{
			MessageID: id,
			Decision:  decision,
		},
	})
}

// SubmitBatch routes a candidate pool under the per-topic and non-urgent
// batch caps.
func (h *CoachHandler) SubmitBatch(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	var req models.BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIResponse{
			Success: false,
			Error:   err.Error(),
			Message: "Invalid Request Body",
		})
		return
	}

	ids, err := h.router.DeliverBatch(c.Request.Context(), user, req.Candidates)
	if err != nil {
		h.log.Errorw("batch deliver failed", "user", user, "error", err)
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to process candidate batch",
			Message: "Internal Server Error",
		})
		return
	}

	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Batch processed",
		Data: models.BatchResponse{
			AcceptedIDs: ids,
			Submitted:   len(req.Candidates),
			Accepted:    len(ids),
		},
	})
}

// GetInbox sweeps this user's expired messages and returns the active set,
// newest first.
func (h *CoachHandler) GetInbox(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.router.CleanupExpired(ctx, user); err != nil {
		h.log.Warnw("inbox sweep failed", "user", user, "error", err)
	}
	active, err := h.messages.Active(ctx, user, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to read inbox",
			Message: "Internal Server Error",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Inbox",
		Data:    active,
	})
}

// Dismiss marks a message dismissed and feeds the dismissal back into the
// topic's engagement state for future score damping.
func (h *CoachHandler) Dismiss(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	id := c.Param("id")
	ctx := c.Request.Context()

	msg, err := h.messages.Dismiss(ctx, user, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to dismiss message",
			Message: "Internal Server Error",
		})
		return
	}
	if msg == nil {
		c.JSON(http.StatusNotFound, models.APIResponse{
			Success: false,
			Error:   "message not found",
			Message: "Not Found",
		})
		return
	}
	if err := h.topics.RecordDismiss(ctx, user, msg.Topic); err != nil {
		h.log.Warnw("dismiss bookkeeping failed", "user", user, "topic", msg.Topic, "error", err)
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "Message dismissed",
	})
}

// AppOpen records an app-open sample used to learn preferred delivery hours.
func (h *CoachHandler) AppOpen(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}
	if err := h.topics.RecordAppOpen(c.Request.Context(), user, time.Now()); err != nil {
		c.JSON(http.StatusInternalServerError, models.APIResponse{
			Success: false,
			Error:   "failed to record app open",
			Message: "Internal Server Error",
		})
		return
	}
	c.JSON(http.StatusOK, models.APIResponse{
		Success: true,
		Message: "App open recorded",
	})
}

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"signalpush/internal/model"
	"signalpush/internal/service/dispatch"
	"signalpush/pkg/logger"
)

const errProcessing = "Failed to process notification"

// Dispatcher is the part of dispatch.Service the handler uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, req model.NotificationRequest) (*model.DispatchResponse, error)
	Recent(ctx context.Context, limit int) ([]model.Notification, error)
	Get(ctx context.Context, id string) (*model.Notification, error)
}

type NotificationHandler struct {
	dispatcher Dispatcher
	logger     *zap.Logger
}

func NewNotificationHandler(dispatcher Dispatcher, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create handles POST: runs one dispatch and reports its outcome.
func (h *NotificationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.WithTrace(ctx, h.logger)

	var req model.NotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	resp, err := h.dispatcher.Dispatch(ctx, req)
	if err != nil {
		if dispatch.IsValidation(err) {
			abortWithError(c, http.StatusBadRequest, "Invalid notification", err.Error())
			return
		}

		log.Error("Notification function error", zap.Error(err))
		body := gin.H{"error": errProcessing, "details": err.Error()}
		var finalizeErr *dispatch.FinalizeError
		if errors.As(err, &finalizeErr) {
			body["notification_id"] = finalizeErr.NotificationID
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, body)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List handles GET: the most recent notifications, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	limit := dispatch.MaxRecent
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "Invalid limit", err.Error())
			return
		}
		limit = n
	}

	notifications, err := h.dispatcher.Recent(ctx, limit)
	if err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to fetch notifications", zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, errProcessing, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"notifications": notifications})
}

// Get handles GET /:id: one notification record.
func (h *NotificationHandler) Get(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	// ids are UUIDs; anything else cannot exist
	if _, err := uuid.Parse(id); err != nil {
		abortWithError(c, http.StatusNotFound, "Notification not found", id)
		return
	}

	n, err := h.dispatcher.Get(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		abortWithError(c, http.StatusNotFound, "Notification not found", id)
		return
	}
	if err != nil {
		logger.WithTrace(ctx, h.logger).Error("Failed to fetch notification", zap.String("notification_id", id), zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, errProcessing, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"notification": n})
}

func methodNotAllowed(c *gin.Context) {
	abortWithError(c, http.StatusMethodNotAllowed, "Method not allowed",
		c.Request.Method+" is not supported on "+c.Request.URL.Path)
}

func abortWithError(c *gin.Context, status int, msg, details string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "details": details})
}

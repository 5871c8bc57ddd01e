package events

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"conveyor/internal/constants"
	"conveyor/internal/logger"
	"conveyor/pkg/errors"
)

type Handler struct {
	service Service
	logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		events := v1.Group("/events")
		{
			events.GET("/statistics", h.GetStatistics)
			events.GET("/recent", h.GetRecent)
			events.GET("/status/:status", h.GetByStatus)
			events.GET("/user/:subject", h.GetBySubject)
			events.PUT("/:eventId/complete", h.CompleteEvent)
			events.POST("/cleanup", h.Cleanup)
			events.POST("/enqueue", h.Enqueue)
		}

		letters := v1.Group("/deadletters")
		{
			letters.GET("", h.ListDeadLetters)
			letters.GET("/:eventId", h.GetDeadLetter)
			letters.POST("/:eventId/replay", h.ReplayDeadLetter)
			letters.DELETE("/:eventId", h.DiscardDeadLetter)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
}

// GetStatistics godoc
// @Summary      Command processing statistics
// @Description  Get per-status counts and the success rate over all tracked commands
// @Tags         events
// @Produce      json
// @Success      200  {object}  tracking.Statistics
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /events/statistics [get]
func (h *Handler) GetStatistics(c *gin.Context) {
	stats, err := h.service.Statistics(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetRecent godoc
// @Summary      Recently tracked commands
// @Description  Get commands created within the last 24 hours, newest first
// @Tags         events
// @Produce      json
// @Success      200  {array}   tracking.TrackingRecord
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /events/recent [get]
func (h *Handler) GetRecent(c *gin.Context) {
	records, err := h.service.Recent(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetByStatus godoc
// @Summary      Commands by status
// @Description  Get tracked commands currently in the given status
// @Tags         events
// @Produce      json
// @Param        status  path      string  true  "Status (PENDING, PROCESSING, COMPLETED, FAILED, RETRY)"
// @Success      200     {array}   tracking.TrackingRecord
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /events/status/{status} [get]
func (h *Handler) GetByStatus(c *gin.Context) {
	records, err := h.service.ByStatus(c.Request.Context(), c.Param("status"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// GetBySubject godoc
// @Summary      Commands by subject
// @Description  Get tracked commands for one subject, newest first
// @Tags         events
// @Produce      json
// @Param        subject  path      string  true  "Subject identifier"
// @Success      200      {array}   tracking.TrackingRecord
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /events/user/{subject} [get]
func (h *Handler) GetBySubject(c *gin.Context) {
	records, err := h.service.BySubject(c.Request.Context(), c.Param("subject"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// CompleteEvent godoc
// @Summary      Force-complete a command
// @Description  Mark a non-terminal command as Completed after out-of-band resolution
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        eventId  path      string           true   "Event ID"
// @Param        body     body      CompleteRequest  false  "Completion message"
// @Success      200      {object}  tracking.TrackingRecord
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      409      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /events/{eventId}/complete [put]
func (h *Handler) CompleteEvent(c *gin.Context) {
	var req CompleteRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
			return
		}
	}

	record, err := h.service.ForceComplete(c.Request.Context(), c.Param("eventId"), req.Message)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

// Cleanup godoc
// @Summary      Sweep stale commands
// @Description  Run the stale-record reaper synchronously and report how many records it failed
// @Tags         events
// @Produce      json
// @Success      200  {object}  CleanupResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /events/cleanup [post]
func (h *Handler) Cleanup(c *gin.Context) {
	swept, err := h.service.Cleanup(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, CleanupResponse{Swept: swept, Timestamp: time.Now()})
}

// Enqueue godoc
// @Summary      Enqueue a command
// @Description  Validate and publish a new command into the pipeline
// @Tags         events
// @Accept       json
// @Produce      json
// @Param        command  body      EnqueueRequest  true  "Command to enqueue"
// @Success      202      {object}  EnqueueResponse
// @Failure      400      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /events/enqueue [post]
func (h *Handler) Enqueue(c *gin.Context) {
	var req EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	env, err := h.service.Enqueue(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, EnqueueResponse{EventID: env.EventID, Status: string(env.Status)})
}

// ListDeadLetters godoc
// @Summary      List dead letters
// @Description  List archived dead letters, optionally narrowed by family and a CEL payload filter
// @Tags         deadletters
// @Produce      json
// @Param        family  query     string  false  "Command family"
// @Param        filter  query     string  false  "CEL filter expression"
// @Param        limit   query     int     false  "Maximum results"
// @Success      200     {array}   deadletter.DeadLetter
// @Failure      400     {object}  errors.ErrorResponse
// @Failure      500     {object}  errors.ErrorResponse
// @Router       /deadletters [get]
func (h *Handler) ListDeadLetters(c *gin.Context) {
	limit := constants.DefaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(
				errors.ErrValidation.WithMessage("limit must be a positive integer")))
			return
		}
		limit = parsed
	}

	letters, err := h.service.ListDeadLetters(c.Request.Context(), c.Query("family"), c.Query("filter"), limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, letters)
}

// GetDeadLetter godoc
// @Summary      Inspect a dead letter
// @Tags         deadletters
// @Produce      json
// @Param        eventId  path      string  true  "Event ID"
// @Success      200      {object}  deadletter.DeadLetter
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /deadletters/{eventId} [get]
func (h *Handler) GetDeadLetter(c *gin.Context) {
	letter, err := h.service.GetDeadLetter(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, letter)
}

// ReplayDeadLetter godoc
// @Summary      Replay a dead letter
// @Description  Republish the archived command to its family topic and reset its tracking record
// @Tags         deadletters
// @Produce      json
// @Param        eventId  path      string  true  "Event ID"
// @Success      200      {object}  deadletter.DeadLetter
// @Failure      404      {object}  errors.ErrorResponse
// @Failure      500      {object}  errors.ErrorResponse
// @Router       /deadletters/{eventId}/replay [post]
func (h *Handler) ReplayDeadLetter(c *gin.Context) {
	letter, err := h.service.ReplayDeadLetter(c.Request.Context(), c.Param("eventId"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, letter)
}

// DiscardDeadLetter godoc
// @Summary      Discard a dead letter
// @Tags         deadletters
// @Param        eventId  path  string  true  "Event ID"
// @Success      204
// @Failure      404  {object}  errors.ErrorResponse
// @Failure      500  {object}  errors.ErrorResponse
// @Router       /deadletters/{eventId} [delete]
func (h *Handler) DiscardDeadLetter(c *gin.Context) {
	if err := h.service.DiscardDeadLetter(c.Request.Context(), c.Param("eventId")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

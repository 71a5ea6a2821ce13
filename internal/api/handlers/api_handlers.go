package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"esp32-facecam/config"
	"esp32-facecam/internal/camera"
	"esp32-facecam/internal/core/models"
	"esp32-facecam/internal/core/processor"
	"esp32-facecam/internal/display"
	"esp32-facecam/internal/utils"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Controller is the recognition loop as seen by the control surface
type Controller interface {
	Start(ctx context.Context) error
	Stop()
	Toggle(ctx context.Context) (bool, error)
	SwitchSource(kind camera.Kind) bool
	SetResolution(resolution string) error
	Status() models.Status
}

// APIHandler serves the JSON control API
type APIHandler struct {
	ctrl     Controller
	sink     *display.Sink
	audience utils.Audience
	quit     func()
}

// NewAPIHandler creates the API handler. quit is called once the quit response was sent.
func NewAPIHandler(ctrl Controller, sink *display.Sink, audience utils.Audience, quit func()) *APIHandler {
	return &APIHandler{
		ctrl:     ctrl,
		sink:     sink,
		audience: audience,
		quit:     quit,
	}
}

// RegisterRoutes registers the API routes below /api
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.POST("/recognition/start", h.StartRecognition)
	router.POST("/recognition/stop", h.StopRecognition)
	router.POST("/recognition/toggle", h.ToggleRecognition)
	router.POST("/source", h.SwitchSource)
	router.POST("/resolution", h.SetResolution)
	router.POST("/quit", h.Quit)

	router.GET("/status", h.GetStatus)
	router.GET("/snapshot.jpg", h.GetSnapshot)
	router.GET("/history", h.ListHistory)
	router.GET("/history/:id", h.GetHistoryImage)
}

// sessionContext detaches the loop from the request so the session outlives it
func sessionContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

// StartRecognition starts the loop; starting a running loop is rejected with 409
func (h *APIHandler) StartRecognition(c *gin.Context) {
	if err := h.ctrl.Start(sessionContext(c)); err != nil {
		if errors.Is(err, processor.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": h.ctrl.Status()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.Status())
}

// StopRecognition stops the loop; stopping a stopped loop succeeds
func (h *APIHandler) StopRecognition(c *gin.Context) {
	h.ctrl.Stop()
	c.JSON(http.StatusOK, h.ctrl.Status())
}

// ToggleRecognition starts or stops the loop
func (h *APIHandler) ToggleRecognition(c *gin.Context) {
	if _, err := h.ctrl.Toggle(sessionContext(c)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.Status())
}

type sourceRequest struct {
	Source string `json:"source" form:"source" binding:"required"`
}

// SwitchSource changes the preferred source, stopping a running loop
func (h *APIHandler) SwitchSource(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source is required"})
		return
	}
	kind, err := camera.ParseKind(req.Source)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	stopped := h.ctrl.SwitchSource(kind)
	c.JSON(http.StatusOK, gin.H{"stopped": stopped, "status": h.ctrl.Status()})
}

type resolutionRequest struct {
	Resolution string `json:"resolution" form:"resolution" binding:"required"`
}

// SetResolution selects the ESP32 snapshot preset
func (h *APIHandler) SetResolution(c *gin.Context) {
	var req resolutionRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resolution is required"})
		return
	}
	if !config.ValidResolution(req.Resolution) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown resolution " + strconv.Quote(req.Resolution)})
		return
	}
	if err := h.ctrl.SetResolution(req.Resolution); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.ctrl.Status())
}

// GetStatus returns the loop status and process statistics
func (h *APIHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"recognition":   h.ctrl.Status(),
		"display_error": h.sink.LastError(),
		"system":        utils.GetSystemStats(h.audience),
	})
}

// GetSnapshot returns the latest annotated frame, 204 before the first one
func (h *APIHandler) GetSnapshot(c *gin.Context) {
	frame := h.sink.Latest()
	if frame == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", frame.JPEG)
}

// ListHistory returns the metadata of the most recent frames, newest first
func (h *APIHandler) ListHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"frames": h.sink.History().Latest(limit)})
}

// GetHistoryImage returns one remembered frame as JPEG
func (h *APIHandler) GetHistoryImage(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid frame id"})
		return
	}
	frame, ok := h.sink.History().Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "frame not found"})
		return
	}
	c.Data(http.StatusOK, "image/jpeg", frame.JPEG)
}

// Quit stops the loop and asks the process to shut down after answering
func (h *APIHandler) Quit(c *gin.Context) {
	h.ctrl.Stop()

	c.JSON(http.StatusOK, gin.H{"success": true, "message": "shutting down"})
	if flusher, ok := c.Writer.(http.Flusher); ok {
		flusher.Flush()
	}

	log.Info("Quit requested from the control surface")
	if h.quit != nil {
		go h.quit()
	}
}

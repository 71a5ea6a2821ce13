package handlers

import (
	"fmt"
	"html/template"
	"io"
	"io/fs"
	"net/http"
	"time"

	"esp32-facecam/internal/api/middleware"
	"esp32-facecam/internal/core/models"
	"esp32-facecam/internal/display"
	"esp32-facecam/internal/server/sse"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const sseKeepAlive = 15 * time.Second

// WebHandler serves the browser page, the MJPEG preview and the event stream
type WebHandler struct {
	ctrl       Controller
	sink       *display.Sink
	sseHub     *sse.Hub
	templates  *template.Template
	translator *middleware.Translator
}

// PageData is passed to the page template
type PageData struct {
	Language  string
	Languages []string
	Status    models.Status
	T         func(string) string
}

// NewWebHandler parses the templates found in templates/*.html of assets
func NewWebHandler(ctrl Controller, sink *display.Sink, hub *sse.Hub, assets fs.FS, translator *middleware.Translator) (*WebHandler, error) {
	templates, err := template.ParseFS(assets, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	log.Debugf("Loaded %d templates", len(templates.Templates()))

	return &WebHandler{
		ctrl:       ctrl,
		sink:       sink,
		sseHub:     hub,
		templates:  templates,
		translator: translator,
	}, nil
}

// RegisterRoutes registers the page, stream and event routes
func (h *WebHandler) RegisterRoutes(router gin.IRoutes) {
	router.GET("/", h.handleIndex)
	router.GET("/stream.mjpeg", h.handleStream)
	router.GET("/events", h.handleSSE)
}

func (h *WebHandler) handleIndex(c *gin.Context) {
	lang := c.GetString(middleware.LanguageKey)
	t, ok := c.Get(middleware.TranslateKey)
	translate, _ := t.(func(string) string)
	if !ok || translate == nil {
		translate = func(key string) string { return h.translator.Translate(lang, key) }
	}

	data := PageData{
		Language:  lang,
		Languages: h.translator.Languages(),
		Status:    h.ctrl.Status(),
		T:         translate,
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.templates.ExecuteTemplate(c.Writer, "index.html", data); err != nil {
		log.Errorf("Template execution error: %v", err)
		c.String(http.StatusInternalServerError, "Template error: "+err.Error())
	}
}

func (h *WebHandler) handleStream(c *gin.Context) {
	h.sink.ServeHTTP(c.Writer, c.Request)
}

// handleSSE streams hub messages until the client or the hub goes away
func (h *WebHandler) handleSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	client := make(sse.Client, 10)
	if !h.sseHub.Register(client) {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	defer h.sseHub.Unregister(client)

	// current state first so a fresh page is in sync
	c.SSEvent(sse.EventStatus, h.ctrl.Status())
	c.Writer.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-client:
			if !ok {
				return false
			}
			c.SSEvent(msg.Event, string(msg.Data))
			return true
		case <-keepAlive.C:
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		case <-c.Request.Context().Done():
			return false
		}
	})
}

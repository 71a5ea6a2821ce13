// Package api assembles the HTTP control surface.
package api

import (
	"io/fs"
	"net/http"

	"esp32-facecam/config"
	"esp32-facecam/internal/api/handlers"
	"esp32-facecam/internal/api/middleware"
	"esp32-facecam/internal/display"
	"esp32-facecam/internal/server/sse"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

const sessionName = "facecam"

// Dependencies are the services exposed by the router
type Dependencies struct {
	Config     *config.Config
	Controller handlers.Controller
	Sink       *display.Sink
	Hub        *sse.Hub
	Assets     fs.FS
	Quit       func()
}

// audience adapts the sink and the hub for the statistics endpoint
type audience struct {
	sink *display.Sink
	hub  *sse.Hub
}

func (a audience) Viewers() int { return a.sink.Viewers() }
func (a audience) Clients() int { return a.hub.Clients() }

// NewRouter builds the gin engine with every route registered
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if gin.Mode() != gin.TestMode {
		if deps.Config.Log.Level == "debug" {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}
	}

	translator, err := middleware.NewTranslator(middleware.I18nConfig{
		DefaultLanguage: deps.Config.UI.DefaultLanguage,
		Locales:         deps.Assets,
		LocalesDir:      "locales",
	})
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger())
	router.Use(cors.Default())
	router.Use(sessions.Sessions(sessionName, cookie.NewStore([]byte(deps.Config.UI.SessionSecret))))
	router.Use(middleware.I18n(translator))

	web, err := handlers.NewWebHandler(deps.Controller, deps.Sink, deps.Hub, deps.Assets, translator)
	if err != nil {
		return nil, err
	}
	web.RegisterRoutes(router)

	apiHandler := handlers.NewAPIHandler(deps.Controller, deps.Sink, audience{sink: deps.Sink, hub: deps.Hub}, deps.Quit)
	apiHandler.RegisterRoutes(router.Group("/api"))

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})

	return router, nil
}

// requestLogger logs every request through logrus at debug level
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Debug("HTTP request")
	}
}

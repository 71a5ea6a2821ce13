package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"esp32-facecam/config"
	"esp32-facecam/internal/api"
	"esp32-facecam/internal/camera"
	"esp32-facecam/internal/core/processor"
	"esp32-facecam/internal/display"
	"esp32-facecam/internal/enrollment"
	"esp32-facecam/internal/integrations/goface"
	"esp32-facecam/internal/integrations/homeassistant"
	"esp32-facecam/internal/integrations/mqtt"
	"esp32-facecam/internal/integrations/opencv"
	"esp32-facecam/internal/logger"
	"esp32-facecam/internal/selector"
	"esp32-facecam/internal/server/sse"
	"esp32-facecam/web"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	shutdownTimeout = 10 * time.Second
	counterQuiet    = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recognition loop and the browser control surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// setup loads the configuration and starts logging
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	logs, err := logger.Init(cfg.Log)
	if err != nil {
		// logging falls back to stdout
		log.Errorf("Failed to initialize logger completely: %v", err)
	}
	return cfg, logs, nil
}

func runServe(parent context.Context) error {
	cfg, logs, err := setup()
	if err != nil {
		return err
	}
	defer logs.Close()

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log.Info("Loading face recognition models...")
	engine, err := goface.NewService(cfg.Recognition.ModelsDir)
	if err != nil {
		return fmt.Errorf("failed to initialize face engine: %w", err)
	}
	defer engine.Close()

	enrolled, err := enrollment.Load(ctx, cfg.Recognition.FacesDir, engine)
	if err != nil {
		return fmt.Errorf("failed to load known faces: %w", err)
	}
	for _, skip := range enrolled.Skipped {
		log.WithField("file", skip.File).Warnf("Skipped enrollment image: %s", skip.Reason)
	}
	log.Infof("Loaded %d known faces from %s", enrolled.Catalog.Len(), cfg.Recognition.FacesDir)

	esp32 := camera.NewESP32(cfg.Camera.ESP32)
	webcam := opencv.NewWebcam(cfg.Camera.Webcam)

	preferred, err := camera.ParseKind(cfg.Camera.DefaultSource)
	if err != nil {
		return err
	}
	sel := selector.New(esp32, webcam, selector.Options{
		Preferred:        preferred,
		FailureThreshold: cfg.Recognition.FailureThreshold,
		ProbeTimeout:     cfg.Camera.ESP32.Timeout,
	})

	sink := display.NewSink(cfg.Display.History)
	defer sink.Close()

	hub := sse.NewHub()
	go hub.Run(ctx)

	notifiers := []processor.Notifier{hub}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(cfg.MQTT)
		publisher := homeassistant.NewPublisher(mqttClient)
		notifiers = append(notifiers, publisher)

		if cfg.MQTT.HomeAssistant.Enabled {
			discovery := homeassistant.NewDiscoveryManager(mqttClient, cfg.MQTT.HomeAssistant.DiscoveryPrefix, Version)
			labels := enrolled.Catalog.Labels()
			mqttClient.OnConnect(func() {
				if err := discovery.RegisterLabels(labels); err != nil {
					log.Errorf("Failed to register Home Assistant sensors: %v", err)
				}
			})
		}

		if err := mqttClient.Start(); err != nil {
			log.Warnf("Failed to connect to MQTT broker: %v. Continuing with automatic reconnect.", err)
		}
		defer mqttClient.Stop()

		go publisher.Run(ctx)
		publisher.StartResetTimers(ctx, counterQuiet)
	} else {
		log.Info("MQTT is disabled in config.")
	}

	ctrl := processor.NewController(processor.Options{
		Pipeline: processor.NewPipeline(engine, enrolled.Catalog, processor.PipelineOptions{
			Tolerance: cfg.Recognition.Tolerance,
			Downscale: cfg.Recognition.Downscale,
		}),
		Selector:  sel,
		Sink:      sink,
		Sources:   []camera.Source{esp32, webcam},
		Remote:    esp32,
		Notifiers: notifiers,
	})
	defer ctrl.Stop()

	router, err := api.NewRouter(api.Dependencies{
		Config:     cfg,
		Controller: ctrl,
		Sink:       sink,
		Hub:        hub,
		Assets:     web.Assets,
		Quit:       cancel,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	if cfg.Recognition.AutoStart {
		if err := ctrl.Start(context.WithoutCancel(ctx)); err != nil {
			log.Warnf("Failed to start recognition: %v", err)
		}
	}

	select {
	case <-ctx.Done():
		log.Info("Shutting down...")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	ctrl.Stop()

	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()
	// streaming responses never finish on their own
	sink.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnf("Server shutdown: %v", err)
		srv.Close()
	}

	log.Info("Server stopped.")
	return nil
}

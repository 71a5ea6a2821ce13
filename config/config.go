package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config is the main application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
	Camera      CameraConfig      `mapstructure:"camera"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Display     DisplayConfig     `mapstructure:"display"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
	UI          UIConfig          `mapstructure:"ui"`
}

// ServerConfig holds the HTTP control surface settings
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
	File   string `mapstructure:"file"`
}

// CameraConfig holds settings for both frame sources
type CameraConfig struct {
	DefaultSource string       `mapstructure:"default_source"` // "esp32" or "webcam"
	ESP32         ESP32Config  `mapstructure:"esp32"`
	Webcam        WebcamConfig `mapstructure:"webcam"`
}

// ESP32Config holds settings for the networked snapshot camera
type ESP32Config struct {
	Host       string            `mapstructure:"host"`
	Resolution string            `mapstructure:"resolution"` // "low", "medium" or "high"
	URLs       map[string]string `mapstructure:"urls"`       // resolution -> snapshot URL
	Timeout    time.Duration     `mapstructure:"timeout"`
}

// WebcamConfig holds settings for the local capture device
type WebcamConfig struct {
	Index   int           `mapstructure:"index"`
	Width   int           `mapstructure:"width"`   // 0 keeps the device default
	Height  int           `mapstructure:"height"`  // 0 keeps the device default
	Timeout time.Duration `mapstructure:"timeout"` // bound for opening the device and reading one frame
}

// RecognitionConfig holds enrollment and matching settings
type RecognitionConfig struct {
	FacesDir         string  `mapstructure:"faces_dir"`
	ModelsDir        string  `mapstructure:"models_dir"`
	Tolerance        float64 `mapstructure:"tolerance"`         // maximum embedding distance for a match
	Downscale        float64 `mapstructure:"downscale"`         // factor applied before detection
	FailureThreshold int     `mapstructure:"failure_threshold"` // consecutive source failures before failover
	AutoStart        bool    `mapstructure:"autostart"`         // start the loop without waiting for the control surface
}

// DisplayConfig holds settings for the preview sink
type DisplayConfig struct {
	History int `mapstructure:"history"` // number of recent annotated frames kept in memory
}

// MQTTConfig holds settings for the optional MQTT publisher
type MQTTConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	Broker        string              `mapstructure:"broker"`
	Port          int                 `mapstructure:"port"`
	Username      string              `mapstructure:"username"`
	Password      string              `mapstructure:"password"`
	ClientID      string              `mapstructure:"client_id"`
	Topic         string              `mapstructure:"topic"` // base topic for all published messages
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
}

// HomeAssistantConfig holds settings for Home Assistant MQTT discovery
type HomeAssistantConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix"`
}

// UIConfig holds settings for the browser control surface
type UIConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
	SessionSecret   string `mapstructure:"session_secret"`
}

// Resolution presets served by the ESP32 camera firmware
const (
	ResolutionLow    = "low"
	ResolutionMedium = "medium"
	ResolutionHigh   = "high"
)

// Source names accepted by camera.default_source
const (
	SourceESP32  = "esp32"
	SourceWebcam = "webcam"
)

const (
	defaultTolerance = 0.6
	defaultDownscale = 0.25
)

// Load reads the configuration from an optional file, the environment and defaults
func Load(configPath string) (*Config, error) {
	// .env is optional; variables already set in the environment win
	if err := godotenv.Load(); err == nil {
		log.Info("Loaded environment overrides from .env")
	}

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			log.Warnf("Config file %s does not exist, using defaults", configPath)
		} else {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			log.Infof("Config loaded from %s", configPath)
		}
	}

	v.SetEnvPrefix("FACECAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(&cfg)

	if err := ensureDirectories(&cfg); err != nil {
		return nil, fmt.Errorf("failed to create required directories: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration built from compiled-in defaults only
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// defaults always unmarshal cleanly
	_ = v.Unmarshal(&cfg)
	normalize(&cfg)
	return &cfg
}

// setDefaults registers every compiled-in default
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "data/logs/facecam.log")

	v.SetDefault("camera.default_source", SourceESP32)
	v.SetDefault("camera.esp32.host", "192.168.231.162")
	v.SetDefault("camera.esp32.resolution", ResolutionHigh)
	// empty presets are filled from the host in normalize; the keys exist so the env overlay can set them
	v.SetDefault("camera.esp32.urls.low", "")
	v.SetDefault("camera.esp32.urls.medium", "")
	v.SetDefault("camera.esp32.urls.high", "")
	v.SetDefault("camera.esp32.timeout", 5*time.Second)
	v.SetDefault("camera.webcam.index", 0)
	v.SetDefault("camera.webcam.width", 0)
	v.SetDefault("camera.webcam.height", 0)
	v.SetDefault("camera.webcam.timeout", 5*time.Second)

	v.SetDefault("recognition.faces_dir", "faces")
	v.SetDefault("recognition.models_dir", "models")
	v.SetDefault("recognition.tolerance", defaultTolerance)
	v.SetDefault("recognition.downscale", defaultDownscale)
	v.SetDefault("recognition.failure_threshold", 1)
	v.SetDefault("recognition.autostart", false)

	v.SetDefault("display.history", 30)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost")
	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.client_id", "facecam")
	v.SetDefault("mqtt.topic", "facecam")
	v.SetDefault("mqtt.homeassistant.enabled", false)
	v.SetDefault("mqtt.homeassistant.discovery_prefix", "homeassistant")

	v.SetDefault("ui.default_language", "en")
	v.SetDefault("ui.session_secret", "facecam-session")
}

// normalize replaces out-of-range values with their defaults
func normalize(cfg *Config) {
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)

	cfg.Camera.DefaultSource = strings.ToLower(cfg.Camera.DefaultSource)
	if cfg.Camera.DefaultSource != SourceESP32 && cfg.Camera.DefaultSource != SourceWebcam {
		log.Warnf("Unknown default source '%s', using %s", cfg.Camera.DefaultSource, SourceESP32)
		cfg.Camera.DefaultSource = SourceESP32
	}

	cfg.Camera.ESP32.Resolution = strings.ToLower(cfg.Camera.ESP32.Resolution)
	if !ValidResolution(cfg.Camera.ESP32.Resolution) {
		log.Warnf("Unknown resolution '%s', using %s", cfg.Camera.ESP32.Resolution, ResolutionHigh)
		cfg.Camera.ESP32.Resolution = ResolutionHigh
	}

	if cfg.Camera.ESP32.URLs == nil {
		cfg.Camera.ESP32.URLs = make(map[string]string)
	}
	presets := map[string]string{
		ResolutionLow:    "cam-lo.jpg",
		ResolutionMedium: "cam.bmp",
		ResolutionHigh:   "cam-hi.jpg",
	}
	for res, path := range presets {
		if cfg.Camera.ESP32.URLs[res] == "" {
			cfg.Camera.ESP32.URLs[res] = fmt.Sprintf("http://%s/%s", cfg.Camera.ESP32.Host, path)
		}
	}

	if cfg.Camera.ESP32.Timeout <= 0 {
		cfg.Camera.ESP32.Timeout = 5 * time.Second
	}
	if cfg.Camera.Webcam.Timeout <= 0 {
		cfg.Camera.Webcam.Timeout = 5 * time.Second
	}

	if cfg.Recognition.Tolerance <= 0 {
		cfg.Recognition.Tolerance = defaultTolerance
	}
	if cfg.Recognition.Downscale <= 0 || cfg.Recognition.Downscale > 1 {
		log.Warnf("Downscale factor %v out of range, using %v", cfg.Recognition.Downscale, defaultDownscale)
		cfg.Recognition.Downscale = defaultDownscale
	}
	if cfg.Recognition.FailureThreshold < 1 {
		cfg.Recognition.FailureThreshold = 1
	}

	if cfg.Display.History <= 0 {
		cfg.Display.History = 30
	}

	if cfg.UI.DefaultLanguage == "" {
		cfg.UI.DefaultLanguage = "en"
	}
}

// ValidResolution reports whether name is one of the ESP32 presets
func ValidResolution(name string) bool {
	switch name {
	case ResolutionLow, ResolutionMedium, ResolutionHigh:
		return true
	}
	return false
}

// ensureDirectories makes sure the faces and log directories exist
func ensureDirectories(cfg *Config) error {
	if cfg.Recognition.FacesDir != "" {
		if _, err := os.Stat(cfg.Recognition.FacesDir); os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.Recognition.FacesDir, 0755); err != nil {
				return fmt.Errorf("failed to create faces directory: %w", err)
			}
			log.Infof("'%s' folder created. Add face images and restart the program.", cfg.Recognition.FacesDir)
		}
	}

	if cfg.Log.File != "" {
		logDir := filepath.Dir(cfg.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	return nil
}

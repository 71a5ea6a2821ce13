package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, SourceESP32, cfg.Camera.DefaultSource)
	assert.Equal(t, ResolutionHigh, cfg.Camera.ESP32.Resolution)
	assert.Equal(t, "http://192.168.231.162/cam-lo.jpg", cfg.Camera.ESP32.URLs[ResolutionLow])
	assert.Equal(t, "http://192.168.231.162/cam.bmp", cfg.Camera.ESP32.URLs[ResolutionMedium])
	assert.Equal(t, "http://192.168.231.162/cam-hi.jpg", cfg.Camera.ESP32.URLs[ResolutionHigh])
	assert.Equal(t, 5*time.Second, cfg.Camera.ESP32.Timeout)
	assert.Equal(t, 0, cfg.Camera.Webcam.Index)
	assert.Equal(t, 5*time.Second, cfg.Camera.Webcam.Timeout)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.InDelta(t, 0.6, cfg.Recognition.Tolerance, 1e-9)
	assert.InDelta(t, 0.25, cfg.Recognition.Downscale, 1e-9)
	assert.Equal(t, 1, cfg.Recognition.FailureThreshold)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.False(t, cfg.MQTT.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	facesDir := filepath.Join(dir, "faces")
	path := filepath.Join(dir, "config.yaml")
	content := `
log:
  level: DEBUG
  file: ""
camera:
  default_source: webcam
  esp32:
    host: 10.0.0.5
    resolution: Low
    timeout: 2s
recognition:
  faces_dir: ` + facesDir + `
  downscale: 3
  tolerance: -1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, SourceWebcam, cfg.Camera.DefaultSource)
	assert.Equal(t, ResolutionLow, cfg.Camera.ESP32.Resolution)
	assert.Equal(t, "http://10.0.0.5/cam-hi.jpg", cfg.Camera.ESP32.URLs[ResolutionHigh])
	assert.Equal(t, 2*time.Second, cfg.Camera.ESP32.Timeout)
	assert.InDelta(t, defaultDownscale, cfg.Recognition.Downscale, 1e-9)
	assert.InDelta(t, defaultTolerance, cfg.Recognition.Tolerance, 1e-9)

	info, err := os.Stat(facesDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FACECAM_RECOGNITION_FACES_DIR", filepath.Join(dir, "faces"))
	t.Setenv("FACECAM_LOG_FILE", filepath.Join(dir, "logs", "facecam.log"))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "faces"), cfg.Recognition.FacesDir)
	assert.Equal(t, ResolutionHigh, cfg.Camera.ESP32.Resolution)
}

func TestLoadPresetURLFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FACECAM_RECOGNITION_FACES_DIR", filepath.Join(dir, "faces"))
	t.Setenv("FACECAM_LOG_FILE", filepath.Join(dir, "logs", "facecam.log"))
	t.Setenv("FACECAM_CAMERA_ESP32_HOST", "10.1.1.1")
	t.Setenv("FACECAM_CAMERA_ESP32_URLS_HIGH", "http://camera.local/capture.jpg")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://camera.local/capture.jpg", cfg.Camera.ESP32.URLs[ResolutionHigh])
	assert.Equal(t, "http://10.1.1.1/cam-lo.jpg", cfg.Camera.ESP32.URLs[ResolutionLow])
	assert.Equal(t, "http://10.1.1.1/cam.bmp", cfg.Camera.ESP32.URLs[ResolutionMedium])
}

func TestValidResolution(t *testing.T) {
	assert.True(t, ValidResolution("low"))
	assert.True(t, ValidResolution("medium"))
	assert.True(t, ValidResolution("high"))
	assert.False(t, ValidResolution("ultra"))
	assert.False(t, ValidResolution(""))
}

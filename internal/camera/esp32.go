package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"esp32-facecam/config"

	log "github.com/sirupsen/logrus"

	// decoders for the payloads served by the camera firmware
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// maxSnapshotBytes bounds the body read from the camera
const maxSnapshotBytes = 16 << 20

// ESP32 fetches JPEG or BMP snapshots from an ESP32 camera over HTTP.
type ESP32 struct {
	client *http.Client
	urls   map[string]string

	mu         sync.RWMutex
	resolution string
}

// NewESP32 creates the remote source from configuration
func NewESP32(cfg config.ESP32Config) *ESP32 {
	urls := make(map[string]string, len(cfg.URLs))
	for k, v := range cfg.URLs {
		urls[strings.ToLower(k)] = v
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	resolution := cfg.Resolution
	if _, ok := urls[resolution]; !ok {
		resolution = config.ResolutionHigh
	}
	return &ESP32{
		client:     &http.Client{Timeout: timeout},
		urls:       urls,
		resolution: resolution,
	}
}

// Kind implements Source
func (e *ESP32) Kind() Kind { return KindESP32 }

// Resolution returns the active preset
func (e *ESP32) Resolution() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolution
}

// SetResolution switches the preset; the next Frame call uses the new URL
func (e *ESP32) SetResolution(resolution string) error {
	resolution = strings.ToLower(resolution)
	if _, ok := e.urls[resolution]; !ok {
		return fmt.Errorf("unknown resolution %q", resolution)
	}
	e.mu.Lock()
	e.resolution = resolution
	e.mu.Unlock()
	log.Infof("ESP32 resolution set to %s (%s)", resolution, e.urls[resolution])
	return nil
}

// URL returns the snapshot URL of the active preset
func (e *ESP32) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.urls[e.resolution]
}

// Frame implements Source
func (e *ESP32) Frame(ctx context.Context) (image.Image, error) {
	url := e.URL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSnapshotBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrFetch, err)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	log.Debugf("Fetched %s snapshot %dx%d from %s", format, img.Bounds().Dx(), img.Bounds().Dy(), url)
	return img, nil
}

// Close implements Source. The HTTP source holds no device handle.
func (e *ESP32) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

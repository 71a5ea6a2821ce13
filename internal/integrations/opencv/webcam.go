package opencv

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"esp32-facecam/config"
	"esp32-facecam/internal/camera"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"
)

const defaultTimeout = 5 * time.Second

// device is an opened capture device
type device interface {
	// Grab reads one frame and copies it out of the driver buffer
	Grab() (image.Image, error)
	Close() error
}

// Webcam reads frames from a local capture device through OpenCV.
// The device is opened lazily on the first Frame call and stays open until Close.
// Open and read run on a helper goroutine so a hung driver call never outlives ctx;
// at most one such call is in flight.
type Webcam struct {
	cfg     config.WebcamConfig
	timeout time.Duration

	// openDevice opens the capture device; replaced in tests
	openDevice func(config.WebcamConfig) (device, error)

	mu           sync.Mutex
	dev          device
	busy         bool // a helper goroutine owns the device
	closePending bool // Close was called while busy
}

// NewWebcam creates the local source; the device is not opened yet
func NewWebcam(cfg config.WebcamConfig) *Webcam {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Webcam{
		cfg:        cfg,
		timeout:    timeout,
		openDevice: openCapture,
	}
}

// Kind implements camera.Source
func (w *Webcam) Kind() camera.Kind { return camera.KindWebcam }

type grabResult struct {
	img image.Image
	err error
}

// Frame implements camera.Source. A failed read leaves the device open.
// The call returns after the configured timeout or when ctx ends, whichever comes first.
func (w *Webcam) Frame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	if w.busy {
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: device %d is still busy with a previous read", camera.ErrRead, w.cfg.Index)
	}
	w.busy = true
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	done := make(chan grabResult, 1)
	go func() {
		img, err := w.grab()
		done <- grabResult{img: img, err: err}
	}()

	select {
	case r := <-done:
		return r.img, r.err
	case <-ctx.Done():
		log.Warnf("Capture device %d did not answer within %v", w.cfg.Index, w.timeout)
		return nil, fmt.Errorf("%w: device %d: %v", camera.ErrRead, w.cfg.Index, ctx.Err())
	}
}

// grab opens the device when needed and reads one frame; it runs with busy set
func (w *Webcam) grab() (image.Image, error) {
	defer w.finish()

	w.mu.Lock()
	dev := w.dev
	w.mu.Unlock()

	if dev == nil {
		opened, err := w.openDevice(w.cfg)
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		w.dev = opened
		w.mu.Unlock()
		dev = opened
		log.Infof("Opened capture device %d", w.cfg.Index)
	}

	return dev.Grab()
}

// finish hands the device back and performs a Close requested in the meantime
func (w *Webcam) finish() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.busy = false
	if w.closePending {
		w.closePending = false
		if err := w.closeLocked(); err != nil {
			log.Warnf("Failed to release capture device %d: %v", w.cfg.Index, err)
		}
	}
}

// Close implements camera.Source. It is a no-op when the device is not open.
// While a read is in flight the release happens as soon as the read returns.
func (w *Webcam) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.busy {
		w.closePending = true
		return nil
	}
	return w.closeLocked()
}

func (w *Webcam) closeLocked() error {
	if w.dev == nil {
		return nil
	}
	err := w.dev.Close()
	w.dev = nil
	log.Infof("Released capture device %d", w.cfg.Index)
	return err
}

// capture is the gocv device
type capture struct {
	index int
	vc    *gocv.VideoCapture
	frame gocv.Mat
}

func openCapture(cfg config.WebcamConfig) (device, error) {
	vc, err := gocv.OpenVideoCapture(cfg.Index)
	if err != nil {
		return nil, fmt.Errorf("%w: device %d: %v", camera.ErrOpen, cfg.Index, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: device %d is not available", camera.ErrOpen, cfg.Index)
	}

	if cfg.Width > 0 && cfg.Height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}

	return &capture{index: cfg.Index, vc: vc, frame: gocv.NewMat()}, nil
}

func (c *capture) Grab() (image.Image, error) {
	if ok := c.vc.Read(&c.frame); !ok {
		return nil, fmt.Errorf("%w: device %d", camera.ErrRead, c.index)
	}
	if c.frame.Empty() {
		return nil, fmt.Errorf("%w: device %d returned an empty frame", camera.ErrRead, c.index)
	}

	// ToImage copies the pixels, so the Mat can be reused for the next read
	img, err := c.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", camera.ErrDecode, err)
	}
	return img, nil
}

func (c *capture) Close() error {
	err := c.vc.Close()
	c.frame.Close()
	return err
}

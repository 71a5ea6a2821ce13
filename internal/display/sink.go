// Package display is the preview side of the recognition loop: it keeps the latest
// annotated frame, streams it as MJPEG and remembers a short history.
package display

import (
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"esp32-facecam/internal/core/models"
	"esp32-facecam/internal/imaging"

	"github.com/mattn/go-mjpeg"
	log "github.com/sirupsen/logrus"
)

const jpegQuality = 85

// Frame is one published annotated frame
type Frame struct {
	ID        uint64              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	Source    string              `json:"source"`
	Width     int                 `json:"width"`
	Height    int                 `json:"height"`
	Faces     []models.FaceResult `json:"faces"`
	JPEG      []byte              `json:"-"`
}

// Sink holds the single displayed frame. A single mutex guards the displayed frame
// and the displayed error; it is held only while swapping them, never during encoding.
type Sink struct {
	stream    *mjpeg.Stream
	history   *History
	closeOnce sync.Once

	mu      sync.Mutex
	latest  *Frame
	lastErr string
	nextID  uint64
}

// NewSink creates a sink remembering up to historySize frames
func NewSink(historySize int) *Sink {
	return &Sink{
		stream:  mjpeg.NewStream(),
		history: NewHistory(historySize),
	}
}

// Publish encodes img and replaces the displayed frame with it
func (s *Sink) Publish(img image.Image, source string, faces []models.FaceResult) (*Frame, error) {
	data, err := imaging.EncodeJPEG(img, jpegQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to publish frame: %w", err)
	}

	b := img.Bounds()
	frame := &Frame{
		Timestamp: time.Now(),
		Source:    source,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Faces:     faces,
		JPEG:      data,
	}

	s.mu.Lock()
	s.nextID++
	frame.ID = s.nextID
	s.latest = frame
	s.lastErr = ""
	s.mu.Unlock()

	s.history.Add(frame)

	if s.stream.NWatch() > 0 {
		if err := s.stream.Update(data); err != nil {
			log.Debugf("MJPEG update failed: %v", err)
		}
	}
	return frame, nil
}

// ShowError replaces the displayed error message
func (s *Sink) ShowError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

// LastError returns the displayed error message, empty when none
func (s *Sink) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Latest returns the displayed frame or nil before the first publish
func (s *Sink) Latest() *Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// History returns the recent-frame history
func (s *Sink) History() *History {
	return s.history
}

// Viewers returns the number of connected MJPEG clients
func (s *Sink) Viewers() int {
	return s.stream.NWatch()
}

// ServeHTTP streams the preview as multipart MJPEG
func (s *Sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.stream.ServeHTTP(w, r)
}

// Close ends all MJPEG streams; later calls are no-ops
func (s *Sink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.stream.Close()
	})
	return err
}

// Package camera provides the interchangeable frame sources used by the recognition loop.
package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
)

// Kind identifies a frame source
type Kind string

const (
	// KindESP32 is the networked snapshot camera
	KindESP32 Kind = "esp32"

	// KindWebcam is the local capture device
	KindWebcam Kind = "webcam"
)

var (
	// ErrFetch is returned when the remote camera cannot be reached or answers with an error
	ErrFetch = errors.New("camera fetch failed")

	// ErrDecode is returned when a payload is not a decodable image
	ErrDecode = errors.New("camera payload is not an image")

	// ErrRead is returned when the local device yields no frame
	ErrRead = errors.New("camera read failed")

	// ErrOpen is returned when the local device cannot be opened
	ErrOpen = errors.New("camera open failed")
)

// Source yields frames on demand. Failures are returned as errors and never
// close the source; the caller decides on retry or failover.
type Source interface {
	// Kind identifies the source
	Kind() Kind

	// Frame returns the next decoded frame
	Frame(ctx context.Context) (image.Image, error)

	// Close releases the underlying resources. Safe to call repeatedly or before first use.
	Close() error
}

// Probe checks availability with a single frame request
func Probe(ctx context.Context, src Source) error {
	if src == nil {
		return fmt.Errorf("%w: source not configured", ErrOpen)
	}
	_, err := src.Frame(ctx)
	return err
}

// ParseKind converts user input into a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindESP32:
		return KindESP32, nil
	case KindWebcam:
		return KindWebcam, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// Other returns the opposite source kind
func (k Kind) Other() Kind {
	if k == KindWebcam {
		return KindESP32
	}
	return KindWebcam
}

// Package selector decides which frame source the recognition loop reads from
// and moves between sources when one of them fails.
package selector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"esp32-facecam/internal/camera"

	log "github.com/sirupsen/logrus"
)

// State is the availability state of the frame sources
type State string

const (
	StateESP32Active  State = "ESP32_ACTIVE"
	StateWebcamActive State = "WEBCAM_ACTIVE"
	StateUnavailable  State = "UNAVAILABLE"
)

// ErrNoSource is returned by Active when no source is usable
var ErrNoSource = errors.New("no camera source available")

// DefaultProbeTimeout bounds a single availability probe
const DefaultProbeTimeout = 5 * time.Second

// Transition describes a state change
type Transition struct {
	From   State  `json:"from"`
	To     State  `json:"to"`
	Reason string `json:"reason"`
}

// Terminal reports whether the transition ended the session
func (t Transition) Terminal() bool {
	return t.To == StateUnavailable
}

// Selector is the failover state machine over the remote and the local source.
// ESP32 failures fall back to the webcam when it was available at probe time;
// webcam failures are terminal until the next Probe.
type Selector struct {
	esp32        camera.Source
	webcam       camera.Source
	threshold    int
	probeTimeout time.Duration

	mu              sync.Mutex
	preferred       camera.Kind
	state           State
	failures        int
	webcamAvailable bool
}

// Options configures a Selector
type Options struct {
	// Preferred is the source tried first at every Probe
	Preferred camera.Kind

	// FailureThreshold is the number of consecutive failures tolerated before failover
	FailureThreshold int

	// ProbeTimeout bounds each availability probe
	ProbeTimeout time.Duration
}

// New creates a selector in the state of the preferred source; call Probe before use
func New(esp32, webcam camera.Source, opts Options) *Selector {
	if opts.Preferred == "" {
		opts.Preferred = camera.KindESP32
	}
	if opts.FailureThreshold < 1 {
		opts.FailureThreshold = 1
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = DefaultProbeTimeout
	}
	return &Selector{
		esp32:        esp32,
		webcam:       webcam,
		threshold:    opts.FailureThreshold,
		probeTimeout: opts.ProbeTimeout,
		preferred:    opts.Preferred,
		state:        stateFor(opts.Preferred),
	}
}

func stateFor(k camera.Kind) State {
	if k == camera.KindWebcam {
		return StateWebcamActive
	}
	return StateESP32Active
}

// Probe tests both sources with one bounded fetch each and selects the starting state
func (s *Selector) Probe(ctx context.Context) Transition {
	esp32Err := s.probe(ctx, s.esp32)
	webcamErr := s.probe(ctx, s.webcam)

	s.mu.Lock()
	defer s.mu.Unlock()

	from := s.state
	s.failures = 0
	s.webcamAvailable = webcamErr == nil

	var reason string
	switch {
	case s.preferred == camera.KindESP32 && esp32Err == nil:
		s.state = StateESP32Active
		reason = "esp32 available"
	case s.preferred == camera.KindESP32 && webcamErr == nil:
		s.state = StateWebcamActive
		reason = fmt.Sprintf("esp32 unavailable: %v", esp32Err)
	case s.preferred == camera.KindWebcam && webcamErr == nil:
		s.state = StateWebcamActive
		reason = "webcam available"
	case s.preferred == camera.KindWebcam:
		s.state = StateUnavailable
		reason = fmt.Sprintf("webcam unavailable: %v", webcamErr)
	default:
		s.state = StateUnavailable
		reason = fmt.Sprintf("esp32 unavailable: %v; webcam unavailable: %v", esp32Err, webcamErr)
	}

	log.WithFields(log.Fields{
		"esp32_ok":  esp32Err == nil,
		"webcam_ok": webcamErr == nil,
		"preferred": s.preferred,
	}).Infof("Source probe selected %s", s.state)

	return Transition{From: from, To: s.state, Reason: reason}
}

func (s *Selector) probe(ctx context.Context, src camera.Source) error {
	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return camera.Probe(ctx, src)
}

// Active returns the source selected by the current state
func (s *Selector) Active() (camera.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateESP32Active:
		return s.esp32, nil
	case StateWebcamActive:
		return s.webcam, nil
	}
	return nil, ErrNoSource
}

// Fail records a failed frame from the active source. The returned transition is
// non-nil when the state changed.
func (s *Selector) Fail(cause error) *Transition {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateUnavailable {
		return nil
	}

	s.failures++
	if s.failures < s.threshold {
		log.Warnf("Frame from %s failed (%d/%d): %v", s.state, s.failures, s.threshold, cause)
		return nil
	}

	from := s.state
	s.failures = 0
	if s.state == StateESP32Active && s.webcamAvailable {
		s.state = StateWebcamActive
	} else {
		s.state = StateUnavailable
	}

	t := &Transition{From: from, To: s.state, Reason: cause.Error()}
	if t.Terminal() {
		log.Errorf("No camera source left after %s failed: %v", from, cause)
	} else {
		log.Warnf("Falling back from %s to %s: %v", from, s.state, cause)
	}
	return t
}

// Success resets the consecutive failure count
func (s *Selector) Success() {
	s.mu.Lock()
	s.failures = 0
	s.mu.Unlock()
}

// State returns the current state
func (s *Selector) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Preferred returns the source tried first at the next Probe
func (s *Selector) Preferred() camera.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preferred
}

// SetPreferred changes the source tried first at the next Probe
func (s *Selector) SetPreferred(k camera.Kind) {
	s.mu.Lock()
	s.preferred = k
	s.mu.Unlock()
}

// Package processor runs the recognition loop: frames are pulled from the selected
// source, recognised, annotated and handed to the display sink on a background worker.
package processor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"esp32-facecam/internal/camera"
	"esp32-facecam/internal/core/models"
	"esp32-facecam/internal/display"
	"esp32-facecam/internal/selector"

	log "github.com/sirupsen/logrus"
)

// ErrAlreadyRunning is returned by Start while a session is active
var ErrAlreadyRunning = errors.New("recognition is already running")

// Sink receives annotated frames and the user-visible error
type Sink interface {
	Publish(img image.Image, source string, faces []models.FaceResult) (*display.Frame, error)
	ShowError(msg string)
}

// Notifier observes the loop. Calls come from the worker and from control calls,
// so implementations must be safe for concurrent use. They must not block: the worker
// waits for every call, so slow delivery belongs on a queue of the notifier's own.
type Notifier interface {
	NotifyRecognition(ev models.RecognitionEvent)
	NotifySource(ev models.SourceEvent)
	NotifyError(ev models.ErrorEvent)
	NotifyStatus(st models.Status)
}

// ResolutionSwitcher is implemented by sources with selectable snapshot presets
type ResolutionSwitcher interface {
	Resolution() string
	SetResolution(resolution string) error
}

// Options wires a Controller
type Options struct {
	Pipeline  *Pipeline
	Selector  *selector.Selector
	Sink      Sink
	Sources   []camera.Source
	Remote    ResolutionSwitcher
	Notifiers []Notifier

	// Interval is the minimum time between two iterations; zero runs back to back
	Interval time.Duration
}

// session is one STOPPED -> RUNNING -> STOPPED cycle
type session struct {
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	startedAt time.Time
}

func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Controller owns the recognition loop and its session state
type Controller struct {
	pipeline  *Pipeline
	selector  *selector.Selector
	sink      Sink
	sources   []camera.Source
	remote    ResolutionSwitcher
	notifiers []Notifier
	interval  time.Duration

	// lifecycle serializes Start, Stop and SwitchSource so a new session
	// never overlaps with a finishing one
	lifecycle sync.Mutex

	mu        sync.Mutex
	current   *session
	lastErr   string
	lastState selector.State

	iterations atomic.Uint64
	facesSeen  atomic.Uint64
}

// NewController creates a stopped controller
func NewController(opts Options) *Controller {
	return &Controller{
		pipeline:  opts.Pipeline,
		selector:  opts.Selector,
		sink:      opts.Sink,
		sources:   opts.Sources,
		remote:    opts.Remote,
		notifiers: opts.Notifiers,
		interval:  opts.Interval,
		lastState: opts.Selector.State(),
	}
}

// Start launches a session. The sources are probed on the worker before the first frame.
// ctx bounds the whole session; Stop is the normal way to end it.
func (c *Controller) Start(ctx context.Context) error {
	s, err := c.begin()
	if err != nil {
		return err
	}

	log.Info("Recognition started")
	c.notifyStatus()

	go c.run(ctx, s)
	return nil
}

// begin registers a new session; a Stop arriving before the worker runs still ends it
func (c *Controller) begin() (*session, error) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		return nil, ErrAlreadyRunning
	}
	s := &session{
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}
	c.current = s
	c.lastErr = ""
	return s, nil
}

// Stop ends the running session and waits for the in-flight iteration to finish.
// Stopping a stopped controller is a no-op.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()

	if s == nil {
		return
	}
	s.requestStop()
	<-s.done
}

// Toggle starts a stopped controller and stops a running one.
// It reports whether the loop is running afterwards.
func (c *Controller) Toggle(ctx context.Context) (bool, error) {
	if c.Running() {
		c.Stop()
		return false, nil
	}
	if err := c.Start(ctx); err != nil && !errors.Is(err, ErrAlreadyRunning) {
		return false, err
	}
	return true, nil
}

// SwitchSource makes kind the preferred source. A running session is stopped first;
// the new preference applies at the next Start. It reports whether a session was stopped.
func (c *Controller) SwitchSource(kind camera.Kind) bool {
	c.lifecycle.Lock()
	wasRunning := c.Running()
	if wasRunning {
		c.stopLocked()
	}
	c.selector.SetPreferred(kind)
	c.lifecycle.Unlock()

	log.Infof("Preferred source set to %s", kind)
	c.notifyStatus()
	return wasRunning
}

// SetResolution selects the snapshot preset of the remote source; it applies to the next fetch
func (c *Controller) SetResolution(resolution string) error {
	if c.remote == nil {
		return fmt.Errorf("resolution is not configurable")
	}
	if err := c.remote.SetResolution(resolution); err != nil {
		return err
	}
	c.notifyStatus()
	return nil
}

// Running reports whether a session is active
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

// Done returns a channel closed when the current session ends, or nil when stopped
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	return c.current.done
}

// Status returns a snapshot of the controller
func (c *Controller) Status() models.Status {
	c.mu.Lock()
	st := models.Status{
		RunState:        models.RunStateStopped,
		SourceState:     string(c.selector.State()),
		PreferredSource: string(c.selector.Preferred()),
		LastError:       c.lastErr,
		Iterations:      c.iterations.Load(),
		FacesSeen:       c.facesSeen.Load(),
	}
	if c.current != nil {
		st.RunState = models.RunStateRunning
		startedAt := c.current.startedAt
		st.StartedAt = &startedAt
	}
	c.mu.Unlock()

	if c.remote != nil {
		st.Resolution = c.remote.Resolution()
	}
	st.Labels = c.pipeline.Catalog().Labels()
	if st.Labels == nil {
		st.Labels = []string{}
	}
	return st
}

// run is the worker of one session
func (c *Controller) run(ctx context.Context, s *session) {
	defer func() {
		c.release()

		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()

		log.Info("Recognition stopped")
		c.notifyStatus()
		close(s.done)
	}()

	t := c.selector.Probe(ctx)
	c.onTransition(t, true)
	if t.Terminal() {
		return
	}

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		started := time.Now()
		if stop := c.iterate(ctx); stop {
			return
		}

		if wait := c.interval - time.Since(started); wait > 0 {
			select {
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}
}

// iterate processes one frame and reports whether the session must end
func (c *Controller) iterate(ctx context.Context) (stop bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Errorf("Recognition iteration panicked, skipping frame\n%s", debug.Stack())
			stop = false
		}
	}()

	src, err := c.selector.Active()
	if err != nil {
		return true
	}

	frame, err := src.Frame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		if t := c.selector.Fail(err); t != nil {
			c.onTransition(*t, false)
			return t.Terminal()
		}
		return false
	}
	c.selector.Success()

	result, err := c.pipeline.Process(ctx, frame)
	if err != nil {
		log.WithField("source", src.Kind()).Warnf("Skipping frame: %v", err)
		return false
	}

	published, err := c.sink.Publish(result.Image, string(src.Kind()), result.Faces)
	if err != nil {
		log.Warnf("Skipping frame: %v", err)
		return false
	}

	iteration := c.iterations.Add(1)
	c.facesSeen.Add(uint64(len(result.Faces)))

	entry := log.WithFields(log.Fields{
		"iteration": iteration,
		"source":    src.Kind(),
		"faces":     len(result.Faces),
	})
	if len(result.Faces) == 0 {
		entry.Debug("Frame processed")
		return false
	}
	entry.Info("Faces recognised")

	ev := models.RecognitionEvent{
		Timestamp: published.Timestamp,
		FrameID:   published.ID,
		Source:    string(src.Kind()),
		Faces:     result.Faces,
	}
	for _, n := range c.notifiers {
		n.NotifyRecognition(ev)
	}
	return false
}

// onTransition reports a selector state change; a terminal change raises the user-visible error.
// Probe results are always reported so observers learn the state of a new session.
func (c *Controller) onTransition(t selector.Transition, probed bool) {
	c.mu.Lock()
	changed := c.lastState != t.To
	c.lastState = t.To
	c.mu.Unlock()

	if changed || probed || t.Terminal() {
		ev := models.SourceEvent{
			Timestamp: time.Now(),
			From:      string(t.From),
			State:     string(t.To),
			Reason:    t.Reason,
		}
		for _, n := range c.notifiers {
			n.NotifySource(ev)
		}
	}

	if !t.Terminal() {
		return
	}

	msg := fmt.Sprintf("%v: %s", selector.ErrNoSource, t.Reason)
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()

	c.sink.ShowError(msg)
	ev := models.ErrorEvent{Timestamp: time.Now(), Message: msg}
	for _, n := range c.notifiers {
		n.NotifyError(ev)
	}
}

// release closes every source so the capture device is free while stopped
func (c *Controller) release() {
	for _, src := range c.sources {
		if src == nil {
			continue
		}
		if err := src.Close(); err != nil {
			log.Warnf("Failed to release %s source: %v", src.Kind(), err)
		}
	}
}

func (c *Controller) notifyStatus() {
	st := c.Status()
	for _, n := range c.notifiers {
		n.NotifyStatus(st)
	}
}

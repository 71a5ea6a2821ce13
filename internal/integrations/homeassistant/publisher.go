// Package homeassistant publishes recognition results in the topic layout expected
// by Home Assistant and announces the matching sensors through MQTT discovery.
package homeassistant

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"esp32-facecam/internal/core/models"

	log "github.com/sirupsen/logrus"
)

// MessagePublisher is the part of the MQTT client used here
type MessagePublisher interface {
	IsConnected() bool
	Publish(topic string, payload interface{}) error
	PublishRetain(topic string, payload interface{}) error
	Topic(parts ...string) string
}

// MatchEvent is published per known person on <topic>/matches/<label>
type MatchEvent struct {
	Timestamp time.Time          `json:"timestamp"`
	FrameID   uint64             `json:"frame_id"`
	Source    string             `json:"source"`
	Label     string             `json:"label"`
	Distance  float64            `json:"distance"`
	Box       models.BoundingBox `json:"box"`
}

// UnknownEvent is published on <topic>/unknown when a frame holds unrecognised faces
type UnknownEvent struct {
	Timestamp time.Time            `json:"timestamp"`
	FrameID   uint64               `json:"frame_id"`
	Source    string               `json:"source"`
	Count     int                  `json:"count"`
	Boxes     []models.BoundingBox `json:"boxes"`
}

// queueSize bounds the notifications waiting for the broker
const queueSize = 64

// Publisher forwards loop events to MQTT. Notify calls only queue the work; Run
// publishes it, so a slow or unreachable broker never holds up the caller.
// Notifications arriving while the queue is full are dropped.
type Publisher struct {
	client MessagePublisher
	queue  chan func()

	mu               sync.Mutex
	personCounters   map[string]int       // faces in the latest frame per source
	personLastUpdate map[string]time.Time // last frame with faces per source
}

// NewPublisher creates a publisher on top of an MQTT client
func NewPublisher(client MessagePublisher) *Publisher {
	return &Publisher{
		client:           client,
		queue:            make(chan func(), queueSize),
		personCounters:   make(map[string]int),
		personLastUpdate: make(map[string]time.Time),
	}
}

// Run publishes queued notifications until ctx is cancelled.
// It should run in its own goroutine.
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			job()
		}
	}
}

func (p *Publisher) enqueue(kind string, job func()) {
	select {
	case p.queue <- job:
	default:
		log.Warnf("MQTT publish queue full, %s notification dropped", kind)
	}
}

// StartResetTimers resets the per-source face counters to zero once no face
// has been seen for quiet. The timer stops when ctx is cancelled.
func (p *Publisher) StartResetTimers(ctx context.Context, quiet time.Duration) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				p.resetCounters(now, quiet)
			}
		}
	}()
}

func (p *Publisher) resetCounters(now time.Time, quiet time.Duration) {
	p.mu.Lock()
	var expired []string
	for source, lastUpdate := range p.personLastUpdate {
		if now.Sub(lastUpdate) > quiet {
			p.personCounters[source] = 0
			delete(p.personLastUpdate, source)
			expired = append(expired, source)
		}
	}
	p.mu.Unlock()

	for _, source := range expired {
		p.publish(p.client.Topic("cameras", source, "person"), 0, false)
		log.Debugf("Reset face counter for source %s", source)
	}
}

// NotifyRecognition queues the frame summary, one message per known person
// and one for the unknown faces
func (p *Publisher) NotifyRecognition(ev models.RecognitionEvent) {
	p.enqueue("recognition", func() { p.publishRecognition(ev) })
}

// NotifySource queues the selector state, published retained
func (p *Publisher) NotifySource(ev models.SourceEvent) {
	p.enqueue("source", func() { p.publishSource(ev) })
}

// NotifyError queues the terminal error
func (p *Publisher) NotifyError(ev models.ErrorEvent) {
	p.enqueue("error", func() { p.publishError(ev) })
}

// NotifyStatus queues the controller status, published retained
func (p *Publisher) NotifyStatus(st models.Status) {
	p.enqueue("status", func() { p.publishStatus(st) })
}

func (p *Publisher) publishRecognition(ev models.RecognitionEvent) {
	if !p.client.IsConnected() {
		return
	}

	p.publish(p.client.Topic("recognition"), ev, false)

	published := make(map[string]bool)
	unknown := UnknownEvent{Timestamp: ev.Timestamp, FrameID: ev.FrameID, Source: ev.Source}
	for _, face := range ev.Faces {
		if !face.Known {
			unknown.Count++
			unknown.Boxes = append(unknown.Boxes, face.Box)
			continue
		}
		if published[face.Label] {
			continue
		}
		published[face.Label] = true
		p.publish(p.client.Topic("matches", NormalizeLabel(face.Label)), MatchEvent{
			Timestamp: ev.Timestamp,
			FrameID:   ev.FrameID,
			Source:    ev.Source,
			Label:     face.Label,
			Distance:  face.Distance,
			Box:       face.Box,
		}, false)
	}
	if unknown.Count > 0 {
		p.publish(p.client.Topic("unknown"), unknown, false)
	}

	p.updatePersonCounter(ev.Source, len(ev.Faces), ev.Timestamp)
}

func (p *Publisher) publishSource(ev models.SourceEvent) {
	if !p.client.IsConnected() {
		return
	}
	p.publish(p.client.Topic("source"), ev, true)
}

func (p *Publisher) publishError(ev models.ErrorEvent) {
	if !p.client.IsConnected() {
		return
	}
	p.publish(p.client.Topic("errors"), ev, false)
}

func (p *Publisher) publishStatus(st models.Status) {
	if !p.client.IsConnected() {
		return
	}
	p.publish(p.client.Topic("state"), st, true)
}

func (p *Publisher) updatePersonCounter(source string, faces int, at time.Time) {
	p.mu.Lock()
	p.personCounters[source] = faces
	p.personLastUpdate[source] = at
	p.mu.Unlock()

	p.publish(p.client.Topic("cameras", source, "person"), faces, false)
}

func (p *Publisher) publish(topic string, payload interface{}, retain bool) {
	var err error
	if retain {
		err = p.client.PublishRetain(topic, payload)
	} else {
		err = p.client.Publish(topic, payload)
	}
	if err != nil {
		log.Errorf("Failed to publish to %s: %v", topic, err)
	}
}

var invalidTopicChars = regexp.MustCompile(`[^a-z0-9_-]+`)

// NormalizeLabel turns a label into a topic and id segment: lower case, spaces as underscores
func NormalizeLabel(label string) string {
	s := strings.ToLower(strings.TrimSpace(label))
	s = strings.ReplaceAll(s, " ", "_")
	s = invalidTopicChars.ReplaceAllString(s, "")
	if s == "" {
		return "unnamed"
	}
	return s
}

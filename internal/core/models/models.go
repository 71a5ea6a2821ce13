// Package models holds the values exchanged between the recognition loop and
// its observers: the control surface, the event stream and the MQTT publisher.
package models

import (
	"image"
	"time"
)

// RunState tells whether the recognition loop is scheduled
type RunState string

const (
	RunStateStopped RunState = "STOPPED"
	RunStateRunning RunState = "RUNNING"
)

// NoDistance marks a face that was not compared against any catalog entry
const NoDistance = -1

// BoundingBox is a face region in original frame coordinates
type BoundingBox struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// BoxFromRect converts an image rectangle
func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{XMin: r.Min.X, YMin: r.Min.Y, XMax: r.Max.X, YMax: r.Max.Y}
}

// FaceResult is one recognised face of a frame
type FaceResult struct {
	Label    string      `json:"label"`
	Distance float64     `json:"distance"`
	Known    bool        `json:"known"`
	Box      BoundingBox `json:"box"`
}

// RecognitionEvent is emitted for every published frame containing at least one face
type RecognitionEvent struct {
	Timestamp time.Time    `json:"timestamp"`
	FrameID   uint64       `json:"frame_id"`
	Source    string       `json:"source"`
	Faces     []FaceResult `json:"faces"`
}

// KnownLabels returns the labels of the known faces without duplicates
func (e RecognitionEvent) KnownLabels() []string {
	seen := make(map[string]bool)
	var labels []string
	for _, f := range e.Faces {
		if f.Known && !seen[f.Label] {
			seen[f.Label] = true
			labels = append(labels, f.Label)
		}
	}
	return labels
}

// UnknownCount returns the number of faces that matched nobody
func (e RecognitionEvent) UnknownCount() int {
	n := 0
	for _, f := range e.Faces {
		if !f.Known {
			n++
		}
	}
	return n
}

// SourceEvent is emitted when the selector changes state
type SourceEvent struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	State     string    `json:"state"`
	Reason    string    `json:"reason"`
}

// ErrorEvent is the user-visible error raised when no source is usable
type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Status is a snapshot of the loop controller
type Status struct {
	RunState        RunState   `json:"run_state"`
	SourceState     string     `json:"source_state"`
	PreferredSource string     `json:"preferred_source"`
	Resolution      string     `json:"resolution"`
	Iterations      uint64     `json:"iterations"`
	FacesSeen       uint64     `json:"faces_seen"`
	LastError       string     `json:"last_error,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Labels          []string   `json:"labels"`
}

// Running reports whether the loop is scheduled
func (s Status) Running() bool {
	return s.RunState == RunStateRunning
}

package display

import (
	"sync"
)

const defaultHistorySize = 30

// History keeps the most recent frames in memory, oldest first
type History struct {
	frames  map[uint64]*Frame
	order   []*Frame
	maxSize int
	mutex   sync.RWMutex
}

// NewHistory creates a history bounded to maxSize frames
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = defaultHistorySize
	}
	return &History{
		frames:  make(map[uint64]*Frame),
		order:   make([]*Frame, 0, maxSize),
		maxSize: maxSize,
	}
}

// Add appends a frame and evicts the oldest one when full
func (h *History) Add(f *Frame) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.frames[f.ID] = f
	h.order = append(h.order, f)

	if len(h.order) > h.maxSize {
		oldest := h.order[0]
		delete(h.frames, oldest.ID)
		h.order = h.order[1:]
	}
}

// Latest returns up to count frames, newest first. count <= 0 returns all.
func (h *History) Latest(count int) []*Frame {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if count <= 0 || count > len(h.order) {
		count = len(h.order)
	}

	result := make([]*Frame, count)
	for i := 0; i < count; i++ {
		result[i] = h.order[len(h.order)-1-i]
	}
	return result
}

// Get returns the frame with id
func (h *History) Get(id uint64) (*Frame, bool) {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	f, ok := h.frames[id]
	return f, ok
}

// Len returns the number of stored frames
func (h *History) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.order)
}

package display

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"testing"

	"esp32-facecam/internal/core/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReplacesLatest(t *testing.T) {
	s := NewSink(5)
	defer s.Close()

	assert.Nil(t, s.Latest())

	first, err := s.Publish(image.NewRGBA(image.Rect(0, 0, 32, 24)), "esp32", nil)
	require.NoError(t, err)
	second, err := s.Publish(image.NewRGBA(image.Rect(0, 0, 16, 8)), "webcam", []models.FaceResult{{Label: "ALICE", Known: true}})
	require.NoError(t, err)

	assert.Less(t, first.ID, second.ID)
	latest := s.Latest()
	require.NotNil(t, latest)
	assert.Equal(t, second.ID, latest.ID)
	assert.Equal(t, 16, latest.Width)
	assert.Equal(t, "webcam", latest.Source)

	decoded, err := jpeg.Decode(bytes.NewReader(latest.JPEG))
	require.NoError(t, err)
	assert.Equal(t, 16, decoded.Bounds().Dx())
}

func TestShowErrorClearedByPublish(t *testing.T) {
	s := NewSink(5)
	defer s.Close()

	s.ShowError("no camera source available")
	assert.Equal(t, "no camera source available", s.LastError())

	_, err := s.Publish(image.NewRGBA(image.Rect(0, 0, 4, 4)), "esp32", nil)
	require.NoError(t, err)
	assert.Empty(t, s.LastError())
}

func TestConcurrentPublishKeepsIDsUnique(t *testing.T) {
	s := NewSink(100)
	defer s.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Publish(image.NewRGBA(image.Rect(0, 0, 4, 4)), "esp32", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, s.History().Len())
	assert.Equal(t, uint64(20), s.Latest().ID)
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := uint64(1); i <= 5; i++ {
		h.Add(&Frame{ID: i})
	}

	assert.Equal(t, 3, h.Len())
	_, ok := h.Get(2)
	assert.False(t, ok)
	f, ok := h.Get(5)
	require.True(t, ok)
	assert.Equal(t, uint64(5), f.ID)

	latest := h.Latest(2)
	require.Len(t, latest, 2)
	assert.Equal(t, uint64(5), latest[0].ID)
	assert.Equal(t, uint64(4), latest[1].ID)
	assert.Len(t, h.Latest(0), 3)
}

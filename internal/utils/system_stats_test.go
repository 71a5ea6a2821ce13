package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type audience struct{ viewers, clients int }

func (a audience) Viewers() int { return a.viewers }
func (a audience) Clients() int { return a.clients }

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 Bytes", FormatBytes(512))
	assert.Equal(t, "1.50 KB", FormatBytes(1536))
	assert.Equal(t, "2.00 MB", FormatBytes(2*1024*1024))
	assert.Equal(t, "1.00 GB", FormatBytes(1024*1024*1024))
}

func TestGetSystemStats(t *testing.T) {
	stats := GetSystemStats(audience{viewers: 2, clients: 3})

	assert.Positive(t, stats.NumCPU)
	assert.Positive(t, stats.GoRoutines)
	assert.NotZero(t, stats.MemorySys)
	assert.Equal(t, 2, stats.StreamViewers)
	assert.Equal(t, 3, stats.EventClients)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestGetSystemStatsWithoutAudience(t *testing.T) {
	stats := GetSystemStats(nil)
	assert.Zero(t, stats.StreamViewers)
}

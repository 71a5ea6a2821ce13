package selector

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"esp32-facecam/internal/camera"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	kind camera.Kind

	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSource) Kind() camera.Kind { return f.kind }

func (f *fakeSource) Frame(ctx context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (f *fakeSource) Close() error { return nil }

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func sources(esp32Err, webcamErr error) (*fakeSource, *fakeSource) {
	return &fakeSource{kind: camera.KindESP32, err: esp32Err},
		&fakeSource{kind: camera.KindWebcam, err: webcamErr}
}

func TestProbePrefersESP32(t *testing.T) {
	esp, cam := sources(nil, nil)
	s := New(esp, cam, Options{})

	tr := s.Probe(context.Background())
	assert.Equal(t, StateESP32Active, tr.To)
	assert.False(t, tr.Terminal())

	src, err := s.Active()
	require.NoError(t, err)
	assert.Same(t, esp, src)
	assert.Equal(t, 1, esp.calls)
	assert.Equal(t, 1, cam.calls)
}

func TestProbeESP32DownWebcamUp(t *testing.T) {
	esp, cam := sources(camera.ErrFetch, nil)
	s := New(esp, cam, Options{})

	tr := s.Probe(context.Background())
	assert.Equal(t, StateWebcamActive, tr.To)
	assert.Contains(t, tr.Reason, "esp32 unavailable")

	src, err := s.Active()
	require.NoError(t, err)
	assert.Same(t, cam, src)
}

func TestProbeBothDown(t *testing.T) {
	esp, cam := sources(camera.ErrFetch, camera.ErrOpen)
	s := New(esp, cam, Options{})

	tr := s.Probe(context.Background())
	assert.Equal(t, StateUnavailable, tr.To)
	assert.True(t, tr.Terminal())

	_, err := s.Active()
	assert.ErrorIs(t, err, ErrNoSource)
}

func TestProbeWebcamPreferredNeverFallsBackToESP32(t *testing.T) {
	esp, cam := sources(nil, camera.ErrOpen)
	s := New(esp, cam, Options{Preferred: camera.KindWebcam})

	tr := s.Probe(context.Background())
	assert.Equal(t, StateUnavailable, tr.To)
}

func TestProbeWithNilWebcam(t *testing.T) {
	esp := &fakeSource{kind: camera.KindESP32, err: camera.ErrFetch}
	s := New(esp, nil, Options{})

	assert.Equal(t, StateUnavailable, s.Probe(context.Background()).To)
}

func TestESP32FailureFallsBackToWebcam(t *testing.T) {
	esp, cam := sources(nil, nil)
	s := New(esp, cam, Options{})
	s.Probe(context.Background())

	tr := s.Fail(camera.ErrFetch)
	require.NotNil(t, tr)
	assert.Equal(t, StateESP32Active, tr.From)
	assert.Equal(t, StateWebcamActive, tr.To)
	assert.Equal(t, StateWebcamActive, s.State())
}

func TestESP32FailureWithoutWebcamIsTerminal(t *testing.T) {
	esp, cam := sources(nil, camera.ErrOpen)
	s := New(esp, cam, Options{})
	s.Probe(context.Background())

	tr := s.Fail(camera.ErrFetch)
	require.NotNil(t, tr)
	assert.True(t, tr.Terminal())
}

// The webcam never falls back to the ESP32, even when the ESP32 probed fine.
func TestWebcamFailureIsTerminal(t *testing.T) {
	esp, cam := sources(nil, nil)
	s := New(esp, cam, Options{})
	s.Probe(context.Background())

	require.NotNil(t, s.Fail(camera.ErrFetch))
	tr := s.Fail(camera.ErrRead)
	require.NotNil(t, tr)
	assert.Equal(t, StateWebcamActive, tr.From)
	assert.Equal(t, StateUnavailable, tr.To)

	// no transition out of UNAVAILABLE without a new probe
	assert.Nil(t, s.Fail(camera.ErrRead))
	assert.Equal(t, StateUnavailable, s.State())

	tr2 := s.Probe(context.Background())
	assert.Equal(t, StateESP32Active, tr2.To)
}

func TestFailureThreshold(t *testing.T) {
	esp, cam := sources(nil, nil)
	s := New(esp, cam, Options{FailureThreshold: 3})
	s.Probe(context.Background())

	assert.Nil(t, s.Fail(camera.ErrFetch))
	assert.Nil(t, s.Fail(camera.ErrFetch))
	s.Success()
	assert.Nil(t, s.Fail(camera.ErrFetch))
	assert.Nil(t, s.Fail(camera.ErrFetch))
	assert.NotNil(t, s.Fail(camera.ErrFetch))
	assert.Equal(t, StateWebcamActive, s.State())
}

func TestSetPreferred(t *testing.T) {
	esp, cam := sources(nil, nil)
	s := New(esp, cam, Options{})
	s.SetPreferred(camera.KindWebcam)
	assert.Equal(t, camera.KindWebcam, s.Preferred())

	assert.Equal(t, StateWebcamActive, s.Probe(context.Background()).To)
}

func TestFailReasonCarriesCause(t *testing.T) {
	esp, cam := sources(nil, nil)
	s := New(esp, cam, Options{})
	s.Probe(context.Background())

	tr := s.Fail(errors.New("connection refused"))
	require.NotNil(t, tr)
	assert.Equal(t, "connection refused", tr.Reason)
}

package opencv

import (
	"context"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"esp32-facecam/config"
	"esp32-facecam/internal/camera"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	mu     sync.Mutex
	fail   bool
	block  chan struct{} // Grab waits on it when set
	reads  int
	closes int
}

func (d *fakeDevice) Grab() (image.Image, error) {
	d.mu.Lock()
	block := d.block
	d.mu.Unlock()
	if block != nil {
		<-block
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.reads++
	if d.fail {
		return nil, camera.ErrRead
	}
	return image.NewRGBA(image.Rect(0, 0, 4, 4)), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	return nil
}

func (d *fakeDevice) setFail(fail bool) {
	d.mu.Lock()
	d.fail = fail
	d.mu.Unlock()
}

func (d *fakeDevice) counts() (reads, closes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads, d.closes
}

// newTestWebcam returns a webcam whose opener hands out dev and counts opens
func newTestWebcam(dev *fakeDevice, timeout time.Duration) (*Webcam, *int) {
	w := NewWebcam(config.WebcamConfig{Index: 2, Timeout: timeout})
	opens := new(int)
	w.openDevice = func(config.WebcamConfig) (device, error) {
		*opens++
		return dev, nil
	}
	return w, opens
}

func (w *Webcam) isOpen() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dev != nil
}

func TestWebcamOpensOnce(t *testing.T) {
	dev := &fakeDevice{}
	w, opens := newTestWebcam(dev, time.Second)

	for i := 0; i < 2; i++ {
		img, err := w.Frame(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 4, img.Bounds().Dx())
	}

	assert.Equal(t, 1, *opens)
	reads, _ := dev.counts()
	assert.Equal(t, 2, reads)
	assert.Equal(t, camera.KindWebcam, w.Kind())
}

func TestWebcamReadFailureKeepsDeviceOpen(t *testing.T) {
	dev := &fakeDevice{fail: true}
	w, opens := newTestWebcam(dev, time.Second)

	_, err := w.Frame(context.Background())
	assert.ErrorIs(t, err, camera.ErrRead)
	assert.True(t, w.isOpen())

	dev.setFail(false)
	_, err = w.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, *opens)
	_, closes := dev.counts()
	assert.Equal(t, 0, closes)
}

func TestWebcamOpenFailure(t *testing.T) {
	w := NewWebcam(config.WebcamConfig{Index: 9})
	w.openDevice = func(config.WebcamConfig) (device, error) {
		return nil, camera.ErrOpen
	}

	_, err := w.Frame(context.Background())
	assert.ErrorIs(t, err, camera.ErrOpen)
	assert.False(t, w.isOpen())
	assert.NoError(t, w.Close())
}

func TestWebcamCloseBeforeOpenAndTwice(t *testing.T) {
	dev := &fakeDevice{}
	w, _ := newTestWebcam(dev, time.Second)

	assert.NoError(t, w.Close())

	_, err := w.Frame(context.Background())
	require.NoError(t, err)

	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	_, closes := dev.counts()
	assert.Equal(t, 1, closes)
	assert.False(t, w.isOpen())
}

func TestWebcamReopensAfterClose(t *testing.T) {
	dev := &fakeDevice{}
	w, opens := newTestWebcam(dev, time.Second)

	_, err := w.Frame(context.Background())
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = w.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, *opens)
}

func TestWebcamHungReadIsBounded(t *testing.T) {
	dev := &fakeDevice{block: make(chan struct{})}
	w, _ := newTestWebcam(dev, 50*time.Millisecond)

	started := time.Now()
	_, err := w.Frame(context.Background())
	assert.ErrorIs(t, err, camera.ErrRead)
	assert.Less(t, time.Since(started), time.Second)

	// the device is still owned by the hung read
	_, err = w.Frame(context.Background())
	assert.ErrorIs(t, err, camera.ErrRead)

	// Close does not wait for the read and releases the device once it returns
	closed := make(chan error, 1)
	go func() { closed <- w.Close() }()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close blocked on a hung read")
	}

	close(dev.block)
	assert.Eventually(t, func() bool {
		_, closes := dev.counts()
		return closes == 1 && !w.isOpen()
	}, time.Second, 5*time.Millisecond)
}

func TestWebcamHonoursContext(t *testing.T) {
	dev := &fakeDevice{block: make(chan struct{})}
	defer close(dev.block)
	w, _ := newTestWebcam(dev, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := w.Frame(ctx)
	assert.True(t, errors.Is(err, camera.ErrRead))

	cancelled, stop := context.WithCancel(context.Background())
	stop()
	_, err = w.Frame(cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

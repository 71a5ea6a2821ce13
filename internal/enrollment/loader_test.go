package enrollment

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"esp32-facecam/internal/recognition"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEngine derives faces from the colour of the top-left pixel:
// red pixels carry no face, anything else one face embedding the pixel value.
type stubEngine struct {
	calls int
	err   error
}

func (s *stubEngine) Recognize(_ context.Context, img image.Image) ([]recognition.Face, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	r, g, b, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	if r>>8 == 255 && g == 0 && b == 0 {
		return nil, nil
	}
	emb := recognition.Embedding{float32(r >> 8), float32(g >> 8), float32(b >> 8)}
	return []recognition.Face{
		{Region: image.Rect(0, 0, 4, 4), Embedding: emb},
		{Region: image.Rect(4, 4, 8, 8), Embedding: recognition.Embedding{0, 0, 0}},
	}, nil
}

func (s *stubEngine) Close() error { return nil }

func writePNG(t *testing.T, path string, c color.RGBA) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestLoadBuildsCatalog(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "alice.png"), color.RGBA{10, 20, 30, 255})
	writePNG(t, filepath.Join(dir, "bob.jpg.png"), color.RGBA{40, 50, 60, 255})
	writePNG(t, filepath.Join(dir, "nobody.png"), color.RGBA{255, 0, 0, 255})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir"), 0755))

	engine := &stubEngine{}
	res, err := Load(context.Background(), dir, engine)
	require.NoError(t, err)

	assert.Equal(t, []string{"alice", "bob.jpg"}, res.Catalog.Labels())
	entries := res.Catalog.Entries()
	assert.Equal(t, recognition.Embedding{10, 20, 30}, entries[0].Embedding)

	require.Len(t, res.Skipped, 2)
	assert.Equal(t, "nobody.png", res.Skipped[0].File)
	assert.Equal(t, "no face detected", res.Skipped[0].Reason)
	assert.Equal(t, "notes.txt", res.Skipped[1].File)
	assert.Equal(t, 3, engine.calls)
}

func TestLoadOnlyUndecodableFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.png", "c.bmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("garbage"), 0644))
	}

	engine := &stubEngine{}
	res, err := Load(context.Background(), dir, engine)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Catalog.Len())
	assert.Len(t, res.Skipped, 3)
	assert.Zero(t, engine.calls)
}

func TestLoadCreatesMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "faces")

	res, err := Load(context.Background(), dir, &stubEngine{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Catalog.Len())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLoadEngineErrorSkipsFile(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "alice.png"), color.RGBA{10, 20, 30, 255})

	res, err := Load(context.Background(), dir, &stubEngine{err: errors.New("dlib exploded")})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Catalog.Len())
	require.Len(t, res.Skipped, 1)
	assert.Contains(t, res.Skipped[0].Reason, "dlib exploded")
}

func TestLoadCancelled(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "alice.png"), color.RGBA{10, 20, 30, 255})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, dir, &stubEngine{})
	assert.ErrorIs(t, err, context.Canceled)
}

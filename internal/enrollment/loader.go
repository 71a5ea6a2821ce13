// Package enrollment builds the reference catalog from a directory of face images.
package enrollment

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"esp32-facecam/internal/recognition"

	log "github.com/sirupsen/logrus"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
)

// Result summarises one enrollment run
type Result struct {
	Catalog *recognition.Catalog
	Skipped []Skip
}

// Skip records a file that did not produce an entry
type Skip struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// Load reads every file in dir, embeds the first face of each image and labels it
// with the file name without extension. Unreadable and faceless images are skipped.
// A missing directory is created and yields an empty catalog.
func Load(ctx context.Context, dir string, engine recognition.Engine) (*Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create faces directory %s: %w", dir, err)
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read faces directory %s: %w", dir, err)
	}

	log.Infof("Loading known faces from '%s'...", dir)

	// ReadDir sorts by name; keep it explicit since catalog order decides ties
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	var entries []recognition.Entry
	var skipped []Skip
	skip := func(name, reason string) {
		log.Warnf("Skipping %s: %s", name, reason)
		skipped = append(skipped, Skip{File: name, Reason: reason})
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}

		name := file.Name()
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			skip(name, fmt.Sprintf("invalid image: %v", err))
			continue
		}

		faces, err := engine.Recognize(ctx, img)
		if err != nil {
			skip(name, fmt.Sprintf("face extraction failed: %v", err))
			continue
		}
		if len(faces) == 0 {
			skip(name, "no face detected")
			continue
		}

		entries = append(entries, recognition.Entry{
			Label:     strings.TrimSuffix(name, filepath.Ext(name)),
			Embedding: faces[0].Embedding,
		})
	}

	catalog := recognition.NewCatalog(entries)
	if catalog.Len() == 0 {
		log.Warnf("No known faces loaded. Add face images to '%s' and restart.", dir)
	} else {
		log.WithField("labels", catalog.Labels()).Infof("Loaded %d known face(s)", catalog.Len())
	}

	return &Result{Catalog: catalog, Skipped: skipped}, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}

package goface

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"

	"esp32-facecam/internal/recognition"

	face "github.com/Kagami/go-face"
	log "github.com/sirupsen/logrus"
)

// Model files expected in the models directory
var requiredModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
	"mmod_human_face_detector.dat",
}

// jpegQuality used when handing frames to dlib, which only reads JPEG
const jpegQuality = 95

// Service is the dlib-backed face engine. dlib's recognizer is not safe for
// concurrent use, so every call is serialized.
type Service struct {
	modelsDir   string
	recognizer  *face.Recognizer
	mutex       sync.Mutex
	initialized bool
}

// NewService loads the dlib models from modelsDir
func NewService(modelsDir string) (*Service, error) {
	service := &Service{modelsDir: modelsDir}
	if err := service.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize face engine: %w", err)
	}
	return service, nil
}

func (s *Service) initialize() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.initialized {
		return nil
	}

	for _, name := range requiredModels {
		path := filepath.Join(s.modelsDir, name)
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("model file missing: %s", path)
		}
	}

	log.Infof("Loading face recognition models from %s", s.modelsDir)
	rec, err := face.NewRecognizer(s.modelsDir)
	if err != nil {
		return fmt.Errorf("failed to load models: %w", err)
	}

	s.recognizer = rec
	s.initialized = true
	log.Info("Face recognition models loaded")
	return nil
}

// Recognize implements recognition.Engine
func (s *Service) Recognize(ctx context.Context, img image.Image) ([]recognition.Face, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode frame for detection: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.initialized {
		return nil, fmt.Errorf("face engine is closed")
	}

	faces, err := s.recognizer.Recognize(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	// dlib reports regions relative to the decoded JPEG, whose origin is (0,0)
	offset := img.Bounds().Min
	result := make([]recognition.Face, 0, len(faces))
	for _, f := range faces {
		embedding := make(recognition.Embedding, len(f.Descriptor))
		copy(embedding, f.Descriptor[:])
		result = append(result, recognition.Face{
			Region:    f.Rectangle.Add(offset),
			Embedding: embedding,
		})
	}

	log.Debugf("Detected %d face(s)", len(result))
	return result, nil
}

// Close implements recognition.Engine
func (s *Service) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.initialized && s.recognizer != nil {
		s.recognizer.Close()
		s.recognizer = nil
		s.initialized = false
	}
	return nil
}

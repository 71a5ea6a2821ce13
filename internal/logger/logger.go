// Package logger configures the process-wide logrus logger and routes gin's
// own output through it.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"esp32-facecam/config"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Logger owns the writers opened by Init
type Logger struct {
	file   *os.File
	ginOut *io.PipeWriter
	ginErr *io.PipeWriter
}

// Init sets level, format and outputs of the standard logger. Output always goes to
// stdout and, when cfg.File is set, to the file as well. A file that cannot be opened
// is reported as error but the returned Logger is usable with stdout only.
func Init(cfg config.LogConfig) (*Logger, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		log.Warnf("Invalid log level '%s', defaulting to 'info': %v", cfg.Level, err)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	l := &Logger{}
	var fileErr error
	if cfg.File != "" {
		l.file, fileErr = openFile(cfg.File)
	}

	if l.file != nil {
		log.SetOutput(io.MultiWriter(os.Stdout, l.file))
	} else {
		log.SetOutput(os.Stdout)
	}

	// gin prints route registration and recovered panics on its own writers
	l.ginOut = log.StandardLogger().WriterLevel(log.DebugLevel)
	l.ginErr = log.StandardLogger().WriterLevel(log.ErrorLevel)
	gin.DefaultWriter = l.ginOut
	gin.DefaultErrorWriter = l.ginErr

	if l.file != nil {
		log.Infof("Logging additionally to file: %s", cfg.File)
	}
	log.Debug("Logger initialized")
	return l, fileErr
}

func openFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Close restores stdout as the only output and releases the file and the gin writers
func (l *Logger) Close() error {
	log.SetOutput(os.Stdout)
	gin.DefaultWriter = os.Stdout
	gin.DefaultErrorWriter = os.Stderr

	l.ginOut.Close()
	l.ginErr.Close()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
